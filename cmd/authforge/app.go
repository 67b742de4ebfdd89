package main

import (
	"context"
	"strings"

	"github.com/FirstOnDie/authforge/api"
	"github.com/FirstOnDie/authforge/authflow"
	"github.com/FirstOnDie/authforge/gateway"
	"github.com/FirstOnDie/authforge/internal/config"
	"github.com/FirstOnDie/authforge/internal/logger"
	"github.com/FirstOnDie/authforge/session"
	"github.com/FirstOnDie/authforge/storage"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

// app is the wired client: storage, session, gateway, api and controller.
type app struct {
	cfg     config.Config
	store   *session.Store
	flow    *authflow.Controller
	metrics *prometheus.Registry
	closers []func() error
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	a := &app{cfg: cfg, metrics: prometheus.NewRegistry()}

	backing, err := a.openStorage(ctx)
	if err != nil {
		return nil, err
	}

	a.store, err = session.NewStore(backing,
		session.WithNamespace(cfg.GetNamespace()),
		session.WithLogger(logger.Component(logger.SESSION)),
	)
	if err != nil {
		return nil, errors.Wrap(err, "[newApp] session.NewStore")
	}

	gw, err := gateway.New(cfg.GetServerURL(), a.store,
		gateway.WithLogger(logger.Component(logger.GATEWAY)),
		gateway.WithMetrics(a.metrics),
	)
	if err != nil {
		return nil, errors.Wrap(err, "[newApp] gateway.New")
	}
	client, err := api.New(gw)
	if err != nil {
		return nil, errors.Wrap(err, "[newApp] api.New")
	}

	a.flow, err = authflow.New(a.store, client, authflow.WithLogger(logger.Component(logger.FLOW)))
	if err != nil {
		return nil, errors.Wrap(err, "[newApp] authflow.New")
	}
	return a, nil
}

func (a *app) openStorage(ctx context.Context) (storage.Storage, error) {
	log := logger.Component(logger.STORAGE)

	switch a.cfg.GetStorageKind() {
	case config.StorageMemory:
		log.Warn().Msg("Using memory storage: the session ends with this command")
		return storage.NewMemory(), nil

	case config.StorageRedis:
		r, err := a.dialRedis(ctx)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, r.Close)
		return r, nil

	default:
		var options []storage.FileOption
		key, ok, err := a.cfg.GetStorageKey()
		if err != nil {
			return nil, err
		}
		if ok {
			options = append(options, storage.WithKey(key))
		}
		f, err := storage.OpenFile(a.cfg.GetSessionFile(), options...)
		if err != nil {
			return nil, errors.Wrap(err, "[app.openStorage] storage.OpenFile")
		}
		log.Debug().Str("path", f.Path()).Bool("sealed", ok).Msg("Using file storage")
		return f, nil
	}
}

// dialRedis accepts either host:port or a redis:// URL.
func (a *app) dialRedis(ctx context.Context) (*storage.Redis, error) {
	addr := a.cfg.GetRedisAddr()
	prefix := storage.WithKeyPrefix(a.cfg.GetNamespace())

	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		opt, err := redis.ParseURL(addr)
		if err != nil {
			return nil, errors.Wrap(err, "[app.dialRedis] redis.ParseURL")
		}
		if password := a.cfg.GetRedisPassword(); password != "" {
			opt.Password = password
		}
		client := redis.NewClient(opt)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, errors.Wrap(err, "[app.dialRedis] ping")
		}
		return storage.NewRedis(client, prefix)
	}
	return storage.DialRedis(ctx, addr, a.cfg.GetRedisPassword(), prefix)
}

func (a *app) Close() error {
	var first error
	for _, closeFn := range a.closers {
		if err := closeFn(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
