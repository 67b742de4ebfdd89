package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/FirstOnDie/authforge/gateway"
	"github.com/FirstOnDie/authforge/internal/config"
	autherrors "github.com/FirstOnDie/authforge/internal/errors"
	"github.com/FirstOnDie/authforge/internal/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
	metrics    bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "authforge",
		Short: "AuthForge client",
		Long: `authforge signs in to an AuthForge service and keeps the session
between runs (file, memory or Redis storage).

Configuration comes from authforge.yaml (or --config) and the environment;
environment variables win.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Config file path (YAML)")
	cmd.PersistentFlags().BoolVar(&opts.metrics, "metrics", false, "Print request metrics after the command")

	cmd.AddCommand(
		newLoginCmd(opts),
		newRegisterCmd(opts),
		newLogoutCmd(opts),
		newWhoamiCmd(opts),
		newTokenCmd(opts),
		newForgotPasswordCmd(opts),
		newResetPasswordCmd(opts),
		newVerifyEmailCmd(opts),
		newOAuthCallbackCmd(opts),
		newTwoFactorCmd(opts),
		newAdminCmd(opts),
		newMockServerCmd(opts),
	)
	return cmd
}

// loadConfig reads the configuration and configures logging.
func loadConfig(opts *rootOptions) (config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	logger.Setup(cfg.GetEnv(), cfg.GetLogLevel(), os.Stderr)
	return cfg, nil
}

// withApp builds the client for the duration of one command.
func withApp(opts *rootOptions, fn func(ctx context.Context, cmd *cobra.Command, args []string, a *app) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(opts)
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer func() {
			if err := a.Close(); err != nil {
				log.Err(err).Msg("Failed to close session storage")
			}
		}()

		err = fn(ctx, cmd, args, a)
		if opts.metrics {
			printMetrics(cmd.ErrOrStderr(), a.metrics)
		}
		return withServerHint(err, cfg.GetServerURL())
	}
}

// withServerHint names the configured server when it could not be reached.
func withServerHint(err error, serverURL string) error {
	var gwErr *gateway.Error
	if autherrors.As(err, &gwErr) && gwErr.Kind == gateway.KindTransport {
		return fmt.Errorf("%w (server: %s)", err, serverURL)
	}
	return err
}

// printMetrics writes the request counters gathered during the command.
func printMetrics(w io.Writer, reg prometheus.Gatherer) {
	families, err := reg.Gather()
	if err != nil {
		log.Err(err).Msg("Failed to gather metrics")
		return
	}
	for _, family := range families {
		for _, m := range family.GetMetric() {
			counter := m.GetCounter()
			if counter == nil {
				continue
			}
			labels := make([]string, 0, len(m.GetLabel()))
			for _, pair := range m.GetLabel() {
				labels = append(labels, fmt.Sprintf("%s=%q", pair.GetName(), pair.GetValue()))
			}
			sort.Strings(labels)
			fmt.Fprintf(w, "%s{%s} %g\n", family.GetName(), strings.Join(labels, ","), counter.GetValue())
		}
	}
}
