package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/FirstOnDie/authforge/internal/fakeserver"
	"github.com/FirstOnDie/authforge/internal/logger"
	"github.com/FirstOnDie/authforge/users"
	"github.com/common-nighthawk/go-figure"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

// seedAccount is created when the mock server starts with --seed.
type seedAccount struct {
	name, email, password string
	role                  users.Role
	twoFactor             bool
}

var seedAccounts = []seedAccount{
	{"Admin", "admin@authforge.local", "admin1234", users.RoleAdmin, false},
	{"User", "user@authforge.local", "user12345", users.RoleUser, false},
	{"Totp", "totp@authforge.local", "totp12345", users.RoleUser, true},
}

func newMockServerCmd(opts *rootOptions) *cobra.Command {
	var (
		addr              string
		seed              bool
		emailVerification bool
		oauthRedirect     string
		tokenExpiry       time.Duration
	)

	cmd := &cobra.Command{
		Use:   "mock-server",
		Short: "Run a local fake of the AuthForge API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			if addr == "" {
				addr = cfg.GetMockServerAddr()
			}
			displayAppname(cfg.GetAppName())

			options := []fakeserver.Option{fakeserver.WithTokenExpiry(tokenExpiry)}
			if emailVerification {
				options = append(options, fakeserver.WithEmailVerification())
			}
			if oauthRedirect != "" {
				options = append(options, fakeserver.WithOAuthRedirect(oauthRedirect))
			}
			fake := fakeserver.New(options...)

			out := cmd.OutOrStdout()
			if seed {
				for _, s := range seedAccounts {
					fake.AddUser(s.name, s.email, s.password, s.role, s.twoFactor)
					fmt.Fprintf(out, "  %-24s %-10s %s\n", s.email, s.password, s.role)
				}
				fmt.Fprintf(out, "Two-factor code: %s\n", fakeserver.DefaultTOTPCode)
			}

			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			mux.Handle("/", fake)
			server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, server, cfg.GetShutdownTimeout())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from AUTHFORGE_MOCK_ADDR or :8080)")
	cmd.Flags().BoolVar(&seed, "seed", true, "Create demo accounts")
	cmd.Flags().BoolVar(&emailVerification, "email-verification", false, "Require email verification after registration")
	cmd.Flags().StringVar(&oauthRedirect, "oauth-redirect", "", "Client address /oauth2/success/{email} redirects to")
	cmd.Flags().DurationVar(&tokenExpiry, "token-expiry", 15*time.Minute, "Access token lifetime")
	return cmd
}

// serve runs server until ctx is done, then shuts it down.
func serve(ctx context.Context, server *http.Server, shutdownTimeout time.Duration) error {
	log := logger.Component(logger.MOCK)

	errs := make(chan error, 1)
	go func() {
		log.Info().Str("addr", server.Addr).Msg("Mock server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- fmt.Errorf("server.ListenAndServe: %w", err)
		}
		close(errs)
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	log.Info().Msg("Mock server stopped")
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
