package main

import (
	"context"
	"fmt"
	"io"
	"math"
	"time"

	autherrors "github.com/FirstOnDie/authforge/internal/errors"
	"github.com/FirstOnDie/authforge/session"
	"github.com/spf13/cobra"
)

// noExpiry is shown when the stored lifetime is zero or missing.
const noExpiry = "—"

func newWhoamiCmd(opts *rootOptions) *cobra.Command {
	var refresh bool

	cmd := &cobra.Command{
		Use:     "whoami",
		Aliases: []string{"dashboard"},
		Short:   "Show the signed-in user and token",
		Args:    cobra.NoArgs,
		RunE: withApp(opts, func(ctx context.Context, cmd *cobra.Command, _ []string, a *app) error {
			if refresh {
				if _, err := a.flow.RefreshProfile(ctx); err != nil {
					return err
				}
			}
			snap, ok := a.flow.Session()
			if !ok {
				return autherrors.ErrNotAuthenticated
			}
			printDashboard(cmd.OutOrStdout(), snap)
			return nil
		}),
	}
	cmd.Flags().BoolVarP(&refresh, "refresh", "r", false, "Reload the profile from the server first")
	return cmd
}

func newTokenCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "token",
		Short: "Print the raw access token",
		Args:  cobra.NoArgs,
		RunE: withApp(opts, func(_ context.Context, cmd *cobra.Command, _ []string, a *app) error {
			token := a.store.AccessToken()
			if token == "" {
				return autherrors.ErrNotAuthenticated
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		}),
	}
}

func printDashboard(w io.Writer, snap session.Snapshot) {
	twoFactor := "disabled"
	if snap.User.TwoFactorEnabled {
		twoFactor = "enabled"
	}

	fmt.Fprintf(w, "Name:        %s\n", snap.User.Name)
	fmt.Fprintf(w, "Email:       %s\n", snap.User.Email)
	fmt.Fprintf(w, "Role:        %s\n", snap.User.Role)
	fmt.Fprintf(w, "Two-factor:  %s\n", twoFactor)
	fmt.Fprintf(w, "Expires in:  %s\n", expiryMinutes(snap.ExpiresIn))

	// Claims are informational; the server decides whether the token is valid.
	if info, err := session.Inspect(snap.AccessToken); err == nil {
		if info.Issuer != "" {
			fmt.Fprintf(w, "Issuer:      %s\n", info.Issuer)
		}
		if !info.IssuedAt.IsZero() {
			fmt.Fprintf(w, "Issued at:   %s\n", info.IssuedAt.Format(time.RFC3339))
		}
		if !info.ExpiresAt.IsZero() {
			fmt.Fprintf(w, "Expires at:  %s\n", info.ExpiresAt.Format(time.RFC3339))
		}
	}

	if snap.User.IsAdmin() {
		fmt.Fprintln(w, "Admin:       authforge admin users")
	}
}

// expiryMinutes renders a lifetime in milliseconds as whole minutes.
func expiryMinutes(ms int64) string {
	if ms == 0 {
		return noExpiry
	}
	minutes := int64(math.Round(float64(ms) / 60000))
	if minutes == 1 {
		return "1 minute"
	}
	return fmt.Sprintf("%d minutes", minutes)
}
