package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newTwoFactorCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "2fa",
		Short: "Manage two-factor authentication",
	}

	var code string
	enable := &cobra.Command{
		Use:   "enable",
		Short: "Enroll an authenticator app",
		Args:  cobra.NoArgs,
		RunE: withApp(opts, func(ctx context.Context, cmd *cobra.Command, _ []string, a *app) error {
			enrollment, err := a.flow.BeginEnrollment(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Secret:  %s\n", enrollment.Secret)
			fmt.Fprintf(out, "URI:     %s\n", enrollment.QRURI)
			fmt.Fprintln(out, "Add the secret to your authenticator app, then enter the 6-digit code.")

			if code, err = newPrompter(cmd).valueOrAsk(code, "Code"); err != nil {
				return err
			}
			if err := a.flow.ConfirmEnrollment(ctx, code); err != nil {
				return err
			}
			fmt.Fprintln(out, "Two-factor authentication enabled")
			return nil
		}),
	}
	enable.Flags().StringVar(&code, "code", "", "Code from the authenticator (prompted when empty)")

	disable := &cobra.Command{
		Use:   "disable",
		Short: "Turn two-factor authentication off",
		Args:  cobra.NoArgs,
		RunE: withApp(opts, func(ctx context.Context, cmd *cobra.Command, _ []string, a *app) error {
			if err := a.flow.DisableTwoFactor(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Two-factor authentication disabled")
			return nil
		}),
	}

	cmd.AddCommand(enable, disable)
	return cmd
}
