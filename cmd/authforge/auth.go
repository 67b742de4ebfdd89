package main

import (
	"context"
	"fmt"

	"github.com/FirstOnDie/authforge/authflow"
	autherrors "github.com/FirstOnDie/authforge/internal/errors"
	"github.com/spf13/cobra"
)

func newLoginCmd(opts *rootOptions) *cobra.Command {
	var email, password, code string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with email and password",
		Args:  cobra.NoArgs,
		RunE: withApp(opts, func(ctx context.Context, cmd *cobra.Command, _ []string, a *app) error {
			if err := openForm(a, authflow.ViewLogin); err != nil {
				return err
			}
			p := newPrompter(cmd)
			var err error
			if email, err = p.valueOrAsk(email, "Email"); err != nil {
				return err
			}
			if password, err = p.valueOrAsk(password, "Password"); err != nil {
				return err
			}

			result, err := a.flow.Login(ctx, email, password)
			if err != nil {
				return err
			}
			if result.Challenge != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "Two-factor authentication is enabled for %s\n", result.Challenge.Email)
				if code, err = p.valueOrAsk(code, "Code"); err != nil {
					a.flow.CancelChallenge()
					return err
				}
				if _, err = a.flow.VerifyChallenge(ctx, code); err != nil {
					return err
				}
			}
			return printWelcome(cmd, a)
		}),
	}
	cmd.Flags().StringVarP(&email, "email", "e", "", "Account email")
	cmd.Flags().StringVarP(&password, "password", "p", "", "Account password (prompted when empty)")
	cmd.Flags().StringVar(&code, "code", "", "Two-factor code (prompted when required)")
	return cmd
}

func newRegisterCmd(opts *rootOptions) *cobra.Command {
	var name, email, password string

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account",
		Args:  cobra.NoArgs,
		RunE: withApp(opts, func(ctx context.Context, cmd *cobra.Command, _ []string, a *app) error {
			if err := openForm(a, authflow.ViewRegister); err != nil {
				return err
			}
			p := newPrompter(cmd)
			var err error
			if name, err = p.valueOrAsk(name, "Name"); err != nil {
				return err
			}
			if email, err = p.valueOrAsk(email, "Email"); err != nil {
				return err
			}
			if password, err = p.valueOrAsk(password, "Password"); err != nil {
				return err
			}

			result, err := a.flow.Register(ctx, name, email, password)
			if err != nil {
				return err
			}
			if result.Verification != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "Account created. Check %s for a verification link, then run `authforge verify-email <token>`.\n", result.Verification.Email)
				return nil
			}
			return printWelcome(cmd, a)
		}),
	}
	cmd.Flags().StringVarP(&name, "name", "n", "", "Display name")
	cmd.Flags().StringVarP(&email, "email", "e", "", "Account email")
	cmd.Flags().StringVarP(&password, "password", "p", "", "Password, at least 8 characters")
	return cmd
}

func newLogoutCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session",
		Args:  cobra.NoArgs,
		RunE: withApp(opts, func(ctx context.Context, cmd *cobra.Command, _ []string, a *app) error {
			a.flow.Logout(ctx)
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
			return nil
		}),
	}
}

func newForgotPasswordCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "forgot-password <email>",
		Short: "Request a password reset token",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(opts, func(ctx context.Context, cmd *cobra.Command, args []string, a *app) error {
			ticket, err := a.flow.ForgotPassword(ctx, args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if ticket.Message != "" {
				fmt.Fprintln(out, ticket.Message)
			}
			if ticket.Token != "" {
				fmt.Fprintf(out, "Reset token: %s\n", ticket.Token)
			}
			return nil
		}),
	}
}

func newResetPasswordCmd(opts *rootOptions) *cobra.Command {
	var token, password string

	cmd := &cobra.Command{
		Use:   "reset-password",
		Short: "Set a new password with a reset token",
		Args:  cobra.NoArgs,
		RunE: withApp(opts, func(ctx context.Context, cmd *cobra.Command, _ []string, a *app) error {
			p := newPrompter(cmd)
			var err error
			if token, err = p.valueOrAsk(token, "Token"); err != nil {
				return err
			}
			if password, err = p.valueOrAsk(password, "New password"); err != nil {
				return err
			}

			msg, err := a.flow.ResetPassword(ctx, token, password)
			if err != nil {
				return err
			}
			if msg == "" {
				msg = "Password reset"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s. Sign in with `authforge login`.\n", msg)
			return nil
		}),
	}
	cmd.Flags().StringVarP(&token, "token", "t", "", "Reset token")
	cmd.Flags().StringVarP(&password, "password", "p", "", "New password")
	return cmd
}

func newVerifyEmailCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify-email <token>",
		Short: "Confirm an email address",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(opts, func(ctx context.Context, cmd *cobra.Command, args []string, a *app) error {
			msg, err := a.flow.VerifyEmail(ctx, args[0])
			if err != nil {
				return err
			}
			if msg == "" {
				msg = "Email verified"
			}
			fmt.Fprintln(cmd.OutOrStdout(), msg)
			return nil
		}),
	}
}

func newOAuthCallbackCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "oauth-callback <url>",
		Short: "Complete a third-party sign-in from the redirect address",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(opts, func(ctx context.Context, cmd *cobra.Command, args []string, a *app) error {
			cleaned, ingested, err := a.flow.IngestEntryURL(args[0])
			if err != nil {
				return err
			}
			if !ingested {
				return fmt.Errorf("no sign-in parameters in %s", cleaned)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Address: %s\n", cleaned)
			return printWelcome(cmd, a)
		}),
	}
}

// openForm moves to a sign-in form, which is only available while signed out.
func openForm(a *app, view authflow.View) error {
	err := a.flow.Navigate(view)
	if autherrors.Is(err, autherrors.ErrInvalidView) {
		name := "another account"
		if user := a.store.User(); user != nil {
			name = user.Email
		}
		return fmt.Errorf("already signed in as %s, run `authforge logout` first: %w", name, err)
	}
	return err
}

func printWelcome(cmd *cobra.Command, a *app) error {
	if a.flow.State().Kind != authflow.Authenticated {
		return nil
	}
	snap, ok := a.flow.Session()
	if !ok {
		return nil
	}
	name := snap.User.Name
	if name == "" {
		name = snap.User.Email
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s (%s)\n", name, snap.User.Role)
	return nil
}
