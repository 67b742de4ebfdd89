package main

import (
	"context"
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newAdminCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "User administration (ADMIN role only)",
	}

	list := &cobra.Command{
		Use:   "users",
		Short: "List every account",
		Args:  cobra.NoArgs,
		RunE: withApp(opts, func(ctx context.Context, cmd *cobra.Command, _ []string, a *app) error {
			list, err := a.flow.ListUsers(ctx)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tEMAIL\tROLE\t2FA")
			for _, u := range list {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%t\n", u.ID, u.Name, u.Email, u.Role, u.TwoFactorEnabled)
			}
			return tw.Flush()
		}),
	}

	toggle := &cobra.Command{
		Use:   "toggle-role <id>",
		Short: "Switch a user between ADMIN and USER",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(opts, func(ctx context.Context, cmd *cobra.Command, args []string, a *app) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid user id %q", args[0])
			}

			list, err := a.flow.ListUsers(ctx)
			if err != nil {
				return err
			}
			for _, u := range list {
				if u.ID != id {
					continue
				}
				updated, err := a.flow.ToggleRole(ctx, u)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s -> %s\n", updated.Email, u.Role, updated.Role)
				return nil
			}
			return fmt.Errorf("user %d not found", id)
		}),
	}

	features := &cobra.Command{
		Use:   "features",
		Short: "Show which optional features the server has enabled",
		Args:  cobra.NoArgs,
		RunE: withApp(opts, func(ctx context.Context, cmd *cobra.Command, _ []string, a *app) error {
			flags, err := a.flow.Features(ctx)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, row := range []struct {
				name string
				on   bool
			}{
				{"OAuth2 sign-in", flags.OAuth2},
				{"Two-factor", flags.TwoFactor},
				{"Rate limiting", flags.RateLimiting},
				{"Email verification", flags.EmailVerification},
			} {
				fmt.Fprintf(tw, "%s\t%s\n", row.name, onOff(row.on))
			}
			return tw.Flush()
		}),
	}

	cmd.AddCommand(list, toggle, features)
	return cmd
}

func onOff(on bool) string {
	if on {
		return "enabled"
	}
	return "disabled"
}
