package main

import (
	"fmt"
	"time"

	"github.com/example/optical-storefront/internal/auth"
	"github.com/spf13/cobra"
)

func newLoginCmd(a *app) *cobra.Command {
	var email, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the session tokens",
		RunE: func(cmd *cobra.Command, args []string) error {
			tokens, err := a.client.Login(cmd.Context(), email, password)
			if err != nil {
				return err
			}
			if err := a.session.Dispatch(cmd.Context(), auth.LoginSuccess(*tokens)); err != nil {
				return fmt.Errorf("failed to store session: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s\n", email)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newRegisterCmd(a *app) *cobra.Command {
	var email, password, role string

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			tokens, err := a.client.Register(cmd.Context(), email, password, role)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if tokens == nil {
				fmt.Fprintln(out, "Account created, log in to continue")
				return nil
			}
			if err := a.session.Dispatch(cmd.Context(), auth.LoginSuccess(*tokens)); err != nil {
				return fmt.Errorf("failed to store session: %w", err)
			}
			fmt.Fprintf(out, "Account created, logged in as %s\n", email)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password")
	cmd.Flags().StringVar(&role, "role", "", "account role, the server defaults to customer")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newLogoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.session.Dispatch(cmd.Context(), auth.Logout()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
			return nil
		},
	}
}

func newRefreshCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Exchange the refresh token for a new token pair",
		RunE: func(cmd *cobra.Command, args []string) error {
			refresher := auth.NewRefresher(a.session, a.client, a.cfg.RefreshLead)
			if err := refresher.RefreshNow(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Tokens refreshed")
			return nil
		},
	}
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether a session is stored",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			status := a.session.Status()
			if !status.IsAuthenticated {
				fmt.Fprintln(out, "Not logged in")
				return nil
			}
			fmt.Fprintln(out, "Logged in")
			if exp := status.Tokens.ExpiresAt; exp != nil {
				fmt.Fprintf(out, "Access token expires %s (in %s)\n",
					exp.Format(time.RFC3339), time.Until(*exp).Round(time.Second))
			}
			return nil
		},
	}
}
