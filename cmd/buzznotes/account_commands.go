package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/buzznotes/internal/account"
	"github.com/MarcoPoloResearchLab/buzznotes/internal/i18n"
	"github.com/MarcoPoloResearchLab/buzznotes/internal/remote"
	"github.com/spf13/cobra"
)

const passwordEnv = "BUZZNOTES_PASSWORD"

func newSyncCommand(current appProvider) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Reconcile local data with your account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := current().state.Sync(cmd.Context(), true)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d locations, %d beehives, %d recordings (%d remote writes)\n",
				len(result.Snapshot.Locations), len(result.Snapshot.Beehives), len(result.Snapshot.Recordings), result.Writes())
			return nil
		},
	}
}

func newSignInCommand(current appProvider) *cobra.Command {
	return &cobra.Command{
		Use:   "signin EMAIL",
		Short: "Sign in with email and password, then sync",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := current()
			password, err := readPassword(cmd.InOrStdin())
			if err != nil {
				return err
			}
			user, err := a.accounts.SignIn(cmd.Context(), args[0], password)
			if err != nil {
				return describeAuthError(a, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", a.translator.T(i18n.SignedIn), user.Email)
			a.waitForAutoSync(cmd.Context())
			return nil
		},
	}
}

func newSignUpCommand(current appProvider) *cobra.Command {
	return &cobra.Command{
		Use:   "signup EMAIL",
		Short: "Create an account, then sync",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := current()
			password, err := readPassword(cmd.InOrStdin())
			if err != nil {
				return err
			}
			if _, err := a.accounts.SignUp(cmd.Context(), args[0], password); err != nil {
				return describeAuthError(a, err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), a.translator.T(i18n.SignupSuccess))
			a.waitForAutoSync(cmd.Context())
			return nil
		},
	}
}

func newGoogleCommand(current appProvider) *cobra.Command {
	var idToken string
	cmd := &cobra.Command{
		Use:   "google",
		Short: "Sign in with a Google ID token, then sync",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := current()
			user, err := a.accounts.SignInWithOAuth(cmd.Context(), account.ProviderGoogle, idToken)
			if err != nil {
				return describeAuthError(a, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", a.translator.T(i18n.SignedIn), user.Email)
			a.waitForAutoSync(cmd.Context())
			return nil
		},
	}
	cmd.Flags().StringVar(&idToken, "id-token", "", "Google ID token")
	_ = cmd.MarkFlagRequired("id-token")
	return cmd
}

func newSignOutCommand(current appProvider) *cobra.Command {
	return &cobra.Command{
		Use:   "signout",
		Short: "Sign out; local data stays on this device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := current()
			if err := a.accounts.SignOut(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), a.translator.T(i18n.SignedOutMessage))
			return nil
		},
	}
}

func newStatusCommand(current appProvider) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the signed-in account and local totals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := current()
			out := cmd.OutOrStdout()
			if user, ok := a.accounts.CurrentUser(); ok {
				fmt.Fprintf(out, "%s: %s (%s)\n", a.translator.T(i18n.SignedIn), user.Email, user.ID)
			} else {
				fmt.Fprintln(out, a.translator.T(i18n.NotSignedIn))
			}
			fmt.Fprintf(out, "%s: %d\n", a.translator.T(i18n.Locations), len(a.state.Locations()))
			fmt.Fprintf(out, "%s: %d\n", a.translator.T(i18n.Beehives), len(a.state.Beehives()))
			fmt.Fprintf(out, "%s: %d\n", a.translator.T(i18n.Recordings), len(a.state.Recordings()))
			if status := a.state.SyncStatus(); !status.LastSynced.IsZero() {
				fmt.Fprintf(out, "%s: %s\n", a.translator.T(i18n.LastSynced), status.LastSynced.Local().Format(time.DateTime))
			}
			return nil
		},
	}
}

// readPassword takes BUZZNOTES_PASSWORD when set, otherwise the first line of stdin.
func readPassword(in io.Reader) (string, error) {
	if password, ok := os.LookupEnv(passwordEnv); ok {
		return password, nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return "", fmt.Errorf("password required on stdin or in %s", passwordEnv)
	}
	return password, nil
}

func describeAuthError(a *app, err error) error {
	var apiErr *remote.APIError
	if errors.As(err, &apiErr) && apiErr.Code == "invalid_credentials" {
		return errors.New(a.translator.T(i18n.InvalidCredentials))
	}
	return err
}
