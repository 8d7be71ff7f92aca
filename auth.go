package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/shipsite/shipsite-go/internal/idp"
)

var flagStaySignedIn bool

func newLoginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate with your creator account",
		RunE:  runLogin,
	}

	cmd.Flags().BoolVar(&flagStaySignedIn, "stay-signed-in", true,
		"persist the session so future commands skip the password prompt")

	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Clear the saved session",
		RunE:  runLogout,
	}
}

func newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Display the authenticated creator",
		RunE:  runWhoami,
	}
}

func runLogin(cmd *cobra.Command, _ []string) error {
	ctx := context.Background()

	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	email, password, err := promptCredentials()
	if err != nil {
		return err
	}

	staySignedIn := a.cfg.Session.StaySignedIn
	if cmd.Flags().Changed("stay-signed-in") {
		staySignedIn = flagStaySignedIn
	}

	if err := a.session.Login(ctx, email, password, staySignedIn); err != nil {
		return loginErrorMessage(err)
	}

	sess := a.session.Current()

	a.logger.Info("login successful", "email", sess.Email, "creator_id", sess.CreatorID)
	statusf("Logged in as %s (%s).\n", sess.DisplayName, sess.Email)

	return nil
}

// promptCredentials reads email and password from stdin. Prompts are only
// printed when stdin is a terminal, so piped input works without noise.
func promptCredentials() (string, string, error) {
	interactive := isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd())
	reader := bufio.NewReader(os.Stdin)

	if interactive {
		fmt.Fprint(os.Stderr, "Email: ")
	}

	email, err := reader.ReadString('\n')
	if err != nil {
		return "", "", fmt.Errorf("reading email: %w", err)
	}

	if interactive {
		fmt.Fprint(os.Stderr, "Password: ")
	}

	password, err := reader.ReadString('\n')
	if err != nil {
		return "", "", fmt.Errorf("reading password: %w", err)
	}

	email = strings.TrimSpace(email)
	password = strings.TrimRight(password, "\r\n")

	if email == "" || password == "" {
		return "", "", errors.New("email and password must not be empty")
	}

	return email, password, nil
}

// loginErrorMessage maps provider sentinels to actionable messages.
func loginErrorMessage(err error) error {
	switch {
	case errors.Is(err, idp.ErrInvalidCredentials):
		return errors.New("invalid email or password")
	case errors.Is(err, idp.ErrAccountDisabled):
		return errors.New("this account has been disabled")
	case errors.Is(err, idp.ErrRateLimited):
		return errors.New("too many sign-in attempts — try again later")
	default:
		return err
	}
}

func runLogout(_ *cobra.Command, _ []string) error {
	ctx := context.Background()

	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	a.session.Logout(ctx)
	statusf("Logged out.\n")

	return nil
}

// whoamiOutput is the JSON schema for `whoami --json`.
type whoamiOutput struct {
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Handle      string `json:"handle"`
	CreatorID   string `json:"creator_id"`
	PayoutEmail string `json:"payout_email,omitempty"`
}

func runWhoami(_ *cobra.Command, _ []string) error {
	ctx := context.Background()

	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.requireSession(ctx); err != nil {
		return err
	}

	sess := a.session.Current()

	if flagJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(whoamiOutput{
			Email:       sess.Email,
			DisplayName: sess.DisplayName,
			Handle:      sess.Handle,
			CreatorID:   sess.CreatorID,
			PayoutEmail: sess.PayoutEmail,
		})
	}

	fmt.Printf("%s (%s)\n", sess.DisplayName, sess.Email)
	fmt.Printf("  handle:     %s\n", sess.Handle)
	fmt.Printf("  creator id: %s\n", sess.CreatorID)

	if sess.PayoutEmail != "" {
		fmt.Printf("  payout:     %s\n", sess.PayoutEmail)
	}

	return nil
}
