package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/shipsite/shipsite-go/internal/config"
	"github.com/shipsite/shipsite-go/internal/credstore"
)

// Credential state constants for status reporting.
const (
	credStateMissing = "missing"
	credStateExpired = "expired"
	credStateValid   = "valid"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show configuration and saved session state",
		Long: `Display the effective configuration and whether a saved session exists.

Reads local state only — does not contact the identity provider, so the
credential state reflects the stored expiry, not a live validation.`,
		RunE: runStatus,
	}
}

// statusOutput is the JSON schema for `status --json`.
type statusOutput struct {
	ConfigPath          string `json:"config_path"`
	EndpointsConfigured bool   `json:"endpoints_configured"`
	StorePath           string `json:"store_path"`
	CredentialState     string `json:"credential_state"`
	StaySignedIn        bool   `json:"stay_signed_in,omitempty"`
	Expiry              string `json:"expiry,omitempty"`
}

func runStatus(_ *cobra.Command, _ []string) error {
	ctx := context.Background()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := buildLogger(cfg)

	out := statusOutput{
		ConfigPath:          configPathInUse(),
		EndpointsConfigured: config.CheckEndpoints(cfg) == nil,
		StorePath:           cfg.Session.StorePath,
		CredentialState:     credStateMissing,
	}

	store, err := credstore.Open(ctx, cfg.Session.StorePath, logger)
	if err != nil {
		return fmt.Errorf("opening credential store: %w", err)
	}
	defer store.Close()

	rec, err := credstore.LoadRecord(ctx, store)
	if err != nil {
		return fmt.Errorf("reading saved session: %w", err)
	}

	if rec != nil && rec.Token != nil && rec.Token.AccessToken != "" {
		out.CredentialState = credStateValid
		out.StaySignedIn = rec.StaySignedIn

		if !rec.Token.Expiry.IsZero() {
			out.Expiry = rec.Token.Expiry.Format(time.RFC3339)

			if rec.Token.Expiry.Before(time.Now()) {
				out.CredentialState = credStateExpired
			}
		} else {
			// Zero expiry means staleness is unknown; a refresh will run
			// before the credential is used.
			out.CredentialState = credStateExpired
		}
	}

	if flagJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(out)
	}

	fmt.Printf("config:      %s\n", out.ConfigPath)

	if out.EndpointsConfigured {
		fmt.Println("endpoints:   configured")
	} else {
		fmt.Println("endpoints:   not configured")
	}

	fmt.Printf("store:       %s\n", out.StorePath)
	fmt.Printf("credential:  %s\n", out.CredentialState)

	if out.CredentialState != credStateMissing {
		fmt.Printf("stay signed in: %v\n", out.StaySignedIn)
	}

	return nil
}

func configPathInUse() string {
	if flagConfigPath != "" {
		return flagConfigPath
	}

	return config.DefaultConfigPath()
}
