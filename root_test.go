package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shipsite/shipsite-go/internal/config"
	"github.com/shipsite/shipsite-go/internal/idp"
)

func TestNewRootCmd_RegistersSubcommands(t *testing.T) {
	cmd := newRootCmd()

	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}

	for _, want := range []string{"login", "logout", "whoami", "status", "deploy"} {
		assert.True(t, names[want], "missing subcommand %s", want)
	}
}

func TestBuildLogger_Levels(t *testing.T) {
	t.Cleanup(func() {
		flagVerbose = false
		flagQuiet = false
	})

	ctx := context.Background()
	cfg := config.DefaultConfig()

	flagVerbose = false
	flagQuiet = false
	logger := buildLogger(cfg)
	assert.False(t, logger.Enabled(ctx, slog.LevelDebug))
	assert.True(t, logger.Enabled(ctx, slog.LevelInfo))

	flagVerbose = true
	logger = buildLogger(cfg)
	assert.True(t, logger.Enabled(ctx, slog.LevelDebug))

	flagVerbose = false
	flagQuiet = true
	logger = buildLogger(cfg)
	assert.False(t, logger.Enabled(ctx, slog.LevelInfo))
	assert.True(t, logger.Enabled(ctx, slog.LevelError))
}

func TestLoginErrorMessage(t *testing.T) {
	wrapped := fmt.Errorf("signing in: %w", idp.ErrInvalidCredentials)
	assert.EqualError(t, loginErrorMessage(wrapped), "invalid email or password")

	disabled := fmt.Errorf("signing in: %w", idp.ErrAccountDisabled)
	assert.Contains(t, loginErrorMessage(disabled).Error(), "disabled")

	limited := fmt.Errorf("signing in: %w", idp.ErrRateLimited)
	assert.Contains(t, loginErrorMessage(limited).Error(), "try again later")

	other := errors.New("boom")
	assert.Same(t, other, loginErrorMessage(other))
}

func TestConfigPathInUse(t *testing.T) {
	t.Cleanup(func() { flagConfigPath = "" })

	flagConfigPath = "/tmp/custom.toml"
	assert.Equal(t, "/tmp/custom.toml", configPathInUse())

	flagConfigPath = ""
	assert.Equal(t, config.DefaultConfigPath(), configPathInUse())
}

func TestBuildApp_MissingEndpoints(t *testing.T) {
	t.Cleanup(func() { flagConfigPath = "" })

	// Point at a nonexistent config file so defaults (no endpoints) apply.
	flagConfigPath = t.TempDir() + "/absent.toml"

	_, err := buildApp(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrEndpointsMissing)
}
