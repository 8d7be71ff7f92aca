package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/shipsite/shipsite-go/internal/deploy"
)

// errDeployFailed marks a deployment whose failure was already reported to
// the user; main exits nonzero without printing it again.
var errDeployFailed = errors.New("deployment failed")

// Deploy command flags.
var (
	flagProject string
	flagIntent  string
	flagWatch   bool
)

func newDeployCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deploy [path]",
		Short: "Upload a build directory and publish it",
		Long: `Upload every file under the build directory to remote storage and
trigger the publish operation that makes it live.

The path defaults to the current directory. With --watch, shipsite keeps
running and redeploys whenever the directory changes.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runDeploy,
	}

	cmd.Flags().StringVar(&flagProject, "project", "", "project identifier (required)")
	cmd.Flags().StringVar(&flagIntent, "intent", "", "deployment intent tag")
	cmd.Flags().BoolVar(&flagWatch, "watch", false, "redeploy on filesystem changes")
	_ = cmd.MarkFlagRequired("project") //nolint:errcheck // flag is registered above

	return cmd
}

func runDeploy(_ *cobra.Command, args []string) error {
	root := "."
	if len(args) == 1 {
		root = args[0]
	}

	root, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", root, err)
	}

	a, err := buildApp(context.Background())
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := shutdownContext(context.Background(), a.logger)

	if err := a.requireSession(ctx); err != nil {
		return err
	}

	creatorID := a.session.Current().CreatorID
	if creatorID == "" {
		return errors.New("session has no creator id — log in again")
	}

	statusf("Deploying %s as project %q...\n", root, flagProject)

	result, err := a.coord.Deploy(ctx, root, creatorID, flagProject, flagIntent)
	if err != nil {
		return err
	}

	if err := reportResult(result); err != nil {
		return err
	}

	if !flagWatch {
		if !result.Success {
			// Already reported by reportResult; main maps this to exit 1.
			return errDeployFailed
		}

		return nil
	}

	return a.coord.Watch(ctx, root, creatorID, flagProject, flagIntent, func(r deploy.Result) {
		// Watch mode keeps going through failed redeploys.
		_ = reportResult(r) //nolint:errcheck // JSON encode errors are not actionable here
	})
}

// deployOutput is the JSON schema for `deploy --json`.
type deployOutput struct {
	Success     bool   `json:"success"`
	URL         string `json:"url,omitempty"`
	ProjectName string `json:"project_name,omitempty"`
	Error       string `json:"error,omitempty"`
}

func reportResult(r deploy.Result) error {
	if flagJSON {
		return json.NewEncoder(os.Stdout).Encode(deployOutput{
			Success:     r.Success,
			URL:         r.URL,
			ProjectName: r.ProjectName,
			Error:       r.Error,
		})
	}

	if r.Success {
		statusf("Published %s at %s\n", r.ProjectName, r.URL)
	} else {
		fmt.Fprintf(os.Stderr, "Deployment failed: %s\n", r.Error)
	}

	return nil
}
