// Package deploy sequences a full deployment attempt: artifact enumeration,
// the bounded upload batch, and the remote publish call, producing one
// structured Result per attempt.
package deploy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/shipsite/shipsite-go/internal/rpc"
	"github.com/shipsite/shipsite-go/internal/session"
	"github.com/shipsite/shipsite-go/internal/storage"
)

// publishOperation is the named remote operation that makes a build live.
const publishOperation = "publish"

// Uploader transfers an artifact batch to remote storage. Implemented by
// storage.Engine; narrowed to an interface for test doubles.
type Uploader interface {
	UploadAll(ctx context.Context, files []storage.ArtifactFile, creatorID, projectID string) []storage.Outcome
}

// Caller invokes a named remote operation. Implemented by rpc.Invoker.
type Caller interface {
	Call(ctx context.Context, operation string, payload any) (json.RawMessage, error)
}

// SessionReader exposes the current session snapshot. Implemented by
// session.Manager.
type SessionReader interface {
	Current() session.Session
}

// Result is the terminal value of one deployment attempt. Expected remote
// failures come back inside Result; Deploy returns a non-nil error only for
// contract violations (empty root, enumeration failure).
type Result struct {
	Success     bool
	URL         string
	ProjectName string
	Error       string
}

// Coordinator orchestrates uploads and the publish call.
type Coordinator struct {
	uploads Uploader
	invoker Caller
	session SessionReader
	logger  *slog.Logger
}

// NewCoordinator creates a deployment coordinator.
func NewCoordinator(uploads Uploader, invoker Caller, sess SessionReader, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}

	return &Coordinator{
		uploads: uploads,
		invoker: invoker,
		session: sess,
		logger:  logger,
	}
}

// publishRequest is the payload of the publish operation. PayoutEmail is
// captured from the session before uploads start, not re-read later, so a
// concurrent profile edit cannot change it mid-attempt. Empty is valid.
type publishRequest struct {
	ProjectID   string   `json:"project_id"`
	CreatorID   string   `json:"creator_id"`
	Files       []string `json:"files"`
	Intent      string   `json:"intent,omitempty"`
	PayoutEmail string   `json:"payout_email"`
	AttemptID   string   `json:"attempt_id"`
}

type publishResponse struct {
	Success     bool   `json:"success"`
	URL         string `json:"url"`
	ProjectName string `json:"project_name"`
}

// Deploy runs one full deployment attempt: enumerate the artifact tree,
// upload every file, and on full upload success trigger the remote publish.
// Publish is never attempted when any upload failed — a partial artifact set
// could serve a broken site. Re-running with identical inputs is safe:
// uploads overwrite the same keys and publish is re-triggerable.
func (c *Coordinator) Deploy(
	ctx context.Context, root, creatorID, projectID, intent string,
) (Result, error) {
	if root == "" {
		return Result{}, errors.New("deploy: artifact root must not be empty")
	}

	files, err := storage.EnumerateArtifacts(root)
	if err != nil {
		return Result{}, fmt.Errorf("deploy: enumerating %s: %w", root, err)
	}

	// Snapshot the payout identifier now; the session may be edited while
	// uploads run.
	payoutEmail := c.session.Current().PayoutEmail
	attemptID := uuid.NewString()

	c.logger.Info("deployment starting",
		slog.String("project", projectID),
		slog.String("attempt_id", attemptID),
		slog.Int("files", len(files)),
	)

	outcomes := c.uploads.UploadAll(ctx, files, creatorID, projectID)
	if !storage.AllSucceeded(outcomes) {
		failed := storage.FailedPaths(outcomes)

		c.logger.Warn("deployment aborted, upload batch incomplete",
			slog.String("project", projectID),
			slog.Int("failed", len(failed)),
		)

		return Result{
			Success: false,
			Error:   "upload failed: " + strings.Join(failed, ", "),
		}, nil
	}

	req := publishRequest{
		ProjectID:   projectID,
		CreatorID:   creatorID,
		Files:       storage.Manifest(files),
		Intent:      intent,
		PayoutEmail: payoutEmail,
		AttemptID:   attemptID,
	}

	raw, err := c.invoker.Call(ctx, publishOperation, req)
	if err != nil {
		return Result{Success: false, Error: publishErrorMessage(err)}, nil
	}

	var resp publishResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return Result{Success: false, Error: "publish returned a malformed response"}, nil
	}

	if !resp.Success {
		return Result{Success: false, Error: "publish was rejected by the server"}, nil
	}

	c.logger.Info("deployment finished",
		slog.String("project", resp.ProjectName),
		slog.String("url", resp.URL),
	)

	return Result{
		Success:     true,
		URL:         resp.URL,
		ProjectName: resp.ProjectName,
	}, nil
}

// publishErrorMessage maps an invoker error to a user-facing message.
func publishErrorMessage(err error) string {
	var appErr *rpc.AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}

	switch {
	case errors.Is(err, rpc.ErrAuthExpired):
		return "session expired, please log in again"
	case errors.Is(err, rpc.ErrExhausted):
		return "publish failed after repeated network errors"
	default:
		return err.Error()
	}
}
