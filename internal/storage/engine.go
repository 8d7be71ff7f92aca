package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"

	"golang.org/x/sync/errgroup"
)

// defaultWorkers bounds concurrent transfers.
const defaultWorkers = 3

// maxBodySnippet caps the failure body kept per outcome.
const maxBodySnippet = 512

const userAgent = "shipsite/0.1"

// TokenSource provides fresh bearer tokens. Defined at the consumer;
// the session manager is the real implementation.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Outcome is the per-file result of an upload batch. On failure it keeps
// the HTTP status and a body snippet for diagnostics.
type Outcome struct {
	File       ArtifactFile
	OK         bool
	StatusCode int
	Body       string
	Err        error
}

// AllSucceeded reports whether every outcome in the batch succeeded.
func AllSucceeded(outcomes []Outcome) bool {
	for _, o := range outcomes {
		if !o.OK {
			return false
		}
	}

	return true
}

// FailedPaths returns the relative paths of failed outcomes.
func FailedPaths(outcomes []Outcome) []string {
	var paths []string

	for _, o := range outcomes {
		if !o.OK {
			paths = append(paths, o.File.RelPath)
		}
	}

	return paths
}

// Engine transfers artifact files to the blob storage endpoint under a
// fixed concurrency bound. It reads the credential, never mutates it, and
// applies no per-file retry — the batch gate stays simple and auditable.
type Engine struct {
	baseURL    string
	httpClient *http.Client
	token      TokenSource
	workers    int
	logger     *slog.Logger
}

// NewEngine creates an upload engine. workers <= 0 selects the default
// bound of 3 concurrent transfers.
func NewEngine(baseURL string, httpClient *http.Client, token TokenSource, workers int, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if workers <= 0 {
		workers = defaultWorkers
	}

	return &Engine{
		baseURL:    baseURL,
		httpClient: httpClient,
		token:      token,
		workers:    workers,
		logger:     logger,
	}
}

// UploadAll transfers every file to the creator/project storage namespace
// and returns exactly one Outcome per input file. A single failure never
// cancels in-flight siblings; the batch drains fully before reporting.
// Canceling ctx stops scheduling new transfers; already-dispatched ones
// run to completion and their outcome is still recorded.
func (e *Engine) UploadAll(
	ctx context.Context, files []ArtifactFile, creatorID, projectID string,
) []Outcome {
	e.logger.Info("starting upload batch",
		slog.Int("files", len(files)),
		slog.Int("workers", e.workers),
		slog.String("project", projectID),
	)

	outcomes := make([]Outcome, len(files))

	// Plain errgroup, not WithContext: worker errors must not cancel
	// sibling transfers, only caller cancellation may.
	var g errgroup.Group

	g.SetLimit(e.workers)

	for i := range files {
		i := i

		g.Go(func() error {
			if ctx.Err() != nil {
				outcomes[i] = Outcome{File: files[i], Err: ctx.Err()}
				return nil
			}

			outcomes[i] = e.uploadOne(ctx, files[i], creatorID, projectID)

			return nil
		})
	}

	_ = g.Wait() //nolint:errcheck // workers never return errors

	succeeded := 0

	for _, o := range outcomes {
		if o.OK {
			succeeded++
		}
	}

	e.logger.Info("upload batch finished",
		slog.Int("succeeded", succeeded),
		slog.Int("failed", len(files)-succeeded),
	)

	return outcomes
}

// uploadOne PUTs a single file to its storage key.
func (e *Engine) uploadOne(
	ctx context.Context, file ArtifactFile, creatorID, projectID string,
) Outcome {
	f, err := os.Open(file.LocalPath)
	if err != nil {
		return Outcome{File: file, Err: fmt.Errorf("storage: opening %s: %w", file.LocalPath, err)}
	}
	defer f.Close()

	token, err := e.token.Token(ctx)
	if err != nil {
		return Outcome{File: file, Err: fmt.Errorf("storage: obtaining token: %w", err)}
	}

	key := storageKey(creatorID, projectID, file.RelPath)

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, e.baseURL+key, f)
	if err != nil {
		return Outcome{File: file, Err: fmt.Errorf("storage: creating request: %w", err)}
	}

	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", file.ContentType)
	req.Header.Set("User-Agent", userAgent)
	req.ContentLength = file.Size

	resp, err := e.httpClient.Do(req)
	if err != nil {
		e.logger.Warn("upload failed",
			slog.String("path", file.RelPath),
			slog.String("error", err.Error()),
		)

		return Outcome{File: file, Err: fmt.Errorf("storage: uploading %s: %w", file.RelPath, err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodySnippet)) //nolint:errcheck // best-effort diagnostics

		e.logger.Warn("upload rejected",
			slog.String("path", file.RelPath),
			slog.Int("status", resp.StatusCode),
		)

		return Outcome{
			File:       file,
			StatusCode: resp.StatusCode,
			Body:       string(body),
			Err:        fmt.Errorf("storage: uploading %s: HTTP %d", file.RelPath, resp.StatusCode),
		}
	}

	// Drain to reuse the connection.
	_, _ = io.Copy(io.Discard, resp.Body) //nolint:errcheck // best-effort drain

	e.logger.Debug("uploaded",
		slog.String("path", file.RelPath),
		slog.Int64("size", file.Size),
	)

	return Outcome{File: file, OK: true, StatusCode: resp.StatusCode}
}

// storageKey builds the remote key, escaping each path segment while
// keeping the separators.
func storageKey(creatorID, projectID, relPath string) string {
	segments := strings.Split(relPath, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}

	return "/creators/" + url.PathEscape(creatorID) +
		"/builds/" + url.PathEscape(projectID) +
		"/" + strings.Join(segments, "/")
}
