package deploy

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch-mode tuning constants.
const (
	// debounceQuiet is how long the artifact tree must stay quiet after the
	// last filesystem event before a redeploy is triggered. Build tools write
	// many files in a burst; one deploy per burst is the goal.
	debounceQuiet = 2 * time.Second

	watchErrInitBackoff = 1 * time.Second
	watchErrBackoffMult = 2
	watchErrMaxBackoff  = 1 * time.Minute
)

// Watch redeploys the artifact root whenever its contents change, after a
// quiescence window. Each redeploy result is passed to onResult; deploy
// failures do not stop the watch. Returns when ctx is canceled, or with an
// error if the watcher cannot be established.
func (c *Coordinator) Watch(
	ctx context.Context, root, creatorID, projectID, intent string, onResult func(Result),
) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("deploy: creating filesystem watcher: %w", err)
	}
	defer watcher.Close()

	if err := addWatchTree(watcher, root); err != nil {
		return err
	}

	c.logger.Info("watching for changes",
		slog.String("root", root),
		slog.Duration("quiescence", debounceQuiet),
	)

	return c.watchLoop(ctx, watcher, root, creatorID, projectID, intent, onResult)
}

// watchLoop is the main select loop for Watch. Filesystem events arm a
// debounce timer; the redeploy fires only after the tree has been quiet for
// the full window.
func (c *Coordinator) watchLoop(
	ctx context.Context, watcher *fsnotify.Watcher,
	root, creatorID, projectID, intent string, onResult func(Result),
) error {
	debounce := time.NewTimer(debounceQuiet)
	if !debounce.Stop() {
		<-debounce.C
	}

	errBackoff := watchErrInitBackoff

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			// Mtime-only churn never changes the artifact set.
			if ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}

			// New subdirectories must be registered — fsnotify watches are
			// not recursive.
			if ev.Has(fsnotify.Create) {
				if err := addWatchTree(watcher, ev.Name); err != nil {
					c.logger.Debug("skipping watch registration",
						slog.String("path", ev.Name),
						slog.String("error", err.Error()),
					)
				}
			}

			if !debounce.Stop() {
				select {
				case <-debounce.C:
				default:
				}
			}

			debounce.Reset(debounceQuiet)
			errBackoff = watchErrInitBackoff

		case watchErr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}

			c.logger.Warn("filesystem watcher error",
				slog.String("error", watchErr.Error()),
				slog.Duration("backoff", errBackoff),
			)

			// Backoff prevents a tight loop under sustained errors.
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(errBackoff):
			}

			errBackoff *= watchErrBackoffMult
			if errBackoff > watchErrMaxBackoff {
				errBackoff = watchErrMaxBackoff
			}

		case <-debounce.C:
			c.logger.Info("artifact tree changed, redeploying",
				slog.String("project", projectID))

			result, err := c.Deploy(ctx, root, creatorID, projectID, intent)
			if err != nil {
				result = Result{Success: false, Error: err.Error()}
			}

			if onResult != nil {
				onResult(result)
			}
		}
	}
}

// addWatchTree registers path and every directory beneath it. Non-directory
// paths are ignored.
func addWatchTree(watcher *fsnotify.Watcher, path string) error {
	return filepath.WalkDir(path, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}

		if !d.IsDir() {
			return nil
		}

		if err := watcher.Add(p); err != nil {
			return fmt.Errorf("deploy: watching %s: %w", p, err)
		}

		return nil
	})
}
