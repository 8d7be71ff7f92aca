// Package storage enumerates local build artifacts and transfers them to
// the remote blob store under a bounded concurrency gate.
package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// ErrNoArtifacts is returned when the artifact root contains no files.
var ErrNoArtifacts = errors.New("storage: no artifact files found")

// ArtifactFile describes one file of a deployment's artifact set.
// Immutable once enumerated; the set is fixed for a deployment attempt.
type ArtifactFile struct {
	LocalPath   string
	RelPath     string
	Size        int64
	ContentType string
}

// contentTypes maps artifact extensions to upload content types.
// Unknown extensions fall back to application/octet-stream.
var contentTypes = map[string]string{
	".html": "text/html",
	".htm":  "text/html",
	".js":   "application/javascript",
	".css":  "text/css",
	".wasm": "application/wasm",
	".data": "application/octet-stream",
	".json": "application/json",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".svg":  "image/svg+xml",
	".txt":  "text/plain",
}

// ContentTypeFor returns the upload content type for a file path.
func ContentTypeFor(path string) string {
	if ct, ok := contentTypes[strings.ToLower(filepath.Ext(path))]; ok {
		return ct
	}

	return "application/octet-stream"
}

// EnumerateArtifacts walks the artifact root and returns every regular
// file as an ArtifactFile. Relative storage paths are forward-slash and
// NFC normalized so macOS-built trees produce the same remote keys as
// Linux-built ones. WalkDir yields lexical order, so the set is
// deterministic for a given tree.
func EnumerateArtifacts(root string) ([]ArtifactFile, error) {
	if root == "" {
		return nil, fmt.Errorf("storage: artifact root must not be empty")
	}

	var files []ArtifactFile

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}

		if !d.Type().IsRegular() {
			return nil
		}

		info, infoErr := d.Info()
		if infoErr != nil {
			return infoErr
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}

		files = append(files, ArtifactFile{
			LocalPath:   path,
			RelPath:     norm.NFC.String(filepath.ToSlash(rel)),
			Size:        info.Size(),
			ContentType: ContentTypeFor(path),
		})

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("storage: enumerating %s: %w", root, err)
	}

	if len(files) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoArtifacts, root)
	}

	return files, nil
}

// Manifest returns the relative storage paths of the artifact set.
func Manifest(files []ArtifactFile) []string {
	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.RelPath
	}

	return paths
}
