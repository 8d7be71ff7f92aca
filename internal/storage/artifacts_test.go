package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeTree creates files under a temp root and returns the root.
func writeTree(t *testing.T, files map[string][]byte) string {
	t.Helper()

	root := t.TempDir()

	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, content, 0o644))
	}

	return root
}

func TestEnumerateArtifacts(t *testing.T) {
	root := writeTree(t, map[string][]byte{
		"index.html":    []byte("<html></html>"),
		"js/app.js":     []byte("console.log(1)"),
		"assets/a.wasm": make([]byte, 64),
	})

	files, err := EnumerateArtifacts(root)
	require.NoError(t, err)
	require.Len(t, files, 3)

	byRel := map[string]ArtifactFile{}
	for _, f := range files {
		byRel[f.RelPath] = f
	}

	require.Contains(t, byRel, "index.html")
	require.Contains(t, byRel, "js/app.js")
	require.Contains(t, byRel, "assets/a.wasm")

	assert.Equal(t, "text/html", byRel["index.html"].ContentType)
	assert.Equal(t, int64(13), byRel["index.html"].Size)
	assert.Equal(t, "application/javascript", byRel["js/app.js"].ContentType)
	assert.Equal(t, "application/wasm", byRel["assets/a.wasm"].ContentType)
}

func TestEnumerateArtifacts_EmptyTree(t *testing.T) {
	_, err := EnumerateArtifacts(t.TempDir())
	assert.ErrorIs(t, err, ErrNoArtifacts)
}

func TestEnumerateArtifacts_MissingRoot(t *testing.T) {
	_, err := EnumerateArtifacts(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}

func TestEnumerateArtifacts_EmptyRootArg(t *testing.T) {
	_, err := EnumerateArtifacts("")
	assert.Error(t, err)
}

func TestContentTypeFor(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"index.html", "text/html"},
		{"app.js", "application/javascript"},
		{"style.css", "text/css"},
		{"game.wasm", "application/wasm"},
		{"game.data", "application/octet-stream"},
		{"manifest.json", "application/json"},
		{"logo.png", "image/png"},
		{"photo.jpg", "image/jpeg"},
		{"photo.jpeg", "image/jpeg"},
		{"icon.svg", "image/svg+xml"},
		{"README.txt", "text/plain"},
		{"UPPER.HTML", "text/html"},
		{"mystery.bin", "application/octet-stream"},
		{"no-extension", "application/octet-stream"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, ContentTypeFor(tt.path))
		})
	}
}

func TestManifest(t *testing.T) {
	files := []ArtifactFile{
		{RelPath: "index.html"},
		{RelPath: "js/app.js"},
	}
	assert.Equal(t, []string{"index.html", "js/app.js"}, Manifest(files))
}
