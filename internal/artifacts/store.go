// Package artifacts stores evidence of failed steps (screenshots, page HTML,
// run reports) either on disk or in an S3-compatible bucket.
package artifacts

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Store persists one artifact under a slash-separated key.
type Store interface {
	Put(ctx context.Context, key string, content []byte, contentType string) error
}

var unsafeKeyChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Key builds "<run>/<scenario>/<step>.<ext>" with every part reduced to a
// filesystem- and URL-safe form.
func Key(runID, label, step, ext string) string {
	parts := []string{sanitize(runID), sanitize(label), sanitize(step)}
	key := strings.Join(parts, "/")
	if ext = strings.TrimPrefix(ext, "."); ext != "" {
		key += "." + sanitize(ext)
	}
	return key
}

// RunKey builds "<run>/<name>" for artifacts that belong to a whole run.
func RunKey(runID, name string) string {
	return sanitize(runID) + "/" + sanitize(name)
}

func sanitize(part string) string {
	s := unsafeKeyChars.ReplaceAllString(strings.TrimSpace(part), "_")
	s = strings.Trim(s, "_.")
	if s == "" {
		return "_"
	}
	return s
}

// DirStore writes artifacts below a local directory.
type DirStore struct {
	Root string
}

// Put writes content to Root/key, creating directories as needed.
func (d DirStore) Put(_ context.Context, key string, content []byte, _ string) error {
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == "." || filepath.IsAbs(clean) || strings.HasPrefix(clean, "..") {
		return fmt.Errorf("artifacts: invalid key %q", key)
	}
	path := filepath.Join(d.Root, clean)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("artifacts: create dir for %q: %w", key, err)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return fmt.Errorf("artifacts: write %q: %w", key, err)
	}
	return nil
}

// Discard drops every artifact.
type Discard struct{}

// Put does nothing.
func (Discard) Put(context.Context, string, []byte, string) error { return nil }
