// Package storage implements the filesystem-backed stores of the qopy server:
// the temporary chunk store for in-flight uploads and the permanent blob
// store for assembled ciphertext. All paths are canonicalized and verified to
// stay under the configured roots.
package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// ErrPathEscape reports a constructed path that resolved outside its root.
// It indicates either a bug or an attack and is surfaced as an internal error
// with the offending path kept out of client responses.
var ErrPathEscape = errors.New("storage path escapes the configured root")

// identifier patterns: upload IDs are 32 hex chars, clip IDs 4 or 10
// alphanumerics. Validated before any path is joined.
var (
	uploadIDPattern = regexp.MustCompile(`^[0-9a-f]{32}$`)
	clipIDPattern   = regexp.MustCompile(`^[A-Z0-9]{4}([A-Z0-9]{6})?$`)
)

// ValidUploadID reports whether id matches the upload identifier pattern.
func ValidUploadID(id string) bool {
	return uploadIDPattern.MatchString(id)
}

// ValidClipID reports whether id matches the clip identifier pattern.
func ValidClipID(id string) bool {
	return clipIDPattern.MatchString(id)
}

// securePath joins elem onto root and verifies the result stays under root
// after symlink resolution. The root itself must already exist and have been
// resolved by the caller.
func securePath(resolvedRoot string, elem ...string) (string, error) {
	joined := filepath.Join(append([]string{resolvedRoot}, elem...)...)
	cleaned := filepath.Clean(joined)

	if !strings.HasPrefix(cleaned, resolvedRoot+string(os.PathSeparator)) && cleaned != resolvedRoot {
		return "", fmt.Errorf("%w: %s", ErrPathEscape, cleaned)
	}

	// Resolve symlinks on the deepest existing ancestor. The leaf may not
	// exist yet (writes create it), so walk up until resolution succeeds.
	probe := cleaned
	for {
		resolved, err := filepath.EvalSymlinks(probe)
		if err == nil {
			if !strings.HasPrefix(resolved, resolvedRoot+string(os.PathSeparator)) && resolved != resolvedRoot {
				return "", fmt.Errorf("%w: %s", ErrPathEscape, cleaned)
			}
			return cleaned, nil
		}
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("resolving %s: %w", probe, err)
		}
		parent := filepath.Dir(probe)
		if parent == probe {
			return "", fmt.Errorf("%w: %s", ErrPathEscape, cleaned)
		}
		probe = parent
	}
}

// resolveRoot creates the root directory if needed and resolves its symlinks.
func resolveRoot(root string) (string, error) {
	if err := os.MkdirAll(root, 0o700); err != nil {
		return "", fmt.Errorf("creating storage root %s: %w", root, err)
	}
	resolved, err := filepath.EvalSymlinks(root)
	if err != nil {
		return "", fmt.Errorf("resolving storage root %s: %w", root, err)
	}
	return resolved, nil
}

// fsyncDir fsyncs a directory so a rename or create within it is durable.
func fsyncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
