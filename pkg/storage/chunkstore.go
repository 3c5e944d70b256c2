package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ChunkStore is the filesystem-backed temporary store for per-upload chunk
// files, laid out as {root}/{upload_id}/chunk_{n}. The on-disk names derive
// exclusively from validated identifiers, never from client filenames.
type ChunkStore struct {
	root string
}

// NewChunkStore opens (creating if needed) a chunk store rooted at root.
func NewChunkStore(root string) (*ChunkStore, error) {
	resolved, err := resolveRoot(root)
	if err != nil {
		return nil, err
	}
	return &ChunkStore{root: resolved}, nil
}

// Root returns the resolved store root.
func (c *ChunkStore) Root() string {
	return c.root
}

// sessionDir returns the canonical directory for an upload session.
func (c *ChunkStore) sessionDir(uploadID string) (string, error) {
	if !ValidUploadID(uploadID) {
		return "", fmt.Errorf("invalid upload ID %q", uploadID)
	}
	return securePath(c.root, uploadID)
}

// chunkPath returns the canonical path of chunk n for an upload session.
func (c *ChunkStore) chunkPath(uploadID string, n int) (string, error) {
	if !ValidUploadID(uploadID) {
		return "", fmt.Errorf("invalid upload ID %q", uploadID)
	}
	if n < 0 {
		return "", fmt.Errorf("negative chunk number %d", n)
	}
	return securePath(c.root, uploadID, fmt.Sprintf("chunk_%d", n))
}

// ErrUnexpectedSize reports a chunk body whose length does not match the
// size the session demands for that chunk.
var ErrUnexpectedSize = errors.New("chunk body size does not match expected size")

// WriteChunk streams r into the chunk file for (uploadID, n) and returns the
// stored path and byte count. The session directory is created lazily with
// restrictive permissions. The write goes to a temp file first, is fsynced,
// and renamed into place so a retried chunk upload is atomic at the file
// level; the directory is fsynced before success is reported.
//
// When expected is non-negative the chunk is only published if exactly that
// many bytes were read; a mismatch returns ErrUnexpectedSize and leaves any
// previously stored chunk for (uploadID, n) untouched.
func (c *ChunkStore) WriteChunk(uploadID string, n int, r io.Reader, expected int64) (string, int64, error) {
	dir, err := c.sessionDir(uploadID)
	if err != nil {
		return "", 0, err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", 0, fmt.Errorf("creating session directory: %w", err)
	}

	path, err := c.chunkPath(uploadID, n)
	if err != nil {
		return "", 0, err
	}

	tmp, err := os.CreateTemp(dir, fmt.Sprintf(".chunk_%d-*", n))
	if err != nil {
		return "", 0, fmt.Errorf("creating chunk temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		// No-op after a successful rename.
		_ = os.Remove(tmpName)
	}()

	written, err := io.Copy(tmp, r)
	if err != nil {
		tmp.Close()
		return "", 0, fmt.Errorf("writing chunk: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", 0, fmt.Errorf("syncing chunk: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", 0, fmt.Errorf("closing chunk: %w", err)
	}

	if expected >= 0 && written != expected {
		return "", written, fmt.Errorf("%w: got %d, want %d", ErrUnexpectedSize, written, expected)
	}

	if err := os.Rename(tmpName, path); err != nil {
		return "", 0, fmt.Errorf("publishing chunk: %w", err)
	}
	if err := fsyncDir(dir); err != nil {
		return "", 0, fmt.Errorf("syncing session directory: %w", err)
	}

	return path, written, nil
}

// ReadChunk opens chunk n of a session for reading.
func (c *ChunkStore) ReadChunk(uploadID string, n int) (io.ReadCloser, error) {
	path, err := c.chunkPath(uploadID, n)
	if err != nil {
		return nil, err
	}
	return os.Open(path)
}

// ChunkExists reports whether chunk n of a session is on disk.
func (c *ChunkStore) ChunkExists(uploadID string, n int) (bool, error) {
	path, err := c.chunkPath(uploadID, n)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	return err == nil, err
}

// ChunkSize returns the on-disk size of chunk n.
func (c *ChunkStore) ChunkSize(uploadID string, n int) (int64, error) {
	path, err := c.chunkPath(uploadID, n)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Concatenate streams chunks 0..total-1 of a session into w in ascending
// order and returns the total bytes written. A missing chunk aborts the copy.
func (c *ChunkStore) Concatenate(uploadID string, total int, w io.Writer) (int64, error) {
	var written int64
	for n := 0; n < total; n++ {
		rc, err := c.ReadChunk(uploadID, n)
		if err != nil {
			return written, fmt.Errorf("opening chunk %d: %w", n, err)
		}
		copied, err := io.Copy(w, rc)
		rc.Close()
		written += copied
		if err != nil {
			return written, fmt.Errorf("copying chunk %d: %w", n, err)
		}
	}
	return written, nil
}

// DeleteSession removes a session's chunk directory recursively. Succeeds
// even when the directory is partially populated or already gone.
func (c *ChunkStore) DeleteSession(uploadID string) error {
	dir, err := c.sessionDir(uploadID)
	if err != nil {
		return err
	}
	return os.RemoveAll(dir)
}

// SessionDirs lists the session directories currently on disk, with their
// modification times. Used by the sweeper for orphan detection.
func (c *ChunkStore) SessionDirs() ([]DirEntry, error) {
	entries, err := os.ReadDir(c.root)
	if err != nil {
		return nil, err
	}
	var dirs []DirEntry
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		dirs = append(dirs, DirEntry{Name: e.Name(), ModTime: info.ModTime(), Path: filepath.Join(c.root, e.Name())})
	}
	return dirs, nil
}
