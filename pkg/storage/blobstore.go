package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// DirEntry describes a top-level entry of a storage root, used by the
// sweeper for orphan reconciliation.
type DirEntry struct {
	Name    string
	Path    string
	ModTime time.Time
}

// BlobStore is the filesystem-backed permanent store for assembled ciphertext
// blobs, sharded two levels deep as {root}/{clip_id[0:2]}/{clip_id}.
type BlobStore struct {
	root string
}

// NewBlobStore opens (creating if needed) a blob store rooted at root.
func NewBlobStore(root string) (*BlobStore, error) {
	resolved, err := resolveRoot(root)
	if err != nil {
		return nil, err
	}
	return &BlobStore{root: resolved}, nil
}

// Root returns the resolved store root.
func (b *BlobStore) Root() string {
	return b.root
}

// blobPath returns the canonical sharded path for a clip ID.
func (b *BlobStore) blobPath(clipID string) (string, error) {
	if !ValidClipID(clipID) {
		return "", fmt.Errorf("invalid clip ID %q", clipID)
	}
	return securePath(b.root, clipID[0:2], clipID)
}

// Put streams r into the blob for clipID and returns the stored path and
// byte count. The blob is written to a temp file, fsynced, and renamed into
// place; a partially written blob is never visible under its final name.
func (b *BlobStore) Put(clipID string, r io.Reader) (string, int64, error) {
	path, err := b.blobPath(clipID)
	if err != nil {
		return "", 0, err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", 0, fmt.Errorf("creating blob shard directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+clipID+"-*")
	if err != nil {
		return "", 0, fmt.Errorf("creating blob temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()

	written, err := io.Copy(tmp, r)
	if err != nil {
		tmp.Close()
		return "", 0, fmt.Errorf("writing blob: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", 0, fmt.Errorf("syncing blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", 0, fmt.Errorf("closing blob: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		return "", 0, fmt.Errorf("publishing blob: %w", err)
	}
	if err := fsyncDir(dir); err != nil {
		return "", 0, fmt.Errorf("syncing blob shard directory: %w", err)
	}

	return path, written, nil
}

// Open opens the blob for clipID for streaming reads.
func (b *BlobStore) Open(clipID string) (io.ReadCloser, error) {
	path, err := b.blobPath(clipID)
	if err != nil {
		return nil, err
	}
	return os.Open(path)
}

// Size returns the on-disk size of the blob for clipID.
func (b *BlobStore) Size(clipID string) (int64, error) {
	path, err := b.blobPath(clipID)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Exists reports whether a blob is present for clipID.
func (b *BlobStore) Exists(clipID string) (bool, error) {
	path, err := b.blobPath(clipID)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	return err == nil, err
}

// Delete unlinks the blob for clipID. A missing blob is not an error.
func (b *BlobStore) Delete(clipID string) error {
	path, err := b.blobPath(clipID)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Blobs lists every blob file on disk with its modification time. Used by
// the sweeper for orphan reconciliation.
func (b *BlobStore) Blobs() ([]DirEntry, error) {
	shards, err := os.ReadDir(b.root)
	if err != nil {
		return nil, err
	}
	var blobs []DirEntry
	for _, shard := range shards {
		if !shard.IsDir() {
			continue
		}
		shardPath := filepath.Join(b.root, shard.Name())
		files, err := os.ReadDir(shardPath)
		if err != nil {
			continue
		}
		for _, f := range files {
			if f.IsDir() {
				continue
			}
			info, err := f.Info()
			if err != nil {
				continue
			}
			blobs = append(blobs, DirEntry{
				Name:    f.Name(),
				Path:    filepath.Join(shardPath, f.Name()),
				ModTime: info.ModTime(),
			})
		}
	}
	return blobs, nil
}
