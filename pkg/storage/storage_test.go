package storage

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const (
	testUploadID = "00112233445566778899aabbccddeeff"
	testClipID   = "AB12"
)

func TestIdentifierValidation(t *testing.T) {
	t.Run("upload IDs", func(t *testing.T) {
		valid := []string{testUploadID}
		invalid := []string{
			"",
			"short",
			"00112233445566778899AABBCCDDEEFF", // uppercase hex
			"00112233445566778899aabbccddeef",  // 31 chars
			"../../etc/passwd",
		}
		for _, id := range valid {
			if !ValidUploadID(id) {
				t.Errorf("ValidUploadID(%q) = false", id)
			}
		}
		for _, id := range invalid {
			if ValidUploadID(id) {
				t.Errorf("ValidUploadID(%q) = true", id)
			}
		}
	})

	t.Run("clip IDs", func(t *testing.T) {
		valid := []string{"AB12", "ZZZZ", "AB12CD34EF"}
		invalid := []string{
			"",
			"ab12",        // lowercase
			"AB1",         // 3 chars
			"AB12C",       // 5 chars
			"AB12CD34E",   // 9 chars
			"AB12CD34EF0", // 11 chars
			"AB/2",
		}
		for _, id := range valid {
			if !ValidClipID(id) {
				t.Errorf("ValidClipID(%q) = false", id)
			}
		}
		for _, id := range invalid {
			if ValidClipID(id) {
				t.Errorf("ValidClipID(%q) = true", id)
			}
		}
	})
}

func TestSecurePath(t *testing.T) {
	root, err := resolveRoot(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	t.Run("accepts paths under root", func(t *testing.T) {
		got, err := securePath(root, "ab", "AB12")
		if err != nil {
			t.Fatalf("securePath: %v", err)
		}
		if !strings.HasPrefix(got, root) {
			t.Errorf("path %q not under root %q", got, root)
		}
	})

	t.Run("rejects traversal", func(t *testing.T) {
		_, err := securePath(root, "..", "escape")
		if !errors.Is(err, ErrPathEscape) {
			t.Errorf("err = %v, want ErrPathEscape", err)
		}
	})

	t.Run("rejects symlink escape", func(t *testing.T) {
		outside := t.TempDir()
		link := filepath.Join(root, "link")
		if err := os.Symlink(outside, link); err != nil {
			t.Skipf("cannot create symlink: %v", err)
		}
		_, err := securePath(root, "link", "blob")
		if !errors.Is(err, ErrPathEscape) {
			t.Errorf("err = %v, want ErrPathEscape", err)
		}
	})
}

func TestChunkStore(t *testing.T) {
	newStore := func(t *testing.T) *ChunkStore {
		t.Helper()
		cs, err := NewChunkStore(t.TempDir())
		if err != nil {
			t.Fatal(err)
		}
		return cs
	}

	t.Run("write and read back", func(t *testing.T) {
		cs := newStore(t)
		payload := []byte("chunk payload")

		path, written, err := cs.WriteChunk(testUploadID, 0, bytes.NewReader(payload), int64(len(payload)))
		if err != nil {
			t.Fatalf("WriteChunk: %v", err)
		}
		if written != int64(len(payload)) {
			t.Errorf("written = %d, want %d", written, len(payload))
		}
		if !strings.HasPrefix(path, cs.Root()) {
			t.Errorf("chunk path %q not under root", path)
		}

		rc, err := cs.ReadChunk(testUploadID, 0)
		if err != nil {
			t.Fatalf("ReadChunk: %v", err)
		}
		defer rc.Close()
		got, err := io.ReadAll(rc)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(got, payload) {
			t.Errorf("read back %q, want %q", got, payload)
		}
	})

	t.Run("size mismatch keeps previous chunk", func(t *testing.T) {
		cs := newStore(t)
		good := []byte("0123456789")
		if _, _, err := cs.WriteChunk(testUploadID, 0, bytes.NewReader(good), 10); err != nil {
			t.Fatal(err)
		}

		_, _, err := cs.WriteChunk(testUploadID, 0, bytes.NewReader([]byte("short")), 10)
		if !errors.Is(err, ErrUnexpectedSize) {
			t.Fatalf("err = %v, want ErrUnexpectedSize", err)
		}

		size, err := cs.ChunkSize(testUploadID, 0)
		if err != nil {
			t.Fatal(err)
		}
		if size != 10 {
			t.Errorf("chunk size after rejected rewrite = %d, want 10", size)
		}
	})

	t.Run("rewrite is last writer wins", func(t *testing.T) {
		cs := newStore(t)
		if _, _, err := cs.WriteChunk(testUploadID, 0, strings.NewReader("aaaa"), 4); err != nil {
			t.Fatal(err)
		}
		if _, _, err := cs.WriteChunk(testUploadID, 0, strings.NewReader("bbbb"), 4); err != nil {
			t.Fatal(err)
		}

		rc, err := cs.ReadChunk(testUploadID, 0)
		if err != nil {
			t.Fatal(err)
		}
		defer rc.Close()
		got, _ := io.ReadAll(rc)
		if string(got) != "bbbb" {
			t.Errorf("chunk content = %q, want bbbb", got)
		}
	})

	t.Run("concatenate in order", func(t *testing.T) {
		cs := newStore(t)
		// Write out of order; assembly must still be ascending.
		for _, n := range []int{2, 0, 1} {
			chunk := strings.Repeat(string(rune('a'+n)), 4)
			if _, _, err := cs.WriteChunk(testUploadID, n, strings.NewReader(chunk), 4); err != nil {
				t.Fatal(err)
			}
		}

		var buf bytes.Buffer
		written, err := cs.Concatenate(testUploadID, 3, &buf)
		if err != nil {
			t.Fatalf("Concatenate: %v", err)
		}
		if written != 12 {
			t.Errorf("written = %d, want 12", written)
		}
		if buf.String() != "aaaabbbbcccc" {
			t.Errorf("assembled = %q", buf.String())
		}
	})

	t.Run("concatenate missing chunk fails", func(t *testing.T) {
		cs := newStore(t)
		if _, _, err := cs.WriteChunk(testUploadID, 0, strings.NewReader("aaaa"), 4); err != nil {
			t.Fatal(err)
		}
		var buf bytes.Buffer
		if _, err := cs.Concatenate(testUploadID, 2, &buf); err == nil {
			t.Error("expected error for missing chunk 1")
		}
	})

	t.Run("delete session", func(t *testing.T) {
		cs := newStore(t)
		if _, _, err := cs.WriteChunk(testUploadID, 0, strings.NewReader("aaaa"), 4); err != nil {
			t.Fatal(err)
		}
		if err := cs.DeleteSession(testUploadID); err != nil {
			t.Fatalf("DeleteSession: %v", err)
		}
		exists, err := cs.ChunkExists(testUploadID, 0)
		if err != nil {
			t.Fatal(err)
		}
		if exists {
			t.Error("chunk survived session delete")
		}
		// Deleting again is not an error.
		if err := cs.DeleteSession(testUploadID); err != nil {
			t.Errorf("second DeleteSession: %v", err)
		}
	})

	t.Run("rejects invalid upload ID", func(t *testing.T) {
		cs := newStore(t)
		if _, _, err := cs.WriteChunk("../evil", 0, strings.NewReader("x"), 1); err == nil {
			t.Error("expected error for invalid upload ID")
		}
	})
}

func TestBlobStore(t *testing.T) {
	newStore := func(t *testing.T) *BlobStore {
		t.Helper()
		bs, err := NewBlobStore(t.TempDir())
		if err != nil {
			t.Fatal(err)
		}
		return bs
	}

	t.Run("put and open", func(t *testing.T) {
		bs := newStore(t)
		payload := []byte("ciphertext blob")

		path, written, err := bs.Put(testClipID, bytes.NewReader(payload))
		if err != nil {
			t.Fatalf("Put: %v", err)
		}
		if written != int64(len(payload)) {
			t.Errorf("written = %d, want %d", written, len(payload))
		}
		// Sharded layout: {root}/{clipID[0:2]}/{clipID}.
		want := filepath.Join(bs.Root(), testClipID[0:2], testClipID)
		if path != want {
			t.Errorf("blob path = %q, want %q", path, want)
		}

		rc, err := bs.Open(testClipID)
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		defer rc.Close()
		got, _ := io.ReadAll(rc)
		if !bytes.Equal(got, payload) {
			t.Errorf("read back %q, want %q", got, payload)
		}
	})

	t.Run("exists and size", func(t *testing.T) {
		bs := newStore(t)
		if _, _, err := bs.Put(testClipID, strings.NewReader("12345")); err != nil {
			t.Fatal(err)
		}

		exists, err := bs.Exists(testClipID)
		if err != nil || !exists {
			t.Errorf("Exists = %v, %v; want true, nil", exists, err)
		}
		size, err := bs.Size(testClipID)
		if err != nil || size != 5 {
			t.Errorf("Size = %d, %v; want 5, nil", size, err)
		}
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		bs := newStore(t)
		if _, _, err := bs.Put(testClipID, strings.NewReader("x")); err != nil {
			t.Fatal(err)
		}
		if err := bs.Delete(testClipID); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if err := bs.Delete(testClipID); err != nil {
			t.Errorf("second Delete: %v", err)
		}
		exists, _ := bs.Exists(testClipID)
		if exists {
			t.Error("blob survived delete")
		}
	})

	t.Run("lists blobs for sweeping", func(t *testing.T) {
		bs := newStore(t)
		for _, id := range []string{"AB12", "CD34", "AB12CD34EF"} {
			if _, _, err := bs.Put(id, strings.NewReader("x")); err != nil {
				t.Fatal(err)
			}
		}

		blobs, err := bs.Blobs()
		if err != nil {
			t.Fatal(err)
		}
		names := make(map[string]bool, len(blobs))
		for _, b := range blobs {
			names[b.Name] = true
		}
		for _, id := range []string{"AB12", "CD34", "AB12CD34EF"} {
			if !names[id] {
				t.Errorf("blob %s missing from listing", id)
			}
		}
	})

	t.Run("rejects invalid clip ID", func(t *testing.T) {
		bs := newStore(t)
		if _, _, err := bs.Put("ab12", strings.NewReader("x")); err == nil {
			t.Error("expected error for lowercase clip ID")
		}
	})
}
