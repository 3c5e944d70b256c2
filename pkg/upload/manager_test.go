package upload

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/qopy-app/qopy/pkg/models"
	"github.com/qopy-app/qopy/pkg/storage"
	"github.com/qopy-app/qopy/pkg/store"
)

type testEnv struct {
	manager *Manager
	store   *store.GORMStore
	chunks  *storage.ChunkStore
	blobs   *storage.BlobStore
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()

	st, err := store.New(&store.Config{
		Type:   store.DatabaseTypeSQLite,
		SQLite: store.SQLiteConfig{Path: ":memory:"},
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	chunks, err := storage.NewChunkStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	blobs, err := storage.NewBlobStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	return &testEnv{
		manager: NewManager(cfg, st, chunks, blobs),
		store:   st,
		chunks:  chunks,
		blobs:   blobs,
	}
}

func validInit(filesize, chunkSize int64) InitRequest {
	return InitRequest{
		Filename:  "secret.bin.enc",
		Filesize:  filesize,
		MimeType:  "application/octet-stream",
		ChunkSize: chunkSize,
		Retention: "1hr",
	}
}

func TestInitiate(t *testing.T) {
	ctx := context.Background()

	t.Run("rejects empty file", func(t *testing.T) {
		env := newTestEnv(t, Config{})
		_, err := env.manager.Initiate(ctx, validInit(0, 0))
		if !errors.Is(err, models.ErrEmptyFile) {
			t.Errorf("err = %v, want ErrEmptyFile", err)
		}
	})

	t.Run("rejects oversize file", func(t *testing.T) {
		env := newTestEnv(t, Config{MaxFileSize: 1024})
		_, err := env.manager.Initiate(ctx, validInit(1025, 0))
		if !errors.Is(err, models.ErrFileTooLarge) {
			t.Errorf("err = %v, want ErrFileTooLarge", err)
		}
	})

	t.Run("accepts boundary filesize", func(t *testing.T) {
		env := newTestEnv(t, Config{MaxFileSize: 1024})
		session, err := env.manager.Initiate(ctx, validInit(1024, 0))
		if err != nil {
			t.Fatalf("Initiate at the limit: %v", err)
		}
		if session.TotalChunks != 1 {
			t.Errorf("total chunks = %d, want 1", session.TotalChunks)
		}
	})

	t.Run("rejects unknown retention", func(t *testing.T) {
		env := newTestEnv(t, Config{})
		req := validInit(100, 0)
		req.Retention = "forever"
		_, err := env.manager.Initiate(ctx, req)
		if !errors.Is(err, models.ErrInvalidRetention) {
			t.Errorf("err = %v, want ErrInvalidRetention", err)
		}
	})

	t.Run("computes chunk count", func(t *testing.T) {
		env := newTestEnv(t, Config{})
		session, err := env.manager.Initiate(ctx, validInit(2500, 1000))
		if err != nil {
			t.Fatal(err)
		}
		if session.TotalChunks != 3 {
			t.Errorf("total chunks = %d, want 3", session.TotalChunks)
		}
		if len(session.UploadID) != 32 {
			t.Errorf("upload ID length = %d, want 32", len(session.UploadID))
		}
		if session.Status != models.SessionUploading {
			t.Errorf("status = %q, want uploading", session.Status)
		}
	})

	t.Run("sanitizes filename", func(t *testing.T) {
		env := newTestEnv(t, Config{})
		req := validInit(100, 0)
		req.Filename = "../../../etc/passwd"
		session, err := env.manager.Initiate(ctx, req)
		if err != nil {
			t.Fatal(err)
		}
		if session.OriginalFilename != "passwd" {
			t.Errorf("filename = %q, want passwd", session.OriginalFilename)
		}
	})
}

func TestReceiveChunk(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown session", func(t *testing.T) {
		env := newTestEnv(t, Config{})
		_, err := env.manager.ReceiveChunk(ctx, strings.Repeat("0", 32), 0, strings.NewReader("x"))
		if !errors.Is(err, models.ErrSessionNotFound) {
			t.Errorf("err = %v, want ErrSessionNotFound", err)
		}
	})

	t.Run("chunk number out of range", func(t *testing.T) {
		env := newTestEnv(t, Config{})
		session, err := env.manager.Initiate(ctx, validInit(100, 0))
		if err != nil {
			t.Fatal(err)
		}
		if _, err := env.manager.ReceiveChunk(ctx, session.UploadID, 1, strings.NewReader("x")); !errors.Is(err, models.ErrInvalidChunkNumber) {
			t.Errorf("err = %v, want ErrInvalidChunkNumber", err)
		}
	})

	t.Run("wrong size rejected without altering state", func(t *testing.T) {
		env := newTestEnv(t, Config{})
		session, err := env.manager.Initiate(ctx, validInit(10, 10))
		if err != nil {
			t.Fatal(err)
		}

		good := strings.Repeat("a", 10)
		if _, err := env.manager.ReceiveChunk(ctx, session.UploadID, 0, strings.NewReader(good)); err != nil {
			t.Fatal(err)
		}

		_, err = env.manager.ReceiveChunk(ctx, session.UploadID, 0, strings.NewReader("short"))
		if !errors.Is(err, models.ErrInvalidChunkSize) {
			t.Fatalf("err = %v, want ErrInvalidChunkSize", err)
		}

		// The previously stored chunk is intact and the counters unchanged.
		rc, err := env.chunks.ReadChunk(session.UploadID, 0)
		if err != nil {
			t.Fatal(err)
		}
		defer rc.Close()
		got, _ := io.ReadAll(rc)
		if string(got) != good {
			t.Errorf("chunk content = %q, want the original payload", got)
		}
		refreshed, err := env.store.GetSession(ctx, session.UploadID)
		if err != nil {
			t.Fatal(err)
		}
		if refreshed.UploadedChunks != 1 {
			t.Errorf("uploaded chunks = %d, want 1", refreshed.UploadedChunks)
		}
	})

	t.Run("oversize body rejected", func(t *testing.T) {
		env := newTestEnv(t, Config{})
		session, err := env.manager.Initiate(ctx, validInit(10, 10))
		if err != nil {
			t.Fatal(err)
		}
		_, err = env.manager.ReceiveChunk(ctx, session.UploadID, 0, strings.NewReader(strings.Repeat("a", 20)))
		if !errors.Is(err, models.ErrInvalidChunkSize) {
			t.Errorf("err = %v, want ErrInvalidChunkSize", err)
		}
	})

	t.Run("idempotent re-upload", func(t *testing.T) {
		env := newTestEnv(t, Config{})
		session, err := env.manager.Initiate(ctx, validInit(10, 10))
		if err != nil {
			t.Fatal(err)
		}

		payload := strings.Repeat("a", 10)
		first, err := env.manager.ReceiveChunk(ctx, session.UploadID, 0, strings.NewReader(payload))
		if err != nil {
			t.Fatal(err)
		}
		second, err := env.manager.ReceiveChunk(ctx, session.UploadID, 0, strings.NewReader(payload))
		if err != nil {
			t.Fatal(err)
		}
		if first.Uploaded != 1 || second.Uploaded != 1 {
			t.Errorf("uploaded counts = %d then %d, want 1 and 1", first.Uploaded, second.Uploaded)
		}
	})

	t.Run("expired session", func(t *testing.T) {
		env := newTestEnv(t, Config{TTL: time.Millisecond})
		session, err := env.manager.Initiate(ctx, validInit(10, 10))
		if err != nil {
			t.Fatal(err)
		}
		time.Sleep(5 * time.Millisecond)
		_, err = env.manager.ReceiveChunk(ctx, session.UploadID, 0, strings.NewReader(strings.Repeat("a", 10)))
		if !errors.Is(err, models.ErrSessionExpired) {
			t.Errorf("err = %v, want ErrSessionExpired", err)
		}
	})
}

func TestComplete(t *testing.T) {
	ctx := context.Background()

	upload := func(t *testing.T, env *testEnv, session *models.UploadSession, order []int, payload string) {
		t.Helper()
		for _, n := range order {
			start := int64(n) * session.ChunkSize
			end := start + session.ChunkSize
			if end > int64(len(payload)) {
				end = int64(len(payload))
			}
			if _, err := env.manager.ReceiveChunk(ctx, session.UploadID, n, strings.NewReader(payload[start:end])); err != nil {
				t.Fatalf("chunk %d: %v", n, err)
			}
		}
	}

	t.Run("incomplete session", func(t *testing.T) {
		env := newTestEnv(t, Config{})
		session, err := env.manager.Initiate(ctx, validInit(20, 10))
		if err != nil {
			t.Fatal(err)
		}
		upload(t, env, session, []int{0}, strings.Repeat("a", 20))

		_, err = env.manager.Complete(ctx, session.UploadID)
		if !errors.Is(err, models.ErrSessionIncomplete) {
			t.Errorf("err = %v, want ErrSessionIncomplete", err)
		}
	})

	t.Run("assembles chunks uploaded in reverse order", func(t *testing.T) {
		env := newTestEnv(t, Config{})
		payload := strings.Repeat("a", 10) + strings.Repeat("b", 10) + strings.Repeat("c", 5)
		session, err := env.manager.Initiate(ctx, validInit(int64(len(payload)), 10))
		if err != nil {
			t.Fatal(err)
		}
		upload(t, env, session, []int{2, 1, 0}, payload)

		clip, err := env.manager.Complete(ctx, session.UploadID)
		if err != nil {
			t.Fatalf("Complete: %v", err)
		}
		if len(clip.ClipID) != models.EnhancedIDLength {
			t.Errorf("clip ID length = %d, want %d", len(clip.ClipID), models.EnhancedIDLength)
		}

		rc, err := env.blobs.Open(clip.ClipID)
		if err != nil {
			t.Fatalf("blob missing: %v", err)
		}
		defer rc.Close()
		got, _ := io.ReadAll(rc)
		if !bytes.Equal(got, []byte(payload)) {
			t.Errorf("assembled blob does not match the uploaded payload")
		}

		// Session and chunk files are gone.
		if _, err := env.store.GetSession(ctx, session.UploadID); !errors.Is(err, models.ErrSessionNotFound) {
			t.Errorf("session survived completion: %v", err)
		}
		if exists, _ := env.chunks.ChunkExists(session.UploadID, 0); exists {
			t.Error("chunk files survived completion")
		}
	})

	t.Run("carries flags onto the clip", func(t *testing.T) {
		env := newTestEnv(t, Config{})
		req := validInit(10, 10)
		req.OneTime = true
		req.QuickShare = true
		req.HasPassword = true
		req.AccessCodeHash = strings.Repeat("ab", 32)
		session, err := env.manager.Initiate(ctx, req)
		if err != nil {
			t.Fatal(err)
		}
		upload(t, env, session, []int{0}, strings.Repeat("a", 10))

		before := time.Now().Add(time.Hour).UnixMilli()
		clip, err := env.manager.Complete(ctx, session.UploadID)
		if err != nil {
			t.Fatal(err)
		}
		after := time.Now().Add(time.Hour).UnixMilli()

		if len(clip.ClipID) != models.QuickIDLength {
			t.Errorf("quick share clip ID length = %d, want %d", len(clip.ClipID), models.QuickIDLength)
		}
		if !clip.OneTime || clip.MaxAccesses != 1 {
			t.Error("one-time flag not carried over")
		}
		if !clip.HasPassword() {
			t.Error("password sentinel not set")
		}
		if !clip.RequiresAccessCode || clip.AccessCodeHash == nil {
			t.Error("access code hash not carried over")
		}
		if clip.ExpirationTime < before || clip.ExpirationTime > after {
			t.Errorf("expiration %d outside [%d, %d]: retention must start at completion",
				clip.ExpirationTime, before, after)
		}
	})

	t.Run("size mismatch keeps the session recoverable", func(t *testing.T) {
		env := newTestEnv(t, Config{})
		payload := strings.Repeat("a", 10) + strings.Repeat("b", 10)
		session, err := env.manager.Initiate(ctx, validInit(20, 10))
		if err != nil {
			t.Fatal(err)
		}
		upload(t, env, session, []int{0, 1}, payload)

		// Corrupt a recorded chunk on disk so assembly comes up short.
		chunkPath := filepath.Join(env.chunks.Root(), session.UploadID, "chunk_1")
		if err := os.WriteFile(chunkPath, []byte("bbb"), 0o600); err != nil {
			t.Fatal(err)
		}

		_, err = env.manager.Complete(ctx, session.UploadID)
		if !errors.Is(err, models.ErrSizeMismatch) {
			t.Fatalf("err = %v, want ErrSizeMismatch", err)
		}

		// The session is still uploading and no blob was published.
		got, err := env.store.GetSession(ctx, session.UploadID)
		if err != nil {
			t.Fatalf("session gone after failed completion: %v", err)
		}
		if got.Status != models.SessionUploading {
			t.Errorf("session status = %q, want uploading", got.Status)
		}
		blobs, err := env.blobs.Blobs()
		if err != nil {
			t.Fatal(err)
		}
		if len(blobs) != 0 {
			t.Errorf("published %d blobs after size mismatch, want 0", len(blobs))
		}

		// Re-uploading the offending chunk lets the completion succeed.
		if _, err := env.manager.ReceiveChunk(ctx, session.UploadID, 1, strings.NewReader(payload[10:])); err != nil {
			t.Fatal(err)
		}
		clip, err := env.manager.Complete(ctx, session.UploadID)
		if err != nil {
			t.Fatalf("Complete after repair: %v", err)
		}
		rc, err := env.blobs.Open(clip.ClipID)
		if err != nil {
			t.Fatalf("blob missing: %v", err)
		}
		defer rc.Close()
		got2, _ := io.ReadAll(rc)
		if !bytes.Equal(got2, []byte(payload)) {
			t.Error("repaired blob does not match the uploaded payload")
		}
	})

	t.Run("completion is terminal", func(t *testing.T) {
		env := newTestEnv(t, Config{})
		session, err := env.manager.Initiate(ctx, validInit(10, 10))
		if err != nil {
			t.Fatal(err)
		}
		upload(t, env, session, []int{0}, strings.Repeat("a", 10))

		if _, err := env.manager.Complete(ctx, session.UploadID); err != nil {
			t.Fatal(err)
		}
		if _, err := env.manager.Complete(ctx, session.UploadID); !errors.Is(err, models.ErrSessionNotFound) {
			t.Errorf("second complete err = %v, want ErrSessionNotFound", err)
		}
	})
}

func TestAbort(t *testing.T) {
	ctx := context.Background()

	t.Run("removes session and chunks", func(t *testing.T) {
		env := newTestEnv(t, Config{})
		session, err := env.manager.Initiate(ctx, validInit(10, 10))
		if err != nil {
			t.Fatal(err)
		}
		if _, err := env.manager.ReceiveChunk(ctx, session.UploadID, 0, strings.NewReader(strings.Repeat("a", 10))); err != nil {
			t.Fatal(err)
		}

		if err := env.manager.Abort(ctx, session.UploadID); err != nil {
			t.Fatalf("Abort: %v", err)
		}
		if _, err := env.store.GetSession(ctx, session.UploadID); !errors.Is(err, models.ErrSessionNotFound) {
			t.Errorf("session survived abort: %v", err)
		}
		if exists, _ := env.chunks.ChunkExists(session.UploadID, 0); exists {
			t.Error("chunks survived abort")
		}
	})

	t.Run("unknown session", func(t *testing.T) {
		env := newTestEnv(t, Config{})
		err := env.manager.Abort(ctx, strings.Repeat("0", 32))
		if !errors.Is(err, models.ErrSessionNotFound) {
			t.Errorf("err = %v, want ErrSessionNotFound", err)
		}
	})
}
