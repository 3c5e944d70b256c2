//go:build integration

package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/qopy-app/qopy/pkg/models"
)

// Shared container connection string for all integration tests.
var postgresURL string

// TestMain sets up a shared PostgreSQL container for all integration tests.
func TestMain(m *testing.M) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_DB":       "qopy_test",
			"POSTGRES_USER":     "qopy_test",
			"POSTGRES_PASSWORD": "qopy_test",
		},
		WaitingFor: wait.ForAll(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
			wait.ForListeningPort("5432/tcp"),
		),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start postgres container: %v\n", err)
		os.Exit(1)
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		fmt.Fprintf(os.Stderr, "failed to get container host: %v\n", err)
		os.Exit(1)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		_ = container.Terminate(ctx)
		fmt.Fprintf(os.Stderr, "failed to get container port: %v\n", err)
		os.Exit(1)
	}

	postgresURL = fmt.Sprintf("postgres://qopy_test:qopy_test@%s:%s/qopy_test?sslmode=disable",
		host, port.Port())

	exitCode := m.Run()

	if err := container.Terminate(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "failed to terminate container: %v\n", err)
	}
	os.Exit(exitCode)
}

func newPostgresStore(t *testing.T) *GORMStore {
	t.Helper()
	st, err := New(&Config{URL: postgresURL})
	if err != nil {
		t.Fatalf("failed to create postgres store: %v", err)
	}
	t.Cleanup(func() {
		// Each test starts from clean tables; the schema persists.
		for _, table := range []string{"file_chunks", "upload_sessions", "clips", "daily_stats"} {
			st.DB().Exec("DELETE FROM " + table)
		}
		_ = st.Close()
	})
	return st
}

func TestPostgresConsumeOneTimeRace(t *testing.T) {
	ctx := context.Background()
	st := newPostgresStore(t)

	clip := &models.Clip{
		ClipID:         "AB12",
		ContentType:    models.ContentTypeFile,
		FilePath:       "/blobs/AB12",
		Filesize:       2048,
		OneTime:        true,
		MaxAccesses:    1,
		ExpirationTime: time.Now().Add(time.Hour).UnixMilli(),
	}
	if err := st.CreateClip(ctx, clip); err != nil {
		t.Fatal(err)
	}

	const callers = 16
	var wg sync.WaitGroup
	var winners, gone int
	var mu sync.Mutex
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := st.ConsumeOneTime(ctx, "AB12")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners++
			case errors.Is(err, models.ErrClipGone):
				gone++
			default:
				t.Errorf("unexpected consume error: %v", err)
			}
		}()
	}
	wg.Wait()

	if winners != 1 {
		t.Errorf("winners = %d, want exactly 1 (row lock linearizes the delete)", winners)
	}
	if gone != callers-1 {
		t.Errorf("gone = %d, want %d", gone, callers-1)
	}
}

func TestPostgresPublishClip(t *testing.T) {
	ctx := context.Background()
	st := newPostgresStore(t)

	session := &models.UploadSession{
		UploadID:       "00112233445566778899aabbccddeeff",
		Filesize:       1024,
		ChunkSize:      1024,
		TotalChunks:    1,
		Status:         models.SessionUploading,
		Retention:      "1hr",
		ExpirationTime: time.Now().Add(time.Hour).UnixMilli(),
		LastActivity:   time.Now(),
	}
	if err := st.CreateSession(ctx, session); err != nil {
		t.Fatal(err)
	}
	if _, err := st.RecordChunk(ctx, session.UploadID, 0, "/tmp/chunk", 1024); err != nil {
		t.Fatal(err)
	}

	clip := &models.Clip{
		ClipID:         "CD34",
		ContentType:    models.ContentTypeFile,
		FilePath:       "/blobs/CD34",
		Filesize:       1024,
		ExpirationTime: time.Now().Add(time.Hour).UnixMilli(),
	}
	if err := st.PublishClip(ctx, clip, session.UploadID); err != nil {
		t.Fatalf("PublishClip: %v", err)
	}

	if _, err := st.GetSession(ctx, session.UploadID); !errors.Is(err, models.ErrSessionNotFound) {
		t.Errorf("session survived publish: %v", err)
	}
	if _, err := st.GetClip(ctx, "CD34"); err != nil {
		t.Errorf("GetClip after publish: %v", err)
	}
}
