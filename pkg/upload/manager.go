// Package upload implements the multipart upload state machine: initiate,
// receive chunk, complete, abort. It coordinates the chunk store, the
// metadata store, and the blob store.
package upload

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/qopy-app/qopy/internal/logger"
	"github.com/qopy-app/qopy/pkg/clipid"
	"github.com/qopy-app/qopy/pkg/metrics"
	"github.com/qopy-app/qopy/pkg/models"
	"github.com/qopy-app/qopy/pkg/storage"
	"github.com/qopy-app/qopy/pkg/store"
)

// Config tunes the upload manager.
type Config struct {
	// MaxFileSize caps the declared session filesize. Default 100 MiB.
	MaxFileSize int64

	// DefaultChunkSize is used when the client does not pick one. Default 5 MiB.
	DefaultChunkSize int64

	// TTL is how long an incomplete session may live. Default 1 hour.
	TTL time.Duration

	// MaxConcurrent caps in-flight chunk and completion requests across all
	// sessions. Default 64. The manager never queues past the cap.
	MaxConcurrent int
}

// ApplyDefaults fills in zero values.
func (c *Config) ApplyDefaults() {
	if c.MaxFileSize == 0 {
		c.MaxFileSize = 100 << 20
	}
	if c.DefaultChunkSize == 0 {
		c.DefaultChunkSize = 5 << 20
	}
	if c.TTL == 0 {
		c.TTL = time.Hour
	}
	if c.MaxConcurrent == 0 {
		c.MaxConcurrent = 64
	}
}

// Manager drives upload sessions through their state machine.
type Manager struct {
	config Config
	store  *store.GORMStore
	chunks *storage.ChunkStore
	blobs  *storage.BlobStore

	chunkMu *keyedMutex
	slots   chan struct{}
}

// NewManager creates an upload manager.
func NewManager(config Config, st *store.GORMStore, chunks *storage.ChunkStore, blobs *storage.BlobStore) *Manager {
	config.ApplyDefaults()
	return &Manager{
		config:  config,
		store:   st,
		chunks:  chunks,
		blobs:   blobs,
		chunkMu: newKeyedMutex(),
		slots:   make(chan struct{}, config.MaxConcurrent),
	}
}

// acquireSlot claims a concurrency slot without queuing.
func (m *Manager) acquireSlot() (func(), error) {
	select {
	case m.slots <- struct{}{}:
		return func() { <-m.slots }, nil
	default:
		return nil, models.ErrServerBusy
	}
}

// InitRequest carries the parameters of an upload initiation.
type InitRequest struct {
	Filename       string
	Filesize       int64
	MimeType       string
	ChunkSize      int64 // 0 = server default
	OneTime        bool
	QuickShare     bool
	IsTextContent  bool
	HasPassword    bool
	AccessCodeHash string
	Retention      string
}

// Initiate validates the request, persists a fresh session in the uploading
// state, and returns it. Two identical calls create two independent sessions.
func (m *Manager) Initiate(ctx context.Context, req InitRequest) (*models.UploadSession, error) {
	if req.Filesize <= 0 {
		return nil, models.ErrEmptyFile
	}
	if req.Filesize > m.config.MaxFileSize {
		return nil, models.ErrFileTooLarge
	}
	if !models.ValidRetention(req.Retention) {
		return nil, models.ErrInvalidRetention
	}

	chunkSize := req.ChunkSize
	if chunkSize <= 0 {
		chunkSize = m.config.DefaultChunkSize
	}
	if chunkSize > m.config.MaxFileSize {
		chunkSize = m.config.MaxFileSize
	}

	uploadID, err := newUploadID()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	session := &models.UploadSession{
		UploadID:         uploadID,
		OriginalFilename: SanitizeFilename(req.Filename),
		MimeType:         req.MimeType,
		Filesize:         req.Filesize,
		ChunkSize:        chunkSize,
		TotalChunks:      int((req.Filesize + chunkSize - 1) / chunkSize),
		Status:           models.SessionUploading,
		HasPassword:      req.HasPassword,
		AccessCodeHash:   req.AccessCodeHash,
		OneTime:          req.OneTime,
		QuickShare:       req.QuickShare,
		IsTextContent:    req.IsTextContent,
		Retention:        req.Retention,
		ExpirationTime:   now.Add(m.config.TTL).UnixMilli(),
		LastActivity:     now,
	}

	if err := m.store.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("creating upload session: %w", err)
	}

	metrics.UploadsInitiated.Inc()
	if err := m.store.RecordUpload(ctx, req.Filesize, now); err != nil {
		logger.Warn("failed to record upload statistics", logger.KeyUploadID, uploadID, logger.KeyError, err)
	}

	logger.Debug("upload session initiated",
		logger.KeyUploadID, uploadID,
		logger.KeyFilename, session.OriginalFilename,
		logger.KeySize, req.Filesize,
		logger.KeyChunk, session.TotalChunks,
	)
	return session, nil
}

// ChunkProgress reports a session's chunk counters after a write.
type ChunkProgress struct {
	Uploaded int
	Total    int
}

// ReceiveChunk streams one chunk body into the chunk store and records it.
//
// The operation is idempotent: re-sending a chunk overwrites the stored file
// and does not double-count uploaded_chunks. The last chunk must carry
// exactly the remaining bytes, every other chunk exactly chunk_size.
func (m *Manager) ReceiveChunk(ctx context.Context, uploadID string, n int, body io.Reader) (ChunkProgress, error) {
	release, err := m.acquireSlot()
	if err != nil {
		return ChunkProgress{}, err
	}
	defer release()

	session, err := m.store.GetSession(ctx, uploadID)
	if err != nil {
		return ChunkProgress{}, err
	}
	if session.Status != models.SessionUploading {
		return ChunkProgress{}, models.ErrInvalidSessionState
	}
	if session.ExpirationTime < time.Now().UnixMilli() {
		return ChunkProgress{}, models.ErrSessionExpired
	}
	if n < 0 || n >= session.TotalChunks {
		return ChunkProgress{}, models.ErrInvalidChunkNumber
	}

	expected := session.ChunkSize
	if n == session.TotalChunks-1 {
		expected = session.Filesize - int64(n)*session.ChunkSize
	}

	unlock := m.chunkMu.Lock(chunkKey(uploadID, n))
	defer unlock()

	path, _, err := m.chunks.WriteChunk(uploadID, n, io.LimitReader(body, expected+1), expected)
	if err != nil {
		if errors.Is(err, storage.ErrUnexpectedSize) {
			return ChunkProgress{}, models.ErrInvalidChunkSize
		}
		return ChunkProgress{}, fmt.Errorf("writing chunk %d: %w", n, err)
	}

	uploaded, err := m.store.RecordChunk(ctx, uploadID, n, path, expected)
	if err != nil {
		return ChunkProgress{}, fmt.Errorf("recording chunk %d: %w", n, err)
	}

	metrics.ChunksReceived.Inc()
	return ChunkProgress{Uploaded: uploaded, Total: session.TotalChunks}, nil
}

// Complete assembles the session's chunks into a blob, publishes the clip,
// and removes the session. The clip ID allocation and the publish are one
// unit: the conditional clip insert is the reservation, and a collision rolls
// the whole transaction back, releasing the ID and the blob for a retry with
// a fresh draw.
//
// A size mismatch between the assembled blob and the declared filesize
// aborts the completion with ErrSizeMismatch; the session stays in the
// uploading state and the offending chunk can be re-uploaded.
func (m *Manager) Complete(ctx context.Context, uploadID string) (*models.Clip, error) {
	release, err := m.acquireSlot()
	if err != nil {
		return nil, err
	}
	defer release()

	session, err := m.store.GetSession(ctx, uploadID)
	if err != nil {
		return nil, err
	}
	if session.Status != models.SessionUploading {
		return nil, models.ErrInvalidSessionState
	}
	if session.ExpirationTime < time.Now().UnixMilli() {
		return nil, models.ErrSessionExpired
	}
	if session.UploadedChunks != session.TotalChunks {
		return nil, models.ErrSessionIncomplete
	}

	retention, err := models.RetentionDuration(session.Retention)
	if err != nil {
		return nil, err
	}

	var published *models.Clip
	kind := clipid.KindFor(session.QuickShare)

	clipID, err := clipid.Allocate(ctx, kind, func(ctx context.Context, candidate string) error {
		clip, err := m.assembleAndPublish(ctx, session, candidate, retention)
		if err != nil {
			return err
		}
		published = clip
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Chunk files are already unreferenced; the sweeper repairs any
	// leftovers if this cleanup is interrupted.
	if err := m.chunks.DeleteSession(uploadID); err != nil {
		logger.Warn("failed to remove chunk directory after completion",
			logger.KeyUploadID, uploadID, logger.KeyError, err)
	}

	metrics.UploadsCompleted.Inc()
	metrics.UploadBytes.Observe(float64(session.Filesize))
	contentType := models.ContentTypeFile
	if session.IsTextContent {
		contentType = models.ContentTypeText
	}
	metrics.ClipsCreated.WithLabelValues(contentType).Inc()
	if err := m.store.RecordClipCreated(ctx); err != nil {
		logger.Warn("failed to record clip statistics", logger.KeyClipID, clipID, logger.KeyError, err)
	}

	logger.Info("upload completed",
		logger.KeyUploadID, uploadID,
		logger.KeyClipID, clipID,
		logger.KeyContentType, contentType,
		logger.KeySize, session.Filesize,
	)
	return published, nil
}

// assembleAndPublish is one allocation attempt for a candidate clip ID:
// stream the chunks into a blob under the candidate, verify the size, then
// insert the clip row and delete the session in one transaction. On any
// failure the blob is removed so a retry starts clean.
func (m *Manager) assembleAndPublish(ctx context.Context, session *models.UploadSession, clipID string, retention time.Duration) (*models.Clip, error) {
	pr, pw := io.Pipe()
	copyDone := make(chan error, 1)
	go func() {
		written, err := m.chunks.Concatenate(session.UploadID, session.TotalChunks, pw)
		if err == nil && written != session.Filesize {
			err = fmt.Errorf("%w: assembled %d bytes, declared %d",
				models.ErrSizeMismatch, written, session.Filesize)
		}
		pw.CloseWithError(err)
		copyDone <- err
	}()

	path, written, err := m.blobs.Put(clipID, pr)
	if err != nil {
		// Unblock the concatenating goroutine if the blob write died first.
		_ = pr.CloseWithError(err)
	}
	concatErr := <-copyDone
	if err != nil || concatErr != nil {
		_ = m.blobs.Delete(clipID)
		if concatErr != nil {
			return nil, concatErr
		}
		return nil, fmt.Errorf("storing blob: %w", err)
	}
	if written != session.Filesize {
		_ = m.blobs.Delete(clipID)
		return nil, fmt.Errorf("%w: stored %d bytes, declared %d",
			models.ErrSizeMismatch, written, session.Filesize)
	}

	now := time.Now()
	contentType := models.ContentTypeFile
	if session.IsTextContent {
		contentType = models.ContentTypeText
	}

	clip := &models.Clip{
		ClipID:           clipID,
		ContentType:      contentType,
		FilePath:         path,
		OriginalFilename: session.OriginalFilename,
		MimeType:         session.MimeType,
		Filesize:         session.Filesize,
		OneTime:          session.OneTime,
		QuickShare:       session.QuickShare,
		ExpirationTime:   now.Add(retention).UnixMilli(),
		MaxAccesses:      maxAccessesFor(session.OneTime),
	}
	if session.HasPassword {
		sentinel := models.PasswordSentinel
		clip.PasswordHash = &sentinel
	}
	if session.AccessCodeHash != "" {
		hash := session.AccessCodeHash
		clip.AccessCodeHash = &hash
		clip.RequiresAccessCode = true
	}

	if err := m.store.PublishClip(ctx, clip, session.UploadID); err != nil {
		_ = m.blobs.Delete(clipID)
		return nil, err
	}
	return clip, nil
}

// Abort transitions a session to failed and removes its chunks and row.
func (m *Manager) Abort(ctx context.Context, uploadID string) error {
	if err := m.store.MarkSessionFailed(ctx, uploadID); err != nil {
		return err
	}
	if err := m.chunks.DeleteSession(uploadID); err != nil {
		logger.Warn("failed to remove chunk directory on abort",
			logger.KeyUploadID, uploadID, logger.KeyError, err)
	}
	if err := m.store.DeleteSession(ctx, uploadID); err != nil && !errors.Is(err, models.ErrSessionNotFound) {
		return err
	}
	metrics.UploadsAborted.Inc()
	logger.Debug("upload session aborted", logger.KeyUploadID, uploadID)
	return nil
}

func maxAccessesFor(oneTime bool) int64 {
	if oneTime {
		return 1
	}
	return 0
}

// newUploadID returns 16 random bytes rendered as 32 hex characters.
func newUploadID() (string, error) {
	var raw [16]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", fmt.Errorf("generating upload ID: %w", err)
	}
	return hex.EncodeToString(raw[:]), nil
}
