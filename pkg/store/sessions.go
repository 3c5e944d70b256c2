package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/qopy-app/qopy/pkg/models"
)

// ============================================
// UPLOAD SESSION OPERATIONS
// ============================================

// CreateSession persists a new upload session row.
func (s *GORMStore) CreateSession(ctx context.Context, session *models.UploadSession) error {
	if err := s.db.WithContext(ctx).Create(session).Error; err != nil {
		if isUniqueConstraintError(err) {
			return models.ErrDuplicateSession
		}
		return err
	}
	return nil
}

// GetSession retrieves an upload session by its identifier.
func (s *GORMStore) GetSession(ctx context.Context, uploadID string) (*models.UploadSession, error) {
	var session models.UploadSession
	if err := s.db.WithContext(ctx).Where("upload_id = ?", uploadID).First(&session).Error; err != nil {
		return nil, convertNotFoundError(err, models.ErrSessionNotFound)
	}
	return &session, nil
}

// RecordChunk upserts a chunk row for (uploadID, chunkNumber) and returns the
// session's uploaded chunk count after the write.
//
// The operation is idempotent: re-recording an existing chunk overwrites its
// stored path and size without incrementing uploaded_chunks. The session's
// last_activity is advanced either way. The chunk row only becomes visible to
// completion once this transaction commits.
func (s *GORMStore) RecordChunk(ctx context.Context, uploadID string, chunkNumber int, storagePath string, size int64) (int, error) {
	var uploaded int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var session models.UploadSession
		q := tx.Where("upload_id = ?", uploadID)
		if s.supportsRowLocks() {
			q = q.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		if err := q.First(&session).Error; err != nil {
			return convertNotFoundError(err, models.ErrSessionNotFound)
		}

		var existing models.FileChunk
		err := tx.Where("upload_id = ? AND chunk_number = ?", uploadID, chunkNumber).First(&existing).Error
		switch {
		case err == nil:
			// Idempotent retry: overwrite, don't double count.
			if err := tx.Model(&existing).Updates(map[string]any{
				"chunk_size":   size,
				"storage_path": storagePath,
			}).Error; err != nil {
				return err
			}
			uploaded = session.UploadedChunks

		case errors.Is(err, gorm.ErrRecordNotFound):
			chunk := models.FileChunk{
				UploadID:    uploadID,
				ChunkNumber: chunkNumber,
				ChunkSize:   size,
				StoragePath: storagePath,
			}
			if err := tx.Create(&chunk).Error; err != nil {
				return err
			}
			uploaded = session.UploadedChunks + 1

		default:
			return err
		}

		return tx.Model(&models.UploadSession{}).
			Where("upload_id = ?", uploadID).
			Updates(map[string]any{
				"uploaded_chunks": uploaded,
				"last_activity":   time.Now(),
			}).Error
	})
	if err != nil {
		return 0, err
	}
	return uploaded, nil
}

// MarkSessionFailed transitions a session to the failed state. The sweeper
// removes failed sessions and their chunk files on its next pass.
func (s *GORMStore) MarkSessionFailed(ctx context.Context, uploadID string) error {
	result := s.db.WithContext(ctx).
		Model(&models.UploadSession{}).
		Where("upload_id = ? AND status = ?", uploadID, models.SessionUploading).
		Update("status", models.SessionFailed)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		// Distinguish a missing session from one no longer uploading.
		if _, err := s.GetSession(ctx, uploadID); err != nil {
			return err
		}
		return models.ErrInvalidSessionState
	}
	return nil
}

// DeleteSession removes a session row and its chunk rows in one transaction.
func (s *GORMStore) DeleteSession(ctx context.Context, uploadID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("upload_id = ?", uploadID).Delete(&models.FileChunk{}).Error; err != nil {
			return err
		}
		result := tx.Where("upload_id = ?", uploadID).Delete(&models.UploadSession{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return models.ErrSessionNotFound
		}
		return nil
	})
}

// ListDeadSessions returns sessions past their expiration or marked failed,
// with chunk rows preloaded so callers can clean up the filesystem.
func (s *GORMStore) ListDeadSessions(ctx context.Context, nowMillis int64) ([]*models.UploadSession, error) {
	var sessions []*models.UploadSession
	err := s.db.WithContext(ctx).
		Preload("Chunks").
		Where("expiration_time < ? OR status = ?", nowMillis, models.SessionFailed).
		Find(&sessions).Error
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

// SessionChunkNumbers returns the distinct chunk numbers recorded for a
// session, in ascending order.
func (s *GORMStore) SessionChunkNumbers(ctx context.Context, uploadID string) ([]int, error) {
	var numbers []int
	err := s.db.WithContext(ctx).
		Model(&models.FileChunk{}).
		Where("upload_id = ?", uploadID).
		Order("chunk_number ASC").
		Pluck("chunk_number", &numbers).Error
	if err != nil {
		return nil, err
	}
	return numbers, nil
}
