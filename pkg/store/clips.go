package store

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/qopy-app/qopy/pkg/models"
)

// ============================================
// CLIP OPERATIONS
// ============================================

// PublishClip atomically inserts a clip row and removes the originating
// upload session together with its chunk rows.
//
// The session is re-read under a row lock inside the transaction: it must
// still be in the uploading state with all chunks recorded, otherwise the
// transaction aborts with ErrInvalidSessionState or ErrSessionIncomplete.
// A clip_id collision surfaces as ErrDuplicateClip so the caller can retry
// with a fresh identifier; the whole transaction rolls back, releasing the
// reserved ID.
func (s *GORMStore) PublishClip(ctx context.Context, clip *models.Clip, uploadID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var session models.UploadSession
		q := tx.Where("upload_id = ?", uploadID)
		if s.supportsRowLocks() {
			q = q.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		if err := q.First(&session).Error; err != nil {
			return convertNotFoundError(err, models.ErrSessionNotFound)
		}
		if session.Status != models.SessionUploading {
			return models.ErrInvalidSessionState
		}
		if session.UploadedChunks != session.TotalChunks {
			return models.ErrSessionIncomplete
		}

		if err := tx.Create(clip).Error; err != nil {
			if isUniqueConstraintError(err) {
				return models.ErrDuplicateClip
			}
			return err
		}

		if err := tx.Where("upload_id = ?", uploadID).Delete(&models.FileChunk{}).Error; err != nil {
			return err
		}
		return tx.Where("upload_id = ?", uploadID).Delete(&models.UploadSession{}).Error
	})
}

// CreateClip inserts a standalone clip row (text clips that bypass the
// chunked upload path). Collisions surface as ErrDuplicateClip.
func (s *GORMStore) CreateClip(ctx context.Context, clip *models.Clip) error {
	if err := s.db.WithContext(ctx).Create(clip).Error; err != nil {
		if isUniqueConstraintError(err) {
			return models.ErrDuplicateClip
		}
		return err
	}
	return nil
}

// GetClip retrieves a live clip. Expired rows (marked or past their
// expiration time) are reported as ErrClipNotFound; they are invisible to
// reads even before the sweeper has advanced is_expired.
func (s *GORMStore) GetClip(ctx context.Context, clipID string) (*models.Clip, error) {
	var clip models.Clip
	if err := s.db.WithContext(ctx).Where("clip_id = ?", clipID).First(&clip).Error; err != nil {
		return nil, convertNotFoundError(err, models.ErrClipNotFound)
	}
	if clip.IsExpired || clip.ExpirationTime < time.Now().UnixMilli() {
		return nil, models.ErrClipNotFound
	}
	return &clip, nil
}

// ConsumeOneTime atomically reads and deletes a one-time clip.
//
// The row delete under the FOR UPDATE lock is the linearization point: for
// any set of concurrent callers exactly one receives the clip, all others get
// ErrClipGone. Callers must not emulate this with separate statements.
func (s *GORMStore) ConsumeOneTime(ctx context.Context, clipID string) (*models.Clip, error) {
	var clip models.Clip
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Where("clip_id = ?", clipID)
		if s.supportsRowLocks() {
			q = q.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		if err := q.First(&clip).Error; err != nil {
			return convertNotFoundError(err, models.ErrClipGone)
		}

		result := tx.Where("clip_id = ?", clipID).Delete(&models.Clip{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			// Another reader won the race between lock release and delete.
			return models.ErrClipGone
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &clip, nil
}

// IncrementAccess bumps a clip's access counter and access timestamp.
func (s *GORMStore) IncrementAccess(ctx context.Context, clipID string, now time.Time) error {
	result := s.db.WithContext(ctx).
		Model(&models.Clip{}).
		Where("clip_id = ?", clipID).
		Updates(map[string]any{
			"access_count": gorm.Expr("access_count + 1"),
			"accessed_at":  now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrClipNotFound
	}
	return nil
}

// ExpireOverdueClips marks clips past their expiration as expired and returns
// every overdue row so the caller can remove their blobs. Rows already marked
// on an earlier pass are included again: they leave the result set only once
// the caller deletes them, so an interrupted cleanup is retried instead of
// leaking the row and its blob.
func (s *GORMStore) ExpireOverdueClips(ctx context.Context, nowMillis int64) ([]*models.Clip, error) {
	var overdue []*models.Clip
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.
			Where("expiration_time < ?", nowMillis).
			Find(&overdue).Error; err != nil {
			return err
		}
		if len(overdue) == 0 {
			return nil
		}
		return tx.Model(&models.Clip{}).
			Where("expiration_time < ? AND is_expired = ?", nowMillis, false).
			Update("is_expired", true).Error
	})
	if err != nil {
		return nil, err
	}
	return overdue, nil
}

// DeleteClip removes a clip row.
func (s *GORMStore) DeleteClip(ctx context.Context, clipID string) error {
	result := s.db.WithContext(ctx).Where("clip_id = ?", clipID).Delete(&models.Clip{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrClipNotFound
	}
	return nil
}

// ListClips returns all clip rows, newest first. Admin use only.
func (s *GORMStore) ListClips(ctx context.Context) ([]*models.Clip, error) {
	var clips []*models.Clip
	if err := s.db.WithContext(ctx).Order("created_at DESC").Find(&clips).Error; err != nil {
		return nil, err
	}
	return clips, nil
}

// LiveClipIDs returns the set of existing clip IDs, used by the sweeper to
// detect orphaned blob files.
func (s *GORMStore) LiveClipIDs(ctx context.Context) (map[string]struct{}, error) {
	var ids []string
	if err := s.db.WithContext(ctx).Model(&models.Clip{}).Pluck("clip_id", &ids).Error; err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set, nil
}

// LiveSessionIDs returns the set of existing upload session IDs, used by the
// sweeper to detect orphaned chunk directories.
func (s *GORMStore) LiveSessionIDs(ctx context.Context) (map[string]struct{}, error) {
	var ids []string
	if err := s.db.WithContext(ctx).Model(&models.UploadSession{}).Pluck("upload_id", &ids).Error; err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set, nil
}
