package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/qopy-app/qopy/pkg/models"
)

// ============================================
// STATISTICS
// ============================================

const statisticsRowID = 1

// ensureStatistics seeds the singleton counters row if missing.
func (s *GORMStore) ensureStatistics(ctx context.Context) error {
	var stats models.Statistics
	err := s.db.WithContext(ctx).Where("id = ?", statisticsRowID).First(&stats).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return s.db.WithContext(ctx).Create(&models.Statistics{ID: statisticsRowID}).Error
	}
	return err
}

// GetStatistics returns the aggregate counters row.
func (s *GORMStore) GetStatistics(ctx context.Context) (*models.Statistics, error) {
	var stats models.Statistics
	if err := s.db.WithContext(ctx).Where("id = ?", statisticsRowID).First(&stats).Error; err != nil {
		return nil, err
	}
	return &stats, nil
}

// ListDailyStats returns per-day upload counters, newest first, capped at days.
func (s *GORMStore) ListDailyStats(ctx context.Context, days int) ([]*models.DailyStat, error) {
	var stats []*models.DailyStat
	q := s.db.WithContext(ctx).Order("day DESC")
	if days > 0 {
		q = q.Limit(days)
	}
	if err := q.Find(&stats).Error; err != nil {
		return nil, err
	}
	return stats, nil
}

// RecordUpload bumps the upload counters: total uploads, total bytes, and the
// per-day counter for the given moment (UTC day).
func (s *GORMStore) RecordUpload(ctx context.Context, bytes int64, at time.Time) error {
	day := at.UTC().Format("2006-01-02")
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Statistics{}).
			Where("id = ?", statisticsRowID).
			Updates(map[string]any{
				"total_uploads": gorm.Expr("total_uploads + 1"),
				"total_bytes":   gorm.Expr("total_bytes + ?", bytes),
			}).Error; err != nil {
			return err
		}

		result := tx.Model(&models.DailyStat{}).
			Where("day = ?", day).
			Update("uploads", gorm.Expr("uploads + 1"))
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return tx.Create(&models.DailyStat{Day: day, Uploads: 1}).Error
		}
		return nil
	})
}

// RecordClipCreated bumps the published clip counter.
func (s *GORMStore) RecordClipCreated(ctx context.Context) error {
	return s.db.WithContext(ctx).Model(&models.Statistics{}).
		Where("id = ?", statisticsRowID).
		Update("total_clips", gorm.Expr("total_clips + 1")).Error
}

// RecordAccess bumps the clip access counter.
func (s *GORMStore) RecordAccess(ctx context.Context) error {
	return s.db.WithContext(ctx).Model(&models.Statistics{}).
		Where("id = ?", statisticsRowID).
		Update("total_access", gorm.Expr("total_access + 1")).Error
}

// RecordSweptClips adds to the swept clip counter.
func (s *GORMStore) RecordSweptClips(ctx context.Context, n int64) error {
	if n == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Model(&models.Statistics{}).
		Where("id = ?", statisticsRowID).
		Update("swept_clips", gorm.Expr("swept_clips + ?", n)).Error
}
