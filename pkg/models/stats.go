package models

import "time"

// Statistics is the singleton row of aggregate counters. It is updated by
// post-commit increments from the upload manager, the clip service, and the
// sweeper; it is never read on the hot path.
type Statistics struct {
	ID           int       `gorm:"primaryKey" json:"-"`
	TotalUploads int64     `gorm:"default:0" json:"total_uploads"`
	TotalClips   int64     `gorm:"default:0" json:"total_clips"`
	TotalBytes   int64     `gorm:"default:0" json:"total_bytes"`
	TotalAccess  int64     `gorm:"default:0" json:"total_access"`
	SweptClips   int64     `gorm:"default:0" json:"swept_clips"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for Statistics.
func (Statistics) TableName() string {
	return "statistics"
}

// DailyStat counts uploads per calendar day (UTC, "2006-01-02").
type DailyStat struct {
	Day     string `gorm:"primaryKey;size:10" json:"day"`
	Uploads int64  `gorm:"default:0" json:"uploads"`
}

// TableName returns the table name for DailyStat.
func (DailyStat) TableName() string {
	return "daily_stats"
}
