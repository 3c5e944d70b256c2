// Package models defines the persistent entities of the qopy server: upload
// sessions, their chunks, published clips, and aggregate statistics.
package models

// AllModels returns all GORM models for auto-migration.
func AllModels() []any {
	return []any{
		&UploadSession{},
		&FileChunk{},
		&Clip{},
		&Statistics{},
		&DailyStat{},
	}
}
