package models

import "time"

// Upload session status values. A session starts as uploading and either
// completes (terminal; the session row is removed together with its chunks),
// fails via abort, or expires via the sweeper.
const (
	SessionUploading = "uploading"
	SessionCompleted = "completed"
	SessionFailed    = "failed"
	SessionExpired   = "expired"
)

// UploadSession is the server-side state of an in-progress multipart upload.
//
// UploadID is a 16-byte random identifier rendered as 32 hex characters.
// ExpirationTime is unix milliseconds; a session past its expiration that
// never completed is removed by the sweeper.
type UploadSession struct {
	UploadID         string `gorm:"primaryKey;size:32" json:"upload_id"`
	OriginalFilename string `gorm:"size:255" json:"original_filename"`
	MimeType         string `gorm:"size:255" json:"mime_type"`
	Filesize         int64  `gorm:"not null" json:"filesize"`
	ChunkSize        int64  `gorm:"not null" json:"chunk_size"`
	TotalChunks      int    `gorm:"not null" json:"total_chunks"`
	UploadedChunks   int    `gorm:"not null;default:0" json:"uploaded_chunks"`
	Status           string `gorm:"not null;default:uploading;size:20" json:"status"`

	// HasPassword signals that the client encrypted the content with a user
	// passphrase. The server never sees the passphrase itself.
	HasPassword bool `gorm:"default:false" json:"has_password"`

	// AccessCodeHash is the SHA-256 hex of a client-derived fetch token,
	// carried forward to the clip at completion. Empty means no access code.
	AccessCodeHash string `gorm:"size:64" json:"-"`

	OneTime       bool   `gorm:"default:false" json:"one_time"`
	QuickShare    bool   `gorm:"default:false" json:"quick_share"`
	IsTextContent bool   `gorm:"default:false" json:"is_text_content"`
	Retention     string `gorm:"size:10" json:"retention"`

	ExpirationTime int64      `gorm:"not null;index" json:"expiration_time"`
	CreatedAt      time.Time  `gorm:"autoCreateTime" json:"created_at"`
	LastActivity   time.Time  `gorm:"not null" json:"last_activity"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`

	// Chunks are owned by the session and removed with it.
	Chunks []FileChunk `gorm:"foreignKey:UploadID;references:UploadID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName returns the table name for UploadSession.
func (UploadSession) TableName() string {
	return "upload_sessions"
}

// FileChunk records one persisted chunk of an upload session.
// (UploadID, ChunkNumber) is unique; re-uploading a chunk overwrites the
// stored file without creating a second row.
type FileChunk struct {
	ID          uint   `gorm:"primaryKey" json:"-"`
	UploadID    string `gorm:"not null;size:32;uniqueIndex:idx_upload_chunk" json:"upload_id"`
	ChunkNumber int    `gorm:"not null;uniqueIndex:idx_upload_chunk" json:"chunk_number"`
	ChunkSize   int64  `gorm:"not null" json:"chunk_size"`
	StoragePath string `gorm:"not null;size:512" json:"-"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName returns the table name for FileChunk.
func (FileChunk) TableName() string {
	return "file_chunks"
}
