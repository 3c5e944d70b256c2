package models

import "time"

// Clip content types.
const (
	ContentTypeText = "text"
	ContentTypeFile = "file"
)

// PasswordSentinel is the only value ever stored in Clip.PasswordHash. It
// marks a clip as client-encrypted with a user passphrase; no plaintext or
// server-derived hash is ever persisted. Any non-NULL value is treated as
// "password required" so unknown historic sentinels stay protected.
const PasswordSentinel = "client-encrypted"

// Clip identifier lengths. Quick IDs are short enough for human entry and
// need brute-force defense on lookup.
const (
	QuickIDLength    = 4
	EnhancedIDLength = 10
)

// Clip is a completed content record: inline text ciphertext or a file blob,
// subject to expiration and optional one-time semantics.
type Clip struct {
	ClipID      string `gorm:"primaryKey;size:10" json:"clip_id"`
	ContentType string `gorm:"not null;size:10" json:"content_type"`

	// File clips carry the blob location and display metadata. FilePath is
	// always under the blob store root; the original filename is display-only
	// and never used for path construction.
	FilePath         string `gorm:"size:512" json:"-"`
	OriginalFilename string `gorm:"size:255" json:"original_filename,omitempty"`
	MimeType         string `gorm:"size:255" json:"mime_type,omitempty"`
	Filesize         int64  `json:"filesize"`

	PasswordHash       *string `gorm:"size:64" json:"-"`
	AccessCodeHash     *string `gorm:"size:64" json:"-"`
	RequiresAccessCode bool    `gorm:"default:false" json:"requires_access_code"`

	OneTime    bool `gorm:"default:false" json:"one_time"`
	QuickShare bool `gorm:"default:false" json:"quick_share"`

	ExpirationTime int64 `gorm:"not null;index" json:"expiration_time"`
	IsExpired      bool  `gorm:"default:false;index" json:"is_expired"`

	AccessCount int64      `gorm:"default:0" json:"access_count"`
	MaxAccesses int64      `gorm:"default:0" json:"max_accesses"` // 0 = unbounded
	AccessedAt  *time.Time `json:"accessed_at,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName returns the table name for Clip.
func (Clip) TableName() string {
	return "clips"
}

// HasPassword reports whether the clip is client-encrypted with a passphrase.
func (c *Clip) HasPassword() bool {
	return c.PasswordHash != nil && *c.PasswordHash != ""
}
