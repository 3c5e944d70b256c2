// Package clip implements the post-assembly clip lifecycle: metadata lookup,
// payload serving, one-time semantics, and access-code gating. It also
// creates inline text clips that bypass the chunked upload path.
package clip

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/qopy-app/qopy/internal/logger"
	"github.com/qopy-app/qopy/pkg/clipid"
	"github.com/qopy-app/qopy/pkg/guard"
	"github.com/qopy-app/qopy/pkg/metrics"
	"github.com/qopy-app/qopy/pkg/models"
	"github.com/qopy-app/qopy/pkg/storage"
	"github.com/qopy-app/qopy/pkg/store"
)

// Service serves clips and enforces their access rules.
type Service struct {
	store *store.GORMStore
	blobs *storage.BlobStore
}

// NewService creates a clip service.
func NewService(st *store.GORMStore, blobs *storage.BlobStore) *Service {
	return &Service{store: st, blobs: blobs}
}

// Info is the metadata view of a clip. It reveals no ciphertext.
type Info struct {
	ClipID             string `json:"clipId"`
	ContentType        string `json:"contentType"`
	HasPassword        bool   `json:"hasPassword"`
	RequiresAccessCode bool   `json:"requiresAccessCode"`
	OneTime            bool   `json:"oneTime"`
	QuickShare         bool   `json:"quickShare"`
	Filename           string `json:"filename,omitempty"`
	Filesize           int64  `json:"filesize,omitempty"`
	MimeType           string `json:"mimeType,omitempty"`
	ExpirationTime     int64  `json:"expirationTime"`
}

// GetInfo returns clip metadata. Expired or missing clips are
// models.ErrClipNotFound.
func (s *Service) GetInfo(ctx context.Context, clipID string) (*Info, error) {
	clip, err := s.store.GetClip(ctx, clipID)
	if err != nil {
		return nil, err
	}
	return infoFor(clip), nil
}

func infoFor(clip *models.Clip) *Info {
	info := &Info{
		ClipID:             clip.ClipID,
		ContentType:        clip.ContentType,
		HasPassword:        clip.HasPassword(),
		RequiresAccessCode: clip.RequiresAccessCode,
		OneTime:            clip.OneTime,
		QuickShare:         clip.QuickShare,
		ExpirationTime:     clip.ExpirationTime,
	}
	if clip.ContentType == models.ContentTypeFile {
		info.Filename = clip.OriginalFilename
		info.Filesize = clip.Filesize
		info.MimeType = clip.MimeType
	}
	return info
}

// Content is an open clip payload. Close must be called on every path; for a
// consumed one-time clip it removes the blob after the stream ends, even if
// the client disconnected mid-download.
type Content struct {
	Clip     *models.Clip
	Body     io.ReadCloser
	Consumed bool

	blobs *storage.BlobStore
}

// Close releases the payload stream and finishes one-time destruction.
func (c *Content) Close() error {
	err := c.Body.Close()
	if c.Consumed {
		if delErr := c.blobs.Delete(c.Clip.ClipID); delErr != nil {
			logger.Warn("failed to delete consumed one-time blob",
				logger.KeyClipID, c.Clip.ClipID, logger.KeyError, delErr)
		}
	}
	return err
}

// Get opens a clip's ciphertext for streaming.
//
// The access code, when required, is verified in constant time against the
// stored SHA-256; a mismatch is models.ErrAccessDenied and the caller should
// record a guard failure. For one-time clips the metadata row is consumed
// atomically before the stream opens: exactly one caller observes the
// content, every other concurrent caller gets models.ErrClipGone.
func (s *Service) Get(ctx context.Context, clipID, accessCode string) (*Content, error) {
	clip, err := s.store.GetClip(ctx, clipID)
	if err != nil {
		return nil, err
	}

	if clip.RequiresAccessCode {
		if clip.AccessCodeHash == nil || !guard.VerifyAccessCode(accessCode, *clip.AccessCodeHash) {
			return nil, models.ErrAccessDenied
		}
	}

	consumed := false
	if clip.OneTime {
		clip, err = s.store.ConsumeOneTime(ctx, clipID)
		if err != nil {
			return nil, err
		}
		consumed = true
		metrics.OneTimeConsumed.Inc()
	} else {
		if err := s.store.IncrementAccess(ctx, clipID, time.Now()); err != nil {
			logger.Warn("failed to increment access count", logger.KeyClipID, clipID, logger.KeyError, err)
		}
	}
	if err := s.store.RecordAccess(ctx); err != nil {
		logger.Warn("failed to record access statistics", logger.KeyClipID, clipID, logger.KeyError, err)
	}

	body, err := s.blobs.Open(clipID)
	if err != nil {
		if consumed {
			// The row is gone; remove any stray blob as well.
			_ = s.blobs.Delete(clipID)
		}
		return nil, fmt.Errorf("opening blob for clip: %w", err)
	}

	metrics.ClipsServed.WithLabelValues(clip.ContentType).Inc()
	return &Content{
		Clip:     clip,
		Body:     body,
		Consumed: consumed,
		blobs:    s.blobs,
	}, nil
}

// TextClipRequest carries the parameters of an inline text clip creation.
type TextClipRequest struct {
	Payload        []byte // ciphertext, transported verbatim
	OneTime        bool
	QuickShare     bool
	HasPassword    bool
	AccessCodeHash string
	Retention      string
}

// CreateText publishes an inline text clip without an upload session. The
// clip ID reservation is the conditional row insert; a collision rolls back
// and retries with a fresh identifier.
func (s *Service) CreateText(ctx context.Context, req TextClipRequest) (*models.Clip, error) {
	if len(req.Payload) == 0 {
		return nil, models.ErrEmptyFile
	}
	retention, err := models.RetentionDuration(req.Retention)
	if err != nil {
		return nil, err
	}

	var published *models.Clip
	_, err = clipid.Allocate(ctx, clipid.KindFor(req.QuickShare), func(ctx context.Context, candidate string) error {
		path, written, err := s.blobs.Put(candidate, bytes.NewReader(req.Payload))
		if err != nil {
			return fmt.Errorf("storing text blob: %w", err)
		}

		now := time.Now()
		clip := &models.Clip{
			ClipID:         candidate,
			ContentType:    models.ContentTypeText,
			FilePath:       path,
			Filesize:       written,
			OneTime:        req.OneTime,
			QuickShare:     req.QuickShare,
			ExpirationTime: now.Add(retention).UnixMilli(),
		}
		if req.OneTime {
			clip.MaxAccesses = 1
		}
		if req.HasPassword {
			sentinel := models.PasswordSentinel
			clip.PasswordHash = &sentinel
		}
		if req.AccessCodeHash != "" {
			hash := req.AccessCodeHash
			clip.AccessCodeHash = &hash
			clip.RequiresAccessCode = true
		}

		if err := s.store.CreateClip(ctx, clip); err != nil {
			_ = s.blobs.Delete(candidate)
			return err
		}
		published = clip
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.ClipsCreated.WithLabelValues(models.ContentTypeText).Inc()
	if err := s.store.RecordClipCreated(ctx); err != nil {
		logger.Warn("failed to record clip statistics", logger.KeyClipID, published.ClipID, logger.KeyError, err)
	}
	return published, nil
}

// Delete removes a clip row and its blob. Admin use.
func (s *Service) Delete(ctx context.Context, clipID string) error {
	if err := s.store.DeleteClip(ctx, clipID); err != nil {
		if errors.Is(err, models.ErrClipNotFound) {
			return err
		}
		return fmt.Errorf("deleting clip row: %w", err)
	}
	if err := s.blobs.Delete(clipID); err != nil {
		logger.Warn("failed to delete clip blob", logger.KeyClipID, clipID, logger.KeyError, err)
	}
	return nil
}
