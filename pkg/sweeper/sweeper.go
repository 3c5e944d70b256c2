// Package sweeper implements the periodic background task that reconciles
// expired metadata with on-disk state: it evicts expired clips, dead upload
// sessions, and orphaned files, and updates aggregate statistics.
//
// Every pass only removes things that are already unreachable or past their
// deadline, so the sweeper is idempotent and safe to run concurrently with
// uploads and downloads.
package sweeper

import (
	"context"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/qopy-app/qopy/internal/logger"
	"github.com/qopy-app/qopy/pkg/metrics"
	"github.com/qopy-app/qopy/pkg/storage"
	"github.com/qopy-app/qopy/pkg/store"
)

// Config tunes the sweeper.
type Config struct {
	// Interval between passes. Default 5 minutes.
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`

	// OrphanGrace is the minimum age before an unreferenced chunk directory
	// or blob is removed. It covers the window between a blob landing on
	// disk and its metadata committing. Default 10 minutes.
	OrphanGrace time.Duration `mapstructure:"orphan_grace" yaml:"orphan_grace"`
}

// ApplyDefaults fills in zero values.
func (c *Config) ApplyDefaults() {
	if c.Interval == 0 {
		c.Interval = 5 * time.Minute
	}
	if c.OrphanGrace == 0 {
		c.OrphanGrace = 10 * time.Minute
	}
}

// Sweeper evicts expired sessions, clips, and orphaned files.
type Sweeper struct {
	config Config
	store  *store.GORMStore
	chunks *storage.ChunkStore
	blobs  *storage.BlobStore
}

// New creates a sweeper.
func New(config Config, st *store.GORMStore, chunks *storage.ChunkStore, blobs *storage.BlobStore) *Sweeper {
	config.ApplyDefaults()
	return &Sweeper{
		config: config,
		store:  st,
		chunks: chunks,
		blobs:  blobs,
	}
}

// Run executes passes on the configured interval until the context is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	logger.Info("sweeper started", "interval", s.config.Interval.String())
	for {
		select {
		case <-ctx.Done():
			logger.Info("sweeper stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Result summarizes one sweeper pass.
type Result struct {
	ExpiredClips   int `json:"expired_clips"`
	DeadSessions   int `json:"dead_sessions"`
	OrphanedChunks int `json:"orphaned_chunks"`
	OrphanedBlobs  int `json:"orphaned_blobs"`
}

// Sweep runs a single pass: expired clips first, then dead sessions, then
// orphan reconciliation, then statistics.
func (s *Sweeper) Sweep(ctx context.Context) Result {
	pass := uuid.New().String()[:8]
	start := time.Now()
	var result Result

	metrics.SweepRuns.Inc()

	result.ExpiredClips = s.sweepExpiredClips(ctx, pass)
	result.DeadSessions = s.sweepDeadSessions(ctx, pass)
	result.OrphanedChunks, result.OrphanedBlobs = s.sweepOrphans(ctx, pass)

	if err := s.store.RecordSweptClips(ctx, int64(result.ExpiredClips)); err != nil {
		logger.Warn("failed to record sweep statistics", logger.KeySweep, pass, logger.KeyError, err)
	}

	logger.Debug("sweep pass finished",
		logger.KeySweep, pass,
		"expired_clips", result.ExpiredClips,
		"dead_sessions", result.DeadSessions,
		"orphaned_chunks", result.OrphanedChunks,
		"orphaned_blobs", result.OrphanedBlobs,
		logger.KeyDuration, time.Since(start).String(),
	)
	return result
}

// sweepExpiredClips marks overdue clips expired, then deletes their blobs
// and rows.
func (s *Sweeper) sweepExpiredClips(ctx context.Context, pass string) int {
	overdue, err := s.store.ExpireOverdueClips(ctx, time.Now().UnixMilli())
	if err != nil {
		logger.Error("failed to expire overdue clips", logger.KeySweep, pass, logger.KeyError, err)
		return 0
	}

	removed := 0
	for _, clip := range overdue {
		if err := s.blobs.Delete(clip.ClipID); err != nil {
			logger.Warn("failed to delete expired blob",
				logger.KeySweep, pass, logger.KeyClipID, clip.ClipID, logger.KeyError, err)
			continue
		}
		if err := s.store.DeleteClip(ctx, clip.ClipID); err != nil {
			logger.Warn("failed to delete expired clip row",
				logger.KeySweep, pass, logger.KeyClipID, clip.ClipID, logger.KeyError, err)
			continue
		}
		removed++
	}
	metrics.SweptClips.Add(float64(removed))
	return removed
}

// sweepDeadSessions removes sessions past their expiration or marked failed,
// with their chunk directories.
func (s *Sweeper) sweepDeadSessions(ctx context.Context, pass string) int {
	dead, err := s.store.ListDeadSessions(ctx, time.Now().UnixMilli())
	if err != nil {
		logger.Error("failed to list dead sessions", logger.KeySweep, pass, logger.KeyError, err)
		return 0
	}

	removed := 0
	for _, session := range dead {
		if err := s.chunks.DeleteSession(session.UploadID); err != nil {
			logger.Warn("failed to delete chunk directory",
				logger.KeySweep, pass, logger.KeyUploadID, session.UploadID, logger.KeyError, err)
			continue
		}
		if err := s.store.DeleteSession(ctx, session.UploadID); err != nil {
			logger.Warn("failed to delete dead session row",
				logger.KeySweep, pass, logger.KeyUploadID, session.UploadID, logger.KeyError, err)
			continue
		}
		removed++
	}
	metrics.SweptSessions.Add(float64(removed))
	return removed
}

// sweepOrphans walks both storage roots and removes entries with no
// metadata referent that are older than the orphan grace period.
func (s *Sweeper) sweepOrphans(ctx context.Context, pass string) (int, int) {
	cutoff := time.Now().Add(-s.config.OrphanGrace)
	chunkOrphans := 0
	blobOrphans := 0

	sessions, err := s.store.LiveSessionIDs(ctx)
	if err != nil {
		logger.Error("failed to list live sessions", logger.KeySweep, pass, logger.KeyError, err)
		return 0, 0
	}
	dirs, err := s.chunks.SessionDirs()
	if err != nil {
		logger.Error("failed to walk chunk store", logger.KeySweep, pass, logger.KeyError, err)
		return 0, 0
	}
	for _, dir := range dirs {
		if _, live := sessions[dir.Name]; live || dir.ModTime.After(cutoff) {
			continue
		}
		// Removal is by path so stale temp files with non-identifier names
		// are also collected.
		if err := os.RemoveAll(dir.Path); err != nil {
			logger.Warn("failed to delete orphaned chunk directory",
				logger.KeySweep, pass, logger.KeyUploadID, dir.Name, logger.KeyError, err)
			continue
		}
		chunkOrphans++
	}

	clips, err := s.store.LiveClipIDs(ctx)
	if err != nil {
		logger.Error("failed to list live clips", logger.KeySweep, pass, logger.KeyError, err)
		return chunkOrphans, 0
	}
	blobs, err := s.blobs.Blobs()
	if err != nil {
		logger.Error("failed to walk blob store", logger.KeySweep, pass, logger.KeyError, err)
		return chunkOrphans, 0
	}
	for _, blob := range blobs {
		if _, live := clips[blob.Name]; live || blob.ModTime.After(cutoff) {
			continue
		}
		if err := os.Remove(blob.Path); err != nil && !os.IsNotExist(err) {
			logger.Warn("failed to delete orphaned blob",
				logger.KeySweep, pass, logger.KeyClipID, blob.Name, logger.KeyError, err)
			continue
		}
		blobOrphans++
	}

	metrics.SweptOrphans.Add(float64(chunkOrphans + blobOrphans))
	return chunkOrphans, blobOrphans
}
