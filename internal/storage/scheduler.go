package storage

import (
	"context"
	"errors"
	"time"

	"github.com/ivlev/shadowplay/internal/errs"
	"github.com/ivlev/shadowplay/internal/logger"
)

const defaultSweepInterval = time.Hour

// Scheduler drives the cleaner on a fixed interval. One pass runs at
// startup so a restart after downtime reclaims space immediately.
type Scheduler struct {
	cleaner  *Cleaner
	interval time.Duration
	log      *logger.Logger
}

func NewScheduler(cleaner *Cleaner, interval time.Duration, log *logger.Logger) *Scheduler {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	return &Scheduler{cleaner: cleaner, interval: interval, log: log}
}

// Run blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.log.Info("cleanup scheduler started", "interval", s.interval.String())
	s.pass(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pass(ctx)
		}
	}
}

func (s *Scheduler) pass(ctx context.Context) {
	rep, err := s.cleaner.SweepExpired(ctx)
	if err != nil {
		s.log.Error("age sweep failed", "error", err)
	} else if rep.FilesDeleted > 0 || rep.Failures > 0 {
		s.log.Info("age sweep completed",
			"files_deleted", rep.FilesDeleted,
			"space_freed_mb", rep.SpaceFreedMB,
			"failures", rep.Failures,
		)
	}

	evicted, err := s.cleaner.EvictForSpace(ctx)
	switch {
	case errors.Is(err, errs.ErrResourceExhausted):
		// Диск занят чем-то, что нам не принадлежит; сами не выберемся
		s.log.Error("eviction could not reach free space target",
			"files_deleted", evicted.FilesDeleted,
			"space_freed_mb", evicted.SpaceFreedMB,
		)
	case err != nil:
		s.log.Error("eviction failed", "error", err)
	case evicted.FilesDeleted > 0:
		s.log.Info("emergency eviction completed",
			"files_deleted", evicted.FilesDeleted,
			"space_freed_mb", evicted.SpaceFreedMB,
		)
	}
}
