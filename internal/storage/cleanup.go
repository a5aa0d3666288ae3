// Package storage enforces the retention policy over session records and
// their rendered artifacts: an age sweep for abandoned sessions and an
// emergency eviction that reclaims the oldest pairs under disk pressure.
package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ivlev/shadowplay/internal/errs"
	"github.com/ivlev/shadowplay/internal/logger"
	"github.com/ivlev/shadowplay/internal/metrics"
	"github.com/ivlev/shadowplay/internal/session"
	"github.com/ivlev/shadowplay/internal/system"
)

const (
	DefaultMaxAge             = 7 * 24 * time.Hour
	DefaultEmergencyThreshold = 2 << 30 // 2 GiB
	DefaultEmergencyTarget    = 3 << 30 // 3 GiB

	// Encode jobs never run this long; older .part files are crash debris.
	stalePartialAge = time.Hour
)

// Policy is the retention configuration. Zero fields take defaults.
type Policy struct {
	MaxAge             time.Duration
	EmergencyThreshold uint64
	EmergencyTarget    uint64
}

func (p Policy) withDefaults() Policy {
	if p.MaxAge <= 0 {
		p.MaxAge = DefaultMaxAge
	}
	if p.EmergencyThreshold == 0 {
		p.EmergencyThreshold = DefaultEmergencyThreshold
	}
	if p.EmergencyTarget == 0 {
		p.EmergencyTarget = DefaultEmergencyTarget
	}
	return p
}

// Report is the outcome of one cleanup pass.
type Report struct {
	FilesDeleted int
	SpaceFreedMB float64
	Failures     int
}

func (r *Report) add(other Report) {
	r.FilesDeleted += other.FilesDeleted
	r.SpaceFreedMB += other.SpaceFreedMB
	r.Failures += other.Failures
}

// DiskFreeFunc reports free and total bytes of the volume holding path.
type DiskFreeFunc func(path string) (free, total uint64, err error)

// Cleaner deletes session/output pairs. A pair is the unit of deletion:
// metadata and artifacts never outlive each other. Sessions that are still
// PENDING or PROCESSING are never touched, whatever their age.
type Cleaner struct {
	store  *session.FileStore
	policy Policy
	free   DiskFreeFunc
	log    *logger.Logger
}

func NewCleaner(store *session.FileStore, policy Policy, log *logger.Logger) *Cleaner {
	return &Cleaner{
		store:  store,
		policy: policy.withDefaults(),
		free:   system.DiskUsage,
		log:    log,
	}
}

// pair is one deletable session with the age the policies order by.
type pair struct {
	id       string
	modTime  time.Time
	status   session.Status
	statusOK bool
}

// eligible reports whether retention may delete this pair.
func (p pair) eligible() bool {
	if !p.statusOK {
		// Unreadable record: nothing protects it, reclaim it.
		return true
	}
	return p.status != session.StatusPending && p.status != session.StatusProcessing
}

// SweepExpired deletes every eligible pair whose metadata file is older
// than MaxAge, then removes orphaned artifacts left behind by crashes.
func (c *Cleaner) SweepExpired(ctx context.Context) (Report, error) {
	pairs, err := c.collect(ctx)
	if err != nil {
		return Report{}, err
	}

	var rep Report
	cutoff := time.Now().Add(-c.policy.MaxAge)
	for _, p := range pairs {
		if !p.eligible() || !p.modTime.Before(cutoff) {
			continue
		}
		rep.add(c.deletePair(ctx, p.id))
	}

	rep.add(c.removeOrphans(pairs))

	metrics.CleanupFilesDeleted.Add(float64(rep.FilesDeleted))
	metrics.CleanupBytesFreed.Add(rep.SpaceFreedMB * 1024 * 1024)
	return rep, nil
}

// EvictForSpace frees disk space when it falls below the emergency
// threshold, deleting eligible pairs strictly oldest-first until free space
// reaches the target. Returns ErrResourceExhausted when every eligible pair
// is gone and the target is still not met.
func (c *Cleaner) EvictForSpace(ctx context.Context) (Report, error) {
	free, _, err := c.free(c.store.OutputsDir())
	if err != nil {
		return Report{}, fmt.Errorf("%w: disk usage: %v", errs.ErrStorageIO, err)
	}
	metrics.DiskFreeBytes.Set(float64(free))

	if free >= c.policy.EmergencyThreshold {
		return Report{}, nil
	}
	c.log.Warn("emergency eviction triggered",
		"free_mb", free/(1<<20), "threshold_mb", c.policy.EmergencyThreshold/(1<<20))

	pairs, err := c.collect(ctx)
	if err != nil {
		return Report{}, err
	}
	// Oldest first is a hard guarantee, not an optimization.
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].modTime.Before(pairs[j].modTime) })

	var rep Report
	for _, p := range pairs {
		if !p.eligible() {
			continue
		}
		rep.add(c.deletePair(ctx, p.id))

		free, _, err = c.free(c.store.OutputsDir())
		if err != nil {
			return rep, fmt.Errorf("%w: disk usage: %v", errs.ErrStorageIO, err)
		}
		metrics.DiskFreeBytes.Set(float64(free))
		if free >= c.policy.EmergencyTarget {
			metrics.CleanupFilesDeleted.Add(float64(rep.FilesDeleted))
			metrics.CleanupBytesFreed.Add(rep.SpaceFreedMB * 1024 * 1024)
			return rep, nil
		}
	}

	metrics.CleanupFilesDeleted.Add(float64(rep.FilesDeleted))
	metrics.CleanupBytesFreed.Add(rep.SpaceFreedMB * 1024 * 1024)
	return rep, fmt.Errorf("%w: eviction freed %.1f MB but free space is still below target",
		errs.ErrResourceExhausted, rep.SpaceFreedMB)
}

// collect lists every session pair with its metadata age and status.
func (c *Cleaner) collect(ctx context.Context) ([]pair, error) {
	entries, err := os.ReadDir(c.store.SessionsDir())
	if err != nil {
		return nil, fmt.Errorf("%w: scan sessions: %v", errs.ErrStorageIO, err)
	}

	var pairs []pair
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		p := pair{
			id:      strings.TrimSuffix(e.Name(), ".json"),
			modTime: info.ModTime(),
		}
		if s, err := c.store.Get(ctx, p.id); err == nil {
			p.status = s.Status
			p.statusOK = true
		}
		pairs = append(pairs, p)
	}
	return pairs, nil
}

// deletePair removes one session with its artifacts and accounts for the
// bytes that disappear. A failed deletion is recorded and skipped, it never
// aborts a sweep.
func (c *Cleaner) deletePair(ctx context.Context, id string) Report {
	files, bytes := c.pairFootprint(id)
	if err := c.store.Delete(ctx, id); err != nil {
		c.log.Warn("cleanup could not delete session", "session_id", id, "error", err)
		return Report{Failures: 1}
	}
	c.log.Info("cleanup deleted session", "session_id", id, "files", files, "freed_mb", float64(bytes)/(1<<20))
	return Report{FilesDeleted: files, SpaceFreedMB: float64(bytes) / (1 << 20)}
}

// pairFootprint counts the files and bytes currently on disk for id.
func (c *Cleaner) pairFootprint(id string) (files int, bytes int64) {
	paths := []string{
		filepath.Join(c.store.SessionsDir(), session.MetaName(id)),
		filepath.Join(c.store.OutputsDir(), session.OutputName(id)),
		filepath.Join(c.store.OutputsDir(), session.QRName(id)),
	}
	for _, p := range paths {
		if info, err := os.Stat(p); err == nil {
			files++
			bytes += info.Size()
		}
	}
	return files, bytes
}

// removeOrphans deletes artifacts whose session record no longer exists and
// stale .part leftovers. Crashes between artifact and metadata deletion can
// strand either side; the sweep heals both.
func (c *Cleaner) removeOrphans(pairs []pair) Report {
	known := make(map[string]session.Status, len(pairs))
	for _, p := range pairs {
		known[p.id] = p.status
	}

	entries, err := os.ReadDir(c.store.OutputsDir())
	if err != nil {
		c.log.Warn("cleanup could not scan outputs", "error", err)
		return Report{Failures: 1}
	}

	var rep Report
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()

		if strings.HasSuffix(name, ".part") {
			info, err := e.Info()
			if err != nil || time.Since(info.ModTime()) < stalePartialAge {
				continue
			}
			rep.add(c.removeFile(filepath.Join(c.store.OutputsDir(), name)))
			continue
		}

		id := artifactSessionID(name)
		if id == "" {
			continue
		}
		if _, ok := known[id]; ok {
			continue
		}
		rep.add(c.removeFile(filepath.Join(c.store.OutputsDir(), name)))
	}
	return rep
}

func (c *Cleaner) removeFile(path string) Report {
	info, err := os.Stat(path)
	if err != nil {
		return Report{}
	}
	if err := os.Remove(path); err != nil {
		c.log.Warn("cleanup could not remove orphan", "file", path, "error", err)
		return Report{Failures: 1}
	}
	c.log.Info("cleanup removed orphan artifact", "file", path)
	return Report{FilesDeleted: 1, SpaceFreedMB: float64(info.Size()) / (1 << 20)}
}

// artifactSessionID extracts the owning session id from an artifact file
// name, or "" for files the cleaner does not manage.
func artifactSessionID(name string) string {
	if id, ok := strings.CutPrefix(name, "final_"); ok {
		return strings.TrimSuffix(id, ".mp4")
	}
	if id, ok := strings.CutPrefix(name, "qr_"); ok {
		return strings.TrimSuffix(id, ".png")
	}
	return ""
}
