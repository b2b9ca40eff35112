package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/glavox/glavox-server/internal/monitoring"
	"github.com/glavox/glavox-server/internal/storage"
	"github.com/glavox/glavox-server/pkg/logger"
)

const (
	JobCloseStaleSessions = "close_stale_sessions"
	JobPruneOrphanUploads = "prune_orphan_uploads"
	JobPruneCache         = "prune_cache"

	defaultSessionSpec     = "@hourly"
	defaultUploadSpec      = "@daily"
	defaultCacheSpec       = "@every 30m"
	defaultStaleAfter      = 12 * time.Hour
	defaultOrphanGrace     = 24 * time.Hour
	defaultStaleBatchLimit = 500
)

// StaleSessionCloser ends sessions that were never closed by the client.
type StaleSessionCloser interface {
	CloseStale(ctx context.Context, before time.Time, limit int) (int, error)
}

// UploadDirs lists and removes per-session upload directories.
type UploadDirs interface {
	ListSessionDirs(ctx context.Context) ([]storage.SessionDir, error)
	RemoveSession(ctx context.Context, sessionID string) error
}

// SessionLookup reports whether a session id still resolves.
type SessionLookup interface {
	SessionExists(ctx context.Context, id string) (bool, error)
}

// ExpiringCache drops entries past their expiry.
type ExpiringCache interface {
	PruneExpired(ctx context.Context) (int64, error)
}

// Cleaner coordinates background maintenance: closing abandoned sessions,
// pruning upload directories whose session is gone, and expiring cache rows.
type Cleaner struct {
	sessions StaleSessionCloser
	uploads  UploadDirs
	lookup   SessionLookup
	cache    ExpiringCache
	tracker  *monitoring.JobTracker
	cron     *cron.Cron
	now      func() time.Time
	log      *zap.Logger

	staleAfter  time.Duration
	staleLimit  int
	orphanGrace time.Duration

	sessionSchedule string
	uploadSchedule  string
	cacheSchedule   string
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithNow overrides the clock used for scheduling and cleanup comparisons.
func WithNow(now func() time.Time) Option {
	return func(cleaner *Cleaner) {
		if now != nil {
			cleaner.now = now
		}
	}
}

// WithStaleSessions enables closing sessions idle for longer than after.
func WithStaleSessions(closer StaleSessionCloser, after time.Duration, limit int) Option {
	return func(cleaner *Cleaner) {
		cleaner.sessions = closer
		if after > 0 {
			cleaner.staleAfter = after
		}
		if limit > 0 {
			cleaner.staleLimit = limit
		}
	}
}

// WithOrphanUploads enables pruning upload directories whose session no longer exists.
func WithOrphanUploads(uploads UploadDirs, lookup SessionLookup, grace time.Duration) Option {
	return func(cleaner *Cleaner) {
		cleaner.uploads = uploads
		cleaner.lookup = lookup
		if grace > 0 {
			cleaner.orphanGrace = grace
		}
	}
}

// WithCachePruning enables deleting expired rows of the SQL-backed cache.
func WithCachePruning(c ExpiringCache) Option {
	return func(cleaner *Cleaner) {
		cleaner.cache = c
	}
}

// WithTracker records every run for the maintenance health check.
func WithTracker(tracker *monitoring.JobTracker) Option {
	return func(cleaner *Cleaner) {
		cleaner.tracker = tracker
	}
}

// WithSchedules overrides the cron specifications. Empty values keep the defaults.
func WithSchedules(sessions, uploads, cacheSpec string) Option {
	return func(cleaner *Cleaner) {
		if sessions != "" {
			cleaner.sessionSchedule = sessions
		}
		if uploads != "" {
			cleaner.uploadSchedule = uploads
		}
		if cacheSpec != "" {
			cleaner.cacheSchedule = cacheSpec
		}
	}
}

// NewCleaner constructs a Cleaner. Jobs whose dependencies were not supplied are skipped.
func NewCleaner(opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		now:             time.Now,
		log:             logger.WithModule("maintenance"),
		staleAfter:      defaultStaleAfter,
		staleLimit:      defaultStaleBatchLimit,
		orphanGrace:     defaultOrphanGrace,
		sessionSchedule: defaultSessionSpec,
		uploadSchedule:  defaultUploadSpec,
		cacheSchedule:   defaultCacheSpec,
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}
	return cleaner
}

type job struct {
	name     string
	schedule string
	run      func(ctx context.Context) (int, error)
}

func (c *Cleaner) jobs() []job {
	var jobs []job
	if c.sessions != nil {
		jobs = append(jobs, job{JobCloseStaleSessions, c.sessionSchedule, c.CloseStaleSessions})
	}
	if c.uploads != nil && c.lookup != nil {
		jobs = append(jobs, job{JobPruneOrphanUploads, c.uploadSchedule, c.PruneOrphanUploads})
	}
	if c.cache != nil {
		jobs = append(jobs, job{JobPruneCache, c.cacheSchedule, c.PruneCache})
	}
	return jobs
}

// Start registers cleanup jobs with the cron scheduler and launches it if at least one job is enabled.
func (c *Cleaner) Start() error {
	jobs := c.jobs()
	if len(jobs) == 0 {
		return nil
	}

	for _, j := range jobs {
		if c.tracker != nil {
			c.tracker.Register(j.name)
		}
		if _, err := c.cron.AddFunc(j.schedule, func() {
			_ = c.execute(context.Background(), j)
		}); err != nil {
			return fmt.Errorf("maintenance: schedule %s: %w", j.name, err)
		}
	}

	c.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// RunOnce executes all configured cleanup routines sequentially. Used in tests
// and during graceful shutdown.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error
	for _, j := range c.jobs() {
		errs = multierr.Append(errs, c.execute(ctx, j))
	}
	return errs
}

func (c *Cleaner) execute(ctx context.Context, j job) error {
	start := c.now()
	affected, err := j.run(ctx)
	if c.tracker != nil {
		c.tracker.Record(j.name, start, c.now().Sub(start), err)
	}
	if err != nil {
		c.log.Warn("maintenance job failed", zap.String("job", j.name), zap.Int("affected", affected), zap.Error(err))
		return fmt.Errorf("%s: %w", j.name, err)
	}
	if affected > 0 {
		c.log.Info("maintenance job finished", zap.String("job", j.name), zap.Int("affected", affected))
	}
	return nil
}

// CloseStaleSessions ends active sessions whose last update is older than the stale window.
func (c *Cleaner) CloseStaleSessions(ctx context.Context) (int, error) {
	if c.sessions == nil {
		return 0, nil
	}
	return c.sessions.CloseStale(ctx, c.now().Add(-c.staleAfter), c.staleLimit)
}

// PruneOrphanUploads removes upload directories older than the grace period
// whose session id does not resolve.
func (c *Cleaner) PruneOrphanUploads(ctx context.Context) (int, error) {
	if c.uploads == nil || c.lookup == nil {
		return 0, nil
	}
	dirs, err := c.uploads.ListSessionDirs(ctx)
	if err != nil {
		return 0, err
	}

	cutoff := c.now().Add(-c.orphanGrace)
	removed := 0
	var errs error
	for _, dir := range dirs {
		if dir.ModTime.After(cutoff) {
			continue
		}
		exists, err := c.lookup.SessionExists(ctx, dir.SessionID)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("session %s: %w", dir.SessionID, err))
			continue
		}
		if exists {
			continue
		}
		if err := c.uploads.RemoveSession(ctx, dir.SessionID); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("remove %s: %w", dir.SessionID, err))
			continue
		}
		removed++
		c.log.Info("removed orphaned uploads", zap.String("session_id", dir.SessionID), zap.String("path", dir.Path))
	}
	return removed, errs
}

// PruneCache deletes expired cache rows.
func (c *Cleaner) PruneCache(ctx context.Context) (int, error) {
	if c.cache == nil {
		return 0, nil
	}
	n, err := c.cache.PruneExpired(ctx)
	return int(n), err
}
