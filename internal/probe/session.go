package probe

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/glavox/glavox-server/internal/cache"
	"github.com/glavox/glavox-server/internal/stats"
	"github.com/glavox/glavox-server/internal/storage"
	"github.com/glavox/glavox-server/pkg/logger"
	"github.com/glavox/glavox-server/pkg/metrics"
)

const (
	DefaultConcurrency = 4
	DefaultCacheTTL    = 10 * time.Minute

	cacheKeyPrefix = "speaking:"
)

// DurationProber measures one audio file.
type DurationProber interface {
	Duration(ctx context.Context, path string) (float64, error)
}

// AudioLister lists a session's stored audio files.
type AudioLister interface {
	ListAudio(ctx context.Context, sessionID string) ([]storage.FileInfo, error)
}

// SessionProber totals the probed durations of every audio file in a
// session's upload directory.
type SessionProber struct {
	prober      DurationProber
	files       AudioLister
	cache       cache.Store
	cacheTTL    time.Duration
	concurrency int
	log         *zap.Logger
}

// SessionOption customises SessionProber.
type SessionOption func(*SessionProber)

// WithCache stores totals in c for ttl.
func WithCache(c cache.Store, ttl time.Duration) SessionOption {
	return func(p *SessionProber) {
		p.cache = c
		if ttl > 0 {
			p.cacheTTL = ttl
		}
	}
}

// WithConcurrency bounds the number of parallel probes.
func WithConcurrency(n int) SessionOption {
	return func(p *SessionProber) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// NewSessionProber wires a prober to the upload store.
func NewSessionProber(prober DurationProber, files AudioLister, opts ...SessionOption) (*SessionProber, error) {
	if prober == nil {
		return nil, errors.New("session prober: prober is required")
	}
	if files == nil {
		return nil, errors.New("session prober: audio lister is required")
	}
	p := &SessionProber{
		prober:      prober,
		files:       files,
		cacheTTL:    DefaultCacheTTL,
		concurrency: DefaultConcurrency,
		log:         logger.WithModule("probe"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

type cachedTotal struct {
	Fingerprint string  `json:"fingerprint"`
	Total       float64 `json:"total"`
}

// TotalSpeakingTime sums the durations of the session's audio files in
// seconds, rounded to two decimals. Files that fail to probe are logged and
// left out. A session without uploads totals zero. Totals missing a file
// because of a timeout or exec failure are not cached.
func (p *SessionProber) TotalSpeakingTime(ctx context.Context, sessionID string) (float64, error) {
	files, err := p.files.ListAudio(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	if len(files) == 0 {
		return 0, nil
	}

	fingerprint := storage.Fingerprint(files)
	if total, ok := p.lookup(ctx, sessionID, fingerprint); ok {
		return total, nil
	}

	durations := make([]float64, len(files))
	var transient atomic.Bool
	var g errgroup.Group
	g.SetLimit(p.concurrency)
	for i, f := range files {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			seconds, err := p.prober.Duration(ctx, f.Path)
			if err != nil {
				if !permanent(err) {
					transient.Store(true)
				}
				reason := Reason(err)
				metrics.ProbeFailures.WithLabelValues(reason).Inc()
				p.log.Warn("excluding audio file from speaking time",
					zap.String("session_id", sessionID),
					zap.String("file", f.Name),
					zap.String("reason", reason),
					zap.Error(err),
				)
				return nil
			}
			durations[i] = seconds
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	var total float64
	for _, d := range durations {
		total += d
	}
	total = stats.Round2(total)

	if !transient.Load() {
		p.store(ctx, sessionID, fingerprint, total)
	}
	return total, nil
}

// permanent reports whether probing the same file again would fail the same way.
func permanent(err error) bool {
	return errors.Is(err, ErrFileNotFound) || errors.Is(err, ErrUnparsable)
}

// Invalidate drops the cached total of a session.
func (p *SessionProber) Invalidate(ctx context.Context, sessionID string) {
	if p.cache == nil {
		return
	}
	if err := p.cache.Delete(ctx, cacheKeyPrefix+sessionID); err != nil {
		p.log.Warn("speaking time cache invalidation failed", zap.String("session_id", sessionID), zap.Error(err))
	}
}

func (p *SessionProber) lookup(ctx context.Context, sessionID, fingerprint string) (float64, bool) {
	if p.cache == nil {
		return 0, false
	}
	raw, ok, err := p.cache.Get(ctx, cacheKeyPrefix+sessionID)
	if err != nil {
		metrics.CacheLookups.WithLabelValues("error").Inc()
		p.log.Warn("speaking time cache lookup failed", zap.String("session_id", sessionID), zap.Error(err))
		return 0, false
	}
	if !ok {
		metrics.CacheLookups.WithLabelValues("miss").Inc()
		return 0, false
	}
	var entry cachedTotal
	if err := json.Unmarshal(raw, &entry); err != nil || entry.Fingerprint != fingerprint {
		metrics.CacheLookups.WithLabelValues("miss").Inc()
		return 0, false
	}
	metrics.CacheLookups.WithLabelValues("hit").Inc()
	return entry.Total, true
}

func (p *SessionProber) store(ctx context.Context, sessionID, fingerprint string, total float64) {
	if p.cache == nil {
		return
	}
	raw, err := json.Marshal(cachedTotal{Fingerprint: fingerprint, Total: total})
	if err != nil {
		return
	}
	if err := p.cache.Set(ctx, cacheKeyPrefix+sessionID, raw, p.cacheTTL); err != nil {
		p.log.Warn("speaking time cache write failed", zap.String("session_id", sessionID), zap.Error(err))
	}
}
