// Package store persists sessions and time-tracking records. Two backends
// implement Store: a gorm backend for sqlite, postgres and mysql, and a
// MongoDB backend.
package store

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/glavox/glavox-server/internal/models"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("store: record not found")

// SessionStore persists chat sessions.
type SessionStore interface {
	CreateSession(ctx context.Context, session *models.Session) error
	SaveSession(ctx context.Context, session *models.Session) error
	GetSession(ctx context.Context, id string) (*models.Session, error)
	DeleteSession(ctx context.Context, id string) error
	SessionExists(ctx context.Context, id string) (bool, error)
	// ListSessionsSince returns sessions created at or after since, oldest first.
	ListSessionsSince(ctx context.Context, userID string, since time.Time) ([]models.Session, error)
	// LatestSessionSince returns the newest session created at or after since.
	LatestSessionSince(ctx context.Context, userID string, since time.Time) (*models.Session, error)
	CountSessions(ctx context.Context, userID string) (int64, error)
	// DailySessionTotals groups sessions by UTC creation day, newest day first.
	DailySessionTotals(ctx context.Context, userID string) ([]models.DailySessionTotal, error)
	// ListStaleSessions returns active sessions not updated since before.
	ListStaleSessions(ctx context.Context, before time.Time, limit int) ([]models.Session, error)
}

// TrackingStore persists time-tracking records.
type TrackingStore interface {
	CreateTracking(ctx context.Context, tracking *models.TimeTracking) error
	SaveTracking(ctx context.Context, tracking *models.TimeTracking) error
	GetTracking(ctx context.Context, id string) (*models.TimeTracking, error)
	GetTrackingBySession(ctx context.Context, sessionID string) (*models.TimeTracking, error)
	UserTrackingTotals(ctx context.Context, userID string) (models.TrackingTotals, error)
}

// Store is the full persistence surface used by the services.
type Store interface {
	SessionStore
	TrackingStore
	// StartChat creates a session and its tracking record so that neither
	// exists without the other.
	StartChat(ctx context.Context, session *models.Session, tracking *models.TimeTracking) error
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

const dayLayout = "2006-01-02"

// groupDaily buckets sessions by UTC creation day, newest day first.
func groupDaily(sessions []models.Session) []models.DailySessionTotal {
	buckets := make(map[string]*models.DailySessionTotal)
	for _, s := range sessions {
		day := s.CreatedAt.UTC().Format(dayLayout)
		bucket, ok := buckets[day]
		if !ok {
			bucket = &models.DailySessionTotal{Date: day}
			buckets[day] = bucket
		}
		bucket.SessionsCount++
		bucket.TotalDuration += s.Duration
	}

	out := make([]models.DailySessionTotal, 0, len(buckets))
	for _, bucket := range buckets {
		out = append(out, *bucket)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Date > out[j].Date
	})
	return out
}

func ensureContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
