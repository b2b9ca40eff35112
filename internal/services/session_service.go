package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/glavox/glavox-server/internal/models"
	"github.com/glavox/glavox-server/internal/store"
	"github.com/glavox/glavox-server/pkg/logger"
	"github.com/glavox/glavox-server/pkg/timefmt"
)

// DefaultActiveWindow is how recently a session must have been created to count as active.
const DefaultActiveWindow = 30 * time.Minute

// SaveSessionParams carries a client-side summary of a finished session.
type SaveSessionParams struct {
	UserID    string
	Email     string
	StartTime time.Time
	Date      string
	// Duration is the client measured length in milliseconds.
	Duration int64
}

// ActiveSession describes the most recent session inside the active window.
type ActiveSession struct {
	StartTime       time.Time
	Date            string
	Duration        int64
	SessionNumber   int
	LastInteraction time.Time
}

// SessionService manages chat session records and their weekly/daily views.
type SessionService struct {
	store        store.SessionStore
	timeNow      func() time.Time
	location     *time.Location
	activeWindow time.Duration
	log          *zap.Logger
}

// SessionOption customises SessionService.
type SessionOption func(*SessionService)

// WithSessionClock overrides the clock.
func WithSessionClock(clock func() time.Time) SessionOption {
	return func(s *SessionService) {
		if clock != nil {
			s.timeNow = clock
		}
	}
}

// WithWeekLocation sets the location whose Monday midnight starts a week.
func WithWeekLocation(loc *time.Location) SessionOption {
	return func(s *SessionService) {
		if loc != nil {
			s.location = loc
		}
	}
}

// WithActiveWindow overrides DefaultActiveWindow.
func WithActiveWindow(window time.Duration) SessionOption {
	return func(s *SessionService) {
		if window > 0 {
			s.activeWindow = window
		}
	}
}

// NewSessionService constructs a SessionService.
func NewSessionService(st store.SessionStore, opts ...SessionOption) (*SessionService, error) {
	if st == nil {
		return nil, errors.New("session service: store is required")
	}
	svc := &SessionService{
		store:        st,
		timeNow:      time.Now,
		location:     time.Local,
		activeWindow: DefaultActiveWindow,
		log:          logger.WithModule("sessions"),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Create starts an active session.
func (s *SessionService) Create(ctx context.Context, userID string, startTime time.Time) (*models.Session, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, invalidInput("userId is required")
	}
	if startTime.IsZero() {
		startTime = s.timeNow()
	}

	session := &models.Session{
		UserID:    userID,
		StartTime: startTime.UTC(),
		Status:    models.SessionStatusActive,
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("session service: create: %w", err)
	}
	return session, nil
}

// End closes a session at endTime; duration follows from the two timestamps.
func (s *SessionService) End(ctx context.Context, sessionID string, endTime time.Time) (*models.Session, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("session service: load: %w", err)
	}
	if err := endSession(session, endTime); err != nil {
		return nil, err
	}
	if err := s.store.SaveSession(ctx, session); err != nil {
		return nil, fmt.Errorf("session service: save: %w", err)
	}
	return session, nil
}

// WeeklyForUser lists the user's sessions created since Monday 00:00, oldest first.
func (s *SessionService) WeeklyForUser(ctx context.Context, userID string) ([]models.Session, error) {
	since := timefmt.WeekStart(s.timeNow(), s.location)
	sessions, err := s.store.ListSessionsSince(ctx, userID, since)
	if err != nil {
		return nil, fmt.Errorf("session service: weekly: %w", err)
	}
	if sessions == nil {
		sessions = []models.Session{}
	}
	return sessions, nil
}

// Analytics groups the user's sessions per UTC day, newest day first.
func (s *SessionService) Analytics(ctx context.Context, userID string) ([]models.DailySessionTotal, error) {
	totals, err := s.store.DailySessionTotals(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("session service: analytics: %w", err)
	}
	if totals == nil {
		totals = []models.DailySessionTotal{}
	}
	return totals, nil
}

// Save records a session summarised by the client. The session number is
// one more than the user's existing session count.
func (s *SessionService) Save(ctx context.Context, params SaveSessionParams) (*models.Session, error) {
	userID := strings.TrimSpace(params.UserID)
	if userID == "" {
		return nil, invalidInput("userId is required")
	}
	if params.Duration < 0 {
		return nil, invalidInput("duration must not be negative")
	}

	count, err := s.store.CountSessions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("session service: count: %w", err)
	}

	start := params.StartTime
	if start.IsZero() {
		start = s.timeNow()
	}
	start = start.UTC()
	end := start.Add(time.Duration(params.Duration) * time.Millisecond)

	session := &models.Session{
		UserID:        userID,
		Email:         strings.TrimSpace(params.Email),
		SessionNumber: int(count) + 1,
		Date:          strings.TrimSpace(params.Date),
		StartTime:     start,
		EndTime:       &end,
		Status:        models.SessionStatusEnded,
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("session service: save: %w", err)
	}
	return session, nil
}

// CheckActive returns the newest session created within the active window.
func (s *SessionService) CheckActive(ctx context.Context, userID string) (*ActiveSession, bool, error) {
	since := s.timeNow().Add(-s.activeWindow)
	session, err := s.store.LatestSessionSince(ctx, userID, since)
	if errors.Is(err, store.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("session service: check active: %w", err)
	}
	return &ActiveSession{
		StartTime:       session.StartTime,
		Date:            session.Date,
		Duration:        session.Duration,
		SessionNumber:   session.SessionNumber,
		LastInteraction: session.UpdatedAt,
	}, true, nil
}

// CloseStale ends active sessions idle since before, at their last update.
// It returns how many sessions were closed.
func (s *SessionService) CloseStale(ctx context.Context, before time.Time, limit int) (int, error) {
	stale, err := s.store.ListStaleSessions(ctx, before, limit)
	if err != nil {
		return 0, fmt.Errorf("session service: list stale: %w", err)
	}

	closed := 0
	var errs error
	for i := range stale {
		session := &stale[i]
		if err := endSession(session, session.UpdatedAt); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if err := s.store.SaveSession(ctx, session); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("session %s: %w", session.ID, err))
			continue
		}
		closed++
		s.log.Info("closed stale session",
			zap.String("session_id", session.ID),
			zap.String("user_id", session.UserID),
		)
	}
	return closed, errs
}

func endSession(session *models.Session, endTime time.Time) error {
	endTime = endTime.UTC()
	if endTime.Before(session.StartTime) {
		return invalidInput("end time precedes session start")
	}
	session.EndTime = &endTime
	session.Status = models.SessionStatusEnded
	session.Normalize()
	return nil
}
