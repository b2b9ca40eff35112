package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/glavox/glavox-server/internal/models"
	"github.com/glavox/glavox-server/internal/store"
)

func TestNewSessionServiceRequiresStore(t *testing.T) {
	_, err := NewSessionService(nil)
	require.Error(t, err)
}

func TestSessionServiceCreateAndEnd(t *testing.T) {
	st, _ := newTestStore(t)
	svc, err := NewSessionService(st)
	require.NoError(t, err)
	ctx := context.Background()

	start := time.Date(2024, 3, 6, 10, 0, 0, 0, time.UTC)
	session, err := svc.Create(ctx, "user-1", start)
	require.NoError(t, err)
	require.Equal(t, models.SessionStatusActive, session.Status)
	require.Zero(t, session.Duration)

	ended, err := svc.End(ctx, session.ID, start.Add(2*time.Minute+500*time.Millisecond))
	require.NoError(t, err)
	require.Equal(t, models.SessionStatusEnded, ended.Status)
	require.Equal(t, int64(120500), ended.Duration)

	_, err = svc.End(ctx, "missing", start)
	require.True(t, errors.Is(err, ErrSessionNotFound))

	_, err = svc.End(ctx, session.ID, start.Add(-time.Minute))
	require.True(t, errors.Is(err, ErrInvalidInput))

	_, err = svc.Create(ctx, " ", start)
	require.True(t, errors.Is(err, ErrInvalidInput))
}

func TestSessionServiceWeeklyForUser(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()

	// Wednesday 2024-03-06; the week began Monday 2024-03-04.
	now := time.Date(2024, 3, 6, 14, 0, 0, 0, time.UTC)
	svc, err := NewSessionService(st, WithSessionClock(fixedClock(now)), WithWeekLocation(time.UTC))
	require.NoError(t, err)

	for _, created := range []time.Time{
		time.Date(2024, 3, 3, 23, 59, 59, 0, time.UTC), // Sunday, previous week
		time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC),    // Monday midnight
		time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 6, 8, 0, 0, 0, time.UTC),
	} {
		require.NoError(t, st.CreateSession(ctx, &models.Session{UserID: "user-1", StartTime: created, CreatedAt: created}))
	}
	require.NoError(t, st.CreateSession(ctx, &models.Session{UserID: "user-2", StartTime: now, CreatedAt: now}))

	weekly, err := svc.WeeklyForUser(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, weekly, 3)
	require.Equal(t, time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC), weekly[0].CreatedAt.UTC())
	require.Equal(t, time.Date(2024, 3, 6, 8, 0, 0, 0, time.UTC), weekly[2].CreatedAt.UTC())

	empty, err := svc.WeeklyForUser(ctx, "nobody")
	require.NoError(t, err)
	require.NotNil(t, empty)
	require.Empty(t, empty)
}

func TestSessionServiceWeeklyOnSunday(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()

	sunday := time.Date(2024, 3, 10, 20, 0, 0, 0, time.UTC)
	svc, err := NewSessionService(st, WithSessionClock(fixedClock(sunday)), WithWeekLocation(time.UTC))
	require.NoError(t, err)

	monday := time.Date(2024, 3, 4, 1, 0, 0, 0, time.UTC)
	require.NoError(t, st.CreateSession(ctx, &models.Session{UserID: "user-1", StartTime: monday, CreatedAt: monday}))

	weekly, err := svc.WeeklyForUser(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, weekly, 1)
}

func TestSessionServiceAnalytics(t *testing.T) {
	st, _ := newTestStore(t)
	svc, err := NewSessionService(st)
	require.NoError(t, err)
	ctx := context.Background()

	empty, err := svc.Analytics(ctx, "user-1")
	require.NoError(t, err)
	require.NotNil(t, empty)
	require.Empty(t, empty)

	day1 := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	day2 := time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC)
	for _, created := range []time.Time{day1, day1.Add(time.Hour), day2} {
		end := created.Add(time.Minute)
		require.NoError(t, st.CreateSession(ctx, &models.Session{
			UserID: "user-1", StartTime: created, EndTime: &end, CreatedAt: created,
		}))
	}

	totals, err := svc.Analytics(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, []models.DailySessionTotal{
		{Date: "2024-03-05", SessionsCount: 1, TotalDuration: 60000},
		{Date: "2024-03-04", SessionsCount: 2, TotalDuration: 120000},
	}, totals)
}

func TestSessionServiceSaveNumbersSessions(t *testing.T) {
	st, _ := newTestStore(t)
	svc, err := NewSessionService(st)
	require.NoError(t, err)
	ctx := context.Background()

	start := time.Date(2024, 3, 6, 10, 0, 0, 0, time.UTC)
	first, err := svc.Save(ctx, SaveSessionParams{
		UserID:    "user-1",
		Email:     "alice@example.com",
		StartTime: start,
		Date:      "06/03/2024",
		Duration:  90500,
	})
	require.NoError(t, err)
	require.Equal(t, 1, first.SessionNumber)
	require.Equal(t, int64(90500), first.Duration)
	require.Equal(t, models.SessionStatusEnded, first.Status)
	require.NotNil(t, first.EndTime)
	require.Equal(t, start.Add(90500*time.Millisecond), *first.EndTime)

	second, err := svc.Save(ctx, SaveSessionParams{UserID: "user-1", StartTime: start})
	require.NoError(t, err)
	require.Equal(t, 2, second.SessionNumber)

	_, err = svc.Save(ctx, SaveSessionParams{UserID: "user-1", Duration: -1})
	require.True(t, errors.Is(err, ErrInvalidInput))
}

func TestSessionServiceCheckActive(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2024, 3, 6, 10, 0, 0, 0, time.UTC)

	svc, err := NewSessionService(st, WithSessionClock(fixedClock(now)))
	require.NoError(t, err)

	old := now.Add(-45 * time.Minute)
	require.NoError(t, st.CreateSession(ctx, &models.Session{UserID: "user-1", StartTime: old, CreatedAt: old}))

	_, ok, err := svc.CheckActive(ctx, "user-1")
	require.NoError(t, err)
	require.False(t, ok)

	recent := now.Add(-10 * time.Minute)
	require.NoError(t, st.CreateSession(ctx, &models.Session{
		UserID: "user-1", StartTime: recent, CreatedAt: recent, SessionNumber: 2, Date: "06/03/2024",
	}))

	active, ok, err := svc.CheckActive(ctx, "user-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 2, active.SessionNumber)
	require.Equal(t, "06/03/2024", active.Date)
	require.True(t, active.StartTime.Equal(recent))
	require.False(t, active.LastInteraction.IsZero())
}

func TestSessionServiceCloseStale(t *testing.T) {
	st, db := newTestStore(t)
	svc, err := NewSessionService(st)
	require.NoError(t, err)
	ctx := context.Background()

	start := time.Date(2024, 3, 6, 10, 0, 0, 0, time.UTC)
	stale, err := svc.Create(ctx, "user-1", start)
	require.NoError(t, err)
	lastSeen := start.Add(5 * time.Minute)
	require.NoError(t, db.Model(&models.Session{}).Where("id = ?", stale.ID).UpdateColumn("updated_at", lastSeen).Error)

	closed, err := svc.CloseStale(ctx, start.Add(time.Hour), 10)
	require.NoError(t, err)
	require.Equal(t, 1, closed)

	got, err := st.GetSession(ctx, stale.ID)
	require.NoError(t, err)
	require.Equal(t, models.SessionStatusEnded, got.Status)
	require.Equal(t, int64(5*60*1000), got.Duration)
}

type readOnlySessions struct {
	*store.GormStore
}

func (readOnlySessions) SaveSession(context.Context, *models.Session) error {
	return errors.New("database is read only")
}

func TestSessionServiceCloseStaleCollectsFailures(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()
	start := time.Date(2024, 3, 6, 10, 0, 0, 0, time.UTC)

	writer, err := NewSessionService(st)
	require.NoError(t, err)
	first, err := writer.Create(ctx, "user-1", start)
	require.NoError(t, err)
	second, err := writer.Create(ctx, "user-2", start)
	require.NoError(t, err)

	svc, err := NewSessionService(readOnlySessions{st})
	require.NoError(t, err)
	closed, err := svc.CloseStale(ctx, time.Now().Add(time.Hour), 10)
	require.Zero(t, closed)
	require.Len(t, multierr.Errors(err), 2)
	require.ErrorContains(t, err, first.ID)
	require.ErrorContains(t, err, second.ID)
}
