package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/glavox/glavox-server/internal/database/testutil"
	"github.com/glavox/glavox-server/internal/models"
)

func newTestGormStore(t *testing.T) (*GormStore, *gorm.DB) {
	t.Helper()
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	st, err := NewGormStore(db)
	require.NoError(t, err)
	return st, db
}

func TestNewGormStoreRequiresDB(t *testing.T) {
	_, err := NewGormStore(nil)
	require.Error(t, err)
}

func TestGormStoreStartChatLinksRecords(t *testing.T) {
	st, _ := newTestGormStore(t)
	ctx := context.Background()
	enter := time.Date(2024, 3, 6, 10, 0, 0, 0, time.UTC)

	session := &models.Session{UserID: "user-1", StartTime: enter}
	tracking := &models.TimeTracking{ChatPageEnterTimeUTC: enter}
	require.NoError(t, st.StartChat(ctx, session, tracking))

	require.NotEmpty(t, session.ID)
	require.NotEmpty(t, tracking.ID)
	require.Equal(t, session.ID, tracking.SessionID)
	require.Equal(t, "user-1", tracking.UserID)

	stored, err := st.GetTracking(ctx, tracking.ID)
	require.NoError(t, err)
	require.Equal(t, "06-03-2024 03:30:00 PM IST", stored.ChatPageEnterTimeIST)
	require.NotNil(t, stored.SpeakingSegments)
	require.Empty(t, stored.SpeakingSegments)

	bySession, err := st.GetTrackingBySession(ctx, session.ID)
	require.NoError(t, err)
	require.Equal(t, tracking.ID, bySession.ID)

	got, err := st.GetSession(ctx, session.ID)
	require.NoError(t, err)
	require.Equal(t, models.SessionStatusActive, got.Status)
}

func TestGormStoreStartChatRollsBack(t *testing.T) {
	st, db := newTestGormStore(t)
	ctx := context.Background()
	enter := time.Date(2024, 3, 6, 10, 0, 0, 0, time.UTC)

	existing := &models.TimeTracking{UserID: "user-1", SessionID: "other", ChatPageEnterTimeUTC: enter}
	require.NoError(t, st.CreateTracking(ctx, existing))

	session := &models.Session{UserID: "user-1", StartTime: enter}
	duplicate := &models.TimeTracking{ID: existing.ID, ChatPageEnterTimeUTC: enter}
	require.Error(t, st.StartChat(ctx, session, duplicate))

	var count int64
	require.NoError(t, db.Model(&models.Session{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestGormStoreNotFound(t *testing.T) {
	st, _ := newTestGormStore(t)
	ctx := context.Background()

	_, err := st.GetSession(ctx, "missing")
	require.True(t, errors.Is(err, ErrNotFound))

	_, err = st.GetTracking(ctx, "missing")
	require.True(t, errors.Is(err, ErrNotFound))

	_, err = st.GetTrackingBySession(ctx, "missing")
	require.True(t, errors.Is(err, ErrNotFound))

	_, err = st.LatestSessionSince(ctx, "user-1", time.Time{})
	require.True(t, errors.Is(err, ErrNotFound))

	exists, err := st.SessionExists(ctx, "missing")
	require.NoError(t, err)
	require.False(t, exists)
}

func TestGormStoreSaveSessionRecomputesDuration(t *testing.T) {
	st, _ := newTestGormStore(t)
	ctx := context.Background()
	start := time.Date(2024, 3, 6, 10, 0, 0, 0, time.UTC)

	session := &models.Session{UserID: "user-1", StartTime: start}
	require.NoError(t, st.CreateSession(ctx, session))

	end := start.Add(90 * time.Second)
	session.EndTime = &end
	session.Status = models.SessionStatusEnded
	require.NoError(t, st.SaveSession(ctx, session))

	got, err := st.GetSession(ctx, session.ID)
	require.NoError(t, err)
	require.Equal(t, int64(90000), got.Duration)
	require.Equal(t, models.SessionStatusEnded, got.Status)
	require.NotNil(t, got.EndTime)
}

func TestGormStoreSessionQueries(t *testing.T) {
	st, _ := newTestGormStore(t)
	ctx := context.Background()

	mk := func(user string, created time.Time, duration time.Duration) {
		end := created.Add(duration)
		require.NoError(t, st.CreateSession(ctx, &models.Session{
			UserID:    user,
			StartTime: created,
			EndTime:   &end,
			Status:    models.SessionStatusEnded,
			CreatedAt: created,
		}))
	}

	mk("user-1", time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC), time.Minute)
	mk("user-1", time.Date(2024, 3, 4, 18, 0, 0, 0, time.UTC), 2*time.Minute)
	mk("user-1", time.Date(2024, 3, 6, 8, 0, 0, 0, time.UTC), 3*time.Minute)
	mk("user-1", time.Date(2024, 2, 28, 8, 0, 0, 0, time.UTC), 4*time.Minute)
	mk("user-2", time.Date(2024, 3, 5, 8, 0, 0, 0, time.UTC), time.Minute)

	weekStart := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	sessions, err := st.ListSessionsSince(ctx, "user-1", weekStart)
	require.NoError(t, err)
	require.Len(t, sessions, 3)
	require.True(t, sessions[0].CreatedAt.Before(sessions[2].CreatedAt))

	latest, err := st.LatestSessionSince(ctx, "user-1", weekStart)
	require.NoError(t, err)
	require.Equal(t, int64(180000), latest.Duration)

	count, err := st.CountSessions(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, int64(4), count)

	daily, err := st.DailySessionTotals(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, []models.DailySessionTotal{
		{Date: "2024-03-06", SessionsCount: 1, TotalDuration: 180000},
		{Date: "2024-03-04", SessionsCount: 2, TotalDuration: 180000},
		{Date: "2024-02-28", SessionsCount: 1, TotalDuration: 240000},
	}, daily)
}

func TestGormStoreListStaleSessions(t *testing.T) {
	st, db := newTestGormStore(t)
	ctx := context.Background()
	start := time.Date(2024, 3, 6, 10, 0, 0, 0, time.UTC)

	stale := &models.Session{UserID: "user-1", StartTime: start}
	fresh := &models.Session{UserID: "user-1", StartTime: start}
	require.NoError(t, st.CreateSession(ctx, stale))
	require.NoError(t, st.CreateSession(ctx, fresh))

	require.NoError(t, db.Model(&models.Session{}).Where("id = ?", stale.ID).
		UpdateColumn("updated_at", start).Error)
	require.NoError(t, db.Model(&models.Session{}).Where("id = ?", fresh.ID).
		UpdateColumn("updated_at", start.Add(24*time.Hour)).Error)

	got, err := st.ListStaleSessions(ctx, start.Add(time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, stale.ID, got[0].ID)
}

func TestGormStoreUserTrackingTotals(t *testing.T) {
	st, _ := newTestGormStore(t)
	ctx := context.Background()
	enter := time.Date(2024, 3, 6, 10, 0, 0, 0, time.UTC)

	empty, err := st.UserTrackingTotals(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, models.TrackingTotals{}, empty)

	for _, secs := range []int{60, 120} {
		exit := enter.Add(time.Duration(secs) * time.Second)
		tr := &models.TimeTracking{
			UserID:               "user-1",
			SessionID:            "s",
			ChatPageEnterTimeUTC: enter,
			ChatPageExitTimeUTC:  &exit,
		}
		tr.AppendSegment(models.NewSpeakingSegment("a.wav", enter, enter.Add(5*time.Second)))
		require.NoError(t, st.CreateTracking(ctx, tr))
	}

	totals, err := st.UserTrackingTotals(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, int64(180), totals.TotalChatTime)
	require.InDelta(t, 10.0, totals.TotalSpeakingTime, 1e-9)
	require.InDelta(t, 90.0, totals.AverageSessionDuration, 1e-9)
	require.Equal(t, int64(2), totals.TotalSessions)
}

func TestGormStorePing(t *testing.T) {
	st, _ := newTestGormStore(t)
	require.NoError(t, st.Ping(context.Background()))
}
