package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/glavox/glavox-server/internal/database/testutil"
	"github.com/glavox/glavox-server/internal/store"
)

func newTestStore(t *testing.T) (*store.GormStore, *gorm.DB) {
	t.Helper()
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	st, err := store.NewGormStore(db)
	require.NoError(t, err)
	return st, db
}

func fixedClock(now time.Time) func() time.Time {
	return func() time.Time { return now }
}

type fakeProber struct {
	seconds float64
	err     error
	calls   int
}

func (p *fakeProber) Duration(context.Context, string) (float64, error) {
	p.calls++
	return p.seconds, p.err
}

type fakeSpeakingTimer struct {
	mu          sync.Mutex
	total       float64
	err         error
	invalidated []string
}

func (f *fakeSpeakingTimer) TotalSpeakingTime(context.Context, string) (float64, error) {
	return f.total, f.err
}

func (f *fakeSpeakingTimer) Invalidate(_ context.Context, sessionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated = append(f.invalidated, sessionID)
}
