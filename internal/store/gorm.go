package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/glavox/glavox-server/internal/models"
)

var _ Store = (*GormStore)(nil)

// GormStore implements Store on a relational database.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore wraps an opened and migrated gorm handle.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if db == nil {
		return nil, errors.New("gorm store: db is required")
	}
	return &GormStore{db: db}, nil
}

// DB exposes the handle for components sharing the connection, such as the cache.
func (s *GormStore) DB() *gorm.DB {
	return s.db
}

func (s *GormStore) CreateSession(ctx context.Context, session *models.Session) error {
	if session == nil {
		return errors.New("gorm store: session is required")
	}
	if err := s.db.WithContext(ensureContext(ctx)).Create(session).Error; err != nil {
		return fmt.Errorf("gorm store: create session: %w", err)
	}
	return nil
}

func (s *GormStore) SaveSession(ctx context.Context, session *models.Session) error {
	if session == nil || strings.TrimSpace(session.ID) == "" {
		return errors.New("gorm store: session id is required")
	}
	if err := s.db.WithContext(ensureContext(ctx)).Save(session).Error; err != nil {
		return fmt.Errorf("gorm store: save session: %w", err)
	}
	return nil
}

func (s *GormStore) GetSession(ctx context.Context, id string) (*models.Session, error) {
	var session models.Session
	err := s.db.WithContext(ensureContext(ctx)).Take(&session, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("gorm store: get session: %w", err)
	}
	return &session, nil
}

func (s *GormStore) DeleteSession(ctx context.Context, id string) error {
	if err := s.db.WithContext(ensureContext(ctx)).Delete(&models.Session{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("gorm store: delete session: %w", err)
	}
	return nil
}

func (s *GormStore) SessionExists(ctx context.Context, id string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ensureContext(ctx)).Model(&models.Session{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, fmt.Errorf("gorm store: session exists: %w", err)
	}
	return count > 0, nil
}

func (s *GormStore) ListSessionsSince(ctx context.Context, userID string, since time.Time) ([]models.Session, error) {
	var sessions []models.Session
	err := s.db.WithContext(ensureContext(ctx)).
		Where("user_id = ? AND created_at >= ?", userID, since.UTC()).
		Order("created_at ASC").
		Find(&sessions).Error
	if err != nil {
		return nil, fmt.Errorf("gorm store: list sessions: %w", err)
	}
	return sessions, nil
}

func (s *GormStore) LatestSessionSince(ctx context.Context, userID string, since time.Time) (*models.Session, error) {
	var session models.Session
	err := s.db.WithContext(ensureContext(ctx)).
		Where("user_id = ? AND created_at >= ?", userID, since.UTC()).
		Order("created_at DESC").
		Take(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("gorm store: latest session: %w", err)
	}
	return &session, nil
}

func (s *GormStore) CountSessions(ctx context.Context, userID string) (int64, error) {
	var count int64
	if err := s.db.WithContext(ensureContext(ctx)).Model(&models.Session{}).Where("user_id = ?", userID).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("gorm store: count sessions: %w", err)
	}
	return count, nil
}

// DailySessionTotals groups in Go: day truncation differs across sqlite,
// postgres and mysql.
func (s *GormStore) DailySessionTotals(ctx context.Context, userID string) ([]models.DailySessionTotal, error) {
	var sessions []models.Session
	err := s.db.WithContext(ensureContext(ctx)).
		Select("id", "duration", "created_at").
		Where("user_id = ?", userID).
		Find(&sessions).Error
	if err != nil {
		return nil, fmt.Errorf("gorm store: daily totals: %w", err)
	}
	return groupDaily(sessions), nil
}

func (s *GormStore) ListStaleSessions(ctx context.Context, before time.Time, limit int) ([]models.Session, error) {
	query := s.db.WithContext(ensureContext(ctx)).
		Where("status = ? AND updated_at < ?", models.SessionStatusActive, before.UTC()).
		Order("updated_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var sessions []models.Session
	if err := query.Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("gorm store: list stale sessions: %w", err)
	}
	return sessions, nil
}

func (s *GormStore) CreateTracking(ctx context.Context, tracking *models.TimeTracking) error {
	if tracking == nil {
		return errors.New("gorm store: tracking is required")
	}
	if err := s.db.WithContext(ensureContext(ctx)).Create(tracking).Error; err != nil {
		return fmt.Errorf("gorm store: create tracking: %w", err)
	}
	return nil
}

func (s *GormStore) SaveTracking(ctx context.Context, tracking *models.TimeTracking) error {
	if tracking == nil || strings.TrimSpace(tracking.ID) == "" {
		return errors.New("gorm store: tracking id is required")
	}
	if err := s.db.WithContext(ensureContext(ctx)).Save(tracking).Error; err != nil {
		return fmt.Errorf("gorm store: save tracking: %w", err)
	}
	return nil
}

func (s *GormStore) GetTracking(ctx context.Context, id string) (*models.TimeTracking, error) {
	var tracking models.TimeTracking
	err := s.db.WithContext(ensureContext(ctx)).Take(&tracking, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("gorm store: get tracking: %w", err)
	}
	return &tracking, nil
}

func (s *GormStore) GetTrackingBySession(ctx context.Context, sessionID string) (*models.TimeTracking, error) {
	var tracking models.TimeTracking
	err := s.db.WithContext(ensureContext(ctx)).
		Where("session_id = ?", sessionID).
		Order("created_at DESC").
		Take(&tracking).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("gorm store: get tracking by session: %w", err)
	}
	return &tracking, nil
}

func (s *GormStore) UserTrackingTotals(ctx context.Context, userID string) (models.TrackingTotals, error) {
	var totals models.TrackingTotals
	err := s.db.WithContext(ensureContext(ctx)).
		Model(&models.TimeTracking{}).
		Select(`COALESCE(SUM(total_chat_duration_in_seconds), 0) AS total_chat_time,
			COALESCE(SUM(total_speaking_time_in_seconds), 0) AS total_speaking_time,
			COALESCE(AVG(total_chat_duration_in_seconds), 0) AS average_session_duration,
			COUNT(*) AS total_sessions`).
		Where("user_id = ?", userID).
		Scan(&totals).Error
	if err != nil {
		return models.TrackingTotals{}, fmt.Errorf("gorm store: tracking totals: %w", err)
	}
	return totals, nil
}

// StartChat creates both records in one transaction.
func (s *GormStore) StartChat(ctx context.Context, session *models.Session, tracking *models.TimeTracking) error {
	if session == nil || tracking == nil {
		return errors.New("gorm store: session and tracking are required")
	}
	return s.db.WithContext(ensureContext(ctx)).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(session).Error; err != nil {
			return fmt.Errorf("gorm store: create session: %w", err)
		}
		tracking.SessionID = session.ID
		if tracking.UserID == "" {
			tracking.UserID = session.UserID
		}
		if err := tx.Create(tracking).Error; err != nil {
			return fmt.Errorf("gorm store: create tracking: %w", err)
		}
		return nil
	})
}

func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ensureContext(ctx))
}

func (s *GormStore) Close(context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
