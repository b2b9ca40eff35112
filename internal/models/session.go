package models

import (
	"encoding/json"
	"time"

	"gorm.io/gorm"

	"github.com/glavox/glavox-server/pkg/timefmt"
)

// SessionStatus tracks whether a chat session is still running.
type SessionStatus string

const (
	SessionStatusActive SessionStatus = "active"
	SessionStatusEnded  SessionStatus = "ended"
)

// Session is a bounded period of a user's activity in the chat experience.
type Session struct {
	ID            string        `gorm:"primaryKey;size:36" json:"id" bson:"_id"`
	UserID        string        `gorm:"size:128;not null;index:idx_sessions_user_created,priority:1" json:"userId" bson:"userId"`
	Email         string        `gorm:"size:255" json:"email,omitempty" bson:"email,omitempty"`
	SessionNumber int           `gorm:"not null;default:0" json:"sessionNumber,omitempty" bson:"sessionNumber,omitempty"`
	Date          string        `gorm:"size:64" json:"date,omitempty" bson:"date,omitempty"`
	StartTime     time.Time     `gorm:"not null" json:"startTime" bson:"startTime"`
	EndTime       *time.Time    `json:"endTime,omitempty" bson:"endTime,omitempty"`
	Duration      int64         `gorm:"not null;default:0" json:"duration" bson:"duration"` // milliseconds
	Status        SessionStatus `gorm:"size:16;not null;index" json:"status" bson:"status"`
	CreatedAt     time.Time     `gorm:"index:idx_sessions_user_created,priority:2,sort:desc" json:"createdAt" bson:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt" bson:"updatedAt"`
}

// Normalize enforces the save-time invariants: UTC instants, a default status,
// and duration derived from the two timestamps whenever both exist.
func (s *Session) Normalize() {
	if s.Status == "" {
		s.Status = SessionStatusActive
	}
	if !s.StartTime.IsZero() {
		s.StartTime = s.StartTime.UTC()
	}
	s.EndTime = utcPtr(s.EndTime)
	if s.EndTime != nil && !s.StartTime.IsZero() {
		s.Duration = s.EndTime.Sub(s.StartTime).Milliseconds()
	}
}

// Prepare assigns an id and timestamps for stores without gorm hooks.
func (s *Session) Prepare(now time.Time) {
	ensureID(&s.ID)
	touch(&s.CreatedAt, &s.UpdatedAt, now)
	s.Normalize()
}

// BeforeCreate ensures UUID identifiers are generated automatically.
func (s *Session) BeforeCreate(tx *gorm.DB) error {
	ensureID(&s.ID)
	return nil
}

// BeforeSave runs on both create and update.
func (s *Session) BeforeSave(tx *gorm.DB) error {
	s.Normalize()
	return nil
}

// IsActive reports whether the session has not been ended.
func (s *Session) IsActive() bool {
	return s != nil && s.Status == SessionStatusActive
}

// MarshalJSON adds the display fields the client renders directly.
func (s Session) MarshalJSON() ([]byte, error) {
	type plain Session
	return json.Marshal(struct {
		plain
		StartTimeIST      string `json:"startTimeIST"`
		EndTimeIST        string `json:"endTimeIST"`
		DurationFormatted string `json:"durationFormatted"`
	}{
		plain:             plain(s),
		StartTimeIST:      timefmt.RegionalStringOf(s.StartTime),
		EndTimeIST:        timefmt.RegionalString(s.EndTime),
		DurationFormatted: timefmt.FormatMillis(s.Duration),
	})
}
