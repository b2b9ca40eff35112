package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/glavox/glavox-server/internal/stats"
	"github.com/glavox/glavox-server/pkg/timefmt"
)

// SpeakingSegment is one contiguous interval during which the user spoke.
type SpeakingSegment struct {
	FileName          string    `json:"fileName" bson:"fileName"`
	StartTimeUTC      time.Time `json:"startTimeUTC" bson:"startTimeUTC"`
	StartTimeIST      string    `json:"startTimeIST" bson:"startTimeIST"`
	EndTimeUTC        time.Time `json:"endTimeUTC" bson:"endTimeUTC"`
	EndTimeIST        string    `json:"endTimeIST" bson:"endTimeIST"`
	DurationInSeconds float64   `json:"durationInSeconds" bson:"durationInSeconds"`
}

// NewSpeakingSegment builds a segment whose duration is end-start rounded to
// the nearest second.
func NewSpeakingSegment(fileName string, start, end time.Time) SpeakingSegment {
	seg := SpeakingSegment{
		FileName:     fileName,
		StartTimeUTC: start.UTC(),
		EndTimeUTC:   end.UTC(),
	}
	seg.normalize()
	return seg
}

func (s *SpeakingSegment) normalize() {
	s.StartTimeUTC = s.StartTimeUTC.UTC()
	s.EndTimeUTC = s.EndTimeUTC.UTC()
	s.StartTimeIST = timefmt.RegionalStringOf(s.StartTimeUTC)
	s.EndTimeIST = timefmt.RegionalStringOf(s.EndTimeUTC)
	if !s.StartTimeUTC.IsZero() && !s.EndTimeUTC.IsZero() {
		s.DurationInSeconds = float64(timefmt.SecondsBetween(s.StartTimeUTC, s.EndTimeUTC))
	}
}

// TimeTracking is the per-session analytics record: page enter/exit, message
// window and speaking segments with their derived statistics.
type TimeTracking struct {
	ID        string `gorm:"primaryKey;size:36" json:"id" bson:"_id"`
	UserID    string `gorm:"size:128;not null;index:idx_time_trackings_user_created,priority:1" json:"userId" bson:"userId"`
	SessionID string `gorm:"size:36;not null;index" json:"sessionId" bson:"sessionId"`

	ChatPageEnterTimeUTC       time.Time  `gorm:"column:chat_page_enter_time_utc;not null;index" json:"chatPageEnterTimeUTC" bson:"chatPageEnterTimeUTC"`
	ChatPageEnterTimeIST       string     `gorm:"column:chat_page_enter_time_ist;size:40" json:"chatPageEnterTimeIST" bson:"chatPageEnterTimeIST"`
	ChatPageExitTimeUTC        *time.Time `gorm:"column:chat_page_exit_time_utc" json:"chatPageExitTimeUTC,omitempty" bson:"chatPageExitTimeUTC,omitempty"`
	ChatPageExitTimeIST        string     `gorm:"column:chat_page_exit_time_ist;size:40" json:"chatPageExitTimeIST,omitempty" bson:"chatPageExitTimeIST,omitempty"`
	TotalChatDurationInSeconds int64      `gorm:"column:total_chat_duration_in_seconds;not null;default:0" json:"totalChatDurationInSeconds" bson:"totalChatDurationInSeconds"`

	FirstMessageTimeUTC   *time.Time `gorm:"column:first_message_time_utc" json:"firstMessageTimeUTC,omitempty" bson:"firstMessageTimeUTC,omitempty"`
	FirstMessageTimeIST   string     `gorm:"column:first_message_time_ist;size:40" json:"firstMessageTimeIST,omitempty" bson:"firstMessageTimeIST,omitempty"`
	LastMessageTimeUTC    *time.Time `gorm:"column:last_message_time_utc" json:"lastMessageTimeUTC,omitempty" bson:"lastMessageTimeUTC,omitempty"`
	LastMessageTimeIST    string     `gorm:"column:last_message_time_ist;size:40" json:"lastMessageTimeIST,omitempty" bson:"lastMessageTimeIST,omitempty"`
	ChatDurationInSeconds int64      `gorm:"column:chat_duration_in_seconds;not null;default:0" json:"chatDurationInSeconds" bson:"chatDurationInSeconds"`

	TotalSpeakingTimeInSeconds float64                              `gorm:"column:total_speaking_time_in_seconds;not null;default:0" json:"totalSpeakingTimeInSeconds" bson:"totalSpeakingTimeInSeconds"`
	SpeakingCount              int                                  `gorm:"column:speaking_count;not null;default:0" json:"speakingCount" bson:"speakingCount"`
	AverageDurationInSeconds   float64                              `gorm:"column:average_duration_in_seconds;not null;default:0" json:"averageDurationInSeconds" bson:"averageDurationInSeconds"`
	LongestDurationInSeconds   float64                              `gorm:"column:longest_duration_in_seconds;not null;default:0" json:"longestDurationInSeconds" bson:"longestDurationInSeconds"`
	ShortestDurationInSeconds  float64                              `gorm:"column:shortest_duration_in_seconds;not null;default:0" json:"shortestDurationInSeconds" bson:"shortestDurationInSeconds"`
	SpeakingSegments           datatypes.JSONSlice[SpeakingSegment] `gorm:"column:speaking_segments" json:"speakingSegments" bson:"speakingSegments"`

	// ClientReportedDuration is advisory; TotalChatDurationInSeconds is always server computed.
	ClientReportedDuration *float64 `gorm:"column:client_reported_duration" json:"clientReportedDuration,omitempty" bson:"clientReportedDuration,omitempty"`

	CreatedAt time.Time `gorm:"index:idx_time_trackings_user_created,priority:2,sort:desc" json:"createdAt" bson:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt" bson:"updatedAt"`
}

// TableName keeps the table name stable regardless of naming strategy.
func (TimeTracking) TableName() string {
	return "time_tracking_records"
}

// Normalize recomputes every derived field from the UTC instants and the
// segment list.
func (t *TimeTracking) Normalize() {
	t.ChatPageEnterTimeUTC = t.ChatPageEnterTimeUTC.UTC()
	t.ChatPageExitTimeUTC = utcPtr(t.ChatPageExitTimeUTC)
	t.FirstMessageTimeUTC = utcPtr(t.FirstMessageTimeUTC)
	t.LastMessageTimeUTC = utcPtr(t.LastMessageTimeUTC)

	t.ChatPageEnterTimeIST = regionalOrEmpty(&t.ChatPageEnterTimeUTC)
	t.ChatPageExitTimeIST = regionalOrEmpty(t.ChatPageExitTimeUTC)
	t.FirstMessageTimeIST = regionalOrEmpty(t.FirstMessageTimeUTC)
	t.LastMessageTimeIST = regionalOrEmpty(t.LastMessageTimeUTC)

	t.TotalChatDurationInSeconds = 0
	if t.ChatPageExitTimeUTC != nil && !t.ChatPageEnterTimeUTC.IsZero() {
		t.TotalChatDurationInSeconds = timefmt.SecondsBetween(t.ChatPageEnterTimeUTC, *t.ChatPageExitTimeUTC)
	}

	t.ChatDurationInSeconds = 0
	if t.FirstMessageTimeUTC != nil && t.LastMessageTimeUTC != nil {
		t.ChatDurationInSeconds = timefmt.SecondsBetween(*t.FirstMessageTimeUTC, *t.LastMessageTimeUTC)
	}

	if t.SpeakingSegments == nil {
		t.SpeakingSegments = datatypes.JSONSlice[SpeakingSegment]{}
	}
	durations := make([]float64, len(t.SpeakingSegments))
	for i := range t.SpeakingSegments {
		t.SpeakingSegments[i].normalize()
		durations[i] = t.SpeakingSegments[i].DurationInSeconds
	}
	t.applySummary(stats.Compute(durations))
}

func (t *TimeTracking) applySummary(s stats.Summary) {
	t.TotalSpeakingTimeInSeconds = s.Total
	t.SpeakingCount = s.Count
	t.AverageDurationInSeconds = s.Average
	t.LongestDurationInSeconds = s.Longest
	t.ShortestDurationInSeconds = s.Shortest
}

// Summary returns the stored speaking statistics.
func (t *TimeTracking) Summary() stats.Summary {
	return stats.Summary{
		Total:    t.TotalSpeakingTimeInSeconds,
		Count:    t.SpeakingCount,
		Average:  t.AverageDurationInSeconds,
		Longest:  t.LongestDurationInSeconds,
		Shortest: t.ShortestDurationInSeconds,
	}
}

// AppendSegment adds seg to the end of the list and recomputes the statistics.
func (t *TimeTracking) AppendSegment(seg SpeakingSegment) {
	t.SpeakingSegments = append(t.SpeakingSegments, seg)
	t.Normalize()
}

// FormattedChatDuration renders the total chat duration as "1h 2m 3s".
func (t *TimeTracking) FormattedChatDuration() string {
	return timefmt.FormatCompact(float64(t.TotalChatDurationInSeconds))
}

// Prepare assigns an id and timestamps for stores without gorm hooks.
func (t *TimeTracking) Prepare(now time.Time) {
	ensureID(&t.ID)
	touch(&t.CreatedAt, &t.UpdatedAt, now)
	t.Normalize()
}

// BeforeCreate ensures UUID identifiers are generated automatically.
func (t *TimeTracking) BeforeCreate(tx *gorm.DB) error {
	ensureID(&t.ID)
	return nil
}

// BeforeSave runs on both create and update.
func (t *TimeTracking) BeforeSave(tx *gorm.DB) error {
	t.Normalize()
	return nil
}

func regionalOrEmpty(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return timefmt.RegionalStringOf(*t)
}
