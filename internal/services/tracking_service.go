package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/glavox/glavox-server/internal/models"
	"github.com/glavox/glavox-server/internal/stats"
	"github.com/glavox/glavox-server/internal/storage"
	"github.com/glavox/glavox-server/internal/store"
	"github.com/glavox/glavox-server/pkg/logger"
	"github.com/glavox/glavox-server/pkg/metrics"
)

// SpeakingTimer totals probed audio per session.
type SpeakingTimer interface {
	TotalSpeakingTime(ctx context.Context, sessionID string) (float64, error)
	Invalidate(ctx context.Context, sessionID string)
}

// DurationProber measures a single stored file.
type DurationProber interface {
	Duration(ctx context.Context, path string) (float64, error)
}

// UploadStore persists audio segments per session.
type UploadStore interface {
	IsAudio(fileName, contentType string) bool
	Save(ctx context.Context, sessionID, originalName string, r io.Reader) (storage.FileInfo, error)
	Delete(ctx context.Context, sessionID, name string) error
}

// EndTrackingParams describes a chat page exit.
type EndTrackingParams struct {
	TrackingID string
	ExitTime   time.Time
	// ClientDuration is the client's own measurement in seconds. It is kept
	// for comparison only.
	ClientDuration *float64
}

// UploadSegmentParams describes one uploaded speaking segment.
type UploadSegmentParams struct {
	TrackingID  string
	StartTime   time.Time
	EndTime     *time.Time
	FileName    string
	ContentType string
	Body        io.Reader
}

// SegmentResult is the outcome of appending a speaking segment.
type SegmentResult struct {
	Segment  models.SpeakingSegment
	Stats    stats.Summary
	Tracking *models.TimeTracking
}

// TrackingService owns the chat page time-tracking lifecycle.
type TrackingService struct {
	store    store.Store
	sessions *SessionService
	uploads  UploadStore
	prober   DurationProber
	speaking SpeakingTimer
	timeNow  func() time.Time
	log      *zap.Logger
}

// TrackingOption customises TrackingService.
type TrackingOption func(*TrackingService)

// WithTrackingClock overrides the clock.
func WithTrackingClock(clock func() time.Time) TrackingOption {
	return func(s *TrackingService) {
		if clock != nil {
			s.timeNow = clock
		}
	}
}

// WithUploads wires audio storage and the prober used when an upload has no end time.
func WithUploads(uploads UploadStore, prober DurationProber) TrackingOption {
	return func(s *TrackingService) {
		s.uploads = uploads
		s.prober = prober
	}
}

// WithSpeakingTimer wires the per-session speaking time totaliser.
func WithSpeakingTimer(timer SpeakingTimer) TrackingOption {
	return func(s *TrackingService) {
		s.speaking = timer
	}
}

// NewTrackingService constructs a TrackingService.
func NewTrackingService(st store.Store, opts ...TrackingOption) (*TrackingService, error) {
	if st == nil {
		return nil, errors.New("tracking service: store is required")
	}
	svc := &TrackingService{
		store:   st,
		timeNow: time.Now,
		log:     logger.WithModule("tracking"),
	}
	for _, opt := range opts {
		opt(svc)
	}
	sessions, err := NewSessionService(st, WithSessionClock(svc.timeNow))
	if err != nil {
		return nil, err
	}
	svc.sessions = sessions
	return svc, nil
}

// StartTracking creates a session and its tracking record together.
func (s *TrackingService) StartTracking(ctx context.Context, userID string, enterTime time.Time) (*models.Session, *models.TimeTracking, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, nil, invalidInput("userId is required")
	}
	if enterTime.IsZero() {
		return nil, nil, invalidInput("startTime is required")
	}
	enterTime = enterTime.UTC()

	session := &models.Session{
		UserID:    userID,
		StartTime: enterTime,
		Status:    models.SessionStatusActive,
	}
	tracking := &models.TimeTracking{
		UserID:               userID,
		ChatPageEnterTimeUTC: enterTime,
	}
	if err := s.store.StartChat(ctx, session, tracking); err != nil {
		return nil, nil, fmt.Errorf("tracking service: start: %w", err)
	}

	metrics.TrackingEvents.WithLabelValues("started").Inc()
	s.log.Info("chat tracking started",
		zap.String("tracking_id", tracking.ID),
		zap.String("session_id", session.ID),
		zap.String("user_id", userID),
	)
	return session, tracking, nil
}

// EndTracking records the chat page exit. The chat duration is always
// recomputed from the stored timestamps; the linked session is ended too.
// Ending twice overwrites the exit fields.
func (s *TrackingService) EndTracking(ctx context.Context, params EndTrackingParams) (*models.TimeTracking, error) {
	tracking, err := s.loadTracking(ctx, params.TrackingID)
	if err != nil {
		return nil, err
	}
	if params.ExitTime.IsZero() {
		return nil, invalidInput("endTime is required")
	}
	exit := params.ExitTime.UTC()
	if exit.Before(tracking.ChatPageEnterTimeUTC) {
		return nil, invalidInput("endTime precedes the chat start")
	}

	event := "ended"
	if tracking.ChatPageExitTimeUTC != nil {
		event = "reended"
		s.log.Warn("chat tracking ended again, overwriting exit",
			zap.String("tracking_id", tracking.ID),
			zap.Time("previous_exit", *tracking.ChatPageExitTimeUTC),
			zap.Time("new_exit", exit),
		)
	}

	tracking.ChatPageExitTimeUTC = &exit
	tracking.ClientReportedDuration = params.ClientDuration
	tracking.Normalize()

	if params.ClientDuration != nil {
		diff := math.Abs(*params.ClientDuration - float64(tracking.TotalChatDurationInSeconds))
		metrics.DurationDiscrepancy.Observe(diff)
		if diff >= 1 {
			s.log.Info("client reported chat duration differs from server",
				zap.String("tracking_id", tracking.ID),
				zap.Float64("client_seconds", *params.ClientDuration),
				zap.Int64("server_seconds", tracking.TotalChatDurationInSeconds),
			)
		}
	}

	if err := s.store.SaveTracking(ctx, tracking); err != nil {
		return nil, fmt.Errorf("tracking service: save: %w", err)
	}
	s.endLinkedSession(ctx, tracking.SessionID, exit)

	metrics.TrackingEvents.WithLabelValues(event).Inc()
	return tracking, nil
}

// endLinkedSession is best effort: the tracking record is already the
// authoritative exit and a missing session must not fail the request.
func (s *TrackingService) endLinkedSession(ctx context.Context, sessionID string, exit time.Time) {
	if _, err := s.sessions.End(ctx, sessionID, exit); err != nil {
		s.log.Warn("linked session not ended", zap.String("session_id", sessionID), zap.Error(err))
	}
}

// AppendSpeakingSegment appends one segment and recomputes every statistic.
func (s *TrackingService) AppendSpeakingSegment(ctx context.Context, trackingID, fileName string, start, end time.Time) (*SegmentResult, error) {
	tracking, err := s.loadTracking(ctx, trackingID)
	if err != nil {
		return nil, err
	}
	return s.appendSegment(ctx, tracking, fileName, start, end)
}

func (s *TrackingService) appendSegment(ctx context.Context, tracking *models.TimeTracking, fileName string, start, end time.Time) (*SegmentResult, error) {
	if strings.TrimSpace(fileName) == "" {
		return nil, invalidInput("fileName is required")
	}
	if start.IsZero() || end.IsZero() {
		return nil, invalidInput("segment start and end are required")
	}
	if end.Before(start) {
		return nil, ErrInvalidSegment
	}

	segment := models.NewSpeakingSegment(fileName, start, end)
	tracking.AppendSegment(segment)
	if err := s.store.SaveTracking(ctx, tracking); err != nil {
		return nil, fmt.Errorf("tracking service: save: %w", err)
	}

	metrics.SpeakingSegments.Inc()
	return &SegmentResult{Segment: segment, Stats: tracking.Summary(), Tracking: tracking}, nil
}

// RecordUpload resolves the tracking record, stores the audio under its
// session and appends the segment. Without an end time the segment ends at
// start + probed duration, or at receipt time when probing fails.
func (s *TrackingService) RecordUpload(ctx context.Context, params UploadSegmentParams) (*SegmentResult, error) {
	if s.uploads == nil {
		return nil, errors.New("tracking service: upload storage not configured")
	}
	if params.StartTime.IsZero() {
		return nil, invalidInput("startTime is required")
	}
	if !s.uploads.IsAudio(params.FileName, params.ContentType) {
		return nil, ErrUnsupportedMedia
	}

	tracking, err := s.loadTracking(ctx, params.TrackingID)
	if err != nil {
		return nil, err
	}

	received := s.timeNow().UTC()
	stored, err := s.uploads.Save(ctx, tracking.SessionID, params.FileName, params.Body)
	if err != nil {
		if errors.Is(err, storage.ErrTooLarge) {
			return nil, ErrUploadTooLarge
		}
		return nil, fmt.Errorf("tracking service: store upload: %w", err)
	}

	start := params.StartTime.UTC()
	var end time.Time
	switch {
	case params.EndTime != nil && !params.EndTime.IsZero():
		end = params.EndTime.UTC()
	default:
		end = s.probedEnd(ctx, stored, start, received)
	}

	result, err := s.appendSegment(ctx, tracking, stored.Name, start, end)
	if err != nil {
		if errors.Is(err, ErrInvalidInput) {
			// nothing references the file yet
			_ = s.uploads.Delete(ctx, tracking.SessionID, stored.Name)
		}
		return nil, err
	}

	if s.speaking != nil {
		s.speaking.Invalidate(ctx, tracking.SessionID)
	}
	return result, nil
}

func (s *TrackingService) probedEnd(ctx context.Context, file storage.FileInfo, start, received time.Time) time.Time {
	fallback := received
	if fallback.Before(start) {
		fallback = start
	}
	if s.prober == nil {
		return fallback
	}
	seconds, err := s.prober.Duration(ctx, file.Path)
	if err != nil {
		s.log.Warn("probe failed, using receipt time as segment end",
			zap.String("file", file.Name),
			zap.Error(err),
		)
		return fallback
	}
	return start.Add(time.Duration(seconds * float64(time.Second)))
}

// RecordMessage widens the first/last message window to include at.
func (s *TrackingService) RecordMessage(ctx context.Context, trackingID string, at time.Time) (*models.TimeTracking, error) {
	if at.IsZero() {
		return nil, invalidInput("timestamp is required")
	}
	tracking, err := s.loadTracking(ctx, trackingID)
	if err != nil {
		return nil, err
	}

	at = at.UTC()
	if tracking.FirstMessageTimeUTC == nil || at.Before(*tracking.FirstMessageTimeUTC) {
		first := at
		tracking.FirstMessageTimeUTC = &first
	}
	if tracking.LastMessageTimeUTC == nil || at.After(*tracking.LastMessageTimeUTC) {
		last := at
		tracking.LastMessageTimeUTC = &last
	}
	tracking.Normalize()

	if err := s.store.SaveTracking(ctx, tracking); err != nil {
		return nil, fmt.Errorf("tracking service: save: %w", err)
	}
	metrics.TrackingEvents.WithLabelValues("message").Inc()
	return tracking, nil
}

// GetTracking loads a tracking record.
func (s *TrackingService) GetTracking(ctx context.Context, trackingID string) (*models.TimeTracking, error) {
	return s.loadTracking(ctx, trackingID)
}

// SessionSpeakingTime totals the probed audio stored for a session.
func (s *TrackingService) SessionSpeakingTime(ctx context.Context, sessionID string) (float64, error) {
	if strings.TrimSpace(sessionID) == "" {
		return 0, invalidInput("sessionId is required")
	}
	if s.speaking == nil {
		return 0, errors.New("tracking service: speaking timer not configured")
	}
	total, err := s.speaking.TotalSpeakingTime(ctx, sessionID)
	if err != nil {
		return 0, fmt.Errorf("tracking service: speaking time: %w", err)
	}
	return total, nil
}

// UserAnalytics aggregates every tracking record of the user.
func (s *TrackingService) UserAnalytics(ctx context.Context, userID string) (models.TrackingTotals, error) {
	if strings.TrimSpace(userID) == "" {
		return models.TrackingTotals{}, invalidInput("userId is required")
	}
	totals, err := s.store.UserTrackingTotals(ctx, userID)
	if err != nil {
		return models.TrackingTotals{}, fmt.Errorf("tracking service: analytics: %w", err)
	}
	totals.AverageSessionDuration = stats.Round2(totals.AverageSessionDuration)
	totals.TotalSpeakingTime = stats.Round2(totals.TotalSpeakingTime)
	return totals, nil
}

func (s *TrackingService) loadTracking(ctx context.Context, trackingID string) (*models.TimeTracking, error) {
	trackingID = strings.TrimSpace(trackingID)
	if trackingID == "" {
		return nil, invalidInput("trackingId is required")
	}
	tracking, err := s.store.GetTracking(ctx, trackingID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrTrackingNotFound
		}
		return nil, fmt.Errorf("tracking service: load: %w", err)
	}
	return tracking, nil
}
