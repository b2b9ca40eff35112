package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// ErrChatEnded is returned by ChatSession calls made after End succeeded.
var ErrChatEnded = errors.New("client: chat already ended")

// ChatSession times one chat. It is safe for concurrent use.
type ChatSession struct {
	client *Client

	TrackingID         string
	SessionID          string
	StartedAt          time.Time
	FormattedEnterTime string

	mu            sync.Mutex
	speakingSince time.Time
	ended         bool
}

// StartChat opens a tracked chat for userID starting now.
func (c *Client) StartChat(ctx context.Context, userID string) (*ChatSession, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, errors.New("client: user id required")
	}

	startedAt := c.now().UTC()
	req, err := c.jsonRequest(http.MethodPost, "/tracking/start-chat", map[string]string{
		"userId":    userID,
		"startTime": formatTimestamp(startedAt),
	}, false)
	if err != nil {
		return nil, err
	}

	var out struct {
		TrackingID         string `json:"trackingId"`
		SessionID          string `json:"sessionId"`
		FormattedEnterTime string `json:"formattedEnterTime"`
	}
	if err := c.do(ctx, req, &out); err != nil {
		return nil, err
	}
	if out.TrackingID == "" {
		return nil, errors.New("client: start-chat response carried no tracking id")
	}

	return &ChatSession{
		client:             c,
		TrackingID:         out.TrackingID,
		SessionID:          out.SessionID,
		StartedAt:          startedAt,
		FormattedEnterTime: out.FormattedEnterTime,
	}, nil
}

// EndResult is the server's summary of an ended chat.
type EndResult struct {
	Message                    string  `json:"message"`
	FormattedExitTime          string  `json:"formattedExitTime"`
	FormattedDuration          string  `json:"formattedDuration"`
	TotalChatDurationInSeconds float64 `json:"totalChatDurationInSeconds"`
}

// End closes the chat now. The locally measured duration is sent as a hint;
// the server recomputes the authoritative value from the timestamps.
func (s *ChatSession) End(ctx context.Context) (*EndResult, error) {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return nil, ErrChatEnded
	}
	s.mu.Unlock()

	endedAt := s.client.now().UTC()
	duration := endedAt.Sub(s.StartedAt).Seconds()
	if duration < 0 {
		duration = 0
	}

	req, err := s.client.jsonRequest(http.MethodPost, "/tracking/end-chat", map[string]any{
		"trackingId": s.TrackingID,
		"endTime":    formatTimestamp(endedAt),
		"duration":   duration,
	}, true)
	if err != nil {
		return nil, err
	}

	var out EndResult
	if err := s.client.do(ctx, req, &out); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.ended = true
	s.speakingSince = time.Time{}
	s.mu.Unlock()
	return &out, nil
}

// MessageResult is the chat window after a message was recorded.
type MessageResult struct {
	FirstMessageTimeIST   string  `json:"firstMessageTimeIST"`
	LastMessageTimeIST    string  `json:"lastMessageTimeIST"`
	ChatDurationInSeconds float64 `json:"chatDurationInSeconds"`
}

// RecordMessage reports a chat message sent at the given instant. A zero time
// means now.
func (s *ChatSession) RecordMessage(ctx context.Context, at time.Time) (*MessageResult, error) {
	if s.isEnded() {
		return nil, ErrChatEnded
	}
	if at.IsZero() {
		at = s.client.now()
	}

	req, err := s.client.jsonRequest(http.MethodPost, "/tracking/message", map[string]string{
		"trackingId": s.TrackingID,
		"timestamp":  formatTimestamp(at),
	}, true)
	if err != nil {
		return nil, err
	}

	var out struct {
		Data MessageResult `json:"data"`
	}
	if err := s.client.do(ctx, req, &out); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

// BeginSpeaking marks the start of a speaking segment. Repeated calls keep the
// first mark until the segment is uploaded.
func (s *ChatSession) BeginSpeaking() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.speakingSince.IsZero() {
		s.speakingSince = s.client.now().UTC()
	}
}

// Speaking reports whether a segment is open.
func (s *ChatSession) Speaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.speakingSince.IsZero()
}

// Audio is one recorded speaking segment.
type Audio struct {
	FileName    string
	ContentType string
	Body        io.Reader
	// StartTime defaults to the BeginSpeaking mark. A zero EndTime lets the
	// server derive the end from the probed audio length.
	StartTime time.Time
	EndTime   time.Time
}

// Segment mirrors the server's currentSegment block.
type Segment struct {
	FileName          string  `json:"fileName"`
	StartTime         string  `json:"startTime"`
	EndTime           string  `json:"endTime"`
	Duration          string  `json:"duration"`
	DurationInSeconds float64 `json:"durationInSeconds"`
}

// SpeakingStats mirrors the server's speakingStats block.
type SpeakingStats struct {
	TotalSessions              int     `json:"totalSessions"`
	TotalSpeakingTime          string  `json:"totalSpeakingTime"`
	AverageSpeakingTime        string  `json:"averageSpeakingTime"`
	LongestSpeakingTime        string  `json:"longestSpeakingTime"`
	ShortestSpeakingTime       string  `json:"shortestSpeakingTime"`
	TotalSpeakingTimeInSeconds float64 `json:"totalSpeakingTimeInSeconds"`
	AverageDurationInSeconds   float64 `json:"averageDurationInSeconds"`
}

// SpeakingResult is returned by UploadSpeaking.
type SpeakingResult struct {
	CurrentSegment Segment       `json:"currentSegment"`
	SpeakingStats  SpeakingStats `json:"speakingStats"`
}

// UploadSpeaking sends a speaking segment recording and closes the open
// speaking mark.
func (s *ChatSession) UploadSpeaking(ctx context.Context, audio Audio) (*SpeakingResult, error) {
	if audio.Body == nil {
		return nil, errors.New("client: audio body required")
	}

	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return nil, ErrChatEnded
	}
	start := audio.StartTime
	if start.IsZero() {
		start = s.speakingSince
	}
	s.mu.Unlock()
	if start.IsZero() {
		return nil, errors.New("client: speaking start unknown; call BeginSpeaking or set StartTime")
	}

	body, contentType, err := speakingForm(s.TrackingID, start, audio)
	if err != nil {
		return nil, err
	}

	var out struct {
		Data SpeakingResult `json:"data"`
	}
	req := request{
		method:      http.MethodPost,
		path:        "/tracking/update-speaking-time",
		body:        body,
		contentType: contentType,
	}
	if err := s.client.do(ctx, req, &out); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.speakingSince = time.Time{}
	s.mu.Unlock()
	return &out.Data, nil
}

func speakingForm(trackingID string, start time.Time, audio Audio) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	fields := [][2]string{
		{"trackingId", trackingID},
		{"startTime", formatTimestamp(start)},
	}
	if !audio.EndTime.IsZero() {
		fields = append(fields, [2]string{"endTime", formatTimestamp(audio.EndTime)})
	}
	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return nil, "", fmt.Errorf("client: write %s: %w", f[0], err)
		}
	}

	name := filepath.Base(strings.TrimSpace(audio.FileName))
	if name == "" || name == "." || name == string(filepath.Separator) {
		name = "speech.wav"
	}
	contentType := strings.TrimSpace(audio.ContentType)
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="audio"; filename=%q`, name))
	header.Set("Content-Type", contentType)
	part, err := w.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("client: create audio part: %w", err)
	}
	if _, err := io.Copy(part, audio.Body); err != nil {
		return nil, "", fmt.Errorf("client: copy audio: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("client: close form: %w", err)
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

func (s *ChatSession) isEnded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}
