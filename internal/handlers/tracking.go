package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/glavox/glavox-server/internal/services"
	"github.com/glavox/glavox-server/internal/stats"
	appErrors "github.com/glavox/glavox-server/pkg/errors"
	"github.com/glavox/glavox-server/pkg/response"
	"github.com/glavox/glavox-server/pkg/timefmt"
)

// multipart framing allowance on top of the file limit
const multipartOverhead = 1 << 20

// TrackingHandler exposes the chat time-tracking endpoints.
type TrackingHandler struct {
	svc            *services.TrackingService
	maxUploadBytes int64
}

// NewTrackingHandler constructs a TrackingHandler. maxUploadBytes bounds the
// audio part of update-speaking-time.
func NewTrackingHandler(svc *services.TrackingService, maxUploadBytes int64) *TrackingHandler {
	return &TrackingHandler{svc: svc, maxUploadBytes: maxUploadBytes}
}

type startChatRequest struct {
	UserID    string         `json:"userId" validate:"required,userid"`
	StartTime timestampField `json:"startTime" validate:"required,timestamp"`
}

type endChatRequest struct {
	TrackingID string         `json:"trackingId" validate:"required"`
	EndTime    timestampField `json:"endTime" validate:"required,timestamp"`
	Duration   *float64       `json:"duration" validate:"omitempty,gte=0"`
}

type messageRequest struct {
	TrackingID string         `json:"trackingId" validate:"required"`
	Timestamp  timestampField `json:"timestamp" validate:"required,timestamp"`
}

type speakingUploadRequest struct {
	TrackingID string `form:"trackingId" validate:"required"`
	StartTime  string `form:"startTime" validate:"required,timestamp"`
	EndTime    string `form:"endTime" validate:"omitempty,timestamp"`
}

// StartChat handles POST /api/tracking/start-chat.
func (h *TrackingHandler) StartChat(c *gin.Context) {
	var req startChatRequest
	if !bindAndValidate(c, &req) {
		return
	}
	if !authorizeUser(c, req.UserID) {
		return
	}

	session, tracking, err := h.svc.StartTracking(requestContext(c), req.UserID, req.StartTime.Time())
	if err != nil {
		respondError(c, err)
		return
	}

	response.Flat(c, http.StatusCreated, gin.H{
		"trackingId":         tracking.ID,
		"sessionId":          session.ID,
		"formattedEnterTime": tracking.ChatPageEnterTimeIST,
	})
}

// EndChat handles POST /api/tracking/end-chat.
func (h *TrackingHandler) EndChat(c *gin.Context) {
	var req endChatRequest
	if !bindAndValidate(c, &req) {
		return
	}

	tracking, err := h.svc.EndTracking(requestContext(c), services.EndTrackingParams{
		TrackingID:     req.TrackingID,
		ExitTime:       req.EndTime.Time(),
		ClientDuration: req.Duration,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	response.Flat(c, http.StatusOK, gin.H{
		"message":                    "Chat tracking ended successfully",
		"formattedExitTime":          tracking.ChatPageExitTimeIST,
		"formattedDuration":          tracking.FormattedChatDuration(),
		"totalChatDurationInSeconds": tracking.TotalChatDurationInSeconds,
	})
}

// UpdateSpeakingTime handles POST /api/tracking/update-speaking-time.
func (h *TrackingHandler) UpdateSpeakingTime(c *gin.Context) {
	if h.maxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes+multipartOverhead)
	}

	fileHeader, err := c.FormFile("audio")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.Error(c, appErrors.ErrPayloadTooLarge)
			return
		}
		response.Error(c, appErrors.NewValidation("audio file is required"))
		return
	}
	if h.maxUploadBytes > 0 && fileHeader.Size > h.maxUploadBytes {
		response.Error(c, appErrors.ErrPayloadTooLarge)
		return
	}

	req := speakingUploadRequest{
		TrackingID: strings.TrimSpace(c.PostForm("trackingId")),
		StartTime:  strings.TrimSpace(c.PostForm("startTime")),
		EndTime:    strings.TrimSpace(c.PostForm("endTime")),
	}
	if !validate(c, &req) {
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		respondError(c, err)
		return
	}
	defer file.Close()

	params := services.UploadSegmentParams{
		TrackingID:  req.TrackingID,
		StartTime:   timestampField(req.StartTime).Time(),
		FileName:    fileHeader.Filename,
		ContentType: fileHeader.Header.Get("Content-Type"),
		Body:        file,
	}
	if req.EndTime != "" {
		end := timestampField(req.EndTime).Time()
		params.EndTime = &end
	}

	result, err := h.svc.RecordUpload(requestContext(c), params)
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"currentSegment": gin.H{
			"fileName":          result.Segment.FileName,
			"startTime":         result.Segment.StartTimeIST,
			"endTime":           result.Segment.EndTimeIST,
			"duration":          timefmt.FormatDuration(result.Segment.DurationInSeconds, timefmt.Seconds),
			"durationInSeconds": result.Segment.DurationInSeconds,
		},
		"speakingStats": speakingStatsBody(result.Stats),
	})
}

func speakingStatsBody(s stats.Summary) gin.H {
	return gin.H{
		"totalSessions":              s.Count,
		"totalSpeakingTime":          timefmt.FormatDuration(s.Total, timefmt.Seconds),
		"averageSpeakingTime":        timefmt.FormatDuration(s.Average, timefmt.Seconds),
		"longestSpeakingTime":        timefmt.FormatDuration(s.Longest, timefmt.Seconds),
		"shortestSpeakingTime":       timefmt.FormatDuration(s.Shortest, timefmt.Seconds),
		"totalSpeakingTimeInSeconds": s.Total,
		"averageDurationInSeconds":   s.Average,
	}
}

// RecordMessage handles POST /api/tracking/message.
func (h *TrackingHandler) RecordMessage(c *gin.Context) {
	var req messageRequest
	if !bindAndValidate(c, &req) {
		return
	}

	tracking, err := h.svc.RecordMessage(requestContext(c), req.TrackingID, req.Timestamp.Time())
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"firstMessageTimeIST":   tracking.FirstMessageTimeIST,
		"lastMessageTimeIST":    tracking.LastMessageTimeIST,
		"chatDurationInSeconds": tracking.ChatDurationInSeconds,
	})
}

// SessionSpeakingTime handles GET /api/tracking/session/:sessionId/speaking-time.
func (h *TrackingHandler) SessionSpeakingTime(c *gin.Context) {
	sessionID, ok := pathParam(c, "sessionId")
	if !ok {
		return
	}

	total, err := h.svc.SessionSpeakingTime(requestContext(c), sessionID)
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"sessionId":         sessionID,
		"totalSpeakingTime": total,
		"formattedDuration": timefmt.FormatWholeSeconds(total),
	})
}

// Analytics handles GET /api/tracking/analytics/:userId.
func (h *TrackingHandler) Analytics(c *gin.Context) {
	userID, ok := pathParam(c, "userId")
	if !ok || !authorizeUser(c, userID) {
		return
	}

	totals, err := h.svc.UserAnalytics(requestContext(c), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, http.StatusOK, totals)
}
