package handlers

import (
	"math"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/glavox/glavox-server/internal/services"
	"github.com/glavox/glavox-server/pkg/response"
)

// SessionHandler exposes the session summary endpoints.
type SessionHandler struct {
	svc *services.SessionService
}

func NewSessionHandler(svc *services.SessionService) *SessionHandler {
	return &SessionHandler{svc: svc}
}

type saveSessionRequest struct {
	UserID    string         `json:"userId" validate:"required,userid"`
	Email     string         `json:"email" validate:"omitempty,email"`
	StartTime timestampField `json:"startTime" validate:"required,timestamp"`
	Date      string         `json:"date" validate:"max=64"`
	// milliseconds
	Duration *float64 `json:"duration" validate:"omitempty,gte=0"`
}

// POST /api/sessions/save
func (h *SessionHandler) Save(c *gin.Context) {
	var req saveSessionRequest
	if !bindAndValidate(c, &req) {
		return
	}
	if !authorizeUser(c, req.UserID) {
		return
	}

	params := services.SaveSessionParams{
		UserID:    req.UserID,
		Email:     req.Email,
		StartTime: req.StartTime.Time(),
		Date:      req.Date,
	}
	if req.Duration != nil {
		params.Duration = int64(math.Round(*req.Duration))
	}

	session, err := h.svc.Save(requestContext(c), params)
	if err != nil {
		respondError(c, err)
		return
	}

	response.Flat(c, http.StatusOK, gin.H{
		"message":       "Session saved successfully",
		"sessionNumber": session.SessionNumber,
	})
}

// GET /api/sessions/weekly/:userId
func (h *SessionHandler) Weekly(c *gin.Context) {
	userID, ok := pathParam(c, "userId")
	if !ok || !authorizeUser(c, userID) {
		return
	}

	sessions, err := h.svc.WeeklyForUser(requestContext(c), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, http.StatusOK, sessions)
}

// GET /api/sessions/check/:userId
func (h *SessionHandler) CheckActive(c *gin.Context) {
	userID, ok := pathParam(c, "userId")
	if !ok || !authorizeUser(c, userID) {
		return
	}

	active, found, err := h.svc.CheckActive(requestContext(c), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	if !found {
		response.Bare(c, http.StatusOK, gin.H{"hasActiveSession": false})
		return
	}

	response.Bare(c, http.StatusOK, gin.H{
		"hasActiveSession": true,
		"sessionDetails": gin.H{
			"startTime":       active.StartTime,
			"date":            active.Date,
			"duration":        active.Duration,
			"sessionNumber":   active.SessionNumber,
			"lastInteraction": active.LastInteraction,
		},
	})
}

// GET /api/sessions/analytics/:userId
// The body is the bare per-day array.
func (h *SessionHandler) Analytics(c *gin.Context) {
	userID, ok := pathParam(c, "userId")
	if !ok || !authorizeUser(c, userID) {
		return
	}

	totals, err := h.svc.Analytics(requestContext(c), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Bare(c, http.StatusOK, totals)
}
