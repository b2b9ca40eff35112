package handlers_test

import (
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/glavox/glavox-server/internal/handlers/testutil"
)

type startChatBody struct {
	Success            bool   `json:"success"`
	TrackingID         string `json:"trackingId"`
	SessionID          string `json:"sessionId"`
	FormattedEnterTime string `json:"formattedEnterTime"`
}

type endChatBody struct {
	Success                    bool   `json:"success"`
	Message                    string `json:"message"`
	FormattedExitTime          string `json:"formattedExitTime"`
	FormattedDuration          string `json:"formattedDuration"`
	TotalChatDurationInSeconds int64  `json:"totalChatDurationInSeconds"`
}

type uploadData struct {
	CurrentSegment struct {
		FileName          string  `json:"fileName"`
		StartTime         string  `json:"startTime"`
		EndTime           string  `json:"endTime"`
		Duration          string  `json:"duration"`
		DurationInSeconds float64 `json:"durationInSeconds"`
	} `json:"currentSegment"`
	SpeakingStats struct {
		TotalSessions              int     `json:"totalSessions"`
		TotalSpeakingTime          string  `json:"totalSpeakingTime"`
		AverageSpeakingTime        string  `json:"averageSpeakingTime"`
		LongestSpeakingTime        string  `json:"longestSpeakingTime"`
		ShortestSpeakingTime       string  `json:"shortestSpeakingTime"`
		TotalSpeakingTimeInSeconds float64 `json:"totalSpeakingTimeInSeconds"`
		AverageDurationInSeconds   float64 `json:"averageDurationInSeconds"`
	} `json:"speakingStats"`
}

func rfc(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func startChat(t *testing.T, env *testutil.Env, userID string, at time.Time, token string) startChatBody {
	t.Helper()
	w := env.Request(http.MethodPost, "/api/tracking/start-chat", map[string]any{
		"userId":    userID,
		"startTime": rfc(at),
	}, token)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var body startChatBody
	testutil.DecodeBody(t, w, &body)
	require.True(t, body.Success)
	require.NotEmpty(t, body.TrackingID)
	require.NotEmpty(t, body.SessionID)
	return body
}

func audioUpload(trackingID string, start time.Time, end *time.Time) testutil.Upload {
	fields := map[string]string{
		"trackingId": trackingID,
		"startTime":  rfc(start),
	}
	if end != nil {
		fields["endTime"] = rfc(*end)
	}
	return testutil.Upload{
		Fields:      fields,
		FileName:    "clip.m4a",
		ContentType: "audio/mp4",
		Content:     []byte("not really audio"),
	}
}

func TestStartChatCreatesSessionAndTracking(t *testing.T) {
	env := testutil.NewEnv(t)
	start := time.Date(2024, time.March, 1, 4, 30, 0, 0, time.UTC)

	body := startChat(t, env, "user-1", start, "")
	require.Equal(t, "01-03-2024 10:00:00 AM IST", body.FormattedEnterTime)

	tracking, err := env.Store.GetTracking(t.Context(), body.TrackingID)
	require.NoError(t, err)
	require.Equal(t, body.SessionID, tracking.SessionID)
	require.Equal(t, "user-1", tracking.UserID)
	require.True(t, start.Equal(tracking.ChatPageEnterTimeUTC))

	session, err := env.Store.GetSession(t.Context(), body.SessionID)
	require.NoError(t, err)
	require.True(t, session.IsActive())
}

func TestStartChatAcceptsEpochMillis(t *testing.T) {
	env := testutil.NewEnv(t)
	start := time.Date(2024, time.March, 1, 4, 30, 0, 0, time.UTC)

	w := env.Request(http.MethodPost, "/api/tracking/start-chat", map[string]any{
		"userId":    "user-1",
		"startTime": start.UnixMilli(),
	}, "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var body startChatBody
	testutil.DecodeBody(t, w, &body)
	require.Equal(t, "01-03-2024 10:00:00 AM IST", body.FormattedEnterTime)
}

func TestStartChatValidation(t *testing.T) {
	env := testutil.NewEnv(t)

	cases := map[string]map[string]any{
		"missing user":  {"startTime": rfc(env.Now)},
		"missing start": {"userId": "user-1"},
		"bad start":     {"userId": "user-1", "startTime": "yesterday"},
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			w := env.Request(http.MethodPost, "/api/tracking/start-chat", payload, "")
			require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())

			resp := testutil.DecodeResponse(t, w)
			require.False(t, resp.Success)
			require.Equal(t, "VALIDATION_ERROR", resp.Error.Code)
		})
	}

	t.Run("malformed json", func(t *testing.T) {
		w := env.Request(http.MethodPost, "/api/tracking/start-chat", "{", "")
		require.Equal(t, http.StatusBadRequest, w.Code)
		require.Equal(t, "BAD_REQUEST", testutil.DecodeResponse(t, w).Error.Code)
	})
}

func TestEndChatComputesDurationFromTimestamps(t *testing.T) {
	env := testutil.NewEnv(t)
	start := env.Now.Add(-time.Hour)
	started := startChat(t, env, "user-1", start, "")

	w := env.Request(http.MethodPost, "/api/tracking/end-chat", map[string]any{
		"trackingId": started.TrackingID,
		"endTime":    rfc(start.Add(time.Hour + 2*time.Minute + 3*time.Second)),
		"duration":   10,
	}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var body endChatBody
	testutil.DecodeBody(t, w, &body)
	require.True(t, body.Success)
	require.Equal(t, "Chat tracking ended successfully", body.Message)
	require.Equal(t, "1h 2m 3s", body.FormattedDuration)
	require.EqualValues(t, 3723, body.TotalChatDurationInSeconds)
	require.True(t, strings.HasSuffix(body.FormattedExitTime, " IST"))

	tracking, err := env.Store.GetTracking(t.Context(), started.TrackingID)
	require.NoError(t, err)
	require.NotNil(t, tracking.ClientReportedDuration)
	require.InDelta(t, 10, *tracking.ClientReportedDuration, 0.001)

	session, err := env.Store.GetSession(t.Context(), started.SessionID)
	require.NoError(t, err)
	require.False(t, session.IsActive())
	require.EqualValues(t, 3723000, session.Duration)
}

func TestEndChatTwiceOverwritesExit(t *testing.T) {
	env := testutil.NewEnv(t)
	start := env.Now.Add(-time.Hour)
	started := startChat(t, env, "user-1", start, "")

	for _, offset := range []time.Duration{time.Minute, 2 * time.Minute} {
		w := env.Request(http.MethodPost, "/api/tracking/end-chat", map[string]any{
			"trackingId": started.TrackingID,
			"endTime":    rfc(start.Add(offset)),
		}, "")
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	}

	tracking, err := env.Store.GetTracking(t.Context(), started.TrackingID)
	require.NoError(t, err)
	require.EqualValues(t, 120, tracking.TotalChatDurationInSeconds)
}

func TestEndChatErrors(t *testing.T) {
	env := testutil.NewEnv(t)
	start := env.Now.Add(-time.Hour)
	started := startChat(t, env, "user-1", start, "")

	t.Run("unknown tracking", func(t *testing.T) {
		w := env.Request(http.MethodPost, "/api/tracking/end-chat", map[string]any{
			"trackingId": "missing",
			"endTime":    rfc(env.Now),
		}, "")
		require.Equal(t, http.StatusNotFound, w.Code, w.Body.String())
		resp := testutil.DecodeResponse(t, w)
		require.Equal(t, "Tracking record not found", resp.Error.Message)
	})

	t.Run("end before start", func(t *testing.T) {
		w := env.Request(http.MethodPost, "/api/tracking/end-chat", map[string]any{
			"trackingId": started.TrackingID,
			"endTime":    rfc(start.Add(-time.Second)),
		}, "")
		require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
		resp := testutil.DecodeResponse(t, w)
		require.Equal(t, "endTime precedes the chat start", resp.Error.Message)
	})

	t.Run("negative client duration", func(t *testing.T) {
		w := env.Request(http.MethodPost, "/api/tracking/end-chat", map[string]any{
			"trackingId": started.TrackingID,
			"endTime":    rfc(env.Now),
			"duration":   -1,
		}, "")
		require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
	})
}

func TestUpdateSpeakingTimeAppendsSegments(t *testing.T) {
	env := testutil.NewEnv(t)
	start := env.Now.Add(-time.Hour)
	started := startChat(t, env, "user-1", start, "")

	segStart := start.Add(time.Minute)
	segEnd := segStart.Add(4 * time.Second)
	w := env.Upload("/api/tracking/update-speaking-time", audioUpload(started.TrackingID, segStart, &segEnd), "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := testutil.DecodeResponse(t, w)
	require.True(t, resp.Success)
	var first uploadData
	testutil.DecodeInto(t, resp.Data, &first)
	require.Equal(t, 4.0, first.CurrentSegment.DurationInSeconds)
	require.Equal(t, "4 seconds", first.CurrentSegment.Duration)
	require.True(t, strings.HasPrefix(first.CurrentSegment.FileName, "audio"))
	require.Equal(t, 1, first.SpeakingStats.TotalSessions)

	// no end time: the probed duration decides
	env.Prober.Set(3, nil)
	w = env.Upload("/api/tracking/update-speaking-time", audioUpload(started.TrackingID, segStart.Add(time.Minute), nil), "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var second uploadData
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &second)
	require.Equal(t, 3.0, second.CurrentSegment.DurationInSeconds)
	require.Equal(t, 2, second.SpeakingStats.TotalSessions)
	require.Equal(t, 7.0, second.SpeakingStats.TotalSpeakingTimeInSeconds)
	require.Equal(t, 3.5, second.SpeakingStats.AverageDurationInSeconds)
	require.Equal(t, "7 seconds", second.SpeakingStats.TotalSpeakingTime)
	require.Equal(t, "4 seconds", second.SpeakingStats.LongestSpeakingTime)
	require.Equal(t, "3 seconds", second.SpeakingStats.ShortestSpeakingTime)

	files, err := env.Uploads.ListAudio(t.Context(), started.SessionID)
	require.NoError(t, err)
	require.Len(t, files, 2)
}

func TestUpdateSpeakingTimeFallsBackToReceiptWhenProbeFails(t *testing.T) {
	env := testutil.NewEnv(t)
	start := env.Now.Add(-time.Minute)
	started := startChat(t, env, "user-1", start, "")

	env.Prober.Set(0, errors.New("ffprobe exploded"))
	w := env.Upload("/api/tracking/update-speaking-time", audioUpload(started.TrackingID, env.Now.Add(-10*time.Second), nil), "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var data uploadData
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &data)
	require.Equal(t, 10.0, data.CurrentSegment.DurationInSeconds)
}

func TestUpdateSpeakingTimeRejections(t *testing.T) {
	env := testutil.NewEnv(t, testutil.WithMaxUploadBytes(8))
	start := env.Now.Add(-time.Hour)
	started := startChat(t, env, "user-1", start, "")
	segStart := start.Add(time.Minute)
	segEnd := segStart.Add(time.Second)

	t.Run("missing file", func(t *testing.T) {
		upload := audioUpload(started.TrackingID, segStart, &segEnd)
		upload.OmitFile = true
		w := env.Upload("/api/tracking/update-speaking-time", upload, "")
		require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
		require.Equal(t, "audio file is required", testutil.DecodeResponse(t, w).Error.Message)
	})

	t.Run("too large", func(t *testing.T) {
		upload := audioUpload(started.TrackingID, segStart, &segEnd)
		upload.Content = []byte(strings.Repeat("x", 64))
		w := env.Upload("/api/tracking/update-speaking-time", upload, "")
		require.Equal(t, http.StatusRequestEntityTooLarge, w.Code, w.Body.String())
	})

	t.Run("not audio", func(t *testing.T) {
		upload := audioUpload(started.TrackingID, segStart, &segEnd)
		upload.FileName = "notes.txt"
		upload.ContentType = "text/plain"
		upload.Content = []byte("hi")
		w := env.Upload("/api/tracking/update-speaking-time", upload, "")
		require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
	})

	t.Run("segment ends before start", func(t *testing.T) {
		before := segStart.Add(-time.Second)
		upload := audioUpload(started.TrackingID, segStart, &before)
		upload.Content = []byte("tiny")
		w := env.Upload("/api/tracking/update-speaking-time", upload, "")
		require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())

		files, err := env.Uploads.ListAudio(t.Context(), started.SessionID)
		require.NoError(t, err)
		require.Empty(t, files)
	})

	t.Run("unknown tracking", func(t *testing.T) {
		upload := audioUpload("missing", segStart, &segEnd)
		upload.Content = []byte("tiny")
		w := env.Upload("/api/tracking/update-speaking-time", upload, "")
		require.Equal(t, http.StatusNotFound, w.Code, w.Body.String())
	})

	t.Run("missing start", func(t *testing.T) {
		upload := audioUpload(started.TrackingID, segStart, &segEnd)
		upload.Content = []byte("tiny")
		delete(upload.Fields, "startTime")
		w := env.Upload("/api/tracking/update-speaking-time", upload, "")
		require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
	})
}

func TestUpdateSpeakingTimeRateLimited(t *testing.T) {
	env := testutil.NewEnv(t, testutil.WithUploadLimit(1))
	start := env.Now.Add(-time.Hour)
	started := startChat(t, env, "user-1", start, "")
	segEnd := start.Add(2 * time.Second)

	w := env.Upload("/api/tracking/update-speaking-time", audioUpload(started.TrackingID, start, &segEnd), "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Equal(t, "1", w.Header().Get("X-RateLimit-Limit"))

	w = env.Upload("/api/tracking/update-speaking-time", audioUpload(started.TrackingID, start, &segEnd), "")
	require.Equal(t, http.StatusTooManyRequests, w.Code, w.Body.String())
	require.NotEmpty(t, w.Header().Get("Retry-After"))
	require.Equal(t, "TOO_MANY_REQUESTS", testutil.DecodeResponse(t, w).Error.Code)
}

func TestRecordMessageTracksWindow(t *testing.T) {
	env := testutil.NewEnv(t)
	start := env.Now.Add(-time.Hour)
	started := startChat(t, env, "user-1", start, "")

	type messageData struct {
		FirstMessageTimeIST   string `json:"firstMessageTimeIST"`
		LastMessageTimeIST    string `json:"lastMessageTimeIST"`
		ChatDurationInSeconds int64  `json:"chatDurationInSeconds"`
	}

	send := func(at time.Time) messageData {
		w := env.Request(http.MethodPost, "/api/tracking/message", map[string]any{
			"trackingId": started.TrackingID,
			"timestamp":  rfc(at),
		}, "")
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var data messageData
		testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &data)
		return data
	}

	first := send(start.Add(2 * time.Minute))
	require.Zero(t, first.ChatDurationInSeconds)
	require.Equal(t, first.FirstMessageTimeIST, first.LastMessageTimeIST)

	send(start.Add(5 * time.Minute))
	// out of order messages widen the window backwards
	last := send(start.Add(time.Minute))
	require.EqualValues(t, 240, last.ChatDurationInSeconds)

	w := env.Request(http.MethodPost, "/api/tracking/message", map[string]any{
		"trackingId": "missing",
		"timestamp":  rfc(start),
	}, "")
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestSessionSpeakingTimeSumsProbedAudio(t *testing.T) {
	env := testutil.NewEnv(t)
	start := env.Now.Add(-time.Hour)
	started := startChat(t, env, "user-1", start, "")

	type speakingData struct {
		SessionID         string  `json:"sessionId"`
		TotalSpeakingTime float64 `json:"totalSpeakingTime"`
		FormattedDuration string  `json:"formattedDuration"`
	}
	path := "/api/tracking/session/" + started.SessionID + "/speaking-time"

	w := env.Request(http.MethodGet, path, nil, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var empty speakingData
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &empty)
	require.Zero(t, empty.TotalSpeakingTime)
	require.Equal(t, "0 seconds", empty.FormattedDuration)

	segEnd := start.Add(time.Second)
	for range 2 {
		w := env.Upload("/api/tracking/update-speaking-time", audioUpload(started.TrackingID, start, &segEnd), "")
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	}
	env.Prober.Set(2.755, nil)

	w = env.Request(http.MethodGet, path, nil, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var data speakingData
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &data)
	require.Equal(t, started.SessionID, data.SessionID)
	require.InDelta(t, 5.51, data.TotalSpeakingTime, 0.001)
	require.Equal(t, "5 seconds", data.FormattedDuration)

	calls := env.Prober.Calls()
	w = env.Request(http.MethodGet, path, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, calls, env.Prober.Calls(), "unchanged directory must be served from cache")
}

func TestTrackingAnalyticsAggregatesUser(t *testing.T) {
	env := testutil.NewEnv(t)
	start := env.Now.Add(-time.Hour)

	for _, length := range []time.Duration{time.Minute, 3 * time.Minute} {
		started := startChat(t, env, "user-1", start, "")
		w := env.Request(http.MethodPost, "/api/tracking/end-chat", map[string]any{
			"trackingId": started.TrackingID,
			"endTime":    rfc(start.Add(length)),
		}, "")
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	}
	startChat(t, env, "user-2", start, "")

	type analyticsData struct {
		TotalChatTime          int64   `json:"totalChatTime"`
		TotalSpeakingTime      float64 `json:"totalSpeakingTime"`
		AverageSessionDuration float64 `json:"averageSessionDuration"`
		TotalSessions          int64   `json:"totalSessions"`
	}

	w := env.Request(http.MethodGet, "/api/tracking/analytics/user-1", nil, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var data analyticsData
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &data)
	require.EqualValues(t, 240, data.TotalChatTime)
	require.EqualValues(t, 2, data.TotalSessions)
	require.InDelta(t, 120, data.AverageSessionDuration, 0.001)
	require.Zero(t, data.TotalSpeakingTime)

	w = env.Request(http.MethodGet, "/api/tracking/analytics/nobody", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var none analyticsData
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &none)
	require.Zero(t, none.TotalSessions)
}

func TestTrackingRoutesRequireTokenWhenAuthEnabled(t *testing.T) {
	env := testutil.NewEnv(t, testutil.WithAuth())
	start := env.Now.Add(-time.Hour)

	w := env.Request(http.MethodPost, "/api/tracking/start-chat", map[string]any{
		"userId":    "user-1",
		"startTime": rfc(start),
	}, "")
	require.Equal(t, http.StatusUnauthorized, w.Code, w.Body.String())

	w = env.Request(http.MethodGet, "/api/tracking/analytics/user-1", nil, "not-a-jwt")
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, `Bearer realm="glavox"`, w.Header().Get("WWW-Authenticate"))

	token := env.Token("user-1")
	startChat(t, env, "user-1", start, token)

	w = env.Request(http.MethodPost, "/api/tracking/start-chat", map[string]any{
		"userId":    "user-2",
		"startTime": rfc(start),
	}, token)
	require.Equal(t, http.StatusForbidden, w.Code, w.Body.String())

	w = env.Request(http.MethodGet, "/api/tracking/analytics/user-2", nil, token)
	require.Equal(t, http.StatusForbidden, w.Code)

	w = env.Request(http.MethodGet, "/api/tracking/analytics/user-1", nil, token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}
