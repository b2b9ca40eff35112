package models

// DailySessionTotal groups a user's sessions by creation day (UTC, YYYY-MM-DD).
type DailySessionTotal struct {
	Date          string `json:"date" bson:"_id"`
	SessionsCount int64  `json:"sessionsCount" bson:"sessionsCount"`
	TotalDuration int64  `json:"totalDuration" bson:"totalDuration"` // milliseconds
}

// TrackingTotals aggregates every tracking record of a user.
type TrackingTotals struct {
	TotalChatTime          int64   `json:"totalChatTime" bson:"totalChatTime"`
	TotalSpeakingTime      float64 `json:"totalSpeakingTime" bson:"totalSpeakingTime"`
	AverageSessionDuration float64 `json:"averageSessionDuration" bson:"averageSessionDuration"`
	TotalSessions          int64   `json:"totalSessions" bson:"totalSessions"`
}
