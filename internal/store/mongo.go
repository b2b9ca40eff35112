package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/glavox/glavox-server/internal/models"
	"github.com/glavox/glavox-server/pkg/logger"
)

const (
	sessionsCollection  = "sessions"
	trackingsCollection = "timetrackings"

	defaultMongoTimeout  = 10 * time.Second
	compensationTimeout  = 5 * time.Second
	defaultMongoDatabase = "glavox"
)

var _ Store = (*MongoStore)(nil)

// MongoConfig describes the MongoDB connection.
type MongoConfig struct {
	URI      string
	Database string
	Timeout  time.Duration
}

// MongoStore implements Store on MongoDB. Without multi-document
// transactions StartChat runs as a saga with a compensating delete.
type MongoStore struct {
	client    *mongo.Client
	sessions  *mongo.Collection
	trackings *mongo.Collection
	now       func() time.Time
	log       *zap.Logger
}

// MongoOption customises the MongoStore.
type MongoOption func(*MongoStore)

// WithMongoClock overrides the clock used for createdAt/updatedAt.
func WithMongoClock(now func() time.Time) MongoOption {
	return func(s *MongoStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewMongoStore connects, verifies the primary and ensures indexes.
func NewMongoStore(ctx context.Context, cfg MongoConfig, opts ...MongoOption) (*MongoStore, error) {
	uri := strings.TrimSpace(cfg.URI)
	if uri == "" {
		return nil, errors.New("mongo store: uri is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultMongoTimeout
	}
	dbName := strings.TrimSpace(cfg.Database)
	if dbName == "" {
		dbName = defaultMongoDatabase
	}

	connectCtx, cancel := context.WithTimeout(ensureContext(ctx), timeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().
		ApplyURI(uri).
		SetServerSelectionTimeout(timeout).
		SetConnectTimeout(timeout))
	if err != nil {
		return nil, fmt.Errorf("mongo store: connect: %w", err)
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo store: ping: %w", err)
	}

	db := client.Database(dbName)
	store := &MongoStore{
		client:    client,
		sessions:  db.Collection(sessionsCollection),
		trackings: db.Collection(trackingsCollection),
		now:       time.Now,
		log:       logger.WithModule("store.mongo"),
	}
	for _, opt := range opts {
		opt(store)
	}

	if err := store.EnsureIndexes(connectCtx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return store, nil
}

// EnsureIndexes creates the lookup indexes used by the analytics queries.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	sessionIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "createdAt", Value: -1}}},
		{Keys: bson.D{{Key: "status", Value: 1}}},
	}
	if _, err := s.sessions.Indexes().CreateMany(ctx, sessionIndexes); err != nil {
		return fmt.Errorf("mongo store: session indexes: %w", err)
	}

	trackingIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "createdAt", Value: -1}}},
		{Keys: bson.D{{Key: "sessionId", Value: 1}}},
		{Keys: bson.D{{Key: "chatPageEnterTimeUTC", Value: 1}}},
	}
	if _, err := s.trackings.Indexes().CreateMany(ctx, trackingIndexes); err != nil {
		return fmt.Errorf("mongo store: tracking indexes: %w", err)
	}
	return nil
}

func (s *MongoStore) CreateSession(ctx context.Context, session *models.Session) error {
	if session == nil {
		return errors.New("mongo store: session is required")
	}
	session.Prepare(s.now())
	if _, err := s.sessions.InsertOne(ensureContext(ctx), session); err != nil {
		return fmt.Errorf("mongo store: create session: %w", err)
	}
	return nil
}

func (s *MongoStore) SaveSession(ctx context.Context, session *models.Session) error {
	if session == nil || strings.TrimSpace(session.ID) == "" {
		return errors.New("mongo store: session id is required")
	}
	session.Prepare(s.now())
	res, err := s.sessions.ReplaceOne(ensureContext(ctx), bson.M{"_id": session.ID}, session)
	if err != nil {
		return fmt.Errorf("mongo store: save session: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) GetSession(ctx context.Context, id string) (*models.Session, error) {
	var session models.Session
	if err := s.sessions.FindOne(ensureContext(ctx), bson.M{"_id": id}).Decode(&session); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("mongo store: get session: %w", err)
	}
	return &session, nil
}

func (s *MongoStore) DeleteSession(ctx context.Context, id string) error {
	if _, err := s.sessions.DeleteOne(ensureContext(ctx), bson.M{"_id": id}); err != nil {
		return fmt.Errorf("mongo store: delete session: %w", err)
	}
	return nil
}

func (s *MongoStore) SessionExists(ctx context.Context, id string) (bool, error) {
	count, err := s.sessions.CountDocuments(ensureContext(ctx), bson.M{"_id": id}, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("mongo store: session exists: %w", err)
	}
	return count > 0, nil
}

func (s *MongoStore) ListSessionsSince(ctx context.Context, userID string, since time.Time) ([]models.Session, error) {
	ctx = ensureContext(ctx)
	filter := bson.M{"userId": userID, "createdAt": bson.M{"$gte": since.UTC()}}
	cur, err := s.sessions.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("mongo store: list sessions: %w", err)
	}
	var sessions []models.Session
	if err := cur.All(ctx, &sessions); err != nil {
		return nil, fmt.Errorf("mongo store: decode sessions: %w", err)
	}
	return sessions, nil
}

func (s *MongoStore) LatestSessionSince(ctx context.Context, userID string, since time.Time) (*models.Session, error) {
	filter := bson.M{"userId": userID, "createdAt": bson.M{"$gte": since.UTC()}}
	opts := options.FindOne().SetSort(bson.D{{Key: "createdAt", Value: -1}})

	var session models.Session
	if err := s.sessions.FindOne(ensureContext(ctx), filter, opts).Decode(&session); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("mongo store: latest session: %w", err)
	}
	return &session, nil
}

func (s *MongoStore) CountSessions(ctx context.Context, userID string) (int64, error) {
	count, err := s.sessions.CountDocuments(ensureContext(ctx), bson.M{"userId": userID})
	if err != nil {
		return 0, fmt.Errorf("mongo store: count sessions: %w", err)
	}
	return count, nil
}

func (s *MongoStore) DailySessionTotals(ctx context.Context, userID string) ([]models.DailySessionTotal, error) {
	ctx = ensureContext(ctx)
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"userId": userID}}},
		{{Key: "$group", Value: bson.M{
			"_id":           bson.M{"$dateToString": bson.M{"format": "%Y-%m-%d", "date": "$createdAt"}},
			"sessionsCount": bson.M{"$sum": 1},
			"totalDuration": bson.M{"$sum": "$duration"},
		}}},
		{{Key: "$sort", Value: bson.M{"_id": -1}}},
	}
	cur, err := s.sessions.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("mongo store: daily totals: %w", err)
	}
	var totals []models.DailySessionTotal
	if err := cur.All(ctx, &totals); err != nil {
		return nil, fmt.Errorf("mongo store: decode daily totals: %w", err)
	}
	return totals, nil
}

func (s *MongoStore) ListStaleSessions(ctx context.Context, before time.Time, limit int) ([]models.Session, error) {
	ctx = ensureContext(ctx)
	filter := bson.M{"status": models.SessionStatusActive, "updatedAt": bson.M{"$lt": before.UTC()}}
	opts := options.Find().SetSort(bson.D{{Key: "updatedAt", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := s.sessions.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo store: list stale sessions: %w", err)
	}
	var sessions []models.Session
	if err := cur.All(ctx, &sessions); err != nil {
		return nil, fmt.Errorf("mongo store: decode stale sessions: %w", err)
	}
	return sessions, nil
}

func (s *MongoStore) CreateTracking(ctx context.Context, tracking *models.TimeTracking) error {
	if tracking == nil {
		return errors.New("mongo store: tracking is required")
	}
	tracking.Prepare(s.now())
	if _, err := s.trackings.InsertOne(ensureContext(ctx), tracking); err != nil {
		return fmt.Errorf("mongo store: create tracking: %w", err)
	}
	return nil
}

func (s *MongoStore) SaveTracking(ctx context.Context, tracking *models.TimeTracking) error {
	if tracking == nil || strings.TrimSpace(tracking.ID) == "" {
		return errors.New("mongo store: tracking id is required")
	}
	tracking.Prepare(s.now())
	res, err := s.trackings.ReplaceOne(ensureContext(ctx), bson.M{"_id": tracking.ID}, tracking)
	if err != nil {
		return fmt.Errorf("mongo store: save tracking: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) GetTracking(ctx context.Context, id string) (*models.TimeTracking, error) {
	return s.findTracking(ctx, bson.M{"_id": id})
}

func (s *MongoStore) GetTrackingBySession(ctx context.Context, sessionID string) (*models.TimeTracking, error) {
	return s.findTracking(ctx, bson.M{"sessionId": sessionID})
}

func (s *MongoStore) findTracking(ctx context.Context, filter bson.M) (*models.TimeTracking, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	var tracking models.TimeTracking
	if err := s.trackings.FindOne(ensureContext(ctx), filter, opts).Decode(&tracking); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("mongo store: get tracking: %w", err)
	}
	return &tracking, nil
}

func (s *MongoStore) UserTrackingTotals(ctx context.Context, userID string) (models.TrackingTotals, error) {
	ctx = ensureContext(ctx)
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"userId": userID}}},
		{{Key: "$group", Value: bson.M{
			"_id":                    nil,
			"totalChatTime":          bson.M{"$sum": "$totalChatDurationInSeconds"},
			"totalSpeakingTime":      bson.M{"$sum": "$totalSpeakingTimeInSeconds"},
			"averageSessionDuration": bson.M{"$avg": "$totalChatDurationInSeconds"},
			"totalSessions":          bson.M{"$sum": 1},
		}}},
	}
	cur, err := s.trackings.Aggregate(ctx, pipeline)
	if err != nil {
		return models.TrackingTotals{}, fmt.Errorf("mongo store: tracking totals: %w", err)
	}
	var rows []models.TrackingTotals
	if err := cur.All(ctx, &rows); err != nil {
		return models.TrackingTotals{}, fmt.Errorf("mongo store: decode tracking totals: %w", err)
	}
	if len(rows) == 0 {
		return models.TrackingTotals{}, nil
	}
	return rows[0], nil
}

// StartChat inserts the session, then the tracking record. When the second
// insert fails the session is deleted again so no orphan survives.
func (s *MongoStore) StartChat(ctx context.Context, session *models.Session, tracking *models.TimeTracking) error {
	if session == nil || tracking == nil {
		return errors.New("mongo store: session and tracking are required")
	}
	if err := s.CreateSession(ctx, session); err != nil {
		return err
	}

	tracking.SessionID = session.ID
	if tracking.UserID == "" {
		tracking.UserID = session.UserID
	}
	if err := s.CreateTracking(ctx, tracking); err != nil {
		compCtx, cancel := context.WithTimeout(context.WithoutCancel(ensureContext(ctx)), compensationTimeout)
		defer cancel()
		if delErr := s.DeleteSession(compCtx, session.ID); delErr != nil {
			s.log.Error("compensating session delete failed",
				zap.String("session_id", session.ID),
				zap.Error(delErr),
			)
			return multierr.Combine(err, delErr)
		}
		return err
	}
	return nil
}

func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ensureContext(ctx), readpref.Primary())
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ensureContext(ctx))
}
