package store

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const framesCollection = "frames"

// FrameMeta is the stored record for one uploaded frame. The bytes
// themselves live on the frame job; only metadata is kept, and MongoDB
// expires it via the TTL index on expires_at.
type FrameMeta struct {
	FrameId     string    `bson:"frame_id" json:"frame_id"`
	AgentId     string    `bson:"agent_id" json:"agent_id"`
	Size        int       `bson:"size" json:"size"`
	Width       int       `bson:"width" json:"width"`
	Height      int       `bson:"height" json:"height"`
	ContentType string    `bson:"content_type" json:"content_type"`
	ReceivedAt  time.Time `bson:"received_at" json:"received_at"`
	ExpiresAt   time.Time `bson:"expires_at" json:"expires_at"`
}

type FrameStore struct {
	db        *mongo.Database
	retention time.Duration
}

func NewFrameStore(db *mongo.Database, retention time.Duration) *FrameStore {
	return &FrameStore{db: db, retention: retention}
}

func (s *FrameStore) Insert(ctx context.Context, meta FrameMeta) error {
	if meta.ExpiresAt.IsZero() {
		meta.ExpiresAt = meta.ReceivedAt.Add(s.retention)
	}

	_, err := s.db.Collection(framesCollection).InsertOne(ctx, meta)
	if err != nil {
		return fmt.Errorf("failed to insert frame meta: %w", err)
	}
	return nil
}

// RecentByAgent returns the newest frame records for one agent.
func (s *FrameStore) RecentByAgent(ctx context.Context, agentId string, limit int64) ([]FrameMeta, error) {
	opts := options.Find().
		SetSort(bson.M{"received_at": -1}).
		SetLimit(limit)

	cur, err := s.db.Collection(framesCollection).Find(ctx, bson.M{"agent_id": agentId}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query frames: %w", err)
	}
	defer cur.Close(ctx)

	var out []FrameMeta
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("failed to decode frames: %w", err)
	}
	return out, nil
}
