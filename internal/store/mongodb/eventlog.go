package mongodb

import (
	"context"
	"encoding/json"
	"time"

	"github.com/clinicore/clinicsync/internal/store"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

type entryDoc struct {
	ID         string    `bson:"_id"`
	EventType  string    `bson:"eventType"`
	UserID     string    `bson:"userId,omitempty"`
	Username   string    `bson:"username,omitempty"`
	TargetType string    `bson:"targetType,omitempty"`
	TargetID   string    `bson:"targetId,omitempty"`
	Action     string    `bson:"action"`
	Details    string    `bson:"details,omitempty"`
	Severity   string    `bson:"severity"`
	CreateTime time.Time `bson:"createTime"`
}

type EventLogEngine struct {
	collection *mongo.Collection
}

func NewEventLogEngine(client *mongo.Client, database string) *EventLogEngine {
	collection := client.Database(database).Collection("event_logs")

	return &EventLogEngine{
		collection,
	}
}

func (e *EventLogEngine) Setup(ctx context.Context) error {
	ttlIndexModel := mongo.IndexModel{
		Keys:    bson.D{{Key: "createTime", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(90 * 24 * 60 * 60),
	}

	actionIndexModel := mongo.IndexModel{
		Keys: bson.D{
			{Key: "action", Value: 1},
			{Key: "createTime", Value: -1},
		},
	}

	_, err := e.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{ttlIndexModel, actionIndexModel})

	return err
}

func (e *EventLogEngine) Append(ctx context.Context, entry store.Entry) error {
	if entry.ID == "" {
		entry.ID = gonanoid.Must()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	if entry.Severity == "" {
		entry.Severity = store.SeverityLow
	}

	var detailsJSON string
	if entry.Details != nil {
		raw, err := json.Marshal(entry.Details)
		if err != nil {
			return err
		}
		detailsJSON = string(raw)
	}

	_, err := e.collection.InsertOne(ctx, entryDoc{
		ID:         entry.ID,
		EventType:  entry.EventType,
		UserID:     entry.UserID,
		Username:   entry.Username,
		TargetType: entry.TargetType,
		TargetID:   entry.TargetID,
		Action:     entry.Action,
		Details:    detailsJSON,
		Severity:   string(entry.Severity),
		CreateTime: entry.CreatedAt,
	})

	return err
}

func (e *EventLogEngine) Recent(ctx context.Context, since time.Time, limit int64) ([]store.Entry, error) {
	if limit <= 0 {
		limit = 100
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "createTime", Value: -1}}).
		SetLimit(limit)

	cursor, err := e.collection.Find(ctx, bson.M{
		"createTime": bson.M{"$gte": since},
	}, opts)
	if err != nil {
		return nil, err
	}

	var docs []entryDoc
	err = cursor.All(ctx, &docs)
	if err != nil {
		return nil, err
	}

	entries := make([]store.Entry, len(docs))
	for i, doc := range docs {
		entries[i], err = doc.toEntry()
		if err != nil {
			return nil, err
		}
	}

	return entries, nil
}

func (d entryDoc) toEntry() (store.Entry, error) {
	var details any
	if d.Details != "" {
		err := json.Unmarshal([]byte(d.Details), &details)
		if err != nil {
			return store.Entry{}, err
		}
	}

	return store.Entry{
		ID:         d.ID,
		EventType:  d.EventType,
		UserID:     d.UserID,
		Username:   d.Username,
		TargetType: d.TargetType,
		TargetID:   d.TargetID,
		Action:     d.Action,
		Details:    details,
		Severity:   store.Severity(d.Severity),
		CreatedAt:  d.CreateTime,
	}, nil
}
