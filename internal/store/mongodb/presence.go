package mongodb

import (
	"context"
	"time"

	"github.com/clinicore/clinicsync/internal/store"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

type presenceDoc struct {
	UserID           string    `bson:"_id"`
	Status           string    `bson:"status"`
	LastSeen         time.Time `bson:"lastSeen"`
	CurrentPage      string    `bson:"currentPage,omitempty"`
	CurrentActivity  string    `bson:"currentActivity,omitempty"`
	IsTyping         bool      `bson:"isTyping"`
	TypingEntityID   string    `bson:"typingEntityId,omitempty"`
	TypingEntityType string    `bson:"typingEntityType,omitempty"`
	CreateTime       time.Time `bson:"createTime"`
	UpdateTime       time.Time `bson:"updateTime"`
}

type PresenceEngine struct {
	collection *mongo.Collection
}

func NewPresenceEngine(client *mongo.Client, database string) *PresenceEngine {
	collection := client.Database(database).Collection("presence")

	return &PresenceEngine{
		collection,
	}
}

func (e *PresenceEngine) Setup(ctx context.Context) error {
	lastSeenIndexModel := mongo.IndexModel{
		Keys: bson.D{{Key: "lastSeen", Value: -1}},
	}

	statusIndexModel := mongo.IndexModel{
		Keys: bson.D{
			{Key: "status", Value: 1},
			{Key: "lastSeen", Value: -1},
		},
	}

	_, err := e.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{lastSeenIndexModel, statusIndexModel})

	return err
}

func (e *PresenceEngine) Upsert(ctx context.Context, userID string, update store.PresenceUpdate) (store.Presence, error) {
	now := time.Now()

	set := bson.M{
		"lastSeen":   now,
		"updateTime": now,
	}
	setOnInsert := bson.M{
		"createTime": now,
	}

	if update.Status != "" {
		set["status"] = string(update.Status)
	} else {
		setOnInsert["status"] = string(store.StatusOnline)
	}
	if update.CurrentPage != nil {
		set["currentPage"] = *update.CurrentPage
	}
	if update.CurrentActivity != nil {
		set["currentActivity"] = *update.CurrentActivity
	}
	if update.IsTyping != nil {
		set["isTyping"] = *update.IsTyping
	}
	if update.TypingEntityID != nil {
		set["typingEntityId"] = *update.TypingEntityID
	}
	if update.TypingEntityType != nil {
		set["typingEntityType"] = *update.TypingEntityType
	}

	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var doc presenceDoc
	err := e.collection.FindOneAndUpdate(
		ctx,
		bson.M{"_id": userID},
		bson.M{"$set": set, "$setOnInsert": setOnInsert},
		opts,
	).Decode(&doc)
	if err != nil {
		return store.Presence{}, err
	}

	return doc.toPresence(), nil
}

func (e *PresenceEngine) GetOnline(ctx context.Context) ([]store.Presence, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "lastSeen", Value: -1}})

	cursor, err := e.collection.Find(ctx, bson.M{"status": string(store.StatusOnline)}, opts)
	if err != nil {
		return nil, err
	}

	var docs []presenceDoc
	err = cursor.All(ctx, &docs)
	if err != nil {
		return nil, err
	}

	presences := make([]store.Presence, len(docs))
	for i, doc := range docs {
		presences[i] = doc.toPresence()
	}

	return presences, nil
}

func (e *PresenceEngine) MarkStaleOffline(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := e.collection.UpdateMany(ctx,
		bson.M{
			"lastSeen": bson.M{"$lt": olderThan},
			"status":   bson.M{"$ne": string(store.StatusOffline)},
		},
		bson.M{"$set": bson.M{
			"status":     string(store.StatusOffline),
			"isTyping":   false,
			"updateTime": time.Now(),
		}},
	)
	if err != nil {
		return 0, err
	}

	return result.ModifiedCount, nil
}

func (e *PresenceEngine) PurgeOlderThan(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := e.collection.DeleteMany(ctx, bson.M{
		"lastSeen": bson.M{"$lt": olderThan},
	})
	if err != nil {
		return 0, err
	}

	return result.DeletedCount, nil
}

func (d presenceDoc) toPresence() store.Presence {
	return store.Presence{
		UserID:           d.UserID,
		Status:           store.PresenceStatus(d.Status),
		LastSeen:         d.LastSeen,
		CurrentPage:      d.CurrentPage,
		CurrentActivity:  d.CurrentActivity,
		IsTyping:         d.IsTyping,
		TypingEntityID:   d.TypingEntityID,
		TypingEntityType: d.TypingEntityType,
		UpdatedAt:        d.UpdateTime,
	}
}
