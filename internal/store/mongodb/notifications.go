package mongodb

import (
	"context"
	"encoding/json"
	"time"

	"github.com/clinicore/clinicsync/internal/ierr"
	"github.com/clinicore/clinicsync/internal/store"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

type notificationDoc struct {
	ID         string     `bson:"_id"`
	UserID     string     `bson:"userId"`
	Type       string     `bson:"type"`
	Title      string     `bson:"title"`
	Message    string     `bson:"message"`
	Data       string     `bson:"data,omitempty"`
	Priority   string     `bson:"priority"`
	IsRead     bool       `bson:"isRead"`
	ReadAt     *time.Time `bson:"readAt,omitempty"`
	CreateTime time.Time  `bson:"createTime"`
}

type NotificationEngine struct {
	collection *mongo.Collection
}

func NewNotificationEngine(client *mongo.Client, database string) *NotificationEngine {
	collection := client.Database(database).Collection("notifications")

	return &NotificationEngine{
		collection,
	}
}

func (e *NotificationEngine) Setup(ctx context.Context) error {
	userIndexModel := mongo.IndexModel{
		Keys: bson.D{
			{Key: "userId", Value: 1},
			{Key: "createTime", Value: -1},
		},
	}

	unreadIndexModel := mongo.IndexModel{
		Keys: bson.D{
			{Key: "userId", Value: 1},
			{Key: "isRead", Value: 1},
		},
	}

	_, err := e.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{userIndexModel, unreadIndexModel})

	return err
}

func (e *NotificationEngine) Create(ctx context.Context, notification store.Notification) (store.Notification, error) {
	if notification.ID == "" {
		notification.ID = gonanoid.Must()
	}
	if notification.Priority == "" {
		notification.Priority = store.PriorityMedium
	}
	notification.CreatedAt = time.Now()
	notification.IsRead = false
	notification.ReadAt = nil

	var dataJSON string
	if notification.Data != nil {
		raw, err := json.Marshal(notification.Data)
		if err != nil {
			return store.Notification{}, err
		}
		dataJSON = string(raw)
	}

	_, err := e.collection.InsertOne(ctx, notificationDoc{
		ID:         notification.ID,
		UserID:     notification.UserID,
		Type:       string(notification.Type),
		Title:      notification.Title,
		Message:    notification.Message,
		Data:       dataJSON,
		Priority:   string(notification.Priority),
		IsRead:     false,
		CreateTime: notification.CreatedAt,
	})
	if err != nil {
		return store.Notification{}, err
	}

	return notification, nil
}

func (e *NotificationEngine) GetUnreadCount(ctx context.Context, userID string) (int64, error) {
	return e.collection.CountDocuments(ctx, bson.M{
		"userId": userID,
		"isRead": false,
	})
}

func (e *NotificationEngine) ListForUser(ctx context.Context, userID string, listOpts store.ListOptions) ([]store.Notification, error) {
	filter := bson.M{"userId": userID}
	if listOpts.UnreadOnly {
		filter["isRead"] = false
	}
	if listOpts.Type != "" {
		filter["type"] = string(listOpts.Type)
	}

	limit := listOpts.Limit
	if limit <= 0 {
		limit = 50
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "createTime", Value: -1}}).
		SetLimit(limit).
		SetSkip(listOpts.Offset)

	cursor, err := e.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}

	var docs []notificationDoc
	err = cursor.All(ctx, &docs)
	if err != nil {
		return nil, err
	}

	notifications := make([]store.Notification, len(docs))
	for i, doc := range docs {
		notifications[i], err = doc.toNotification()
		if err != nil {
			return nil, err
		}
	}

	return notifications, nil
}

func (e *NotificationEngine) MarkRead(ctx context.Context, userID, notificationID string) error {
	now := time.Now()

	result, err := e.collection.UpdateOne(ctx,
		bson.M{"_id": notificationID, "userId": userID},
		bson.M{"$set": bson.M{"isRead": true, "readAt": now}},
	)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return ierr.New(ierr.ErrorCodeNotFound, mongo.ErrNoDocuments)
	}

	return nil
}

func (e *NotificationEngine) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	now := time.Now()

	result, err := e.collection.UpdateMany(ctx,
		bson.M{"userId": userID, "isRead": false},
		bson.M{"$set": bson.M{"isRead": true, "readAt": now}},
	)
	if err != nil {
		return 0, err
	}

	return result.ModifiedCount, nil
}

func (e *NotificationEngine) PurgeOlderThan(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := e.collection.DeleteMany(ctx, bson.M{
		"createTime": bson.M{"$lt": olderThan},
	})
	if err != nil {
		return 0, err
	}

	return result.DeletedCount, nil
}

func (d notificationDoc) toNotification() (store.Notification, error) {
	var data map[string]any
	if d.Data != "" {
		err := json.Unmarshal([]byte(d.Data), &data)
		if err != nil {
			return store.Notification{}, err
		}
	}

	return store.Notification{
		ID:        d.ID,
		UserID:    d.UserID,
		Type:      store.NotificationType(d.Type),
		Title:     d.Title,
		Message:   d.Message,
		Data:      data,
		Priority:  store.Priority(d.Priority),
		IsRead:    d.IsRead,
		ReadAt:    d.ReadAt,
		CreatedAt: d.CreateTime,
	}, nil
}
