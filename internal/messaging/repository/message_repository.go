package repository

import (
	"context"

	"profitum_messaging/internal/messaging/domain"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MessageRepository definition durable message access. Messages are
// immutable once sent; only status metadata may change.
type MessageRepository interface {
	Insert(ctx context.Context, msg *domain.Message) error
	// ListByConversation returns one page ascending by creation time.
	// page.Before is a created-at cursor for loading older messages;
	// zero asks for the latest page.
	ListByConversation(ctx context.Context, conversationID string, page domain.Page) ([]domain.Message, error)
	// MarkConversationRead advances sent/delivered inbound messages to
	// read and reports how many rows changed
	MarkConversationRead(ctx context.Context, conversationID, readerID string) (int64, error)
}

type messageRepository struct {
	coll *mongo.Collection
}

// NewMongoMessageRepository create a MessageRepository
func NewMongoMessageRepository(db *mongo.Database) MessageRepository {
	return &messageRepository{
		coll: db.Collection("messages"),
	}
}

func (r *messageRepository) Insert(ctx context.Context, msg *domain.Message) error {
	_, err := r.coll.InsertOne(ctx, msg)
	return err
}

func (r *messageRepository) ListByConversation(ctx context.Context, conversationID string, page domain.Page) ([]domain.Message, error) {
	filter := bson.M{"conversation_id": conversationID}
	if page.Before > 0 {
		filter["created_at"] = bson.M{"$lt": page.Before}
	}

	// fetch newest-first so the limit trims the oldest rows, then
	// reverse back to ascending for the caller
	opts := options.Find().SetSort(bson.M{"created_at": -1})
	if page.Limit > 0 {
		opts.SetLimit(int64(page.Limit))
	}

	cur, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	var msgs []domain.Message
	if err := cur.All(ctx, &msgs); err != nil {
		return nil, err
	}

	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (r *messageRepository) MarkConversationRead(ctx context.Context, conversationID, readerID string) (int64, error) {
	filter := bson.M{
		"conversation_id": conversationID,
		"sender_id":       bson.M{"$ne": readerID},
		"status":          bson.M{"$in": []domain.DeliveryStatus{domain.StatusSent, domain.StatusDelivered}},
	}
	update := bson.M{"$set": bson.M{"status": domain.StatusRead}}

	res, err := r.coll.UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}
