package repository

import (
	"context"
	"fmt"

	"profitum_messaging/internal/messaging/domain"
	errprocess "profitum_messaging/pkg/err"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ConversationRepository definition durable thread access
type ConversationRepository interface {
	Create(ctx context.Context, conv *domain.Conversation) error
	FindByID(ctx context.Context, conversationID string) (*domain.Conversation, error)
	// ListByParticipant pages threads by last activity descending
	ListByParticipant(ctx context.Context, participantID string, page domain.Page) ([]domain.Conversation, error)
	// RecordMessage writes the denormalized snapshot and bumps unread
	// counts for every participant except the sender
	RecordMessage(ctx context.Context, conv *domain.Conversation, msg *domain.Message) error
	ResetUnread(ctx context.Context, conversationID, participantID string) error
	Delete(ctx context.Context, conversationID string) error
}

type conversationRepository struct {
	coll *mongo.Collection
}

// NewMongoConversationRepository create a ConversationRepository
func NewMongoConversationRepository(db *mongo.Database) ConversationRepository {
	return &conversationRepository{
		coll: db.Collection("conversations"),
	}
}

func (r *conversationRepository) Create(ctx context.Context, conv *domain.Conversation) error {
	_, err := r.coll.InsertOne(ctx, conv)
	return err
}

func (r *conversationRepository) FindByID(ctx context.Context, conversationID string) (*domain.Conversation, error) {
	var conv domain.Conversation
	err := r.coll.FindOne(ctx, bson.M{"_id": conversationID}).Decode(&conv)
	if err == mongo.ErrNoDocuments {
		return nil, errprocess.NotFound("conversation not found")
	}
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

func (r *conversationRepository) ListByParticipant(ctx context.Context, participantID string, page domain.Page) ([]domain.Conversation, error) {
	filter := bson.M{"participants.id": participantID}
	opts := options.Find().SetSort(bson.M{"last_activity_at": -1})
	if page.Limit > 0 {
		opts.SetLimit(int64(page.Limit))
	}
	if page.Offset > 0 {
		opts.SetSkip(int64(page.Offset))
	}

	cur, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	var convs []domain.Conversation
	if err := cur.All(ctx, &convs); err != nil {
		return nil, err
	}
	return convs, nil
}

func (r *conversationRepository) RecordMessage(ctx context.Context, conv *domain.Conversation, msg *domain.Message) error {
	set := bson.M{
		"last_message":     msg.Snapshot(),
		"last_activity_at": msg.CreatedAt,
	}
	inc := bson.M{}
	for _, p := range conv.Participants {
		if p.ID != msg.SenderID {
			inc[fmt.Sprintf("unread_counts.%s", p.ID)] = 1
		}
	}

	update := bson.M{"$set": set}
	if len(inc) > 0 {
		update["$inc"] = inc
	}

	res, err := r.coll.UpdateOne(ctx, bson.M{"_id": conv.ID}, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return errprocess.NotFound("conversation not found")
	}
	return nil
}

func (r *conversationRepository) ResetUnread(ctx context.Context, conversationID, participantID string) error {
	update := bson.M{"$set": bson.M{fmt.Sprintf("unread_counts.%s", participantID): 0}}
	res, err := r.coll.UpdateOne(ctx, bson.M{"_id": conversationID}, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return errprocess.NotFound("conversation not found")
	}
	return nil
}

func (r *conversationRepository) Delete(ctx context.Context, conversationID string) error {
	res, err := r.coll.DeleteOne(ctx, bson.M{"_id": conversationID})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return errprocess.NotFound("conversation not found")
	}
	return nil
}
