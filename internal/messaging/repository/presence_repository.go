package repository

import (
	"context"
	"fmt"
	"time"

	"profitum_messaging/internal/messaging/domain"
	"profitum_messaging/pkg/database"

	"github.com/go-redis/redis/v8"
)

// PresenceRepository ephemeral typing and online signals. Everything
// here rides a TTL; nothing is ever persisted.
type PresenceRepository interface {
	SetTyping(ctx context.Context, t domain.TypingIndicator) error
	Heartbeat(ctx context.Context, participantID string) error
	IsOnline(ctx context.Context, participantID string) (bool, error)
}

type presenceRepository struct {
	typing database.RedisRepository[domain.TypingIndicator]
	online database.RedisRepository[domain.OnlineStatus]
}

// NewRedisPresenceRepository create a PresenceRepository
func NewRedisPresenceRepository(client *redis.Client) PresenceRepository {
	return &presenceRepository{
		typing: database.NewRedisRepository[domain.TypingIndicator](client),
		online: database.NewRedisRepository[domain.OnlineStatus](client),
	}
}

func typingKey(conversationID, participantID string) string {
	return fmt.Sprintf("messaging:typing:%s:%s", conversationID, participantID)
}

func onlineKey(participantID string) string {
	return fmt.Sprintf("messaging:online:%s", participantID)
}

func (r *presenceRepository) SetTyping(ctx context.Context, t domain.TypingIndicator) error {
	key := typingKey(t.ConversationID, t.ParticipantID)
	if !t.IsTyping {
		return r.typing.Del(ctx, key)
	}
	return r.typing.Set(ctx, key, t, domain.TypingTTL)
}

func (r *presenceRepository) Heartbeat(ctx context.Context, participantID string) error {
	status := domain.OnlineStatus{
		ParticipantID: participantID,
		Online:        true,
		LastSeen:      time.Now().UnixMilli(),
	}
	return r.online.Set(ctx, onlineKey(participantID), status, domain.PresenceTTL)
}

func (r *presenceRepository) IsOnline(ctx context.Context, participantID string) (bool, error) {
	ttl, err := r.online.GetTTL(ctx, onlineKey(participantID))
	if err != nil {
		return false, err
	}
	return ttl > 0, nil
}
