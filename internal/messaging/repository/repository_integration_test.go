package repository

import (
	"context"
	"fmt"
	"log"
	"os"
	"testing"
	"time"

	"profitum_messaging/internal/messaging/domain"
	"profitum_messaging/pkg/database"
	errprocess "profitum_messaging/pkg/err"
	"profitum_messaging/pkg/logger"
	testtool "profitum_messaging/pkg/test_tool"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// set MESSAGING_INTEGRATION=1 to run against real containers
var (
	integrationUp bool
	mongoDB       *database.MongoDB
	redisClient   *redis.Client
)

func TestMain(m *testing.M) {
	logger.SetNewNop()

	if os.Getenv("MESSAGING_INTEGRATION") == "" {
		os.Exit(m.Run())
	}

	ctx := context.Background()

	mongoContainer, mongoHost, mongoPort, err := testtool.SetupContainer(ctx, testcontainers.ContainerRequest{
		Image:        "mongo:latest",
		ExposedPorts: []string{"27017/tcp"},
		WaitingFor:   wait.ForListeningPort("27017/tcp"),
	})
	if err != nil {
		log.Fatalf("Failed to start MongoDB container: %v", err)
	}

	redisContainer, redisHost, redisPort, err := testtool.SetupContainer(ctx, testcontainers.ContainerRequest{
		Image:        "redis:latest",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp"),
	})
	if err != nil {
		log.Fatalf("Failed to start Redis container: %v", err)
	}

	mongoDB, err = database.NewMongoDB(ctx, database.Connection{
		ConnectStr:    fmt.Sprintf("mongodb://%s:%s", mongoHost, mongoPort),
		RetryCount:    5,
		RetryInterval: 2,
	}, "test_messaging_db")
	if err != nil {
		log.Fatalf("Failed to connect to MongoDB: %v", err)
	}

	redisClient = redis.NewClient(&redis.Options{
		Addr: fmt.Sprintf("%s:%s", redisHost, redisPort),
		DB:   0,
	})

	integrationUp = true
	code := m.Run()

	mongoDB.Close(ctx)
	_ = mongoContainer.Terminate(ctx)
	_ = redisContainer.Terminate(ctx)
	os.Exit(code)
}

func requireIntegration(t *testing.T) {
	t.Helper()
	if !integrationUp {
		t.Skip("set MESSAGING_INTEGRATION=1 to run container tests")
	}
}

func TestMongoConversationRepository(t *testing.T) {
	requireIntegration(t)
	ctx := context.Background()
	repo := NewMongoConversationRepository(mongoDB.Database)

	expertID := uuid.New().String()
	clientID := uuid.New().String()
	conv := &domain.Conversation{
		ID:   uuid.New().String(),
		Kind: domain.KindExpertClient,
		Participants: []domain.Participant{
			{ID: expertID, Role: domain.RoleExpert},
			{ID: clientID, Role: domain.RoleClient},
		},
		UnreadCounts:   map[string]int{expertID: 0, clientID: 0},
		CreatedAt:      time.Now().UnixMilli(),
		LastActivityAt: time.Now().UnixMilli(),
	}

	assert.NoError(t, repo.Create(ctx, conv))

	found, err := repo.FindByID(ctx, conv.ID)
	assert.NoError(t, err)
	assert.Equal(t, conv.ID, found.ID)
	assert.Len(t, found.Participants, 2)

	msg := &domain.Message{
		ID:             uuid.New().String(),
		ConversationID: conv.ID,
		SenderID:       expertID,
		Content:        "Votre dossier est pré-éligible",
		Status:         domain.StatusSent,
		CreatedAt:      time.Now().UnixMilli(),
	}
	assert.NoError(t, repo.RecordMessage(ctx, conv, msg))

	found, err = repo.FindByID(ctx, conv.ID)
	assert.NoError(t, err)
	assert.Equal(t, msg.ID, found.LastMessage.MessageID)
	assert.Equal(t, 0, found.UnreadFor(expertID))
	assert.Equal(t, 1, found.UnreadFor(clientID))

	assert.NoError(t, repo.ResetUnread(ctx, conv.ID, clientID))
	found, err = repo.FindByID(ctx, conv.ID)
	assert.NoError(t, err)
	assert.Equal(t, 0, found.UnreadFor(clientID))

	listed, err := repo.ListByParticipant(ctx, clientID, domain.Page{Limit: 10})
	assert.NoError(t, err)
	assert.Len(t, listed, 1)

	assert.NoError(t, repo.Delete(ctx, conv.ID))
	_, err = repo.FindByID(ctx, conv.ID)
	assert.True(t, errprocess.IsKind(err, errprocess.KindNotFound))
}

func TestMongoMessageRepositoryPaging(t *testing.T) {
	requireIntegration(t)
	ctx := context.Background()
	repo := NewMongoMessageRepository(mongoDB.Database)

	conversationID := uuid.New().String()
	senderID := uuid.New().String()
	readerID := uuid.New().String()

	base := time.Now().UnixMilli()
	for i := 0; i < 5; i++ {
		assert.NoError(t, repo.Insert(ctx, &domain.Message{
			ID:             uuid.New().String(),
			ConversationID: conversationID,
			SenderID:       senderID,
			Content:        fmt.Sprintf("message %d", i),
			Status:         domain.StatusSent,
			CreatedAt:      base + int64(i),
		}))
	}

	// latest page, ascending
	page, err := repo.ListByConversation(ctx, conversationID, domain.Page{Limit: 3})
	assert.NoError(t, err)
	assert.Len(t, page, 3)
	assert.Equal(t, "message 2", page[0].Content)
	assert.Equal(t, "message 4", page[2].Content)

	// older page via cursor
	older, err := repo.ListByConversation(ctx, conversationID, domain.Page{Limit: 3, Before: page[0].CreatedAt})
	assert.NoError(t, err)
	assert.Len(t, older, 2)
	assert.Equal(t, "message 0", older[0].Content)
	assert.Equal(t, "message 1", older[1].Content)

	changed, err := repo.MarkConversationRead(ctx, conversationID, readerID)
	assert.NoError(t, err)
	assert.Equal(t, int64(5), changed)

	// reader's own messages are never flipped
	changed, err = repo.MarkConversationRead(ctx, conversationID, senderID)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), changed)
}

func TestRedisPubSubRoundTrip(t *testing.T) {
	requireIntegration(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pubsub := NewRedisPubSub(redisClient)
	channel := domain.ParticipantChannel(uuid.New().String())

	events := make(chan domain.ChangeEvent, 1)
	err := pubsub.Subscribe(ctx, func(ev domain.ChangeEvent) {
		events <- ev
	}, nil, channel)
	assert.NoError(t, err)

	sent := domain.ChangeEvent{
		Op:    domain.OpInsert,
		Table: domain.TableMessages,
		Message: &domain.Message{
			ID:             uuid.New().String(),
			ConversationID: uuid.New().String(),
			SenderID:       "expert-1",
			Content:        "ping",
			Status:         domain.StatusSent,
			CreatedAt:      time.Now().UnixMilli(),
		},
	}
	assert.NoError(t, pubsub.Publish(ctx, channel, sent))

	select {
	case got := <-events:
		assert.Equal(t, sent.Message.ID, got.Message.ID)
		assert.Equal(t, domain.OpInsert, got.Op)
	case <-time.After(5 * time.Second):
		t.Fatal("change event never arrived")
	}
}

func TestRedisPresence(t *testing.T) {
	requireIntegration(t)
	ctx := context.Background()
	repo := NewRedisPresenceRepository(redisClient)

	participantID := uuid.New().String()

	online, err := repo.IsOnline(ctx, participantID)
	assert.NoError(t, err)
	assert.False(t, online)

	assert.NoError(t, repo.Heartbeat(ctx, participantID))
	online, err = repo.IsOnline(ctx, participantID)
	assert.NoError(t, err)
	assert.True(t, online)

	assert.NoError(t, repo.SetTyping(ctx, domain.TypingIndicator{
		ConversationID: "conv-1",
		ParticipantID:  participantID,
		IsTyping:       true,
		At:             time.Now().UnixMilli(),
	}))
	// clearing is a delete, not a TTL wait
	assert.NoError(t, repo.SetTyping(ctx, domain.TypingIndicator{
		ConversationID: "conv-1",
		ParticipantID:  participantID,
		IsTyping:       false,
	}))
}
