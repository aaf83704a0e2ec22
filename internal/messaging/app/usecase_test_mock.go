package app

import (
	"context"
	"io"
	"sync"

	"profitum_messaging/internal/messaging/domain"

	"github.com/stretchr/testify/mock"
)

// MockConversationRepository Mock ConversationRepository
type MockConversationRepository struct {
	mock.Mock
}

// Create moke create conversation
func (m *MockConversationRepository) Create(ctx context.Context, conv *domain.Conversation) error {
	args := m.Called(ctx, conv)
	return args.Error(0)
}

// FindByID moke find conversation by id
func (m *MockConversationRepository) FindByID(ctx context.Context, conversationID string) (*domain.Conversation, error) {
	args := m.Called(ctx, conversationID)
	if args.Get(0) != nil {
		return args.Get(0).(*domain.Conversation), args.Error(1)
	}
	return nil, args.Error(1)
}

// ListByParticipant moke list conversations for one participant
func (m *MockConversationRepository) ListByParticipant(ctx context.Context, participantID string, page domain.Page) ([]domain.Conversation, error) {
	args := m.Called(ctx, participantID, page)
	if args.Get(0) != nil {
		return args.Get(0).([]domain.Conversation), args.Error(1)
	}
	return nil, args.Error(1)
}

// RecordMessage moke record message snapshot
func (m *MockConversationRepository) RecordMessage(ctx context.Context, conv *domain.Conversation, msg *domain.Message) error {
	args := m.Called(ctx, conv, msg)
	return args.Error(0)
}

// ResetUnread moke reset unread count
func (m *MockConversationRepository) ResetUnread(ctx context.Context, conversationID, participantID string) error {
	args := m.Called(ctx, conversationID, participantID)
	return args.Error(0)
}

// Delete moke delete conversation
func (m *MockConversationRepository) Delete(ctx context.Context, conversationID string) error {
	args := m.Called(ctx, conversationID)
	return args.Error(0)
}

// MockMessageRepository Mock MessageRepository
type MockMessageRepository struct {
	mock.Mock
}

// Insert moke insert msg
func (m *MockMessageRepository) Insert(ctx context.Context, msg *domain.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

// ListByConversation moke list one page of msgs
func (m *MockMessageRepository) ListByConversation(ctx context.Context, conversationID string, page domain.Page) ([]domain.Message, error) {
	args := m.Called(ctx, conversationID, page)
	if args.Get(0) != nil {
		return args.Get(0).([]domain.Message), args.Error(1)
	}
	return nil, args.Error(1)
}

// MarkConversationRead moke mark inbound msgs read
func (m *MockMessageRepository) MarkConversationRead(ctx context.Context, conversationID, readerID string) (int64, error) {
	args := m.Called(ctx, conversationID, readerID)
	return args.Get(0).(int64), args.Error(1)
}

// MockParticipantRepository Mock ParticipantRepository
type MockParticipantRepository struct {
	mock.Mock
}

// FindByID moke find participant profile
func (m *MockParticipantRepository) FindByID(ctx context.Context, participantID string) (*domain.ParticipantProfile, error) {
	args := m.Called(ctx, participantID)
	if args.Get(0) != nil {
		return args.Get(0).(*domain.ParticipantProfile), args.Error(1)
	}
	return nil, args.Error(1)
}

// Exists moke directory existence check
func (m *MockParticipantRepository) Exists(ctx context.Context, participantID string) (bool, error) {
	args := m.Called(ctx, participantID)
	return args.Bool(0), args.Error(1)
}

// MockAttachmentRepository Mock AttachmentRepository
type MockAttachmentRepository struct {
	mock.Mock
}

// Store moke attachment upload
func (m *MockAttachmentRepository) Store(ctx context.Context, conversationID, filename string, r io.Reader, size int64, contentType string) (string, error) {
	args := m.Called(ctx, conversationID, filename, r, size, contentType)
	return args.String(0), args.Error(1)
}

// PresignURL moke presigned download URL
func (m *MockAttachmentRepository) PresignURL(ctx context.Context, storagePath string) (string, error) {
	args := m.Called(ctx, storagePath)
	return args.String(0), args.Error(1)
}

// MockPubSub Mock PubSub. Besides expectations it records every
// subscription context so tests can observe replacement.
type MockPubSub struct {
	mock.Mock

	mu       sync.Mutex
	subCtxs  []context.Context
	handlers []func(domain.ChangeEvent)
}

// Publish moke publisher
func (m *MockPubSub) Publish(ctx context.Context, channel string, ev domain.ChangeEvent) error {
	args := m.Called(ctx, channel, ev)
	return args.Error(0)
}

// Subscribe moke subscriber
func (m *MockPubSub) Subscribe(ctx context.Context, handler func(domain.ChangeEvent), errHandler func(error), channels ...string) error {
	args := m.Called(ctx, handler, errHandler, channels)
	if args.Error(0) == nil {
		m.mu.Lock()
		m.subCtxs = append(m.subCtxs, ctx)
		m.handlers = append(m.handlers, handler)
		m.mu.Unlock()
	}
	return args.Error(0)
}

// SubscriptionCtx read recorded subscription context i
func (m *MockPubSub) SubscriptionCtx(i int) context.Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subCtxs[i]
}

// Subscriptions count recorded subscriptions
func (m *MockPubSub) Subscriptions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subCtxs)
}

// MockPresenceRepository Mock PresenceRepository
type MockPresenceRepository struct {
	mock.Mock
}

// SetTyping moke typing signal
func (m *MockPresenceRepository) SetTyping(ctx context.Context, t domain.TypingIndicator) error {
	args := m.Called(ctx, t)
	return args.Error(0)
}

// Heartbeat moke presence heartbeat
func (m *MockPresenceRepository) Heartbeat(ctx context.Context, participantID string) error {
	args := m.Called(ctx, participantID)
	return args.Error(0)
}

// IsOnline moke presence check
func (m *MockPresenceRepository) IsOnline(ctx context.Context, participantID string) (bool, error) {
	args := m.Called(ctx, participantID)
	return args.Bool(0), args.Error(1)
}

// MockNotifier Mock Notifier
type MockNotifier struct {
	mock.Mock
}

// NotifyNewMessage moke notification publish
func (m *MockNotifier) NotifyNewMessage(n domain.Notification) error {
	args := m.Called(n)
	return args.Error(0)
}

// MockAuditProducer Mock AuditProducer
type MockAuditProducer struct {
	mock.Mock
}

// Record moke audit append
func (m *MockAuditProducer) Record(ctx context.Context, ev domain.AuditEvent) error {
	args := m.Called(ctx, ev)
	return args.Error(0)
}

// Close moke close
func (m *MockAuditProducer) Close() error {
	args := m.Called()
	return args.Error(0)
}
