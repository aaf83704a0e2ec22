package app

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"profitum_messaging/internal/messaging/domain"
	errprocess "profitum_messaging/pkg/err"
	"profitum_messaging/pkg/logger"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func TestMain(m *testing.M) {
	logger.SetNewNop()
	os.Exit(m.Run())
}

func newTestUseCase(convRepo *MockConversationRepository, msgRepo *MockMessageRepository, pubsub *MockPubSub) (MessagingAPI, *MockNotifier, *MockAuditProducer) {
	notifier := new(MockNotifier)
	audit := new(MockAuditProducer)
	uc := NewMessagingUseCase(
		convRepo,
		msgRepo,
		new(MockParticipantRepository),
		new(MockAttachmentRepository),
		pubsub,
		new(MockPresenceRepository),
		notifier,
		audit,
		5*time.Second,
		10<<20,
	)
	return uc, notifier, audit
}

func TestMessagingUseCase_SendMessage(t *testing.T) {
	ctx := context.Background()
	conversationID := uuid.New().String()
	senderID := uuid.New().String()
	otherID := uuid.New().String()

	mockConvRepo := new(MockConversationRepository)
	mockMsgRepo := new(MockMessageRepository)
	mockPubSub := new(MockPubSub)

	conv := &domain.Conversation{
		ID:   conversationID,
		Kind: domain.KindExpertClient,
		Participants: []domain.Participant{
			{ID: senderID, Role: domain.RoleExpert},
			{ID: otherID, Role: domain.RoleClient},
		},
	}
	mockConvRepo.On("FindByID", mock.Anything, conversationID).Return(conv, nil)
	mockMsgRepo.On("Insert", mock.Anything, mock.Anything).Return(nil)
	mockConvRepo.On("RecordMessage", mock.Anything, conv, mock.Anything).Return(nil)
	mockPubSub.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	uc, notifier, audit := newTestUseCase(mockConvRepo, mockMsgRepo, mockPubSub)
	notifier.On("NotifyNewMessage", mock.Anything).Return(nil).Maybe()
	audit.On("Record", mock.Anything, mock.Anything).Return(nil).Maybe()

	msg, err := uc.SendMessage(ctx, senderID, conversationID, "  Bonjour, dossier TICPE ?  ", nil)

	assert.NoError(t, err)
	assert.Equal(t, domain.StatusSent, msg.Status)
	assert.Equal(t, "Bonjour, dossier TICPE ?", msg.Content)
	assert.False(t, domain.IsTempID(msg.ID))
	assert.NotZero(t, msg.CreatedAt)

	// message insert + conversation update, once per participant
	mockPubSub.AssertNumberOfCalls(t, "Publish", 4)
	mockConvRepo.AssertExpectations(t)
	mockMsgRepo.AssertExpectations(t)
}

func TestMessagingUseCase_SendMessage_Empty(t *testing.T) {
	uc, _, _ := newTestUseCase(new(MockConversationRepository), new(MockMessageRepository), new(MockPubSub))

	_, err := uc.SendMessage(context.Background(), "sender", "conv", "   ", nil)

	assert.Error(t, err)
	assert.True(t, errprocess.IsKind(err, errprocess.KindValidation))
}

func TestMessagingUseCase_SendMessage_NotParticipant(t *testing.T) {
	conversationID := uuid.New().String()
	mockConvRepo := new(MockConversationRepository)
	conv := &domain.Conversation{
		ID:           conversationID,
		Participants: []domain.Participant{{ID: "someone-else"}},
	}
	mockConvRepo.On("FindByID", mock.Anything, conversationID).Return(conv, nil)

	uc, _, _ := newTestUseCase(mockConvRepo, new(MockMessageRepository), new(MockPubSub))

	_, err := uc.SendMessage(context.Background(), "intruder", conversationID, "hello", nil)

	assert.Error(t, err)
	assert.True(t, errprocess.IsKind(err, errprocess.KindAuthorization))
}

func TestMessagingUseCase_SendMessage_OversizedAttachment(t *testing.T) {
	uc, _, _ := newTestUseCase(new(MockConversationRepository), new(MockMessageRepository), new(MockPubSub))

	attachment := &domain.FileAttachment{Filename: "dump.pdf", Size: 11 << 20}
	_, err := uc.SendMessage(context.Background(), "sender", "conv", "", attachment)

	assert.Error(t, err)
	assert.True(t, errprocess.IsKind(err, errprocess.KindValidation))
}

func TestMessagingUseCase_MarkRead(t *testing.T) {
	ctx := context.Background()
	conversationID := uuid.New().String()
	readerID := uuid.New().String()

	mockConvRepo := new(MockConversationRepository)
	mockMsgRepo := new(MockMessageRepository)
	mockPubSub := new(MockPubSub)

	conv := &domain.Conversation{
		ID: conversationID,
		Participants: []domain.Participant{
			{ID: readerID}, {ID: "other"},
		},
	}
	mockConvRepo.On("FindByID", mock.Anything, conversationID).Return(conv, nil)
	mockConvRepo.On("ResetUnread", mock.Anything, conversationID, readerID).Return(nil)
	mockMsgRepo.On("MarkConversationRead", mock.Anything, conversationID, readerID).Return(int64(3), nil)
	mockPubSub.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	uc, _, _ := newTestUseCase(mockConvRepo, mockMsgRepo, mockPubSub)

	err := uc.MarkRead(ctx, readerID, conversationID)

	assert.NoError(t, err)
	// receipt fans out to both participants
	mockPubSub.AssertNumberOfCalls(t, "Publish", 2)
	mockConvRepo.AssertExpectations(t)
	mockMsgRepo.AssertExpectations(t)
}

func TestMessagingUseCase_MarkRead_VanishedConversation(t *testing.T) {
	conversationID := uuid.New().String()
	mockConvRepo := new(MockConversationRepository)
	mockConvRepo.On("FindByID", mock.Anything, conversationID).
		Return(nil, errprocess.NotFound("conversation not found"))

	uc, _, _ := newTestUseCase(mockConvRepo, new(MockMessageRepository), new(MockPubSub))

	// marking a deleted thread read is not an error for the caller
	err := uc.MarkRead(context.Background(), "reader", conversationID)
	assert.NoError(t, err)
}

func TestMessagingUseCase_Subscribe_Replaces(t *testing.T) {
	ctx := context.Background()
	participantID := uuid.New().String()

	mockPubSub := new(MockPubSub)
	mockPubSub.On("Subscribe", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	uc, _, _ := newTestUseCase(new(MockConversationRepository), new(MockMessageRepository), mockPubSub)

	sub1, err := uc.Subscribe(ctx, participantID, domain.Callbacks{})
	assert.NoError(t, err)
	assert.NotNil(t, sub1)

	sub2, err := uc.Subscribe(ctx, participantID, domain.Callbacks{})
	assert.NoError(t, err)
	assert.NotNil(t, sub2)

	// the first channel is torn down, not stacked
	assert.Equal(t, 2, mockPubSub.Subscriptions())
	select {
	case <-mockPubSub.SubscriptionCtx(0).Done():
	default:
		t.Fatal("first subscription should be cancelled after resubscribe")
	}
	select {
	case <-mockPubSub.SubscriptionCtx(1).Done():
		t.Fatal("second subscription should stay open")
	default:
	}

	sub2.Close()
	select {
	case <-mockPubSub.SubscriptionCtx(1).Done():
	default:
		t.Fatal("close should cancel the subscription")
	}
	// closing twice is harmless
	sub2.Close()
}

func TestMessagingUseCase_CreateConversation(t *testing.T) {
	ctx := context.Background()
	creatorID := uuid.New().String()
	clientID := uuid.New().String()

	mockConvRepo := new(MockConversationRepository)
	mockPubSub := new(MockPubSub)
	participants := new(MockParticipantRepository)
	audit := new(MockAuditProducer)

	participants.On("Exists", mock.Anything, creatorID).Return(true, nil)
	participants.On("Exists", mock.Anything, clientID).Return(true, nil)
	mockConvRepo.On("Create", mock.Anything, mock.Anything).Return(nil)
	mockPubSub.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	audit.On("Record", mock.Anything, mock.Anything).Return(nil).Maybe()

	uc := NewMessagingUseCase(
		mockConvRepo, new(MockMessageRepository), participants,
		new(MockAttachmentRepository), mockPubSub, new(MockPresenceRepository),
		new(MockNotifier), audit, 5*time.Second, 10<<20,
	)

	conv, err := uc.CreateConversation(ctx, creatorID, domain.CreateConversationRequest{
		Kind: domain.KindExpertClient,
		Participants: []domain.Participant{
			{ID: creatorID, Role: domain.RoleExpert},
			{ID: clientID, Role: domain.RoleClient},
		},
	})

	assert.NoError(t, err)
	assert.NotEmpty(t, conv.ID)
	assert.Equal(t, 0, conv.UnreadFor(creatorID))
	assert.Equal(t, 0, conv.UnreadFor(clientID))
	assert.Equal(t, conv.CreatedAt, conv.LastActivityAt)
	mockPubSub.AssertNumberOfCalls(t, "Publish", 2)
}

func TestMessagingUseCase_CreateConversation_Validation(t *testing.T) {
	uc, _, _ := newTestUseCase(new(MockConversationRepository), new(MockMessageRepository), new(MockPubSub))

	_, err := uc.CreateConversation(context.Background(), "creator", domain.CreateConversationRequest{
		Kind:         "carpool",
		Participants: []domain.Participant{{ID: "a"}, {ID: "b"}},
	})
	assert.True(t, errprocess.IsKind(err, errprocess.KindValidation))

	_, err = uc.CreateConversation(context.Background(), "creator", domain.CreateConversationRequest{
		Kind:         domain.KindAdminSupport,
		Participants: []domain.Participant{{ID: "a"}},
	})
	assert.True(t, errprocess.IsKind(err, errprocess.KindValidation))
}

func TestDispatchEvent(t *testing.T) {
	var gotMessage *domain.Message
	var gotReceipt *domain.ReadReceipt
	var deleted string

	cb := domain.Callbacks{
		OnNewMessage:         func(m domain.Message) { gotMessage = &m },
		OnMessageRead:        func(r domain.ReadReceipt) { gotReceipt = &r },
		OnConversationDelete: func(id string) { deleted = id },
	}

	dispatchEvent(domain.ChangeEvent{
		Op:      domain.OpInsert,
		Table:   domain.TableMessages,
		Message: &domain.Message{ID: "m1"},
	}, cb)
	assert.NotNil(t, gotMessage)
	assert.Equal(t, "m1", gotMessage.ID)

	dispatchEvent(domain.ChangeEvent{
		Op:      domain.OpUpdate,
		Table:   domain.TableMessages,
		Receipt: &domain.ReadReceipt{ConversationID: "c1", ReaderID: "r1"},
	}, cb)
	assert.NotNil(t, gotReceipt)
	assert.Equal(t, "r1", gotReceipt.ReaderID)

	dispatchEvent(domain.ChangeEvent{
		Op:    domain.OpDelete,
		Table: domain.TableConversations,
		RowID: "c9",
	}, cb)
	assert.Equal(t, "c9", deleted)

	// malformed events are dropped, not dispatched
	gotMessage = nil
	dispatchEvent(domain.ChangeEvent{Op: domain.OpInsert, Table: domain.TableMessages}, cb)
	assert.Nil(t, gotMessage)
}

func TestPreviewOf(t *testing.T) {
	short := &domain.Message{Content: "Bonjour"}
	assert.Equal(t, "Bonjour", previewOf(short))

	// accented content at the cut point must stay valid UTF-8
	long := &domain.Message{Content: strings.Repeat("é", 200)}
	preview := previewOf(long)
	assert.True(t, utf8.ValidString(preview))
	assert.Equal(t, 120, utf8.RuneCountInString(preview))

	attachmentOnly := &domain.Message{Attachment: &domain.FileAttachment{Filename: "bilan.pdf"}}
	assert.Equal(t, "bilan.pdf", previewOf(attachmentOnly))

	assert.Empty(t, previewOf(&domain.Message{}))
}
