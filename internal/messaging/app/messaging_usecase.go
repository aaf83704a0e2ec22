package app

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"profitum_messaging/internal/messaging/domain"
	"profitum_messaging/internal/messaging/repository"
	errprocess "profitum_messaging/pkg/err"
	"profitum_messaging/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Subscription handle for one participant's realtime channel
type Subscription interface {
	Close()
}

// MessagingAPI definition messaging service operations. Fire-and-forget
// side effects (notifications, audit) never fail the calling operation.
type MessagingAPI interface {
	// Subscribe opens the realtime channel for one participant.
	// Subscribing twice for the same participant replaces the previous
	// subscription instead of duplicating it.
	Subscribe(ctx context.Context, participantID string, cb domain.Callbacks) (Subscription, error)
	ListConversations(ctx context.Context, participantID string, page domain.Page) ([]domain.Conversation, error)
	ListMessages(ctx context.Context, participantID, conversationID string, page domain.Page) ([]domain.Message, error)
	CreateConversation(ctx context.Context, creatorID string, req domain.CreateConversationRequest) (*domain.Conversation, error)
	SendMessage(ctx context.Context, senderID, conversationID, content string, attachment *domain.FileAttachment) (*domain.Message, error)
	// MarkRead zeroes the reader's unread count and advances inbound
	// message statuses. Marking a vanished conversation read is a no-op.
	MarkRead(ctx context.Context, participantID, conversationID string) error
	SetTyping(ctx context.Context, participantID string, t domain.TypingIndicator) error
	Heartbeat(ctx context.Context, participantID string) error
	UploadAttachment(ctx context.Context, senderID, conversationID, filename string, r io.Reader, size int64, contentType string) (*domain.FileAttachment, error)
	AttachmentURL(ctx context.Context, participantID, conversationID, storagePath string) (string, error)
}

type messagingUseCase struct {
	convRepo     repository.ConversationRepository
	msgRepo      repository.MessageRepository
	participants repository.ParticipantRepository
	attachments  repository.AttachmentRepository
	pubsub       repository.PubSub
	presence     repository.PresenceRepository
	notifier     repository.Notifier
	audit        repository.AuditProducer

	sendTimeout       time.Duration
	maxAttachmentSize int64

	mu   sync.Mutex
	subs map[string]*participantSubscription
}

// NewMessagingUseCase create a MessagingAPI
func NewMessagingUseCase(
	convRepo repository.ConversationRepository,
	msgRepo repository.MessageRepository,
	participants repository.ParticipantRepository,
	attachments repository.AttachmentRepository,
	pubsub repository.PubSub,
	presence repository.PresenceRepository,
	notifier repository.Notifier,
	audit repository.AuditProducer,
	sendTimeout time.Duration,
	maxAttachmentSize int64,
) MessagingAPI {
	return &messagingUseCase{
		convRepo:          convRepo,
		msgRepo:           msgRepo,
		participants:      participants,
		attachments:       attachments,
		pubsub:            pubsub,
		presence:          presence,
		notifier:          notifier,
		audit:             audit,
		sendTimeout:       sendTimeout,
		maxAttachmentSize: maxAttachmentSize,
		subs:              make(map[string]*participantSubscription),
	}
}

type participantSubscription struct {
	participantID string
	cancel        context.CancelFunc
	owner         *messagingUseCase
	once          sync.Once
}

// Close tear down the channel; safe to call more than once
func (s *participantSubscription) Close() {
	s.once.Do(func() {
		s.cancel()
		s.owner.mu.Lock()
		if s.owner.subs[s.participantID] == s {
			delete(s.owner.subs, s.participantID)
		}
		s.owner.mu.Unlock()
	})
}

func (m *messagingUseCase) Subscribe(ctx context.Context, participantID string, cb domain.Callbacks) (Subscription, error) {
	if participantID == "" {
		return nil, errprocess.Validation("participant id required")
	}

	// the channel outlives the subscribe call itself
	subCtx, cancel := context.WithCancel(context.Background())

	errHandler := func(err error) {
		logger.Log.Warn("realtime channel error", zap.String("participant", participantID), zap.Error(err))
		if cb.OnError != nil {
			cb.OnError(err)
		}
	}

	err := m.pubsub.Subscribe(subCtx, func(ev domain.ChangeEvent) {
		dispatchEvent(ev, cb)
	}, errHandler, domain.ParticipantChannel(participantID), domain.PresenceChannel)
	if err != nil {
		cancel()
		return nil, err
	}

	sub := &participantSubscription{
		participantID: participantID,
		cancel:        cancel,
		owner:         m,
	}

	m.mu.Lock()
	if prev, ok := m.subs[participantID]; ok {
		// replace, never stack: one channel per participant
		prev.cancel()
	}
	m.subs[participantID] = sub
	m.mu.Unlock()

	return sub, nil
}

// dispatchEvent route one change event to the subscriber's callbacks.
// Events with a missing payload pointer are dropped.
func dispatchEvent(ev domain.ChangeEvent, cb domain.Callbacks) {
	switch ev.Table {
	case domain.TableMessages:
		switch {
		case ev.Op == domain.OpInsert && ev.Message != nil:
			if cb.OnNewMessage != nil {
				cb.OnNewMessage(*ev.Message)
			}
		case ev.Op == domain.OpUpdate && ev.Receipt != nil:
			if cb.OnMessageRead != nil {
				cb.OnMessageRead(*ev.Receipt)
			}
		}
	case domain.TableConversations:
		switch ev.Op {
		case domain.OpInsert, domain.OpUpdate:
			if ev.Conversation != nil && cb.OnConversationUpdate != nil {
				cb.OnConversationUpdate(*ev.Conversation)
			}
		case domain.OpDelete:
			if ev.RowID != "" && cb.OnConversationDelete != nil {
				cb.OnConversationDelete(ev.RowID)
			}
		}
	case domain.TableTyping:
		if ev.Typing != nil && cb.OnTypingChange != nil {
			cb.OnTypingChange(*ev.Typing)
		}
	case domain.TablePresence:
		if ev.Presence != nil && cb.OnPresenceChange != nil {
			cb.OnPresenceChange(*ev.Presence)
		}
	}
}

func (m *messagingUseCase) ListConversations(ctx context.Context, participantID string, page domain.Page) ([]domain.Conversation, error) {
	if participantID == "" {
		return nil, errprocess.Validation("participant id required")
	}
	return m.convRepo.ListByParticipant(ctx, participantID, page)
}

func (m *messagingUseCase) ListMessages(ctx context.Context, participantID, conversationID string, page domain.Page) ([]domain.Message, error) {
	conv, err := m.convRepo.FindByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(participantID) {
		return nil, errprocess.Authorization("not a participant of this conversation")
	}
	return m.msgRepo.ListByConversation(ctx, conversationID, page)
}

func (m *messagingUseCase) CreateConversation(ctx context.Context, creatorID string, req domain.CreateConversationRequest) (*domain.Conversation, error) {
	switch req.Kind {
	case domain.KindExpertClient, domain.KindAdminSupport, domain.KindApporteur:
	default:
		return nil, errprocess.Validation(fmt.Sprintf("unknown conversation kind %q", req.Kind))
	}
	if len(req.Participants) < 2 {
		return nil, errprocess.Validation("conversation needs at least two participants")
	}

	seen := make(map[string]bool, len(req.Participants))
	creatorIncluded := false
	for _, p := range req.Participants {
		if seen[p.ID] {
			return nil, errprocess.Validation(fmt.Sprintf("duplicate participant %s", p.ID))
		}
		seen[p.ID] = true
		if p.ID == creatorID {
			creatorIncluded = true
		}

		exists, err := m.participants.Exists(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, errprocess.Validation(fmt.Sprintf("unknown participant %s", p.ID))
		}
	}
	if !creatorIncluded {
		return nil, errprocess.Authorization("creator must be a participant")
	}

	now := time.Now().UnixMilli()
	conv := &domain.Conversation{
		ID:             uuid.New().String(),
		Kind:           req.Kind,
		Title:          req.Title,
		Participants:   req.Participants,
		UnreadCounts:   make(map[string]int),
		CreatedAt:      now,
		LastActivityAt: now,
	}
	for _, p := range conv.Participants {
		conv.UnreadCounts[p.ID] = 0
	}

	if err := m.convRepo.Create(ctx, conv); err != nil {
		return nil, err
	}

	ev := domain.ChangeEvent{Op: domain.OpInsert, Table: domain.TableConversations, Conversation: conv}
	for _, p := range conv.Participants {
		m.publish(ctx, domain.ParticipantChannel(p.ID), ev)
	}

	m.recordAudit(domain.AuditEvent{
		Type:           "conversation.created",
		ConversationID: conv.ID,
		ActorID:        creatorID,
		At:             now,
	})

	return conv, nil
}

func (m *messagingUseCase) SendMessage(ctx context.Context, senderID, conversationID, content string, attachment *domain.FileAttachment) (*domain.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" && attachment == nil {
		return nil, errprocess.Validation("message is empty")
	}
	if attachment != nil && attachment.Size > m.maxAttachmentSize {
		return nil, errprocess.Validation(fmt.Sprintf("attachment exceeds %d bytes", m.maxAttachmentSize))
	}

	ctx, cancel := context.WithTimeout(ctx, m.sendTimeout)
	defer cancel()

	conv, err := m.convRepo.FindByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(senderID) {
		return nil, errprocess.Authorization("not a participant of this conversation")
	}

	msg := &domain.Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		Attachment:     attachment,
		Status:         domain.StatusSent,
		CreatedAt:      time.Now().UnixMilli(),
	}

	if err := m.msgRepo.Insert(ctx, msg); err != nil {
		return nil, errprocess.Network("persist message failed", err)
	}
	if err := m.convRepo.RecordMessage(ctx, conv, msg); err != nil {
		return nil, err
	}

	// mirror the stored update so the fan-out carries fresh state
	conv.ApplyMessage(msg)

	msgEv := domain.ChangeEvent{Op: domain.OpInsert, Table: domain.TableMessages, Message: msg}
	convEv := domain.ChangeEvent{Op: domain.OpUpdate, Table: domain.TableConversations, Conversation: conv}
	for _, p := range conv.Participants {
		ch := domain.ParticipantChannel(p.ID)
		m.publish(ctx, ch, msgEv)
		m.publish(ctx, ch, convEv)
	}

	for _, p := range conv.OtherParticipants(senderID) {
		m.notify(domain.Notification{
			ParticipantID:  p.ID,
			ConversationID: conversationID,
			MessageID:      msg.ID,
			SenderID:       senderID,
			Title:          "Nouveau message",
			Body:           previewOf(msg),
		})
	}

	m.recordAudit(domain.AuditEvent{
		Type:           "message.sent",
		ConversationID: conversationID,
		MessageID:      msg.ID,
		ActorID:        senderID,
		At:             msg.CreatedAt,
	})

	return msg, nil
}

func (m *messagingUseCase) MarkRead(ctx context.Context, participantID, conversationID string) error {
	conv, err := m.convRepo.FindByID(ctx, conversationID)
	if err != nil {
		if errprocess.IsKind(err, errprocess.KindNotFound) {
			// the thread was deleted under the reader; nothing to do
			logger.Log.Debug("mark read on vanished conversation",
				zap.String("conversation", conversationID), zap.String("participant", participantID))
			return nil
		}
		return err
	}
	if !conv.HasParticipant(participantID) {
		return errprocess.Authorization("not a participant of this conversation")
	}

	if err := m.convRepo.ResetUnread(ctx, conversationID, participantID); err != nil {
		if errprocess.IsKind(err, errprocess.KindNotFound) {
			return nil
		}
		return err
	}
	if _, err := m.msgRepo.MarkConversationRead(ctx, conversationID, participantID); err != nil {
		return err
	}

	receipt := &domain.ReadReceipt{
		ConversationID: conversationID,
		ReaderID:       participantID,
		ReadAt:         time.Now().UnixMilli(),
	}
	ev := domain.ChangeEvent{Op: domain.OpUpdate, Table: domain.TableMessages, Receipt: receipt}
	for _, p := range conv.Participants {
		m.publish(ctx, domain.ParticipantChannel(p.ID), ev)
	}

	return nil
}

func (m *messagingUseCase) SetTyping(ctx context.Context, participantID string, t domain.TypingIndicator) error {
	conv, err := m.convRepo.FindByID(ctx, t.ConversationID)
	if err != nil {
		return err
	}
	if !conv.HasParticipant(participantID) {
		return errprocess.Authorization("not a participant of this conversation")
	}

	t.ParticipantID = participantID
	t.At = time.Now().UnixMilli()
	if err := m.presence.SetTyping(ctx, t); err != nil {
		return err
	}

	ev := domain.ChangeEvent{Op: domain.OpUpdate, Table: domain.TableTyping, Typing: &t}
	for _, p := range conv.OtherParticipants(participantID) {
		m.publish(ctx, domain.ParticipantChannel(p.ID), ev)
	}
	return nil
}

func (m *messagingUseCase) Heartbeat(ctx context.Context, participantID string) error {
	if err := m.presence.Heartbeat(ctx, participantID); err != nil {
		return err
	}
	status := &domain.OnlineStatus{
		ParticipantID: participantID,
		Online:        true,
		LastSeen:      time.Now().UnixMilli(),
	}
	m.publish(ctx, domain.PresenceChannel, domain.ChangeEvent{
		Op: domain.OpUpdate, Table: domain.TablePresence, Presence: status,
	})
	return nil
}

func (m *messagingUseCase) UploadAttachment(ctx context.Context, senderID, conversationID, filename string, r io.Reader, size int64, contentType string) (*domain.FileAttachment, error) {
	if size <= 0 {
		return nil, errprocess.Validation("attachment is empty")
	}
	if size > m.maxAttachmentSize {
		return nil, errprocess.Validation(fmt.Sprintf("attachment exceeds %d bytes", m.maxAttachmentSize))
	}

	conv, err := m.convRepo.FindByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(senderID) {
		return nil, errprocess.Authorization("not a participant of this conversation")
	}

	path, err := m.attachments.Store(ctx, conversationID, filename, r, size, contentType)
	if err != nil {
		return nil, errprocess.Network("store attachment failed", err)
	}

	return &domain.FileAttachment{
		StoragePath: path,
		MimeType:    contentType,
		Size:        size,
		Filename:    filename,
	}, nil
}

func (m *messagingUseCase) AttachmentURL(ctx context.Context, participantID, conversationID, storagePath string) (string, error) {
	conv, err := m.convRepo.FindByID(ctx, conversationID)
	if err != nil {
		return "", err
	}
	if !conv.HasParticipant(participantID) {
		return "", errprocess.Authorization("not a participant of this conversation")
	}
	return m.attachments.PresignURL(ctx, storagePath)
}

// publish one event, logging instead of failing the caller
func (m *messagingUseCase) publish(ctx context.Context, channel string, ev domain.ChangeEvent) {
	if err := m.pubsub.Publish(ctx, channel, ev); err != nil {
		logger.Log.Error("publish change event failed", zap.String("channel", channel), zap.Error(err))
	}
}

// notify fire-and-forget; a dead broker never blocks a send
func (m *messagingUseCase) notify(n domain.Notification) {
	go func() {
		if err := m.notifier.NotifyNewMessage(n); err != nil {
			logger.Log.Warn("notification publish failed",
				zap.String("participant", n.ParticipantID), zap.Error(err))
		}
	}()
}

// recordAudit fire-and-forget append to the audit trail
func (m *messagingUseCase) recordAudit(ev domain.AuditEvent) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.audit.Record(ctx, ev); err != nil {
			logger.Log.Warn("audit record failed", zap.String("type", ev.Type), zap.Error(err))
		}
	}()
}

func previewOf(msg *domain.Message) string {
	if msg.Content != "" {
		// cut on rune boundaries, accented content must stay valid UTF-8
		if runes := []rune(msg.Content); len(runes) > 120 {
			return string(runes[:120])
		}
		return msg.Content
	}
	if msg.Attachment != nil {
		return msg.Attachment.Filename
	}
	return ""
}
