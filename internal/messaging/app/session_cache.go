package app

import (
	"context"
	"sort"
	"sync"
	"time"

	"profitum_messaging/internal/messaging/domain"
	errprocess "profitum_messaging/pkg/err"
	"profitum_messaging/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// reconcileWindow how far apart an optimistic entry and its confirmed
// counterpart may sit on the clock and still be the same message
const reconcileWindow = 30 * time.Second

// BackoffPolicy delay schedule for reconnect attempts
type BackoffPolicy interface {
	Next(attempt int) time.Duration
}

// ExponentialBackoff doubles Base per attempt, capped at Max
type ExponentialBackoff struct {
	Base time.Duration
	Max  time.Duration
}

// Next delay before reconnect attempt n (1-based)
func (b ExponentialBackoff) Next(attempt int) time.Duration {
	d := b.Base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= b.Max {
			return b.Max
		}
	}
	if d > b.Max {
		return b.Max
	}
	return d
}

// ToastSink non-blocking user feedback surface
type ToastSink interface {
	Push(t domain.Toast)
}

// CacheListener receives state snapshots after every cache mutation.
// Callbacks run without the cache lock held; implementations may call
// back into the cache.
type CacheListener interface {
	ConversationsChanged(convs []domain.Conversation)
	MessagesChanged(conversationID string, msgs []domain.Message)
	ConnStateChanged(state domain.ConnState)
	TypingChanged(t domain.TypingIndicator)
	PresenceChanged(s domain.OnlineStatus)
}

type retryPayload struct {
	conversationID string
	content        string
	attachment     *domain.FileAttachment
}

// SessionCache one participant's in-memory messaging state. It owns
// the subscription, the optimistic send pipeline and reconnection;
// failures surface as per-message status flips and toasts, never as
// errors thrown out of event handlers.
type SessionCache struct {
	svc      MessagingAPI
	self     string
	listener CacheListener
	toasts   ToastSink
	backoff  BackoffPolicy
	pageSize int

	mu            sync.Mutex
	conversations []domain.Conversation          // last activity descending
	messages      map[string][]domain.Message    // per conversation, ascending
	pendingRetry  map[string]retryPayload        // temp id -> payload for failed sends
	active        string
	connState     domain.ConnState
	fetchGen      uint64
	sub           Subscription
	reconnecting  bool
	closed        bool

	ctx    context.Context
	cancel context.CancelFunc
}

// NewSessionCache create a SessionCache for one participant
func NewSessionCache(svc MessagingAPI, participantID string, listener CacheListener, toasts ToastSink, backoff BackoffPolicy, pageSize int) *SessionCache {
	ctx, cancel := context.WithCancel(context.Background())
	return &SessionCache{
		svc:          svc,
		self:         participantID,
		listener:     listener,
		toasts:       toasts,
		backoff:      backoff,
		pageSize:     pageSize,
		messages:     make(map[string][]domain.Message),
		pendingRetry: make(map[string]retryPayload),
		connState:    domain.StateDisconnected,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start subscribe and load the first conversation page. A failed
// subscribe reports the error and leaves reconnection running.
func (c *SessionCache) Start(ctx context.Context) error {
	c.setConnState(domain.StateConnecting)

	sub, err := c.svc.Subscribe(ctx, c.self, c.callbacks())
	if err != nil {
		c.setConnState(domain.StateError)
		c.startReconnect()
		return err
	}

	c.mu.Lock()
	c.sub = sub
	c.mu.Unlock()
	c.setConnState(domain.StateConnected)

	return c.RefreshConversations(ctx)
}

// Close tear down the subscription and stop reconnection
func (c *SessionCache) Close() {
	c.mu.Lock()
	c.closed = true
	sub := c.sub
	c.sub = nil
	c.mu.Unlock()

	c.cancel()
	if sub != nil {
		sub.Close()
	}
}

func (c *SessionCache) callbacks() domain.Callbacks {
	return domain.Callbacks{
		OnNewMessage:         c.handleNewMessage,
		OnMessageRead:        c.handleReadReceipt,
		OnConversationUpdate: c.handleConversationUpdate,
		OnConversationDelete: c.handleConversationDelete,
		OnTypingChange: func(t domain.TypingIndicator) {
			if c.listener != nil {
				c.listener.TypingChanged(t)
			}
		},
		OnPresenceChange: func(s domain.OnlineStatus) {
			if c.listener != nil {
				c.listener.PresenceChanged(s)
			}
		},
		OnError: c.handleChannelError,
	}
}

// Conversations snapshot, last activity descending
func (c *SessionCache) Conversations() []domain.Conversation {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.Conversation, len(c.conversations))
	copy(out, c.conversations)
	return out
}

// Messages snapshot for one conversation, ascending by creation time
func (c *SessionCache) Messages(conversationID string) []domain.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	msgs := c.messages[conversationID]
	out := make([]domain.Message, len(msgs))
	copy(out, msgs)
	return out
}

// ConnState current transport state
func (c *SessionCache) ConnState() domain.ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connState
}

// ActiveConversation currently open thread, empty when none
func (c *SessionCache) ActiveConversation() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// UnreadTotal sum of this participant's unread counts across every
// cached conversation, for the global navigation badge
func (c *SessionCache) UnreadTotal() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := 0
	for i := range c.conversations {
		total += c.conversations[i].UnreadFor(c.self)
	}
	return total
}

// RefreshConversations reload the first conversation page
func (c *SessionCache) RefreshConversations(ctx context.Context) error {
	convs, err := c.svc.ListConversations(ctx, c.self, domain.Page{Limit: c.pageSize})
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conversations = convs
	c.sortConversationsLocked()
	c.mu.Unlock()

	c.emitConversations()
	return nil
}

// OpenConversation make one thread active, load its latest page and
// mark it read. A page that lands after the participant has moved on
// is discarded.
func (c *SessionCache) OpenConversation(ctx context.Context, conversationID string) error {
	c.mu.Lock()
	c.active = conversationID
	c.fetchGen++
	gen := c.fetchGen
	c.mu.Unlock()

	msgs, err := c.svc.ListMessages(ctx, c.self, conversationID, domain.Page{Limit: c.pageSize})
	if err != nil {
		if errprocess.IsKind(err, errprocess.KindNotFound) {
			c.handleConversationDelete(conversationID)
			return err
		}
		c.pushToast("error", "Messagerie", "Impossible de charger la conversation")
		return err
	}

	c.mu.Lock()
	if c.fetchGen != gen || c.active != conversationID {
		// participant switched threads while the fetch was in flight
		c.mu.Unlock()
		return nil
	}
	c.messages[conversationID] = msgs
	c.resetUnreadLocked(conversationID)
	c.mu.Unlock()

	c.emitMessages(conversationID)
	c.emitConversations()

	go func() {
		if err := c.svc.MarkRead(c.ctx, c.self, conversationID); err != nil {
			logger.Log.Warn("mark read failed", zap.String("conversation", conversationID), zap.Error(err))
		}
	}()

	return nil
}

// LoadOlder prepend the page before the oldest loaded message
func (c *SessionCache) LoadOlder(ctx context.Context, conversationID string) error {
	c.mu.Lock()
	gen := c.fetchGen
	existing := c.messages[conversationID]
	var before int64
	if len(existing) > 0 {
		before = existing[0].CreatedAt
	}
	c.mu.Unlock()

	if before == 0 {
		return c.OpenConversation(ctx, conversationID)
	}

	older, err := c.svc.ListMessages(ctx, c.self, conversationID, domain.Page{Limit: c.pageSize, Before: before})
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.fetchGen != gen || c.active != conversationID {
		c.mu.Unlock()
		return nil
	}
	c.messages[conversationID] = append(older, c.messages[conversationID]...)
	c.mu.Unlock()

	c.emitMessages(conversationID)
	return nil
}

// Send append an optimistic entry and confirm it in the background.
// The returned temp id identifies the entry until reconciliation. A
// failed send flips only this entry to failed; everything else in the
// cache is untouched.
func (c *SessionCache) Send(conversationID, content string, attachment *domain.FileAttachment) string {
	tempID := domain.TempIDPrefix + uuid.New().String()
	now := time.Now().UnixMilli()

	optimistic := domain.Message{
		ID:             tempID,
		ConversationID: conversationID,
		SenderID:       c.self,
		Content:        content,
		Attachment:     attachment,
		Status:         domain.StatusSending,
		CreatedAt:      now,
	}

	c.mu.Lock()
	c.messages[conversationID] = append(c.messages[conversationID], optimistic)
	c.mu.Unlock()
	c.emitMessages(conversationID)

	go c.confirmSend(tempID, conversationID, content, attachment)
	return tempID
}

// Retry re-run one failed send under the same temp id
func (c *SessionCache) Retry(tempID string) {
	c.mu.Lock()
	payload, ok := c.pendingRetry[tempID]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(c.pendingRetry, tempID)
	c.updateMessageLocked(payload.conversationID, tempID, func(m *domain.Message) {
		m.Status = domain.StatusSending
		m.CreatedAt = time.Now().UnixMilli()
	})
	c.mu.Unlock()
	c.emitMessages(payload.conversationID)

	go c.confirmSend(tempID, payload.conversationID, payload.content, payload.attachment)
}

func (c *SessionCache) confirmSend(tempID, conversationID, content string, attachment *domain.FileAttachment) {
	confirmed, err := c.svc.SendMessage(c.ctx, c.self, conversationID, content, attachment)
	if err != nil {
		c.mu.Lock()
		c.pendingRetry[tempID] = retryPayload{conversationID: conversationID, content: content, attachment: attachment}
		c.updateMessageLocked(conversationID, tempID, func(m *domain.Message) {
			m.Status = domain.StatusFailed
		})
		c.mu.Unlock()
		c.emitMessages(conversationID)
		c.pushToast("error", "Messagerie", "Échec de l'envoi du message")
		return
	}

	c.mu.Lock()
	if c.containsMessageLocked(conversationID, confirmed.ID) {
		// the change event beat us here and already reconciled the entry
		c.removeMessageLocked(conversationID, tempID)
	} else {
		replaced := c.updateMessageLocked(conversationID, tempID, func(m *domain.Message) {
			*m = *confirmed
		})
		if !replaced {
			c.insertMessageLocked(conversationID, *confirmed)
		}
	}
	c.applySnapshotLocked(conversationID, confirmed)
	c.mu.Unlock()

	c.emitMessages(conversationID)
	c.emitConversations()
}

// handleNewMessage one message insert from the realtime channel
func (c *SessionCache) handleNewMessage(msg domain.Message) {
	c.mu.Lock()

	if c.containsMessageLocked(msg.ConversationID, msg.ID) {
		c.mu.Unlock()
		return
	}

	reconciled := false
	if msg.SenderID == c.self {
		// match the optimistic entry this event confirms: same author,
		// same body, close enough on the clock. A failed entry still
		// matches: the send can reach the server even when its response
		// never reached us, and the event is the proof it landed.
		list := c.messages[msg.ConversationID]
		for i := range list {
			if domain.IsTempID(list[i].ID) &&
				(list[i].Status == domain.StatusSending || list[i].Status == domain.StatusFailed) &&
				list[i].Content == msg.Content &&
				absMillis(list[i].CreatedAt-msg.CreatedAt) <= reconcileWindow.Milliseconds() {
				delete(c.pendingRetry, list[i].ID)
				list[i] = msg
				reconciled = true
				break
			}
		}
	}
	if !reconciled {
		c.insertMessageLocked(msg.ConversationID, msg)
	}

	c.applySnapshotLocked(msg.ConversationID, &msg)

	inboundVisible := msg.SenderID != c.self && c.active == msg.ConversationID
	inboundBackground := msg.SenderID != c.self && c.active != msg.ConversationID
	if inboundBackground {
		c.bumpUnreadLocked(msg.ConversationID)
	}
	c.mu.Unlock()

	c.emitMessages(msg.ConversationID)
	c.emitConversations()

	if inboundBackground {
		c.pushToast("info", "Nouveau message", previewOf(&msg))
	}
	if inboundVisible {
		go func() {
			if err := c.svc.MarkRead(c.ctx, c.self, msg.ConversationID); err != nil {
				logger.Log.Warn("mark read failed", zap.String("conversation", msg.ConversationID), zap.Error(err))
			}
		}()
	}
}

// handleReadReceipt another participant read the thread: flip our
// outbound sent/delivered messages to read. A receipt from our own
// other session resets the local unread count instead.
func (c *SessionCache) handleReadReceipt(r domain.ReadReceipt) {
	c.mu.Lock()
	if r.ReaderID == c.self {
		c.resetUnreadLocked(r.ConversationID)
		c.mu.Unlock()
		c.emitConversations()
		return
	}

	list := c.messages[r.ConversationID]
	for i := range list {
		if list[i].SenderID == c.self && domain.CanTransition(list[i].Status, domain.StatusRead) {
			list[i].Status = domain.StatusRead
		}
	}
	c.mu.Unlock()
	c.emitMessages(r.ConversationID)
}

func (c *SessionCache) handleConversationUpdate(conv domain.Conversation) {
	c.mu.Lock()
	found := false
	for i := range c.conversations {
		if c.conversations[i].ID == conv.ID {
			c.conversations[i] = conv
			found = true
			break
		}
	}
	if !found {
		c.conversations = append(c.conversations, conv)
	}
	c.sortConversationsLocked()
	c.mu.Unlock()
	c.emitConversations()
}

func (c *SessionCache) handleConversationDelete(conversationID string) {
	c.mu.Lock()
	for i := range c.conversations {
		if c.conversations[i].ID == conversationID {
			c.conversations = append(c.conversations[:i], c.conversations[i+1:]...)
			break
		}
	}
	delete(c.messages, conversationID)
	if c.active == conversationID {
		c.active = ""
		c.fetchGen++
	}
	c.mu.Unlock()

	c.emitConversations()
	c.pushToast("info", "Messagerie", "Conversation supprimée")
}

func (c *SessionCache) handleChannelError(err error) {
	logger.Log.Warn("realtime channel dropped", zap.String("participant", c.self), zap.Error(err))
	c.setConnState(domain.StateDisconnected)
	c.startReconnect()
}

// startReconnect launch the backoff loop; at most one runs at a time
func (c *SessionCache) startReconnect() {
	c.mu.Lock()
	if c.reconnecting || c.closed {
		c.mu.Unlock()
		return
	}
	c.reconnecting = true
	c.mu.Unlock()

	go c.reconnectLoop()
}

func (c *SessionCache) reconnectLoop() {
	defer func() {
		c.mu.Lock()
		c.reconnecting = false
		c.mu.Unlock()
	}()

	for attempt := 1; ; attempt++ {
		select {
		case <-c.ctx.Done():
			return
		case <-time.After(c.backoff.Next(attempt)):
		}

		c.setConnState(domain.StateConnecting)
		sub, err := c.svc.Subscribe(c.ctx, c.self, c.callbacks())
		if err != nil {
			logger.Log.Warn("reconnect failed", zap.Int("attempt", attempt), zap.Error(err))
			c.setConnState(domain.StateError)
			continue
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			sub.Close()
			return
		}
		c.sub = sub
		active := c.active
		c.mu.Unlock()
		c.setConnState(domain.StateConnected)

		// state may have moved while we were gone; reload what is visible
		if err := c.RefreshConversations(c.ctx); err != nil {
			logger.Log.Warn("refresh after reconnect failed", zap.Error(err))
		}
		if active != "" {
			if err := c.OpenConversation(c.ctx, active); err != nil {
				logger.Log.Warn("reload active conversation failed", zap.String("conversation", active), zap.Error(err))
			}
		}
		return
	}
}

func (c *SessionCache) setConnState(state domain.ConnState) {
	c.mu.Lock()
	changed := c.connState != state
	c.connState = state
	c.mu.Unlock()
	if changed && c.listener != nil {
		c.listener.ConnStateChanged(state)
	}
}

// --- locked helpers ---

func (c *SessionCache) sortConversationsLocked() {
	sort.SliceStable(c.conversations, func(i, j int) bool {
		return c.conversations[i].LastActivityAt > c.conversations[j].LastActivityAt
	})
}

func (c *SessionCache) containsMessageLocked(conversationID, messageID string) bool {
	for _, m := range c.messages[conversationID] {
		if m.ID == messageID {
			return true
		}
	}
	return false
}

func (c *SessionCache) updateMessageLocked(conversationID, messageID string, fn func(*domain.Message)) bool {
	list := c.messages[conversationID]
	for i := range list {
		if list[i].ID == messageID {
			fn(&list[i])
			return true
		}
	}
	return false
}

func (c *SessionCache) removeMessageLocked(conversationID, messageID string) {
	list := c.messages[conversationID]
	for i := range list {
		if list[i].ID == messageID {
			c.messages[conversationID] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

// insertMessageLocked keep the ascending order even when an event
// arrives late
func (c *SessionCache) insertMessageLocked(conversationID string, msg domain.Message) {
	list := c.messages[conversationID]
	i := len(list)
	for i > 0 && list[i-1].CreatedAt > msg.CreatedAt {
		i--
	}
	list = append(list, domain.Message{})
	copy(list[i+1:], list[i:])
	list[i] = msg
	c.messages[conversationID] = list
}

func (c *SessionCache) applySnapshotLocked(conversationID string, msg *domain.Message) {
	for i := range c.conversations {
		if c.conversations[i].ID == conversationID {
			snap := msg.Snapshot()
			c.conversations[i].LastMessage = &snap
			c.conversations[i].LastActivityAt = msg.CreatedAt
			break
		}
	}
	c.sortConversationsLocked()
}

func (c *SessionCache) bumpUnreadLocked(conversationID string) {
	for i := range c.conversations {
		if c.conversations[i].ID == conversationID {
			if c.conversations[i].UnreadCounts == nil {
				c.conversations[i].UnreadCounts = make(map[string]int)
			}
			c.conversations[i].UnreadCounts[c.self]++
			return
		}
	}
}

func (c *SessionCache) resetUnreadLocked(conversationID string) {
	for i := range c.conversations {
		if c.conversations[i].ID == conversationID {
			c.conversations[i].ResetUnread(c.self)
			return
		}
	}
}

// --- listener plumbing ---

func (c *SessionCache) emitConversations() {
	if c.listener == nil {
		return
	}
	c.listener.ConversationsChanged(c.Conversations())
}

func (c *SessionCache) emitMessages(conversationID string) {
	if c.listener == nil {
		return
	}
	c.listener.MessagesChanged(conversationID, c.Messages(conversationID))
}

func (c *SessionCache) pushToast(level, title, body string) {
	if c.toasts == nil {
		return
	}
	c.toasts.Push(domain.Toast{Level: level, Title: title, Body: body})
}

func absMillis(d int64) int64 {
	if d < 0 {
		return -d
	}
	return d
}
