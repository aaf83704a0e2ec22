package domain

// ChangeOp definition row change operation tag
type ChangeOp string

const (
	//OpInsert row created
	OpInsert ChangeOp = "insert"
	//OpUpdate row updated
	OpUpdate ChangeOp = "update"
	//OpDelete row deleted
	OpDelete ChangeOp = "delete"
)

// ChangeTable definition which table a change event touches
type ChangeTable string

const (
	//TableMessages messages table
	TableMessages ChangeTable = "messages"
	//TableConversations conversations table
	TableConversations ChangeTable = "conversations"
	//TableTyping ephemeral typing signals
	TableTyping ChangeTable = "typing_indicators"
	//TablePresence ephemeral presence signals
	TablePresence ChangeTable = "presence"
)

// ReadReceipt carried on message update events when a participant
// marks a conversation read
type ReadReceipt struct {
	ConversationID string `json:"conversation_id"`
	ReaderID       string `json:"reader_id"`
	ReadAt         int64  `json:"read_at"` // unix millis
}

// ChangeEvent the wire unit of the realtime transport. Exactly one
// payload pointer is set, matching Table.
type ChangeEvent struct {
	Op           ChangeOp         `json:"op"`
	Table        ChangeTable      `json:"table"`
	RowID        string           `json:"row_id,omitempty"` // set on deletes
	Message      *Message         `json:"message,omitempty"`
	Conversation *Conversation    `json:"conversation,omitempty"`
	Receipt      *ReadReceipt     `json:"receipt,omitempty"`
	Typing       *TypingIndicator `json:"typing,omitempty"`
	Presence     *OnlineStatus    `json:"presence,omitempty"`
}

// Callbacks handlers a subscriber registers for its channel
type Callbacks struct {
	OnNewMessage         func(Message)
	OnMessageRead        func(ReadReceipt)
	OnConversationUpdate func(Conversation)
	OnConversationDelete func(conversationID string)
	OnTypingChange       func(TypingIndicator)
	OnPresenceChange     func(OnlineStatus)
	OnError              func(error)
}

// ConnState definition session connection state
type ConnState string

const (
	//StateConnecting subscribe in flight
	StateConnecting ConnState = "connecting"
	//StateConnected channel acked
	StateConnected ConnState = "connected"
	//StateDisconnected transport reported a drop
	StateDisconnected ConnState = "disconnected"
	//StateError subscribe failed, reconnect pending
	StateError ConnState = "error"
)

const (
	participantChannelPrefix = "messaging:participant:"
	//PresenceChannel shared broadcast channel for presence signals
	PresenceChannel = "messaging:presence"
)

// ParticipantChannel realtime channel name for one participant
func ParticipantChannel(participantID string) string {
	return participantChannelPrefix + participantID
}

// Notification fire-and-forget payload for the toast/notification sink
type Notification struct {
	ParticipantID  string `json:"participant_id"`
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
	SenderID       string `json:"sender_id"`
	Title          string `json:"title"`
	Body           string `json:"body"`
}

// AuditEvent append-only record of a mutating operation
type AuditEvent struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id,omitempty"`
	ActorID        string `json:"actor_id"`
	At             int64  `json:"at"` // unix millis
}

// Toast UI-facing, non-blocking user feedback
type Toast struct {
	Level string `json:"level"` // info | error
	Title string `json:"title"`
	Body  string `json:"body"`
}
