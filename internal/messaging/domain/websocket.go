package domain

// Action websocket request action
type Action string

const (
	// ListConversations websocket action list_conversations
	ListConversations Action = "list_conversations"
	// OpenConversation websocket action open_conversation
	OpenConversation Action = "open_conversation"
	// LoadOlder websocket action load_older
	LoadOlder Action = "load_older"
	// CreateConversation websocket action create_conversation
	CreateConversation Action = "create_conversation"

	// SendMessage websocket action send_message
	SendMessage Action = "send_message"
	// RetryMessage websocket action retry_message
	RetryMessage Action = "retry_message"
	// MarkRead websocket action mark_read
	MarkRead Action = "mark_read"

	// Typing websocket action typing
	Typing Action = "typing"
	// Heartbeat websocket action heartbeat
	Heartbeat Action = "heartbeat"

	// NotifyMessage websocket push action notify_message
	NotifyMessage Action = "notify_message"
	// NotifyConversation websocket push action notify_conversation
	NotifyConversation Action = "notify_conversation"
	// NotifyConnState websocket push action notify_conn_state
	NotifyConnState Action = "notify_conn_state"
	// NotifyToast websocket push action notify_toast
	NotifyToast Action = "notify_toast"
)

// WSRequest websocket Request
type WSRequest struct {
	Action         string        `json:"action"`
	ConversationID string        `json:"conversation_id"`
	Content        string        `json:"content"`
	TempID         string        `json:"temp_id"`
	Before         int64         `json:"before"`
	Limit          int           `json:"limit"`
	Offset         int           `json:"offset"`
	IsTyping       bool          `json:"is_typing"`
	Kind           string        `json:"kind"`
	Title          string        `json:"title"`
	Participants   []Participant `json:"participants"`
	AttachmentPath string        `json:"attachment_path"`
	AttachmentMime string        `json:"attachment_mime"`
	AttachmentSize int64         `json:"attachment_size"`
	AttachmentName string        `json:"attachment_name"`
}

// WSResponse websocket Response
type WSResponse struct {
	Action  string                 `json:"action"`
	Success bool                   `json:"success"`
	Payload map[string]interface{} `json:"payload,omitempty"`
	Error   string                 `json:"error,omitempty"`
}
