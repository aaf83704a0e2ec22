package domain

import "strings"

// DeliveryStatus definition message delivery state
type DeliveryStatus string

const (
	// StatusSending message appended locally, not yet confirmed
	StatusSending DeliveryStatus = "sending"
	// StatusSent message persisted by the store
	StatusSent DeliveryStatus = "sent"
	// StatusDelivered message reached the recipient's session
	StatusDelivered DeliveryStatus = "delivered"
	// StatusRead message read by the recipient
	StatusRead DeliveryStatus = "read"
	// StatusFailed send gave up, terminal, only reachable from sending
	StatusFailed DeliveryStatus = "failed"
)

var statusRank = map[DeliveryStatus]int{
	StatusSending:   0,
	StatusSent:      1,
	StatusDelivered: 2,
	StatusRead:      3,
}

// CanTransition check a status move is forward along
// sending → sent → delivered → read. failed is terminal and
// reachable only from sending.
func CanTransition(from, to DeliveryStatus) bool {
	if from == StatusFailed {
		return false
	}
	if to == StatusFailed {
		return from == StatusSending
	}
	fromRank, ok := statusRank[from]
	if !ok {
		return false
	}
	toRank, ok := statusRank[to]
	if !ok {
		return false
	}
	return toRank > fromRank
}

// TempIDPrefix marks ids generated locally for optimistic entries
const TempIDPrefix = "tmp-"

// IsTempID check id belongs to an unconfirmed optimistic entry
func IsTempID(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix)
}

// Message definition one chat message
type Message struct {
	ID             string          `bson:"_id" json:"id"`
	ConversationID string          `bson:"conversation_id" json:"conversation_id"`
	SenderID       string          `bson:"sender_id" json:"sender_id"`
	Content        string          `bson:"content" json:"content"`
	Attachment     *FileAttachment `bson:"attachment,omitempty" json:"attachment,omitempty"`
	Status         DeliveryStatus  `bson:"status" json:"status"`
	CreatedAt      int64           `bson:"created_at" json:"created_at"` // unix millis, ordering authority
}

// FileAttachment definition one uploaded blob owned by a message
type FileAttachment struct {
	StoragePath string `bson:"storage_path" json:"storage_path"`
	MimeType    string `bson:"mime_type" json:"mime_type"`
	Size        int64  `bson:"size" json:"size"`
	Filename    string `bson:"filename" json:"filename"`
}

// MessageSnapshot denormalized last-message view kept on a conversation
type MessageSnapshot struct {
	MessageID string `bson:"message_id" json:"message_id"`
	SenderID  string `bson:"sender_id" json:"sender_id"`
	Content   string `bson:"content" json:"content"`
	CreatedAt int64  `bson:"created_at" json:"created_at"`
}

// Snapshot build the denormalized view of m
func (m *Message) Snapshot() MessageSnapshot {
	return MessageSnapshot{
		MessageID: m.ID,
		SenderID:  m.SenderID,
		Content:   m.Content,
		CreatedAt: m.CreatedAt,
	}
}
