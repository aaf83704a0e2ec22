package domain

import "time"

const (
	//TypingTTL how long a typing signal stays valid without refresh
	TypingTTL = 6 * time.Second
	//PresenceTTL how long a heartbeat keeps a participant online
	PresenceTTL = 60 * time.Second
)

// TypingIndicator ephemeral signal, never persisted
type TypingIndicator struct {
	ConversationID string `json:"conversation_id"`
	ParticipantID  string `json:"participant_id"`
	IsTyping       bool   `json:"is_typing"`
	At             int64  `json:"at"` // unix millis
}

// OnlineStatus ephemeral presence signal, never persisted
type OnlineStatus struct {
	ParticipantID string `json:"participant_id"`
	Online        bool   `json:"online"`
	LastSeen      int64  `json:"last_seen"` // unix millis
}
