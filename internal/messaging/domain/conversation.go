package domain

// ParticipantRole definition participant role in the marketplace
type ParticipantRole string

const (
	//RoleClient company looking for fiscal optimization
	RoleClient ParticipantRole = "client"
	//RoleExpert optimization expert (TICPE, URSSAF, CIR, foncier...)
	RoleExpert ParticipantRole = "expert"
	//RoleAdmin back-office support
	RoleAdmin ParticipantRole = "admin"
	//RoleApporteur business introducer
	RoleApporteur ParticipantRole = "apporteur"
)

// ConversationKind definition which pair of roles a thread connects
type ConversationKind string

const (
	//KindExpertClient expert ↔ client thread
	KindExpertClient ConversationKind = "expert_client"
	//KindAdminSupport support thread with the back office
	KindAdminSupport ConversationKind = "admin_support"
	//KindApporteur thread opened by an apporteur d'affaires
	KindApporteur ConversationKind = "apporteur"
)

// Participant one member of a conversation
type Participant struct {
	ID   string          `bson:"id" json:"id"`
	Role ParticipantRole `bson:"role" json:"role"`
}

// Conversation definition one durable thread
type Conversation struct {
	ID             string           `bson:"_id" json:"id"`
	Kind           ConversationKind `bson:"kind" json:"kind"`
	Title          string           `bson:"title,omitempty" json:"title,omitempty"`
	Participants   []Participant    `bson:"participants" json:"participants"`
	LastMessage    *MessageSnapshot `bson:"last_message,omitempty" json:"last_message,omitempty"`
	UnreadCounts   map[string]int   `bson:"unread_counts" json:"unread_counts"`
	CreatedAt      int64            `bson:"created_at" json:"created_at"`
	LastActivityAt int64            `bson:"last_activity_at" json:"last_activity_at"`
}

// HasParticipant check id belongs to the thread
func (c *Conversation) HasParticipant(id string) bool {
	for _, p := range c.Participants {
		if p.ID == id {
			return true
		}
	}
	return false
}

// OtherParticipants list every member except id
func (c *Conversation) OtherParticipants(id string) []Participant {
	var others []Participant
	for _, p := range c.Participants {
		if p.ID != id {
			others = append(others, p)
		}
	}
	return others
}

// ApplyMessage update the denormalized snapshot and unread counts for
// one new message. Unread moves by exactly one per participant that
// did not author the message.
func (c *Conversation) ApplyMessage(msg *Message) {
	snap := msg.Snapshot()
	c.LastMessage = &snap
	c.LastActivityAt = msg.CreatedAt
	if c.UnreadCounts == nil {
		c.UnreadCounts = make(map[string]int)
	}
	for _, p := range c.Participants {
		if p.ID != msg.SenderID {
			c.UnreadCounts[p.ID]++
		}
	}
}

// ResetUnread zero the unread count for one participant
func (c *Conversation) ResetUnread(participantID string) {
	if c.UnreadCounts == nil {
		return
	}
	c.UnreadCounts[participantID] = 0
}

// UnreadFor read the unread count for one participant
func (c *Conversation) UnreadFor(participantID string) int {
	if c.UnreadCounts == nil {
		return 0
	}
	return c.UnreadCounts[participantID]
}

// Page definition list pagination. Before is a created-at cursor in
// unix millis; zero means "latest page".
type Page struct {
	Limit  int   `json:"limit"`
	Offset int   `json:"offset"`
	Before int64 `json:"before"`
}

// CreateConversationRequest input for opening a new thread
type CreateConversationRequest struct {
	Kind         ConversationKind `json:"kind"`
	Title        string           `json:"title"`
	Participants []Participant    `json:"participants"`
}

// ParticipantProfile directory row backing referential checks
type ParticipantProfile struct {
	ID          string          `json:"id"`
	DisplayName string          `json:"display_name"`
	Role        ParticipantRole `json:"role"`
	Email       string          `json:"email"`
}
