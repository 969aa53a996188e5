package models

import "time"

// TurnRole identifies the author of a conversation turn.
type TurnRole string

const (
	RoleUser      TurnRole = "user"
	RoleAssistant TurnRole = "assistant"
)

// Turn is one message in a conversation. Turns are append-only.
type Turn struct {
	Role             TurnRole  `bson:"role" json:"role"`
	Content          string    `bson:"content" json:"content"`
	Timestamp        time.Time `bson:"timestamp" json:"timestamp"`
	AssociatedTaskID string    `bson:"associatedTaskId,omitempty" json:"associatedTaskId,omitempty"`
}

// Conversation is a per-user dialog history. At most one conversation per
// user is active (lastActivityAt within the freshness window); older ones
// are immutable archives.
type Conversation struct {
	ConversationID string    `bson:"conversationId" json:"conversationId"`
	UserID         string    `bson:"userId" json:"userId"`
	Turns          []Turn    `bson:"turns" json:"turns"`
	CreatedAt      time.Time `bson:"createdAt" json:"createdAt"`
	LastActivityAt time.Time `bson:"lastActivityAt" json:"lastActivityAt"`

	Version int64 `bson:"version" json:"-"`
}

// PlannerWindow is the number of most-recent turns exposed to planners.
// Older turns stay in persistence for inspection but are never prompted.
const PlannerWindow = 20

// RecentTurns returns the last n turns in chronological order.
func (c *Conversation) RecentTurns(n int) []Turn {
	if len(c.Turns) <= n {
		return c.Turns
	}
	return c.Turns[len(c.Turns)-n:]
}
