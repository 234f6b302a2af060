package chat

import (
	"sort"
	"strings"
	"time"
)

// ConversationKind tells how a conversation came to exist and how its id is derived.
type ConversationKind string

const (
	KindDirect  ConversationKind = "direct"
	KindProject ConversationKind = "project"
	KindTeam    ConversationKind = "team"
)

func (k ConversationKind) Valid() bool {
	switch k {
	case KindDirect, KindProject, KindTeam:
		return true
	}
	return false
}

// MetaProjectID is the metadata key linking a project conversation to its project.
const MetaProjectID = "projectId"

// Conversation is the canonical record at conversations/{id}.
type Conversation struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Kind         ConversationKind  `json:"kind"`
	Participants []string          `json:"participants"`
	CreatedAt    time.Time         `json:"createdAt"`
	UpdatedAt    time.Time         `json:"updatedAt"`
	Archived     bool              `json:"archived"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	// LastMessage is a denormalised copy of the newest message, kept for list views only.
	LastMessage *LastMessage `json:"lastMessage,omitempty"`
}

type LastMessage struct {
	ID         string    `json:"id"`
	Content    string    `json:"content"`
	SenderID   string    `json:"senderId"`
	SenderName string    `json:"senderName"`
	Timestamp  time.Time `json:"timestamp"`
}

func (c Conversation) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// LastActivity is the later of the last update and the last message.
func (c Conversation) LastActivity() time.Time {
	t := c.UpdatedAt
	if c.LastMessage != nil && c.LastMessage.Timestamp.After(t) {
		t = c.LastMessage.Timestamp
	}
	return t
}

// ProjectID returns the project a project conversation belongs to, if recorded.
func (c Conversation) ProjectID() string {
	if c.Metadata == nil {
		return ""
	}
	return c.Metadata[MetaProjectID]
}

// IsDirectBetween reports whether c is a direct chat with exactly the two given users.
func (c Conversation) IsDirectBetween(a, b string) bool {
	if c.Kind != KindDirect || len(c.Participants) != 2 {
		return false
	}
	return (c.Participants[0] == a && c.Participants[1] == b) ||
		(c.Participants[0] == b && c.Participants[1] == a)
}

// ProjectConversationID derives the only id a project's conversation may have. Concurrent
// creators therefore converge on one record instead of racing to create two.
func ProjectConversationID(projectID string) string {
	return "project_" + projectID
}

// directIDEscaper keeps "_" inside user ids from reading as the pair separator.
var directIDEscaper = strings.NewReplacer("%", "%25", "_", "%5F")

// DirectConversationID derives the id of the direct chat between two users, independent of
// who starts it. Distinct pairs always map to distinct ids.
func DirectConversationID(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return "direct_" + directIDEscaper.Replace(pair[0]) + "_" + directIDEscaper.Replace(pair[1])
}

// SortedParticipants returns a sorted, de-duplicated copy of ids without empty entries.
func SortedParticipants(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
