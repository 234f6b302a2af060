package chat

import (
	"sort"
	"time"
)

type MessageType string

const (
	MessageTypeText   MessageType = "text"
	MessageTypeSystem MessageType = "system"
)

// Message is an entry of messages/{conversationId}/{id}. Only the edit/delete markers change
// after it is sent.
type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversationId"`
	SenderID       string      `json:"senderId"`
	SenderName     string      `json:"senderName"`
	Content        string      `json:"content"`
	Timestamp      time.Time   `json:"timestamp"`
	Type           MessageType `json:"type"`
	// ClientID is the sender's correlation id, used to retire its pending echo.
	ClientID  string     `json:"clientId,omitempty"`
	Edited    bool       `json:"edited,omitempty"`
	EditedAt  *time.Time `json:"editedAt,omitempty"`
	Deleted   bool       `json:"deleted,omitempty"`
	DeletedAt *time.Time `json:"deletedAt,omitempty"`
	// Pending marks a local echo that has no authoritative record yet. Never stored.
	Pending bool `json:"-"`
}

// SortMessages orders messages by timestamp, then id, in place.
func SortMessages(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if !msgs[i].Timestamp.Equal(msgs[j].Timestamp) {
			return msgs[i].Timestamp.Before(msgs[j].Timestamp)
		}
		return msgs[i].ID < msgs[j].ID
	})
}
