package chat

import "time"

const DefaultMaxParticipants = 10

// Session is an ad-hoc collaboration room at sessions/{id}. It exists only while it has
// participants.
type Session struct {
	ID           string               `json:"id"`
	Name         string               `json:"name"`
	Participants []SessionParticipant `json:"participants"`
	Settings     SessionSettings      `json:"settings"`
	CreatedAt    time.Time            `json:"createdAt"`
	CreatedBy    string               `json:"createdBy"`
}

type SessionParticipant struct {
	UserID   string    `json:"userId"`
	Role     string    `json:"role"`
	JoinedAt time.Time `json:"joinedAt"`
}

type SessionSettings struct {
	MaxParticipants int  `json:"maxParticipants"`
	AutoSave        bool `json:"autoSave"`
	// Extra holds settings the core does not interpret.
	Extra map[string]string `json:"extra,omitempty"`
}

func (s Session) IndexOf(userID string) int {
	for i, p := range s.Participants {
		if p.UserID == userID {
			return i
		}
	}
	return -1
}

// SessionEvent is an entry of events/{sessionId}/{id}.
type SessionEvent struct {
	ID        string         `json:"id"`
	SessionID string         `json:"sessionId"`
	Type      string         `json:"type"`
	UserID    string         `json:"userId"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

const (
	SessionEventJoin  = "join"
	SessionEventLeave = "leave"
)
