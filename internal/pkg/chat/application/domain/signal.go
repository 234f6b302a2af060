package chat

import "time"

// Staleness windows for ephemeral signals. A signal older than its window counts as cleared
// even if its owner never cleared it.
const (
	TypingTTL   = 5 * time.Second
	CursorTTL   = 30 * time.Second
	PresenceTTL = 60 * time.Second
)

// TypingSignal lives at typing/{conversationId}/{userId} while the user types.
type TypingSignal struct {
	ConversationID string    `json:"conversationId"`
	UserID         string    `json:"userId"`
	IsTyping       bool      `json:"isTyping"`
	StartedAt      time.Time `json:"startedAt"`
	LastUpdate     time.Time `json:"lastUpdate"`
}

// Active reports whether the signal still counts at now.
func (s TypingSignal) Active(now time.Time) bool {
	return s.IsTyping && now.Sub(s.LastUpdate) < TypingTTL
}

type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// CursorSignal lives at cursors/{userId} and is overwritten on every move.
type CursorSignal struct {
	UserID   string    `json:"userId"`
	Position Position  `json:"position"`
	Page     string    `json:"page"`
	LastSeen time.Time `json:"lastSeen"`
	IsActive bool      `json:"isActive"`
}

// VisibleTo reports whether viewerID, looking at page, should see this cursor at now.
func (c CursorSignal) VisibleTo(viewerID, page string, now time.Time) bool {
	return c.UserID != viewerID &&
		c.Page == page &&
		c.IsActive &&
		now.Sub(c.LastSeen) < CursorTTL
}
