package state

import (
	"maps"
	"slices"
	"time"

	chat "github.com/kamlesh9876/Devium-sub000/internal/pkg/chat/application/domain"
)

// State is what a chat client renders. It is only ever replaced, never mutated in place, so a
// value handed to a listener stays valid.
type State struct {
	Conversations          []chat.Conversation
	MessagesByConversation map[string][]chat.Message
	Users                  []chat.User
	CurrentConversation    string
	TypingByConversation   map[string][]chat.TypingSignal
	// Pending holds local echoes of sent messages keyed by their client id.
	Pending map[string]chat.Message
	Loading bool
	Error   string

	// inflight counts running commands; Loading is true while it is positive.
	inflight int
}

func Initial() State {
	return State{
		MessagesByConversation: map[string][]chat.Message{},
		TypingByConversation:   map[string][]chat.TypingSignal{},
		Pending:                map[string]chat.Message{},
	}
}

// Event is anything the reducer understands.
type Event interface{ isEvent() }

type ConversationsChanged struct{ Conversations []chat.Conversation }

type MessagesChanged struct {
	ConversationID string
	Messages       []chat.Message
}

type TypingChanged struct {
	ConversationID string
	Signals        []chat.TypingSignal
}

type UsersChanged struct{ Users []chat.User }

type CurrentConversationSet struct{ ConversationID string }

type ErrorRaised struct{ Message string }

// ErrorCleared resets Error, e.g. when the user dismisses it.
type ErrorCleared struct{}

type CommandStarted struct{ Name string }

type CommandFinished struct{ Name string }

type PendingEchoAdded struct{ Message chat.Message }

type PendingEchoDropped struct{ ClientID string }

func (ConversationsChanged) isEvent()   {}
func (MessagesChanged) isEvent()        {}
func (TypingChanged) isEvent()          {}
func (UsersChanged) isEvent()           {}
func (CurrentConversationSet) isEvent() {}
func (ErrorRaised) isEvent()            {}
func (ErrorCleared) isEvent()           {}
func (CommandStarted) isEvent()         {}
func (CommandFinished) isEvent()        {}
func (PendingEchoAdded) isEvent()       {}
func (PendingEchoDropped) isEvent()     {}

// Reduce returns the state after ev. It never mutates s.
func Reduce(s State, ev Event) State {
	switch e := ev.(type) {
	case ConversationsChanged:
		s.Conversations = slices.Clone(e.Conversations)

	case MessagesChanged:
		s.MessagesByConversation = maps.Clone(s.MessagesByConversation)
		if s.MessagesByConversation == nil {
			s.MessagesByConversation = map[string][]chat.Message{}
		}
		s.MessagesByConversation[e.ConversationID] = slices.Clone(e.Messages)
		// An authoritative message retires the echo it answers.
		cloned := false
		for _, m := range e.Messages {
			if m.ClientID == "" {
				continue
			}
			p, ok := s.Pending[m.ClientID]
			if !ok || p.ConversationID != e.ConversationID {
				continue
			}
			if !cloned {
				s.Pending = maps.Clone(s.Pending)
				cloned = true
			}
			delete(s.Pending, m.ClientID)
		}

	case TypingChanged:
		s.TypingByConversation = maps.Clone(s.TypingByConversation)
		if s.TypingByConversation == nil {
			s.TypingByConversation = map[string][]chat.TypingSignal{}
		}
		s.TypingByConversation[e.ConversationID] = slices.Clone(e.Signals)

	case UsersChanged:
		s.Users = slices.Clone(e.Users)

	case CurrentConversationSet:
		s.CurrentConversation = e.ConversationID

	case ErrorRaised:
		s.Error = e.Message

	case ErrorCleared:
		s.Error = ""

	case CommandStarted:
		s.inflight++
		s.Loading = true

	case CommandFinished:
		if s.inflight > 0 {
			s.inflight--
		}
		s.Loading = s.inflight > 0

	case PendingEchoAdded:
		s.Pending = maps.Clone(s.Pending)
		if s.Pending == nil {
			s.Pending = map[string]chat.Message{}
		}
		echo := e.Message
		echo.Pending = true
		s.Pending[echo.ClientID] = echo

	case PendingEchoDropped:
		if _, ok := s.Pending[e.ClientID]; ok {
			s.Pending = maps.Clone(s.Pending)
			delete(s.Pending, e.ClientID)
		}
	}
	return s
}

// Messages returns the authoritative messages of a conversation followed by its pending
// echoes, in timestamp order.
func (s State) Messages(conversationID string) []chat.Message {
	stored := s.MessagesByConversation[conversationID]
	out := slices.Clone(stored)
	var echoes []chat.Message
	for _, p := range s.Pending {
		if p.ConversationID == conversationID {
			echoes = append(echoes, p)
		}
	}
	if len(echoes) == 0 {
		return out
	}
	chat.SortMessages(echoes)
	return append(out, echoes...)
}

// ActiveTypers lists who is typing in a conversation at now, excluding selfID.
func (s State) ActiveTypers(conversationID, selfID string, now time.Time) []chat.TypingSignal {
	var out []chat.TypingSignal
	for _, sig := range s.TypingByConversation[conversationID] {
		if sig.UserID != selfID && sig.Active(now) {
			out = append(out, sig)
		}
	}
	return out
}

// Conversation looks a conversation up by id.
func (s State) Conversation(id string) (chat.Conversation, bool) {
	for _, c := range s.Conversations {
		if c.ID == id {
			return c, true
		}
	}
	return chat.Conversation{}, false
}

func (s State) User(id string) (chat.User, bool) {
	for _, u := range s.Users {
		if u.ID == id {
			return u, true
		}
	}
	return chat.User{}, false
}
