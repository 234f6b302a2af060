package controller

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	feed "github.com/kamlesh9876/Devium-sub000/internal/infrastructure/feed/port"
	"github.com/kamlesh9876/Devium-sub000/internal/infrastructure/schedule"
	chat "github.com/kamlesh9876/Devium-sub000/internal/pkg/chat/application/domain"
	"github.com/kamlesh9876/Devium-sub000/internal/pkg/chat/application/service"
	"github.com/kamlesh9876/Devium-sub000/internal/pkg/chat/application/state"
	"github.com/kamlesh9876/Devium-sub000/internal/pkg/chat/application/usecase"
)

// signalRefresh is how often typing and cursor staleness is re-evaluated without a store change.
const signalRefresh = time.Second

// frameSender is the outbound half of a socket.
type frameSender interface {
	SendJSON(v any) error
}

type inboundFrame struct {
	Type           string            `json:"type"`
	ConversationID string            `json:"conversation_id,omitempty"`
	Content        string            `json:"content,omitempty"`
	Typing         bool              `json:"typing,omitempty"`
	Name           string            `json:"name,omitempty"`
	Kind           string            `json:"kind,omitempty"`
	ParticipantIDs []string          `json:"participant_ids,omitempty"`
	ProjectID      string            `json:"project_id,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	TargetID       string            `json:"target_id,omitempty"`
	UserID         string            `json:"user_id,omitempty"`
	Query          string            `json:"query,omitempty"`
	Page           string            `json:"page,omitempty"`
	X              float64           `json:"x,omitempty"`
	Y              float64           `json:"y,omitempty"`
	SessionID      string            `json:"session_id,omitempty"`
	MaxMembers     int               `json:"max_participants,omitempty"`
	EventType      string            `json:"event_type,omitempty"`
	Data           map[string]any    `json:"data,omitempty"`
}

type errorFrame struct {
	Type  string `json:"type"`
	Code  string `json:"code"`
	Error string `json:"error"`
}

type ackFrame struct {
	Type         string             `json:"type"`
	Ref          string             `json:"ref"`
	Message      *chat.Message      `json:"message,omitempty"`
	Conversation *chat.Conversation `json:"conversation,omitempty"`
	Session      *chat.Session      `json:"session,omitempty"`
	Event        *chat.SessionEvent `json:"event,omitempty"`
}

type connectedFrame struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
}

type messageView struct {
	chat.Message
	Pending bool `json:"pending"`
}

type stateView struct {
	Conversations       []chat.Conversation `json:"conversations"`
	CurrentConversation string              `json:"currentConversation"`
	Messages            []messageView       `json:"messages"`
	Users               []chat.User         `json:"users"`
	Loading             bool                `json:"loading"`
	Error               string              `json:"error,omitempty"`
}

type stateFrame struct {
	Type  string    `json:"type"`
	State stateView `json:"state"`
}

type typingFrame struct {
	Type           string   `json:"type"`
	ConversationID string   `json:"conversation_id"`
	Users          []string `json:"users"`
}

type cursorsFrame struct {
	Type    string              `json:"type"`
	Page    string              `json:"page"`
	Cursors []chat.CursorSignal `json:"cursors"`
}

type searchFrame struct {
	Type  string      `json:"type"`
	Query string      `json:"query"`
	Users []chat.User `json:"users"`
}

type sessionFrame struct {
	Type      string        `json:"type"`
	SessionID string        `json:"session_id"`
	Session   *chat.Session `json:"session"`
}

type sessionEventsFrame struct {
	Type      string              `json:"type"`
	SessionID string              `json:"session_id"`
	Events    []chat.SessionEvent `json:"events"`
}

// socketSession binds one ChatController to one socket: it streams state, typing, cursor and
// session frames out and turns inbound frames into commands.
type socketSession struct {
	ctl     *service.ChatController
	out     frameSender
	clock   schedule.Clock
	logger  *slog.Logger
	timeout time.Duration

	mu          sync.Mutex
	page        string
	cursors     []chat.CursorSignal
	lastCursors []chat.CursorSignal
	lastTyping  []string
	typingConv  string
	watched     map[string][]feed.Unsubscribe

	removeListener func()
	unsubCursors   feed.Unsubscribe
	stopRefresh    func()
	closeOnce      sync.Once
}

func newSocketSession(deps service.Deps, userID string, out frameSender, timeout time.Duration) *socketSession {
	clock := deps.Clock
	if clock == nil {
		clock = schedule.System()
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &socketSession{
		ctl:     service.New(deps, userID),
		out:     out,
		clock:   clock,
		logger:  logger.With("user_id", userID),
		timeout: timeout,
		watched: make(map[string][]feed.Unsubscribe),
	}
}

// open starts the controller and the outbound streams.
func (s *socketSession) open(ctx context.Context) error {
	s.removeListener = s.ctl.OnChange(s.onState)
	if err := s.ctl.Start(ctx); err != nil {
		return err
	}
	_ = s.out.SendJSON(connectedFrame{Type: "connected", UserID: s.ctl.UserID()})
	s.onState(s.ctl.State())

	unsub, err := s.ctl.Cursors().Subscribe(ctx, s.onCursors)
	if err != nil {
		s.logger.Warn("cursor subscription failed", "error", err)
	} else {
		s.unsubCursors = unsub
	}
	s.stopRefresh = schedule.Every(s.clock, signalRefresh, s.refreshSignals)
	return nil
}

func (s *socketSession) close() {
	s.closeOnce.Do(func() { s.shutdown(true) })
}

// closeReplaced ends a session whose socket was taken over by a newer one of the same user. The
// user's typing and cursor records now belong to the newer session and are left alone.
func (s *socketSession) closeReplaced() {
	s.closeOnce.Do(func() { s.shutdown(false) })
}

func (s *socketSession) shutdown(clearSignals bool) {
	if s.stopRefresh != nil {
		s.stopRefresh()
	}
	if s.unsubCursors != nil {
		s.unsubCursors()
	}
	if s.removeListener != nil {
		s.removeListener()
	}

	s.mu.Lock()
	watched := s.watched
	s.watched = make(map[string][]feed.Unsubscribe)
	s.mu.Unlock()

	ctx := context.Background()
	for sessionID, unsubs := range watched {
		for _, unsub := range unsubs {
			unsub()
		}
		if err := s.ctl.Sessions().Leave(ctx, sessionID, s.ctl.UserID()); err != nil && !errors.Is(err, chat.ErrNotFound) {
			s.logger.Debug("session leave on disconnect failed", "session_id", sessionID, "error", err)
		}
	}
	if clearSignals {
		s.ctl.Close()
		return
	}
	s.ctl.Handoff()
}

func (s *socketSession) onState(st state.State) {
	msgs := st.Messages(st.CurrentConversation)
	views := make([]messageView, 0, len(msgs))
	for _, m := range msgs {
		views = append(views, messageView{Message: m, Pending: m.Pending})
	}
	_ = s.out.SendJSON(stateFrame{Type: "state", State: stateView{
		Conversations:       st.Conversations,
		CurrentConversation: st.CurrentConversation,
		Messages:            views,
		Users:               st.Users,
		Loading:             st.Loading,
		Error:               st.Error,
	}})
	s.refreshTyping(st)
}

func (s *socketSession) refreshSignals() {
	s.refreshTyping(s.ctl.State())
	s.refreshCursors()
}

// refreshTyping sends the typing set of the current conversation when it changed.
func (s *socketSession) refreshTyping(st state.State) {
	signals := st.ActiveTypers(st.CurrentConversation, s.ctl.UserID(), s.clock.Now())
	users := make([]string, 0, len(signals))
	for _, sig := range signals {
		users = append(users, sig.UserID)
	}
	slices.Sort(users)

	s.mu.Lock()
	if s.typingConv == st.CurrentConversation && slices.Equal(users, s.lastTyping) {
		s.mu.Unlock()
		return
	}
	s.typingConv = st.CurrentConversation
	s.lastTyping = users
	s.mu.Unlock()

	if st.CurrentConversation == "" {
		return
	}
	_ = s.out.SendJSON(typingFrame{Type: "typing", ConversationID: st.CurrentConversation, Users: users})
}

func (s *socketSession) onCursors(all []chat.CursorSignal) {
	s.mu.Lock()
	s.cursors = all
	s.mu.Unlock()
	s.refreshCursors()
}

// refreshCursors sends the cursors visible on the viewer's page when they changed.
func (s *socketSession) refreshCursors() {
	s.mu.Lock()
	if s.page == "" {
		s.mu.Unlock()
		return
	}
	visible := usecase.VisibleCursors(s.cursors, s.ctl.UserID(), s.page, s.clock.Now())
	if visible == nil {
		visible = []chat.CursorSignal{}
	}
	if slices.Equal(visible, s.lastCursors) {
		s.mu.Unlock()
		return
	}
	s.lastCursors = visible
	page := s.page
	s.mu.Unlock()

	_ = s.out.SendJSON(cursorsFrame{Type: "cursors", Page: page, Cursors: visible})
}

func (s *socketSession) setPage(page string) {
	s.mu.Lock()
	if s.page != page {
		s.page = page
		s.lastCursors = nil
	}
	s.mu.Unlock()
	s.refreshCursors()
}

// handle runs one inbound frame. Errors are for the client; they never end the session.
func (s *socketSession) handle(ctx context.Context, f inboundFrame) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	userID := s.ctl.UserID()

	switch f.Type {
	case "select":
		return s.ctl.SetCurrentConversation(ctx, f.ConversationID)

	case "send":
		msg, err := s.ctl.SendMessage(ctx, f.ConversationID, f.Content)
		if err != nil || msg == nil {
			return err
		}
		return s.ack(ackFrame{Ref: f.Type, Message: msg})

	case "typing":
		return s.ctl.SetTyping(ctx, f.Typing)

	case "create_conversation":
		conv, err := s.ctl.CreateConversation(ctx, service.CreateConversationInput{
			Name:         f.Name,
			Kind:         chat.ConversationKind(f.Kind),
			Participants: f.ParticipantIDs,
			ProjectID:    f.ProjectID,
			Metadata:     f.Metadata,
		})
		return s.ackConversation(f.Type, conv, err)

	case "direct":
		conv, err := s.ctl.CreateDirectChat(ctx, f.TargetID)
		return s.ackConversation(f.Type, conv, err)

	case "add_member":
		conv, err := s.ctl.AddMember(ctx, f.ConversationID, f.UserID)
		return s.ackConversation(f.Type, conv, err)

	case "remove_member":
		conv, err := s.ctl.RemoveMember(ctx, f.ConversationID, f.UserID)
		return s.ackConversation(f.Type, conv, err)

	case "search":
		users, err := s.ctl.SearchUsers(ctx, f.Query)
		if err != nil {
			return err
		}
		if users == nil {
			users = []chat.User{}
		}
		return s.out.SendJSON(searchFrame{Type: "search_results", Query: f.Query, Users: users})

	case "clear_error":
		s.ctl.ClearError()
		return nil

	case "cursor":
		if f.Page == "" {
			return errBadFrame("page is required")
		}
		s.ctl.Cursors().Move(ctx, userID, f.Page, chat.Position{X: f.X, Y: f.Y})
		s.setPage(f.Page)
		return nil

	case "cursor_hide":
		s.ctl.Cursors().Hide(ctx, userID)
		return nil

	case "session_create":
		settings := chat.SessionSettings{MaxParticipants: f.MaxMembers}
		sess, err := s.ctl.Sessions().Create(ctx, usecase.CreateSessionInput{Name: f.Name, CreatorID: userID, Settings: settings})
		if err != nil {
			return err
		}
		if err := s.watchSession(ctx, sess.ID); err != nil {
			return err
		}
		return s.ack(ackFrame{Ref: f.Type, Session: sess})

	case "session_join":
		sess, err := s.ctl.Sessions().Join(ctx, f.SessionID, userID, usecase.RoleParticipant)
		if err != nil {
			return err
		}
		if err := s.watchSession(ctx, sess.ID); err != nil {
			return err
		}
		return s.ack(ackFrame{Ref: f.Type, Session: sess})

	case "session_leave":
		s.unwatchSession(f.SessionID)
		if err := s.ctl.Sessions().Leave(ctx, f.SessionID, userID); err != nil {
			return err
		}
		return s.ack(ackFrame{Ref: f.Type})

	case "session_event":
		ev, err := s.ctl.Sessions().PublishEvent(ctx, usecase.PublishEventInput{
			SessionID: f.SessionID,
			Type:      f.EventType,
			UserID:    userID,
			Data:      f.Data,
		})
		if err != nil {
			return err
		}
		return s.ack(ackFrame{Ref: f.Type, Event: ev})

	default:
		return errBadFrame("unknown frame type")
	}
}

func (s *socketSession) ack(a ackFrame) error {
	a.Type = "ack"
	return s.out.SendJSON(a)
}

func (s *socketSession) ackConversation(ref string, conv *chat.Conversation, err error) error {
	if err != nil || conv == nil {
		return err
	}
	return s.ack(ackFrame{Ref: ref, Conversation: conv})
}

// watchSession streams a session record and its event log to the socket until unwatched.
func (s *socketSession) watchSession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	_, ok := s.watched[sessionID]
	s.mu.Unlock()
	if ok {
		return nil
	}

	sessions := s.ctl.Sessions()
	unsubSession, err := sessions.Subscribe(ctx, sessionID, func(sess *chat.Session) {
		_ = s.out.SendJSON(sessionFrame{Type: "session", SessionID: sessionID, Session: sess})
	})
	if err != nil {
		return err
	}
	unsubEvents, err := sessions.SubscribeEvents(ctx, sessionID, func(events []chat.SessionEvent) {
		if events == nil {
			events = []chat.SessionEvent{}
		}
		_ = s.out.SendJSON(sessionEventsFrame{Type: "session_events", SessionID: sessionID, Events: events})
	})
	if err != nil {
		unsubSession()
		return err
	}

	s.mu.Lock()
	s.watched[sessionID] = []feed.Unsubscribe{unsubSession, unsubEvents}
	s.mu.Unlock()
	return nil
}

func (s *socketSession) unwatchSession(sessionID string) {
	s.mu.Lock()
	unsubs := s.watched[sessionID]
	delete(s.watched, sessionID)
	s.mu.Unlock()
	for _, unsub := range unsubs {
		unsub()
	}
}

type badFrameError string

func (e badFrameError) Error() string { return string(e) }

func errBadFrame(msg string) error { return badFrameError(msg) }

// errorCode names err for clients.
func errorCode(err error) string {
	var bad badFrameError
	switch {
	case errors.As(err, &bad), errors.Is(err, chat.ErrInvalidArgument):
		return "bad_request"
	case errors.Is(err, chat.ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, chat.ErrNotFound):
		return "not_found"
	case errors.Is(err, chat.ErrAlreadyExists):
		return "already_exists"
	case errors.Is(err, chat.ErrCapacityExceeded):
		return "capacity_exceeded"
	case errors.Is(err, chat.ErrTransientIO):
		return "unavailable"
	default:
		return "internal_error"
	}
}

func (s *socketSession) replyError(code, message string) {
	_ = s.out.SendJSON(errorFrame{Type: "error", Code: code, Error: message})
}
