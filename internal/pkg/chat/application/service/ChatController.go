package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	cache "github.com/kamlesh9876/Devium-sub000/internal/infrastructure/cache/port"
	feed "github.com/kamlesh9876/Devium-sub000/internal/infrastructure/feed/port"
	"github.com/kamlesh9876/Devium-sub000/internal/infrastructure/schedule"
	chat "github.com/kamlesh9876/Devium-sub000/internal/pkg/chat/application/domain"
	"github.com/kamlesh9876/Devium-sub000/internal/pkg/chat/application/state"
	"github.com/kamlesh9876/Devium-sub000/internal/pkg/chat/application/usecase"
)

// Deps wires a ChatController. Feed, Clock and Logger are required.
type Deps struct {
	Feed     feed.Feed
	Clock    schedule.Clock
	Logger   *slog.Logger
	Cache    cache.Cache
	CacheTTL time.Duration
	// Presence may be shared between controllers of one process so that a user with several
	// connections only goes offline when the last one closes.
	Presence *usecase.PresenceTracker
}

// Listener receives the controller state after every change.
type Listener func(state.State)

// Subscription keys; re-subscribing a key tears down the listener it replaces.
const (
	subConversations = "conversations"
	subUsers         = "users"
	subProjects      = "projects"
	subTeams         = "teams"
	subMessages      = "messages"
	subTyping        = "typing"
)

// ChatController is the client-side facade of the synchronization core for one user. It owns
// the components, folds their snapshots into a single State and exposes user commands.
type ChatController struct {
	userID string
	clock  schedule.Clock
	logger *slog.Logger

	conversations *usecase.ConversationRegistry
	messages      *usecase.MessageStream
	presence      *usecase.PresenceTracker
	typing        *usecase.TypingCoordinator
	cursors       *usecase.CursorBroadcaster
	sessions      *usecase.SessionCoordinator
	directory     *usecase.UserDirectory

	mu               sync.Mutex
	st               state.State
	version          uint64
	delivered        uint64
	notifying        bool
	listeners        map[int]Listener
	nextListener     int
	subs             map[string]feed.Unsubscribe
	allConversations []chat.Conversation
	projects         []chat.Project
	teams            map[string]chat.Team
	haveProjects     bool
	haveTeams        bool
	messagesFor      string
	releasePresence  func()
	closed           bool
}

func New(deps Deps, userID string) *ChatController {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("user_id", userID)
	clock := deps.Clock
	if clock == nil {
		clock = schedule.System()
	}
	presence := deps.Presence
	if presence == nil {
		presence = usecase.NewPresenceTracker(deps.Feed, clock, logger)
	}
	return &ChatController{
		userID:        userID,
		clock:         clock,
		logger:        logger,
		conversations: usecase.NewConversationRegistry(deps.Feed, clock, logger),
		messages:      usecase.NewMessageStream(deps.Feed, clock, logger),
		presence:      presence,
		typing:        usecase.NewTypingCoordinator(deps.Feed, clock, logger),
		cursors:       usecase.NewCursorBroadcaster(deps.Feed, clock, logger),
		sessions:      usecase.NewSessionCoordinator(deps.Feed, clock, logger),
		directory:     usecase.NewUserDirectory(deps.Feed, deps.Cache, deps.CacheTTL, logger),
		st:            state.Initial(),
		listeners:     make(map[int]Listener),
		subs:          make(map[string]feed.Unsubscribe),
	}
}

func (c *ChatController) UserID() string { return c.userID }

func (c *ChatController) Cursors() *usecase.CursorBroadcaster { return c.cursors }

func (c *ChatController) Sessions() *usecase.SessionCoordinator { return c.sessions }

func (c *ChatController) Presence() *usecase.PresenceTracker { return c.presence }

// State returns the latest state.
func (c *ChatController) State() state.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.st
}

// ActiveTypers lists who is typing in the current conversation right now.
func (c *ChatController) ActiveTypers() []chat.TypingSignal {
	st := c.State()
	return st.ActiveTypers(st.CurrentConversation, c.userID, c.clock.Now())
}

// OnChange registers fn for every state change and returns a function removing it.
func (c *ChatController) OnChange(fn Listener) func() {
	c.mu.Lock()
	c.nextListener++
	id := c.nextListener
	c.listeners[id] = fn
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.listeners, id)
			c.mu.Unlock()
		})
	}
}

// dispatch folds ev into the state and notifies listeners. Only one goroutine notifies at a
// time and it always hands out the newest state, so a listener never sees an older state after
// a newer one. Events dispatched from inside a listener are delivered after it returns.
func (c *ChatController) dispatch(ev state.Event) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.st = state.Reduce(c.st, ev)
	c.version++
	if c.notifying {
		c.mu.Unlock()
		return
	}
	c.notifying = true
	for c.delivered < c.version {
		st, v := c.st, c.version
		c.delivered = v
		listeners := make([]Listener, 0, len(c.listeners))
		for _, l := range c.listeners {
			listeners = append(listeners, l)
		}
		c.mu.Unlock()
		for _, l := range listeners {
			l(st)
		}
		c.mu.Lock()
	}
	c.notifying = false
	c.mu.Unlock()
}

// resubscribe replaces the subscription stored under key.
func (c *ChatController) resubscribe(key string, subscribe func() (feed.Unsubscribe, error)) error {
	c.unsubscribe(key)
	unsub, err := subscribe()
	if err != nil {
		return err
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		unsub()
		return nil
	}
	if prev := c.subs[key]; prev != nil {
		prev()
	}
	c.subs[key] = unsub
	c.mu.Unlock()
	return nil
}

func (c *ChatController) unsubscribe(key string) {
	c.mu.Lock()
	prev := c.subs[key]
	delete(c.subs, key)
	c.mu.Unlock()
	if prev != nil {
		prev()
	}
}

// Start marks the user present and subscribes to conversations, users and the admin data
// project chats are derived from. Calling it again re-establishes every subscription.
func (c *ChatController) Start(ctx context.Context) error {
	if c.userID == "" {
		return chat.ErrUnauthenticated
	}

	c.mu.Lock()
	if c.releasePresence == nil {
		c.releasePresence = c.presence.Connect(ctx, c.userID)
	}
	c.mu.Unlock()

	err := c.resubscribe(subConversations, func() (feed.Unsubscribe, error) {
		return c.conversations.Subscribe(ctx, c.onConversations)
	})
	if err == nil {
		err = c.resubscribe(subUsers, func() (feed.Unsubscribe, error) {
			return c.directory.Subscribe(ctx, func(users []chat.User) {
				c.dispatch(state.UsersChanged{Users: users})
			})
		})
	}
	if err == nil {
		err = c.resubscribe(subProjects, func() (feed.Unsubscribe, error) {
			return c.conversations.SubscribeProjects(ctx, c.onProjects)
		})
	}
	if err == nil {
		err = c.resubscribe(subTeams, func() (feed.Unsubscribe, error) {
			return c.conversations.SubscribeTeams(ctx, c.onTeams)
		})
	}
	return c.surface("start", err)
}

func (c *ChatController) onConversations(all []chat.Conversation) {
	c.mu.Lock()
	c.allConversations = all
	c.mu.Unlock()
	c.dispatch(state.ConversationsChanged{Conversations: usecase.FilterVisible(all, c.userID)})
}

func (c *ChatController) onProjects(projects []chat.Project) {
	c.mu.Lock()
	c.projects = projects
	c.haveProjects = true
	c.mu.Unlock()
	c.reconcile()
}

func (c *ChatController) onTeams(teams map[string]chat.Team) {
	c.mu.Lock()
	c.teams = teams
	c.haveTeams = true
	c.mu.Unlock()
	c.reconcile()
}

// reconcile brings project chats in line with the latest admin data once both halves of it
// have arrived.
func (c *ChatController) reconcile() {
	c.mu.Lock()
	if !c.haveProjects || !c.haveTeams || c.closed {
		c.mu.Unlock()
		return
	}
	in := usecase.ReconcileInput{
		UserID:   c.userID,
		Projects: c.projects,
		Teams:    c.teams,
		Existing: c.allConversations,
	}
	c.mu.Unlock()

	if _, err := c.conversations.ReconcileProjectChats(context.Background(), in); err != nil {
		c.logger.Warn("project chat reconcile failed", "error", err)
		c.dispatch(state.ErrorRaised{Message: err.Error()})
	}
}

// SetCurrentConversation switches the message and typing subscriptions to conversationID. An
// empty id closes them.
func (c *ChatController) SetCurrentConversation(ctx context.Context, conversationID string) error {
	_, err := run(c, "setCurrentConversation", func() (struct{}, error) {
		// Echoes of other conversations lose their subscription here and would never retire.
		for clientID, echo := range c.State().Pending {
			if echo.ConversationID != conversationID {
				c.dispatch(state.PendingEchoDropped{ClientID: clientID})
			}
		}
		c.dispatch(state.CurrentConversationSet{ConversationID: conversationID})
		if conversationID == "" {
			c.unsubscribe(subMessages)
			c.unsubscribe(subTyping)
			c.mu.Lock()
			c.messagesFor = ""
			c.mu.Unlock()
			return struct{}{}, nil
		}

		c.mu.Lock()
		c.messagesFor = conversationID
		c.mu.Unlock()
		err := c.resubscribe(subMessages, func() (feed.Unsubscribe, error) {
			return c.messages.Subscribe(ctx, conversationID, func(msgs []chat.Message) {
				c.dispatch(state.MessagesChanged{ConversationID: conversationID, Messages: msgs})
			})
		})
		if err != nil {
			return struct{}{}, err
		}
		err = c.resubscribe(subTyping, func() (feed.Unsubscribe, error) {
			return c.typing.Subscribe(ctx, conversationID, func(signals []chat.TypingSignal) {
				c.dispatch(state.TypingChanged{ConversationID: conversationID, Signals: signals})
			})
		})
		return struct{}{}, err
	})
	return err
}

// SendMessage posts content to conversationID, or to the current conversation when it is
// empty. A provisional copy is shown until the stored message arrives.
func (c *ChatController) SendMessage(ctx context.Context, conversationID, content string) (*chat.Message, error) {
	return run(c, "sendMessage", func() (*chat.Message, error) {
		if c.userID == "" {
			return nil, chat.ErrUnauthenticated
		}
		st := c.State()
		if conversationID == "" {
			conversationID = st.CurrentConversation
		}
		if conversationID == "" {
			return nil, fmt.Errorf("%w: no conversation selected", chat.ErrInvalidArgument)
		}
		content = strings.TrimSpace(content)
		if content == "" {
			return nil, fmt.Errorf("%w: message is empty", chat.ErrInvalidArgument)
		}

		senderName := c.userID
		if u, ok := st.User(c.userID); ok {
			senderName = u.DisplayName()
		}
		clientID := uuid.NewString()
		c.dispatch(state.PendingEchoAdded{Message: chat.Message{
			ID:             clientID,
			ClientID:       clientID,
			ConversationID: conversationID,
			SenderID:       c.userID,
			SenderName:     senderName,
			Content:        content,
			Timestamp:      c.clock.Now().UTC(),
			Type:           chat.MessageTypeText,
		}})

		msg, err := c.messages.Append(ctx, usecase.AppendMessageInput{
			ConversationID: conversationID,
			SenderID:       c.userID,
			SenderName:     senderName,
			Content:        content,
			ClientID:       clientID,
		})
		if err != nil {
			c.dispatch(state.PendingEchoDropped{ClientID: clientID})
			return nil, err
		}

		// Without a live message subscription nothing would ever retire the echo.
		c.mu.Lock()
		watching := c.messagesFor == conversationID
		c.mu.Unlock()
		if !watching {
			c.dispatch(state.PendingEchoDropped{ClientID: clientID})
		}
		return msg, nil
	})
}

type CreateConversationInput struct {
	Name         string
	Kind         chat.ConversationKind
	Participants []string
	ProjectID    string
	Metadata     map[string]string
}

func (c *ChatController) CreateConversation(ctx context.Context, in CreateConversationInput) (*chat.Conversation, error) {
	return run(c, "createConversation", func() (*chat.Conversation, error) {
		return c.conversations.CreateConversation(ctx, usecase.CreateConversationInput{
			CreatorID:    c.userID,
			Name:         in.Name,
			Kind:         in.Kind,
			Participants: in.Participants,
			ProjectID:    in.ProjectID,
			Metadata:     in.Metadata,
			Existing:     c.knownConversations(),
		})
	})
}

// CreateDirectChat opens, or returns the existing, direct chat with targetID.
func (c *ChatController) CreateDirectChat(ctx context.Context, targetID string) (*chat.Conversation, error) {
	return run(c, "createDirectChat", func() (*chat.Conversation, error) {
		return c.conversations.CreateDirectChat(ctx, usecase.CreateDirectChatInput{
			UserID:   c.userID,
			TargetID: targetID,
			Existing: c.knownConversations(),
		})
	})
}

// SetTyping publishes the user's typing state in the current conversation.
func (c *ChatController) SetTyping(ctx context.Context, typing bool) error {
	_, err := run(c, "setTyping", func() (struct{}, error) {
		if c.userID == "" {
			return struct{}{}, chat.ErrUnauthenticated
		}
		current := c.State().CurrentConversation
		if current == "" {
			return struct{}{}, nil
		}
		c.typing.SetTyping(ctx, current, c.userID, typing)
		return struct{}{}, nil
	})
	return err
}

func (c *ChatController) AddMember(ctx context.Context, conversationID, userID string) (*chat.Conversation, error) {
	return run(c, "addMember", func() (*chat.Conversation, error) {
		if c.userID == "" {
			return nil, chat.ErrUnauthenticated
		}
		return c.conversations.AddMember(ctx, conversationID, userID)
	})
}

func (c *ChatController) RemoveMember(ctx context.Context, conversationID, userID string) (*chat.Conversation, error) {
	return run(c, "removeMember", func() (*chat.Conversation, error) {
		if c.userID == "" {
			return nil, chat.ErrUnauthenticated
		}
		return c.conversations.RemoveMember(ctx, conversationID, userID)
	})
}

// SearchUsers finds other users by name or email.
func (c *ChatController) SearchUsers(ctx context.Context, query string) ([]chat.User, error) {
	return run(c, "searchUsers", func() ([]chat.User, error) {
		if c.userID == "" {
			return nil, chat.ErrUnauthenticated
		}
		return c.directory.Search(ctx, query, c.userID)
	})
}

// ClearError dismisses the current error.
func (c *ChatController) ClearError() {
	c.dispatch(state.ErrorCleared{})
}

func (c *ChatController) knownConversations() []chat.Conversation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.allConversations
}

// run brackets a command with loading events. Store failures become an error event and a zero
// result; every other error is returned to the caller.
func run[T any](c *ChatController, name string, fn func() (T, error)) (T, error) {
	c.dispatch(state.CommandStarted{Name: name})
	defer c.dispatch(state.CommandFinished{Name: name})

	v, err := fn()
	if err == nil {
		return v, nil
	}
	var zero T
	return zero, c.surface(name, err)
}

func (c *ChatController) surface(name string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, chat.ErrTransientIO) {
		c.logger.Warn("chat command failed", "command", name, "error", err)
		c.dispatch(state.ErrorRaised{Message: err.Error()})
		return nil
	}
	return err
}

// Close tears down every subscription, clears the user's ephemeral signals and releases
// presence. The controller is unusable afterwards.
func (c *ChatController) Close() {
	c.close(true)
}

// Handoff closes the controller like Close but leaves the user's typing and cursor records to a
// newer controller of the same user that has taken over.
func (c *ChatController) Handoff() {
	c.close(false)
}

func (c *ChatController) close(clearSignals bool) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	subs := c.subs
	c.subs = make(map[string]feed.Unsubscribe)
	current := c.st.CurrentConversation
	release := c.releasePresence
	c.releasePresence = nil
	c.listeners = make(map[int]Listener)
	c.mu.Unlock()

	for _, unsub := range subs {
		unsub()
	}
	ctx := context.Background()
	if clearSignals && current != "" {
		c.typing.SetTyping(ctx, current, c.userID, false)
	}
	c.typing.Close()
	if clearSignals {
		c.cursors.Hide(ctx, c.userID)
	}
	c.cursors.Close()
	if release != nil {
		release()
	}
}
