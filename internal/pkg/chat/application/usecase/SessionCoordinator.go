package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	feed "github.com/kamlesh9876/Devium-sub000/internal/infrastructure/feed/port"
	"github.com/kamlesh9876/Devium-sub000/internal/infrastructure/schedule"
	chat "github.com/kamlesh9876/Devium-sub000/internal/pkg/chat/application/domain"
)

const (
	RoleHost        = "host"
	RoleParticipant = "participant"
)

// SessionCoordinator manages ad-hoc collaboration sessions. Membership changes run as
// compare-and-swap transactions, so concurrent joins cannot overshoot capacity or lose a member.
type SessionCoordinator struct {
	Feed   feed.Feed
	Clock  schedule.Clock
	Logger *slog.Logger
}

func NewSessionCoordinator(f feed.Feed, clock schedule.Clock, logger *slog.Logger) *SessionCoordinator {
	return &SessionCoordinator{Feed: f, Clock: clock, Logger: logger}
}

type CreateSessionInput struct {
	Name      string
	CreatorID string
	Settings  chat.SessionSettings
}

// Create opens a session with the creator as its host.
func (s *SessionCoordinator) Create(ctx context.Context, in CreateSessionInput) (*chat.Session, error) {
	if in.CreatorID == "" {
		return nil, chat.ErrUnauthenticated
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: session name is required", chat.ErrInvalidArgument)
	}
	if in.Settings.MaxParticipants <= 0 {
		in.Settings.MaxParticipants = chat.DefaultMaxParticipants
	}

	ctx, cancel := withStoreTimeout(ctx)
	defer cancel()

	id, err := s.Feed.Append(ctx, chat.SessionsRoot)
	if err != nil {
		return nil, transient(err)
	}
	now := s.Clock.Now().UTC()
	sess := chat.Session{
		ID:           id,
		Name:         name,
		Participants: []chat.SessionParticipant{{UserID: in.CreatorID, Role: RoleHost, JoinedAt: now}},
		Settings:     in.Settings,
		CreatedAt:    now,
		CreatedBy:    in.CreatorID,
	}
	record, err := chat.Encode(sess)
	if err != nil {
		return nil, err
	}
	if err := s.Feed.Write(ctx, chat.SessionPath(id), record); err != nil {
		return nil, transient(err)
	}
	s.publish(ctx, id, chat.SessionEventJoin, in.CreatorID, nil)
	return &sess, nil
}

// Join adds userID to the session. Joining a session one is already in changes nothing.
func (s *SessionCoordinator) Join(ctx context.Context, sessionID, userID, role string) (*chat.Session, error) {
	if userID == "" {
		return nil, chat.ErrUnauthenticated
	}
	if sessionID == "" {
		return nil, fmt.Errorf("%w: session id is required", chat.ErrInvalidArgument)
	}
	if role == "" {
		role = RoleParticipant
	}

	ctx, cancel := withStoreTimeout(ctx)
	defer cancel()

	now := s.Clock.Now().UTC()
	joined := false
	sess, err := updateRecord(ctx, s.Feed, chat.SessionPath(sessionID), func(sess *chat.Session, exists bool) (mutation, error) {
		joined = false
		if !exists {
			return keep, fmt.Errorf("%w: session %s", chat.ErrNotFound, sessionID)
		}
		if sess.IndexOf(userID) >= 0 {
			return keep, nil
		}
		limit := sess.Settings.MaxParticipants
		if limit <= 0 {
			limit = chat.DefaultMaxParticipants
		}
		if len(sess.Participants) >= limit {
			return keep, fmt.Errorf("%w: %d of %d", chat.ErrCapacityExceeded, len(sess.Participants), limit)
		}
		sess.Participants = append(sess.Participants, chat.SessionParticipant{UserID: userID, Role: role, JoinedAt: now})
		joined = true
		return store, nil
	})
	if err != nil {
		return nil, transient(err)
	}
	if sess.ID == "" {
		sess.ID = sessionID
	}
	if joined {
		s.publish(ctx, sessionID, chat.SessionEventJoin, userID, map[string]any{"role": role})
	}
	return &sess, nil
}

// Leave removes userID from the session. The session and its event log are deleted once the
// last participant has left.
func (s *SessionCoordinator) Leave(ctx context.Context, sessionID, userID string) error {
	if userID == "" {
		return chat.ErrUnauthenticated
	}
	if sessionID == "" {
		return fmt.Errorf("%w: session id is required", chat.ErrInvalidArgument)
	}

	ctx, cancel := withStoreTimeout(ctx)
	defer cancel()

	left, emptied := false, false
	_, err := updateRecord(ctx, s.Feed, chat.SessionPath(sessionID), func(sess *chat.Session, exists bool) (mutation, error) {
		left, emptied = false, false
		if !exists {
			return keep, fmt.Errorf("%w: session %s", chat.ErrNotFound, sessionID)
		}
		i := sess.IndexOf(userID)
		if i < 0 {
			return keep, nil
		}
		sess.Participants = append(sess.Participants[:i], sess.Participants[i+1:]...)
		left = true
		if len(sess.Participants) == 0 {
			emptied = true
			return remove, nil
		}
		return store, nil
	})
	if err != nil {
		return transient(err)
	}

	switch {
	case emptied:
		if err := s.Feed.Delete(ctx, chat.SessionEventsPath(sessionID)); err != nil {
			s.Logger.Warn("session events not cleaned up", "session_id", sessionID, "error", err)
		}
		s.Logger.Debug("session closed", "session_id", sessionID)
	case left:
		s.publish(ctx, sessionID, chat.SessionEventLeave, userID, nil)
	}
	return nil
}

type PublishEventInput struct {
	SessionID string
	Type      string
	UserID    string
	Data      map[string]any
}

// PublishEvent appends an event to the session's log.
func (s *SessionCoordinator) PublishEvent(ctx context.Context, in PublishEventInput) (*chat.SessionEvent, error) {
	if in.UserID == "" {
		return nil, chat.ErrUnauthenticated
	}
	if in.SessionID == "" || in.Type == "" {
		return nil, fmt.Errorf("%w: session id and event type are required", chat.ErrInvalidArgument)
	}

	ctx, cancel := withStoreTimeout(ctx)
	defer cancel()

	id, err := s.Feed.Append(ctx, chat.SessionEventsPath(in.SessionID))
	if err != nil {
		return nil, transient(err)
	}
	ev := chat.SessionEvent{
		ID:        id,
		SessionID: in.SessionID,
		Type:      in.Type,
		UserID:    in.UserID,
		Data:      in.Data,
		Timestamp: s.Clock.Now().UTC(),
	}
	record, err := chat.Encode(ev)
	if err != nil {
		return nil, err
	}
	if err := s.Feed.Write(ctx, feed.Join(chat.SessionEventsPath(in.SessionID), id), record); err != nil {
		return nil, transient(err)
	}
	return &ev, nil
}

func (s *SessionCoordinator) publish(ctx context.Context, sessionID, eventType, userID string, data map[string]any) {
	_, err := s.PublishEvent(ctx, PublishEventInput{SessionID: sessionID, Type: eventType, UserID: userID, Data: data})
	if err != nil {
		s.Logger.Debug("session event not published", "session_id", sessionID, "type", eventType, "error", err)
	}
}

// SubscribeEvents delivers a session's event log, oldest first.
func (s *SessionCoordinator) SubscribeEvents(ctx context.Context, sessionID string, fn func([]chat.SessionEvent)) (feed.Unsubscribe, error) {
	unsub, err := s.Feed.Subscribe(ctx, chat.SessionEventsPath(sessionID), func(value any) {
		events, _ := chat.DecodeChildren(value, func(e *chat.SessionEvent, id string) { e.ID = id })
		sort.SliceStable(events, func(i, j int) bool {
			if !events[i].Timestamp.Equal(events[j].Timestamp) {
				return events[i].Timestamp.Before(events[j].Timestamp)
			}
			return events[i].ID < events[j].ID
		})
		fn(events)
	})
	if err != nil {
		return nil, transient(err)
	}
	return unsub, nil
}

// Subscribe delivers one session, or nil once it is gone.
func (s *SessionCoordinator) Subscribe(ctx context.Context, sessionID string, fn func(*chat.Session)) (feed.Unsubscribe, error) {
	unsub, err := s.Feed.Subscribe(ctx, chat.SessionPath(sessionID), func(value any) {
		if value == nil {
			fn(nil)
			return
		}
		var sess chat.Session
		if err := chat.Decode(value, &sess); err != nil {
			s.Logger.Warn("malformed session", "session_id", sessionID, "error", err)
			return
		}
		sess.ID = sessionID
		fn(&sess)
	})
	if err != nil {
		return nil, transient(err)
	}
	return unsub, nil
}

// SubscribeAll delivers every open session on each change.
func (s *SessionCoordinator) SubscribeAll(ctx context.Context, fn func([]chat.Session)) (feed.Unsubscribe, error) {
	unsub, err := s.Feed.Subscribe(ctx, chat.SessionsRoot, func(value any) {
		sessions, _ := chat.DecodeChildren(value, func(sess *chat.Session, id string) { sess.ID = id })
		fn(sessions)
	})
	if err != nil {
		return nil, transient(err)
	}
	return unsub, nil
}
