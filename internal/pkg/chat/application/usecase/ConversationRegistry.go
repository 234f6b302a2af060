package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"

	feed "github.com/kamlesh9876/Devium-sub000/internal/infrastructure/feed/port"
	"github.com/kamlesh9876/Devium-sub000/internal/infrastructure/schedule"
	chat "github.com/kamlesh9876/Devium-sub000/internal/pkg/chat/application/domain"
)

// ConversationRegistry keeps the set of conversations consistent: project chats are derived
// from admin data, direct chats are deduplicated by id and membership changes go through CAS.
type ConversationRegistry struct {
	Feed   feed.Feed
	Clock  schedule.Clock
	Logger *slog.Logger
}

func NewConversationRegistry(f feed.Feed, clock schedule.Clock, logger *slog.Logger) *ConversationRegistry {
	return &ConversationRegistry{Feed: f, Clock: clock, Logger: logger}
}

// ReconcileInput is the admin data a reconcile pass works from.
type ReconcileInput struct {
	UserID   string
	Projects []chat.Project
	Teams    map[string]chat.Team
	// Existing is the caller's latest view of conversations; matching records are not rewritten.
	Existing []chat.Conversation
}

type ReconcileResult struct {
	Created  []string
	Updated  []string
	Archived []string
}

func (r ReconcileResult) Changed() bool {
	return len(r.Created)+len(r.Updated)+len(r.Archived) > 0
}

// ReconcileProjectChats makes sure every project of a team the user belongs to has exactly one
// conversation whose participants mirror the team. Archived projects archive their conversation
// and never create one. Running it again with the same input writes nothing.
func (r *ConversationRegistry) ReconcileProjectChats(ctx context.Context, in ReconcileInput) (ReconcileResult, error) {
	var res ReconcileResult
	if in.UserID == "" {
		return res, chat.ErrUnauthenticated
	}

	existing := make(map[string]chat.Conversation, len(in.Existing))
	for _, c := range in.Existing {
		existing[c.ID] = c
	}

	projects := slices.Clone(in.Projects)
	sort.Slice(projects, func(i, j int) bool { return projects[i].ID < projects[j].ID })

	for _, p := range projects {
		team, ok := in.Teams[p.TeamID]
		if !ok || !team.HasMember(in.UserID) {
			continue
		}
		id := chat.ProjectConversationID(p.ID)
		cur, known := existing[id]

		if p.Archived {
			if known && cur.Archived {
				continue
			}
			changed, err := r.archiveProjectChat(ctx, id)
			if err != nil {
				return res, err
			}
			if changed {
				res.Archived = append(res.Archived, id)
			}
			continue
		}

		members := chat.SortedParticipants(team.Members)
		if known && !cur.Archived && slices.Equal(chat.SortedParticipants(cur.Participants), members) {
			continue
		}
		created, changed, err := r.upsertProjectChat(ctx, p, members)
		if err != nil {
			return res, err
		}
		switch {
		case created:
			res.Created = append(res.Created, id)
		case changed:
			res.Updated = append(res.Updated, id)
		}
	}

	if res.Changed() {
		r.Logger.Debug("project chats reconciled",
			"user_id", in.UserID, "created", len(res.Created), "updated", len(res.Updated), "archived", len(res.Archived))
	}
	return res, nil
}

func (r *ConversationRegistry) upsertProjectChat(ctx context.Context, p chat.Project, members []string) (created, changed bool, err error) {
	ctx, cancel := withStoreTimeout(ctx)
	defer cancel()

	now := r.Clock.Now().UTC()
	_, err = updateRecord(ctx, r.Feed, chat.ConversationPath(chat.ProjectConversationID(p.ID)),
		func(c *chat.Conversation, exists bool) (mutation, error) {
			created, changed = false, false
			if !exists {
				*c = chat.Conversation{
					ID:           chat.ProjectConversationID(p.ID),
					Name:         p.Name,
					Kind:         chat.KindProject,
					Participants: members,
					CreatedAt:    now,
					UpdatedAt:    now,
					Metadata:     map[string]string{chat.MetaProjectID: p.ID},
				}
				created = true
				return store, nil
			}
			if !c.Archived && slices.Equal(chat.SortedParticipants(c.Participants), members) {
				return keep, nil
			}
			c.Participants = members
			c.Archived = false
			c.UpdatedAt = now
			changed = true
			return store, nil
		})
	if err != nil {
		return false, false, transient(err)
	}
	return created, changed, nil
}

func (r *ConversationRegistry) archiveProjectChat(ctx context.Context, id string) (bool, error) {
	ctx, cancel := withStoreTimeout(ctx)
	defer cancel()

	changed := false
	now := r.Clock.Now().UTC()
	_, err := updateRecord(ctx, r.Feed, chat.ConversationPath(id), func(c *chat.Conversation, exists bool) (mutation, error) {
		changed = false
		if !exists || c.Archived {
			return keep, nil
		}
		c.Archived = true
		c.UpdatedAt = now
		changed = true
		return store, nil
	})
	if err != nil {
		return false, transient(err)
	}
	return changed, nil
}

// FilterVisible returns the conversations userID should see, most recently active first.
// Archived project chats are hidden, and when several project chats point at the same project
// only the first one seen is kept.
func FilterVisible(all []chat.Conversation, userID string) []chat.Conversation {
	out := make([]chat.Conversation, 0, len(all))
	seenProjects := make(map[string]struct{})
	for _, c := range all {
		if !c.HasParticipant(userID) {
			continue
		}
		if c.Kind == chat.KindProject {
			if c.Archived {
				continue
			}
			if pid := c.ProjectID(); pid != "" {
				if _, dup := seenProjects[pid]; dup {
					continue
				}
				seenProjects[pid] = struct{}{}
			}
		}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		ai, aj := out[i].LastActivity(), out[j].LastActivity()
		if !ai.Equal(aj) {
			return ai.After(aj)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

type CreateDirectChatInput struct {
	UserID   string
	TargetID string
	Existing []chat.Conversation
}

// CreateDirectChat returns the direct chat between the two users, creating it only if neither
// the caller's view nor the store already has one.
func (r *ConversationRegistry) CreateDirectChat(ctx context.Context, in CreateDirectChatInput) (*chat.Conversation, error) {
	if in.UserID == "" {
		return nil, chat.ErrUnauthenticated
	}
	if in.TargetID == "" || in.TargetID == in.UserID {
		return nil, fmt.Errorf("%w: direct chat needs another user", chat.ErrInvalidArgument)
	}

	id := chat.DirectConversationID(in.UserID, in.TargetID)
	for _, c := range in.Existing {
		if c.IsDirectBetween(in.UserID, in.TargetID) {
			found := c
			return &found, nil
		}
	}

	ctx, cancel := withStoreTimeout(ctx)
	defer cancel()

	var target chat.User
	ok, err := readRecord(ctx, r.Feed, chat.UserPath(in.TargetID), &target)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: user %s", chat.ErrNotFound, in.TargetID)
	}

	now := r.Clock.Now().UTC()
	conv, err := updateRecord(ctx, r.Feed, chat.ConversationPath(id), func(c *chat.Conversation, exists bool) (mutation, error) {
		if exists {
			if c.ID == "" {
				c.ID = id
			}
			if !c.IsDirectBetween(in.UserID, in.TargetID) {
				return keep, fmt.Errorf("%w: conversation %s belongs to other users", chat.ErrAlreadyExists, id)
			}
			return keep, nil
		}
		*c = chat.Conversation{
			ID:           id,
			Name:         target.DisplayName(),
			Kind:         chat.KindDirect,
			Participants: chat.SortedParticipants([]string{in.UserID, in.TargetID}),
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		return store, nil
	})
	if err != nil {
		return nil, transient(err)
	}
	return &conv, nil
}

type CreateConversationInput struct {
	CreatorID    string
	Name         string
	Kind         chat.ConversationKind
	Participants []string
	// ProjectID is required for project conversations.
	ProjectID string
	Metadata  map[string]string
	Existing  []chat.Conversation
}

// CreateConversation creates a team or project conversation. Direct conversations are routed
// through CreateDirectChat so they stay deduplicated.
func (r *ConversationRegistry) CreateConversation(ctx context.Context, in CreateConversationInput) (*chat.Conversation, error) {
	if in.CreatorID == "" {
		return nil, chat.ErrUnauthenticated
	}
	if in.Kind == "" {
		in.Kind = chat.KindTeam
	}
	if !in.Kind.Valid() {
		return nil, fmt.Errorf("%w: unknown kind %q", chat.ErrInvalidArgument, in.Kind)
	}

	participants := chat.SortedParticipants(append(slices.Clone(in.Participants), in.CreatorID))

	if in.Kind == chat.KindDirect {
		others := slices.DeleteFunc(slices.Clone(participants), func(id string) bool { return id == in.CreatorID })
		if len(others) != 1 {
			return nil, fmt.Errorf("%w: direct chat needs exactly one other participant", chat.ErrInvalidArgument)
		}
		return r.CreateDirectChat(ctx, CreateDirectChatInput{UserID: in.CreatorID, TargetID: others[0], Existing: in.Existing})
	}

	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", chat.ErrInvalidArgument)
	}

	ctx, cancel := withStoreTimeout(ctx)
	defer cancel()

	metadata := make(map[string]string, len(in.Metadata)+1)
	for k, v := range in.Metadata {
		metadata[k] = v
	}
	now := r.Clock.Now().UTC()

	var id string
	if in.Kind == chat.KindProject {
		if in.ProjectID == "" {
			return nil, fmt.Errorf("%w: project id is required", chat.ErrInvalidArgument)
		}
		id = chat.ProjectConversationID(in.ProjectID)
		metadata[chat.MetaProjectID] = in.ProjectID
	} else {
		generated, err := r.Feed.Append(ctx, chat.ConversationsRoot)
		if err != nil {
			return nil, transient(err)
		}
		id = generated
	}

	conv, err := updateRecord(ctx, r.Feed, chat.ConversationPath(id), func(c *chat.Conversation, exists bool) (mutation, error) {
		if exists {
			return keep, fmt.Errorf("%w: conversation %s", chat.ErrAlreadyExists, id)
		}
		*c = chat.Conversation{
			ID:           id,
			Name:         name,
			Kind:         in.Kind,
			Participants: participants,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if len(metadata) > 0 {
			c.Metadata = metadata
		}
		return store, nil
	})
	if err != nil {
		return nil, transient(err)
	}
	return &conv, nil
}

// AddMember adds an existing user to a team or project conversation. Adding a member twice is
// a no-op.
func (r *ConversationRegistry) AddMember(ctx context.Context, conversationID, userID string) (*chat.Conversation, error) {
	if conversationID == "" || userID == "" {
		return nil, fmt.Errorf("%w: conversation and user are required", chat.ErrInvalidArgument)
	}
	ctx, cancel := withStoreTimeout(ctx)
	defer cancel()

	var current chat.Conversation
	ok, err := readRecord(ctx, r.Feed, chat.ConversationPath(conversationID), &current)
	if err != nil {
		return nil, err
	}
	if err := checkMembersMutable(conversationID, current, ok); err != nil {
		return nil, err
	}

	var user chat.User
	ok, err = readRecord(ctx, r.Feed, chat.UserPath(userID), &user)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: user %s", chat.ErrNotFound, userID)
	}

	now := r.Clock.Now().UTC()
	conv, err := updateRecord(ctx, r.Feed, chat.ConversationPath(conversationID), func(c *chat.Conversation, exists bool) (mutation, error) {
		if err := checkMembersMutable(conversationID, *c, exists); err != nil {
			return keep, err
		}
		if c.HasParticipant(userID) {
			return keep, nil
		}
		c.Participants = chat.SortedParticipants(append(c.Participants, userID))
		c.UpdatedAt = now
		return store, nil
	})
	if err != nil {
		return nil, transient(err)
	}
	return &conv, nil
}

// RemoveMember removes a participant. The last participant cannot be removed.
func (r *ConversationRegistry) RemoveMember(ctx context.Context, conversationID, userID string) (*chat.Conversation, error) {
	if conversationID == "" || userID == "" {
		return nil, fmt.Errorf("%w: conversation and user are required", chat.ErrInvalidArgument)
	}
	ctx, cancel := withStoreTimeout(ctx)
	defer cancel()

	now := r.Clock.Now().UTC()
	conv, err := updateRecord(ctx, r.Feed, chat.ConversationPath(conversationID), func(c *chat.Conversation, exists bool) (mutation, error) {
		if err := checkMembersMutable(conversationID, *c, exists); err != nil {
			return keep, err
		}
		if !c.HasParticipant(userID) {
			return keep, fmt.Errorf("%w: %s is not a participant", chat.ErrNotFound, userID)
		}
		if len(c.Participants) == 1 {
			return keep, fmt.Errorf("%w: conversation needs at least one participant", chat.ErrInvalidArgument)
		}
		c.Participants = slices.DeleteFunc(c.Participants, func(id string) bool { return id == userID })
		c.UpdatedAt = now
		return store, nil
	})
	if err != nil {
		return nil, transient(err)
	}
	return &conv, nil
}

func checkMembersMutable(conversationID string, c chat.Conversation, exists bool) error {
	if !exists {
		return fmt.Errorf("%w: conversation %s", chat.ErrNotFound, conversationID)
	}
	if c.Kind == chat.KindDirect {
		return fmt.Errorf("%w: direct chats have fixed members", chat.ErrInvalidArgument)
	}
	return nil
}

func (r *ConversationRegistry) SetArchived(ctx context.Context, conversationID string, archived bool) (*chat.Conversation, error) {
	ctx, cancel := withStoreTimeout(ctx)
	defer cancel()

	now := r.Clock.Now().UTC()
	conv, err := updateRecord(ctx, r.Feed, chat.ConversationPath(conversationID), func(c *chat.Conversation, exists bool) (mutation, error) {
		if !exists {
			return keep, fmt.Errorf("%w: conversation %s", chat.ErrNotFound, conversationID)
		}
		if c.Archived == archived {
			return keep, nil
		}
		c.Archived = archived
		c.UpdatedAt = now
		return store, nil
	})
	if err != nil {
		return nil, transient(err)
	}
	return &conv, nil
}

// List reads every conversation once.
func (r *ConversationRegistry) List(ctx context.Context) ([]chat.Conversation, error) {
	ctx, cancel := withStoreTimeout(ctx)
	defer cancel()

	value, err := r.Feed.ReadOnce(ctx, chat.ConversationsRoot)
	if err != nil {
		return nil, transient(err)
	}
	return r.decode(value), nil
}

// Subscribe delivers the full conversation list on every change, unfiltered.
func (r *ConversationRegistry) Subscribe(ctx context.Context, fn func([]chat.Conversation)) (feed.Unsubscribe, error) {
	unsub, err := r.Feed.Subscribe(ctx, chat.ConversationsRoot, func(value any) {
		fn(r.decode(value))
	})
	if err != nil {
		return nil, transient(err)
	}
	return unsub, nil
}

func (r *ConversationRegistry) decode(value any) []chat.Conversation {
	convs, skipped := chat.DecodeChildren(value, func(c *chat.Conversation, id string) { c.ID = id })
	if skipped > 0 {
		r.Logger.Warn("skipped malformed conversations", "count", skipped)
	}
	return convs
}

// SubscribeProjects delivers the admin-owned project list on every change.
func (r *ConversationRegistry) SubscribeProjects(ctx context.Context, fn func([]chat.Project)) (feed.Unsubscribe, error) {
	unsub, err := r.Feed.Subscribe(ctx, chat.ProjectsRoot, func(value any) {
		projects, _ := chat.DecodeChildren(value, func(p *chat.Project, id string) { p.ID = id })
		fn(projects)
	})
	if err != nil {
		return nil, transient(err)
	}
	return unsub, nil
}

// SubscribeTeams delivers the admin-owned teams keyed by id on every change.
func (r *ConversationRegistry) SubscribeTeams(ctx context.Context, fn func(map[string]chat.Team)) (feed.Unsubscribe, error) {
	unsub, err := r.Feed.Subscribe(ctx, chat.TeamsRoot, func(value any) {
		fn(teamsByID(value))
	})
	if err != nil {
		return nil, transient(err)
	}
	return unsub, nil
}

// LoadAdminData reads projects and teams once.
func (r *ConversationRegistry) LoadAdminData(ctx context.Context) ([]chat.Project, map[string]chat.Team, error) {
	ctx, cancel := withStoreTimeout(ctx)
	defer cancel()

	pv, err := r.Feed.ReadOnce(ctx, chat.ProjectsRoot)
	if err != nil {
		return nil, nil, transient(err)
	}
	tv, err := r.Feed.ReadOnce(ctx, chat.TeamsRoot)
	if err != nil {
		return nil, nil, transient(err)
	}
	projects, _ := chat.DecodeChildren(pv, func(p *chat.Project, id string) { p.ID = id })
	return projects, teamsByID(tv), nil
}

func teamsByID(value any) map[string]chat.Team {
	teams, _ := chat.DecodeChildren(value, func(t *chat.Team, id string) { t.ID = id })
	out := make(map[string]chat.Team, len(teams))
	for _, t := range teams {
		out[t.ID] = t
	}
	return out
}
