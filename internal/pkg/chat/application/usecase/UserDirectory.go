package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"time"

	cache "github.com/kamlesh9876/Devium-sub000/internal/infrastructure/cache/port"
	feed "github.com/kamlesh9876/Devium-sub000/internal/infrastructure/feed/port"
	chat "github.com/kamlesh9876/Devium-sub000/internal/pkg/chat/application/domain"
)

// SearchLimit caps the number of users a search returns.
const SearchLimit = 20

// UserDirectory answers user lookups. When a cache is configured, search results are kept for
// CacheTTL so a burst of keystrokes does not re-read the users tree each time.
type UserDirectory struct {
	Feed     feed.Feed
	Cache    cache.Cache
	CacheTTL time.Duration
	Logger   *slog.Logger
}

func NewUserDirectory(f feed.Feed, c cache.Cache, ttl time.Duration, logger *slog.Logger) *UserDirectory {
	return &UserDirectory{Feed: f, Cache: c, CacheTTL: ttl, Logger: logger}
}

// Search returns users whose name or email contains query, case-insensitively, excluding
// excludeID. Results are ordered by name.
func (d *UserDirectory) Search(ctx context.Context, query, excludeID string) ([]chat.User, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return []chat.User{}, nil
	}
	key := "users:search:" + q

	var users []chat.User
	if d.Cache != nil {
		if raw, err := d.Cache.Get(ctx, key); err == nil {
			if json.Unmarshal([]byte(raw), &users) == nil {
				return withoutUser(users, excludeID), nil
			}
		} else if !errors.Is(err, cache.ErrMiss) {
			d.Logger.Debug("user search cache unavailable", "error", err)
		}
	}

	all, err := d.All(ctx)
	if err != nil {
		return nil, err
	}
	users = make([]chat.User, 0)
	for _, u := range all {
		if strings.Contains(strings.ToLower(u.Name), q) || strings.Contains(strings.ToLower(u.Email), q) {
			users = append(users, u)
		}
		if len(users) == SearchLimit+1 {
			break
		}
	}

	if d.Cache != nil {
		if raw, err := json.Marshal(users); err == nil {
			if err := d.Cache.Set(ctx, key, string(raw), d.CacheTTL); err != nil {
				d.Logger.Debug("user search not cached", "error", err)
			}
		}
	}
	return withoutUser(users, excludeID), nil
}

// All reads every user once, ordered by name.
func (d *UserDirectory) All(ctx context.Context) ([]chat.User, error) {
	ctx, cancel := withStoreTimeout(ctx)
	defer cancel()

	value, err := d.Feed.ReadOnce(ctx, chat.UsersRoot)
	if err != nil {
		return nil, transient(err)
	}
	users, _ := chat.DecodeChildren(value, func(u *chat.User, id string) { u.ID = id })
	SortUsers(users)
	return users, nil
}

// Subscribe delivers every user on each change, ordered by name.
func (d *UserDirectory) Subscribe(ctx context.Context, fn func([]chat.User)) (feed.Unsubscribe, error) {
	unsub, err := d.Feed.Subscribe(ctx, chat.UsersRoot, func(value any) {
		users, _ := chat.DecodeChildren(value, func(u *chat.User, id string) { u.ID = id })
		SortUsers(users)
		fn(users)
	})
	if err != nil {
		return nil, transient(err)
	}
	return unsub, nil
}

func SortUsers(users []chat.User) {
	sort.SliceStable(users, func(i, j int) bool {
		ni, nj := strings.ToLower(users[i].DisplayName()), strings.ToLower(users[j].DisplayName())
		if ni != nj {
			return ni < nj
		}
		return users[i].ID < users[j].ID
	})
}

func withoutUser(users []chat.User, id string) []chat.User {
	out := make([]chat.User, 0, len(users))
	for _, u := range users {
		if u.ID == id {
			continue
		}
		out = append(out, u)
		if len(out) == SearchLimit {
			break
		}
	}
	return out
}
