package usecase

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	feedadapter "github.com/kamlesh9876/Devium-sub000/internal/infrastructure/feed/adapter"
	"github.com/kamlesh9876/Devium-sub000/internal/infrastructure/schedule"
	chat "github.com/kamlesh9876/Devium-sub000/internal/pkg/chat/application/domain"
)

var epoch = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	ctx    context.Context
	feed   *feedadapter.MemoryFeed
	clock  *schedule.ManualClock
	logger *slog.Logger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := feedadapter.NewMemoryFeed()
	t.Cleanup(func() { _ = f.Close() })
	return &fixture{
		ctx:    context.Background(),
		feed:   f,
		clock:  schedule.NewManualClock(epoch),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func (fx *fixture) put(t *testing.T, path string, v any) {
	t.Helper()
	record, err := chat.Encode(v)
	require.NoError(t, err)
	require.NoError(t, fx.feed.Write(fx.ctx, path, record))
}

func (fx *fixture) get(t *testing.T, path string, out any) bool {
	t.Helper()
	value, err := fx.feed.ReadOnce(fx.ctx, path)
	require.NoError(t, err)
	if value == nil {
		return false
	}
	require.NoError(t, chat.Decode(value, out))
	return true
}

func (fx *fixture) addUser(t *testing.T, id, name string) {
	t.Helper()
	fx.put(t, chat.UserPath(id), chat.User{ID: id, Name: name, Email: id + "@example.com"})
}

// deliveries counts snapshots delivered for path after the initial one.
func (fx *fixture) deliveries(t *testing.T, path string) func() int {
	t.Helper()
	n := -1
	unsub, err := fx.feed.Subscribe(fx.ctx, path, func(any) { n++ })
	require.NoError(t, err)
	t.Cleanup(unsub)
	return func() int { return n }
}
