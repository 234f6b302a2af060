package usecase

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	chat "github.com/kamlesh9876/Devium-sub000/internal/pkg/chat/application/domain"
)

func TestSessionLifecycle(t *testing.T) {
	fx := newFixture(t)
	sessions := NewSessionCoordinator(fx.feed, fx.clock, fx.logger)

	sess, err := sessions.Create(fx.ctx, CreateSessionInput{Name: "Review", CreatorID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, chat.DefaultMaxParticipants, sess.Settings.MaxParticipants)
	require.Len(t, sess.Participants, 1)
	assert.Equal(t, RoleHost, sess.Participants[0].Role)

	var events []chat.SessionEvent
	unsubEvents, err := sessions.SubscribeEvents(fx.ctx, sess.ID, func(e []chat.SessionEvent) { events = e })
	require.NoError(t, err)
	defer unsubEvents()

	var current *chat.Session
	unsub, err := sessions.Subscribe(fx.ctx, sess.ID, func(s *chat.Session) { current = s })
	require.NoError(t, err)
	defer unsub()

	fx.clock.Advance(time.Second)
	joined, err := sessions.Join(fx.ctx, sess.ID, "bob", "")
	require.NoError(t, err)
	assert.Len(t, joined.Participants, 2)
	require.NotNil(t, current)
	assert.Equal(t, []string{"alice", "bob"}, []string{current.Participants[0].UserID, current.Participants[1].UserID})

	again, err := sessions.Join(fx.ctx, sess.ID, "bob", "")
	require.NoError(t, err)
	assert.Len(t, again.Participants, 2)

	fx.clock.Advance(time.Second)
	require.NoError(t, sessions.Leave(fx.ctx, sess.ID, "alice"))
	require.NotNil(t, current)
	assert.Len(t, current.Participants, 1)

	types := make([]string, 0, len(events))
	for _, e := range events {
		types = append(types, e.Type)
	}
	assert.Equal(t, []string{chat.SessionEventJoin, chat.SessionEventJoin, chat.SessionEventLeave}, types)

	// Last one out closes the session and drops its log.
	require.NoError(t, sessions.Leave(fx.ctx, sess.ID, "bob"))
	assert.Nil(t, current)
	assert.Empty(t, events)
	assert.False(t, fx.get(t, chat.SessionPath(sess.ID), &chat.Session{}))

	_, err = sessions.Join(fx.ctx, sess.ID, "carol", "")
	assert.ErrorIs(t, err, chat.ErrNotFound)
	assert.ErrorIs(t, sessions.Leave(fx.ctx, sess.ID, "carol"), chat.ErrNotFound)
}

func TestSessionCapacity(t *testing.T) {
	fx := newFixture(t)
	sessions := NewSessionCoordinator(fx.feed, fx.clock, fx.logger)

	sess, err := sessions.Create(fx.ctx, CreateSessionInput{
		Name: "Pair", CreatorID: "alice", Settings: chat.SessionSettings{MaxParticipants: 2},
	})
	require.NoError(t, err)

	_, err = sessions.Join(fx.ctx, sess.ID, "bob", "")
	require.NoError(t, err)
	_, err = sessions.Join(fx.ctx, sess.ID, "carol", "")
	assert.ErrorIs(t, err, chat.ErrCapacityExceeded)
}

func TestSessionConcurrentJoinsRespectCapacity(t *testing.T) {
	fx := newFixture(t)
	sessions := NewSessionCoordinator(fx.feed, fx.clock, fx.logger)

	sess, err := sessions.Create(fx.ctx, CreateSessionInput{
		Name: "Crowd", CreatorID: "host", Settings: chat.SessionSettings{MaxParticipants: 5},
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	var full int
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := sessions.Join(fx.ctx, sess.ID, fmt.Sprintf("user-%d", i), "")
			if err != nil {
				mu.Lock()
				full++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	var stored chat.Session
	require.True(t, fx.get(t, chat.SessionPath(sess.ID), &stored))
	assert.Len(t, stored.Participants, 5)
	assert.Equal(t, 6, full)
}

func TestSessionSubscribeAll(t *testing.T) {
	fx := newFixture(t)
	sessions := NewSessionCoordinator(fx.feed, fx.clock, fx.logger)

	var all []chat.Session
	unsub, err := sessions.SubscribeAll(fx.ctx, func(s []chat.Session) { all = s })
	require.NoError(t, err)
	defer unsub()

	_, err = sessions.Create(fx.ctx, CreateSessionInput{Name: "One", CreatorID: "alice"})
	require.NoError(t, err)
	_, err = sessions.Create(fx.ctx, CreateSessionInput{Name: "Two", CreatorID: "bob"})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = sessions.Create(fx.ctx, CreateSessionInput{CreatorID: "bob"})
	assert.ErrorIs(t, err, chat.ErrInvalidArgument)
}
