package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	queueport "github.com/kamlesh9876/Devium-sub000/internal/infrastructure/queue/port"
	chat "github.com/kamlesh9876/Devium-sub000/internal/pkg/chat/application/domain"
	"github.com/kamlesh9876/Devium-sub000/internal/pkg/chat/application/task"
)

type fakeQueue struct {
	tasks []queueport.Task
	opts  []queueport.EnqueueOption
}

func (q *fakeQueue) Enqueue(_ context.Context, t queueport.Task, opt queueport.EnqueueOption) (string, error) {
	q.tasks = append(q.tasks, t)
	q.opts = append(q.opts, opt)
	return "task-1", nil
}

func (q *fakeQueue) Close() error { return nil }

func newEngine(e *env, q queueport.Client) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	f, clock, logger := e.deps.Feed, e.deps.Clock, e.deps.Logger
	conv := NewConversationController(f, clock, logger)
	r.GET("/chat", conv.List())
	r.POST("/chat", NewCreateChatController(f, clock, logger).Handle())
	r.POST("/chat/:chatId", NewSendMessageController(f, clock, logger, q).Handle())
	r.GET("/chat/:chatId/messages", NewGetMessageController(f, clock, logger).Handle())
	r.POST("/chat/:chatId/members", conv.AddMember())
	r.DELETE("/chat/:chatId/members/:userId", conv.RemoveMember())
	r.PUT("/chat/:chatId/archived", conv.SetArchived())
	return r
}

func do(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestSendAndListMessagesInline(t *testing.T) {
	e := newEnv(t)
	r := newEngine(e, nil)

	for _, content := range []string{"one", "two", "three"} {
		w := do(t, r, http.MethodPost, "/chat/c1", gin.H{"sender_id": "alice", "content": content})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		e.clock.Advance(time.Second)
	}

	w := do(t, r, http.MethodGet, "/chat/c1/messages?limit=2&offset=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var page struct {
		Messages []chat.Message `json:"messages"`
		Count    int            `json:"count"`
		Total    int            `json:"total"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	assert.Equal(t, 2, page.Count)
	assert.Equal(t, 3, page.Total)
	assert.Equal(t, "two", page.Messages[0].Content)
	assert.Equal(t, "three", page.Messages[1].Content)

	w = do(t, r, http.MethodGet, "/chat/c1/messages?offset=9", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	assert.Zero(t, page.Count)
}

func TestSendMessageErrors(t *testing.T) {
	e := newEnv(t)
	r := newEngine(e, nil)

	w := do(t, r, http.MethodPost, "/chat/c1", gin.H{"content": "hi"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, r, http.MethodPost, "/chat/missing", gin.H{"sender_id": "alice", "content": "hi"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, r, http.MethodPost, "/chat/c1", gin.H{"sender_id": "alice", "content": "   "})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSendMessageQueued(t *testing.T) {
	e := newEnv(t)
	q := &fakeQueue{}
	r := newEngine(e, q)

	w := do(t, r, http.MethodPost, "/chat/c1", gin.H{"sender_id": "alice", "content": "later", "client_id": "tmp-9"})
	require.Equal(t, http.StatusAccepted, w.Code)
	require.Len(t, q.tasks, 1)
	assert.Equal(t, task.SendMessageTaskType, q.tasks[0].Type)
	assert.Equal(t, "chat", q.opts[0].Queue)

	var p task.SendMessageTaskPayload
	require.NoError(t, json.Unmarshal(q.tasks[0].Payload, &p))
	assert.Equal(t, task.SendMessageTaskPayload{ConversationID: "c1", SenderID: "alice", Content: "later", ClientID: "tmp-9"}, p)

	// Nothing is stored until a worker runs the task.
	value, err := e.feed.ReadOnce(e.ctx, chat.MessagesPath("c1"))
	require.NoError(t, err)
	assert.Nil(t, value)
}

func TestCreateAndListConversations(t *testing.T) {
	e := newEnv(t)
	r := newEngine(e, nil)

	w := do(t, r, http.MethodPost, "/chat", gin.H{"creator_id": "alice", "kind": "direct", "participant_ids": []string{"bob"}})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var direct chat.Conversation
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &direct))
	assert.Equal(t, chat.DirectConversationID("alice", "bob"), direct.ID)

	// Same pair from the other side: same conversation.
	w = do(t, r, http.MethodPost, "/chat", gin.H{"creator_id": "bob", "kind": "direct", "participant_ids": []string{"alice"}})
	require.Equal(t, http.StatusCreated, w.Code)
	var again chat.Conversation
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &again))
	assert.Equal(t, direct.ID, again.ID)

	w = do(t, r, http.MethodPost, "/chat", gin.H{"creator_id": "alice", "kind": "team"})
	assert.Equal(t, http.StatusBadRequest, w.Code, "team chats need a name")

	w = do(t, r, http.MethodGet, "/chat?user_id=bob", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Conversations []chat.Conversation `json:"conversations"`
		Count         int                 `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, 2, list.Count)

	w = do(t, r, http.MethodGet, "/chat", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMembershipEndpoints(t *testing.T) {
	e := newEnv(t)
	e.put(t, chat.UserPath("carol"), chat.User{Name: "Carol"})
	r := newEngine(e, nil)

	w := do(t, r, http.MethodPost, "/chat/c1/members", gin.H{"user_id": "carol"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var conv chat.Conversation
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &conv))
	assert.Contains(t, conv.Participants, "carol")

	w = do(t, r, http.MethodDelete, "/chat/c1/members/carol", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &conv))
	assert.NotContains(t, conv.Participants, "carol")

	w = do(t, r, http.MethodDelete, "/chat/c1/members/carol", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, r, http.MethodPut, "/chat/c1/archived", gin.H{"archived": true})
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &conv))
	assert.True(t, conv.Archived)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusConflict, statusFor(chat.ErrCapacityExceeded))
	assert.Equal(t, http.StatusConflict, statusFor(chat.ErrAlreadyExists))
	assert.Equal(t, http.StatusUnauthorized, statusFor(chat.ErrUnauthenticated))
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(chat.ErrTransientIO))
	assert.Equal(t, http.StatusInternalServerError, statusFor(assert.AnError))
}
