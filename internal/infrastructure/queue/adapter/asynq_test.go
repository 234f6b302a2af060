package adapter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kamlesh9876/Devium-sub000/internal/infrastructure/queue/port"
)

func TestParseQueueWeights(t *testing.T) {
	got := parseQueueWeights(" critical=6, default=3 ,low, =4,bad=x,neg=-1,")
	assert.Equal(t, map[string]int{
		"critical": 6,
		"default":  3,
		"low":      1,
		"bad":      1,
		"neg":      1,
	}, got)
	assert.Empty(t, parseQueueWeights(""))
}

func TestToAsynqOptions(t *testing.T) {
	assert.Empty(t, toAsynqOptions(port.EnqueueOption{}))

	opts := toAsynqOptions(port.EnqueueOption{
		Queue:     "chat",
		ProcessIn: time.Minute,
		MaxRetry:  3,
		UniqueTTL: time.Hour,
		Timeout:   10 * time.Second,
		Retention: 24 * time.Hour,
	})
	assert.Len(t, opts, 6)

	// ProcessAt wins over ProcessIn.
	opts = toAsynqOptions(port.EnqueueOption{
		ProcessAt: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
		ProcessIn: time.Minute,
	})
	assert.Len(t, opts, 1)
}

func TestConstructorsRequireRedisURL(t *testing.T) {
	_, err := NewAsynqClient(Options{})
	require.Error(t, err)
	_, err = NewAsynqServer(Options{})
	require.Error(t, err)
	_, err = NewAsynqScheduler(Options{})
	require.Error(t, err)
	_, err = NewAsynqClient(Options{RedisURL: "http://nope"})
	require.Error(t, err)
}
