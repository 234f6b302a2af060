package port

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplit(t *testing.T) {
	parts, err := Split("/messages/c1/m1/")
	require.NoError(t, err)
	assert.Equal(t, []string{"messages", "c1", "m1"}, parts)

	_, err = Split("")
	assert.ErrorIs(t, err, ErrInvalidPath)
	_, err = Split("messages//m1")
	assert.ErrorIs(t, err, ErrInvalidPath)
}

func TestParent(t *testing.T) {
	parent, name, err := Parent("typing/c1/u1")
	require.NoError(t, err)
	assert.Equal(t, "typing/c1", parent)
	assert.Equal(t, "u1", name)

	parent, name, err = Parent("events")
	require.NoError(t, err)
	assert.Equal(t, "", parent)
	assert.Equal(t, "events", name)
}

func TestRelated(t *testing.T) {
	assert.True(t, Related("messages/c1", "messages/c1/m1"))
	assert.True(t, Related("messages/c1/m1", "messages/c1"))
	assert.True(t, Related("cursors", "cursors"))
	assert.False(t, Related("messages/c1", "messages/c10/m1"))
	assert.False(t, Related("typing/c1", "messages/c1"))
}
