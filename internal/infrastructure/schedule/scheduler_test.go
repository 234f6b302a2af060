package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func TestDebouncerSupersedes(t *testing.T) {
	clock := NewManualClock(epoch)
	d := NewDebouncer(clock, 3*time.Second)

	var fired []string
	d.Schedule("c1", func() { fired = append(fired, "first") })
	clock.Advance(2 * time.Second)
	d.Schedule("c1", func() { fired = append(fired, "second") })
	clock.Advance(2 * time.Second)
	assert.Empty(t, fired, "superseded task must not run and the new one is not due yet")

	clock.Advance(time.Second)
	assert.Equal(t, []string{"second"}, fired)
	assert.Zero(t, clock.Pending())
}

func TestDebouncerCancel(t *testing.T) {
	clock := NewManualClock(epoch)
	d := NewDebouncer(clock, time.Second)

	ran := false
	d.Schedule("k", func() { ran = true })
	d.Cancel("k")
	clock.Advance(5 * time.Second)
	assert.False(t, ran)
}

func TestThrottlerLeadingAndTrailing(t *testing.T) {
	clock := NewManualClock(epoch)
	th := NewThrottler(clock, 100*time.Millisecond)

	var writes []int
	th.Do("u1", func() { writes = append(writes, 1) })
	clock.Advance(30 * time.Millisecond)
	th.Do("u1", func() { writes = append(writes, 2) })
	clock.Advance(30 * time.Millisecond)
	th.Do("u1", func() { writes = append(writes, 3) })
	assert.Equal(t, []int{1}, writes, "only the leading call runs inside the window")

	clock.Advance(40 * time.Millisecond)
	assert.Equal(t, []int{1, 3}, writes, "latest trailing call runs when the window closes")

	clock.Advance(200 * time.Millisecond)
	th.Do("u1", func() { writes = append(writes, 4) })
	assert.Equal(t, []int{1, 3, 4}, writes)
}

func TestThrottlerKeysAreIndependent(t *testing.T) {
	clock := NewManualClock(epoch)
	th := NewThrottler(clock, 100*time.Millisecond)

	count := map[string]int{}
	th.Do("a", func() { count["a"]++ })
	th.Do("b", func() { count["b"]++ })
	assert.Equal(t, map[string]int{"a": 1, "b": 1}, count)

	th.Do("a", func() { count["a"]++ })
	th.Cancel("a")
	clock.Advance(time.Second)
	assert.Equal(t, 1, count["a"])
}

func TestEvery(t *testing.T) {
	clock := NewManualClock(epoch)
	ticks := 0
	stop := Every(clock, 20*time.Second, func() { ticks++ })

	clock.Advance(61 * time.Second)
	assert.Equal(t, 3, ticks)

	stop()
	clock.Advance(time.Minute)
	assert.Equal(t, 3, ticks)
}
