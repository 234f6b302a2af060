package schedule

import (
	"sync"
	"time"
)

// Debouncer runs a keyed task once the key has been quiet for the configured wait.
// Scheduling a key again cancels the task it superseded.
type Debouncer struct {
	clock Clock
	wait  time.Duration

	mu      sync.Mutex
	pending map[string]*debounced
}

type debounced struct {
	gen   uint64
	timer Timer
}

func NewDebouncer(clock Clock, wait time.Duration) *Debouncer {
	return &Debouncer{clock: clock, wait: wait, pending: make(map[string]*debounced)}
}

func (d *Debouncer) Schedule(key string, fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	entry := d.pending[key]
	if entry == nil {
		entry = &debounced{}
		d.pending[key] = entry
	} else if entry.timer != nil {
		entry.timer.Stop()
	}
	entry.gen++
	gen := entry.gen
	entry.timer = d.clock.AfterFunc(d.wait, func() {
		d.mu.Lock()
		current := d.pending[key]
		// a timer that already fired while being superseded must not run
		if current == nil || current.gen != gen {
			d.mu.Unlock()
			return
		}
		delete(d.pending, key)
		d.mu.Unlock()
		fn()
	})
}

// Cancel drops the pending task for key, if any.
func (d *Debouncer) Cancel(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if entry := d.pending[key]; entry != nil {
		entry.timer.Stop()
		delete(d.pending, key)
	}
}

// Stop cancels every pending task.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for key, entry := range d.pending {
		entry.timer.Stop()
		delete(d.pending, key)
	}
}

// Throttler runs at most one task per key per interval. The first call in a window runs
// immediately; later calls inside the window replace each other and the latest one runs when
// the window closes.
type Throttler struct {
	clock    Clock
	interval time.Duration

	mu   sync.Mutex
	keys map[string]*throttled
}

type throttled struct {
	last     time.Time
	trailing func()
	timer    Timer
}

func NewThrottler(clock Clock, interval time.Duration) *Throttler {
	return &Throttler{clock: clock, interval: interval, keys: make(map[string]*throttled)}
}

func (t *Throttler) Do(key string, fn func()) {
	t.mu.Lock()
	now := t.clock.Now()
	st := t.keys[key]
	if st == nil {
		st = &throttled{}
		t.keys[key] = st
	}
	if st.timer == nil && (st.last.IsZero() || now.Sub(st.last) >= t.interval) {
		st.last = now
		t.mu.Unlock()
		fn()
		return
	}
	st.trailing = fn
	if st.timer == nil {
		st.timer = t.clock.AfterFunc(t.interval-now.Sub(st.last), func() { t.flush(key) })
	}
	t.mu.Unlock()
}

func (t *Throttler) flush(key string) {
	t.mu.Lock()
	st := t.keys[key]
	if st == nil {
		t.mu.Unlock()
		return
	}
	fn := st.trailing
	st.trailing = nil
	st.timer = nil
	st.last = t.clock.Now()
	t.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Cancel forgets key, dropping any trailing task.
func (t *Throttler) Cancel(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if st := t.keys[key]; st != nil {
		if st.timer != nil {
			st.timer.Stop()
		}
		delete(t.keys, key)
	}
}

func (t *Throttler) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key, st := range t.keys {
		if st.timer != nil {
			st.timer.Stop()
		}
		delete(t.keys, key)
	}
}

// Every runs fn each interval until the returned stop function is called.
func Every(clock Clock, interval time.Duration, fn func()) (stop func()) {
	var (
		mu      sync.Mutex
		stopped bool
		timer   Timer
	)
	var arm func()
	arm = func() {
		timer = clock.AfterFunc(interval, func() {
			mu.Lock()
			if stopped {
				mu.Unlock()
				return
			}
			mu.Unlock()
			fn()
			mu.Lock()
			if !stopped {
				arm()
			}
			mu.Unlock()
		})
	}
	mu.Lock()
	arm()
	mu.Unlock()
	return func() {
		mu.Lock()
		defer mu.Unlock()
		stopped = true
		if timer != nil {
			timer.Stop()
		}
	}
}
