package adapter

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/kamlesh9876/Devium-sub000/internal/infrastructure/feed/port"
)

// MemoryFeed is an in-process port.Feed backed by a nested JSON tree.
//
// Notifications go through a single ordered queue: the goroutine whose write produced them
// delivers them before returning, unless a delivery is already in progress, in which case the
// running drain picks them up. Re-entrant writes from inside a listener are therefore delivered
// after the current listener returns, never interleaved with it.
type MemoryFeed struct {
	mu     sync.Mutex
	root   map[string]any
	subs   map[uint64]*memorySub
	nextID uint64
	closed bool

	qmu      sync.Mutex
	queue    []delivery
	draining bool
}

type memorySub struct {
	path   string
	fn     port.SnapshotFunc
	active atomic.Bool
}

type delivery struct {
	sub   *memorySub
	value any
}

func NewMemoryFeed() *MemoryFeed {
	return &MemoryFeed{
		root: make(map[string]any),
		subs: make(map[uint64]*memorySub),
	}
}

// Ensure interface compliance at compile time
var _ port.Feed = (*MemoryFeed)(nil)

func (f *MemoryFeed) ReadOnce(_ context.Context, path string) (any, error) {
	parts, err := port.Split(path)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, port.ErrClosed
	}
	return copyValue(f.get(parts)), nil
}

func (f *MemoryFeed) Subscribe(_ context.Context, path string, fn port.SnapshotFunc) (port.Unsubscribe, error) {
	parts, err := port.Split(path)
	if err != nil {
		return nil, err
	}
	sub := &memorySub{path: port.Join(parts...), fn: fn}
	sub.active.Store(true)

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil, port.ErrClosed
	}
	f.nextID++
	id := f.nextID
	f.subs[id] = sub
	f.enqueueLocked([]delivery{{sub: sub, value: copyValue(f.get(parts))}})
	f.mu.Unlock()
	f.drain()

	return func() {
		sub.active.Store(false)
		f.mu.Lock()
		delete(f.subs, id)
		f.mu.Unlock()
	}, nil
}

func (f *MemoryFeed) Write(ctx context.Context, path string, value any) error {
	return f.Batch(ctx, port.WriteOp(path, value))
}

func (f *MemoryFeed) Merge(ctx context.Context, path string, partial map[string]any) error {
	return f.Batch(ctx, port.MergeOp(path, partial))
}

func (f *MemoryFeed) Delete(ctx context.Context, path string) error {
	return f.Batch(ctx, port.DeleteOp(path))
}

func (f *MemoryFeed) Append(_ context.Context, path string) (string, error) {
	if _, err := port.Split(path); err != nil {
		return "", err
	}
	return newID()
}

func (f *MemoryFeed) Batch(_ context.Context, ops ...port.Op) error {
	type undo struct {
		parts []string
		prev  any
	}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return port.ErrClosed
	}

	var (
		log     []undo
		changed []string
	)
	rollback := func() {
		for i := len(log) - 1; i >= 0; i-- {
			f.set(log[i].parts, log[i].prev)
		}
	}
	for _, op := range ops {
		parts, err := port.Split(op.Path)
		if err != nil {
			rollback()
			f.mu.Unlock()
			return err
		}
		current := f.get(parts)
		var next any
		switch op.Kind {
		case port.OpWrite:
			next, err = normalize(op.Value)
		case port.OpMerge:
			partial, _ := op.Value.(map[string]any)
			next, err = mergeShallow(current, partial)
		case port.OpDelete:
			next = nil
		}
		if err != nil {
			rollback()
			f.mu.Unlock()
			return err
		}
		log = append(log, undo{parts: parts, prev: copyValue(current)})
		f.set(parts, next)
		changed = append(changed, port.Join(parts...))
	}
	f.notifyLocked(changed)
	f.mu.Unlock()
	f.drain()
	return nil
}

// Transact never conflicts here since the whole tree is locked while fn runs.
// fn must not call back into the feed.
func (f *MemoryFeed) Transact(_ context.Context, path string, fn port.TransactFunc) (any, error) {
	parts, err := port.Split(path)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil, port.ErrClosed
	}
	next, err := fn(copyValue(f.get(parts)))
	if err != nil {
		f.mu.Unlock()
		return nil, err
	}
	norm, err := normalize(next)
	if err != nil {
		f.mu.Unlock()
		return nil, err
	}
	f.set(parts, norm)
	f.notifyLocked([]string{port.Join(parts...)})
	result := copyValue(norm)
	f.mu.Unlock()
	f.drain()
	return result, nil
}

func (f *MemoryFeed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	for id, sub := range f.subs {
		sub.active.Store(false)
		delete(f.subs, id)
	}
	return nil
}

func (f *MemoryFeed) get(parts []string) any {
	var node any = f.root
	for _, p := range parts {
		m, ok := node.(map[string]any)
		if !ok {
			return nil
		}
		node, ok = m[p]
		if !ok {
			return nil
		}
	}
	return node
}

// set stores value at parts, creating intermediate objects. A nil value removes the node and
// prunes parents left empty.
func (f *MemoryFeed) set(parts []string, value any) {
	if value == nil {
		f.remove(f.root, parts)
		return
	}
	node := f.root
	for _, p := range parts[:len(parts)-1] {
		child, ok := node[p].(map[string]any)
		if !ok {
			child = make(map[string]any)
			node[p] = child
		}
		node = child
	}
	node[parts[len(parts)-1]] = value
}

func (f *MemoryFeed) remove(node map[string]any, parts []string) {
	if len(parts) == 1 {
		delete(node, parts[0])
		return
	}
	child, ok := node[parts[0]].(map[string]any)
	if !ok {
		return
	}
	f.remove(child, parts[1:])
	if len(child) == 0 {
		delete(node, parts[0])
	}
}

func (f *MemoryFeed) notifyLocked(changed []string) {
	var batch []delivery
	for _, sub := range f.subs {
		for _, c := range changed {
			if port.Related(sub.path, c) {
				parts, _ := port.Split(sub.path)
				batch = append(batch, delivery{sub: sub, value: copyValue(f.get(parts))})
				break
			}
		}
	}
	f.enqueueLocked(batch)
}

func (f *MemoryFeed) enqueueLocked(batch []delivery) {
	if len(batch) == 0 {
		return
	}
	f.qmu.Lock()
	f.queue = append(f.queue, batch...)
	f.qmu.Unlock()
}

func (f *MemoryFeed) drain() {
	f.qmu.Lock()
	if f.draining {
		f.qmu.Unlock()
		return
	}
	f.draining = true
	for len(f.queue) > 0 {
		d := f.queue[0]
		f.queue = f.queue[1:]
		f.qmu.Unlock()
		if d.sub.active.Load() {
			d.sub.fn(d.value)
		}
		f.qmu.Lock()
	}
	f.draining = false
	f.qmu.Unlock()
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = copyValue(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = copyValue(val)
		}
		return out
	default:
		return v
	}
}
