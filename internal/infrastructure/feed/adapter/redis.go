package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	redis "github.com/redis/go-redis/v9"

	"github.com/kamlesh9876/Devium-sub000/internal/infrastructure/feed/port"
)

const maxTxRetries = 16

// RedisFeed implements port.Feed on top of go-redis v9.
//
// Layout: the record at "a/b/c" is the JSON value of field "c" in hash "{prefix}:node:a/b", so a
// collection read is one HGETALL. Each record also has a counter "{prefix}:ver:a/b/c" bumped on
// every mutation; optimistic transactions WATCH the counters of the record and its ancestors, never
// the shared hash, so writes to siblings do not conflict. Every mutation publishes the changed
// path on the channel of the path and of each ancestor; deletes are also announced on
// "{prefix}:del" so subscribers below a deleted subtree learn about it. Records are leaves:
// nothing is stored below a path that holds a record.
type RedisFeed struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
}

func NewRedisFeed(client *redis.Client, prefix string, logger *slog.Logger) *RedisFeed {
	if prefix == "" {
		prefix = "feed"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisFeed{client: client, prefix: prefix, logger: logger}
}

// Ensure interface compliance at compile time
var _ port.Feed = (*RedisFeed)(nil)

func (r *RedisFeed) nodeKey(path string) string { return r.prefix + ":node:" + path }
func (r *RedisFeed) chanKey(path string) string { return r.prefix + ":chan:" + path }
func (r *RedisFeed) verKey(path string) string  { return r.prefix + ":ver:" + path }
func (r *RedisFeed) delChan() string            { return r.prefix + ":del" }

// guardKeys lists the version counters a transaction on path must watch: its own and those of
// its ancestors, which a subtree delete bumps.
func (r *RedisFeed) guardKeys(path string) []string {
	parts, _ := port.Split(path)
	keys := make([]string, 0, len(parts))
	for i := len(parts); i > 0; i-- {
		keys = append(keys, r.verKey(port.Join(parts[:i]...)))
	}
	return keys
}

func (r *RedisFeed) ReadOnce(ctx context.Context, path string) (any, error) {
	parent, name, err := port.Parent(path)
	if err != nil {
		return nil, err
	}
	raw, err := r.client.HGet(ctx, r.nodeKey(parent), name).Bytes()
	switch {
	case err == nil:
		return decode(raw)
	case !errors.Is(err, redis.Nil):
		return nil, fmt.Errorf("redis feed: read %s: %w", path, err)
	}

	children, err := r.client.HGetAll(ctx, r.nodeKey(strings.Trim(path, "/"))).Result()
	if err != nil {
		return nil, fmt.Errorf("redis feed: read %s: %w", path, err)
	}
	if len(children) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(children))
	for k, v := range children {
		val, err := decode([]byte(v))
		if err != nil {
			return nil, err
		}
		out[k] = val
	}
	return out, nil
}

func (r *RedisFeed) Subscribe(ctx context.Context, path string, fn port.SnapshotFunc) (port.Unsubscribe, error) {
	parts, err := port.Split(path)
	if err != nil {
		return nil, err
	}
	path = port.Join(parts...)

	ps := r.client.Subscribe(ctx, r.chanKey(path), r.delChan())
	// Wait for confirmation so no change published after Subscribe returns is missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis feed: subscribe %s: %w", path, err)
	}

	subCtx, cancel := context.WithCancel(context.Background())
	ch := ps.Channel()
	go func() {
		r.deliver(subCtx, path, fn)
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				if msg.Channel == r.delChan() && !port.Related(path, msg.Payload) {
					continue
				}
				// A snapshot is the full value, so queued notifications collapse into one read.
				drainPending(ch)
				r.deliver(subCtx, path, fn)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			_ = ps.Close()
		})
	}, nil
}

func drainPending(ch <-chan *redis.Message) {
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

func (r *RedisFeed) deliver(ctx context.Context, path string, fn port.SnapshotFunc) {
	if ctx.Err() != nil {
		return
	}
	value, err := r.ReadOnce(ctx, path)
	if err != nil {
		if ctx.Err() == nil {
			r.logger.Warn("redis feed: snapshot read failed", "path", path, "error", err)
		}
		return
	}
	if ctx.Err() != nil {
		return
	}
	fn(value)
}

func (r *RedisFeed) Write(ctx context.Context, path string, value any) error {
	return r.Batch(ctx, port.WriteOp(path, value))
}

func (r *RedisFeed) Merge(ctx context.Context, path string, partial map[string]any) error {
	return r.Batch(ctx, port.MergeOp(path, partial))
}

func (r *RedisFeed) Delete(ctx context.Context, path string) error {
	return r.Batch(ctx, port.DeleteOp(path))
}

func (r *RedisFeed) Append(_ context.Context, path string) (string, error) {
	if _, err := port.Split(path); err != nil {
		return "", err
	}
	return newID()
}

type redisStep struct {
	path, parent, name string
	value              any // nil deletes
	deleted            bool
	descendants        []string
}

func (r *RedisFeed) Batch(ctx context.Context, ops ...port.Op) error {
	if len(ops) == 0 {
		return nil
	}
	var watch []string
	for _, op := range ops {
		parent, name, err := port.Parent(op.Path)
		if err != nil {
			return err
		}
		if op.Kind == port.OpMerge {
			watch = append(watch, r.guardKeys(joinPath(parent, name))...)
		}
	}

	for attempt := 0; attempt < maxTxRetries; attempt++ {
		err := r.client.Watch(ctx, func(tx *redis.Tx) error {
			steps, err := r.plan(ctx, tx, ops)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				return r.apply(ctx, pipe, steps)
			})
			return err
		}, watch...)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return port.ErrConflict
}

// plan resolves every op to the value it leaves behind, seeing earlier ops of the same batch.
func (r *RedisFeed) plan(ctx context.Context, tx *redis.Tx, ops []port.Op) ([]redisStep, error) {
	overlay := make(map[string]any)
	steps := make([]redisStep, 0, len(ops))
	for _, op := range ops {
		parent, name, err := port.Parent(op.Path)
		if err != nil {
			return nil, err
		}
		path := joinPath(parent, name)
		step := redisStep{path: path, parent: parent, name: name}
		switch op.Kind {
		case port.OpWrite:
			if step.value, err = normalize(op.Value); err != nil {
				return nil, err
			}
		case port.OpMerge:
			current, seen := overlay[path]
			if !seen {
				raw, err := tx.HGet(ctx, r.nodeKey(parent), name).Bytes()
				if err != nil && !errors.Is(err, redis.Nil) {
					return nil, fmt.Errorf("redis feed: read %s: %w", path, err)
				}
				if current, err = decode(raw); err != nil {
					return nil, err
				}
			}
			partial, _ := op.Value.(map[string]any)
			merged, err := mergeShallow(current, partial)
			if err != nil {
				return nil, err
			}
			step.value = merged
		}
		if step.value == nil {
			step.deleted = true
			if step.descendants, err = r.descendantKeys(ctx, path); err != nil {
				return nil, err
			}
		}
		overlay[path] = step.value
		steps = append(steps, step)
	}
	return steps, nil
}

// descendantKeys lists the hashes and version counters stored below path.
func (r *RedisFeed) descendantKeys(ctx context.Context, path string) ([]string, error) {
	keys := []string{r.nodeKey(path)}
	for _, pattern := range []string{r.nodeKey(path) + "/*", r.verKey(path) + "/*"} {
		iter := r.client.Scan(ctx, 0, pattern, 100).Iterator()
		for iter.Next(ctx) {
			keys = append(keys, iter.Val())
		}
		if err := iter.Err(); err != nil {
			return nil, fmt.Errorf("redis feed: scan %s: %w", path, err)
		}
	}
	return keys, nil
}

func (r *RedisFeed) apply(ctx context.Context, pipe redis.Pipeliner, steps []redisStep) error {
	for _, s := range steps {
		if s.deleted {
			pipe.HDel(ctx, r.nodeKey(s.parent), s.name)
			pipe.Del(ctx, s.descendants...)
			pipe.Publish(ctx, r.delChan(), s.path)
		} else {
			raw, err := json.Marshal(s.value)
			if err != nil {
				return fmt.Errorf("redis feed: encode %s: %w", s.path, err)
			}
			pipe.HSet(ctx, r.nodeKey(s.parent), s.name, raw)
		}
		pipe.Incr(ctx, r.verKey(s.path))
		r.publish(ctx, pipe, s.path)
	}
	return nil
}

// publish announces path on its own channel and on every ancestor channel.
func (r *RedisFeed) publish(ctx context.Context, pipe redis.Pipeliner, path string) {
	parts, _ := port.Split(path)
	for i := len(parts); i > 0; i-- {
		pipe.Publish(ctx, r.chanKey(port.Join(parts[:i]...)), path)
	}
}

func (r *RedisFeed) Transact(ctx context.Context, path string, fn port.TransactFunc) (any, error) {
	parent, name, err := port.Parent(path)
	if err != nil {
		return nil, err
	}
	full := joinPath(parent, name)
	key := r.nodeKey(parent)
	guard := r.guardKeys(full)

	for attempt := 0; attempt < maxTxRetries; attempt++ {
		var result any
		err := r.client.Watch(ctx, func(tx *redis.Tx) error {
			raw, err := tx.HGet(ctx, key, name).Bytes()
			if err != nil && !errors.Is(err, redis.Nil) {
				return fmt.Errorf("redis feed: read %s: %w", full, err)
			}
			current, err := decode(raw)
			if err != nil {
				return err
			}
			next, err := fn(current)
			if err != nil {
				return err
			}
			if result, err = normalize(next); err != nil {
				return err
			}
			step := redisStep{path: full, parent: parent, name: name, value: result, deleted: result == nil}
			if step.deleted {
				if step.descendants, err = r.descendantKeys(ctx, full); err != nil {
					return err
				}
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				return r.apply(ctx, pipe, []redisStep{step})
			})
			return err
		}, guard...)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return result, nil
	}
	return nil, port.ErrConflict
}

func (r *RedisFeed) Close() error {
	return r.client.Close()
}
