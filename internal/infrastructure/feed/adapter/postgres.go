package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kamlesh9876/Devium-sub000/internal/infrastructure/feed/port"
)

// PgFeed implements port.Feed on the feed_node table (see database/migrations).
// Each record is one row keyed by (parent, name); changes are announced with pg_notify inside
// the writing transaction, so listeners only hear about committed state.
type PgFeed struct {
	pool    *pgxpool.Pool
	channel string
	logger  *slog.Logger

	mu            sync.Mutex
	subs          map[uint64]*pgSub
	nextID        uint64
	startListener sync.Once
	ctx           context.Context
	cancel        context.CancelFunc
}

type pgSub struct {
	path   string
	fn     port.SnapshotFunc
	signal chan struct{}
	cancel context.CancelFunc
}

func NewPgFeed(pool *pgxpool.Pool, channel string, logger *slog.Logger) *PgFeed {
	if channel == "" {
		channel = "feed"
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &PgFeed{
		pool:    pool,
		channel: channel + "_changes",
		logger:  logger,
		subs:    make(map[uint64]*pgSub),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Ensure interface compliance at compile time
var _ port.Feed = (*PgFeed)(nil)

func (p *PgFeed) ReadOnce(ctx context.Context, path string) (any, error) {
	parent, name, err := port.Parent(path)
	if err != nil {
		return nil, err
	}
	var raw []byte
	err = p.pool.QueryRow(ctx,
		"SELECT value FROM feed_node WHERE parent = $1 AND name = $2", parent, name,
	).Scan(&raw)
	switch {
	case err == nil:
		return decode(raw)
	case !errors.Is(err, pgx.ErrNoRows):
		return nil, fmt.Errorf("pg feed: read %s: %w", path, err)
	}

	rows, err := p.pool.Query(ctx,
		"SELECT name, value FROM feed_node WHERE parent = $1", strings.Trim(path, "/"))
	if err != nil {
		return nil, fmt.Errorf("pg feed: read %s: %w", path, err)
	}
	defer rows.Close()

	var out map[string]any
	for rows.Next() {
		var (
			child string
			val   []byte
		)
		if err := rows.Scan(&child, &val); err != nil {
			return nil, err
		}
		decoded, err := decode(val)
		if err != nil {
			return nil, err
		}
		if out == nil {
			out = make(map[string]any)
		}
		out[child] = decoded
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	if out == nil {
		return nil, nil
	}
	return out, nil
}

func (p *PgFeed) Subscribe(_ context.Context, path string, fn port.SnapshotFunc) (port.Unsubscribe, error) {
	parts, err := port.Split(path)
	if err != nil {
		return nil, err
	}
	if p.ctx.Err() != nil {
		return nil, port.ErrClosed
	}
	p.startListener.Do(func() { go p.listen() })

	subCtx, cancel := context.WithCancel(p.ctx)
	sub := &pgSub{path: port.Join(parts...), fn: fn, signal: make(chan struct{}, 1), cancel: cancel}
	sub.signal <- struct{}{} // initial snapshot

	p.mu.Lock()
	p.nextID++
	id := p.nextID
	p.subs[id] = sub
	p.mu.Unlock()

	go func() {
		for {
			select {
			case <-subCtx.Done():
				return
			case <-sub.signal:
				value, err := p.ReadOnce(subCtx, sub.path)
				if err != nil {
					if subCtx.Err() == nil {
						p.logger.Warn("pg feed: snapshot read failed", "path", sub.path, "error", err)
					}
					continue
				}
				if subCtx.Err() != nil {
					return
				}
				fn(value)
			}
		}
	}()

	return func() {
		cancel()
		p.mu.Lock()
		delete(p.subs, id)
		p.mu.Unlock()
	}, nil
}

// listen holds one pooled connection on LISTEN and wakes every related subscription.
func (p *PgFeed) listen() {
	for p.ctx.Err() == nil {
		if err := p.listenOnce(); err != nil && p.ctx.Err() == nil {
			p.logger.Warn("pg feed: listener interrupted", "error", err)
			select {
			case <-p.ctx.Done():
			case <-time.After(time.Second):
			}
		}
	}
}

func (p *PgFeed) listenOnce() error {
	conn, err := p.pool.Acquire(p.ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err := conn.Exec(p.ctx, "LISTEN "+pgx.Identifier{p.channel}.Sanitize()); err != nil {
		return err
	}
	// Anything may have changed while the listener was down.
	p.wakeAll()
	for {
		n, err := conn.Conn().WaitForNotification(p.ctx)
		if err != nil {
			return err
		}
		p.wake(n.Payload)
	}
}

func (p *PgFeed) wake(changed string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, sub := range p.subs {
		if port.Related(sub.path, changed) {
			select {
			case sub.signal <- struct{}{}:
			default: // a snapshot read is already queued
			}
		}
	}
}

func (p *PgFeed) wakeAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, sub := range p.subs {
		select {
		case sub.signal <- struct{}{}:
		default:
		}
	}
}

func (p *PgFeed) Write(ctx context.Context, path string, value any) error {
	return p.Batch(ctx, port.WriteOp(path, value))
}

func (p *PgFeed) Merge(ctx context.Context, path string, partial map[string]any) error {
	return p.Batch(ctx, port.MergeOp(path, partial))
}

func (p *PgFeed) Delete(ctx context.Context, path string) error {
	return p.Batch(ctx, port.DeleteOp(path))
}

func (p *PgFeed) Append(_ context.Context, path string) (string, error) {
	if _, err := port.Split(path); err != nil {
		return "", err
	}
	return newID()
}

func (p *PgFeed) Batch(ctx context.Context, ops ...port.Op) error {
	if len(ops) == 0 {
		return nil
	}
	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		for _, op := range ops {
			parent, name, err := port.Parent(op.Path)
			if err != nil {
				return err
			}
			var next any
			switch op.Kind {
			case port.OpWrite:
				if next, err = normalize(op.Value); err != nil {
					return err
				}
			case port.OpMerge:
				current, err := p.lockAndRead(ctx, tx, parent, name)
				if err != nil {
					return err
				}
				partial, _ := op.Value.(map[string]any)
				if next, err = mergeShallow(current, partial); err != nil {
					return err
				}
			}
			if err := p.store(ctx, tx, parent, name, next); err != nil {
				return err
			}
		}
		return nil
	})
}

func (p *PgFeed) Transact(ctx context.Context, path string, fn port.TransactFunc) (any, error) {
	parent, name, err := port.Parent(path)
	if err != nil {
		return nil, err
	}
	var result any
	err = pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		current, err := p.lockAndRead(ctx, tx, parent, name)
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
		return p.store(ctx, tx, parent, name, result)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// lockAndRead serialises writers of one path for the rest of tx, including writers racing to
// create a row that does not exist yet.
func (p *PgFeed) lockAndRead(ctx context.Context, tx pgx.Tx, parent, name string) (any, error) {
	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", joinPath(parent, name)); err != nil {
		return nil, fmt.Errorf("pg feed: lock: %w", err)
	}
	var raw []byte
	err := tx.QueryRow(ctx,
		"SELECT value FROM feed_node WHERE parent = $1 AND name = $2", parent, name,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pg feed: read: %w", err)
	}
	return decode(raw)
}

func (p *PgFeed) store(ctx context.Context, tx pgx.Tx, parent, name string, value any) error {
	path := joinPath(parent, name)
	if value == nil {
		_, err := tx.Exec(ctx, `
			DELETE FROM feed_node
			WHERE (parent = $1 AND name = $2) OR parent = $3 OR parent LIKE $4
		`, parent, name, path, escapeLike(path)+"/%")
		if err != nil {
			return fmt.Errorf("pg feed: delete %s: %w", path, err)
		}
	} else {
		raw, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("pg feed: encode %s: %w", path, err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO feed_node (parent, name, value, version, updated_at)
			VALUES ($1, $2, $3::jsonb, 1, now())
			ON CONFLICT (parent, name)
			DO UPDATE SET value = EXCLUDED.value,
			              version = feed_node.version + 1,
			              updated_at = now()
		`, parent, name, raw)
		if err != nil {
			return fmt.Errorf("pg feed: write %s: %w", path, err)
		}
	}
	if _, err := tx.Exec(ctx, "SELECT pg_notify($1, $2)", p.channel, path); err != nil {
		return fmt.Errorf("pg feed: notify %s: %w", path, err)
	}
	return nil
}

func (p *PgFeed) Close() error {
	p.cancel()
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, sub := range p.subs {
		sub.cancel()
		delete(p.subs, id)
	}
	return nil
}

func joinPath(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "/" + name
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
