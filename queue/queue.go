// Package queue is the foreground-owned Mutation Queue: a durable FIFO of
// writes made offline, replayed against the backend by Flush.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/unkn0wn-root/fieldsync"
)

const DefaultMaxAttempts = 5

// Result aggregates one flush. Stuck counts entries skipped because they had
// already failed for good; they are not part of Failed.
type Result struct {
	Success int `json:"success"`
	Failed  int `json:"failed"`
	Stuck   int `json:"stuck,omitempty"`
}

type Options struct {
	Name        string // for logs, e.g. "inspections"
	Store       Store  // nil => NewMemoryStore()
	Sender      Sender // required
	MaxAttempts int    // 0 => 5

	Logger fieldsync.Logger
	Hooks  fieldsync.Hooks
	Now    func() time.Time
}

type Queue struct {
	name   string
	store  Store
	sender Sender
	max    int
	log    fieldsync.Logger
	hooks  fieldsync.Hooks
	now    func() time.Time

	flights singleflight.Group
}

func New(opts Options) (*Queue, error) {
	if opts.Sender == nil {
		return nil, errors.New("queue: sender is required")
	}
	q := &Queue{
		name:   fieldsync.Coalesce(opts.Name, "mutations"),
		store:  opts.Store,
		sender: opts.Sender,
		max:    fieldsync.Coalesce(opts.MaxAttempts, DefaultMaxAttempts),
		log:    fieldsync.Coalesce[fieldsync.Logger](opts.Logger, fieldsync.NopLogger{}),
		hooks:  fieldsync.Coalesce[fieldsync.Hooks](opts.Hooks, fieldsync.NopHooks{}),
		now:    opts.Now,
	}
	if q.store == nil {
		q.store = NewMemoryStore()
	}
	if q.now == nil {
		q.now = time.Now
	}
	return q, nil
}

func (q *Queue) Name() string { return q.name }

// Enqueue persists a pending mutation and returns it. It never touches the
// network.
func (q *Queue) Enqueue(ctx context.Context, d Draft) (Mutation, error) {
	m, err := NewMutation(d, q.now())
	if err != nil {
		return Mutation{}, err
	}
	m, err = q.store.Append(ctx, m)
	if err != nil {
		return Mutation{}, fmt.Errorf("queue: append: %w", err)
	}
	q.log.Debug("mutation enqueued", fieldsync.Fields{"queue": q.name, "id": m.ID, "entity": m.EntityType, "seq": m.Seq})
	return m, nil
}

// NewMutation builds a pending mutation from d without storing it. The
// idempotency key is taken from d when set, so a write first tried live keeps
// its key when it is queued.
func NewMutation(d Draft, now time.Time) (Mutation, error) {
	var payload json.RawMessage
	switch p := d.Payload.(type) {
	case nil:
	case json.RawMessage:
		payload = p
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return Mutation{}, fmt.Errorf("queue: encode payload: %w", err)
		}
		payload = b
	}
	key := d.IdempotencyKey
	if key == "" {
		key = uuid.NewString()
	}
	return Mutation{
		ID:             uuid.NewString(),
		IdempotencyKey: key,
		EntityType:     d.EntityType,
		Method:         fieldsync.Coalesce(d.Method, http.MethodPost),
		Path:           d.Path,
		Payload:        payload,
		CreatedAt:      now,
		Status:         StatusPending,
	}, nil
}

// Flush replays the queue in enqueue order. A failing entry is counted and
// skipped; the rest still run. Concurrent calls share one run and its result;
// that run uses the context of the call that started it. An entry discarded
// while it is being sent is not counted.
func (q *Queue) Flush(ctx context.Context) (Result, error) {
	v, err, _ := q.flights.Do("flush", func() (any, error) {
		return q.flush(ctx)
	})
	res, _ := v.(Result)
	return res, err
}

func (q *Queue) flush(ctx context.Context) (Result, error) {
	var res Result

	items, err := q.store.List(ctx)
	if err != nil {
		return res, fmt.Errorf("queue: list: %w", err)
	}

	for _, m := range items {
		if m.Status == StatusFailed {
			res.Stuck++
			continue
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}

		// in-flight here means a previous run died mid-send; retry it
		m.Status = StatusInFlight
		if err := q.store.Update(ctx, m); err != nil {
			if errors.Is(err, ErrNotFound) {
				continue // discarded meanwhile
			}
			q.log.Warn("mark in-flight failed", fieldsync.Fields{"queue": q.name, "id": m.ID, "err": err})
			res.Failed++
			continue
		}

		sendErr := q.sender.Send(ctx, m)
		if sendErr == nil {
			if err := q.store.Delete(ctx, m.ID); err != nil && !errors.Is(err, ErrNotFound) {
				// accepted by the server; a replay is covered by the idempotency key
				q.log.Error("delete after send failed", fieldsync.Fields{"queue": q.name, "id": m.ID, "err": err})
			}
			res.Success++
			continue
		}

		// the entry may have been edited or discarded while it was on the wire
		var kept bool
		if m, kept = q.reload(context.WithoutCancel(ctx), m); !kept {
			q.log.Debug("discarded during send", fieldsync.Fields{"queue": q.name, "id": m.ID})
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			continue
		}

		if ctx.Err() != nil {
			// cancelled, not rejected: no attempt is charged
			m.Status = StatusPending
			_ = q.store.Update(context.WithoutCancel(ctx), m)
			return res, ctx.Err()
		}

		m.Attempts++
		m.LastError = sendErr.Error()
		m.Status = StatusPending
		final := m.Attempts >= q.max
		if final {
			m.Status = StatusFailed
		}
		if err := q.store.Update(ctx, m); err != nil && !errors.Is(err, ErrNotFound) {
			q.log.Warn("record failure failed", fieldsync.Fields{"queue": q.name, "id": m.ID, "err": err})
		}
		q.hooks.MutationFailed(m.ID, m.Attempts, final, sendErr)
		q.log.Warn("mutation send failed", fieldsync.Fields{
			"queue":    q.name,
			"id":       m.ID,
			"attempts": m.Attempts,
			"final":    final,
			"err":      sendErr,
		})
		res.Failed++
	}

	q.log.Info("flush done", fieldsync.Fields{"queue": q.name, "success": res.Success, "failed": res.Failed, "stuck": res.Stuck})
	return res, nil
}

// reload returns the stored copy of m; false when it is gone. On a read error
// the caller's copy is used.
func (q *Queue) reload(ctx context.Context, m Mutation) (Mutation, bool) {
	cur, err := q.store.Get(ctx, m.ID)
	switch {
	case err == nil:
		return cur, true
	case errors.Is(err, ErrNotFound):
		return m, false
	default:
		q.log.Warn("reload failed", fieldsync.Fields{"queue": q.name, "id": m.ID, "err": err})
		return m, true
	}
}

// Pending returns entries that will be sent by the next flush.
func (q *Queue) Pending(ctx context.Context) ([]Mutation, error) {
	return q.filter(ctx, func(m Mutation) bool { return m.Status != StatusFailed })
}

// Failed returns entries waiting for manual intervention.
func (q *Queue) Failed(ctx context.Context) ([]Mutation, error) {
	return q.filter(ctx, func(m Mutation) bool { return m.Status == StatusFailed })
}

func (q *Queue) filter(ctx context.Context, keep func(Mutation) bool) ([]Mutation, error) {
	all, err := q.store.List(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, m := range all {
		if keep(m) {
			out = append(out, m)
		}
	}
	return out, nil
}

// Retry puts a failed entry back in line with a fresh attempt budget. It keeps
// its position and idempotency key.
func (q *Queue) Retry(ctx context.Context, id string) error {
	m, err := q.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if m.Status != StatusFailed {
		return nil
	}
	m.Status = StatusPending
	m.Attempts = 0
	return q.store.Update(ctx, m)
}

// Get returns one entry; ErrNotFound when the queue does not hold it.
func (q *Queue) Get(ctx context.Context, id string) (Mutation, error) {
	return q.store.Get(ctx, id)
}

// Discard drops an entry without sending it.
func (q *Queue) Discard(ctx context.Context, id string) error {
	return q.store.Delete(ctx, id)
}

func (q *Queue) Len(ctx context.Context) (int, error) {
	all, err := q.store.List(ctx)
	return len(all), err
}

func (q *Queue) Close() error { return q.store.Close() }
