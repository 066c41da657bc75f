// Package foreground is the application side of the sync engine. A Context
// owns the mutation queues, submits writes, and answers the worker's flush
// requests.
package foreground

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/unkn0wn-root/fieldsync"
	"github.com/unkn0wn-root/fieldsync/coordinator"
	"github.com/unkn0wn-root/fieldsync/message"
	"github.com/unkn0wn-root/fieldsync/queue"
)

type Kind uint8

const (
	Data Kind = iota // inspections, maintenance requests, ...
	File             // uploads
)

// Tag is the deferred-retry tag that flushes queues of kind k.
func (k Kind) Tag() string {
	if k == File {
		return coordinator.TagFiles
	}
	return coordinator.TagInspections
}

// Outcome of Submit.
type Outcome uint8

const (
	Sent Outcome = iota + 1
	Queued
)

func (o Outcome) String() string {
	switch o {
	case Sent:
		return "sent"
	case Queued:
		return "queued"
	default:
		return "unknown"
	}
}

// Registrar records deferred-retry signals. coordinator.Scheduler implements it.
type Registrar interface {
	Register(tag string)
}

// Worker receives unsolicited messages such as SKIP_WAITING.
type Worker interface {
	HandleMessage(ctx context.Context, m message.Message) error
}

var (
	ErrClosed      = errors.New("foreground: context closed")
	ErrInboxFull   = errors.New("foreground: inbox full")
	ErrNoFileQueue = errors.New("foreground: no file queue")
	ErrNoWorker    = errors.New("foreground: no worker attached")
)

const defaultInbox = 16

type Options struct {
	ID    string       // "" => random
	Data  *queue.Queue // required
	Files *queue.Queue // optional

	// Live sends a write right away. Network errors and retryable statuses
	// queue the write instead.
	Live    queue.Sender
	Signals Registrar
	Worker  Worker

	Inbox  int // 0 => 16
	Logger fieldsync.Logger
	Now    func() time.Time
}

type request struct {
	m    message.Message
	port *message.Port
}

type Context struct {
	id      string
	data    *queue.Queue
	files   *queue.Queue
	live    queue.Sender
	signals Registrar
	worker  Worker
	log     fieldsync.Logger
	now     func() time.Time

	offline atomic.Bool

	mu     sync.Mutex
	closed bool
	inbox  chan request
	done   chan struct{}
}

func New(opts Options) (*Context, error) {
	if opts.Data == nil {
		return nil, errors.New("foreground: data queue is required")
	}
	c := &Context{
		id:      fieldsync.Coalesce(opts.ID, uuid.NewString()),
		data:    opts.Data,
		files:   opts.Files,
		live:    opts.Live,
		signals: opts.Signals,
		worker:  opts.Worker,
		log:     fieldsync.Coalesce[fieldsync.Logger](opts.Logger, fieldsync.NopLogger{}),
		now:     opts.Now,
		inbox:   make(chan request, fieldsync.Coalesce(opts.Inbox, defaultInbox)),
		done:    make(chan struct{}),
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c, nil
}

func (c *Context) ID() string { return c.id }

// SetOffline makes Submit queue without trying the network.
func (c *Context) SetOffline(v bool) { c.offline.Store(v) }

// PostMessage queues a worker request for Run. It never blocks.
func (c *Context) PostMessage(m message.Message, port *message.Port) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.inbox <- request{m: m, port: port}:
		return nil
	default:
		return ErrInboxFull
	}
}

// Run answers requests until ctx is done or the context is closed.
func (c *Context) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return nil
		case r := <-c.inbox:
			c.handle(ctx, r)
		}
	}
}

func (c *Context) handle(ctx context.Context, r request) {
	var (
		q       *queue.Queue
		ok, bad message.Type
	)
	switch r.m.Type {
	case message.RequestSync:
		q, ok, bad = c.data, message.SyncResult, message.SyncError
	case message.RequestFileSync:
		q, ok, bad = c.files, message.FileSyncResult, message.FileSyncError
	default:
		c.log.Debug("ignoring message", fieldsync.Fields{"client": c.id, "type": r.m.Type})
		return
	}
	if r.port == nil {
		c.log.Warn("request without reply port", fieldsync.Fields{"client": c.id, "type": r.m.Type})
		return
	}

	var reply message.Message
	if q == nil {
		reply = message.Failure(bad, ErrNoFileQueue)
	} else if res, err := q.Flush(ctx); err != nil {
		reply = message.Failure(bad, err)
	} else {
		reply = message.Result(ok, res.Success, res.Failed)
	}
	if !r.port.Post(reply) {
		c.log.Debug("reply dropped", fieldsync.Fields{"client": c.id, "type": reply.Type})
	}
}

// Submit tries d against the network and falls back to the queue. A queued
// write registers the deferred-retry tag for its kind. A write the server
// refused for good is returned as an error and not queued.
func (c *Context) Submit(ctx context.Context, k Kind, d queue.Draft) (Outcome, error) {
	q := c.data
	if k == File {
		q = c.files
	}
	if q == nil {
		return 0, ErrNoFileQueue
	}

	m, err := queue.NewMutation(d, c.now())
	if err != nil {
		return 0, err
	}
	d.IdempotencyKey = m.IdempotencyKey

	if !c.offline.Load() && c.live != nil {
		err := c.live.Send(ctx, m)
		if err == nil {
			return Sent, nil
		}
		if !retryable(err) {
			return 0, err
		}
		c.log.Info("write queued after send failure", fieldsync.Fields{"client": c.id, "entity": d.EntityType, "err": err})
	}

	if _, err := q.Enqueue(ctx, d); err != nil {
		return 0, fmt.Errorf("foreground: %w", err)
	}
	if c.signals != nil {
		c.signals.Register(k.Tag())
	}
	return Queued, nil
}

// retryable reports whether a live send failure should be queued. Anything
// that is not an HTTP answer is treated as a network failure.
func retryable(err error) bool {
	var se *queue.StatusError
	if !errors.As(err, &se) {
		return !errors.Is(err, context.Canceled)
	}
	return se.Code >= 500 || se.Code == http.StatusRequestTimeout || se.Code == http.StatusTooManyRequests
}

// SkipWaiting asks the worker to activate its waiting version now.
func (c *Context) SkipWaiting(ctx context.Context) error {
	if c.worker == nil {
		return ErrNoWorker
	}
	return c.worker.HandleMessage(ctx, message.Message{Type: message.SkipWaiting})
}

// Close stops Run and rejects further messages. Queues are not closed.
func (c *Context) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.done)
	}
	return nil
}
