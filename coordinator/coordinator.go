// Package coordinator answers deferred-retry signals. For each signal it asks
// one open foreground context to flush its queue and turns the reply into a
// resolve or a reject. It never touches a queue itself.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/unkn0wn-root/fieldsync"
	"github.com/unkn0wn-root/fieldsync/clients"
	"github.com/unkn0wn-root/fieldsync/message"
)

const (
	TagInspections = "sync-inspections"
	TagFiles       = "sync-files"

	DefaultDataTimeout = 30 * time.Second
	DefaultFileTimeout = 60 * time.Second
)

var (
	ErrNoClient       = errors.New("no client available to sync")
	ErrDeliver        = errors.New("request could not be delivered")
	ErrTimeout        = errors.New("timed out waiting for reply")
	ErrPartialFailure = errors.New("some items failed to sync")
	ErrReplyError     = errors.New("client reported an error")
	ErrMalformedReply = errors.New("unexpected reply")
	ErrUnknownTag     = errors.New("unknown sync tag")
)

// RejectError is returned for every rejected session. Reason is one of the
// sentinels above, or the context error when the caller gave up.
type RejectError struct {
	Tag    string
	Reason error
	Detail string
}

func (e *RejectError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("coordinator: sync %q rejected: %v", e.Tag, e.Reason)
	}
	return fmt.Sprintf("coordinator: sync %q rejected: %v: %s", e.Tag, e.Reason, e.Detail)
}

func (e *RejectError) Unwrap() error { return e.Reason }

// Route binds a tag to its request, the reply types that answer it, and the
// reply deadline.
type Route struct {
	Request message.Type
	Result  message.Type
	Error   message.Type
	Timeout time.Duration
}

// DefaultRoutes: data mutations get a short deadline, uploads a longer one.
func DefaultRoutes() map[string]Route {
	return map[string]Route{
		TagInspections: {
			Request: message.RequestSync,
			Result:  message.SyncResult,
			Error:   message.SyncError,
			Timeout: DefaultDataTimeout,
		},
		TagFiles: {
			Request: message.RequestFileSync,
			Result:  message.FileSyncResult,
			Error:   message.FileSyncError,
			Timeout: DefaultFileTimeout,
		},
	}
}

// Matcher lists open clients. clients.Registry implements it.
type Matcher interface {
	MatchAll(includeUncontrolled bool) []clients.Client
}

type Options struct {
	Clients Matcher          // required
	Routes  map[string]Route // nil => DefaultRoutes()
	Logger  fieldsync.Logger
	Hooks   fieldsync.Hooks
	Now     func() time.Time
}

type Coordinator struct {
	clients Matcher
	routes  map[string]Route
	log     fieldsync.Logger
	hooks   fieldsync.Hooks
	now     func() time.Time
}

var ErrNilClients = errors.New("coordinator: clients matcher is required")

func New(opts Options) (*Coordinator, error) {
	if opts.Clients == nil {
		return nil, ErrNilClients
	}
	c := &Coordinator{
		clients: opts.Clients,
		routes:  opts.Routes,
		log:     fieldsync.Coalesce[fieldsync.Logger](opts.Logger, fieldsync.NopLogger{}),
		hooks:   fieldsync.Coalesce[fieldsync.Hooks](opts.Hooks, fieldsync.NopHooks{}),
		now:     opts.Now,
	}
	if c.routes == nil {
		c.routes = DefaultRoutes()
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c, nil
}

// Tags returns the tags this coordinator answers.
func (c *Coordinator) Tags() []string {
	out := make([]string, 0, len(c.routes))
	for t := range c.routes {
		out = append(out, t)
	}
	return out
}

// Sync runs one session for tag. nil means resolved.
func (c *Coordinator) Sync(ctx context.Context, tag string) error {
	_, err := c.Run(ctx, tag)
	return err
}

// Run is Sync that also returns the session record.
func (c *Coordinator) Run(ctx context.Context, tag string) (Session, error) {
	s := &Session{Tag: tag, Started: c.now()}
	s.enter(Triggered)

	err := c.run(ctx, s)

	s.Settled = c.now()
	if err != nil {
		s.enter(Rejected)
		s.Err = err
		c.log.Warn("sync rejected", fieldsync.Fields{"tag": tag, "client": s.Client, "err": err})
	} else {
		s.enter(Resolved)
		c.log.Info("sync resolved", fieldsync.Fields{
			"tag":     tag,
			"client":  s.Client,
			"success": s.Reply.Success,
			"elapsed": s.Settled.Sub(s.Started).String(),
		})
	}
	c.hooks.SyncSettled(tag, err)
	return *s, err
}

func (c *Coordinator) run(ctx context.Context, s *Session) error {
	route, ok := c.routes[s.Tag]
	if !ok {
		return &RejectError{Tag: s.Tag, Reason: ErrUnknownTag}
	}

	s.enter(DiscoveringClients)
	all := c.clients.MatchAll(true)
	if len(all) == 0 {
		return &RejectError{Tag: s.Tag, Reason: ErrNoClient}
	}
	target := all[0]
	s.Client = target.ID()

	port := message.NewPort()
	defer port.Close()
	s.enter(ChannelOpened)

	if err := target.PostMessage(message.Message{Type: route.Request, Port: port.ID()}, port); err != nil {
		return &RejectError{Tag: s.Tag, Reason: ErrDeliver, Detail: err.Error()}
	}
	s.enter(AwaitingReply)

	wctx, cancel := context.WithTimeout(ctx, route.Timeout)
	defer cancel()
	reply, err := port.Await(wctx)
	if err != nil {
		if ctx.Err() != nil {
			return &RejectError{Tag: s.Tag, Reason: ctx.Err()}
		}
		return &RejectError{Tag: s.Tag, Reason: ErrTimeout, Detail: route.Timeout.String()}
	}
	s.Reply = reply
	return verdict(s.Tag, route, reply)
}

func verdict(tag string, r Route, m message.Message) error {
	if err := m.Validate(); err != nil {
		return &RejectError{Tag: tag, Reason: ErrMalformedReply, Detail: err.Error()}
	}
	switch m.Type {
	case r.Result:
		if m.Failed > 0 {
			return &RejectError{
				Tag:    tag,
				Reason: ErrPartialFailure,
				Detail: fmt.Sprintf("%d succeeded, %d failed", m.Success, m.Failed),
			}
		}
		return nil
	case r.Error:
		return &RejectError{Tag: tag, Reason: ErrReplyError, Detail: m.Error}
	default:
		return &RejectError{Tag: tag, Reason: ErrMalformedReply, Detail: "reply type " + string(m.Type)}
	}
}
