// Package ws carries the message protocol over websockets so foreground
// contexts in other processes can answer the worker's flush requests.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/unkn0wn-root/fieldsync"
	"github.com/unkn0wn-root/fieldsync/clients"
	"github.com/unkn0wn-root/fieldsync/message"
)

const (
	// ClientParam is the query parameter a remote context uses to name itself.
	ClientParam = "client"

	defaultWriteTimeout = 5 * time.Second
	readLimit           = 64 << 10
)

// Sink receives unsolicited messages (SKIP_WAITING) from remote contexts.
type Sink interface {
	HandleMessage(ctx context.Context, m message.Message) error
}

type ServerOptions struct {
	Clients        *clients.Registry // required
	Worker         Sink              // optional
	OriginPatterns []string
	WriteTimeout   time.Duration // 0 => 5s
	Logger         fieldsync.Logger
}

// Server is an http.Handler. Every accepted connection is registered as a
// client for as long as it stays open.
type Server struct {
	reg     *clients.Registry
	worker  Sink
	origins []string
	wto     time.Duration
	log     fieldsync.Logger
}

func NewServer(opts ServerOptions) (*Server, error) {
	if opts.Clients == nil {
		return nil, errors.New("ws: clients registry is required")
	}
	return &Server{
		reg:     opts.Clients,
		worker:  opts.Worker,
		origins: opts.OriginPatterns,
		wto:     fieldsync.Coalesce(opts.WriteTimeout, defaultWriteTimeout),
		log:     fieldsync.Coalesce[fieldsync.Logger](opts.Logger, fieldsync.NopLogger{}),
	}, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get(ClientParam)
	if id == "" {
		id = uuid.NewString()
	}
	if _, taken := s.reg.Get(id); taken {
		http.Error(w, "client id already connected", http.StatusConflict)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.origins})
	if err != nil {
		s.log.Warn("websocket accept failed", fieldsync.Fields{"err": err})
		return
	}
	conn.SetReadLimit(readLimit)

	rc := &remote{id: id, conn: conn, wto: s.wto, ports: make(map[string]*message.Port)}
	if err := s.reg.Add(rc); err != nil {
		_ = conn.Close(websocket.StatusPolicyViolation, err.Error())
		return
	}
	s.log.Info("client connected", fieldsync.Fields{"client": id, "clients": s.reg.Len()})

	defer func() {
		s.reg.Remove(id)
		rc.closePorts()
		_ = conn.Close(websocket.StatusNormalClosure, "")
		s.log.Info("client disconnected", fieldsync.Fields{"client": id, "clients": s.reg.Len()})
	}()

	ctx := r.Context()
	for {
		_, b, err := conn.Read(ctx)
		if err != nil {
			return
		}
		// no validation here; the coordinator judges reply shape
		var m message.Message
		if err := json.Unmarshal(b, &m); err != nil {
			s.log.Warn("bad frame", fieldsync.Fields{"client": id, "err": err})
			continue
		}
		if m.Type == message.SkipWaiting {
			if s.worker != nil {
				if err := s.worker.HandleMessage(ctx, m); err != nil {
					s.log.Warn("skip waiting failed", fieldsync.Fields{"client": id, "err": err})
				}
			}
			continue
		}
		if !rc.reply(m) {
			s.log.Debug("reply for unknown port", fieldsync.Fields{"client": id, "type": m.Type})
		}
	}
}

// remote is a connected client. Pending reply ports are keyed by id.
type remote struct {
	id   string
	conn *websocket.Conn
	wto  time.Duration

	mu    sync.Mutex
	ports map[string]*message.Port
}

func (c *remote) ID() string { return c.id }

func (c *remote) PostMessage(m message.Message, reply *message.Port) error {
	if reply != nil {
		m.Port = reply.ID()
		c.mu.Lock()
		c.ports[m.Port] = reply
		c.mu.Unlock()
		// a port the coordinator gave up on must not outlive its request
		id := m.Port
		reply.OnSettle(func() { c.forget(id) })
	}
	b, err := message.Encode(m)
	if err == nil {
		ctx, cancel := context.WithTimeout(context.Background(), c.wto)
		err = c.conn.Write(ctx, websocket.MessageText, b)
		cancel()
	}
	if err != nil && reply != nil {
		c.forget(m.Port)
	}
	return err
}

func (c *remote) forget(id string) {
	c.mu.Lock()
	delete(c.ports, id)
	c.mu.Unlock()
}

func (c *remote) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.ports)
}

func (c *remote) reply(m message.Message) bool {
	c.mu.Lock()
	p, ok := c.ports[m.Port]
	delete(c.ports, m.Port)
	c.mu.Unlock()
	return ok && p.Post(m)
}

func (c *remote) closePorts() {
	c.mu.Lock()
	ports := c.ports
	c.ports = make(map[string]*message.Port)
	c.mu.Unlock()
	// Close runs forget, which takes mu
	for _, p := range ports {
		p.Close()
	}
}
