package ws

import (
	"context"
	"errors"
	"net/url"
	"sync"

	"github.com/coder/websocket"

	"github.com/unkn0wn-root/fieldsync"
	"github.com/unkn0wn-root/fieldsync/message"
)

// Handler answers requests arriving over a Link. foreground.Context
// implements it.
type Handler interface {
	PostMessage(m message.Message, reply *message.Port) error
}

// Link is the foreground end of a websocket connection to a worker.
type Link struct {
	conn *websocket.Conn
	log  fieldsync.Logger

	wmu sync.Mutex
	wg  sync.WaitGroup
}

// Dial connects to a worker's websocket endpoint as client id.
func Dial(ctx context.Context, endpoint, id string, log fieldsync.Logger) (*Link, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, err
	}
	if id != "" {
		q := u.Query()
		q.Set(ClientParam, id)
		u.RawQuery = q.Encode()
	}
	conn, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(readLimit)
	return &Link{conn: conn, log: fieldsync.Coalesce[fieldsync.Logger](log, fieldsync.NopLogger{})}, nil
}

// Send writes an unsolicited message, e.g. SKIP_WAITING.
func (l *Link) Send(ctx context.Context, m message.Message) error {
	b, err := message.Encode(m)
	if err != nil {
		return err
	}
	l.wmu.Lock()
	defer l.wmu.Unlock()
	return l.conn.Write(ctx, websocket.MessageText, b)
}

// Serve hands every request to h and writes the answer back on the request's
// port. It returns when ctx ends or the connection drops.
func (l *Link) Serve(ctx context.Context, h Handler) error {
	defer l.wg.Wait()
	for {
		_, b, err := l.conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var ce websocket.CloseError
			if errors.As(err, &ce) && ce.Code == websocket.StatusNormalClosure {
				return nil
			}
			return err
		}
		m, err := message.Decode(b)
		if err != nil {
			l.log.Warn("bad frame from worker", fieldsync.Fields{"err": err})
			continue
		}

		port := message.NewPort()
		if err := h.PostMessage(m, port); err != nil {
			l.log.Warn("request not accepted", fieldsync.Fields{"type": m.Type, "err": err})
			l.refuse(ctx, m, err)
			continue
		}
		l.wg.Add(1)
		go func(replyTo string) {
			defer l.wg.Done()
			reply, err := port.Await(ctx)
			if err != nil {
				return
			}
			reply.Port = replyTo
			if err := l.Send(ctx, reply); err != nil {
				l.log.Warn("reply not sent", fieldsync.Fields{"type": reply.Type, "err": err})
			}
		}(m.Port)
	}
}

// refuse answers a request the handler did not take, so the worker rejects
// the sync now instead of waiting out its deadline.
func (l *Link) refuse(ctx context.Context, m message.Message, cause error) {
	t, ok := m.Type.ErrorReply()
	if !ok || m.Port == "" {
		return
	}
	reply := message.Failure(t, cause)
	reply.Port = m.Port
	if err := l.Send(ctx, reply); err != nil {
		l.log.Warn("refusal not sent", fieldsync.Fields{"type": t, "err": err})
	}
}

func (l *Link) Close() error {
	return l.conn.Close(websocket.StatusNormalClosure, "")
}
