package message

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Port is a one-shot reply channel. The first Post is delivered; anything
// posted after that, or after Close, is dropped.
type Port struct {
	id string
	ch chan Message

	mu      sync.Mutex
	done    bool
	settled []func()
}

func NewPort() *Port {
	return &Port{id: uuid.NewString(), ch: make(chan Message, 1)}
}

func (p *Port) ID() string { return p.id }

// Post delivers m if the port is still open. It never blocks and reports
// whether m was accepted.
func (p *Port) Post(m Message) bool {
	p.mu.Lock()
	if p.done {
		p.mu.Unlock()
		return false
	}
	p.ch <- m
	p.settle()
	return true
}

// Close makes later posts no-ops. A reply already posted can still be received.
func (p *Port) Close() {
	p.mu.Lock()
	if p.done {
		p.mu.Unlock()
		return
	}
	p.settle()
}

// OnSettle runs f once the port stops accepting posts, after a delivered
// reply or Close. On a port that has already settled f runs right away.
func (p *Port) OnSettle(f func()) {
	p.mu.Lock()
	if !p.done {
		p.settled = append(p.settled, f)
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()
	f()
}

// settle marks the port done and runs the callbacks outside the lock.
// mu must be held; settle releases it.
func (p *Port) settle() {
	p.done = true
	fs := p.settled
	p.settled = nil
	p.mu.Unlock()
	for _, f := range fs {
		f()
	}
}

// C yields at most one message.
func (p *Port) C() <-chan Message { return p.ch }

// Await waits for the reply or ctx. The port is closed either way.
func (p *Port) Await(ctx context.Context) (Message, error) {
	defer p.Close()
	select {
	case m := <-p.ch:
		return m, nil
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}
