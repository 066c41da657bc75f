// Package memprovider is a map-backed provider for tests and the "memory"
// backend of the daemon. It never evicts.
package memprovider

import (
	"context"
	"sync"
	"time"
)

type Provider struct {
	mu  sync.RWMutex
	m   map[string]item
	now func() time.Time
}

type item struct {
	b   []byte
	exp time.Time
}

func New() *Provider {
	return &Provider{m: make(map[string]item), now: time.Now}
}

func (p *Provider) Get(_ context.Context, k string) ([]byte, bool, error) {
	p.mu.RLock()
	it, ok := p.m[k]
	p.mu.RUnlock()
	if !ok || (!it.exp.IsZero() && p.now().After(it.exp)) {
		return nil, false, nil
	}
	return append([]byte(nil), it.b...), true, nil
}

func (p *Provider) Set(_ context.Context, k string, v []byte, _ int64, ttl time.Duration) (bool, error) {
	it := item{b: append([]byte(nil), v...)}
	if ttl > 0 {
		it.exp = p.now().Add(ttl)
	}
	p.mu.Lock()
	p.m[k] = it
	p.mu.Unlock()
	return true, nil
}

func (p *Provider) Del(_ context.Context, k string) error {
	p.mu.Lock()
	delete(p.m, k)
	p.mu.Unlock()
	return nil
}

func (p *Provider) Close(context.Context) error { return nil }

// Raw exposes stored bytes without copying; tests use it to corrupt entries.
func (p *Provider) Raw(k string) ([]byte, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	it, ok := p.m[k]
	return it.b, ok
}

// Put writes bytes as-is, bypassing any framing.
func (p *Provider) Put(k string, v []byte) {
	p.mu.Lock()
	p.m[k] = item{b: v}
	p.mu.Unlock()
}

// Len returns the number of stored keys.
func (p *Provider) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.m)
}
