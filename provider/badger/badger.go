// Package badger backs the cache store with an embedded BadgerDB, so cached
// shells and API snapshots survive restarts of a single-node worker.
package badger

import (
	"context"
	"errors"
	"time"

	bg "github.com/dgraph-io/badger/v4"

	"github.com/unkn0wn-root/fieldsync/internal/badgerdb"
	pr "github.com/unkn0wn-root/fieldsync/provider"
)

type Provider struct {
	db     *badgerdb.DB
	prefix []byte
}

var (
	_ pr.Provider = (*Provider)(nil)
	_ pr.Pinger   = (*Provider)(nil)
)

type Config struct {
	DB     badgerdb.Config
	Prefix string // key prefix inside the database; "" => "cache/"
}

func New(cfg Config) (*Provider, error) {
	db, err := badgerdb.Open(cfg.DB)
	if err != nil {
		return nil, err
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "cache/"
	}
	return &Provider{db: db, prefix: []byte(prefix)}, nil
}

func (p *Provider) key(k string) []byte {
	out := make([]byte, 0, len(p.prefix)+len(k))
	return append(append(out, p.prefix...), k...)
}

func (p *Provider) Get(_ context.Context, key string) ([]byte, bool, error) {
	var out []byte
	err := p.db.View(func(txn *bg.Txn) error {
		item, err := txn.Get(p.key(key))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, bg.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return out, true, nil
}

func (p *Provider) Set(_ context.Context, key string, value []byte, _ int64, ttl time.Duration) (bool, error) {
	err := p.db.Update(func(txn *bg.Txn) error {
		e := bg.NewEntry(p.key(key), value)
		if ttl > 0 {
			e = e.WithTTL(ttl)
		}
		return txn.SetEntry(e)
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

func (p *Provider) Del(_ context.Context, key string) error {
	return p.db.Update(func(txn *bg.Txn) error {
		return txn.Delete(p.key(key))
	})
}

func (p *Provider) Close(context.Context) error { return p.db.Close() }

func (p *Provider) Ping(context.Context) error {
	if p.db.IsClosed() {
		return bg.ErrDBClosed
	}
	return nil
}
