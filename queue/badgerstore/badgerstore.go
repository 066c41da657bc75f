// Package badgerstore persists the mutation queue in an embedded BadgerDB.
//
// Layout, per queue name:
//
//	mq/<name>/s/<seq u64 be> -> CBOR mutation
//	mq/<name>/i/<id>         -> seq u64 be
//	mq/<name>/seq            -> badger sequence lease
package badgerstore

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/unkn0wn-root/fieldsync/codec"
	"github.com/unkn0wn-root/fieldsync/internal/badgerdb"
	"github.com/unkn0wn-root/fieldsync/queue"
)

const seqLease = 64

type Store struct {
	db     *badgerdb.DB
	ownsDB bool
	seq    *badger.Sequence
	codec  codec.Codec[queue.Mutation]

	bySeq []byte
	byID  []byte
}

var _ queue.Store = (*Store)(nil)

// Open opens its own database.
func Open(cfg badgerdb.Config, name string) (*Store, error) {
	db, err := badgerdb.Open(cfg)
	if err != nil {
		return nil, err
	}
	s, err := New(db, name)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.ownsDB = true
	return s, nil
}

// New shares db with other users; Close leaves it open.
func New(db *badgerdb.DB, name string) (*Store, error) {
	if name == "" {
		return nil, errors.New("badgerstore: queue name is required")
	}
	c, err := codec.NewCBOR[queue.Mutation](true)
	if err != nil {
		return nil, err
	}
	prefix := "mq/" + name + "/"
	seq, err := db.GetSequence([]byte(prefix+"seq"), seqLease)
	if err != nil {
		return nil, fmt.Errorf("badgerstore: sequence: %w", err)
	}
	return &Store{
		db:    db,
		seq:   seq,
		codec: c,
		bySeq: []byte(prefix + "s/"),
		byID:  []byte(prefix + "i/"),
	}, nil
}

func (s *Store) seqKey(seq uint64) []byte {
	k := make([]byte, len(s.bySeq)+8)
	copy(k, s.bySeq)
	binary.BigEndian.PutUint64(k[len(s.bySeq):], seq)
	return k
}

func (s *Store) idKey(id string) []byte {
	return append(append([]byte(nil), s.byID...), id...)
}

func (s *Store) Append(_ context.Context, m queue.Mutation) (queue.Mutation, error) {
	n, err := s.seq.Next()
	if err != nil {
		return queue.Mutation{}, err
	}
	// badger sequences start at 0; keep Seq 1-based like the other stores
	m.Seq = n + 1
	b, err := s.codec.Encode(m)
	if err != nil {
		return queue.Mutation{}, err
	}
	var sb [8]byte
	binary.BigEndian.PutUint64(sb[:], m.Seq)
	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(s.seqKey(m.Seq), b); err != nil {
			return err
		}
		return txn.Set(s.idKey(m.ID), sb[:])
	})
	if err != nil {
		return queue.Mutation{}, err
	}
	return m, nil
}

func (s *Store) lookup(txn *badger.Txn, id string) (uint64, error) {
	item, err := txn.Get(s.idKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, queue.ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	var seq uint64
	err = item.Value(func(v []byte) error {
		if len(v) != 8 {
			return fmt.Errorf("badgerstore: corrupt id index for %s", id)
		}
		seq = binary.BigEndian.Uint64(v)
		return nil
	})
	return seq, err
}

func (s *Store) Get(_ context.Context, id string) (queue.Mutation, error) {
	var m queue.Mutation
	err := s.db.View(func(txn *badger.Txn) error {
		seq, err := s.lookup(txn, id)
		if err != nil {
			return err
		}
		item, err := txn.Get(s.seqKey(seq))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return queue.ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			m, err = s.codec.Decode(v)
			return err
		})
	})
	return m, err
}

func (s *Store) List(_ context.Context) ([]queue.Mutation, error) {
	var out []queue.Mutation
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = s.bySeq
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(v []byte) error {
				m, err := s.codec.Decode(v)
				if err != nil {
					return err
				}
				out = append(out, m)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return out, err
}

func (s *Store) Update(_ context.Context, m queue.Mutation) error {
	return s.db.Update(func(txn *badger.Txn) error {
		seq, err := s.lookup(txn, m.ID)
		if err != nil {
			return err
		}
		m.Seq = seq
		b, err := s.codec.Encode(m)
		if err != nil {
			return err
		}
		return txn.Set(s.seqKey(seq), b)
	})
}

func (s *Store) Delete(_ context.Context, id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		seq, err := s.lookup(txn, id)
		if errors.Is(err, queue.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := txn.Delete(s.seqKey(seq)); err != nil {
			return err
		}
		return txn.Delete(s.idKey(id))
	})
}

func (s *Store) Close() error {
	err := s.seq.Release()
	if s.ownsDB {
		err = errors.Join(err, s.db.Close())
	}
	return err
}
