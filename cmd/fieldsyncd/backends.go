package main

import (
	"errors"
	"fmt"
	stdslog "log/slog"
	"os"
	"path/filepath"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.uber.org/zap"

	"github.com/unkn0wn-root/fieldsync"
	"github.com/unkn0wn-root/fieldsync/genstore"
	"github.com/unkn0wn-root/fieldsync/internal/badgerdb"
	"github.com/unkn0wn-root/fieldsync/internal/config"
	"github.com/unkn0wn-root/fieldsync/internal/memprovider"
	fslogrus "github.com/unkn0wn-root/fieldsync/log/logrus"
	fsslog "github.com/unkn0wn-root/fieldsync/log/slog"
	fszap "github.com/unkn0wn-root/fieldsync/log/zap"
	"github.com/unkn0wn-root/fieldsync/provider"
	pbadger "github.com/unkn0wn-root/fieldsync/provider/badger"
	"github.com/unkn0wn-root/fieldsync/provider/bigcache"
	predis "github.com/unkn0wn-root/fieldsync/provider/redis"
	"github.com/unkn0wn-root/fieldsync/provider/ristretto"
	"github.com/unkn0wn-root/fieldsync/queue"
	"github.com/unkn0wn-root/fieldsync/queue/badgerstore"
	"github.com/unkn0wn-root/fieldsync/queue/sqlitestore"
)

// closers run in reverse order on shutdown.
type closers []func() error

func (c *closers) add(f func() error) { *c = append(*c, f) }

func (c closers) close() error {
	var errs []error
	for i := len(c) - 1; i >= 0; i-- {
		errs = append(errs, c[i]())
	}
	return errors.Join(errs...)
}

// newLogger builds the process logger. kind is zap (default), logrus or slog.
func newLogger(kind string, cfg config.Config) (fieldsync.Logger, *stdslog.Logger, func(), error) {
	switch kind {
	case "", "zap":
		zc := zap.NewProductionConfig()
		if cfg.LogDev {
			zc = zap.NewDevelopmentConfig()
		}
		lvl, err := zap.ParseAtomicLevel(cfg.LogLevel)
		if err != nil {
			return nil, nil, nil, err
		}
		zc.Level = lvl
		zl, err := zc.Build()
		if err != nil {
			return nil, nil, nil, err
		}
		return fszap.New(zl).Named("fieldsyncd"), stdslog.Default(), func() { _ = zl.Sync() }, nil

	case "logrus":
		l := logrus.New()
		lvl, err := logrus.ParseLevel(cfg.LogLevel)
		if err != nil {
			return nil, nil, nil, err
		}
		l.SetLevel(lvl)
		if !cfg.LogDev {
			l.SetFormatter(&logrus.JSONFormatter{})
		}
		return fslogrus.New(l, "fieldsyncd"), stdslog.Default(), func() {}, nil

	case "slog":
		var lvl stdslog.Level
		if err := lvl.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
			return nil, nil, nil, err
		}
		sl := stdslog.New(stdslog.NewJSONHandler(os.Stderr, &stdslog.HandlerOptions{Level: lvl}))
		return fsslog.Logger{L: sl}, sl, func() {}, nil
	}
	return nil, nil, nil, fmt.Errorf("unknown logger %q", kind)
}

type cacheBackend struct {
	provider provider.Provider
	gens     genstore.GenStore       // nil => store default
	client   goredis.UniversalClient // set when nothing else closes it
}

// newCacheBackend opens the byte store behind the cache and, when asked for,
// a shared generation store.
func newCacheBackend(cfg config.Config, sl *stdslog.Logger) (cacheBackend, error) {
	var (
		b   cacheBackend
		rdb goredis.UniversalClient
	)
	if cfg.CacheBackend == "redis" || cfg.GenStore == "redis" {
		rdb = goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
	}

	switch cfg.CacheBackend {
	case "memory":
		b.provider = memprovider.New()
	case "bigcache":
		p, err := bigcache.New(bigcache.Config{HardMaxCacheSizeMB: cfg.CacheMaxMB})
		if err != nil {
			return b, err
		}
		b.provider = p
	case "ristretto":
		maxCost := int64(cfg.CacheMaxMB) << 20
		p, err := ristretto.New(ristretto.Config{
			NumCounters: 1e6,
			MaxCost:     maxCost,
			BufferItems: 64,
		})
		if err != nil {
			return b, err
		}
		b.provider = p
	case "redis":
		p, err := predis.New(predis.Config{Client: rdb, KeyPrefix: cfg.RedisPrefix, CloseClient: cfg.GenStore != "redis"})
		if err != nil {
			return b, err
		}
		b.provider = p
	case "badger":
		dbc := badgerdb.DefaultConfig(filepath.Join(cfg.BadgerDir, "cache"))
		dbc.SyncWrites = false
		dbc.Logger = sl
		p, err := pbadger.New(pbadger.Config{DB: dbc})
		if err != nil {
			return b, err
		}
		b.provider = p
	default:
		return b, fmt.Errorf("unknown cache backend %q", cfg.CacheBackend)
	}

	if cfg.GenStore == "redis" {
		b.gens = genstore.NewRedisGenStore(rdb, cfg.RedisPrefix+"gen:", 30*24*time.Hour)
		b.client = rdb
	}
	return b, nil
}

// newQueueStores opens the data and file queue stores on one database.
func newQueueStores(cfg config.Config, sl *stdslog.Logger, cl *closers) (data, files queue.Store, err error) {
	switch cfg.QueueBackend {
	case "memory":
		return queue.NewMemoryStore(), queue.NewMemoryStore(), nil

	case "sqlite":
		db, err := sqlitestore.OpenDB(cfg.QueuePath)
		if err != nil {
			return nil, nil, err
		}
		cl.add(db.Close)
		if data, err = sqlitestore.New(db, "inspections"); err != nil {
			return nil, nil, err
		}
		if files, err = sqlitestore.New(db, "files"); err != nil {
			return nil, nil, err
		}
		return data, files, nil

	case "badger":
		dbc := badgerdb.DefaultConfig(cfg.QueuePath)
		dbc.Logger = sl
		db, err := badgerdb.Open(dbc)
		if err != nil {
			return nil, nil, err
		}
		cl.add(db.Close)
		ds, err := badgerstore.New(db, "inspections")
		if err != nil {
			return nil, nil, err
		}
		cl.add(ds.Close)
		fs, err := badgerstore.New(db, "files")
		if err != nil {
			return nil, nil, err
		}
		cl.add(fs.Close)
		return ds, fs, nil
	}
	return nil, nil, fmt.Errorf("unknown queue backend %q", cfg.QueueBackend)
}
