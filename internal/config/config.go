// Package config loads fieldsyncd settings from the environment.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/unkn0wn-root/fieldsync/codec"
)

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

var (
	CacheBackends = []string{"memory", "bigcache", "ristretto", "redis", "badger"}
	QueueBackends = []string{"memory", "sqlite", "badger"}
	GenStores     = []string{"local", "redis"}
)

// Config is the daemon configuration. Flags override it.
type Config struct {
	Listen        string `env:"FIELDSYNC_LISTEN"         envDefault:":8787"`
	ControlListen string `env:"FIELDSYNC_CONTROL_LISTEN" envDefault:"127.0.0.1:8788"`
	Upstream      string `env:"FIELDSYNC_UPSTREAM"`

	Version         string   `env:"FIELDSYNC_VERSION"          envDefault:"v1"`
	NamespacePrefix string   `env:"FIELDSYNC_NAMESPACE_PREFIX" envDefault:"fieldsync"`
	APIPrefix       string   `env:"FIELDSYNC_API_PREFIX"       envDefault:"/api"`
	Volatile        []string `env:"FIELDSYNC_VOLATILE"         envSeparator:","`
	Precache        []string `env:"FIELDSYNC_PRECACHE"         envSeparator:","`

	CacheBackend string        `env:"FIELDSYNC_CACHE_BACKEND" envDefault:"memory"`
	CacheTTL     time.Duration `env:"FIELDSYNC_CACHE_TTL"`
	CacheMaxMB   int           `env:"FIELDSYNC_CACHE_MAX_MB"  envDefault:"256"`
	GenStore     string        `env:"FIELDSYNC_GEN_STORE"     envDefault:"local"`
	RedisAddr    string        `env:"FIELDSYNC_REDIS_ADDR"    envDefault:"localhost:6379"`
	RedisPrefix  string        `env:"FIELDSYNC_REDIS_PREFIX"  envDefault:"fieldsync:"`
	BadgerDir    string        `env:"FIELDSYNC_BADGER_DIR"`
	CacheCodec   string        `env:"FIELDSYNC_CACHE_CODEC"   envDefault:"msgpack"`
	MaxSnapshot  int           `env:"FIELDSYNC_MAX_SNAPSHOT_KB"`

	QueueBackend string `env:"FIELDSYNC_QUEUE_BACKEND" envDefault:"sqlite"`
	QueuePath    string `env:"FIELDSYNC_QUEUE_PATH"    envDefault:"fieldsync-queue.db"`
	MaxAttempts  int    `env:"FIELDSYNC_MAX_ATTEMPTS"  envDefault:"5"`

	WaitForActivation bool          `env:"FIELDSYNC_WAIT_FOR_ACTIVATION"`
	DataSyncTimeout   time.Duration `env:"FIELDSYNC_DATA_SYNC_TIMEOUT"  envDefault:"30s"`
	FileSyncTimeout   time.Duration `env:"FIELDSYNC_FILE_SYNC_TIMEOUT"  envDefault:"60s"`
	SyncMaxAttempts   int           `env:"FIELDSYNC_SYNC_MAX_ATTEMPTS"  envDefault:"3"`
	AllowedOrigins    []string      `env:"FIELDSYNC_WS_ORIGINS"         envSeparator:","`

	LogLevel string `env:"FIELDSYNC_LOG_LEVEL" envDefault:"info"`
	LogDev   bool   `env:"FIELDSYNC_LOG_DEV"`
}

// Load parses the environment into a Config with defaults applied.
func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if c.Upstream == "" {
		errs = append(errs, errors.New("upstream is required"))
	} else if u, err := url.Parse(c.Upstream); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("upstream %q is not an absolute URL", c.Upstream))
	} else if _, err := c.PrecacheURLs(); err != nil {
		errs = append(errs, err)
	}
	if c.Version == "" {
		errs = append(errs, errors.New("version is required"))
	}
	if !slices.Contains(CacheBackends, c.CacheBackend) {
		errs = append(errs, fmt.Errorf("unknown cache backend %q", c.CacheBackend))
	}
	if !slices.Contains(codec.Names, c.CacheCodec) {
		errs = append(errs, fmt.Errorf("unknown cache codec %q", c.CacheCodec))
	}
	if !slices.Contains(QueueBackends, c.QueueBackend) {
		errs = append(errs, fmt.Errorf("unknown queue backend %q", c.QueueBackend))
	}
	if !slices.Contains(GenStores, c.GenStore) {
		errs = append(errs, fmt.Errorf("unknown gen store %q", c.GenStore))
	}
	if c.CacheBackend == "badger" && c.BadgerDir == "" {
		errs = append(errs, errors.New("badger cache needs FIELDSYNC_BADGER_DIR"))
	}
	if c.DataSyncTimeout <= 0 || c.FileSyncTimeout <= 0 {
		errs = append(errs, errors.New("sync timeouts must be positive"))
	}
	if c.MaxAttempts < 1 || c.SyncMaxAttempts < 1 {
		errs = append(errs, errors.New("attempt ceilings must be at least 1"))
	}
	return errors.Join(errs...)
}

// PrecacheURLs resolves the precache list against Upstream, so "/index.html"
// means the upstream's /index.html. Absolute entries are kept as given.
func (c Config) PrecacheURLs() ([]string, error) {
	base, err := url.Parse(c.Upstream)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("precache: upstream %q is not an absolute URL", c.Upstream)
	}
	out := make([]string, 0, len(c.Precache))
	for _, p := range c.Precache {
		ref, err := url.Parse(p)
		if err != nil {
			return nil, fmt.Errorf("precache entry %q: %w", p, err)
		}
		out = append(out, base.ResolveReference(ref).String())
	}
	return out, nil
}
