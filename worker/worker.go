// Package worker assembles one deployable version of the sync engine and the
// Registration that decides which version serves traffic.
package worker

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/unkn0wn-root/fieldsync"
	"github.com/unkn0wn-root/fieldsync/classify"
	"github.com/unkn0wn-root/fieldsync/clients"
	"github.com/unkn0wn-root/fieldsync/coordinator"
	"github.com/unkn0wn-root/fieldsync/lifecycle"
	"github.com/unkn0wn-root/fieldsync/strategy"
)

const DefaultPrefix = "fieldsync"

type Config struct {
	Version string          // required; suffix of every namespace name
	Prefix  string          // namespace prefix; "" => "fieldsync"
	Store   fieldsync.Store // required
	Clients *clients.Registry

	Rules    classify.Rules
	Keys     *fieldsync.KeyOptions
	Precache []string
	Network  http.RoundTripper // nil => http.DefaultTransport
	Routes   map[string]coordinator.Route

	PrecacheConcurrency int
	PrecacheTimeout     time.Duration
	RefreshTimeout      time.Duration

	Logger fieldsync.Logger
	Hooks  fieldsync.Hooks
}

// Worker is one version: its namespaces, strategies, lifecycle and sync
// coordinator. It serves traffic only once a Registration activates it.
type Worker struct {
	version string
	names   fieldsync.Namespaces
	exec    *strategy.Executor
	life    *lifecycle.Manager
	coord   *coordinator.Coordinator
	log     fieldsync.Logger
}

var (
	ErrNoVersion = errors.New("worker: version is required")
	ErrNoClients = errors.New("worker: clients registry is required")
)

func New(cfg Config) (*Worker, error) {
	if cfg.Version == "" {
		return nil, ErrNoVersion
	}
	if cfg.Clients == nil {
		return nil, ErrNoClients
	}
	log := fieldsync.Coalesce[fieldsync.Logger](cfg.Logger, fieldsync.NopLogger{})
	names := fieldsync.Versioned(fieldsync.Coalesce(cfg.Prefix, DefaultPrefix), cfg.Version)

	exec, err := strategy.New(strategy.Options{
		Store:          cfg.Store,
		Names:          names,
		Classifier:     cfg.Rules,
		Next:           cfg.Network,
		Keys:           cfg.Keys,
		Logger:         log,
		Hooks:          cfg.Hooks,
		RefreshTimeout: cfg.RefreshTimeout,
	})
	if err != nil {
		return nil, err
	}
	life, err := lifecycle.NewManager(lifecycle.Options{
		Store:               cfg.Store,
		Names:               names,
		Version:             cfg.Version,
		Precache:            cfg.Precache,
		Fetch:               cfg.Network,
		PrecacheConcurrency: cfg.PrecacheConcurrency,
		PrecacheTimeout:     cfg.PrecacheTimeout,
		Rules:               cfg.Rules,
		Keys:                cfg.Keys,
		Clients:             cfg.Clients,
		Logger:              log,
		Hooks:               cfg.Hooks,
	})
	if err != nil {
		return nil, err
	}
	coord, err := coordinator.New(coordinator.Options{
		Clients: cfg.Clients,
		Routes:  cfg.Routes,
		Logger:  log,
		Hooks:   cfg.Hooks,
	})
	if err != nil {
		return nil, err
	}
	return &Worker{version: cfg.Version, names: names, exec: exec, life: life, coord: coord, log: log}, nil
}

func (w *Worker) Version() string                       { return w.version }
func (w *Worker) Names() fieldsync.Namespaces           { return w.names }
func (w *Worker) State() lifecycle.State                { return w.life.State() }
func (w *Worker) Coordinator() *coordinator.Coordinator { return w.coord }

// RoundTrip applies the caching strategies of this version.
func (w *Worker) RoundTrip(req *http.Request) (*http.Response, error) {
	return w.exec.RoundTrip(req)
}

// Sync runs one coordinator session for tag.
func (w *Worker) Sync(ctx context.Context, tag string) error {
	return w.coord.Sync(ctx, tag)
}

// Wait blocks until background cache refreshes have finished.
func (w *Worker) Wait() { w.exec.Wait() }
