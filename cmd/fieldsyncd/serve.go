package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/unkn0wn-root/fieldsync"
	"github.com/unkn0wn-root/fieldsync/classify"
	"github.com/unkn0wn-root/fieldsync/clients"
	"github.com/unkn0wn-root/fieldsync/codec"
	"github.com/unkn0wn-root/fieldsync/coordinator"
	"github.com/unkn0wn-root/fieldsync/foreground"
	asynchook "github.com/unkn0wn-root/fieldsync/hooks/async"
	"github.com/unkn0wn-root/fieldsync/hooks/fanout"
	"github.com/unkn0wn-root/fieldsync/internal/config"
	"github.com/unkn0wn-root/fieldsync/promhooks"
	"github.com/unkn0wn-root/fieldsync/queue"
	"github.com/unkn0wn-root/fieldsync/sloghooks"
	"github.com/unkn0wn-root/fieldsync/transport/ws"
	"github.com/unkn0wn-root/fieldsync/worker"
)

const (
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 10 * time.Second
	localClientID     = "fieldsyncd"
)

var serveFlags struct {
	logger     string
	eventLog   bool
	listen     string
	control    string
	upstream   string
	version    string
	cache      string
	codec      string
	queue      string
	queuePath  string
	waitActive bool
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the caching proxy and control API",
	Long: `Run the caching reverse proxy in front of --upstream and the control API.

Configuration comes from FIELDSYNC_* environment variables; flags override them.

Control API (on --control):
  GET    /healthz                   liveness
  GET    /metrics                   prometheus metrics
  GET    /ws                        websocket for remote foreground contexts
  GET    /v1/status                 versions, clients, pending syncs, queue sizes
  POST   /v1/sync/:tag[?wait=1]     register (or run) a deferred sync
  POST   /v1/online                 connectivity is back; fire pending syncs now
  POST   /v1/skip-waiting           activate the waiting version
  POST   /v1/mutations              submit a write (sent live or queued)
  GET    /v1/mutations              list queued writes (?kind=file&status=failed)
  POST   /v1/mutations/:id/retry    requeue a failed write
  DELETE /v1/mutations/:id          drop a queued write`,
	RunE: runServe,
}

func init() {
	f := serveCmd.Flags()
	f.StringVar(&serveFlags.logger, "logger", "zap", "log backend: zap, logrus or slog")
	f.BoolVar(&serveFlags.eventLog, "event-log", false, "also log cache and sync events through log/slog")
	f.StringVar(&serveFlags.listen, "listen", "", "proxy listen address")
	f.StringVar(&serveFlags.control, "control", "", "control API listen address")
	f.StringVar(&serveFlags.upstream, "upstream", "", "backend origin, e.g. https://app.example.com")
	f.StringVar(&serveFlags.version, "worker-version", "", "worker version; namespaces are suffixed with it")
	f.StringVar(&serveFlags.cache, "cache", "", "cache backend: memory, bigcache, ristretto, redis, badger")
	f.StringVar(&serveFlags.codec, "cache-codec", "", "snapshot encoding: msgpack, json, cbor")
	f.StringVar(&serveFlags.queue, "queue", "", "queue backend: memory, sqlite, badger")
	f.StringVar(&serveFlags.queuePath, "queue-path", "", "queue database path")
	f.BoolVar(&serveFlags.waitActive, "wait-for-activation", false, "keep a new version waiting until skip-waiting")
}

// applyFlags overrides cfg with the flags that were set.
func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	set := func(name string, dst *string, v string) {
		if cmd.Flags().Changed(name) {
			*dst = v
		}
	}
	set("listen", &cfg.Listen, serveFlags.listen)
	set("control", &cfg.ControlListen, serveFlags.control)
	set("upstream", &cfg.Upstream, serveFlags.upstream)
	set("worker-version", &cfg.Version, serveFlags.version)
	set("cache", &cfg.CacheBackend, serveFlags.cache)
	set("cache-codec", &cfg.CacheCodec, serveFlags.codec)
	set("queue", &cfg.QueueBackend, serveFlags.queue)
	set("queue-path", &cfg.QueuePath, serveFlags.queuePath)
	if cmd.Flags().Changed("wait-for-activation") {
		cfg.WaitForActivation = serveFlags.waitActive
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	applyFlags(cmd, &cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}
	upstream, _ := url.Parse(cfg.Upstream)
	precache, _ := cfg.PrecacheURLs() // checked by Validate

	log, sl, syncLog, err := newLogger(serveFlags.logger, cfg)
	if err != nil {
		return err
	}
	defer syncLog()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cl closers
	defer func() {
		if err := cl.close(); err != nil {
			log.Error("shutdown", fieldsync.Fields{"err": err})
		}
	}()

	// metrics + hooks
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	var eventHooks fieldsync.Hooks
	if serveFlags.eventLog {
		eventHooks = sloghooks.New(sl, sloghooks.Options{SelfHealEvery: 10, WriteRejectEvery: 10})
	}
	hooks := asynchook.New(fanout.New(promhooks.New(reg), eventHooks), 1, 4096)
	cl.add(func() error { hooks.Close(); return nil })

	// cache
	backend, err := newCacheBackend(cfg, sl)
	if err != nil {
		return fmt.Errorf("cache backend: %w", err)
	}
	if backend.client != nil {
		cl.add(backend.client.Close)
	}
	var snapCodec codec.Codec[fieldsync.Snapshot]
	if snapCodec, err = codec.ByName[fieldsync.Snapshot](cfg.CacheCodec); err != nil {
		return err
	}
	if cfg.MaxSnapshot > 0 {
		snapCodec = codec.LimitCodec[fieldsync.Snapshot]{Inner: snapCodec, MaxDecode: cfg.MaxSnapshot << 10}
	}
	store, err := fieldsync.New(fieldsync.Options{
		Provider: backend.provider,
		Codec:    snapCodec,
		GenStore: backend.gens,
		TTL:      cfg.CacheTTL,
		Logger:   log,
		Hooks:    hooks,
	})
	if err != nil {
		return err
	}
	cl.add(func() error { return store.Close(context.Background()) })

	// worker
	rules := classify.Rules{
		Origin:    upstream.Scheme + "://" + upstream.Host,
		APIPrefix: cfg.APIPrefix,
		Volatile:  cfg.Volatile,
	}
	routes := coordinator.DefaultRoutes()
	setTimeout(routes, coordinator.TagInspections, cfg.DataSyncTimeout)
	setTimeout(routes, coordinator.TagFiles, cfg.FileSyncTimeout)

	registry := clients.NewRegistry()
	registration := worker.NewRegistration(worker.RegistrationOptions{
		WaitForActivation: cfg.WaitForActivation,
		Logger:            log,
	})
	w, err := worker.New(worker.Config{
		Version:  cfg.Version,
		Prefix:   cfg.NamespacePrefix,
		Store:    store,
		Clients:  registry,
		Rules:    rules,
		Precache: precache,
		Routes:   routes,
		Logger:   log,
		Hooks:    hooks,
	})
	if err != nil {
		return err
	}
	rep, err := registration.Register(ctx, w)
	if err != nil {
		return err
	}
	if err := rep.Err(); err != nil {
		log.Warn("activation cleanup incomplete", fieldsync.Fields{"err": err})
	}

	sched, err := coordinator.NewScheduler(coordinator.SchedulerOptions{
		Syncer:      registration,
		MaxAttempts: cfg.SyncMaxAttempts,
		Logger:      log,
	})
	if err != nil {
		return err
	}

	// local foreground context with durable queues
	dataStore, fileStore, err := newQueueStores(cfg, sl, &cl)
	if err != nil {
		return fmt.Errorf("queue backend: %w", err)
	}
	sender := &queue.HTTPSender{BaseURL: cfg.Upstream}
	dataQ, err := queue.New(queue.Options{Name: "inspections", Store: dataStore, Sender: sender, MaxAttempts: cfg.MaxAttempts, Logger: log, Hooks: hooks})
	if err != nil {
		return err
	}
	fileQ, err := queue.New(queue.Options{Name: "files", Store: fileStore, Sender: sender, MaxAttempts: cfg.MaxAttempts, Logger: log, Hooks: hooks})
	if err != nil {
		return err
	}
	local, err := foreground.New(foreground.Options{
		ID:      localClientID,
		Data:    dataQ,
		Files:   fileQ,
		Live:    sender,
		Signals: sched,
		Worker:  registration,
		Logger:  log,
	})
	if err != nil {
		return err
	}
	cl.add(local.Close)
	if err := registry.Add(local); err != nil {
		return err
	}
	// queued work from a previous run
	for kind, q := range map[foreground.Kind]*queue.Queue{foreground.Data: dataQ, foreground.File: fileQ} {
		if n, _ := q.Len(ctx); n > 0 {
			sched.Register(kind.Tag())
		}
	}

	wsSrv, err := ws.NewServer(ws.ServerOptions{
		Clients:        registry,
		Worker:         registration,
		OriginPatterns: cfg.AllowedOrigins,
		Logger:         log,
	})
	if err != nil {
		return err
	}

	ctl := &control{
		reg:     registration,
		sched:   sched,
		local:   local,
		data:    dataQ,
		files:   fileQ,
		clients: registry,
		cache:   backend.provider,
		tags:    w.Coordinator().Tags(),
		ws:      wsSrv,
		metrics: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		log:     log,
	}

	proxy := httputil.NewSingleHostReverseProxy(upstream)
	proxy.Transport = registration
	proxy.ErrorHandler = func(rw http.ResponseWriter, r *http.Request, err error) {
		log.Warn("upstream unavailable", fieldsync.Fields{"path": r.URL.Path, "err": err})
		rw.WriteHeader(http.StatusBadGateway)
	}

	proxySrv := &http.Server{Addr: cfg.Listen, Handler: proxy, ReadHeaderTimeout: readHeaderTimeout}
	ctlSrv := &http.Server{Addr: cfg.ControlListen, Handler: ctl.routes(), ReadHeaderTimeout: readHeaderTimeout}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return local.Run(gctx) })
	g.Go(func() error { return sched.Run(gctx) })
	g.Go(func() error { return listen(proxySrv) })
	g.Go(func() error { return listen(ctlSrv) })
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return errors.Join(proxySrv.Shutdown(sctx), ctlSrv.Shutdown(sctx))
	})

	log.Info("serving", fieldsync.Fields{
		"proxy":    cfg.Listen,
		"control":  cfg.ControlListen,
		"upstream": cfg.Upstream,
		"version":  cfg.Version,
		"cache":    cfg.CacheBackend,
		"queue":    cfg.QueueBackend,
	})
	err = g.Wait()
	if active := registration.Active(); active != nil {
		active.Wait()
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func listen(s *http.Server) error {
	if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func setTimeout(routes map[string]coordinator.Route, tag string, d time.Duration) {
	r := routes[tag]
	r.Timeout = d
	routes[tag] = r
}
