package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	accountapp "github.com/nearloop/backend/applications/account"
	"github.com/nearloop/backend/applications/adminnotify"
	"github.com/nearloop/backend/applications/content"
	"github.com/nearloop/backend/applications/eventbus"
	"github.com/nearloop/backend/applications/httpapi"
	interactionapp "github.com/nearloop/backend/applications/interaction"
	"github.com/nearloop/backend/applications/messaging"
	"github.com/nearloop/backend/applications/profile"
	"github.com/nearloop/backend/applications/push"
	"github.com/nearloop/backend/applications/scheduler"
	"github.com/nearloop/backend/applications/system"
	"github.com/nearloop/backend/infrastructure/accountcache"
	"github.com/nearloop/backend/infrastructure/crypto"
	"github.com/nearloop/backend/infrastructure/geoindex"
	"github.com/nearloop/backend/infrastructure/logging"
	"github.com/nearloop/backend/infrastructure/metrics"
	"github.com/nearloop/backend/infrastructure/middleware"
	"github.com/nearloop/backend/infrastructure/sqlitedb"
	"github.com/nearloop/backend/internal/config"
	"github.com/nearloop/backend/internal/imageworker"
	"github.com/nearloop/backend/internal/store/sqlite"
)

const serviceName = "nearloop-backend"

func main() {
	addr := flag.String("addr", "", "HTTP listen address (defaults to config or :8080)")
	configPath := flag.String("config", "", "path to configuration file (JSON or YAML)")
	dataDir := flag.String("data-dir", "", "SQLite data directory (overrides config/env)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	if trimmed := strings.TrimSpace(*dataDir); trimmed != "" {
		cfg.Storage.DataDir = trimmed
	}
	if trimmed := strings.TrimSpace(*addr); trimmed != "" {
		if host, port, ok := splitHostPort(trimmed); ok {
			cfg.Server.Host = host
			cfg.Server.Port = port
		}
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(serviceName, cfg.Logging.Level, cfg.Logging.Format)
	promMetrics := metrics.New(serviceName)

	app, err := buildApp(cfg, logger)
	if err != nil {
		logger.Fatalf("build app: %v", err)
	}
	defer app.db.Close()

	router := buildRouter(cfg, logger, promMetrics)
	router.PathPrefix("/").Handler(app.apiRouter)

	mgr := system.NewManager()
	srv := newHTTPServer(cfg.Server.Addr(), router, logger)
	if err := mgr.Register(srv); err != nil {
		logger.Fatalf("register http server: %v", err)
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Background single-writer loops subscribe to the same broadcast
	// shutdown signal as the HTTP server (spec.md §5), so they are
	// started directly rather than through system.Manager.
	if app.pushEngine != nil {
		go app.pushEngine.Run(rootCtx)
	}
	go app.adminNotify.Run(rootCtx)
	if app.scheduler != nil {
		go app.scheduler.Run(rootCtx)
	}

	if err := mgr.Start(rootCtx); err != nil {
		logger.Fatalf("start services: %v", err)
	}
	logger.Infof("listening on %s", cfg.Server.Addr())

	<-rootCtx.Done()
	app.hub.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := mgr.Stop(shutdownCtx); err != nil {
		logger.Errorf("shutdown: %v", err)
		os.Exit(1)
	}
}

// app bundles everything buildApp wires up that main needs after
// construction: the storage handle to close on exit, the background
// loops to start, and the finished HTTP surface to mount.
type app struct {
	db          *sqlitedb.DB
	apiRouter   *mux.Router
	hub         *eventbus.Hub
	pushEngine  *push.Engine
	adminNotify *adminnotify.Manager
	scheduler   *scheduler.Scheduler
}

// fanoutPublisher delivers an event to every one of its targets. Each
// target (Hub, adminnotify.Manager) understands only the event types it
// cares about and drops the rest, so a plain fan-out composes them
// without either depending on the other.
type fanoutPublisher struct {
	targets []interface{ Publish(event interface{}) }
}

func (f fanoutPublisher) Publish(event interface{}) {
	for _, t := range f.targets {
		t.Publish(event)
	}
}

// buildApp constructs every storage handle, engine, and background loop
// the server needs from cfg, wiring C1-C9 together the way spec.md §2's
// component diagram lays them out.
func buildApp(cfg *config.Config, logger *logging.Logger) (*app, error) {
	db, err := sqlitedb.Open(sqlitedb.Options{
		DataDir:      cfg.Storage.DataDir,
		BusyTimeout:  time.Duration(cfg.Storage.BusyTimeoutMS) * time.Millisecond,
		Replicated:   cfg.Storage.UsesReplication(),
		MaxOpenConns: cfg.Storage.MaxOpenConns,
		InMemory:     cfg.Storage.InMemory,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate storage: %w", err)
	}

	if !cfg.Storage.InMemory {
		if err := clearAccountTmpDirs(cfg.Storage.DataDir); err != nil {
			logger.Warn(context.Background(), "clearing account tmp dirs failed", map[string]interface{}{"error": err.Error()})
		}
	}

	s := sqlite.New(db.Current, db.Write)
	history := sqlite.NewHistoryStore(db.History)
	cache := accountcache.New(accountcache.Stores{Accounts: s, Profiles: s})

	signingKeyPath := strings.TrimSpace(cfg.Security.MessagingSigningKeyPath)
	if signingKeyPath == "" {
		signingKeyPath = filepath.Join(cfg.Storage.DataDir, "messaging_signing_key.pem")
	}
	signingKey, err := crypto.LoadOrCreateKeyPair(signingKeyPath)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("load messaging signing key: %w", err)
	}

	var sender push.Sender
	if path := strings.TrimSpace(cfg.Push.FCMServiceAccountPath); path != "" {
		fcm, err := push.NewFCMSender(path)
		if err != nil {
			logger.Warn(context.Background(), "fcm sender unavailable, push notifications disabled", map[string]interface{}{"error": err.Error()})
		} else {
			sender = fcm
		}
	}
	var pushEngine *push.Engine
	if sender != nil {
		pushEngine = push.New(cache, sender, logger, 0)
	}

	hub := eventbus.New(cache, s, pushEngine, logger)
	adminMgr := adminnotify.New(adminnotify.Deps{
		Moderation: s,
		Reports:    s,
		Cache:      cache,
		Publisher:  hub,
		Log:        logger,
	}, 0)
	pub := fanoutPublisher{targets: []interface{ Publish(event interface{}) }{hub, adminMgr}}

	var worker *imageworker.Client
	if cmd := strings.TrimSpace(cfg.Moderation.ImageWorkerCommand); cmd != "" {
		worker = imageworker.New(cmd, cfg.Moderation.ImageWorkerArgs, logger)
	}

	contentEngine := content.New(s, s, s, cache, worker, pub, logger, cfg.Storage.DataDir)
	geo := geoindex.New()
	profileEngine := profile.New(cache, geo, logger, pub, cfg.Location.WriteSemaphoreSize)
	interactionEngine := interactionapp.New(s, s, cache, pub)
	messagingEngine := messaging.New(s, cache, pub, signingKey)
	accountEngine := accountapp.New(s, cache)

	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched, err = scheduler.New(scheduler.Deps{
			Accounts: s,
			Profiles: s,
			History:  history,
			Cache:    cache,
			Search:   profileEngine,
			Log:      logger,
		}, scheduler.Options{
			DailyWakeUp:              cfg.Scheduler.DailyWakeUp,
			AutomaticSearchWaveEnd:   cfg.Scheduler.AutomaticSearchWaveEnd,
			AutomaticSearchBatchSize: cfg.Scheduler.AutomaticSearchBatchSize,
			DataExportRetention:      cfg.Scheduler.DataExportRetention,
			DataDir:                  cfg.Storage.DataDir,
		})
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("build scheduler: %w", err)
		}
	}

	apiRouter := httpapi.NewRouter(httpapi.Deps{
		Accounts:          accountEngine,
		Profiles:          profileEngine,
		Content:           contentEngine,
		Messages:          messagingEngine,
		InteractionEngine: interactionEngine,
		Hub:               hub,
		AccountStore:      s,
		ProfileStore:      s,
		Interactions:      s,
		Cache:             cache,
		Log:               logger,
	})

	return &app{
		db:          db,
		apiRouter:   apiRouter,
		hub:         hub,
		pushEngine:  pushEngine,
		adminNotify: adminMgr,
		scheduler:   sched,
	}, nil
}

// clearAccountTmpDirs removes every account's tmp upload staging dir
// under dataDir on startup (spec.md §6: "account-specific tmp cleared on
// start"), since a crash mid-upload can leave a partial file behind that
// the process should never try to resume.
func clearAccountTmpDirs(dataDir string) error {
	entries, err := os.ReadDir(dataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		tmpDir := filepath.Join(dataDir, entry.Name(), "tmp")
		if _, err := os.Stat(tmpDir); err == nil {
			if err := os.RemoveAll(tmpDir); err != nil {
				return fmt.Errorf("remove %s: %w", tmpDir, err)
			}
		}
	}
	return nil
}

// buildRouter wires the ambient middleware chain shared by every HTTP
// surface; the application routes themselves (C4-C9) are mounted by the
// caller via apiRouter.
func buildRouter(cfg *config.Config, logger *logging.Logger, m *metrics.Metrics) *mux.Router {
	router := mux.NewRouter()

	router.Use(middleware.NewRecoveryMiddleware(logger).Handler)
	router.Use(middleware.LoggingMiddleware(logger))
	router.Use(middleware.NewTracingMiddleware(logger).Handler)
	router.Use(middleware.MetricsMiddleware(serviceName, m))
	router.Use(middleware.NewSecurityHeadersMiddleware(middleware.DefaultSecurityHeaders()).Handler)
	router.Use(middleware.NewBodyLimitMiddleware(10 << 20).Handler)

	if cfg.Security.RateLimitEnabled {
		rlCfg := middleware.DefaultRateLimiterConfig(logger)
		rlCfg.RequestsPerSecond = cfg.Security.RateLimitRequests
		rlCfg.Window = cfg.Security.RateLimitWindow
		router.Use(middleware.NewRateLimiterFromConfig(rlCfg).Handler)
	}

	router.Use(middleware.NewCORSMiddleware(&middleware.CORSConfig{
		AllowedOrigins: cfg.Security.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	}).Handler)

	checker := middleware.NewHealthChecker(serviceName)
	router.HandleFunc("/health", checker.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/health/live", middleware.LivenessHandler()).Methods(http.MethodGet)

	return router
}

type httpServer struct {
	server *http.Server
	logger *logging.Logger
}

func newHTTPServer(addr string, handler http.Handler, logger *logging.Logger) *httpServer {
	return &httpServer{
		server: &http.Server{
			Addr:         addr,
			Handler:      handler,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

func (s *httpServer) Name() string { return "http-server" }

func (s *httpServer) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.server.Addr, err)
	}
	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Errorf("http server: %v", err)
		}
	}()
	return nil
}

func (s *httpServer) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// loadConfig resolves the file tier of the three-tier precedence (file,
// then environment, then the CLI flags applied by the caller after this
// returns).
func loadConfig(path string) (*config.Config, error) {
	if trimmed := strings.TrimSpace(path); trimmed != "" {
		return config.LoadFile(trimmed)
	}
	return config.Load()
}

func splitHostPort(addr string) (host string, port int, ok bool) {
	idx := strings.LastIndex(addr, ":")
	if idx < 0 {
		return "", 0, false
	}
	host = addr[:idx]
	p, err := strconv.Atoi(addr[idx+1:])
	if err != nil {
		return "", 0, false
	}
	return host, p, true
}
