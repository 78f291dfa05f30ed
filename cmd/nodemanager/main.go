// Command nodemanager is the sibling process described by spec.md §4.9:
// it mounts the encrypted data volume before the backend is allowed to
// start, accepts restart/data-reset commands over a small local admin
// API, and can drive either side of a source/target backup link.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nearloop/backend/infrastructure/logging"
	"github.com/nearloop/backend/infrastructure/security"
	"github.com/nearloop/backend/infrastructure/sqlitedb"
	"github.com/nearloop/backend/internal/config"
	"github.com/nearloop/backend/internal/nodemanager"
	"github.com/nearloop/backend/internal/nodemanager/backuplink"
	"github.com/nearloop/backend/internal/store/sqlite"
)

const serviceName = "nearloop-nodemanager"

func main() {
	configPath := flag.String("config", "", "path to configuration file (JSON or YAML)")
	role := flag.String("backup-role", "", "if set to \"source\" or \"target\", dial/listen for one backup-link session and exit")
	peer := flag.String("backup-peer", "", "address to dial when -backup-role=source")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(serviceName, cfg.Logging.Level, cfg.Logging.Format)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch strings.ToLower(strings.TrimSpace(*role)) {
	case "source":
		if err := runBackupSource(ctx, cfg, *peer); err != nil {
			logger.Fatalf("backup source session failed: %v", err)
		}
		return
	case "target":
		if err := runBackupTarget(ctx, cfg); err != nil {
			logger.Fatalf("backup target session failed: %v", err)
		}
		return
	case "":
		// fall through to the long-running daemon below
	default:
		fmt.Fprintf(os.Stderr, "unknown -backup-role %q, want \"source\" or \"target\"\n", *role)
		os.Exit(1)
	}

	if err := runDaemon(ctx, cfg, logger); err != nil {
		logger.Fatalf("nodemanager exited: %v", err)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if trimmed := strings.TrimSpace(path); trimmed != "" {
		return config.LoadFile(trimmed)
	}
	return config.Load()
}

// runDaemon mounts the encrypted volume, then serves the task manager
// (restart/data-reset) and a local admin API until ctx is cancelled
// (spec.md §5: the node manager "subscribe[s] to a broadcast shutdown").
func runDaemon(ctx context.Context, cfg *config.Config, logger *logging.Logger) error {
	mgr := buildMountManager(cfg, logger)

	vol := nodemanager.VolumeConfig{
		Dir:        cfg.NodeManager.EncryptedVolumePath,
		Script:     cfg.NodeManager.MountScript,
		DefaultKey: cfg.NodeManager.DefaultMountKey,
	}
	if vol.Dir != "" {
		if err := nodemanager.CheckDiskSpace(ctx, cfg.Storage.DataDir); err != nil {
			logger.Warn(ctx, "disk space check failed before mount", map[string]interface{}{"error": err.Error()})
		}
		if err := mgr.MountIfNeeded(ctx, vol); err != nil {
			return fmt.Errorf("mount encrypted volume: %w", err)
		}
		logger.Infof("encrypted volume mounted: mode=%s", mgr.Mode())
	}

	tasks := nodemanager.NewTaskManager(nodemanager.TaskManagerDeps{
		Controller:     nodemanager.BackendController{ServiceName: cfg.NodeManager.BackendServiceName},
		DataDir:        cfg.Storage.DataDir,
		AllowDataReset: cfg.NodeManager.AllowBackendDataReset,
		Log:            logger,
	})
	go tasks.Run(ctx)

	replay := security.NewReplayProtection(5*time.Minute, logger)
	srv := &http.Server{Addr: cfg.NodeManager.AdminAddr, Handler: buildAdminRouter(mgr, tasks, replay)}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Infof("admin api listening on %s", cfg.NodeManager.AdminAddr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func buildMountManager(cfg *config.Config, logger *logging.Logger) *nodemanager.Manager {
	var remote nodemanager.KeyFetcher
	if cfg.NodeManager.KeyVaultURL != "" {
		fetcher, err := nodemanager.NewAzureKeyVaultFetcher(cfg.NodeManager.KeyVaultURL, cfg.NodeManager.KeyVaultSecretName)
		if err != nil {
			logger.Warn(context.Background(), "azure key vault fetcher unavailable", map[string]interface{}{"error": err.Error()})
		} else {
			remote = fetcher
		}
	}

	var local nodemanager.KeyFetcher
	if cfg.NodeManager.LocalKeyFallbackPath != "" {
		local = nodemanager.LocalFileFetcher{Path: cfg.NodeManager.LocalKeyFallbackPath}
	}

	return nodemanager.NewManager(cfg.IsProduction(), remote, local, logger)
}

// buildAdminRouter exposes mount status and a manual restart/reset
// trigger, the lightweight local control surface SPEC_FULL.md assigns
// chi to (kept separate from the backend's own gorilla/mux-based API).
// replay rejects a restart/reset request whose X-Request-Id has already
// been seen within its window, so a retried HTTP call (timeout + resend)
// can't trigger CommandDataReset twice.
func buildAdminRouter(mgr *nodemanager.Manager, tasks *nodemanager.TaskManager, replay *security.ReplayProtection) http.Handler {
	r := chi.NewRouter()

	r.Get("/mount/status", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"mode":%q}`, mgr.Mode())
	})

	r.Post("/backend/restart", func(w http.ResponseWriter, req *http.Request) {
		if !checkNotReplayed(w, req, replay) {
			return
		}
		if err := tasks.Send(req.Context(), nodemanager.CommandRestart); err != nil {
			http.Error(w, security.SanitizeError(err), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	})

	r.Post("/backend/reset", func(w http.ResponseWriter, req *http.Request) {
		if !checkNotReplayed(w, req, replay) {
			return
		}
		if err := tasks.Send(req.Context(), nodemanager.CommandDataReset); err != nil {
			http.Error(w, security.SanitizeError(err), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	})

	return r
}

// checkNotReplayed requires an X-Request-Id header on a restart/reset
// call and rejects it with 409 if that id was already used within
// replay's window; it writes the response itself on rejection.
func checkNotReplayed(w http.ResponseWriter, req *http.Request, replay *security.ReplayProtection) bool {
	id := req.Header.Get("X-Request-Id")
	if id == "" {
		http.Error(w, "X-Request-Id header is required", http.StatusBadRequest)
		return false
	}
	if !replay.ValidateAndMark(id) {
		http.Error(w, "duplicate request", http.StatusConflict)
		return false
	}
	return true
}

// runBackupSource dials peer and streams this node's content manifest
// as the source side of a backup link (spec.md §6).
func runBackupSource(ctx context.Context, cfg *config.Config, peer string) error {
	if strings.TrimSpace(peer) == "" {
		return fmt.Errorf("nodemanager: -backup-peer is required with -backup-role=source")
	}
	if err := nodemanager.CheckDiskSpace(ctx, cfg.Storage.DataDir); err != nil {
		return err
	}

	conn, err := net.Dial("tcp", peer)
	if err != nil {
		return fmt.Errorf("nodemanager: dial backup peer %s: %w", peer, err)
	}
	defer conn.Close()

	db, err := openStoreForBackup(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	s := sqlite.New(db.Current, db.Write)
	accounts, err := s.ListAccounts(ctx)
	if err != nil {
		return fmt.Errorf("nodemanager: list accounts: %w", err)
	}
	accountIDs := make([]string, len(accounts))
	for i, a := range accounts {
		accountIDs[i] = a.ID
	}

	manifest, err := backuplink.BuildManifest(ctx, s, accountIDs)
	if err != nil {
		return err
	}

	src := backuplink.Source{DataDir: cfg.Storage.DataDir}
	return src.RunSession(ctx, conn, 1, manifest)
}

// runBackupTarget listens for one backup-link connection and drives the
// target side until the source's manifest sync completes.
func runBackupTarget(ctx context.Context, cfg *config.Config) error {
	if err := nodemanager.CheckDiskSpace(ctx, cfg.Storage.DataDir); err != nil {
		return err
	}

	ln, err := net.Listen("tcp", cfg.NodeManager.ListenAddr)
	if err != nil {
		return fmt.Errorf("nodemanager: listen %s: %w", cfg.NodeManager.ListenAddr, err)
	}
	defer ln.Close()

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	conn, err := ln.Accept()
	if err != nil {
		return fmt.Errorf("nodemanager: accept backup connection: %w", err)
	}
	defer conn.Close()

	tgt := backuplink.Target{DataDir: cfg.Storage.DataDir}
	return tgt.RunSession(ctx, conn)
}

// openStoreForBackup opens the backend's current.db read/write handles
// read-only from this sibling process's point of view (the backend
// itself owns writes during normal operation).
func openStoreForBackup(cfg *config.Config) (*sqlitedb.DB, error) {
	return sqlitedb.Open(sqlitedb.Options{
		DataDir:      cfg.Storage.DataDir,
		BusyTimeout:  5 * time.Second,
		MaxOpenConns: cfg.Storage.MaxOpenConns,
	}, nil)
}
