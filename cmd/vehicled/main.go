// Command vehicled is the reference embedding of vehiclecore: it loads
// configuration, opens a local SQLite-backed audit ledger (the same
// single-process embed shape as the teacher's control-plane aggregator),
// logs in, starts the MQTT push listener in the background, and serves
// a small status surface over plain net/http, matching the teacher's own
// cmd/-level service wiring rather than introducing a new one.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/Ap3pp3rs94/vehiclecore"
	"github.com/Ap3pp3rs94/vehiclecore/internal/audit"
	"github.com/Ap3pp3rs94/vehiclecore/internal/command"
	vconfig "github.com/Ap3pp3rs94/vehiclecore/internal/config"
	verrors "github.com/Ap3pp3rs94/vehiclecore/pkg/errors"
	"github.com/Ap3pp3rs94/vehiclecore/pkg/telemetry"
)

const defaultDBPath = "./vehicled.db"

func main() {
	log := telemetry.NewDefaultLogger(os.Stdout, "vehicled")
	ctx := context.Background()

	cfg, err := vconfig.Load(ctx, vconfig.Options{
		Root:   envOr("VEHICLED_CONFIG_ROOT", "."),
		Env:    envOr("VEHICLED_ENV", "production"),
		Tenant: envOr("VEHICLED_TENANT", "default"),
	})
	if err != nil {
		log.Error(ctx, "vehicled: config load failed", map[string]any{"error": err.Error()})
		os.Exit(1)
	}

	store, err := openAuditStore(envOr("VEHICLED_DB_PATH", defaultDBPath))
	if err != nil {
		log.Error(ctx, "vehicled: audit store open failed", map[string]any{"error": err.Error()})
		os.Exit(1)
	}

	core, err := vehiclecore.New(envOr("VEHICLED_TENANT", "default"), vehiclecore.Options{
		Config:     cfg,
		Log:        log,
		Meter:      telemetry.NopMeter{},
		AuditStore: store,
		AuditDLQ:   store,
		AuditCases: store,
		Profile:    command.ProfileName(envOr("VEHICLED_PROFILE", string(command.ProfileBasicControl))),
	})
	if err != nil {
		log.Error(ctx, "vehicled: core wiring failed", map[string]any{"error": err.Error()})
		os.Exit(1)
	}

	if err := core.Login(ctx); err != nil {
		log.Error(ctx, "vehicled: login failed", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
	log.Info(ctx, "vehicled: logged in", nil)

	pushCtx, stopPush := context.WithCancel(ctx)
	defer stopPush()
	go func() {
		if err := core.RunPush(pushCtx); err != nil && pushCtx.Err() == nil {
			log.Warn(ctx, "vehicled: push listener stopped", map[string]any{"error": err.Error()})
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", handleHealth(core))
	mux.HandleFunc("/vehicles", handleVehicles(core))

	addr := ":" + envOr("VEHICLED_PORT", "8090")
	srv := &http.Server{Addr: addr, Handler: withRequestLogging(log, mux), ReadHeaderTimeout: 10 * time.Second}

	go func() {
		log.Info(ctx, "vehicled: listening", map[string]any{"addr": addr})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error(ctx, "vehicled: listen failed", map[string]any{"error": err.Error()})
			os.Exit(1)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func openAuditStore(path string) (*audit.SQLStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil && filepath.Dir(path) != "." {
		return nil, fmt.Errorf("vehicled: mkdir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=ON", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("vehicled: open db: %w", err)
	}
	db.SetMaxOpenConns(1)

	store, err := audit.NewSQLStore(db, audit.SQLStoreOptions{Dialect: audit.DialectSQLite})
	if err != nil {
		return nil, err
	}
	if err := store.EnsureSchema(context.Background()); err != nil {
		return nil, err
	}
	return store, nil
}

func handleHealth(core *vehiclecore.Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, err := core.Health(r.Context())
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, snap)
	}
}

func handleVehicles(core *vehiclecore.Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vehicles, err := core.Vehicles(r.Context())
		if err != nil {
			env := vehiclecore.Err(err, r.Header.Get("X-Request-Id"), "")
			writeJSON(w, verrors.HTTPStatusFor(env.Error.Code), env)
			return
		}
		writeJSON(w, http.StatusOK, vehicles)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func withRequestLogging(log *telemetry.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Info(r.Context(), "vehicled: request", map[string]any{
			"method": r.Method, "path": r.URL.Path, "duration_ms": time.Since(start).Milliseconds(),
		})
	})
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
