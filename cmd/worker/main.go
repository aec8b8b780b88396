package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/bulkextractor-worker/internal/config"
	"github.com/yourorg/bulkextractor-worker/internal/db"
	"github.com/yourorg/bulkextractor-worker/internal/extractor"
	"github.com/yourorg/bulkextractor-worker/internal/logging"
	s3c "github.com/yourorg/bulkextractor-worker/internal/s3"
	"github.com/yourorg/bulkextractor-worker/internal/worker"
)

func main() {
	// Load environment variables from .env files if present. This helps local dev.
	// Try current directory and one level up (in case run from cmd/worker).
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load(".env")
	_ = godotenv.Load("../.env")

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatal(err)
	}
	log := logging.Setup(cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	store, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal(err)
	}
	defer store.Pool.Close()
	if err := store.Ping(ctx); err != nil {
		log.Fatal(err)
	}
	if err := store.EnsureSchema(ctx); err != nil {
		if isInsufficientPrivilege(err) {
			log.Warnf("ensure schema skipped due insufficient privilege: %v", err)
		} else {
			log.Fatal(err)
		}
	}

	s3, err := s3c.New(cfg.S3Endpoint, cfg.S3AccessKey, cfg.S3SecretKey, cfg.S3UseSSL, cfg.S3Region)
	if err != nil {
		log.Fatal(err)
	}

	// Print extractor version at startup for verification
	if version, err := extractor.New(cfg.ExtractorPath, nil).Version(ctx); err != nil {
		log.Warnf("%s -V failed: %v", cfg.ExtractorPath, err)
	} else {
		log.Infof("extractor: %s", version)
	}

	// healthz: checks DB connectivity with a 2s timeout; returns 503 if unreachable
	if addr := cfg.HTTPAddr; addr != "" {
		go serveHealth(ctx, addr, store, log)
	}

	r := worker.NewRunner(cfg, store, s3)
	log.Infof("worker starting with id=%s concurrency=%d", r.WorkerID(), cfg.WorkerConcurrency)

	r.RecoverStaleJobs(ctx)

	if err := r.RunForever(ctx); err != nil {
		log.Fatal(err)
	}
}

func serveHealth(ctx context.Context, addr string, store *db.Store, log logrus.FieldLogger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		dbCtx, dbCancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer dbCancel()
		w.Header().Set("Content-Type", "application/json")
		if err := store.Ping(dbCtx); err != nil {
			log.Warnf("healthz: db ping failed: %v", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unhealthy","reason":"db unreachable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"healthy"}`))
	})
	s := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Shutdown(shctx)
	}()
	if err := s.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Errorf("health server: %v", err)
	}
}

func isInsufficientPrivilege(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "42501"
}
