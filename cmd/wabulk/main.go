package main

import (
	"database/sql"
	"log"
	"log/slog"
	"net/http"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/rsharma-dev/wabulk/internal/api"
	"github.com/rsharma-dev/wabulk/internal/cache"
	"github.com/rsharma-dev/wabulk/internal/config"
	"github.com/rsharma-dev/wabulk/internal/dispatch"
	"github.com/rsharma-dev/wabulk/internal/media"
	"github.com/rsharma-dev/wabulk/internal/model"
	"github.com/rsharma-dev/wabulk/internal/report"
	"github.com/rsharma-dev/wabulk/internal/source"
	"github.com/rsharma-dev/wabulk/internal/store"
	"github.com/rsharma-dev/wabulk/internal/webhook"
	"github.com/rsharma-dev/wabulk/internal/whatsapp"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadAll()
	if err != nil {
		log.Fatal(err)
	}

	db, err := sql.Open("pgx", cfg.Database.PostgresURL)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	jobs := store.NewPostgresJobStore(db)
	messages := store.NewPostgresMessageLog(db)
	outcomes := store.NewPostgresOutcomeStore(db)

	var events cache.EventCache
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		events = cache.NewRedisCache(rdb, cfg.Redis.TTL)
	}

	client := whatsapp.NewClient(whatsapp.Config{
		AccessToken:      cfg.WhatsApp.AccessToken,
		PhoneNumberID:    cfg.WhatsApp.PhoneNumberID,
		APIVersion:       cfg.WhatsApp.APIVersion,
		TemplateLanguage: cfg.WhatsApp.TemplateLanguage,
		Timeout:          cfg.WhatsApp.Timeout,
	})

	if err := os.MkdirAll(cfg.Storage.UploadDir, 0o755); err != nil {
		log.Fatalf("create upload dir: %v", err)
	}
	files, err := media.NewDiskStore(cfg.Storage.MediaDir)
	if err != nil {
		log.Fatalf("create media store: %v", err)
	}

	loadRecipients := func(path string) ([]model.Recipient, error) {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return source.Load(f)
	}

	dispatcher, err := dispatch.NewDispatcher(jobs, messages, outcomes, client, loadRecipients, dispatch.Config{
		MaxAttempts: cfg.Dispatch.MaxAttempts,
		BackoffBase: cfg.Dispatch.BackoffBase,
		BackoffCap:  cfg.Dispatch.BackoffCap,
	})
	if err != nil {
		log.Fatalf("create dispatcher: %v", err)
	}

	runner, err := dispatch.NewRunner(dispatcher.Run)
	if err != nil {
		log.Fatalf("create runner: %v", err)
	}

	normalizer := webhook.NewNormalizer(messages, client, files, events)
	reports := report.NewBuilder(outcomes)

	handler := api.NewHandler(jobs, messages, reports, runner, client, normalizer,
		cfg.WhatsApp.VerifyToken, cfg.Storage.UploadDir)

	srv := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           loggingMiddleware(api.Router(handler)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("wabulk starting", "addr", cfg.Server.Address, "redis", cfg.Redis.Enabled)
	if err := srv.ListenAndServe(); err != nil {
		log.Fatal(err)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(rec, r)

		slog.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start).String(),
		)
	})
}
