// Command shorts-tender runs the Telegram-to-YouTube Shorts bot.
// It:
//   - Loads configuration and initializes structured logging and tracing.
//   - Optionally connects to Postgres, runs migrations and keeps the Google
//     token, claims and pending sessions there.
//   - Stages videos received over Telegram in a Google Drive vault.
//   - Publishes one random staged video per day inside the configured window,
//     and on demand via chat command, cron trigger or admin endpoint.
//   - Exposes /healthz, /readyz, /metrics, the webhook and admin endpoints.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
	_ "time/tzdata"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/onnwee/shorts-tender/config"
	"github.com/onnwee/shorts-tender/crypto"
	"github.com/onnwee/shorts-tender/db"
	"github.com/onnwee/shorts-tender/driveapi"
	"github.com/onnwee/shorts-tender/googleauth"
	"github.com/onnwee/shorts-tender/media"
	"github.com/onnwee/shorts-tender/oauth"
	"github.com/onnwee/shorts-tender/publish"
	"github.com/onnwee/shorts-tender/server"
	"github.com/onnwee/shorts-tender/session"
	"github.com/onnwee/shorts-tender/telegram"
	"github.com/onnwee/shorts-tender/telemetry"
	"github.com/onnwee/shorts-tender/youtubeapi"
)

var version = "dev"

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load(".env")

	setupLogging()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("config invalid", slog.Any("err", err))
		os.Exit(1)
	}

	telemetry.Init()
	// Tracing is a no-op unless OTEL_EXPORTER_OTLP_ENDPOINT is set.
	shutdown, err := telemetry.InitTracing("shorts-tender", version)
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if os.Getenv("ENABLE_PPROF") == "1" {
		go startPprof()
	}

	if err := run(ctx, cfg); err != nil {
		slog.Error("startup failed", slog.Any("err", err))
		stop()
		shutdown()
		os.Exit(1)
	}
	slog.Info("shutting down")
}

func setupLogging() {
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		format = "text"
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", format))
}

// startPprof serves /debug/pprof from the default mux on PPROF_ADDR.
func startPprof() {
	addr := os.Getenv("PPROF_ADDR")
	if addr == "" {
		addr = "localhost:6060"
	}
	slog.Info("pprof profiling enabled", slog.String("addr", addr))
	srv := &http.Server{
		Addr:              addr,
		Handler:           nil, // default mux exposes /debug/pprof
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil {
		slog.Error("pprof server error", slog.Any("err", err))
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	var sealer *crypto.Sealer
	if cfg.EncryptionKey != "" {
		s, err := crypto.NewSealer(cfg.EncryptionKey)
		if err != nil {
			return fmt.Errorf("ENCRYPTION_KEY: %w", err)
		}
		sealer = s
	}

	var database *sql.DB
	if cfg.DBDsn != "" {
		dbc, err := db.Connect(ctx, cfg.DBDsn)
		if err != nil {
			return err
		}
		defer func() {
			if err := dbc.Close(); err != nil {
				slog.Error("failed to close database", slog.Any("err", err))
			}
		}()
		slog.Info("running database migrations", slog.String("component", "db_migrate"))
		if err := db.RunMigrations(dbc); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		if sealer == nil {
			slog.Warn("ENCRYPTION_KEY not set; the Google refresh token is stored in plaintext")
		}
		database = dbc
	} else {
		slog.Info("DB_DSN not set; running without persistence")
	}

	// Google credentials shared by Drive and YouTube.
	var tokenStore oauth.Store
	if database != nil {
		tokenStore = &db.TokenStore{DB: database, Sealer: sealer}
	}
	oauthConf := googleauth.NewConfig(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleRedirectURI, cfg.GoogleScopes)
	source, err := googleauth.NewSource(ctx, oauthConf, tokenStore, cfg.GoogleRefreshToken)
	if err != nil {
		return err
	}
	if err := source.Seed(ctx); err != nil {
		slog.Warn("persist google token failed", slog.Any("err", err))
	}
	if tokenStore != nil {
		oauth.StartRefresher(ctx, tokenStore, googleauth.Provider, 10*time.Minute, 20*time.Minute, source.Refresh)
	}
	googleClient := source.Client(ctx)

	vault, err := driveapi.New(ctx, googleClient, cfg.VaultFolder, cfg.LogFolder)
	if err != nil {
		return err
	}
	prepCtx, cancel := context.WithTimeout(ctx, cfg.StagingTimeout)
	if err := vault.Prepare(prepCtx); err != nil {
		// not fatal: folders are resolved again on first use
		slog.Warn("drive folders not ready", slog.Any("err", err))
	}
	cancel()
	target, err := youtubeapi.New(ctx, googleClient)
	if err != nil {
		return err
	}

	trimmer := media.NewTrimmer(cfg.FFmpegPath, cfg.TrimSeconds)
	var transformer publish.Transformer = trimmer
	if err := trimmer.Available(); err != nil {
		slog.Warn("trimming disabled", slog.Any("err", err))
		transformer = nil
	}

	claims, err := newClaimStore(ctx, cfg, database)
	if err != nil {
		return err
	}
	sessions := newSessionStore(cfg, database, sealer)
	go session.StartSweeper(ctx, sessions, 10*time.Minute)

	api, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	slog.Info("telegram bot authorized", slog.String("bot", api.Self.UserName))

	var workflow *publish.Workflow
	publishLog := vault.Log()
	sched := &publish.Scheduler{
		Log:             publishLog,
		Location:        cfg.Location,
		Window:          publish.Window{StartHour: cfg.WindowStartHour, EndHour: cfg.WindowEndHour},
		SlotProbability: cfg.SlotProbability,
		Interval:        cfg.SchedulerInterval,
	}
	status := func(ctx context.Context) (publish.Status, error) { return sched.Status(ctx, vault) }

	bot := telegram.New(ctx, telegram.Deps{
		API:       api,
		Vault:     vault,
		Sessions:  sessions,
		Trimmer:   transformer,
		Publisher: telegram.PublisherFunc(func(ctx context.Context, chatID int64) publish.Attempt { return workflow.PublishNow(ctx, chatID) }),
		Status:    status,
	}, telegram.Options{
		Allowed:         cfg.ChatAllowed,
		DataDir:         cfg.DataDir,
		MaxIngestBytes:  cfg.MaxIngestBytes,
		DefaultHashtags: cfg.DefaultHashtags,
		IngestTimeout:   cfg.UploadTimeout,
	})

	workflow = publish.NewWorkflow(publish.Deps{
		Staging:     vault,
		Target:      target,
		Log:         publishLog,
		Claims:      claims,
		Notifier:    bot,
		Transformer: transformer,
	}, publish.Options{
		MarkerTag:        cfg.MarkerTag,
		DefaultHashtags:  cfg.DefaultHashtags,
		PromoSuffix:      cfg.PromoSuffix,
		Tags:             cfg.VideoTags,
		CategoryID:       cfg.VideoCategory,
		Privacy:          cfg.Privacy,
		PublishAtDelay:   cfg.PublishAtDelay,
		ClaimTTL:         cfg.ClaimTTL,
		StagingTimeout:   cfg.StagingTimeout,
		UploadTimeout:    cfg.UploadTimeout,
		TransformTimeout: cfg.TransformTimeout,
		TempDir:          cfg.DataDir,
		Retries:          cfg.PublishRetries,
		RetryDelay:       cfg.RetryDelay,
		OperatorChatID:   cfg.OperatorChatID,
	})
	sched.Runner = workflow
	if database != nil {
		sched.Heartbeat = func(ctx context.Context) { db.TouchJob(ctx, database, db.KeySchedulerTick) }
	}
	go sched.StartSchedulerJob(ctx)

	if cfg.PublicURL != "" {
		if err := bot.RegisterWebhook(cfg.PublicURL, cfg.WebhookPath()); err != nil {
			return err
		}
		slog.Info("telegram webhook registered", slog.String("url", cfg.PublicURL+"/telegram/{token}"))
	} else {
		go func() {
			if err := bot.Poll(ctx, api); err != nil {
				slog.Error("telegram polling stopped", slog.Any("err", err))
			}
		}()
	}

	handler := server.NewMux(ctx, server.Deps{
		DB:            database,
		Webhook:       bot,
		WebhookPath:   cfg.WebhookPath(),
		TriggerSecret: cfg.TriggerSecret,
		Trigger:       sched.ForceWindow,
		Publish:       workflow.PublishNow,
		Status:        status,
		Credentials: func(context.Context) error {
			_, err := source.Token()
			return err
		},
		OperatorChatID: cfg.OperatorChatID,
	})
	err = server.Start(ctx, cfg.HTTPAddr, handler)
	bot.Wait()
	return err
}

func newClaimStore(ctx context.Context, cfg *config.Config, database *sql.DB) (publish.ClaimStore, error) {
	switch cfg.ClaimBackend {
	case "postgres":
		return &publish.PGClaims{DB: database}, nil
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			return nil, fmt.Errorf("redis %s: %w", cfg.RedisAddr, err)
		}
		return publish.NewRedisClaims(client), nil
	default:
		return publish.NewMemoryClaims(), nil
	}
}

func newSessionStore(cfg *config.Config, database *sql.DB, sealer *crypto.Sealer) session.Store {
	if cfg.SessionBackend == "postgres" {
		return &session.PGStore{DB: database, Sealer: sealer, TTL: cfg.SessionTTL}
	}
	return session.NewMemoryStore(cfg.SessionTTL)
}
