package main

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver
	"go.uber.org/zap"

	"xray-bot/api/internal/archive"
	"xray-bot/api/internal/config"
	"xray-bot/api/internal/httpserver"
	"xray-bot/api/internal/inference"
	"xray-bot/api/internal/logger"
	"xray-bot/api/internal/predict"
	"xray-bot/api/internal/session"
	"xray-bot/api/internal/store"
	"xray-bot/api/internal/telegram"
)

func main() {
	cfg, cfgErr := config.Load()

	level := "info"
	if cfg != nil {
		level = cfg.LogLevel
	}
	log, err := logger.New(level)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	if cfgErr != nil {
		log.Fatal("config", zap.Error(cfgErr))
	}
	if cfg.TelegramBotToken == "" {
		log.Fatal("missing required env TELEGRAM_BOT_TOKEN")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := inference.New(inference.Options{
		BaseURL:     cfg.Backend.BaseURL,
		HealthPath:  cfg.Backend.HealthPath,
		BypassName:  cfg.Backend.BypassName,
		BypassValue: cfg.Backend.BypassValue,
		Timeout:     cfg.Backend.Timeout,
	}, log.Named("inference"))
	svc := predict.New(client, log.Named("predict"))

	// --- Postgres (опционально) ---
	var (
		db        *sql.DB
		predRepo  *store.PredictionRepo
		dbChecker func(context.Context) error
	)
	if cfg.DatabaseURL != "" {
		db, err = sql.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			log.Fatal("sql.Open", zap.Error(err))
		}
		defer db.Close()
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(1 * time.Hour)

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := db.PingContext(pingCtx); err != nil {
			cancel()
			log.Fatal("db.Ping", zap.Error(err))
		}
		cancel()
		log.Info("db connected", zap.String("dsn", config.SafeDSNSummary(cfg.DatabaseURL)))

		predRepo = store.NewPredictionRepo(db)
		if err := predRepo.EnsureSchema(ctx); err != nil {
			log.Fatal("db schema", zap.Error(err))
		}
		svc.History = predRepo
		dbChecker = db.PingContext
		go runRetention(ctx, predRepo, cfg.HistoryRetention, time.Hour, log.Named("retention"))
	}

	// --- S3 (опционально) ---
	if cfg.S3.Enabled() {
		arch, err := archive.New(ctx, cfg.S3, log.Named("archive"))
		if err != nil {
			log.Fatal("archive", zap.Error(err))
		}
		svc.Archive = arch
	}

	// --- Telegram bot ---
	bot, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		log.Fatal("telegram", zap.Error(err))
	}
	bot.Debug = false

	sessions := session.NewRegistry(session.BufferOpener{})
	defer sessions.CloseAll()

	r := telegram.NewRouter(bot, sessions, svc, log.Named("telegram"))
	if predRepo != nil {
		r.History = predRepo
	}

	// первичная проверка бэкенда, как при загрузке страницы
	go svc.Probe(ctx, sessions, nil)

	srv := httpserver.New("0.0.0.0:"+cfg.Port, httpserver.Checks{
		Backend: func() string { return string(sessions.Status()) },
		DB:      dbChecker,
	}, log.Named("http"))

	if webhookURL := cfg.WebhookURL; webhookURL != "" {
		if err := setWebhook(ctx, bot, srv, r, webhookURL, log); err != nil {
			log.Fatal("webhook", zap.Error(err))
		}
		go runServer(srv, stop, log)
	} else {
		go runServer(srv, stop, log)
		go runPolling(ctx, bot, func(upd tgbotapi.Update) { r.HandleUpdate(ctx, upd) }, log)
	}

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	r.Wait()
}

func runServer(srv *httpserver.Server, stop context.CancelFunc, log *zap.Logger) {
	if err := srv.Run(); err != nil {
		log.Error("http server", zap.Error(err))
		stop()
	}
}

// ---------------- Webhook -----------------

func setWebhook(ctx context.Context, bot *tgbotapi.BotAPI, srv *httpserver.Server, r *telegram.Router, baseURL string, log *zap.Logger) error {
	path := webhookPath(bot.Token)
	public := strings.TrimRight(baseURL, "/") + path

	wh, err := tgbotapi.NewWebhook(public)
	if err != nil {
		return err
	}
	wh.DropPendingUpdates = true
	if _, err := bot.Request(wh); err != nil {
		return err
	}
	// контекст процесса, а не запроса: отправка на бэкенд переживает ответ Telegram'у
	srv.HandleWebhook(path, func(upd tgbotapi.Update) { r.HandleUpdate(ctx, upd) })
	log.Info("webhook registered", zap.String("path", path))
	return nil
}

// ---------------- Polling loop -----------------

// retryAfter: пауза, которую просит Telegram (429 с retry_after), либо короткая
// пауза на сетевой таймаут. 0 — решает backoff.
func retryAfter(err error) time.Duration {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		if apiErr.RetryAfter > 0 {
			return time.Duration(apiErr.RetryAfter) * time.Second
		}
		if apiErr.Code == http.StatusTooManyRequests {
			return 3 * time.Second
		}
		return 0
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return 2 * time.Second
	}
	return 0
}

func newPollingBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 1 * time.Second
	b.MaxInterval = 15 * time.Second
	b.MaxElapsedTime = 0 // поллинг не сдаётся
	return b
}

func runPolling(ctx context.Context, bot *tgbotapi.BotAPI, handle func(tgbotapi.Update), log *zap.Logger) {
	offset := 0
	bo := newPollingBackoff()

	for {
		select {
		case <-ctx.Done():
			log.Info("polling: context cancelled")
			return
		default:
		}

		u := tgbotapi.NewUpdate(offset)
		u.Timeout = 30 // long polling timeout (sec)

		updates, err := bot.GetUpdates(u)
		if err != nil {
			d := bo.NextBackOff()
			if hint := retryAfter(err); hint > d {
				d = hint
			}
			log.Warn("polling error", zap.Error(err), zap.Duration("retry_in", d))
			if !sleepCtx(ctx, d) {
				return
			}
			continue
		}
		bo.Reset()

		for _, upd := range updates {
			if upd.UpdateID >= offset {
				offset = upd.UpdateID + 1
			}
			handle(upd)
		}

		if len(updates) == 0 && !sleepCtx(ctx, 200*time.Millisecond) {
			return
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// ---------------- History retention -----------------

type purger interface {
	PurgeOlderThan(ctx context.Context, olderThan time.Duration) (int64, error)
}

// runRetention чистит историю сразу и затем раз в every; keep <= 0 выключает чистку.
func runRetention(ctx context.Context, p purger, keep, every time.Duration, log *zap.Logger) {
	if keep <= 0 {
		return
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		n, err := p.PurgeOlderThan(ctx, keep)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn("history purge", zap.Error(err))
		} else if n > 0 {
			log.Info("history purged", zap.Int64("rows", n), zap.Duration("older_than", keep))
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// ---------------- Helpers -----------------

// webhookPath выводит секретный путь из токена: стабилен между рестартами
// и не раскрывает сам токен.
func webhookPath(token string) string {
	return "/webhook/" + uuid.NewSHA1(uuid.NameSpaceURL, []byte("telegram:"+token)).String()
}
