// Package telegram is the chat front end: it receives webhook updates, stages
// incoming videos in the vault, answers commands and delivers publish
// notifications.
package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"

	"github.com/onnwee/shorts-tender/publish"
	"github.com/onnwee/shorts-tender/session"
	"github.com/onnwee/shorts-tender/telemetry"
)

// API is the part of *tgbotapi.BotAPI the bot relies on.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
}

// Vault is where ingested videos are staged.
type Vault interface {
	ListVideos(ctx context.Context) ([]publish.StagedItem, error)
	Upload(ctx context.Context, name, mimeType string, media io.Reader, meta publish.Metadata, trimmed bool) (string, error)
}

// Publisher runs a manual publish and reports back to the chat.
type Publisher interface {
	PublishNow(ctx context.Context, chatID int64) publish.Attempt
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, chatID int64) publish.Attempt

func (f PublisherFunc) PublishNow(ctx context.Context, chatID int64) publish.Attempt { return f(ctx, chatID) }

// Deps are the collaborators of a Bot. Trimmer may be nil, in which case
// videos are staged untrimmed and trimmed at publish time.
type Deps struct {
	API        API
	Vault      Vault
	Sessions   session.Store
	Trimmer    publish.Transformer
	Publisher  Publisher
	Status     func(ctx context.Context) (publish.Status, error)
	HTTPClient *http.Client
}

// Options tune ingest and command handling.
type Options struct {
	Allowed         func(chatID int64) bool // nil allows every chat
	DataDir         string
	MaxIngestBytes  int64
	DefaultHashtags string
	IngestTimeout   time.Duration
	PublishTimeout  time.Duration
}

func (o *Options) setDefaults() {
	if o.DataDir == "" {
		o.DataDir = "data"
	}
	if o.MaxIngestBytes <= 0 {
		o.MaxIngestBytes = 20 << 20
	}
	if o.IngestTimeout <= 0 {
		o.IngestTimeout = 10 * time.Minute
	}
	if o.PublishTimeout <= 0 {
		o.PublishTimeout = 30 * time.Minute
	}
}

// Bot dispatches Telegram updates. It also satisfies publish.Notifier.
type Bot struct {
	deps Deps
	opts Options
	base context.Context
	wg   sync.WaitGroup
}

// New returns a bot whose background work is bound to ctx.
func New(ctx context.Context, deps Deps, opts Options) *Bot {
	opts.setDefaults()
	if deps.HTTPClient == nil {
		deps.HTTPClient = &http.Client{Timeout: 5 * time.Minute}
	}
	if deps.Sessions == nil {
		deps.Sessions = session.NewMemoryStore(24 * time.Hour)
	}
	return &Bot{deps: deps, opts: opts, base: ctx}
}

// Notify sends a plain text message.
func (b *Bot) Notify(_ context.Context, chatID int64, text string) error {
	if _, err := b.deps.API.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		return fmt.Errorf("telegram send to %d: %w", chatID, err)
	}
	return nil
}

func (b *Bot) reply(ctx context.Context, msg *tgbotapi.Message, text string) {
	out := tgbotapi.NewMessage(msg.Chat.ID, text)
	out.ReplyToMessageID = msg.MessageID
	if _, err := b.deps.API.Send(out); err != nil {
		telemetry.LoggerWithCorr(ctx).Warn("telegram reply failed", slog.Int64("chat_id", msg.Chat.ID), slog.Any("err", err))
	}
}

// RegisterWebhook points Telegram at publicURL+path.
func (b *Bot) RegisterWebhook(publicURL, path string) error {
	wh, err := tgbotapi.NewWebhook(strings.TrimRight(publicURL, "/") + path)
	if err != nil {
		return fmt.Errorf("webhook url: %w", err)
	}
	if _, err := b.deps.API.Request(wh); err != nil {
		return fmt.Errorf("set webhook: %w", err)
	}
	return nil
}

// ServeHTTP accepts a webhook delivery. Telegram gets its 200 right away; the
// update is handled in the background so slow ingests do not trigger redelivery.
func (b *Bot) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var upd tgbotapi.Update
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&upd); err != nil {
		http.Error(w, "invalid update", http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusOK)

	corr := telemetry.GetCorrelation(r.Context())
	if corr == "" {
		corr = uuid.NewString()
	}
	b.Go(func(ctx context.Context) {
		b.Handle(telemetry.WithCorrelation(ctx, corr), upd)
	})
}

// Go runs fn on a goroutine tied to the bot's base context. Panics are logged.
func (b *Bot) Go(fn func(ctx context.Context)) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				slog.Error("telegram handler panic", slog.Any("panic", r), slog.String("component", "telegram"))
			}
		}()
		fn(b.base)
	}()
}

// Wait blocks until background handlers have returned.
func (b *Bot) Wait() { b.wg.Wait() }

// Handle routes one update.
func (b *Bot) Handle(ctx context.Context, upd tgbotapi.Update) {
	msg := upd.Message
	if msg == nil || msg.Chat == nil {
		return
	}
	logger := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "telegram"), slog.Int64("chat_id", msg.Chat.ID))
	if b.opts.Allowed != nil && !b.opts.Allowed(msg.Chat.ID) {
		logger.Warn("update from chat outside allow list")
		b.reply(ctx, msg, "⛔ This bot is private.")
		return
	}
	switch {
	case msg.IsCommand():
		b.handleCommand(ctx, msg)
	case msg.Video != nil || msg.Animation != nil || msg.Document != nil:
		b.handleMedia(ctx, msg)
	case msg.Text != "":
		b.handleText(ctx, msg)
	default:
		logger.Debug("ignoring update without text or media")
	}
}
