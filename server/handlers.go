package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/onnwee/shorts-tender/publish"
	"github.com/onnwee/shorts-tender/telemetry"
)

// Deps are the application hooks behind the HTTP routes. Nil hooks disable
// the matching endpoint.
type Deps struct {
	DB            *sql.DB // optional
	Webhook       http.Handler
	WebhookPath   string
	TriggerSecret string
	// Trigger runs a scheduled-semantics publish that ignores the time window.
	Trigger func(ctx context.Context) (publish.Decision, *publish.Attempt)
	// Publish runs a manual publish and reports the result to chatID.
	Publish func(ctx context.Context, chatID int64) publish.Attempt
	Status  func(ctx context.Context) (publish.Status, error)
	// Credentials fails when the Google token is unusable.
	Credentials    func(ctx context.Context) error
	OperatorChatID int64
	PublishTimeout time.Duration
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	deps Deps
	ctx  context.Context
}

// NewHandlers creates handlers whose background runs are bound to ctx.
func NewHandlers(ctx context.Context, deps Deps) *Handlers {
	if deps.PublishTimeout <= 0 {
		deps.PublishTimeout = 30 * time.Minute
	}
	return &Handlers{deps: deps, ctx: ctx}
}

// background runs fn detached from the request so callers get an immediate
// response; the correlation ID of the request is carried over.
func (h *Handlers) background(r *http.Request, fn func(ctx context.Context)) {
	corr, path := telemetry.GetCorrelation(r.Context()), r.URL.Path
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				slog.Error("background run panic", slog.Any("panic", rec), slog.String("path", path))
			}
		}()
		ctx, cancel := context.WithTimeout(telemetry.WithCorrelation(h.ctx, corr), h.deps.PublishTimeout)
		defer cancel()
		fn(ctx)
	}()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// HandleRoot answers the platform's default health probe.
func (h *Handlers) HandleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("shorts-tender is running"))
}
