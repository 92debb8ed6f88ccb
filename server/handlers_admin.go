package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/onnwee/shorts-tender/db"
	"github.com/onnwee/shorts-tender/telemetry"
)

// HandleTrigger lets an external cron start the daily publish. The time
// window and slot draw are skipped, the one-per-day record still applies.
// The run continues in the background; the response only acknowledges it.
func (h *Handlers) HandleTrigger(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.deps.TriggerSecret == "" || h.deps.Trigger == nil {
		http.Error(w, "trigger disabled", http.StatusForbidden)
		return
	}
	secret := r.URL.Query().Get("secret")
	if secret == "" {
		secret = r.Header.Get("X-Trigger-Secret")
	}
	if !secretEqual(secret, h.deps.TriggerSecret) {
		telemetry.LoggerWithCorr(r.Context()).Warn("trigger with bad secret", slog.String("remote_addr", r.RemoteAddr))
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	h.background(r, func(ctx context.Context) {
		d, a := h.deps.Trigger(ctx)
		attrs := []any{slog.String("decision", string(d)), slog.String("component", "trigger")}
		if a != nil {
			attrs = append(attrs, slog.String("outcome", a.Outcome.String()), slog.String("video_id", a.VideoID))
		}
		telemetry.LoggerWithCorr(ctx).Info("external trigger finished", attrs...)
	})
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// HandleAdminPublish starts a manual publish. The optional JSON body
// {"chat_id": n} picks the chat that receives the result; the operator chat
// is used otherwise.
func (h *Handlers) HandleAdminPublish(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.deps.Publish == nil {
		http.Error(w, "publishing not configured", http.StatusServiceUnavailable)
		return
	}
	var req struct {
		ChatID int64 `json:"chat_id"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.ChatID == 0 {
		req.ChatID = h.deps.OperatorChatID
	}
	chatID := req.ChatID
	h.background(r, func(ctx context.Context) {
		a := h.deps.Publish(ctx, chatID)
		telemetry.LoggerWithCorr(ctx).Info("admin publish finished",
			slog.String("outcome", a.Outcome.String()), slog.String("video_id", a.VideoID), slog.String("component", "admin"))
	})
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "accepted", "chat_id": chatID})
}

// HandleAdminStatus reports today's schedule, the queue size and the last scheduler heartbeat.
func (h *Handlers) HandleAdminStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.deps.Status == nil {
		http.Error(w, "status not configured", http.StatusServiceUnavailable)
		return
	}
	ctx := r.Context()
	st, err := h.deps.Status(ctx)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	resp := map[string]any{"schedule": st, "tracing": telemetry.IsTracingEnabled()}
	if h.deps.DB != nil {
		if _, at, err := db.GetKV(ctx, h.deps.DB, db.KeySchedulerTick); err == nil && !at.IsZero() {
			resp["last_tick"] = at.UTC().Format(time.RFC3339)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
