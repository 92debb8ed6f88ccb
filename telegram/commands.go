package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/onnwee/shorts-tender/publish"
	"github.com/onnwee/shorts-tender/telemetry"
)

const listLimit = 20

const usage = `Send me a video and I will keep it in the vault; one random video is published every day.

To set the details, send them before the video or as its caption:
title: My video
description: Anything you like
hashtags: #cat #funny

Commands:
/list - staged videos
/publish - publish a random video now (also /upload_now, /post, /now)
/status - today's schedule
/cancel - forget the pending details`

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	logger := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "telegram"), slog.Int64("chat_id", msg.Chat.ID))
	cmd := strings.ToLower(msg.Command())
	logger.Info("command received", slog.String("command", cmd))
	switch cmd {
	case "start", "help":
		b.reply(ctx, msg, usage)
	case "list":
		b.cmdList(ctx, msg)
	case "publish", "upload_now", "post", "now":
		b.cmdPublish(ctx, msg)
	case "status":
		b.cmdStatus(ctx, msg)
	case "cancel":
		if err := b.deps.Sessions.Delete(ctx, msg.Chat.ID); err != nil {
			logger.Warn("clear session failed", slog.Any("err", err))
			b.reply(ctx, msg, "❌ Could not clear the pending details, try again.")
			return
		}
		b.reply(ctx, msg, "🗑 Pending details cleared.")
	default:
		b.reply(ctx, msg, "Unknown command. Send /help for the list.")
	}
}

func (b *Bot) cmdList(ctx context.Context, msg *tgbotapi.Message) {
	items, err := b.deps.Vault.ListVideos(ctx)
	if err != nil {
		telemetry.LoggerWithCorr(ctx).Warn("list vault failed", slog.Any("err", err))
		b.reply(ctx, msg, "❌ Could not read the vault: "+err.Error())
		return
	}
	b.reply(ctx, msg, formatList(items))
}

func formatList(items []publish.StagedItem) string {
	if len(items) == 0 {
		return "📭 The vault is empty."
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "📦 %d staged video(s):", len(items))
	for i, it := range items {
		if i == listLimit {
			fmt.Fprintf(&sb, "\n…and %d more", len(items)-listLimit)
			break
		}
		meta := publish.ParseMetadata(it.Name, it.RawMetadata, "")
		fmt.Fprintf(&sb, "\n• %s", meta.Title)
	}
	return sb.String()
}

func (b *Bot) cmdPublish(ctx context.Context, msg *tgbotapi.Message) {
	if b.deps.Publisher == nil {
		b.reply(ctx, msg, "❌ Publishing is not configured.")
		return
	}
	b.reply(ctx, msg, "🚀 Picking a random video…")
	ctx, cancel := context.WithTimeout(ctx, b.opts.PublishTimeout)
	defer cancel()
	// PublishNow reports the result to the chat itself.
	a := b.deps.Publisher.PublishNow(ctx, msg.Chat.ID)
	telemetry.LoggerWithCorr(ctx).Info("manual publish finished",
		slog.Int64("chat_id", msg.Chat.ID), slog.String("outcome", a.Outcome.String()), slog.String("video_id", a.VideoID))
}

func (b *Bot) cmdStatus(ctx context.Context, msg *tgbotapi.Message) {
	if b.deps.Status == nil {
		b.reply(ctx, msg, "❌ Status is not available.")
		return
	}
	st, err := b.deps.Status(ctx)
	if err != nil {
		telemetry.LoggerWithCorr(ctx).Warn("status failed", slog.Any("err", err))
		b.reply(ctx, msg, "❌ Could not read status: "+err.Error())
		return
	}
	b.reply(ctx, msg, st.String())
}

// handleText stores metadata written in the title:/description:/hashtags:
// grammar as the chat's pending details. Fields not mentioned keep their
// previously pending values.
func (b *Bot) handleText(ctx context.Context, msg *tgbotapi.Message) {
	meta, ok := publish.ParseText(msg.Text)
	if !ok {
		b.reply(ctx, msg, "Send a video, or its details first. /help shows the format.")
		return
	}
	chatID := msg.Chat.ID
	prev, _, err := b.deps.Sessions.Get(ctx, chatID)
	if err != nil {
		telemetry.LoggerWithCorr(ctx).Warn("load session failed", slog.Int64("chat_id", chatID), slog.Any("err", err))
	}
	meta = meta.Merge(prev)
	meta.OriginatorID = chatID
	if err := b.deps.Sessions.Set(ctx, chatID, meta); err != nil {
		telemetry.LoggerWithCorr(ctx).Warn("save session failed", slog.Int64("chat_id", chatID), slog.Any("err", err))
		b.reply(ctx, msg, "❌ Could not save the details, try again.")
		return
	}
	var sb strings.Builder
	sb.WriteString("📝 Details saved. Now send the video.")
	if meta.Title != "" {
		sb.WriteString("\nTitle: " + meta.Title)
	}
	if meta.Hashtags != "" {
		sb.WriteString("\nHashtags: " + meta.Hashtags)
	}
	b.reply(ctx, msg, sb.String())
}
