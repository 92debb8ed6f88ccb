package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/onnwee/shorts-tender/publish"
	"github.com/onnwee/shorts-tender/telemetry"
)

var errTooLarge = errors.New("file exceeds ingest limit")

type mediaFile struct {
	ID       string
	Name     string
	MimeType string
	Size     int64
}

// mediaOf picks the video attachment of msg. Documents count only when they
// carry a video MIME type.
func mediaOf(msg *tgbotapi.Message) (mediaFile, bool) {
	var f mediaFile
	switch {
	case msg.Video != nil:
		f = mediaFile{ID: msg.Video.FileID, Name: msg.Video.FileName, MimeType: msg.Video.MimeType, Size: int64(msg.Video.FileSize)}
	case msg.Animation != nil:
		f = mediaFile{ID: msg.Animation.FileID, Name: msg.Animation.FileName, MimeType: msg.Animation.MimeType, Size: int64(msg.Animation.FileSize)}
	case msg.Document != nil && strings.HasPrefix(msg.Document.MimeType, "video/"):
		f = mediaFile{ID: msg.Document.FileID, Name: msg.Document.FileName, MimeType: msg.Document.MimeType, Size: int64(msg.Document.FileSize)}
	default:
		return f, false
	}
	if f.MimeType == "" {
		f.MimeType = "video/mp4"
	}
	if f.Name = filepath.Base(strings.TrimSpace(f.Name)); f.Name == "." || f.Name == "/" || f.Name == "" {
		f.Name = fmt.Sprintf("video_%d.mp4", msg.MessageID)
	}
	return f, true
}

// ingestMetadata resolves the staged metadata: caption first, then the
// chat's pending details, then defaults derived from the file name.
func (b *Bot) ingestMetadata(ctx context.Context, msg *tgbotapi.Message, f mediaFile) (publish.Metadata, bool) {
	var meta publish.Metadata
	if caption := strings.TrimSpace(msg.Caption); caption != "" {
		var ok bool
		if meta, ok = publish.ParseText(caption); !ok {
			meta = publish.Metadata{Title: strings.TrimSpace(strings.SplitN(caption, "\n", 2)[0])}
		}
	}
	pending, hadPending, err := b.deps.Sessions.Get(ctx, msg.Chat.ID)
	if err != nil {
		telemetry.LoggerWithCorr(ctx).Warn("load session failed", slog.Int64("chat_id", msg.Chat.ID), slog.Any("err", err))
	}
	meta = meta.Merge(pending).Merge(publish.Metadata{
		Title:    publish.TitleFromName(f.Name),
		Hashtags: b.opts.DefaultHashtags,
	})
	meta.OriginatorID = msg.Chat.ID
	return meta, hadPending
}

func (b *Bot) handleMedia(ctx context.Context, msg *tgbotapi.Message) {
	logger := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "ingest"), slog.Int64("chat_id", msg.Chat.ID))
	f, ok := mediaOf(msg)
	if !ok {
		b.reply(ctx, msg, "Only video files can be staged.")
		return
	}
	if f.Size > b.opts.MaxIngestBytes {
		telemetry.RecordIngest("too_large")
		b.reply(ctx, msg, fmt.Sprintf("❌ The video is %s; bots can only download files up to %s.", mb(f.Size), mb(b.opts.MaxIngestBytes)))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, b.opts.IngestTimeout)
	defer cancel()
	ctx, span := telemetry.StartSpan(ctx, "telegram", "telegram.ingest")
	defer span.End()

	meta, hadPending := b.ingestMetadata(ctx, msg, f)
	b.reply(ctx, msg, "⏳ Received, preparing the video…")
	start := time.Now()

	id, trimmed, result, err := b.stage(ctx, f, meta, logger)
	telemetry.RecordIngest(result)
	if err != nil {
		telemetry.RecordError(span, err)
		logger.Error("ingest failed", slog.String("result", result), slog.Any("err", err))
		if errors.Is(err, errTooLarge) {
			b.reply(ctx, msg, fmt.Sprintf("❌ The video is larger than %s.", mb(b.opts.MaxIngestBytes)))
			return
		}
		b.reply(ctx, msg, "❌ Could not stage the video: "+err.Error())
		return
	}
	telemetry.SetSpanSuccess(span)
	if hadPending {
		if err := b.deps.Sessions.Delete(ctx, msg.Chat.ID); err != nil {
			logger.Warn("clear session failed", slog.Any("err", err))
		}
	}
	logger.Info("video staged", slog.String("file_id", id), slog.String("title", meta.Title), slog.Bool("trimmed", trimmed), slog.Duration("duration", time.Since(start)))
	reply := "✅ Saved to the vault: " + meta.Title
	if !trimmed && b.deps.Trimmer != nil {
		reply += "\n(trimming failed, it will be retried before publishing)"
	}
	b.reply(ctx, msg, reply)
}

// stage downloads, trims and uploads f. result is the ingest metric label.
func (b *Bot) stage(ctx context.Context, f mediaFile, meta publish.Metadata, logger *slog.Logger) (id string, trimmed bool, result string, err error) {
	if err := os.MkdirAll(b.opts.DataDir, 0o750); err != nil {
		return "", false, "download_failed", fmt.Errorf("data dir: %w", err)
	}
	src, err := b.download(ctx, f)
	if err != nil {
		if errors.Is(err, errTooLarge) {
			return "", false, "too_large", err
		}
		return "", false, "download_failed", err
	}
	defer func() { _ = os.Remove(src) }()

	path, name, mimeType := src, f.Name, f.MimeType
	if b.deps.Trimmer != nil {
		out := src + ".trim.mp4"
		defer func() { _ = os.Remove(out) }()
		if terr := b.deps.Trimmer.Trim(ctx, src, out); terr != nil {
			if ctx.Err() != nil {
				return "", false, "transform_failed", terr
			}
			logger.Warn("trim failed; staging the original", slog.Any("err", terr))
		} else {
			path, trimmed, mimeType = out, true, "video/mp4"
			name = strings.TrimSuffix(name, filepath.Ext(name)) + ".mp4"
		}
	}

	file, err := os.Open(path)
	if err != nil {
		return "", false, "upload_failed", fmt.Errorf("open staged file: %w", err)
	}
	defer func() { _ = file.Close() }()
	id, err = b.deps.Vault.Upload(ctx, name, mimeType, file, meta, trimmed)
	if err != nil {
		return "", false, "upload_failed", fmt.Errorf("upload to vault: %w", err)
	}
	return id, trimmed, "staged", nil
}

// download fetches the Telegram file into a temp file under DataDir.
func (b *Bot) download(ctx context.Context, f mediaFile) (string, error) {
	url, err := b.deps.API.GetFileDirectURL(f.ID)
	if err != nil {
		return "", fmt.Errorf("resolve file: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("download request: %w", err)
	}
	resp, err := b.deps.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("download: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download: unexpected status %d", resp.StatusCode)
	}
	tmp, err := os.CreateTemp(b.opts.DataDir, "ingest-*"+filepath.Ext(f.Name))
	if err != nil {
		return "", fmt.Errorf("temp file: %w", err)
	}
	n, err := io.Copy(tmp, io.LimitReader(resp.Body, b.opts.MaxIngestBytes+1))
	closeErr := tmp.Close()
	if err == nil {
		err = closeErr
	}
	if err == nil && n > b.opts.MaxIngestBytes {
		err = errTooLarge
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		if errors.Is(err, errTooLarge) {
			return "", err
		}
		return "", fmt.Errorf("download: %w", err)
	}
	return tmp.Name(), nil
}

func mb(n int64) string {
	return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
}
