package publish

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/shorts-tender/telemetry"
)

// TriggerKind says who asked for a publish.
type TriggerKind int

const (
	// TriggerScheduled runs are gated to one per day and write a PublishRecord.
	TriggerScheduled TriggerKind = iota
	// TriggerManual runs bypass the daily gate and never write a record.
	TriggerManual
)

func (k TriggerKind) String() string {
	if k == TriggerManual {
		return "manual"
	}
	return "scheduled"
}

// Trigger is the context of one workflow run.
type Trigger struct {
	Kind   TriggerKind
	Date   string // reference day (YYYY-MM-DD) for scheduled runs
	ChatID int64  // manual originator; 0 when triggered over HTTP
}

// Outcome of a single run.
type Outcome int

const (
	OutcomePublished Outcome = iota
	OutcomeEmptyQueue
	OutcomeTransformFailed
	OutcomeUploadFailed
	OutcomeUnconfirmed
	OutcomeStagingFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomePublished:
		return "published"
	case OutcomeEmptyQueue:
		return "empty_queue"
	case OutcomeTransformFailed:
		return "transform_failed"
	case OutcomeUploadFailed:
		return "upload_failed"
	case OutcomeUnconfirmed:
		return "unconfirmed"
	case OutcomeStagingFailed:
		return "staging_failed"
	default:
		return "unknown"
	}
}

// Attempt is the in-memory result of one run. It is never persisted.
type Attempt struct {
	Trigger  Trigger
	Item     *StagedItem
	Metadata Metadata
	Title    string
	Outcome  Outcome
	VideoID  string
	URL      string
	Busy     bool // queue not empty, but every item was claimed by another run
	Err      error
	Duration time.Duration
}

// Failed reports whether the run ended in an error outcome.
func (a Attempt) Failed() bool {
	return a.Outcome != OutcomePublished && a.Outcome != OutcomeEmptyQueue
}

// Message is the user-facing status line for the run.
func (a Attempt) Message() string {
	switch a.Outcome {
	case OutcomePublished:
		return fmt.Sprintf("✅ Published: %s\n%s", a.Title, a.URL)
	case OutcomeEmptyQueue:
		if a.Busy {
			return "⏳ Every staged video is already being published by another run."
		}
		return "⚠️ The vault is empty, nothing to publish."
	case OutcomeTransformFailed:
		return fmt.Sprintf("❌ Trimming failed, the video stays in the vault: %v", a.Err)
	case OutcomeUploadFailed:
		return fmt.Sprintf("❌ Upload failed, the video stays in the vault: %v", a.Err)
	case OutcomeUnconfirmed:
		return "❌ YouTube did not confirm the upload; the video stays in the vault."
	case OutcomeStagingFailed:
		return fmt.Sprintf("❌ Could not read the vault: %v", a.Err)
	default:
		return "❓ Unknown result"
	}
}

// Options are the fixed publishing parameters.
type Options struct {
	MarkerTag       string
	DefaultHashtags string
	PromoSuffix     string
	Tags            []string
	CategoryID      string
	Privacy         string
	PublishAtDelay  time.Duration // with Privacy=private, schedules the release this far ahead

	ClaimTTL         time.Duration
	StagingTimeout   time.Duration
	UploadTimeout    time.Duration
	TransformTimeout time.Duration
	TempDir          string

	Retries    int
	RetryDelay time.Duration

	OperatorChatID int64 // receives scheduled failures when non-zero
}

func (o *Options) setDefaults() {
	if o.MarkerTag == "" {
		o.MarkerTag = "#shorts"
	}
	if o.CategoryID == "" {
		o.CategoryID = "24"
	}
	if o.Privacy == "" {
		o.Privacy = "public"
	}
	if o.ClaimTTL <= 0 {
		o.ClaimTTL = 30 * time.Minute
	}
	if o.StagingTimeout <= 0 {
		o.StagingTimeout = 30 * time.Second
	}
	if o.UploadTimeout <= 0 {
		o.UploadTimeout = 15 * time.Minute
	}
	if o.TransformTimeout <= 0 {
		o.TransformTimeout = 5 * time.Minute
	}
	if o.TempDir == "" {
		o.TempDir = os.TempDir()
	}
	if o.Retries < 0 {
		o.Retries = 0
	}
}

// Deps are the collaborators of a Workflow. Notifier and Transformer may be nil.
type Deps struct {
	Staging     Staging
	Target      Target
	Log         RecordLog
	Claims      ClaimStore
	Notifier    Notifier
	Transformer Transformer
}

// Workflow executes publish attempts. A single Workflow is safe for concurrent
// use; overlapping runs are kept apart by the claim store.
type Workflow struct {
	deps Deps
	opts Options

	perm func(n int) []int
	now  func() time.Time

	noticeMu    sync.Mutex
	operatorDay string
}

// NewWorkflow wires a workflow. A nil Claims falls back to process-local claims.
func NewWorkflow(deps Deps, opts Options) *Workflow {
	opts.setDefaults()
	if deps.Claims == nil {
		deps.Claims = NewMemoryClaims()
	}
	return &Workflow{
		deps: deps,
		opts: opts,
		//nolint:gosec // G404: selection fairness, not security
		perm: rand.Perm,
		now:  time.Now,
	}
}

// Run executes exactly one publish attempt.
//
// Order: list, claim a random item, build metadata, (trim), upload, delete,
// record, notify. The staged item is deleted only after the target returned a
// non-empty id; every earlier failure leaves it in place for the next run.
func (w *Workflow) Run(ctx context.Context, trig Trigger) (a Attempt) {
	start := w.now()
	a.Trigger = trig
	ctx, span := telemetry.StartSpan(ctx, "publish", "publish.run", attribute.String("trigger", trig.Kind.String()))
	logger := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "publish"), slog.String("trigger", trig.Kind.String()))
	defer func() {
		a.Duration = time.Since(start)
		telemetry.RecordAttempt(trig.Kind.String(), a.Outcome.String(), a.Duration)
		span.SetAttributes(attribute.String("outcome", a.Outcome.String()))
		if a.Failed() {
			telemetry.RecordError(span, a.Err)
		} else {
			telemetry.SetSpanSuccess(span)
		}
		span.End()
		if trig.Kind == TriggerScheduled {
			w.notifyScheduled(ctx, a, logger)
		}
	}()

	lctx, cancel := context.WithTimeout(ctx, w.opts.StagingTimeout)
	items, err := w.deps.Staging.ListVideos(lctx)
	cancel()
	if err != nil {
		logger.Error("list staged items failed", slog.Any("err", err))
		a.Outcome, a.Err = OutcomeStagingFailed, fmt.Errorf("list staged items: %w", err)
		return a
	}
	telemetry.SetStagedItems(len(items))
	if len(items) == 0 {
		logger.Info("vault empty; nothing to publish")
		a.Outcome = OutcomeEmptyQueue
		return a
	}

	owner := uuid.NewString()
	item, err := w.claimRandom(ctx, items, owner)
	if err != nil {
		logger.Error("claim failed", slog.Any("err", err))
		a.Outcome, a.Err = OutcomeStagingFailed, err
		return a
	}
	if item == nil {
		logger.Info("all staged items are claimed by other runs", slog.Int("staged", len(items)))
		a.Outcome, a.Busy = OutcomeEmptyQueue, true
		return a
	}
	defer func() {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.opts.StagingTimeout)
		defer cancel()
		if err := w.deps.Claims.Release(rctx, item.ID, owner); err != nil {
			logger.Warn("claim release failed", slog.String("item_id", item.ID), slog.Any("err", err))
		}
	}()
	a.Item = item
	logger = logger.With(slog.String("item_id", item.ID), slog.String("blob", item.Name))

	meta := ParseMetadata(item.Name, item.RawMetadata, w.opts.DefaultHashtags)
	a.Metadata = meta
	video := w.compose(meta)
	a.Title = video.Title
	logger.Info("publish candidate selected", slog.String("title", video.Title), slog.Int("staged", len(items)))
	if trig.Kind == TriggerManual {
		w.notify(ctx, trig.ChatID, fmt.Sprintf("🎬 Uploading: %s", video.Title), logger)
	}

	uctx, cancelUpload := context.WithTimeout(ctx, w.opts.UploadTimeout)
	defer cancelUpload()
	media, cleanup, outcome, err := w.openMedia(uctx, item, logger)
	if err != nil {
		a.Outcome, a.Err = outcome, err
		return a
	}
	defer cleanup()

	upStart := time.Now()
	var id string
	telemetry.TimeFunc(telemetry.UploadDuration, func() {
		id, err = w.deps.Target.Publish(uctx, media, video)
	})
	switch {
	case errors.Is(err, ErrEmptyID), err == nil && id == "":
		logger.Error("upload returned no video id; keeping staged item")
		a.Outcome, a.Err = OutcomeUnconfirmed, ErrEmptyID
		return a
	case err != nil:
		logger.Error("upload failed", slog.Any("err", err), slog.Duration("upload_duration", time.Since(upStart)))
		a.Outcome, a.Err = OutcomeUploadFailed, fmt.Errorf("upload: %w", err)
		return a
	}
	a.Outcome, a.VideoID, a.URL = OutcomePublished, id, VideoURL(id)
	logger.Info("published", slog.String("video_id", id), slog.Duration("upload_duration", time.Since(upStart)))

	// The publish is irreversible from here on; shutdown must not skip the bookkeeping.
	bctx := context.WithoutCancel(ctx)
	dctx, cancel := context.WithTimeout(bctx, w.opts.StagingTimeout)
	if err := w.deps.Staging.Delete(dctx, item.ID); err != nil {
		logger.Error("delete staged item failed; it may be published again", slog.Any("err", err))
	}
	cancel()

	if trig.Kind == TriggerScheduled {
		rctx, cancel := context.WithTimeout(bctx, w.opts.StagingTimeout)
		if err := w.deps.Log.Record(rctx, trig.Date, id); err != nil {
			logger.Error("write publish record failed", slog.String("day", trig.Date), slog.Any("err", err))
		}
		cancel()
	}
	return a
}

// claimRandom walks a uniform random permutation of items and returns the
// first one it can claim. Without contention this is a uniform pick.
func (w *Workflow) claimRandom(ctx context.Context, items []StagedItem, owner string) (*StagedItem, error) {
	for _, i := range w.perm(len(items)) {
		cctx, cancel := context.WithTimeout(ctx, w.opts.StagingTimeout)
		ok, err := w.deps.Claims.Claim(cctx, items[i].ID, owner, w.opts.ClaimTTL)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("claim %s: %w", items[i].ID, err)
		}
		if ok {
			it := items[i]
			return &it, nil
		}
	}
	return nil, nil
}

func (w *Workflow) compose(meta Metadata) Video {
	title := NormalizeTitle(meta.Title, w.opts.MarkerTag)
	v := Video{
		Title:       title,
		Description: ComposeDescription(title, meta.Description, meta.Hashtags, w.opts.PromoSuffix),
		Tags:        w.opts.Tags,
		CategoryID:  w.opts.CategoryID,
		Privacy:     w.opts.Privacy,
	}
	if v.Privacy == "private" && w.opts.PublishAtDelay > 0 {
		v.PublishAt = w.now().Add(w.opts.PublishAtDelay).UTC()
	}
	return v
}

// openMedia returns a reader for the item. Untrimmed items are downloaded,
// trimmed and read from a temp file; cleanup removes every temp file.
func (w *Workflow) openMedia(ctx context.Context, item *StagedItem, logger *slog.Logger) (io.Reader, func(), Outcome, error) {
	rc, err := w.deps.Staging.Open(ctx, item.ID)
	if err != nil {
		logger.Error("open staged item failed", slog.Any("err", err))
		return nil, nil, OutcomeStagingFailed, fmt.Errorf("open %s: %w", item.ID, err)
	}
	if item.Trimmed || w.deps.Transformer == nil {
		return rc, func() { _ = rc.Close() }, OutcomePublished, nil
	}
	defer rc.Close()

	var tmp []string
	cleanup := func() {
		for _, p := range tmp {
			if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
				logger.Warn("temp file cleanup failed", slog.String("path", p), slog.Any("err", err))
			}
		}
	}
	src, err := os.CreateTemp(w.opts.TempDir, "publish-src-*"+filepath.Ext(item.Name))
	if err != nil {
		return nil, nil, OutcomeStagingFailed, fmt.Errorf("create temp: %w", err)
	}
	tmp = append(tmp, src.Name())
	_, err = io.Copy(src, rc)
	if cerr := src.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		cleanup()
		return nil, nil, OutcomeStagingFailed, fmt.Errorf("download %s: %w", item.ID, err)
	}

	out := src.Name() + ".trim.mp4"
	tmp = append(tmp, out)
	tctx, cancel := context.WithTimeout(ctx, w.opts.TransformTimeout)
	err = w.deps.Transformer.Trim(tctx, src.Name(), out)
	cancel()
	if err != nil {
		logger.Error("trim failed", slog.Any("err", err))
		cleanup()
		return nil, nil, OutcomeTransformFailed, fmt.Errorf("trim: %w", err)
	}
	f, err := os.Open(out)
	if err != nil {
		cleanup()
		return nil, nil, OutcomeTransformFailed, fmt.Errorf("open trimmed output: %w", err)
	}
	return f, func() { _ = f.Close(); cleanup() }, OutcomePublished, nil
}

func (w *Workflow) notify(ctx context.Context, chatID int64, text string, logger *slog.Logger) {
	if w.deps.Notifier == nil || chatID == 0 {
		return
	}
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.opts.StagingTimeout)
	defer cancel()
	if err := w.deps.Notifier.Notify(nctx, chatID, text); err != nil {
		logger.Warn("notify failed", slog.Int64("chat_id", chatID), slog.Any("err", err))
	}
}

// notifyScheduled tells the original submitter about a scheduled publish and,
// when configured, tells the operator about a failed one (at most once a day).
func (w *Workflow) notifyScheduled(ctx context.Context, a Attempt, logger *slog.Logger) {
	if a.Outcome == OutcomePublished {
		if a.Metadata.OriginatorID != 0 {
			w.notify(ctx, a.Metadata.OriginatorID, fmt.Sprintf("📢 Your video was published today: %s\n%s", a.Title, a.URL), logger)
		}
		return
	}
	if w.opts.OperatorChatID == 0 || (a.Outcome == OutcomeEmptyQueue && a.Busy) {
		return
	}
	w.noticeMu.Lock()
	if w.operatorDay == a.Trigger.Date {
		w.noticeMu.Unlock()
		return
	}
	w.operatorDay = a.Trigger.Date
	w.noticeMu.Unlock()
	w.notify(ctx, w.opts.OperatorChatID, "Scheduled publish "+a.Trigger.Date+": "+a.Message(), logger)
}
