package publish

import (
	"context"
	"log/slog"
	"math/rand"
	"runtime/debug"
	"sync"
	"time"

	"github.com/onnwee/shorts-tender/telemetry"
)

// DayLayout formats the reference-timezone day used for the daily gate.
const DayLayout = "2006-01-02"

// Window is an inclusive range of local hours in which scheduled publishes may happen.
type Window struct {
	StartHour int
	EndHour   int
}

// Contains reports whether t (already in the reference zone) falls in the window.
func (w Window) Contains(t time.Time) bool {
	h := t.Hour()
	return h >= w.StartHour && h <= w.EndHour
}

// Decision is the gate result for one scheduler tick.
type Decision string

const (
	DecisionOutsideWindow    Decision = "outside_window"
	DecisionAlreadyPublished Decision = "already_published"
	DecisionSlotSkipped      Decision = "slot_skipped"
	DecisionGateError        Decision = "gate_error"
	DecisionBusy             Decision = "busy"
	DecisionPanicked         Decision = "panicked"
	DecisionAttempted        Decision = "attempted"
)

// Scheduler decides on each tick whether a scheduled publish should run.
// Ticks never overlap; a tick arriving while another runs is reported as busy.
type Scheduler struct {
	Runner          Runner
	Log             RecordLog
	Location        *time.Location
	Window          Window
	SlotProbability float64 // per-hour chance inside the window; 1 publishes on the first eligible tick
	Interval        time.Duration
	Heartbeat       func(ctx context.Context) // optional, called on every tick

	mu       sync.Mutex
	initOnce sync.Once
	// guarded by mu
	publishedDay string // survives a failed record write
	slotHour     string
	slotOpen     bool

	draw     func() float64
	now      func() time.Time
}

func (s *Scheduler) init() { s.initOnce.Do(s.setDefaults) }

func (s *Scheduler) setDefaults() {
	if s.Location == nil {
		s.Location = time.UTC
	}
	if s.SlotProbability <= 0 {
		s.SlotProbability = 1
	}
	if s.Interval <= 0 {
		s.Interval = time.Minute
	}
	if s.draw == nil {
		//nolint:gosec // G404: slot jitter, not security
		s.draw = rand.Float64
	}
	if s.now == nil {
		s.now = time.Now
	}
}

// Tick evaluates the gates for the current time.
func (s *Scheduler) Tick(ctx context.Context) (Decision, *Attempt) {
	s.init()
	return s.TickAt(ctx, s.now(), false)
}

// ForceWindow is Tick for externally timed triggers: the window and slot draw
// are skipped, the one-per-day gate still applies.
func (s *Scheduler) ForceWindow(ctx context.Context) (Decision, *Attempt) {
	s.init()
	return s.TickAt(ctx, s.now(), true)
}

// TickAt evaluates the gates for now. Order: window, daily record, slot draw.
// A panic inside the tick is logged and reported as DecisionPanicked.
func (s *Scheduler) TickAt(ctx context.Context, now time.Time, force bool) (d Decision, a *Attempt) {
	s.init()
	if !s.mu.TryLock() {
		telemetry.RecordTick(string(DecisionBusy))
		return DecisionBusy, nil
	}
	defer s.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			telemetry.LoggerWithCorr(ctx).Error("scheduler tick panic",
				slog.Any("panic", r), slog.String("component", "scheduler"), slog.String("stack", string(debug.Stack())))
			d, a = DecisionPanicked, nil
		}
		telemetry.RecordTick(string(d))
	}()
	if s.Heartbeat != nil {
		s.Heartbeat(ctx)
	}
	return s.evaluate(ctx, now.In(s.Location), force)
}

func (s *Scheduler) evaluate(ctx context.Context, local time.Time, force bool) (Decision, *Attempt) {
	logger := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "scheduler"))
	if !force && !s.Window.Contains(local) {
		return DecisionOutsideWindow, nil
	}
	day := local.Format(DayLayout)
	if s.publishedDay == day {
		logger.Debug("already published today", slog.String("day", day))
		return DecisionAlreadyPublished, nil
	}
	done, err := s.Log.Has(ctx, day)
	if err != nil {
		// fail closed: publishing twice is worse than skipping a tick
		logger.Warn("publish record lookup failed; skipping tick", slog.String("day", day), slog.Any("err", err))
		return DecisionGateError, nil
	}
	if done {
		logger.Debug("already published today", slog.String("day", day))
		return DecisionAlreadyPublished, nil
	}
	if !force && !s.slotDrawn(local) {
		logger.Debug("slot skipped", slog.String("day", day), slog.Int("hour", local.Hour()))
		return DecisionSlotSkipped, nil
	}
	logger.Info("scheduled publish starting", slog.String("day", day), slog.Bool("forced", force))
	a := s.Runner.Run(ctx, Trigger{Kind: TriggerScheduled, Date: day})
	if a.Outcome == OutcomePublished {
		s.publishedDay = day
	}
	logger.Info("scheduled publish finished", slog.String("day", day), slog.String("outcome", a.Outcome.String()), slog.Duration("duration", a.Duration))
	return DecisionAttempted, &a
}

// slotDrawn draws once per local hour; every tick in that hour shares the result.
func (s *Scheduler) slotDrawn(local time.Time) bool {
	if s.SlotProbability >= 1 {
		return true
	}
	if hour := local.Format("2006-01-02T15"); hour != s.slotHour {
		s.slotHour = hour
		s.slotOpen = s.draw() < s.SlotProbability
	}
	return s.slotOpen
}

// StartSchedulerJob ticks at the configured interval until ctx is done.
func (s *Scheduler) StartSchedulerJob(ctx context.Context) {
	s.init()
	slog.Info("publish scheduler starting",
		slog.Duration("interval", s.Interval),
		slog.Int("window_start", s.Window.StartHour),
		slog.Int("window_end", s.Window.EndHour),
		slog.String("timezone", s.Location.String()),
		slog.Float64("slot_probability", s.SlotProbability))
	// Kick an immediate tick so a restart inside the window does not wait a full interval.
	s.Tick(ctx)
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("publish scheduler stopped")
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}
