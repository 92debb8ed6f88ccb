package publish

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	_ "time/tzdata"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var nyc = mustLoad("America/New_York")

func mustLoad(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

func at(hour, minute int) time.Time {
	return time.Date(2024, 5, 1, hour, minute, 0, 0, nyc)
}

func newScheduler(st *memStaging, tg *fakeTarget, lg *memLog) *Scheduler {
	w := NewWorkflow(Deps{Staging: st, Target: tg, Log: lg}, testOptions())
	return &Scheduler{Runner: w, Log: lg, Location: nyc, Window: Window{StartHour: 18, EndHour: 18}}
}

func TestWindowContains(t *testing.T) {
	w := Window{StartHour: 17, EndHour: 19}
	for h, want := range map[int]bool{16: false, 17: true, 18: true, 19: true, 20: false} {
		if got := w.Contains(at(h, 30)); got != want {
			t.Errorf("hour %d: got %v want %v", h, got, want)
		}
	}
}

func TestSchedulerEmptyVault(t *testing.T) {
	lg := newMemLog()
	s := newScheduler(newMemStaging(), &fakeTarget{id: "x"}, lg)
	d, a := s.TickAt(context.Background(), at(18, 0), false)
	if d != DecisionAttempted || a == nil || a.Outcome != OutcomeEmptyQueue {
		t.Fatalf("decision=%s attempt=%+v", d, a)
	}
	if len(lg.records) != 0 {
		t.Errorf("empty vault must not write a record: %v", lg.records)
	}
}

func TestSchedulerPublishesOncePerDay(t *testing.T) {
	st := newMemStaging()
	st.add(StagedItem{ID: "a", Name: "a.mp4", Trimmed: true}, "A")
	st.add(StagedItem{ID: "b", Name: "b.mp4", Trimmed: true}, "B")
	tg := &fakeTarget{id: "yt"}
	lg := newMemLog()
	s := newScheduler(st, tg, lg)

	if d, a := s.TickAt(context.Background(), at(18, 0), false); d != DecisionAttempted || a.Outcome != OutcomePublished {
		t.Fatalf("first tick: %s %+v", d, a)
	}
	if _, ok := lg.records["2024-05-01"]; !ok {
		t.Fatalf("record missing: %v", lg.records)
	}
	for _, m := range []int{1, 2, 30, 59} {
		if d, _ := s.TickAt(context.Background(), at(18, m), false); d != DecisionAlreadyPublished {
			t.Errorf("tick at 18:%02d decision = %s", m, d)
		}
	}
	if tg.callCount() != 1 {
		t.Errorf("target calls = %d, want 1", tg.callCount())
	}
	// Next day publishes again.
	next := time.Date(2024, 5, 2, 18, 5, 0, 0, nyc)
	if d, _ := s.TickAt(context.Background(), next, false); d != DecisionAttempted {
		t.Errorf("next day decision = %s", d)
	}
}

func TestSchedulerOutsideWindow(t *testing.T) {
	tg := &fakeTarget{id: "x"}
	s := newScheduler(newMemStaging(), tg, newMemLog())
	for _, h := range []int{0, 9, 17, 19, 23} {
		if d, _ := s.TickAt(context.Background(), at(h, 0), false); d != DecisionOutsideWindow {
			t.Errorf("hour %d decision = %s", h, d)
		}
	}
}

func TestSchedulerUsesReferenceZone(t *testing.T) {
	lg := newMemLog()
	s := newScheduler(newMemStaging(), &fakeTarget{}, lg)
	// 22:00 UTC is 18:00 in New York during daylight saving time.
	utc := time.Date(2024, 5, 1, 22, 0, 0, 0, time.UTC)
	if d, _ := s.TickAt(context.Background(), utc, false); d != DecisionAttempted {
		t.Errorf("decision = %s", d)
	}
}

func TestSchedulerGateErrorSkips(t *testing.T) {
	st := newMemStaging()
	st.add(StagedItem{ID: "a", Name: "a.mp4", Trimmed: true}, "A")
	tg := &fakeTarget{id: "x"}
	lg := newMemLog()
	lg.hasErr = errors.New("drive 503")
	s := newScheduler(st, tg, lg)
	if d, _ := s.TickAt(context.Background(), at(18, 0), false); d != DecisionGateError {
		t.Errorf("decision = %s", d)
	}
	if tg.callCount() != 0 {
		t.Error("target must not be called when the record lookup fails")
	}
}

func TestSchedulerSlotProbability(t *testing.T) {
	st := newMemStaging()
	st.add(StagedItem{ID: "a", Name: "a.mp4", Trimmed: true}, "A")
	tg := &fakeTarget{id: "x"}
	s := newScheduler(st, tg, newMemLog())
	s.Window = Window{StartHour: 12, EndHour: 20}
	s.SlotProbability = 0.25
	draws := []float64{0.9, 0.5, 0.1}
	var i int
	s.draw = func() float64 { v := draws[i]; i++; return v }

	if d, _ := s.TickAt(context.Background(), at(12, 0), false); d != DecisionSlotSkipped {
		t.Errorf("first draw decision = %s", d)
	}
	if d, _ := s.TickAt(context.Background(), at(13, 0), false); d != DecisionSlotSkipped {
		t.Errorf("second draw decision = %s", d)
	}
	if d, _ := s.TickAt(context.Background(), at(14, 0), false); d != DecisionAttempted {
		t.Errorf("third draw decision = %s", d)
	}
}

func TestSchedulerDrawsOncePerHour(t *testing.T) {
	tg := &fakeTarget{id: "x"}
	s := newScheduler(newMemStaging(), tg, newMemLog())
	s.Window = Window{StartHour: 12, EndHour: 20}
	s.SlotProbability = 0.5
	var draws int
	s.draw = func() float64 { draws++; return 0.9 }

	for _, m := range []int{0, 1, 15, 59} {
		if d, _ := s.TickAt(context.Background(), at(12, m), false); d != DecisionSlotSkipped {
			t.Errorf("12:%02d decision = %s", m, d)
		}
	}
	if draws != 1 {
		t.Errorf("draws in one hour = %d, want 1", draws)
	}
	s.TickAt(context.Background(), at(13, 0), false)
	if draws != 2 {
		t.Errorf("draws after hour change = %d, want 2", draws)
	}
}

func TestSchedulerRecordFailureStillGatesDay(t *testing.T) {
	st := newMemStaging()
	st.add(StagedItem{ID: "a", Name: "a.mp4", Trimmed: true}, "A")
	st.add(StagedItem{ID: "b", Name: "b.mp4", Trimmed: true}, "B")
	tg := &fakeTarget{id: "yt"}
	lg := newMemLog()
	lg.recordErr = errors.New("drive 503")
	s := newScheduler(st, tg, lg)

	if d, a := s.TickAt(context.Background(), at(18, 0), false); d != DecisionAttempted || a.Outcome != OutcomePublished {
		t.Fatalf("first tick: %s %+v", d, a)
	}
	if d, _ := s.TickAt(context.Background(), at(18, 1), false); d != DecisionAlreadyPublished {
		t.Errorf("second tick decision = %s", d)
	}
	if tg.callCount() != 1 {
		t.Errorf("target calls = %d, want 1", tg.callCount())
	}
}

func TestSchedulerSurvivesRunnerPanic(t *testing.T) {
	var runs int32
	s := &Scheduler{
		Runner: funcRunner(func(context.Context, Trigger) Attempt {
			atomic.AddInt32(&runs, 1)
			panic("boom in workflow")
		}),
		Log:      newMemLog(),
		Location: nyc,
		Window:   Window{StartHour: 0, EndHour: 23},
		Interval: 5 * time.Millisecond,
	}
	if d, a := s.TickAt(context.Background(), at(18, 0), false); d != DecisionPanicked || a != nil {
		t.Errorf("decision=%s attempt=%+v", d, a)
	}
	// the lock is released, so the next tick runs again
	if d, _ := s.TickAt(context.Background(), at(18, 1), false); d != DecisionPanicked {
		t.Errorf("second decision = %s", d)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	s.StartSchedulerJob(ctx)
	if n := atomic.LoadInt32(&runs); n < 3 {
		t.Errorf("runs = %d, want the job to keep ticking", n)
	}
}

func TestForceWindowKeepsDailyGate(t *testing.T) {
	st := newMemStaging()
	st.add(StagedItem{ID: "a", Name: "a.mp4", Trimmed: true}, "A")
	st.add(StagedItem{ID: "b", Name: "b.mp4", Trimmed: true}, "B")
	tg := &fakeTarget{id: "x"}
	s := newScheduler(st, tg, newMemLog())
	s.now = func() time.Time { return at(3, 0) }

	if d, _ := s.ForceWindow(context.Background()); d != DecisionAttempted {
		t.Fatalf("forced decision = %s", d)
	}
	if d, _ := s.ForceWindow(context.Background()); d != DecisionAlreadyPublished {
		t.Errorf("second forced decision = %s", d)
	}
	if tg.callCount() != 1 {
		t.Errorf("target calls = %d", tg.callCount())
	}
}

func TestSchedulerTicksDoNotOverlap(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	var runs int32
	s := &Scheduler{
		Runner: funcRunner(func(ctx context.Context, trig Trigger) Attempt {
			atomic.AddInt32(&runs, 1)
			close(started)
			<-release
			return Attempt{Trigger: trig, Outcome: OutcomeEmptyQueue}
		}),
		Log:      newMemLog(),
		Location: nyc,
		Window:   Window{StartHour: 0, EndHour: 23},
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.TickAt(context.Background(), at(18, 0), false)
	}()
	<-started
	if d, _ := s.TickAt(context.Background(), at(18, 1), false); d != DecisionBusy {
		t.Errorf("overlapping tick decision = %s", d)
	}
	close(release)
	<-done
	if n := atomic.LoadInt32(&runs); n != 1 {
		t.Errorf("runs = %d", n)
	}
}

func TestStartSchedulerJobStopsOnCancel(t *testing.T) {
	var beats int32
	s := &Scheduler{
		Runner:    funcRunner(func(context.Context, Trigger) Attempt { return Attempt{} }),
		Log:       newMemLog(),
		Location:  nyc,
		Window:    Window{StartHour: 18, EndHour: 18},
		Interval:  10 * time.Millisecond,
		Heartbeat: func(context.Context) { atomic.AddInt32(&beats, 1) },
	}
	s.now = func() time.Time { return at(3, 0) }
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.StartSchedulerJob(ctx)
		close(done)
	}()
	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt32(&beats) < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	if atomic.LoadInt32(&beats) < 3 {
		t.Errorf("heartbeats = %d", beats)
	}
}

func TestSchedulerStatus(t *testing.T) {
	st := newMemStaging()
	st.add(StagedItem{ID: "a", Name: "a.mp4"}, "")
	st.add(StagedItem{ID: "b", Name: "b.mp4"}, "")
	lg := newMemLog()
	lg.records["2024-05-01"] = "vid"
	s := newScheduler(st, &fakeTarget{id: "x"}, lg)
	s.now = func() time.Time { return at(18, 5) }

	got, err := s.Status(context.Background(), st)
	if err != nil {
		t.Fatal(err)
	}
	if got.Day != "2024-05-01" || !got.PublishedToday || !got.InWindow || got.Staged != 2 || got.Timezone != "America/New_York" {
		t.Errorf("status = %+v", got)
	}
	if out := got.String(); !strings.Contains(out, "Published today: yes") || !strings.Contains(out, "Staged videos: 2") {
		t.Errorf("rendered = %q", out)
	}

	lg.hasErr = errors.New("drive down")
	if _, err := s.Status(context.Background(), nil); err == nil {
		t.Error("record lookup error should surface")
	}
}
