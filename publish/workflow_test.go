package publish

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"
)

func newTestWorkflow(t *testing.T, st *memStaging, tg *fakeTarget, lg *memLog, n *recNotifier) *Workflow {
	t.Helper()
	opts := testOptions()
	opts.TempDir = t.TempDir()
	deps := Deps{Staging: st, Target: tg, Log: lg}
	if n != nil {
		deps.Notifier = n
	}
	return NewWorkflow(deps, opts)
}

func TestManualPublishCat(t *testing.T) {
	st := newMemStaging()
	st.add(StagedItem{ID: "f1", Name: "cat.mp4", RawMetadata: `{"title":"Cat","description":"","hashtags":"#cat"}`, Trimmed: true}, "video")
	tg := &fakeTarget{id: "abc123"}
	lg := newMemLog()
	n := &recNotifier{}
	w := newTestWorkflow(t, st, tg, lg, n)

	a := w.PublishNow(context.Background(), 42)

	if a.Outcome != OutcomePublished {
		t.Fatalf("outcome = %s err=%v", a.Outcome, a.Err)
	}
	if len(tg.calls) != 1 {
		t.Fatalf("target calls = %d", len(tg.calls))
	}
	v := tg.calls[0]
	if v.Title != "Cat #shorts" {
		t.Errorf("title = %q", v.Title)
	}
	if !strings.Contains(v.Description, "#cat") {
		t.Errorf("description missing hashtags: %q", v.Description)
	}
	if v.CategoryID != "24" || v.Privacy != "public" {
		t.Errorf("category/privacy = %s/%s", v.CategoryID, v.Privacy)
	}
	if tg.bodies[0] != "video" {
		t.Errorf("media = %q", tg.bodies[0])
	}
	if st.has("f1") {
		t.Error("item should be deleted after publish")
	}
	msgs := n.to(42)
	if len(msgs) == 0 || !strings.Contains(msgs[len(msgs)-1], "abc123") {
		t.Errorf("reply missing video id: %v", msgs)
	}
	if len(lg.records) != 0 {
		t.Errorf("manual publish must not write a record: %v", lg.records)
	}
}

func TestRunKeepsItemOnFailure(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(st *memStaging, tg *fakeTarget)
		trim    error
		want    Outcome
		trimmed bool
	}{
		{name: "list error", setup: func(st *memStaging, _ *fakeTarget) { st.listErr = errors.New("drive down") }, want: OutcomeStagingFailed, trimmed: true},
		{name: "open error", setup: func(st *memStaging, _ *fakeTarget) { st.openErr = errors.New("drive down") }, want: OutcomeStagingFailed, trimmed: true},
		{name: "upload error", setup: func(_ *memStaging, tg *fakeTarget) { tg.err = errors.New("quota") }, want: OutcomeUploadFailed, trimmed: true},
		{name: "empty id", setup: func(_ *memStaging, tg *fakeTarget) { tg.id = "" }, want: OutcomeUnconfirmed, trimmed: true},
		{name: "empty id error", setup: func(_ *memStaging, tg *fakeTarget) { tg.err = ErrEmptyID }, want: OutcomeUnconfirmed, trimmed: true},
		{name: "trim error", setup: func(*memStaging, *fakeTarget) {}, trim: errors.New("ffmpeg exit 1"), want: OutcomeTransformFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := newMemStaging()
			st.add(StagedItem{ID: "f1", Name: "a.mp4", Trimmed: tt.trimmed}, "video")
			tg := &fakeTarget{id: "vid"}
			tt.setup(st, tg)
			lg := newMemLog()
			opts := testOptions()
			opts.TempDir = t.TempDir()
			w := NewWorkflow(Deps{Staging: st, Target: tg, Log: lg, Transformer: &prefixTransformer{err: tt.trim}}, opts)

			a := w.Run(context.Background(), Trigger{Kind: TriggerScheduled, Date: "2024-05-01"})

			if a.Outcome != tt.want {
				t.Fatalf("outcome = %s, want %s (err=%v)", a.Outcome, tt.want, a.Err)
			}
			if a.Err == nil {
				t.Error("expected an error on the attempt")
			}
			if !st.has("f1") || len(st.deleted) != 0 {
				t.Error("item must remain staged")
			}
			if len(lg.records) != 0 {
				t.Errorf("no record expected, got %v", lg.records)
			}
		})
	}
}

func TestManualFailureThenRetrySucceeds(t *testing.T) {
	st := newMemStaging()
	st.add(StagedItem{ID: "f1", Name: "dog.mp4", Trimmed: true}, "video")
	tg := &fakeTarget{err: errors.New("youtube 500")}
	lg := newMemLog()
	n := &recNotifier{}
	w := newTestWorkflow(t, st, tg, lg, n)

	a := w.PublishNow(context.Background(), 7)
	if a.Outcome != OutcomeUploadFailed {
		t.Fatalf("outcome = %s", a.Outcome)
	}
	if !st.has("f1") {
		t.Fatal("item lost after failed upload")
	}
	msgs := n.to(7)
	if len(msgs) == 0 || !strings.Contains(msgs[len(msgs)-1], "failed") {
		t.Fatalf("failure not reported: %v", msgs)
	}

	tg.mu.Lock()
	tg.err, tg.id = nil, "ok1"
	tg.mu.Unlock()
	a = w.PublishNow(context.Background(), 7)
	if a.Outcome != OutcomePublished || a.VideoID != "ok1" {
		t.Fatalf("retry outcome = %s id=%s", a.Outcome, a.VideoID)
	}
	if st.has("f1") {
		t.Error("item should be deleted after successful retry")
	}
	if len(lg.records) != 0 {
		t.Error("manual runs never write records")
	}
}

func TestScheduledRunRecordsAndNotifiesOriginator(t *testing.T) {
	st := newMemStaging()
	st.add(StagedItem{ID: "f1", Name: "x.mp4", RawMetadata: `{"title":"Fox","userId":99}`, Trimmed: true}, "v")
	tg := &fakeTarget{id: "yt1"}
	lg := newMemLog()
	n := &recNotifier{}
	w := newTestWorkflow(t, st, tg, lg, n)

	a := w.Run(context.Background(), Trigger{Kind: TriggerScheduled, Date: "2024-05-01"})
	if a.Outcome != OutcomePublished {
		t.Fatalf("outcome = %s", a.Outcome)
	}
	if lg.records["2024-05-01"] != "yt1" {
		t.Errorf("record = %v", lg.records)
	}
	msgs := n.to(99)
	if len(msgs) != 1 || !strings.Contains(msgs[0], VideoURL("yt1")) {
		t.Errorf("originator messages = %v", msgs)
	}
}

func TestEmptyQueue(t *testing.T) {
	lg := newMemLog()
	n := &recNotifier{}
	tg := &fakeTarget{id: "x"}
	w := newTestWorkflow(t, newMemStaging(), tg, lg, n)
	a := w.PublishNow(context.Background(), 5)
	if a.Outcome != OutcomeEmptyQueue || a.Failed() {
		t.Fatalf("outcome = %s", a.Outcome)
	}
	if tg.callCount() != 0 {
		t.Error("target must not be called")
	}
	if msgs := n.to(5); len(msgs) != 1 || !strings.Contains(msgs[0], "empty") {
		t.Errorf("messages = %v", msgs)
	}
}

func TestRunSkipsClaimedItems(t *testing.T) {
	st := newMemStaging()
	st.add(StagedItem{ID: "a", Name: "a.mp4", Trimmed: true}, "A")
	st.add(StagedItem{ID: "b", Name: "b.mp4", Trimmed: true}, "B")
	claims := NewMemoryClaims()
	if ok, _ := claims.Claim(context.Background(), "a", "other", time.Hour); !ok {
		t.Fatal("setup claim failed")
	}
	tg := &fakeTarget{id: "v"}
	w := NewWorkflow(Deps{Staging: st, Target: tg, Log: newMemLog(), Claims: claims}, testOptions())

	a := w.Run(context.Background(), Trigger{Kind: TriggerManual})
	if a.Outcome != OutcomePublished || a.Item.ID != "b" {
		t.Fatalf("outcome = %s item=%v", a.Outcome, a.Item)
	}
	if !st.has("a") {
		t.Error("claimed item must not be touched")
	}

	a = w.Run(context.Background(), Trigger{Kind: TriggerManual})
	if a.Outcome != OutcomeEmptyQueue || !a.Busy {
		t.Fatalf("outcome = %s busy=%v", a.Outcome, a.Busy)
	}
}

func TestConcurrentRunsNeverShareAnItem(t *testing.T) {
	st := newMemStaging()
	st.add(StagedItem{ID: "only", Name: "o.mp4", Trimmed: true}, "O")
	block := make(chan struct{})
	tg := &fakeTarget{id: "v1", block: block}
	w := newTestWorkflow(t, st, tg, newMemLog(), nil)

	done := make(chan Attempt)
	go func() { done <- w.Run(context.Background(), Trigger{Kind: TriggerManual}) }()
	deadline := time.Now().Add(2 * time.Second)
	for tg.callCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("first run never reached the target")
		}
		time.Sleep(5 * time.Millisecond)
	}

	second := w.Run(context.Background(), Trigger{Kind: TriggerManual})
	if second.Outcome != OutcomeEmptyQueue || !second.Busy {
		t.Errorf("second run outcome = %s busy=%v", second.Outcome, second.Busy)
	}
	close(block)
	if first := <-done; first.Outcome != OutcomePublished {
		t.Errorf("first run outcome = %s", first.Outcome)
	}
	if tg.callCount() != 1 {
		t.Errorf("target calls = %d", tg.callCount())
	}
}

func TestUniformSelection(t *testing.T) {
	st := newMemStaging()
	ids := []string{"a", "b", "c", "d"}
	for _, id := range ids {
		st.add(StagedItem{ID: id, Name: id + ".mp4"}, id)
	}
	items, _ := st.ListVideos(context.Background())
	w := newTestWorkflow(t, st, &fakeTarget{}, newMemLog(), nil)

	const draws = 8000
	counts := map[string]int{}
	for i := 0; i < draws; i++ {
		it, err := w.claimRandom(context.Background(), items, "owner")
		if err != nil || it == nil {
			t.Fatalf("claim: %v %v", it, err)
		}
		counts[it.ID]++
		_ = w.deps.Claims.Release(context.Background(), it.ID, "owner")
	}
	want := draws / len(ids)
	for _, id := range ids {
		if c := counts[id]; c < want*85/100 || c > want*115/100 {
			t.Errorf("item %s chosen %d times, want about %d", id, c, want)
		}
	}
}

func TestUntrimmedItemIsTrimmedAndTempFilesRemoved(t *testing.T) {
	st := newMemStaging()
	st.add(StagedItem{ID: "raw", Name: "raw.mov"}, "source")
	tg := &fakeTarget{id: "v"}
	tr := &prefixTransformer{}
	opts := testOptions()
	opts.TempDir = t.TempDir()
	w := NewWorkflow(Deps{Staging: st, Target: tg, Log: newMemLog(), Transformer: tr}, opts)

	a := w.Run(context.Background(), Trigger{Kind: TriggerManual})
	if a.Outcome != OutcomePublished {
		t.Fatalf("outcome = %s err=%v", a.Outcome, a.Err)
	}
	if tg.bodies[0] != "trimmed:source" {
		t.Errorf("uploaded %q", tg.bodies[0])
	}
	for _, p := range tr.seen {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Errorf("temp file %s left behind", p)
		}
	}
}

func TestTrimFailureRemovesTempFiles(t *testing.T) {
	st := newMemStaging()
	st.add(StagedItem{ID: "raw", Name: "raw.mov"}, "source")
	tr := &prefixTransformer{err: errors.New("boom")}
	opts := testOptions()
	opts.TempDir = t.TempDir()
	w := NewWorkflow(Deps{Staging: st, Target: &fakeTarget{id: "v"}, Log: newMemLog(), Transformer: tr}, opts)

	if a := w.Run(context.Background(), Trigger{Kind: TriggerManual}); a.Outcome != OutcomeTransformFailed {
		t.Fatalf("outcome = %s", a.Outcome)
	}
	entries, _ := os.ReadDir(opts.TempDir)
	if len(entries) != 0 {
		t.Errorf("temp dir not empty: %d entries", len(entries))
	}
}

func TestOperatorNotifiedOncePerDay(t *testing.T) {
	st := newMemStaging()
	st.add(StagedItem{ID: "f", Name: "f.mp4", Trimmed: true}, "x")
	n := &recNotifier{}
	opts := testOptions()
	opts.OperatorChatID = 1000
	w := NewWorkflow(Deps{Staging: st, Target: &fakeTarget{err: errors.New("down")}, Log: newMemLog(), Notifier: n}, opts)

	for i := 0; i < 3; i++ {
		w.Run(context.Background(), Trigger{Kind: TriggerScheduled, Date: "2024-05-01"})
	}
	w.Run(context.Background(), Trigger{Kind: TriggerScheduled, Date: "2024-05-02"})
	if msgs := n.to(1000); len(msgs) != 2 {
		t.Errorf("operator messages = %d, want 2: %v", len(msgs), msgs)
	}
}

func TestPrivateScheduledRelease(t *testing.T) {
	st := newMemStaging()
	st.add(StagedItem{ID: "f", Name: "f.mp4", Trimmed: true}, "x")
	tg := &fakeTarget{id: "v"}
	opts := testOptions()
	opts.Privacy = "private"
	opts.PublishAtDelay = time.Hour
	w := NewWorkflow(Deps{Staging: st, Target: tg, Log: newMemLog()}, opts)
	fixed := time.Date(2024, 5, 1, 22, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return fixed }

	w.Run(context.Background(), Trigger{Kind: TriggerManual})
	if got := tg.calls[0].PublishAt; !got.Equal(fixed.Add(time.Hour)) {
		t.Errorf("publishAt = %v", got)
	}
}
