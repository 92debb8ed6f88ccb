package publish

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"time"
)

type memStaging struct {
	mu      sync.Mutex
	items   map[string]StagedItem
	data    map[string][]byte
	order   []string
	listErr error
	openErr error
	deleted []string
}

func newMemStaging() *memStaging {
	return &memStaging{items: map[string]StagedItem{}, data: map[string][]byte{}}
}

func (m *memStaging) add(it StagedItem, body string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[it.ID] = it
	m.data[it.ID] = []byte(body)
	m.order = append(m.order, it.ID)
}

func (m *memStaging) ListVideos(context.Context) ([]StagedItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	out := make([]StagedItem, 0, len(m.items))
	for _, id := range m.order {
		if it, ok := m.items[id]; ok {
			out = append(out, it)
		}
	}
	return out, nil
}

func (m *memStaging) Open(_ context.Context, id string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.openErr != nil {
		return nil, m.openErr
	}
	b, ok := m.data[id]
	if !ok {
		return nil, errors.New("file not found")
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memStaging) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, id)
	m.deleted = append(m.deleted, id)
	return nil
}

func (m *memStaging) has(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.items[id]
	return ok
}

type fakeTarget struct {
	mu     sync.Mutex
	calls  []Video
	bodies []string
	id     string
	err    error
	block  chan struct{} // when set, Publish waits for it to close
}

func (f *fakeTarget) Publish(ctx context.Context, media io.Reader, v Video) (string, error) {
	b, _ := io.ReadAll(media)
	f.mu.Lock()
	f.calls = append(f.calls, v)
	f.bodies = append(f.bodies, string(b))
	block, id, err := f.block, f.id, f.err
	f.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return id, err
}

func (f *fakeTarget) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type memLog struct {
	mu      sync.Mutex
	records   map[string]string
	hasErr    error
	recordErr error
}

func newMemLog() *memLog { return &memLog{records: map[string]string{}} }

func (l *memLog) Has(_ context.Context, day string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.hasErr != nil {
		return false, l.hasErr
	}
	_, ok := l.records[day]
	return ok, nil
}

func (l *memLog) Record(_ context.Context, day, videoID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.recordErr != nil {
		return l.recordErr
	}
	l.records[day] = videoID
	return nil
}

type sentMessage struct {
	chatID int64
	text   string
}

type recNotifier struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (r *recNotifier) Notify(_ context.Context, chatID int64, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sentMessage{chatID, text})
	return nil
}

func (r *recNotifier) to(chatID int64) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, m := range r.sent {
		if m.chatID == chatID {
			out = append(out, m.text)
		}
	}
	return out
}

// prefixTransformer writes "trimmed:" + input to out.
type prefixTransformer struct {
	err  error
	seen []string
}

func (p *prefixTransformer) Trim(_ context.Context, in, out string) error {
	p.seen = append(p.seen, in, out)
	if p.err != nil {
		return p.err
	}
	b, err := os.ReadFile(in)
	if err != nil {
		return err
	}
	return os.WriteFile(out, append([]byte("trimmed:"), b...), 0o600)
}

type funcRunner func(ctx context.Context, trig Trigger) Attempt

func (f funcRunner) Run(ctx context.Context, trig Trigger) Attempt { return f(ctx, trig) }

func testOptions() Options {
	return Options{
		MarkerTag:       "#shorts",
		DefaultHashtags: "#shorts",
		PromoSuffix:     "Satisfying video #shorts",
		Tags:            []string{"shorts"},
		StagingTimeout:  time.Second,
		UploadTimeout:   5 * time.Second,
	}
}
