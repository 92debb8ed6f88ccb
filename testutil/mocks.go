package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// MockServer is a test server with per-path handlers. Requests with no
// matching handler go to Fallback, or get a 404.
type MockServer struct {
	*httptest.Server

	mu       sync.Mutex
	Handlers map[string]http.HandlerFunc
	Fallback http.HandlerFunc
	hits     map[string]int
}

// NewMockServer creates a new mock API server.
func NewMockServer(t *testing.T) *MockServer {
	t.Helper()
	m := &MockServer{
		Handlers: make(map[string]http.HandlerFunc),
		hits:     make(map[string]int),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		m.hits[r.URL.Path]++
		handler, ok := m.Handlers[r.URL.Path]
		fallback := m.Fallback
		m.mu.Unlock()
		switch {
		case ok:
			handler(w, r)
		case fallback != nil:
			fallback(w, r)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(m.Close)
	return m
}

// Handle registers fn for an exact path.
func (m *MockServer) Handle(path string, fn http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Handlers[path] = fn
}

// Hits returns how many requests reached path.
func (m *MockServer) Hits(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hits[path]
}

// MockTelegramFiles serves every path under /file/ with the body
// "video-bytes:<rest of path>", standing in for the Bot API file host.
func (m *MockServer) MockTelegramFiles() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Fallback = func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/file/") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = io.WriteString(w, "video-bytes:"+strings.TrimPrefix(r.URL.Path, "/file/"))
	}
}

// MockOAuthTokenResponse adds a handler for the OAuth token endpoint.
func (m *MockServer) MockOAuthTokenResponse(accessToken string, expiresIn int) {
	m.Handle("/token", func(w http.ResponseWriter, r *http.Request) {
		response := map[string]any{
			"access_token": accessToken,
			"expires_in":   expiresIn,
			"token_type":   "Bearer",
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response) //nolint:errcheck // test mock response
	})
}
