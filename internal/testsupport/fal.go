package testsupport

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"tryon/internal/config"
	"tryon/internal/services/fal"
)

// FalServer is an in-process stand-in for the fal.ai synchronous and queue
// APIs. Pair it with WithFalURL.
type FalServer struct {
	*httptest.Server

	mu           sync.Mutex
	resultURL    string
	failStatus   int
	failBody     string
	pendingPolls int
	polls        map[string]int
	runs         int
	submits      int
	cancels      int
	inputs       []map[string]any
	runGate      chan struct{}
	runStarted   chan struct{}
}

// NewFalServer starts a fake fal.ai server that completes every request with
// resultURL.
func NewFalServer(t testing.TB) *FalServer {
	t.Helper()
	f := &FalServer{
		resultURL: "https://cdn.fal.example/result.png",
		polls:     make(map[string]int),
	}
	f.Server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.Server.Close)
	return f
}

// ResultURL returns the image URL completed requests report.
func (f *FalServer) ResultURL() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resultURL
}

// Fail makes run and submit calls answer with status and body. A zero status
// restores success.
func (f *FalServer) Fail(status int, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failStatus = status
	f.failBody = body
}

// SetPendingPolls sets how many status polls report IN_PROGRESS before a
// queued request completes.
func (f *FalServer) SetPendingPolls(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pendingPolls = n
}

// HoldRuns makes synchronous run calls wait until release is called. started
// receives once for every held call. release is safe to call more than once.
func (f *FalServer) HoldRuns() (started <-chan struct{}, release func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	gate := make(chan struct{})
	signal := make(chan struct{}, 16)
	f.runGate = gate
	f.runStarted = signal
	var once sync.Once
	return signal, func() {
		once.Do(func() {
			f.mu.Lock()
			f.runGate = nil
			f.runStarted = nil
			f.mu.Unlock()
			close(gate)
		})
	}
}

// Counts reports how many run, submit and cancel calls were received.
func (f *FalServer) Counts() (runs, submits, cancels int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runs, f.submits, f.cancels
}

// LastInput returns the most recent model input received, or nil.
func (f *FalServer) LastInput() map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.inputs) == 0 {
		return nil
	}
	return f.inputs[len(f.inputs)-1]
}

func (f *FalServer) serve(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost && strings.HasPrefix(r.URL.Path, "/run/") {
		f.waitForRunGate(r)
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	path := r.URL.Path
	switch {
	case r.Method == http.MethodPost && strings.HasPrefix(path, "/run/"):
		f.runs++
		var body struct {
			Input map[string]any `json:"input"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.inputs = append(f.inputs, body.Input)
		if f.writeFailure(w) {
			return
		}
		f.writeResult(w, "")
	case r.Method == http.MethodPost && strings.HasPrefix(path, "/queue/"):
		f.submits++
		var input map[string]any
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &input)
		f.inputs = append(f.inputs, input)
		if f.writeFailure(w) {
			return
		}
		id := fmt.Sprintf("req-%d", f.submits)
		base := f.Server.URL + "/queue/fal-ai/image-apps-v2/requests/" + id
		_ = json.NewEncoder(w).Encode(map[string]any{
			"request_id":   id,
			"status_url":   base + "/status",
			"response_url": base,
			"cancel_url":   base + "/cancel",
		})
	case r.Method == http.MethodGet && strings.HasSuffix(path, "/status"):
		id := requestID(strings.TrimSuffix(path, "/status"))
		f.polls[id]++
		status := "COMPLETED"
		if f.polls[id] <= f.pendingPolls {
			status = "IN_PROGRESS"
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"status": status, "queue_position": 0})
	case r.Method == http.MethodPut && strings.HasSuffix(path, "/cancel"):
		f.cancels++
		w.WriteHeader(http.StatusAccepted)
		_, _ = io.WriteString(w, `{"status":"CANCELLATION_REQUESTED"}`)
	case r.Method == http.MethodGet && strings.Contains(path, "/requests/"):
		f.writeResult(w, requestID(path))
	default:
		http.NotFound(w, r)
	}
}

func (f *FalServer) waitForRunGate(r *http.Request) {
	f.mu.Lock()
	gate, started := f.runGate, f.runStarted
	f.mu.Unlock()
	if gate == nil {
		return
	}
	select {
	case started <- struct{}{}:
	default:
	}
	select {
	case <-gate:
	case <-r.Context().Done():
	}
}

func (f *FalServer) writeFailure(w http.ResponseWriter) bool {
	if f.failStatus == 0 {
		return false
	}
	w.WriteHeader(f.failStatus)
	_, _ = io.WriteString(w, f.failBody)
	return true
}

func (f *FalServer) writeResult(w http.ResponseWriter, id string) {
	payload := map[string]any{
		"images":  []map[string]any{{"url": f.resultURL, "content_type": "image/png", "width": 768, "height": 1024}},
		"timings": map[string]any{"inference": 2.5},
	}
	if id != "" {
		payload["request_id"] = id
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func requestID(path string) string {
	return path[strings.LastIndex(path, "/")+1:]
}

// NewFalClient builds a fal client for cfg that never sleeps and never retries.
func NewFalClient(cfg *config.Config) *fal.Client {
	return fal.NewClient(fal.ConfigFrom(cfg), fal.WithSleeper(func(time.Duration) {}), fal.WithRetryMaxAttempts(1))
}
