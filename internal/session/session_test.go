package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/ashureev/chatwidget/internal/backend"
	"github.com/ashureev/chatwidget/internal/config"
	"github.com/ashureev/chatwidget/internal/domain"
	"github.com/ashureev/chatwidget/internal/identity"
	"github.com/ashureev/chatwidget/internal/speech"
	"github.com/ashureev/chatwidget/internal/storage"
	"github.com/ashureev/chatwidget/internal/store"
	"github.com/ashureev/chatwidget/internal/widget"
)

type echoBackend struct{}

func (echoBackend) Chat(_ context.Context, message, _ string) (backend.Reply, error) {
	return backend.Reply{Text: "echo: " + message}, nil
}

type countingHooks struct {
	active      atomic.Int64
	subscribers atomic.Int64
	reaped      atomic.Int64
}

func (h *countingHooks) SetActiveEngines(n int) { h.active.Store(int64(n)) }
func (h *countingHooks) AddSubscribers(d int) { h.subscribers.Add(int64(d)) }
func (h *countingHooks) EnginesReaped(n int) { h.reaped.Add(int64(n)) }

func testFactory(provider storage.Provider, created *atomic.Int64) Factory {
	profile := config.DefaultProfile(config.ChatConfig{Model: "model-a", ModelLabel: "Model A"})
	return func(ctx context.Context, visitorID string, rec speech.Recognizer) (*widget.Engine, error) {
		if created != nil {
			created.Add(1)
		}
		return widget.New(ctx, widget.Deps{
			Storage: provider.ForVisitor(visitorID),
			Backend: echoBackend{},
			Speech:  rec,
			Profile: profile,
		}, widget.Options{RevealInterval: time.Millisecond, InactivityWindow: time.Hour})
	}
}

func TestRegistry_SharesEngineAcrossTabs(t *testing.T) {
	var created atomic.Int64
	hooks := &countingHooks{}
	reg := NewRegistry(testFactory(storage.NewMemoryProvider(), &created), hooks)
	defer reg.Close()

	a, releaseA, err := reg.Acquire(context.Background(), "anon_1")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	b, releaseB, err := reg.Acquire(context.Background(), "anon_1")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if a.Engine != b.Engine || a.Relay != b.Relay {
		t.Fatal("expected tabs of one visitor to share the engine")
	}
	if created.Load() != 1 {
		t.Errorf("expected one engine built, got %d", created.Load())
	}
	if reg.Subscribers("anon_1") != 2 || hooks.subscribers.Load() != 2 {
		t.Errorf("expected 2 subscribers, got %d (hook %d)", reg.Subscribers("anon_1"), hooks.subscribers.Load())
	}

	releaseA()
	releaseA()
	releaseB()
	if reg.Subscribers("anon_1") != 0 || hooks.subscribers.Load() != 0 {
		t.Errorf("expected subscribers released once each, got %d", reg.Subscribers("anon_1"))
	}
}

func TestRegistry_SeparatesVisitors(t *testing.T) {
	reg := NewRegistry(testFactory(storage.NewMemoryProvider(), nil), nil)
	defer reg.Close()

	a, err := reg.Get(context.Background(), "anon_a")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	b, err := reg.Get(context.Background(), "anon_b")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if a.Engine == b.Engine {
		t.Fatal("expected distinct engines per visitor")
	}
	if reg.Len() != 2 {
		t.Errorf("expected 2 engines, got %d", reg.Len())
	}
}

func TestRegistry_ConcurrentGet(t *testing.T) {
	var created atomic.Int64
	reg := NewRegistry(testFactory(storage.NewMemoryProvider(), &created), nil)
	defer reg.Close()

	var wg sync.WaitGroup
	engines := make([]*widget.Engine, 20)
	for i := range engines {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := reg.Get(context.Background(), "anon_same")
			if err != nil {
				t.Errorf("Get failed: %v", err)
				return
			}
			engines[i] = s.Engine
		}(i)
	}
	wg.Wait()

	for _, e := range engines[1:] {
		if e != engines[0] {
			t.Fatal("concurrent Get returned different engines")
		}
	}
	if reg.Len() != 1 {
		t.Errorf("expected a single live engine, got %d", reg.Len())
	}
}

func TestRegistry_ReapSkipsSubscribedAndRecent(t *testing.T) {
	hooks := &countingHooks{}
	provider := storage.NewMemoryProvider()
	reg := NewRegistry(testFactory(provider, nil), hooks)
	defer reg.Close()

	now := time.Now()
	reg.now = func() time.Time { return now }

	idle, err := reg.Get(context.Background(), "anon_idle")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if err := idle.Engine.Send(context.Background(), "persist me"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	waitIdle(t, idle.Engine, 3)

	_, release, err := reg.Acquire(context.Background(), "anon_watching")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer release()

	now = now.Add(time.Hour)
	if _, err := reg.Get(context.Background(), "anon_recent"); err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	if n := reg.Reap(30 * time.Minute); n != 1 {
		t.Fatalf("expected 1 engine reaped, got %d", n)
	}
	if reg.Len() != 2 || hooks.reaped.Load() != 1 {
		t.Errorf("unexpected registry state: len=%d reaped=%d", reg.Len(), hooks.reaped.Load())
	}
	if err := idle.Engine.Send(context.Background(), "again"); !errors.Is(err, widget.ErrClosed) {
		t.Errorf("expected reaped engine closed, got %v", err)
	}

	rebuilt, err := reg.Get(context.Background(), "anon_idle")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if n := len(rebuilt.Engine.State().Messages); n != 3 {
		t.Errorf("expected rebuilt engine to restore 3 messages, got %d", n)
	}
}

func TestRegistry_CloseRejectsLookups(t *testing.T) {
	reg := NewRegistry(testFactory(storage.NewMemoryProvider(), nil), nil)
	s, err := reg.Get(context.Background(), "anon_x")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	reg.Close()

	if _, err := reg.Get(context.Background(), "anon_x"); !errors.Is(err, widget.ErrClosed) {
		t.Errorf("expected ErrClosed after Close, got %v", err)
	}
	if err := s.Engine.Send(context.Background(), "hi"); !errors.Is(err, widget.ErrClosed) {
		t.Errorf("expected engine closed, got %v", err)
	}
}

func TestSendLimiter(t *testing.T) {
	l := NewSendLimiter(2, time.Minute)
	if !l.Allow("a") || !l.Allow("a") {
		t.Fatal("expected burst of 2 allowed")
	}
	if l.Allow("a") {
		t.Fatal("expected third send limited")
	}
	if !l.Allow("b") {
		t.Fatal("expected other visitor unaffected")
	}
	if n := l.Prune(); n != 2 {
		t.Errorf("expected fresh limiters kept, got %d", n)
	}

	unlimited := NewSendLimiter(0, time.Minute)
	for i := 0; i < 100; i++ {
		if !unlimited.Allow("a") {
			t.Fatal("expected disabled limiter to allow everything")
		}
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{widget.ErrEmptyMessage, http.StatusBadRequest, "empty_message"},
		{widget.ErrBusy, http.StatusConflict, "busy"},
		{ErrRateLimited, http.StatusTooManyRequests, "rate_limited"},
		{widget.ErrUnknownModel, http.StatusBadRequest, "unknown_model"},
		{errors.New("boom"), http.StatusInternalServerError, "internal"},
	}
	for _, tt := range tests {
		status, code := Classify(tt.err)
		if status != tt.status || code != tt.code {
			t.Errorf("Classify(%v) = %d %s, want %d %s", tt.err, status, code, tt.status, tt.code)
		}
	}
}

func TestReaper_RunOnceDeletesIdleVisitors(t *testing.T) {
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "reaper.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	defer func() { _ = repo.Close() }()

	ctx := context.Background()
	old := time.Now().Add(-48 * time.Hour)
	if err := repo.UpsertVisitor(ctx, &domain.Visitor{VisitorID: "anon_old", LastSeenAt: old, CreatedAt: old, UpdatedAt: old}); err != nil {
		t.Fatalf("UpsertVisitor failed: %v", err)
	}
	now := time.Now()
	if err := repo.UpsertVisitor(ctx, &domain.Visitor{VisitorID: "anon_new", LastSeenAt: now, CreatedAt: now, UpdatedAt: now}); err != nil {
		t.Fatalf("UpsertVisitor failed: %v", err)
	}

	reg := NewRegistry(testFactory(storage.NewRepositoryProvider(repo), nil), nil)
	defer reg.Close()

	reaper, err := NewReaper(reg, repo, NewSendLimiter(10, time.Minute), ReaperConfig{
		Cron:             "*/5 * * * *",
		EngineIdleTTL:    time.Minute,
		VisitorRetention: 24 * time.Hour,
	}, nil)
	if err != nil {
		t.Fatalf("NewReaper failed: %v", err)
	}

	_, deleted := reaper.RunOnce(ctx)
	if deleted != 1 {
		t.Fatalf("expected 1 visitor deleted, got %d", deleted)
	}
	if v, _ := repo.GetVisitor(ctx, "anon_old"); v != nil {
		t.Error("expected old visitor removed")
	}
	if v, _ := repo.GetVisitor(ctx, "anon_new"); v == nil {
		t.Error("expected recent visitor kept")
	}
}

func TestNewReaper_RejectsBadCron(t *testing.T) {
	reg := NewRegistry(testFactory(storage.NewMemoryProvider(), nil), nil)
	defer reg.Close()
	if _, err := NewReaper(reg, nil, nil, ReaperConfig{Cron: "not a cron"}, nil); err == nil {
		t.Fatal("expected invalid cron rejected")
	}
}

func waitIdle(t *testing.T, e *widget.Engine, messages int) widget.State {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		st := e.State()
		if st.Phase == widget.PhaseIdle && len(st.Messages) == messages {
			return st
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d messages, have %d (phase %s)", messages, len(st.Messages), st.Phase)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// withVisitor stands in for identity.Middleware.
func withVisitor(id string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(identity.WithVisitorID(r.Context(), id)))
	})
}

func readFrame(t *testing.T, ctx context.Context, conn *websocket.Conn) serverFrame {
	t.Helper()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var f serverFrame
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("decode frame %s: %v", data, err)
	}
	return f
}

func writeFrame(t *testing.T, ctx context.Context, conn *websocket.Conn, f clientFrame) {
	t.Helper()
	data, _ := json.Marshal(f)
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

// readUntil reads frames until match returns true.
func readUntil(t *testing.T, ctx context.Context, conn *websocket.Conn, match func(serverFrame) bool) serverFrame {
	t.Helper()
	for {
		f := readFrame(t, ctx, conn)
		if match(f) {
			return f
		}
	}
}

func TestWebSocketHandler_SendAndVoice(t *testing.T) {
	reg := NewRegistry(testFactory(storage.NewMemoryProvider(), nil), nil)
	defer reg.Close()

	h := NewWebSocketHandler(reg, nil, NewSendLimiter(100, time.Minute), nil, nil, true)
	srv := httptest.NewServer(withVisitor("anon_ws", h))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	first := readFrame(t, ctx, conn)
	if first.Type != "state" || first.State == nil || len(first.State.Messages) != 1 {
		t.Fatalf("expected initial state frame, got %+v", first)
	}

	writeFrame(t, ctx, conn, clientFrame{Type: "ping"})
	readUntil(t, ctx, conn, func(f serverFrame) bool { return f.Type == "pong" })

	writeFrame(t, ctx, conn, clientFrame{Type: "send", Text: "hello"})
	done := readUntil(t, ctx, conn, func(f serverFrame) bool {
		return f.Type == "state" && f.State.Phase == widget.PhaseIdle && len(f.State.Messages) == 3
	})
	if got := done.State.Messages[2].Text; got != "echo: hello" {
		t.Errorf("unexpected reply %q", got)
	}

	writeFrame(t, ctx, conn, clientFrame{Type: "send", Text: "   "})
	errFrame := readUntil(t, ctx, conn, func(f serverFrame) bool { return f.Type == "error" })
	if errFrame.Code != "empty_message" {
		t.Errorf("expected empty_message error, got %+v", errFrame)
	}

	supported := true
	writeFrame(t, ctx, conn, clientFrame{Type: "voice_capability", Supported: &supported})
	writeFrame(t, ctx, conn, clientFrame{Type: "voice_start"})

	sess, err := reg.Get(ctx, "anon_ws")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	deadline := time.Now().Add(3 * time.Second)
	for !sess.Relay.Deliver("spoken", nil) {
		if time.Now().After(deadline) {
			t.Fatal("voice recognition never started")
		}
		time.Sleep(5 * time.Millisecond)
	}
	voiced := readUntil(t, ctx, conn, func(f serverFrame) bool {
		return f.Type == "state" && f.State.Phase == widget.PhaseIdle && len(f.State.Messages) == 5
	})
	if voiced.State.Messages[3].Text != "spoken" {
		t.Errorf("expected spoken text sent, got %q", voiced.State.Messages[3].Text)
	}
}

func TestWebSocketHandler_RateLimited(t *testing.T) {
	reg := NewRegistry(testFactory(storage.NewMemoryProvider(), nil), nil)
	defer reg.Close()

	h := NewWebSocketHandler(reg, nil, NewSendLimiter(1, time.Hour), nil, nil, true)
	srv := httptest.NewServer(withVisitor("anon_rl", h))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	// an empty send is rejected without spending the single token
	writeFrame(t, ctx, conn, clientFrame{Type: "send", Text: "  "})
	f := readUntil(t, ctx, conn, func(f serverFrame) bool { return f.Type == "error" })
	if f.Code != "empty_message" {
		t.Fatalf("expected empty_message, got %+v", f)
	}

	writeFrame(t, ctx, conn, clientFrame{Type: "send", Text: "one"})
	readUntil(t, ctx, conn, func(f serverFrame) bool {
		if f.Type == "error" {
			t.Fatalf("first real send rejected: %+v", f)
		}
		return f.Type == "state" && len(f.State.Messages) >= 2
	})

	writeFrame(t, ctx, conn, clientFrame{Type: "send", Text: "two"})
	f = readUntil(t, ctx, conn, func(f serverFrame) bool { return f.Type == "error" })
	if f.Code != "rate_limited" {
		t.Fatalf("expected rate_limited, got %+v", f)
	}
}

func TestWebSocketHandler_RejectsForeignOrigin(t *testing.T) {
	reg := NewRegistry(testFactory(storage.NewMemoryProvider(), nil), nil)
	defer reg.Close()

	h := NewWebSocketHandler(reg, nil, nil, nil, []string{"https://shop.example"}, false)
	req := httptest.NewRequest(http.MethodGet, "/ws/widget", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec := httptest.NewRecorder()
	withVisitor("anon_o", h).ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}
