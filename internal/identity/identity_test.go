package identity

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/ashureev/chatwidget/internal/store"
)

func newRepo(t *testing.T) store.Repository {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "identity.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestMiddleware_IssuesCookieAndRecordsVisitor(t *testing.T) {
	repo := newRepo(t)

	var seen, tab string
	h := Middleware(repo, true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = VisitorIDFromContext(r.Context())
		tab = TabIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/widget", nil)
	req.Header.Set(TabHeaderName, "tab-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if !isValidVisitorID(seen) {
		t.Fatalf("expected generated visitor id, got %q", seen)
	}
	if tab != "tab-1" {
		t.Errorf("expected tab id from header, got %q", tab)
	}

	var cookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == VisitorCookieName {
			cookie = c
		}
	}
	if cookie == nil || cookie.Value != seen || !cookie.HttpOnly {
		t.Fatalf("expected http-only visitor cookie, got %+v", cookie)
	}

	v, err := repo.GetVisitor(req.Context(), seen)
	if err != nil || v == nil {
		t.Fatalf("expected visitor recorded, got %v, %v", v, err)
	}
}

func TestMiddleware_ReusesValidCookie(t *testing.T) {
	repo := newRepo(t)
	id, err := generateVisitorID()
	if err != nil {
		t.Fatalf("generateVisitorID failed: %v", err)
	}

	var seen string
	h := Middleware(repo, false)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = VisitorIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: VisitorCookieName, Value: id})
	h.ServeHTTP(httptest.NewRecorder(), req)

	if seen != id {
		t.Fatalf("expected cookie id reused, got %q", seen)
	}
}

func TestMiddleware_RejectsForgedCookie(t *testing.T) {
	repo := newRepo(t)

	var seen string
	h := Middleware(repo, true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = VisitorIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/?tab_id=bad%20tab", nil)
	req.AddCookie(&http.Cookie{Name: VisitorCookieName, Value: "../../etc/passwd"})
	h.ServeHTTP(httptest.NewRecorder(), req)

	if seen == "../../etc/passwd" || !isValidVisitorID(seen) {
		t.Fatalf("expected forged cookie replaced, got %q", seen)
	}
}

func TestEnsureVisitor_ThrottlesLastSeen(t *testing.T) {
	repo := newRepo(t)
	ctx := t.Context()

	if err := ensureVisitor(ctx, repo, "anon_0123456789abcdef0123456789abcdef"); err != nil {
		t.Fatalf("ensureVisitor failed: %v", err)
	}
	first, _ := repo.GetVisitor(ctx, "anon_0123456789abcdef0123456789abcdef")

	if err := ensureVisitor(ctx, repo, "anon_0123456789abcdef0123456789abcdef"); err != nil {
		t.Fatalf("second ensureVisitor failed: %v", err)
	}
	second, _ := repo.GetVisitor(ctx, "anon_0123456789abcdef0123456789abcdef")

	if !second.LastSeenAt.Equal(first.LastSeenAt) {
		t.Errorf("expected last_seen unchanged within %s", lastSeenWriteInterval)
	}
	if second.IdleFor(time.Now()) > time.Minute {
		t.Errorf("unexpected idle duration %s", second.IdleFor(time.Now()))
	}
}

func TestSanitizeTabID(t *testing.T) {
	tests := map[string]string{
		"":          DefaultTabIDValue,
		"  ":        DefaultTabIDValue,
		"tab-42":    "tab-42",
		"bad tab":   DefaultTabIDValue,
		"a:b.c_d-e": "a:b.c_d-e",
	}
	for in, want := range tests {
		if got := sanitizeTabID(in); got != want {
			t.Errorf("sanitizeTabID(%q) = %q, want %q", in, got, want)
		}
	}
}
