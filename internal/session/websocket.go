package session

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/ashureev/chatwidget/internal/identity"
	"github.com/ashureev/chatwidget/internal/store"
	"github.com/ashureev/chatwidget/internal/widget"
)

// RateHooks is notified when the limiter rejects a send.
type RateHooks interface {
	RateLimited()
}

// WebSocketHandler drives a widget engine from a browser over a websocket.
type WebSocketHandler struct {
	registry       *Registry
	repo           store.Repository
	limiter        *SendLimiter
	rateHooks      RateHooks
	allowedOrigins []string
	isDev          bool
}

// NewWebSocketHandler creates a new WebSocket handler. repo, limiter and
// rateHooks may be nil.
func NewWebSocketHandler(registry *Registry, repo store.Repository, limiter *SendLimiter, rateHooks RateHooks, allowedOrigins []string, isDev bool) *WebSocketHandler {
	return &WebSocketHandler{
		registry:       registry,
		repo:           repo,
		limiter:        limiter,
		rateHooks:      rateHooks,
		allowedOrigins: allowedOrigins,
		isDev:          isDev,
	}
}

// clientFrame is a message from the browser.
type clientFrame struct {
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
	Open      *bool  `json:"open,omitempty"`
	Model     string `json:"model,omitempty"`
	ID        int64  `json:"id,omitempty"`
	Supported *bool  `json:"supported,omitempty"`
	Error     string `json:"error,omitempty"`
}

// serverFrame is a message to the browser.
type serverFrame struct {
	Type  string        `json:"type"`
	State *widget.State `json:"state,omitempty"`
	Code  string        `json:"code,omitempty"`
	Error string        `json:"error,omitempty"`
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	visitorID := identity.VisitorIDFromContext(r.Context())
	tabID := identity.TabIDFromContext(r.Context())
	slog.Info("WebSocket connection request", "visitor_id", visitorID, "tab_id", tabID, "ip", identity.IPFromRequest(r))

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "visitor_id", visitorID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "visitor_id", visitorID)
		}
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sess, release, err := h.registry.Acquire(ctx, visitorID)
	if err != nil {
		slog.Error("Failed to open widget session", "visitor_id", visitorID, "error", err)
		_, code := Classify(err)
		_ = h.writeJSON(ctx, ws, serverFrame{Type: "error", Code: code, Error: "session unavailable"})
		return
	}
	defer release()

	states, unsubscribe := sess.Engine.Subscribe()
	defer unsubscribe()

	var wg sync.WaitGroup
	wg.Add(1)

	// Output loop: engine state -> WebSocket.
	go func() {
		defer wg.Done()
		defer cancel()
		h.outputLoop(ctx, ws, states, visitorID)
	}()

	h.inputLoop(ctx, ws, sess, visitorID, &wg)
	cancel()
	unsubscribe()
	wg.Wait()
	slog.Info("Widget connection ended", "visitor_id", visitorID, "tab_id", tabID)
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || slices.Contains(h.allowedOrigins, "*") || slices.Contains(h.allowedOrigins, origin) {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigins)
	return false
}

//nolint:gocognit // Frame dispatch covers every widget operation.
func (h *WebSocketHandler) inputLoop(ctx context.Context, ws *websocket.Conn, sess *Session, visitorID string, wg *sync.WaitGroup) {
	engine := sess.Engine
	for {
		_, message, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				slog.Debug("WebSocket closed by client", "visitor_id", visitorID)
			} else {
				slog.Warn("WebSocket read error", "error", err, "visitor_id", visitorID)
			}
			return
		}

		var msg clientFrame
		if err := json.Unmarshal(message, &msg); err != nil {
			h.sendError(ctx, ws, "bad_frame", "malformed frame")
			continue
		}

		switch msg.Type {
		case "send":
			text := msg.Text
			if text == "" {
				text = engine.State().Input
			}
			if strings.TrimSpace(text) == "" {
				h.reportErr(ctx, ws, widget.ErrEmptyMessage)
				continue
			}
			if h.limiter != nil && !h.limiter.Allow(visitorID) {
				if h.rateHooks != nil {
					h.rateHooks.RateLimited()
				}
				h.reportErr(ctx, ws, ErrRateLimited)
				continue
			}
			h.reportErr(ctx, ws, engine.Send(ctx, text))
			h.touchVisitor(visitorID)
		case "input":
			engine.SetInput(msg.Text)
		case "open":
			open := msg.Open != nil && *msg.Open
			h.reportErr(ctx, ws, engine.SetOpen(ctx, open))
		case "model":
			h.reportErr(ctx, ws, engine.SelectModel(msg.Model))
		case "clear":
			h.reportErr(ctx, ws, engine.Clear(ctx))
		case "dismiss_notice":
			engine.DismissNotice(msg.ID)
		case "dismiss_alert":
			engine.DismissAlert()
		case "voice_capability":
			sess.Relay.SetSupported(msg.Supported != nil && *msg.Supported)
		case "voice_start":
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := engine.Voice(ctx)
				// unsupported and recognition errors already surface as the alert
				if errors.Is(err, widget.ErrBusy) {
					h.reportErr(ctx, ws, err)
				}
			}()
		case "voice_result":
			if !sess.Relay.Deliver(msg.Text, nil) {
				slog.Debug("Voice result with no pending recognition", "visitor_id", visitorID)
			}
		case "voice_error":
			sess.Relay.Fail(msg.Error)
		case "ping":
			if err := h.writeJSON(ctx, ws, serverFrame{Type: "pong"}); err != nil {
				slog.Debug("Failed to send pong", "error", err)
			}
		default:
			h.sendError(ctx, ws, "unknown_frame", "unknown frame type "+msg.Type)
		}

		h.registry.Touch(visitorID)
	}
}

func (h *WebSocketHandler) outputLoop(ctx context.Context, ws *websocket.Conn, states <-chan widget.State, visitorID string) {
	for {
		select {
		case <-ctx.Done():
			return
		case st, ok := <-states:
			if !ok {
				return
			}
			if err := h.writeJSON(ctx, ws, serverFrame{Type: "state", State: &st}); err != nil {
				if ctx.Err() == nil {
					slog.Debug("WebSocket write error", "error", err, "visitor_id", visitorID)
				}
				return
			}
		}
	}
}

func (h *WebSocketHandler) reportErr(ctx context.Context, ws *websocket.Conn, err error) {
	if err == nil {
		return
	}
	_, code := Classify(err)
	h.sendError(ctx, ws, code, err.Error())
}

func (h *WebSocketHandler) sendError(ctx context.Context, ws *websocket.Conn, code, msg string) {
	if err := h.writeJSON(ctx, ws, serverFrame{Type: "error", Code: code, Error: msg}); err != nil {
		slog.Debug("Failed to send error frame", "error", err)
	}
}

// touchVisitor updates last seen asynchronously with timeout.
func (h *WebSocketHandler) touchVisitor(visitorID string) {
	if h.repo == nil {
		return
	}
	go func() {
		updateCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.repo.UpdateLastSeen(updateCtx, visitorID, time.Now()); err != nil {
			slog.Warn("Failed to update last seen", "error", err)
		}
	}()
}

func (h *WebSocketHandler) writeJSON(ctx context.Context, ws *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return ws.Write(writeCtx, websocket.MessageText, data)
}
