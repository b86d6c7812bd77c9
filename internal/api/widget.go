package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/chatwidget/internal/config"
	"github.com/ashureev/chatwidget/internal/identity"
	"github.com/ashureev/chatwidget/internal/session"
	"github.com/ashureev/chatwidget/internal/widget"
)

const (
	defaultMaxRequestBodySize = 64 * 1024
	defaultKeepalive          = 15 * time.Second
)

// ProfileSource yields the current widget profile.
type ProfileSource interface {
	Current() config.Profile
}

// RateHooks is notified when a send is rate limited.
type RateHooks interface {
	RateLimited()
}

// WidgetHandler serves the REST and SSE surface of a visitor's widget.
type WidgetHandler struct {
	*Handler
	profiles  ProfileSource
	limiter   *session.SendLimiter
	rateHooks RateHooks
	cfg       *config.Config
}

// NewWidgetHandler creates a widget handler. limiter, rateHooks and cfg may be nil.
func NewWidgetHandler(base *Handler, profiles ProfileSource, limiter *session.SendLimiter, rateHooks RateHooks, cfg *config.Config) *WidgetHandler {
	return &WidgetHandler{
		Handler:   base,
		profiles:  profiles,
		limiter:   limiter,
		rateHooks: rateHooks,
		cfg:       cfg,
	}
}

// RegisterRoutes registers widget routes.
func (h *WidgetHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/widget", func(r chi.Router) {
		r.Get("/", h.GetState)
		r.Get("/config", h.GetConfig)
		r.Post("/messages", h.SendMessage)
		r.Put("/input", h.SetInput)
		r.Post("/open", h.SetOpen)
		r.Post("/model", h.SelectModel)
		r.Post("/clear", h.Clear)
		r.Post("/notice/{id}/dismiss", h.DismissNotice)
		r.Post("/alert/dismiss", h.DismissAlert)
		r.Get("/stream", h.HandleStream)
	})
}

// configResponse is what the page needs before the first state frame.
type configResponse struct {
	config.Profile
	TimeLayout string `json:"time_layout"`
}

type messageRequest struct {
	Message string `json:"message"`
}

type inputRequest struct {
	Input string `json:"input"`
}

type openRequest struct {
	Open bool `json:"open"`
}

type modelRequest struct {
	Model string `json:"model"`
}

func (h *WidgetHandler) engine(w http.ResponseWriter, r *http.Request) (*widget.Engine, bool) {
	visitorID := identity.VisitorIDFromContext(r.Context())
	if visitorID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return nil, false
	}
	sess, err := h.registry.Get(r.Context(), visitorID)
	if err != nil {
		slog.Error("Failed to load widget session", "visitor_id", visitorID, "error", err)
		EngineError(w, err)
		return nil, false
	}
	return sess.Engine, true
}

func (h *WidgetHandler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	maxBodySize := int64(defaultMaxRequestBodySize)
	if h.cfg != nil && h.cfg.SSE.MaxRequestBodySize > 0 {
		maxBodySize = h.cfg.SSE.MaxRequestBodySize
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		Error(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// GetState returns the visitor's widget state.
func (h *WidgetHandler) GetState(w http.ResponseWriter, r *http.Request) {
	e, ok := h.engine(w, r)
	if !ok {
		return
	}
	JSON(w, http.StatusOK, e.State())
}

// GetConfig returns the profile texts, models and suggestions.
func (h *WidgetHandler) GetConfig(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, configResponse{
		Profile:    h.profiles.Current(),
		TimeLayout: widget.TimeLayout,
	})
}

// SendMessage sends a chat message. The reply arrives through the stream.
func (h *WidgetHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	e, ok := h.engine(w, r)
	if !ok {
		return
	}

	var req messageRequest
	if !h.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		EngineError(w, widget.ErrEmptyMessage)
		return
	}

	// Rate-limit by visitor only so tabs cannot bypass throttling.
	visitorID := identity.VisitorIDFromContext(r.Context())
	if h.limiter != nil && !h.limiter.Allow(visitorID) {
		if h.rateHooks != nil {
			h.rateHooks.RateLimited()
		}
		EngineError(w, session.ErrRateLimited)
		return
	}

	if err := e.Send(r.Context(), req.Message); err != nil {
		EngineError(w, err)
		return
	}
	JSON(w, http.StatusAccepted, e.State())
}

// SetInput stores the draft input text.
func (h *WidgetHandler) SetInput(w http.ResponseWriter, r *http.Request) {
	e, ok := h.engine(w, r)
	if !ok {
		return
	}
	var req inputRequest
	if !h.decode(w, r, &req) {
		return
	}
	e.SetInput(req.Input)
	JSON(w, http.StatusOK, e.State())
}

// SetOpen shows or hides the panel.
func (h *WidgetHandler) SetOpen(w http.ResponseWriter, r *http.Request) {
	e, ok := h.engine(w, r)
	if !ok {
		return
	}
	var req openRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := e.SetOpen(r.Context(), req.Open); err != nil {
		EngineError(w, err)
		return
	}
	JSON(w, http.StatusOK, e.State())
}

// SelectModel picks the model used for later sends.
func (h *WidgetHandler) SelectModel(w http.ResponseWriter, r *http.Request) {
	e, ok := h.engine(w, r)
	if !ok {
		return
	}
	var req modelRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := e.SelectModel(req.Model); err != nil {
		EngineError(w, err)
		return
	}
	JSON(w, http.StatusOK, e.State())
}

// Clear resets the transcript to the greeting.
func (h *WidgetHandler) Clear(w http.ResponseWriter, r *http.Request) {
	e, ok := h.engine(w, r)
	if !ok {
		return
	}
	if err := e.Clear(r.Context()); err != nil {
		EngineError(w, err)
		return
	}
	JSON(w, http.StatusOK, e.State())
}

// DismissNotice hides the inactivity notice with the given id.
func (h *WidgetHandler) DismissNotice(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		Error(w, http.StatusBadRequest, "invalid notice id")
		return
	}
	e, ok := h.engine(w, r)
	if !ok {
		return
	}
	e.DismissNotice(id)
	JSON(w, http.StatusOK, e.State())
}

// DismissAlert hides the blocking alert.
func (h *WidgetHandler) DismissAlert(w http.ResponseWriter, r *http.Request) {
	e, ok := h.engine(w, r)
	if !ok {
		return
	}
	e.DismissAlert()
	JSON(w, http.StatusOK, e.State())
}

// HandleStream streams state snapshots as server-sent events until the
// client disconnects.
func (h *WidgetHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	visitorID := identity.VisitorIDFromContext(r.Context())
	if visitorID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		Error(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	sess, release, err := h.registry.Acquire(r.Context(), visitorID)
	if err != nil {
		EngineError(w, err)
		return
	}
	defer release()

	states, unsubscribe := sess.Engine.Subscribe()
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepalive := defaultKeepalive
	if h.cfg != nil && h.cfg.SSE.KeepaliveInterval > 0 {
		keepalive = h.cfg.SSE.KeepaliveInterval
	}
	ticker := time.NewTicker(keepalive)
	defer ticker.Stop()

	slog.Info("Widget stream connected", "visitor_id", visitorID, "tab_id", identity.TabIDFromContext(r.Context()))
	defer slog.Info("Widget stream closed", "visitor_id", visitorID)

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if _, err := io.WriteString(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case st, ok := <-states:
			if !ok {
				return
			}
			if err := writeEvent(w, "state", st.Version, st); err != nil {
				slog.Debug("Failed to write SSE event", "visitor_id", visitorID, "error", err)
				return
			}
			flusher.Flush()
			h.registry.Touch(visitorID)
		}
	}
}

func writeEvent(w io.Writer, event string, id uint64, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", id, event, data)
	return err
}
