// Package widget implements the chat widget's logic module: the transcript,
// the send/reply turn, the typing reveal, the inactivity reset and voice
// input. It has no presentation dependency; renderers read State snapshots
// and call the operations below.
package widget

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/chatwidget/internal/backend"
	"github.com/ashureev/chatwidget/internal/config"
	"github.com/ashureev/chatwidget/internal/domain"
	"github.com/ashureev/chatwidget/internal/speech"
	"github.com/ashureev/chatwidget/internal/storage"
)

var (
	// ErrEmptyMessage is returned for empty or whitespace-only sends.
	ErrEmptyMessage = errors.New("message is empty")
	// ErrBusy is returned when a send arrives while a turn is in progress.
	ErrBusy = errors.New("bot is still responding")
	// ErrClosed is returned by operations on a closed engine.
	ErrClosed = errors.New("widget engine closed")
	// ErrUnknownModel is returned by SelectModel for a model not on offer.
	ErrUnknownModel = errors.New("unknown model")
)

const (
	defaultRevealInterval   = 30 * time.Millisecond
	defaultInactivityWindow = 10 * time.Minute
	storageTimeout          = 5 * time.Second
)

// Options tune engine timing.
type Options struct {
	RevealInterval   time.Duration
	InactivityWindow time.Duration
	// Location is used by FormatTime. Defaults to time.Local.
	Location *time.Location
	// Now defaults to time.Now.
	Now func() time.Time
}

// Deps are the engine's collaborators.
type Deps struct {
	Storage  storage.Storage
	Backend  backend.Chatter
	Speech   speech.Recognizer
	Profile  config.Profile
	Observer Observer
	Logger   *slog.Logger
}

// State is an immutable snapshot of the engine.
type State struct {
	Version    uint64            `json:"version"`
	Open       bool              `json:"open"`
	Messages   domain.Transcript `json:"messages"`
	Input      string            `json:"input"`
	Phase      Phase             `json:"phase"`
	Typing     bool              `json:"typing"`
	Responding bool              `json:"responding"`
	Error      string            `json:"error,omitempty"`
	Notice     *domain.Notice    `json:"notice,omitempty"`
	Alert      string            `json:"alert,omitempty"`
	Model      string            `json:"model"`
}

// Engine is the per-visitor state container. It is safe for concurrent use.
type Engine struct {
	storage  storage.Storage
	backend  backend.Chatter
	speech   speech.Recognizer
	profile  config.Profile
	observer Observer
	logger   *slog.Logger

	revealInterval   time.Duration
	inactivityWindow time.Duration
	loc              *time.Location
	now              func() time.Time

	baseCtx    context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup

	mu       sync.Mutex
	closed   bool
	version  uint64
	open     bool
	messages domain.Transcript
	input    string
	phase    Phase
	errText  string
	notice   *domain.Notice
	alert    string
	model    string

	// gen invalidates work started by an earlier turn.
	gen        uint64
	turnCancel context.CancelFunc

	inactivity    *time.Timer
	inactivitySeq uint64
	lastNoticeID  int64

	subMu        sync.Mutex
	subs         map[*subscriber]struct{}
	lastNotified uint64
}

// New creates an engine and restores the transcript and open flag from
// storage. A stored transcript that cannot be decoded is replaced with the
// greeting.
func New(ctx context.Context, deps Deps, opts Options) (*Engine, error) {
	if deps.Storage == nil {
		return nil, errors.New("widget: storage is required")
	}
	if deps.Backend == nil {
		return nil, errors.New("widget: backend is required")
	}
	if deps.Speech == nil {
		deps.Speech = speech.Unsupported{}
	}
	if deps.Observer == nil {
		deps.Observer = nopObserver{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if opts.RevealInterval <= 0 {
		opts.RevealInterval = defaultRevealInterval
	}
	if opts.InactivityWindow <= 0 {
		opts.InactivityWindow = defaultInactivityWindow
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	baseCtx, baseCancel := context.WithCancel(context.Background())
	e := &Engine{
		storage:          deps.Storage,
		backend:          deps.Backend,
		speech:           deps.Speech,
		profile:          deps.Profile,
		observer:         deps.Observer,
		logger:           deps.Logger,
		revealInterval:   opts.RevealInterval,
		inactivityWindow: opts.InactivityWindow,
		loc:              opts.Location,
		now:              opts.Now,
		baseCtx:          baseCtx,
		baseCancel:       baseCancel,
		subs:             make(map[*subscriber]struct{}),
	}
	if len(deps.Profile.Models) > 0 {
		e.model = deps.Profile.Models[0].Value
	}

	e.messages = e.loadTranscript(ctx)
	e.open = e.loadOpen(ctx)

	e.mu.Lock()
	if e.messages.HasUserMessages() {
		e.resetInactivityLocked()
	}
	e.mu.Unlock()

	return e, nil
}

func (e *Engine) loadTranscript(ctx context.Context) domain.Transcript {
	seed := domain.SeedTranscript(e.profile.Greeting, e.now())
	raw, err := e.storage.GetItem(ctx, storage.KeyChatHistory)
	if errors.Is(err, storage.ErrNotFound) {
		return seed
	}
	if err != nil {
		e.logger.Warn("failed to read stored transcript", "error", err)
		return seed
	}
	t, err := domain.UnmarshalTranscript(raw)
	if err != nil {
		e.logger.Warn("discarding malformed stored transcript", "error", err)
		return seed
	}
	if len(t) == 0 {
		return seed
	}
	return t
}

func (e *Engine) loadOpen(ctx context.Context) bool {
	raw, err := e.storage.GetItem(ctx, storage.KeyChatIsOpen)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			e.logger.Warn("failed to read stored open flag", "error", err)
		}
		return false
	}
	open, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		e.logger.Warn("discarding malformed open flag", "value", raw)
		return false
	}
	return open
}

// State returns a snapshot of the engine.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stateLocked()
}

func (e *Engine) stateLocked() State {
	var notice *domain.Notice
	if e.notice != nil {
		n := *e.notice
		notice = &n
	}
	return State{
		Version:    e.version,
		Open:       e.open,
		Messages:   e.messages.Clone(),
		Input:      e.input,
		Phase:      e.phase,
		Typing:     e.phase == PhaseSending,
		Responding: e.phase != PhaseIdle,
		Error:      e.errText,
		Notice:     notice,
		Alert:      e.alert,
		Model:      e.model,
	}
}

// Profile returns the texts this engine was built with.
func (e *Engine) Profile() config.Profile {
	return e.profile
}

// FormatTime renders t in the engine's location.
func (e *Engine) FormatTime(t time.Time) string {
	return FormatTime(t, e.loc)
}

// Send appends a user message and starts a bot turn. It returns once the
// message is recorded; the reply arrives through State updates.
func (e *Engine) Send(_ context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	if e.phase != PhaseIdle {
		e.mu.Unlock()
		return ErrBusy
	}

	e.cancelTurnLocked()
	e.messages = append(e.messages, domain.Message{
		From:      domain.SenderUser,
		Text:      text,
		Timestamp: e.now(),
	})
	e.input = ""
	e.errText = ""
	e.phase = PhaseSending
	gen := e.gen
	model := e.model

	turnCtx, cancel := context.WithCancel(e.baseCtx)
	e.turnCancel = cancel
	e.persistTranscriptLocked()
	e.resetInactivityLocked()
	e.touchLocked()

	e.wg.Add(1)
	go e.runTurn(turnCtx, gen, text, model)
	e.mu.Unlock()

	e.observer.MessageSent()
	e.notify()
	return nil
}

// SendInput sends the current input text.
func (e *Engine) SendInput(ctx context.Context) error {
	e.mu.Lock()
	text := e.input
	e.mu.Unlock()
	return e.Send(ctx, text)
}

// SetInput replaces the input text.
func (e *Engine) SetInput(text string) {
	e.mu.Lock()
	if e.closed || e.input == text {
		e.mu.Unlock()
		return
	}
	e.input = text
	e.touchLocked()
	e.mu.Unlock()
	e.notify()
}

// SetOpen shows or hides the panel and persists the choice.
func (e *Engine) SetOpen(ctx context.Context, open bool) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	e.setOpenLocked(ctx, open)
	e.mu.Unlock()
	e.notify()
	return nil
}

// Toggle flips the open flag and returns the new value.
func (e *Engine) Toggle(ctx context.Context) (bool, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return false, ErrClosed
	}
	open := !e.open
	e.setOpenLocked(ctx, open)
	e.mu.Unlock()
	e.notify()
	return open, nil
}

// setOpenLocked writes the flag while e.mu is held so the stored value
// follows the same order as the in-memory one.
func (e *Engine) setOpenLocked(ctx context.Context, open bool) {
	e.open = open
	e.touchLocked()
	if err := e.storage.SetItem(ctx, storage.KeyChatIsOpen, strconv.FormatBool(open)); err != nil {
		e.logger.Warn("failed to persist open flag", "error", err)
	}
}

// SelectModel picks one of the offered models for later sends.
func (e *Engine) SelectModel(value string) error {
	found := false
	for _, m := range e.profile.Models {
		if m.Value == value {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrUnknownModel, value)
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	e.model = value
	e.touchLocked()
	e.mu.Unlock()
	e.notify()
	return nil
}

// Clear resets the transcript to the greeting and abandons any turn in
// progress. No notice is shown.
func (e *Engine) Clear(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	if e.cancelTurnLocked() {
		e.observer.TurnAbandoned()
	}
	e.messages = domain.SeedTranscript(e.profile.Greeting, e.now())
	e.errText = ""
	e.stopInactivityLocked()
	e.touchLocked()
	e.mu.Unlock()

	if err := e.storage.RemoveItem(ctx, storage.KeyChatHistory); err != nil {
		e.logger.Warn("failed to remove stored transcript", "error", err)
	}
	e.notify()
	return nil
}

// DismissNotice hides the notice if id matches the one shown. It reports
// whether anything was dismissed.
func (e *Engine) DismissNotice(id int64) bool {
	e.mu.Lock()
	if e.notice == nil || e.notice.ID != id {
		e.mu.Unlock()
		return false
	}
	e.notice = nil
	e.touchLocked()
	e.mu.Unlock()
	e.notify()
	return true
}

// DismissAlert hides the blocking alert.
func (e *Engine) DismissAlert() {
	e.mu.Lock()
	if e.alert == "" {
		e.mu.Unlock()
		return
	}
	e.alert = ""
	e.touchLocked()
	e.mu.Unlock()
	e.notify()
}

// Voice captures one utterance and sends it. A missing recognizer or a
// recognition error raises the blocking alert and is returned.
func (e *Engine) Voice(ctx context.Context) error {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return ErrClosed
	}

	text, err := e.speech.Recognize(ctx)
	e.observer.VoiceAttempt(err)
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		msg := e.profile.SpeechErrorPrefix + err.Error()
		if errors.Is(err, speech.ErrUnsupported) {
			msg = e.profile.SpeechUnsupported
		}
		e.raiseAlert(msg)
		return fmt.Errorf("voice input: %w", err)
	}

	e.SetInput(text)
	return e.Send(ctx, text)
}

func (e *Engine) raiseAlert(msg string) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.alert = msg
	e.touchLocked()
	e.mu.Unlock()
	e.notify()
}

// Close abandons any turn, stops the timers, waits for the turn goroutine
// and closes subscriber channels. It is safe to call more than once.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.cancelTurnLocked()
	e.stopInactivityLocked()
	e.mu.Unlock()

	e.baseCancel()
	e.wg.Wait()
	e.closeSubscribers()
	return nil
}

// cancelTurnLocked invalidates the current turn and returns to idle. It
// reports whether a turn was in progress.
func (e *Engine) cancelTurnLocked() bool {
	active := e.phase != PhaseIdle
	e.gen++
	if e.turnCancel != nil {
		e.turnCancel()
		e.turnCancel = nil
	}
	e.phase = PhaseIdle
	return active
}

func (e *Engine) touchLocked() {
	e.version++
}

// persistTranscriptLocked stores the finalized entries only. A placeholder or
// partial reveal is never written.
func (e *Engine) persistTranscriptLocked() {
	raw, err := domain.MarshalTranscript(e.messages.Finalized())
	if err != nil {
		e.logger.Error("failed to encode transcript", "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storageTimeout)
	defer cancel()
	if err := e.storage.SetItem(ctx, storage.KeyChatHistory, raw); err != nil {
		e.logger.Warn("failed to persist transcript", "error", err)
	}
}
