// Package tui renders a widget engine in the terminal with Bubble Tea.
//
// The model mirrors the browser widget: a collapsed launcher with the promo
// banner, and an expanded panel with the transcript, suggestions and input.
// All state lives in the engine; the model only forwards keys and redraws
// whatever snapshot the engine publishes.
package tui

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"

	"github.com/ashureev/chatwidget/internal/config"
	"github.com/ashureev/chatwidget/internal/widget"
)

const (
	defaultWidth  = 80
	defaultHeight = 24
	// header, banners, input and footer
	chromeHeight = 8
)

// Engine is the part of widget.Engine the model drives.
type Engine interface {
	State() widget.State
	Profile() config.Profile
	Subscribe() (<-chan widget.State, func())
	SendInput(ctx context.Context) error
	SetInput(text string)
	SetOpen(ctx context.Context, open bool) error
	SelectModel(value string) error
	Clear(ctx context.Context) error
	DismissNotice(id int64) bool
	DismissAlert()
	Voice(ctx context.Context) error
	FormatTime(t time.Time) string
}

// Options tunes rendering.
type Options struct {
	// Style is a glamour standard style name, or "auto" to detect the
	// terminal background. Empty means "dark".
	Style string
}

type stateMsg widget.State

type closedMsg struct{}

type errMsg struct{ err error }

// Model is the Bubble Tea model for one widget.
type Model struct {
	ctx      context.Context
	engine   Engine
	profile  config.Profile
	states   <-chan widget.State
	cancel   func()
	state    widget.State
	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model
	renderer *glamour.TermRenderer
	style    string
	width    int
	height   int
	suggest  int
	lastErr  error
}

// New subscribes to engine and builds the model. Call Close when the
// program exits.
func New(ctx context.Context, engine Engine, opts Options) Model {
	states, cancel := engine.Subscribe()
	profile := engine.Profile()

	ti := textinput.New()
	ti.Placeholder = profile.InputPlaceholder
	ti.CharLimit = 2000
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	style := opts.Style
	if style == "" {
		style = "dark"
	}

	m := Model{
		ctx:      ctx,
		engine:   engine,
		profile:  profile,
		states:   states,
		cancel:   cancel,
		state:    engine.State(),
		input:    ti,
		viewport: viewport.New(defaultWidth, defaultHeight-chromeHeight),
		spinner:  sp,
		style:    style,
		width:    defaultWidth,
		height:   defaultHeight,
	}
	m.renderer = newRenderer(style, defaultWidth)
	m.refresh()
	return m
}

// Close drops the engine subscription.
func (m Model) Close() {
	if m.cancel != nil {
		m.cancel()
	}
}

func newRenderer(style string, width int) *glamour.TermRenderer {
	wrap := max(width-8, 20)
	opt := glamour.WithStandardStyle(style)
	if style == "auto" {
		opt = glamour.WithAutoStyle()
	}
	r, err := glamour.NewTermRenderer(opt, glamour.WithWordWrap(wrap))
	if err != nil {
		return nil
	}
	return r
}

func (m Model) waitForState() tea.Cmd {
	return func() tea.Msg {
		st, ok := <-m.states
		if !ok {
			return closedMsg{}
		}
		return stateMsg(st)
	}
}

// Init starts listening for engine updates.
func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick, m.waitForState())
}

// Update handles keys, resizes and engine snapshots.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.viewport.Width = msg.Width
		m.viewport.Height = max(msg.Height-chromeHeight, 3)
		m.input.Width = max(msg.Width-6, 10)
		m.renderer = newRenderer(m.style, msg.Width)
		m.refresh()
		return m, nil

	case stateMsg:
		m.state = widget.State(msg)
		if m.input.Value() != m.state.Input {
			m.input.SetValue(m.state.Input)
		}
		m.refresh()
		return m, m.waitForState()

	case closedMsg:
		return m, tea.Quit

	case errMsg:
		if !errors.Is(msg.err, widget.ErrEmptyMessage) {
			m.lastErr = msg.err
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.Type == tea.KeyCtrlC {
		return m, tea.Quit
	}

	// the alert blocks everything until acknowledged
	if m.state.Alert != "" {
		m.engine.DismissAlert()
		return m, nil
	}

	if !m.state.Open {
		switch msg.String() {
		case "enter", " ", "o":
			return m, m.run(func(ctx context.Context) error { return m.engine.SetOpen(ctx, true) })
		case "q", "esc":
			return m, tea.Quit
		}
		return m, nil
	}

	m.lastErr = nil
	switch msg.String() {
	case "esc":
		return m, m.run(func(ctx context.Context) error { return m.engine.SetOpen(ctx, false) })
	case "enter":
		m.engine.SetInput(m.input.Value())
		return m, m.run(m.engine.SendInput)
	case "ctrl+l":
		return m, m.run(m.engine.Clear)
	case "ctrl+n":
		if m.state.Notice != nil {
			m.engine.DismissNotice(m.state.Notice.ID)
		}
		return m, nil
	case "ctrl+t":
		return m, m.run(func(context.Context) error { return m.engine.SelectModel(m.nextModel()) })
	case "ctrl+v":
		// recognition failures surface as the alert
		return m, m.run(func(ctx context.Context) error {
			if err := m.engine.Voice(ctx); errors.Is(err, widget.ErrBusy) {
				return err
			}
			return nil
		})
	case "tab":
		if m.showSuggestions() {
			s := m.profile.Suggestions[m.suggest%len(m.profile.Suggestions)]
			m.suggest++
			m.input.SetValue(s)
			m.input.CursorEnd()
			m.engine.SetInput(s)
		}
		return m, nil
	case "pgup", "pgdown":
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	m.engine.SetInput(m.input.Value())
	return m, cmd
}

// run performs an engine call off the update loop and reports its error.
func (m Model) run(fn func(ctx context.Context) error) tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return errMsg{err: err}
		}
		return nil
	}
}

func (m Model) nextModel() string {
	models := m.profile.Models
	if len(models) == 0 {
		return m.state.Model
	}
	for i, mod := range models {
		if mod.Value == m.state.Model {
			return models[(i+1)%len(models)].Value
		}
	}
	return models[0].Value
}

func (m Model) showSuggestions() bool {
	return len(m.profile.Suggestions) > 0 && len(m.state.Messages) == 1 && !m.state.Messages[0].IsUser()
}

func (m *Model) refresh() {
	m.viewport.SetContent(m.renderTranscript())
	m.viewport.GotoBottom()
}
