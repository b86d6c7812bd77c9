package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/ashureev/chatwidget/internal/domain"
)

var (
	accent = lipgloss.Color("63")

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("230")).
			Background(accent).
			Padding(0, 1)

	promoStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(accent).
			Padding(0, 1)

	launcherStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("230")).
			Background(accent).
			Padding(0, 2)

	userStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("230")).
			Background(lipgloss.Color("61")).
			Padding(0, 1)

	timeStyle     = lipgloss.NewStyle().Faint(true)
	sourceStyle   = lipgloss.NewStyle().Underline(true).Foreground(lipgloss.Color("39"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	noticeStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	suggestStyle  = lipgloss.NewStyle().Foreground(accent)
	footerStyle   = lipgloss.NewStyle().Faint(true)
	alertBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.DoubleBorder()).
			BorderForeground(lipgloss.Color("196")).
			Padding(1, 2)
)

// View renders the collapsed launcher or the expanded panel.
func (m Model) View() string {
	if m.state.Alert != "" {
		return alertBoxStyle.Render(m.state.Alert+"\n\n"+footerStyle.Render("press any key")) + "\n"
	}
	if !m.state.Open {
		return m.collapsedView()
	}
	return m.panelView()
}

func (m Model) collapsedView() string {
	var b strings.Builder
	if m.profile.PromoBanner != "" {
		b.WriteString(promoStyle.Render(m.profile.PromoBanner))
		b.WriteString("\n")
	}
	b.WriteString(launcherStyle.Render("💬 chat"))
	b.WriteString("\n")
	b.WriteString(footerStyle.Render("enter: open • q: quit"))
	b.WriteString("\n")
	return b.String()
}

func (m Model) panelView() string {
	var b strings.Builder

	header := m.profile.HeaderTitle
	if label := m.modelLabel(); label != "" {
		header += "  ·  " + label
	}
	b.WriteString(headerStyle.Width(m.width).Render(header))
	b.WriteString("\n")

	if m.state.Error != "" {
		b.WriteString(errorStyle.Render("⚠ " + m.state.Error))
		b.WriteString("\n")
	}
	if m.state.Notice != nil {
		b.WriteString(noticeStyle.Render(m.state.Notice.Text + "  (ctrl+n to dismiss)"))
		b.WriteString("\n")
	}

	b.WriteString(m.viewport.View())
	b.WriteString("\n")

	if m.state.Typing {
		b.WriteString(m.spinner.View() + " " + m.profile.TypingPlaceholder)
		b.WriteString("\n")
	}
	if m.showSuggestions() {
		b.WriteString(suggestStyle.Render("tab: " + strings.Join(m.profile.Suggestions, " | ")))
		b.WriteString("\n")
	}
	if m.lastErr != nil {
		b.WriteString(errorStyle.Render(m.lastErr.Error()))
		b.WriteString("\n")
	}

	b.WriteString(m.input.View())
	b.WriteString("\n")
	b.WriteString(footerStyle.Render(m.profile.Footer + " • esc: close • ctrl+l: clear • ctrl+t: model • ctrl+v: voice"))
	b.WriteString("\n")
	return b.String()
}

func (m Model) modelLabel() string {
	for _, mod := range m.profile.Models {
		if mod.Value == m.state.Model {
			return mod.Name
		}
	}
	return m.state.Model
}

func (m Model) renderTranscript() string {
	var b strings.Builder
	for i, msg := range m.state.Messages {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(m.renderMessage(msg))
	}
	return b.String()
}

func (m Model) renderMessage(msg domain.Message) string {
	stamp := timeStyle.Render(m.engine.FormatTime(msg.Timestamp))

	if msg.IsUser() {
		line := userStyle.Render(msg.Text)
		pad := max(m.width-lipgloss.Width(line), 0)
		return strings.Repeat(" ", pad) + line + "\n" + strings.Repeat(" ", max(m.width-lipgloss.Width(stamp), 0)) + stamp
	}

	// streaming replies are shown raw so partial markdown does not jump around
	body := msg.Text
	if !msg.Streaming && m.renderer != nil {
		if out, err := m.renderer.Render(msg.Text); err == nil {
			body = strings.Trim(out, "\n")
		}
	}
	if msg.Streaming {
		body += "▌"
	}

	out := body
	if src := msg.FirstSource(); src != "" {
		out += "\n" + sourceStyle.Render(src)
	}
	if !msg.Streaming {
		out += "\n" + stamp
	}
	return out
}

