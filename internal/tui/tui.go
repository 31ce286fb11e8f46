package tui

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"slices"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/glamour/styles"
	"github.com/fatih/color"
	"github.com/markusylisiurunen/ticketdesk/internal/agent"
	"github.com/markusylisiurunen/ticketdesk/internal/logger"
	"github.com/markusylisiurunen/ticketdesk/internal/pricing"
	"github.com/markusylisiurunen/ticketdesk/toolkit/llm"
	"github.com/tidwall/gjson"
)

type sessionMsg struct {
	err  error
	done bool
}

func waitSessionCmd(subscription <-chan agent.Event) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-subscription
		if !ok {
			return sessionMsg{done: true}
		}
		switch event := event.(type) {
		case *agent.ErrorEvent:
			return sessionMsg{err: event.Err}
		default:
			return sessionMsg{}
		}
	}
}

type Model struct {
	logger    logger.Logger
	session   *agent.Session
	store     *pricing.Store
	modelName string

	viewport  viewport.Model
	textinput textinput.Model

	subscription <-chan agent.Event
	unsubscribe  func()
	cancelFunc   context.CancelFunc

	lastErr error
	notice  string
}

func Initial(logger logger.Logger, session *agent.Session, store *pricing.Store, modelName string) Model {
	m := Model{
		logger:    logger,
		session:   session,
		store:     store,
		modelName: modelName,
	}
	m.subscription, m.unsubscribe = m.session.Subscribe()
	// init the viewport
	vp := viewport.New(0, 0)
	vp.KeyMap.Up.SetKeys("up")
	vp.KeyMap.Down.SetKeys("down")
	vp.KeyMap.PageUp.SetEnabled(false)
	vp.KeyMap.PageDown.SetEnabled(false)
	vp.KeyMap.HalfPageUp.SetEnabled(false)
	vp.KeyMap.HalfPageDown.SetEnabled(false)
	m.viewport = vp
	// init the textinput
	ti := textinput.New()
	ti.Prompt = "❯ "
	ti.Placeholder = "ask about a ticket price"
	ti.Focus()
	ti.CharLimit = 1024
	m.textinput = ti
	return m
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(waitSessionCmd(m.subscription), textinput.Blink)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if msg, ok := msg.(sessionMsg); ok {
		if msg.done {
			return m, nil
		}
		if msg.err != nil {
			if !errors.Is(msg.err, context.Canceled) {
				m.logger.Error("turn failed: %v", msg.err)
				m.lastErr = msg.err
			}
		}
		m.refresh()
		return m, waitSessionCmd(m.subscription)
	}
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			if m.cancelFunc != nil {
				m.cancelFunc()
			}
			if m.unsubscribe != nil {
				m.unsubscribe()
			}
			return m, tea.Quit
		}
		if msg.Type == tea.KeyEsc {
			if m.session.IsRunning() && m.cancelFunc != nil {
				m.cancelFunc()
				m.cancelFunc = nil
				return m, nil
			}
		}
		if msg.Type == tea.KeyEnter {
			value := strings.TrimSpace(m.textinput.Value())
			if value == "" || m.session.IsRunning() {
				return m, nil
			}
			if strings.HasPrefix(value, "/") {
				m.handleSlashCommand()
				m.refresh()
				return m, nil
			}
			m.lastErr, m.notice = nil, ""
			ctx, cancel := context.WithCancel(context.Background())
			m.cancelFunc = cancel
			m.session.Send(ctx, value)
			m.textinput.Reset()
			return m, nil
		}
	case tea.WindowSizeMsg:
		m.viewport.Width = msg.Width
		m.viewport.Height = msg.Height - 4
		m.refresh()
		m.textinput.Width = msg.Width - 3
		return m, nil
	}
	var cmd1, cmd2 tea.Cmd
	m.viewport, cmd1 = m.viewport.Update(msg)
	m.textinput, cmd2 = m.textinput.Update(msg)
	return m, tea.Batch(cmd1, cmd2)
}

func (m *Model) refresh() {
	atBottom := m.viewport.AtBottom()
	m.viewport.SetContent(m.renderContent())
	if atBottom || m.viewport.PastBottom() {
		m.viewport.GotoBottom()
	}
}

func (m Model) View() string {
	var s string
	s += m.viewport.View()
	s += "\n\n" + m.textinput.View()
	s += "\n\n" + color.New(color.Faint).Sprint(m.renderFooter())
	return s
}

func (m Model) renderContent() string {
	var s string
	messages, _ := m.session.GetState()
	for i, msg := range messages {
		switch msg.Role {
		case llm.RoleUser:
			if i > 0 {
				s += "\n\n"
			}
			content := wrapWithPrefix("› "+msg.Content.Text(), "", m.viewport.Width)
			s += color.New(color.Faint).Sprint(strings.TrimSpace(content))
		case llm.RoleAssistant:
			content := msg.Content.Text()
			if content != "" {
				s += "\n\n" + m.renderMarkdown(content)
			}
			for _, call := range msg.ToolCalls {
				s += "\n\n" + color.New(color.FgYellow).Sprint("●") + color.New(color.Bold).Sprintf(" %s", call.Function.Name)
				if city := gjson.Get(call.Function.Args, "destination_city").String(); city != "" {
					s += color.New(color.Faint).Sprintf(" %s", city)
				}
			}
		case llm.RoleTool:
			s += "\n" + color.New(color.Faint).Sprint("  ↳ "+summarizeToolResult(msg.Content.Text()))
		}
	}
	if m.lastErr != nil {
		s += "\n\n" + color.New(color.FgRed).Sprintf("error: %s", m.lastErr.Error())
	}
	if m.notice != "" {
		s += "\n\n" + m.notice
	}
	return strings.TrimLeft(s, "\n")
}

func summarizeToolResult(content string) string {
	if e := gjson.Get(content, "error"); e.Exists() {
		return "failed: " + e.String()
	}
	price, status := gjson.Get(content, "price"), gjson.Get(content, "status")
	if !price.Exists() {
		return "done"
	}
	return fmt.Sprintf("$%.2f (%s)", price.Float(), strings.ReplaceAll(status.String(), "_", " "))
}

func (m Model) renderMarkdown(content string) string {
	var margin uint = 0
	dark := styles.DarkStyleConfig
	dark.Document.Color = nil
	dark.Document.Margin = &margin
	dark.H1 = dark.H2
	dark.H1.Prefix = "# "
	dark.Code.Prefix = ""
	dark.Code.Suffix = ""
	renderer, err := glamour.NewTermRenderer(
		glamour.WithStyles(dark),
		glamour.WithWordWrap(m.viewport.Width),
	)
	if err != nil {
		return content
	}
	markdown, err := renderer.Render(strings.TrimSpace(content))
	if err != nil {
		return content
	}
	return strings.TrimSpace(markdown)
}

func (m Model) renderFooter() string {
	if value := m.textinput.Value(); strings.HasPrefix(value, "/") {
		for _, cmd := range m.listSlashCommands() {
			if value == "/"+cmd || strings.HasPrefix(value, "/"+cmd+" ") {
				return m.getSlashCommandHelp(cmd)
			}
		}
		return strings.Join(m.listSlashCommands(), ", ")
	}
	_, usage := m.session.GetState()
	rounds, capped := m.session.LastTurn()
	meta := footerMeta(m.modelName, usage, rounds, capped)
	if m.session.IsRunning() {
		return "working... esc to cancel. (" + meta + ")"
	}
	return "ctrl+c to quit. (" + meta + ")"
}

func footerMeta(modelName string, usage llm.Usage, rounds int, capped bool) string {
	var meta string
	meta += fmt.Sprintf("%s, ", modelName)
	meta += fmt.Sprintf("tokens: %d", usage.PromptTokens+usage.CompletionTokens)
	if rounds > 0 {
		meta += fmt.Sprintf(", tool rounds: %d", rounds)
	}
	if capped {
		meta += ", round limit reached"
	}
	return meta
}

// slash commands ----------------------------------------------------------------------------------

func (m Model) listSlashCommands() []string {
	return []string{
		"clear",
		"copy",
		"prices",
	}
}

func (m Model) getSlashCommandHelp(cmd string) string {
	switch cmd {
	case "clear":
		return "clears the conversation history."
	case "copy":
		return "copies the last assistant message to the clipboard."
	case "prices":
		return "lists every stored ticket price."
	default:
		return ""
	}
}

func (m *Model) handleSlashCommand() {
	defer m.textinput.Reset()
	fields := strings.Fields(m.textinput.Value())
	if len(fields) == 0 {
		return
	}
	m.lastErr, m.notice = nil, ""
	switch fields[0] {
	case "/clear":
		m.session.Reset()
	case "/copy":
		m.handleCopySlashCommand()
	case "/prices":
		m.handlePricesSlashCommand()
	}
}

func (m *Model) handleCopySlashCommand() {
	messages, _ := m.session.GetState()
	var content string
	for _, msg := range slices.Backward(messages) {
		if msg.Role == llm.RoleAssistant && msg.Content.Text() != "" {
			content = msg.Content.Text()
			break
		}
	}
	if content == "" {
		return
	}
	cmd := exec.Command("pbcopy")
	cmd.Stdin = strings.NewReader(content)
	if err := cmd.Run(); err != nil {
		m.logger.Error("failed to copy to clipboard: %v", err)
	}
}

func (m *Model) handlePricesSlashCommand() {
	records, err := m.store.List(context.Background())
	if err != nil {
		m.logger.Error("failed to list prices: %v", err)
		m.lastErr = err
		return
	}
	m.notice = formatPrices(records)
}

func formatPrices(records []pricing.PriceRecord) string {
	if len(records) == 0 {
		return color.New(color.Faint).Sprint("no prices stored yet.")
	}
	width := 0
	for _, r := range records {
		width = max(width, len(r.City))
	}
	lines := make([]string, len(records))
	for i, r := range records {
		lines[i] = fmt.Sprintf("%-*s  $%8.2f", width, r.City, r.Price)
	}
	return strings.Join(lines, "\n")
}
