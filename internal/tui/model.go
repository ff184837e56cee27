package tui

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"docchat/internal/domain"
	"docchat/internal/service"
)

// ChatPort is the TUI-facing subset of the RAG service.
type ChatPort interface {
	Ingest(ctx context.Context, path string) (*service.IngestResult, error)
	Ask(ctx context.Context, question string) (domain.QAExchange, error)
}

type answerMsg struct {
	exchange domain.QAExchange
	err      error
}

type ingestMsg struct {
	path   string
	result *service.IngestResult
	err    error
}

// Model is the Bubble Tea model for the chat screen.
type Model struct {
	ctx      context.Context
	service  ChatPort
	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model
	history  []domain.QAExchange
	summary  string
	status   string
	asking   bool
	loading  bool
	ready    bool
}

// New creates a chat model. summary is shown under the header until a new
// document is loaded.
func New(ctx context.Context, svc ChatPort, summary string) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask a question, /load <path> or /clear"
	ti.Focus()
	ti.CharLimit = 0
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	return Model{
		ctx:      ctx,
		service:  svc,
		input:    ti,
		viewport: viewport.New(0, 0),
		spinner:  sp,
		summary:  summary,
		status:   "Ready.",
	}
}

func (m Model) Init() tea.Cmd { return tea.Batch(textinput.Blink, m.spinner.Tick) }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, hh := historyBoxStyle.GetFrameSize()
		_, qh := queryBoxStyle.GetFrameSize()
		reserved := 2 + 1 + qh + 1 // header, summary, status, input
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, msg.Height-reserved-hh)
		m.refresh()
		return m, nil

	case answerMsg:
		m.asking = false
		m.history = append(m.history, msg.exchange)
		if msg.err != nil {
			m.status = "Error: " + domain.UserMessage(msg.err)
		} else {
			m.status = "Answered from " + provenanceLabel(msg.exchange.Provenance) + "."
		}
		m.refresh()
		return m, nil

	case ingestMsg:
		m.loading = false
		if msg.err != nil {
			m.status = "Error: " + domain.UserMessage(msg.err)
			return m, nil
		}
		m.summary = msg.result.Summary
		m.status = fmt.Sprintf("Loaded %s: %d segments in %s.", msg.path, msg.result.Segments, msg.result.Elapsed.Round(time.Millisecond))
		if msg.result.Truncated {
			m.status += " Only the beginning of the document was indexed."
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD {
			return m, tea.Quit
		}
		if msg.Type == tea.KeyEnter {
			line := strings.TrimSpace(m.input.Value())
			if line == "" {
				return m, nil
			}
			return m.submit(line)
		}
		if msg.Type == tea.KeyPgUp || msg.Type == tea.KeyPgDown {
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) submit(line string) (tea.Model, tea.Cmd) {
	switch {
	case line == "/clear":
		m.input.SetValue("")
		m.history = nil
		m.status = "History cleared."
		m.refresh()
		return m, nil
	case line == "/load" || strings.HasPrefix(line, "/load "):
		path := strings.TrimSpace(strings.TrimPrefix(line, "/load"))
		if path == "" {
			m.status = "Usage: /load <path>"
			return m, nil
		}
		if m.loading {
			m.status = "Error: " + domain.UserMessage(domain.ErrBuildInProgress)
			return m, nil
		}
		m.input.SetValue("")
		m.loading = true
		m.status = "Processing " + path + "..."
		return m, m.ingest(path)
	}
	if m.asking {
		return m, nil
	}
	m.input.SetValue("")
	m.asking = true
	m.status = "Thinking..."
	return m, m.ask(line)
}

func (m Model) ask(question string) tea.Cmd {
	ctx, svc := m.ctx, m.service
	return func() tea.Msg {
		ex, err := svc.Ask(ctx, question)
		return answerMsg{exchange: ex, err: err}
	}
}

func (m Model) ingest(path string) tea.Cmd {
	ctx, svc := m.ctx, m.service
	return func() tea.Msg {
		res, err := svc.Ingest(ctx, path)
		return ingestMsg{path: path, result: res, err: err}
	}
}

func (m *Model) refresh() {
	m.viewport.SetContent(m.renderHistory())
	m.viewport.GotoBottom()
}

func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := lipgloss.NewStyle().Bold(true).Render("Document Chat")
	summary := summaryStyle.Render(m.summary)
	status := m.status
	if m.asking || m.loading {
		status = m.spinner.View() + " " + status
	}
	return header + "\n" + summary + "\n" +
		historyBoxStyle.Render(m.viewport.View()) + "\n" +
		queryBoxStyle.Render(m.input.View()) + "\n" +
		statusStyle.Render(status)
}

func (m Model) renderHistory() string {
	if len(m.history) == 0 {
		return "No questions yet."
	}
	var b strings.Builder
	for i, ex := range m.history {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(questionStyle.Render("You: " + ex.Question))
		b.WriteString("\n")
		label := provenanceLabel(ex.Provenance)
		if ex.Provenance == domain.ProvenanceGrounded {
			b.WriteString(groundedStyle.Render("[" + label + "]"))
			b.WriteString(" ")
			b.WriteString(highlightBestSentence(ex.Answer, ex.Question))
		} else {
			b.WriteString(generalStyle.Render("[" + label + "]"))
			b.WriteString(" ")
			b.WriteString(ex.Answer)
		}
	}
	return b.String()
}

func provenanceLabel(p domain.Provenance) string {
	if p == domain.ProvenanceGrounded {
		return "document"
	}
	return "general knowledge"
}

var (
	historyBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryBoxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	summaryStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	statusStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	questionStyle   = lipgloss.NewStyle().Bold(true)
	groundedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	generalStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	highlightStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	unicodeWordRe   = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*`)
	sentenceRe      = regexp.MustCompile(`[^.!?]+[.!?]+`)
)

// highlightBestSentence emphasizes the answer sentence sharing the most
// words with the question.
func highlightBestSentence(text, query string) string {
	sentences := sentenceRe.FindAllString(text, -1)
	if len(sentences) < 2 {
		return text
	}
	qTokens := toTokenSet(query)
	if len(qTokens) == 0 {
		return text
	}
	bestIdx, bestScore := 0, 0
	for i, s := range sentences {
		if score := tokenOverlapScore(qTokens, s); score > bestScore {
			bestIdx, bestScore = i, score
		}
	}
	if bestScore == 0 {
		return text
	}
	out := make([]string, len(sentences))
	for i, s := range sentences {
		s = strings.TrimSpace(s)
		if i == bestIdx {
			s = highlightStyle.Render(s)
		}
		out[i] = s
	}
	return strings.Join(out, " ")
}

func toTokenSet(s string) map[string]struct{} {
	tokens := unicodeWordRe.FindAllString(strings.ToLower(s), -1)
	m := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		m[t] = struct{}{}
	}
	return m
}

func tokenOverlapScore(queryTokens map[string]struct{}, sentence string) int {
	score := 0
	seen := map[string]struct{}{}
	for _, t := range unicodeWordRe.FindAllString(strings.ToLower(sentence), -1) {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		if _, ok := queryTokens[t]; ok {
			score++
		}
	}
	return score
}
