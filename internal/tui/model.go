// Package tui is the interactive handbook chat.
package tui

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"handbookrag/internal/answer"
)

// Asker answers a question from the k most relevant clauses.
type Asker interface {
	Ask(ctx context.Context, question string, k int) (*answer.Response, error)
}

// quitWords end the session when typed as the whole input.
var quitWords = map[string]struct{}{"quit": {}, "exit": {}, "q": {}, "退出": {}}

type answerMsg struct {
	question string
	resp     *answer.Response
	err      error
}

// Model is the Bubble Tea model for the chat screen.
type Model struct {
	ctx      context.Context
	service  Asker
	k        int
	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model
	summary  string
	status   string
	busy     bool
	ready    bool

	question string
	resp     *answer.Response
	// cursor selects the retrieved clause shown under the answer.
	cursor int
}

// New creates the chat model. summary is shown under the title.
func New(ctx context.Context, service Asker, summary string, k int) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask about the handbook (quit to leave)"
	ti.Focus()
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	return Model{
		ctx:      ctx,
		service:  service,
		k:        k,
		input:    ti,
		viewport: viewport.New(0, 0),
		spinner:  sp,
		summary:  summary,
		status:   "Ready. Ask a question.",
	}
}

func (m Model) Init() tea.Cmd { return textinput.Blink }

func (m Model) ask(q string) tea.Cmd {
	return func() tea.Msg {
		resp, err := m.service.Ask(m.ctx, q, m.k)
		return answerMsg{question: q, resp: resp, err: err}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, rh := resultBoxStyle.GetFrameSize()
		_, qh := queryBoxStyle.GetFrameSize()
		// title, summary, status and a spacer
		reserved := 4 + qh + 1
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, msg.Height-reserved-rh)
		m.viewport.SetContent(m.renderAnswer())
		return m, nil

	case answerMsg:
		m.busy = false
		if msg.err != nil {
			m.status = "Error: " + msg.err.Error()
			m.resp = nil
		} else {
			m.status = fmt.Sprintf("Answered %q from %d clauses. Up/Down browses them.", msg.question, len(msg.resp.Retrieved))
			m.resp = msg.resp
			m.question = msg.question
			m.cursor = 0
		}
		m.viewport.SetContent(m.renderAnswer())
		m.viewport.GotoTop()
		return m, nil

	case spinner.TickMsg:
		if !m.busy {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD {
			return m, tea.Quit
		}
		switch msg.String() {
		case "enter":
			q := strings.TrimSpace(m.input.Value())
			if _, quit := quitWords[strings.ToLower(q)]; quit {
				return m, tea.Quit
			}
			if q == "" || m.busy {
				return m, nil
			}
			m.busy = true
			m.status = "Thinking about " + fmt.Sprintf("%q", q)
			m.input.SetValue("")
			return m, tea.Batch(m.ask(q), m.spinner.Tick)
		case "down":
			if m.resp != nil && len(m.resp.Retrieved) > 0 {
				m.cursor = (m.cursor + 1) % len(m.resp.Retrieved)
				m.viewport.SetContent(m.renderAnswer())
				return m, nil
			}
		case "up":
			if m.resp != nil && len(m.resp.Retrieved) > 0 {
				m.cursor = (m.cursor - 1 + len(m.resp.Retrieved)) % len(m.resp.Retrieved)
				m.viewport.SetContent(m.renderAnswer())
				return m, nil
			}
		case "pgdown", "pgup":
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := titleStyle.Render("Employee Handbook Assistant")
	summary := summaryStyle.Render(m.summary)
	status := m.status
	if m.busy {
		status = m.spinner.View() + " " + status
	}
	return header + "\n" + summary + "\n" +
		resultBoxStyle.Render(m.viewport.View()) + "\n" +
		queryBoxStyle.Render(m.input.View()) + "\n" +
		statusStyle.Render(status)
}

func (m Model) renderAnswer() string {
	if m.resp == nil {
		return "No answer yet."
	}
	var b strings.Builder
	b.WriteString(answerStyle.Render("Answer"))
	b.WriteString("\n")
	b.WriteString(strings.TrimSpace(m.resp.Answer))
	b.WriteString("\n\n")
	if len(m.resp.Retrieved) == 0 {
		b.WriteString("No clauses matched.")
		return b.String()
	}
	r := m.resp.Retrieved[m.cursor]
	fmt.Fprintf(&b, "Clause %d/%d  %s  similarity=%.4f\n\n",
		m.cursor+1, len(m.resp.Retrieved), r.Chunk.Metadata.ClauseID, r.Score)
	b.WriteString(highlightBestSentence(r.Chunk.Text, m.question))
	return b.String()
}

var (
	titleStyle     = lipgloss.NewStyle().Bold(true)
	summaryStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	statusStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	answerStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	resultBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryBoxStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	highlightStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)

	wordRe     = regexp.MustCompile(`\p{Han}|[^\P{L}\p{Han}]+(?:['’][^\P{L}\p{Han}]+)*`)
	sentenceRe = regexp.MustCompile(`[^.!?。！？]+[.!?。！？]*`)
)

// highlightBestSentence marks the sentence sharing the most tokens with query.
func highlightBestSentence(text, query string) string {
	var sentences []string
	for _, s := range sentenceRe.FindAllString(text, -1) {
		if s = strings.TrimSpace(s); s != "" {
			sentences = append(sentences, s)
		}
	}
	if len(sentences) == 0 {
		return strings.TrimSpace(text)
	}
	qTokens := tokenSet(query)
	if len(qTokens) == 0 {
		return strings.Join(sentences, " ")
	}
	best, bestScore := 0, -1
	for i, s := range sentences {
		if score := overlap(qTokens, s); score > bestScore {
			best, bestScore = i, score
		}
	}
	sentences[best] = highlightStyle.Render(sentences[best])
	return strings.Join(sentences, " ")
}

func tokenSet(s string) map[string]struct{} {
	tokens := wordRe.FindAllString(strings.ToLower(s), -1)
	m := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		m[t] = struct{}{}
	}
	return m
}

func overlap(query map[string]struct{}, sentence string) int {
	score := 0
	for t := range tokenSet(sentence) {
		if _, ok := query[t]; ok {
			score++
		}
	}
	return score
}
