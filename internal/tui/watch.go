// Package tui renders a live terminal view of a telemetry session.
//
// The model is driven by the bubbletea event loop only. Session events
// reach it through a Feed, which buffers them without ever blocking the
// session.
package tui

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Vasu1712/silensess-backend/internal/models"
	"github.com/Vasu1712/silensess-backend/internal/session"
)

const (
	defaultBarWidth  = 30
	defaultMaxAgents = 20
	feedBuffer       = 64
)

// BatchMsg carries one processed batch into the event loop.
type BatchMsg struct{ Event session.BatchEvent }

// StateMsg reports a connection state change.
type StateMsg struct{ State session.State }

// ClearMsg reports that the session data was cleared or restored.
type ClearMsg struct{}

// Controls is the part of the session the viewer can drive from the keyboard.
type Controls interface {
	Connect(ctx context.Context)
	Disconnect()
	ClearData()
}

// Feed adapts session events to bubbletea messages. Events that arrive
// while the buffer is full are dropped; the next batch carries the
// up-to-date counters anyway.
type Feed struct {
	ch chan tea.Msg
}

func NewFeed() *Feed {
	return &Feed{ch: make(chan tea.Msg, feedBuffer)}
}

var _ session.Observer = (*Feed)(nil)

func (f *Feed) offer(msg tea.Msg) bool {
	select {
	case f.ch <- msg:
		return true
	default:
		return false
	}
}

func (f *Feed) OnBatch(ev session.BatchEvent) { f.offer(BatchMsg{Event: ev}) }

func (f *Feed) OnStateChange(st session.State) { f.offer(StateMsg{State: st}) }

func (f *Feed) OnClear() { f.offer(ClearMsg{}) }

// Wait returns a command that delivers the next feed message.
func (f *Feed) Wait() tea.Cmd {
	return func() tea.Msg { return <-f.ch }
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	speakStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
	silentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	helpStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Italic(true)
)

// Model is the bubbletea model of the watch view.
type Model struct {
	feed     *Feed
	controls Controls

	state        session.State
	channelID    string
	messageCount int
	latest       *models.SimulationFrame
	round        *models.RoundRecord

	barWidth  int
	maxAgents int
	width     int
	quitting  bool
}

// New builds a model reading from feed. controls may be nil, which makes
// the view read-only.
func New(feed *Feed, controls Controls, initial session.Status) Model {
	return Model{
		feed:         feed,
		controls:     controls,
		state:        stateFromString(initial.State),
		channelID:    initial.ChannelID,
		messageCount: initial.MessageCount,
		barWidth:     defaultBarWidth,
		maxAgents:    defaultMaxAgents,
	}
}

func stateFromString(s string) session.State {
	for _, st := range []session.State{session.Disconnected, session.Connecting, session.Connected} {
		if st.String() == s {
			return st
		}
	}
	return session.Disconnected
}

func (m Model) Init() tea.Cmd {
	return m.feed.Wait()
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		if w := msg.Width - 24; w > 10 && w < defaultBarWidth {
			m.barWidth = w
		}
		return m, nil
	case BatchMsg:
		m.applyBatch(msg.Event)
		return m, m.feed.Wait()
	case StateMsg:
		m.state = msg.State
		return m, m.feed.Wait()
	case ClearMsg:
		m.messageCount = 0
		m.latest = nil
		m.round = nil
		return m, m.feed.Wait()
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c", "esc":
		m.quitting = true
		return m, tea.Quit
	}
	if m.controls == nil {
		return m, nil
	}
	c := m.controls
	switch msg.String() {
	case "c":
		return m, func() tea.Msg {
			c.Connect(context.Background())
			return nil
		}
	case "d":
		return m, func() tea.Msg {
			c.Disconnect()
			return nil
		}
	case "x":
		return m, func() tea.Msg {
			c.ClearData()
			return nil
		}
	}
	return m, nil
}

func (m *Model) applyBatch(ev session.BatchEvent) {
	if ev.ChannelID != "" {
		m.channelID = ev.ChannelID
	}
	m.messageCount = ev.MessageCount
	latest := ev.Latest
	m.latest = &latest

	// Follow the newest round touched so far.
	for i := range ev.Rounds {
		r := ev.Rounds[i]
		if m.round == nil || r.Round >= m.round.Round {
			rc := r.Clone()
			m.round = &rc
		}
	}
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}
	var b strings.Builder

	b.WriteString(titleStyle.Render("SiLEnSeSS telemetry"))
	b.WriteString("\n\n")
	b.WriteString(labelStyle.Render("state    "))
	b.WriteString(renderState(m.state))
	b.WriteString("\n")
	b.WriteString(labelStyle.Render("channel  "))
	if m.channelID == "" {
		b.WriteString("-")
	} else {
		b.WriteString(m.channelID)
	}
	b.WriteString("\n")
	b.WriteString(labelStyle.Render("messages "))
	fmt.Fprintf(&b, "%d\n", m.messageCount)
	if m.latest != nil {
		b.WriteString(labelStyle.Render("frame    "))
		fmt.Fprintf(&b, "run %d, round %d, agents %d..%d\n",
			m.latest.RunID, m.latest.Round, m.latest.IndexReference, m.latest.IndexReference+m.latest.NumberOfAgents-1)
	}

	if m.round == nil {
		b.WriteString("\nwaiting for data\n")
	} else {
		b.WriteString(labelStyle.Render("round    "))
		fmt.Fprintf(&b, "%d\n", m.round.Round)
		b.WriteString(labelStyle.Render("extrema  "))
		fmt.Fprintf(&b, "max %s  min %s\n\n", formatOptional(m.round.Max), formatOptional(m.round.Min))
		b.WriteString(m.renderAgents())
	}

	b.WriteString("\n")
	if m.controls != nil {
		b.WriteString(helpStyle.Render("c connect • d disconnect • x clear • q quit"))
	} else {
		b.WriteString(helpStyle.Render("q quit"))
	}
	b.WriteString("\n")
	return b.String()
}

func (m Model) renderAgents() string {
	ids := make([]int, 0, len(m.round.Beliefs))
	for id := range m.round.Beliefs {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	var b strings.Builder
	shown := ids
	if len(shown) > m.maxAgents {
		shown = shown[:m.maxAgents]
	}
	for _, id := range shown {
		belief := m.round.Beliefs[id]
		marker := silentStyle.Render("·")
		if m.round.Speaking[id] {
			marker = speakStyle.Render("●")
		}
		fmt.Fprintf(&b, "%s %-8s %s %s\n", marker, fmt.Sprintf("agent%d", id), bar(belief, m.barWidth), formatBelief(belief))
	}
	if rest := len(ids) - len(shown); rest > 0 {
		fmt.Fprintf(&b, "  … %d more agents\n", rest)
	}
	return b.String()
}

func renderState(st session.State) string {
	switch st {
	case session.Connected:
		return okStyle.Render(st.String())
	case session.Connecting:
		return warnStyle.Render(st.String())
	default:
		return errStyle.Render(st.String())
	}
}

// bar draws belief in [0,1] as a fixed-width gauge. Out-of-range values
// are clamped and NaN draws an empty gauge.
func bar(belief float32, width int) string {
	v := float64(belief)
	if math.IsNaN(v) {
		v = 0
	}
	v = math.Max(0, math.Min(1, v))
	filled := int(math.Round(v * float64(width)))
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

func formatBelief(v float32) string {
	if math.IsNaN(float64(v)) {
		return "NaN"
	}
	return fmt.Sprintf("%.3f", v)
}

func formatOptional(v *float32) string {
	if v == nil {
		return "-"
	}
	return formatBelief(*v)
}

// Run starts the viewer on the terminal and blocks until the user quits
// or ctx is cancelled.
func Run(ctx context.Context, m Model, opts ...tea.ProgramOption) error {
	opts = append(opts, tea.WithContext(ctx))
	_, err := tea.NewProgram(m, opts...).Run()
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}
