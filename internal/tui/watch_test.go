package tui

import (
	"context"
	"math"
	"strings"
	"sync"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Vasu1712/silensess-backend/internal/models"
	"github.com/Vasu1712/silensess-backend/internal/session"
)

type recordingControls struct {
	mu    sync.Mutex
	calls []string
}

func (c *recordingControls) add(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, s)
}

func (c *recordingControls) Connect(context.Context) { c.add("connect") }
func (c *recordingControls) Disconnect()             { c.add("disconnect") }
func (c *recordingControls) ClearData()              { c.add("clear") }

func batchEvent() session.BatchEvent {
	hi, lo := float32(0.9), float32(0.1)
	r3 := models.NewRoundRecord(3)
	r3.Beliefs[0], r3.Beliefs[1] = 0.1, 0.9
	r3.Speaking[0], r3.Speaking[1] = true, false
	r3.Max, r3.Min = &hi, &lo
	r2 := models.NewRoundRecord(2)
	r2.Beliefs[0] = 0.5

	return session.BatchEvent{
		ChannelID:    "chan-1",
		MessageCount: 7,
		BatchSize:    2,
		Latest: models.SimulationFrame{
			RunID: 4, Round: 3, NumberOfAgents: 2,
			Beliefs: []float32{0.1, 0.9}, PrivateBeliefs: []float32{0.1, 0.9},
			SpeakingStatuses: []bool{true, false},
		},
		Rounds: []models.RoundRecord{*r2, *r3},
	}
}

func key(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestFeed_NeverBlocks(t *testing.T) {
	feed := NewFeed()
	for i := 0; i < feedBuffer+10; i++ {
		feed.OnClear()
	}
	assert.Len(t, feed.ch, feedBuffer)

	msg := feed.Wait()()
	assert.IsType(t, ClearMsg{}, msg)
}

func TestModel_BatchUpdatesView(t *testing.T) {
	m := New(NewFeed(), nil, session.Status{State: "connected"})

	next, cmd := m.Update(BatchMsg{Event: batchEvent()})
	require.NotNil(t, cmd, "model keeps listening to the feed")
	m = next.(Model)

	require.NotNil(t, m.round)
	assert.Equal(t, 3, m.round.Round, "newest touched round is shown")

	view := m.View()
	assert.Contains(t, view, "chan-1")
	assert.Contains(t, view, "7")
	assert.Contains(t, view, "agent0")
	assert.Contains(t, view, "agent1")
	assert.Contains(t, view, "0.900")
	assert.Contains(t, view, "max 0.900  min 0.100")
	assert.Contains(t, view, "run 4, round 3, agents 0..1")
}

func TestModel_OlderRoundDoesNotReplaceNewer(t *testing.T) {
	m := New(NewFeed(), nil, session.Status{})
	next, _ := m.Update(BatchMsg{Event: batchEvent()})
	m = next.(Model)

	late := session.BatchEvent{MessageCount: 8, Rounds: []models.RoundRecord{*models.NewRoundRecord(1)}}
	next, _ = m.Update(BatchMsg{Event: late})
	m = next.(Model)

	assert.Equal(t, 3, m.round.Round)
	assert.Equal(t, 8, m.messageCount)
	assert.Equal(t, "chan-1", m.channelID, "empty channel in an event keeps the known one")
}

func TestModel_StateAndClear(t *testing.T) {
	m := New(NewFeed(), nil, session.Status{State: "disconnected"})
	assert.Equal(t, session.Disconnected, m.state)

	next, _ := m.Update(StateMsg{State: session.Connecting})
	m = next.(Model)
	assert.Contains(t, m.View(), "connecting")

	next, _ = m.Update(BatchMsg{Event: batchEvent()})
	m = next.(Model)
	next, _ = m.Update(ClearMsg{})
	m = next.(Model)

	assert.Nil(t, m.round)
	assert.Nil(t, m.latest)
	assert.Zero(t, m.messageCount)
	assert.Contains(t, m.View(), "waiting for data")
}

func TestModel_TruncatesLongAgentLists(t *testing.T) {
	m := New(NewFeed(), nil, session.Status{})
	m.maxAgents = 2
	r := models.NewRoundRecord(0)
	for i := 0; i < 5; i++ {
		r.Beliefs[i] = 0.5
	}
	next, _ := m.Update(BatchMsg{Event: session.BatchEvent{Rounds: []models.RoundRecord{*r}}})
	view := next.(Model).View()

	assert.Contains(t, view, "agent1")
	assert.NotContains(t, view, "agent2")
	assert.Contains(t, view, "3 more agents")
}

func TestModel_Keys(t *testing.T) {
	controls := &recordingControls{}
	m := New(NewFeed(), controls, session.Status{})

	for _, k := range []string{"c", "d", "x"} {
		_, cmd := m.Update(key(k))
		require.NotNil(t, cmd)
		assert.Nil(t, cmd())
	}
	assert.Equal(t, []string{"connect", "disconnect", "clear"}, controls.calls)

	next, cmd := m.Update(key("q"))
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
	assert.Empty(t, next.(Model).View())
}

func TestModel_ReadOnlyIgnoresControls(t *testing.T) {
	m := New(NewFeed(), nil, session.Status{})
	_, cmd := m.Update(key("c"))
	assert.Nil(t, cmd)
	assert.True(t, strings.HasSuffix(strings.TrimSpace(m.View()), "q quit"))
}

func TestBar(t *testing.T) {
	assert.Equal(t, "░░░░", bar(0, 4))
	assert.Equal(t, "██░░", bar(0.5, 4))
	assert.Equal(t, "████", bar(2, 4))
	assert.Equal(t, "░░░░", bar(float32(math.NaN()), 4))
}
