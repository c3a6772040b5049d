package simulation

import (
	"encoding/json"
	"log/slog"

	"github.com/Vasu1712/silensess-backend/internal/models"
	"github.com/Vasu1712/silensess-backend/internal/session"
	"github.com/Vasu1712/silensess-backend/internal/ws"
)

// Dashboard message types sent over /ws/simulation.
const (
	MsgSnapshot = "snapshot"
	MsgBatch    = "batch"
	MsgState    = "state"
	MsgClear    = "clear"
)

type dashboardMessage struct {
	Type         string                  `json:"type"`
	ChannelID    string                  `json:"channelId,omitempty"`
	State        string                  `json:"state,omitempty"`
	MessageCount int                     `json:"messageCount"`
	BatchSize    int                     `json:"batchSize,omitempty"`
	Latest       *models.SimulationFrame `json:"latest,omitempty"`
	AgentKeys    []string                `json:"agentKeys,omitempty"`
	Rounds       []map[string]any        `json:"rounds,omitempty"`
}

func chartRows(records []models.RoundRecord) []map[string]any {
	rows := make([]map[string]any, len(records))
	for i, r := range records {
		rows[i] = r.ChartPoint()
	}
	return rows
}

// DashboardFeed forwards session events to the dashboard hub.
type DashboardFeed struct {
	Hub     *ws.Hub
	Session Session
	Logger  *slog.Logger
}

var _ session.Observer = (*DashboardFeed)(nil)

func (f *DashboardFeed) publish(channel string, msg dashboardMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		f.Logger.Error("encoding dashboard message", "type", msg.Type, "err", err)
		return
	}
	f.Hub.Publish(channel, data)
}

// OnBatch runs under the session state lock and only uses the event.
func (f *DashboardFeed) OnBatch(ev session.BatchEvent) {
	latest := ev.Latest
	f.publish(ev.ChannelID, dashboardMessage{
		Type:         MsgBatch,
		ChannelID:    ev.ChannelID,
		MessageCount: ev.MessageCount,
		BatchSize:    ev.BatchSize,
		Latest:       &latest,
		Rounds:       chartRows(ev.Rounds),
	})
}

func (f *DashboardFeed) OnStateChange(st session.State) {
	channel := f.Session.ChannelID()
	f.publish(channel, dashboardMessage{
		Type:         MsgState,
		ChannelID:    channel,
		State:        st.String(),
		MessageCount: f.Session.Status().MessageCount,
	})
}

func (f *DashboardFeed) OnClear() {
	f.publish("", dashboardMessage{Type: MsgClear, State: f.Session.Status().State})
}

// Snapshot builds the full-state message a dashboard receives on connect.
// A dashboard subscribed to a channel other than the followed one gets an
// empty snapshot for that channel.
func (f *DashboardFeed) Snapshot(channelID string) ([]byte, error) {
	st := f.Session.Status()
	if channelID != "" && channelID != st.ChannelID {
		return json.Marshal(dashboardMessage{
			Type:      MsgSnapshot,
			ChannelID: channelID,
			State:     st.State,
		})
	}
	msg := dashboardMessage{
		Type:         MsgSnapshot,
		ChannelID:    st.ChannelID,
		State:        st.State,
		MessageCount: st.MessageCount,
		AgentKeys:    f.Session.AgentKeys(),
		Rounds:       chartRows(f.Session.History()),
	}
	if latest, ok := f.Session.Latest(); ok {
		msg.Latest = &latest
	}
	return json.Marshal(msg)
}
