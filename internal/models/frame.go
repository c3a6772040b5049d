package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// SimulationFrame is one decoded telemetry message. It covers a single
// round and a contiguous range of agents starting at IndexReference.
type SimulationFrame struct {
	NetworkID        uuid.UUID `json:"networkId"`
	RunID            int64     `json:"runId"`
	NumberOfAgents   int       `json:"numberOfAgents"`
	Round            int       `json:"round"`
	IndexReference   int       `json:"indexReference"`
	Beliefs          []float32 `json:"beliefs"`
	PrivateBeliefs   []float32 `json:"privateBeliefs"`
	SpeakingStatuses []bool    `json:"speakingStatuses"`
	Timestamp        time.Time `json:"timestamp"`
}

// AgentID returns the global agent id of slot i.
func (f SimulationFrame) AgentID(i int) int {
	return f.IndexReference + i
}

// Consistent reports whether every per-agent slice has NumberOfAgents entries.
func (f SimulationFrame) Consistent() bool {
	return f.NumberOfAgents >= 0 &&
		len(f.Beliefs) == f.NumberOfAgents &&
		len(f.PrivateBeliefs) == f.NumberOfAgents &&
		len(f.SpeakingStatuses) == f.NumberOfAgents
}

// MarshalJSON encodes non-finite beliefs as null.
func (f SimulationFrame) MarshalJSON() ([]byte, error) {
	type plain SimulationFrame
	return json.Marshal(struct {
		plain
		Beliefs        []*float32 `json:"beliefs"`
		PrivateBeliefs []*float32 `json:"privateBeliefs"`
	}{
		plain:          plain(f),
		Beliefs:        nullable(f.Beliefs),
		PrivateBeliefs: nullable(f.PrivateBeliefs),
	})
}

func nullable(vs []float32) []*float32 {
	out := make([]*float32, len(vs))
	for i := range vs {
		if finite(vs[i]) {
			out[i] = &vs[i]
		}
	}
	return out
}
