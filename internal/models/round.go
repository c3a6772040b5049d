package models

import (
	"fmt"
	"math"
	"strconv"
)

// RoundRecord is the aggregated state of one round. It is built up from
// one or more frames and only ever gains agents.
type RoundRecord struct {
	Round    int             `json:"round" cbor:"1,keyasint"`
	Beliefs  map[int]float32 `json:"beliefs" cbor:"2,keyasint"`
	Speaking map[int]bool    `json:"speaking" cbor:"3,keyasint"`
	Max      *float32        `json:"max" cbor:"4,keyasint"`
	Min      *float32        `json:"min" cbor:"5,keyasint"`
}

// NewRoundRecord returns an empty record for round.
func NewRoundRecord(round int) *RoundRecord {
	return &RoundRecord{
		Round:    round,
		Beliefs:  make(map[int]float32),
		Speaking: make(map[int]bool),
	}
}

// Clone returns a deep copy so callers never share maps with the aggregator.
func (r RoundRecord) Clone() RoundRecord {
	out := RoundRecord{
		Round:    r.Round,
		Beliefs:  make(map[int]float32, len(r.Beliefs)),
		Speaking: make(map[int]bool, len(r.Speaking)),
	}
	for id, v := range r.Beliefs {
		out.Beliefs[id] = v
	}
	for id, v := range r.Speaking {
		out.Speaking[id] = v
	}
	if r.Max != nil {
		v := *r.Max
		out.Max = &v
	}
	if r.Min != nil {
		v := *r.Min
		out.Min = &v
	}
	return out
}

// AgentKey is the chart series key for an agent's belief.
func AgentKey(agentID int) string {
	return "agent" + strconv.Itoa(agentID)
}

// SpeakingKey is the chart series key for an agent's speaking flag.
func SpeakingKey(agentID int) string {
	return "speaking" + strconv.Itoa(agentID)
}

// ChartPoint flattens the record into the row shape the dashboards plot:
// round, agent{N}, speaking{N}, max and min (nil when unset). Non-finite
// beliefs become nil so the row stays JSON-encodable.
func (r RoundRecord) ChartPoint() map[string]any {
	point := make(map[string]any, 3+len(r.Beliefs)+len(r.Speaking))
	point["round"] = r.Round
	for id, v := range r.Beliefs {
		if finite(v) {
			point[AgentKey(id)] = v
		} else {
			point[AgentKey(id)] = nil
		}
	}
	for id, v := range r.Speaking {
		point[SpeakingKey(id)] = v
	}
	if r.Max != nil {
		point["max"] = *r.Max
	} else {
		point["max"] = nil
	}
	if r.Min != nil {
		point["min"] = *r.Min
	} else {
		point["min"] = nil
	}
	return point
}

func (r RoundRecord) String() string {
	return fmt.Sprintf("round %d (%d agents)", r.Round, len(r.Beliefs))
}

func finite(v float32) bool {
	f := float64(v)
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
