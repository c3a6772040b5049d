// Package history folds decoded frames into round-indexed records and
// serves ordered, copy-on-read views of them.
package history

import (
	"math"
	"sort"
	"sync"

	"github.com/Vasu1712/silensess-backend/internal/models"
)

// Aggregator owns the round -> RoundRecord map. Fold is the only mutation
// besides Reset and Restore; every read returns deep copies.
type Aggregator struct {
	mu     sync.RWMutex
	rounds map[int]*models.RoundRecord
	latest int
	hasAny bool

	// sorted round keys, rebuilt lazily after a mutation
	order      []int
	orderDirty bool
}

func NewAggregator() *Aggregator {
	return &Aggregator{rounds: make(map[int]*models.RoundRecord)}
}

// Fold merges f into the record for f.Round and returns that round.
//
// Per (round, agent) pair the newest value wins. NaN beliefs are stored
// but never move the round's extrema.
func (a *Aggregator) Fold(f models.SimulationFrame) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	rec, ok := a.rounds[f.Round]
	if !ok {
		rec = models.NewRoundRecord(f.Round)
		a.rounds[f.Round] = rec
		a.orderDirty = true
	}

	n := f.NumberOfAgents
	if len(f.Beliefs) < n {
		n = len(f.Beliefs)
	}
	for i := 0; i < n; i++ {
		id := f.AgentID(i)
		v := f.Beliefs[i]
		rec.Beliefs[id] = v
		rec.Speaking[id] = i < len(f.SpeakingStatuses) && f.SpeakingStatuses[i]
		if math.IsNaN(float64(v)) {
			continue
		}
		if rec.Max == nil || v > *rec.Max {
			m := v
			rec.Max = &m
		}
		if rec.Min == nil || v < *rec.Min {
			m := v
			rec.Min = &m
		}
	}

	if !a.hasAny || f.Round > a.latest {
		a.latest = f.Round
		a.hasAny = true
	}
	return f.Round
}

// FoldAll folds frames in order and returns the distinct rounds touched,
// ascending.
func (a *Aggregator) FoldAll(frames []models.SimulationFrame) []int {
	seen := make(map[int]struct{}, len(frames))
	touched := make([]int, 0, len(frames))
	for _, f := range frames {
		r := a.Fold(f)
		if _, ok := seen[r]; !ok {
			seen[r] = struct{}{}
			touched = append(touched, r)
		}
	}
	sort.Ints(touched)
	return touched
}

// sortedLocked returns round keys ascending. Caller holds a.mu for writing.
func (a *Aggregator) sortedLocked() []int {
	if a.orderDirty || len(a.order) != len(a.rounds) {
		a.order = a.order[:0]
		for r := range a.rounds {
			a.order = append(a.order, r)
		}
		sort.Ints(a.order)
		a.orderDirty = false
	}
	return a.order
}

// History returns every record, round ascending.
func (a *Aggregator) History() []models.RoundRecord {
	a.mu.Lock()
	defer a.mu.Unlock()

	order := a.sortedLocked()
	out := make([]models.RoundRecord, 0, len(order))
	for _, r := range order {
		out = append(out, a.rounds[r].Clone())
	}
	return out
}

// Rounds returns copies of the requested rounds that exist, ascending.
func (a *Aggregator) Rounds(rounds []int) []models.RoundRecord {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]models.RoundRecord, 0, len(rounds))
	for _, r := range rounds {
		if rec, ok := a.rounds[r]; ok {
			out = append(out, rec.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Round < out[j].Round })
	return out
}

// Round returns a copy of one round's record.
func (a *Aggregator) Round(round int) (models.RoundRecord, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	rec, ok := a.rounds[round]
	if !ok {
		return models.RoundRecord{}, false
	}
	return rec.Clone(), true
}

// LatestRound returns the highest round folded so far.
func (a *Aggregator) LatestRound() (int, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.latest, a.hasAny
}

func (a *Aggregator) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.rounds)
}

// AgentIDs lists the agents reported for the latest round, ascending.
func (a *Aggregator) AgentIDs() []int {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if !a.hasAny {
		return nil
	}
	rec := a.rounds[a.latest]
	ids := make([]int, 0, len(rec.Beliefs))
	for id := range rec.Beliefs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// AgentKeys is AgentIDs rendered as chart series keys (agent{N}).
func (a *Aggregator) AgentKeys() []string {
	ids := a.AgentIDs()
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = models.AgentKey(id)
	}
	return keys
}

// Reset drops every record.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.rounds = make(map[int]*models.RoundRecord)
	a.order = nil
	a.orderDirty = false
	a.latest = 0
	a.hasAny = false
}

// Restore replaces the contents with records, typically loaded from a
// snapshot. Later duplicates of a round replace earlier ones.
func (a *Aggregator) Restore(records []models.RoundRecord) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.rounds = make(map[int]*models.RoundRecord, len(records))
	a.hasAny = false
	a.latest = 0
	for _, r := range records {
		c := r.Clone()
		a.rounds[c.Round] = &c
		if !a.hasAny || c.Round > a.latest {
			a.latest = c.Round
			a.hasAny = true
		}
	}
	a.orderDirty = true
}
