// Package replay is a local stand-in for the simulation server. It accepts
// submissions, hands out channel ids and streams synthetic telemetry so the
// ingestion pipeline can run end to end without the real engine.
package replay

import (
	"math/rand/v2"

	"github.com/google/uuid"

	"github.com/Vasu1712/silensess-backend/internal/models"
)

// Beliefs are drawn from a polarized distribution: mostly near 0 or 1,
// rarely in between, never exactly at the centre bucket.
var (
	beliefBuckets = [...]float64{0, 0.25, 0.5, 0.75, 1}
	bucketWeights = [...]int{4, 1, 0, 1, 4}
)

const jitter = 0.05

// Generator produces the frames of one synthetic run.
type Generator struct {
	NetworkID uuid.UUID
	RunID     int64
	Agents    int
	Shard     int

	rng *rand.Rand
}

// NewGenerator returns a generator for agents agents split into frames of
// at most shard agents. A non-positive shard sends each round whole.
func NewGenerator(seed uint64, agents, shard int) *Generator {
	if shard <= 0 || shard > agents {
		shard = agents
	}
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	return &Generator{
		NetworkID: uuid.New(),
		RunID:     rng.Int64N(1 << 40),
		Agents:    agents,
		Shard:     shard,
		rng:       rng,
	}
}

func (g *Generator) belief() float32 {
	total := 0
	for _, w := range bucketWeights {
		total += w
	}
	pick := g.rng.IntN(total)
	base := beliefBuckets[len(beliefBuckets)-1]
	for i, w := range bucketWeights {
		if pick < w {
			base = beliefBuckets[i]
			break
		}
		pick -= w
	}
	v := base + (g.rng.Float64()*2-1)*jitter
	return float32(min(1, max(0, v)))
}

// Round returns the frames of round, ordered by agent index.
func (g *Generator) Round(round int) []models.SimulationFrame {
	if g.Agents <= 0 {
		return nil
	}
	frames := make([]models.SimulationFrame, 0, (g.Agents+g.Shard-1)/g.Shard)
	for start := 0; start < g.Agents; start += g.Shard {
		n := min(g.Shard, g.Agents-start)
		f := models.SimulationFrame{
			NetworkID:        g.NetworkID,
			RunID:            g.RunID,
			NumberOfAgents:   n,
			Round:            round,
			IndexReference:   start,
			Beliefs:          make([]float32, n),
			PrivateBeliefs:   make([]float32, n),
			SpeakingStatuses: make([]bool, n),
		}
		for i := 0; i < n; i++ {
			f.Beliefs[i] = g.belief()
			f.PrivateBeliefs[i] = g.belief()
			f.SpeakingStatuses[i] = g.rng.IntN(2) == 1
		}
		frames = append(frames, f)
	}
	return frames
}
