package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/Vasu1712/silensess-backend/internal/models"
)

const (
	// runHeaderSize covers mode, save mode, the two config counts, the
	// three int32 network parameters, the stop threshold and the seed.
	runHeaderSize = 28

	// randomSeed asks the server to pick its own seed.
	randomSeed int64 = -1

	maxNameLength   = math.MaxUint8
	maxConfigCount  = math.MaxInt8
	thresholdMarker = float32(2.0)
)

var (
	// ErrNameTooLong is returned for names that do not fit a one-byte length prefix.
	ErrNameTooLong = errors.New("wire: name longer than 255 bytes")
	// ErrTooManyConfigs is returned when a config list overflows its int8 count.
	ErrTooManyConfigs = errors.New("wire: more than 127 configs")
)

// leWriter appends little-endian values to a buffer.
type leWriter struct {
	buf bytes.Buffer
}

func (w *leWriter) u8(v uint8) { w.buf.WriteByte(v) }

func (w *leWriter) i32(v int32) { w.u32(uint32(v)) }

func (w *leWriter) f32(v float32) { w.u32(math.Float32bits(v)) }

func (w *leWriter) u32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf.Write(b[:])
}

func (w *leWriter) i64(v int64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(v))
	w.buf.Write(b[:])
}

// name writes a one-byte length prefix followed by the UTF-8 bytes.
func (w *leWriter) name(s string) error {
	if len(s) > maxNameLength {
		return fmt.Errorf("%w: %q is %d bytes", ErrNameTooLong, s, len(s))
	}
	w.u8(uint8(len(s)))
	w.buf.WriteString(s)
	return nil
}

// align pads with zero bytes up to the next multiple of four.
func (w *leWriter) align() {
	for w.buf.Len()%4 != 0 {
		w.buf.WriteByte(0)
	}
}

// EncodeRun packs a standard run request for the server's /run endpoint.
func EncodeRun(cfg models.RunConfig) ([]byte, error) {
	if len(cfg.AgentConfigs) > maxConfigCount || len(cfg.BiasConfigs) > maxConfigCount {
		return nil, fmt.Errorf("%w: %d agent configs, %d bias configs",
			ErrTooManyConfigs, len(cfg.AgentConfigs), len(cfg.BiasConfigs))
	}

	var w leWriter
	w.buf.Grow(runHeaderSize + len(cfg.AgentConfigs)*14 + len(cfg.BiasConfigs)*5)

	w.u8(0) // mode: generated network
	w.u8(uint8(cfg.SaveMode))
	w.u8(uint8(len(cfg.AgentConfigs)))
	w.u8(uint8(len(cfg.BiasConfigs)))
	w.i32(cfg.NumNetworks)
	w.i32(cfg.Density)
	w.i32(cfg.IterationLimit)
	w.f32(cfg.StopThreshold)
	seed := randomSeed
	if cfg.Seed != nil {
		seed = *cfg.Seed
	}
	w.i64(seed)

	for _, ac := range cfg.AgentConfigs {
		w.i32(ac.Count)
		w.u8(uint8(ac.Strategy))
		w.u8(uint8(ac.Effect))
		switch ac.Strategy {
		case models.StrategyThreshold:
			w.f32(cfg.ThresholdValue)
		case models.StrategyConfidence:
			w.f32(cfg.ConfidenceThresholdValue)
			w.i32(cfg.OpenMindedness)
		}
	}
	for _, bc := range cfg.BiasConfigs {
		w.i32(bc.Count)
		w.u8(uint8(bc.Bias))
	}
	return w.buf.Bytes(), nil
}

// EncodeCustom packs a hand-built network for the server's /custom
// endpoint. Agent and neighbour names are length-prefixed and each
// section is padded to a four-byte boundary.
func EncodeCustom(cfg models.CustomNetworkConfig) ([]byte, error) {
	var w leWriter

	w.f32(cfg.StopThreshold)
	w.u32(cfg.IterationLimit)
	w.u8(uint8(cfg.SaveMode))
	if err := w.name(cfg.NetworkName); err != nil {
		return nil, fmt.Errorf("network name: %w", err)
	}
	w.align()

	w.u32(uint32(len(cfg.Agents)))
	for _, a := range cfg.Agents {
		w.f32(a.InitialBelief)
	}
	for _, a := range cfg.Agents {
		w.f32(a.ToleranceRadius)
	}
	for _, a := range cfg.Agents {
		w.f32(a.ToleranceOffset)
	}
	for _, a := range cfg.Agents {
		w.u8(uint8(a.SilenceStrategy))
	}
	for _, a := range cfg.Agents {
		w.u8(uint8(a.SilenceEffect))
	}
	for _, a := range cfg.Agents {
		if err := w.name(a.Name); err != nil {
			return nil, fmt.Errorf("agent name: %w", err)
		}
	}
	w.align()

	w.u32(uint32(len(cfg.Neighbors)))
	for _, nb := range cfg.Neighbors {
		w.f32(nb.Influence)
	}
	for _, nb := range cfg.Neighbors {
		w.u8(uint8(nb.Bias))
	}
	for _, nb := range cfg.Neighbors {
		if err := w.name(nb.Source); err != nil {
			return nil, fmt.Errorf("neighbor source: %w", err)
		}
	}
	for _, nb := range cfg.Neighbors {
		if err := w.name(nb.Target); err != nil {
			return nil, fmt.Errorf("neighbor target: %w", err)
		}
	}

	// Trailing parameter records for agents whose strategy needs them.
	for i, a := range cfg.Agents {
		switch a.SilenceStrategy {
		case models.StrategyThreshold:
			w.u32(uint32(i))
			w.f32(valueOr(a.ThresholdValue, 0))
			w.f32(thresholdMarker)
		case models.StrategyConfidence:
			w.u32(uint32(i))
			w.f32(valueOr(a.UpdateValue, 1))
			w.f32(valueOr(a.ConfidenceValue, 0))
		}
	}
	return w.buf.Bytes(), nil
}

func valueOr(p *float32, fallback float32) float32 {
	if p == nil {
		return fallback
	}
	return *p
}
