// Package wire holds the binary formats exchanged with the simulation
// server: the inbound telemetry frame and the outbound run submissions.
//
// Telemetry frames use a fixed 36-byte little-endian header followed by
// three per-agent arrays:
//
//	offset  size  field
//	0       16    network id (UUID bytes)
//	16      8     run id (int64)
//	24      4     number of agents N (int32)
//	28      4     round (int32)
//	32      4     index reference (int32)
//	36      4N    public beliefs (float32)
//	36+4N   4N    private beliefs (float32)
//	36+8N   N     speaking statuses (uint8, 1 = speaking)
//
// The layout carries no version field. Client and server agree on it
// through the FrameSubprotocol WebSocket subprotocol.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/Vasu1712/silensess-backend/internal/models"
)

// FrameSubprotocol names this frame layout during the WebSocket handshake.
const FrameSubprotocol = "silensess.frame.v1"

const (
	networkIDOffset      = 0
	runIDOffset          = 16
	numberOfAgentsOffset = 24
	roundOffset          = 28
	indexRefOffset       = 32

	// HeaderSize is the number of bytes before the belief arrays.
	HeaderSize = 36

	// bytesPerAgent is one float32 public belief, one float32 private
	// belief and one speaking byte.
	bytesPerAgent = 4 + 4 + 1
)

var (
	// ErrHeaderTooShort is returned when a buffer cannot hold the header.
	ErrHeaderTooShort = errors.New("wire: buffer shorter than frame header")
	// ErrShortFrame is returned when the payload is smaller than the
	// header's agent count requires.
	ErrShortFrame = errors.New("wire: buffer shorter than declared payload")
	// ErrNegativeAgents is returned for a negative agent count.
	ErrNegativeAgents = errors.New("wire: negative agent count")
	// ErrInconsistentFrame is returned by EncodeFrame for mismatched slices.
	ErrInconsistentFrame = errors.New("wire: per-agent slices disagree with agent count")
)

// ExpectedSize returns the minimum buffer length for a frame of n agents.
func ExpectedSize(n int) int {
	return HeaderSize + n*bytesPerAgent
}

// DecodeFrame parses buf into a SimulationFrame stamped with now. It
// never returns a partially populated frame: any validation failure
// yields a zero frame and an error. The payload is copied, so buf may be
// reused by the caller.
func DecodeFrame(buf []byte, now time.Time) (models.SimulationFrame, error) {
	if len(buf) < HeaderSize {
		return models.SimulationFrame{}, fmt.Errorf("%w: got %d bytes, need %d", ErrHeaderTooShort, len(buf), HeaderSize)
	}

	networkID, err := uuid.FromBytes(buf[networkIDOffset:runIDOffset])
	if err != nil {
		return models.SimulationFrame{}, fmt.Errorf("wire: network id: %w", err)
	}
	runID := int64(binary.LittleEndian.Uint64(buf[runIDOffset:]))
	n := int(int32(binary.LittleEndian.Uint32(buf[numberOfAgentsOffset:])))
	round := int(int32(binary.LittleEndian.Uint32(buf[roundOffset:])))
	indexRef := int(int32(binary.LittleEndian.Uint32(buf[indexRefOffset:])))

	if n < 0 {
		return models.SimulationFrame{}, fmt.Errorf("%w: %d", ErrNegativeAgents, n)
	}
	if expected := ExpectedSize(n); len(buf) < expected {
		return models.SimulationFrame{}, fmt.Errorf("%w: got %d bytes, expected at least %d for %d agents",
			ErrShortFrame, len(buf), expected, n)
	}

	beliefsAt := HeaderSize
	privateAt := beliefsAt + 4*n
	speakingAt := beliefsAt + 8*n

	frame := models.SimulationFrame{
		NetworkID:        networkID,
		RunID:            runID,
		NumberOfAgents:   n,
		Round:            round,
		IndexReference:   indexRef,
		Beliefs:          make([]float32, n),
		PrivateBeliefs:   make([]float32, n),
		SpeakingStatuses: make([]bool, n),
		Timestamp:        now,
	}
	for i := 0; i < n; i++ {
		frame.Beliefs[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[beliefsAt+4*i:]))
		frame.PrivateBeliefs[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[privateAt+4*i:]))
		frame.SpeakingStatuses[i] = buf[speakingAt+i] == 1
	}
	return frame, nil
}

// EncodeFrame serializes f in the layout DecodeFrame reads. The
// timestamp is not part of the wire format.
func EncodeFrame(f models.SimulationFrame) ([]byte, error) {
	if !f.Consistent() {
		return nil, fmt.Errorf("%w: n=%d beliefs=%d private=%d speaking=%d", ErrInconsistentFrame,
			f.NumberOfAgents, len(f.Beliefs), len(f.PrivateBeliefs), len(f.SpeakingStatuses))
	}
	n := f.NumberOfAgents
	buf := make([]byte, ExpectedSize(n))

	copy(buf[networkIDOffset:runIDOffset], f.NetworkID[:])
	binary.LittleEndian.PutUint64(buf[runIDOffset:], uint64(f.RunID))
	binary.LittleEndian.PutUint32(buf[numberOfAgentsOffset:], uint32(int32(n)))
	binary.LittleEndian.PutUint32(buf[roundOffset:], uint32(int32(f.Round)))
	binary.LittleEndian.PutUint32(buf[indexRefOffset:], uint32(int32(f.IndexReference)))

	beliefsAt := HeaderSize
	privateAt := beliefsAt + 4*n
	speakingAt := beliefsAt + 8*n
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint32(buf[beliefsAt+4*i:], math.Float32bits(f.Beliefs[i]))
		binary.LittleEndian.PutUint32(buf[privateAt+4*i:], math.Float32bits(f.PrivateBeliefs[i]))
		if f.SpeakingStatuses[i] {
			buf[speakingAt+i] = 1
		}
	}
	return buf, nil
}
