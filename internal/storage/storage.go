// Package storage defines the persistence contracts used by the session
// and the HTTP API. Backends live in the memory and valkey subpackages.
package storage

import (
	"context"
	"errors"

	"github.com/Vasu1712/silensess-backend/internal/models"
)

// ErrNoChannel is returned when no simulation channel has been recorded yet.
var ErrNoChannel = errors.New("storage: no channel id recorded")

// ErrNoSnapshot is returned when no history snapshot exists for a channel.
var ErrNoSnapshot = errors.New("storage: no snapshot for channel")

// ChannelStore remembers the channel id of the last submitted simulation.
type ChannelStore interface {
	SetChannelID(ctx context.Context, id string) error
	ChannelID(ctx context.Context) (string, error)
	ClearChannelID(ctx context.Context) error
}

// SnapshotStore persists round history per channel.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, channelID string, records []models.RoundRecord) error
	LoadSnapshot(ctx context.Context, channelID string) ([]models.RoundRecord, error)
}

// Store is implemented by every backend.
type Store interface {
	ChannelStore
	SnapshotStore
	Close() error
}
