package memory

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/Vasu1712/silensess-backend/internal/models"
	"github.com/Vasu1712/silensess-backend/internal/storage"
)

// Store keeps the channel id and history snapshots in process memory.
// It is the default backend and is safe for concurrent use.
type Store struct {
	mu        sync.RWMutex
	channelID string
	snapshots map[string][]models.RoundRecord // channelID -> records
	logger    *slog.Logger
}

var _ storage.Store = (*Store)(nil)

// NewStore creates an empty in-memory store.
func NewStore(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		snapshots: make(map[string][]models.RoundRecord),
		logger:    logger.With("component", "storage.memory"),
	}
}

// SetChannelID records id as the active channel. Surrounding whitespace is trimmed.
func (s *Store) SetChannelID(_ context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return storage.ErrNoChannel
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.channelID = id
	s.logger.Debug("channel id stored", "channel", id)
	return nil
}

// ChannelID returns the active channel or storage.ErrNoChannel.
func (s *Store) ChannelID(_ context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.channelID == "" {
		return "", storage.ErrNoChannel
	}
	return s.channelID, nil
}

func (s *Store) ClearChannelID(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channelID = ""
	return nil
}

// SaveSnapshot replaces the stored history for channelID with a copy of records.
func (s *Store) SaveSnapshot(_ context.Context, channelID string, records []models.RoundRecord) error {
	if channelID == "" {
		return storage.ErrNoChannel
	}
	cp := make([]models.RoundRecord, len(records))
	for i, r := range records {
		cp[i] = r.Clone()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[channelID] = cp
	s.logger.Info("snapshot saved", "channel", channelID, "rounds", len(cp))
	return nil
}

// LoadSnapshot returns a copy of the stored history for channelID.
func (s *Store) LoadSnapshot(_ context.Context, channelID string) ([]models.RoundRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records, ok := s.snapshots[channelID]
	if !ok {
		return nil, storage.ErrNoSnapshot
	}
	out := make([]models.RoundRecord, len(records))
	for i, r := range records {
		out[i] = r.Clone()
	}
	return out, nil
}

func (s *Store) Close() error { return nil }
