// Package valkey stores the channel id and CBOR-encoded history snapshots
// in a Valkey server so several silensess instances can share them.
package valkey

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/valkey-io/valkey-go"

	"github.com/Vasu1712/silensess-backend/internal/models"
	"github.com/Vasu1712/silensess-backend/internal/storage"
)

const (
	DefaultKeyPrefix   = "silensess:"
	DefaultSnapshotTTL = 24 * time.Hour
)

// Options configures the Valkey backend.
type Options struct {
	Addr        string
	Password    string
	DB          int
	KeyPrefix   string
	SnapshotTTL time.Duration
}

// Store implements storage.Store on top of a valkey.Client.
type Store struct {
	client valkey.Client
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

var _ storage.Store = (*Store)(nil)

// NewStore connects to the server at opts.Addr and verifies it with PING.
func NewStore(ctx context.Context, opts Options, logger *slog.Logger) (*Store, error) {
	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress: []string{opts.Addr},
		Password:    opts.Password,
		SelectDB:    opts.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create valkey client: %w", err)
	}
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to reach valkey at %s: %w", opts.Addr, err)
	}

	if logger == nil {
		logger = slog.Default()
	}
	s := NewStoreWithClient(client, opts, logger)
	s.logger.Info("connected to valkey", "addr", opts.Addr, "db", opts.DB)
	return s, nil
}

// NewStoreWithClient wraps an existing client.
func NewStoreWithClient(client valkey.Client, opts Options, logger *slog.Logger) *Store {
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = DefaultKeyPrefix
	}
	if opts.SnapshotTTL <= 0 {
		opts.SnapshotTTL = DefaultSnapshotTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		client: client,
		prefix: opts.KeyPrefix,
		ttl:    opts.SnapshotTTL,
		logger: logger.With("component", "storage.valkey"),
	}
}

func (s *Store) channelKey() string { return s.prefix + "channel" }

func (s *Store) snapshotKey(channelID string) string {
	return s.prefix + "snapshot:" + channelID
}

func (s *Store) SetChannelID(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return storage.ErrNoChannel
	}
	cmd := s.client.B().Set().Key(s.channelKey()).Value(id).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("set channel id: %w", err)
	}
	return nil
}

func (s *Store) ChannelID(ctx context.Context) (string, error) {
	id, err := s.client.Do(ctx, s.client.B().Get().Key(s.channelKey()).Build()).ToString()
	if valkey.IsValkeyNil(err) {
		return "", storage.ErrNoChannel
	}
	if err != nil {
		return "", fmt.Errorf("get channel id: %w", err)
	}
	if id == "" {
		return "", storage.ErrNoChannel
	}
	return id, nil
}

func (s *Store) ClearChannelID(ctx context.Context) error {
	if err := s.client.Do(ctx, s.client.B().Del().Key(s.channelKey()).Build()).Error(); err != nil {
		return fmt.Errorf("clear channel id: %w", err)
	}
	return nil
}

// SaveSnapshot writes records as one CBOR value that expires after the
// configured TTL.
func (s *Store) SaveSnapshot(ctx context.Context, channelID string, records []models.RoundRecord) error {
	if channelID == "" {
		return storage.ErrNoChannel
	}
	payload, err := cbor.Marshal(records)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	cmd := s.client.B().Set().
		Key(s.snapshotKey(channelID)).
		Value(valkey.BinaryString(payload)).
		ExSeconds(int64(s.ttl / time.Second)).
		Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("save snapshot for %s: %w", channelID, err)
	}
	s.logger.Info("snapshot saved", "channel", channelID, "rounds", len(records), "bytes", len(payload))
	return nil
}

func (s *Store) LoadSnapshot(ctx context.Context, channelID string) ([]models.RoundRecord, error) {
	payload, err := s.client.Do(ctx, s.client.B().Get().Key(s.snapshotKey(channelID)).Build()).AsBytes()
	if valkey.IsValkeyNil(err) {
		return nil, storage.ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot for %s: %w", channelID, err)
	}
	var records []models.RoundRecord
	if err := cbor.Unmarshal(payload, &records); err != nil {
		return nil, fmt.Errorf("decode snapshot for %s: %w", channelID, err)
	}
	return records, nil
}

func (s *Store) Close() error {
	s.client.Close()
	return nil
}
