// Package submit sends simulation configurations to the simulation server
// and records the channel id it answers with.
package submit

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Vasu1712/silensess-backend/internal/metrics"
	"github.com/Vasu1712/silensess-backend/internal/models"
	"github.com/Vasu1712/silensess-backend/internal/storage"
	"github.com/Vasu1712/silensess-backend/internal/wire"
)

var (
	// ErrUnexpectedStatus is returned when the server answers with a non-2xx status.
	ErrUnexpectedStatus = errors.New("submit: unexpected response status")
	// ErrEmptyChannel is returned when a 2xx response carries no channel id.
	ErrEmptyChannel = errors.New("submit: empty channel id in response")
)

const maxResponseBytes = 4096

type Client struct {
	BaseURL  string
	HTTP     *http.Client
	Channels storage.ChannelStore
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

func New(baseURL string, timeout time.Duration, channels storage.ChannelStore, logger *slog.Logger, m *metrics.Metrics) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		BaseURL:  strings.TrimSuffix(baseURL, "/"),
		HTTP:     &http.Client{Timeout: timeout},
		Channels: channels,
		logger:   logger.With("component", "submit"),
		metrics:  m,
	}
}

// SubmitRun posts a standard run to {base}/run and stores the returned
// channel id.
func (c *Client) SubmitRun(ctx context.Context, cfg models.RunConfig) (string, error) {
	if err := cfg.Validate(); err != nil {
		return "", fmt.Errorf("invalid run config: %w", err)
	}
	body, err := wire.EncodeRun(cfg)
	if err != nil {
		return "", fmt.Errorf("encode run config: %w", err)
	}
	return c.post(ctx, "run", body)
}

// SubmitCustom posts a custom network to {base}/custom and stores the
// returned channel id.
func (c *Client) SubmitCustom(ctx context.Context, cfg models.CustomNetworkConfig) (string, error) {
	if err := cfg.Validate(); err != nil {
		return "", fmt.Errorf("invalid custom network: %w", err)
	}
	body, err := wire.EncodeCustom(cfg)
	if err != nil {
		return "", fmt.Errorf("encode custom network: %w", err)
	}
	return c.post(ctx, "custom", body)
}

func (c *Client) post(ctx context.Context, kind string, body []byte) (channelID string, err error) {
	defer func() {
		result := "ok"
		if err != nil {
			result = "error"
		}
		if c.metrics != nil {
			c.metrics.Submissions.WithLabelValues(kind, result).Inc()
		}
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/"+kind, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build %s request: %w", kind, err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", fmt.Errorf("post %s: %w", kind, err)
	}
	defer resp.Body.Close()

	text, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("read %s response: %w", kind, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: %s: %s", ErrUnexpectedStatus, resp.Status, strings.TrimSpace(string(text)))
	}

	channelID = strings.TrimSpace(string(text))
	if channelID == "" {
		return "", ErrEmptyChannel
	}
	if err := c.Channels.SetChannelID(ctx, channelID); err != nil {
		return "", fmt.Errorf("store channel id: %w", err)
	}
	c.logger.Info("simulation submitted", "kind", kind, "bytes", len(body), "channel", channelID)
	return channelID, nil
}
