package ws

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Vasu1712/silensess-backend/internal/wire"
)

// NewTelemetryDialer returns a dialer that offers the frame subprotocol and
// bounds the opening handshake by timeout.
func NewTelemetryDialer(timeout time.Duration) *websocket.Dialer {
	return &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: timeout,
		Subprotocols:     []string{wire.FrameSubprotocol},
		ReadBufferSize:   64 * 1024,
	}
}

// TelemetryURL joins the simulation server base URL and a channel id into
// {base}/ws/{channel}.
func TelemetryURL(base, channelID string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse telemetry url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fmt.Errorf("telemetry url %q: scheme must be ws or wss", base)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws/" + url.PathEscape(channelID)
	u.RawPath = ""
	return u.String(), nil
}

// DialTelemetry opens the telemetry stream for channelID.
func DialTelemetry(ctx context.Context, d *websocket.Dialer, base, channelID string) (*websocket.Conn, error) {
	target, err := TelemetryURL(base, channelID)
	if err != nil {
		return nil, err
	}
	conn, resp, err := d.DialContext(ctx, target, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", target, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}
	return conn, nil
}
