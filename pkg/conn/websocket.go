package conn

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/coder/websocket"

	"chatsync/pkg/config"
)

// readLimit bounds one inbound frame; history batches can be large.
const readLimit = 4 << 20

// WebsocketDialer dials with github.com/coder/websocket.
type WebsocketDialer struct {
	HTTPClient *http.Client
	Header     http.Header
}

func (d WebsocketDialer) Dial(ctx context.Context, rawURL string) (Transport, error) {
	conn, resp, err := websocket.Dial(ctx, rawURL, &websocket.DialOptions{
		HTTPClient: d.HTTPClient,
		HTTPHeader: d.Header,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}

	conn.SetReadLimit(readLimit)
	return &websocketTransport{conn: conn}, nil
}

type websocketTransport struct {
	conn *websocket.Conn
}

func (t *websocketTransport) Read(ctx context.Context) (string, error) {
	_, data, err := t.conn.Read(ctx)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (t *websocketTransport) Write(ctx context.Context, payload string) error {
	return t.conn.Write(ctx, websocket.MessageText, []byte(payload))
}

func (t *websocketTransport) Close(reason string) error {
	return t.conn.Close(websocket.StatusNormalClosure, reason)
}

// WebsocketBase returns the websocket origin for cfg. A configured
// ws_base_url wins; otherwise it is derived from base_url with http mapped
// to ws and https to wss.
func WebsocketBase(cfg config.ServerConfig) (string, error) {
	if fixed := strings.TrimSpace(cfg.WSBaseURL); fixed != "" {
		u, err := url.Parse(fixed)
		if err != nil {
			return "", fmt.Errorf("parse server.ws_base_url: %w", err)
		}
		if u.Scheme != "ws" && u.Scheme != "wss" {
			return "", fmt.Errorf("server.ws_base_url must be ws or wss, got %q", fixed)
		}
		return strings.TrimRight(u.String(), "/"), nil
	}

	u, err := url.Parse(strings.TrimSpace(cfg.BaseURL))
	if err != nil {
		return "", fmt.Errorf("parse server.base_url: %w", err)
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("server.base_url must be http or https, got %q", cfg.BaseURL)
	}
	u.RawQuery = ""
	u.Fragment = ""

	return strings.TrimRight(u.String(), "/"), nil
}

// Endpoint returns the websocket URL for channel under base.
func Endpoint(base string, channel Channel) string {
	return strings.TrimRight(base, "/") + channel.Path()
}
