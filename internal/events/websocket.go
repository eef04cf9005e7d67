package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/gorilla/websocket"

	"sincroniza-dispositivos/internal/logging"
)

// HeaderSource supplies the identification headers for the handshake.
type HeaderSource interface {
	URL(path string) string
	Header() http.Header
}

// WebSocketSource reads events as text frames from ws(s)://<base>/subscribe.
type WebSocketSource struct {
	api    HeaderSource
	dialer *websocket.Dialer
	logger *slog.Logger
}

func NewWebSocketSource(api HeaderSource, jar http.CookieJar, logger *slog.Logger) *WebSocketSource {
	dialer := *websocket.DefaultDialer
	dialer.Jar = jar
	return &WebSocketSource{api: api, dialer: &dialer, logger: logging.OrDiscard(logger)}
}

// WebSocketURL rewrites an http(s) URL to the matching ws(s) scheme.
func WebSocketURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", raw, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	return u.String(), nil
}

func (s *WebSocketSource) Stream(ctx context.Context, handle Handler) error {
	wsURL, err := WebSocketURL(s.api.URL("/subscribe"))
	if err != nil {
		return err
	}
	conn, _, err := s.dialer.DialContext(ctx, wsURL, s.api.Header())
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("failed to open event stream: %w", err)
	}
	defer conn.Close()
	s.logger.Info("event stream opened", "transport", "websocket")

	// ReadMessage does not take a context; closing the connection
	// unblocks it.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) && closeErr.Code == websocket.CloseNormalClosure {
				return ErrStreamClosed
			}
			return fmt.Errorf("failed to read event stream: %w", err)
		}
		if kind != websocket.TextMessage {
			s.logger.Debug("ignoring non-text frame", "type", kind)
			continue
		}
		handle(data)
	}
}
