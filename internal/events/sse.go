package events

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"sincroniza-dispositivos/internal/logging"
)

// Requester is what the SSE source needs from the API client.
type Requester interface {
	URL(path string) string
	HTTPClient() *http.Client
	SetHeaders(req *http.Request)
}

// SSESource reads GET /subscribe as Server-Sent Events. Only events of
// type "message" are delivered.
type SSESource struct {
	api    Requester
	path   string
	logger *slog.Logger
}

func NewSSESource(api Requester, logger *slog.Logger) *SSESource {
	return &SSESource{api: api, path: "/subscribe", logger: logging.OrDiscard(logger)}
}

func (s *SSESource) Stream(ctx context.Context, handle Handler) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.api.URL(s.path), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	s.api.SetHeaders(req)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	// Same jar and transport, but the stream must outlive the request
	// timeout.
	hc := *s.api.HTTPClient()
	hc.Timeout = 0

	resp, err := hc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("failed to open event stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("failed to open event stream: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	s.logger.Info("event stream opened", "transport", "sse")

	err = readEvents(resp.Body, func(event, data string) {
		if event != "message" {
			s.logger.Debug("ignoring event", "type", event)
			return
		}
		handle([]byte(data))
	})
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		return fmt.Errorf("failed to read event stream: %w", err)
	}
	return ErrStreamClosed
}

// readEvents parses an event stream and calls dispatch for every
// complete event. It returns nil at EOF. An event cut off by EOF is
// discarded.
func readEvents(r io.Reader, dispatch func(event, data string)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var (
		event   string
		data    strings.Builder
		hasData bool
	)
	for scanner.Scan() {
		line := strings.TrimSuffix(scanner.Text(), "\r")
		if line == "" {
			if hasData {
				if event == "" {
					event = "message"
				}
				dispatch(event, strings.TrimSuffix(data.String(), "\n"))
			}
			event, hasData = "", false
			data.Reset()
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "data":
			data.WriteString(value)
			data.WriteByte('\n')
			hasData = true
		case "event":
			event = value
		}
	}
	return scanner.Err()
}
