package events

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sincroniza-dispositivos/internal/api"
)

type parsed struct{ event, data string }

func parse(t *testing.T, stream string) []parsed {
	t.Helper()
	var got []parsed
	require.NoError(t, readEvents(strings.NewReader(stream), func(e, d string) {
		got = append(got, parsed{e, d})
	}))
	return got
}

func TestReadEvents(t *testing.T) {
	got := parse(t, ": keepalive\n"+
		"data: {\"a\":1}\n\n"+
		"event: ping\ndata: x\n\n"+
		"data: line1\r\ndata:line2\r\n\r\n"+
		"id: 7\n\n"+
		"data: cut off")

	assert.Equal(t, []parsed{
		{"message", `{"a":1}`},
		{"ping", "x"},
		{"message", "line1\nline2"},
	}, got)
}

func TestReadEventsEmptyData(t *testing.T) {
	got := parse(t, "data\n\n")
	assert.Equal(t, []parsed{{"message", ""}}, got)
}

func newClient(t *testing.T, url string) *api.Client {
	t.Helper()
	c, err := api.NewClient(url, "test-client", 50*time.Millisecond)
	require.NoError(t, err)
	return c
}

type collector struct {
	mu   sync.Mutex
	got  []string
	seen chan struct{}
}

func newCollector() *collector { return &collector{seen: make(chan struct{}, 16)} }

func (c *collector) handle(p []byte) {
	c.mu.Lock()
	c.got = append(c.got, string(p))
	c.mu.Unlock()
	c.seen <- struct{}{}
}

func (c *collector) payloads() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.got...)
}

func (c *collector) wait(t *testing.T, n int) {
	t.Helper()
	for range n {
		select {
		case <-c.seen:
		case <-time.After(5 * time.Second):
			require.FailNow(t, "payload not delivered")
		}
	}
}

func TestSSEStreamDeliversMessagesUntilClose(t *testing.T) {
	headers := make(chan http.Header, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/subscribe", r.URL.Path)
		headers <- r.Header.Clone()
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "data: {\"device_id\":\"1\",\"event\":\"init\"}\n\n")
		w.(http.Flusher).Flush()
		// Longer than the client's request timeout.
		time.Sleep(100 * time.Millisecond)
		fmt.Fprint(w, "event: other\ndata: skip\n\n")
		fmt.Fprint(w, "data: {\"device_id\":\"1\",\"event\":\"removed\"}\n\n")
	}))
	defer srv.Close()

	c := newCollector()
	err := NewSSESource(newClient(t, srv.URL), nil).Stream(context.Background(), c.handle)

	assert.ErrorIs(t, err, ErrStreamClosed)
	assert.True(t, Terminal(err))
	assert.Equal(t, []string{
		`{"device_id":"1","event":"init"}`,
		`{"device_id":"1","event":"removed"}`,
	}, c.payloads())
	h := <-headers
	assert.Equal(t, "text/event-stream", h.Get("Accept"))
	assert.Equal(t, "test-client", h.Get("x-client-id"))
}

func TestSSEStreamRejectsBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "expired", http.StatusGone)
	}))
	defer srv.Close()

	err := NewSSESource(newClient(t, srv.URL), nil).Stream(context.Background(), func([]byte) {})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "410")
	assert.True(t, Terminal(err))
}

func TestSSEStreamCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- NewSSESource(newClient(t, srv.URL), nil).Stream(ctx, func([]byte) {})
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
		assert.False(t, Terminal(err))
	case <-time.After(5 * time.Second):
		require.FailNow(t, "stream ignored cancellation")
	}
}

func TestWebSocketURL(t *testing.T) {
	tests := []struct {
		in, want string
		wantErr  bool
	}{
		{"http://localhost:8080/subscribe", "ws://localhost:8080/subscribe", false},
		{"https://example.com/app/subscribe", "wss://example.com/app/subscribe", false},
		{"ws://h/subscribe", "ws://h/subscribe", false},
		{"ftp://h/subscribe", "", true},
	}
	for _, tt := range tests {
		got, err := WebSocketURL(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestWebSocketStream(t *testing.T) {
	upgrader := websocket.Upgrader{}
	clientID := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientID <- r.Header.Get("x-client-id")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("Upgrade error: %v", err)
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"device_id":"a","event":"added"}`))
		_ = conn.WriteMessage(websocket.BinaryMessage, []byte{1, 2})
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"device_id":"a","event":"removed"}`))
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	client := newClient(t, srv.URL)
	c := newCollector()
	err := NewWebSocketSource(client, client.HTTPClient().Jar, nil).Stream(context.Background(), c.handle)

	assert.ErrorIs(t, err, ErrStreamClosed)
	assert.Equal(t, []string{
		`{"device_id":"a","event":"added"}`,
		`{"device_id":"a","event":"removed"}`,
	}, c.payloads())
	assert.Equal(t, "test-client", <-clientID)
}

func TestWebSocketAbnormalCloseIsTerminal(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.Close()
	}))
	defer srv.Close()

	client := newClient(t, srv.URL)
	err := NewWebSocketSource(client, nil, nil).Stream(context.Background(), func([]byte) {})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrStreamClosed)
	assert.True(t, Terminal(err))
}

func TestWebSocketCancel(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	client := newClient(t, srv.URL)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- NewWebSocketSource(client, nil, nil).Stream(ctx, func([]byte) {})
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.False(t, Terminal(err))
	case <-time.After(5 * time.Second):
		require.FailNow(t, "stream ignored cancellation")
	}
}

// fakeToken completes immediately.
type fakeToken struct{ err error }

func (t fakeToken) Wait() bool                     { return true }
func (t fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t fakeToken) Error() error                   { return t.err }
func (t fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type fakeMessage struct {
	mqtt.Message
	payload []byte
}

func (m fakeMessage) Payload() []byte { return m.payload }

// fakeMQTT records the subscription and lets the test publish and drop
// the connection.
type fakeMQTT struct {
	mqtt.Client
	opts       *mqtt.ClientOptions
	connectErr error

	mu       sync.Mutex
	topic    string
	callback mqtt.MessageHandler
	ready    chan struct{}
}

func (f *fakeMQTT) Connect() mqtt.Token { return fakeToken{err: f.connectErr} }
func (f *fakeMQTT) Disconnect(uint)     {}
func (f *fakeMQTT) Unsubscribe(...string) mqtt.Token {
	return fakeToken{}
}

func (f *fakeMQTT) Subscribe(topic string, _ byte, cb mqtt.MessageHandler) mqtt.Token {
	f.mu.Lock()
	f.topic, f.callback = topic, cb
	f.mu.Unlock()
	close(f.ready)
	return fakeToken{}
}

func (f *fakeMQTT) publish(payload string) {
	f.mu.Lock()
	cb := f.callback
	f.mu.Unlock()
	cb(f, fakeMessage{payload: []byte(payload)})
}

func newMQTTSource(fake *fakeMQTT) *MQTTSource {
	s := NewMQTTSource("tcp://broker:1883", "devices/events", "test-client", nil)
	s.newClient = func(opts *mqtt.ClientOptions) mqtt.Client {
		fake.opts = opts
		return fake
	}
	return s
}

func TestMQTTStreamDeliversUntilConnectionLost(t *testing.T) {
	fake := &fakeMQTT{ready: make(chan struct{})}
	c := newCollector()
	done := make(chan error, 1)
	go func() {
		done <- newMQTTSource(fake).Stream(context.Background(), c.handle)
	}()

	<-fake.ready
	fake.publish(`{"device_id":"1","event":"update"}`)
	fake.publish(`{"device_id":"2","event":"update"}`)
	c.wait(t, 2)
	fake.opts.OnConnectionLost(fake, errors.New("EOF"))

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrStreamClosed)
		assert.True(t, Terminal(err))
	case <-time.After(5 * time.Second):
		require.FailNow(t, "stream did not end")
	}
	assert.Equal(t, "devices/events", fake.topic)
	assert.Equal(t, "test-client", fake.opts.ClientID)
	assert.False(t, fake.opts.AutoReconnect)
	assert.Equal(t, []string{`{"device_id":"1","event":"update"}`, `{"device_id":"2","event":"update"}`}, c.payloads())
}

func TestMQTTConnectFailure(t *testing.T) {
	fake := &fakeMQTT{ready: make(chan struct{}), connectErr: errors.New("not authorized")}
	err := newMQTTSource(fake).Stream(context.Background(), func([]byte) {})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not authorized")
}

func TestMQTTCancel(t *testing.T) {
	fake := &fakeMQTT{ready: make(chan struct{})}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- newMQTTSource(fake).Stream(ctx, func([]byte) {})
	}()
	<-fake.ready
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		require.FailNow(t, "stream ignored cancellation")
	}
}
