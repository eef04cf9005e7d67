// Package api is the transport to the device server. Request maps every
// reply to either a Response or a NetworkError; the endpoint methods on
// top of it turn non-200 replies into StatusError.
package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/publicsuffix"

	"sincroniza-dispositivos/internal/device"
)

// Client talks to one device server.
type Client struct {
	httpClient *http.Client
	baseURL    string
	clientID   string
}

// NewClient creates a client for baseURL. The cookie jar keeps the
// server's session cookie across the REST calls and the event stream.
func NewClient(baseURL, clientID string, timeout time.Duration) (*Client, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
			Jar:     jar,
		},
		baseURL:  strings.TrimRight(baseURL, "/"),
		clientID: clientID,
	}, nil
}

// Response is a completed exchange with status 200.
type Response struct {
	StatusCode int
	Reason     string
	Body       []byte
}

// OK reports whether the status was 200.
func (r *Response) OK() bool { return r.StatusCode == http.StatusOK }

// Err returns a *StatusError for a non-200 response, nil otherwise.
func (r *Response) Err() error {
	if r.OK() {
		return nil
	}
	return &StatusError{StatusCode: r.StatusCode, Reason: r.Reason, Body: string(r.Body)}
}

// Decode unmarshals the body into v.
func (r *Response) Decode(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// Request sends one call. body may be nil, an io.Reader sent as is, or
// any other value, which is sent as JSON. HTTP-level failures come back
// as a Response whose Err is non-nil; only a request that never
// completed returns an error, always a *NetworkError.
func (c *Client) Request(ctx context.Context, method, path string, body any) (*Response, error) {
	var reader io.Reader
	isJSON := false
	switch b := body.(type) {
	case nil:
	case io.Reader:
		reader = b
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
		isJSON = true
	}

	req, err := http.NewRequestWithContext(ctx, method, c.URL(path), reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.SetHeaders(req)
	req.Header.Set("Accept", "application/json")
	if isJSON {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &NetworkError{Method: method, Path: path, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{Method: method, Path: path, Err: fmt.Errorf("failed to read response body: %w", err)}
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Reason:     reason(resp),
		Body:       data,
	}, nil
}

// do is Request with non-200 replies turned into errors.
func (c *Client) do(ctx context.Context, method, path string, body any) (*Response, error) {
	resp, err := c.Request(ctx, method, path, body)
	if err != nil {
		return nil, err
	}
	if err := resp.Err(); err != nil {
		return nil, err
	}
	return resp, nil
}

// NewDevice asks the server to create a device. The reply body is not
// used.
func (c *Client) NewDevice(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodPost, "/newdevice", nil)
	return err
}

// Devices fetches the full ordered device list.
func (c *Client) Devices(ctx context.Context) ([]device.Info, error) {
	resp, err := c.do(ctx, http.MethodGet, "/info", nil)
	if err != nil {
		return nil, err
	}
	var devices []device.Info
	if err := resp.Decode(&devices); err != nil {
		return nil, err
	}
	return devices, nil
}

type stateUpdate struct {
	DeviceID string       `json:"device_id"`
	State    device.State `json:"state"`
}

// PutDeviceState sends a partial state update for one device.
func (c *Client) PutDeviceState(ctx context.Context, deviceID string, state device.State) error {
	_, err := c.do(ctx, http.MethodPut, "/device_state", stateUpdate{DeviceID: deviceID, State: state})
	return err
}

// Datastore fetches the raw datastore blob.
func (c *Client) Datastore(ctx context.Context) ([]byte, error) {
	resp, err := c.do(ctx, http.MethodGet, "/datastore", nil)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// ClearDatastore removes the datastore entries of one device.
func (c *Client) ClearDatastore(ctx context.Context, deviceID string) error {
	_, err := c.do(ctx, http.MethodDelete, "/datastore", map[string]string{"device_id": deviceID})
	return err
}

// PutDatastore writes v under key, normally an ISO-8601 timestamp.
func (c *Client) PutDatastore(ctx context.Context, key string, v any) error {
	if v == nil {
		v = map[string]any{}
	}
	_, err := c.do(ctx, http.MethodPut, "/datastore/"+url.PathEscape(key), v)
	return err
}

// URL resolves path against the base URL.
func (c *Client) URL(path string) string {
	return c.baseURL + path
}

// HTTPClient returns the underlying client, sharing its cookie jar.
func (c *Client) HTTPClient() *http.Client { return c.httpClient }

// SetHeaders sets the identification headers sent on every request.
func (c *Client) SetHeaders(req *http.Request) {
	for k, v := range c.Header() {
		req.Header[k] = v
	}
}

// Header returns a fresh set of identification headers, for transports
// that do not build an *http.Request themselves.
func (c *Client) Header() http.Header {
	h := http.Header{}
	h.Set("x-client-id", c.clientID)
	h.Set("x-message-id", generateMessageID())
	return h
}

// IsNetwork reports whether err means the request never completed.
func IsNetwork(err error) bool {
	var netErr *NetworkError
	return errors.As(err, &netErr)
}

func reason(resp *http.Response) string {
	r := strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)+" ")
	if r == "" || r == resp.Status {
		return http.StatusText(resp.StatusCode)
	}
	return r
}

// generateMessageID creates a unique message ID for each request
func generateMessageID() string {
	id := uuid.New()
	encoded := base64.URLEncoding.EncodeToString(id[:])
	// Remove padding
	return encoded[:len(encoded)-2]
}
