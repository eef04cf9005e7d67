// Package events delivers server-pushed device events. Each Source
// reads one stream and hands every payload, in order, to a single
// handler. The end of a stream is terminal: nothing reconnects.
package events

import (
	"context"
	"errors"
)

// ErrStreamClosed is returned when the server ended the stream.
var ErrStreamClosed = errors.New("event stream closed")

// Handler receives one raw DeviceEvent payload. Calls never overlap.
type Handler func(payload []byte)

// Source is a push-event stream.
type Source interface {
	// Stream blocks delivering payloads to handle until the stream ends
	// or ctx is done. It never returns nil: a stream that ended returns
	// ErrStreamClosed or the read error, a cancelled one ctx.Err().
	Stream(ctx context.Context, handle Handler) error
}

// Terminal reports whether err from Stream means the session expired,
// as opposed to the caller having cancelled it.
func Terminal(err error) bool {
	return err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
