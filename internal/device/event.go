package device

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrUnknownEvent    = errors.New("unknown event")
	ErrMissingDeviceID = errors.New("missing device_id")
)

// Info is the last known state of one device. DeviceID is its identity.
type Info struct {
	DeviceID   string `json:"device_id"`
	DeviceName string `json:"device_name"`
	State      State  `json:"state"`
}

// Clone returns a copy that shares no pointers with i.
func (i Info) Clone() Info {
	i.State = i.State.Clone()
	return i
}

// Kind is the event tag of a push message.
type Kind string

const (
	KindInit    Kind = "init"
	KindAdded   Kind = "added"
	KindUpdate  Kind = "update"
	KindRemoved Kind = "removed"
)

// Upsert reports whether k carries a full device payload. init, added
// and update are treated identically.
func (k Kind) Upsert() bool {
	return k == KindInit || k == KindAdded || k == KindUpdate
}

func (k Kind) Valid() bool {
	return k.Upsert() || k == KindRemoved
}

// Event is one push message. Removed events carry only DeviceID.
type Event struct {
	DeviceID   string `json:"device_id"`
	Kind       Kind   `json:"event"`
	DeviceName string `json:"device_name,omitempty"`
	State      State  `json:"state"`
}

// Info returns the device payload of an upsert event.
func (e Event) Info() Info {
	return Info{DeviceID: e.DeviceID, DeviceName: e.DeviceName, State: e.State.Clone()}
}

// DecodeEvent parses one push message payload. Unknown state
// properties are dropped and returned by name.
func DecodeEvent(payload []byte) (Event, []string, error) {
	var wire struct {
		DeviceID   string          `json:"device_id"`
		Kind       Kind            `json:"event"`
		DeviceName string          `json:"device_name"`
		State      json.RawMessage `json:"state"`
	}
	if err := json.Unmarshal(payload, &wire); err != nil {
		return Event{}, nil, fmt.Errorf("failed to parse event: %w", err)
	}
	if !wire.Kind.Valid() {
		return Event{}, nil, fmt.Errorf("%w: %q", ErrUnknownEvent, wire.Kind)
	}
	if wire.DeviceID == "" {
		return Event{}, nil, ErrMissingDeviceID
	}

	ev := Event{DeviceID: wire.DeviceID, Kind: wire.Kind, DeviceName: wire.DeviceName}
	if !wire.Kind.Upsert() {
		return ev, nil, nil
	}
	state, unknown, err := DecodeState(wire.State)
	if err != nil {
		return Event{}, nil, err
	}
	ev.State = state
	return ev, unknown, nil
}
