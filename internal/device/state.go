// Package device holds the device model shared by every channel of the
// sync core: property names, typed state, device info and push events.
package device

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

var (
	ErrUnknownProperty = errors.New("unknown property")
	ErrInvalidValue    = errors.New("invalid property value")
)

// Property names a field of DeviceState.
type Property string

const (
	Contact Property = "contact"
	Temp    Property = "temp"
	Air     Property = "air"
	Switch  Property = "switch"
	Level   Property = "level"
)

// Properties lists every known property in render order.
var Properties = []Property{Contact, Temp, Air, Switch, Level}

func ParseProperty(s string) (Property, error) {
	p := Property(strings.ToLower(strings.TrimSpace(s)))
	switch p {
	case Contact, Temp, Air, Switch, Level:
		return p, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownProperty, s)
}

// Temperature is the value of the temp property.
type Temperature struct {
	Value float64 `json:"value"`
	Unit  string  `json:"unit"`
}

// State is a device's property values. A nil field means the device
// type does not carry that property, or that a partial update leaves
// it alone.
type State struct {
	Switch  *string      `json:"switch,omitempty"`
	Contact *string      `json:"contact,omitempty"`
	Temp    *Temperature `json:"temp,omitempty"`
	Air     *float64     `json:"air,omitempty"`
	Level   *float64     `json:"level,omitempty"`
}

// DecodeState decodes a state object. Unknown property names are not
// stored; their names are returned so the caller can log them.
func DecodeState(raw json.RawMessage) (State, []string, error) {
	var s State
	if len(raw) == 0 || string(raw) == "null" {
		return s, nil, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return s, nil, fmt.Errorf("failed to parse state: %w", err)
	}
	var unknown []string
	for name, value := range fields {
		var target any
		switch Property(name) {
		case Switch:
			target = &s.Switch
		case Contact:
			target = &s.Contact
		case Temp:
			target = &s.Temp
		case Air:
			target = &s.Air
		case Level:
			target = &s.Level
		default:
			unknown = append(unknown, name)
			continue
		}
		if err := json.Unmarshal(value, target); err != nil {
			return State{}, nil, fmt.Errorf("failed to parse state property %s: %w", name, err)
		}
	}
	sort.Strings(unknown)
	return s, unknown, nil
}

// UnmarshalJSON decodes a state object, skipping unknown properties.
func (s *State) UnmarshalJSON(data []byte) error {
	decoded, _, err := DecodeState(data)
	if err != nil {
		return err
	}
	*s = decoded
	return nil
}

// Has reports whether p is set.
func (s State) Has(p Property) bool {
	switch p {
	case Switch:
		return s.Switch != nil
	case Contact:
		return s.Contact != nil
	case Temp:
		return s.Temp != nil
	case Air:
		return s.Air != nil
	case Level:
		return s.Level != nil
	}
	return false
}

// Set returns the properties that are present, in render order.
func (s State) Set() []Property {
	var out []Property
	for _, p := range Properties {
		if s.Has(p) {
			out = append(out, p)
		}
	}
	return out
}

// Select returns a copy holding only the given properties.
func (s State) Select(props ...Property) State {
	var out State
	c := s.Clone()
	for _, p := range props {
		switch p {
		case Switch:
			out.Switch = c.Switch
		case Contact:
			out.Contact = c.Contact
		case Temp:
			out.Temp = c.Temp
		case Air:
			out.Air = c.Air
		case Level:
			out.Level = c.Level
		}
	}
	return out
}

// Merge returns s overlaid with every property present in o.
func (s State) Merge(o State) State {
	out := s.Clone()
	o = o.Clone()
	if o.Switch != nil {
		out.Switch = o.Switch
	}
	if o.Contact != nil {
		out.Contact = o.Contact
	}
	if o.Temp != nil {
		out.Temp = o.Temp
	}
	if o.Air != nil {
		out.Air = o.Air
	}
	if o.Level != nil {
		out.Level = o.Level
	}
	return out
}

// Clone returns a deep copy.
func (s State) Clone() State {
	var out State
	if s.Switch != nil {
		out.Switch = ptr(*s.Switch)
	}
	if s.Contact != nil {
		out.Contact = ptr(*s.Contact)
	}
	if s.Temp != nil {
		t := *s.Temp
		out.Temp = &t
	}
	if s.Air != nil {
		out.Air = ptr(*s.Air)
	}
	if s.Level != nil {
		out.Level = ptr(*s.Level)
	}
	return out
}

// Format renders p the way the console prints it; "-" when unset.
func (s State) Format(p Property) string {
	if !s.Has(p) {
		return "-"
	}
	switch p {
	case Switch:
		return *s.Switch
	case Contact:
		return *s.Contact
	case Temp:
		return strconv.FormatFloat(s.Temp.Value, 'f', -1, 64) + s.Temp.Unit
	case Air:
		return strconv.FormatFloat(*s.Air, 'f', -1, 64)
	case Level:
		return strconv.FormatFloat(*s.Level, 'f', -1, 64)
	}
	return "-"
}

// ParseValue builds a single-property State from text input, the way a
// form widget would produce it:
//
//	switch on|off
//	contact open|closed
//	temp <value> [C|F]
//	air <value>
//	level <value>
//
// A temp edit without a unit keeps the unit of current.
func ParseValue(p Property, args []string, current State) (State, error) {
	if len(args) == 0 {
		return State{}, fmt.Errorf("%w: %s needs a value", ErrInvalidValue, p)
	}
	arg := strings.ToLower(args[0])
	switch p {
	case Switch:
		if arg != "on" && arg != "off" {
			return State{}, fmt.Errorf("%w: switch must be on or off", ErrInvalidValue)
		}
		return State{Switch: ptr(arg)}, nil
	case Contact:
		if arg != "open" && arg != "closed" {
			return State{}, fmt.Errorf("%w: contact must be open or closed", ErrInvalidValue)
		}
		return State{Contact: ptr(arg)}, nil
	case Temp:
		v, err := parseFloat(p, args[0])
		if err != nil {
			return State{}, err
		}
		unit := "C"
		if current.Temp != nil && current.Temp.Unit != "" {
			unit = current.Temp.Unit
		}
		if len(args) > 1 {
			unit = strings.ToUpper(args[1])
			if unit != "C" && unit != "F" {
				return State{}, fmt.Errorf("%w: temp unit must be C or F", ErrInvalidValue)
			}
		}
		return State{Temp: &Temperature{Value: v, Unit: unit}}, nil
	case Air:
		v, err := parseFloat(p, args[0])
		if err != nil {
			return State{}, err
		}
		return State{Air: &v}, nil
	case Level:
		v, err := parseFloat(p, args[0])
		if err != nil {
			return State{}, err
		}
		return State{Level: &v}, nil
	}
	return State{}, fmt.Errorf("%w: %q", ErrUnknownProperty, p)
}

func parseFloat(p Property, s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be a number", ErrInvalidValue, p)
	}
	return v, nil
}

func ptr[T any](v T) *T { return &v }
