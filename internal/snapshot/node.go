// Package snapshot polls the datastore blob, rewrites the timestamp keys
// of its log tables and hands the result to the render surface.
package snapshot

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// Node is one value of a decoded JSON document: an Object, an Array or
// a Scalar.
type Node interface {
	isNode()
}

// Object is a JSON object.
type Object map[string]Node

// Array is a JSON array.
type Array []Node

// Scalar is a string, json.Number, bool or nil.
type Scalar struct {
	Value any
}

func (Object) isNode() {}
func (Array) isNode()  {}
func (Scalar) isNode() {}

func (s Scalar) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Value)
}

// Decode parses a JSON document. Numbers keep their original text.
func Decode(data []byte) (Node, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("failed to parse datastore: %w", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("failed to parse datastore: trailing data")
	}
	return fromAny(v), nil
}

func fromAny(v any) Node {
	switch t := v.(type) {
	case map[string]any:
		obj := make(Object, len(t))
		for k, child := range t {
			obj[k] = fromAny(child)
		}
		return obj
	case []any:
		arr := make(Array, len(t))
		for i, child := range t {
			arr[i] = fromAny(child)
		}
		return arr
	default:
		return Scalar{Value: t}
	}
}

// Visitor is called by Walk with the concrete type of a node and
// returns its replacement.
type Visitor interface {
	VisitObject(Object) Node
	VisitArray(Array) Node
	VisitScalar(Scalar) Node
}

// Walk dispatches n to v.
func Walk(n Node, v Visitor) Node {
	switch t := n.(type) {
	case Object:
		return v.VisitObject(t)
	case Array:
		return v.VisitArray(t)
	case Scalar:
		return v.VisitScalar(t)
	default:
		return n
	}
}
