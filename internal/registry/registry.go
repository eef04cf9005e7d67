// Package registry is the in-memory map from device_id to the last known
// device info. Insertion order is render order. Every mutation calls
// the Renderer before returning, so an entry is present exactly when
// its rendered card is.
//
// A Registry is not safe for concurrent use; it belongs to the session
// loop.
package registry

import (
	"slices"

	"sincroniza-dispositivos/internal/device"
)

// Renderer is the part of the render surface the registry drives.
// first is true when the card is created, which is the only time
// interaction handlers may be attached.
type Renderer interface {
	RenderUpsert(info device.Info, first bool)
	RenderRemove(deviceID string)
}

type Registry struct {
	order    []string
	entries  map[string]device.Info
	renderer Renderer
}

// New returns an empty registry rendering into r. r may be nil.
func New(r Renderer) *Registry {
	return &Registry{
		entries:  make(map[string]device.Info),
		renderer: r,
	}
}

// Upsert inserts info at the end of the order, or replaces the fields
// of the existing entry in place. It reports whether the entry is new.
func (r *Registry) Upsert(info device.Info) bool {
	info = info.Clone()
	_, known := r.entries[info.DeviceID]
	if !known {
		r.order = append(r.order, info.DeviceID)
	}
	r.entries[info.DeviceID] = info
	if r.renderer != nil {
		r.renderer.RenderUpsert(info.Clone(), !known)
	}
	return !known
}

// Remove deletes the entry for deviceID. It reports false, and renders
// nothing, if there was none.
func (r *Registry) Remove(deviceID string) bool {
	if _, ok := r.entries[deviceID]; !ok {
		return false
	}
	delete(r.entries, deviceID)
	if i := slices.Index(r.order, deviceID); i >= 0 {
		r.order = slices.Delete(r.order, i, i+1)
	}
	if r.renderer != nil {
		r.renderer.RenderRemove(deviceID)
	}
	return true
}

// Clear removes every entry, last first.
func (r *Registry) Clear() {
	for len(r.order) > 0 {
		r.Remove(r.order[len(r.order)-1])
	}
}

// Replace clears the registry and upserts every entry of list in order.
// Duplicate ids in list collapse onto the first position.
func (r *Registry) Replace(list []device.Info) {
	r.Clear()
	for _, info := range list {
		if info.DeviceID == "" {
			continue
		}
		r.Upsert(info)
	}
}

// All returns a copy of the entries in order.
func (r *Registry) All() []device.Info {
	out := make([]device.Info, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.entries[id].Clone())
	}
	return out
}

// Get returns a copy of the entry for deviceID.
func (r *Registry) Get(deviceID string) (device.Info, bool) {
	info, ok := r.entries[deviceID]
	return info.Clone(), ok
}

func (r *Registry) Has(deviceID string) bool {
	_, ok := r.entries[deviceID]
	return ok
}

func (r *Registry) Len() int { return len(r.order) }

// IDs returns the device ids in order.
func (r *Registry) IDs() []string { return slices.Clone(r.order) }
