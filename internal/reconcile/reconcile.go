// Package reconcile applies push events and bulk device lists to the
// registry. Upserts are keyed by device_id, so applying the two channels
// in any order converges; the last write applied wins.
package reconcile

import (
	"log/slog"

	"sincroniza-dispositivos/internal/device"
	"sincroniza-dispositivos/internal/logging"
	"sincroniza-dispositivos/internal/registry"
)

type Reconciler struct {
	registry *registry.Registry
	logger   *slog.Logger
}

func New(r *registry.Registry, logger *slog.Logger) *Reconciler {
	return &Reconciler{registry: r, logger: logging.OrDiscard(logger)}
}

// HandlePayload decodes one push message and applies it. Malformed
// messages are logged and skipped. It reports whether anything was
// applied.
func (r *Reconciler) HandlePayload(payload []byte) bool {
	ev, unknown, err := device.DecodeEvent(payload)
	if err != nil {
		r.logger.Warn("skipping malformed event", "error", err, "payload", string(payload))
		return false
	}
	if len(unknown) > 0 {
		r.logger.Warn("skipping unknown properties", "device_id", ev.DeviceID, "properties", unknown)
	}
	return r.Apply(ev)
}

// Apply moves one device between absent and present:
//
//	init|added|update  absent  -> present  (card created, handlers attached)
//	init|added|update  present -> present  (values refreshed)
//	removed            present -> absent
//	removed            absent  -> absent   (no-op)
func (r *Reconciler) Apply(ev device.Event) bool {
	switch {
	case ev.DeviceID == "":
		r.logger.Warn("skipping event without device_id", "event", ev.Kind)
		return false
	case ev.Kind.Upsert():
		created := r.registry.Upsert(ev.Info())
		r.logger.Debug("applied event", "device_id", ev.DeviceID, "event", ev.Kind, "created", created)
		return true
	case ev.Kind == device.KindRemoved:
		removed := r.registry.Remove(ev.DeviceID)
		r.logger.Debug("applied event", "device_id", ev.DeviceID, "event", ev.Kind, "removed", removed)
		return removed
	default:
		r.logger.Warn("skipping unknown event", "device_id", ev.DeviceID, "event", ev.Kind)
		return false
	}
}

// Replace applies a bulk fetch: the registry becomes exactly list.
func (r *Reconciler) Replace(list []device.Info) {
	r.registry.Replace(list)
	r.logger.Info("device list replaced", "count", r.registry.Len())
}
