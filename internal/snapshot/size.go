package snapshot

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// CompactSize is the length in bytes of data serialized without
// insignificant whitespace.
func CompactSize(data []byte) (int, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err != nil {
		return 0, fmt.Errorf("failed to measure datastore: %w", err)
	}
	return buf.Len(), nil
}

// FormatSize renders a byte count as "<n> b", stepping up through kb,
// mb and gb while the value is above 1024.
func FormatSize(size int) string {
	value := float64(size)
	unit := "b"
	for _, next := range []string{"kb", "mb", "gb"} {
		if value <= 1024 {
			break
		}
		value /= 1024
		unit = next
	}
	return fmt.Sprintf("%.3f %s", value, unit)
}
