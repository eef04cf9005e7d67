package snapshot

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"
)

// KeyRule rewrites the object stored under a matching key. Matching
// objects are handed to Apply instead of being walked further.
type KeyRule interface {
	Match(key string) bool
	Apply(Object) Object
}

// TimestampKeys renames the keys of the tables under Fields from Unix
// epoch seconds to ISO-8601 strings. Values are kept; keys that are not
// base-10 numbers, or do not make a valid date, are left alone.
type TimestampKeys struct {
	Fields []string
}

// LogTimestamps is the rule applied to every datastore snapshot.
var LogTimestamps = TimestampKeys{Fields: []string{"activity_log", "driver_log"}}

func (r TimestampKeys) Match(key string) bool {
	return slices.Contains(r.Fields, key)
}

func (r TimestampKeys) Apply(table Object) Object {
	out := make(Object, len(table))
	// Rewritten keys go in after the untouched ones, so a rewritten key
	// that collides with an existing one replaces it.
	var renamed []string
	for k, v := range table {
		if _, ok := EpochKey(k); ok {
			renamed = append(renamed, k)
			continue
		}
		out[k] = v
	}
	slices.Sort(renamed)
	for _, k := range renamed {
		iso, _ := EpochKey(k)
		out[iso] = table[k]
	}
	return out
}

// maxEpochMillis is the largest distance from the epoch a date may have.
const maxEpochMillis = 8.64e15

// EpochKey converts a key holding Unix epoch seconds into its ISO-8601
// form. ok is false when the key is not a base-10 number or the date
// is out of range. The whole key must be the number: surrounding space
// or trailing text leaves the key as it is.
func EpochKey(key string) (iso string, ok bool) {
	unsigned := strings.TrimLeft(key, "+-")
	if strings.HasPrefix(unsigned, "0x") || strings.HasPrefix(unsigned, "0X") {
		return "", false
	}
	secs, err := strconv.ParseFloat(key, 64)
	if err != nil || math.IsNaN(secs) || math.IsInf(secs, 0) {
		return "", false
	}
	ms := math.Trunc(secs * 1000)
	if math.Abs(ms) > maxEpochMillis {
		return "", false
	}
	return FormatISO(time.UnixMilli(int64(ms))), true
}

// FormatISO formats t in UTC with millisecond precision, e.g.
// 2023-11-14T22:13:20.000Z. Years outside 0..9999 use the six digit
// signed form.
func FormatISO(t time.Time) string {
	t = t.UTC()
	year := t.Year()
	var y string
	switch {
	case year >= 0 && year <= 9999:
		y = fmt.Sprintf("%04d", year)
	case year < 0:
		y = fmt.Sprintf("-%06d", -year)
	default:
		y = fmt.Sprintf("+%06d", year)
	}
	return fmt.Sprintf("%s-%02d-%02dT%02d:%02d:%02d.%03dZ",
		y, t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond()/int(time.Millisecond))
}

// Transformer walks a document and applies Rules to every object found
// under a matching key, at any depth. Everything else is copied.
type Transformer struct {
	Rules []KeyRule
}

// Transform returns a transformed copy of n; n is not modified.
func Transform(n Node, rules ...KeyRule) Node {
	return Walk(n, Transformer{Rules: rules})
}

func (t Transformer) VisitObject(obj Object) Node {
	out := make(Object, len(obj))
	for k, child := range obj {
		if rule := t.rule(k); rule != nil {
			if table, ok := child.(Object); ok {
				out[k] = rule.Apply(table)
				continue
			}
		}
		out[k] = Walk(child, t)
	}
	return out
}

func (t Transformer) VisitArray(arr Array) Node {
	out := make(Array, len(arr))
	for i, child := range arr {
		out[i] = Walk(child, t)
	}
	return out
}

func (t Transformer) VisitScalar(s Scalar) Node { return s }

func (t Transformer) rule(key string) KeyRule {
	for _, r := range t.Rules {
		if r.Match(key) {
			return r
		}
	}
	return nil
}
