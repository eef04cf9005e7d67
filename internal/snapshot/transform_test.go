package snapshot

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func transformJSON(t *testing.T, in string) string {
	t.Helper()
	doc, err := Decode([]byte(in))
	require.NoError(t, err)
	out, err := json.Marshal(Transform(doc, LogTimestamps))
	require.NoError(t, err)
	return string(out)
}

func TestActivityLogKeysBecomeISO(t *testing.T) {
	got := transformJSON(t, `{"activity_log": {"1700000000": "x", "foo": "y"}}`)
	assert.JSONEq(t, `{"activity_log": {"2023-11-14T22:13:20.000Z": "x", "foo": "y"}}`, got)
}

func TestDriverLogBehavesTheSame(t *testing.T) {
	got := transformJSON(t, `{"driver_log": {"1700000000.5": {"n": 1}}}`)
	assert.JSONEq(t, `{"driver_log": {"2023-11-14T22:13:20.500Z": {"n": 1}}}`, got)
}

func TestOtherKeysAreUntouched(t *testing.T) {
	in := `{"readings": {"1700000000": "x"}, "1700000000": 3}`
	assert.JSONEq(t, in, transformJSON(t, in))
}

func TestLogTablesFoundAtAnyDepth(t *testing.T) {
	in := `{
		"devices": [
			{"id": "a", "activity_log": {"0": true, "note": null}},
			{"id": "b", "nested": {"driver_log": {"-1": 2.50}}}
		],
		"count": 2
	}`
	want := `{
		"devices": [
			{"id": "a", "activity_log": {"1970-01-01T00:00:00.000Z": true, "note": null}},
			{"id": "b", "nested": {"driver_log": {"1969-12-31T23:59:59.000Z": 2.50}}}
		],
		"count": 2
	}`
	assert.JSONEq(t, want, transformJSON(t, in))
}

func TestLogTableChildrenAreNotWalked(t *testing.T) {
	in := `{"activity_log": {"note": {"activity_log": {"5": 1}}}}`
	assert.JSONEq(t, in, transformJSON(t, in))
}

func TestNonObjectLogValueIsLeftAlone(t *testing.T) {
	in := `{"activity_log": ["1700000000"], "driver_log": 7}`
	assert.JSONEq(t, in, transformJSON(t, in))
}

func TestTransformDoesNotModifyInput(t *testing.T) {
	doc, err := Decode([]byte(`{"activity_log": {"1": "x"}}`))
	require.NoError(t, err)
	before, _ := json.Marshal(doc)

	Transform(doc, LogTimestamps)

	after, _ := json.Marshal(doc)
	assert.Equal(t, string(before), string(after))
}

func TestNumbersKeepTheirText(t *testing.T) {
	in := `{"big": 12345678901234567890, "f": 1.50}`
	doc, err := Decode([]byte(in))
	require.NoError(t, err)
	out, err := json.Marshal(doc)
	require.NoError(t, err)
	assert.Equal(t, `{"big":12345678901234567890,"f":1.50}`, string(out))
}

func TestDecodeErrors(t *testing.T) {
	_, err := Decode([]byte(`{"a":`))
	assert.Error(t, err)
	_, err = Decode([]byte(`{} {}`))
	assert.Error(t, err)
}

func TestEpochKey(t *testing.T) {
	tests := []struct {
		key  string
		want string
		ok   bool
	}{
		{"1700000000", "2023-11-14T22:13:20.000Z", true},
		{"1.7e9", "2023-11-14T22:13:20.000Z", true},
		{"0.0015", "1970-01-01T00:00:00.001Z", true},
		{"-0.0015", "1969-12-31T23:59:59.999Z", true},
		{"8640000000000", "+275760-09-13T00:00:00.000Z", true},
		{"8640000000001", "", false},
		{"-62198755200", "-000001-01-01T00:00:00.000Z", true},
		{"foo", "", false},
		{"12abc", "", false},
		{"1700000000abc", "", false},
		{" 1700000000", "", false},
		{"1700000000 ", "", false},
		{"NaN", "", false},
		{"Infinity", "", false},
		{"0x10", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got, ok := EpochKey(tt.key)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormatISO(t *testing.T) {
	at := time.Date(2026, 10, 15, 8, 5, 3, 45_000_000, time.FixedZone("BRT", -3*3600))
	assert.Equal(t, "2026-10-15T11:05:03.045Z", FormatISO(at))
}

func TestRuleCollisionKeepsRewrittenValue(t *testing.T) {
	table := Object{
		"0":                        Scalar{Value: "from epoch"},
		"1970-01-01T00:00:00.000Z": Scalar{Value: "already iso"},
	}
	got := LogTimestamps.Apply(table)
	want := Object{"1970-01-01T00:00:00.000Z": Scalar{Value: "from epoch"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Apply mismatch (-want +got):\n%s", diff)
	}
}

func TestFormatSize(t *testing.T) {
	tests := []struct {
		size int
		want string
	}{
		{0, "0.000 b"},
		{1024, "1024.000 b"},
		{1025, "1.001 kb"},
		{1536 * 1024, "1.500 mb"},
		{3 * 1024 * 1024 * 1024, "3.000 gb"},
		{5 * 1024 * 1024 * 1024 * 1024, "5120.000 gb"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatSize(tt.size), tt.size)
	}
}

func TestCompactSize(t *testing.T) {
	n, err := CompactSize([]byte("{\n  \"a\": [1, 2]\n}"))
	require.NoError(t, err)
	assert.Equal(t, len(`{"a":[1,2]}`), n)
}
