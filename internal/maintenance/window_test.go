package maintenance

import (
	"encoding/json"
	"testing"
	"time"
)

func TestParseStartField(t *testing.T) {
	now := time.UnixMilli(1_000_000)

	got, err := ParseStartField(json.RawMessage(`"now"`), now)
	if err != nil || got != 1_000_000 {
		t.Fatalf(`ParseStartField("now") = (%d, %v)`, got, err)
	}

	got, err = ParseStartField(json.RawMessage(`1500000`), now)
	if err != nil || got != 1_500_000 {
		t.Fatalf("ParseStartField(1500000) = (%d, %v)", got, err)
	}

	for _, raw := range []string{`"later"`, `-5`, `0`, `"5"`} {
		if _, err := ParseStartField(json.RawMessage(raw), now); err == nil {
			t.Errorf("ParseStartField(%s) accepted", raw)
		}
	}
	if _, err := ParseStartField(nil, now); err == nil {
		t.Error("ParseStartField(nil) accepted")
	}
}

func TestParseEndField(t *testing.T) {
	now := time.UnixMilli(1_000_000)

	cases := []struct {
		raw  string
		want int64
	}{
		{`"1m"`, 1_000_000 + 60_000},
		{`"1h"`, 1_000_000 + 3_600_000},
		{`"2d"`, 1_000_000 + 2*24*3_600_000},
		{`"1000000m"`, 1_000_000 + 1_000_000*60_000},
		{`4600000`, 4_600_000},
	}
	for _, tc := range cases {
		got, err := ParseEndField(json.RawMessage(tc.raw), now)
		if err != nil || got != tc.want {
			t.Errorf("ParseEndField(%s) = (%d, %v), want %d", tc.raw, got, err, tc.want)
		}
	}

	rejected := []string{`"0m"`, `"1000001m"`, `"-5m"`, `"5w"`, `"h"`, `0`, `-1`}
	for _, raw := range rejected {
		if _, err := ParseEndField(json.RawMessage(raw), now); err == nil {
			t.Errorf("ParseEndField(%s) accepted", raw)
		}
	}
}

func TestWindowValidateScopes(t *testing.T) {
	base := Window{ID: 1, User: "u", Start: 100, End: 200}

	w := base
	w.All = true
	if err := w.Validate(); err != nil {
		t.Fatalf("all=true rejected: %v", err)
	}

	w = base
	if err := w.Validate(); err == nil {
		t.Fatal("window without a scope accepted")
	}

	w = base
	w.All = true
	w.Probes = []string{"p"}
	if err := w.Validate(); err == nil {
		t.Fatal("window with two scopes accepted")
	}

	w = base
	w.Machines = []string{"m"}
	w.Start = 200
	w.End = 100
	if err := w.Validate(); err == nil {
		t.Fatal("start after end accepted")
	}
}

func TestWindowHashRoundTrip(t *testing.T) {
	w := &Window{
		ID:     3,
		User:   "11111111-1111-4111-8111-111111111111",
		Start:  1_000_000,
		End:    4_600_000,
		Notes:  "db upgrade",
		Probes: []string{"p1", "p2"},
	}
	fields := w.toHash()
	h := make(map[string]string, len(fields)/2)
	for i := 0; i < len(fields); i += 2 {
		h[fields[i].(string)] = fields[i+1].(string)
	}
	got, err := windowFromHash(h)
	if err != nil {
		t.Fatalf("windowFromHash: %v", err)
	}
	if got.ID != w.ID || got.End != w.End || len(got.Probes) != 2 || got.Notes != w.Notes {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestParseWindowKey(t *testing.T) {
	user, id, ok := parseWindowKey("maintenance:u-1:7")
	if !ok || user != "u-1" || id != 7 {
		t.Fatalf("parseWindowKey = (%s, %d, %v)", user, id, ok)
	}
	for _, key := range []string{"", "maintenance:u", "other:u:1", "maintenance:u:x", "maintenance:u:0"} {
		if _, _, ok := parseWindowKey(key); ok {
			t.Errorf("parseWindowKey(%q) accepted", key)
		}
	}
}
