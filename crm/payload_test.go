package crm

import (
	"encoding/json"
	"testing"
	"time"
)

func TestPayloadLookup(t *testing.T) {
	p := Payload{
		"status":      "cancel",
		"a.b":         "flat key wins",
		"a":           map[string]any{"b": "nested", "c": map[string]any{"d": 4.0}},
		"UF_CRM_NOTE": "",
	}

	tests := []struct {
		path   string
		want   any
		wantOK bool
	}{
		{path: "status", want: "cancel", wantOK: true},
		{path: "a.b", want: "flat key wins", wantOK: true},
		{path: "a.c.d", want: 4.0, wantOK: true},
		{path: "a.x", wantOK: false},
		{path: "status.code", wantOK: false},
		{path: "missing", wantOK: false},
		{path: "", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, ok := p.Lookup(tt.path)
			if ok != tt.wantOK {
				t.Fatalf("Lookup(%q) ok = %v, want %v", tt.path, ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Errorf("Lookup(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}

func TestIsEmpty(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  bool
	}{
		{"nil", nil, true},
		{"blank string", "   ", true},
		{"text", "called back", false},
		{"zero", 0.0, false},
		{"false", false, false},
		{"empty list", []any{}, true},
		{"list of blanks", []any{"", nil, " "}, true},
		{"list with value", []any{"", "x"}, false},
		{"string list of blanks", []string{"", " "}, true},
		{"empty map", map[string]any{}, true},
		{"map", map[string]any{"code": "x"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsEmpty(tt.value); got != tt.want {
				t.Errorf("IsEmpty(%#v) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}

func TestPayloadCodeAndText(t *testing.T) {
	var delta map[string]any
	if err := json.Unmarshal([]byte(`{"newValue":{"code":"cancel","label":"Cancelled"},"oldValue":"new","amount":1200.5}`), &delta); err != nil {
		t.Fatalf("Unmarshal() failed: %v", err)
	}
	p := Payload(delta)

	if got := p.Code("newValue"); got != "cancel" {
		t.Errorf("Code(newValue) = %q, want cancel", got)
	}
	if got := p.Code("oldValue"); got != "new" {
		t.Errorf("Code(oldValue) = %q, want new", got)
	}
	if got := p.String("amount"); got != "1200.5" {
		t.Errorf("String(amount) = %q, want 1200.5", got)
	}
	if got, ok := p.Float("amount"); !ok || got != 1200.5 {
		t.Errorf("Float(amount) = %v, %v", got, ok)
	}
	if CodeOf(map[string]any{"label": "no code"}) != "" {
		t.Error("CodeOf() of a map without code should be empty")
	}
}

func TestPayloadTime(t *testing.T) {
	ts := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	p := Payload{"at": ts, "text": "2024-01-15T10:00:00Z", "bad": "yesterday"}

	if got, ok := p.Time("at"); !ok || !got.Equal(ts) {
		t.Errorf("Time(at) = %v, %v", got, ok)
	}
	if got, ok := p.Time("text"); !ok || !got.Equal(ts) {
		t.Errorf("Time(text) = %v, %v", got, ok)
	}
	if _, ok := p.Time("bad"); ok {
		t.Error("Time(bad) should fail")
	}
}

func TestPayloadMergeDoesNotMutate(t *testing.T) {
	base := Payload{"status": "new", "comments": "x"}
	merged := base.Merge(Payload{"status": "cancel"})

	if merged.String("status") != "cancel" || merged.String("comments") != "x" {
		t.Errorf("Merge() = %v", merged)
	}
	if base.String("status") != "new" {
		t.Error("Merge() must not modify the receiver")
	}
}

func TestPayloadsExposeBlockKeys(t *testing.T) {
	occurred := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	e := Event{OrderID: "o1", Field: "status", OldValue: "new", NewValue: map[string]any{"code": "cancel"}, OccurredAt: occurred}
	if e.Payload().Code("newValue") != "cancel" {
		t.Error("event payload should expose newValue")
	}

	o := Order{ID: "o1", Status: "cancel", ManagerID: "m1", CustomFields: Payload{"comments": "", "status": "legacy", "manager_id": "m0"}}
	if o.Payload().String("status") != "cancel" || o.Payload().String("manager_id") != "m1" {
		t.Error("order columns should win over custom fields")
	}
	if !o.Payload().Empty("comments") {
		t.Error("blank comments should be empty")
	}

	c := OrderContext{OrderID: "o1", Status: "cancel", Fields: Payload{"status": "stale"}}
	if c.Payload().String("status") != "cancel" {
		t.Error("context status should win over fields")
	}

	call := Call{ID: "c1", DurationSec: 90, Transcript: " "}
	if call.HasTranscript() {
		t.Error("blank transcript is not a transcript")
	}
	if d, _ := call.Payload().Float("duration_sec"); d != 90 {
		t.Errorf("duration_sec = %v, want 90", d)
	}
}

func TestDecodeJSONValue(t *testing.T) {
	if v := decodeJSONValue(nil); v != nil {
		t.Errorf("decodeJSONValue(nil) = %v", v)
	}
	if v := decodeJSONValue([]byte(`"cancel"`)); v != "cancel" {
		t.Errorf("decodeJSONValue(string) = %v", v)
	}
	if v := decodeJSONValue([]byte(`not json`)); v != "not json" {
		t.Errorf("decodeJSONValue(invalid) = %v", v)
	}
}
