package judge

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

const flagSchema = `{
  "type": "object",
  "required": ["violation", "reasoning"],
  "properties": {
    "violation": {"type": "boolean"},
    "reasoning": {"type": "string"}
  }
}`

type flag struct {
	Violation bool   `json:"violation"`
	Reasoning string `json:"reasoning"`
}

func TestSchemaDecode(t *testing.T) {
	s := MustCompileSchema("flag", flagSchema)

	tests := []struct {
		name    string
		raw     string
		want    flag
		wantErr bool
	}{
		{name: "valid", raw: `{"violation": true, "reasoning": "rude"}`, want: flag{true, "rude"}},
		{name: "fenced", raw: "```json\n{\"violation\": false, \"reasoning\": \"ok\"}\n```", want: flag{false, "ok"}},
		{name: "missing field", raw: `{"violation": true}`, wantErr: true},
		{name: "wrong type", raw: `{"violation": "yes", "reasoning": ""}`, wantErr: true},
		{name: "not json", raw: `violation: yes`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got flag
			err := s.Decode(json.RawMessage(tt.raw), &got)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidResponse) {
					t.Errorf("Decode() error = %v, want ErrInvalidResponse", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Decode() failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("Decode() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestCompileSchemaRejectsInvalidDocument(t *testing.T) {
	if _, err := CompileSchema("broken", `{"type": 12}`); err == nil {
		t.Error("CompileSchema() should reject an invalid schema")
	}
}

func TestCleanJSON(t *testing.T) {
	tests := map[string]string{
		"```json\n{}\n```": "{}",
		"```\n[1]\n```":    "[1]",
		"  {\"a\":1}  ":     `{"a":1}`,
	}
	for in, want := range tests {
		if got := CleanJSON(in); got != want {
			t.Errorf("CleanJSON(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestFuncAdapter(t *testing.T) {
	var j Judge = Func(func(ctx context.Context, system, user string) (json.RawMessage, error) {
		return json.RawMessage(`{"echo":"` + user + `"}`), nil
	})
	raw, err := j.Judge(context.Background(), "", "hi")
	if err != nil || string(raw) != `{"echo":"hi"}` {
		t.Errorf("Judge() = %s, %v", raw, err)
	}
}
