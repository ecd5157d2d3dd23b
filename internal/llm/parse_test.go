package llm

import (
	"encoding/json"
	"testing"
)

func TestParseJSONArray(t *testing.T) {
	cases := []struct {
		name    string
		raw     string
		wantLen int
		wantErr bool
	}{
		{"plain array", `[{"a":1},{"a":2}]`, 2, false},
		{"fenced json", "```json\n[{\"a\":1}]\n```", 1, false},
		{"fenced bare", "```\n[1,2,3]\n```", 3, false},
		{"surrounding whitespace", "  \n[\"x\"]\n  ", 1, false},
		{"empty", "", 0, true},
		{"object not array", `{"a":1}`, 0, true},
		{"garbage", "not json", 0, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			items, err := ParseJSONArray(tc.raw)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %v items", len(items))
				}
				return
			}
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if len(items) != tc.wantLen {
				t.Errorf("len = %d, want %d", len(items), tc.wantLen)
			}
		})
	}
}

func TestParseJSONArrayKeepsItemPayloads(t *testing.T) {
	items, err := ParseJSONArray("```json\n[{\"category\":\"idea\",\"text\":\"t\"}]\n```")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	var row struct {
		Category string `json:"category"`
		Text     string `json:"text"`
	}
	if err := json.Unmarshal(items[0], &row); err != nil {
		t.Fatalf("decode row: %v", err)
	}
	if row.Category != "idea" || row.Text != "t" {
		t.Errorf("row = %+v", row)
	}
}
