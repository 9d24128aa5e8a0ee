package jsonscan_test

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/paprika-agent/paprika/pkg/jsonscan"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want any
	}{
		{
			name: "array in prose",
			in:   `Sure! [{"a":1}] thanks`,
			want: []any{map[string]any{"a": float64(1)}},
		},
		{
			name: "bare object",
			in:   `{"a":1}`,
			want: map[string]any{"a": float64(1)},
		},
		{
			name: "array preferred over earlier object",
			in:   `{"note":"x"} then [1,2]`,
			want: []any{float64(1), float64(2)},
		},
		{
			name: "nested array is not top level",
			in:   `Result: {"task":"cook","steps":["a","b"]}`,
			want: map[string]any{"task": "cook", "steps": []any{"a", "b"}},
		},
		{
			name: "brackets inside strings",
			in:   "```json\n[{\"thought_trace\":\"look at [x] and }\",\"function\":\"say\"}]\n```",
			want: []any{map[string]any{"thought_trace": "look at [x] and }", "function": "say"}},
		},
		{
			name: "prose brackets skipped",
			in:   `See [note] for details: {"ok":true}`,
			want: map[string]any{"ok": true},
		},
		{
			name: "trailing comma repaired",
			in:   `Plan: [{"function":"move_to"},]`,
			want: []any{map[string]any{"function": "move_to"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := jsonscan.Extract(tt.in)
			if err != nil {
				t.Fatalf("Extract(%q): %v", tt.in, err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Extract(%q) mismatch (-want +got):\n%s", tt.in, diff)
			}
		})
	}
}

func TestExtractNotFound(t *testing.T) {
	for _, in := range []string{
		"",
		"I could not decide on anything.",
		"{ task: cook }",
	} {
		_, err := jsonscan.Extract(in)
		if !errors.Is(err, jsonscan.ErrNotFound) {
			t.Errorf("Extract(%q) error = %v, want ErrNotFound", in, err)
		}
	}
}

func TestExtractTruncated(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want any
	}{
		{
			name: "cut inside last element",
			in:   `[{"function":"say","args":{"text":"hi"}},{"function":"move_to","args":{"id":"Sto`,
			want: []any{map[string]any{"function": "say", "args": map[string]any{"text": "hi"}}},
		},
		{
			name: "cut after complete element",
			in:   `Plan: [{"a":1}`,
			want: []any{map[string]any{"a": float64(1)}},
		},
		{
			name: "cut inside number",
			in:   `[1, 2, 3`,
			want: []any{float64(1), float64(2)},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := jsonscan.Extract(tt.in)
			if err != nil {
				t.Fatalf("Extract(%q): %v", tt.in, err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Extract(%q) mismatch (-want +got):\n%s", tt.in, diff)
			}
		})
	}
}

func TestExtractTruncatedElementNotCompleted(t *testing.T) {
	for _, in := range []string{
		`[{"function":"move_to","args":{"id":"Sto`,
		`{"task":"cook","steps":["a"`,
		`{"success": tr`,
	} {
		got, err := jsonscan.Extract(in)
		if !errors.Is(err, jsonscan.ErrNotFound) {
			t.Errorf("Extract(%q) = %v, %v; want ErrNotFound", in, got, err)
		}
	}
}

func TestExtractListWrapsObject(t *testing.T) {
	list, err := jsonscan.ExtractList(`{"a":1}`)
	if err != nil {
		t.Fatalf("ExtractList: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("len = %d, want 1", len(list))
	}
	var got map[string]int
	if err := json.Unmarshal(list[0], &got); err != nil {
		t.Fatal(err)
	}
	if got["a"] != 1 {
		t.Errorf("got %v, want a=1", got)
	}
}

func TestExtractListKeepsOrder(t *testing.T) {
	list, err := jsonscan.ExtractList(`[{"n":1},"bad",{"n":3}]`)
	if err != nil {
		t.Fatalf("ExtractList: %v", err)
	}
	var got []string
	for _, raw := range list {
		got = append(got, string(raw))
	}
	want := []string{`{"n":1}`, `"bad"`, `{"n":3}`}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ExtractList mismatch (-want +got):\n%s", diff)
	}
}

func TestExtractObject(t *testing.T) {
	var out struct {
		Success  bool   `json:"success"`
		Feedback string `json:"feedback"`
	}
	err := jsonscan.ExtractObject(`Verdict: [{"success":true,"feedback":"done"}]`, &out)
	if err != nil {
		t.Fatalf("ExtractObject: %v", err)
	}
	if !out.Success || out.Feedback != "done" {
		t.Errorf("got %+v", out)
	}

	if err := jsonscan.ExtractObject("[]", &out); !errors.Is(err, jsonscan.ErrNotFound) {
		t.Errorf("ExtractObject([]) error = %v, want ErrNotFound", err)
	}
}

func TestExcerpt(t *testing.T) {
	long := strings.Repeat("é", 150)
	got := jsonscan.Excerpt(long, 100)
	if n := len([]rune(strings.TrimSuffix(got, "..."))); n != 100 {
		t.Errorf("excerpt rune count = %d, want 100", n)
	}
	if !strings.HasSuffix(got, "...") {
		t.Errorf("excerpt should mark truncation: %q", got)
	}
	if got := jsonscan.Excerpt("short", 100); got != "short" {
		t.Errorf("Excerpt(short) = %q", got)
	}
}
