package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

type result struct {
	Task string   `json:"task"`
	Plan []string `json:"plan"`
}

func TestOutput_JSON(t *testing.T) {
	var buf bytes.Buffer
	err := Output(result{Task: "Cook a burger", Plan: []string{"move_to"}}, OutputOptions{
		Format: FormatJSON,
		Writer: &buf,
	})
	if err != nil {
		t.Fatalf("Output error: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("Invalid JSON output: %v", err)
	}
	if got["task"] != "Cook a burger" {
		t.Errorf("task = %v", got["task"])
	}
}

func TestOutput_YAML(t *testing.T) {
	var buf bytes.Buffer
	if err := Output(map[string]any{"name": "test"}, OutputOptions{Writer: &buf}); err != nil {
		t.Fatalf("Output error: %v", err)
	}
	if !strings.Contains(buf.String(), "name: test") {
		t.Errorf("Output should contain 'name: test', got: %s", buf.String())
	}
}

func TestOutput_Raw(t *testing.T) {
	var buf bytes.Buffer
	if err := Output("hello", OutputOptions{Format: FormatRaw, Writer: &buf}); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "hello\n" {
		t.Errorf("raw = %q", buf.String())
	}
}

func TestOutput_Query(t *testing.T) {
	var buf bytes.Buffer
	err := Output(result{Task: "Cook a burger", Plan: []string{"move_to", "interact"}}, OutputOptions{
		Format: FormatRaw,
		Query:  ".plan[]",
		Writer: &buf,
	})
	if err != nil {
		t.Fatal(err)
	}
	if buf.String() != "move_to\ninteract\n" {
		t.Errorf("query output = %q", buf.String())
	}
}

func TestQuery(t *testing.T) {
	got, err := Query(result{Task: "x", Plan: []string{"a", "b"}}, ".plan | length")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]any{2}, got); diff != "" {
		t.Errorf("Query (-want +got):\n%s", diff)
	}
	if _, err := Query(nil, ".["); err == nil {
		t.Error("invalid query accepted")
	}
	if _, err := Query(map[string]any{"a": 1}, `error("boom")`); err == nil {
		t.Error("query error not returned")
	}
}

func TestOutput_UnsupportedFormat(t *testing.T) {
	var buf bytes.Buffer
	if err := Output("x", OutputOptions{Format: "xml", Writer: &buf}); err == nil {
		t.Error("expected error for unsupported format")
	}
}

func TestOutput_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.json")
	if err := Output(map[string]int{"n": 1}, OutputOptions{Format: FormatJSON, File: path}); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"n": 1`) {
		t.Errorf("file = %s", data)
	}
}

func TestLoadRequestJSON(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "p.yaml")
	os.WriteFile(yamlPath, []byte("day: 3\nlocation_id: Kitchen\nheld_item: null\n"), 0o644)
	jsonPath := filepath.Join(dir, "p.json")
	os.WriteFile(jsonPath, []byte(` {"day": 3, "location_id": "Kitchen", "held_item": null} `), 0o644)

	for _, path := range []string{yamlPath, jsonPath} {
		data, err := LoadRequestJSON(path)
		if err != nil {
			t.Fatalf("%s: %v", path, err)
		}
		var got map[string]any
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("%s: not json: %s", path, data)
		}
		want := map[string]any{"day": float64(3), "location_id": "Kitchen", "held_item": nil}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("%s (-want +got):\n%s", path, diff)
		}
	}
}

func TestLoadRequest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "skill.yml")
	os.WriteFile(path, []byte("task_name: Cook a burger\nsteps_text: |\n  1. Go to Stove\n"), 0o644)
	var v struct {
		TaskName  string `yaml:"task_name"`
		StepsText string `yaml:"steps_text"`
	}
	if err := LoadRequest(path, &v); err != nil {
		t.Fatal(err)
	}
	if v.TaskName != "Cook a burger" || v.StepsText != "1. Go to Stove\n" {
		t.Errorf("v = %+v", v)
	}
}

func TestPanel(t *testing.T) {
	p := Panel{
		Styles: NewStyles(DefaultTheme),
		Title:  "Cook a burger",
		Status: "failed",
		Failed: true,
		Sections: []Section{
			{Label: "Plan", Lines: []string{"1. move_to Stove", strings.Repeat("x", 100)}},
		},
	}
	out := p.Render(40)
	if !strings.Contains(out, "Cook a burger") || !strings.Contains(out, "move_to Stove") {
		t.Errorf("panel:\n%s", out)
	}
	if !strings.Contains(out, "…") {
		t.Errorf("long line not truncated:\n%s", out)
	}
}
