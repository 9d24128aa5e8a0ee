package commands

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/paprika-agent/paprika/pkg/cli"
	"github.com/paprika-agent/paprika/pkg/config"
	"github.com/paprika-agent/paprika/pkg/protocol"
)

// setupTestEnv writes a config using a sqlite store under a temp dir, so
// that separate commands share their data.
func setupTestEnv(t *testing.T, extra string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := "store:\n  backend: sqlite\n  dir: " + filepath.Join(dir, "kb.db") + "\n" +
		"embedding:\n  provider: hash\n  dimension: 32\n" +
		"log:\n  level: error\n" + extra
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func execute(t *testing.T, args ...string) (stdout, stderr string, exitCode int) {
	t.Helper()

	oldStdout := os.Stdout
	oldStderr := os.Stderr

	rOut, wOut, _ := os.Pipe()
	rErr, wErr, _ := os.Pipe()
	os.Stdout = wOut
	os.Stderr = wErr

	verbose = false
	configPath = ""
	formatOutput = "yaml"
	queryExpr = ""
	outputFile = ""
	flagPanel = false
	memLimit = 10
	memAsOfDay = -1
	skillLimit = 5

	rootCmd.SetArgs(args)
	err := rootCmd.Execute()

	wOut.Close()
	wErr.Close()
	os.Stdout = oldStdout
	os.Stderr = oldStderr

	var outBuf, errBuf bytes.Buffer
	outBuf.ReadFrom(rOut)
	errBuf.ReadFrom(rErr)

	stdout = outBuf.String()
	stderr = errBuf.String()
	if err != nil {
		exitCode = 1
		stderr += err.Error()
	}
	return
}

func TestVersion(t *testing.T) {
	stdout, _, code := execute(t, "version")
	if code != 0 {
		t.Fatalf("exit %d", code)
	}
	if !strings.Contains(stdout, "paprika") {
		t.Fatalf("expected 'paprika', got: %s", stdout)
	}
}

func TestVersionJSON(t *testing.T) {
	stdout, _, code := execute(t, "version", "--format", "json")
	if code != 0 {
		t.Fatalf("exit %d", code)
	}
	if !strings.Contains(stdout, `"version"`) {
		t.Fatalf("expected JSON, got: %s", stdout)
	}
}

func TestConfigMasksSecrets(t *testing.T) {
	cfg := setupTestEnv(t, "llm:\n  provider: openai\n  model: gpt-4.1-mini\n  api_key: sk-abcdefghijkl\n")
	stdout, stderr, code := execute(t, "--config", cfg, "config", "--format", "json", "-q", ".llm.api_key")
	if code != 0 {
		t.Fatalf("exit %d: %s", code, stderr)
	}
	if strings.Contains(stdout, "sk-abcdefghijkl") {
		t.Fatalf("secret leaked: %s", stdout)
	}
	if !strings.Contains(stdout, "sk-a****ijkl") {
		t.Fatalf("expected masked key, got: %s", stdout)
	}
}

func TestConfigInvalid(t *testing.T) {
	cfg := setupTestEnv(t, "agent:\n  critic_mode: sometimes\n")
	_, stderr, code := execute(t, "--config", cfg, "config")
	if code == 0 {
		t.Fatal("expected failure")
	}
	if !strings.Contains(stderr, "agent.critic_mode") {
		t.Fatalf("expected field in error, got: %s", stderr)
	}
}

func TestMemoryAddRecent(t *testing.T) {
	cfg := setupTestEnv(t, "")
	_, stderr, code := execute(t, "--config", cfg, "memory", "add", "The fridge is always stocked", "--day", "2", "--importance", "0.9")
	if code != 0 {
		t.Fatalf("add: exit %d: %s", code, stderr)
	}
	_, stderr, code = execute(t, "--config", cfg, "memory", "add", "Saw a cat at the door", "--day", "5", "--type", "observation")
	if code != 0 {
		t.Fatalf("add: exit %d: %s", code, stderr)
	}

	stdout, stderr, code := execute(t, "--config", cfg, "memory", "recent", "--day", "3", "--format", "json")
	if code != 0 {
		t.Fatalf("recent: exit %d: %s", code, stderr)
	}
	if !strings.Contains(stdout, "The fridge is always stocked") {
		t.Fatalf("missing memory: %s", stdout)
	}
	if strings.Contains(stdout, "cat at the door") {
		t.Fatalf("memory after day 3 listed: %s", stdout)
	}

	stdout, stderr, code = execute(t, "--config", cfg, "memory", "search", "Saw a cat at the door", "-n", "1", "--format", "raw", "-q", ".[0].content")
	if code != 0 {
		t.Fatalf("search: exit %d: %s", code, stderr)
	}
	if strings.TrimSpace(stdout) != "Saw a cat at the door" {
		t.Fatalf("search = %q", stdout)
	}
}

func TestSkillPutShow(t *testing.T) {
	cfg := setupTestEnv(t, "")
	file := filepath.Join(t.TempDir(), "burger.json")
	skill := `{"task_name":"Cook a burger","description":"Grill a patty.","steps_text":"1. move_to stove\n2. interact stove"}`
	if err := os.WriteFile(file, []byte(skill), 0o644); err != nil {
		t.Fatal(err)
	}

	_, stderr, code := execute(t, "--config", cfg, "skill", "put", "-f", file)
	if code != 0 {
		t.Fatalf("put: exit %d: %s", code, stderr)
	}
	stdout, stderr, code := execute(t, "--config", cfg, "skill", "show", "Cook a burger", "--format", "json")
	if code != 0 {
		t.Fatalf("show: exit %d: %s", code, stderr)
	}
	if !strings.Contains(stdout, "move_to stove") {
		t.Fatalf("show = %s", stdout)
	}

	stdout, stderr, code = execute(t, "--config", cfg, "skill", "search", "How to Cook a burger", "--format", "raw", "-q", ".[0].task_name")
	if code != 0 {
		t.Fatalf("search: exit %d: %s", code, stderr)
	}
	if strings.TrimSpace(stdout) != "Cook a burger" {
		t.Fatalf("search = %q", stdout)
	}

	_, stderr, code = execute(t, "--config", cfg, "skill", "show", "Bake bread")
	if code == 0 || !strings.Contains(stderr, "no skill") {
		t.Fatalf("show missing: exit %d: %s", code, stderr)
	}
}

func TestSkillPutRequiresSteps(t *testing.T) {
	cfg := setupTestEnv(t, "")
	file := filepath.Join(t.TempDir(), "empty.json")
	if err := os.WriteFile(file, []byte(`{"task_name":"Nap"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	_, stderr, code := execute(t, "--config", cfg, "skill", "put", "-f", file)
	if code == 0 || !strings.Contains(stderr, "steps_text") {
		t.Fatalf("exit %d: %s", code, stderr)
	}
}

func TestToolsList(t *testing.T) {
	cfg := setupTestEnv(t, "")
	stdout, stderr, code := execute(t, "--config", cfg, "tools", "list", "--format", "json")
	if code != 0 {
		t.Fatalf("exit %d: %s", code, stderr)
	}
	for _, name := range []string{"move_to", "pickup", "interact"} {
		if !strings.Contains(stdout, name) {
			t.Errorf("missing %s in %s", name, stdout)
		}
	}
	if strings.Contains(stdout, "get_current_weather") {
		t.Errorf("weather listed without configuration: %s", stdout)
	}
}

func TestToolsCall(t *testing.T) {
	cfg := setupTestEnv(t, "")
	stdout, stderr, code := execute(t, "--config", cfg, "tools", "call", "move_to", `{"id":"Stove"}`, "--format", "json")
	if code != 0 {
		t.Fatalf("exit %d: %s", code, stderr)
	}
	if !strings.Contains(stdout, `"moving"`) || !strings.Contains(stdout, `"Stove"`) {
		t.Fatalf("call = %s", stdout)
	}

	_, _, code = execute(t, "--config", cfg, "tools", "call", "move_to", `{"id":7}`)
	if code == 0 {
		t.Fatal("expected schema violation")
	}
	_, _, code = execute(t, "--config", cfg, "tools", "call", "teleport")
	if code == 0 {
		t.Fatal("expected unknown tool")
	}
}

func TestRunRejectsInvalidPerception(t *testing.T) {
	cfg := setupTestEnv(t, "")
	file := filepath.Join(t.TempDir(), "p.json")
	if err := os.WriteFile(file, []byte(`{"day":"monday"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	_, _, code := execute(t, "--config", cfg, "run", "-f", file)
	if code == 0 {
		t.Fatal("expected failure")
	}
}

func TestMasked(t *testing.T) {
	cfg := config.Default()
	cfg.LLM.APIKey = "sk-0123456789"
	cfg.Store.Snapshot.S3 = &config.S3Config{Bucket: "b", SecretAccessKey: "supersecretvalue"}
	cfg.Tools.Options = map[string]map[string]string{"x": {"token": "abcdefghijk", "city": "Oslo"}}

	m := masked(cfg)
	if m.LLM.APIKey != "sk-0****6789" {
		t.Errorf("llm key = %q", m.LLM.APIKey)
	}
	if m.Store.Snapshot.S3.SecretAccessKey == "supersecretvalue" {
		t.Error("s3 secret not masked")
	}
	if cfg.Store.Snapshot.S3.SecretAccessKey != "supersecretvalue" {
		t.Error("original config modified")
	}
	if got := m.Tools.Options["x"]; got["city"] != "Oslo" || got["token"] == "abcdefghijk" {
		t.Errorf("tool options = %v", got)
	}
}

func TestYAMLView(t *testing.T) {
	v, err := yamlView(config.Default())
	if err != nil {
		t.Fatal(err)
	}
	got, err := cli.Query(v, ".store.backend")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0] != "badger" {
		t.Fatalf("store.backend = %v", got)
	}
}

func TestResultPanel(t *testing.T) {
	res := runResult{
		Task:    "Cook a burger",
		Plan:    protocol.Plan{{Function: "move_to", Args: map[string]any{"id": "Stove"}}},
		Success: false,
		Retries: 4,
	}
	out := resultPanel(res).Render(60)
	for _, want := range []string{"Cook a burger", "1. move_to", "failed after 4 retries"} {
		if !strings.Contains(out, want) {
			t.Errorf("panel missing %q:\n%s", want, out)
		}
	}
}

func TestSplitComma(t *testing.T) {
	got := splitComma(" happy, ,tired ")
	if len(got) != 2 || got[0] != "happy" || got[1] != "tired" {
		t.Fatalf("splitComma = %q", got)
	}
	if splitComma("") != nil {
		t.Fatal("expected nil")
	}
}
