package test

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

// flowsmithBinary is the path to the compiled flowsmith binary, set by TestMain.
var flowsmithBinary string

func TestMain(m *testing.M) {
	flag.Parse()
	if testing.Short() {
		os.Exit(0)
	}

	tmpDir, err := os.MkdirTemp("", "flowsmith-integration-build-*")
	if err != nil {
		fmt.Fprintf(os.Stderr, "create temp dir: %v\n", err)
		os.Exit(1)
	}

	flowsmithBinary = filepath.Join(tmpDir, "flowsmith")
	cmd := exec.Command("go", "build", "-o", flowsmithBinary, "./cmd/flowsmith")
	// Test working dir is test/, so go up one level to project root
	cmd.Dir = filepath.Join("..")
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "build flowsmith binary: %v\n", err)
		os.RemoveAll(tmpDir)
		os.Exit(1)
	}

	code := m.Run()
	os.RemoveAll(tmpDir)
	os.Exit(code)
}

// --- Fixtures ---

const fixtureContract = `#[starknet::contract]
mod Counter {
    #[storage]
    struct Storage { value: u128 }

    #[external(v0)]
    fn reset(ref self: ContractState) { self.value.write(0); }
}
`

// fixtureAuditResponse: a well-formed audit wrapped in prose and a json fence.
const fixtureAuditResponse = "Here is the audit.\n```json\n" + `{
  "contract_name": "Counter",
  "audit_date": "2024-11-02",
  "security_score": 35,
  "original_contract_code": "mod Counter {}",
  "corrected_contract_code": "mod Counter { /* owner check */ }",
  "vulnerabilities": [
    {"category": "Access Control", "severity": "High", "description": "anyone can reset", "recommended_fix": "assert caller is owner"}
  ],
  "recommended_fixes": ["Add an owner check to reset"]
}` + "\n```\nLet me know {if} you need more."

// fixtureMalformedResponse: trailing comma inside the fence.
const fixtureMalformedResponse = "```json\n{\"contract_name\": \"Counter\",}\n```"

// --- Fake provider ---

type fakeProvider struct {
	mu       sync.Mutex
	reply    string
	requests []map[string]any
}

func (f *fakeProvider) set(reply string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reply = reply
}

func (f *fakeProvider) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/messages" || r.Header.Get("x-api-key") != "sk-test" {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`)
		return
	}
	var req map[string]any
	_ = json.NewDecoder(r.Body).Decode(&req)

	f.mu.Lock()
	f.requests = append(f.requests, req)
	reply := f.reply
	f.mu.Unlock()

	if stream, _ := req["stream"].(bool); stream {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, part := range strings.SplitAfter(reply, "\n") {
			data, _ := json.Marshal(map[string]any{
				"type":  "content_block_delta",
				"delta": map[string]string{"type": "text_delta", "text": part},
			})
			fmt.Fprintf(w, "event: content_block_delta\ndata: %s\n\n", data)
			w.(http.Flusher).Flush()
		}
		fmt.Fprint(w, "event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"content":     []map[string]string{{"type": "text", "text": reply}},
		"stop_reason": "end_turn",
	})
}

// request returns the i-th request body the provider received.
func (f *fakeProvider) request(t *testing.T, i int) map[string]any {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if i >= len(f.requests) {
		t.Fatalf("provider saw %d requests, want at least %d", len(f.requests), i+1)
	}
	return f.requests[i]
}

func (f *fakeProvider) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

// userContent returns the single user message of a request body.
func userContent(req map[string]any) string {
	msgs, _ := req["messages"].([]any)
	if len(msgs) == 0 {
		return ""
	}
	m, _ := msgs[0].(map[string]any)
	s, _ := m["content"].(string)
	return s
}

// --- Helpers ---

type env struct {
	home      string
	contracts string
	provider  *fakeProvider
	vars      []string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	home := t.TempDir()
	provider := &fakeProvider{}
	srv := httptest.NewServer(provider)
	t.Cleanup(srv.Close)

	e := &env{
		home:      home,
		contracts: filepath.Join(home, "contracts"),
		provider:  provider,
		vars: []string{
			"PATH=" + os.Getenv("PATH"),
			"HOME=" + home,
			"XDG_CONFIG_HOME=" + filepath.Join(home, ".config"),
			"ANTHROPIC_API_KEY=sk-test",
			"FLOWSMITH_BASE_URL=" + srv.URL,
		},
	}
	mustRun(t, e, "init", e.contracts)
	return e
}

func run(t *testing.T, e *env, stdin string, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	cmd := exec.Command(flowsmithBinary, args...)
	cmd.Env = e.vars
	cmd.Dir = e.home
	cmd.Stdin = strings.NewReader(stdin)
	var outBuf, errBuf strings.Builder
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf
	err = cmd.Run()
	return outBuf.String(), errBuf.String(), err
}

func mustRun(t *testing.T, e *env, args ...string) string {
	t.Helper()
	stdout, stderr, err := run(t, e, "", args...)
	if err != nil {
		t.Fatalf("flowsmith %s failed: %v\nstdout: %s\nstderr: %s", strings.Join(args, " "), err, stdout, stderr)
	}
	return stdout
}

func writeFixture(t *testing.T, dir, filename, content string) string {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", dir, err)
	}
	path := filepath.Join(dir, filename)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture %s: %v", path, err)
	}
	return path
}

// --- Tests ---

func TestVersion(t *testing.T) {
	e := &env{vars: []string{"PATH=" + os.Getenv("PATH"), "HOME=" + t.TempDir()}, home: t.TempDir()}
	out := mustRun(t, e, "version")
	if !strings.HasPrefix(out, "flowsmith ") {
		t.Errorf("unexpected version output: %q", out)
	}
}

func TestInit(t *testing.T) {
	e := newEnv(t)

	cfgPath := filepath.Join(e.home, ".config", "flowsmith", "config.toml")
	data, err := os.ReadFile(cfgPath)
	if err != nil {
		t.Fatalf("config not written: %v", err)
	}
	if !strings.Contains(string(data), "contracts_dir") {
		t.Errorf("config missing contracts_dir:\n%s", data)
	}

	out := mustRun(t, e, "init")
	if !strings.HasPrefix(out, "exists:") {
		t.Errorf("second init should not overwrite, got %q", out)
	}
}

func TestCheck(t *testing.T) {
	e := newEnv(t)
	out := mustRun(t, e, "check")
	if !strings.Contains(out, "flowsmith check") || !strings.Contains(out, "ANTHROPIC_API_KEY set") {
		t.Errorf("unexpected check output:\n%s", out)
	}

	noKey := append([]string{}, e.vars...)
	for i, v := range noKey {
		if strings.HasPrefix(v, "ANTHROPIC_API_KEY=") {
			noKey[i] = "ANTHROPIC_API_KEY="
		}
	}
	stdout, _, err := run(t, &env{home: e.home, vars: noKey}, "", "check")
	if err == nil {
		t.Errorf("check should fail without an API key:\n%s", stdout)
	}
}

func TestGenerate(t *testing.T) {
	e := newEnv(t)
	e.provider.set("```cairo\nmod Counter {}\n```")

	out := mustRun(t, e, "generate", "simple", "counter", "with", "increment")
	if strings.TrimSpace(out) != "mod Counter {}" {
		t.Errorf("stdout = %q", out)
	}

	data, err := os.ReadFile(filepath.Join(e.contracts, "lib.cairo"))
	if err != nil {
		t.Fatalf("generated contract not saved: %v", err)
	}
	if string(data) != "mod Counter {}" {
		t.Errorf("saved = %q", data)
	}

	content := userContent(e.provider.request(t, 0))
	if !strings.Contains(content, "simple counter with increment") {
		t.Errorf("requirements missing from prompt: %q", content)
	}
}

func TestGenerateStreamFromFlow(t *testing.T) {
	e := newEnv(t)
	e.provider.set("```cairo\nmod Token {\n}\n```")

	flowPath := writeFixture(t, e.home, "flow.yaml", "flowSummary:\n  - id: \"1\"\n    content: Mint capped supply\n")
	out := mustRun(t, e, "generate", "--stream", "--flow", flowPath)
	if out != "```cairo\nmod Token {\n}\n```" {
		t.Errorf("streamed output = %q", out)
	}

	req := e.provider.request(t, 0)
	content := userContent(req)
	if !strings.Contains(content, "summary: [id: 1, content: Mint capped supply]") {
		t.Errorf("flattened flow missing from prompt: %q", content)
	}
	if stream, _ := req["stream"].(bool); !stream {
		t.Error("expected a streaming request")
	}
}

func TestAuditAndHistory(t *testing.T) {
	e := newEnv(t)
	e.provider.set(fixtureAuditResponse)
	contract := writeFixture(t, e.home, "counter.cairo", fixtureContract)

	out := mustRun(t, e, "audit", "--style", "notty", contract)
	for _, want := range []string{"Counter", "35/100", "Access Control - High"} {
		if !strings.Contains(out, want) {
			t.Errorf("audit output missing %q:\n%s", want, out)
		}
	}

	corrected, err := os.ReadFile(filepath.Join(e.contracts, "src", "lib.cairo"))
	if err != nil {
		t.Fatalf("corrected contract not saved: %v", err)
	}
	if string(corrected) != "mod Counter { /* owner check */ }" {
		t.Errorf("corrected = %q", corrected)
	}

	jsonOut := mustRun(t, e, "audit", "--json", contract)
	var report map[string]any
	if err := json.Unmarshal([]byte(jsonOut), &report); err != nil {
		t.Fatalf("--json output is not JSON: %v\n%s", err, jsonOut)
	}
	if report["contract_name"] != "Counter" {
		t.Errorf("contract_name = %v", report["contract_name"])
	}

	hist := mustRun(t, e, "history")
	if strings.Count(hist, "audit") < 2 || !strings.Contains(hist, "Counter score 35") {
		t.Errorf("unexpected history:\n%s", hist)
	}
}

func TestAuditMalformedIsArchived(t *testing.T) {
	e := newEnv(t)
	e.provider.set(fixtureMalformedResponse)
	contract := writeFixture(t, e.home, "counter.cairo", fixtureContract)

	_, stderr, err := run(t, e, "", "audit", contract)
	if err == nil {
		t.Fatal("expected audit to fail on malformed payload")
	}
	if !strings.Contains(stderr, "MalformedPayload") {
		t.Errorf("stderr missing failure kind:\n%s", stderr)
	}

	hist := mustRun(t, e, "history")
	fields := strings.Fields(strings.Split(hist, "\n")[1])
	if len(fields) == 0 {
		t.Fatalf("no history rows:\n%s", hist)
	}
	show := mustRun(t, e, "history", "show", fields[0])
	if !strings.Contains(show, "MalformedPayload") || !strings.Contains(show, `{"contract_name": "Counter",}`) {
		t.Errorf("history show missing archived raw response:\n%s", show)
	}
}

func TestAuditBatch(t *testing.T) {
	e := newEnv(t)
	e.provider.set(fixtureAuditResponse)
	a := writeFixture(t, e.home, "a.cairo", fixtureContract)
	b := writeFixture(t, e.home, "b.cairo", fixtureContract)

	out := mustRun(t, e, "audit", "--json", "--jobs", "2", a, b)
	if !strings.Contains(out, "== "+a) || !strings.Contains(out, "== "+b) {
		t.Errorf("batch output missing file headers:\n%s", out)
	}
	if n := e.provider.count(); n != 2 {
		t.Errorf("expected 2 provider calls, got %d", n)
	}
}

func TestProviderAuthFailure(t *testing.T) {
	e := newEnv(t)
	for i, v := range e.vars {
		if strings.HasPrefix(v, "ANTHROPIC_API_KEY=") {
			e.vars[i] = "ANTHROPIC_API_KEY=sk-wrong"
		}
	}
	_, stderr, err := run(t, e, "", "generate", "x")
	if err == nil {
		t.Fatal("expected failure with a wrong key")
	}
	if !strings.Contains(stderr, "ProviderError") || !strings.Contains(stderr, "authentication failed") {
		t.Errorf("unexpected stderr:\n%s", stderr)
	}
}
