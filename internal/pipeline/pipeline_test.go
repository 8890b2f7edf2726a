package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/suykerbuyk/flowsmith/internal/archive"
	"github.com/suykerbuyk/flowsmith/internal/failure"
	"github.com/suykerbuyk/flowsmith/internal/history"
	"github.com/suykerbuyk/flowsmith/internal/llm"
	"github.com/suykerbuyk/flowsmith/internal/prompt"
	"github.com/suykerbuyk/flowsmith/internal/store"
)

// fakeCompleter answers every request with text, or streams chunks.
type fakeCompleter struct {
	text   string
	chunks []string
	err    error

	mu   sync.Mutex
	reqs []llm.Request
}

func (f *fakeCompleter) Complete(ctx context.Context, req llm.Request) (*llm.Completion, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if req.Mode == llm.Stream {
		chunks := f.chunks
		return llm.StreamCompletion(func(yield func(string, error) bool) {
			for _, c := range chunks {
				if !yield(c, nil) {
					return
				}
			}
		}, nil), nil
	}
	return llm.TextCompletion(f.text), nil
}

type memHistory struct {
	mu      sync.Mutex
	entries []history.Entry
}

func (m *memHistory) Add(_ context.Context, e history.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func (m *memHistory) last(t *testing.T) history.Entry {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.entries)
	return m.entries[len(m.entries)-1]
}

type fixture struct {
	dir     string
	hist    *memHistory
	logs    *observer.ObservedLogs
	archive string
}

func newPipeline(t *testing.T, c llm.Completer) (*Pipeline, *fixture) {
	t.Helper()
	dir := t.TempDir()
	core, logs := observer.New(zap.DebugLevel)
	f := &fixture{
		dir:     dir,
		hist:    &memHistory{},
		logs:    logs,
		archive: filepath.Join(dir, "archive"),
	}
	p := New(c, Deps{
		Store:          store.New(filepath.Join(dir, "contracts"), "cairo"),
		MaxTokens:      2048,
		Model:          "test-model",
		SaveCorrected:  true,
		ArchiveEnabled: true,
		ArchiveDir:     f.archive,
		Compress:       true,
		History:        f.hist,
		Logger:         zap.New(core),
	})
	return p, f
}

const goodAudit = "Here you go:\n```json\n" + `{
  "contract_name": "Counter",
  "audit_date": "2024-11-02",
  "security_score": 64,
  "original_contract_code": "mod counter {}",
  "corrected_contract_code": "mod counter { /* fixed */ }",
  "vulnerabilities": [{"category": "Access Control", "severity": "High", "description": "d", "recommended_fix": "f"}],
  "recommended_fixes": ["fix it"]
}` + "\n```\nThanks {for reading}"

func TestGenerate_EndToEnd(t *testing.T) {
	fc := &fakeCompleter{text: "```json\n{\"contract_name\":\"Counter\"}\n```"}
	p, f := newPipeline(t, fc)

	res, err := p.Generate(context.Background(), "", "simple counter with increment")
	require.NoError(t, err)

	assert.Equal(t, `{"contract_name":"Counter"}`, res.SourceCode)
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, filepath.Join(f.dir, "contracts", "lib.cairo"), res.FilePath)

	data, err := os.ReadFile(res.FilePath)
	require.NoError(t, err)
	assert.Equal(t, res.SourceCode, string(data))

	require.Len(t, fc.reqs, 1)
	req := fc.reqs[0]
	assert.Equal(t, llm.Buffered, req.Mode)
	assert.Equal(t, 2048, req.MaxTokens)
	assert.Contains(t, req.Prompt.User(), "simple counter with increment")
	assert.Equal(t, prompt.Generation("").System(), req.Prompt.System())

	e := f.hist.last(t)
	assert.Equal(t, res.RunID, e.ID)
	assert.Equal(t, history.KindGenerate, e.Kind)
	assert.Equal(t, history.StatusOK, e.Status)
	assert.Equal(t, prompt.GenerationVersion, e.PromptVersion)
	assert.Equal(t, "test-model", e.Model)
}

func TestGenerate_BlankResponse(t *testing.T) {
	p, f := newPipeline(t, &fakeCompleter{text: "  \n"})

	_, err := p.Generate(context.Background(), "run-blank", "x")
	fe, ok := failure.As(err)
	require.True(t, ok)
	assert.Equal(t, failure.MissingField, fe.Kind)
	assert.Equal(t, "sourceCode", fe.Field)
	assert.Equal(t, "  \n", fe.Raw)

	e := f.hist.last(t)
	assert.Equal(t, "run-blank", e.ID)
	assert.Equal(t, history.StatusFailed, e.Status)
	assert.Equal(t, string(failure.MissingField), e.ErrorKind)
	assert.NoFileExists(t, filepath.Join(f.dir, "contracts", "lib.cairo"))
}

func TestGenerate_ProviderError(t *testing.T) {
	p, f := newPipeline(t, &fakeCompleter{err: failure.Providerf(429, nil, "rate limited")})

	_, err := p.Generate(context.Background(), "", "x")
	assert.True(t, failure.Is(err, failure.Provider))
	e := f.hist.last(t)
	assert.Equal(t, string(failure.Provider), e.ErrorKind)
	assert.Empty(t, e.ArchivePath, "nothing to archive without a response")
}

func TestGenerateStream(t *testing.T) {
	fc := &fakeCompleter{chunks: []string{"```cairo\n", "mod counter", " {}\n", "```"}}
	p, f := newPipeline(t, fc)

	var out strings.Builder
	res, err := p.GenerateStream(context.Background(), "stream-1", "counter", &out)
	require.NoError(t, err)

	assert.Equal(t, "```cairo\nmod counter {}\n```", out.String())
	assert.Equal(t, "mod counter {}", res.SourceCode)
	assert.Equal(t, out.String(), res.Raw)
	assert.Equal(t, llm.Stream, fc.reqs[0].Mode)

	data, err := os.ReadFile(filepath.Join(f.dir, "contracts", "lib.cairo"))
	require.NoError(t, err)
	assert.Equal(t, "mod counter {}", string(data))
	assert.Equal(t, "stream-1", f.hist.last(t).ID)
}

type brokenWriter struct{}

func (brokenWriter) Write([]byte) (int, error) { return 0, errors.New("client gone") }

func TestGenerateStream_ClientGone(t *testing.T) {
	p, f := newPipeline(t, &fakeCompleter{chunks: []string{"a", "b"}})

	_, err := p.GenerateStream(context.Background(), "", "x", brokenWriter{})
	assert.True(t, failure.Is(err, failure.IO))
	assert.Equal(t, history.StatusFailed, f.hist.last(t).Status)
}

func TestAudit(t *testing.T) {
	p, f := newPipeline(t, &fakeCompleter{text: goodAudit})

	res, err := p.Audit(context.Background(), "", "mod counter {}")
	require.NoError(t, err)

	assert.Equal(t, "Counter", res.Report.ContractName)
	assert.Equal(t, 64, res.Report.SecurityScore)
	assert.Equal(t, goodAudit, res.Raw)
	assert.True(t, strings.HasPrefix(res.Payload, "{"))

	want := filepath.Join(f.dir, "contracts", "src", "lib.cairo")
	assert.Equal(t, want, res.FilePath)
	data, err := os.ReadFile(want)
	require.NoError(t, err)
	assert.Equal(t, "mod counter { /* fixed */ }", string(data))

	e := f.hist.last(t)
	assert.Equal(t, history.KindAudit, e.Kind)
	assert.Equal(t, "Counter", e.ContractName)
	assert.Equal(t, 64, e.SecurityScore)
	assert.Equal(t, prompt.AuditVersion, e.PromptVersion)
}

func TestAudit_NoSaveCorrected(t *testing.T) {
	dir := t.TempDir()
	p := New(&fakeCompleter{text: goodAudit}, Deps{Store: store.New(dir, "cairo")})

	res, err := p.Audit(context.Background(), "", "x")
	require.NoError(t, err)
	assert.Empty(t, res.FilePath)
	assert.NoFileExists(t, filepath.Join(dir, "src", "lib.cairo"))
}

func TestAudit_MalformedArchivesRaw(t *testing.T) {
	raw := "```json\n{\"contract_name\": \"X\",}\n```"
	p, f := newPipeline(t, &fakeCompleter{text: raw})

	_, err := p.Audit(context.Background(), "bad-json", "x")
	fe, ok := failure.As(err)
	require.True(t, ok)
	assert.Equal(t, failure.MalformedPayload, fe.Kind)
	assert.Equal(t, raw, fe.Raw)

	e := f.hist.last(t)
	require.NotEmpty(t, e.ArchivePath)
	got, err := archive.Read(e.ArchivePath)
	require.NoError(t, err)
	assert.Equal(t, raw, got)

	logged := f.logs.FilterMessage("run failed").All()
	require.Len(t, logged, 1)
	assert.Equal(t, raw, logged[0].ContextMap()["raw_response"])
}

func TestAudit_MissingField(t *testing.T) {
	p, _ := newPipeline(t, &fakeCompleter{text: `{"contract_name":"X","security_score":0}`})

	_, err := p.Audit(context.Background(), "", "x")
	fe, ok := failure.As(err)
	require.True(t, ok)
	assert.Equal(t, failure.MissingField, fe.Kind)
	assert.Equal(t, "security_score", fe.Field)
}

func TestAudit_EmptyResponse(t *testing.T) {
	p, _ := newPipeline(t, &fakeCompleter{text: ""})

	_, err := p.Audit(context.Background(), "", "x")
	assert.True(t, failure.Is(err, failure.MalformedPayload))
}

func TestAudit_UnclassifiedError(t *testing.T) {
	p, _ := newPipeline(t, &fakeCompleter{err: errors.New("dial tcp: refused")})

	_, err := p.Audit(context.Background(), "", "x")
	assert.True(t, failure.Is(err, failure.Provider), "unclassified errors surface as provider errors")
}
