// Package pipeline runs one contract generation or audit end to end:
// prompt, completion, extraction, validation, persistence, and the
// bookkeeping around them (run ids, raw-response archive, history).
package pipeline

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/suykerbuyk/flowsmith/internal/archive"
	"github.com/suykerbuyk/flowsmith/internal/extract"
	"github.com/suykerbuyk/flowsmith/internal/failure"
	"github.com/suykerbuyk/flowsmith/internal/history"
	"github.com/suykerbuyk/flowsmith/internal/llm"
	"github.com/suykerbuyk/flowsmith/internal/prompt"
	"github.com/suykerbuyk/flowsmith/internal/relay"
	"github.com/suykerbuyk/flowsmith/internal/store"
	"github.com/suykerbuyk/flowsmith/internal/validate"
)

// Recorder stores run history. *history.DB implements it.
type Recorder interface {
	Add(ctx context.Context, e history.Entry) error
}

// Deps carries everything a Pipeline needs besides the completion client.
type Deps struct {
	Store     *store.Store
	MaxTokens int
	Model     string

	GeneratedName string
	CorrectedName string
	SaveCorrected bool

	ArchiveEnabled bool
	ArchiveDir     string
	Compress       bool

	History Recorder
	Logger  *zap.Logger
}

// Pipeline is request scoped: build one per inbound call.
type Pipeline struct {
	client llm.Completer
	deps   Deps
	log    *zap.Logger
}

// New creates a pipeline around client.
func New(client llm.Completer, deps Deps) *Pipeline {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if deps.GeneratedName == "" {
		deps.GeneratedName = "lib"
	}
	if deps.CorrectedName == "" {
		deps.CorrectedName = "src/lib"
	}
	return &Pipeline{client: client, deps: deps, log: log}
}

// NewRunID returns a fresh run identifier.
func NewRunID() string { return uuid.NewString() }

// GenerateResult is a successful generation.
type GenerateResult struct {
	RunID      string
	SourceCode string
	FilePath   string
	Raw        string
}

// AuditResult is a successful audit.
type AuditResult struct {
	RunID    string
	Report   *validate.AuditReport
	Payload  string
	FilePath string
	Raw      string
}

// run tracks one invocation for logging, archiving and history.
type run struct {
	id      string
	kind    string
	version string
	start   time.Time
	log     *zap.Logger
}

func (p *Pipeline) begin(runID, kind, version string) *run {
	if runID == "" {
		runID = NewRunID()
	}
	r := &run{id: runID, kind: kind, version: version, start: time.Now()}
	r.log = p.log.With(zap.String("run_id", runID), zap.String("kind", kind))
	r.log.Info("run started", zap.String("model", p.deps.Model), zap.String("prompt_version", version))
	return r
}

// Generate produces contract source for requirements and saves it under the
// generated name. runID may be empty.
func (p *Pipeline) Generate(ctx context.Context, runID, requirements string) (*GenerateResult, error) {
	r := p.begin(runID, history.KindGenerate, prompt.GenerationVersion)

	raw, err := p.complete(ctx, prompt.Generation(requirements))
	if err != nil {
		return nil, p.fail(ctx, r, err, raw)
	}

	payload, _ := extract.Code(raw)
	contract, err := validate.Source(payload)
	if err != nil {
		return nil, p.fail(ctx, r, err, raw)
	}

	path, err := p.deps.Store.Save(contract.SourceCode, p.deps.GeneratedName)
	if err != nil {
		return nil, p.fail(ctx, r, err, raw)
	}

	p.succeed(ctx, r, raw, history.Entry{FilePath: path})
	return &GenerateResult{RunID: r.id, SourceCode: contract.SourceCode, FilePath: path, Raw: raw}, nil
}

// GenerateStream relays the generation to out as it arrives. Once the stream
// ends the full text is saved the same way Generate saves it. Errors before
// the first byte leave out untouched.
func (p *Pipeline) GenerateStream(ctx context.Context, runID, requirements string, out io.Writer) (*GenerateResult, error) {
	r := p.begin(runID, history.KindGenerate, prompt.GenerationVersion)

	c, err := p.client.Complete(ctx, llm.Request{
		Prompt:    prompt.Generation(requirements),
		Mode:      llm.Stream,
		MaxTokens: p.deps.MaxTokens,
	})
	if err != nil {
		return nil, p.fail(ctx, r, err, "")
	}
	defer c.Close()

	var tee strings.Builder
	st, err := relay.Forward(ctx, c.Chunks(), out, &tee)
	raw := tee.String()
	if err != nil {
		if _, ok := failure.As(err); !ok {
			err = failure.IOf(err, "relay stream")
		}
		return nil, p.fail(ctx, r, err, raw)
	}
	r.log.Debug("stream relayed", zap.Int("chunks", st.Chunks), zap.Int("bytes", st.Bytes))

	payload, _ := extract.Code(raw)
	contract, err := validate.Source(payload)
	if err != nil {
		return nil, p.fail(ctx, r, err, raw)
	}
	path, err := p.deps.Store.Save(contract.SourceCode, p.deps.GeneratedName)
	if err != nil {
		return nil, p.fail(ctx, r, err, raw)
	}

	p.succeed(ctx, r, raw, history.Entry{FilePath: path})
	return &GenerateResult{RunID: r.id, SourceCode: contract.SourceCode, FilePath: path, Raw: raw}, nil
}

// Audit reviews contractCode and returns the validated report. When
// SaveCorrected is set the corrected code is written under the corrected name.
func (p *Pipeline) Audit(ctx context.Context, runID, contractCode string) (*AuditResult, error) {
	r := p.begin(runID, history.KindAudit, prompt.AuditVersion)

	raw, err := p.complete(ctx, prompt.Audit(contractCode))
	if err != nil {
		return nil, p.fail(ctx, r, err, raw)
	}

	payload, ok := extract.JSON(raw)
	if !ok {
		return nil, p.fail(ctx, r, failure.Malformed(payload, nil), raw)
	}
	report, err := validate.Audit(payload)
	if err != nil {
		return nil, p.fail(ctx, r, err, raw)
	}

	var path string
	if p.deps.SaveCorrected && strings.TrimSpace(report.CorrectedContractCode) != "" {
		path, err = p.deps.Store.Save(report.CorrectedContractCode, p.deps.CorrectedName)
		if err != nil {
			return nil, p.fail(ctx, r, err, raw)
		}
	}

	p.succeed(ctx, r, raw, history.Entry{
		ContractName:  report.ContractName,
		SecurityScore: report.SecurityScore,
		FilePath:      path,
	})
	return &AuditResult{RunID: r.id, Report: report, Payload: payload, FilePath: path, Raw: raw}, nil
}

func (p *Pipeline) complete(ctx context.Context, pr prompt.Prompt) (string, error) {
	c, err := p.client.Complete(ctx, llm.Request{Prompt: pr, Mode: llm.Buffered, MaxTokens: p.deps.MaxTokens})
	if err != nil {
		return "", err
	}
	defer c.Close()
	return c.Collect()
}

// fail classifies err, attaches raw, archives and records the run.
func (p *Pipeline) fail(ctx context.Context, r *run, err error, raw string) error {
	err = failure.Attach(err, raw)
	fe, _ := failure.As(err)

	fields := []zap.Field{
		zap.String("error_kind", string(fe.Kind)),
		zap.Error(err),
		zap.Duration("elapsed", time.Since(r.start)),
	}
	if fe.Field != "" {
		fields = append(fields, zap.String("field", fe.Field))
	}
	if raw != "" {
		fields = append(fields, zap.String("raw_response", raw))
	}
	r.log.Error("run failed", fields...)

	entry := history.Entry{
		Status:    history.StatusFailed,
		ErrorKind: string(fe.Kind),
		Message:   fe.Message,
	}
	if raw != "" {
		entry.ArchivePath = p.snapshot(r, raw)
	}
	p.record(ctx, r, entry)
	return err
}

func (p *Pipeline) succeed(ctx context.Context, r *run, raw string, entry history.Entry) {
	r.log.Debug("raw response", zap.String("raw_response", raw))
	r.log.Info("run succeeded",
		zap.String("file_path", entry.FilePath),
		zap.Duration("elapsed", time.Since(r.start)),
	)
	entry.Status = history.StatusOK
	p.record(ctx, r, entry)
}

func (p *Pipeline) snapshot(r *run, raw string) string {
	if !p.deps.ArchiveEnabled || p.deps.ArchiveDir == "" {
		return ""
	}
	path, err := archive.Snapshot(raw, r.id, p.deps.ArchiveDir, p.deps.Compress)
	if err != nil {
		r.log.Warn("archive raw response", zap.Error(err))
		return ""
	}
	return path
}

// record is best effort: history problems never fail a run.
func (p *Pipeline) record(ctx context.Context, r *run, e history.Entry) {
	if p.deps.History == nil {
		return
	}
	e.ID = r.id
	e.Kind = r.kind
	e.Model = p.deps.Model
	e.PromptVersion = r.version
	e.CreatedAt = r.start
	e.Duration = time.Since(r.start)

	// The request context may already be cancelled; history still gets written.
	if err := p.deps.History.Add(context.WithoutCancel(ctx), e); err != nil {
		r.log.Warn("record history", zap.Error(err))
	}
}
