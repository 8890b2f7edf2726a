// Package server exposes generation and audit over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/suykerbuyk/flowsmith/internal/config"
	"github.com/suykerbuyk/flowsmith/internal/flow"
	"github.com/suykerbuyk/flowsmith/internal/llm"
	"github.com/suykerbuyk/flowsmith/internal/pipeline"
	"github.com/suykerbuyk/flowsmith/internal/render"
	"github.com/suykerbuyk/flowsmith/internal/store"
	"github.com/suykerbuyk/flowsmith/internal/validate"
)

const (
	requestIDHeader = "X-Request-Id"
	maxBodyBytes    = 4 << 20
	shutdownTimeout = 30 * time.Second
)

// Options configures a Server.
type Options struct {
	Config config.Config
	// NewClient builds the completion client for one request. Defaults to an
	// Anthropic client from Config.Provider.
	NewClient func() llm.Completer
	History   pipeline.Recorder
	Logger    *zap.Logger
}

// Server routes HTTP requests into per-request pipelines.
type Server struct {
	cfg       config.Config
	newClient func() llm.Completer
	history   pipeline.Recorder
	log       *zap.Logger
	limiter   *RateLimiter
	handler   http.Handler
}

// New builds a server.
func New(opts Options) *Server {
	s := &Server{
		cfg:       opts.Config,
		newClient: opts.NewClient,
		history:   opts.History,
		log:       opts.Logger,
		limiter:   NewRateLimiter(opts.Config.Server.RateLimit, opts.Config.Server.Burst),
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.newClient == nil {
		provider := opts.Config.Provider
		s.newClient = func() llm.Completer {
			return llm.New(provider, provider.APIKey())
		}
	}

	mux := http.NewServeMux()
	mux.Handle("POST /generate", appHandler{s, s.handleGenerate})
	mux.HandleFunc("POST /generate/stream", s.handleGenerateStream)
	mux.Handle("POST /audit", appHandler{s, s.handleAudit})
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	s.handler = s.withRequestID(s.withLogging(s.withRecover(s.limiter.Middleware(mux))))
	return s
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler { return s.handler }

// ListenAndServe serves on the configured address until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Server.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then drains
// in-flight requests.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.log.Info("listening", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		s.log.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		s.limiter.Run(gctx)
		return nil
	})
	return g.Wait()
}

// pipelineFor builds the request-scoped pipeline.
func (s *Server) pipelineFor(r *http.Request) *pipeline.Pipeline {
	c := s.cfg
	return pipeline.New(s.newClient(), pipeline.Deps{
		Store:          store.New(c.ContractsDir, c.Contract.Language),
		MaxTokens:      c.Provider.MaxTokens,
		Model:          c.Provider.Model,
		GeneratedName:  c.Contract.GeneratedName,
		CorrectedName:  c.Contract.CorrectedName,
		SaveCorrected:  c.Audit.SaveCorrected,
		ArchiveEnabled: c.Archive.Enabled,
		ArchiveDir:     c.ArchiveDir(),
		Compress:       c.Archive.Compress,
		History:        s.history,
		Logger:         s.log.With(zap.String("remote", clientIP(r))),
	})
}

// requestContext applies the provider deadline to the request context.
func (s *Server) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	if d := s.cfg.Provider.Timeout(); d > 0 {
		return context.WithTimeout(r.Context(), d)
	}
	return context.WithCancel(r.Context())
}

type generateRequest struct {
	Requirements string `json:"requirements"`
	flow.Document
}

func (g generateRequest) text() (string, error) {
	if strings.TrimSpace(g.Requirements) != "" || g.Document.Empty() {
		return g.Requirements, nil
	}
	return g.Document.Flatten()
}

type generateResponse struct {
	Success    bool   `json:"success"`
	SourceCode string `json:"sourceCode"`
	FilePath   string `json:"filePath"`
	RunID      string `json:"runId"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) *response {
	runID := w.Header().Get(requestIDHeader)

	var req generateRequest
	if err := decodeBody(w, r, &req); err != nil {
		return badRequest(err)
	}
	requirements, err := req.text()
	if err != nil {
		return badRequest(err)
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	res, err := s.pipelineFor(r).Generate(ctx, runID, requirements)
	if err != nil {
		return pipelineError(err)
	}
	return &response{Code: http.StatusOK, Body: generateResponse{
		Success:    true,
		SourceCode: res.SourceCode,
		FilePath:   res.FilePath,
		RunID:      res.RunID,
	}}
}

func (s *Server) handleGenerateStream(w http.ResponseWriter, r *http.Request) {
	runID := w.Header().Get(requestIDHeader)

	var req generateRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, badRequest(err))
		return
	}
	requirements, err := req.text()
	if err != nil {
		s.writeError(w, badRequest(err))
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	out := &lazyWriter{w: w}
	_, err = s.pipelineFor(r).GenerateStream(ctx, runID, requirements, out)
	if err == nil {
		if !out.started {
			out.start()
		}
		return
	}
	if out.started {
		// Headers are gone; the client sees a truncated stream.
		return
	}
	s.writeError(w, pipelineError(err))
}

type auditRequest struct {
	ContractCode string `json:"contractCode"`
	SourceCode   string `json:"sourceCode"`
}

type auditResponse struct {
	Success    bool                  `json:"success"`
	Report     *validate.AuditReport `json:"report"`
	ReportHTML string                `json:"reportHtml"`
	FilePath   string                `json:"filePath,omitempty"`
	RunID      string                `json:"runId"`
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) *response {
	runID := w.Header().Get(requestIDHeader)

	var req auditRequest
	if err := decodeBody(w, r, &req); err != nil {
		return badRequest(err)
	}
	code := req.ContractCode
	if code == "" {
		code = req.SourceCode
	}
	if strings.TrimSpace(code) == "" {
		return badRequest(errors.New("contractCode is required"))
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	res, err := s.pipelineFor(r).Audit(ctx, runID, code)
	if err != nil {
		return pipelineError(err)
	}
	html, err := render.HTML(res.Report, s.cfg.Contract.Language)
	if err != nil {
		return &response{Code: http.StatusInternalServerError, Err: err}
	}
	return &response{Code: http.StatusOK, Body: auditResponse{
		Success:    true,
		Report:     res.Report,
		ReportHTML: html,
		FilePath:   res.FilePath,
		RunID:      res.RunID,
	}}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("decode request body: %w", err)
	}
	return nil
}

// lazyWriter commits the streaming headers on the first write, so a failure
// before any output can still be answered with a JSON error.
type lazyWriter struct {
	w       http.ResponseWriter
	started bool
}

func (l *lazyWriter) start() {
	l.started = true
	l.w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	l.w.Header().Set("X-Content-Type-Options", "nosniff")
	l.w.Header().Set("Cache-Control", "no-cache")
	l.w.WriteHeader(http.StatusOK)
}

func (l *lazyWriter) Write(p []byte) (int, error) {
	if !l.started {
		l.start()
	}
	return l.w.Write(p)
}

func (l *lazyWriter) Flush() {
	_ = http.NewResponseController(l.w).Flush()
}
