package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/suykerbuyk/flowsmith/internal/failure"
)

// response is what a JSON handler hands back to appHandler.
type response struct {
	Code int
	Body any
	Err  error
}

type errorBody struct {
	Success   bool   `json:"success"`
	Error     string `json:"error"`
	ErrorKind string `json:"errorKind,omitempty"`
	RunID     string `json:"runId,omitempty"`
}

// appHandler adapts a handler returning *response to http.Handler.
type appHandler struct {
	s  *Server
	fn func(http.ResponseWriter, *http.Request) *response
}

func (h appHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := h.fn(w, r)
	if resp.Err != nil {
		h.s.writeError(w, resp)
		return
	}
	writeJSON(w, resp.Code, resp.Body)
}

func (s *Server) writeError(w http.ResponseWriter, resp *response) {
	body := errorBody{Error: resp.Err.Error(), RunID: w.Header().Get(requestIDHeader)}
	if fe, ok := failure.As(resp.Err); ok {
		body.Error = fe.Message
		body.ErrorKind = string(fe.Kind)
	}
	if resp.Code >= http.StatusInternalServerError {
		s.log.Error("request failed", zap.String("run_id", body.RunID), zap.Int("status", resp.Code), zap.Error(resp.Err))
	}
	writeJSON(w, resp.Code, body)
}

func badRequest(err error) *response {
	return &response{Code: http.StatusBadRequest, Err: err}
}

// pipelineError maps a classified failure to an HTTP status: provider
// failures are 502, everything else in the pipeline is 500.
func pipelineError(err error) *response {
	code := http.StatusInternalServerError
	if failure.Is(err, failure.Provider) {
		code = http.StatusBadGateway
	}
	return &response{Code: code, Err: err}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) withRecover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w}
		defer func() {
			if v := recover(); v != nil {
				if v == http.ErrAbortHandler {
					panic(v)
				}
				err := fmt.Errorf("internal error: %v", v)
				if rec.status != 0 {
					// Headers are already out; the client sees a truncated response.
					s.log.Error("panic after response started",
						zap.String("run_id", w.Header().Get(requestIDHeader)), zap.Error(err))
					return
				}
				s.writeError(rec, &response{Code: http.StatusInternalServerError, Err: err})
			}
		}()
		next.ServeHTTP(rec, r)
	})
}

// statusRecorder captures the response status for access logs.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(p []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	return s.ResponseWriter.Write(p)
}

func (s *statusRecorder) Unwrap() http.ResponseWriter { return s.ResponseWriter }

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		s.log.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("run_id", w.Header().Get(requestIDHeader)),
		)
	})
}
