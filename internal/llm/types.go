package llm

import (
	"context"
	"iter"

	"github.com/suykerbuyk/flowsmith/internal/prompt"
)

// Mode selects how a completion is delivered.
type Mode int

const (
	Buffered Mode = iota
	Stream
)

func (m Mode) String() string {
	switch m {
	case Buffered:
		return "buffered"
	case Stream:
		return "stream"
	default:
		return "unknown"
	}
}

// DefaultMaxTokens applies when a Request leaves MaxTokens at zero.
const DefaultMaxTokens = 4096

// Request is one completion call.
type Request struct {
	Prompt    prompt.Prompt
	Mode      Mode
	MaxTokens int
}

// Completer sends a prompt to a model provider.
type Completer interface {
	Complete(ctx context.Context, req Request) (*Completion, error)
}

// API request/response types for the Anthropic Messages API.

type messagesRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system,omitempty"`
	Messages  []message `json:"messages"`
	Stream    bool      `json:"stream,omitempty"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	Content    []contentBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
	Error      *apiError      `json:"error,omitempty"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type apiError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type errorEnvelope struct {
	Error *apiError `json:"error"`
}

// streamEvent covers the SSE payloads we act on.
type streamEvent struct {
	Type  string `json:"type"`
	Delta *struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta,omitempty"`
	Error *apiError `json:"error,omitempty"`
}

// chunkSeq is the lazy chunk sequence of a streamed completion.
type chunkSeq = iter.Seq2[string, error]
