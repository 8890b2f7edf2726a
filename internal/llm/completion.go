package llm

import (
	"context"
	"errors"
	"io"
	"iter"
	"strings"
	"sync"

	"github.com/suykerbuyk/flowsmith/internal/failure"
)

// Completion is the result of a Complete call. In Buffered mode Text holds the
// whole response. In Stream mode the response is pulled through Chunks.
type Completion struct {
	Mode Mode
	Text string

	chunks chunkSeq
	body   io.Closer

	mu       sync.Mutex
	consumed bool
	closed   bool
}

// TextCompletion wraps an already complete response.
func TextCompletion(text string) *Completion {
	return &Completion{Mode: Buffered, Text: text}
}

// StreamCompletion wraps a chunk sequence. body, if non-nil, is closed once the
// sequence finishes or the consumer stops early.
func StreamCompletion(chunks iter.Seq2[string, error], body io.Closer) *Completion {
	return &Completion{Mode: Stream, chunks: chunks, body: body}
}

// CompleterFunc adapts a function to the Completer interface.
type CompleterFunc func(ctx context.Context, req Request) (*Completion, error)

func (f CompleterFunc) Complete(ctx context.Context, req Request) (*Completion, error) {
	return f(ctx, req)
}

var errConsumed = errors.New("completion stream already consumed")

// Chunks returns the response as a single-use sequence of text fragments in
// arrival order. A buffered completion yields its Text as one chunk. Breaking
// out of the range stops reading from the provider.
func (c *Completion) Chunks() iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		c.mu.Lock()
		if c.consumed {
			c.mu.Unlock()
			yield("", errConsumed)
			return
		}
		c.consumed = true
		c.mu.Unlock()

		if c.Mode == Buffered {
			if c.Text != "" {
				yield(c.Text, nil)
			}
			return
		}

		defer c.Close()
		for chunk, err := range c.chunks {
			if !yield(chunk, err) || err != nil {
				return
			}
		}
	}
}

// Collect concatenates the whole response. On a mid-stream failure the text
// received so far is attached to the returned error.
func (c *Completion) Collect() (string, error) {
	if c.Mode == Buffered {
		return c.Text, nil
	}
	var b strings.Builder
	for chunk, err := range c.Chunks() {
		if err != nil {
			return b.String(), failure.Attach(err, b.String())
		}
		b.WriteString(chunk)
	}
	return b.String(), nil
}

// Close releases an unconsumed stream. It is safe to call more than once.
func (c *Completion) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.body == nil {
		c.closed = true
		return nil
	}
	c.closed = true
	return c.body.Close()
}
