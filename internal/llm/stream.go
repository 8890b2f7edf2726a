package llm

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/suykerbuyk/flowsmith/internal/failure"
)

const maxEventSize = 1024 * 1024

// readEvents parses a Messages API server-sent event stream into text deltas.
// Reading happens only as the consumer pulls; stopping early leaves the rest
// of the body unread.
func readEvents(ctx context.Context, r io.Reader) chunkSeq {
	return func(yield func(string, error) bool) {
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), maxEventSize)

		for scanner.Scan() {
			if err := ctx.Err(); err != nil {
				yield("", failure.Providerf(0, err, "stream cancelled"))
				return
			}

			line := scanner.Text()
			data, ok := strings.CutPrefix(line, "data:")
			if !ok {
				continue
			}
			data = strings.TrimSpace(data)
			if data == "" || data == "[DONE]" {
				continue
			}

			var ev streamEvent
			if err := json.Unmarshal([]byte(data), &ev); err != nil {
				yield("", failure.Providerf(0, err, "decode stream event"))
				return
			}

			switch ev.Type {
			case "content_block_delta":
				if ev.Delta == nil || ev.Delta.Text == "" {
					continue
				}
				if !yield(ev.Delta.Text, nil) {
					return
				}
			case "message_stop":
				return
			case "error":
				msg := "unknown stream error"
				if ev.Error != nil && ev.Error.Message != "" {
					msg = ev.Error.Message
				}
				yield("", failure.Providerf(0, nil, "stream error: %s", msg))
				return
			}
		}
		if err := scanner.Err(); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				err = ctxErr
			}
			yield("", failure.Providerf(0, err, "read stream"))
		}
	}
}
