// Package relay forwards streamed completion chunks to a client as they
// arrive, without buffering the whole response.
package relay

import (
	"context"
	"fmt"
	"io"
	"iter"
)

// Flusher is implemented by writers that buffer, such as http.ResponseWriter.
type Flusher interface {
	Flush()
}

// Stats summarises a forwarded stream.
type Stats struct {
	Chunks int
	Bytes  int
}

// Forward writes each chunk to out, flushing after every write, before pulling
// the next one from chunks. When tee is non-nil it receives the same bytes.
// Forwarding stops on the first upstream error, a write error on out (client
// gone) or ctx cancellation; stopping also stops the upstream read.
func Forward(ctx context.Context, chunks iter.Seq2[string, error], out io.Writer, tee io.Writer) (Stats, error) {
	var st Stats
	flusher, _ := out.(Flusher)

	for chunk, err := range chunks {
		if err != nil {
			return st, err
		}
		if err := ctx.Err(); err != nil {
			return st, fmt.Errorf("relay cancelled: %w", err)
		}
		if chunk == "" {
			continue
		}
		n, err := io.WriteString(out, chunk)
		st.Bytes += n
		if err != nil {
			return st, fmt.Errorf("write chunk: %w", err)
		}
		if flusher != nil {
			flusher.Flush()
		}
		if tee != nil {
			if _, err := io.WriteString(tee, chunk); err != nil {
				return st, fmt.Errorf("tee chunk: %w", err)
			}
		}
		st.Chunks++
	}
	return st, nil
}
