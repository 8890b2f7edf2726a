// Package archive keeps raw model responses on disk, keyed by run id, so a
// failed run can be inspected after the fact.
package archive

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
)

const (
	plainExt      = ".txt"
	compressedExt = ".txt.zst"
)

// Snapshot writes raw into archiveDir/{run-id}.txt.zst, or .txt when
// compress is false. Returns the snapshot path.
func Snapshot(raw, runID, archiveDir string, compress bool) (string, error) {
	if runID == "" || strings.ContainsAny(runID, `/\`) {
		return "", fmt.Errorf("invalid run id %q", runID)
	}

	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return "", fmt.Errorf("create archive dir: %w", err)
	}

	destPath := SnapshotPath(runID, archiveDir, compress)
	dest, err := os.Create(destPath)
	if err != nil {
		return "", fmt.Errorf("create snapshot: %w", err)
	}
	defer dest.Close()

	if !compress {
		if _, err := io.WriteString(dest, raw); err != nil {
			return "", fmt.Errorf("write snapshot: %w", err)
		}
		return destPath, dest.Close()
	}

	encoder, err := zstd.NewWriter(dest)
	if err != nil {
		return "", fmt.Errorf("create zstd encoder: %w", err)
	}

	if _, err := io.WriteString(encoder, raw); err != nil {
		encoder.Close()
		return "", fmt.Errorf("compress: %w", err)
	}

	if err := encoder.Close(); err != nil {
		return "", fmt.Errorf("finalize compression: %w", err)
	}

	return destPath, dest.Close()
}

// Read returns the raw text stored at path, decompressing .zst snapshots.
func Read(path string) (string, error) {
	src, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open snapshot: %w", err)
	}
	defer src.Close()

	if !strings.HasSuffix(path, ".zst") {
		data, err := io.ReadAll(src)
		if err != nil {
			return "", fmt.Errorf("read snapshot: %w", err)
		}
		return string(data), nil
	}

	decoder, err := zstd.NewReader(src)
	if err != nil {
		return "", fmt.Errorf("create zstd decoder: %w", err)
	}
	defer decoder.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, decoder); err != nil {
		return "", fmt.Errorf("decompress: %w", err)
	}
	return buf.String(), nil
}

// Find locates the snapshot for runID in either form.
func Find(runID, archiveDir string) (string, bool) {
	for _, compress := range []bool{true, false} {
		p := SnapshotPath(runID, archiveDir, compress)
		if _, err := os.Stat(p); err == nil {
			return p, true
		}
	}
	return "", false
}

// IsArchived returns true if a snapshot exists for the given run ID.
func IsArchived(runID, archiveDir string) bool {
	_, ok := Find(runID, archiveDir)
	return ok
}

// SnapshotPath returns the deterministic snapshot path for a run ID.
func SnapshotPath(runID, archiveDir string, compress bool) string {
	if compress {
		return filepath.Join(archiveDir, runID+compressedExt)
	}
	return filepath.Join(archiveDir, runID+plainExt)
}
