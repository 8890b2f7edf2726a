// Package store writes contract source to the contracts directory.
package store

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/suykerbuyk/flowsmith/internal/failure"
)

var extensions = map[string]string{
	"cairo":    ".cairo",
	"solidity": ".sol",
	"move":     ".move",
}

// Extension returns the source file extension for language, defaulting to .cairo.
func Extension(language string) string {
	if ext, ok := extensions[strings.ToLower(language)]; ok {
		return ext
	}
	return ".cairo"
}

// Store saves contract text under a fixed root directory.
type Store struct {
	root string
	ext  string
}

// New creates a store rooted at dir for the given contract language.
func New(dir, language string) *Store {
	return &Store{root: dir, ext: Extension(language)}
}

// Root returns the contracts directory.
func (s *Store) Root() string { return s.root }

// Path resolves logicalName (e.g. "lib" or "src/lib") to an absolute file path.
func (s *Store) Path(logicalName string) (string, error) {
	name := strings.TrimSpace(logicalName)
	if name == "" {
		return "", failure.IOf(nil, "empty contract name")
	}
	if filepath.IsAbs(name) {
		return "", failure.IOf(nil, "contract name %q must be relative", logicalName)
	}

	root, err := filepath.Abs(s.root)
	if err != nil {
		return "", failure.IOf(err, "resolve contracts dir")
	}
	p := filepath.Join(root, filepath.FromSlash(name)+s.ext)
	rel, err := filepath.Rel(root, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", failure.IOf(errors.New("path escapes contracts dir"), "contract name %q", logicalName)
	}
	return p, nil
}

// Save writes text to the file for logicalName, creating parent directories
// and replacing any previous content. It returns the absolute path written.
// Concurrent saves to one name are safe; the last rename wins.
func (s *Store) Save(text, logicalName string) (string, error) {
	p, err := s.Path(logicalName)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", failure.IOf(err, "create directory %s", filepath.Dir(p))
	}
	if err := writeAtomic(p, text); err != nil {
		return "", failure.IOf(err, "write %s", p)
	}
	return p, nil
}

// writeAtomic writes through a temp file unique to this call, then renames it
// over p. The temp file is removed on any failure.
func writeAtomic(p, text string) (err error) {
	f, err := os.CreateTemp(filepath.Dir(p), filepath.Base(p)+".*.tmp")
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer func() {
		if err != nil {
			os.Remove(tmp)
		}
	}()

	if _, err = f.WriteString(text); err != nil {
		f.Close()
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}
	if err = os.Chmod(tmp, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, p)
}
