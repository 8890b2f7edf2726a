// Package flow turns a visual flow document (nodes, edges and an ordered
// summary) into the flat requirements text sent to contract generation.
package flow

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Step is one line of the flow summary.
type Step struct {
	ID      string `json:"id,omitempty" yaml:"id,omitempty"`
	Content string `json:"content" yaml:"content"`
}

// Document is a flow as exported by the playground: free-form nodes and
// edges plus the ordered summary the user confirmed.
type Document struct {
	Nodes   []any  `json:"nodes,omitempty" yaml:"nodes,omitempty"`
	Edges   []any  `json:"edges,omitempty" yaml:"edges,omitempty"`
	Summary []Step `json:"flowSummary,omitempty" yaml:"flowSummary,omitempty"`
}

// Empty reports whether the document carries nothing to generate from.
func (d Document) Empty() bool {
	return len(d.Nodes) == 0 && len(d.Edges) == 0 && len(d.Summary) == 0
}

// Parse decodes a flow document from YAML or JSON.
func Parse(data []byte) (Document, error) {
	var d Document
	if err := yaml.Unmarshal(data, &d); err != nil {
		return Document{}, fmt.Errorf("parse flow: %w", err)
	}
	d.Nodes = normalize(d.Nodes)
	d.Edges = normalize(d.Edges)
	return d, nil
}

// Load reads and parses a flow document file.
func Load(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("read flow: %w", err)
	}
	return Parse(data)
}

// flat fixes key order to nodes, edges, summary.
type flat struct {
	Nodes   json.RawMessage `json:"nodes,omitempty"`
	Edges   json.RawMessage `json:"edges,omitempty"`
	Summary json.RawMessage `json:"summary,omitempty"`
}

// Flatten serialises the document as JSON, drops every brace and quote and
// spaces out colons and commas. Object keys inside nodes and edges come out
// sorted.
func (d Document) Flatten() (string, error) {
	var f flat
	var err error
	if f.Nodes, err = marshal(d.Nodes); err != nil {
		return "", err
	}
	if f.Edges, err = marshal(d.Edges); err != nil {
		return "", err
	}
	if f.Summary, err = marshal(d.Summary); err != nil {
		return "", err
	}

	raw, err := marshal(f)
	if err != nil {
		return "", err
	}

	s := strings.NewReplacer("{", "", "}", "", `"`, "").Replace(string(raw))
	s = strings.ReplaceAll(s, ":", ": ")
	s = strings.ReplaceAll(s, ",", ", ")
	return s, nil
}

func marshal(v any) (json.RawMessage, error) {
	switch x := v.(type) {
	case []any:
		if x == nil {
			return nil, nil
		}
	case []Step:
		if x == nil {
			return nil, nil
		}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("flatten flow: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// normalize converts YAML's map[any]any (non-string keys) into JSON-safe values.
func normalize(items []any) []any {
	if items == nil {
		return nil
	}
	out := make([]any, len(items))
	for i, v := range items {
		out[i] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(x))
		for k, val := range x {
			m[k] = normalizeValue(val)
		}
		return m
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, val := range x {
			m[fmt.Sprint(k)] = normalizeValue(val)
		}
		return m
	case []any:
		return normalize(x)
	default:
		return v
	}
}
