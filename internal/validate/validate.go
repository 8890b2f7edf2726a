// Package validate turns an extracted payload into a typed result or a
// classified failure. Nothing is normalised, coerced or defaulted.
package validate

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/suykerbuyk/flowsmith/internal/failure"
)

// AuditFields are checked in this order; the first missing one is reported.
var AuditFields = []string{
	"contract_name",
	"security_score",
	"original_contract_code",
	"corrected_contract_code",
	"vulnerabilities",
}

// SourceField names the generation payload in MissingField errors.
const SourceField = "sourceCode"

// Fields parses payload as a JSON object and checks each required field for
// presence and truthiness. Missing, null, "", numeric zero and false all count
// as missing; arrays and objects are present even when empty. A legitimate
// zero (e.g. security_score 0) is therefore rejected.
func Fields(payload string, required []string) (map[string]any, error) {
	obj, err := parseObject(payload)
	if err != nil {
		return nil, err
	}
	for _, field := range required {
		if !truthy(obj[field]) {
			return nil, failure.Missing(field, payload)
		}
	}
	return obj, nil
}

// Audit validates an audit payload against AuditFields and decodes it.
func Audit(payload string) (*AuditReport, error) {
	if _, err := Fields(payload, AuditFields); err != nil {
		return nil, err
	}
	var report AuditReport
	if err := json.Unmarshal([]byte(payload), &report); err != nil {
		return nil, failure.Malformed(payload, fmt.Errorf("decode audit report: %w", err))
	}
	return &report, nil
}

// Source validates a generation payload: the only requirement is non-blank source.
func Source(payload string) (*GeneratedContract, error) {
	if strings.TrimSpace(payload) == "" {
		return nil, failure.Missing(SourceField, payload)
	}
	return &GeneratedContract{SourceCode: payload}, nil
}

func parseObject(payload string) (map[string]any, error) {
	dec := json.NewDecoder(strings.NewReader(payload))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, failure.Malformed(payload, fmt.Errorf("parse JSON: %w", err))
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, failure.Malformed(payload, errors.New("parse JSON: unexpected data after top-level value"))
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, failure.Malformed(payload, fmt.Errorf("parse JSON: top-level value is %s, want object", kindName(v)))
	}
	return obj, nil
}

func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case string:
		return x != ""
	case bool:
		return x
	case json.Number:
		f, err := strconv.ParseFloat(x.String(), 64)
		return err != nil || f != 0
	default:
		return true
	}
}

func kindName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case []any:
		return "array"
	case string:
		return "string"
	case bool:
		return "boolean"
	case json.Number:
		return "number"
	}
	return fmt.Sprintf("%T", v)
}

// Pretty re-indents a JSON payload for logs and reports; invalid JSON is returned unchanged.
func Pretty(payload string) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, []byte(payload), "", "  "); err != nil {
		return payload
	}
	return buf.String()
}
