// Package extract isolates the structured part of a model response.
//
// Models wrap answers in prose and markdown fences. JSON applies three rules in
// strict order: a ```json fenced block, then the first-{ to last-} span, then a
// best-effort strip. A fenced block always wins over bracket matching because
// prose around a fenced answer routinely contains stray braces.
package extract

import (
	"regexp"
	"strings"
)

var (
	jsonFence = regexp.MustCompile("(?is)```json[ \\t]*\\r?\\n(.*?)```")
	anyFence  = regexp.MustCompile("(?s)```[A-Za-z0-9_+.-]*[ \\t]*\\r?\\n(.*?)```")
)

// JSON returns the candidate JSON payload of text.
// ok is false only when text is empty; the payload itself may still fail to parse.
func JSON(text string) (payload string, ok bool) {
	if text == "" {
		return "", false
	}
	if p, found := fenced(text); found {
		return p, true
	}
	if p, found := bracketSpan(text); found {
		return p, true
	}
	return strip(text), true
}

// Code returns the candidate source-code payload of text: the interior of the
// first fenced block of any language, or the whole trimmed text.
func Code(text string) (payload string, ok bool) {
	if text == "" {
		return "", false
	}
	if m := anyFence.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1]), true
	}
	return strings.TrimSpace(text), true
}

// Fence wraps payload in a ```json block.
func Fence(payload string) string {
	return "```json\n" + payload + "\n```"
}

func fenced(text string) (string, bool) {
	m := jsonFence.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return strings.TrimSpace(m[1]), true
}

func bracketSpan(text string) (string, bool) {
	open := strings.IndexByte(text, '{')
	closing := strings.LastIndexByte(text, '}')
	if open < 0 || closing < open {
		return "", false
	}
	return strings.TrimSpace(text[open : closing+1]), true
}

// strip is the last resort: everything before the first '{' goes, then every
// trailing character that is not '}'.
func strip(text string) string {
	open := strings.IndexByte(text, '{')
	if open < 0 {
		return ""
	}
	rest := text[open:]
	closing := strings.LastIndexByte(rest, '}')
	if closing < 0 {
		return ""
	}
	return rest[:closing+1]
}
