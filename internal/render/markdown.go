// Package render formats validated audit reports for people: markdown for
// files and terminals, HTML for the HTTP API.
package render

import (
	"fmt"
	"strings"

	"github.com/suykerbuyk/flowsmith/internal/validate"
)

// LowScore is the security score below which a report is flagged.
const LowScore = 50

// Markdown renders a report as a markdown document.
func Markdown(r *validate.AuditReport, language string) string {
	var b strings.Builder

	b.WriteString("# Starknet Smart Contract Audit\n\n")
	b.WriteString(fmt.Sprintf("- **Contract:** %s\n", r.ContractName))
	if r.AuditDate != "" {
		b.WriteString(fmt.Sprintf("- **Audit date:** %s\n", r.AuditDate))
	}
	b.WriteString(fmt.Sprintf("- **Security score:** %d/100", r.SecurityScore))
	if r.SecurityScore < LowScore {
		b.WriteString(" (low)")
	}
	b.WriteString("\n\n")

	b.WriteString("## Vulnerabilities\n\n")
	if len(r.Vulnerabilities) == 0 {
		b.WriteString("None reported.\n\n")
	}
	for _, v := range r.Vulnerabilities {
		b.WriteString(fmt.Sprintf("### %s - %s\n\n", v.Category, v.Severity))
		if v.Description != "" {
			b.WriteString(v.Description)
			b.WriteString("\n\n")
		}
		if v.RecommendedFix != "" {
			b.WriteString(codeBlock(v.RecommendedFix, ""))
		}
	}

	if len(r.RecommendedFixes) > 0 {
		b.WriteString("## Recommended Fixes\n\n")
		for _, fix := range r.RecommendedFixes {
			b.WriteString(fmt.Sprintf("- %s\n", fix))
		}
		b.WriteString("\n")
	}

	b.WriteString("## Original Contract\n\n")
	b.WriteString(codeBlock(r.OriginalContractCode, language))
	b.WriteString("## Corrected Contract\n\n")
	b.WriteString(codeBlock(r.CorrectedContractCode, language))

	return b.String()
}

// codeBlock fences code with enough backticks that nothing inside can close it.
func codeBlock(code, language string) string {
	fence := strings.Repeat("`", max(3, longestRun(code, '`')+1))
	code = strings.TrimRight(code, "\n")
	return fence + language + "\n" + code + "\n" + fence + "\n\n"
}

func longestRun(s string, c byte) int {
	best, cur := 0, 0
	for i := 0; i < len(s); i++ {
		if s[i] == c {
			cur++
			best = max(best, cur)
		} else {
			cur = 0
		}
	}
	return best
}
