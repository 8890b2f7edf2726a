package render

import (
	"bytes"
	"fmt"
	"html"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/suykerbuyk/flowsmith/internal/validate"
)

var md = goldmark.New(goldmark.WithExtensions(extension.GFM))

const htmlPage = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Starknet Contract Audit Report: %s</title>
<style>
body { font-family: Arial, sans-serif; max-width: 800px; margin: auto; }
body.%s h3 { border-left: 4px solid %s; padding-left: 8px; }
pre { background-color: %s; padding: 10px; overflow-x: auto; }
</style>
</head>
<body class="%s">
%s</body>
</html>
`

// HTML renders a report as a standalone HTML page. Reports scoring below
// LowScore get the "low-score" body class and a red accent.
func HTML(r *validate.AuditReport, language string) (string, error) {
	var body bytes.Buffer
	if err := md.Convert([]byte(Markdown(r, language)), &body); err != nil {
		return "", fmt.Errorf("render report html: %w", err)
	}

	class, accent, background := "ok-score", "#2e7d32", "#eeffee"
	if r.SecurityScore < LowScore {
		class, accent, background = "low-score", "#c62828", "#ffeeee"
	}
	return fmt.Sprintf(htmlPage, html.EscapeString(r.ContractName), class, accent, background, class, body.String()), nil
}
