package render

import (
	"fmt"

	"github.com/charmbracelet/glamour"

	"github.com/suykerbuyk/flowsmith/internal/validate"
)

// Terminal renders a report for a terminal. style is a glamour standard style
// name ("auto", "dark", "light", "notty"); width is the wrap column.
func Terminal(r *validate.AuditReport, language, style string, width int) (string, error) {
	if style == "" {
		style = "auto"
	}
	if width <= 0 {
		width = 80
	}
	renderer, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(style),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return "", fmt.Errorf("create renderer: %w", err)
	}
	out, err := renderer.Render(Markdown(r, language))
	if err != nil {
		return "", fmt.Errorf("render report: %w", err)
	}
	return out, nil
}
