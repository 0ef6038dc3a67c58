// Package report formats a processing record as a human-readable
// markdown summary. The wire format itself is explicitly out of scope
// per the specification ("format not specified here") — this package
// exists to give that omission a concrete interface, in the same spirit
// as the teacher's eval.FormatReport: a thin, dependency-free string
// builder over an already-computed summary, not a templating engine.
package report

import (
	"fmt"
	"strings"

	"github.com/bbiangul/altvision/accumulator"
)

// Markdown renders rec as a short markdown report suitable for attaching
// to a pull request or build log alongside the annotated document.
func Markdown(rec accumulator.ProcessingRecord) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Alt Text Report: %s\n\n", rec.InputPath)
	fmt.Fprintf(&b, "Format: `%s`  \n", rec.Format)
	fmt.Fprintf(&b, "Output: `%s`  \n", rec.OutputPath)
	fmt.Fprintf(&b, "Duration: %dms\n\n", rec.DurationMs)

	fmt.Fprintf(&b, "| Total | Succeeded | Failed | Hard-fail rate |\n")
	fmt.Fprintf(&b, "|---|---|---|---|\n")
	fmt.Fprintf(&b, "| %d | %d | %d | %.1f%% |\n\n", rec.TotalImages, rec.Succeeded, rec.Failed, rec.HardFailRate*100)

	fmt.Fprintf(&b, "Tokens used: %d (est. cost $%.4f)\n\n", rec.TotalTokens, rec.EstimatedCost)

	if len(rec.Results) > 0 {
		fmt.Fprintf(&b, "## Generated alt text\n\n")
		fmt.Fprintf(&b, "| Locator | Alt text | Decorative | Passed |\n")
		fmt.Fprintf(&b, "|---|---|---|---|\n")
		for _, r := range rec.Results {
			altText := r.AltText
			if altText == "" {
				altText = "_(none)_"
			}
			fmt.Fprintf(&b, "| %s | %s | %v | %v |\n", r.Locator, escapeTableCell(altText), r.IsDecorative, r.ValidationPassed)
		}
		fmt.Fprintln(&b)
	}

	if len(rec.Failures) > 0 {
		fmt.Fprintf(&b, "## Failures\n\n")
		for _, f := range rec.Failures {
			fmt.Fprintf(&b, "- `%s` (%s): %s\n", f.Locator, f.ErrorKind, f.Message)
		}
		fmt.Fprintln(&b)
	}

	return b.String()
}

// escapeTableCell keeps a single alt-text value from breaking a markdown
// pipe table when it contains a literal "|" or newline.
func escapeTableCell(s string) string {
	s = strings.ReplaceAll(s, "|", "\\|")
	s = strings.ReplaceAll(s, "\n", " ")
	return s
}
