package report

import (
	"strings"
	"testing"

	"github.com/bbiangul/altvision/accumulator"
)

func TestMarkdown_IncludesSummaryTable(t *testing.T) {
	rec := accumulator.ProcessingRecord{
		InputPath:    "deck.pptx",
		OutputPath:   "deck.annotated.pptx",
		Format:       "pptx",
		TotalImages:  2,
		Succeeded:    1,
		Failed:       1,
		HardFailRate: 0,
		TotalTokens:  120,
		Results: []accumulator.ImageResult{
			{Locator: "slide0_shape0", AltText: "A chart", ValidationPassed: true},
		},
		Failures: []accumulator.FailureEntry{
			{Locator: "slide1_shape0", ErrorKind: "api", Message: "exhausted retries"},
		},
	}

	out := Markdown(rec)

	for _, want := range []string{"deck.pptx", "deck.annotated.pptx", "slide0_shape0", "A chart", "slide1_shape0", "exhausted retries"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected report to contain %q, got:\n%s", want, out)
		}
	}
}

func TestMarkdown_EscapesPipesInAltText(t *testing.T) {
	rec := accumulator.ProcessingRecord{
		Results: []accumulator.ImageResult{
			{Locator: "img-0-0", AltText: "Revenue | Growth chart"},
		},
	}

	out := Markdown(rec)

	if !strings.Contains(out, `Revenue \| Growth chart`) {
		t.Errorf("expected escaped pipe in alt text, got:\n%s", out)
	}
}

func TestMarkdown_OmitsSectionsWhenEmpty(t *testing.T) {
	rec := accumulator.ProcessingRecord{InputPath: "doc.docx"}

	out := Markdown(rec)

	if strings.Contains(out, "## Generated alt text") {
		t.Error("expected no alt-text section when Results is empty")
	}
	if strings.Contains(out, "## Failures") {
		t.Error("expected no failures section when Failures is empty")
	}
}
