package generator

import (
	"fmt"
	"strings"

	"github.com/bbiangul/altvision/contextbuilder"
)

// buildPrompt constructs the instruction text sent alongside the image.
// It states the accessibility guidelines up front (length target,
// forbidden openers, present tense, factual language) and appends the
// merged context bundle, if any, as supporting — not authoritative —
// information about what the image depicts.
func buildPrompt(bundle contextbuilder.Bundle) string {
	var b strings.Builder

	b.WriteString("Write alt text for this image for a screen reader user.\n")
	b.WriteString("Requirements:\n")
	b.WriteString("- Between 50 and 200 characters when possible, never under 10 or over 250\n")
	b.WriteString("- Do not start with \"image of\", \"picture of\", \"graphic showing\", \"photo of\", or \"screenshot of\"\n")
	b.WriteString("- Describe what the image conveys, not that it is an image\n")
	b.WriteString("- Use present tense and factual, declarative language\n")
	b.WriteString("- If the image is purely decorative and carries no informational content, respond with exactly: decorative\n")

	if bundle.Merged != "" {
		fmt.Fprintf(&b, "\nSurrounding document context (for relevance only, do not describe the text itself):\n%s\n", bundle.Merged)
	}

	b.WriteString("\nRespond with only the alt text (or the single word \"decorative\"), nothing else.")

	return b.String()
}
