// Package contextbuilder assembles the five-tier context bundle the
// generator feeds to the vision model alongside each image: External,
// Document, Section, Page, and Local. Each tier is optional — a tier
// with nothing to say about an image is simply omitted from the merge
// rather than included empty.
package contextbuilder

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/bbiangul/altvision"
	"github.com/bbiangul/altvision/extractor"
)

// tier is one labeled context source; Build appends tiers in the merge
// order External, Document, Section, Page, Local.
type tier struct {
	label string
	text  string
}

// Bundle is the assembled context passed to the generator's prompt. Tiers
// holds the ordered, non-empty tiers that contributed; Merged is the
// final string built from them per the merge contract.
type Bundle struct {
	Tiers  []string
	Merged string
}

// Build assembles the context bundle for img from doc (a *extractor.DOCXDocument
// or *extractor.PPTXDocument) and an optional caller-supplied externalText —
// document-external context such as a figure caption pulled from a
// companion file, which always outranks anything derived from the
// container itself.
func Build(doc extractor.Document, img extractor.ImageRecord, externalText string, cfg altvision.Config) (Bundle, error) {
	var tiers []tier

	if externalText != "" {
		tiers = append(tiers, tier{"External", externalText})
	}

	switch d := doc.(type) {
	case *extractor.DOCXDocument:
		tiers = append(tiers, docxTiers(d, img, cfg)...)
	case *extractor.PPTXDocument:
		tiers = append(tiers, pptxTiers(d, img)...)
	default:
		return Bundle{}, fmt.Errorf("contextbuilder: unsupported document type %T", doc)
	}

	return merge(tiers, cfg.MaxContextChars), nil
}

func docxTiers(d *extractor.DOCXDocument, img extractor.ImageRecord, cfg altvision.Config) []tier {
	var tiers []tier

	tiers = append(tiers, tier{"Document", documentTierText(d.CoreProperties(), "DOCX", d.Path())})

	pos, ok := img.FormatPosition.(extractor.DOCXPosition)
	if !ok {
		return tiers
	}

	if heading, ok := d.NearestHeadingAtOrBefore(pos.ParagraphIndex); ok && heading != "" {
		tiers = append(tiers, tier{"Section", heading})
	}

	if local := d.LocalContext(pos.ParagraphIndex, cfg.ContextParagraphsBefore, cfg.ContextParagraphsAfter); local != "" {
		tiers = append(tiers, tier{"Local", local})
	}

	return tiers
}

// documentTierText formats core properties as "title='…' subject='…'
// author='…'", skipping empty fields, falling back to "<kind> document
// (filename)" when every field is empty.
func documentTierText(props extractor.CoreProperties, kind, path string) string {
	var parts []string
	if props.Title != "" {
		parts = append(parts, fmt.Sprintf("title='%s'", props.Title))
	}
	if props.Subject != "" {
		parts = append(parts, fmt.Sprintf("subject='%s'", props.Subject))
	}
	if props.Author != "" {
		parts = append(parts, fmt.Sprintf("author='%s'", props.Author))
	}
	if len(parts) == 0 {
		return fmt.Sprintf("%s document (%s)", kind, filepath.Base(path))
	}
	return strings.Join(parts, " ")
}

func pptxTiers(d *extractor.PPTXDocument, img extractor.ImageRecord) []tier {
	var tiers []tier

	tiers = append(tiers, tier{"Document", documentTierText(d.CoreProperties(), "PPTX", d.Path())})

	pos, ok := img.FormatPosition.(extractor.PPTXPosition)
	if !ok {
		return tiers
	}

	if title := d.SlideTitle(pos.SlideIndex); title != "" {
		tiers = append(tiers, tier{"Page", title})
	}

	if body := d.SlideBodyText(pos.SlideIndex); body != "" {
		tiers = append(tiers, tier{"Local", body})
	}

	return tiers
}

// merge concatenates tiers in order as "[Label: text]" joined by " | ",
// then truncates to maxChars, replacing the final 3 characters with "..."
// if the merged string was cut short — never splitting a UTF-8 rune in
// the process.
func merge(tiers []tier, maxChars int) Bundle {
	labels := make([]string, 0, len(tiers))
	parts := make([]string, 0, len(tiers))
	for _, t := range tiers {
		labels = append(labels, t.label)
		parts = append(parts, fmt.Sprintf("[%s: %s]", t.label, t.text))
	}

	merged := strings.Join(parts, " | ")
	merged = truncateUTF8(merged, maxChars)

	return Bundle{Tiers: labels, Merged: merged}
}

// truncateUTF8 returns s unchanged if it already fits within maxChars
// bytes; otherwise it cuts to the last full rune boundary at or before
// maxChars-3 bytes and appends "...".
func truncateUTF8(s string, maxChars int) string {
	if maxChars <= 0 || len(s) <= maxChars {
		return s
	}

	cut := maxChars - 3
	if cut < 0 {
		cut = 0
	}
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
