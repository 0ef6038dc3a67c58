// Package extractor walks a DOCX or PPTX container in document order and
// yields every embedded raster image as an ImageRecord, plus enough of
// the surrounding document structure (paragraph/slide text, heading
// styles, core properties) for package contextbuilder to assemble the
// five context tiers without re-parsing the container a third time.
//
// Both extractors stream the relevant XML parts token by token with
// encoding/xml.Decoder rather than unmarshaling the whole document tree
// at once — the same approach the reference DOCX/PPTX parsers in this
// codebase's lineage use, chosen to keep memory bounded on documents
// with hundreds of images.
package extractor

import (
	"bytes"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	_ "golang.org/x/image/bmp"
)

// ImageRecord is one embedded image located by an extractor, keyed by a
// locator that the matching assembler variant uses to find the same
// image again after a round trip through JSON.
type ImageRecord struct {
	Locator string

	// Bytes holds the raw, undecoded image payload. The extractors read
	// every image's payload when the document is opened, and the
	// document's Images slice keeps each one until a caller sets that
	// record's Bytes to nil; payloads are not loaded on demand.
	Bytes []byte

	Format       string // "jpeg", "png", "gif", "bmp" — lowercase, normalized
	PixelWidth   int
	PixelHeight  int
	FormatPosition any

	// ExistingAltText is whatever title/descr (or, for PPTX, shape name)
	// was already present. Never written back; informational only.
	ExistingAltText string

	// HostHint is a short label (slide title) usable as context tier ④.
	HostHint string
}

// DOCXPosition is the format_position payload for a DOCX image: the
// zero-based paragraph it was found in, and whether it was anchored
// inline within a run or floating in its own drawing element.
type DOCXPosition struct {
	ParagraphIndex int
	AnchorType     string // "inline" or "floating"
}

// PPTXPosition is the format_position payload for a PPTX image.
type PPTXPosition struct {
	SlideIndex, ShapeIndex                  int
	LeftEMU, TopEMU, WidthEMU, HeightEMU int64
}

// CoreProperties holds the subset of docProps/core.xml the context
// builder's Document tier needs.
type CoreProperties struct {
	Title   string
	Subject string
	Author  string
}

// Document is satisfied by *DOCXDocument and *PPTXDocument. It exposes
// just enough surface for the result accumulator and CLI to report
// counts without caring which format produced them; the context builder
// type-switches on the concrete type because the two formats' tiers are
// structurally different (see contextbuilder.Build).
type Document interface {
	Format() string
	Images() []ImageRecord
	Close() error
}

// formatFromExt returns the normalized format name for common image
// extensions, or "" if unrecognized.
func formatFromExt(ext string) string {
	switch strings.ToLower(ext) {
	case ".png":
		return "png"
	case ".jpg", ".jpeg":
		return "jpeg"
	case ".gif":
		return "gif"
	case ".bmp":
		return "bmp"
	default:
		return ""
	}
}

// imageSize decodes just the header of an encoded image to recover its
// pixel dimensions, without decoding the full pixel buffer.
func imageSize(data []byte) (int, int) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0
	}
	return cfg.Width, cfg.Height
}
