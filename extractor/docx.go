package extractor

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/bbiangul/altvision"
)

// maxZipEntrySize bounds any single decompressed part read into memory,
// guarding against a crafted zip entry whose compressed size understates
// its decompressed size by orders of magnitude.
const maxZipEntrySize = 100 << 20 // 100MB

// DOCXDocument is an opened Word document: its images (already
// extracted, in document order) plus enough paragraph structure for the
// context builder's Section and Local tiers.
type DOCXDocument struct {
	reader     *zip.ReadCloser
	path       string
	paragraphs []docxParagraphInfo
	images     []ImageRecord
	coreProps  CoreProperties
}

type docxParagraphInfo struct {
	text      string
	isHeading bool
}

func (d *DOCXDocument) Format() string                 { return "docx" }
func (d *DOCXDocument) Images() []ImageRecord          { return d.images }
func (d *DOCXDocument) ParagraphCount() int            { return len(d.paragraphs) }
func (d *DOCXDocument) CoreProperties() CoreProperties { return d.coreProps }

// Path returns the filesystem path OpenDOCX was given, used by the
// Document context tier's all-empty fallback.
func (d *DOCXDocument) Path() string { return d.path }

func (d *DOCXDocument) Close() error {
	if d.reader == nil {
		return nil
	}
	return d.reader.Close()
}

// ParagraphText returns the plain text of paragraph i, or "" if out of range.
func (d *DOCXDocument) ParagraphText(i int) string {
	if i < 0 || i >= len(d.paragraphs) {
		return ""
	}
	return d.paragraphs[i].text
}

// NearestHeadingAtOrBefore scans from paragraphIndex downward to 0 and
// returns the text of the first heading-styled paragraph it finds.
func (d *DOCXDocument) NearestHeadingAtOrBefore(paragraphIndex int) (string, bool) {
	if paragraphIndex >= len(d.paragraphs) {
		paragraphIndex = len(d.paragraphs) - 1
	}
	for i := paragraphIndex; i >= 0; i-- {
		if d.paragraphs[i].isHeading {
			return d.paragraphs[i].text, true
		}
	}
	return "", false
}

// LocalContext joins up to before/after non-empty paragraphs strictly
// surrounding paragraphIndex.
func (d *DOCXDocument) LocalContext(paragraphIndex, before, after int) string {
	var parts []string

	start := paragraphIndex - before
	if start < 0 {
		start = 0
	}
	for i := start; i < paragraphIndex; i++ {
		if t := d.ParagraphText(i); t != "" {
			parts = append(parts, t)
		}
	}

	end := paragraphIndex + after
	if end >= len(d.paragraphs) {
		end = len(d.paragraphs) - 1
	}
	for i := paragraphIndex + 1; i <= end; i++ {
		if t := d.ParagraphText(i); t != "" {
			parts = append(parts, t)
		}
	}

	return strings.Join(parts, " ")
}

// OpenDOCX opens path, enforces maxFileSizeMB against the sum of every
// part's uncompressed size, and extracts every embedded image plus the
// paragraph structure the context builder needs.
func OpenDOCX(path string, maxFileSizeMB int) (*DOCXDocument, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, &altvision.InputError{Path: path, Err: fmt.Errorf("opening DOCX: %w", err)}
	}

	fileIndex := make(map[string]*zip.File, len(r.File))
	var totalUncompressed uint64
	for _, f := range r.File {
		fileIndex[f.Name] = f
		totalUncompressed += f.UncompressedSize64
	}
	if maxFileSizeMB > 0 && totalUncompressed > uint64(maxFileSizeMB)*(1<<20) {
		r.Close()
		return nil, &altvision.InputError{Path: path, Err: altvision.ErrDocumentTooLarge}
	}

	docFile := fileIndex["word/document.xml"]
	if docFile == nil {
		r.Close()
		return nil, &altvision.ProcessingError{Stage: "extract", Err: fmt.Errorf("word/document.xml not found in DOCX")}
	}

	data, err := readZipEntry(docFile)
	if err != nil {
		r.Close()
		return nil, &altvision.ProcessingError{Stage: "extract", Err: err}
	}

	rels := parseDocxRels(fileIndex)
	paragraphs, images := streamDocxDocument(data, rels, fileIndex)
	core := parseCoreProperties(fileIndex)

	return &DOCXDocument{
		reader:     r,
		path:       path,
		paragraphs: paragraphs,
		images:     images,
		coreProps:  core,
	}, nil
}

func readZipEntry(f *zip.File) ([]byte, error) {
	if f.UncompressedSize64 > maxZipEntrySize {
		return nil, fmt.Errorf("zip entry %q exceeds %d bytes", f.Name, maxZipEntrySize)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(io.LimitReader(rc, maxZipEntrySize+1))
}

// docxRelationships mirrors a .rels part.
type docxRelationships struct {
	XMLName xml.Name           `xml:"Relationships"`
	Rels    []docxRelationship `xml:"Relationship"`
}

type docxRelationship struct {
	ID     string `xml:"Id,attr"`
	Target string `xml:"Target,attr"`
	Type   string `xml:"Type,attr"`
}

func parseDocxRels(fileIndex map[string]*zip.File) map[string]string {
	relsFile := fileIndex["word/_rels/document.xml.rels"]
	if relsFile == nil {
		return nil
	}
	data, err := readZipEntry(relsFile)
	if err != nil {
		return nil
	}
	var rels docxRelationships
	if err := xml.Unmarshal(data, &rels); err != nil {
		return nil
	}
	result := make(map[string]string, len(rels.Rels))
	for _, rel := range rels.Rels {
		result[rel.ID] = rel.Target
	}
	return result
}

type coreProperties struct {
	XMLName xml.Name `xml:"coreProperties"`
	Title   string   `xml:"title"`
	Subject string   `xml:"subject"`
	Creator string   `xml:"creator"`
}

func parseCoreProperties(fileIndex map[string]*zip.File) CoreProperties {
	f := fileIndex["docProps/core.xml"]
	if f == nil {
		return CoreProperties{}
	}
	data, err := readZipEntry(f)
	if err != nil {
		return CoreProperties{}
	}
	var props coreProperties
	if err := xml.Unmarshal(data, &props); err != nil {
		return CoreProperties{}
	}
	return CoreProperties{Title: props.Title, Subject: props.Subject, Author: props.Creator}
}

// isHeadingStyle matches the styleId values a standard Word template
// uses for headings and the title; a custom template that renames these
// IDs will simply never match, which only degrades the Section tier to
// empty rather than breaking extraction.
func isHeadingStyle(styleID string) bool {
	switch styleID {
	case "Title", "Heading1", "Heading2", "Heading3", "Heading4", "Heading5", "Heading6":
		return true
	default:
		return false
	}
}

// streamDocxDocument walks word/document.xml once, producing both the
// paragraph text/heading index and the ordered image list in a single
// pass. It is grounded on the teacher parser's token-streaming approach
// but tracks paragraph index (for the img-<p>-<n> locator) and docPr
// title/descr instead of the teacher's section/heading chunk boundaries.
func streamDocxDocument(docXML []byte, rels map[string]string, fileIndex map[string]*zip.File) ([]docxParagraphInfo, []ImageRecord) {
	decoder := xml.NewDecoder(bytes.NewReader(docXML))

	var paragraphs []docxParagraphInfo
	var images []ImageRecord

	var curText strings.Builder
	curIsHeading := false
	curStyleSeen := false
	paragraphIndex := -1
	withinParagraphIndex := 0

	var pendingTitle, pendingDescr string
	anchorType := ""

	for {
		tok, err := decoder.Token()
		if err != nil {
			break
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "p":
				paragraphIndex++
				withinParagraphIndex = 0
				curText.Reset()
				curIsHeading = false
				curStyleSeen = false
			case "pStyle":
				if !curStyleSeen {
					for _, a := range t.Attr {
						if a.Name.Local == "val" && isHeadingStyle(a.Value) {
							curIsHeading = true
						}
					}
					curStyleSeen = true
				}
			case "t":
				var text string
				_ = decoder.DecodeElement(&text, &t)
				curText.WriteString(text)
			case "inline":
				anchorType = "inline"
			case "anchor":
				anchorType = "floating"
			case "docPr":
				pendingTitle, pendingDescr = "", ""
				for _, a := range t.Attr {
					switch a.Name.Local {
					case "title":
						pendingTitle = a.Value
					case "descr":
						pendingDescr = a.Value
					}
				}
			case "blip":
				var embedID string
				for _, a := range t.Attr {
					if a.Name.Local == "embed" {
						embedID = a.Value
					}
				}
				if embedID == "" {
					continue
				}
				target, ok := rels[embedID]
				if !ok {
					continue
				}
				zipPath := resolveDocxMediaPath(target)
				zf, ok := fileIndex[zipPath]
				if !ok {
					continue
				}
				imgData, err := readZipEntry(zf)
				if err != nil {
					continue
				}
				format := formatFromExt(filepath.Ext(zipPath))
				if format == "" {
					continue
				}
				w, h := imageSize(imgData)
				if w <= 0 || h <= 0 {
					slog.Debug("docx: image failed to decode, skipping", "path", zipPath, "rId", embedID)
					continue
				}

				existing := pendingTitle
				if existing == "" {
					existing = pendingDescr
				}

				images = append(images, ImageRecord{
					Locator:     fmt.Sprintf("img-%d-%d", paragraphIndex, withinParagraphIndex),
					Bytes:       imgData,
					Format:      format,
					PixelWidth:  w,
					PixelHeight: h,
					FormatPosition: DOCXPosition{
						ParagraphIndex: paragraphIndex,
						AnchorType:     anchorType,
					},
					ExistingAltText: existing,
				})
				withinParagraphIndex++
			}
		case xml.EndElement:
			if t.Name.Local == "p" && paragraphIndex >= 0 {
				for len(paragraphs) <= paragraphIndex {
					paragraphs = append(paragraphs, docxParagraphInfo{})
				}
				paragraphs[paragraphIndex] = docxParagraphInfo{
					text:      strings.TrimSpace(curText.String()),
					isHeading: curIsHeading,
				}
			}
		}
	}

	return paragraphs, images
}

// resolveDocxMediaPath resolves a relationship Target (relative to
// word/) into a path rooted at the zip's top level.
func resolveDocxMediaPath(target string) string {
	if strings.HasPrefix(target, "/") {
		return strings.TrimPrefix(target, "/")
	}
	return "word/" + target
}
