package assembler

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"path/filepath"
	"strings"

	_ "golang.org/x/image/bmp"

	"github.com/bbiangul/altvision"
)

// ApplyDOCX writes a copy of the DOCX at srcPath to dstPath with every
// locator present in altText written into that image's docPr title and
// descr attributes. It re-walks word/document.xml with the identical
// paragraph/occurrence counting package extractor uses, so the Nth
// drawing found here is provably the same drawing that produced that
// locator during extraction — there is no independent re-derivation of
// the locator scheme to drift out of sync.
func ApplyDOCX(srcPath, dstPath string, altText AltTextByLocator) error {
	r, err := zip.OpenReader(srcPath)
	if err != nil {
		return &altvision.InputError{Path: srcPath, Err: err}
	}
	defer r.Close()

	docXML, err := readEntry(r, "word/document.xml")
	if err != nil {
		return &altvision.ProcessingError{Stage: "assemble", Err: err}
	}

	fileIndex := make(map[string]*zip.File, len(r.File))
	for _, f := range r.File {
		fileIndex[f.Name] = f
	}
	rels := parseDocxRelsForAssembly(fileIndex)

	rewritten := rewriteDocxDocument(docXML, rels, fileIndex, altText)

	return writeZip(srcPath, dstPath, map[string][]byte{
		"word/document.xml": rewritten,
	})
}

func readEntry(r *zip.ReadCloser, name string) ([]byte, error) {
	for _, f := range r.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		return io.ReadAll(rc)
	}
	return nil, fmt.Errorf("entry %q not found", name)
}

// docxRelationships mirrors a .rels part, duplicated from package
// extractor since its equivalent types are unexported.
type docxRelationships struct {
	XMLName xml.Name           `xml:"Relationships"`
	Rels    []docxRelationship `xml:"Relationship"`
}

type docxRelationship struct {
	ID     string `xml:"Id,attr"`
	Target string `xml:"Target,attr"`
}

func parseDocxRelsForAssembly(fileIndex map[string]*zip.File) map[string]string {
	relsFile := fileIndex["word/_rels/document.xml.rels"]
	if relsFile == nil {
		return nil
	}
	rc, err := relsFile.Open()
	if err != nil {
		return nil
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
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

// resolveDocxMediaPath resolves a relationship Target (relative to
// word/) into a path rooted at the zip's top level.
func resolveDocxMediaPath(target string) string {
	if strings.HasPrefix(target, "/") {
		return strings.TrimPrefix(target, "/")
	}
	return "word/" + target
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

// imageDimensions decodes just the header of an encoded image to
// recover its pixel dimensions, without decoding the full pixel buffer.
func imageDimensions(data []byte) (int, int) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0
	}
	return cfg.Width, cfg.Height
}

// blipResolves reports whether embedID resolves, through rels and
// fileIndex, to a readable, recognized, non-zero-dimension image —
// mirroring extractor's full resolve chain so that withinParagraphIndex
// only advances for blips that would have produced a real ImageRecord
// during extraction. Without this, a paragraph containing a linked or
// undecodable blip would desync the assembler's counter from the
// extractor's, and apply would write alt text onto the wrong picture.
func blipResolves(embedID string, rels map[string]string, fileIndex map[string]*zip.File) bool {
	if embedID == "" || rels == nil {
		return false
	}
	target, ok := rels[embedID]
	if !ok {
		return false
	}
	zipPath := resolveDocxMediaPath(target)
	zf, ok := fileIndex[zipPath]
	if !ok {
		return false
	}
	if zf.UncompressedSize64 > maxAssemblerZipEntrySize {
		return false
	}
	rc, err := zf.Open()
	if err != nil {
		return false
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, maxAssemblerZipEntrySize+1))
	if err != nil {
		return false
	}
	if formatFromExt(filepath.Ext(zipPath)) == "" {
		return false
	}
	w, h := imageDimensions(data)
	return w > 0 && h > 0
}

// maxAssemblerZipEntrySize mirrors extractor's maxZipEntrySize bound.
const maxAssemblerZipEntrySize = 100 << 20 // 100MB

type docPrEdit struct {
	start, end int64
	locator    string
}

// rewriteDocxDocument reproduces extractor's paragraph/occurrence
// counting exactly, recording the raw byte range of each drawing's
// wp:docPr tag, then splices in new title/descr attributes for every
// locator present in altText. A docPr receives a locator only once the
// blip that follows it resolves, so a linked or undecodable picture's
// docPr is never edited. withinParagraphIndex only advances for
// blips that resolve to a real embedded image, matching the extractor's
// resolve-then-count order so the locator numbering never drifts.
func rewriteDocxDocument(docXML []byte, rels map[string]string, fileIndex map[string]*zip.File, altText AltTextByLocator) []byte {
	decoder := xml.NewDecoder(bytes.NewReader(docXML))

	var edits []docPrEdit
	paragraphIndex := -1
	withinParagraphIndex := 0
	var pending docPrEdit
	havePending := false

	for {
		offsetBefore := decoder.InputOffset()
		tok, err := decoder.Token()
		if err != nil {
			break
		}
		offsetAfter := decoder.InputOffset()

		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}

		switch se.Name.Local {
		case "p":
			paragraphIndex++
			withinParagraphIndex = 0
		case "docPr":
			pending = docPrEdit{start: offsetBefore, end: offsetAfter}
			havePending = true
		case "blip":
			var embedID string
			for _, a := range se.Attr {
				if a.Name.Local == "embed" {
					embedID = a.Value
				}
			}
			if blipResolves(embedID, rels, fileIndex) {
				if havePending {
					pending.locator = fmt.Sprintf("img-%d-%d", paragraphIndex, withinParagraphIndex)
					edits = append(edits, pending)
				}
				withinParagraphIndex++
			}
			havePending = false
		}
	}

	return applyDocPrEdits(docXML, edits, altText)
}

func applyDocPrEdits(docXML []byte, edits []docPrEdit, altText AltTextByLocator) []byte {
	out := make([]byte, 0, len(docXML))
	var cursor int64

	for _, e := range edits {
		text, ok := altText[e.locator]
		if !ok {
			continue
		}

		out = append(out, docXML[cursor:e.start]...)
		tag := docXML[e.start:e.end]
		tag = setOrInsertAttr(tag, "title", text)
		tag = setOrInsertAttr(tag, "descr", text)
		out = append(out, tag...)
		cursor = e.end
	}
	out = append(out, docXML[cursor:]...)
	return out
}
