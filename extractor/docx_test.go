package extractor

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/bbiangul/altvision"
)

func testPNG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetRGBA(x, y, color.RGBA{R: 10, G: 20, B: 30, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encoding test PNG: %v", err)
	}
	return buf.Bytes()
}

func noisyTestPNG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	seed := uint32(1)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			seed = seed*1664525 + 1013904223
			img.SetRGBA(x, y, color.RGBA{
				R: uint8(seed), G: uint8(seed >> 8), B: uint8(seed >> 16), A: 255,
			})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encoding noisy test PNG: %v", err)
	}
	return buf.Bytes()
}

func addZipFile(t *testing.T, w *zip.Writer, name string, data []byte) {
	t.Helper()
	fw, err := w.Create(name)
	if err != nil {
		t.Fatalf("creating zip entry %s: %v", name, err)
	}
	if _, err := fw.Write(data); err != nil {
		t.Fatalf("writing zip entry %s: %v", name, err)
	}
}

type testRel struct {
	XMLName xml.Name `xml:"Relationship"`
	ID      string   `xml:"Id,attr"`
	Type    string   `xml:"Type,attr"`
	Target  string   `xml:"Target,attr"`
}

type testRels struct {
	XMLName xml.Name  `xml:"Relationships"`
	Xmlns   string    `xml:"xmlns,attr"`
	Rels    []testRel `xml:"Relationship"`
}

// buildTestDOCX writes a minimal .docx with a heading paragraph, a body
// paragraph, and a paragraph containing an inline drawing whose docPr
// carries the given title/descr.
func buildTestDOCX(t *testing.T, imgData []byte, title, descr string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "test.docx")

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("creating docx: %v", err)
	}
	w := zip.NewWriter(f)

	docXML := `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"
            xmlns:r="http://schemas.openxmlformats.org/officeDocument/2006/relationships"
            xmlns:wp="http://schemas.openxmlformats.org/drawingml/2006/wordprocessingDrawing"
            xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main"
            xmlns:pic="http://schemas.openxmlformats.org/drawingml/2006/picture">
  <w:body>
    <w:p>
      <w:pPr><w:pStyle w:val="Heading1"/></w:pPr>
      <w:r><w:t>Quarterly Results</w:t></w:r>
    </w:p>
    <w:p>
      <w:r><w:t>Revenue grew across every region this quarter.</w:t></w:r>
    </w:p>
    <w:p>
      <w:r>
        <w:drawing>
          <wp:inline>
            <wp:docPr id="1" name="Picture 1" title="` + title + `" descr="` + descr + `"/>
            <a:graphic>
              <a:graphicData>
                <pic:pic>
                  <pic:blipFill>
                    <a:blip r:embed="rId1"/>
                  </pic:blipFill>
                </pic:pic>
              </a:graphicData>
            </a:graphic>
          </wp:inline>
        </w:drawing>
      </w:r>
    </w:p>
    <w:p>
      <w:r><w:t>A caption follows the chart above.</w:t></w:r>
    </w:p>
  </w:body>
</w:document>`
	addZipFile(t, w, "word/document.xml", []byte(docXML))

	relsData, _ := xml.Marshal(testRels{
		Xmlns: "http://schemas.openxmlformats.org/package/2006/relationships",
		Rels: []testRel{{
			ID:     "rId1",
			Type:   "http://schemas.openxmlformats.org/officeDocument/2006/relationships/image",
			Target: "media/image1.png",
		}},
	})
	addZipFile(t, w, "word/_rels/document.xml.rels", relsData)
	addZipFile(t, w, "word/media/image1.png", imgData)
	addZipFile(t, w, "docProps/core.xml", []byte(`<?xml version="1.0"?><cp:coreProperties xmlns:cp="x" xmlns:dc="y"><title>Q3 Report</title></cp:coreProperties>`))

	if err := w.Close(); err != nil {
		t.Fatalf("closing zip: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("closing file: %v", err)
	}
	return path
}

func TestOpenDOCX_ExtractsImageWithLocatorAndAltText(t *testing.T) {
	imgData := testPNG(t, 200, 150)
	path := buildTestDOCX(t, imgData, "Revenue chart", "Bar chart of quarterly revenue by region")

	doc, err := OpenDOCX(path, 0)
	if err != nil {
		t.Fatalf("OpenDOCX: %v", err)
	}
	defer doc.Close()

	images := doc.Images()
	if len(images) != 1 {
		t.Fatalf("expected 1 image, got %d", len(images))
	}

	img := images[0]
	if img.Locator != "img-2-0" {
		t.Errorf("expected locator img-2-0, got %q", img.Locator)
	}
	if img.Format != "png" {
		t.Errorf("expected format png, got %q", img.Format)
	}
	if img.PixelWidth != 200 || img.PixelHeight != 150 {
		t.Errorf("expected 200x150, got %dx%d", img.PixelWidth, img.PixelHeight)
	}
	if img.ExistingAltText != "Revenue chart" {
		t.Errorf("expected existing alt text from title attr, got %q", img.ExistingAltText)
	}

	pos, ok := img.FormatPosition.(DOCXPosition)
	if !ok {
		t.Fatalf("expected DOCXPosition, got %T", img.FormatPosition)
	}
	if pos.ParagraphIndex != 2 || pos.AnchorType != "inline" {
		t.Errorf("unexpected position %+v", pos)
	}
}

func TestOpenDOCX_NearestHeadingAndLocalContext(t *testing.T) {
	imgData := testPNG(t, 10, 10)
	path := buildTestDOCX(t, imgData, "", "")

	doc, err := OpenDOCX(path, 0)
	if err != nil {
		t.Fatalf("OpenDOCX: %v", err)
	}
	defer doc.Close()

	heading, ok := doc.NearestHeadingAtOrBefore(2)
	if !ok || heading != "Quarterly Results" {
		t.Errorf("expected heading 'Quarterly Results', got %q (ok=%v)", heading, ok)
	}

	local := doc.LocalContext(2, 1, 1)
	if local == "" {
		t.Error("expected non-empty local context from surrounding paragraphs")
	}
}

func TestOpenDOCX_CoreProperties(t *testing.T) {
	path := buildTestDOCX(t, testPNG(t, 10, 10), "", "")

	doc, err := OpenDOCX(path, 0)
	if err != nil {
		t.Fatalf("OpenDOCX: %v", err)
	}
	defer doc.Close()

	if got := doc.CoreProperties().Title; got != "Q3 Report" {
		t.Errorf("expected core title 'Q3 Report', got %q", got)
	}
}

func TestOpenDOCX_RejectsOversizedDocument(t *testing.T) {
	// Noisy pixels defeat PNG's deflate compression, so the encoded file
	// itself (the bytes actually stored in the zip entry) exceeds 1MB.
	bigImage := noisyTestPNG(t, 700, 700)
	path := buildTestDOCX(t, bigImage, "", "")

	_, err := OpenDOCX(path, 0)
	if err != nil {
		t.Fatalf("uncapped open should succeed: %v", err)
	}

	_, err = OpenDOCX(path, 1)
	var inputErr *altvision.InputError
	if !errors.As(err, &inputErr) {
		t.Fatalf("expected *altvision.InputError, got %T: %v", err, err)
	}
	if !errors.Is(err, altvision.ErrDocumentTooLarge) {
		t.Errorf("expected ErrDocumentTooLarge, got %v", err)
	}
}

func TestOpenDOCX_MissingDocumentXML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.docx")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("creating file: %v", err)
	}
	w := zip.NewWriter(f)
	addZipFile(t, w, "word/other.xml", []byte("<x/>"))
	if err := w.Close(); err != nil {
		t.Fatalf("closing zip: %v", err)
	}
	f.Close()

	_, err = OpenDOCX(path, 0)
	var procErr *altvision.ProcessingError
	if !errors.As(err, &procErr) {
		t.Fatalf("expected *altvision.ProcessingError, got %T: %v", err, err)
	}
}
