package pipeline

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"os"
	"path/filepath"
	"testing"

	"github.com/bbiangul/altvision"
	"github.com/bbiangul/altvision/extractor"
	"github.com/bbiangul/altvision/generator"
	"github.com/bbiangul/altvision/llm"
)

// mockVisionProvider always returns the same caption, mirroring the
// teacher's image_caption_test.go mock shape.
type mockVisionProvider struct {
	caption  string
	callsMu  int
	response *llm.ChatResponse
}

func (m *mockVisionProvider) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	return &llm.ChatResponse{Content: m.caption}, nil
}

func (m *mockVisionProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, nil
}

func (m *mockVisionProvider) ChatWithImages(ctx context.Context, req llm.VisionChatRequest) (*llm.ChatResponse, error) {
	m.callsMu++
	return &llm.ChatResponse{Content: m.caption, TotalTokens: 17}, nil
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

func buildTestDOCX(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.docx")
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
    <w:p><w:pPr><w:pStyle w:val="Heading1"/></w:pPr><w:r><w:t>Quarterly Results</w:t></w:r></w:p>
    <w:p><w:r><w:t>Revenue grew steadily this quarter.</w:t></w:r></w:p>
    <w:p>
      <w:r>
        <w:drawing>
          <wp:inline>
            <wp:docPr id="1" name="Picture 1"/>
            <a:graphic>
              <a:graphicData>
                <pic:pic>
                  <pic:blipFill><a:blip r:embed="rId1"/></pic:blipFill>
                </pic:pic>
              </a:graphicData>
            </a:graphic>
          </wp:inline>
        </w:drawing>
      </w:r>
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
	addZipFile(t, w, "word/media/image1.png", testPNG(t))
	addZipFile(t, w, "docProps/core.xml", []byte(`<?xml version="1.0"?><cp:coreProperties xmlns:cp="http://schemas.openxmlformats.org/package/2006/metadata/core-properties" xmlns:dc="http://purl.org/dc/elements/1.1/"><dc:title>Q3 Report</dc:title></cp:coreProperties>`))

	if err := w.Close(); err != nil {
		t.Fatalf("closing zip: %v", err)
	}
	f.Close()
	return path
}

// testPNG returns a minimal valid 1x1 PNG so image.DecodeConfig succeeds.
func testPNG(t *testing.T) []byte {
	t.Helper()
	// A tiny pre-encoded 1x1 transparent PNG.
	return []byte{
		0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00, 0x00, 0x0d,
		0x49, 0x48, 0x44, 0x52, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
		0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0x15, 0xc4, 0x89, 0x00, 0x00, 0x00,
		0x0a, 0x49, 0x44, 0x41, 0x54, 0x78, 0x9c, 0x63, 0x00, 0x01, 0x00, 0x00,
		0x05, 0x00, 0x01, 0x0d, 0x0a, 0x2d, 0xb4, 0x00, 0x00, 0x00, 0x00, 0x49,
		0x45, 0x4e, 0x44, 0xae, 0x42, 0x60, 0x82,
	}
}

func testConfig() altvision.Config {
	cfg := altvision.DefaultConfig()
	cfg.MaxRetries = 0
	cfg.InitialDelaySeconds = 0
	cfg.MaxDelaySeconds = 0
	return cfg
}

func newTestPipeline(caption string) *Pipeline {
	provider := &mockVisionProvider{caption: caption}
	cfg := testConfig()
	gen, err := generator.New(provider, cfg)
	if err != nil {
		panic(err)
	}
	return &Pipeline{cfg: cfg, gen: gen}
}

func TestAnnotate_DOCXWritesGeneratedAltText(t *testing.T) {
	src := buildTestDOCX(t)
	dst := filepath.Join(t.TempDir(), "out.docx")

	p := newTestPipeline("A bar chart showing rising quarterly revenue.")
	rec, err := p.Annotate(context.Background(), src, dst, "")
	if err != nil {
		t.Fatalf("Annotate: %v", err)
	}

	if rec.TotalImages != 1 || rec.Succeeded != 1 {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if rec.Format != "docx" {
		t.Errorf("Format: got %q, want docx", rec.Format)
	}

	doc, err := extractor.OpenDOCX(dst, p.cfg.MaxFileSizeMB)
	if err != nil {
		t.Fatalf("reopening annotated docx: %v", err)
	}
	defer doc.Close()

	images := doc.Images()
	if len(images) != 1 {
		t.Fatalf("expected 1 image in annotated output, got %d", len(images))
	}
	if images[0].ExistingAltText != "A bar chart showing rising quarterly revenue." {
		t.Errorf("ExistingAltText: got %q", images[0].ExistingAltText)
	}
}

func TestAnnotate_UnsupportedFormatReturnsInputError(t *testing.T) {
	p := newTestPipeline("irrelevant")

	_, err := p.Annotate(context.Background(), "notes.txt", "notes.out.txt", "")
	var inputErr *altvision.InputError
	if err == nil {
		t.Fatal("expected an error for unsupported format")
	}
	if ie, ok := err.(*altvision.InputError); !ok {
		t.Fatalf("expected *altvision.InputError, got %T", err)
	} else {
		inputErr = ie
	}
	if inputErr.Err != altvision.ErrUnsupportedFormat {
		t.Errorf("expected ErrUnsupportedFormat, got %v", inputErr.Err)
	}
}

func TestAnnotate_DecorativeImageWritesEmptyAltText(t *testing.T) {
	src := buildTestDOCX(t)
	dst := filepath.Join(t.TempDir(), "out.docx")

	p := newTestPipeline("decorative")
	rec, err := p.Annotate(context.Background(), src, dst, "")
	if err != nil {
		t.Fatalf("Annotate: %v", err)
	}
	if len(rec.Results) != 1 || !rec.Results[0].IsDecorative {
		t.Fatalf("expected a decorative result, got %+v", rec.Results)
	}

	doc, err := extractor.OpenDOCX(dst, p.cfg.MaxFileSizeMB)
	if err != nil {
		t.Fatalf("reopening annotated docx: %v", err)
	}
	defer doc.Close()
	if doc.Images()[0].ExistingAltText != "" {
		t.Errorf("expected empty alt text for decorative image, got %q", doc.Images()[0].ExistingAltText)
	}
}
