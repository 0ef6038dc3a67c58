package extractor

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/bbiangul/altvision"
)

// PPTXDocument is an opened PowerPoint deck: its picture-shape images in
// slide order plus enough slide text for the context builder's Page tier.
type PPTXDocument struct {
	reader *zip.ReadCloser
	path   string
	slides []pptxSlideInfo
	images []ImageRecord
	core   CoreProperties
}

type pptxSlideInfo struct {
	title    string // title/ctrTitle placeholder text, "" if none
	bodyText string // concatenated text of every non-picture shape
}

func (d *PPTXDocument) Format() string        { return "pptx" }
func (d *PPTXDocument) Images() []ImageRecord { return d.images }
func (d *PPTXDocument) SlideCount() int       { return len(d.slides) }
func (d *PPTXDocument) CoreProperties() CoreProperties { return d.core }

// Path returns the filesystem path OpenPPTX was given, used by the
// Document context tier's all-empty fallback.
func (d *PPTXDocument) Path() string { return d.path }

func (d *PPTXDocument) Close() error {
	if d.reader == nil {
		return nil
	}
	return d.reader.Close()
}

// SlideTitle returns the title placeholder text of slide i (0-based), or "".
func (d *PPTXDocument) SlideTitle(i int) string {
	if i < 0 || i >= len(d.slides) {
		return ""
	}
	return d.slides[i].title
}

// SlideBodyText returns every non-picture shape's text on slide i, joined.
func (d *PPTXDocument) SlideBodyText(i int) string {
	if i < 0 || i >= len(d.slides) {
		return ""
	}
	return d.slides[i].bodyText
}

// defaultPictureNamePattern matches the auto-generated shape names
// PowerPoint assigns ("Picture 3", "Picture 12") that carry no authored
// information and so should not count as existing alt text.
var defaultPictureNamePattern = regexp.MustCompile(`^Picture \d+$`)

// OpenPPTX opens path, enforces maxFileSizeMB, and extracts every
// picture shape plus the per-slide text the context builder needs.
func OpenPPTX(path string, maxFileSizeMB int) (*PPTXDocument, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, &altvision.InputError{Path: path, Err: fmt.Errorf("opening PPTX: %w", err)}
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

	slideNums := []int{}
	slideFiles := make(map[int]*zip.File)
	for _, f := range r.File {
		if strings.HasPrefix(f.Name, "ppt/slides/slide") && strings.HasSuffix(f.Name, ".xml") {
			if n := extractSlideNumber(f.Name); n > 0 {
				slideFiles[n] = f
				slideNums = append(slideNums, n)
			}
		}
	}
	if len(slideNums) == 0 {
		r.Close()
		return nil, &altvision.ProcessingError{Stage: "extract", Err: fmt.Errorf("no slides found in PPTX")}
	}
	sort.Ints(slideNums)

	var slides []pptxSlideInfo
	var images []ImageRecord

	for slideIdx, num := range slideNums {
		f := slideFiles[num]
		data, err := readZipEntry(f)
		if err != nil {
			continue
		}

		relsPath := fmt.Sprintf("ppt/slides/_rels/slide%d.xml.rels", num)
		rels := parsePPTXRels(fileIndex, relsPath)

		info, slideImages := streamPPTXSlide(data, slideIdx, rels, fileIndex)
		for i := range slideImages {
			slideImages[i].HostHint = info.title
		}
		slides = append(slides, info)
		images = append(images, slideImages...)
	}

	core := parseCoreProperties(fileIndex)

	return &PPTXDocument{reader: r, path: path, slides: slides, images: images, core: core}, nil
}

func parsePPTXRels(fileIndex map[string]*zip.File, relsPath string) map[string]string {
	relsFile := fileIndex[relsPath]
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

func extractSlideNumber(name string) int {
	name = strings.TrimPrefix(name, "ppt/slides/slide")
	name = strings.TrimSuffix(name, ".xml")
	n, err := strconv.Atoi(name)
	if err != nil {
		return 0
	}
	return n
}

// streamPPTXSlide walks one slide's XML once, collecting placeholder
// text (for the title/body split the context builder's Page tier needs)
// and every p:pic picture shape, in shape order. Picture shapes are
// indexed separately from the full shape tree — ShapeIndex counts only
// picture shapes, matching the slide<N>_shape<M> locator scheme.
func streamPPTXSlide(slideXML []byte, slideIdx int, rels map[string]string, fileIndex map[string]*zip.File) (pptxSlideInfo, []ImageRecord) {
	decoder := xml.NewDecoder(bytes.NewReader(slideXML))

	var info pptxSlideInfo
	var bodyParts []string
	var images []ImageRecord

	pictureIndex := -1
	inPic := false
	isTitlePlaceholderShape := false

	var curName, curTitleAttr, curDescr string
	var curText strings.Builder
	var offX, offY, extCX, extCY int64

	for {
		tok, err := decoder.Token()
		if err != nil {
			break
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "pic":
				inPic = true
				pictureIndex++
				curName, curTitleAttr, curDescr = "", "", ""
				offX, offY, extCX, extCY = 0, 0, 0, 0
			case "sp":
				isTitlePlaceholderShape = false
				curText.Reset()
			case "cNvPr":
				if inPic {
					for _, a := range t.Attr {
						switch a.Name.Local {
						case "name":
							curName = a.Value
						case "title":
							curTitleAttr = a.Value
						case "descr":
							curDescr = a.Value
						}
					}
				}
			case "ph":
				for _, a := range t.Attr {
					if a.Name.Local == "type" && (a.Value == "title" || a.Value == "ctrTitle") {
						isTitlePlaceholderShape = true
					}
				}
			case "off":
				if inPic {
					offX, offY = parseEMUAttrs(t.Attr)
				}
			case "ext":
				if inPic {
					extCX, extCY = parseEMUAttrs(t.Attr)
				}
			case "t":
				var text string
				_ = decoder.DecodeElement(&text, &t)
				if inPic {
					break
				}
				if isTitlePlaceholderShape {
					info.title = strings.TrimSpace(text)
				} else {
					curText.WriteString(text)
				}
			case "blip":
				if !inPic {
					continue
				}
				var embedID string
				for _, a := range t.Attr {
					if a.Name.Local == "embed" {
						embedID = a.Value
					}
				}
				if embedID == "" || rels == nil {
					continue
				}
				target, ok := rels[embedID]
				if !ok {
					continue
				}
				mediaPath := filepath.ToSlash(filepath.Clean("ppt/slides/" + target))
				zf, ok := fileIndex[mediaPath]
				if !ok {
					continue
				}
				imgData, err := readZipEntry(zf)
				if err != nil {
					continue
				}
				format := formatFromExt(filepath.Ext(mediaPath))
				if format == "" {
					continue
				}
				w, h := imageSize(imgData)
				if w <= 0 || h <= 0 {
					slog.Debug("pptx: image failed to decode, skipping", "path", mediaPath, "rId", embedID)
					continue
				}

				existing := curName
				if existing == "" || defaultPictureNamePattern.MatchString(existing) {
					existing = curTitleAttr
				}
				if existing == "" {
					existing = curDescr
				}

				images = append(images, ImageRecord{
					Locator:     fmt.Sprintf("slide%d_shape%d", slideIdx, pictureIndex),
					Bytes:       imgData,
					Format:      format,
					PixelWidth:  w,
					PixelHeight: h,
					FormatPosition: PPTXPosition{
						SlideIndex: slideIdx,
						ShapeIndex: pictureIndex,
						LeftEMU:    offX,
						TopEMU:     offY,
						WidthEMU:   extCX,
						HeightEMU:  extCY,
					},
					ExistingAltText: existing,
				})
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "pic":
				// p:spPr (and its a:xfrm) follows p:blipFill, so the
				// geometry is only known once the picture shape closes.
				if n := len(images); n > 0 {
					if pos, ok := images[n-1].FormatPosition.(PPTXPosition); ok && pos.ShapeIndex == pictureIndex {
						pos.LeftEMU, pos.TopEMU, pos.WidthEMU, pos.HeightEMU = offX, offY, extCX, extCY
						images[n-1].FormatPosition = pos
					}
				}
				inPic = false
			case "sp":
				if !isTitlePlaceholderShape {
					if txt := strings.TrimSpace(curText.String()); txt != "" {
						bodyParts = append(bodyParts, txt)
					}
				}
				isTitlePlaceholderShape = false
			}
		}
	}

	info.bodyText = strings.Join(bodyParts, " ")
	return info, images
}

func parseEMUAttrs(attrs []xml.Attr) (x, y int64) {
	for _, a := range attrs {
		switch a.Name.Local {
		case "x", "cx":
			if v, err := strconv.ParseInt(a.Value, 10, 64); err == nil {
				x = v
			}
		case "y", "cy":
			if v, err := strconv.ParseInt(a.Value, 10, 64); err == nil {
				y = v
			}
		}
	}
	return x, y
}
