package assembler

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/bbiangul/altvision"
)

// ApplyPPTX writes a copy of the PPTX at srcPath to dstPath with every
// locator present in altText written into that picture shape's cNvPr
// name, title and descr attributes, following the same slide-number-sort and
// picture-shape counting package extractor uses to assign locators.
func ApplyPPTX(srcPath, dstPath string, altText AltTextByLocator) error {
	r, err := zip.OpenReader(srcPath)
	if err != nil {
		return &altvision.InputError{Path: srcPath, Err: err}
	}
	defer r.Close()

	slideNums := []int{}
	for _, f := range r.File {
		if strings.HasPrefix(f.Name, "ppt/slides/slide") && strings.HasSuffix(f.Name, ".xml") {
			if n := pptxSlideNumber(f.Name); n > 0 {
				slideNums = append(slideNums, n)
			}
		}
	}
	if len(slideNums) == 0 {
		return &altvision.ProcessingError{Stage: "assemble", Err: fmt.Errorf("no slides found in PPTX")}
	}
	sort.Ints(slideNums)

	rewritten := make(map[string][]byte, len(slideNums))
	for slideIdx, num := range slideNums {
		name := fmt.Sprintf("ppt/slides/slide%d.xml", num)
		data, err := readEntry(r, name)
		if err != nil {
			return &altvision.ProcessingError{Stage: "assemble", Err: err}
		}
		rewritten[name] = rewriteSlideXML(data, slideIdx, altText)
	}

	return writeZip(srcPath, dstPath, rewritten)
}

func pptxSlideNumber(name string) int {
	name = strings.TrimPrefix(name, "ppt/slides/slide")
	name = strings.TrimSuffix(name, ".xml")
	n, err := strconv.Atoi(name)
	if err != nil {
		return 0
	}
	return n
}

type cNvPrEdit struct {
	start, end int64
	locator    string
}

// rewriteSlideXML re-walks one slide's XML counting only p:pic shapes,
// recording each picture's cNvPr tag byte range, and splices in new
// name/title/descr attributes for locators present in altText.
func rewriteSlideXML(slideXML []byte, slideIdx int, altText AltTextByLocator) []byte {
	decoder := xml.NewDecoder(bytes.NewReader(slideXML))

	var edits []cNvPrEdit
	pictureIndex := -1
	inPic := false

	for {
		offsetBefore := decoder.InputOffset()
		tok, err := decoder.Token()
		if err != nil {
			break
		}
		offsetAfter := decoder.InputOffset()

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "pic":
				inPic = true
				pictureIndex++
			case "cNvPr":
				if inPic {
					locator := fmt.Sprintf("slide%d_shape%d", slideIdx, pictureIndex)
					edits = append(edits, cNvPrEdit{start: offsetBefore, end: offsetAfter, locator: locator})
				}
			}
		case xml.EndElement:
			if t.Name.Local == "pic" {
				inPic = false
			}
		}
	}

	return applyCNvPrEdits(slideXML, edits, altText)
}

func applyCNvPrEdits(slideXML []byte, edits []cNvPrEdit, altText AltTextByLocator) []byte {
	out := make([]byte, 0, len(slideXML))
	var cursor int64

	for _, e := range edits {
		text, ok := altText[e.locator]
		if !ok {
			continue
		}

		out = append(out, slideXML[cursor:e.start]...)
		tag := slideXML[e.start:e.end]
		tag = setOrInsertAttr(tag, "name", text)
		tag = setOrInsertAttr(tag, "title", text)
		tag = setOrInsertAttr(tag, "descr", text)
		out = append(out, tag...)
		cursor = e.end
	}
	out = append(out, slideXML[cursor:]...)
	return out
}
