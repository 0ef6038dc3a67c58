// Package assembler writes generated alt text back into a copy of the
// original container, touching only the title/descr attributes (and,
// for a PPTX picture shape, its name) that carry alt text — every other
// zip entry's contents are copied through unchanged, and each entry keeps
// its original header (name, compression method, timestamps). Entries
// are recompressed on the way through, so a round trip with no edits
// reproduces every entry's contents but not necessarily the input's
// exact bytes.
package assembler

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/bbiangul/altvision"
)

// AltTextByLocator maps an ImageRecord.Locator to the alt text that
// should be written back for it. A locator absent from the map leaves
// that image's existing title/descr untouched — an image the generator
// never produced a result for (skipped past the image cap, or failed
// outright) is left alone rather than blanked. A locator present but
// mapped to the empty string is written as an explicit empty title/descr,
// the standard way to mark an image decorative to a screen reader; a
// validation hard-failure's text is written too (the spec prefers
// imperfect text over none).
type AltTextByLocator map[string]string

// copyZipEntries copies every entry from r into w unchanged, except
// those named in rewritten, which are substituted with the already
// edited bytes supplied there.
func copyZipEntries(r *zip.ReadCloser, w *zip.Writer, rewritten map[string][]byte) error {
	for _, f := range r.File {
		header := f.FileHeader
		fw, err := w.CreateHeader(&header)
		if err != nil {
			return fmt.Errorf("creating zip entry %q: %w", f.Name, err)
		}

		if data, ok := rewritten[f.Name]; ok {
			if _, err := fw.Write(data); err != nil {
				return fmt.Errorf("writing rewritten entry %q: %w", f.Name, err)
			}
			continue
		}

		rc, err := f.Open()
		if err != nil {
			return fmt.Errorf("opening zip entry %q: %w", f.Name, err)
		}
		_, err = io.Copy(fw, rc)
		rc.Close()
		if err != nil {
			return fmt.Errorf("copying zip entry %q: %w", f.Name, err)
		}
	}
	return nil
}

// writeZip opens srcPath, replaces the named entries with rewritten's
// bytes, and writes the result to dstPath.
func writeZip(srcPath, dstPath string, rewritten map[string][]byte) error {
	r, err := zip.OpenReader(srcPath)
	if err != nil {
		return &altvision.InputError{Path: srcPath, Err: err}
	}
	defer r.Close()

	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	if err := copyZipEntries(r, w, rewritten); err != nil {
		return &altvision.ProcessingError{Stage: "assemble", Err: err}
	}
	if err := w.Close(); err != nil {
		return &altvision.ProcessingError{Stage: "assemble", Err: err}
	}

	if err := os.WriteFile(dstPath, buf.Bytes(), 0o644); err != nil {
		return &altvision.ProcessingError{Stage: "save", Err: err}
	}
	return nil
}
