// Package pipeline wires together extractor, contextbuilder, generator,
// assembler and accumulator into the end-to-end operations the CLI
// exposes. It plays the same role cmd/server's handler glue plays for
// the teacher's Engine: everything here is orchestration, nothing here
// is a component in its own right.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/bbiangul/altvision"
	"github.com/bbiangul/altvision/accumulator"
	"github.com/bbiangul/altvision/assembler"
	"github.com/bbiangul/altvision/contextbuilder"
	"github.com/bbiangul/altvision/extractor"
	"github.com/bbiangul/altvision/generator"
	"github.com/bbiangul/altvision/llm"
)

// Pipeline holds the long-lived dependencies a run needs: the configured
// vision provider and the generator built on top of it. Built once per
// process; Annotate/Extract are safe to call repeatedly for different
// documents.
type Pipeline struct {
	cfg altvision.Config
	gen *generator.Generator
}

// New builds a Pipeline from cfg, constructing the vision provider named
// by cfg.Vision.Provider. cfg is normalized (window clamping) before use.
func New(cfg altvision.Config) (*Pipeline, error) {
	cfg.Normalize()

	provider, err := llm.NewProvider(cfg.Vision)
	if err != nil {
		return nil, fmt.Errorf("altvision: creating vision provider: %w", err)
	}

	gen, err := generator.New(provider, cfg)
	if err != nil {
		return nil, err
	}

	return &Pipeline{cfg: cfg, gen: gen}, nil
}

// formatOf returns the lowercase extension-derived format tag, or "" if
// unsupported.
func formatOf(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".docx":
		return "docx"
	case ".pptx":
		return "pptx"
	default:
		return ""
	}
}

// Extract opens path and returns its parsed form, ready for
// contextbuilder.Build and accumulator bookkeeping. Callers must Close it.
func (p *Pipeline) Extract(path string) (extractor.Document, error) {
	switch formatOf(path) {
	case "docx":
		return extractor.OpenDOCX(path, p.cfg.MaxFileSizeMB)
	case "pptx":
		return extractor.OpenPPTX(path, p.cfg.MaxFileSizeMB)
	default:
		return nil, &altvision.InputError{Path: path, Err: altvision.ErrUnsupportedFormat}
	}
}

// Annotate runs extract -> context -> generate -> assemble for one
// document, writing the annotated copy to outputPath. externalContext is
// the optional tier ① text (e.g. a companion .txt/.md file's contents),
// already loaded and BOM-stripped by the caller; pass "" if none.
func (p *Pipeline) Annotate(ctx context.Context, inputPath, outputPath, externalContext string) (accumulator.ProcessingRecord, error) {
	start := time.Now()
	format := formatOf(inputPath)
	if format == "" {
		return accumulator.ProcessingRecord{}, &altvision.InputError{Path: inputPath, Err: altvision.ErrUnsupportedFormat}
	}

	doc, err := p.Extract(inputPath)
	if err != nil {
		return accumulator.ProcessingRecord{}, err
	}
	defer doc.Close()

	images := doc.Images()
	if len(images) > p.cfg.MaxImagesPerDocument {
		slog.Warn("annotate: image count exceeds configured cap, excess images skipped",
			"file", inputPath, "found", len(images), "cap", p.cfg.MaxImagesPerDocument)
		images = images[:p.cfg.MaxImagesPerDocument]
	}

	acc := accumulator.New(inputPath, outputPath, format, start)
	altText := make(assembler.AltTextByLocator, len(images))

	for i, img := range images {
		if ctx.Err() != nil {
			slog.Warn("annotate: cancelled, assembling the results gathered so far",
				"file", inputPath, "error", ctx.Err())
			break
		}
		pageOrSlide := pageOrSlideOf(img)

		bundle, err := contextbuilder.Build(doc, img, externalContext, p.cfg)
		if err != nil {
			acc.AddFailure(img.Locator, pageOrSlide, altvision.KindProcessing.String(), err.Error())
			slog.Warn("annotate: context build failed, skipping image",
				"file", inputPath, "locator", img.Locator, "error", err)
			continue
		}

		res := p.gen.GenerateOne(ctx, img, bundle)
		images[i].Bytes = nil // release the per-image buffer now that the generator has consumed it

		acc.AddResult(pageOrSlide, res)

		if res.Err != nil {
			slog.Warn("annotate: generation failed",
				"file", inputPath, "locator", img.Locator, "error", res.Err)
			continue
		}

		altText[res.Locator] = res.AltText
		slog.Info("annotate: image processed",
			"file", inputPath, "locator", img.Locator,
			"decorative", res.IsDecorative, "validation_passed", res.Validation.Passed,
			"tokens", res.TokensUsed)
	}

	if err := p.assemble(format, inputPath, outputPath, altText); err != nil {
		return accumulator.ProcessingRecord{}, err
	}

	return acc.Finish(time.Now()), nil
}

func (p *Pipeline) assemble(format, inputPath, outputPath string, altText assembler.AltTextByLocator) error {
	switch format {
	case "docx":
		return assembler.ApplyDOCX(inputPath, outputPath, altText)
	case "pptx":
		return assembler.ApplyPPTX(inputPath, outputPath, altText)
	default:
		return &altvision.InputError{Path: inputPath, Err: altvision.ErrUnsupportedFormat}
	}
}

// pageOrSlideOf extracts the paragraph or slide index a processing-record
// entry should be grouped under, from whichever FormatPosition the
// extractor attached to the image.
func pageOrSlideOf(img extractor.ImageRecord) int {
	switch pos := img.FormatPosition.(type) {
	case extractor.DOCXPosition:
		return pos.ParagraphIndex
	case extractor.PPTXPosition:
		return pos.SlideIndex
	default:
		return -1
	}
}
