// Package accumulator collects per-image generation results into the
// processing record that is the pipeline's other externally visible
// output besides the annotated document itself. Its shape mirrors the
// teacher's eval.Report: a running accumulator is fed one result at a
// time, then finalized into an immutable summary.
package accumulator

import (
	"encoding/json"
	"time"

	"github.com/bbiangul/altvision"
	"github.com/bbiangul/altvision/generator"
)

// ImageResult is one image's entry in the processing record.
type ImageResult struct {
	Locator          string `json:"locator"`
	PageOrSlide      int    `json:"page_or_slide"`
	AltText          string `json:"alt_text,omitempty"`
	IsDecorative     bool   `json:"is_decorative"`
	ValidationPassed bool   `json:"validation_passed"`
	Warnings         []string `json:"warnings,omitempty"`
	TokensUsed       int    `json:"tokens_used"`
}

// FailureEntry records one image that could not be processed at all —
// as opposed to one that was processed but hard-failed validation,
// which still appears in Results with ValidationPassed=false.
type FailureEntry struct {
	Locator     string `json:"locator"`
	PageOrSlide int    `json:"page_or_slide"`
	ErrorKind   string `json:"error_kind"`
	Message     string `json:"message"`
}

// ProcessingRecord is the sole externally visible output besides the
// annotated document. It is serialized to JSON exactly once per run.
type ProcessingRecord struct {
	InputPath  string `json:"input_path"`
	OutputPath string `json:"output_path"`
	Format     string `json:"format"`

	TotalImages int `json:"total_images"`
	Succeeded   int `json:"succeeded"`
	Failed      int `json:"failed"`

	Results  []ImageResult  `json:"results"`
	Failures []FailureEntry `json:"failures,omitempty"`

	TotalTokens   int     `json:"total_tokens"`
	EstimatedCost float64 `json:"estimated_cost"`

	// HardFailRate is the fraction of processed (non-failed) images whose
	// validation hard-failed. Surfaced prominently per the design note on
	// validation hard-fail semantics: hard-failed alt text is still written
	// back (partial accessibility beats none) but callers need a cheap
	// signal that a run produced a lot of it.
	HardFailRate float64 `json:"hard_fail_rate"`

	DurationMs int64 `json:"duration_ms"`
}

// CostPerToken is multiplied by TotalTokens to produce EstimatedCost. It
// is a rough per-token figure for vision-capable chat completions;
// callers billed differently should treat EstimatedCost as indicative only.
const CostPerToken = 0.00001

// Accumulator collects results for a single document run. It is not
// safe for concurrent use — the pipeline processes one document's
// images sequentially (or the caller serializes access itself).
type Accumulator struct {
	inputPath, outputPath, format string
	start                         time.Time

	results  []ImageResult
	failures []FailureEntry

	totalTokens  int
	hardFailed   int
	processedOK  int
}

// New starts an accumulator for one document run.
func New(inputPath, outputPath, format string, start time.Time) *Accumulator {
	return &Accumulator{
		inputPath:  inputPath,
		outputPath: outputPath,
		format:     format,
		start:      start,
	}
}

// AddResult records a completed generation attempt, successful or not.
// pageOrSlide is the paragraph index (DOCX) or slide index (PPTX) the
// image belongs to, supplied by the caller since generator.Result carries
// only the locator.
func (a *Accumulator) AddResult(pageOrSlide int, res generator.Result) {
	if res.Err != nil {
		a.failures = append(a.failures, FailureEntry{
			Locator:     res.Locator,
			PageOrSlide: pageOrSlide,
			ErrorKind:   altvision.ClassifyKind(res.Err).String(),
			Message:     res.Err.Error(),
		})
		return
	}

	a.processedOK++
	a.totalTokens += res.TokensUsed
	if !res.Validation.Passed {
		a.hardFailed++
	}

	a.results = append(a.results, ImageResult{
		Locator:          res.Locator,
		PageOrSlide:      pageOrSlide,
		AltText:          res.AltText,
		IsDecorative:     res.IsDecorative,
		ValidationPassed: res.Validation.Passed,
		Warnings:         res.Validation.Warnings,
		TokensUsed:       res.TokensUsed,
	})
}

// AddFailure records an image that failed before or outside generation
// (e.g. an extractor decode failure), bypassing AddResult entirely.
func (a *Accumulator) AddFailure(locator string, pageOrSlide int, errorKind, message string) {
	a.failures = append(a.failures, FailureEntry{
		Locator:     locator,
		PageOrSlide: pageOrSlide,
		ErrorKind:   errorKind,
		Message:     message,
	})
}

// Finish finalizes the record. end should be >= the start time passed to New.
func (a *Accumulator) Finish(end time.Time) ProcessingRecord {
	rec := ProcessingRecord{
		InputPath:     a.inputPath,
		OutputPath:    a.outputPath,
		Format:        a.format,
		TotalImages:   a.processedOK + len(a.failures),
		Succeeded:     a.processedOK,
		Failed:        len(a.failures),
		Results:       a.results,
		Failures:      a.failures,
		TotalTokens:   a.totalTokens,
		EstimatedCost: float64(a.totalTokens) * CostPerToken,
		DurationMs:    end.Sub(a.start).Milliseconds(),
	}
	if a.processedOK > 0 {
		rec.HardFailRate = float64(a.hardFailed) / float64(a.processedOK)
	}
	return rec
}

// MarshalJSON is the single serialization path a ProcessingRecord takes —
// written to disk exactly once, per §3's ownership rule.
func (r ProcessingRecord) MarshalJSON() ([]byte, error) {
	type alias ProcessingRecord
	return json.Marshal(alias(r))
}
