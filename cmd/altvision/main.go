// Command altvision generates and writes back accessibility alt text
// for images embedded in DOCX and PPTX documents, using a vision-capable
// LLM behind the provider abstraction in package llm.
//
// Usage:
//
//	altvision extract slides.pptx -o slides.results.json
//	altvision apply slides.pptx slides.results.json -o slides.annotated.pptx
//	altvision annotate report.docx -o report.annotated.docx --records report.record.json
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"

	"github.com/bbiangul/altvision"
	"github.com/bbiangul/altvision/accumulator"
	"github.com/bbiangul/altvision/assembler"
	"github.com/bbiangul/altvision/contextbuilder"
	"github.com/bbiangul/altvision/generator"
	"github.com/bbiangul/altvision/llm"
	"github.com/bbiangul/altvision/pipeline"
	"github.com/bbiangul/altvision/report"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "extract":
		err = runExtract(os.Args[2:])
	case "apply":
		err = runApply(os.Args[2:])
	case "annotate":
		err = runAnnotate(os.Args[2:])
	case "-h", "--help", "help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "altvision: unknown subcommand %q\n", os.Args[1])
		usage()
		os.Exit(1)
	}

	if err != nil {
		exitOn(err)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `altvision — alt-text generation for DOCX/PPTX

Usage:
  altvision extract  <INPUT> [-o JSON] [-c CONTEXT] [--max-images N] [--log-level LEVEL]
  altvision apply    <INPUT> <RESULTS_JSON> [-o OUTPUT] [--backup] [--log-level LEVEL]
  altvision annotate <INPUT> [-o OUTPUT] [-c CONTEXT] [--max-images N] [--records JSON] [--report MD] [--log-level LEVEL]`)
}

// exitOn classifies err via the package's Kind taxonomy and exits with
// the matching code. Per the error-handling design, the driver catches
// ProcessingError and InputError (and, here, API/Validation/output)
// cleanly; anything left unclassified is treated as a bug and gets a
// stack trace on stderr, per "any other uncaught exception ... must
// produce a stack trace on stderr and exit 1."
func exitOn(err error) {
	var outErr *outputError
	if errors.As(err, &outErr) {
		slog.Error("altvision: output error", "error", outErr.err)
		os.Exit(5)
	}

	kind := altvision.ClassifyKind(err)
	if kind == altvision.KindUnknown {
		slog.Error("altvision: unhandled error", "error", err)
		debug.PrintStack()
		os.Exit(1)
	}
	slog.Error("altvision: "+kind.String()+" error", "error", err)
	os.Exit(kind.ExitCode())
}

// outputError is a sentinel wrapper for the CLI's own post-pipeline file
// writes (results JSON, processing record, report) — distinct from
// assembler's internal "save" ProcessingError, this maps to exit code 5
// per the external interfaces table's "output error" lane. See DESIGN.md
// for why this lives at the CLI boundary rather than in the Kind taxonomy.
type outputError struct{ err error }

func (e *outputError) Error() string { return fmt.Sprintf("altvision: writing output: %v", e.err) }
func (e *outputError) Unwrap() error { return e.err }

// newGeneratorOnly builds a generator.Generator without the rest of a
// Pipeline — extract's results-only mode never assembles a document, so
// it has no use for pipeline.New's assembler wiring.
func newGeneratorOnly(cfg altvision.Config) (*generator.Generator, error) {
	provider, err := llm.NewProvider(cfg.Vision)
	if err != nil {
		return nil, fmt.Errorf("altvision: creating vision provider: %w", err)
	}
	return generator.New(provider, cfg)
}

func setupLogging(level string) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}

// loadConfig builds a Config from DefaultConfig, optionally overlaying a
// JSON config file named by ALTVISION_CONFIG, then layers environment
// overrides for the vision endpoint on top. Credentials are never read
// from the config file, only from the environment, per §6.
func loadConfig() altvision.Config {
	cfg := altvision.DefaultConfig()

	if path := os.Getenv("ALTVISION_CONFIG"); path != "" {
		if f, err := os.Open(path); err == nil {
			if err := json.NewDecoder(f).Decode(&cfg); err != nil {
				slog.Warn("loadConfig: ignoring malformed config file", "path", path, "error", err)
			}
			f.Close()
			cfg.Vision.APIKey = "" // credentials come only from the environment
		} else {
			slog.Warn("loadConfig: ALTVISION_CONFIG set but unreadable, using defaults", "path", path, "error", err)
		}
	}

	if v := os.Getenv("ALTVISION_VISION_PROVIDER"); v != "" {
		cfg.Vision.Provider = v
	}
	if v := os.Getenv("ALTVISION_VISION_MODEL"); v != "" {
		cfg.Vision.Model = v
	}
	if v := os.Getenv("ALTVISION_VISION_BASE_URL"); v != "" {
		cfg.Vision.BaseURL = v
	}
	if v := os.Getenv("ALTVISION_VISION_API_KEY"); v != "" {
		cfg.Vision.APIKey = v
	}

	if cfg.Vision.APIKey == "" {
		switch cfg.Vision.Provider {
		case "openai", "lmstudio":
			cfg.Vision.APIKey = os.Getenv("OPENAI_API_KEY")
		case "groq":
			cfg.Vision.APIKey = os.Getenv("GROQ_API_KEY")
		case "xai":
			cfg.Vision.APIKey = os.Getenv("XAI_API_KEY")
		case "openrouter":
			cfg.Vision.APIKey = os.Getenv("OPENROUTER_API_KEY")
		case "gemini":
			cfg.Vision.APIKey = os.Getenv("GEMINI_API_KEY")
		}
	}

	cfg.Normalize()
	return cfg
}

// loadExternalContext reads path (a .txt/.md external-context file),
// stripping a UTF-8 BOM if present. Returns "" if path is empty.
func loadExternalContext(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", &altvision.InputError{Path: path, Err: err}
	}
	data = bytesTrimBOM(data)
	return string(data), nil
}

func bytesTrimBOM(b []byte) []byte {
	if len(b) >= 3 && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF {
		return b[3:]
	}
	return b
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return &outputError{err}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return &outputError{err}
	}
	return nil
}

func defaultSuffixed(inputPath, suffix string) string {
	ext := filepath.Ext(inputPath)
	base := strings.TrimSuffix(inputPath, ext)
	return base + suffix + ext
}

// withExt strips inputPath's extension and appends suffix followed by
// newExt, e.g. withExt("deck.pptx", ".results", ".json") -> "deck.results.json".
func withExt(inputPath, suffix, newExt string) string {
	base := strings.TrimSuffix(inputPath, filepath.Ext(inputPath))
	return base + suffix + newExt
}

// extractOutput is the JSON shape extract writes and apply reads — it
// carries enough of the processing record for apply to rebuild an
// AltTextByLocator without re-running the extractor or generator.
type extractOutput struct {
	InputPath string                     `json:"input_path"`
	Format    string                     `json:"format"`
	Results   []accumulator.ImageResult  `json:"results"`
	Failures  []accumulator.FailureEntry `json:"failures,omitempty"`
}

func runExtract(args []string) error {
	fs := flag.NewFlagSet("extract", flag.ExitOnError)
	out := fs.String("o", "", "output results JSON path (default: <input>.results.json)")
	contextPath := fs.String("c", "", "external context .txt/.md file")
	maxImages := fs.Int("max-images", 0, "override max_images_per_document (0 = use config default)")
	logLevel := fs.String("log-level", "info", "log level: debug, info, warn, error")
	fs.Parse(args)

	if fs.NArg() < 1 {
		return fmt.Errorf("altvision extract: missing INPUT")
	}
	inputPath := fs.Arg(0)
	setupLogging(*logLevel)

	cfg := loadConfig()
	if *maxImages > 0 {
		cfg.MaxImagesPerDocument = *maxImages
	}

	p, err := pipeline.New(cfg)
	if err != nil {
		return err
	}

	externalText, err := loadExternalContext(*contextPath)
	if err != nil {
		return err
	}

	doc, err := p.Extract(inputPath)
	if err != nil {
		return err
	}
	defer doc.Close()

	images := doc.Images()
	if len(images) > cfg.MaxImagesPerDocument {
		slog.Warn("extract: image count exceeds cap, excess images skipped",
			"file", inputPath, "found", len(images), "cap", cfg.MaxImagesPerDocument)
		images = images[:cfg.MaxImagesPerDocument]
	}

	gen, err := newGeneratorOnly(cfg)
	if err != nil {
		return err
	}

	acc := accumulator.New(inputPath, "", doc.Format(), time.Now())
	for _, img := range images {
		bundle, err := contextbuilder.Build(doc, img, externalText, cfg)
		if err != nil {
			acc.AddFailure(img.Locator, -1, altvision.KindProcessing.String(), err.Error())
			continue
		}
		res := gen.GenerateOne(context.Background(), img, bundle)
		img.Bytes = nil
		acc.AddResult(-1, res)
	}
	rec := acc.Finish(time.Now())

	outPath := *out
	if outPath == "" {
		outPath = withExt(inputPath, ".results", ".json")
	}

	if err := writeJSON(outPath, extractOutput{
		InputPath: inputPath,
		Format:    doc.Format(),
		Results:   rec.Results,
		Failures:  rec.Failures,
	}); err != nil {
		return err
	}

	slog.Info("extract: complete", "file", inputPath, "images", len(images), "results", outPath)
	return checkHardFailRate(rec, cfg)
}

func runApply(args []string) error {
	fs := flag.NewFlagSet("apply", flag.ExitOnError)
	out := fs.String("o", "", "output document path (default: <input>.annotated.<ext>)")
	backup := fs.Bool("backup", false, "copy the original input alongside it as <input>.bak before writing")
	logLevel := fs.String("log-level", "info", "log level: debug, info, warn, error")
	fs.Parse(args)

	if fs.NArg() < 2 {
		return fmt.Errorf("altvision apply: missing INPUT and RESULTS_JSON")
	}
	inputPath, resultsPath := fs.Arg(0), fs.Arg(1)
	setupLogging(*logLevel)

	data, err := os.ReadFile(resultsPath)
	if err != nil {
		return &altvision.InputError{Path: resultsPath, Err: err}
	}
	var extracted extractOutput
	if err := json.Unmarshal(data, &extracted); err != nil {
		return &altvision.InputError{Path: resultsPath, Err: fmt.Errorf("parsing results JSON: %w", err)}
	}

	altText := make(assembler.AltTextByLocator, len(extracted.Results))
	for _, r := range extracted.Results {
		altText[r.Locator] = r.AltText
	}

	outPath := *out
	if outPath == "" {
		outPath = defaultSuffixed(inputPath, ".annotated")
	}

	if *backup {
		if err := copyFile(inputPath, inputPath+".bak"); err != nil {
			return &outputError{err}
		}
	}

	switch strings.ToLower(strings.TrimPrefix(filepath.Ext(inputPath), ".")) {
	case "docx":
		err = assembler.ApplyDOCX(inputPath, outPath, altText)
	case "pptx":
		err = assembler.ApplyPPTX(inputPath, outPath, altText)
	default:
		err = &altvision.InputError{Path: inputPath, Err: altvision.ErrUnsupportedFormat}
	}
	if err != nil {
		return err
	}

	slog.Info("apply: complete", "file", inputPath, "output", outPath, "images_written", len(altText))
	return nil
}

func runAnnotate(args []string) error {
	fs := flag.NewFlagSet("annotate", flag.ExitOnError)
	out := fs.String("o", "", "output document path (default: <input>.annotated.<ext>)")
	contextPath := fs.String("c", "", "external context .txt/.md file")
	maxImages := fs.Int("max-images", 0, "override max_images_per_document (0 = use config default)")
	recordsPath := fs.String("records", "", "processing record JSON output path (default: <input>.record.json)")
	reportPath := fs.String("report", "", "optional markdown report output path")
	logLevel := fs.String("log-level", "info", "log level: debug, info, warn, error")
	fs.Parse(args)

	if fs.NArg() < 1 {
		return fmt.Errorf("altvision annotate: missing INPUT")
	}
	inputPath := fs.Arg(0)
	setupLogging(*logLevel)

	cfg := loadConfig()
	if *maxImages > 0 {
		cfg.MaxImagesPerDocument = *maxImages
	}

	p, err := pipeline.New(cfg)
	if err != nil {
		return err
	}

	externalText, err := loadExternalContext(*contextPath)
	if err != nil {
		return err
	}

	outPath := *out
	if outPath == "" {
		outPath = defaultSuffixed(inputPath, ".annotated")
	}

	rec, err := p.Annotate(context.Background(), inputPath, outPath, externalText)
	if err != nil {
		return err
	}

	recPath := *recordsPath
	if recPath == "" {
		recPath = withExt(inputPath, ".record", ".json")
	}
	if err := writeJSON(recPath, rec); err != nil {
		return err
	}

	if *reportPath != "" {
		if err := os.WriteFile(*reportPath, []byte(report.Markdown(rec)), 0o644); err != nil {
			return &outputError{err}
		}
	}

	slog.Info("annotate: complete",
		"file", inputPath, "output", outPath, "record", recPath,
		"succeeded", rec.Succeeded, "failed", rec.Failed, "hard_fail_rate", rec.HardFailRate)

	return checkHardFailRate(rec, cfg)
}

// checkHardFailRate turns a processing record whose hard-fail rate
// exceeds the configured ceiling into a ValidationError, which exitOn
// maps to exit code 4 — the distilled spec names that exit code but
// leaves "exceeded a threshold" undefined; this is the concrete
// resolution (see DESIGN.md).
func checkHardFailRate(rec accumulator.ProcessingRecord, cfg altvision.Config) error {
	if rec.HardFailRate > cfg.MaxHardFailRate {
		return &altvision.ValidationError{
			Locator: rec.InputPath,
			Reasons: []string{fmt.Sprintf("hard-fail rate %.2f exceeds configured max %.2f", rec.HardFailRate, cfg.MaxHardFailRate)},
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}
