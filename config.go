// Package altvision annotates DOCX and PPTX documents with vision-model
// generated alt-text for every embedded image, producing a byte-faithful
// copy of the source plus a processing record.
package altvision

import "github.com/bbiangul/altvision/llm"

// Config holds all configuration for a single annotation run. It is built
// once at startup and passed by value into every component constructor;
// nothing below the CLI entrypoint reads the environment directly.
type Config struct {
	// Vision is the LLM endpoint used to caption images. Credentials
	// (APIKey) must be populated from the environment by the CLI, never
	// read from a checked-in config file.
	Vision llm.Config `json:"vision" yaml:"vision"`

	// Temperature is the vision model's sampling temperature.
	Temperature float64 `json:"temperature" yaml:"temperature"`

	// MaxTokens caps the model's output length per image.
	MaxTokens int `json:"max_tokens" yaml:"max_tokens"`

	// ContextParagraphsBefore/After bound the DOCX local-tier window.
	// Both are clamped to [0, 10].
	ContextParagraphsBefore int `json:"context_paragraphs_before" yaml:"context_paragraphs_before"`
	ContextParagraphsAfter  int `json:"context_paragraphs_after" yaml:"context_paragraphs_after"`

	// MaxContextChars is the merged-context truncation budget.
	MaxContextChars int `json:"max_context_chars" yaml:"max_context_chars"`

	// MaxRetries, InitialDelaySeconds, BackoffBase, MaxDelaySeconds
	// parameterize the generator's exponential backoff policy.
	MaxRetries          int     `json:"max_retries" yaml:"max_retries"`
	InitialDelaySeconds float64 `json:"initial_delay_seconds" yaml:"initial_delay_seconds"`
	BackoffBase         float64 `json:"backoff_base" yaml:"backoff_base"`
	MaxDelaySeconds     float64 `json:"max_delay_seconds" yaml:"max_delay_seconds"`

	// MaxImagesPerDocument is a hard cap; images beyond it are skipped
	// with a warning rather than processed.
	MaxImagesPerDocument int `json:"max_images_per_document" yaml:"max_images_per_document"`

	// MaxFileSizeMB caps the total uncompressed size of the container's
	// parts, checked from the zip directory before any image is read.
	MaxFileSizeMB int `json:"max_file_size_mb" yaml:"max_file_size_mb"`

	// MaxHardFailRate bounds the fraction of results with
	// validation_passed=false before the CLI exits with code 4. Not part
	// of the distilled data model; supplied to give exit code 4 a concrete
	// meaning (see DESIGN.md).
	MaxHardFailRate float64 `json:"max_hard_fail_rate" yaml:"max_hard_fail_rate"`

	// DecorativeMarkers are model responses normalized to the empty
	// string and flagged decorative=true during auto-correction.
	DecorativeMarkers []string `json:"decorative_markers" yaml:"decorative_markers"`
}

// DefaultConfig returns a Config matching the defaults named in the
// external interfaces table: temperature 0.3, max_tokens 500, a
// paragraph window of 2 on each side, a 12000-char context budget, three
// retries with 1s/2.0/60s backoff parameters, a 100-image cap and a
// 50MB file size gate.
func DefaultConfig() Config {
	return Config{
		Vision: llm.Config{
			Provider: "ollama",
			Model:    "llama3.2-vision",
			BaseURL:  "http://localhost:11434",
		},
		Temperature:             0.3,
		MaxTokens:               500,
		ContextParagraphsBefore: 2,
		ContextParagraphsAfter:  2,
		MaxContextChars:         12000,
		MaxRetries:              3,
		InitialDelaySeconds:     1.0,
		BackoffBase:             2.0,
		MaxDelaySeconds:         60.0,
		MaxImagesPerDocument:    100,
		MaxFileSizeMB:           50,
		MaxHardFailRate:         0.5,
		DecorativeMarkers:       []string{"decorative", "[decorative]", "n/a", "none"},
	}
}

// clamp bounds v to [lo, hi].
func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Normalize clamps user-adjustable windows into their documented ranges.
// Called once by the CLI after loading overrides, before the config is
// handed to any component constructor.
func (c *Config) Normalize() {
	c.ContextParagraphsBefore = clamp(c.ContextParagraphsBefore, 0, 10)
	c.ContextParagraphsAfter = clamp(c.ContextParagraphsAfter, 0, 10)
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
}
