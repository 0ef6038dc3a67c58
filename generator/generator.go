// Package generator turns an extracted image plus its context bundle
// into a validated alt-text string, calling the vision model through a
// caller-supplied llm.VisionProvider and a retry policy built from
// package retry — the generator never talks HTTP directly and never
// owns a concrete backend type.
package generator

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/bbiangul/altvision"
	"github.com/bbiangul/altvision/contextbuilder"
	"github.com/bbiangul/altvision/extractor"
	"github.com/bbiangul/altvision/llm"
	"github.com/bbiangul/altvision/retry"
)

// Result is the outcome of generating alt text for one image.
type Result struct {
	Locator      string
	AltText      string
	IsDecorative bool
	Validation   ValidationResult
	TokensUsed   int

	// Err is non-nil only when the model call itself failed beyond
	// recovery (retries exhausted or a non-retryable status) — a failed
	// Validation is not an Err, per the spec's "hard-fail results still
	// surfaced" rule.
	Err error
}

// Generator produces alt text for one image at a time. It holds no
// per-run state beyond its dependencies, so a single Generator can be
// reused concurrently across images.
type Generator struct {
	provider llm.VisionProvider
	cfg      altvision.Config
}

// New builds a Generator. provider must not be nil — the caller
// constructs it once via llm.NewProvider and injects it here, per the
// design note that the model client is a minimal-capability dependency,
// never self-instantiated inside the pipeline.
func New(provider llm.VisionProvider, cfg altvision.Config) (*Generator, error) {
	if provider == nil {
		return nil, altvision.ErrVisionProviderRequired
	}
	return &Generator{provider: provider, cfg: cfg}, nil
}

// GenerateOne calls the vision model for a single image, retrying
// transient failures per the configured backoff policy, then
// auto-corrects and validates the result.
func (g *Generator) GenerateOne(ctx context.Context, img extractor.ImageRecord, bundle contextbuilder.Bundle) Result {
	prompt := buildPrompt(bundle)
	dataURI := toDataURI(img.Format, img.Bytes)

	req := llm.VisionChatRequest{
		Temperature: g.cfg.Temperature,
		MaxTokens:   g.cfg.MaxTokens,
		Messages: []llm.VisionMessage{
			{
				Role: "user",
				Content: []llm.ContentPart{
					{Type: "text", Text: prompt},
					{Type: "image_url", ImageURL: &llm.ImageURL{URL: dataURI}},
				},
			},
		},
	}

	params := retry.Params{
		MaxRetries:   g.cfg.MaxRetries,
		InitialDelay: time.Duration(g.cfg.InitialDelaySeconds * float64(time.Second)),
		Base:         g.cfg.BackoffBase,
		Cap:          time.Duration(g.cfg.MaxDelaySeconds * float64(time.Second)),
	}

	resp, err := retry.Do(ctx, func(attempt int) (*llm.ChatResponse, retry.RetryAfter, error) {
		r, callErr := g.provider.ChatWithImages(ctx, req)
		if callErr == nil {
			return r, 0, nil
		}
		var statusErr *llm.StatusError
		if errors.As(callErr, &statusErr) {
			return nil, statusErr.RetryAfter, callErr
		}
		return nil, 0, callErr
	}, isRetryableErr, params, retry.DefaultLogger(fmt.Sprintf("generate[%s]", img.Locator)))

	if err != nil {
		return Result{
			Locator: img.Locator,
			Err:     classifyAPIError(img.Locator, err, g.cfg.MaxRetries),
		}
	}

	corrected, decorative := autoCorrect(resp.Content, g.cfg)
	result := Result{
		Locator:      img.Locator,
		AltText:      corrected,
		IsDecorative: decorative,
		TokensUsed:   resp.TotalTokens,
	}
	if !decorative {
		result.Validation = validate(corrected)
	} else {
		result.Validation = ValidationResult{Passed: true}
	}
	return result
}

// GenerateBatch runs GenerateOne for every image in order. When
// continueOnError is false, the first per-image Err aborts the batch
// and is returned; when true, every image is attempted and failures are
// carried in their Result.
func (g *Generator) GenerateBatch(ctx context.Context, images []extractor.ImageRecord, bundles map[string]contextbuilder.Bundle, continueOnError bool) ([]Result, error) {
	results := make([]Result, 0, len(images))
	for _, img := range images {
		res := g.GenerateOne(ctx, img, bundles[img.Locator])
		results = append(results, res)
		if res.Err != nil && !continueOnError {
			return results, res.Err
		}
	}
	return results, nil
}

func toDataURI(format string, data []byte) string {
	return fmt.Sprintf("data:image/%s;base64,%s", format, base64.StdEncoding.EncodeToString(data))
}

// isRetryableErr classifies a model-call failure as transient: a
// StatusError marked Retryable, or a network error that is a timeout or
// a temporary condition.
func isRetryableErr(err error) bool {
	var statusErr *llm.StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Retryable()
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	return errors.Is(err, context.DeadlineExceeded)
}

func classifyAPIError(locator string, err error, maxRetries int) *altvision.APIError {
	apiErr := &altvision.APIError{
		Locator:   locator,
		Retryable: isRetryableErr(err),
		Exhausted: isRetryableErr(err),
		Err:       err,
	}
	var statusErr *llm.StatusError
	if errors.As(err, &statusErr) {
		apiErr.StatusCode = statusErr.StatusCode
	}
	return apiErr
}
