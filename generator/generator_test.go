package generator

import (
	"context"
	"errors"
	"testing"

	"github.com/bbiangul/altvision"
	"github.com/bbiangul/altvision/contextbuilder"
	"github.com/bbiangul/altvision/extractor"
	"github.com/bbiangul/altvision/llm"
)

// mockVisionProvider implements llm.VisionProvider for testing, mirroring
// the shape of this codebase's other mock providers: a canned response
// or error plus a call counter.
type mockVisionProvider struct {
	response   string
	err        error
	errUntil   int // return err for the first errUntil calls, then succeed
	callCount  int
	lastPrompt string
}

func (m *mockVisionProvider) Chat(_ context.Context, _ llm.ChatRequest) (*llm.ChatResponse, error) {
	return &llm.ChatResponse{Content: "mock"}, nil
}

func (m *mockVisionProvider) Embed(_ context.Context, _ []string) ([][]float32, error) {
	return nil, nil
}

func (m *mockVisionProvider) ChatWithImages(_ context.Context, req llm.VisionChatRequest) (*llm.ChatResponse, error) {
	m.callCount++
	if len(req.Messages) > 0 && len(req.Messages[0].Content) > 0 {
		m.lastPrompt = req.Messages[0].Content[0].Text
	}
	if m.callCount <= m.errUntil {
		return nil, m.err
	}
	return &llm.ChatResponse{Content: m.response, TotalTokens: 42}, nil
}

func testConfig() altvision.Config {
	cfg := altvision.DefaultConfig()
	cfg.MaxRetries = 2
	cfg.InitialDelaySeconds = 0
	cfg.MaxDelaySeconds = 0
	return cfg
}

func testImage(locator string) extractor.ImageRecord {
	return extractor.ImageRecord{Locator: locator, Bytes: []byte("fake-bytes"), Format: "png"}
}

func TestGenerateOne_SuccessIsValidatedAndCorrected(t *testing.T) {
	mock := &mockVisionProvider{response: "  a chart showing revenue growth across four quarters  "}
	g, err := New(mock, testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	res := g.GenerateOne(context.Background(), testImage("img-0-0"), contextbuilder.Bundle{})

	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if res.AltText != "a chart showing revenue growth across four quarters." {
		t.Errorf("unexpected alt text: %q", res.AltText)
	}
	if res.TokensUsed != 42 {
		t.Errorf("expected tokens used 42, got %d", res.TokensUsed)
	}
	if mock.callCount != 1 {
		t.Errorf("expected 1 call, got %d", mock.callCount)
	}
}

func TestGenerateOne_DecorativeMarkerShortCircuitsValidation(t *testing.T) {
	mock := &mockVisionProvider{response: "decorative"}
	g, _ := New(mock, testConfig())

	res := g.GenerateOne(context.Background(), testImage("img-0-0"), contextbuilder.Bundle{})

	if !res.IsDecorative {
		t.Error("expected decorative result")
	}
	if res.AltText != "" {
		t.Errorf("expected empty alt text for decorative image, got %q", res.AltText)
	}
	if !res.Validation.Passed {
		t.Error("expected decorative result to pass validation")
	}
}

func TestGenerateOne_RetriesTransientThenSucceeds(t *testing.T) {
	mock := &mockVisionProvider{
		response: "a clear photograph of the building entrance at dusk",
		err:      &llm.StatusError{StatusCode: 503, Body: "unavailable"},
		errUntil: 1,
	}
	g, _ := New(mock, testConfig())

	res := g.GenerateOne(context.Background(), testImage("img-0-0"), contextbuilder.Bundle{})

	if res.Err != nil {
		t.Fatalf("expected eventual success, got error: %v", res.Err)
	}
	if mock.callCount != 2 {
		t.Errorf("expected 2 calls (1 transient failure + 1 success), got %d", mock.callCount)
	}
}

func TestGenerateOne_ExhaustsRetriesAndReturnsAPIError(t *testing.T) {
	mock := &mockVisionProvider{
		err:      &llm.StatusError{StatusCode: 503, Body: "unavailable"},
		errUntil: 999,
	}
	cfg := testConfig()
	cfg.MaxRetries = 2
	g, _ := New(mock, cfg)

	res := g.GenerateOne(context.Background(), testImage("img-0-0"), contextbuilder.Bundle{})

	if res.Err == nil {
		t.Fatal("expected an error after exhausting retries")
	}
	var apiErr *altvision.APIError
	if !errors.As(res.Err, &apiErr) {
		t.Fatalf("expected *altvision.APIError, got %T", res.Err)
	}
	if !apiErr.Exhausted {
		t.Error("expected Exhausted=true")
	}
	if mock.callCount != cfg.MaxRetries+1 {
		t.Errorf("expected %d calls, got %d", cfg.MaxRetries+1, mock.callCount)
	}
}

func TestGenerateOne_NonRetryableFailsImmediately(t *testing.T) {
	mock := &mockVisionProvider{
		err:      &llm.StatusError{StatusCode: 401, Body: "bad key"},
		errUntil: 999,
	}
	g, _ := New(mock, testConfig())

	res := g.GenerateOne(context.Background(), testImage("img-0-0"), contextbuilder.Bundle{})

	if res.Err == nil {
		t.Fatal("expected an error")
	}
	if mock.callCount != 1 {
		t.Errorf("expected exactly 1 call for a non-retryable status, got %d", mock.callCount)
	}
}

func TestNew_RequiresProvider(t *testing.T) {
	_, err := New(nil, testConfig())
	if !errors.Is(err, altvision.ErrVisionProviderRequired) {
		t.Errorf("expected ErrVisionProviderRequired, got %v", err)
	}
}

func TestGenerateBatch_StopsOnFirstErrorWhenNotContinuing(t *testing.T) {
	mock := &mockVisionProvider{
		err:      &llm.StatusError{StatusCode: 401, Body: "bad key"},
		errUntil: 999,
	}
	g, _ := New(mock, testConfig())

	images := []extractor.ImageRecord{testImage("img-0-0"), testImage("img-1-0")}
	results, err := g.GenerateBatch(context.Background(), images, nil, false)

	if err == nil {
		t.Fatal("expected batch to stop with an error")
	}
	if len(results) != 1 {
		t.Errorf("expected processing to stop after the first image, got %d results", len(results))
	}
}

func TestGenerateBatch_ContinuesOnErrorWhenConfigured(t *testing.T) {
	mock := &mockVisionProvider{
		err:      &llm.StatusError{StatusCode: 401, Body: "bad key"},
		errUntil: 999,
	}
	g, _ := New(mock, testConfig())

	images := []extractor.ImageRecord{testImage("img-0-0"), testImage("img-1-0")}
	results, err := g.GenerateBatch(context.Background(), images, nil, true)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected both images attempted, got %d results", len(results))
	}
	for _, r := range results {
		if r.Err == nil {
			t.Error("expected every result to carry the failure")
		}
	}
}
