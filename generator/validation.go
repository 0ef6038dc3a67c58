package generator

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/bbiangul/altvision"
)

// forbiddenOpeners are phrases that restate "this is an image" instead of
// describing what the image shows — the single most common failure mode
// of naive vision-model alt text.
var forbiddenOpeners = []string{
	"image of",
	"picture of",
	"graphic showing",
	"photo of",
	"screenshot of",
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// autoCorrect applies the deterministic cleanup pass every generated
// caption goes through before validation: collapse whitespace, ensure
// terminal punctuation, and normalize a decorative-marker response
// (the model saying "decorative", "n/a", etc.) down to the empty string
// that marks a decorative image.
func autoCorrect(text string, cfg altvision.Config) (corrected string, isDecorative bool) {
	text = strings.TrimSpace(text)
	text = strings.Trim(text, "\"'")
	text = whitespaceRun.ReplaceAllString(text, " ")
	text = strings.TrimSpace(text)

	lower := strings.ToLower(text)
	for _, marker := range cfg.DecorativeMarkers {
		if lower == strings.ToLower(marker) {
			return "", true
		}
	}

	if text == "" {
		return "", true
	}

	if !strings.HasSuffix(text, ".") && !strings.HasSuffix(text, "!") && !strings.HasSuffix(text, "?") {
		text += "."
	}

	return text, false
}

// ValidationResult records the hard-fail/soft-warning outcome of
// checking one generated caption against the accessibility rule table.
type ValidationResult struct {
	Passed   bool
	Reasons  []string // hard-fail reasons; non-empty means Passed is false
	Warnings []string // soft warnings; never affect Passed
}

// validate checks text against the hard-fail rules (length outside
// [10,250], contains a forbidden phrase anywhere, case-insensitively) and
// the soft-warning rules
// (length outside [50,200], first letter not capitalized) — hard
// failures still return the text for the caller to surface with
// Passed=false rather than discarding it.
func validate(text string) ValidationResult {
	var res ValidationResult
	res.Passed = true

	length := len([]rune(text))
	if length < 10 || length > 250 {
		res.Reasons = append(res.Reasons, "length outside [10,250] characters")
		res.Passed = false
	}

	lower := strings.ToLower(text)
	for _, opener := range forbiddenOpeners {
		if strings.Contains(lower, opener) {
			res.Reasons = append(res.Reasons, "contains forbidden opener \""+opener+"\"")
			res.Passed = false
			break
		}
	}

	if length < 50 || length > 200 {
		res.Warnings = append(res.Warnings, "length outside the recommended [50,200] character range")
	}

	if r := firstRune(text); r != 0 && unicode.IsLetter(r) && !unicode.IsUpper(r) {
		res.Warnings = append(res.Warnings, "does not start with a capital letter")
	}

	return res
}

func firstRune(s string) rune {
	for _, r := range s {
		return r
	}
	return 0
}

// AsValidationError converts a failed ValidationResult into the
// package-level error type used for processing-record bookkeeping. It
// returns nil when the result passed.
func AsValidationError(locator string, res ValidationResult) *altvision.ValidationError {
	if res.Passed {
		return nil
	}
	return &altvision.ValidationError{Locator: locator, Reasons: res.Reasons, Warnings: res.Warnings}
}
