package assembler

import (
	"fmt"
	"regexp"
	"strings"
)

// setOrInsertAttr returns tag with attr's value replaced if present, or
// the attribute appended just before the tag's closing "/>"/">" if not.
// Every other byte of tag — attribute order, quoting, surrounding
// whitespace — is left untouched.
func setOrInsertAttr(tag []byte, attr, value string) []byte {
	escaped := xmlEscapeAttr(value)
	pattern := regexp.MustCompile(`(\b` + regexp.QuoteMeta(attr) + `)\s*=\s*"[^"]*"`)
	if pattern.Match(tag) {
		return pattern.ReplaceAllLiteral(tag, []byte(attr+`="`+escaped+`"`))
	}

	s := string(tag)
	insertion := fmt.Sprintf(` %s="%s"`, attr, escaped)
	if idx := strings.LastIndex(s, "/>"); idx != -1 {
		return []byte(s[:idx] + insertion + s[idx:])
	}
	if idx := strings.LastIndex(s, ">"); idx != -1 {
		return []byte(s[:idx] + insertion + s[idx:])
	}
	return tag
}

var attrEscaper = strings.NewReplacer(
	`&`, "&amp;",
	`"`, "&quot;",
	`<`, "&lt;",
	`>`, "&gt;",
)

func xmlEscapeAttr(s string) string {
	return attrEscaper.Replace(s)
}
