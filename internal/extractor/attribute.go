package extractor

import (
	"encoding/base64"
	"regexp"
	"strings"
)

var base64Pattern = regexp.MustCompile(`^[A-Za-z0-9+/]*={0,2}$`)

// IsBase64 is a permissive shape test: base64 alphabet and a length that is a
// multiple of four. Plain words that happen to satisfy it are treated as
// encoded.
func IsBase64(s string) bool {
	return len(s)%4 == 0 && base64Pattern.MatchString(s)
}

// DecodeBase64 decodes s when it looks like base64 and returns it unchanged
// otherwise. Invalid UTF-8 in the decoded bytes is replaced rather than
// rejected.
func DecodeBase64(s string) string {
	if !IsBase64(s) {
		return s
	}
	decoded, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return s
	}
	return strings.ToValidUTF8(string(decoded), "\uFFFD")
}
