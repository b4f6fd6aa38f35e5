// Package sha256 provides SHA-256 content hashing with optional normalization.
package sha256

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
)

// Normalizer rewrites content before it is hashed so that insignificant
// differences do not defeat duplicate detection.
type Normalizer func([]byte) []byte

var (
	whitespaceRun = regexp.MustCompile(`\s+`)
	htmlComment   = regexp.MustCompile(`(?s)<!--.*?-->`)
)

// CollapseWhitespace folds every whitespace run to one space and trims the ends.
func CollapseWhitespace(data []byte) []byte {
	return bytes.TrimSpace(whitespaceRun.ReplaceAll(data, []byte(" ")))
}

// StripHTMLComments removes <!-- ... --> blocks.
func StripHTMLComments(data []byte) []byte {
	return htmlComment.ReplaceAll(data, nil)
}

// Normalizers resolves configured normalizer names. Unknown names are an error.
func Normalizers(names []string) ([]Normalizer, error) {
	out := make([]Normalizer, 0, len(names))
	for _, name := range names {
		switch name {
		case "collapse_whitespace":
			out = append(out, CollapseWhitespace)
		case "strip_html_comments":
			out = append(out, StripHTMLComments)
		default:
			return nil, fmt.Errorf("unknown content normalizer %q", name)
		}
	}
	return out, nil
}

// Hasher implements crawler.Hasher using SHA-256.
type Hasher struct {
	normalizers []Normalizer
}

// New returns a SHA-256 hasher that applies normalizers in order.
func New(normalizers ...Normalizer) *Hasher {
	return &Hasher{normalizers: normalizers}
}

// Hash normalizes the input and returns a hex digest.
func (h *Hasher) Hash(data []byte) (string, error) {
	for _, n := range h.normalizers {
		data = n(data)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
