// Package sanitize strips markup from user payloads and rejects a small
// denylist of script and SQL fragments.
//
// The denylist is a best-effort filter for payloads that may later be
// rendered or logged by something that interprets them. It is not a security
// boundary: pattern matching cannot prove a string safe.
package sanitize

import (
	"errors"
	"regexp"

	"github.com/microcosm-cc/bluemonday"
)

var ErrForbiddenContent = errors.New("input contains forbidden content")

var forbidden = []*regexp.Regexp{
	regexp.MustCompile(`(?i)<\s*script`),
	regexp.MustCompile(`(?i)select\s+.*from`),
	regexp.MustCompile(`(?i)delete\s+from`),
	regexp.MustCompile(`(?i)drop\s+table`),
	regexp.MustCompile(`(?i)insert\s+into`),
	regexp.MustCompile(`--`),
}

// Sanitizer is safe for concurrent use.
type Sanitizer struct {
	policy *bluemonday.Policy
}

func New() *Sanitizer {
	return &Sanitizer{policy: bluemonday.StrictPolicy()}
}

// Clean removes every tag and attribute, HTML-escapes the remaining text and
// checks the result against the denylist.
func (s *Sanitizer) Clean(value string) (string, error) {
	cleaned := s.policy.Sanitize(value)
	for _, re := range forbidden {
		if re.MatchString(cleaned) {
			return "", ErrForbiddenContent
		}
	}
	return cleaned, nil
}
