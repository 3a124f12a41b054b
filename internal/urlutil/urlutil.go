// Package urlutil provides URL validation and IRI normalization for
// topic and callback URLs.
package urlutil

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrInvalidURL indicates a URL that fails the hub's validity rules.
var ErrInvalidURL = errors.New("urlutil: invalid URL")

// IsValid reports whether s is an acceptable hub URL: http or https
// scheme, non-empty host (optional port), and no fragment. The path may
// be empty. No port whitelist is enforced.
func IsValid(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	if u.Host == "" {
		return false
	}
	host := u.Host
	if i := strings.LastIndex(host, ":"); i >= 0 && !strings.HasSuffix(host, "]") {
		host = host[:i]
	}
	if host == "" {
		return false
	}
	if u.Fragment != "" {
		return false
	}
	return true
}

// Validate returns ErrInvalidURL wrapped with the offending URL when s
// fails IsValid.
func Validate(s string) error {
	if !IsValid(s) {
		return fmt.Errorf("%w: %q", ErrInvalidURL, s)
	}
	return nil
}

// HasPath reports whether s carries a non-empty path component. Topic
// URLs require one; callback URLs do not.
func HasPath(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return u.Path != ""
}

// NormalizeIRI percent-encodes every non-ASCII code point of s as its
// UTF-8 bytes, leaving ASCII untouched. Idempotent: already-encoded
// input contains only ASCII and passes through unchanged.
func NormalizeIRI(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r <= 0x7F {
			b.WriteRune(r)
			continue
		}
		for _, c := range []byte(string(r)) {
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}
