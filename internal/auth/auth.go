// Package auth verifies API tokens. Token issuance is out of scope; the
// verifier only answers whether a presented token belongs to the configured
// set.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"strings"
)

// Verifier answers whether a token is valid.
type Verifier interface {
	Verify(token string) bool
}

// StaticVerifier checks tokens against a fixed set loaded at startup.
// Comparison is constant-time over token digests.
type StaticVerifier struct {
	digests [][32]byte
}

// NewStaticVerifier creates a verifier over the given tokens. Empty tokens
// are ignored; a verifier with no tokens rejects everything.
func NewStaticVerifier(tokens []string) *StaticVerifier {
	v := &StaticVerifier{}
	for _, t := range tokens {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		v.digests = append(v.digests, sha256.Sum256([]byte(t)))
	}
	return v
}

// ParseTokenList splits a comma-separated token list as configured via
// secrets or environment.
func ParseTokenList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Verify reports whether token is in the configured set.
func (v *StaticVerifier) Verify(token string) bool {
	if token == "" {
		return false
	}
	digest := sha256.Sum256([]byte(token))
	ok := false
	for i := range v.digests {
		if subtle.ConstantTimeCompare(v.digests[i][:], digest[:]) == 1 {
			ok = true
		}
	}
	return ok
}
