package auth

import (
	"crypto/subtle"
	"strings"
)

// CheckAPIKey compares a presented key against the configured key in
// constant time. A cheap length check runs first; length is not secret.
func CheckAPIKey(presented, configured string) bool {
	if configured == "" || len(presented) != len(configured) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(configured)) == 1
}

// StripKeyPrefix removes an optional scheme prefix (for example "Bearer ")
// from a presented key. An empty prefix is a no-op.
func StripKeyPrefix(presented, prefix string) string {
	if prefix == "" {
		return presented
	}
	return strings.TrimSpace(strings.TrimPrefix(presented, prefix))
}
