// Package fingerprint derives the grouping key that collapses events into issues.
package fingerprint

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
)

// Length is the number of hex characters kept from the digest.
// Collisions at 64 bits are accepted; there is no collision handling.
const Length = 16

// Compute returns the fingerprint for an event type and message.
// Identical type and message pairs always produce the same value.
func Compute(eventType, message string) string {
	sum := md5.Sum([]byte(eventType + ":" + message))
	return hex.EncodeToString(sum[:])[:Length]
}

// Resolve returns explicit unchanged when it is non-blank, otherwise the
// computed fingerprint.
func Resolve(explicit, eventType, message string) string {
	if strings.TrimSpace(explicit) != "" {
		return explicit
	}
	return Compute(eventType, message)
}
