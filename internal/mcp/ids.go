package mcp

import (
	"crypto/rand"
	"encoding/base32"
	"strings"
)

// newServerID returns a random 8-character token, lowercase alphanumeric,
// unique enough within one manager's lifetime.
func newServerID() string {
	b := make([]byte, 5)
	if _, err := rand.Read(b); err != nil {
		panic("mcp: failed to read random bytes for server id: " + err.Error())
	}
	enc := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(b)
	return strings.ToLower(enc)[:8]
}
