package agent

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

// Key identifies one addressable agent instance.
type Key struct {
	Class    string
	Instance string
}

// DeriveID returns a deterministic, filesystem-safe identifier for k,
// used as the SQLite file name for the instance's store.
func DeriveID(k Key) string {
	sum := sha256.Sum256([]byte(k.Class + "\x00" + k.Instance))
	return hex.EncodeToString(sum[:])
}

var (
	boundaryLowerUpper = regexp.MustCompile(`([a-z0-9])([A-Z])`)
	boundaryAcronym    = regexp.MustCompile(`([A-Z]+)([A-Z][a-z])`)
	underscoreRuns     = regexp.MustCompile(`_+`)
)

// KebabCase normalizes a class name to kebab-case for URL routing:
// lowercased, with a dash inserted at camelCase boundaries (an uppercase
// letter after a lowercase letter or a digit, and the last capital of an
// acronym run before a lowercase letter), runs of underscore collapsed to a
// single dash, and leading/trailing dashes trimmed. A letter followed by a
// digit gets no dash ("Test123" becomes "test123").
func KebabCase(name string) string {
	s := boundaryAcronym.ReplaceAllString(name, "$1-$2")
	s = boundaryLowerUpper.ReplaceAllString(s, "$1-$2")
	s = strings.ToLower(s)
	s = underscoreRuns.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	return s
}
