package service

import (
	"crypto/sha1"
	"encoding/base32"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"FetchVault/model"
)

// infohashPattern matches the btih parameter of a swarm descriptor, in
// either 40-char hex or 32-char base32 form.
var infohashPattern = regexp.MustCompile(`btih:([0-9A-Fa-f]{40}|[A-Za-z2-7]{32})`)

// ParseInfohash extracts the normalized (lowercase hex) infohash from a
// swarm descriptor.
func ParseInfohash(source string) (string, error) {
	m := infohashPattern.FindStringSubmatch(source)
	if m == nil {
		return "", &ValidationError{Reason: "infohash not found"}
	}
	raw := m[1]
	if len(raw) == 40 {
		return strings.ToLower(raw), nil
	}
	decoded, err := base32.StdEncoding.DecodeString(strings.ToUpper(raw))
	if err != nil {
		return "", &ValidationError{Reason: "bad base32 infohash"}
	}
	return hex.EncodeToString(decoded), nil
}

// DeriveIdentifier computes the dedup fingerprint of a source: the
// infohash for swarm descriptors, a content hash for direct URLs.
func DeriveIdentifier(sourceKind, source string) (string, error) {
	switch sourceKind {
	case model.SourceSwarm:
		return ParseInfohash(source)
	case model.SourceDirectURL:
		sum := sha1.Sum([]byte(strings.TrimSpace(source)))
		return hex.EncodeToString(sum[:]), nil
	default:
		return "", &ValidationError{Reason: fmt.Sprintf("unknown source kind %q", sourceKind)}
	}
}
