package doc

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

var (
	explicitIDPattern = regexp.MustCompile(`^[a-z0-9]+(_[a-z0-9]+)*$`)
	autoIDPattern     = regexp.MustCompile(`^auto_\d+(_\d+)?$`)
	nonStemChars      = regexp.MustCompile(`[^A-Za-z0-9 _-]+`)
	whitespaceOrDash  = regexp.MustCompile(`[\s-]+`)
)

// DeriveResult is the outcome of deriving a protocol_id: the id itself
// and whether it changed from whatever the document carried explicitly.
type DeriveResult struct {
	ProtocolID string
	Changed    bool
}

// DeriveProtocolID implements spec.md §4.1. If p.ProtocolID already
// matches the accepted explicit-id pattern and is not an "auto_N"
// placeholder, it is kept unchanged. Otherwise a fresh id is derived from
// the source path's file stem. The derivation is idempotent: calling it
// twice on the same (path, already-derived id) yields Changed=false.
func DeriveProtocolID(sourcePath string, p Protocol) DeriveResult {
	existing := p.ProtocolID
	if explicitIDPattern.MatchString(existing) && !autoIDPattern.MatchString(existing) {
		return DeriveResult{ProtocolID: existing, Changed: false}
	}

	derived := deriveFromStem(sourcePath)
	return DeriveResult{ProtocolID: derived, Changed: derived != existing}
}

// DeriveAndPersist derives the protocol_id as DeriveProtocolID does, and,
// when persist is true and the id changed, rewrites the "protocol_id"
// field in the source file in place (spec.md §9's open question: this
// repo never persists automatically — the caller opts in explicitly).
func DeriveAndPersist(sourcePath string, p Protocol, persist bool) (DeriveResult, error) {
	result := DeriveProtocolID(sourcePath, p)
	if !persist || !result.Changed {
		return result, nil
	}
	if err := persistProtocolID(sourcePath, result.ProtocolID); err != nil {
		return result, err
	}
	return result, nil
}

// persistProtocolID rewrites only the "protocol_id" field of the source
// file, leaving every other field byte-for-byte as the author wrote it
// aside from JSON re-serialization.
func persistProtocolID(sourcePath, protocolID string) error {
	raw, err := os.ReadFile(sourcePath)
	if err != nil {
		return fmt.Errorf("doc: reading %s for persist: %w", sourcePath, err)
	}

	var generic map[string]json.RawMessage
	if err := json.Unmarshal(raw, &generic); err != nil {
		return fmt.Errorf("doc: decoding %s for persist: %w", sourcePath, err)
	}

	idBytes, err := json.Marshal(protocolID)
	if err != nil {
		return fmt.Errorf("doc: encoding protocol_id: %w", err)
	}
	generic["protocol_id"] = idBytes

	out, err := json.MarshalIndent(generic, "", "  ")
	if err != nil {
		return fmt.Errorf("doc: re-encoding %s: %w", sourcePath, err)
	}
	return os.WriteFile(sourcePath, out, 0644)
}

// deriveFromStem computes a protocol_id from a file path's stem by
// NFKD-normalising, stripping combining marks, removing anything outside
// [A-Za-z0-9 _-], collapsing whitespace/dashes to a single underscore, and
// lower-casing the result.
func deriveFromStem(sourcePath string) string {
	stem := strings.TrimSuffix(filepath.Base(sourcePath), filepath.Ext(sourcePath))

	decomposed := norm.NFKD.String(stem)
	var stripped strings.Builder
	for _, r := range decomposed {
		if unicode.Is(unicode.Mn, r) { // combining mark
			continue
		}
		stripped.WriteRune(r)
	}

	cleaned := nonStemChars.ReplaceAllString(stripped.String(), "")
	collapsed := whitespaceOrDash.ReplaceAllString(cleaned, "_")
	return strings.ToLower(strings.Trim(collapsed, "_"))
}
