// Package catalog builds the protocol catalog the router scores against:
// a per-protocol centroid embedding plus synonym/key-phrase extraction
// (spec.md §4.6).
package catalog

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"math"
	"sort"
	"strings"

	"github.com/lichen-labs/ragcore/doc"
	"github.com/lichen-labs/ragcore/embed"
)

// maxKeyPhrases caps the deduplicated key-phrase list per entry.
const maxKeyPhrases = 20

// Entry is one protocol's catalog record (spec.md §3's "Protocol catalog
// entry").
type Entry struct {
	ProtocolID string
	Title      string
	ShortTitle string
	Stones     []string
	Tags       []string
	Fields     []string
	Bridges    []string
	KeyPhrases []string
	Centroid   []float32 // unit-length
}

// Catalog is the full set of entries plus the identity it was built with.
type Catalog struct {
	EmbedderName string
	ContentHash  string
	Entries      []Entry
}

// SourceProtocol pairs a parsed Protocol with its derived id for catalog
// building.
type SourceProtocol struct {
	ProtocolID string
	Protocol   doc.Protocol
}

// Build embeds each protocol's collected key texts, averages them, and
// L2-normalises the result into a centroid (spec.md §4.6).
func Build(ctx context.Context, protocols []SourceProtocol, embedder embed.Backend) (Catalog, error) {
	cat := Catalog{EmbedderName: embedder.Name(), ContentHash: ContentHash(protocols)}

	for _, sp := range protocols {
		entry := Entry{
			ProtocolID: sp.ProtocolID,
			Title:      sp.Protocol.Title,
			ShortTitle: sp.Protocol.ShortTitle,
			Tags:       sp.Protocol.Metadata.Tags,
			Fields:     sp.Protocol.Metadata.Fields,
			Bridges:    sp.Protocol.Metadata.Bridges,
			KeyPhrases: keyPhrases(sp.Protocol),
		}
		for _, s := range sp.Protocol.Metadata.Stones {
			entry.Stones = append(entry.Stones, s.Normalize())
		}

		texts := centroidTexts(sp.Protocol, entry.KeyPhrases)
		vecs, err := embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return Catalog{}, err
		}
		entry.Centroid = l2Normalize(average(vecs, embedder.Dimension()))

		cat.Entries = append(cat.Entries, entry)
	}

	return cat, nil
}

// ContentHash fingerprints the protocol set Build would embed, without
// running any embedder — used by cmd/ragcored's buildCatalog to decide
// whether a cached catalog is still fresh.
func ContentHash(protocols []SourceProtocol) string {
	var hashInput strings.Builder
	for _, sp := range protocols {
		entry := Entry{KeyPhrases: keyPhrases(sp.Protocol)}
		texts := centroidTexts(sp.Protocol, entry.KeyPhrases)
		hashInput.WriteString(sp.ProtocolID)
		hashInput.WriteString("|")
		hashInput.WriteString(strings.Join(texts, "|"))
		hashInput.WriteString("\n")
	}
	sum := sha256.Sum256([]byte(hashInput.String()))
	return hex.EncodeToString(sum[:])
}

// centroidTexts collects the texts a centroid is averaged over: title,
// stone slugs, key phrases, tags, and fields.
func centroidTexts(p doc.Protocol, keyPhrases []string) []string {
	var texts []string
	if p.Title != "" {
		texts = append(texts, p.Title)
	}
	for _, s := range p.Metadata.Stones {
		texts = append(texts, s.Normalize())
	}
	texts = append(texts, keyPhrases...)
	texts = append(texts, p.Metadata.Tags...)
	texts = append(texts, p.Metadata.Fields...)
	if len(texts) == 0 {
		texts = []string{""}
	}
	return texts
}

// keyPhrases implements spec.md §4.6's extraction rules: theme names;
// first 3-5 words of guiding questions; short phrases from "Present
// pattern" of Expected/Excellent outcomes; first 2-4 words of completion
// prompts; deduplicated, capped at 20.
func keyPhrases(p doc.Protocol) []string {
	seen := make(map[string]bool)
	var out []string

	// add reports only whether the cap has been reached (true = stop
	// extraction entirely). A duplicate or empty phrase is skipped, not
	// treated as a reason to stop.
	add := func(phrase string) bool {
		phrase = strings.TrimSpace(phrase)
		if phrase != "" && !seen[phrase] {
			seen[phrase] = true
			out = append(out, phrase)
		}
		return len(out) >= maxKeyPhrases
	}

	for _, th := range p.Themes {
		if add(th.Name) {
			return out
		}
		for _, q := range th.GuidingQuestions {
			if add(firstWords(q, 4)) {
				return out
			}
		}
		if add(firstWords(th.Outcomes.Expected.PresentPattern, 6)) {
			return out
		}
		if add(firstWords(th.Outcomes.Excellent.PresentPattern, 6)) {
			return out
		}
	}

	if add(firstWords(p.OverallOutcomes.Expected.PresentPattern, 6)) {
		return out
	}
	if add(firstWords(p.OverallOutcomes.Excellent.PresentPattern, 6)) {
		return out
	}

	for _, cp := range p.CompletionPrompts {
		if add(firstWords(cp, 3)) {
			return out
		}
	}

	return out
}

// firstWords returns the first n whitespace-separated words of s.
func firstWords(s string, n int) string {
	fields := strings.Fields(s)
	if len(fields) > n {
		fields = fields[:n]
	}
	return strings.Join(fields, " ")
}

func average(vecs [][]float32, dim int) []float32 {
	out := make([]float32, dim)
	if len(vecs) == 0 {
		return out
	}
	for _, v := range vecs {
		for i := 0; i < dim && i < len(v); i++ {
			out[i] += v[i]
		}
	}
	n := float32(len(vecs))
	for i := range out {
		out[i] /= n
	}
	return out
}

func l2Normalize(v []float32) []float32 {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	if sumSq == 0 {
		return v
	}
	norm := float32(math.Sqrt(sumSq))
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = x / norm
	}
	return out
}

// SortedByProtocolID is a convenience accessor used by tests and callers
// that want deterministic iteration order.
func (c Catalog) SortedByProtocolID() []Entry {
	out := make([]Entry, len(c.Entries))
	copy(out, c.Entries)
	sort.Slice(out, func(i, j int) bool { return out[i].ProtocolID < out[j].ProtocolID })
	return out
}
