// Package grounding computes the 1..5 grounding score, stones-alignment,
// citation extraction, and the refusal guardrails of spec.md §4.10. Since
// spec.md's Non-goals exclude a generation model, "synthesis" here means
// the deterministic minimal grounded extract: the concatenated text of
// the top fused chunks, not an LLM-authored answer. This package adapts
// the teacher's reasoning/confidence.go, citation.go, and validator.go,
// with all LLM-chat generation removed.
package grounding

import (
	"strings"

	"github.com/lichen-labs/ragcore/fusion"
)

// maxExtractChunks bounds how many fused chunks feed the minimal
// grounded extract (spec.md §4.10's "minimal grounded extract").
const maxExtractChunks = 5

// Citation is one source reference inside the extract.
type Citation struct {
	SourceID  string `json:"source_id"`
	SpanStart int    `json:"span_start"`
	SpanEnd   int    `json:"span_end"`
}

// Result is the final payload: either a grounded answer or a refusal.
type Result struct {
	Text              string
	Citations         []Citation
	StonesAlignment   float64
	GroundingScore1to5 int
	GroundingNormalized float64
	InsufficientSupport bool
	Refusal           bool
	FallbackReason    string // "low_grounding", "no_citations", or ""
}

// Thresholds configures the guardrail cutoffs (spec.md §4.10).
type Thresholds struct {
	MinGrounding float64 // default 0.25
}

// DefaultThresholds matches spec.md §4.10's default MIN_GROUNDING=0.25.
func DefaultThresholds() Thresholds { return Thresholds{MinGrounding: 0.25} }

// BuildExtract concatenates the top fused chunks' text into the minimal
// grounded extract and records a citation per chunk, with byte spans into
// the extract (spec.md §4.10's "minimal grounded extract" + citations).
func BuildExtract(fused []fusion.Fused) (string, []Citation) {
	if len(fused) > maxExtractChunks {
		fused = fused[:maxExtractChunks]
	}

	var sb strings.Builder
	var citations []Citation
	for _, f := range fused {
		text := strings.TrimSpace(f.Result.Metadata.Text)
		if text == "" {
			continue
		}
		start := sb.Len()
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
			start = sb.Len()
		}
		sb.WriteString(text)
		citations = append(citations, Citation{
			SourceID:  f.Result.Metadata.ChunkID,
			SpanStart: start,
			SpanEnd:   start + len(text),
		})
	}
	return sb.String(), citations
}

// StonesAlignment is spec.md §4.10's deterministic baseline: the
// proportion of expected stone slugs (and each hyphen-split token) that
// appear in the lower-cased answer text.
func StonesAlignment(answer string, expectedStones []string) float64 {
	if len(expectedStones) == 0 {
		return 0
	}
	lower := strings.ToLower(answer)

	var tokens []string
	for _, slug := range expectedStones {
		tokens = append(tokens, strings.ToLower(slug))
		tokens = append(tokens, strings.Split(strings.ToLower(slug), "-")...)
	}

	hits := 0
	for _, tok := range tokens {
		if tok != "" && strings.Contains(lower, tok) {
			hits++
		}
	}
	if len(tokens) == 0 {
		return 0
	}
	return float64(hits) / float64(len(tokens))
}

// Score computes the integer 1..5 grounding score (spec.md §4.10): base
// 1, +1 for any citation, +1 if stonesAlignment > 0.5, +1 if > 0.7, +1 if
// hallucinations == 0. hallucinations is always 0 under the deterministic
// extract (no free-form generation can introduce unsupported claims).
func Score(citations []Citation, stonesAlignment float64, hallucinations int) (score1to5 int, normalized float64) {
	score := 1
	if len(citations) > 0 {
		score++
	}
	if stonesAlignment > 0.5 {
		score++
	}
	if stonesAlignment > 0.7 {
		score++
	}
	if hallucinations == 0 {
		score++
	}
	return score, float64(score-1) / 4.0
}

// Evaluate runs the three guardrails in order (spec.md §4.10) and
// produces the final Result.
func Evaluate(answer string, citations []Citation, expectedStones []string, th Thresholds) Result {
	alignment := StonesAlignment(answer, expectedStones)
	score, normalized := Score(citations, alignment, 0)

	result := Result{
		Text:                answer,
		Citations:           citations,
		StonesAlignment:     alignment,
		GroundingScore1to5:  score,
		GroundingNormalized: normalized,
		InsufficientSupport: normalized < 0.5,
	}

	if normalized < th.MinGrounding {
		result.Refusal = true
		result.FallbackReason = "low_grounding"
		result.Text = "Cannot answer confidently: insufficient grounding."
		result.Citations = nil
		return result
	}
	if len(citations) == 0 {
		result.Refusal = true
		result.FallbackReason = "no_citations"
		result.Text = "Cannot answer confidently: insufficient grounding."
		result.Citations = nil
		return result
	}
	return result
}
