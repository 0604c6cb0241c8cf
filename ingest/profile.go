// Package ingest implements the dual-lane ingest pipeline of spec.md
// §4.5: per lane, parse -> derive id -> validate -> chunk -> embed -> add
// to the lane's index, parallelised over files with a bounded worker pool
// (spec.md §5).
package ingest

import (
	"github.com/lichen-labs/ragcore/chunker"
)

// Profile is the per-lane knob table of spec.md §4.5.
type Profile struct {
	Name             string // "speed" | "accuracy"
	Validate         bool
	MaxTokens        int
	OverlapTokens    int
	SaveChunks       bool
	DuplicateCheck   bool
}

// SpeedProfile is the default "speed" lane profile.
func SpeedProfile() Profile {
	return Profile{Name: "speed", Validate: false, MaxTokens: 1000, OverlapTokens: 100, SaveChunks: false, DuplicateCheck: false}
}

// AccuracyProfile is the default "accuracy" lane profile.
func AccuracyProfile() Profile {
	return Profile{Name: "accuracy", Validate: true, MaxTokens: 600, OverlapTokens: 60, SaveChunks: true, DuplicateCheck: true}
}

// Override applies sidebar_overrides (spec.md §6) onto a copy of p.
func (p Profile) Override(overrides map[string]any) Profile {
	out := p
	switch v := overrides["max_tokens"].(type) {
	case int:
		out.MaxTokens = v
	case float64:
		out.MaxTokens = int(v)
	}
	switch v := overrides["overlap_tokens"].(type) {
	case int:
		out.OverlapTokens = v
	case float64:
		out.OverlapTokens = int(v)
	}
	return out
}

func (p Profile) chunkerConfig() chunker.Config {
	return chunker.Config{
		MaxTokens:     p.MaxTokens,
		OverlapTokens: p.OverlapTokens,
		SentenceAware: true,
	}
}
