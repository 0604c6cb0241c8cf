// Package embed provides the two interchangeable embedding backends of
// spec.md §4.3: a deterministic fast/local encoder and a networked
// accurate/remote encoder with retry+backoff.
package embed

import "context"

// Backend is the uniform contract both embedding backends satisfy.
type Backend interface {
	EmbedOne(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	Name() string
}
