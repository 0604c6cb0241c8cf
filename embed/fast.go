package embed

import (
	"context"
	"hash/fnv"
	"strings"
)

// defaultFastDim matches spec.md §4.3's example fast/local dimension.
const defaultFastDim = 384

// fastBackend is a deterministic, in-process sentence encoder: a hashing
// bag-of-words vectoriser. It requires no network and no credentials, so
// it never fails — it exists to exercise the fast lane end-to-end without
// depending on an external model, in the same spirit as the teacher's
// Provider-shaped LLM clients (llm/ollama.go) but entirely local.
type fastBackend struct {
	dim int
}

// NewFast returns the fast/local embedding backend. dim<=0 uses the
// spec's example dimension (384).
func NewFast(dim int) Backend {
	if dim <= 0 {
		dim = defaultFastDim
	}
	return &fastBackend{dim: dim}
}

func (f *fastBackend) Name() string    { return "fast-local-hash" }
func (f *fastBackend) Dimension() int  { return f.dim }

func (f *fastBackend) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	return f.vectorize(text), nil
}

func (f *fastBackend) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		out[i] = f.vectorize(t)
	}
	return out, nil
}

// vectorize hashes each lower-cased token into a bucket of the output
// vector and accumulates counts, producing the same vector for the same
// text on every call (determinism is required by spec.md §4.3).
func (f *fastBackend) vectorize(text string) []float32 {
	v := make([]float32, f.dim)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		idx := int(h.Sum32()) % f.dim
		if idx < 0 {
			idx += f.dim
		}
		v[idx]++
	}
	return v
}
