package retrieval

import (
	"math"

	"github.com/lichen-labs/ragcore/fusion"
)

// mmr implements Maximal Marginal Relevance diversification for the fast
// lane (spec.md §9's resolution of the "MMR placeholder" note): greedily
// pick the item maximizing lambda*relevance - (1-lambda)*maxSimilarity to
// already-picked items, using the embeddings vectorindex cached at
// add-time rather than re-embedding candidates.
func mmr(query []float32, items []fusion.Item, lambda float64, topK int) []fusion.Item {
	if len(items) == 0 {
		return items
	}
	if topK <= 0 || topK > len(items) {
		topK = len(items)
	}

	remaining := make([]fusion.Item, len(items))
	copy(remaining, items)
	relevance := make([]float64, len(remaining))
	for i, it := range remaining {
		relevance[i] = cosine(query, it.Result.Embedding)
	}

	var picked []fusion.Item
	pickedVecs := make([][]float32, 0, topK)

	for len(picked) < topK && len(remaining) > 0 {
		bestIdx := -1
		bestScore := math.Inf(-1)
		for i, it := range remaining {
			maxSim := 0.0
			for _, pv := range pickedVecs {
				if sim := cosine(it.Result.Embedding, pv); sim > maxSim {
					maxSim = sim
				}
			}
			score := lambda*relevance[i] - (1-lambda)*maxSim
			if score > bestScore {
				bestScore = score
				bestIdx = i
			}
		}
		picked = append(picked, remaining[bestIdx])
		pickedVecs = append(pickedVecs, remaining[bestIdx].Result.Embedding)
		relevance = append(relevance[:bestIdx], relevance[bestIdx+1:]...)
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}
	return picked
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
