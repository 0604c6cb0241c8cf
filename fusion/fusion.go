// Package fusion combines the two retrieval lanes' ranked result lists
// into a single ranked list (spec.md §4.7/§4.8), generalizing the
// teacher's three-source RRF to two lanes and adding a weighted-blend
// alternative.
package fusion

import (
	"sort"

	"github.com/lichen-labs/ragcore/vectorindex"
)

// rrfK is the standard Reciprocal Rank Fusion constant from the
// literature, unchanged from the teacher's rrfK.
const rrfK = 60

// Item is one candidate carried through fusion.
type Item struct {
	ChunkID string
	Result  vectorindex.SearchResult
	Source  string // "speed", "accurate", or "topup"
}

// Fused is one fused-and-ranked output entry.
type Fused struct {
	Item
	Score      float64
	Methods    []string
	SpeedRank  int // 1-based, 0 = not present
	AccurRank  int // 1-based, 0 = not present
}

// RRF fuses two ranked lists with Reciprocal Rank Fusion:
// score = sum(1 / (k_rrf + rank_i)), deduplicated by chunk_id, matching
// teacher's retrieval/rrf.go fuseRRF generalized from 3 sources to 2
// lanes (spec.md §4.8's fusion step). Unlike WeightedBlend, RRF has no
// per-lane weighting — only rank position matters (spec.md §8 scenario
// 4: fast [A,B,C], accurate [B,D,A], k_rrf=60 -> A appears at rank 1 in
// speed and rank 3 in accurate, so A's score = 1/61+1/63).
func RRF(speed, accurate []Item, maxResults int) []Fused {
	type entry struct {
		item    Item
		score   float64
		methods []string
		speed   int
		accur   int
	}

	fused := make(map[string]*entry)

	for rank, it := range speed {
		e, ok := fused[it.ChunkID]
		if !ok {
			e = &entry{item: it}
			fused[it.ChunkID] = e
		}
		e.score += 1 / float64(rrfK+rank+1)
		e.methods = append(e.methods, it.Source)
		e.speed = rank + 1
	}

	for rank, it := range accurate {
		e, ok := fused[it.ChunkID]
		if !ok {
			e = &entry{item: it}
			fused[it.ChunkID] = e
		}
		e.score += 1 / float64(rrfK+rank+1)
		e.methods = append(e.methods, it.Source)
		e.accur = rank + 1
	}

	entries := make([]*entry, 0, len(fused))
	for _, e := range fused {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].score > entries[j].score })

	if maxResults > 0 && len(entries) > maxResults {
		entries = entries[:maxResults]
	}

	out := make([]Fused, len(entries))
	for i, e := range entries {
		out[i] = Fused{Item: e.item, Score: e.score, Methods: e.methods, SpeedRank: e.speed, AccurRank: e.accur}
	}
	return out
}

// WeightedBlend fuses two ranked lists by a linear blend of their raw
// similarity scores (spec.md §4.7's alternative fusion mode), with
// defaults 0.35 (speed) / 0.65 (accurate) per spec.md §9.
func WeightedBlend(speed, accurate []Item, weightSpeed, weightAccurate float64, maxResults int) []Fused {
	type entry struct {
		item    Item
		score   float64
		methods []string
	}

	fused := make(map[string]*entry)

	for _, it := range speed {
		e, ok := fused[it.ChunkID]
		if !ok {
			e = &entry{item: it}
			fused[it.ChunkID] = e
		}
		e.score += weightSpeed * it.Result.Score
		e.methods = append(e.methods, it.Source)
	}

	for _, it := range accurate {
		e, ok := fused[it.ChunkID]
		if !ok {
			e = &entry{item: it}
			fused[it.ChunkID] = e
		}
		e.score += weightAccurate * it.Result.Score
		e.methods = append(e.methods, it.Source)
	}

	entries := make([]*entry, 0, len(fused))
	for _, e := range fused {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].score > entries[j].score })

	if maxResults > 0 && len(entries) > maxResults {
		entries = entries[:maxResults]
	}

	out := make([]Fused, len(entries))
	for i, e := range entries {
		out[i] = Fused{Item: e.item, Score: e.score, Methods: e.methods}
	}
	return out
}

// DefaultWeights returns the spec's default blend weights (speed,
// accurate) = (0.35, 0.65).
func DefaultWeights() (weightSpeed, weightAccurate float64) {
	return 0.35, 0.65
}
