package router

import (
	"context"
	"math"
	"sort"
	"strings"

	"github.com/lichen-labs/ragcore/catalog"
	"github.com/lichen-labs/ragcore/embed"
)

// Route is the candidate-count decision (spec.md §3's "Router decision").
type Route string

const (
	RouteSingle Route = "single"
	RouteDouble Route = "double"
	RouteTriple Route = "triple"
	RouteAll    Route = "all"
)

// Candidate is one scored protocol.
type Candidate struct {
	ProtocolID string
	Title      string
	Score      float64
}

// Decision is the router's output.
type Decision struct {
	Candidates []Candidate
	Confidence float64
	Route      Route
}

// Thresholds hold the three named cutoffs a scorer uses (spec.md §4.6).
type Thresholds struct {
	Single, Double, Triple float64
}

// ThresholdsEmbedding are the embedding-scorer thresholds.
var ThresholdsEmbedding = Thresholds{Single: 0.45, Double: 0.30, Triple: 0.22}

// ThresholdsTFIDF are the TF-IDF fallback-scorer thresholds. spec.md §9
// flags this as an unresolved ambiguity in the source (two threshold
// sets for two scorers); both are kept here, labelled, rather than
// collapsed into one guessed value.
var ThresholdsTFIDF = Thresholds{Single: 0.25, Double: 0.20, Triple: 0.15}

// Weights are the scoring formula's term weights (spec.md §4.6).
type Weights struct {
	Centroid, Stones, Keywords float64
}

// DefaultWeights matches spec.md §4.6's formula: 0.6/0.2/0.2.
func DefaultWeights() Weights { return Weights{Centroid: 0.6, Stones: 0.2, Keywords: 0.2} }

// RouteEmbedding scores every catalog entry against the query's
// embedding and signals, then applies the embedding threshold ladder
// (spec.md §4.6).
func RouteEmbedding(ctx context.Context, query string, cat catalog.Catalog, embedder embed.Backend, synonyms []StoneSynonym, weights Weights) (Decision, error) {
	pq := ParseQuery(query, synonyms)

	qVec, err := embedder.EmbedOne(ctx, query)
	if err != nil {
		return Decision{}, err
	}
	qVec = l2Normalize(qVec)

	scored := make([]Candidate, 0, len(cat.Entries))
	for _, e := range cat.Entries {
		score := weights.Centroid*cosine(qVec, e.Centroid) +
			weights.Stones*jaccard(pq.Stones, e.Stones) +
			weights.Keywords*keywordOverlap(pq.Keywords, e)
		scored = append(scored, Candidate{ProtocolID: e.ProtocolID, Title: e.Title, Score: score})
	}
	return decide(scored, ThresholdsEmbedding), nil
}

// RouteTFIDF is the fallback scorer used when no embedder is available
// (spec.md §7's RouterUnavailable policy): TF-IDF cosine similarity over
// (title, key_phrases, tags).
func RouteTFIDF(query string, cat catalog.Catalog, synonyms []StoneSynonym) Decision {
	pq := ParseQuery(query, synonyms)

	docs := make([][]string, len(cat.Entries))
	for i, e := range cat.Entries {
		var doc []string
		doc = append(doc, tokenize(e.Title)...)
		for _, kp := range e.KeyPhrases {
			doc = append(doc, tokenize(kp)...)
		}
		for _, t := range e.Tags {
			doc = append(doc, tokenize(t)...)
		}
		docs[i] = doc
	}

	idf := computeIDF(docs)
	queryVec := tfidfVector(tokenize(query), idf)

	scored := make([]Candidate, len(cat.Entries))
	for i, e := range cat.Entries {
		docVec := tfidfVector(docs[i], idf)
		cosScore := cosineSparse(queryVec, docVec)
		score := 0.6*cosScore + 0.2*jaccard(pq.Stones, e.Stones) + 0.2*keywordOverlap(pq.Keywords, e)
		scored[i] = Candidate{ProtocolID: e.ProtocolID, Title: e.Title, Score: score}
	}
	return decide(scored, ThresholdsTFIDF)
}

func decide(scored []Candidate, th Thresholds) Decision {
	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })

	if len(scored) == 0 {
		return Decision{Route: RouteAll}
	}

	top := scored[0].Score
	switch {
	case top >= th.Single:
		return Decision{Candidates: scored[:1], Confidence: top, Route: RouteSingle}
	case top >= th.Double:
		return Decision{Candidates: firstN(scored, 2), Confidence: top, Route: RouteDouble}
	case top >= th.Triple:
		return Decision{Candidates: firstN(scored, 3), Confidence: top, Route: RouteTriple}
	default:
		return Decision{Confidence: top, Route: RouteAll}
	}
}

func firstN(c []Candidate, n int) []Candidate {
	if len(c) < n {
		n = len(c)
	}
	out := make([]Candidate, n)
	copy(out, c[:n])
	return out
}

func jaccard(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	setA := toSet(a)
	setB := toSet(b)
	inter := 0
	for k := range setA {
		if setB[k] {
			inter++
		}
	}
	union := len(setA)
	for k := range setB {
		if !setA[k] {
			union++
		}
	}
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func toSet(xs []string) map[string]bool {
	m := make(map[string]bool, len(xs))
	for _, x := range xs {
		m[x] = true
	}
	return m
}

// keywordOverlap implements spec.md §4.6's third term: the fraction of
// query keywords that appear as a substring of (or contain) some tag,
// key-phrase, or field of the entry.
func keywordOverlap(keywords []string, e catalog.Entry) float64 {
	if len(keywords) == 0 {
		return 0
	}
	terms := make([]string, 0, len(e.Tags)+len(e.KeyPhrases)+len(e.Fields))
	for _, t := range e.Tags {
		terms = append(terms, strings.ToLower(t))
	}
	for _, t := range e.KeyPhrases {
		terms = append(terms, strings.ToLower(t))
	}
	for _, t := range e.Fields {
		terms = append(terms, strings.ToLower(t))
	}

	hits := 0
	for _, k := range keywords {
		for _, t := range terms {
			if strings.Contains(t, k) || strings.Contains(k, t) {
				hits++
				break
			}
		}
	}
	return float64(hits) / float64(len(keywords))
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
