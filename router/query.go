// Package router implements the protocol router of spec.md §4.6: query
// parsing, per-protocol scoring, and the candidate-count decision.
package router

import (
	"regexp"
	"strings"
)

// StoneSynonym maps a regex over query text to the principle slug it
// signals, e.g. "burnout|burden|heavy" -> "stewardship".
type StoneSynonym struct {
	Pattern *regexp.Regexp
	Stone   string
}

// DefaultStoneSynonyms is the curated synonym table spec.md §4.6 names by
// example ("burnout|burden|heavy" -> stewardship).
func DefaultStoneSynonyms() []StoneSynonym {
	table := []struct{ pattern, stone string }{
		{`burnout|burden|heavy|exhaust`, "stewardship"},
		{`slow|pace|rush|hurry`, "speed"},
		{`boundary|boundaries|scope\s*creep`, "clean_edges"},
		{`trust|confidence|doubt`, "trust"},
		{`clarity|clear|confus`, "clarity"},
	}
	out := make([]StoneSynonym, len(table))
	for i, t := range table {
		out[i] = StoneSynonym{Pattern: regexp.MustCompile(`(?i)` + t.pattern), Stone: t.stone}
	}
	return out
}

// defaultStopWords excludes common function words from keyword
// extraction (spec.md §4.6: "tokens of length > 3 excluding a stop-word
// list").
var defaultStopWords = map[string]bool{
	"that": true, "this": true, "with": true, "from": true, "have": true,
	"what": true, "when": true, "where": true, "which": true, "about": true,
	"there": true, "their": true, "would": true, "could": true, "should": true,
	"into": true, "your": true, "been": true, "were": true, "will": true,
}

var nonWord = regexp.MustCompile(`[^\w\s]+`)

// ParsedQuery is the set of signals extracted from a raw query string.
type ParsedQuery struct {
	Raw      string
	Stones   []string
	Keywords []string
	Intents  []string
}

// intentKeywords maps coarse intents to the keywords that signal them
// (spec.md §4.6: "support, information, problem_solving,
// protocol_selection").
var intentKeywords = map[string][]string{
	"support":            {"help", "support", "struggling", "stuck", "overwhelmed"},
	"information":        {"what", "explain", "define", "describe", "mean"},
	"problem_solving":    {"fix", "resolve", "solve", "troubleshoot", "debug"},
	"protocol_selection": {"which", "protocol", "choose", "recommend", "best"},
}

// ParseQuery implements spec.md §4.6's query parsing: lower-case, strip
// non-word characters, extract stones signals, keywords, and intents.
func ParseQuery(query string, synonyms []StoneSynonym) ParsedQuery {
	lower := strings.ToLower(query)
	cleaned := nonWord.ReplaceAllString(lower, " ")

	pq := ParsedQuery{Raw: query}

	for _, syn := range synonyms {
		if syn.Pattern.MatchString(lower) {
			pq.Stones = append(pq.Stones, syn.Stone)
		}
	}

	for _, tok := range strings.Fields(cleaned) {
		if len(tok) > 3 && !defaultStopWords[tok] {
			pq.Keywords = append(pq.Keywords, tok)
		}
	}

	for intent, keywords := range intentKeywords {
		for _, kw := range keywords {
			if strings.Contains(cleaned, kw) {
				pq.Intents = append(pq.Intents, intent)
				break
			}
		}
	}

	return pq
}
