// Package chunker implements the section-aware, token-bounded chunker of
// spec.md §4.2: it flattens a Protocol's deterministic section sequence
// into an ordered list of Chunks, splitting oversize sections on sentence
// boundaries and carrying a suffix-sentence overlap forward.
package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/lichen-labs/ragcore/doc"
	"github.com/lichen-labs/ragcore/tokencount"
)

// Config controls the chunking behaviour for one lane.
type Config struct {
	MaxTokens      int  // hard cap per chunk
	OverlapTokens  int  // soft target for the suffix-sentence overlap
	SentenceAware  bool // if false, fall back to window-based token splitting
	AddBreadcrumbs bool // prefix each chunk with a short section-path line
}

// Chunk is the unit of indexing and retrieval (spec.md §3).
type Chunk struct {
	Text string

	ChunkID     string
	ProtocolID  string
	Title       string
	SectionName string
	SectionIdx  int
	ChunkIdx    int

	NTokens   int
	Hash      string
	CreatedAt string // ISO-8601

	SourcePath string
	Stones     []doc.Stone
	Profile    string // "speed" | "accuracy", optional
}

// sentenceBoundary splits on '.', '!' or '?' followed by whitespace — the
// "regex-level rule" spec.md §4.2 names.
var sentenceBoundary = regexp.MustCompile(`[.!?]\s+`)

// Chunker converts a Protocol's sections into Chunks for one lane.
type Chunker struct {
	cfg     Config
	counter *tokencount.Counter
}

// New returns a Chunker. A nil counter falls back to the char/4 estimator.
func New(cfg Config, counter *tokencount.Counter) *Chunker {
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 1000
	}
	return &Chunker{cfg: cfg, counter: counter}
}

// Chunk flattens the Protocol p's sections into Chunks. sourcePath,
// protocolID, title, stones and profile are carried into each chunk's
// metadata as spec.md §3 requires.
func (c *Chunker) Chunk(p doc.Protocol, protocolID, sourcePath, profile string) []Chunk {
	now := time.Now().UTC().Format(time.RFC3339)
	var out []Chunk

	for secIdx, sec := range doc.Sections(p) {
		bodies := c.splitSection(sec.Body)
		for chunkIdx, body := range bodies {
			text := body
			if c.cfg.AddBreadcrumbs {
				text = fmt.Sprintf("%s > %s\n\n%s", protocolID, sec.Name, body)
			}
			sum := sha256.Sum256([]byte(text))
			out = append(out, Chunk{
				Text:        text,
				ChunkID:     fmt.Sprintf("%s::s%d::c%d", protocolID, secIdx, chunkIdx),
				ProtocolID:  protocolID,
				Title:       p.Title,
				SectionName: sec.Name,
				SectionIdx:  secIdx,
				ChunkIdx:    chunkIdx,
				NTokens:     c.tokens(text),
				Hash:        hex.EncodeToString(sum[:]),
				CreatedAt:   now,
				SourcePath:  sourcePath,
				Stones:      p.Metadata.Stones,
				Profile:     profile,
			})
		}
	}
	return out
}

// splitSection implements the algorithm of spec.md §4.2 steps 2-4 for a
// single section body.
func (c *Chunker) splitSection(body string) []string {
	if c.tokens(body) <= c.cfg.MaxTokens {
		return []string{body}
	}

	sentences := c.splitSentences(body)
	if !c.cfg.SentenceAware {
		return c.splitByWindow(body)
	}

	var fragments []string
	var buf []string
	bufTokens := 0

	flush := func() {
		if len(buf) == 0 {
			return
		}
		fragments = append(fragments, strings.TrimSpace(strings.Join(buf, " ")))
	}

	for _, sent := range sentences {
		sentTokens := c.tokens(sent)

		// A single sentence longer than max_tokens is emitted as its own
		// oversize chunk rather than silently dropped. Handled before the
		// overlap-carry branch below so an oversize sentence never causes
		// the just-flushed buffer's tail to be re-flushed as a duplicate
		// fragment.
		if sentTokens > c.cfg.MaxTokens {
			flush()
			buf = nil
			bufTokens = 0
			fragments = append(fragments, strings.TrimSpace(sent))
			continue
		}

		if bufTokens > 0 && bufTokens+sentTokens > c.cfg.MaxTokens {
			flush()
			buf = c.suffixOverlap(buf)
			bufTokens = c.tokens(strings.Join(buf, " "))
		}

		buf = append(buf, sent)
		bufTokens += sentTokens
	}
	flush()

	return fragments
}

// suffixOverlap returns the tail sentences of buf whose combined token
// count is <= OverlapTokens, taken in reverse and stopping before the
// budget would be exceeded, then returned in original order (spec.md §9's
// resolution of the source's reverse-iteration overlap computation).
func (c *Chunker) suffixOverlap(buf []string) []string {
	if c.cfg.OverlapTokens <= 0 || len(buf) == 0 {
		return nil
	}
	var tail []string
	total := 0
	for i := len(buf) - 1; i >= 0; i-- {
		t := c.tokens(buf[i])
		if total+t > c.cfg.OverlapTokens {
			break
		}
		tail = append([]string{buf[i]}, tail...)
		total += t
	}
	return tail
}

// splitSentences splits text at the regex-level sentence boundary,
// preserving the terminal punctuation on the preceding sentence.
func (c *Chunker) splitSentences(text string) []string {
	var sentences []string
	last := 0
	for _, loc := range sentenceBoundary.FindAllStringIndex(text, -1) {
		sentences = append(sentences, strings.TrimSpace(text[last:loc[1]]))
		last = loc[1]
	}
	if last < len(text) {
		if rest := strings.TrimSpace(text[last:]); rest != "" {
			sentences = append(sentences, rest)
		}
	}
	return sentences
}

// splitByWindow is the non-sentence-aware fallback: fixed token windows
// with no overlap-aware boundary logic, used when sentence_aware=false.
func (c *Chunker) splitByWindow(text string) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	var fragments []string
	var buf []string
	for _, w := range words {
		buf = append(buf, w)
		if c.tokens(strings.Join(buf, " ")) >= c.cfg.MaxTokens {
			fragments = append(fragments, strings.Join(buf, " "))
			buf = nil
		}
	}
	if len(buf) > 0 {
		fragments = append(fragments, strings.Join(buf, " "))
	}
	return fragments
}

func (c *Chunker) tokens(text string) int {
	if c.counter == nil {
		return tokencount.EstimateCharDiv4(text)
	}
	return c.counter.Count(text)
}
