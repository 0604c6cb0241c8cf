// Package tokencount counts tokens with a BPE-like encoder, falling back
// to a char/4 estimate when no encoding is available (spec.md §3, §4.2).
package tokencount

import (
	"math"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

var (
	cacheMu       sync.RWMutex
	encodingCache = make(map[string]*tiktoken.Tiktoken)
)

// Counter counts tokens for a fixed encoding, falling back to the char/4
// heuristic if the encoding could not be resolved at construction time.
type Counter struct {
	encoding *tiktoken.Tiktoken
}

// New returns a Counter for the given BPE encoding name (e.g.
// "cl100k_base"). If the encoding cannot be loaded, the returned Counter
// silently uses the char/4 fallback for every call to Count.
func New(encodingName string) *Counter {
	if encodingName == "" {
		encodingName = "cl100k_base"
	}

	cacheMu.RLock()
	cached, ok := encodingCache[encodingName]
	cacheMu.RUnlock()
	if ok {
		return &Counter{encoding: cached}
	}

	enc, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		return &Counter{}
	}

	cacheMu.Lock()
	encodingCache[encodingName] = enc
	cacheMu.Unlock()

	return &Counter{encoding: enc}
}

// Count returns the token count of text, using the BPE encoder when
// available or ceil(len(text)/4) otherwise.
func (c *Counter) Count(text string) int {
	if c == nil || c.encoding == nil {
		return EstimateCharDiv4(text)
	}
	return len(c.encoding.Encode(text, nil, nil))
}

// EstimateCharDiv4 is the spec-mandated fallback estimator: ceil(len/4).
func EstimateCharDiv4(text string) int {
	return int(math.Ceil(float64(len(text)) / 4))
}
