package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"testing"

	"github.com/lichen-labs/ragcore/doc"
)

func sentence(n int) string {
	return "This is sentence number " + strconv.Itoa(n) + " of the protocol purpose text."
}

func TestChunkOversizeSectionSplitsWithOverlap(t *testing.T) {
	var sentences []string
	for i := 0; i < 40; i++ {
		sentences = append(sentences, sentence(i))
	}
	body := strings.Join(sentences, " ")

	p := doc.Protocol{
		Title:          "T",
		ShortTitle:     "S",
		OverallPurpose: body,
	}

	ck := New(Config{MaxTokens: 60, OverlapTokens: 20, SentenceAware: true}, nil)
	chunks := ck.Chunk(p, "proto", "proto.json", "accuracy")

	var purposeChunks []Chunk
	for _, c := range chunks {
		if c.SectionName == "Overall Purpose" {
			purposeChunks = append(purposeChunks, c)
		}
	}

	if len(purposeChunks) < 2 {
		t.Fatalf("expected >= 2 chunks for oversize section, got %d", len(purposeChunks))
	}
	if purposeChunks[0].NTokens > 60 {
		t.Errorf("c0 tokens = %d, want <= 60", purposeChunks[0].NTokens)
	}
	if purposeChunks[0].ChunkID != "proto::s2::c0" {
		t.Errorf("c0 chunk_id = %q, want proto::s2::c0", purposeChunks[0].ChunkID)
	}
	if purposeChunks[1].ChunkID != "proto::s2::c1" {
		t.Errorf("c1 chunk_id = %q, want proto::s2::c1", purposeChunks[1].ChunkID)
	}

	// c1 must begin with a suffix of c0: its first word should be a word
	// that also appears at the tail of c0's text.
	c0Words := strings.Fields(purposeChunks[0].Text)
	c1FirstWord := strings.Fields(purposeChunks[1].Text)[0]
	if c0Words[len(c0Words)-1] != c1FirstWord && !strings.Contains(strings.Join(c0Words[len(c0Words)-10:], " "), c1FirstWord) {
		t.Errorf("c1 does not appear to start with an overlap suffix of c0")
	}
}

func TestChunkOversizeSentenceAfterNonEmptyBufferDoesNotDuplicate(t *testing.T) {
	normal := sentence(0) + " " + sentence(1)
	var oversizeWords []string
	for i := 0; i < 80; i++ {
		oversizeWords = append(oversizeWords, "word"+strconv.Itoa(i))
	}
	oversize := strings.Join(oversizeWords, " ") + "."
	body := normal + " " + oversize

	p := doc.Protocol{Title: "T", OverallPurpose: body}
	ck := New(Config{MaxTokens: 20, OverlapTokens: 5, SentenceAware: true}, nil)
	chunks := ck.Chunk(p, "proto", "proto.json", "accuracy")

	var purposeChunks []Chunk
	for _, c := range chunks {
		if c.SectionName == "Overall Purpose" {
			purposeChunks = append(purposeChunks, c)
		}
	}

	seen := make(map[string]int)
	var oversizeChunks int
	for _, c := range purposeChunks {
		seen[c.Text]++
		if strings.Contains(c.Text, "word0 word1") {
			oversizeChunks++
		}
	}
	for text, count := range seen {
		if count > 1 {
			t.Errorf("chunk text emitted %d times, want 1: %q", count, text)
		}
	}
	if oversizeChunks != 1 {
		t.Errorf("oversize sentence emitted in %d chunks, want exactly 1", oversizeChunks)
	}
}

func TestChunkExactBoundaryProducesOneChunk(t *testing.T) {
	body := sentence(0)
	p := doc.Protocol{Title: "T", OverallPurpose: body}

	ck0 := &Chunker{}
	tokens := ck0.tokens(body)

	ck := New(Config{MaxTokens: tokens, OverlapTokens: 10, SentenceAware: true}, nil)
	chunks := ck.Chunk(p, "proto", "proto.json", "accuracy")

	var purposeChunks []Chunk
	for _, c := range chunks {
		if c.SectionName == "Overall Purpose" {
			purposeChunks = append(purposeChunks, c)
		}
	}
	if len(purposeChunks) != 1 {
		t.Fatalf("body at exactly max_tokens produced %d chunks, want 1", len(purposeChunks))
	}
}

func TestChunkEmptySectionsSkipped(t *testing.T) {
	p := doc.Protocol{Title: "T"} // everything else empty
	ck := New(Config{MaxTokens: 600, OverlapTokens: 60, SentenceAware: true}, nil)
	chunks := ck.Chunk(p, "proto", "proto.json", "accuracy")

	for _, c := range chunks {
		if c.SectionName == "Completion Prompts" {
			t.Error("expected no chunk for the empty Completion Prompts section")
		}
	}
}

func TestChunkHashMatchesText(t *testing.T) {
	p := doc.Protocol{Title: "T", OverallPurpose: "Short body."}
	ck := New(Config{MaxTokens: 600, OverlapTokens: 60, SentenceAware: true}, nil)
	chunks := ck.Chunk(p, "proto", "proto.json", "accuracy")

	for _, c := range chunks {
		sum := sha256.Sum256([]byte(c.Text))
		if c.Hash != hex.EncodeToString(sum[:]) {
			t.Errorf("chunk %s hash = %q, want SHA-256 of its text", c.ChunkID, c.Hash)
		}
	}
}
