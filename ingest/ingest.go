package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/lichen-labs/ragcore/chunker"
	"github.com/lichen-labs/ragcore/doc"
	"github.com/lichen-labs/ragcore/embed"
	"github.com/lichen-labs/ragcore/tokencount"
	"github.com/lichen-labs/ragcore/vectorindex"
)

// defaultConcurrency is spec.md §5's default bounded-pool size.
const defaultConcurrency = 8

// Validator is the external schema-validation collaborator of spec.md §6:
// given a parsed Protocol, return whether it is valid and, if not, the
// list of validation error messages.
type Validator func(p doc.Protocol) (valid bool, errs []string)

// Lane bundles everything one lane (speed or accuracy) needs to ingest a
// file: its profile, its chunker, its embedding backend, and its index.
type Lane struct {
	Profile Profile
	Backend embed.Backend
	Index   *vectorindex.Index
	Counter *tokencount.Counter
}

// Pipeline orchestrates the dual-lane ingest of spec.md §4.5.
type Pipeline struct {
	Lanes       map[string]Lane // keyed by profile name
	DataRoot    string          // root for per-chunk JSONL output
	Validator   Validator
	Concurrency int
}

// Result is the per-file, per-lane outcome of spec.md §4.5.
type Result struct {
	FilePath      string
	Lane          string
	ProtocolID    string
	Valid         bool
	ChunksCreated int
	ChunksFile    string
	ErrorMessage  string
}

// IngestPaths processes paths through every configured lane, parallelised
// over files with a bounded worker pool (default 8), following the
// teacher's graph.Builder.Build() semaphore+WaitGroup+mutex shape. Lanes
// are independent: a failure ingesting one file into one lane must not
// corrupt or block the other lane or other files.
func (p *Pipeline) IngestPaths(ctx context.Context, paths []string) []Result {
	concurrency := p.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		sem     = make(chan struct{}, concurrency)
		results []Result
		start   = time.Now()
	)

	total := len(paths)
	var completed int

	for _, path := range paths {
		wg.Add(1)
		go func(path string) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				mu.Lock()
				for lane := range p.Lanes {
					results = append(results, Result{FilePath: path, Lane: lane, ErrorMessage: ctx.Err().Error()})
				}
				mu.Unlock()
				return
			}

			fileStart := time.Now()
			fileResults := p.ingestOneFile(ctx, path)

			mu.Lock()
			results = append(results, fileResults...)
			completed++
			n := completed
			mu.Unlock()

			slog.Info("ingest: file processed",
				"progress", fmt.Sprintf("%d/%d", n, total),
				"path", path,
				"elapsed", time.Since(fileStart).Round(time.Millisecond),
				"total_elapsed", time.Since(start).Round(time.Millisecond))
		}(path)
	}

	wg.Wait()
	return results
}

// ingestOneFile runs one file through every lane. Each lane's failure is
// isolated: a chunk/embed/index failure in one lane produces an error
// Result for that lane without touching the other.
func (p *Pipeline) ingestOneFile(ctx context.Context, path string) []Result {
	protocol, parseErr := doc.ParseFile(path)
	if parseErr != nil {
		out := make([]Result, 0, len(p.Lanes))
		for name := range p.Lanes {
			out = append(out, Result{FilePath: path, Lane: name, ErrorMessage: parseErr.Error()})
		}
		return out
	}

	derived := doc.DeriveProtocolID(path, protocol)
	protocolID := derived.ProtocolID

	results := make([]Result, 0, len(p.Lanes))
	for name, lane := range p.Lanes {
		results = append(results, p.ingestLane(ctx, path, protocolID, protocol, lane))
	}
	return results
}

func (p *Pipeline) ingestLane(ctx context.Context, path, protocolID string, protocol doc.Protocol, lane Lane) Result {
	res := Result{FilePath: path, Lane: lane.Profile.Name, ProtocolID: protocolID}

	if lane.Profile.Validate && p.Validator != nil {
		valid, errs := p.Validator(protocol)
		if !valid {
			res.Valid = false
			res.ErrorMessage = joinErrs(errs)
			return res
		}
	}
	res.Valid = true

	ck := chunker.New(lane.Profile.chunkerConfig(), lane.Counter)
	chunks := ck.Chunk(protocol, protocolID, path, lane.Profile.Name)
	if len(chunks) == 0 {
		return res
	}

	if lane.Profile.DuplicateCheck {
		deduped, err := p.dropDuplicateChunks(ctx, lane, chunks)
		if err != nil {
			res.ErrorMessage = fmt.Sprintf("duplicate check failed: %v", err)
			return res
		}
		chunks = deduped
		if len(chunks) == 0 {
			return res
		}
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := lane.Backend.EmbedBatch(ctx, texts)
	if err != nil {
		res.ErrorMessage = fmt.Sprintf("embedding failed: %v", err)
		return res
	}

	items := make([]vectorindex.AddItem, len(chunks))
	for i, c := range chunks {
		items[i] = vectorindex.AddItem{
			Metadata: vectorindex.ChunkMetadata{
				ChunkID:     c.ChunkID,
				ProtocolID:  c.ProtocolID,
				Title:       c.Title,
				SectionName: c.SectionName,
				SectionIdx:  c.SectionIdx,
				ChunkIdx:    c.ChunkIdx,
				NTokens:     c.NTokens,
				Hash:        c.Hash,
				CreatedAt:   c.CreatedAt,
				SourcePath:  c.SourcePath,
				Stones:      stoneSlugs(c.Stones),
				Profile:     c.Profile,
				Text:        c.Text,
			},
			Vector: vectors[i],
		}
	}

	if err := lane.Index.Add(ctx, items); err != nil {
		res.ErrorMessage = fmt.Sprintf("index add failed: %v", err)
		return res
	}

	res.ChunksCreated = len(chunks)

	if lane.Profile.SaveChunks && p.DataRoot != "" {
		chunksFile, err := p.writeChunksJSONL(lane.Profile.Name, protocolID, chunks)
		if err != nil {
			slog.Warn("ingest: failed to save chunk jsonl", "path", path, "error", err)
		} else {
			res.ChunksFile = chunksFile
		}
	}

	return res
}

// dropDuplicateChunks implements the duplicate_check profile knob
// (spec.md §4.5, on by default for the accuracy lane): a chunk already
// present in the lane's index by hash, or repeated within this same
// batch, is skipped rather than re-indexed.
func (p *Pipeline) dropDuplicateChunks(ctx context.Context, lane Lane, chunks []chunker.Chunk) ([]chunker.Chunk, error) {
	seen := make(map[string]bool, len(chunks))
	out := make([]chunker.Chunk, 0, len(chunks))

	for _, c := range chunks {
		if seen[c.Hash] {
			continue
		}
		exists, err := lane.Index.HasHash(ctx, c.Hash)
		if err != nil {
			return nil, err
		}
		if exists {
			seen[c.Hash] = true
			continue
		}
		seen[c.Hash] = true
		out = append(out, c)
	}
	return out, nil
}

// writeChunksJSONL writes one JSON object per line, keys "text" and
// "metadata", to <data-root>/<lane>/<protocol_id>.chunks.jsonl (spec.md
// §4.5, §6).
func (p *Pipeline) writeChunksJSONL(lane, protocolID string, chunks []chunker.Chunk) (string, error) {
	dir := filepath.Join(p.DataRoot, lane)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	outPath := filepath.Join(dir, protocolID+".chunks.jsonl")

	f, err := os.Create(outPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	for _, c := range chunks {
		line := struct {
			Text     string      `json:"text"`
			Metadata chunkWireMD `json:"metadata"`
		}{
			Text: c.Text,
			Metadata: chunkWireMD{
				ChunkID:     c.ChunkID,
				ProtocolID:  c.ProtocolID,
				Title:       c.Title,
				SectionName: c.SectionName,
				SectionIdx:  c.SectionIdx,
				ChunkIdx:    c.ChunkIdx,
				NTokens:     c.NTokens,
				Hash:        c.Hash,
				CreatedAt:   c.CreatedAt,
				SourcePath:  c.SourcePath,
				Stones:      stoneSlugs(c.Stones),
				Profile:     c.Profile,
			},
		}
		data, err := json.Marshal(line)
		if err != nil {
			return "", err
		}
		if _, err := f.Write(append(data, '\n')); err != nil {
			return "", err
		}
	}
	return outPath, nil
}

type chunkWireMD struct {
	ChunkID     string   `json:"chunk_id"`
	ProtocolID  string   `json:"protocol_id"`
	Title       string   `json:"title"`
	SectionName string   `json:"section_name"`
	SectionIdx  int      `json:"section_idx"`
	ChunkIdx    int      `json:"chunk_idx"`
	NTokens     int      `json:"n_tokens"`
	Hash        string   `json:"hash"`
	CreatedAt   string   `json:"created_at"`
	SourcePath  string   `json:"source_path"`
	Stones      []string `json:"stones"`
	Profile     string   `json:"profile,omitempty"`
}

func stoneSlugs(stones []doc.Stone) []string {
	out := make([]string, len(stones))
	for i, s := range stones {
		out[i] = s.Normalize()
	}
	return out
}

func joinErrs(errs []string) string {
	out := ""
	for i, e := range errs {
		if i > 0 {
			out += "; "
		}
		out += e
	}
	return out
}
