// Package obs implements the structured per-turn JSONL observability log
// of spec.md §6: redaction, sampling, rotation, and warm-up flagging.
// Events carry per-stage timings; no latency percentiles (p95 or
// otherwise) are computed or tracked. It follows the teacher's pervasive structured-logging
// idiom (log/slog key-value fields) re-targeted at a JSONL file sink,
// with request IDs grounded in github.com/google/uuid.
package obs

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Citation mirrors grounding.Citation's wire shape for the log line
// (spec.md §6: "citations [{source_id, span_start, span_end}]").
type Citation struct {
	SourceID  string `json:"source_id"`
	SpanStart int    `json:"span_start"`
	SpanEnd   int    `json:"span_end"`
}

// Stages records the latency breakdown of one query (spec.md §6).
type Stages struct {
	RetrieveMs int64 `json:"retrieve_ms"`
	RerankMs   int64 `json:"rerank_ms"`
	SynthMs    int64 `json:"synth_ms"`
	TotalMs    int64 `json:"total_ms"`
}

// Flags records boolean/string policy outcomes for one query.
type Flags struct {
	RAGEnabled bool   `json:"rag_enabled"`
	Fallback   string `json:"fallback,omitempty"`
	Warmup     bool   `json:"warmup"`
	Refusal    string `json:"refusal,omitempty"`
}

// Event is one observability log line (spec.md §6's Observability log
// field list).
type Event struct {
	Timestamp      string      `json:"ts"`
	RequestID      string      `json:"request_id"`
	Lane           string      `json:"lane"`
	TopK           int         `json:"topk"`
	Stones         []string    `json:"stones,omitempty"`
	GroundingScore *float64    `json:"grounding_score"`
	Stages         Stages      `json:"stages"`
	Flags          Flags       `json:"flags"`
	Citations      []Citation  `json:"citations,omitempty"`
	Query          interface{} `json:"query"`
	Trace          interface{} `json:"trace,omitempty"`
}

// redactedQuery is the shape used when Config.Redact (RAG_OBS_REDACT) hides
// raw query text (spec.md §6: "query (string | {hash, len} if redacted)").
type redactedQuery struct {
	Hash string `json:"hash"`
	Len  int    `json:"len"`
}

// Config configures a Logger.
type Config struct {
	Enabled  bool
	Dir      string
	File     string // overrides the default YYYY-MM-DD.jsonl name when set
	Sampling float64
	Redact   bool
	MaxLen   int
}

// Logger writes observability events to a rotating per-day JSONL file.
// The first warmupQueries calls to NewRequestID per process are flagged
// as warm-up (spec.md §5's "first three warm-up queries per process").
type Logger struct {
	cfg     Config
	mu      sync.Mutex
	queries int64
}

const warmupQueries = 3

// New returns a Logger. A disabled logger (cfg.Enabled == false) is safe
// to call into; it is simply a no-op, following the spec's "never break
// the product flow" propagation policy for observability errors.
func New(cfg Config) *Logger {
	if cfg.Sampling == 0 {
		cfg.Sampling = 1.0
	}
	if cfg.MaxLen == 0 {
		cfg.MaxLen = 2000
	}
	return &Logger{cfg: cfg}
}

// NewRequestID mints a UUIDv4 request id and reports whether this is a
// warm-up query for the process (the first 3 calls).
func (l *Logger) NewRequestID() (id string, warmup bool) {
	n := atomic.AddInt64(&l.queries, 1)
	return uuid.New().String(), n <= warmupQueries
}

// Log writes one event, applying sampling, redaction, and length capping.
// Errors are logged via slog and swallowed: observability must never
// abort ingest or retrieval (spec.md §7).
func (l *Logger) Log(ev Event) {
	if !l.cfg.Enabled {
		return
	}
	if l.cfg.Sampling < 1.0 && rand.Float64() > l.cfg.Sampling {
		return
	}

	if l.cfg.Redact {
		if raw, ok := ev.Query.(string); ok {
			ev.Query = redactedQuery{Hash: hashQuery(raw), Len: len(raw)}
		}
	} else if raw, ok := ev.Query.(string); ok && len(raw) > l.cfg.MaxLen {
		ev.Query = raw[:l.cfg.MaxLen]
	}

	if ev.Timestamp == "" {
		ev.Timestamp = time.Now().UTC().Format("2006-01-02T15:04:05Z")
	}

	if err := l.write(ev); err != nil {
		slog.Warn("obs: failed to write observability event, continuing", "error", err)
	}
}

func (l *Logger) write(ev Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	path := l.cfg.File
	if path == "" {
		day := time.Now().UTC().Format("2006-01-02")
		path = filepath.Join(l.cfg.Dir, day+".jsonl")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("obs: creating log dir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("obs: opening log file: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("obs: encoding event: %w", err)
	}
	_, err = f.Write(append(data, '\n'))
	return err
}

func hashQuery(s string) string {
	var h uint64 = 14695981039346656037
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= 1099511628211
	}
	return fmt.Sprintf("%016x", h)
}
