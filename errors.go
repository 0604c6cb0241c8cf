package ragcore

import "errors"

// Sentinel errors for the error kinds of spec.md §7.
var (
	// ErrValidation names the schema-validation error kind. Ingest does not
	// return it: a document that fails validation is reported as an
	// ingest.Result with Valid=false and the messages in ErrorMessage, and
	// other files and the index are unaffected.
	ErrValidation = errors.New("ragcore: document failed validation")

	// ErrDimensionMismatch names the query/index dimension-mismatch kind.
	// The index reports it as vectorindex.ErrDimensionMismatch; this
	// sentinel itself is not returned.
	ErrDimensionMismatch = errors.New("ragcore: query embedding dimension mismatch")

	// ErrBackendFailure names the embedder/reranker retry-exhaustion kind.
	// The embed and retrieval backends report exhausted retries with their
	// own wrapped "max retries exceeded" errors; this sentinel itself is
	// not returned.
	ErrBackendFailure = errors.New("ragcore: backend request failed")

	// ErrIndexCorrupt names the corrupt-index kind. vectorindex.Open
	// reports it as vectorindex.ErrCorrupt, and cmd/ragcored discards and
	// recreates the index file when it sees that error; this sentinel
	// itself is not returned.
	ErrIndexCorrupt = errors.New("ragcore: index is corrupt")

	// ErrRouterUnavailable is returned when the router's catalog is empty;
	// retrieval then falls back to "all" scope. A missing or failing
	// router embedder does not produce it: routing falls back to TF-IDF
	// scoring instead.
	ErrRouterUnavailable = errors.New("ragcore: router unavailable")

	// ErrDisabled is returned when RAG_ENABLED=0.
	ErrDisabled = errors.New("ragcore: retrieval disabled")
)
