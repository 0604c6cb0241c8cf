// Command ragcored serves the dual-lane retrieval core over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/lichen-labs/ragcore"
	"github.com/lichen-labs/ragcore/catalog"
	"github.com/lichen-labs/ragcore/doc"
	"github.com/lichen-labs/ragcore/embed"
	"github.com/lichen-labs/ragcore/retrieval"
	"github.com/lichen-labs/ragcore/vectorindex"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	addr := flag.String("addr", ":8080", "listen address")
	corpusDir := flag.String("corpus", "", "directory of protocol documents to load into the catalog at startup")
	authToken := flag.String("auth-token", os.Getenv("RAG_AUTH_TOKEN"), "bearer token required on non-health routes; empty disables auth")
	corsOrigin := flag.String("cors-origin", os.Getenv("RAG_CORS_ORIGIN"), "Access-Control-Allow-Origin value; empty disables CORS headers")
	persistIDs := flag.Bool("persist-protocol-ids", false, "rewrite protocol_id back into source files when it was derived from the filename")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	cfg, err := ragcore.LoadConfig(*configPath)
	if err != nil {
		slog.Error("loading config", "error", err)
		os.Exit(1)
	}

	speedEmbedder := embed.NewFast(384)
	var accurateEmbedder embed.Backend = speedEmbedder
	if model, ok := modelConfigured(cfg.AccurateEmbedModel); ok {
		accurateEmbedder = embed.NewRemote(embed.RemoteConfig{
			Name:      "accurate-remote",
			Model:     model,
			BaseURL:   os.Getenv("RAG_ACCURATE_EMBED_BASE_URL"),
			APIKey:    os.Getenv("RAG_ACCURATE_EMBED_API_KEY"),
			Dimension: 3072,
		})
	}

	speedIndex, err := openIndexOrRecreate(cfg.VectorPathFast, speedEmbedder.Dimension())
	if err != nil {
		slog.Error("opening speed index", "path", cfg.VectorPathFast, "error", err)
		os.Exit(1)
	}
	defer speedIndex.Close()

	accurateIndex, err := openIndexOrRecreate(cfg.VectorPathAccurate, accurateEmbedder.Dimension())
	if err != nil {
		slog.Error("opening accurate index", "path", cfg.VectorPathAccurate, "error", err)
		os.Exit(1)
	}
	defer accurateIndex.Close()

	ctx := context.Background()
	cat, err := buildCatalog(ctx, *corpusDir, speedEmbedder, *persistIDs)
	if err != nil {
		slog.Error("building catalog", "dir", *corpusDir, "error", err)
		os.Exit(1)
	}

	core := ragcore.New(cfg, speedEmbedder, accurateEmbedder, speedIndex, accurateIndex, cat)

	if model, ok := modelConfigured(cfg.AccurateRerankModel); ok {
		accurateReranker := retrieval.NewHTTPReranker(os.Getenv("RAG_ACCURATE_RERANK_BASE_URL"), os.Getenv("RAG_ACCURATE_RERANK_API_KEY"), model)
		var speedReranker retrieval.Reranker
		if speedModel, ok := modelConfigured(cfg.FastRerankModel); ok {
			speedReranker = retrieval.NewHTTPReranker(os.Getenv("RAG_FAST_RERANK_BASE_URL"), os.Getenv("RAG_FAST_RERANK_API_KEY"), speedModel)
		}
		core = core.WithRerankers(speedReranker, accurateReranker)
	}

	h := newHandler(core)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /ingest", h.handleIngest)
	mux.HandleFunc("POST /query", h.handleQuery)
	mux.HandleFunc("POST /hybrid-query", h.handleHybridQuery)
	mux.HandleFunc("GET /health", h.handleHealth)

	var chain http.Handler = mux
	chain = authMiddleware(*authToken, chain)
	chain = corsMiddleware(*corsOrigin, chain)
	chain = recoveryMiddleware(chain)
	chain = logMiddleware(chain)

	srv := &http.Server{
		Addr:         *addr,
		Handler:      chain,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
	}

	go func() {
		slog.Info("ragcored listening", "addr", *addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("graceful shutdown failed", "error", err)
	}
}

// buildCatalog walks dir for protocol documents and builds the startup
// catalog. An empty dir yields an empty catalog (the router then always
// falls back to route.All).
func buildCatalog(ctx context.Context, dir string, embedder embed.Backend, persistIDs bool) (catalog.Catalog, error) {
	if dir == "" {
		return catalog.Build(ctx, nil, embedder)
	}

	var sources []catalog.SourceProtocol
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(path) != ".json" {
			return nil
		}

		p, err := doc.ParseFile(path)
		if err != nil {
			slog.Warn("skipping unparseable protocol", "path", path, "error", err)
			return nil
		}
		derived, err := doc.DeriveAndPersist(path, p, persistIDs)
		if err != nil {
			slog.Warn("persisting derived protocol_id", "path", path, "error", err)
		}
		sources = append(sources, catalog.SourceProtocol{ProtocolID: derived.ProtocolID, Protocol: p})
		return nil
	})
	if err != nil {
		return catalog.Catalog{}, err
	}

	cachePath := filepath.Join(dir, ".catalog_cache.json")
	hash := catalog.ContentHash(sources)
	if record, ok, err := catalog.LoadCache(cachePath); err == nil && ok && !record.Stale(embedder.Name(), hash) {
		slog.Info("catalog cache hit", "path", cachePath)
		return record.Catalog, nil
	}

	cat, err := catalog.Build(ctx, sources, embedder)
	if err != nil {
		return catalog.Catalog{}, err
	}
	if err := catalog.SaveCache(cachePath, cat); err != nil {
		slog.Warn("writing catalog cache", "path", cachePath, "error", err)
	}
	return cat, nil
}

// openIndexOrRecreate implements spec.md §7's IndexCorrupt recovery: a
// corrupt on-disk index is discarded and recreated fresh, at the
// documented cost of losing whatever was indexed (ingest must re-run).
func openIndexOrRecreate(path string, dim int) (*vectorindex.Index, error) {
	idx, err := vectorindex.Open(path, dim)
	if err == nil {
		return idx, nil
	}
	if !errors.Is(err, vectorindex.ErrCorrupt) {
		return nil, err
	}

	slog.Warn("vector index corrupt, discarding and recreating", "path", path, "error", err)
	if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
		return nil, rmErr
	}
	return vectorindex.Open(path, dim)
}

func modelConfigured(model string) (string, bool) {
	if model == "" {
		return "", false
	}
	return model, true
}
