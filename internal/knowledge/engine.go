// Package knowledge turns source files into indexed chunks and retrieves the
// chunks relevant to a question.
package knowledge

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"finrag/internal/chunker"
	"finrag/internal/domain"
	"finrag/internal/metrics"

	"golang.org/x/sync/errgroup"
)

// Store is the index surface the engine writes to.
type Store interface {
	domain.VectorIndex
	PutDocument(ctx context.Context, doc domain.Document) error
}

// Engine manages ingestion: chunking, embedding and indexing documents.
type Engine struct {
	store       Store
	embedder    domain.Embedder
	chunking    chunker.Options
	parallelism int
	verify      bool
	logger      *slog.Logger
}

type EngineConfig struct {
	Store       Store
	Embedder    domain.Embedder
	Chunking    chunker.Options
	Parallelism int  // files processed concurrently (default: 4)
	Verify      bool // check that each document's chunks reconstruct its text
	Logger      *slog.Logger
}

func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Chunking == (chunker.Options{}) {
		cfg.Chunking = chunker.DefaultOptions()
	}
	if err := cfg.Chunking.Validate(); err != nil {
		return nil, err
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 4
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Engine{
		store:       cfg.Store,
		embedder:    cfg.Embedder,
		chunking:    cfg.Chunking,
		parallelism: cfg.Parallelism,
		verify:      cfg.Verify,
		logger:      cfg.Logger,
	}, nil
}

// DocumentID derives a stable document identifier from its text.
func DocumentID(text string) string {
	hash := sha256.Sum256([]byte(text))
	return fmt.Sprintf("%x", hash[:8])
}

// AddDocument chunks, embeds and indexes one document. Embedding failures
// are returned as is: ingestion does not retry.
func (e *Engine) AddDocument(ctx context.Context, src Source) (*domain.Document, error) {
	if !utf8.ValidString(src.Text) {
		e.logger.Warn("replacing invalid UTF-8 in document", "name", src.Name)
		src.Text = strings.ToValidUTF8(src.Text, "\uFFFD")
	}
	docID := DocumentID(src.Text)

	chunks, err := chunker.Collect(docID, src.Text, e.chunking)
	if err != nil {
		return nil, err
	}
	if e.verify && chunker.Reconstruct(chunks) != src.Text {
		return nil, fmt.Errorf("verify %s: chunks do not reconstruct the document", src.Name)
	}

	doc := domain.Document{
		ID:         docID,
		Name:       src.Name,
		Path:       src.Path,
		Size:       len([]rune(src.Text)),
		ChunkCount: len(chunks),
		IngestedAt: time.Now(),
	}

	if len(chunks) == 0 {
		e.logger.Warn("document has no extractable text", "name", src.Name)
	} else {
		texts := make([]string, len(chunks))
		for i, c := range chunks {
			texts[i] = c.Text
		}
		vecs, err := e.embedder.Embed(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("embed %s: %w", src.Name, err)
		}
		if len(vecs) != len(chunks) {
			return nil, fmt.Errorf("embed %s: expected %d vectors, got %d", src.Name, len(chunks), len(vecs))
		}
		for i := range chunks {
			chunks[i].Embedding = vecs[i]
		}
		if err := e.store.Upsert(ctx, chunks); err != nil {
			return nil, fmt.Errorf("index %s: %w", src.Name, err)
		}
	}

	if err := e.store.PutDocument(ctx, doc); err != nil {
		return nil, err
	}
	metrics.DocumentsIngested.Inc()

	e.logger.Info("document ingested",
		"name", src.Name, "id", docID, "chunks", len(chunks), "size", doc.Size)
	return &doc, nil
}

// IngestFiles loads and ingests files with bounded parallelism. Results are
// returned in input order. The first failure cancels the remaining work.
func (e *Engine) IngestFiles(ctx context.Context, paths []string) ([]domain.Document, error) {
	docs := make([]domain.Document, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.parallelism)

	for i, path := range paths {
		g.Go(func() error {
			src, err := Load(path)
			if err != nil {
				return err
			}
			doc, err := e.AddDocument(ctx, src)
			if err != nil {
				return err
			}
			docs[i] = *doc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return docs, nil
}
