// Package index implements the persistent vector index. Entries live in a
// SQLite database inside the corpus directory and are mirrored in memory for
// exhaustive cosine-similarity search.
package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"finrag/internal/domain"
	"finrag/internal/embedding"
	"finrag/internal/metrics"

	_ "modernc.org/sqlite"
)

// FileName is the database file created inside the corpus directory.
const FileName = "index.db"

var _ domain.VectorIndex = (*Store)(nil)

// Options describes the embedding space an index is bound to.
type Options struct {
	Dimension int
	Model     string
	Logger    *slog.Logger
}

type entry struct {
	seq   int64
	chunk domain.Chunk
}

// Store is a SQLite-backed vector index. Writes are serialised; searches run
// concurrently against the in-memory mirror.
type Store struct {
	db     *sql.DB
	path   string
	logger *slog.Logger

	mu      sync.RWMutex
	dim     int
	model   string
	entries []entry // ascending seq
	byID    map[string]int
}

// Create opens the index in dir, creating it when absent. An existing index
// bound to a different dimension or model is rejected.
func Create(ctx context.Context, dir string, opts Options) (*Store, error) {
	if opts.Dimension <= 0 {
		return nil, fmt.Errorf("%w: index dimension must be positive", domain.ErrInvalidParameters)
	}
	if opts.Model == "" {
		return nil, fmt.Errorf("%w: index model must be set", domain.ErrInvalidParameters)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create corpus directory %s: %w", dir, err)
	}

	s, err := openDB(filepath.Join(dir, FileName), opts.Logger)
	if err != nil {
		return nil, err
	}
	if err := runMigrations(s.db, s.logger); err != nil {
		s.db.Close()
		return nil, fmt.Errorf("index migration failed: %w", err)
	}

	dim, model, found, err := s.readMeta(ctx)
	if err != nil {
		s.db.Close()
		return nil, err
	}
	if !found {
		if err := s.writeMeta(ctx, opts.Dimension, opts.Model); err != nil {
			s.db.Close()
			return nil, err
		}
		dim, model = opts.Dimension, opts.Model
	}
	if err := checkBinding(dim, model, opts); err != nil {
		s.db.Close()
		return nil, err
	}
	s.dim, s.model = dim, model

	if err := s.load(ctx); err != nil {
		s.db.Close()
		return nil, err
	}
	s.logger.Info("index ready", "path", s.path, "chunks", len(s.entries), "dimension", dim, "model", model)
	return s, nil
}

// Open opens an existing index for querying. A missing or unreadable store
// is reported as ErrIndexCorrupted. When opts carries a dimension or model
// they must match the stored binding.
func Open(ctx context.Context, dir string, opts Options) (*Store, error) {
	path := filepath.Join(dir, FileName)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: no index at %s (run ingest first)", domain.ErrIndexCorrupted, path)
	}

	s, err := openDB(path, opts.Logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrIndexCorrupted, err)
	}
	if err := s.checkIntegrity(ctx); err != nil {
		s.db.Close()
		return nil, err
	}

	dim, model, found, err := s.readMeta(ctx)
	if err != nil || !found {
		s.db.Close()
		return nil, fmt.Errorf("%w: index metadata missing in %s", domain.ErrIndexCorrupted, path)
	}
	if err := runMigrations(s.db, s.logger); err != nil {
		s.db.Close()
		return nil, fmt.Errorf("index migration failed: %w", err)
	}
	if err := checkBinding(dim, model, opts); err != nil {
		s.db.Close()
		return nil, err
	}
	s.dim, s.model = dim, model

	if err := s.load(ctx); err != nil {
		s.db.Close()
		return nil, err
	}
	return s, nil
}

func openDB(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("cannot open index: %w", err)
	}
	// Single connection: SQLite allows one writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return &Store{db: db, path: path, logger: logger, byID: make(map[string]int)}, nil
}

func checkBinding(dim int, model string, opts Options) error {
	if opts.Dimension > 0 && opts.Dimension != dim {
		return fmt.Errorf("%w: index has dimension %d, embedder has %d", domain.ErrDimensionMismatch, dim, opts.Dimension)
	}
	if opts.Model != "" && opts.Model != model {
		return fmt.Errorf("%w: index was built with %q, embedder is %q", domain.ErrModelMismatch, model, opts.Model)
	}
	return nil
}

func (s *Store) checkIntegrity(ctx context.Context) error {
	var result string
	if err := s.db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrIndexCorrupted, err)
	}
	if result != "ok" {
		return fmt.Errorf("%w: integrity check: %s", domain.ErrIndexCorrupted, result)
	}
	return nil
}

func (s *Store) readMeta(ctx context.Context) (dim int, model string, found bool, err error) {
	rows, err := s.db.QueryContext(ctx, "SELECT key, value FROM meta WHERE key IN ('dimension', 'model')")
	if err != nil {
		return 0, "", false, fmt.Errorf("read index metadata: %w", err)
	}
	defer rows.Close()
	seen := 0
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return 0, "", false, fmt.Errorf("read index metadata: %w", err)
		}
		switch k {
		case "dimension":
			dim, err = strconv.Atoi(v)
			if err != nil || dim <= 0 {
				return 0, "", false, fmt.Errorf("%w: invalid stored dimension %q", domain.ErrIndexCorrupted, v)
			}
		case "model":
			model = v
		}
		seen++
	}
	if err := rows.Err(); err != nil {
		return 0, "", false, fmt.Errorf("read index metadata: %w", err)
	}
	return dim, model, seen == 2, nil
}

func (s *Store) writeMeta(ctx context.Context, dim int, model string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO meta (key, value) VALUES ('dimension', ?), ('model', ?)`,
		strconv.Itoa(dim), model,
	)
	if err != nil {
		return fmt.Errorf("write index metadata: %w", err)
	}
	return nil
}

// load rebuilds the in-memory mirror from the chunks table.
func (s *Store) load(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, id, document_id, offset_start, offset_end, text, embedding FROM chunks ORDER BY seq`)
	if err != nil {
		return fmt.Errorf("%w: load chunks: %v", domain.ErrIndexCorrupted, err)
	}
	defer rows.Close()

	entries := make([]entry, 0)
	byID := make(map[string]int)
	for rows.Next() {
		var e entry
		var blob []byte
		if err := rows.Scan(&e.seq, &e.chunk.ID, &e.chunk.DocumentID,
			&e.chunk.OffsetStart, &e.chunk.OffsetEnd, &e.chunk.Text, &blob); err != nil {
			return fmt.Errorf("%w: scan chunk: %v", domain.ErrIndexCorrupted, err)
		}
		vec, err := embedding.DecodeVector(blob, s.dim)
		if err != nil {
			return fmt.Errorf("%w: chunk %s: %v", domain.ErrIndexCorrupted, e.chunk.ID, err)
		}
		e.chunk.Embedding = vec
		byID[e.chunk.ID] = len(entries)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("%w: load chunks: %v", domain.ErrIndexCorrupted, err)
	}

	s.mu.Lock()
	s.entries, s.byID = entries, byID
	s.mu.Unlock()
	metrics.IndexChunks.Set(int64(len(entries)))
	return nil
}

// Upsert inserts or replaces chunks by ID in a single transaction. A
// replaced chunk keeps its original insertion sequence.
func (s *Store) Upsert(ctx context.Context, chunks []domain.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	for _, c := range chunks {
		if len(c.Embedding) != s.dim {
			return fmt.Errorf("%w: chunk %s has %d dimensions, index has %d",
				domain.ErrDimensionMismatch, c.ID, len(c.Embedding), s.dim)
		}
		if !finite(c.Embedding) {
			return fmt.Errorf("%w: chunk %s has a non-finite embedding component", domain.ErrInvalidParameters, c.ID)
		}
	}

	// Writers hold the lock for the whole transaction so the mirror applies
	// commits in the same order SQLite did.
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (id, document_id, offset_start, offset_end, text, embedding)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			document_id = excluded.document_id,
			offset_start = excluded.offset_start,
			offset_end = excluded.offset_end,
			text = excluded.text,
			embedding = excluded.embedding
		RETURNING seq`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	seqs := make([]int64, len(chunks))
	for i, c := range chunks {
		if err := stmt.QueryRowContext(ctx, c.ID, c.DocumentID, c.OffsetStart, c.OffsetEnd,
			c.Text, embedding.EncodeVector(c.Embedding)).Scan(&seqs[i]); err != nil {
			return fmt.Errorf("upsert chunk %s: %w", c.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert: %w", err)
	}

	for i, c := range chunks {
		c.Embedding = append([]float32(nil), c.Embedding...)
		if pos, ok := s.byID[c.ID]; ok {
			s.entries[pos].chunk = c
			continue
		}
		s.byID[c.ID] = len(s.entries)
		s.entries = append(s.entries, entry{seq: seqs[i], chunk: c})
	}
	metrics.ChunksIndexed.Add(int64(len(chunks)))
	metrics.IndexChunks.Set(int64(len(s.entries)))
	return nil
}

// Search returns the k entries most similar to vector, by descending cosine
// similarity with ties broken by insertion order.
func (s *Store) Search(ctx context.Context, vector []float32, k int) ([]domain.SearchResult, error) {
	if len(vector) != s.dim {
		return nil, fmt.Errorf("%w: query has %d dimensions, index has %d", domain.ErrDimensionMismatch, len(vector), s.dim)
	}
	if !finite(vector) {
		return nil, fmt.Errorf("%w: query has a non-finite component", domain.ErrInvalidParameters)
	}
	if k <= 0 {
		return []domain.SearchResult{}, nil
	}
	start := time.Now()
	defer func() {
		metrics.RetrievalsTotal.Inc()
		metrics.RetrievalLatency.Observe(time.Since(start).Seconds())
	}()

	s.mu.RLock()
	results := make([]domain.SearchResult, len(s.entries))
	for i, e := range s.entries {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				s.mu.RUnlock()
				return nil, err
			}
		}
		c := e.chunk
		c.Embedding = nil
		results[i] = domain.SearchResult{Chunk: c, Score: embedding.CosineSimilarity(vector, e.chunk.Embedding)}
	}
	s.mu.RUnlock()

	sort.SliceStable(results, func(i, j int) bool { return rank(results[i].Score) > rank(results[j].Score) })
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// PutDocument records or refreshes a document's ingestion stats.
func (s *Store) PutDocument(ctx context.Context, doc domain.Document) error {
	if doc.IngestedAt.IsZero() {
		doc.IngestedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (id, name, path, size, chunk_count, ingested_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name = excluded.name, path = excluded.path,
			size = excluded.size, chunk_count = excluded.chunk_count, ingested_at = excluded.ingested_at`,
		doc.ID, doc.Name, doc.Path, doc.Size, doc.ChunkCount, doc.IngestedAt,
	)
	if err != nil {
		return fmt.Errorf("record document %s: %w", doc.ID, err)
	}
	return nil
}

// Documents lists ingested documents, most recent first.
func (s *Store) Documents(ctx context.Context) ([]domain.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, path, size, chunk_count, ingested_at FROM documents ORDER BY ingested_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []domain.Document
	for rows.Next() {
		var d domain.Document
		if err := rows.Scan(&d.ID, &d.Name, &d.Path, &d.Size, &d.ChunkCount, &d.IngestedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// Clear removes every chunk and document, keeping the model binding.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin clear: %w", err)
	}
	defer tx.Rollback()
	for _, q := range []string{"DELETE FROM chunks", "DELETE FROM documents"} {
		if _, err := tx.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("clear index: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit clear: %w", err)
	}
	s.entries = nil
	s.byID = make(map[string]int)
	metrics.IndexChunks.Set(0)
	s.logger.Info("index cleared", "path", s.path)
	return nil
}

// Flush checkpoints the write-ahead log into the main database file.
func (s *Store) Flush(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("checkpoint index: %w", err)
	}
	return nil
}

// Close flushes and closes the database.
func (s *Store) Close() error {
	flushErr := s.Flush(context.Background())
	return errors.Join(flushErr, s.db.Close())
}

func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *Store) Dimension() int { return s.dim }
func (s *Store) Model() string  { return s.model }
func (s *Store) Path() string   { return s.path }

func finite(v []float32) bool {
	for _, x := range v {
		if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
			return false
		}
	}
	return true
}

// rank orders NaN scores after every real score.
func rank(score float64) float64 {
	if math.IsNaN(score) {
		return math.Inf(-1)
	}
	return score
}
