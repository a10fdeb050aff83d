package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"finrag/internal/chunker"
	"finrag/internal/knowledge"
)

func ingestCmd() *cobra.Command {
	var rebuild, verify bool
	cmd := &cobra.Command{
		Use:   "ingest <file-or-dir>...",
		Short: "Chunk, embed and index PDF, text and markdown documents",
		Long: `Loads every supported file (.pdf, .txt, .md) named on the command line or
found under the given directories, splits it into overlapping chunks, embeds
them and writes them to the corpus index. Re-ingesting identical files is a
no-op; --rebuild discards the existing corpus first.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			files, err := knowledge.CollectFiles(args)
			if err != nil {
				return err
			}
			if len(files) == 0 {
				return fmt.Errorf("no supported documents found in %v", args)
			}

			emb, cleanup, err := newEmbedder(ctx, cfg, false)
			if err != nil {
				return err
			}
			defer cleanup()

			store, err := openForIngest(ctx, cfg, emb, rebuild)
			if err != nil {
				return err
			}
			defer store.Close()

			engine, err := knowledge.NewEngine(knowledge.EngineConfig{
				Store:       store,
				Embedder:    emb,
				Chunking:    chunker.Options{ChunkSize: cfg.Corpus.ChunkSize, Overlap: cfg.Corpus.ChunkOverlap},
				Parallelism: cfg.Corpus.Parallelism,
				Verify:      verify,
				Logger:      logger,
			})
			if err != nil {
				return err
			}

			start := time.Now()
			docs, err := engine.IngestFiles(ctx, files)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			if err := store.Flush(ctx); err != nil {
				return err
			}

			chunks := 0
			for _, d := range docs {
				chunks += d.ChunkCount
				fmt.Fprintf(cmd.OutOrStdout(), "  %-40s %6d chunks  %s\n", d.Name, d.ChunkCount, d.ID)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Ingested %d documents (%d chunks) in %s. Index holds %d chunks.\n",
				len(docs), chunks, time.Since(start).Round(time.Millisecond), store.Count())
			return nil
		},
	}
	cmd.Flags().BoolVar(&rebuild, "rebuild", false, "discard the existing corpus before ingesting")
	cmd.Flags().BoolVar(&verify, "verify", false, "check that every document's chunks reconstruct its text")
	return cmd
}
