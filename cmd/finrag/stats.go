package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"finrag/internal/index"
)

func statsCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show what the corpus index holds",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			// Open without a binding so stats work whatever embedder is configured.
			store, err := index.Open(ctx, cfg.Corpus.Dir, index.Options{Logger: logger})
			if err != nil {
				return err
			}
			defer store.Close()

			docs, err := store.Documents(ctx)
			if err != nil {
				return err
			}

			if asJSON {
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"path":      store.Path(),
					"model":     store.Model(),
					"dimension": store.Dimension(),
					"chunks":    store.Count(),
					"documents": docs,
				})
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Index:     %s\n", store.Path())
			fmt.Fprintf(out, "Model:     %s (%d dimensions)\n", store.Model(), store.Dimension())
			fmt.Fprintf(out, "Chunks:    %d\n", store.Count())
			fmt.Fprintf(out, "Documents: %d\n", len(docs))
			if len(docs) == 0 {
				return nil
			}
			fmt.Fprintln(out)
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tCHUNKS\tCHARS\tINGESTED\tID")
			for _, d := range docs {
				fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%s\n", d.Name, d.ChunkCount, d.Size, d.IngestedAt.Local().Format(time.DateTime), d.ID)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print stats as JSON")
	return cmd
}
