package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"finrag/internal/config"
	"finrag/internal/domain"
	"finrag/internal/index"
	"finrag/internal/provider"
)

// checks tallies doctor results.
type checks struct {
	passed, warned, failed int
}

func (c *checks) pass(name, detail string) {
	fmt.Printf("  ✓ %-22s %s\n", name, detail)
	c.passed++
}

func (c *checks) warn(name, detail string) {
	fmt.Printf("  ! %-22s %s\n", name, detail)
	c.warned++
}

func (c *checks) fail(name, detail string) {
	fmt.Printf("  ✗ %-22s %s\n", name, detail)
	c.failed++
}

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on the finrag setup",
		Long: `Verifies the configuration, the corpus index, the embedding endpoint, the
embedding cache and the language model providers. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("finrag doctor v%s\n\n", version)

			var c checks
			if _, err := os.Stat(cfgPath); err != nil {
				c.warn("Config file", fmt.Sprintf("not found at %s, using defaults (run 'finrag init')", cfgPath))
			} else {
				c.pass("Config file", cfgPath)
			}

			cfg, err := loadConfig()
			if err != nil {
				c.fail("Config validation", err.Error())
				return summarize(c)
			}
			c.pass("Config validation", "valid")

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			checkIndex(ctx, cfg, &c)
			checkEmbedder(ctx, cfg, &c)
			if cfg.Cache.Enabled {
				checkCache(ctx, cfg, &c)
			}
			checkProviders(ctx, cfg, &c)

			return summarize(c)
		},
	}
}

func checkIndex(ctx context.Context, cfg *config.Config, c *checks) {
	store, err := index.Open(ctx, cfg.Corpus.Dir, index.Options{Logger: logger})
	if err != nil {
		if errors.Is(err, domain.ErrIndexCorrupted) {
			c.fail("Corpus index", err.Error())
		} else {
			c.warn("Corpus index", err.Error())
		}
		return
	}
	defer store.Close()
	c.pass("Corpus index", fmt.Sprintf("%d chunks, model %s", store.Count(), store.Model()))

	if store.Model() != "" && cfg.Embedding.Provider == "openai" && store.Model() != cfg.Embedding.Model {
		c.fail("Embedding binding", fmt.Sprintf("index built with %q, config uses %q (re-ingest with --rebuild)", store.Model(), cfg.Embedding.Model))
	}
}

func checkEmbedder(ctx context.Context, cfg *config.Config, c *checks) {
	emb, cleanup, err := newEmbedder(ctx, cfg, false)
	if err != nil {
		c.fail("Embedder", err.Error())
		return
	}
	defer cleanup()
	vecs, err := emb.Embed(ctx, []string{"doctor probe"})
	if err != nil {
		c.fail("Embedder", err.Error())
		return
	}
	if len(vecs) != 1 || len(vecs[0]) != emb.Dimension() {
		c.fail("Embedder", "unexpected embedding shape")
		return
	}
	c.pass("Embedder", fmt.Sprintf("%s (%d dimensions)", emb.Model(), emb.Dimension()))
}

func checkCache(ctx context.Context, cfg *config.Config, c *checks) {
	client := redis.NewClient(&redis.Options{Addr: cfg.Cache.RedisAddr, Password: cfg.Cache.Password, DB: cfg.Cache.DB})
	defer client.Close()
	if err := client.Ping(ctx).Err(); err != nil {
		c.warn("Embedding cache", fmt.Sprintf("%s unreachable: %v", cfg.Cache.RedisAddr, err))
		return
	}
	c.pass("Embedding cache", cfg.Cache.RedisAddr)
}

func checkProviders(ctx context.Context, cfg *config.Config, c *checks) {
	factory := provider.NewFactory(cfg, logger)
	enabled := 0
	for name, pc := range cfg.Providers {
		if !pc.Enabled {
			continue
		}
		enabled++
		p, err := factory.Get(name)
		if err != nil {
			c.fail("Provider: "+name, err.Error())
			continue
		}
		if err := p.Healthy(ctx); err != nil {
			c.warn("Provider: "+name, fmt.Sprintf("unhealthy: %v", err))
			continue
		}
		c.pass("Provider: "+name, "healthy")
	}
	if enabled == 0 {
		c.fail("Providers", "no providers enabled")
	}
}

func summarize(c checks) error {
	fmt.Printf("\nResults: %d passed, %d warnings, %d failed\n", c.passed, c.warned, c.failed)
	if c.failed > 0 {
		return fmt.Errorf("%d check(s) failed", c.failed)
	}
	return nil
}
