package provider

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"finrag/internal/domain"
)

// FailoverProvider tries multiple providers in order, falling back to the next
// one when the current fails. It implements both Provider and StreamingProvider.
type FailoverProvider struct {
	providers []domain.Provider
	logger    *slog.Logger
}

// NewFailoverProvider creates a failover chain from the given providers.
// At least one provider is required.
func NewFailoverProvider(providers []domain.Provider, logger *slog.Logger) *FailoverProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &FailoverProvider{
		providers: providers,
		logger:    logger,
	}
}

func (fp *FailoverProvider) Name() string {
	names := make([]string, len(fp.providers))
	for i, p := range fp.providers {
		names[i] = p.Name()
	}
	return "failover(" + strings.Join(names, "→") + ")"
}

func (fp *FailoverProvider) Models() []string {
	var all []string
	seen := make(map[string]bool)
	for _, p := range fp.providers {
		for _, m := range p.Models() {
			if !seen[m] {
				seen[m] = true
				all = append(all, m)
			}
		}
	}
	return all
}

func (fp *FailoverProvider) SupportsToolCalling() bool {
	for _, p := range fp.providers {
		if p.SupportsToolCalling() {
			return true
		}
	}
	return false
}

func (fp *FailoverProvider) Healthy(ctx context.Context) error {
	for _, p := range fp.providers {
		if err := p.Healthy(ctx); err == nil {
			return nil
		}
	}
	return fmt.Errorf("no healthy provider in failover chain")
}

// Chat tries each provider in order. Returns the first successful response.
func (fp *FailoverProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	var lastErr error
	for i, p := range fp.providers {
		resp, err := p.Chat(ctx, req)
		if err == nil {
			if i > 0 {
				fp.logger.Info("failover: used fallback provider",
					"provider", p.Name(),
					"attempt", i+1,
				)
			}
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
		fp.logger.Warn("failover: provider failed, trying next",
			"provider", p.Name(),
			"attempt", i+1,
			"error", err,
		)
	}
	return nil, fmt.Errorf("all providers in failover chain failed: %w", lastErr)
}

// ChatStream streams from each provider in turn through a private channel.
// A provider that fails before emitting anything is skipped; once events
// have reached out the stream is committed to that provider and its error
// is returned.
func (fp *FailoverProvider) ChatStream(ctx context.Context, req domain.ChatRequest, out chan<- domain.ChatStreamEvent) error {
	defer close(out)

	var lastErr error
	for i, p := range fp.providers {
		inner := make(chan domain.ChatStreamEvent, 16)
		errc := make(chan error, 1)
		go func() {
			if sp, ok := p.(domain.StreamingProvider); ok {
				errc <- sp.ChatStream(ctx, req, inner)
				return
			}
			errc <- streamFromChat(ctx, p, req, inner)
		}()

		forwarded := 0
		for ev := range inner {
			if err := send(ctx, out, ev); err != nil {
				for range inner {
				}
				<-errc
				return err
			}
			forwarded++
		}
		err := <-errc
		if err == nil {
			if i > 0 {
				fp.logger.Info("failover: streamed from fallback provider", "provider", p.Name(), "attempt", i+1)
			}
			return nil
		}
		if forwarded > 0 || ctx.Err() != nil {
			return err
		}
		lastErr = err
		fp.logger.Warn("failover: stream failed before first event, trying next",
			"provider", p.Name(),
			"attempt", i+1,
			"error", err,
		)
	}
	return fmt.Errorf("all providers in failover chain failed: %w", lastErr)
}
