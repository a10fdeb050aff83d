package provider

import (
	"context"
	"sync"
	"time"

	"finrag/internal/domain"
)

// RateLimiter is a token bucket for throttling LLM API calls.
type RateLimiter struct {
	mu       sync.Mutex
	tokens   float64
	max      float64
	rate     float64 // tokens per second
	lastTime time.Time
}

func NewRateLimiter(maxBurst int, ratePerMinute float64) *RateLimiter {
	if maxBurst <= 0 {
		maxBurst = 10
	}
	if ratePerMinute <= 0 {
		ratePerMinute = 30
	}
	return &RateLimiter{
		tokens:   float64(maxBurst),
		max:      float64(maxBurst),
		rate:     ratePerMinute / 60.0,
		lastTime: time.Now(),
	}
}

// Wait blocks until a token is available or ctx is done.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	for {
		rl.mu.Lock()
		now := time.Now()
		elapsed := now.Sub(rl.lastTime).Seconds()
		rl.tokens = min(rl.tokens+elapsed*rl.rate, rl.max)
		rl.lastTime = now

		if rl.tokens >= 1.0 {
			rl.tokens -= 1.0
			rl.mu.Unlock()
			return nil
		}

		waitSec := (1.0 - rl.tokens) / rl.rate
		rl.mu.Unlock()

		timer := time.NewTimer(time.Duration(waitSec * float64(time.Second)))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// RateLimited throttles every call to the wrapped provider.
type RateLimited struct {
	domain.Provider
	limiter *RateLimiter
}

func NewRateLimited(p domain.Provider, limiter *RateLimiter) *RateLimited {
	return &RateLimited{Provider: p, limiter: limiter}
}

func (r *RateLimited) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.Provider.Chat(ctx, req)
}

func (r *RateLimited) ChatStream(ctx context.Context, req domain.ChatRequest, out chan<- domain.ChatStreamEvent) error {
	if err := r.limiter.Wait(ctx); err != nil {
		close(out)
		return err
	}
	if sp, ok := r.Provider.(domain.StreamingProvider); ok {
		return sp.ChatStream(ctx, req, out)
	}
	return streamFromChat(ctx, r.Provider, req, out)
}

// streamFromChat adapts a non-streaming Chat call to the streaming contract:
// the whole content as one token, then ChatDone. out is closed on return.
func streamFromChat(ctx context.Context, p domain.Provider, req domain.ChatRequest, out chan<- domain.ChatStreamEvent) error {
	defer close(out)
	resp, err := p.Chat(ctx, req)
	if err != nil {
		return err
	}
	if resp == nil {
		resp = &domain.ChatResponse{}
	}
	if resp.Content != "" {
		if err := send(ctx, out, domain.ChatStreamEvent{Type: domain.ChatToken, Content: resp.Content}); err != nil {
			return err
		}
	}
	return send(ctx, out, domain.ChatStreamEvent{
		Type:      domain.ChatDone,
		Content:   resp.Content,
		ToolCalls: resp.ToolCalls,
	})
}
