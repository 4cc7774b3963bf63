package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/porchlabs/porchlight/pkg/provider/llm"
	llmmock "github.com/porchlabs/porchlight/pkg/provider/llm/mock"
)

func TestLLMFallback_Complete_PrimarySuccess(t *testing.T) {
	primary := &llmmock.Provider{Response: "hello from primary"}
	secondary := &llmmock.Provider{Response: "hello from secondary"}

	fb := NewLLMFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	resp, err := fb.Complete(context.Background(), llm.CompletionRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "hello from primary" {
		t.Fatalf("content = %q, want 'hello from primary'", resp.Content)
	}
	if primary.CallCount() != 1 {
		t.Fatalf("primary called %d times, want 1", primary.CallCount())
	}
	if secondary.CallCount() != 0 {
		t.Fatalf("secondary called %d times, want 0", secondary.CallCount())
	}
}

func TestLLMFallback_Complete_Failover(t *testing.T) {
	primary := &llmmock.Provider{Err: errors.New("primary down")}
	secondary := &llmmock.Provider{Response: "hello from secondary"}

	fb := NewLLMFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	resp, err := fb.Complete(context.Background(), llm.CompletionRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "hello from secondary" {
		t.Fatalf("content = %q, want 'hello from secondary'", resp.Content)
	}
}

func TestLLMFallback_Complete_AllFail(t *testing.T) {
	primary := &llmmock.Provider{Err: errors.New("primary down")}
	secondary := &llmmock.Provider{Err: errors.New("secondary down")}

	fb := NewLLMFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	_, err := fb.Complete(context.Background(), llm.CompletionRequest{})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestLLMFallback_OpenBreakerSkipsPrimary(t *testing.T) {
	primary := &llmmock.Provider{Err: errors.New("primary down")}
	secondary := &llmmock.Provider{Response: "secondary"}

	fb := NewLLMFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 2},
	})
	fb.AddFallback("secondary", secondary)

	// Two failures trip the primary's breaker.
	for range 2 {
		if _, err := fb.Complete(context.Background(), llm.CompletionRequest{}); err != nil {
			t.Fatalf("unexpected error during warmup: %v", err)
		}
	}
	primaryCalls := primary.CallCount()

	if _, err := fb.Complete(context.Background(), llm.CompletionRequest{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if primary.CallCount() != primaryCalls {
		t.Fatal("open breaker did not skip the primary")
	}
}

func TestLLMFallback_CountTokensAndModel(t *testing.T) {
	primary := &llmmock.Provider{ModelName: "qwen2.5:7b"}

	fb := NewLLMFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})

	msgs := []llm.Message{{Role: "user", Content: "test message"}}
	if got, want := fb.CountTokens(msgs), llm.EstimateTokens(msgs); got != want {
		t.Fatalf("CountTokens = %d, want %d", got, want)
	}
	if fb.Model() != "qwen2.5:7b" {
		t.Fatalf("Model = %q", fb.Model())
	}
}
