package provider

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestCost(t *testing.T) {
	t.Parallel()
	p := &Pricing{InputPerMillion: 2.50, OutputPerMillion: 10.00}

	tests := []struct {
		name     string
		in, out  int
		pricing  *Pricing
		want     float64
		wantNull bool
	}{
		{name: "thousand input tokens", in: 1000, pricing: p, want: 0.0025},
		{name: "output direction", out: 500, pricing: p, want: 0.005},
		{name: "both directions", in: 1000, out: 500, pricing: p, want: 0.0075},
		{name: "zero tokens known pricing is zero", pricing: p, want: 0},
		{name: "unknown pricing is null", in: 1000, wantNull: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Cost(tt.in, tt.out, tt.pricing)
			if tt.wantNull {
				if got != nil {
					t.Fatalf("Cost = %v, want nil", *got)
				}
				return
			}
			if got == nil {
				t.Fatal("Cost = nil, want a value")
			}
			if math.Abs(*got-tt.want) > 1e-12 {
				t.Fatalf("Cost = %v, want %v", *got, tt.want)
			}
		})
	}
}

func TestPriceTableLookup(t *testing.T) {
	t.Parallel()
	table := PriceTable{"gpt-4o": {InputPerMillion: 2.50, OutputPerMillion: 10.00}}

	if p := table.Lookup("gpt-4o"); p == nil || p.InputPerMillion != 2.50 {
		t.Fatalf("Lookup(gpt-4o) = %+v", p)
	}
	if p := table.Lookup("unknown-model"); p != nil {
		t.Fatalf("Lookup(unknown-model) = %+v, want nil", p)
	}
}

func TestTokenCacheFetchesOnceUntilExpiry(t *testing.T) {
	t.Parallel()
	fetches := 0
	cache := NewTokenCache(func(context.Context) (string, time.Time, error) {
		fetches++
		return "tok", time.Now().Add(time.Hour), nil
	})

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		tok, err := cache.Token(ctx)
		if err != nil {
			t.Fatalf("Token: %v", err)
		}
		if tok != "tok" {
			t.Fatalf("Token = %q", tok)
		}
	}
	if fetches != 1 {
		t.Fatalf("fetched %d times, want 1", fetches)
	}

	cache.Invalidate()
	if _, err := cache.Token(ctx); err != nil {
		t.Fatalf("Token after invalidate: %v", err)
	}
	if fetches != 2 {
		t.Fatalf("fetched %d times after invalidate, want 2", fetches)
	}
}

func TestTokenCacheFetchError(t *testing.T) {
	t.Parallel()
	boom := errors.New("idp down")
	cache := NewTokenCache(func(context.Context) (string, time.Time, error) {
		return "", time.Time{}, boom
	})
	if _, err := cache.Token(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
}

func TestHTTPClientComplete(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("Authorization = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"choices": [{"message": {"content": "blue", "reasoning_content": "sky scatters"}}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 3}
		}`))
	}))
	defer srv.Close()

	c := NewHTTPClient("gpt-4o", srv.URL, StaticToken("sk-test"), 100)
	res, err := c.Complete(context.Background(), CompletionRequest{Prompt: "what color is the sky"})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if res.Content != "blue" {
		t.Fatalf("Content = %q", res.Content)
	}
	if res.ReasoningContent != "sky scatters" {
		t.Fatalf("ReasoningContent = %q", res.ReasoningContent)
	}
	if res.InputTokens != 12 || res.OutputTokens != 3 {
		t.Fatalf("tokens = %d/%d", res.InputTokens, res.OutputTokens)
	}
	if res.LatencyMs < 0 {
		t.Fatalf("LatencyMs = %d", res.LatencyMs)
	}
}

func TestHTTPClientErrorStatus(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewHTTPClient("gpt-4o", srv.URL, StaticToken("sk-test"), 100)
	_, err := c.Complete(context.Background(), CompletionRequest{Prompt: "hi"})

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want APIError", err)
	}
	if apiErr.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("StatusCode = %d", apiErr.StatusCode)
	}
}

func TestHTTPClientEmptyCompletion(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices": [], "usage": {}}`))
	}))
	defer srv.Close()

	c := NewHTTPClient("gpt-4o", srv.URL, StaticToken("sk-test"), 100)
	_, err := c.Complete(context.Background(), CompletionRequest{Prompt: "hi"})

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want APIError for empty completion", err)
	}
}

func TestRegistry(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	r.Register(NewHTTPClient("gpt-4o", "http://localhost", StaticToken("k"), 1))
	r.Register(NewHTTPClient("claude-sonnet-4-5", "http://localhost", StaticToken("k"), 1))

	if _, ok := r.Get("gpt-4o"); !ok {
		t.Fatal("registered provider not found")
	}
	if _, ok := r.Get("missing"); ok {
		t.Fatal("unregistered provider found")
	}
	ids := r.ModelIDs()
	if len(ids) != 2 || ids[0] != "claude-sonnet-4-5" {
		t.Fatalf("ModelIDs = %v", ids)
	}
}
