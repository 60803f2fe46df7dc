package cache

import (
	"context"
	"testing"
	"time"

	"github.com/humlab-sead/sead-reconciler/pkg/provider/embeddings/mock"
)

func TestEmbedCachesByExactText(t *testing.T) {
	inner := &mock.Provider{EmbedResult: []float32{0.1, 0.2}, DimensionsValue: 2}
	c := New(inner, 10, time.Minute, nil)

	ctx := context.Background()
	if _, err := c.Embed(ctx, "Stockholm"); err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if _, err := c.Embed(ctx, "Stockholm"); err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if _, err := c.Embed(ctx, "Uppsala"); err != nil {
		t.Fatalf("Embed: %v", err)
	}

	if got := len(inner.EmbedCalls); got != 2 {
		t.Fatalf("inner Embed called %d times, want 2 (cache hit skips the second call)", got)
	}
}

func TestEmbedBatchSplitsHitsAndMisses(t *testing.T) {
	inner := &mock.Provider{DimensionsValue: 2}
	c := New(inner, 10, time.Minute, nil)
	ctx := context.Background()

	inner.EmbedResult = []float32{1, 2}
	if _, err := c.Embed(ctx, "a"); err != nil {
		t.Fatalf("Embed: %v", err)
	}

	inner.EmbedBatchResult = [][]float32{{3, 4}, {5, 6}}
	out, err := c.EmbedBatch(ctx, []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("got %d results, want 3", len(out))
	}
	if out[0][0] != 1 {
		t.Errorf("result[0] should be the cached vector for %q, got %v", "a", out[0])
	}
	if len(inner.EmbedBatchCalls) != 1 || len(inner.EmbedBatchCalls[0].Texts) != 2 {
		t.Fatalf("expected one batch call with the 2 uncached texts, got %+v", inner.EmbedBatchCalls)
	}
}

func TestEmbedBatchEmpty(t *testing.T) {
	c := New(&mock.Provider{}, 10, time.Minute, nil)
	out, err := c.EmbedBatch(context.Background(), nil)
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("got %d results, want 0", len(out))
	}
}

func TestEmbedTTLExpiry(t *testing.T) {
	inner := &mock.Provider{EmbedResult: []float32{1}}
	c := New(inner, 10, 10*time.Millisecond, nil)
	ctx := context.Background()

	if _, err := c.Embed(ctx, "x"); err != nil {
		t.Fatalf("Embed: %v", err)
	}
	time.Sleep(30 * time.Millisecond)
	if _, err := c.Embed(ctx, "x"); err != nil {
		t.Fatalf("Embed: %v", err)
	}

	if got := len(inner.EmbedCalls); got != 2 {
		t.Fatalf("inner Embed called %d times, want 2 (entry should have expired)", got)
	}
}

func TestDimensionsAndModelIDDelegate(t *testing.T) {
	inner := &mock.Provider{DimensionsValue: 768, ModelIDValue: "text-embedding-3-small"}
	c := New(inner, 10, time.Minute, nil)

	if got := c.Dimensions(); got != 768 {
		t.Errorf("Dimensions() = %d, want 768", got)
	}
	if got := c.ModelID(); got != "text-embedding-3-small" {
		t.Errorf("ModelID() = %q, want %q", got, "text-embedding-3-small")
	}
}
