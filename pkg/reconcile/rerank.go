package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/humlab-sead/sead-reconciler/pkg/authority"
	"github.com/humlab-sead/sead-reconciler/pkg/provider/llm"
	"github.com/humlab-sead/sead-reconciler/pkg/types"
)

// RerankMinCandidates / RerankMaxCandidates bound how many blended
// candidates are sent to the model.
const (
	RerankMinCandidates = 5
	RerankMaxCandidates = 10
)

// rerankItem is one entry of the LLM's JSON response: an id drawn from the
// candidate set, a calibrated confidence, and a short justification.
type rerankItem struct {
	ID         int64   `json:"id"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

// reranker calls an optional [llm.Provider] to reorder a blended candidate
// list. A nil reranker (or one with a nil Provider) is a no-op: every
// call site must function with rerank disabled.
type reranker struct {
	provider llm.Provider
	model    string
	topN     int
	timeout  time.Duration
}

// newReranker returns a reranker, or nil if provider is nil.
func newReranker(provider llm.Provider, model string, topN int, timeout time.Duration) *reranker {
	if provider == nil {
		return nil
	}
	if topN < RerankMinCandidates {
		topN = RerankMinCandidates
	}
	if topN > RerankMaxCandidates {
		topN = RerankMaxCandidates
	}
	return &reranker{provider: provider, model: model, topN: topN, timeout: timeout}
}

// rerank reorders the top portion of candidates using the LLM, preserving
// candidate cardinality and Blend. candidates must already be sorted by blend descending; on any
// validation failure, timeout, or provider error it returns candidates
// unchanged; rerank never fails the caller's sub-query.
func (r *reranker) rerank(ctx context.Context, mention string, candidates []authority.Candidate, descriptions func(authority.Candidate) string) []authority.Candidate {
	if r == nil || r.provider == nil || len(candidates) < 2 {
		return candidates
	}

	n := r.topN
	if n > len(candidates) {
		n = len(candidates)
	}
	head := candidates[:n]
	tail := candidates[n:]

	rctx := ctx
	var cancel context.CancelFunc
	if r.timeout > 0 {
		rctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	items, err := r.call(rctx, mention, head, descriptions)
	if err != nil {
		slog.Warn("reconcile: llm rerank unavailable, keeping blend order", "err", err)
		return candidates
	}

	reordered, ok := applyRerank(head, items)
	if !ok {
		slog.Warn("reconcile: llm rerank output failed validation, keeping blend order")
		return candidates
	}

	return append(reordered, tail...)
}

// call builds the completion request and parses the model's JSON response.
func (r *reranker) call(ctx context.Context, mention string, head []authority.Candidate, descriptions func(authority.Candidate) string) ([]rerankItem, error) {
	prompt := buildRerankPrompt(mention, head, descriptions)
	resp, err := r.provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: rerankSystemPrompt,
		Messages: []types.Message{
			{Role: "user", Content: prompt},
		},
		Temperature: 0,
	})
	if err != nil {
		return nil, fmt.Errorf("rerank: completion: %w", err)
	}
	if resp == nil {
		return nil, fmt.Errorf("rerank: nil response")
	}

	var items []rerankItem
	content := strings.TrimSpace(resp.Content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &items); err != nil {
		return nil, fmt.Errorf("rerank: parse response: %w", err)
	}
	return items, nil
}

const rerankSystemPrompt = `You rerank archaeological/environmental authority-database ` +
	`candidates for a free-text mention. Respond with a JSON array only, no ` +
	`prose, one object per candidate you were given: ` +
	`[{"id": <int>, "confidence": <0..1>, "reason": "<short>"}]. ` +
	`Use only the ids you were given, include each exactly once, and order ` +
	`the array from best to worst match.`

func buildRerankPrompt(mention string, head []authority.Candidate, descriptions func(authority.Candidate) string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Mention: %q\n\nCandidates:\n", mention)
	for _, c := range head {
		desc := ""
		if descriptions != nil {
			desc = descriptions(c)
		}
		fmt.Fprintf(&b, "- id=%d label=%q", c.ID, c.Label)
		if desc != "" {
			fmt.Fprintf(&b, " description=%q", desc)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// applyRerank validates items against head's id set (every id must be one
// supplied, no duplicates, no inventions)
// and, if valid, returns head reordered by items with Blend preserved and
// LLMConfidence populated. ok is false if validation fails for any reason,
// in which case callers must discard items and keep head as-is.
func applyRerank(head []authority.Candidate, items []rerankItem) (out []authority.Candidate, ok bool) {
	if len(items) != len(head) {
		return nil, false
	}

	byID := make(map[int64]authority.Candidate, len(head))
	for _, c := range head {
		byID[c.ID] = c
	}

	seen := make(map[int64]bool, len(items))
	result := make([]authority.Candidate, 0, len(items))
	for _, item := range items {
		if seen[item.ID] {
			return nil, false
		}
		c, known := byID[item.ID]
		if !known {
			return nil, false
		}
		seen[item.ID] = true
		confidence := item.Confidence
		if confidence < 0 {
			confidence = 0
		}
		if confidence > 1 {
			confidence = 1
		}
		if c.Metadata == nil {
			c.Metadata = make(map[string]any, 2)
		} else {
			cp := make(map[string]any, len(c.Metadata)+2)
			for k, v := range c.Metadata {
				cp[k] = v
			}
			c.Metadata = cp
		}
		c.Metadata["llm_confidence"] = confidence
		if item.Reason != "" {
			c.Metadata["llm_reason"] = item.Reason
		}
		result = append(result, c)
	}
	return result, true
}
