package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
)

const rateWaitTimeout = 5 * time.Minute

// RateGate is a token bucket shared by every Gemini caller in the process.
// A nil gate never blocks.
type RateGate struct {
	slots chan struct{}
	wait  time.Duration
}

func NewRateGate(concurrentReqs int) *RateGate {
	if concurrentReqs <= 0 {
		concurrentReqs = 1
	}
	slots := make(chan struct{}, concurrentReqs)
	for i := 0; i < concurrentReqs; i++ {
		slots <- struct{}{}
	}
	return &RateGate{slots: slots, wait: rateWaitTimeout}
}

// Acquire blocks until a rate slot is available
func (g *RateGate) Acquire(ctx context.Context) error {
	if g == nil {
		return nil
	}
	timer := time.NewTimer(g.wait)
	defer timer.Stop()

	select {
	case <-g.slots:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("timeout waiting for Gemini rate slot")
	}
}

func (g *RateGate) Release() {
	if g == nil {
		return
	}
	g.slots <- struct{}{}
}

func extractText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	var text strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content != nil {
			for _, part := range cand.Content.Parts {
				if t, ok := part.(genai.Text); ok {
					text.WriteString(string(t))
				}
			}
		}
	}
	return text.String()
}

// trimJSONFence strips a markdown code fence the model sometimes wraps JSON in.
func trimJSONFence(raw string) string {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	return strings.TrimSpace(raw)
}
