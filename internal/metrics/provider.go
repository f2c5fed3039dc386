package metrics

import (
	"context"
	"time"

	"github.com/troupehq/troupe/internal/agent"
)

// InstrumentProvider wraps a provider so every Complete call lands in the
// provider collectors. Token counts come off the final Done chunk. A nil
// Metrics returns the provider unwrapped.
func InstrumentProvider(inner agent.Provider, m *Metrics) agent.Provider {
	if m == nil {
		return inner
	}
	return &instrumentedProvider{inner: inner, metrics: m}
}

type instrumentedProvider struct {
	inner   agent.Provider
	metrics *Metrics
}

func (p *instrumentedProvider) Name() string { return p.inner.Name() }

func (p *instrumentedProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	model := req.Model
	if model == "" {
		model = "default"
	}
	start := time.Now()

	inner, err := p.inner.Complete(ctx, req)
	if err != nil {
		p.metrics.RecordProviderRequest(p.inner.Name(), model, "error", time.Since(start).Seconds(), 0, 0)
		return nil, err
	}

	out := make(chan *agent.CompletionChunk)
	go func() {
		defer close(out)
		status := "success"
		var promptTokens, completionTokens int
		for chunk := range inner {
			if chunk.Error != nil {
				status = "error"
			}
			if chunk.Done {
				promptTokens = chunk.InputTokens
				completionTokens = chunk.OutputTokens
			}
			select {
			case out <- chunk:
			case <-ctx.Done():
				// The consumer left; drain so the provider goroutine
				// can close its channel.
				go func() {
					for range inner {
					}
				}()
				p.metrics.RecordProviderRequest(p.inner.Name(), model, "cancelled", time.Since(start).Seconds(), 0, 0)
				return
			}
		}
		p.metrics.RecordProviderRequest(p.inner.Name(), model, status, time.Since(start).Seconds(), promptTokens, completionTokens)
	}()
	return out, nil
}
