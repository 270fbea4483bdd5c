// Package inference is the boundary to the language model. Callers build a
// Request per task and decode the Response text into task-specific shapes.
package inference

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/sells-group/apm-cli/internal/model"
)

// Task names an inference job. Prompts and response schemas are per task.
type Task string

const (
	TaskExtractAnswers    Task = "extract-answers"
	TaskSuggestScores     Task = "suggest-scores"
	TaskInsightFacet      Task = "insight-facet"
	TaskPortfolioInsights Task = "portfolio-insights"
)

// Request is one call to the model.
type Request struct {
	Task Task
	// App is the application name, empty for portfolio-wide tasks.
	App string
	// System is sent as a cached system block so repeated calls for the
	// same task share the prefix.
	System    string
	Payload   string
	MaxTokens int
}

// Response is the raw model output plus accounting.
type Response struct {
	Text    string
	Model   string
	Usage   model.TokenUsage
	CostUSD float64
}

// Responder sends a single request.
type Responder interface {
	Infer(ctx context.Context, req Request) (*Response, error)
}

// Batcher is implemented by responders that can submit many requests at
// once. Results are returned in request order.
type Batcher interface {
	InferAll(ctx context.Context, reqs []Request) []Result
}

// Result pairs a response with its error for multi-request calls.
type Result struct {
	Response *Response
	Err      error
}

// InferAll runs reqs through r, using the batch path when r supports it and
// bounded direct calls otherwise.
func InferAll(ctx context.Context, r Responder, reqs []Request, concurrency int) []Result {
	if b, ok := r.(Batcher); ok {
		return b.InferAll(ctx, reqs)
	}
	return inferDirect(ctx, r, reqs, concurrency)
}

func inferDirect(ctx context.Context, r Responder, reqs []Request, concurrency int) []Result {
	if concurrency <= 0 {
		concurrency = maxDirectConcurrency
	}
	results := make([]Result, len(reqs))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, req := range reqs {
		g.Go(func() error {
			resp, err := r.Infer(gCtx, req)
			results[i] = Result{Response: resp, Err: err}
			return nil // per-item errors stay in results
		})
	}
	_ = g.Wait()
	return results
}
