package inference

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/apm-cli/internal/config"
	"github.com/sells-group/apm-cli/internal/cost"
	"github.com/sells-group/apm-cli/internal/model"
	"github.com/sells-group/apm-cli/internal/resilience"
	"github.com/sells-group/apm-cli/pkg/anthropic"
)

// maxDirectConcurrency limits concurrent CreateMessage calls in no-batch mode.
const maxDirectConcurrency = 10

// AnthropicResponder sends requests through the Anthropic Messages API with
// rate limiting, retry of transient failures and a circuit breaker.
type AnthropicResponder struct {
	client   anthropic.Client
	cfg      config.AnthropicConfig
	retry    resilience.RetryConfig
	limiter  *rate.Limiter
	breaker  *resilience.Breaker
	costs    *cost.Calculator
	pollOpts []anthropic.PollOption
}

// NewAnthropic creates a responder. A nil calculator uses default rates.
func NewAnthropic(client anthropic.Client, cfg config.AnthropicConfig, retry resilience.RetryConfig, costs *cost.Calculator) *AnthropicResponder {
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	if costs == nil {
		costs = cost.NewCalculator(cost.Rates{})
	}
	return &AnthropicResponder{
		client:  client,
		cfg:     cfg,
		retry:   retry,
		limiter: rate.NewLimiter(limit, 1),
		breaker: resilience.NewBreaker(cfg.CircuitThreshold, time.Duration(cfg.CircuitResetSecs)*time.Second),
		costs:   costs,
	}
}

// Infer sends a single request.
func (r *AnthropicResponder) Infer(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	params := r.params(req)

	retryCfg := r.retry
	retryCfg.OnRetry = resilience.RetryLogger("anthropic", string(req.Task))

	resp, err := resilience.DoVal(ctx, retryCfg, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		if err := r.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		return resilience.Call(ctx, r.breaker, func(ctx context.Context) (*anthropic.MessageResponse, error) {
			resp, err := r.client.CreateMessage(ctx, params)
			return resp, classify(err)
		})
	})
	if err != nil {
		return nil, eris.Wrapf(err, "inference: %s", req.Task)
	}
	return r.response(req, resp, false, time.Since(start)), nil
}

// InferAll submits reqs through the Message Batches API when there are more
// than SmallBatchThreshold of them and batching is enabled. Otherwise, or if
// the batch cannot be created, requests are sent directly.
func (r *AnthropicResponder) InferAll(ctx context.Context, reqs []Request) []Result {
	if r.cfg.NoBatch || len(reqs) <= r.cfg.SmallBatchThreshold {
		return inferDirect(ctx, r, reqs, maxDirectConcurrency)
	}

	results, err := r.inferBatch(ctx, reqs)
	if err != nil {
		if ctx.Err() != nil {
			return failAll(len(reqs), ctx.Err())
		}
		zap.L().Warn("inference: batch failed, falling back to direct calls",
			zap.Int("requests", len(reqs)),
			zap.Error(err),
		)
		return inferDirect(ctx, r, reqs, maxDirectConcurrency)
	}
	return results
}

func (r *AnthropicResponder) inferBatch(ctx context.Context, reqs []Request) ([]Result, error) {
	start := time.Now()
	items := make([]anthropic.BatchRequestItem, len(reqs))
	for i, req := range reqs {
		items[i] = anthropic.BatchRequestItem{CustomID: customID(req, i), Params: r.params(req)}
	}

	batch, err := r.client.CreateBatch(ctx, anthropic.BatchRequest{Requests: items})
	if err != nil {
		return nil, eris.Wrap(err, "inference: create batch")
	}

	pollOpts := r.pollOpts
	if len(items) < 20 {
		pollOpts = append([]anthropic.PollOption{anthropic.WithPollCap(10 * time.Second)}, pollOpts...)
	}
	batch, err = anthropic.PollBatch(ctx, r.client, batch.ID, pollOpts...)
	if err != nil {
		return nil, eris.Wrap(err, "inference: poll batch")
	}

	iter, err := r.client.GetBatchResults(ctx, batch.ID)
	if err != nil {
		return nil, eris.Wrap(err, "inference: get batch results")
	}
	collected, err := anthropic.CollectBatchResults(iter)
	if err != nil {
		return nil, eris.Wrap(err, "inference: collect batch results")
	}

	failed := make(map[string]string, len(collected.Failures))
	for _, f := range collected.Failures {
		failed[f.CustomID] = f.Type
	}

	elapsed := time.Since(start)
	results := make([]Result, len(reqs))
	for i, req := range reqs {
		id := items[i].CustomID
		msg, ok := collected.Succeeded[id]
		if !ok || msg == nil {
			status := failed[id]
			if status == "" {
				status = "missing"
			}
			results[i] = Result{Err: eris.Errorf("inference: batch item %s %s", id, status)}
			continue
		}
		results[i] = Result{Response: r.response(req, msg, true, elapsed)}
	}
	return results, nil
}

func (r *AnthropicResponder) params(req Request) anthropic.MessageRequest {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = r.cfg.MaxTokens
	}
	temp := 0.0
	p := anthropic.MessageRequest{
		Model:       r.cfg.Model,
		MaxTokens:   int64(maxTokens),
		Messages:    []anthropic.Message{{Role: "user", Content: req.Payload}},
		Temperature: &temp,
	}
	if req.System != "" {
		p.System = anthropic.BuildCachedSystemBlocks(req.System)
	}
	return p
}

func (r *AnthropicResponder) response(req Request, msg *anthropic.MessageResponse, isBatch bool, elapsed time.Duration) *Response {
	usage := model.TokenUsage{
		InputTokens:         int(msg.Usage.InputTokens),
		OutputTokens:        int(msg.Usage.OutputTokens),
		CacheCreationTokens: int(msg.Usage.CacheCreationInputTokens),
		CacheReadTokens:     int(msg.Usage.CacheReadInputTokens),
	}
	modelName := msg.Model
	if modelName == "" {
		modelName = r.cfg.Model
	}
	usage.Cost = r.costs.Usage(modelName, isBatch, usage)

	zap.L().Info("inference: response received",
		zap.String("task", string(req.Task)),
		zap.String("application", req.App),
		zap.String("model", modelName),
		zap.Bool("batch", isBatch),
		zap.Int("input_tokens", usage.InputTokens),
		zap.Int("output_tokens", usage.OutputTokens),
		zap.Int("cache_read_tokens", usage.CacheReadTokens),
		zap.Float64("estimated_cost_usd", usage.Cost),
		zap.Int64("duration_ms", elapsed.Milliseconds()),
	)

	return &Response{Text: msg.Text(), Model: modelName, Usage: usage, CostUSD: usage.Cost}
}

// classify marks retryable API statuses as transient.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *anthropic.APIError
	if errors.As(err, &apiErr) && resilience.IsTransientHTTPStatus(apiErr.StatusCode) {
		return resilience.NewTransientError(err, apiErr.StatusCode)
	}
	return err
}

func customID(req Request, i int) string {
	return fmt.Sprintf("%s-%d", req.Task, i)
}

func failAll(n int, err error) []Result {
	out := make([]Result, n)
	for i := range out {
		out[i] = Result{Err: err}
	}
	return out
}
