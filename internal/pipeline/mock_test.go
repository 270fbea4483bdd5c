package pipeline

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/apm-cli/internal/inference"
	"github.com/sells-group/apm-cli/pkg/perplexity"
)

// --- Perplexity Mock ---

type mockPerplexityClient struct {
	mock.Mock
}

func (m *mockPerplexityClient) ChatCompletion(ctx context.Context, req perplexity.ChatCompletionRequest) (*perplexity.ChatCompletionResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*perplexity.ChatCompletionResponse), args.Error(1)
}

// --- Stub Responder ---

// stubResponder answers inference requests from a handler and records
// every request it sees.
type stubResponder struct {
	mu      sync.Mutex
	calls   []inference.Request
	handler func(req inference.Request) (string, error)
}

func newStubResponder(h func(req inference.Request) (string, error)) *stubResponder {
	return &stubResponder{handler: h}
}

func (s *stubResponder) Infer(ctx context.Context, req inference.Request) (*inference.Response, error) {
	s.mu.Lock()
	s.calls = append(s.calls, req)
	h := s.handler
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	text, err := h(req)
	if err != nil {
		return nil, err
	}
	return &inference.Response{Text: text, Model: "stub-model", CostUSD: 0.01}, nil
}

func (s *stubResponder) setHandler(h func(req inference.Request) (string, error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
}

// count returns the number of requests seen for task.
func (s *stubResponder) count(task inference.Task) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c.Task == task {
			n++
		}
	}
	return n
}

func (s *stubResponder) requests(task inference.Task) []inference.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []inference.Request
	for _, c := range s.calls {
		if c.Task == task {
			out = append(out, c)
		}
	}
	return out
}
