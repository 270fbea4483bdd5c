package pipeline

import (
	"context"
	"errors"

	"github.com/sells-group/apm-cli/internal/model"
	"github.com/sells-group/apm-cli/internal/resilience"
)

// Status is the outcome of an operation or one of its items.
type Status string

const (
	StatusProcessed Status = "processed"
	StatusSkipped   Status = "skipped"
	StatusFailed    Status = "failed"
)

// ItemResult reports one item of a multi-item operation.
type ItemResult struct {
	Key    string          `json:"key"`
	Status Status          `json:"status"`
	Reason Reason          `json:"reason,omitempty"`
	Kind   resilience.Kind `json:"kind,omitempty"`
	Error  string          `json:"error,omitempty"`
	// Raw is the unparseable model output behind a malformed response.
	Raw string `json:"raw,omitempty"`
}

// OpResult is returned by every pipeline entry point. A skipped result
// always carries a Reason.
type OpResult struct {
	Operation   string          `json:"operation"`
	Application string          `json:"application,omitempty"`
	Status      Status          `json:"status"`
	Reason      Reason          `json:"reason,omitempty"`
	Warning     string          `json:"warning,omitempty"`
	Kind        resilience.Kind `json:"kind,omitempty"`
	Error       string          `json:"error,omitempty"`
	Raw         string          `json:"raw,omitempty"`
	Confidence  float64         `json:"confidence"`
	CostUSD     float64         `json:"cost_usd"`
	Items       []ItemResult    `json:"items,omitempty"`
}

// Count tallies items by status.
func (r *OpResult) Count(s Status) int {
	n := 0
	for _, it := range r.Items {
		if it.Status == s {
			n++
		}
	}
	return n
}

func skipped(op, app string, d Decision) *OpResult {
	return &OpResult{Operation: op, Application: app, Status: StatusSkipped, Reason: d.Reason, Warning: d.Warning}
}

// Failed reports err as the failed outcome of op for app. Callers use it
// for errors raised before the pipeline produced a result.
func Failed(op, app string, err error) *OpResult { return failed(op, app, err) }

func failed(op, app string, err error) *OpResult {
	r := &OpResult{Operation: op, Application: app, Status: StatusFailed, Kind: resilience.KindOf(err), Error: err.Error()}
	var mre *model.MalformedResponseError
	if errors.As(err, &mre) {
		r.Raw = mre.Raw
	}
	return r
}

func failedItem(key string, err error) ItemResult {
	it := ItemResult{Key: key, Status: StatusFailed, Kind: resilience.KindOf(err), Error: err.Error()}
	var mre *model.MalformedResponseError
	if errors.As(err, &mre) {
		it.Raw = mre.Raw
	}
	return it
}

// storeErr marks err as a store failure unless it is already a domain
// error the caller can act on.
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var ve *model.ValidationError
	var se *model.StoreError
	switch {
	case errors.Is(err, model.ErrNotFound), errors.As(err, &ve), errors.As(err, &se),
		errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}
	return &model.StoreError{Op: op, Err: err}
}
