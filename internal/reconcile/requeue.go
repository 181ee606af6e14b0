package reconcile

import "time"

// Default requeue delays for event-driven reconciliation.
const (
	DefaultSuccessDelay = 300 * time.Second
	DefaultFailureDelay = 60 * time.Second
)

// RequeuePolicy maps an outcome to the delay before the next pass.
type RequeuePolicy struct {
	SuccessDelay time.Duration
	FailureDelay time.Duration
}

// DefaultRequeuePolicy re-checks healthy records every five minutes and
// retries failures after one minute.
func DefaultRequeuePolicy() RequeuePolicy {
	return RequeuePolicy{SuccessDelay: DefaultSuccessDelay, FailureDelay: DefaultFailureDelay}
}

// After returns the delay to wait after a pass with the given outcome.
func (p RequeuePolicy) After(o Outcome) time.Duration {
	if o == Failed {
		if p.FailureDelay <= 0 {
			return DefaultFailureDelay
		}
		return p.FailureDelay
	}
	if p.SuccessDelay <= 0 {
		return DefaultSuccessDelay
	}
	return p.SuccessDelay
}

// Summarize folds several outcomes into the one that drives scheduling: Failed if
// any failed, Unchanged when nothing was written, otherwise the last write.
func Summarize(results []Result) Outcome {
	summary := Unchanged
	for _, res := range results {
		if res.Outcome == Failed {
			return Failed
		}
		if res.Outcome != Unchanged {
			summary = res.Outcome
		}
	}
	return summary
}
