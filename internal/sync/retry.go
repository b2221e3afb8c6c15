package sync

// DefaultMaxRetry is the number of failed passes after which a mutation is
// dropped.
const DefaultMaxRetry = 3

// Decision is the retry policy's verdict for a failed mutation.
type Decision int

// Retry decisions.
const (
	DecisionRetry Decision = iota
	DecisionDrop
)

func (d Decision) String() string {
	if d == DecisionDrop {
		return "drop"
	}

	return "retry"
}

// RetryPolicy decides whether a failed mutation stays queued. It computes no
// timing: the gap between attempts is the orchestrator's trigger cadence.
type RetryPolicy struct {
	MaxRetry int
}

// NewRetryPolicy returns a policy with maxRetry, falling back to
// DefaultMaxRetry for non-positive values.
func NewRetryPolicy(maxRetry int) RetryPolicy {
	if maxRetry <= 0 {
		maxRetry = DefaultMaxRetry
	}

	return RetryPolicy{MaxRetry: maxRetry}
}

// Decide takes the retry count after it has been incremented for the current
// failure. A count that has reached MaxRetry is dropped.
func (p RetryPolicy) Decide(retryCount int) Decision {
	if retryCount >= p.MaxRetry {
		return DecisionDrop
	}

	return DecisionRetry
}
