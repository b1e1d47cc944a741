package chain

import "time"

// RetryPolicy bounds how often a single backend is retried before the chain
// moves on. Delays grow exponentially and are applied between attempts only.
type RetryPolicy struct {
	Attempts     int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultRetryPolicy retries each backend three times with a 1s/2s/capped
// backoff between attempts.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts:     3,
		InitialDelay: time.Second,
		MaxDelay:     10 * time.Second,
		Multiplier:   2,
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	out := p
	if out.Attempts < 1 {
		out.Attempts = 1
	}
	if out.InitialDelay <= 0 {
		out.InitialDelay = time.Second
	}
	if out.MaxDelay <= 0 {
		out.MaxDelay = 10 * time.Second
	}
	if out.Multiplier < 1 {
		out.Multiplier = 2
	}
	return out
}

// Delay returns the pause before the given retry, where attempt 1 is the
// first retry after the initial failure.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.InitialDelay
	for i := 1; i < attempt; i++ {
		d = time.Duration(float64(d) * p.Multiplier)
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}
