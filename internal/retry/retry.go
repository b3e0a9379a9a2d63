// Package retry runs an operation under a bounded retry policy.
package retry

import (
	"context"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy configures how often and how long to wait between attempts.
// MaxRetries counts retries after the first attempt, so an operation runs at
// most MaxRetries+1 times.
type Policy struct {
	MaxRetries  int
	Delay       time.Duration
	Exponential bool
	// MaxDelay caps exponential delays; zero leaves them uncapped.
	MaxDelay time.Duration
}

// Fixed returns a policy that waits the same delay between every attempt.
func Fixed(maxRetries int, delay time.Duration) Policy {
	return Policy{MaxRetries: maxRetries, Delay: delay}
}

// Exponential returns a policy that doubles the delay after every attempt.
func Exponential(maxRetries int, base time.Duration) Policy {
	return Policy{MaxRetries: maxRetries, Delay: base, Exponential: true}
}

// Notify is called before each wait with the error of the failed attempt,
// the upcoming delay and the number of retries still available.
type Notify func(err error, wait time.Duration, remaining int)

// Permanent marks err as not worth retrying. Do returns the unwrapped error.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Do runs op until it succeeds, returns a permanent error, the policy is
// exhausted or ctx is cancelled. The last error is returned as is.
func Do(ctx context.Context, p Policy, op func() error, notify Notify) error {
	retries := p.MaxRetries
	if retries < 0 {
		retries = 0
	}

	b := backoff.WithContext(backoff.WithMaxRetries(p.backOff(), uint64(retries)), ctx)

	used := 0
	var n backoff.Notify
	if notify != nil {
		n = func(err error, wait time.Duration) {
			used++
			notify(err, wait, retries-used)
		}
	}

	return backoff.RetryNotify(op, b, n)
}

func (p Policy) backOff() backoff.BackOff {
	if !p.Exponential {
		return backoff.NewConstantBackOff(p.Delay)
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.Delay
	eb.Multiplier = 2
	eb.RandomizationFactor = 0
	eb.MaxElapsedTime = 0
	if p.MaxDelay > 0 {
		eb.MaxInterval = p.MaxDelay
	} else {
		eb.MaxInterval = time.Duration(math.MaxInt64)
	}
	eb.Reset()
	return eb
}
