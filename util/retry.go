package util

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// NewExponentialBackoff stops once maxElapsedTime passed. Zero never stops.
func NewExponentialBackoff(initialInterval, maxElapsedTime time.Duration) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = initialInterval
	eb.MaxElapsedTime = maxElapsedTime
	return eb
}
