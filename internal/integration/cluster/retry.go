package cluster

import (
	"context"
	"errors"
	"net/http"
	"time"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
)

const (
	defaultRetryAttempts = 3
	defaultInitialDelay  = 100 * time.Millisecond
	defaultMaxDelay      = 2 * time.Second
)

// isRetryable reports whether the API server may accept the same request
// later: throttling or any 5xx.
func isRetryable(err error) bool {
	var status apierrors.APIStatus
	if !errors.As(err, &status) {
		return false
	}
	code := int(status.Status().Code)
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

type backoffPolicy struct {
	initial time.Duration
	max     time.Duration
}

// delay is initial*3^attempt, capped at max.
func (b backoffPolicy) delay(attempt int) time.Duration {
	d := b.initial
	for ; attempt > 0 && d < b.max; attempt-- {
		d *= 3
	}
	if d > b.max {
		return b.max
	}
	return d
}

func doWithRetry(ctx context.Context, maxAttempts int, b backoffPolicy, fn func(context.Context) error) error {
	attempt := 0
	for {
		err := fn(ctx)
		attempt++
		if err == nil || attempt >= maxAttempts || !isRetryable(err) {
			return err
		}

		timer := time.NewTimer(b.delay(attempt - 1))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
