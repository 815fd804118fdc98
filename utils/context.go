package utils

import (
	"context"
	"time"
)

const DefaultTimeout = 5 * time.Minute

func NewContext() (ctx context.Context, cancel func()) {
	return NewContextWithTimeout(DefaultTimeout)
}

func NewContextWithTimeout(timeout time.Duration) (ctx context.Context, cancel func()) {
	return context.WithTimeout(context.TODO(), timeout)
}

// WithTimeout derives a context from parent bounded by timeout. A zero timeout
// falls back to DefaultTimeout so no daemon call runs unbounded
func WithTimeout(parent context.Context, timeout time.Duration) (ctx context.Context, cancel func()) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return context.WithTimeout(parent, timeout)
}
