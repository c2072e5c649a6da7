package timeout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Manager holds the per-adapter call timeouts
type Manager struct {
	global    time.Duration
	operation map[string]time.Duration
	mu        sync.RWMutex
}

// NewManager creates a new timeout manager
func NewManager(globalTimeout time.Duration) *Manager {
	return &Manager{
		global:    globalTimeout,
		operation: make(map[string]time.Duration),
	}
}

// SetOperationTimeout sets timeout for a specific adapter
func (m *Manager) SetOperationTimeout(operation string, timeout time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.operation[operation] = timeout
}

// GetTimeout returns the timeout for operation, never longer than what is
// left on the context deadline.
func (m *Manager) GetTimeout(ctx context.Context, operation string) time.Duration {
	m.mu.RLock()
	timeout, ok := m.operation[operation]
	if !ok {
		timeout = m.global
	}
	m.mu.RUnlock()

	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			return remaining
		}
	}
	return timeout
}

// WithTimeout creates context with timeout
func (m *Manager) WithTimeout(ctx context.Context, operation string) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, m.GetTimeout(ctx, operation))
}

// Run executes fn under the operation timeout and converts a deadline hit
// into a *TimeoutError.
func (m *Manager) Run(ctx context.Context, operation string, fn func(context.Context) error) error {
	timeout := m.GetTimeout(ctx, operation)
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := fn(tctx)
	if err != nil && errors.Is(tctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return &TimeoutError{Operation: operation, Timeout: timeout, Err: err}
	}
	return err
}

// OperationTimeouts defines default timeouts per adapter
var OperationTimeouts = map[string]time.Duration{
	"tiktok_keyword":          45 * time.Second,
	"youtube_keyword":         45 * time.Second,
	"youtube_similar":         60 * time.Second,
	"instagram_similar":       60 * time.Second,
	"instagram_keyword":       60 * time.Second,
	"instagram_keyword_apify": 120 * time.Second,
	"instagram_reels_v2":      90 * time.Second,
	"google_serp":             30 * time.Second,
}

// TimeoutError represents a timeout error
type TimeoutError struct {
	Operation string
	Timeout   time.Duration
	Err       error
}

// Error implements error interface
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("operation %s timed out after %v", e.Operation, e.Timeout)
}

func (e *TimeoutError) Unwrap() error {
	return e.Err
}

// IsTimeout checks if error is a timeout
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	var te *TimeoutError
	if errors.As(err, &te) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
