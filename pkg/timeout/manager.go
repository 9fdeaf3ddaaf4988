package timeout

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/spawn-mcp/research-pipeline/pkg/errors"
)

// Operation names used with the manager
const (
	OpLLMGenerate = "llm-generate"
	OpSearch      = "search"
	OpPublish     = "publish"
	OpStore       = "store"
	OpDrone       = "drone-section"
)

// OperationTimeouts defines default timeouts for operations
var OperationTimeouts = map[string]time.Duration{
	OpLLMGenerate: 120 * time.Second,
	OpSearch:      30 * time.Second,
	OpPublish:     60 * time.Second,
	OpStore:       15 * time.Second,
	OpDrone:       5 * time.Minute,
}

// Manager manages timeout configuration
type Manager struct {
	global    time.Duration
	operation map[string]time.Duration
	mu        sync.RWMutex
}

// NewManager creates a new timeout manager seeded with OperationTimeouts
func NewManager(globalTimeout time.Duration) *Manager {
	m := &Manager{
		global:    globalTimeout,
		operation: make(map[string]time.Duration, len(OperationTimeouts)),
	}
	for op, d := range OperationTimeouts {
		m.operation[op] = d
	}
	return m
}

// SetOperationTimeout sets timeout for specific operation
func (m *Manager) SetOperationTimeout(operation string, timeout time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.operation[operation] = timeout
}

// GetTimeout returns appropriate timeout for operation
func (m *Manager) GetTimeout(ctx context.Context, operation string) time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()

	timeout := m.global
	if opTimeout, exists := m.operation[operation]; exists {
		timeout = opTimeout
	}

	// An earlier caller deadline wins
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

// Run executes fn under the operation's timeout and converts a deadline
// overrun into a TimeoutError.
func Run[T any](ctx context.Context, m *Manager, operation string, fn func(context.Context) (T, error)) (T, error) {
	if m == nil {
		return fn(ctx)
	}
	timeoutCtx, cancel := m.WithTimeout(ctx, operation)
	defer cancel()

	result, err := fn(timeoutCtx)
	if err != nil && timeoutCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		var zero T
		return zero, &TimeoutError{
			Operation: operation,
			Timeout:   m.GetTimeout(ctx, operation),
			cause:     err,
		}
	}
	return result, err
}

// TimeoutError represents a timeout error
type TimeoutError struct {
	Operation string
	Timeout   time.Duration
	cause     error
}

// Error implements error interface
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("operation %s timed out after %v", e.Operation, e.Timeout)
}

func (e *TimeoutError) Unwrap() error {
	return e.cause
}

// IsTimeout checks if error is a timeout
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	var te *TimeoutError
	if errors.AsType(err, &te) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
