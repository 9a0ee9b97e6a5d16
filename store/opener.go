package store

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/blockberries/relayberry/logging"
	"github.com/blockberries/relayberry/metrics"
	"github.com/blockberries/relayberry/types"
)

// RetryPolicy controls how lock contention on open is handled.
type RetryPolicy struct {
	// MaxRetries is the number of extra open attempts after the first.
	MaxRetries int

	// Backoff is the fixed delay between attempts.
	Backoff time.Duration
}

// DefaultRetryPolicy returns the default contention policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 500,
		Backoff:    10 * time.Millisecond,
	}
}

// IsContention reports whether an open error means another opener holds
// the database lock.
func IsContention(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EWOULDBLOCK) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "temporarily unavailable")
}

// opener hands out handles for one table, either opening a fresh handle per
// call or sharing one held-open handle.
type opener struct {
	table    string
	path     string
	backend  Backend
	retry    RetryPolicy
	holdOpen bool
	logger   *logging.Logger
	metrics  metrics.Metrics

	mu     sync.RWMutex
	held   Handle
	closed bool
}

// with runs fn against an open handle. In per-call mode the handle is
// closed when fn returns.
func (o *opener) with(fn func(Handle) error) error {
	if !o.holdOpen {
		h, err := o.open()
		if err != nil {
			return err
		}
		fnErr := fn(h)
		if err := h.Close(); err != nil && fnErr == nil {
			return fmt.Errorf("closing %s: %w", o.table, err)
		}
		return fnErr
	}

	h, err := o.acquire()
	if err != nil {
		return err
	}
	defer o.mu.RUnlock()
	return fn(h)
}

// acquire returns the held handle with the read lock taken.
func (o *opener) acquire() (Handle, error) {
	o.mu.RLock()
	if o.held != nil {
		return o.held, nil
	}
	o.mu.RUnlock()

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil, fmt.Errorf("%w: %s: store closed", types.ErrStorageUnavailable, o.table)
	}
	if o.held == nil {
		h, err := o.open()
		if err != nil {
			o.mu.Unlock()
			return nil, err
		}
		o.held = h
	}
	o.mu.Unlock()

	// Close may run between the two locks; re-check under the read lock.
	o.mu.RLock()
	if o.held == nil {
		o.mu.RUnlock()
		return nil, fmt.Errorf("%w: %s: store closed", types.ErrStorageUnavailable, o.table)
	}
	return o.held, nil
}

// open opens the backing database, retrying on lock contention.
func (o *opener) open() (Handle, error) {
	var lastErr error
	for attempt := 0; attempt <= o.retry.MaxRetries; attempt++ {
		if attempt > 0 {
			o.metrics.IncStoreOpenRetries(o.table)
			time.Sleep(o.retry.Backoff)
		}

		h, err := o.backend.Open(o.path)
		if err == nil {
			return h, nil
		}
		if !IsContention(err) {
			return nil, fmt.Errorf("%w: opening %s at %s: %w", types.ErrStorageUnavailable, o.table, o.path, err)
		}
		lastErr = err
	}

	o.logger.Warn("store open retries exhausted",
		logging.Table(o.table),
		logging.Attempt(o.retry.MaxRetries+1),
		logging.Error(lastErr),
	)
	return nil, fmt.Errorf("%w: %s locked after %d attempts: %w",
		types.ErrStorageUnavailable, o.table, o.retry.MaxRetries+1, lastErr)
}

func (o *opener) close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.closed = true
	if o.held == nil {
		return nil
	}
	err := o.held.Close()
	o.held = nil
	return err
}
