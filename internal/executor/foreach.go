package executor

import (
	"os"
	"strconv"

	"github.com/pkg/errors"

	"github.com/oar-p2p/oar-p2p/internal/registry"
)

// ConcurrencyLimitEnv overrides the default unbounded fan-out concurrency.
const ConcurrencyLimitEnv = "OAR_P2P_CONCURRENCY_LIMIT"

// ErrRemoteFailed wraps the first error encountered by ForEach with the
// responsible machine's hostname.
type ErrRemoteFailed struct {
	Hostname string
	Cause    error
}

func (e *ErrRemoteFailed) Error() string {
	return errors.Wrapf(e.Cause, "running task on machine %s", e.Hostname).Error()
}

func (e *ErrRemoteFailed) Unwrap() error { return e.Cause }

// concurrencyLimit resolves the fan-out's permit-channel size: the value of
// OAR_P2P_CONCURRENCY_LIMIT if set and positive, else len(machines) so no
// machine ever blocks acquiring a permit ("unbounded" per spec).
func concurrencyLimit(machineCount int) int {
	if v, ok := os.LookupEnv(ConcurrencyLimitEnv); ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	if machineCount < 1 {
		return 1
	}
	return machineCount
}

// outcome is one machine's completed result, fed back over a channel so the
// caller can react to the first failure as soon as it arrives rather than
// waiting for the whole batch.
type outcome[T any] struct {
	index int
	value T
	err   error
}

// ForEach runs f(machine) concurrently across machines, bounded by the
// configured concurrency limit. As soon as any machine's f returns an error,
// ForEach stops waiting on the rest of the batch and returns that error
// immediately, wrapped as *ErrRemoteFailed with the offending machine's
// hostname — matching the fan-out's first-error-short-circuits contract.
// In-flight goroutines are never killed; they keep running to completion in
// the background, and their results (if any) are discarded.
func ForEach[T any](machines []registry.MachineID, f func(registry.MachineID) (T, error)) ([]T, error) {
	results := make([]T, len(machines))
	outcomes := make(chan outcome[T], len(machines))
	permits := make(chan struct{}, concurrencyLimit(len(machines)))

	// Launching runs in its own goroutine so that waiting for a permit never
	// delays the collector below; once the collector returns, no further
	// machine is started.
	done := make(chan struct{})
	defer close(done)

	go func() {
		for i, m := range machines {
			i, m := i, m
			select {
			case permits <- struct{}{}:
			case <-done:
				return
			}
			go func() {
				defer func() { <-permits }()
				v, err := f(m)
				outcomes <- outcome[T]{index: i, value: v, err: err}
			}()
		}
	}()

	for range machines {
		o := <-outcomes
		results[o.index] = o.value
		if o.err != nil {
			return results, &ErrRemoteFailed{Hostname: machines[o.index].Hostname(), Cause: o.err}
		}
	}
	return results, nil
}
