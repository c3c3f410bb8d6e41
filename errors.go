// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package rtsched

import (
	"errors"
	"fmt"
)

// Sleep results and construction errors.
var (
	// ErrInterrupted is delivered to a sleeper woken by [Scheduler.TryRun], or
	// by [Scheduler.WakeThreadForced] with this result.
	ErrInterrupted = errors.New("rtsched: sleep interrupted")

	// ErrTimedOut is delivered to a sleeper whose timeout expired before any
	// other wake arrived.
	ErrTimedOut = errors.New("rtsched: sleep timed out")

	// ErrTimerUnavailable should be returned (or wrapped) by a [TimerService]
	// that has no timer left to allocate.
	ErrTimerUnavailable = errors.New("rtsched: no timer available")

	// ErrHalted is returned by [Scheduler.Sleep] once the scheduler has been
	// halted.
	ErrHalted = errors.New("rtsched: scheduler halted")

	// ErrNilHAL is returned by [New] when no HAL is provided.
	ErrNilHAL = errors.New("rtsched: nil HAL")

	// ErrNilTimerService is returned by [New] when no timer service is provided.
	ErrNilTimerService = errors.New("rtsched: nil timer service")
)

// ContractError is the panic value used for violations of the scheduler's
// calling contract, e.g. sleeping while already sleeping, or finishing an
// exited thread. These are programming errors and are never returned.
type ContractError struct {
	Op     string
	Reason string
}

// Error implements the error interface.
func (e *ContractError) Error() string {
	return fmt.Sprintf("rtsched: %s: %s", e.Op, e.Reason)
}

func contractf(op, format string, args ...any) {
	panic(&ContractError{Op: op, Reason: fmt.Sprintf(format, args...)})
}
