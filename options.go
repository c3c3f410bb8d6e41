// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package rtsched

import (
	"errors"
	"time"

	"github.com/joeycumines/logiface"
)

// schedOptions holds configuration options for Scheduler creation.
type schedOptions struct {
	strategy   Strategy
	logger     *logiface.Logger[logiface.Event]
	logRates   map[time.Duration]int
	clock      Clock
	switchHook SwitchHook
	resumeHook ResumeHook
}

// SwitchHook is called by the dispatcher for every context switch, with the
// scheduler lock held and interrupts disabled. It must not call back into the
// Scheduler.
type SwitchHook func(prev, next *Thread, at time.Duration)

// ResumeHook is called in the context of a thread each time it is switched
// back onto the CPU (including its first switch in), after the scheduler lock
// is released and the interrupt level restored, e.g. to deliver pending
// signals. It may call into the Scheduler.
type ResumeHook func(t *Thread)

// Option configures a Scheduler instance.
type Option interface {
	applySched(*schedOptions) error
}

// optionImpl implements Option.
type optionImpl struct {
	applySchedFunc func(*schedOptions) error
}

func (o *optionImpl) applySched(opts *schedOptions) error {
	return o.applySchedFunc(opts)
}

// WithStrategy sets the run queue ordering policy. Defaults to a new
// PriorityStrategy.
func WithStrategy(strategy Strategy) Option {
	return &optionImpl{func(opts *schedOptions) error {
		if strategy == nil {
			return errors.New("rtsched: nil strategy")
		}
		opts.strategy = strategy
		return nil
	}}
}

// WithLogger enables structured logging. A nil logger disables it.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &optionImpl{func(opts *schedOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithLogRate limits the per-thread context switch debug events, see
// catrate.NewLimiter for the format. Defaults to 10/s and 100/min per thread.
// A nil or empty map disables the limit.
func WithLogRate(rates map[time.Duration]int) Option {
	return &optionImpl{func(opts *schedOptions) error {
		opts.logRates = rates
		return nil
	}}
}

// WithClock sets the running time clock. Defaults to the monotonic time
// elapsed since New.
func WithClock(clock Clock) Option {
	return &optionImpl{func(opts *schedOptions) error {
		if clock == nil {
			return errors.New("rtsched: nil clock")
		}
		opts.clock = clock
		return nil
	}}
}

// WithSwitchHook registers a callback for every context switch.
func WithSwitchHook(hook SwitchHook) Option {
	return &optionImpl{func(opts *schedOptions) error {
		opts.switchHook = hook
		return nil
	}}
}

// WithResumeHook registers a callback run by every thread as it resumes.
func WithResumeHook(hook ResumeHook) Option {
	return &optionImpl{func(opts *schedOptions) error {
		opts.resumeHook = hook
		return nil
	}}
}

// resolveOptions applies Option instances to schedOptions.
func resolveOptions(opts []Option) (*schedOptions, error) {
	cfg := &schedOptions{
		logRates: map[time.Duration]int{
			time.Second: 10,
			time.Minute: 100,
		},
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applySched(cfg); err != nil {
			return nil, err
		}
	}
	if cfg.strategy == nil {
		cfg.strategy = NewPriorityStrategy()
	}
	if cfg.clock == nil {
		cfg.clock = newMonotonicClock()
	}
	return cfg, nil
}
