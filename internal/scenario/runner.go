package scenario

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/joeycumines/go-rtsched"
	"github.com/joeycumines/go-rtsched/simcpu"
	"github.com/joeycumines/logiface"
)

// spinQuantum is the interval between preemption points while spinning.
const spinQuantum = time.Millisecond

// Report is the outcome of a run.
type Report struct {
	RunID    string
	Scenario string
	Started  time.Time
	Elapsed  time.Duration
	Threads  []ThreadReport
	Trace    []Switch
	Stats    rtsched.Stats
}

// ThreadReport is the final state of one thread.
type ThreadReport struct {
	Name            string
	Priority        int
	InitialPriority int
	State           string
	RunningTime     time.Duration
	// Sleeps holds one result per sleep step, see ResultString.
	Sleeps []string
	// TryRuns holds one status per tryrun step.
	TryRuns []string
}

// Switch is one context switch of the trace.
type Switch struct {
	Seq  int
	At   time.Duration
	Prev string
	Next string
}

// Option configures Run.
type Option func(*runConfig)

type runConfig struct {
	logger *logiface.Logger[logiface.Event]
	runID  string
}

// WithLogger sets the logger used by the run, and by the scheduler.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return func(c *runConfig) { c.logger = logger }
}

// WithRunID overrides the generated run id.
func WithRunID(id string) Option {
	return func(c *runConfig) { c.runID = id }
}

// ResultString renders a sleep result.
func ResultString(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, rtsched.ErrTimedOut):
		return "timed-out"
	case errors.Is(err, rtsched.ErrInterrupted):
		return "interrupted"
	case errors.Is(err, rtsched.ErrTimerUnavailable):
		return "no-timer"
	default:
		return err.Error()
	}
}

type threadRun struct {
	spec    *Thread
	thread  *rtsched.Thread
	sleeps  []string
	tryruns []string
	exited  bool
}

type run struct {
	sc      *Scenario
	cpu     *simcpu.CPU
	s       *rtsched.Scheduler
	logger  *logiface.Logger[logiface.Event]
	queues  map[string]*rtsched.SleepQueue
	threads map[string]*threadRun
	trace   []Switch
	// guarded by the scheduler lock
	exited int
	done   rtsched.SleepQueue
}

// Run executes the scenario on a fresh simulated CPU, with the calling
// goroutine as the supervising thread, and returns once every thread exited
// or the deadline (or ctx) expired. On expiry the partial report is returned
// with the error.
func Run(ctx context.Context, sc *Scenario, opts ...Option) (*Report, error) {
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	var cfg runConfig
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.runID == "" {
		cfg.runID = uuid.New().String()
	}

	r := &run{
		sc:      sc,
		logger:  cfg.logger,
		queues:  make(map[string]*rtsched.SleepQueue),
		threads: make(map[string]*threadRun, len(sc.Threads)),
	}
	for _, name := range sc.Queues() {
		r.queues[name] = new(rtsched.SleepQueue)
	}

	r.cpu = simcpu.New(simcpu.WithLogger(cfg.logger))
	s, err := rtsched.New(r.cpu, r.cpu.Timers(sc.Timers),
		rtsched.WithLogger(cfg.logger),
		rtsched.WithSwitchHook(r.record),
	)
	if err != nil {
		return nil, err
	}
	r.s = s

	report := &Report{RunID: cfg.runID, Scenario: sc.Name, Started: time.Now()}
	r.logger.Info().
		Str("run_id", report.RunID).
		Str("scenario", sc.Name).
		Int("threads", len(sc.Threads)).
		Log("scenario started")

	supervisor := rtsched.NewThread("supervisor", rtsched.PriorityMin)
	r.cpu.Bootstrap(s, supervisor, rtsched.NewThread("idle", rtsched.PriorityMin))

	order := make([]*threadRun, len(sc.Threads))
	for i := range sc.Threads {
		spec := &sc.Threads[i]
		th := &threadRun{spec: spec, thread: rtsched.NewThread(spec.Name, rtsched.Priority(spec.Priority))}
		r.threads[spec.Name] = th
		order[i] = th
		r.cpu.Spawn(th.thread, r.body(th))
	}

	ctx, cancel := context.WithTimeout(ctx, sc.deadline())
	finished := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			r.cpu.Raise(func() { s.WakeThreadForced(supervisor, ctx.Err()) })
		case <-finished:
		}
	}()

	for _, th := range order {
		if th.thread.State() == rtsched.StateNotStarted {
			s.Start(th.thread)
		}
	}

	var waitErr error
	s.Lock()
	for r.exited < len(order) && waitErr == nil {
		waitErr = s.SleepLocked(&r.done, rtsched.Infinite)
	}
	s.Unlock()
	close(finished)
	cancel()

	report.Elapsed = time.Since(report.Started)
	report.Stats = s.Stats()
	for _, th := range order {
		report.Threads = append(report.Threads, ThreadReport{
			Name:            th.spec.Name,
			Priority:        int(th.thread.Priority()),
			InitialPriority: int(th.thread.InitialPriority()),
			State:           th.thread.State().String(),
			RunningTime:     s.RunningTime(th.thread),
			Sleeps:          th.sleeps,
			TryRuns:         th.tryruns,
		})
	}
	r.cpu.Stop()
	report.Trace = r.trace

	if waitErr != nil {
		r.logger.Warning().
			Str("run_id", report.RunID).
			Err(waitErr).
			Log("scenario aborted")
		return report, fmt.Errorf("scenario %q: %w", sc.Name, waitErr)
	}
	r.logger.Info().
		Str("run_id", report.RunID).
		Dur("elapsed", report.Elapsed).
		Uint64("switches", report.Stats.Switches).
		Log("scenario finished")
	return report, nil
}

// record is the switch hook, called on the CPU with the scheduler lock held.
func (r *run) record(prev, next *rtsched.Thread, at time.Duration) {
	r.trace = append(r.trace, Switch{
		Seq:  len(r.trace) + 1,
		At:   at,
		Prev: prev.Name(),
		Next: next.Name(),
	})
}

func (r *run) body(th *threadRun) func() {
	return func() {
		for i := range th.spec.Steps {
			r.exec(th, &th.spec.Steps[i])
		}
		r.exit(th)
	}
}

// exit counts th as exited, waking the supervisor after the last one.
func (r *run) exit(th *threadRun) {
	r.s.Lock()
	if !th.exited {
		th.exited = true
		r.exited++
		if r.exited == len(r.threads) {
			r.s.WakeOne(&r.done)
		}
	}
	r.s.Unlock()
}

func (r *run) exec(th *threadRun, step *Step) {
	s := r.s
	switch {
	case step.Sleep != nil:
		timeout := rtsched.Infinite
		if step.Sleep.Timeout != nil {
			timeout = *step.Sleep.Timeout
		}
		err := s.Sleep(r.queues[step.Sleep.Queue], timeout)
		th.sleeps = append(th.sleeps, ResultString(err))

	case step.WakeOne != "":
		s.WakeOne(r.queues[step.WakeOne])

	case step.WakeAll != "":
		s.WakeAll(r.queues[step.WakeAll])

	case step.IRQWakeOne != "":
		q := r.queues[step.IRQWakeOne]
		r.cpu.Raise(func() { s.WakeOne(q) })
		r.cpu.Checkpoint()

	case step.IRQWakeAll != "":
		q := r.queues[step.IRQWakeAll]
		r.cpu.Raise(func() { s.WakeAll(q) })
		r.cpu.Checkpoint()

	case step.SetPriority != nil:
		s.SetPriority(r.threads[step.SetPriority.Thread].thread, rtsched.Priority(step.SetPriority.Priority))

	case step.Boost != nil:
		s.ChangePriority(r.threads[step.Boost.Thread].thread, rtsched.Priority(step.Boost.Priority))

	case step.TryRun != "":
		status := s.TryRun(r.threads[step.TryRun].thread)
		th.tryruns = append(th.tryruns, status.String())

	case step.Spin > 0:
		end := time.Now().Add(step.Spin)
		for d := time.Until(end); d > 0; d = time.Until(end) {
			time.Sleep(min(d, spinQuantum))
			r.cpu.Checkpoint()
		}

	case step.Yield:
		s.PostSwitch()

	case step.Finish != "":
		target := r.threads[step.Finish]
		if target == th {
			r.exit(th)
			s.Finish(th.thread)
		}
		if target.thread.State() != rtsched.StateExited {
			s.Finish(target.thread)
		}
		r.exit(target)
	}
}
