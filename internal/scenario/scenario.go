// Package scenario loads, validates, and runs simulated scheduling scenarios
// described in YAML.
package scenario

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joeycumines/go-rtsched"
	"gopkg.in/yaml.v3"
)

// Scenario is a set of threads, each running a list of steps on a simulated
// CPU.
type Scenario struct {
	Name string `yaml:"name"`
	// Timers limits the number of armed sleep timers, 0 means unlimited.
	Timers int `yaml:"timers,omitempty"`
	// Deadline bounds the whole run, defaults to DefaultDeadline.
	Deadline time.Duration `yaml:"deadline,omitempty"`
	Threads  []Thread      `yaml:"threads"`
}

// DefaultDeadline applies when Scenario.Deadline is zero.
const DefaultDeadline = 10 * time.Second

// Thread describes one simulated thread. Threads are started in order.
type Thread struct {
	Name     string `yaml:"name"`
	Priority int    `yaml:"priority"`
	Steps    []Step `yaml:"steps"`
}

// Step is a single action. Exactly one field must be set.
type Step struct {
	Sleep       *SleepStep    `yaml:"sleep,omitempty"`
	WakeOne     string        `yaml:"wake_one,omitempty"`
	WakeAll     string        `yaml:"wake_all,omitempty"`
	IRQWakeOne  string        `yaml:"irq_wake_one,omitempty"`
	IRQWakeAll  string        `yaml:"irq_wake_all,omitempty"`
	SetPriority *PriorityStep `yaml:"set_priority,omitempty"`
	Boost       *PriorityStep `yaml:"boost,omitempty"`
	TryRun      string        `yaml:"tryrun,omitempty"`
	Spin        time.Duration `yaml:"spin,omitempty"`
	Yield       bool          `yaml:"yield,omitempty"`
	Finish      string        `yaml:"finish,omitempty"`
}

// SleepStep blocks the thread on a named queue. A nil timeout waits forever.
type SleepStep struct {
	Queue   string         `yaml:"queue"`
	Timeout *time.Duration `yaml:"timeout,omitempty"`
}

// PriorityStep changes the priority of a named thread.
type PriorityStep struct {
	Thread   string `yaml:"thread"`
	Priority int    `yaml:"priority"`
}

// Load reads and validates a scenario file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	sc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return sc, nil
}

// Parse decodes and validates a scenario. Unknown fields are rejected.
func Parse(data []byte) (*Scenario, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var sc Scenario
	if err := dec.Decode(&sc); err != nil {
		return nil, fmt.Errorf("decode scenario: %w", err)
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

// Validate reports every problem found, joined.
func (x *Scenario) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if x.Name == "" {
		fail("scenario name is required")
	}
	if x.Timers < 0 {
		fail("timers must not be negative")
	}
	if x.Deadline < 0 {
		fail("deadline must not be negative")
	}
	if len(x.Threads) == 0 {
		fail("at least one thread is required")
	}

	names := make(map[string]bool, len(x.Threads))
	for _, th := range x.Threads {
		if th.Name == "" {
			fail("thread name is required")
			continue
		}
		if names[th.Name] {
			fail("duplicate thread %q", th.Name)
		}
		names[th.Name] = true
	}

	thread := func(where, name string) {
		if !names[name] {
			fail("%s: unknown thread %q", where, name)
		}
	}
	priority := func(where string, p int) {
		if !rtsched.Priority(p).Valid() {
			fail("%s: priority %d out of range [%d, %d]", where, p, rtsched.PriorityMin, rtsched.PriorityMax)
		}
	}

	for _, th := range x.Threads {
		priority(fmt.Sprintf("thread %q", th.Name), th.Priority)
		for i, step := range th.Steps {
			where := fmt.Sprintf("thread %q step %d", th.Name, i+1)
			if n := step.kinds(); n != 1 {
				fail("%s: exactly one action required, got %d", where, n)
				continue
			}
			switch {
			case step.Sleep != nil:
				if step.Sleep.Queue == "" {
					fail("%s: sleep queue is required", where)
				}
				if t := step.Sleep.Timeout; t != nil && *t < 0 {
					fail("%s: sleep timeout must not be negative", where)
				}
			case step.SetPriority != nil:
				thread(where, step.SetPriority.Thread)
				priority(where, step.SetPriority.Priority)
			case step.Boost != nil:
				thread(where, step.Boost.Thread)
				priority(where, step.Boost.Priority)
			case step.TryRun != "":
				thread(where, step.TryRun)
			case step.Finish != "":
				thread(where, step.Finish)
			case step.Spin < 0:
				fail("%s: spin must not be negative", where)
			}
		}
	}

	return errors.Join(errs...)
}

// Queues returns the names of every queue referenced, in order of first use.
func (x *Scenario) Queues() (queues []string) {
	seen := make(map[string]bool)
	add := func(name string) {
		if name != "" && !seen[name] {
			seen[name] = true
			queues = append(queues, name)
		}
	}
	for _, th := range x.Threads {
		for _, step := range th.Steps {
			if step.Sleep != nil {
				add(step.Sleep.Queue)
			}
			add(step.WakeOne)
			add(step.WakeAll)
			add(step.IRQWakeOne)
			add(step.IRQWakeAll)
		}
	}
	return queues
}

func (x *Scenario) deadline() time.Duration {
	if x.Deadline == 0 {
		return DefaultDeadline
	}
	return x.Deadline
}

func (x Step) kinds() (n int) {
	for _, set := range [...]bool{
		x.Sleep != nil,
		x.WakeOne != "",
		x.WakeAll != "",
		x.IRQWakeOne != "",
		x.IRQWakeAll != "",
		x.SetPriority != nil,
		x.Boost != nil,
		x.TryRun != "",
		x.Spin != 0,
		x.Yield,
		x.Finish != "",
	} {
		if set {
			n++
		}
	}
	return n
}
