package scenario

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	sc, err := Load("testdata/priority_wake.yaml")
	require.NoError(t, err)
	assert.Equal(t, "priority-wake", sc.Name)
	assert.Equal(t, 5*time.Second, sc.Deadline)
	require.Len(t, sc.Threads, 3)
	assert.Equal(t, "q", sc.Threads[0].Steps[0].Sleep.Queue)
	assert.Nil(t, sc.Threads[0].Steps[0].Sleep.Timeout)
	assert.Equal(t, []string{"q"}, sc.Queues())

	_, err = Load("testdata/missing.yaml")
	assert.Error(t, err)
}

func TestParse_durations(t *testing.T) {
	sc, err := Parse([]byte(`
name: d
threads:
  - name: a
    priority: 1
    steps:
      - sleep: {queue: q, timeout: 15ms}
      - spin: 2ms
`))
	require.NoError(t, err)
	require.NotNil(t, sc.Threads[0].Steps[0].Sleep.Timeout)
	assert.Equal(t, 15*time.Millisecond, *sc.Threads[0].Steps[0].Sleep.Timeout)
	assert.Equal(t, 2*time.Millisecond, sc.Threads[0].Steps[1].Spin)
	assert.Equal(t, DefaultDeadline, sc.deadline())
}

func TestParse_unknownField(t *testing.T) {
	_, err := Parse([]byte("name: x\nbogus: 1\nthreads: [{name: a, priority: 1}]\n"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	for _, tt := range []struct {
		name string
		yaml string
		want []string
	}{
		{
			name: "empty",
			yaml: "threads: []",
			want: []string{"scenario name is required", "at least one thread is required"},
		},
		{
			name: "duplicate thread",
			yaml: "name: x\nthreads: [{name: a, priority: 1}, {name: a, priority: 2}]",
			want: []string{`duplicate thread "a"`},
		},
		{
			name: "priority range",
			yaml: "name: x\nthreads: [{name: a, priority: 256}]",
			want: []string{`thread "a": priority 256 out of range [0, 255]`},
		},
		{
			name: "two actions",
			yaml: "name: x\nthreads: [{name: a, priority: 1, steps: [{wake_one: q, yield: true}]}]",
			want: []string{`thread "a" step 1: exactly one action required, got 2`},
		},
		{
			name: "no action",
			yaml: "name: x\nthreads: [{name: a, priority: 1, steps: [{}]}]",
			want: []string{`thread "a" step 1: exactly one action required, got 0`},
		},
		{
			name: "unknown thread",
			yaml: "name: x\nthreads: [{name: a, priority: 1, steps: [{tryrun: b}, {finish: c}, {set_priority: {thread: d, priority: 1}}]}]",
			want: []string{
				`thread "a" step 1: unknown thread "b"`,
				`thread "a" step 2: unknown thread "c"`,
				`thread "a" step 3: unknown thread "d"`,
			},
		},
		{
			name: "sleep",
			yaml: "name: x\nthreads: [{name: a, priority: 1, steps: [{sleep: {queue: ''}}, {sleep: {queue: q, timeout: -1s}}]}]",
			want: []string{
				`thread "a" step 1: sleep queue is required`,
				`thread "a" step 2: sleep timeout must not be negative`,
			},
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			for _, want := range tt.want {
				assert.ErrorContains(t, err, want)
			}
		})
	}
}

func TestRun_priorityWake(t *testing.T) {
	sc, err := Load("testdata/priority_wake.yaml")
	require.NoError(t, err)

	report, err := Run(context.Background(), sc, WithRunID("run-1"))
	require.NoError(t, err)
	assert.Equal(t, "run-1", report.RunID)
	require.Len(t, report.Threads, 3)
	for _, th := range report.Threads {
		assert.Equal(t, "Exited", th.State, th.Name)
	}
	assert.Equal(t, []string{"ok"}, report.Threads[0].Sleeps)
	assert.Equal(t, []string{"ok"}, report.Threads[1].Sleeps)

	// the higher priority sleeper is woken (and runs) first
	var nexts []string
	for _, sw := range report.Trace {
		nexts = append(nexts, sw.Next)
	}
	high, low := indexOf(nexts, "high", 2), indexOf(nexts, "low", 2)
	require.GreaterOrEqual(t, high, 0, "%v", nexts)
	require.GreaterOrEqual(t, low, 0, "%v", nexts)
	assert.Less(t, high, low, "%v", nexts)
	assert.Equal(t, uint64(len(report.Trace)), report.Stats.Switches)
	assert.Equal(t, uint64(1), report.Stats.Deferred, "one irq wake")
}

// indexOf returns the index of the nth occurrence of s.
func indexOf(list []string, s string, nth int) int {
	for i, v := range list {
		if v == s {
			nth--
			if nth == 0 {
				return i
			}
		}
	}
	return -1
}

func TestRun_timeouts(t *testing.T) {
	sc, err := Load("testdata/timeout.yaml")
	require.NoError(t, err)

	report, err := Run(context.Background(), sc)
	require.NoError(t, err)
	assert.NotEmpty(t, report.RunID)
	byName := make(map[string]ThreadReport)
	for _, th := range report.Threads {
		byName[th.Name] = th
	}
	assert.Equal(t, []string{"timed-out", "interrupted"}, byName["sleeper"].Sleeps)
	assert.Equal(t, []string{"no-timer"}, byName["starved"].Sleeps)
	assert.Equal(t, []string{"ok", "already-running"}, byName["reaper"].TryRuns)
	assert.Equal(t, uint64(1), report.Stats.Timeouts)
	assert.Equal(t, uint64(1), report.Stats.TimerFailures)
}

func TestRun_deadline(t *testing.T) {
	sc, err := Parse([]byte(`
name: stuck
deadline: 20ms
threads:
  - name: forever
    priority: 3
    steps:
      - sleep: {queue: q}
`))
	require.NoError(t, err)
	report, err := Run(context.Background(), sc)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "%v", err)
	require.NotNil(t, report)
	require.Len(t, report.Threads, 1)
	assert.Equal(t, "Sleeping", report.Threads[0].State)
}

func TestRun_finishAndPriority(t *testing.T) {
	sc, err := Parse([]byte(`
name: finish
threads:
  - name: victim
    priority: 3
    steps:
      - sleep: {queue: q, timeout: 1h}
  - name: boss
    priority: 2
    steps:
      - boost: {thread: victim, priority: 9}
      - set_priority: {thread: boss, priority: 4}
      - finish: victim
      - yield: true
      - spin: 1ms
      - finish: boss
      - wake_all: q
`))
	require.NoError(t, err)
	report, err := Run(context.Background(), sc)
	require.NoError(t, err)
	victim, boss := report.Threads[0], report.Threads[1]
	assert.Equal(t, "Exited", victim.State)
	assert.Empty(t, victim.Sleeps, "never woke")
	assert.Equal(t, 9, victim.Priority)
	assert.Equal(t, 3, victim.InitialPriority)
	assert.Equal(t, "Exited", boss.State)
	assert.Equal(t, 4, boss.InitialPriority)
	assert.GreaterOrEqual(t, boss.RunningTime, time.Millisecond)
}

func TestResultString(t *testing.T) {
	assert.Equal(t, "ok", ResultString(nil))
	assert.Equal(t, "custom", ResultString(errors.New("custom")))
}
