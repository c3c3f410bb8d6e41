package simcpu

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/joeycumines/go-rtsched"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bootstrap(t *testing.T, capacity int) (*CPU, *Timers, *rtsched.Scheduler, *rtsched.Thread) {
	t.Helper()
	c := New()
	timers := c.Timers(capacity)
	s, err := rtsched.New(c, timers)
	require.NoError(t, err)
	main := rtsched.NewThread("main", 1)
	c.Bootstrap(s, main, rtsched.NewThread("idle", rtsched.PriorityMin))
	return c, timers, s, main
}

func TestTimers_capacity(t *testing.T) {
	c := New()
	x := c.Timers(2)
	noop := func() {}

	t1, err := x.NewTimer(time.Hour, noop)
	require.NoError(t, err)
	t2, err := x.NewTimer(time.Hour, noop)
	require.NoError(t, err)
	_, err = x.NewTimer(time.Hour, noop)
	assert.ErrorIs(t, err, rtsched.ErrTimerUnavailable)
	assert.Equal(t, 2, x.Active())

	t1.Close()
	t1.Close()
	assert.Equal(t, 1, x.Active(), "close is idempotent")
	t3, err := x.NewTimer(time.Hour, noop)
	require.NoError(t, err)
	t2.Close()
	t3.Close()
	assert.Equal(t, 0, x.Active())
}

func TestTimers_unlimited(t *testing.T) {
	x := New().Timers(0)
	for i := 0; i < 100; i++ {
		_, err := x.NewTimer(time.Hour, func() {})
		require.NoError(t, err)
	}
	assert.Equal(t, 100, x.Active())
}

func TestTimers_fireRaises(t *testing.T) {
	c := New()
	x := c.Timers(1)
	_, err := x.NewTimer(time.Millisecond, func() {})
	require.NoError(t, err)

	select {
	case <-c.irqSignal:
	case <-time.After(5 * time.Second):
		t.Fatal("timer never raised")
	}
	assert.Equal(t, 0, x.Active())
	c.irqMu.Lock()
	assert.Len(t, c.irqs, 1)
	c.irqMu.Unlock()
}

func TestCPU_IPL(t *testing.T) {
	c := New()
	assert.True(t, c.InterruptsEnabled())
	saved := c.IPLSave()
	c.IPLDisable()
	assert.False(t, c.InterruptsEnabled())
	c.IPLRestore(saved)
	assert.True(t, c.InterruptsEnabled())
	c.IPLDisable()
	c.IPLEnable()
	assert.True(t, c.InterruptsEnabled())
}

func TestCPU_Interrupt(t *testing.T) {
	c, _, s, _ := bootstrap(t, 0)
	defer c.Stop()

	var inHard bool
	c.Interrupt(func() { inHard = s.InHard() })
	assert.True(t, inHard)
	assert.False(t, s.InHard())
	assert.Equal(t, uint64(1), c.Delivered())
	assert.Same(t, s, c.Scheduler())
}

func TestCPU_idleDeliversInterrupts(t *testing.T) {
	c, _, s, main := bootstrap(t, 0)
	defer c.Stop()

	var q rtsched.SleepQueue
	var handlers atomic.Int32
	go func() {
		// raised from a foreign goroutine, while main sleeps
		time.Sleep(time.Millisecond)
		c.Raise(func() { handlers.Add(1) })
		c.Raise(func() {
			handlers.Add(1)
			s.WakeThreadForced(main, rtsched.ErrInterrupted)
		})
	}()
	assert.ErrorIs(t, s.Sleep(&q, rtsched.Infinite), rtsched.ErrInterrupted)
	assert.Equal(t, int32(2), handlers.Load())
	assert.Equal(t, uint64(2), c.Delivered())
}

func TestCPU_StopReleasesParked(t *testing.T) {
	c, _, s, _ := bootstrap(t, 0)

	var q rtsched.SleepQueue
	for _, p := range []rtsched.Priority{3, 4} {
		th := rtsched.NewThread("sleeper", p)
		c.Spawn(th, func() { _ = s.Sleep(&q, rtsched.Infinite) })
		s.Start(th)
	}
	// spawned, never started
	c.Spawn(rtsched.NewThread("pending", 5), func() {})
	require.Equal(t, 2, q.Len())

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Stop()
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return")
	}
}

func TestCPU_Retire(t *testing.T) {
	c, _, s, _ := bootstrap(t, 0)
	defer c.Stop()

	th := rtsched.NewThread("never", 5)
	var ran bool
	c.Spawn(th, func() { ran = true })
	s.Finish(th)
	assert.Equal(t, rtsched.StateExited, th.State())

	g := c.gate(th)
	select {
	case <-g.retired:
	default:
		t.Fatal("expected the gate to be retired")
	}
	assert.False(t, ran)
}

func TestCPU_exitedBlocksUntilStop(t *testing.T) {
	c, _, s, main := bootstrap(t, 0)

	var unwound atomic.Bool
	th := rtsched.NewThread("short", 5)
	c.Spawn(th, func() {
		defer unwound.Store(true)
		s.Finish(s.Current())
	})
	s.Start(th)
	assert.Equal(t, rtsched.StateExited, th.State())
	assert.Same(t, main, s.Current())

	time.Sleep(10 * time.Millisecond)
	assert.False(t, unwound.Load())
	assert.False(t, s.Halted())

	c.Stop()
	assert.True(t, s.Halted())
	assert.True(t, unwound.Load())
}
