package rtsched

// RunQueue is the set of runnable threads plus the notion of which one is
// current on the CPU, and the idle thread that is always runnable as a
// fallback. It applies the state transitions and checks the calling contract,
// delegating ordering to a Strategy.
//
// All methods require the scheduler lock.
type RunQueue struct {
	strategy Strategy
	table    *threadTable
	current  *Thread
	idle     *Thread
}

// Current returns the thread on the CPU.
func (rq *RunQueue) Current() *Thread { return rq.current }

// Idle returns the idle thread.
func (rq *RunQueue) Idle() *Thread { return rq.idle }

func (rq *RunQueue) init(current, idle *Thread) {
	if current == nil || idle == nil {
		contractf("Init", "current and idle threads are required")
	}
	for _, t := range [...]*Thread{current, idle} {
		rq.table.register("Init", t)
		switch t.State() {
		case StateNotStarted:
			t.setState("Init", StateRunning)
		case StateRunning:
		default:
			contractf("Init", "thread %s in state %s", t, t.State())
		}
	}
	rq.current = current
	rq.idle = idle
	rq.strategy.Init(current, idle)
}

// start admits a thread that has never run.
func (rq *RunQueue) start(t *Thread) bool {
	rq.table.register("Start", t)
	t.setState("Start", StateRunning)
	return rq.strategy.Admit(t)
}

// finish retires a runnable thread.
func (rq *RunQueue) finish(t *Thread) bool {
	if t == rq.idle {
		contractf("Finish", "the idle thread cannot exit")
	}
	t.setState("Finish", StateExited)
	return rq.strategy.Finish(t)
}

// sleep moves the current thread onto q.
func (rq *RunQueue) sleep(t *Thread, q *SleepQueue) {
	if t != rq.current {
		contractf("Sleep", "thread %s is not current (%s is)", t, rq.current)
	}
	if t == rq.idle {
		contractf("Sleep", "the idle thread cannot sleep")
	}
	q.check("Sleep", rq.table)
	t.setState("Sleep", StateSleeping)
	rq.strategy.Sleep(t)
	q.insert(rq.table, t)
}

// wake re-admits a thread already detached from its sleep queue.
func (rq *RunQueue) wake(t *Thread) bool {
	t.setState("wake", StateRunning)
	return rq.strategy.Admit(t)
}

func (rq *RunQueue) changePriority(t *Thread, p Priority) bool {
	prev := t.schedPriority
	t.schedPriority = p
	if prev == p {
		return false
	}
	return rq.strategy.ChangePriority(t, prev)
}

// pick asks the strategy for the thread to run next.
func (rq *RunQueue) pick() *Thread {
	next := rq.strategy.Pick(rq.current)
	if next == nil {
		contractf("dispatch", "strategy picked no thread")
	}
	if next.State() != StateRunning {
		contractf("dispatch", "strategy picked %s in state %s", next, next.State())
	}
	return next
}
