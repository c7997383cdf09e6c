package game

// Task is a repeating job owned by a plugin.
type Task struct {
	id        int64
	owner     Plugin
	fn        func()
	period    int64
	nextRun   int64
	cancelled bool
}

// ID returns the scheduler-assigned id.
func (t *Task) ID() int64 { return t.id }

// Owner returns the plugin the task belongs to. Nil for server tasks.
func (t *Task) Owner() Plugin { return t.owner }

// Cancel stops the task. Safe to call more than once and from inside the
// task's own run.
func (t *Task) Cancel() { t.cancelled = true }

// Cancelled reports whether Cancel was called.
func (t *Task) Cancelled() bool { return t.cancelled }

// Scheduler runs tasks on server ticks. It is driven by the server loop and
// is not safe for concurrent use.
type Scheduler struct {
	current int64
	nextID  int64
	tasks   []*Task
	pending []*Task // added while running, merged after the tick
	running bool
}

// NewScheduler creates an empty scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{}
}

// CurrentTick returns the number of ticks run so far.
func (s *Scheduler) CurrentTick() int64 {
	return s.current
}

// RunTaskTimer schedules fn to run delay ticks from now (0 means the next
// tick) and then every period ticks until cancelled.
func (s *Scheduler) RunTaskTimer(owner Plugin, delay, period int64, fn func()) *Task {
	if delay < 0 {
		delay = 0
	}
	if period < 1 {
		period = 1
	}
	s.nextID++
	t := &Task{
		id:      s.nextID,
		owner:   owner,
		fn:      fn,
		period:  period,
		nextRun: s.current + delay,
	}
	if s.running {
		// Never runs in the tick that scheduled it.
		if t.nextRun <= s.current {
			t.nextRun = s.current + 1
		}
		s.pending = append(s.pending, t)
	} else {
		s.tasks = append(s.tasks, t)
	}
	return t
}

// CancelTasks cancels every task owned by owner.
func (s *Scheduler) CancelTasks(owner Plugin) {
	for _, t := range s.tasks {
		if t.owner == owner {
			t.Cancel()
		}
	}
	for _, t := range s.pending {
		if t.owner == owner {
			t.Cancel()
		}
	}
	// Tick compacts once the running loop is done.
	if !s.running {
		s.compact()
	}
}

// Active returns the number of tasks that are not cancelled.
func (s *Scheduler) Active() int {
	n := 0
	for _, t := range s.tasks {
		if !t.cancelled {
			n++
		}
	}
	for _, t := range s.pending {
		if !t.cancelled {
			n++
		}
	}
	return n
}

// Tick advances one tick and runs every due task in scheduling order.
func (s *Scheduler) Tick() {
	s.current++
	s.running = true

	for _, t := range s.tasks {
		if t.cancelled || t.nextRun > s.current {
			continue
		}
		t.fn()
		t.nextRun = s.current + t.period
	}

	s.running = false
	s.tasks = append(s.tasks, s.pending...)
	s.pending = s.pending[:0]
	s.compact()
}

// compact drops cancelled tasks in place.
func (s *Scheduler) compact() {
	n := 0
	for _, t := range s.tasks {
		if !t.cancelled {
			s.tasks[n] = t
			n++
		}
	}
	for i := n; i < len(s.tasks); i++ {
		s.tasks[i] = nil
	}
	s.tasks = s.tasks[:n]
}
