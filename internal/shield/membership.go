package shield

import (
	"bytes"
	"sort"

	"github.com/google/uuid"

	"bunger-shield/internal/game"
)

// Membership is the set of players whose shield is active, plus the push
// task that serves them. The task is scheduled while the set is non-empty.
//
// Runs on the server loop only.
type Membership struct {
	scheduler *game.Scheduler
	owner     game.Plugin
	interval  int64
	run       func()

	ids  map[uuid.UUID]struct{}
	task *game.Task
}

// NewMembership creates an empty cache. run is the push task body, scheduled
// every interval ticks while members exist.
func NewMembership(scheduler *game.Scheduler, owner game.Plugin, interval int64, run func()) *Membership {
	return &Membership{
		scheduler: scheduler,
		owner:     owner,
		interval:  interval,
		run:       run,
		ids:       make(map[uuid.UUID]struct{}),
	}
}

// Add inserts id and starts the push task if it is not running.
func (m *Membership) Add(id uuid.UUID) {
	m.ids[id] = struct{}{}
	membersGauge.Set(float64(len(m.ids)))
	if m.task == nil {
		m.task = m.scheduler.RunTaskTimer(m.owner, 0, m.interval, m.run)
		taskRunning.Set(1)
	}
}

// Remove deletes id and stops the push task once the set is empty.
// Removing an absent id is a no-op apart from that check.
func (m *Membership) Remove(id uuid.UUID) {
	delete(m.ids, id)
	membersGauge.Set(float64(len(m.ids)))
	if len(m.ids) == 0 && m.task != nil {
		m.stopTask()
	}
}

// Contains reports whether id is a member.
func (m *Membership) Contains(id uuid.UUID) bool {
	_, ok := m.ids[id]
	return ok
}

// Len returns the number of members.
func (m *Membership) Len() int {
	return len(m.ids)
}

// Running reports whether the push task is scheduled.
func (m *Membership) Running() bool {
	return m.task != nil
}

// IDs returns the members sorted by id.
func (m *Membership) IDs() []uuid.UUID {
	out := make([]uuid.UUID, 0, len(m.ids))
	for id := range m.ids {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i][:], out[j][:]) < 0
	})
	return out
}

// Clear stops the task and empties the set.
func (m *Membership) Clear() {
	clear(m.ids)
	membersGauge.Set(0)
	if m.task != nil {
		m.stopTask()
	}
}

func (m *Membership) stopTask() {
	m.task.Cancel()
	m.task = nil
	taskRunning.Set(0)
}
