package game

import (
	"time"

	"github.com/google/uuid"
)

// EntitySnapshot is an immutable copy of entity state.
// Value types only, so readers never race with the loop.
type EntitySnapshot struct {
	ID       uuid.UUID  `json:"id"`
	Name     string     `json:"name"`
	Kind     EntityKind `json:"kind"`
	Position Vec3       `json:"position"`
	Velocity Vec3       `json:"velocity"`
	Online   bool       `json:"online,omitempty"`
}

// WorldSnapshot is the world state at the end of a tick.
type WorldSnapshot struct {
	Sequence    uint64           `json:"sequence"` // Monotonic, one per publish
	Timestamp   time.Time        `json:"timestamp"`
	TickNumber  int64            `json:"tick"`
	Entities    []EntitySnapshot `json:"entities"`
	PlayerCount int              `json:"playerCount"`
}

// Snapshot returns the latest published snapshot. Safe from any goroutine.
// Never nil once NewServer returned.
func (s *Server) Snapshot() *WorldSnapshot {
	return s.snapshot.Load()
}

// publishSnapshot builds a fresh snapshot and swaps it in. Readers keep the
// one they loaded, so snapshots are never reused.
func (s *Server) publishSnapshot() {
	snap := &WorldSnapshot{
		Sequence:    s.snapshotSeq + 1,
		Timestamp:   time.Now(),
		TickNumber:  s.scheduler.CurrentTick(),
		Entities:    make([]EntitySnapshot, 0, len(s.entities)),
		PlayerCount: len(s.players),
	}
	s.snapshotSeq++

	for _, e := range s.sortedEntities() {
		es := EntitySnapshot{
			ID:       e.id,
			Name:     e.name,
			Kind:     e.kind,
			Position: e.position,
			Velocity: e.velocity,
		}
		if e.player != nil {
			es.Online = e.player.online
		}
		snap.Entities = append(snap.Entities, es)
	}

	s.snapshot.Store(snap)
}
