package game

import (
	"github.com/google/uuid"
)

// EntityKind classifies entities. Only players have permissions and
// persistent data.
type EntityKind string

const (
	KindPlayer     EntityKind = "player"
	KindMob        EntityKind = "mob"
	KindItem       EntityKind = "item"
	KindProjectile EntityKind = "projectile"
)

// ParseEntityKind maps a name to a spawnable kind. Players cannot be spawned.
func ParseEntityKind(s string) (EntityKind, bool) {
	switch EntityKind(s) {
	case KindMob, KindItem, KindProjectile:
		return EntityKind(s), true
	default:
		return "", false
	}
}

// Entity is anything with a position in the world.
// Fields are only touched from the server loop.
type Entity struct {
	id       uuid.UUID
	name     string
	kind     EntityKind
	position Vec3
	velocity Vec3
	data     *DataContainer
	removed  bool

	server *Server
	player *Player // set for player entities
}

// ID returns the entity's unique id.
func (e *Entity) ID() uuid.UUID { return e.id }

// Name returns the display name.
func (e *Entity) Name() string { return e.name }

// Kind returns the entity kind.
func (e *Entity) Kind() EntityKind { return e.kind }

// Location returns the current position.
func (e *Entity) Location() Vec3 { return e.position }

// Velocity returns the current velocity, in blocks per tick.
func (e *Entity) Velocity() Vec3 { return e.velocity }

// SetVelocity replaces the velocity. It is applied on the next tick.
func (e *Entity) SetVelocity(v Vec3) { e.velocity = v }

// Data returns the entity's data container.
func (e *Entity) Data() *DataContainer { return e.data }

// Valid reports whether the entity is still in the world.
func (e *Entity) Valid() bool { return !e.removed }

// AsPlayer returns the player behind this entity, if any.
func (e *Entity) AsPlayer() (*Player, bool) {
	return e.player, e.player != nil
}

// Teleport moves the entity instantly.
func (e *Entity) Teleport(pos Vec3) {
	e.position = pos
	if e.server != nil {
		e.server.gridDirty = true
	}
}
