package game

// PlayerJoinEvent fires after a player is online and its data is loaded.
type PlayerJoinEvent struct {
	Player *Player
}

// PlayerQuitEvent fires while the player is still in the world, before its
// data is saved.
type PlayerQuitEvent struct {
	Player *Player
}

// JoinListener receives join events.
type JoinListener interface {
	OnJoin(event *PlayerJoinEvent)
}

// QuitListener receives quit events.
type QuitListener interface {
	OnQuit(event *PlayerQuitEvent)
}

type registeredListener struct {
	owner    Plugin
	listener any
}

// listenerRegistry dispatches events in registration order.
type listenerRegistry struct {
	listeners []registeredListener
}

func (r *listenerRegistry) register(owner Plugin, listener any) {
	r.listeners = append(r.listeners, registeredListener{owner: owner, listener: listener})
}

func (r *listenerRegistry) unregisterAll(owner Plugin) {
	n := 0
	for _, l := range r.listeners {
		if l.owner != owner {
			r.listeners[n] = l
			n++
		}
	}
	r.listeners = r.listeners[:n]
}

func (r *listenerRegistry) fireJoin(e *PlayerJoinEvent) {
	for _, l := range r.listeners {
		if jl, ok := l.listener.(JoinListener); ok {
			jl.OnJoin(e)
		}
	}
}

func (r *listenerRegistry) fireQuit(e *PlayerQuitEvent) {
	for _, l := range r.listeners {
		if ql, ok := l.listener.(QuitListener); ok {
			ql.OnQuit(e)
		}
	}
}
