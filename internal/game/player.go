package game

import (
	"strings"

	"github.com/google/uuid"
)

// outboxSize bounds the messages buffered for a slow client.
const outboxSize = 64

// Player is a connected client's entity. A Player value stays usable after
// quitting (IsOnline reports false) so late callers never see nil fields.
type Player struct {
	*Entity

	online  bool
	outbox  chan Message
	dropped int
}

// PlayerID derives the stable id for a player name, the same way offline-mode
// servers do. Names are case-insensitive.
func PlayerID(name string) uuid.UUID {
	return uuid.NewMD5(uuid.Nil, []byte("OfflinePlayer:"+strings.ToLower(name)))
}

// IsOnline reports whether the player is still connected.
func (p *Player) IsOnline() bool {
	return p.online
}

// SendMessage implements CommandSender. Messages to a full outbox or an
// offline player are dropped.
func (p *Player) SendMessage(msg Message) {
	if !p.online {
		return
	}
	select {
	case p.outbox <- msg:
	default:
		p.dropped++
	}
}

// Messages returns the channel delivering this player's chat. It is closed
// when the player quits.
func (p *Player) Messages() <-chan Message {
	return p.outbox
}

// HasPermission implements CommandSender.
func (p *Player) HasPermission(node string) bool {
	if p.server == nil || p.server.permissions == nil {
		return false
	}
	return p.server.permissions.Has(p.Name(), node)
}
