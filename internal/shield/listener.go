package shield

import (
	"go.uber.org/zap"

	"bunger-shield/internal/game"
)

// OnJoin puts players who logged out shielded back into the cache.
func (p *Plugin) OnJoin(event *game.PlayerJoinEvent) {
	p.rehydrate(event.Player)
}

// OnQuit drops the player from the cache. A player who lost the use
// permission also loses the persisted flag.
func (p *Plugin) OnQuit(event *game.PlayerQuitEvent) {
	player := event.Player
	if !Shielded(player) {
		return
	}
	p.members.Remove(player.ID())
	if !player.HasPermission(PermUse) {
		player.Data().Remove(keyShielded)
		p.logger.Debug("cleared shield flag on quit", zap.String("player", player.Name()))
	}
}

func (p *Plugin) rehydrate(player *game.Player) {
	if !player.HasPermission(PermUse) || !Shielded(player) {
		return
	}
	player.SendMessage(game.Text("You are shielded.", game.ColorGreen))
	p.members.Add(player.ID())
}
