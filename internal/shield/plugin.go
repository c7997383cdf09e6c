// Package shield lets players toggle a shield that periodically pushes
// nearby entities away from them.
//
// Shield state lives in each player's persistent data (shielded flag,
// strength, radius). Online shielded players are tracked in a Membership
// cache; a push task runs every few ticks while the cache is non-empty.
// Stale entries (player gone, permission revoked) are cleaned up lazily by
// the push task.
package shield

import (
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"bunger-shield/internal/config"
	"bunger-shield/internal/game"
)

// Permission nodes.
const (
	PermUse      = "shield.use"
	PermOther    = "shield.other"
	PermExempt   = "shield.exempt"
	PermStrength = "shield.strength"
	PermRadius   = "shield.radius"
)

// Namespace is the data key namespace used by the plugin.
const Namespace = "shield"

var (
	keyShielded = game.NewKey(Namespace, "shielded")
	keyStrength = game.NewKey(Namespace, "strength")
	keyRadius   = game.NewKey(Namespace, "radius")
)

// Plugin is the shield plugin.
type Plugin struct {
	cfg    config.ShieldConfig
	logger *zap.Logger

	server  *game.Server
	members *Membership
}

// New creates the plugin. It does nothing until enabled on a server.
func New(cfg config.ShieldConfig, logger *zap.Logger) *Plugin {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Plugin{cfg: cfg, logger: logger}
}

// Name implements game.Plugin.
func (p *Plugin) Name() string {
	return "Shield"
}

// Enable implements game.Plugin.
func (p *Plugin) Enable(s *game.Server) error {
	p.server = s
	p.members = NewMembership(s.Scheduler(), p, p.cfg.TaskInterval, p.pushTick)

	s.RegisterListener(p, p)
	if err := s.Commands().Register(p, "shield", &shieldCommand{plugin: p}); err != nil {
		return fmt.Errorf("register shield command: %w", err)
	}

	// Players already online when the plugin is (re)enabled.
	for _, player := range s.OnlinePlayers() {
		p.rehydrate(player)
	}

	p.logger.Info("shield plugin enabled",
		zap.Int64("interval_ticks", p.cfg.TaskInterval),
		zap.Float64("default_strength", p.cfg.DefaultStrength),
		zap.Float64("default_radius", p.cfg.DefaultRadius))
	return nil
}

// Disable implements game.Plugin.
func (p *Plugin) Disable() {
	if p.members != nil {
		p.members.Clear()
	}
	p.logger.Info("shield plugin disabled")
}

// Members returns the membership cache. Nil before Enable.
func (p *Plugin) Members() *Membership {
	return p.members
}

// Shielded reports the persisted flag of a player.
func Shielded(player *game.Player) bool {
	return player.Data().BoolOr(keyShielded, false)
}

func (p *Plugin) strength(player *game.Player) float64 {
	return player.Data().FloatOr(keyStrength, p.cfg.DefaultStrength)
}

func (p *Plugin) radius(player *game.Player) float64 {
	return player.Data().FloatOr(keyRadius, p.cfg.DefaultRadius)
}

// MemberStatus describes one cached member.
type MemberStatus struct {
	ID       uuid.UUID `json:"id"`
	Name     string    `json:"name"`
	Online   bool      `json:"online"`
	Strength float64   `json:"strength"`
	Radius   float64   `json:"radius"`
}

// Status is the plugin state exposed to admin tools.
type Status struct {
	TaskRunning bool           `json:"taskRunning"`
	Members     []MemberStatus `json:"members"`
}

// Status reports the cache contents. Must run on the server loop.
func (p *Plugin) Status() Status {
	st := Status{Members: []MemberStatus{}}
	if p.members == nil {
		return st
	}
	st.TaskRunning = p.members.Running()
	for _, id := range p.members.IDs() {
		ms := MemberStatus{ID: id}
		if player, ok := p.server.Player(id); ok {
			ms.Name = player.Name()
			ms.Online = player.IsOnline()
			ms.Strength = p.strength(player)
			ms.Radius = p.radius(player)
		}
		st.Members = append(st.Members, ms)
	}
	return st
}
