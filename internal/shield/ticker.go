package shield

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// pushTick is the push task body. Each online shielded player overwrites the
// velocity of every nearby entity with a push directly away from it.
//
// Members that went offline or lost the use permission are collected first
// and removed after the loop, so the set is never mutated while iterated.
func (p *Plugin) pushTick() {
	start := time.Now()
	defer func() { pushTickDuration.Observe(time.Since(start).Seconds()) }()

	var stale []uuid.UUID
	for _, id := range p.members.IDs() {
		shielded, ok := p.server.Player(id)
		if !ok || !shielded.IsOnline() {
			stale = append(stale, id)
			evictionsTotal.WithLabelValues("offline").Inc()
			p.logger.Debug("dropping offline member", zap.Stringer("id", id))
			continue
		}
		if !shielded.HasPermission(PermUse) {
			shielded.Data().Remove(keyShielded)
			stale = append(stale, id)
			evictionsTotal.WithLabelValues("permission").Inc()
			p.logger.Debug("dropping member without permission", zap.String("player", shielded.Name()))
			continue
		}

		strength := p.strength(shielded)
		radius := p.radius(shielded)
		origin := shielded.Location()

		for _, nearby := range p.server.NearbyEntities(shielded.Entity, radius, radius, radius) {
			if other, ok := nearby.AsPlayer(); ok {
				if other.HasPermission(PermExempt) {
					continue
				}
				// Shielded players never push each other.
				if other.HasPermission(PermUse) && Shielded(other) {
					continue
				}
			}

			dir, ok := nearby.Location().Sub(origin).Normalize()
			if !ok {
				// Same position: no direction to push in.
				zeroVectorSkips.Inc()
				continue
			}
			nearby.SetVelocity(dir.Mul(strength))
			pushesTotal.Inc()
		}
	}

	for _, id := range stale {
		p.members.Remove(id)
	}
}
