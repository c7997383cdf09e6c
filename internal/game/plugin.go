package game

import (
	"fmt"

	"go.uber.org/zap"
)

// Plugin is a unit of game logic loaded into the server.
//
// Enable and Disable run on the server loop. A plugin whose Enable returns an
// error is disabled right away: its commands, listeners and tasks are dropped.
type Plugin interface {
	Name() string
	Enable(s *Server) error
	Disable()
}

// EnablePlugin enables p. Must run on the server loop, or before Start.
// On failure the plugin is disabled again and the error is returned.
func (s *Server) EnablePlugin(p Plugin) error {
	for _, enabled := range s.plugins {
		if enabled.Name() == p.Name() {
			return fmt.Errorf("plugin %s: already enabled", p.Name())
		}
	}

	s.logger.Info("enabling plugin", zap.String("plugin", p.Name()))
	if err := p.Enable(s); err != nil {
		s.logger.Error("plugin failed to enable, disabling",
			zap.String("plugin", p.Name()), zap.Error(err))
		s.cleanupPlugin(p)
		return fmt.Errorf("enable plugin %s: %w", p.Name(), err)
	}

	s.plugins = append(s.plugins, p)
	return nil
}

// DisablePlugin disables p if it is enabled. Must run on the server loop.
func (s *Server) DisablePlugin(p Plugin) {
	idx := -1
	for i, enabled := range s.plugins {
		if enabled == p {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}
	s.plugins = append(s.plugins[:idx], s.plugins[idx+1:]...)

	s.logger.Info("disabling plugin", zap.String("plugin", p.Name()))
	p.Disable()
	s.cleanupPlugin(p)
}

// Plugins returns the enabled plugins in enable order.
func (s *Server) Plugins() []Plugin {
	return append([]Plugin(nil), s.plugins...)
}

func (s *Server) cleanupPlugin(p Plugin) {
	s.commands.UnregisterAll(p)
	s.listeners.unregisterAll(p)
	s.scheduler.CancelTasks(p)
}

// RegisterListener subscribes listener to every event interface it
// implements (JoinListener, QuitListener).
func (s *Server) RegisterListener(owner Plugin, listener any) {
	s.listeners.register(owner, listener)
}
