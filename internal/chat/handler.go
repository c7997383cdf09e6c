package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"bunger-shield/internal/game"
)

// ErrRateLimited is returned when a player sends commands too fast.
var ErrRateLimited = errors.New("rate limited")

// Handler runs command lines typed by players and admins on the server loop.
type Handler struct {
	server      *game.Server
	rateLimiter *RateLimiter
	logger      *zap.Logger
}

// NewHandler creates a new command handler
func NewHandler(server *game.Server, limiter *RateLimiter, logger *zap.Logger) *Handler {
	if limiter == nil {
		limiter = NewRateLimiter(DefaultRateLimitConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		server:      server,
		rateLimiter: limiter,
		logger:      logger,
	}
}

// Close releases the rate limiter.
func (h *Handler) Close() {
	h.rateLimiter.Stop()
}

// ProcessPlayer runs line as the online player with id. Replies go to the
// player's message channel.
func (h *Handler) ProcessPlayer(ctx context.Context, id uuid.UUID, line string) error {
	return h.processPlayer(ctx, id, nil, line)
}

// ProcessSession runs line as player, a value returned by Join. It fails with
// game.ErrPlayerNotFound once that player quit, even if the same name has
// joined again since.
func (h *Handler) ProcessSession(ctx context.Context, player *game.Player, line string) error {
	return h.processPlayer(ctx, player.ID(), player, line)
}

func (h *Handler) processPlayer(ctx context.Context, id uuid.UUID, expect *game.Player, line string) error {
	cmd, err := ParseLine(line)
	if err != nil {
		return err
	}

	limited := !h.rateLimiter.Allow(id.String())

	return h.server.Call(ctx, func() error {
		player, ok := h.server.Player(id)
		if !ok || (expect != nil && player != expect) {
			return fmt.Errorf("%s: %w", id, game.ErrPlayerNotFound)
		}
		if limited {
			h.logger.Debug("rate limited", zap.String("player", player.Name()))
			player.SendMessage(game.Text("You are sending commands too fast.", game.ColorRed))
			return ErrRateLimited
		}
		return h.dispatch(player, cmd)
	})
}

// ProcessConsole runs line with console rights. Replies are collected by
// console.
func (h *Handler) ProcessConsole(ctx context.Context, console *game.ConsoleSender, line string) error {
	cmd, err := ParseLine(line)
	if err != nil {
		return err
	}
	return h.server.Call(ctx, func() error {
		return h.dispatch(console, cmd)
	})
}

func (h *Handler) dispatch(sender game.CommandSender, cmd ChatCommand) error {
	h.logger.Info("command",
		zap.String("sender", sender.Name()),
		zap.String("label", cmd.Label),
		zap.Strings("args", cmd.Args))

	err := h.server.Commands().Dispatch(sender, cmd.Label, cmd.Args)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, game.ErrUnknownCommand):
		sender.SendMessage(game.Text(`Unknown command. Type "help" for help.`, game.ColorRed))
		return nil
	default:
		h.logger.Error("command failed", zap.String("label", cmd.Label), zap.Error(err))
		sender.SendMessage(game.Text("An internal error occurred while attempting to perform this command.", game.ColorRed))
		return err
	}
}

// Complete returns completions for a partially typed line. A nil id
// completes as the console.
func (h *Handler) Complete(ctx context.Context, id *uuid.UUID, line string) ([]string, error) {
	label, args := SplitPartial(line)
	var out []string
	err := h.server.Call(ctx, func() error {
		var sender game.CommandSender = h.server.Console()
		if id != nil {
			player, ok := h.server.Player(*id)
			if !ok {
				return fmt.Errorf("%s: %w", id, game.ErrPlayerNotFound)
			}
			sender = player
		}
		out = h.server.Commands().Complete(sender, label, args)
		return nil
	})
	return out, err
}
