package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bunger-shield/internal/config"
	"bunger-shield/internal/game"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		line  string
		label string
		args  []string
		err   error
	}{
		{"/shield", "shield", []string{}, nil},
		{"shield Steve", "shield", []string{"Steve"}, nil},
		{"  /SHIELD   strength  2.5 ", "shield", []string{"strength", "2.5"}, nil},
		{"/tp 1 -2 3", "tp", []string{"1", "-2", "3"}, nil},
		{"", "", nil, ErrEmptyLine},
		{"   ", "", nil, ErrEmptyLine},
		{"/", "", nil, ErrEmptyLine},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			cmd, err := ParseLine(tt.line)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.label, cmd.Label)
			assert.Equal(t, tt.args, cmd.Args)
			assert.False(t, cmd.ReceivedAt.IsZero())
		})
	}
}

func TestSplitPartial(t *testing.T) {
	tests := []struct {
		line  string
		label string
		args  []string
	}{
		{"", "", nil},
		{"/sh", "sh", nil},
		{"shield ", "shield", []string{""}},
		{"/shield st", "shield", []string{"st"}},
		{"/shield strength ", "shield", []string{"strength", ""}},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			label, args := SplitPartial(tt.line)
			assert.Equal(t, tt.label, label)
			assert.Equal(t, tt.args, args)
		})
	}
}

func TestRateLimiter_Burst(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{CommandsPerSecond: 0.001, Burst: 2, IdleTimeout: time.Minute})
	defer rl.Stop()

	assert.True(t, rl.Allow("steve"))
	assert.True(t, rl.Allow("steve"))
	assert.False(t, rl.Allow("steve"), "burst exhausted")
	assert.True(t, rl.Allow("alex"), "limits are per sender")
	assert.Equal(t, 2, rl.Tracked())
}

func TestRateLimiter_CleanupDropsIdle(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{CommandsPerSecond: 1, Burst: 1, IdleTimeout: time.Minute})
	defer rl.Stop()

	rl.Allow("steve")
	rl.cleanup(time.Now())
	assert.Equal(t, 1, rl.Tracked())

	rl.cleanup(time.Now().Add(2 * time.Minute))
	assert.Equal(t, 0, rl.Tracked())
}

func TestRateLimiter_StopIsIdempotent(t *testing.T) {
	rl := NewRateLimiter(DefaultRateLimitConfig)
	rl.Stop()
	rl.Stop()
}

// =============================================================================
// HANDLER
// =============================================================================

func newTestHandler(t *testing.T, limit RateLimitConfig) (*Handler, *game.Server) {
	t.Helper()
	cfg := config.DefaultServer()
	cfg.TickRate = 100
	s := game.NewServer(game.Options{Server: cfg})
	require.NoError(t, s.Commands().Register(nil, "boom", game.CommandFunc(
		func(game.CommandSender, string, []string) error { return errors.New("boom") })))
	s.Start()

	h := NewHandler(s, NewRateLimiter(limit), nil)
	t.Cleanup(func() {
		h.Close()
		s.Stop()
	})
	return h, s
}

func joinPlayer(t *testing.T, s *game.Server, name string) *game.Player {
	t.Helper()
	var p *game.Player
	require.NoError(t, s.Call(context.Background(), func() error {
		var err error
		p, err = s.Join(name)
		return err
	}))
	return p
}

func nextMessage(t *testing.T, p *game.Player) game.Message {
	t.Helper()
	select {
	case msg := <-p.Messages():
		return msg
	case <-time.After(time.Second):
		t.Fatal("no message received")
		return game.Message{}
	}
}

func TestHandler_ProcessPlayer(t *testing.T) {
	h, s := newTestHandler(t, DefaultRateLimitConfig)
	steve := joinPlayer(t, s, "Steve")

	require.NoError(t, h.ProcessPlayer(context.Background(), steve.ID(), "/where"))
	msg := nextMessage(t, steve)
	assert.Equal(t, game.ColorGray, msg.Color)
	assert.Contains(t, msg.Text, "You are at")

	require.NoError(t, h.ProcessPlayer(context.Background(), steve.ID(), "LIST"))
	assert.Equal(t, "There are 1 players online: Steve", nextMessage(t, steve).Text)
}

func TestHandler_UnknownCommand(t *testing.T) {
	h, s := newTestHandler(t, DefaultRateLimitConfig)
	steve := joinPlayer(t, s, "Steve")

	require.NoError(t, h.ProcessPlayer(context.Background(), steve.ID(), "/fly"))
	msg := nextMessage(t, steve)
	assert.Equal(t, `Unknown command. Type "help" for help.`, msg.Text)
	assert.Equal(t, game.ColorRed, msg.Color)
}

func TestHandler_FailingCommandReportsInternalError(t *testing.T) {
	h, s := newTestHandler(t, DefaultRateLimitConfig)
	steve := joinPlayer(t, s, "Steve")

	err := h.ProcessPlayer(context.Background(), steve.ID(), "/boom")
	require.Error(t, err)
	assert.Contains(t, nextMessage(t, steve).Text, "internal error")
}

func TestHandler_EmptyLine(t *testing.T) {
	h, s := newTestHandler(t, DefaultRateLimitConfig)
	steve := joinPlayer(t, s, "Steve")

	assert.ErrorIs(t, h.ProcessPlayer(context.Background(), steve.ID(), "  "), ErrEmptyLine)
}

func TestHandler_UnknownPlayer(t *testing.T) {
	h, _ := newTestHandler(t, DefaultRateLimitConfig)

	err := h.ProcessPlayer(context.Background(), uuid.New(), "/list")
	assert.ErrorIs(t, err, game.ErrPlayerNotFound)
}

func TestHandler_ProcessSessionRejectsRejoinedName(t *testing.T) {
	h, s := newTestHandler(t, DefaultRateLimitConfig)
	first := joinPlayer(t, s, "Steve")

	require.NoError(t, h.ProcessSession(context.Background(), first, "/list"))
	nextMessage(t, first)

	require.NoError(t, s.Call(context.Background(), func() error { return s.Quit(first.ID()) }))
	second := joinPlayer(t, s, "Steve")
	require.Equal(t, first.ID(), second.ID())

	err := h.ProcessSession(context.Background(), first, "/list")
	assert.ErrorIs(t, err, game.ErrPlayerNotFound)

	require.NoError(t, h.ProcessSession(context.Background(), second, "/list"))
	assert.Equal(t, "There are 1 players online: Steve", nextMessage(t, second).Text)
}

func TestHandler_RateLimited(t *testing.T) {
	h, s := newTestHandler(t, RateLimitConfig{CommandsPerSecond: 0.001, Burst: 1, IdleTimeout: time.Minute})
	steve := joinPlayer(t, s, "Steve")

	require.NoError(t, h.ProcessPlayer(context.Background(), steve.ID(), "/list"))
	nextMessage(t, steve)

	err := h.ProcessPlayer(context.Background(), steve.ID(), "/list")
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, "You are sending commands too fast.", nextMessage(t, steve).Text)
}

func TestHandler_ProcessConsoleIsNotLimited(t *testing.T) {
	h, _ := newTestHandler(t, RateLimitConfig{CommandsPerSecond: 0.001, Burst: 1, IdleTimeout: time.Minute})
	console := game.NewConsoleSender(nil)

	for i := 0; i < 3; i++ {
		require.NoError(t, h.ProcessConsole(context.Background(), console, "list"))
	}
	replies := console.Replies()
	require.Len(t, replies, 3)
	assert.Equal(t, "There are 0 players online: ", replies[0].Text)
}

func TestHandler_Complete(t *testing.T) {
	h, s := newTestHandler(t, DefaultRateLimitConfig)
	steve := joinPlayer(t, s, "Steve")

	names, err := h.Complete(context.Background(), nil, "/")
	require.NoError(t, err)
	assert.Equal(t, []string{"boom", "help", "list", "tp", "where"}, names)

	id := steve.ID()
	names, err = h.Complete(context.Background(), &id, "/w")
	require.NoError(t, err)
	assert.Equal(t, []string{"where"}, names)

	missing := uuid.New()
	_, err = h.Complete(context.Background(), &missing, "/w")
	assert.ErrorIs(t, err, game.ErrPlayerNotFound)
}
