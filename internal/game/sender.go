package game

import (
	"sync"

	"go.uber.org/zap"
)

// CommandSender is anything that can issue commands and receive replies:
// online players, the server console, API callers.
type CommandSender interface {
	Name() string
	SendMessage(msg Message)
	HasPermission(node string) bool
}

// ConsoleSender is the non-interactive server console. It holds every
// permission and writes replies to the log. Replies are also kept so API
// callers can return them.
type ConsoleSender struct {
	logger *zap.Logger

	mu      sync.Mutex
	replies []Message
}

// NewConsoleSender creates a console sender logging through logger.
func NewConsoleSender(logger *zap.Logger) *ConsoleSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConsoleSender{logger: logger}
}

// Name implements CommandSender.
func (c *ConsoleSender) Name() string {
	return "CONSOLE"
}

// SendMessage implements CommandSender.
func (c *ConsoleSender) SendMessage(msg Message) {
	c.mu.Lock()
	c.replies = append(c.replies, msg)
	c.mu.Unlock()

	c.logger.Info(msg.Text, zap.String("color", string(msg.Color)))
}

// HasPermission implements CommandSender. The console may do anything.
func (c *ConsoleSender) HasPermission(string) bool {
	return true
}

// Replies returns and clears the messages received so far.
func (c *ConsoleSender) Replies() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.replies
	c.replies = nil
	return out
}
