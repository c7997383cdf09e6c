package chat

import (
	"errors"
	"strings"
	"time"
)

// ErrEmptyLine is returned for lines with no command in them.
var ErrEmptyLine = errors.New("empty command line")

// ChatCommand represents a parsed command line
type ChatCommand struct {
	Label      string   // "shield", "list", "tp", etc. Lower case.
	Args       []string // Arguments after the label, as typed
	ReceivedAt time.Time
}

// ParseLine splits a command line. A leading "/" is optional.
func ParseLine(line string) (ChatCommand, error) {
	fields := strings.Fields(strings.TrimPrefix(strings.TrimSpace(line), "/"))
	if len(fields) == 0 {
		return ChatCommand{}, ErrEmptyLine
	}
	return ChatCommand{
		Label:      strings.ToLower(fields[0]),
		Args:       fields[1:],
		ReceivedAt: time.Now(),
	}, nil
}

// SplitPartial splits a line that is still being typed. When the line ends
// in whitespace an empty word is appended, since the next word has started.
// args is nil while the label itself is being typed.
func SplitPartial(line string) (label string, args []string) {
	line = strings.TrimPrefix(strings.TrimLeft(line, " \t"), "/")
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", nil
	}
	trailing := strings.HasSuffix(line, " ") || strings.HasSuffix(line, "\t")
	label = strings.ToLower(fields[0])
	if len(fields) == 1 && !trailing {
		return label, nil
	}
	args = append([]string{}, fields[1:]...)
	if trailing {
		args = append(args, "")
	}
	return label, args
}
