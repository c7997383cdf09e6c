package game

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrCommandExists is returned when a command name or alias is taken.
	ErrCommandExists = errors.New("command already registered")
	// ErrUnknownCommand is returned by Dispatch for unregistered labels.
	ErrUnknownCommand = errors.New("unknown command")
)

// CommandExecutor runs one command. Execute reports user mistakes to the
// sender itself; a returned error means the command failed internally.
type CommandExecutor interface {
	Execute(sender CommandSender, label string, args []string) error
	Complete(sender CommandSender, args []string) []string
}

// CommandFunc adapts a function to CommandExecutor without completion.
type CommandFunc func(sender CommandSender, label string, args []string) error

// Execute implements CommandExecutor.
func (f CommandFunc) Execute(sender CommandSender, label string, args []string) error {
	return f(sender, label, args)
}

// Complete implements CommandExecutor.
func (f CommandFunc) Complete(CommandSender, []string) []string {
	return nil
}

type registeredCommand struct {
	name     string
	owner    Plugin
	executor CommandExecutor
}

// CommandMap maps labels to executors. Accessed from the server loop only.
type CommandMap struct {
	byLabel map[string]*registeredCommand
}

// NewCommandMap creates an empty command map.
func NewCommandMap() *CommandMap {
	return &CommandMap{byLabel: make(map[string]*registeredCommand)}
}

// Register adds a command under name and its aliases. Nothing is registered
// if any label is taken.
func (m *CommandMap) Register(owner Plugin, name string, executor CommandExecutor, aliases ...string) error {
	labels := append([]string{name}, aliases...)
	for i, l := range labels {
		l = strings.ToLower(strings.TrimSpace(l))
		if l == "" {
			return fmt.Errorf("register %q: empty label", name)
		}
		if _, taken := m.byLabel[l]; taken {
			return fmt.Errorf("register %q: %w", l, ErrCommandExists)
		}
		labels[i] = l
	}

	cmd := &registeredCommand{name: labels[0], owner: owner, executor: executor}
	for _, l := range labels {
		m.byLabel[l] = cmd
	}
	return nil
}

// UnregisterAll drops every command owned by owner.
func (m *CommandMap) UnregisterAll(owner Plugin) {
	for l, cmd := range m.byLabel {
		if cmd.owner == owner {
			delete(m.byLabel, l)
		}
	}
}

// Has reports whether label is registered.
func (m *CommandMap) Has(label string) bool {
	_, ok := m.byLabel[strings.ToLower(label)]
	return ok
}

// Names returns the primary command names, sorted.
func (m *CommandMap) Names() []string {
	seen := make(map[string]bool, len(m.byLabel))
	var names []string
	for _, cmd := range m.byLabel {
		if !seen[cmd.name] {
			seen[cmd.name] = true
			names = append(names, cmd.name)
		}
	}
	sort.Strings(names)
	return names
}

// Dispatch runs the command registered for label.
func (m *CommandMap) Dispatch(sender CommandSender, label string, args []string) error {
	label = strings.ToLower(label)
	cmd, ok := m.byLabel[label]
	if !ok {
		return fmt.Errorf("%s: %w", label, ErrUnknownCommand)
	}
	if err := cmd.executor.Execute(sender, label, args); err != nil {
		return fmt.Errorf("command %s: %w", cmd.name, err)
	}
	return nil
}

// Complete returns completions for the last argument of a partial command
// line. With no args it completes command names.
func (m *CommandMap) Complete(sender CommandSender, label string, args []string) []string {
	label = strings.ToLower(label)
	if args == nil {
		var out []string
		for _, name := range m.Names() {
			if strings.HasPrefix(name, label) {
				out = append(out, name)
			}
		}
		return out
	}
	cmd, ok := m.byLabel[label]
	if !ok {
		return nil
	}
	return cmd.executor.Complete(sender, args)
}
