package shield

import (
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"bunger-shield/internal/game"
)

const noPermissionMessage = "I'm sorry, but you do not have permission to perform this command. " +
	"Please contact the server administrators if you believe that this is in error."

var errNoPermission = errors.New("no permission")

// argumentError is a rejected argument value. The message is shown to the
// sender as is.
type argumentError struct {
	msg string
}

func (e *argumentError) Error() string { return e.msg }

// shieldCommand adapts the cobra command tree to the server's command map.
// The tree is built per invocation because its validators and handlers
// close over the sender.
type shieldCommand struct {
	plugin *Plugin
}

// invocation holds values parsed by the validators for the handlers.
type invocation struct {
	target *game.Player
	value  *float64
}

func (c *shieldCommand) build(sender game.CommandSender, inv *invocation) *cobra.Command {
	p := c.plugin

	root := &cobra.Command{
		Use:                   "shield [player]",
		Short:                 "Toggle your shield, or another player's",
		DisableFlagParsing:    true,
		DisableFlagsInUseLine: true,
		SilenceErrors:         true,
		SilenceUsage:          true,
		Args: cobra.MatchAll(
			requirePermission(sender, PermUse),
			cobra.MaximumNArgs(1),
			c.onlinePlayerArg(inv),
		),
		ValidArgsFunction: func(_ *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
			if len(args) > 0 || !sender.HasPermission(PermUse) || !sender.HasPermission(PermOther) {
				return nil, cobra.ShellCompDirectiveNoFileComp
			}
			return c.playerNames(toComplete), cobra.ShellCompDirectiveNoFileComp
		},
		RunE: func(_ *cobra.Command, _ []string) error {
			p.toggle(sender, inv.target)
			return nil
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.SetHelpCommand(&cobra.Command{
		Use:    "help",
		Hidden: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sendUsage(sender, cmd.Root())
			return nil
		},
	})

	root.AddCommand(
		c.settingCommand(sender, inv, "strength", PermStrength, p.cfg.MinStrength, p.cfg.MaxStrength, p.showStrength, p.setStrength),
		c.settingCommand(sender, inv, "radius", PermRadius, p.cfg.MinRadius, p.cfg.MaxRadius, p.showRadius, p.setRadius),
	)

	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	return root
}

func (c *shieldCommand) settingCommand(
	sender game.CommandSender,
	inv *invocation,
	name, perm string,
	lo, hi float64,
	show func(*game.Player),
	set func(*game.Player, float64),
) *cobra.Command {
	return &cobra.Command{
		Use:                   name + " [value]",
		Short:                 fmt.Sprintf("Show or set your shield %s (%s-%s)", name, game.FormatNumber(lo), game.FormatNumber(hi)),
		DisableFlagParsing:    true,
		DisableFlagsInUseLine: true,
		Hidden:                !sender.HasPermission(perm),
		Args: cobra.MatchAll(
			requirePermission(sender, perm),
			cobra.MaximumNArgs(1),
			floatArg(inv, lo, hi),
		),
		RunE: func(_ *cobra.Command, _ []string) error {
			player, ok := sender.(*game.Player)
			if !ok {
				sender.SendMessage(game.Text("You must be a player to use this command.", game.ColorRed))
				return nil
			}
			if inv.value == nil {
				show(player)
			} else {
				set(player, *inv.value)
			}
			return nil
		},
	}
}

func requirePermission(sender game.CommandSender, node string) cobra.PositionalArgs {
	return func(*cobra.Command, []string) error {
		if !sender.HasPermission(node) {
			return errNoPermission
		}
		return nil
	}
}

// floatArg parses an optional float argument within [lo, hi].
func floatArg(inv *invocation, lo, hi float64) cobra.PositionalArgs {
	return func(_ *cobra.Command, args []string) error {
		if len(args) == 0 {
			return nil
		}
		v, err := strconv.ParseFloat(args[0], 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return &argumentError{msg: fmt.Sprintf("'%s' is not a valid number", args[0])}
		}
		if v < lo || v > hi {
			return &argumentError{msg: fmt.Sprintf("'%s' is not in the range [%s, %s]",
				args[0], game.FormatNumber(lo), game.FormatNumber(hi))}
		}
		inv.value = &v
		return nil
	}
}

// onlinePlayerArg resolves an optional online player name.
func (c *shieldCommand) onlinePlayerArg(inv *invocation) cobra.PositionalArgs {
	return func(_ *cobra.Command, args []string) error {
		if len(args) == 0 {
			return nil
		}
		target, ok := c.plugin.server.PlayerByName(args[0])
		if !ok {
			return &argumentError{msg: fmt.Sprintf("No player found for input '%s'", args[0])}
		}
		inv.target = target
		return nil
	}
}

func (c *shieldCommand) playerNames(prefix string) []string {
	prefix = strings.ToLower(prefix)
	var out []string
	for _, player := range c.plugin.server.OnlinePlayers() {
		if strings.HasPrefix(strings.ToLower(player.Name()), prefix) {
			out = append(out, player.Name())
		}
	}
	return out
}

// Execute implements game.CommandExecutor.
func (c *shieldCommand) Execute(sender game.CommandSender, _ string, args []string) error {
	inv := &invocation{}
	root := c.build(sender, inv)
	root.SetArgs(append([]string{}, args...))

	cmd, err := root.ExecuteC()
	if err == nil {
		return nil
	}

	var argErr *argumentError
	switch {
	case errors.Is(err, errNoPermission):
		sender.SendMessage(game.Text(noPermissionMessage, game.ColorRed))
	case errors.As(err, &argErr):
		sender.SendMessage(game.Text("Invalid command argument: "+argErr.msg, game.ColorRed))
	default:
		if cmd == nil {
			cmd = root
		}
		sender.SendMessage(game.Text("Invalid command syntax. Correct command syntax is: /"+cmd.UseLine(), game.ColorRed))
	}
	return nil
}

// Complete implements game.CommandExecutor. args holds the words typed so
// far; the last one is the partial word being completed.
func (c *shieldCommand) Complete(sender game.CommandSender, args []string) []string {
	if len(args) == 0 {
		return nil
	}
	root := c.build(sender, &invocation{})
	done, toComplete := args[:len(args)-1], args[len(args)-1]

	cmd, rest, err := root.Find(done)
	if err != nil {
		return nil
	}

	var out []string
	if cmd == root && len(rest) == 0 {
		for _, sub := range root.Commands() {
			if sub.IsAvailableCommand() && strings.HasPrefix(sub.Name(), strings.ToLower(toComplete)) {
				out = append(out, sub.Name())
			}
		}
	}
	if cmd.ValidArgsFunction != nil {
		comps, _ := cmd.ValidArgsFunction(cmd, rest, toComplete)
		out = append(out, comps...)
	}
	sort.Strings(out)
	return out
}

func sendUsage(sender game.CommandSender, root *cobra.Command) {
	sender.SendMessage(game.Text("/"+root.UseLine()+" - "+root.Short, game.ColorYellow))
	for _, sub := range root.Commands() {
		if sub.IsAvailableCommand() {
			sender.SendMessage(game.Text("/"+sub.UseLine()+" - "+sub.Short, game.ColorYellow))
		}
	}
}

// =============================================================================
// HANDLERS
// =============================================================================

func (p *Plugin) toggle(sender game.CommandSender, target *game.Player) {
	if target != nil {
		if !sender.HasPermission(PermOther) {
			sender.SendMessage(game.Text("You do not have permission to shield other players.", game.ColorRed))
			return
		}
	} else if self, ok := sender.(*game.Player); ok {
		target = self
	} else {
		sender.SendMessage(game.Text("Non-player senders must specify a player argument.", game.ColorRed))
		return
	}

	if Shielded(target) {
		target.Data().Remove(keyShielded)
		p.members.Remove(target.ID())
		sender.SendMessage(game.Text("Disabled shield for "+target.Name()+".", game.ColorGreen))
	} else {
		target.Data().SetBool(keyShielded, true)
		p.members.Add(target.ID())
		sender.SendMessage(game.Text("Enabled shield for "+target.Name()+".", game.ColorGreen))
	}
}

func (p *Plugin) showStrength(player *game.Player) {
	player.SendMessage(game.Text("Your shield strength is currently "+game.FormatNumber(p.strength(player))+".", game.ColorGreen))
}

func (p *Plugin) setStrength(player *game.Player, v float64) {
	player.Data().SetFloat(keyStrength, v)
	player.SendMessage(game.Text("Set your shield strength to "+game.FormatNumber(v)+".", game.ColorGreen))
}

func (p *Plugin) showRadius(player *game.Player) {
	player.SendMessage(game.Text("Your shield radius is currently "+game.FormatNumber(p.radius(player))+".", game.ColorGreen))
}

func (p *Plugin) setRadius(player *game.Player, v float64) {
	player.Data().SetFloat(keyRadius, v)
	player.SendMessage(game.Text("Set your shield radius to "+game.FormatNumber(v)+".", game.ColorGreen))
}
