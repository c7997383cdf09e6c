package game

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Server commands available without any plugin.
func (s *Server) registerBuiltins() {
	s.mustRegister("list", CommandFunc(s.cmdList))
	s.mustRegister("where", CommandFunc(s.cmdWhere))
	s.mustRegister("tp", CommandFunc(s.cmdTeleport))
	s.mustRegister("help", CommandFunc(s.cmdHelp))
}

func (s *Server) mustRegister(name string, exec CommandExecutor) {
	if err := s.commands.Register(nil, name, exec); err != nil {
		panic(err)
	}
}

func (s *Server) cmdList(sender CommandSender, _ string, _ []string) error {
	players := s.OnlinePlayers()
	names := make([]string, len(players))
	for i, p := range players {
		names[i] = p.Name()
	}
	sender.SendMessage(Plain(fmt.Sprintf("There are %d players online: %s",
		len(names), strings.Join(names, ", "))))
	return nil
}

func (s *Server) cmdWhere(sender CommandSender, _ string, _ []string) error {
	p, ok := sender.(*Player)
	if !ok {
		sender.SendMessage(Text("You must be a player to use this command.", ColorRed))
		return nil
	}
	pos := p.Location()
	sender.SendMessage(Text(fmt.Sprintf("You are at %s, %s, %s.",
		FormatNumber(pos.X), FormatNumber(pos.Y), FormatNumber(pos.Z)), ColorGray))
	return nil
}

func (s *Server) cmdTeleport(sender CommandSender, _ string, args []string) error {
	p, ok := sender.(*Player)
	if !ok {
		sender.SendMessage(Text("You must be a player to use this command.", ColorRed))
		return nil
	}
	if len(args) != 3 {
		sender.SendMessage(Text("Usage: tp <x> <y> <z>", ColorRed))
		return nil
	}
	var coords [3]float64
	for i, a := range args {
		v, err := strconv.ParseFloat(a, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			sender.SendMessage(Text(fmt.Sprintf("Invalid coordinate: %s", a), ColorRed))
			return nil
		}
		coords[i] = v
	}
	p.Teleport(Vec3{X: coords[0], Y: coords[1], Z: coords[2]})
	p.SetVelocity(Vec3{})
	sender.SendMessage(Text("Teleported.", ColorGray))
	return nil
}

func (s *Server) cmdHelp(sender CommandSender, _ string, _ []string) error {
	sender.SendMessage(Text("Commands: "+strings.Join(s.commands.Names(), ", "), ColorYellow))
	return nil
}
