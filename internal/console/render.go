package console

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"bunger-shield/internal/game"
)

// ANSI palette for chat colors
var chatColors = map[game.Color]lipgloss.Color{
	game.ColorWhite:  lipgloss.Color("15"),
	game.ColorGray:   lipgloss.Color("7"),
	game.ColorGreen:  lipgloss.Color("10"),
	game.ColorRed:    lipgloss.Color("9"),
	game.ColorYellow: lipgloss.Color("11"),
	game.ColorAqua:   lipgloss.Color("14"),
}

// painter renders chat messages for one session's terminal.
type painter struct {
	styles map[game.Color]lipgloss.Style
	plain  lipgloss.Style
}

func newPainter(r *lipgloss.Renderer) *painter {
	p := &painter{
		styles: make(map[game.Color]lipgloss.Style, len(chatColors)),
		plain:  r.NewStyle(),
	}
	for c, ansi := range chatColors {
		p.styles[c] = r.NewStyle().Foreground(ansi)
	}
	return p
}

// Render styles msg. Unknown colors render unstyled.
func (p *painter) Render(msg game.Message) string {
	// Control characters could move the client's cursor
	text := strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, msg.Text)

	style, ok := p.styles[msg.Color]
	if !ok {
		style = p.plain
	}
	return style.Render(text)
}
