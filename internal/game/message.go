package game

import (
	"strconv"
	"strings"
)

// Color is a named chat color. Clients decide how to render it.
type Color string

const (
	ColorWhite  Color = "white"
	ColorGray   Color = "gray"
	ColorGreen  Color = "green"
	ColorRed    Color = "red"
	ColorYellow Color = "yellow"
	ColorAqua   Color = "aqua"
)

// Message is a line of chat sent to a command sender.
type Message struct {
	Text  string `json:"text"`
	Color Color  `json:"color"`
}

// Text builds a message with the given color.
func Text(text string, color Color) Message {
	return Message{Text: text, Color: color}
}

// Plain builds a white message.
func Plain(text string) Message {
	return Message{Text: text, Color: ColorWhite}
}

// FormatNumber prints f the way the game client expects numbers in chat:
// shortest form, always with a decimal point ("5.0", "2.75").
func FormatNumber(f float64) string {
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eEn") {
		s += ".0"
	}
	return s
}
