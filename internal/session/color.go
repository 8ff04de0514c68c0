package session

import "math/rand"

// Palette a joining participant's color is drawn from. The pick is random
// per join and stable for the life of the connection.
var colorPalette = []string{
	"#e06c75",
	"#61afef",
	"#98c379",
	"#c678dd",
	"#e5c07b",
	"#56b6c2",
	"#d19a66",
	"#be5046",
	"#528bff",
	"#7f848e",
}

// PickColor chooses a presentation color for a new participant.
func PickColor() string {
	return colorPalette[rand.Intn(len(colorPalette))]
}
