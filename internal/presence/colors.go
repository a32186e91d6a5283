package presence

import "hash/fnv"

// palette holds the display colors handed out to users. Chosen to stay
// distinguishable against both light and dark viewport themes.
var palette = []string{
	"#e6194b", // red
	"#3cb44b", // green
	"#4363d8", // blue
	"#f58231", // orange
	"#911eb4", // purple
	"#42d4f4", // cyan
	"#f032e6", // magenta
	"#bfef45", // lime
	"#fabed4", // pink
	"#469990", // teal
	"#9a6324", // brown
	"#ffe119", // yellow
}

// UserColor deterministically maps a user ID to a palette color. The same
// user gets the same color in every session and on every node.
func UserColor(userID string) string {
	h := fnv.New32a()
	h.Write([]byte(userID))
	return palette[h.Sum32()%uint32(len(palette))]
}
