package protocol

import "strings"

// RoomLine is one protocol line attributed to the room whose header
// preceded it within the same frame.
type RoomLine struct {
	Room string
	Line string
}

// Demux splits one raw multi-line frame into room-attributed lines.
// A line starting with '>' switches the current room for the rest of the
// frame and is not itself emitted. Empty lines are dropped. The current
// room resets to "" at the top of every call.
func Demux(raw string) []RoomLine {
	var out []RoomLine
	room := ""
	for _, line := range strings.Split(raw, "\n") {
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, ">") {
			room = line[1:]
			continue
		}
		out = append(out, RoomLine{Room: room, Line: line})
	}
	return out
}
