package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrDecode marks a |request| payload that is not valid JSON.
var ErrDecode = errors.New("malformed request payload")

type EventKind int

const (
	KindOther EventKind = iota
	KindChallstr
	KindInit
	KindTitle
	KindRequest
	KindTurn
	KindError
	KindWin
	KindTie
)

// Event is the typed view of one protocol line. Only the fields for the
// matching kind are populated.
type Event struct {
	Kind EventKind
	Room string
	Raw  string

	ClientID string           // challstr
	Challstr string           // challstr
	Title    string           // title
	Winner   string           // win
	Message  string           // error
	Turn     *int             // turn; nil when the number does not parse
	Request  *RequestSnapshot // request; zero-valued for an empty payload
}

// Classify maps one room line to a typed event. Dispatch is on the second
// pipe segment (protocol lines start with '|', so segment 0 is empty).
// Unknown commands classify as KindOther; the only failure mode is a
// |request| payload that is not valid JSON.
func Classify(room, line string) (Event, error) {
	ev := Event{Kind: KindOther, Room: room, Raw: line}
	segments := strings.Split(line, "|")
	if len(segments) < 2 {
		return ev, nil
	}
	switch segments[1] {
	case "challstr":
		parts := strings.SplitN(line, "|", 4)
		if len(parts) < 4 {
			return ev, nil
		}
		ev.Kind = KindChallstr
		ev.ClientID = parts[2]
		ev.Challstr = parts[3]
	case "init":
		if len(segments) >= 3 && segments[2] == "battle" {
			ev.Kind = KindInit
		}
	case "title":
		ev.Kind = KindTitle
		ev.Title = tail(line, 3)
	case "win":
		ev.Kind = KindWin
		if len(segments) >= 3 {
			ev.Winner = segments[2]
		}
	case "tie":
		ev.Kind = KindTie
	case "error":
		ev.Kind = KindError
		ev.Message = tail(line, 3)
	case "turn":
		ev.Kind = KindTurn
		if len(segments) >= 3 {
			if n, err := strconv.Atoi(segments[2]); err == nil {
				ev.Turn = &n
			}
		}
	case "request":
		ev.Kind = KindRequest
		payload := tail(line, 3)
		snapshot := &RequestSnapshot{}
		if payload != "" {
			if err := json.Unmarshal([]byte(payload), snapshot); err != nil {
				return ev, fmt.Errorf("%w: %v", ErrDecode, err)
			}
		}
		ev.Request = snapshot
	}
	return ev, nil
}

// tail rejoins everything from the n-th pipe segment onward so payloads
// containing '|' are not truncated.
func tail(line string, n int) string {
	parts := strings.SplitN(line, "|", n)
	if len(parts) < n {
		return ""
	}
	return parts[n-1]
}
