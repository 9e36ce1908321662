package psclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/park285/showdown-cli/internal/protocol"
)

// ErrTimeout marks a deadline that elapsed while a required terminal
// event was still outstanding.
var ErrTimeout = errors.New("timed out waiting for battle event")

// minReadTimeout floors every per-iteration receive so a nearly-expired
// deadline still gets one short read rather than an instant failure.
const minReadTimeout = 100 * time.Millisecond

// BattleInit identifies the room the matchmaker assigned. Title may be
// empty when the init frame carried no |title| line; the room is usable
// without it.
type BattleInit struct {
	BattleID string
	Title    string
}

// RequestWait is whatever the simple wait observed before its terminal
// request event or its deadline.
type RequestWait struct {
	Request   *protocol.RequestSnapshot
	Turn      *int
	LastError string
}

// EventWait extends RequestWait with the ordered event log of the
// post-action observation window.
type EventWait struct {
	RequestWait
	Events   []string
	Finished bool
	Winner   string
	Tie      bool
}

// receiveBounded reads one frame with a timeout of max(minReadTimeout,
// time until deadline). A read timeout returns ok=false with no error;
// the caller decides whether partial results are acceptable.
func receiveBounded(ctx context.Context, t Transport, deadline time.Time) (string, bool, error) {
	remaining := time.Until(deadline)
	if remaining < minReadTimeout {
		remaining = minReadTimeout
	}
	rctx, cancel := context.WithTimeout(ctx, remaining)
	defer cancel()

	frame, err := t.Receive(rctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return "", false, nil
		}
		return "", false, err
	}
	return frame, true, nil
}

// WaitForChallstr blocks until the connection-level challenge arrives.
// It is the one wait with no deadline of its own; bound it with ctx.
func WaitForChallstr(ctx context.Context, t Transport) (clientID, challstr string, err error) {
	for {
		frame, err := t.Receive(ctx)
		if err != nil {
			return "", "", err
		}
		for _, rl := range protocol.Demux(frame) {
			ev, err := protocol.Classify(rl.Room, rl.Line)
			if err != nil {
				return "", "", err
			}
			if ev.Kind == protocol.KindChallstr {
				return ev.ClientID, ev.Challstr, nil
			}
		}
	}
}

// WaitForBattleStart loops until some room announces |init|battle. Once
// the room is known it returns with that room's title if the same frame
// carries one, or with an empty title as soon as the frame is exhausted.
// The deadline elapsing before any init is fatal.
func WaitForBattleStart(ctx context.Context, t Transport, timeout time.Duration) (*BattleInit, error) {
	deadline := time.Now().Add(timeout)
	battleID := ""
	for time.Now().Before(deadline) {
		frame, ok, err := receiveBounded(ctx, t, deadline)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		for _, rl := range protocol.Demux(frame) {
			ev, err := protocol.Classify(rl.Room, rl.Line)
			if err != nil {
				return nil, err
			}
			switch {
			case ev.Kind == protocol.KindInit:
				battleID = rl.Room
			case battleID != "" && rl.Room == battleID && ev.Kind == protocol.KindTitle:
				return &BattleInit{BattleID: battleID, Title: ev.Title}, nil
			}
		}
		if battleID != "" {
			return &BattleInit{BattleID: battleID}, nil
		}
	}
	return nil, fmt.Errorf("%w: no battle started", ErrTimeout)
}

// WaitForRequest is the simple wait: it accumulates the latest turn and
// in-band error for the room and returns on the first |request|. The
// deadline elapsing is not an error here; whatever was accumulated is
// returned and the caller decides.
func WaitForRequest(ctx context.Context, t Transport, room string, timeout time.Duration) (RequestWait, error) {
	var res RequestWait
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		frame, ok, err := receiveBounded(ctx, t, deadline)
		if err != nil {
			return res, err
		}
		if !ok {
			break
		}
		for _, rl := range protocol.Demux(frame) {
			if rl.Room != room {
				continue
			}
			ev, err := protocol.Classify(rl.Room, rl.Line)
			if err != nil {
				return res, err
			}
			switch ev.Kind {
			case protocol.KindError:
				res.LastError = ev.Message
			case protocol.KindTurn:
				if ev.Turn != nil {
					res.Turn = ev.Turn
				}
			case protocol.KindRequest:
				res.Request = ev.Request
				return res, nil
			}
		}
	}
	return res, nil
}

// WaitForRequestWithEvents is the event-log wait used after submitting an
// action. Terminal events are |request|, |win| and |tie|; win and tie
// finish the battle and are themselves the last log entry. Everything
// non-terminal for the room is appended to the log in arrival order, and
// in-band errors keep the loop running.
func WaitForRequestWithEvents(ctx context.Context, t Transport, room string, timeout time.Duration) (EventWait, error) {
	res := EventWait{Events: []string{}}
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		frame, ok, err := receiveBounded(ctx, t, deadline)
		if err != nil {
			return res, err
		}
		if !ok {
			break
		}
		for _, rl := range protocol.Demux(frame) {
			if rl.Room != room {
				continue
			}
			ev, err := protocol.Classify(rl.Room, rl.Line)
			if err != nil {
				return res, err
			}
			switch ev.Kind {
			case protocol.KindWin:
				res.Winner = ev.Winner
				res.Finished = true
				res.Events = append(res.Events, rl.Line)
				return res, nil
			case protocol.KindTie:
				res.Tie = true
				res.Finished = true
				res.Events = append(res.Events, rl.Line)
				return res, nil
			case protocol.KindError:
				res.LastError = ev.Message
				res.Events = append(res.Events, rl.Line)
			case protocol.KindTurn:
				if ev.Turn != nil {
					res.Turn = ev.Turn
				}
				res.Events = append(res.Events, rl.Line)
			case protocol.KindRequest:
				res.Request = ev.Request
				return res, nil
			default:
				res.Events = append(res.Events, rl.Line)
			}
		}
	}
	return res, nil
}
