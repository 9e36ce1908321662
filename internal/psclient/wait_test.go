package psclient

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/park285/showdown-cli/internal/protocol"
)

// fakeTransport replays scripted frames and blocks on ctx once drained,
// which is exactly how a quiet live connection behaves.
type fakeTransport struct {
	frames []string
	idx    int
	sent   []string
	closed bool
}

func (f *fakeTransport) Receive(ctx context.Context) (string, error) {
	if f.idx >= len(f.frames) {
		<-ctx.Done()
		return "", ctx.Err()
	}
	frame := f.frames[f.idx]
	f.idx++
	return frame, nil
}

func (f *fakeTransport) Send(ctx context.Context, room string, parts ...string) error {
	f.sent = append(f.sent, room+"|"+strings.Join(parts, "|"))
	return nil
}

func (f *fakeTransport) Close() error {
	f.closed = true
	return nil
}

func TestWaitForRequest_ScenarioFirstRequest(t *testing.T) {
	ft := &fakeTransport{frames: []string{
		">battle-gen9ou-1\n|request|{\"rqid\":5,\"active\":[{\"moves\":[{\"id\":\"tackle\",\"move\":\"Tackle\",\"pp\":20,\"maxpp\":20,\"target\":\"normal\"}]}]}",
	}}
	res, err := WaitForRequest(context.Background(), ft, "battle-gen9ou-1", 2*time.Second)
	if err != nil {
		t.Fatalf("WaitForRequest: %v", err)
	}
	if res.Request == nil || res.Request.RQID == nil || *res.Request.RQID != 5 {
		t.Fatalf("rqid not decoded: %+v", res.Request)
	}
	view := protocol.DeriveOptions(res.Request)
	if len(view.Moves) != 1 {
		t.Fatalf("expected one move option, got %+v", view.Moves)
	}
	m := view.Moves[0]
	if m.Slot != 1 || m.ID != "tackle" || m.Name != "Tackle" || m.PP != 20 || m.MaxPP != 20 || m.Target != "normal" {
		t.Fatalf("derived move wrong: %+v", m)
	}
}

func TestWaitForRequest_AccumulatesTurnAndError(t *testing.T) {
	ft := &fakeTransport{frames: []string{
		">battle-x\n|turn|3\n|error|[Invalid choice] busy",
		">battle-other\n|request|{\"rqid\":99}",
		">battle-x\n|request|{\"rqid\":6}",
	}}
	res, err := WaitForRequest(context.Background(), ft, "battle-x", 2*time.Second)
	if err != nil {
		t.Fatalf("WaitForRequest: %v", err)
	}
	if res.Turn == nil || *res.Turn != 3 {
		t.Fatalf("turn not accumulated: %+v", res.Turn)
	}
	if res.LastError != "[Invalid choice] busy" {
		t.Fatalf("error not accumulated: %q", res.LastError)
	}
	if res.Request == nil || *res.Request.RQID != 6 {
		t.Fatalf("request from wrong room accepted: %+v", res.Request)
	}
}

func TestWaitForRequest_DeadlineYieldsPartial(t *testing.T) {
	ft := &fakeTransport{frames: []string{">battle-x\n|turn|2"}}
	res, err := WaitForRequest(context.Background(), ft, "battle-x", 150*time.Millisecond)
	if err != nil {
		t.Fatalf("timeout must not be an error here: %v", err)
	}
	if res.Request != nil {
		t.Fatalf("no request was sent, got %+v", res.Request)
	}
	if res.Turn == nil || *res.Turn != 2 {
		t.Fatalf("partial turn lost: %+v", res.Turn)
	}
}

func TestWaitForRequest_MalformedRequestFatal(t *testing.T) {
	ft := &fakeTransport{frames: []string{">battle-x\n|request|{broken"}}
	_, err := WaitForRequest(context.Background(), ft, "battle-x", time.Second)
	if !errors.Is(err, protocol.ErrDecode) {
		t.Fatalf("expected decode error, got %v", err)
	}
}

func TestWaitForRequestWithEvents_Win(t *testing.T) {
	ft := &fakeTransport{frames: []string{
		">battle-x\n|turn|9\n|move|p1a: A|Tackle|p2a: B\n|win|Alice\n|request|{\"rqid\":1}",
	}}
	res, err := WaitForRequestWithEvents(context.Background(), ft, "battle-x", 2*time.Second)
	if err != nil {
		t.Fatalf("WaitForRequestWithEvents: %v", err)
	}
	if !res.Finished || res.Winner != "Alice" || res.Tie {
		t.Fatalf("win not terminal: %+v", res)
	}
	if len(res.Events) == 0 || res.Events[len(res.Events)-1] != "|win|Alice" {
		t.Fatalf("win line must be the last log entry: %v", res.Events)
	}
	if res.Request != nil {
		t.Fatalf("loop must stop at win, before the trailing request")
	}
}

func TestWaitForRequestWithEvents_Tie(t *testing.T) {
	ft := &fakeTransport{frames: []string{">battle-x\n|tie"}}
	res, err := WaitForRequestWithEvents(context.Background(), ft, "battle-x", time.Second)
	if err != nil {
		t.Fatalf("WaitForRequestWithEvents: %v", err)
	}
	if !res.Finished || !res.Tie || res.Winner != "" {
		t.Fatalf("tie not terminal: %+v", res)
	}
}

func TestWaitForRequestWithEvents_ErrorKeepsLooping(t *testing.T) {
	ft := &fakeTransport{frames: []string{
		">battle-x\n|error|[Invalid choice] try again\n|turn|4",
		">battle-x\n|request|{\"rqid\":8}",
	}}
	res, err := WaitForRequestWithEvents(context.Background(), ft, "battle-x", 2*time.Second)
	if err != nil {
		t.Fatalf("WaitForRequestWithEvents: %v", err)
	}
	if res.LastError != "[Invalid choice] try again" {
		t.Fatalf("in-band error lost: %q", res.LastError)
	}
	if res.Request == nil || *res.Request.RQID != 8 {
		t.Fatalf("loop stopped before the request: %+v", res)
	}
	want := []string{"|error|[Invalid choice] try again", "|turn|4"}
	if len(res.Events) != len(want) || res.Events[0] != want[0] || res.Events[1] != want[1] {
		t.Fatalf("event log wrong: %v", res.Events)
	}
}

func TestWaitForRequestWithEvents_DeadlineYieldsPartial(t *testing.T) {
	ft := &fakeTransport{frames: []string{">battle-x\n|upkeep"}}
	res, err := WaitForRequestWithEvents(context.Background(), ft, "battle-x", 150*time.Millisecond)
	if err != nil {
		t.Fatalf("timeout must not be an error here: %v", err)
	}
	if res.Request != nil || res.Finished || res.Winner != "" || res.Tie {
		t.Fatalf("partial result has terminal state: %+v", res)
	}
	if len(res.Events) != 1 || res.Events[0] != "|upkeep" {
		t.Fatalf("non-terminal events should still be logged: %v", res.Events)
	}
}

func TestWaitForBattleStart_TitleInSameFrame(t *testing.T) {
	ft := &fakeTransport{frames: []string{
		"|updateuser| alice|1",
		">battle-gen9ou-42\n|init|battle\n|title|Alice vs. Bob",
	}}
	init, err := WaitForBattleStart(context.Background(), ft, 2*time.Second)
	if err != nil {
		t.Fatalf("WaitForBattleStart: %v", err)
	}
	if init.BattleID != "battle-gen9ou-42" || init.Title != "Alice vs. Bob" {
		t.Fatalf("unexpected init: %+v", init)
	}
}

func TestWaitForBattleStart_NoTitleReturnsAnyway(t *testing.T) {
	ft := &fakeTransport{frames: []string{">battle-gen9ou-42\n|init|battle"}}
	init, err := WaitForBattleStart(context.Background(), ft, 2*time.Second)
	if err != nil {
		t.Fatalf("WaitForBattleStart: %v", err)
	}
	if init.BattleID != "battle-gen9ou-42" || init.Title != "" {
		t.Fatalf("room should be usable without a title: %+v", init)
	}
}

func TestWaitForBattleStart_Timeout(t *testing.T) {
	ft := &fakeTransport{}
	_, err := WaitForBattleStart(context.Background(), ft, 150*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestWaitForChallstr(t *testing.T) {
	ft := &fakeTransport{frames: []string{
		"|formats|whatever",
		"|challstr|4|deadbeefcafe",
	}}
	id, chall, err := WaitForChallstr(context.Background(), ft)
	if err != nil {
		t.Fatalf("WaitForChallstr: %v", err)
	}
	if id != "4" || chall != "deadbeefcafe" {
		t.Fatalf("challenge pair wrong: %q %q", id, chall)
	}
}
