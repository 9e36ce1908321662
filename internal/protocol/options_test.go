package protocol

import (
	"encoding/json"
	"reflect"
	"testing"
)

func snapshotFromJSON(t *testing.T, payload string) *RequestSnapshot {
	t.Helper()
	s := &RequestSnapshot{}
	if err := json.Unmarshal([]byte(payload), s); err != nil {
		t.Fatalf("unmarshal %s: %v", payload, err)
	}
	return s
}

func TestDeriveOptions_NilAndEmptyAgree(t *testing.T) {
	fromNil := DeriveOptions(nil)
	fromEmpty := DeriveOptions(&RequestSnapshot{})
	if !reflect.DeepEqual(fromNil, fromEmpty) {
		t.Fatalf("nil and empty snapshots should derive the same view: %+v vs %+v", fromNil, fromEmpty)
	}
	if fromNil.Wait || fromNil.Trapped || fromNil.ForceSwitch || fromNil.CanTerastallize != nil {
		t.Fatalf("default view has flags set: %+v", fromNil)
	}
	if len(fromNil.Moves) != 0 || len(fromNil.Switches) != 0 {
		t.Fatalf("default view has actions: %+v", fromNil)
	}
	if fromNil.Moves == nil || fromNil.Switches == nil {
		t.Fatalf("action lists must be empty, not nil, so they render as []")
	}
}

func TestDeriveOptions_WaitShortCircuits(t *testing.T) {
	s := snapshotFromJSON(t, `{
		"wait": true,
		"active": [{"trapped": true, "moves": [{"id":"tackle","move":"Tackle","pp":20,"maxpp":20,"target":"normal"}]}],
		"forceSwitch": true
	}`)
	view := DeriveOptions(s)
	if !view.Wait {
		t.Fatalf("wait flag lost: %+v", view)
	}
	if view.Trapped || view.ForceSwitch || len(view.Moves) != 0 {
		t.Fatalf("wait snapshot must ignore every other field: %+v", view)
	}
}

func TestDeriveOptions_SlotNumberingStableUnderFilter(t *testing.T) {
	s := snapshotFromJSON(t, `{"active":[{"moves":[
		{"id":"a","move":"A","disabled":true},
		{"id":"b","move":"B"},
		{"id":"c","move":"C","disabled":true},
		{"id":"d","move":"D"}
	]}]}`)
	view := DeriveOptions(s)
	if len(view.Moves) != 2 {
		t.Fatalf("expected 2 enabled moves, got %+v", view.Moves)
	}
	if view.Moves[0].Slot != 2 || view.Moves[0].ID != "b" {
		t.Fatalf("first enabled move should keep slot 2: %+v", view.Moves[0])
	}
	if view.Moves[1].Slot != 4 || view.Moves[1].ID != "d" {
		t.Fatalf("second enabled move should keep slot 4: %+v", view.Moves[1])
	}
}

func TestDeriveOptions_SwitchFiltering(t *testing.T) {
	s := snapshotFromJSON(t, `{"side":{"pokemon":[
		{"ident":"p1: A","details":"A","condition":"95/100","active":true},
		{"ident":"p1: B","details":"B","condition":"100/100"},
		{"ident":"p1: C","details":"C","condition":"0 fnt"}
	]}}`)
	view := DeriveOptions(s)
	if len(view.Switches) != 1 {
		t.Fatalf("expected exactly one eligible switch, got %+v", view.Switches)
	}
	sw := view.Switches[0]
	if sw.Slot != 2 || sw.Ident != "p1: B" || sw.Condition != "100/100" {
		t.Fatalf("wrong switch selected: %+v", sw)
	}
}

func TestDeriveOptions_TrappedAndTerastallize(t *testing.T) {
	s := snapshotFromJSON(t, `{"active":[{"trapped":true,"canTerastallize":"Electric","moves":[]}]}`)
	view := DeriveOptions(s)
	if !view.Trapped {
		t.Fatalf("trapped flag not carried: %+v", view)
	}
	if view.CanTerastallize == nil || *view.CanTerastallize != "Electric" {
		t.Fatalf("canTerastallize not copied verbatim: %+v", view.CanTerastallize)
	}

	// absent stays unset
	if got := DeriveOptions(snapshotFromJSON(t, `{"active":[{"moves":[]}]}`)); got.CanTerastallize != nil {
		t.Fatalf("absent canTerastallize should stay nil: %+v", got.CanTerastallize)
	}
}

func TestDeriveOptions_ForceSwitchArray(t *testing.T) {
	view := DeriveOptions(snapshotFromJSON(t, `{"forceSwitch":[true]}`))
	if !view.ForceSwitch {
		t.Fatalf("array-form forceSwitch not normalized: %+v", view)
	}
}

func TestDeriveOptions_Idempotent(t *testing.T) {
	s := snapshotFromJSON(t, `{"rqid":7,"active":[{"moves":[{"id":"tackle","move":"Tackle","pp":20,"maxpp":20,"target":"normal"}]}],"side":{"pokemon":[{"ident":"p1: A","details":"A","condition":"100/100"}]}}`)
	first := DeriveOptions(s)
	second := DeriveOptions(s)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("derive is not idempotent: %+v vs %+v", first, second)
	}
}
