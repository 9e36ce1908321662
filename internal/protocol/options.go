package protocol

import "strings"

// MoveChoice and SwitchChoice slot numbers are 1-based positions in the
// original wire arrays; filtering never renumbers them, so a choice can be
// echoed back to the simulator verbatim.
type MoveChoice struct {
	Slot   int    `json:"slot"`
	ID     string `json:"id"`
	Name   string `json:"name"`
	PP     int    `json:"pp"`
	MaxPP  int    `json:"maxpp"`
	Target string `json:"target"`
}

type SwitchChoice struct {
	Slot      int    `json:"slot"`
	Ident     string `json:"ident"`
	Details   string `json:"details"`
	Condition string `json:"condition"`
}

// OptionsView is the legal-action view derived from a request snapshot.
// It is always recomputed from the snapshot, never persisted.
type OptionsView struct {
	Moves           []MoveChoice   `json:"moves"`
	Switches        []SwitchChoice `json:"switches"`
	CanTerastallize *string        `json:"can_terastallize"`
	Trapped         bool           `json:"trapped"`
	ForceSwitch     bool           `json:"force_switch"`
	Wait            bool           `json:"wait"`
}

const faintedMarker = "fnt"

// DeriveOptions computes the legal actions for a snapshot. A nil snapshot
// and an empty one both yield the all-default view. A wait snapshot
// short-circuits: no other field is inspected.
func DeriveOptions(s *RequestSnapshot) OptionsView {
	view := OptionsView{
		Moves:    []MoveChoice{},
		Switches: []SwitchChoice{},
	}
	if s == nil {
		return view
	}
	if s.Wait {
		view.Wait = true
		return view
	}

	var active *ActiveOption
	if len(s.Active) > 0 {
		active = &s.Active[0]
		view.CanTerastallize = active.CanTerastallize
		if active.Trapped {
			view.Trapped = true
		}
	}
	if bool(s.ForceSwitch) {
		view.ForceSwitch = true
	}

	if active != nil {
		for i, move := range active.Moves {
			if move.Disabled {
				continue
			}
			view.Moves = append(view.Moves, MoveChoice{
				Slot:   i + 1,
				ID:     move.ID,
				Name:   move.Move,
				PP:     move.PP,
				MaxPP:  move.MaxPP,
				Target: move.Target,
			})
		}
	}
	if s.Side != nil {
		for i, slot := range s.Side.Pokemon {
			if slot.Active || strings.Contains(slot.Condition, faintedMarker) {
				continue
			}
			view.Switches = append(view.Switches, SwitchChoice{
				Slot:      i + 1,
				Ident:     slot.Ident,
				Details:   slot.Details,
				Condition: slot.Condition,
			})
		}
	}
	return view
}
