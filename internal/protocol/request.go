package protocol

import "encoding/json"

// RequestSnapshot is the decoded payload of a |request| line. Every field
// is optional on the wire; absent fields stay at their zero value.
type RequestSnapshot struct {
	Wait        bool            `json:"wait,omitempty"`
	Active      []ActiveOption  `json:"active,omitempty"`
	ForceSwitch ForceSwitchFlag `json:"forceSwitch,omitempty"`
	Side        *Side           `json:"side,omitempty"`
	RQID        *int            `json:"rqid,omitempty"`
}

// ActiveOption describes the action set of one active slot. Single battles
// carry at most one relevant entry; only the first is consulted.
type ActiveOption struct {
	Moves           []MoveOption `json:"moves,omitempty"`
	CanTerastallize *string      `json:"canTerastallize,omitempty"`
	Trapped         bool         `json:"trapped,omitempty"`
}

type MoveOption struct {
	ID       string `json:"id"`
	Move     string `json:"move"`
	PP       int    `json:"pp"`
	MaxPP    int    `json:"maxpp"`
	Target   string `json:"target"`
	Disabled bool   `json:"disabled,omitempty"`
}

type Side struct {
	Name    string        `json:"name,omitempty"`
	ID      string        `json:"id,omitempty"`
	Pokemon []PokemonSlot `json:"pokemon,omitempty"`
}

type PokemonSlot struct {
	Ident     string `json:"ident"`
	Details   string `json:"details"`
	Condition string `json:"condition"`
	Active    bool   `json:"active,omitempty"`
}

// ForceSwitchFlag normalizes the wire form of forceSwitch, which arrives
// either as a bool or as an array of bools. Any true value forces the
// switch.
type ForceSwitchFlag bool

func (f *ForceSwitchFlag) UnmarshalJSON(b []byte) error {
	var scalar bool
	if err := json.Unmarshal(b, &scalar); err == nil {
		*f = ForceSwitchFlag(scalar)
		return nil
	}
	var list []bool
	if err := json.Unmarshal(b, &list); err == nil {
		for _, v := range list {
			if v {
				*f = true
				return nil
			}
		}
		*f = false
		return nil
	}
	// Unrecognized shapes degrade to false instead of failing the decode.
	*f = false
	return nil
}
