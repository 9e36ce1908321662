package showdowndto

// Options is the derived legal-action view rendered to callers. Slot
// numbers are 1-based positions in the simulator's own arrays.
type Options struct {
	Moves           []Move   `json:"moves"`
	Switches        []Switch `json:"switches"`
	CanTerastallize *string  `json:"can_terastallize"`
	Trapped         bool     `json:"trapped"`
	ForceSwitch     bool     `json:"force_switch"`
	Wait            bool     `json:"wait"`
}

type Move struct {
	Slot   int    `json:"slot"`
	ID     string `json:"id"`
	Name   string `json:"name"`
	PP     int    `json:"pp"`
	MaxPP  int    `json:"maxpp"`
	Target string `json:"target"`
}

type Switch struct {
	Slot      int    `json:"slot"`
	Ident     string `json:"ident"`
	Details   string `json:"details"`
	Condition string `json:"condition"`
}

// StartResult is the outcome of starting a ladder battle.
type StartResult struct {
	BattleID    string   `json:"battle_id"`
	Title       string   `json:"title,omitempty"`
	Turn        *int     `json:"turn"`
	RQID        *int     `json:"rqid"`
	Error       string   `json:"error,omitempty"`
	Request     any      `json:"request"`
	Options     *Options `json:"options"`
	SessionUUID string   `json:"session_uuid,omitempty"`
	StateRef    string   `json:"state_path,omitempty"`
}

// ObserveResult is the outcome of polling a battle for its latest request.
type ObserveResult struct {
	BattleID string   `json:"battle_id"`
	Turn     *int     `json:"turn"`
	RQID     *int     `json:"rqid"`
	Error    string   `json:"error,omitempty"`
	Request  any      `json:"request"`
	Options  *Options `json:"options"`
	StateRef string   `json:"state_path,omitempty"`
}

// ActResult is the outcome of submitting a choice and observing its
// consequence.
type ActResult struct {
	BattleID string   `json:"battle_id"`
	Sent     string   `json:"sent"`
	RQID     int      `json:"rqid"`
	Turn     *int     `json:"turn"`
	Error    string   `json:"error,omitempty"`
	Request  any      `json:"request"`
	Options  *Options `json:"options"`
	Events   []string `json:"events"`
	Finished bool     `json:"finished"`
	Winner   *string  `json:"winner"`
	Tie      bool     `json:"tie"`
	StateRef string   `json:"state_path,omitempty"`
}

// Failure is the single structured error record the CLI emits on any
// fatal condition.
type Failure struct {
	Error string `json:"error"`
}
