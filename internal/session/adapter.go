package session

import (
	"github.com/park285/showdown-cli/internal/protocol"
	"github.com/park285/showdown-cli/pkg/showdowndto"
)

func toOptionsDTO(view protocol.OptionsView) *showdowndto.Options {
	out := &showdowndto.Options{
		Moves:           make([]showdowndto.Move, 0, len(view.Moves)),
		Switches:        make([]showdowndto.Switch, 0, len(view.Switches)),
		CanTerastallize: view.CanTerastallize,
		Trapped:         view.Trapped,
		ForceSwitch:     view.ForceSwitch,
		Wait:            view.Wait,
	}
	for _, m := range view.Moves {
		out.Moves = append(out.Moves, showdowndto.Move{
			Slot:   m.Slot,
			ID:     m.ID,
			Name:   m.Name,
			PP:     m.PP,
			MaxPP:  m.MaxPP,
			Target: m.Target,
		})
	}
	for _, s := range view.Switches {
		out.Switches = append(out.Switches, showdowndto.Switch{
			Slot:      s.Slot,
			Ident:     s.Ident,
			Details:   s.Details,
			Condition: s.Condition,
		})
	}
	return out
}

// requestPayload keeps a nil snapshot rendering as JSON null instead of a
// typed nil pointer.
func requestPayload(s *protocol.RequestSnapshot) any {
	if s == nil {
		return nil
	}
	return s
}

func rqidOf(s *protocol.RequestSnapshot) *int {
	if s == nil {
		return nil
	}
	return s.RQID
}
