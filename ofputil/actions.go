package ofputil

import (
	"github.com/ofgrid/datapath/ofp"
)

// ActionsApply returns a list of instructions with a single element used
// to apply the set of specified actions.
func ActionsApply(actions ...ofp.Action) ofp.Instructions {
	return ofp.Instructions{&ofp.InstructionApplyActions{actions}}
}

// ActionsWrite returns a list of instructions with a single element used
// to write the set of specified actions.
func ActionsWrite(actions ...ofp.Action) ofp.Instructions {
	return ofp.Instructions{&ofp.InstructionWriteActions{actions}}
}

// ActionsClear returns a list of instructions with a single element used
// to clear actions.
func ActionsClear() ofp.Instructions {
	return ofp.Instructions{&ofp.InstructionClearActions{}}
}

// ActionsValidate checks that the given list of actions references only
// output ports, groups and queues that a flow-mod handler can accept
// before the entry is admitted into a table.
//
// It rejects ActionOutput{PortNo: 0}, ActionGroup{Group: 0} and
// ActionOutput{PortNo: PortAny}, all of which name no usable target, as
// well as any ActionOutput whose port number falls in the reserved
// range above PortMax without matching one of the named reserved ports.
func ActionsValidate(actions ofp.Actions) error {
	for _, a := range actions {
		switch action := a.(type) {
		case *ofp.ActionOutput:
			if err := validatePortNo(action.Port); err != nil {
				return err
			}
		case *ofp.ActionGroup:
			if action.Group == 0 {
				return &ofp.Error{
					Type: ofp.ErrTypeBadAction,
					Code: ofp.ErrCodeBadActionOutGroup,
				}
			}
		}
	}

	return nil
}

// validatePortNo rejects port numbers that name no actionable target.
func validatePortNo(port ofp.PortNo) error {
	switch port {
	case 0, ofp.PortAny:
		return &ofp.Error{
			Type: ofp.ErrTypeBadAction,
			Code: ofp.ErrCodeBadActionOutPort,
		}
	}

	if port > ofp.PortMax && port < ofp.PortIn {
		return &ofp.Error{
			Type: ofp.ErrTypeBadAction,
			Code: ofp.ErrCodeBadActionOutPort,
		}
	}

	return nil
}
