package pipeline

import (
	"sort"

	"github.com/ofgrid/datapath/ofp"
)

// actionSetOrder ranks action types by the fixed OpenFlow 1.3
// action-set execution order: copy-ttl-in, pop, push-mpls, push-pbb,
// push-vlan, copy-ttl-out, dec-ttl/set-nw-ttl, set-field, set-queue,
// group, output. Action types absent from this map (experimenter
// actions) sort after every known type.
var actionSetOrder = map[ofp.ActionType]int{
	ofp.ActionTypeCopyTTLIn:   0,
	ofp.ActionTypePopVLAN:     1,
	ofp.ActionTypePopMPLS:     1,
	ofp.ActionTypePopPBB:      1,
	ofp.ActionTypePushMPLS:    2,
	ofp.ActionTypePushPBB:     3,
	ofp.ActionTypePushVLAN:    4,
	ofp.ActionTypeCopyTTLOut:  5,
	ofp.ActionTypeSetMPLSTTL:  6,
	ofp.ActionTypeDecMPLSTTL:  6,
	ofp.ActionTypeSetNwTTL:    6,
	ofp.ActionTypeDecNwTTL:    6,
	ofp.ActionTypeSetField:    7,
	ofp.ActionTypeSetQueue:    8,
	ofp.ActionTypeGroup:       9,
	ofp.ActionTypeOutput:      10,
}

// ActionSet is the deferred write-actions accumulator carried with a
// packet through the pipeline (spec.md section 3 "action_set"). A
// WRITE-ACTIONS instruction merges its actions into the set, one slot
// per action type, last write wins; CLEAR-ACTIONS empties it; the
// driver executes it once, in the canonical order above, when
// traversal ends without a pending GOTO-TABLE.
type ActionSet struct {
	byType map[ofp.ActionType]ofp.Action
}

// NewActionSet returns an empty action set.
func NewActionSet() *ActionSet {
	return &ActionSet{byType: make(map[ofp.ActionType]ofp.Action)}
}

// Merge folds actions into the set, overwriting any existing entry of
// the same action type.
func (s *ActionSet) Merge(actions ofp.Actions) {
	for _, a := range actions {
		s.byType[a.Type()] = a
	}
}

// Clear empties the set.
func (s *ActionSet) Clear() {
	s.byType = make(map[ofp.ActionType]ofp.Action)
}

// Empty reports whether the set currently holds no actions.
func (s *ActionSet) Empty() bool {
	return len(s.byType) == 0
}

// Actions returns the accumulated actions ordered per the OpenFlow 1.3
// action-set execution order.
func (s *ActionSet) Actions() ofp.Actions {
	out := make(ofp.Actions, 0, len(s.byType))
	for _, a := range s.byType {
		out = append(out, a)
	}

	sort.SliceStable(out, func(i, j int) bool {
		oi, oki := actionSetOrder[out[i].Type()]
		oj, okj := actionSetOrder[out[j].Type()]

		if oki && okj {
			return oi < oj
		}
		if oki != okj {
			return oki
		}

		return out[i].Type() < out[j].Type()
	})

	return out
}
