package pipeline

import (
	"github.com/ofgrid/datapath/internal/rl"
	"github.com/ofgrid/datapath/ofp"
	"github.com/ofgrid/datapath/ofputil"
)

// TableLPM is the table reserved for IPv4 destination longest-prefix
// matching (spec.md section 4.3 step 4, GLOSSARY "LPM"); its ADD path
// carries validation rules no other table enforces.
const TableLPM ofp.Table = 61

// TableMirrorMaster/TableMirrorSlave are the mirrored ETH_SRC/ETH_DST
// table pair (spec.md section 4.3 step 6, section 8 invariant 4).
const (
	TableMirrorMaster ofp.Table = 62
	TableMirrorSlave  ofp.Table = 63
)

func badRequest(code ofp.ErrCode) error {
	return &ofp.Error{Type: ofp.ErrTypeBadRequest, Code: code}
}

func badMatch(code ofp.ErrCode) error {
	return &ofp.Error{Type: ofp.ErrTypeBadMatch, Code: code}
}

func flowModFailed(code ofp.ErrCode) error {
	return &ofp.Error{Type: ofp.ErrTypeFlowModFailed, Code: code}
}

// HandleFlowMod applies msg from sender to the pipeline (spec.md
// section 4.3). It returns an ofp.Error on failure, nil on success.
func (p *Pipeline) HandleFlowMod(msg *ofp.FlowMod, sender Sender) error {
	if IsSlave(sender) {
		return badRequest(ofp.ErrCodeBadRequestIsSlave)
	}

	sortInstructions(msg.Instructions)

	if err := validateInstructionActions(msg.Instructions); err != nil {
		return err
	}

	if msg.Command == ofp.FlowAdd && msg.Table == TableLPM {
		if err := validateLPM(msg); err != nil {
			return err
		}
	}

	if msg.Table == ofp.TableAll {
		switch msg.Command {
		case ofp.FlowDelete, ofp.FlowDeleteStrict:
			for _, t := range p.tables {
				if _, _, _, err := t.FlowMod(msg); err != nil {
					return err
				}
			}
		default:
			return flowModFailed(ofp.ErrCodeFlowModFailedBadTableID)
		}
	} else {
		table := p.tableByID(msg.Table)
		if table == nil {
			return flowModFailed(ofp.ErrCodeFlowModFailedBadTableID)
		}

		// matchKept/instsKept signal which of msg's sub-fields the
		// table retained rather than copying — ownership-transfer
		// bookkeeping the teacher's C original needs to avoid a
		// double-free, irrelevant under garbage collection here.
		installed, _, _, err := table.FlowMod(msg)
		if err != nil {
			return err
		}

		if msg.Table == TableMirrorMaster && installed != nil {
			p.mirrorIntoSlaveTable(msg, installed)
		}
	}

	p.replayBuffered(msg)

	return nil
}

// validateInstructionActions runs the datapath action validator over
// every APPLY-ACTIONS/WRITE-ACTIONS instruction's action list (spec.md
// section 4.3 step 3).
func validateInstructionActions(insts ofp.Instructions) error {
	for _, inst := range insts {
		switch ins := inst.(type) {
		case *ofp.InstructionApplyActions:
			if err := ofputil.ActionsValidate(ins.Actions); err != nil {
				return err
			}
		case *ofp.InstructionWriteActions:
			if err := ofputil.ActionsValidate(ins.Actions); err != nil {
				return err
			}
		}
	}

	return nil
}

// validateLPM enforces the table-61 constraints of spec.md section 4.3
// step 4: a wildcarded IPV4_DST mask must be contiguous, and the
// entry's priority must equal the resulting prefix length.
func validateLPM(msg *ofp.FlowMod) error {
	field := msg.Match.Field(ofp.XMTypeIPv4Dst)
	if field == nil {
		return nil
	}

	if len(field.Mask) == 0 {
		if msg.Priority != 32 {
			return flowModFailed(ofp.ErrCodeFlowModFailedBadPriority)
		}
		return nil
	}

	mask := field.Mask.UInt32()

	if !isContiguousMask(mask) {
		return badMatch(ofp.ErrCodeBadMatchBadNetMask)
	}

	prefixLen := 32 - trailingZeroBits(mask)
	if uint16(prefixLen) != msg.Priority {
		return flowModFailed(ofp.ErrCodeFlowModFailedBadPriority)
	}

	return nil
}

// isContiguousMask reports whether m's bit pattern, read MSB→LSB, is
// 1*0* — i.e. a run of one-bits followed by a run of zero-bits, with
// no holes (spec.md section 8 invariant 8).
func isContiguousMask(m uint32) bool {
	if m == 0 {
		return true
	}

	return (m | (m - 1)) == 0xffffffff
}

// trailingZeroBits counts the number of trailing zero bits in m.
func trailingZeroBits(m uint32) int {
	if m == 0 {
		return 32
	}

	n := 0
	for m&1 == 0 {
		n++
		m >>= 1
	}

	return n
}

// mirrorIntoSlaveTable installs the ETH_SRC/ETH_DST-swapped companion
// of a successful table-62 ADD into table 63, and cross-links the two
// entries (spec.md section 4.3 step 6, section 8 invariant 4). Errors
// from the clone's installation are suppressed: there is no safe way
// to unwind the already-installed master entry.
func (p *Pipeline) mirrorIntoSlaveTable(msg *ofp.FlowMod, master Entry) {
	slaveTable := p.tableByID(TableMirrorSlave)
	if slaveTable == nil {
		return
	}

	clone := cloneFlowModSwapped(msg)

	slave, _, _, err := slaveTable.FlowMod(clone)
	if err != nil {
		rl.Warnf("pipeline: table 63 mirror install failed: %v", err)
		return
	}
	if slave == nil {
		return
	}

	master.SetSyncSlave(slave)
	slave.SetSyncMaster(master)
}

// cloneFlowModSwapped returns a deep copy of msg with every ETH_SRC
// field swapped for ETH_DST and vice versa, retargeted at table 63.
func cloneFlowModSwapped(msg *ofp.FlowMod) *ofp.FlowMod {
	clone := *msg
	clone.Table = TableMirrorSlave
	clone.Match.Fields = make([]ofp.XM, len(msg.Match.Fields))
	copy(clone.Match.Fields, msg.Match.Fields)

	for i := range clone.Match.Fields {
		switch clone.Match.Fields[i].Type {
		case ofp.XMTypeEthSrc:
			clone.Match.Fields[i].Type = ofp.XMTypeEthDst
		case ofp.XMTypeEthDst:
			clone.Match.Fields[i].Type = ofp.XMTypeEthSrc
		}
	}

	clone.Instructions = append(ofp.Instructions(nil), msg.Instructions...)
	return &clone
}

// replayBuffered re-runs a flow-mod's buffered packet through the
// pipeline after the rule has been installed (spec.md section 4.3 step
// 7, section 8 invariant 5). A missing buffer is logged, not failed.
func (p *Pipeline) replayBuffered(msg *ofp.FlowMod) {
	switch msg.Command {
	case ofp.FlowAdd, ofp.FlowModify, ofp.FlowModifyStrict:
	default:
		return
	}

	if msg.Buffer == ofp.NoBuffer {
		return
	}

	pkt, ok := p.dp.Buffers().Retrieve(msg.Buffer)
	if !ok {
		rl.Debugf("pipeline: buffer %d not found for replay", msg.Buffer)
		return
	}

	p.ProcessPacket(pkt)
}
