package pipeline

import (
	"encoding/binary"
	"sort"

	"github.com/ofgrid/datapath/ofp"
)

// sortInstructions reorders insts in place into the canonical
// execution order of spec.md section 4.2: Meter, Apply-Actions,
// Clear-Actions, Write-Actions, Write-Metadata, Goto-Table. The sort
// is stable, and ranks by execution class rather than by
// ofp.InstructionType's declared wire order (GotoTable, WriteMetadata,
// WriteActions, ApplyActions, ClearActions, Meter), which is not the
// execution order and must not be relied on directly.
func sortInstructions(insts ofp.Instructions) {
	sort.SliceStable(insts, func(i, j int) bool {
		return instructionClass(insts[i]) < instructionClass(insts[j])
	})
}

// instructionClass ranks inst by its position in the canonical
// execution order.
func instructionClass(inst ofp.Instruction) int {
	switch inst.(type) {
	case *ofp.InstructionMeter:
		return 0
	case *ofp.InstructionApplyActions:
		return 1
	case *ofp.InstructionClearActions:
		return 2
	case *ofp.InstructionWriteActions:
		return 3
	case *ofp.InstructionWriteMetadata:
		return 4
	case *ofp.InstructionGotoTable:
		return 5
	default:
		return 6
	}
}

// executeEntry runs entry's instructions, sorted into canonical order,
// against pkt (spec.md section 4.2). It returns the table the driver
// should visit next, or nil when the traversal should terminate at
// pkt's accumulated action set.
func (p *Pipeline) executeEntry(pkt *Packet, entry Entry) Table {
	insts := append(ofp.Instructions(nil), entry.Instructions()...)
	sortInstructions(insts)

	var next Table

	for _, inst := range insts {
		if !pkt.Live() {
			return nil
		}

		switch ins := inst.(type) {
		case *ofp.InstructionMeter:
			if !p.dp.Meters().Apply(ins.Meter, pkt) {
				pkt.Drop()
				return nil
			}

		case *ofp.InstructionApplyActions:
			reason := ofp.PacketInReasonAction
			if pkt.TableMiss {
				reason = ofp.PacketInReasonTableMiss
			}
			p.dp.Actions().Execute(pkt, ins.Actions, entry.Cookie(), reason)

		case *ofp.InstructionClearActions:
			pkt.ActionSet.Clear()

		case *ofp.InstructionWriteActions:
			pkt.ActionSet.Merge(ins.Actions)

		case *ofp.InstructionWriteMetadata:
			writeMetadata(pkt, ins)

		case *ofp.InstructionGotoTable:
			next = p.tableByID(ins.Table)
		}
	}

	return next
}

// writeMetadata applies a WRITE-METADATA instruction to pkt: new :=
// (old &^ mask) | (value & mask), stored back into the packet's
// metadata match field (spec.md section 4.2).
func writeMetadata(pkt *Packet, ins *ofp.InstructionWriteMetadata) {
	old := metadataOf(pkt.Match)
	updated := (old &^ ins.MetadataMask) | (ins.Metadata & ins.MetadataMask)
	setMetadataOf(&pkt.Match, updated)
}

// metadataOf extracts the current OXM metadata value from m, or zero
// when the packet carries no metadata field yet.
func metadataOf(m ofp.Match) uint64 {
	field := m.Field(ofp.XMTypeMetadata)
	if field == nil || len(field.Value) < 8 {
		return 0
	}

	return binary.BigEndian.Uint64(field.Value)
}

// setMetadataOf stores value as the OXM metadata field of m, replacing
// any existing metadata TLV.
func setMetadataOf(m *ofp.Match, value uint64) {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, value)

	for i := range m.Fields {
		if m.Fields[i].Type == ofp.XMTypeMetadata {
			m.Fields[i].Value = buf
			return
		}
	}

	m.Fields = append(m.Fields, ofp.XM{
		Class: ofp.XMClassOpenflowBasic,
		Type:  ofp.XMTypeMetadata,
		Value: buf,
	})
}
