package pipeline

import (
	"github.com/ofgrid/datapath/ofp"
)

// Table is the external flow-table collaborator the pipeline drives
// (spec.md section 3 "Flow Table", section 6): lookup, flow-mod
// application, stats, timeout and eviction are out of scope for this
// package and are consumed only through this interface. A concrete,
// priority-ordered linear-scan implementation lives in
// pipeline/memtable.
type Table interface {
	// ID returns the table's position in the pipeline.
	ID() ofp.Table

	// Lookup returns the highest-priority entry matching pkt, or nil
	// when no entry matches.
	Lookup(pkt *Packet) Entry

	// FlowMod applies a flow modification to the table. It returns
	// the newly installed entry for ADD (nil for MODIFY, DELETE or on
	// error), and the ownership-transfer flags spec.md section 4.3
	// step 8 and section 5 describe: matchKept/instsKept report
	// whether the table retained msg's Match/Instructions rather than
	// copying them, so the caller knows which parts it must still
	// free.
	FlowMod(msg *ofp.FlowMod) (entry Entry, matchKept, instsKept bool, err error)

	// Stats appends flow statistics matching req.
	Stats(req *ofp.FlowStatsRequest) []ofp.FlowStats

	// AggregateStats accumulates packet/byte/flow counts matching req.
	AggregateStats(req *ofp.AggregateStatsRequest) ofp.AggregateStats

	// Timeout ages and evicts expired entries. Must not be invoked
	// reentrantly with Lookup/FlowMod.
	Timeout()

	// ActiveCount reports the number of installed entries, consulted
	// by the vacancy model (spec.md section 4.4, 4.6).
	ActiveCount() uint32

	// TableStats returns the table's wire-format statistics.
	TableStats() ofp.TableStats

	// Features/SetFeatures access the table's live feature descriptor.
	Features() ofp.TableFeatures
	SetFeatures(ofp.TableFeatures)

	// SavedFeatures/SetSavedFeatures access the checkpoint used to
	// bracket a multi-message features update (spec.md section 4.5).
	SavedFeatures() ofp.TableFeatures
	SetSavedFeatures(ofp.TableFeatures)

	// Desc/SetDesc access the table's description and vacancy state
	// (spec.md section 4.4, 4.6).
	Desc() ofp.TableDesc
	SetDesc(ofp.TableDesc)
}

// Entry is the external flow-entry collaborator (spec.md section 3
// "Flow Entry").
type Entry interface {
	Priority() uint16
	Instructions() ofp.Instructions
	Cookie() uint64
	Match() ofp.Match

	// SyncMaster/SyncSlave are the mirrored table 62/63 cross-links
	// (spec.md section 3, 4.3 step 6, 9). They are weak associations:
	// each entry is owned by its own table, and a companion's removal
	// must clear the surviving side's link.
	SyncMaster() Entry
	SetSyncMaster(Entry)
	SyncSlave() Entry
	SetSyncSlave(Entry)
}

// IsTableMiss reports whether e is the table-miss entry: priority 0
// and an all-wildcard match no longer than 4 bytes (spec.md section 3,
// invariant 1).
func IsTableMiss(e Entry) bool {
	return e.Priority() == 0 && matchLength(e.Match()) <= 4
}
