// Package memtable is a concrete, in-memory flow table: a
// priority-ordered linear scan over a slice of entries. It satisfies
// pipeline.Table and pipeline.Entry, the external collaborators the
// packet pipeline consumes through an interface rather than owning
// directly.
package memtable

import (
	"bytes"
	"sync"
	"time"

	"github.com/ofgrid/datapath/ofp"
	"github.com/ofgrid/datapath/pipeline"
)

// Table is a priority-ordered, linear-scan flow table.
type Table struct {
	mu sync.Mutex

	id      ofp.Table
	entries []*entry

	features      ofp.TableFeatures
	savedFeatures ofp.TableFeatures
	desc          ofp.TableDesc

	lookupCount  uint64
	matchedCount uint64
}

// New returns an empty table for id, with maxEntries as its reported
// capacity (consulted by the vacancy model).
func New(id ofp.Table, maxEntries uint32) *Table {
	return &Table{
		id: id,
		features: ofp.TableFeatures{
			Table:      id,
			MaxEntries: maxEntries,
		},
		desc: ofp.TableDesc{Table: id},
	}
}

// ID implements pipeline.Table.
func (t *Table) ID() ofp.Table {
	return t.id
}

// Lookup implements pipeline.Table. It returns the highest-priority
// entry whose match fields are all satisfied by pkt, or nil.
func (t *Table) Lookup(pkt *pipeline.Packet) pipeline.Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.lookupCount++

	var best *entry
	for _, e := range t.entries {
		if !fieldsSatisfy(pkt.Match, e.match) {
			continue
		}
		if best == nil || e.priority > best.priority {
			best = e
		}
	}

	if best == nil {
		return nil
	}

	t.matchedCount++
	best.packetCount++
	best.byteCount += uint64(len(pkt.Buffer))
	best.lastHit = time.Now()

	return best
}

// FlowMod implements pipeline.Table.
func (t *Table) FlowMod(msg *ofp.FlowMod) (pipeline.Entry, bool, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch msg.Command {
	case ofp.FlowAdd:
		return t.add(msg)
	case ofp.FlowModify:
		t.modify(msg, false)
		return nil, false, false, nil
	case ofp.FlowModifyStrict:
		t.modify(msg, true)
		return nil, false, false, nil
	case ofp.FlowDelete:
		t.delete(msg, false)
		return nil, false, false, nil
	case ofp.FlowDeleteStrict:
		t.delete(msg, true)
		return nil, false, false, nil
	}

	return nil, false, false, nil
}

// add installs msg as a new entry, replacing any existing entry with
// an identical priority and match (the ADD semantics of OpenFlow
// 1.3 6.4).
func (t *Table) add(msg *ofp.FlowMod) (pipeline.Entry, bool, bool, error) {
	for i, e := range t.entries {
		if e.priority == msg.Priority && sameFields(e.match, msg.Match) {
			t.entries = append(t.entries[:i], t.entries[i+1:]...)
			break
		}
	}

	e := &entry{
		priority:    msg.Priority,
		cookie:      msg.Cookie,
		match:       msg.Match,
		insts:       msg.Instructions,
		idleTimeout: msg.IdleTimeout,
		hardTimeout: msg.HardTimeout,
		installedAt: time.Now(),
		lastHit:     time.Now(),
	}

	t.entries = append(t.entries, e)
	return e, true, true, nil
}

// modify replaces the instructions of every entry the filter selects.
func (t *Table) modify(msg *ofp.FlowMod, strict bool) {
	for _, e := range t.entries {
		if t.selects(msg, e, strict) {
			e.insts = msg.Instructions
			e.cookie = (e.cookie &^ msg.CookieMask) | (msg.Cookie & msg.CookieMask)
		}
	}
}

// delete removes every entry the filter selects, and any mirror
// companion's weak back-link to it.
func (t *Table) delete(msg *ofp.FlowMod, strict bool) {
	kept := t.entries[:0]

	for _, e := range t.entries {
		if t.selects(msg, e, strict) && portGroupMatch(msg.OutPort, msg.OutGroup, e) {
			unlinkSync(e)
			continue
		}
		kept = append(kept, e)
	}

	t.entries = kept
}

// selects reports whether e is selected by msg's match/cookie filter,
// strictly (priority and field-set equality) or not (every filter
// field present with an equal value and mask).
func (t *Table) selects(msg *ofp.FlowMod, e *entry, strict bool) bool {
	if msg.CookieMask != 0 && (e.cookie&msg.CookieMask) != (msg.Cookie&msg.CookieMask) {
		return false
	}

	if strict {
		return e.priority == msg.Priority && sameFields(e.match, msg.Match)
	}

	return filterSatisfied(msg.Match, e.match)
}

// portGroupMatch reports whether e's instructions satisfy an
// OutPort/OutGroup restriction, used by flow deletion and by stats
// filters (spec.md section 4.3's delete path and OpenFlow 1.3 6.4).
func portGroupMatch(outPort ofp.PortNo, outGroup ofp.Group, e *entry) bool {
	if outPort == ofp.PortAny && outGroup == ofp.GroupAny {
		return true
	}

	for _, inst := range e.insts {
		var actions ofp.Actions

		switch ins := inst.(type) {
		case *ofp.InstructionApplyActions:
			actions = ins.Actions
		case *ofp.InstructionWriteActions:
			actions = ins.Actions
		default:
			continue
		}

		for _, a := range actions {
			switch a := a.(type) {
			case *ofp.ActionOutput:
				if outPort != ofp.PortAny && a.Port == outPort {
					return true
				}
			case *ofp.ActionGroup:
				if outGroup != ofp.GroupAny && a.Group == outGroup {
					return true
				}
			}
		}
	}

	return false
}

// unlinkSync clears the weak sync cross-link e's companion holds,
// since e is about to be removed from its table (spec.md section 3,
// 9 "cyclic references").
func unlinkSync(e *entry) {
	if e.syncMaster != nil {
		if m, ok := e.syncMaster.(*entry); ok {
			m.syncSlave = nil
		}
	}
	if e.syncSlave != nil {
		if s, ok := e.syncSlave.(*entry); ok {
			s.syncMaster = nil
		}
	}
}

// Stats implements pipeline.Table.
func (t *Table) Stats(req *ofp.FlowStatsRequest) []ofp.FlowStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []ofp.FlowStats

	for _, e := range t.entries {
		if req.CookieMask != 0 && (e.cookie&req.CookieMask) != (req.Cookie&req.CookieMask) {
			continue
		}
		if !filterSatisfied(req.Match, e.match) {
			continue
		}
		if !portGroupMatch(req.OutPort, req.OutGroup, e) {
			continue
		}

		out = append(out, ofp.FlowStats{
			Table:        t.id,
			DurationSec:  uint32(time.Since(e.installedAt).Seconds()),
			Priority:     e.priority,
			IdleTimeout:  e.idleTimeout,
			HardTimeout:  e.hardTimeout,
			Cookie:       e.cookie,
			PacketCount:  e.packetCount,
			ByteCount:    e.byteCount,
			Match:        e.match,
			Instructions: e.insts,
		})
	}

	return out
}

// AggregateStats implements pipeline.Table.
func (t *Table) AggregateStats(req *ofp.AggregateStatsRequest) ofp.AggregateStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out ofp.AggregateStats

	for _, e := range t.entries {
		if req.CookieMask != 0 && (e.cookie&req.CookieMask) != (req.Cookie&req.CookieMask) {
			continue
		}
		if !filterSatisfied(req.Match, e.match) {
			continue
		}
		if !portGroupMatch(req.OutPort, req.OutGroup, e) {
			continue
		}

		out.PacketCount += e.packetCount
		out.ByteCount += e.byteCount
		out.FlowCount++
	}

	return out
}

// Timeout implements pipeline.Table: it evicts entries past their
// idle or hard timeout. Must not be invoked reentrantly with Lookup
// or FlowMod.
func (t *Table) Timeout() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	kept := t.entries[:0]

	for _, e := range t.entries {
		if e.hardTimeout != 0 && now.Sub(e.installedAt) >= time.Duration(e.hardTimeout)*time.Second {
			unlinkSync(e)
			continue
		}
		if e.idleTimeout != 0 && now.Sub(e.lastHit) >= time.Duration(e.idleTimeout)*time.Second {
			unlinkSync(e)
			continue
		}
		kept = append(kept, e)
	}

	t.entries = kept
}

// ActiveCount implements pipeline.Table.
func (t *Table) ActiveCount() uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return uint32(len(t.entries))
}

// TableStats implements pipeline.Table.
func (t *Table) TableStats() ofp.TableStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	return ofp.TableStats{
		Table:        t.id,
		ActiveCount:  uint32(len(t.entries)),
		LookupCount:  t.lookupCount,
		MatchedCount: t.matchedCount,
	}
}

// Features implements pipeline.Table.
func (t *Table) Features() ofp.TableFeatures {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.features
}

// SetFeatures implements pipeline.Table.
func (t *Table) SetFeatures(f ofp.TableFeatures) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.features = f
}

// SavedFeatures implements pipeline.Table.
func (t *Table) SavedFeatures() ofp.TableFeatures {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.savedFeatures
}

// SetSavedFeatures implements pipeline.Table.
func (t *Table) SetSavedFeatures(f ofp.TableFeatures) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.savedFeatures = f
}

// Desc implements pipeline.Table.
func (t *Table) Desc() ofp.TableDesc {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.desc
}

// SetDesc implements pipeline.Table.
func (t *Table) SetDesc(d ofp.TableDesc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.desc = d
}

// entry is the concrete pipeline.Entry this table installs.
type entry struct {
	priority    uint16
	cookie      uint64
	match       ofp.Match
	insts       ofp.Instructions
	idleTimeout uint16
	hardTimeout uint16

	installedAt time.Time
	lastHit     time.Time
	packetCount uint64
	byteCount   uint64

	syncMaster pipeline.Entry
	syncSlave  pipeline.Entry
}

func (e *entry) Priority() uint16               { return e.priority }
func (e *entry) Instructions() ofp.Instructions { return e.insts }
func (e *entry) Cookie() uint64                 { return e.cookie }
func (e *entry) Match() ofp.Match               { return e.match }
func (e *entry) SyncMaster() pipeline.Entry     { return e.syncMaster }
func (e *entry) SetSyncMaster(m pipeline.Entry) { e.syncMaster = m }
func (e *entry) SyncSlave() pipeline.Entry      { return e.syncSlave }
func (e *entry) SetSyncSlave(s pipeline.Entry)  { e.syncSlave = s }

// fieldsSatisfy reports whether every field of filter (an entry's
// match, possibly wildcarded) is satisfied by concrete's corresponding
// field (a packet's concrete parsed headers), honoring filter's mask.
func fieldsSatisfy(concrete, filter ofp.Match) bool {
	for _, fx := range filter.Fields {
		cx := concrete.Field(fx.Type)
		if cx == nil {
			return false
		}
		if !valueMatches(cx.Value, fx.Value, fx.Mask) {
			return false
		}
	}
	return true
}

// valueMatches reports whether value, masked by mask (when present),
// equals want masked the same way.
func valueMatches(value, want, mask ofp.XMValue) bool {
	if len(mask) == 0 {
		return bytes.Equal(value, want)
	}
	if len(value) != len(want) || len(value) != len(mask) {
		return false
	}

	for i := range mask {
		if value[i]&mask[i] != want[i]&mask[i] {
			return false
		}
	}

	return true
}

// filterSatisfied reports whether every field present in filter is
// also present in target with an identical value and mask, the
// equality test a flow-mod MODIFY/DELETE or stats request filter uses
// against an installed entry's match (OpenFlow 1.3 6.4).
func filterSatisfied(filter, target ofp.Match) bool {
	for _, fx := range filter.Fields {
		tx := target.Field(fx.Type)
		if tx == nil {
			return false
		}
		if !bytes.Equal(tx.Value, fx.Value) || !bytes.Equal(tx.Mask, fx.Mask) {
			return false
		}
	}
	return true
}

// sameFields reports whether a and b carry the exact same set of
// match fields (used by FlowAdd's priority+match replace rule and by
// strict modify/delete).
func sameFields(a, b ofp.Match) bool {
	if len(a.Fields) != len(b.Fields) {
		return false
	}
	return filterSatisfied(b, a)
}
