package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ofgrid/datapath/ofp"
)

func TestSortInstructionsCanonicalOrder(t *testing.T) {
	insts := ofp.Instructions{
		&ofp.InstructionGotoTable{Table: 2},
		&ofp.InstructionWriteMetadata{},
		&ofp.InstructionWriteActions{},
		&ofp.InstructionClearActions{},
		&ofp.InstructionApplyActions{},
		&ofp.InstructionMeter{},
	}

	sortInstructions(insts)

	var gotTypes []int
	for _, inst := range insts {
		gotTypes = append(gotTypes, instructionClass(inst))
	}

	assert.Equal(t, []int{0, 1, 2, 3, 4, 5}, gotTypes)
}

func TestSortInstructionsStableForApplyBeforeClear(t *testing.T) {
	// Canonical order already places Apply (1) before Clear (2); a
	// reversed input must still come out Apply, Clear.
	insts := ofp.Instructions{
		&ofp.InstructionClearActions{},
		&ofp.InstructionApplyActions{},
	}

	sortInstructions(insts)

	_, applyFirst := insts[0].(*ofp.InstructionApplyActions)
	assert.True(t, applyFirst)
}

func TestWriteMetadataAppliesMask(t *testing.T) {
	pkt := NewPacket(nil, 0, ofp.Match{})
	setMetadataOf(&pkt.Match, 0xAAAAAAAAAAAAAAAA)

	writeMetadata(pkt, &ofp.InstructionWriteMetadata{
		Metadata:     0xFFFFFFFFFFFFFFFF,
		MetadataMask: 0x00000000FFFFFFFF,
	})

	assert.Equal(t, uint64(0xAAAAAAAAFFFFFFFF), metadataOf(pkt.Match))
}

func TestExecuteEntryMeterBlockDrops(t *testing.T) {
	p, dp, _ := newTestPipeline(1)
	dp.meters.blocked[3] = true

	pkt := NewPacket([]byte("x"), 0, ofp.Match{})
	entry := &fakeEntry{insts: ofp.Instructions{
		&ofp.InstructionMeter{Meter: 3},
		&ofp.InstructionApplyActions{Actions: ofp.Actions{&ofp.ActionOutput{Port: 1}}},
	}}

	next := p.executeEntry(pkt, entry)

	assert.Nil(t, next)
	assert.False(t, pkt.Live())
	assert.Empty(t, dp.actions.calls)
}

func TestExecuteEntryGotoReturnsNextTable(t *testing.T) {
	p, _, tables := newTestPipeline(2)

	pkt := NewPacket([]byte("x"), 0, ofp.Match{})
	entry := &fakeEntry{insts: ofp.Instructions{&ofp.InstructionGotoTable{Table: 1}}}

	next := p.executeEntry(pkt, entry)

	require.NotNil(t, next)
	assert.Equal(t, tables[1].ID(), next.ID())
}

// fakeEntry is a minimal pipeline.Entry for instruction-executor tests
// that don't need a real table behind them.
type fakeEntry struct {
	priority uint16
	cookie   uint64
	match    ofp.Match
	insts    ofp.Instructions

	syncMaster Entry
	syncSlave  Entry
}

func (e *fakeEntry) Priority() uint16               { return e.priority }
func (e *fakeEntry) Instructions() ofp.Instructions { return e.insts }
func (e *fakeEntry) Cookie() uint64                 { return e.cookie }
func (e *fakeEntry) Match() ofp.Match               { return e.match }
func (e *fakeEntry) SyncMaster() Entry              { return e.syncMaster }
func (e *fakeEntry) SetSyncMaster(other Entry)      { e.syncMaster = other }
func (e *fakeEntry) SyncSlave() Entry               { return e.syncSlave }
func (e *fakeEntry) SetSyncSlave(other Entry)       { e.syncSlave = other }
