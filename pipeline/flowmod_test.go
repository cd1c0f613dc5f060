package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ofgrid/datapath/ofp"
	"github.com/ofgrid/datapath/pipeline/memtable"
)

func ipv4DstMatch(mask uint32) ofp.Match {
	m := ofp.Match{
		Type: ofp.MatchTypeXM,
		Fields: []ofp.XM{{
			Class: ofp.XMClassOpenflowBasic,
			Type:  ofp.XMTypeIPv4Dst,
			Value: ofp.XMValue{10, 0, 0, 0},
		}},
	}

	if mask != 0xffffffff {
		m.Fields[0].Mask = ofp.XMValue{
			byte(mask >> 24), byte(mask >> 16), byte(mask >> 8), byte(mask),
		}
	}

	return m
}

func TestHandleFlowModRejectsSlaveWriter(t *testing.T) {
	p, _, _ := newTestPipeline(1)

	err := p.HandleFlowMod(&ofp.FlowMod{Command: ofp.FlowAdd, Table: 0}, &fakeSender{role: ofp.ControllerRoleSlave})

	require.Error(t, err)
	ofErr, ok := err.(*ofp.Error)
	require.True(t, ok)
	assert.Equal(t, ofp.ErrTypeBadRequest, ofErr.Type)
	assert.Equal(t, ofp.ErrCodeBadRequestIsSlave, ofErr.Code)
}

func TestHandleFlowModUnknownTableRejected(t *testing.T) {
	p, _, _ := newTestPipeline(1)

	err := p.HandleFlowMod(&ofp.FlowMod{Command: ofp.FlowAdd, Table: 9}, &fakeSender{role: ofp.ControllerRoleMaster})

	require.Error(t, err)
	ofErr, ok := err.(*ofp.Error)
	require.True(t, ok)
	assert.Equal(t, ofp.ErrTypeFlowModFailed, ofErr.Type)
	assert.Equal(t, ofp.ErrCodeFlowModFailedBadTableID, ofErr.Code)
}

func TestHandleFlowModAddInstallsEntry(t *testing.T) {
	p, _, tables := newTestPipeline(1)

	err := p.HandleFlowMod(&ofp.FlowMod{
		Command:  ofp.FlowAdd,
		Table:    0,
		Priority: 5,
		Match:    ethMatch(1, 2),
	}, &fakeSender{role: ofp.ControllerRoleMaster})

	require.NoError(t, err)
	assert.Equal(t, uint32(1), tables[0].ActiveCount())
}

func TestHandleFlowModLPMRequiresExactPriorityWhenUnmasked(t *testing.T) {
	p, _, _ := newTestPipeline(64)

	err := p.HandleFlowMod(&ofp.FlowMod{
		Command:  ofp.FlowAdd,
		Table:    TableLPM,
		Priority: 24,
		Match:    ipv4DstMatch(0xffffffff),
	}, &fakeSender{role: ofp.ControllerRoleMaster})

	require.Error(t, err)
	ofErr := err.(*ofp.Error)
	assert.Equal(t, ofp.ErrCodeFlowModFailedBadPriority, ofErr.Code)
}

func TestHandleFlowModLPMRejectsNonContiguousMask(t *testing.T) {
	p, _, _ := newTestPipeline(64)

	err := p.HandleFlowMod(&ofp.FlowMod{
		Command:  ofp.FlowAdd,
		Table:    TableLPM,
		Priority: 24,
		Match:    ipv4DstMatch(0xff00ffff),
	}, &fakeSender{role: ofp.ControllerRoleMaster})

	require.Error(t, err)
	ofErr := err.(*ofp.Error)
	assert.Equal(t, ofp.ErrTypeBadMatch, ofErr.Type)
	assert.Equal(t, ofp.ErrCodeBadMatchBadNetMask, ofErr.Code)
}

func TestHandleFlowModLPMRequiresPriorityMatchesPrefixLength(t *testing.T) {
	p, _, _ := newTestPipeline(64)

	err := p.HandleFlowMod(&ofp.FlowMod{
		Command:  ofp.FlowAdd,
		Table:    TableLPM,
		Priority: 16, // mask below is /24
		Match:    ipv4DstMatch(0xffffff00),
	}, &fakeSender{role: ofp.ControllerRoleMaster})

	require.Error(t, err)
	ofErr := err.(*ofp.Error)
	assert.Equal(t, ofp.ErrCodeFlowModFailedBadPriority, ofErr.Code)
}

func TestHandleFlowModLPMAcceptsValidPrefix(t *testing.T) {
	p, _, _ := newTestPipeline(64)

	err := p.HandleFlowMod(&ofp.FlowMod{
		Command:  ofp.FlowAdd,
		Table:    TableLPM,
		Priority: 24,
		Match:    ipv4DstMatch(0xffffff00),
	}, &fakeSender{role: ofp.ControllerRoleMaster})

	assert.NoError(t, err)
}

func TestHandleFlowModMirrorsIntoSlaveTable(t *testing.T) {
	p, _, tables := newTestPipeline(64)

	err := p.HandleFlowMod(&ofp.FlowMod{
		Command:  ofp.FlowAdd,
		Table:    TableMirrorMaster,
		Priority: 1,
		Match:    ethMatch(1, 2),
	}, &fakeSender{role: ofp.ControllerRoleMaster})
	require.NoError(t, err)

	master := tables[TableMirrorMaster].Lookup(&Packet{Match: ethMatch(1, 2)})
	require.NotNil(t, master)

	slave := tables[TableMirrorSlave].Lookup(&Packet{Match: ethMatch(2, 1)})
	require.NotNil(t, slave, "slave table must carry the ETH_SRC/ETH_DST-swapped clone")

	assert.NotNil(t, master.SyncSlave())
	assert.NotNil(t, slave.SyncMaster())
}

func TestHandleFlowModReplaysBufferedPacket(t *testing.T) {
	p, dp, _ := newTestPipeline(1)

	id, _ := dp.buffers.Save([]byte("hello"))

	err := p.HandleFlowMod(&ofp.FlowMod{
		Command:  ofp.FlowAdd,
		Table:    0,
		Priority: 1,
		Match:    ofp.Match{Type: ofp.MatchTypeXM},
		Instructions: ofp.Instructions{&ofp.InstructionApplyActions{
			Actions: ofp.Actions{&ofp.ActionOutput{Port: 1}},
		}},
		Buffer: id,
	}, &fakeSender{role: ofp.ControllerRoleMaster})
	require.NoError(t, err)

	require.Len(t, dp.actions.calls, 1, "the replayed packet must be run back through the pipeline")
}

func TestHandleFlowModDeleteAllTablesUsesTableAll(t *testing.T) {
	dp := newFakeDatapath()
	tables := make([]Table, 3)
	for i := range tables {
		tables[i] = memtable.New(ofp.Table(i), 16)
	}
	p := NewPipeline(dp, tables)

	for i := range tables {
		_, _, _, err := tables[i].FlowMod(&ofp.FlowMod{Command: ofp.FlowAdd, Priority: 1, Match: ethMatch(1, 2)})
		require.NoError(t, err)
	}

	err := p.HandleFlowMod(&ofp.FlowMod{
		Command: ofp.FlowDelete,
		Table:   ofp.TableAll,
		Match:   ethMatch(1, 2),
		OutPort: ofp.PortAny,
		OutGroup: ofp.GroupAny,
	}, &fakeSender{role: ofp.ControllerRoleMaster})
	require.NoError(t, err)

	for _, tbl := range tables {
		assert.Equal(t, uint32(0), tbl.ActiveCount())
	}
}

func TestHandleFlowModAddToAllTablesRejected(t *testing.T) {
	p, _, _ := newTestPipeline(1)

	err := p.HandleFlowMod(&ofp.FlowMod{Command: ofp.FlowAdd, Table: ofp.TableAll}, &fakeSender{role: ofp.ControllerRoleMaster})

	require.Error(t, err)
	ofErr := err.(*ofp.Error)
	assert.Equal(t, ofp.ErrCodeFlowModFailedBadTableID, ofErr.Code)
}
