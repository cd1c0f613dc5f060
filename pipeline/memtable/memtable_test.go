package memtable

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ofgrid/datapath/ofp"
	"github.com/ofgrid/datapath/pipeline"
)

func inPortMatch(port uint32) ofp.Match {
	return ofp.Match{
		Type: ofp.MatchTypeXM,
		Fields: []ofp.XM{{
			Class: ofp.XMClassOpenflowBasic,
			Type:  ofp.XMTypeInPort,
			Value: ofp.XMValue{byte(port >> 24), byte(port >> 16), byte(port >> 8), byte(port)},
		}},
	}
}

func packetOnPort(port uint32) *pipeline.Packet {
	return pipeline.NewPacket([]byte("payload"), ofp.PortNo(port), inPortMatch(port))
}

func TestTableAddAndLookup(t *testing.T) {
	tbl := New(ofp.Table(0), 128)

	entry, matchKept, instsKept, err := tbl.FlowMod(&ofp.FlowMod{
		Command:  ofp.FlowAdd,
		Priority: 10,
		Match:    inPortMatch(1),
	})
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.True(t, matchKept)
	assert.True(t, instsKept)

	assert.Equal(t, uint32(1), tbl.ActiveCount())

	got := tbl.Lookup(packetOnPort(1))
	require.NotNil(t, got)
	assert.Equal(t, uint16(10), got.Priority())

	assert.Nil(t, tbl.Lookup(packetOnPort(2)))
}

func TestTableLookupPrefersHighestPriority(t *testing.T) {
	tbl := New(ofp.Table(0), 128)

	_, _, _, err := tbl.FlowMod(&ofp.FlowMod{Command: ofp.FlowAdd, Priority: 5, Match: inPortMatch(1)})
	require.NoError(t, err)
	_, _, _, err = tbl.FlowMod(&ofp.FlowMod{Command: ofp.FlowAdd, Priority: 20, Match: inPortMatch(1)})
	require.NoError(t, err)

	got := tbl.Lookup(packetOnPort(1))
	require.NotNil(t, got)
	assert.Equal(t, uint16(20), got.Priority())
}

func TestTableAddReplacesSamePriorityAndMatch(t *testing.T) {
	tbl := New(ofp.Table(0), 128)

	_, _, _, err := tbl.FlowMod(&ofp.FlowMod{Command: ofp.FlowAdd, Priority: 5, Cookie: 1, Match: inPortMatch(1)})
	require.NoError(t, err)
	_, _, _, err = tbl.FlowMod(&ofp.FlowMod{Command: ofp.FlowAdd, Priority: 5, Cookie: 2, Match: inPortMatch(1)})
	require.NoError(t, err)

	assert.Equal(t, uint32(1), tbl.ActiveCount())
	got := tbl.Lookup(packetOnPort(1))
	require.NotNil(t, got)
	assert.Equal(t, uint64(2), got.Cookie())
}

func TestTableModifyUpdatesInstructionsNotMatch(t *testing.T) {
	tbl := New(ofp.Table(0), 128)

	_, _, _, err := tbl.FlowMod(&ofp.FlowMod{Command: ofp.FlowAdd, Priority: 5, Match: inPortMatch(1)})
	require.NoError(t, err)

	insts := ofp.Instructions{&ofp.InstructionApplyActions{}}
	_, _, _, err = tbl.FlowMod(&ofp.FlowMod{Command: ofp.FlowModify, Match: inPortMatch(1), Instructions: insts})
	require.NoError(t, err)

	got := tbl.Lookup(packetOnPort(1))
	require.NotNil(t, got)
	if diff := cmp.Diff(insts, got.Instructions()); diff != "" {
		t.Fatalf("instructions mismatch (-want +got):\n%s", diff)
	}
}

func TestTableDeleteStrictRequiresExactMatch(t *testing.T) {
	tbl := New(ofp.Table(0), 128)

	_, _, _, err := tbl.FlowMod(&ofp.FlowMod{Command: ofp.FlowAdd, Priority: 5, Match: inPortMatch(1)})
	require.NoError(t, err)

	_, _, _, err = tbl.FlowMod(&ofp.FlowMod{
		Command:  ofp.FlowDeleteStrict,
		Priority: 6,
		Match:    inPortMatch(1),
		OutPort:  ofp.PortAny,
		OutGroup: ofp.GroupAny,
	})
	require.NoError(t, err)
	assert.Equal(t, uint32(1), tbl.ActiveCount(), "priority mismatch must not delete under strict semantics")

	_, _, _, err = tbl.FlowMod(&ofp.FlowMod{
		Command:  ofp.FlowDeleteStrict,
		Priority: 5,
		Match:    inPortMatch(1),
		OutPort:  ofp.PortAny,
		OutGroup: ofp.GroupAny,
	})
	require.NoError(t, err)
	assert.Equal(t, uint32(0), tbl.ActiveCount())
}

func TestTableDeleteNonStrictMatchesSubset(t *testing.T) {
	tbl := New(ofp.Table(0), 128)

	_, _, _, err := tbl.FlowMod(&ofp.FlowMod{Command: ofp.FlowAdd, Priority: 5, Match: inPortMatch(1)})
	require.NoError(t, err)
	_, _, _, err = tbl.FlowMod(&ofp.FlowMod{Command: ofp.FlowAdd, Priority: 9, Match: inPortMatch(1)})
	require.NoError(t, err)

	_, _, _, err = tbl.FlowMod(&ofp.FlowMod{
		Command:  ofp.FlowDelete,
		Match:    inPortMatch(1),
		OutPort:  ofp.PortAny,
		OutGroup: ofp.GroupAny,
	})
	require.NoError(t, err)
	assert.Equal(t, uint32(0), tbl.ActiveCount())
}

func TestTableStatsFiltersByCookie(t *testing.T) {
	tbl := New(ofp.Table(0), 128)

	_, _, _, err := tbl.FlowMod(&ofp.FlowMod{Command: ofp.FlowAdd, Priority: 1, Cookie: 0xAA, Match: inPortMatch(1)})
	require.NoError(t, err)
	_, _, _, err = tbl.FlowMod(&ofp.FlowMod{Command: ofp.FlowAdd, Priority: 2, Cookie: 0xBB, Match: inPortMatch(2)})
	require.NoError(t, err)

	stats := tbl.Stats(&ofp.FlowStatsRequest{
		Cookie:     0xAA,
		CookieMask: 0xFF,
		OutPort:    ofp.PortAny,
		OutGroup:   ofp.GroupAny,
	})
	require.Len(t, stats, 1)
	assert.Equal(t, uint64(0xAA), stats[0].Cookie)
}

func TestTableAggregateStats(t *testing.T) {
	tbl := New(ofp.Table(0), 128)

	_, _, _, err := tbl.FlowMod(&ofp.FlowMod{Command: ofp.FlowAdd, Priority: 1, Match: inPortMatch(1)})
	require.NoError(t, err)
	_, _, _, err = tbl.FlowMod(&ofp.FlowMod{Command: ofp.FlowAdd, Priority: 2, Match: inPortMatch(2)})
	require.NoError(t, err)

	tbl.Lookup(packetOnPort(1))
	tbl.Lookup(packetOnPort(1))

	agg := tbl.AggregateStats(&ofp.AggregateStatsRequest{OutPort: ofp.PortAny, OutGroup: ofp.GroupAny})
	assert.Equal(t, uint64(2), agg.FlowCount)
	assert.Equal(t, uint64(2), agg.PacketCount)
}

func TestTableTimeoutKeepsEntryWithoutHardTimeout(t *testing.T) {
	tbl := New(ofp.Table(0), 128)

	_, _, _, err := tbl.FlowMod(&ofp.FlowMod{
		Command:     ofp.FlowAdd,
		Priority:    1,
		Match:       inPortMatch(1),
		HardTimeout: 0,
	})
	require.NoError(t, err)

	// zero timeout never expires.
	tbl.Timeout()
	assert.Equal(t, uint32(1), tbl.ActiveCount())
}

func TestIsTableMiss(t *testing.T) {
	tbl := New(ofp.Table(0), 128)

	entry, _, _, err := tbl.FlowMod(&ofp.FlowMod{
		Command:  ofp.FlowAdd,
		Priority: 0,
		Match:    ofp.Match{Type: ofp.MatchTypeXM},
	})
	require.NoError(t, err)
	assert.True(t, pipeline.IsTableMiss(entry))

	other, _, _, err := tbl.FlowMod(&ofp.FlowMod{
		Command:  ofp.FlowAdd,
		Priority: 1,
		Match:    inPortMatch(1),
	})
	require.NoError(t, err)
	assert.False(t, pipeline.IsTableMiss(other))
}

func TestSyncLinkClearedOnDelete(t *testing.T) {
	tbl61 := New(ofp.Table(61), 128)
	tbl62 := New(ofp.Table(62), 128)

	e61, _, _, err := tbl61.FlowMod(&ofp.FlowMod{Command: ofp.FlowAdd, Priority: 1, Match: inPortMatch(1)})
	require.NoError(t, err)
	e62, _, _, err := tbl62.FlowMod(&ofp.FlowMod{Command: ofp.FlowAdd, Priority: 1, Match: inPortMatch(1)})
	require.NoError(t, err)

	e61.SetSyncSlave(e62)
	e62.SetSyncMaster(e61)

	_, _, _, err = tbl62.FlowMod(&ofp.FlowMod{
		Command:  ofp.FlowDelete,
		Match:    inPortMatch(1),
		OutPort:  ofp.PortAny,
		OutGroup: ofp.GroupAny,
	})
	require.NoError(t, err)

	assert.Nil(t, e61.SyncSlave())
}
