package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ofgrid/datapath/ofp"
	"github.com/ofgrid/datapath/pipeline"
)

type recordingSink struct {
	calls []struct {
		port ofp.PortNo
		pkt  *pipeline.Packet
	}
}

func (s *recordingSink) Output(port ofp.PortNo, pkt *pipeline.Packet) {
	s.calls = append(s.calls, struct {
		port ofp.PortNo
		pkt  *pipeline.Packet
	}{port, pkt})
}

func noSenders() []pipeline.Sender { return nil }

func TestActionExecutorOutputToPortUsesSink(t *testing.T) {
	sink := &recordingSink{}
	e := newActionExecutor(noSenders, sink)

	pkt := pipeline.NewPacket([]byte("x"), 0, ofp.Match{})
	e.Execute(pkt, ofp.Actions{&ofp.ActionOutput{Port: 3}}, 0, ofp.PacketInReasonAction)

	require.Len(t, sink.calls, 1)
	assert.Equal(t, ofp.PortNo(3), sink.calls[0].port)
}

func TestActionExecutorOutputToControllerSendsPacketIn(t *testing.T) {
	reg := newSenderRegistry()
	reg.Attach(newFakeConn("10.0.0.1:6653"))

	e := newActionExecutor(reg.Senders, &recordingSink{})

	pkt := pipeline.NewPacket([]byte("hello"), 0, ofp.Match{})
	e.Execute(pkt, ofp.Actions{&ofp.ActionOutput{Port: ofp.PortController, MaxLen: ofp.ContentLenNoBuffer}}, 99, ofp.PacketInReasonAction)
}

func TestActionExecutorSetFieldMutatesExistingField(t *testing.T) {
	sink := &recordingSink{}
	e := newActionExecutor(noSenders, sink)

	pkt := pipeline.NewPacket(nil, 0, ofp.Match{
		Type: ofp.MatchTypeXM,
		Fields: []ofp.XM{{
			Class: ofp.XMClassOpenflowBasic,
			Type:  ofp.XMTypeEthSrc,
			Value: ofp.XMValue{1, 1, 1, 1, 1, 1},
		}},
	})

	e.Execute(pkt, ofp.Actions{&ofp.ActionSetField{Field: ofp.XM{
		Class: ofp.XMClassOpenflowBasic,
		Type:  ofp.XMTypeEthSrc,
		Value: ofp.XMValue{2, 2, 2, 2, 2, 2},
	}}}, 0, ofp.PacketInReasonAction)

	require.Len(t, pkt.Match.Fields, 1)
	assert.Equal(t, ofp.XMValue{2, 2, 2, 2, 2, 2}, pkt.Match.Fields[0].Value)
}

func TestActionExecutorSetFieldAppendsWhenAbsent(t *testing.T) {
	sink := &recordingSink{}
	e := newActionExecutor(noSenders, sink)

	pkt := pipeline.NewPacket(nil, 0, ofp.Match{Type: ofp.MatchTypeXM})

	e.Execute(pkt, ofp.Actions{&ofp.ActionSetField{Field: ofp.XM{
		Class: ofp.XMClassOpenflowBasic,
		Type:  ofp.XMTypeEthDst,
		Value: ofp.XMValue{9, 9, 9, 9, 9, 9},
	}}}, 0, ofp.PacketInReasonAction)

	require.Len(t, pkt.Match.Fields, 1)
	assert.Equal(t, ofp.XMTypeEthDst, pkt.Match.Fields[0].Type)
}

func TestActionExecutorStopsAtDroppedPacket(t *testing.T) {
	sink := &recordingSink{}
	e := newActionExecutor(noSenders, sink)

	pkt := pipeline.NewPacket([]byte("x"), 0, ofp.Match{})
	pkt.Drop()

	e.Execute(pkt, ofp.Actions{&ofp.ActionOutput{Port: 1}}, 0, ofp.PacketInReasonAction)

	assert.Empty(t, sink.calls, "a dropped packet must not reach any action")
}

func TestActionExecutorUnsupportedActionIsIgnored(t *testing.T) {
	sink := &recordingSink{}
	e := newActionExecutor(noSenders, sink)

	pkt := pipeline.NewPacket([]byte("x"), 0, ofp.Match{})

	assert.NotPanics(t, func() {
		e.Execute(pkt, ofp.Actions{&ofp.ActionGroup{Group: 1}, &ofp.ActionOutput{Port: 1}}, 0, ofp.PacketInReasonAction)
	})
	assert.Len(t, sink.calls, 1, "the group action is a no-op, the output after it still runs")
}
