package main

import (
	"github.com/ofgrid/datapath/internal/metrics"
	"github.com/ofgrid/datapath/internal/rl"
	of "github.com/ofgrid/datapath"
	"github.com/ofgrid/datapath/ofp"
	"github.com/ofgrid/datapath/pipeline"
)

// portSink models the physical/virtual forwarding plane an ActionOutput
// ultimately reaches. A real datapath wires this to its NIC egress
// path; no such transport exists in this tree, so the default sink
// only counts and logs the output (spec.md Non-goals: packet
// forwarding I/O is out of scope).
type portSink interface {
	Output(port ofp.PortNo, pkt *pipeline.Packet)
}

// loggingPortSink is the portSink used when no other transport is
// wired in.
type loggingPortSink struct{}

func (loggingPortSink) Output(port ofp.PortNo, pkt *pipeline.Packet) {
	rl.Debugf("actions: output %d bytes to port %d", len(pkt.Buffer), port)
}

// actionExecutor implements pipeline.ActionExecutor: it interprets an
// already-validated action list against a packet, in list order
// (spec.md section 4.2 APPLY-ACTIONS, section 4.1 step 3 action-set
// execution).
type actionExecutor struct {
	senders func() []pipeline.Sender
	ports   portSink
}

func newActionExecutor(senders func() []pipeline.Sender, ports portSink) *actionExecutor {
	if ports == nil {
		ports = loggingPortSink{}
	}
	return &actionExecutor{senders: senders, ports: ports}
}

// Execute implements pipeline.ActionExecutor.
func (e *actionExecutor) Execute(pkt *pipeline.Packet, actions ofp.Actions, cookie uint64, reason ofp.PacketInReason) {
	for _, a := range actions {
		if !pkt.Live() {
			return
		}

		switch act := a.(type) {
		case *ofp.ActionOutput:
			e.output(pkt, act, cookie, reason)
		case *ofp.ActionSetField:
			setField(pkt, act.Field)
		case *ofp.ActionDecNetworkTTL, *ofp.ActionSetNetworkTTL:
			// TTL lives in the raw packet bytes, which this tree never
			// parses past the OXM match fields; nothing to mutate.
		case *ofp.ActionGroup:
			rl.Debugf("actions: group %d referenced but no group table is wired", act.Group)
		default:
			rl.Debugf("actions: unsupported action type %T ignored", act)
		}
	}
}

func (e *actionExecutor) output(pkt *pipeline.Packet, act *ofp.ActionOutput, cookie uint64, reason ofp.PacketInReason) {
	if act.Port == ofp.PortController {
		e.toController(pkt, cookie, reason, act.MaxLen)
		return
	}

	e.ports.Output(act.Port, pkt)
}

// toController sends pkt to every attached controller as a PACKET_IN,
// honoring an output action's own MaxLen rather than the datapath's
// miss_send_len (spec.md section 4.7).
func (e *actionExecutor) toController(pkt *pipeline.Packet, cookie uint64, reason ofp.PacketInReason, maxLen uint16) {
	data := pkt.Buffer
	if maxLen != ofp.ContentLenNoBuffer && int(maxLen) < len(data) {
		data = data[:maxLen]
	}

	in := &ofp.PacketIn{
		Length: uint16(len(pkt.Buffer)),
		Reason: reason,
		Table:  pkt.TableID,
		Cookie: cookie,
		Buffer: ofp.NoBuffer,
		Match:  pkt.Match,
		Data:   data,
	}

	metrics.RecordPacketIn(reason.String())

	for _, sender := range e.senders() {
		if err := sender.Send(of.TypePacketIn, in); err != nil {
			metrics.RecordPacketInSendError()
			rl.Warnf("actions: failed to send packet-in to controller: %v", err)
		}
	}
}

// setField overwrites pkt's matching field in place, appending it when
// absent, the SET_FIELD semantics of OpenFlow 1.3 5.9. It walks
// pkt.Match.Fields by index rather than through Match.Field, whose
// returned pointer addresses a loop-local copy and so cannot be
// written through.
func setField(pkt *pipeline.Packet, field ofp.XM) {
	for i := range pkt.Match.Fields {
		if pkt.Match.Fields[i].Type == field.Type {
			pkt.Match.Fields[i].Value = field.Value
			pkt.Match.Fields[i].Mask = nil
			return
		}
	}

	pkt.Match.Fields = append(pkt.Match.Fields, ofp.XM{
		Class: field.Class,
		Type:  field.Type,
		Value: field.Value,
	})
}
