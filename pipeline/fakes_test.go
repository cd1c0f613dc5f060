package pipeline

import (
	"io"
	"time"

	of "github.com/ofgrid/datapath"
	"github.com/ofgrid/datapath/ofp"
)

// fakeDatapath is a minimal pipeline.Datapath for driving the pipeline
// in tests, without any transport or real forwarding plane.
type fakeDatapath struct {
	config  Config
	buffers fakeBufferPool
	meters  fakeMeterTable
	actions *fakeActionExecutor
	senders []Sender
}

func newFakeDatapath() *fakeDatapath {
	return &fakeDatapath{
		buffers: fakeBufferPool{pkts: make(map[uint32]*Packet)},
		meters:  fakeMeterTable{blocked: make(map[ofp.Meter]bool)},
		actions: &fakeActionExecutor{},
	}
}

func (d *fakeDatapath) Config() Config      { return d.config }
func (d *fakeDatapath) Buffers() BufferPool { return &d.buffers }
func (d *fakeDatapath) Meters() MeterTable  { return &d.meters }
func (d *fakeDatapath) Actions() ActionExecutor { return d.actions }
func (d *fakeDatapath) Senders() []Sender   { return d.senders }

type fakeBufferPool struct {
	next uint32
	pkts map[uint32]*Packet
}

func (b *fakeBufferPool) Save(data []byte) (uint32, int) {
	b.next++
	cp := make([]byte, len(data))
	copy(cp, data)
	b.pkts[b.next] = NewPacket(cp, 0, ofp.Match{})
	return b.next, len(cp)
}

func (b *fakeBufferPool) Retrieve(id uint32) (*Packet, bool) {
	pkt, ok := b.pkts[id]
	if ok {
		delete(b.pkts, id)
	}
	return pkt, ok
}

type fakeMeterTable struct {
	blocked map[ofp.Meter]bool
}

func (m *fakeMeterTable) Apply(meter ofp.Meter, pkt *Packet) bool {
	return !m.blocked[meter]
}

// executedAction records one ActionExecutor.Execute invocation.
type executedAction struct {
	actions ofp.Actions
	cookie  uint64
	reason  ofp.PacketInReason
}

type fakeActionExecutor struct {
	calls []executedAction
}

func (e *fakeActionExecutor) Execute(pkt *Packet, actions ofp.Actions, cookie uint64, reason ofp.PacketInReason) {
	e.calls = append(e.calls, executedAction{actions: actions, cookie: cookie, reason: reason})
}

// fakeSender is a pipeline.Sender that records every message sent to
// it instead of going over the wire.
type fakeSender struct {
	role ofp.ControllerRole
	sent []io.WriterTo

	fragments []ofp.TableFeatures
	xid       uint32
	pending   bool
	lastSeen  time.Time
}

func (s *fakeSender) Role() ofp.ControllerRole { return s.role }

func (s *fakeSender) Send(t of.Type, body io.WriterTo) error {
	s.sent = append(s.sent, body)
	return nil
}

func (s *fakeSender) PendingTableFeatures() ([]ofp.TableFeatures, uint32, bool) {
	return s.fragments, s.xid, s.pending
}

func (s *fakeSender) SetPendingTableFeatures(xid uint32, fragments []ofp.TableFeatures) {
	s.xid = xid
	s.fragments = fragments
	s.pending = true
}

func (s *fakeSender) AppendPendingTableFeatures(fragments []ofp.TableFeatures) {
	s.fragments = append(s.fragments, fragments...)
}

func (s *fakeSender) ClearPendingTableFeatures() {
	s.fragments = nil
	s.pending = false
}

func (s *fakeSender) PendingLastSeen() time.Time      { return s.lastSeen }
func (s *fakeSender) SetPendingLastSeen(t time.Time)  { s.lastSeen = t }
