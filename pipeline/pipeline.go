package pipeline

import (
	of "github.com/ofgrid/datapath"
	"github.com/ofgrid/datapath/internal/rl"
	"github.com/ofgrid/datapath/ofp"
)

// allOnesCookie is the sentinel cookie attached to a PACKET_IN emitted
// for the terminal action-set execution, since no single flow entry
// owns that disposition (spec.md section 4.1 step 3, section 4.7).
const allOnesCookie = ^uint64(0)

// Pipeline is the per-packet traversal engine (spec.md section 4.1).
// It owns a fixed, ordered vector of tables and a back-reference to
// the enclosing Datapath; it is stateless between packets apart from
// the tables it owns.
type Pipeline struct {
	dp     Datapath
	tables []Table
	byID   map[ofp.Table]Table
}

// NewPipeline creates a pipeline over the given ordered tables,
// created once at datapath init (spec.md section 3 "Lifecycle").
func NewPipeline(dp Datapath, tables []Table) *Pipeline {
	byID := make(map[ofp.Table]Table, len(tables))
	for _, t := range tables {
		byID[t.ID()] = t
	}

	return &Pipeline{dp: dp, tables: tables, byID: byID}
}

// Destroy releases the pipeline's tables, as spec.md section 3
// requires at shutdown. Idempotent.
func (p *Pipeline) Destroy() {
	p.tables = nil
	p.byID = nil
}

// Tables returns the pipeline's ordered table vector.
func (p *Pipeline) Tables() []Table {
	return p.tables
}

// tableByID returns the table with the given id, or nil when out of
// range — a GOTO-TABLE to an unknown table silently terminates the
// traversal rather than panicking, since the flow-mod validator (an
// external collaborator per spec.md section 4.1) is responsible for
// rejecting a GOTO to a table that does not exist.
func (p *Pipeline) tableByID(id ofp.Table) Table {
	return p.byID[id]
}

// Timeout drives the periodic aging/eviction tick across every table
// (spec.md section 5). It must not be invoked reentrantly with
// ProcessPacket.
func (p *Pipeline) Timeout() {
	for _, t := range p.tables {
		t.Timeout()
	}
}

// ProcessPacket drives pkt to a terminal disposition: egress via the
// action set, drop, or hand-off to a meter/action/controller send path
// (spec.md section 4.1). It takes ownership of pkt.
func (p *Pipeline) ProcessPacket(pkt *Packet) {
	if !pkt.TTLValid {
		if p.dp.Config().InvalidTTLToController {
			p.sendPacketToController(pkt, ofp.PacketInReasonInvalidTTL, 0)
		}
		pkt.Drop()
		return
	}

	if len(p.tables) == 0 {
		pkt.Drop()
		return
	}

	next := p.tables[0]

	for next != nil {
		table := next
		next = nil
		pkt.TableID = table.ID()

		entry := table.Lookup(pkt)
		if entry == nil {
			rl.Debugf("pipeline: table %d miss, dropping packet", table.ID())
			pkt.Drop()
			return
		}

		pkt.TableMiss = IsTableMiss(entry)

		next = p.executeEntry(pkt, entry)
		if !pkt.Live() {
			return
		}
	}

	if !pkt.ActionSet.Empty() {
		p.dp.Actions().Execute(pkt, pkt.ActionSet.Actions(),
			allOnesCookie, ofp.PacketInReasonActionSet)
	}

	pkt.Drop()
}

// sendPacketToController builds and broadcasts a PACKET_IN for pkt
// (spec.md section 4.7): total_len is the full packet size; cookie is
// all-ones since no owning flow is implicated outside an APPLY-ACTIONS
// output (which carries its own entry cookie through ActionExecutor
// instead); buffering is decided by the datapath's configured
// miss_send_len.
func (p *Pipeline) sendPacketToController(pkt *Packet, reason ofp.PacketInReason, table ofp.Table) {
	in := &ofp.PacketIn{
		Length: uint16(len(pkt.Buffer)),
		Reason: reason,
		Table:  table,
		Cookie: allOnesCookie,
		Match:  pkt.Match,
	}

	missSendLen := p.dp.Config().MissSendLength
	if missSendLen == uint16(ofp.NoBuffer) {
		in.Buffer = ofp.NoBuffer
		in.Data = pkt.Buffer
	} else {
		id, size := p.dp.Buffers().Save(pkt.Buffer)
		in.Buffer = id

		truncated := int(missSendLen)
		if size < truncated {
			truncated = size
		}
		if truncated > len(pkt.Buffer) {
			truncated = len(pkt.Buffer)
		}
		in.Data = pkt.Buffer[:truncated]
	}

	for _, sender := range p.dp.Senders() {
		if err := sender.Send(of.TypePacketIn, in); err != nil {
			rl.Warnf("pipeline: failed to send packet-in to controller: %v", err)
		}
	}
}
