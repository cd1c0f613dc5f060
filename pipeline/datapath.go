package pipeline

import (
	"github.com/ofgrid/datapath/ofp"
)

// Config is the subset of datapath-wide configuration the pipeline
// consults (spec.md section 4.1 step 1, section 4.7).
type Config struct {
	// InvalidTTLToController mirrors the INVALID_TTL_TO_CONTROLLER
	// datapath config flag.
	InvalidTTLToController bool

	// MissSendLength bounds how much of a punted packet's payload is
	// included inline versus buffered (spec.md section 4.7).
	MissSendLength uint16
}

// BufferPool models the packet buffer pool collaborator
// (dp_buffers_save/retrieve, spec.md section 6).
type BufferPool interface {
	// Save stores data and returns an opaque buffer id and its size.
	Save(data []byte) (id uint32, size int)

	// Retrieve returns the packet previously saved under id, and
	// whether it was found. A miss is logged by the caller, not
	// treated as an error (spec.md section 4.3 step 7).
	Retrieve(id uint32) (pkt *Packet, ok bool)
}

// MeterTable models the meter table collaborator (meter_table_apply,
// spec.md section 4.2 METER). It reports whether the packet survived
// metering.
type MeterTable interface {
	Apply(meter ofp.Meter, pkt *Packet) (survived bool)
}

// ActionExecutor models the action executor collaborator
// (dp_execute_action_list, spec.md section 4.2 APPLY-ACTIONS and the
// action-set execution at traversal end). reason carries why the
// execution happened, consulted when the action list outputs to the
// controller port.
type ActionExecutor interface {
	Execute(pkt *Packet, actions ofp.Actions, cookie uint64, reason ofp.PacketInReason)
}

// Datapath is the pipeline's back-reference to the enclosing switch
// (spec.md section 3), reaching buffers, meters, the action executor,
// datapath-wide configuration, and the set of attached controllers.
type Datapath interface {
	Config() Config
	Buffers() BufferPool
	Meters() MeterTable
	Actions() ActionExecutor

	// Senders returns every controller connection currently attached
	// to the datapath, used to broadcast PACKET_IN (spec.md section
	// 4.7, dp_send_message).
	Senders() []Sender
}
