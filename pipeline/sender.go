package pipeline

import (
	"io"
	"time"

	of "github.com/ofgrid/datapath"
	"github.com/ofgrid/datapath/ofp"
)

// Sender is the narrow view of a controller connection the flow-mod,
// table-mod and multipart handlers depend on: the "Remote / Sender" of
// spec.md section 3. The reassembly slot for fragmented table-features
// requests is owned by the connection and only ever borrowed by the
// pipeline (spec.md section 5, 9); Sender exposes it through plain
// ofp types so that an implementation (of.Remote) needs only ofp, not
// this package, avoiding an import cycle.
type Sender interface {
	// Role reports the controller's negotiated role, consulted by the
	// flow-mod handler's role check (spec.md section 4.3 step 1).
	Role() ofp.ControllerRole

	// Send transmits body as an OpenFlow message of type t to this
	// controller.
	Send(t of.Type, body io.WriterTo) error

	// PendingTableFeatures returns the fragments accumulated so far
	// for a table-features multipart request, the XID they were
	// collected under, and whether a request is pending at all.
	PendingTableFeatures() (fragments []ofp.TableFeatures, xid uint32, pending bool)

	// SetPendingTableFeatures stores the first fragment of a new
	// table-features request under the given XID.
	SetPendingTableFeatures(xid uint32, fragments []ofp.TableFeatures)

	// AppendPendingTableFeatures merges another fragment into the
	// request already pending.
	AppendPendingTableFeatures(fragments []ofp.TableFeatures)

	// ClearPendingTableFeatures discards the reassembly state, either
	// because the request completed or failed (spec.md section 4.6,
	// section 7 MULTIPART_BUFFER_OVERFLOW).
	ClearPendingTableFeatures()

	// PendingLastSeen/SetPendingLastSeen track the staleness of the
	// reassembly buffer.
	PendingLastSeen() time.Time
	SetPendingLastSeen(time.Time)
}

// IsSlave reports whether s currently holds the slave role, the
// write-access gate spec.md section 4.3 step 1 and section 7 name.
func IsSlave(s Sender) bool {
	return s.Role() == ofp.ControllerRoleSlave
}
