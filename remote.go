package of

import (
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ofgrid/datapath/ofp"
)

// Remote is a controller connection attached to a datapath. It adapts
// a Conn into the narrow view the packet pipeline depends on: role
// tracking for the flow-mod write-access gate, outgoing transaction id
// allocation, and the reassembly slot a fragmented table-features
// multipart request borrows across several messages.
//
// Remote is safe for concurrent use by multiple goroutines.
type Remote struct {
	// Conn is the underlying OpenFlow connection.
	Conn Conn

	mu   sync.RWMutex
	role ofp.ControllerRole

	xid uint32

	pendingMu       sync.Mutex
	pendingActive   bool
	pendingXID      uint32
	pendingFeatures []ofp.TableFeatures
	pendingSeen     time.Time
}

// NewRemote wraps conn as a Remote. Connections start in the equal
// role, as OFP 1.3 6.3.4 requires until a role request changes it.
func NewRemote(conn Conn) *Remote {
	return &Remote{Conn: conn, role: ofp.ControllerRoleEqual}
}

// Role returns the controller's negotiated role.
func (r *Remote) Role() ofp.ControllerRole {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.role
}

// SetRole updates the controller's negotiated role, called from the
// ROLE_REQUEST handler.
func (r *Remote) SetRole(role ofp.ControllerRole) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.role = role
}

// Send transmits body as an OpenFlow message of type t, allocating a
// fresh transaction id for it.
func (r *Remote) Send(t Type, body io.WriterTo) error {
	var rd io.Reader

	if body != nil {
		var err error
		rd, err = NewReader(body)
		if err != nil {
			return err
		}
	}

	req, err := NewRequest(t, rd)
	if err != nil {
		return err
	}

	req.Header.XID = atomic.AddUint32(&r.xid, 1)

	return Send(r.Conn, req)
}

// PendingTableFeatures returns the fragments accumulated so far for a
// table-features multipart request, the XID they were collected
// under, and whether a request is pending at all.
func (r *Remote) PendingTableFeatures() (fragments []ofp.TableFeatures, xid uint32, pending bool) {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()
	return r.pendingFeatures, r.pendingXID, r.pendingActive
}

// SetPendingTableFeatures stores the first fragment of a new
// table-features request under the given XID.
func (r *Remote) SetPendingTableFeatures(xid uint32, fragments []ofp.TableFeatures) {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()

	r.pendingActive = true
	r.pendingXID = xid
	r.pendingFeatures = fragments
}

// AppendPendingTableFeatures merges another fragment into the request
// already pending.
func (r *Remote) AppendPendingTableFeatures(fragments []ofp.TableFeatures) {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()

	r.pendingFeatures = append(r.pendingFeatures, fragments...)
}

// ClearPendingTableFeatures discards the reassembly state, either
// because the request completed or failed.
func (r *Remote) ClearPendingTableFeatures() {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()

	r.pendingActive = false
	r.pendingXID = 0
	r.pendingFeatures = nil
}

// PendingLastSeen reports when the reassembly buffer was last
// appended to, used to age out an abandoned fragmented request.
func (r *Remote) PendingLastSeen() time.Time {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()
	return r.pendingSeen
}

// SetPendingLastSeen records the reassembly buffer's staleness clock.
func (r *Remote) SetPendingLastSeen(t time.Time) {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()
	r.pendingSeen = t
}
