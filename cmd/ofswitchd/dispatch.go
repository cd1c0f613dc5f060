package main

import (
	"io"
	"time"

	of "github.com/ofgrid/datapath"
	"github.com/ofgrid/datapath/internal/metrics"
	"github.com/ofgrid/datapath/internal/rl"
	"github.com/ofgrid/datapath/ofp"
	"github.com/ofgrid/datapath/pipeline"
)

// switchIdentity answers MultipartTypeDescription requests; it carries
// no pipeline state, so it is served directly rather than through the
// Pipeline type.
var switchIdentity = ofp.Description{
	Manufacturer: "ofgrid",
	Hardware:     "ofswitchd/software-datapath",
	Software:     "ofswitchd",
	Datapath:     "ofgrid virtual datapath",
}

// dispatcher wires a Pipeline and a senderRegistry into a set of
// of.ServeMux handlers, one per message type the datapath accepts from
// a controller (spec.md section 4.3-4.6).
type dispatcher struct {
	pipeline *pipeline.Pipeline
	senders  *senderRegistry
	meters   *meterTable
}

func newDispatcher(p *pipeline.Pipeline, senders *senderRegistry, meters *meterTable) *dispatcher {
	return &dispatcher{pipeline: p, senders: senders, meters: meters}
}

// Register installs every handler on mux.
func (d *dispatcher) Register(mux *of.ServeMux) {
	mux.HandleFunc(of.TypeHello, d.handleHello)
	mux.HandleFunc(of.TypeEchoRequest, d.handleEchoRequest)
	mux.HandleFunc(of.TypeFlowMod, d.handleFlowMod)
	mux.HandleFunc(of.TypeTableMod, d.handleTableMod)
	mux.HandleFunc(of.TypeMeterMod, d.handleMeterMod)
	mux.HandleFunc(of.TypeRoleRequest, d.handleRoleRequest)
	mux.HandleFunc(of.TypeMultipartRequest, d.handleMultipartRequest)
}

// remoteFor resolves the Remote backing r's originating connection.
func (d *dispatcher) remoteFor(r *of.Request) (*of.Remote, bool) {
	if r.Addr == nil {
		return nil, false
	}
	return d.senders.Lookup(r.Addr.String())
}

func (d *dispatcher) handleHello(rw of.ResponseWriter, r *of.Request) {}

func (d *dispatcher) handleEchoRequest(rw of.ResponseWriter, r *of.Request) {
	remote, ok := d.remoteFor(r)
	if !ok {
		return
	}

	if err := remote.Send(of.TypeEchoReply, &ofp.EchoReply{}); err != nil {
		rl.Warnf("dispatch: echo reply failed: %v", err)
	}
}

func (d *dispatcher) handleFlowMod(rw of.ResponseWriter, r *of.Request) {
	remote, ok := d.remoteFor(r)
	if !ok {
		return
	}

	var msg ofp.FlowMod
	if _, err := msg.ReadFrom(r.Body); err != nil {
		d.sendError(remote, badRequestParse())
		return
	}

	outcome := "ok"
	if err := d.pipeline.HandleFlowMod(&msg, remote); err != nil {
		outcome = "error"
		d.sendError(remote, err)
	}

	metrics.RecordFlowMod(flowModCommandName(msg.Command), outcome)
}

func (d *dispatcher) handleTableMod(rw of.ResponseWriter, r *of.Request) {
	remote, ok := d.remoteFor(r)
	if !ok {
		return
	}

	var msg ofp.TableMod
	if _, err := msg.ReadFrom(r.Body); err != nil {
		d.sendError(remote, badRequestParse())
		return
	}

	if err := d.pipeline.HandleTableMod(&msg); err != nil {
		d.sendError(remote, err)
	}
}

func (d *dispatcher) handleMeterMod(rw of.ResponseWriter, r *of.Request) {
	remote, ok := d.remoteFor(r)
	if !ok {
		return
	}

	var msg ofp.MeterMod
	if _, err := msg.ReadFrom(r.Body); err != nil {
		d.sendError(remote, badRequestParse())
		return
	}

	if err := d.meters.ApplyMeterMod(&msg); err != nil {
		d.sendError(remote, err)
	}
}

func (d *dispatcher) handleRoleRequest(rw of.ResponseWriter, r *of.Request) {
	remote, ok := d.remoteFor(r)
	if !ok {
		return
	}

	var rr ofp.RoleRequest
	if _, err := rr.ReadFrom(r.Body); err != nil {
		d.sendError(remote, badRequestParse())
		return
	}

	if rr.Role != ofp.ControllerRoleNoChange {
		remote.SetRole(rr.Role)
	}
	rr.Role = remote.Role()

	if err := remote.Send(of.TypeRoleReply, &rr); err != nil {
		rl.Warnf("dispatch: role reply failed: %v", err)
	}
}

func (d *dispatcher) handleMultipartRequest(rw of.ResponseWriter, r *of.Request) {
	remote, ok := d.remoteFor(r)
	if !ok {
		return
	}

	var req ofp.MultipartRequest
	if _, err := req.ReadFrom(r.Body); err != nil {
		d.sendError(remote, badRequestParse())
		return
	}

	start := time.Now()
	defer func() {
		metrics.RecordMultipartRequest(req.Type.String(), time.Since(start))
	}()

	var err error

	switch req.Type {
	case ofp.MultipartTypeDescription:
		err = remote.Send(of.TypeMultipartReply, &descriptionReply{})

	case ofp.MultipartTypeFlow:
		var freq ofp.FlowStatsRequest
		if _, rerr := freq.ReadFrom(req.Body); rerr != nil {
			err = badRequestParse()
			break
		}
		err = d.pipeline.HandleStatsRequestFlow(&freq, remote)

	case ofp.MultipartTypeAggregate:
		var areq ofp.AggregateStatsRequest
		if _, rerr := areq.ReadFrom(req.Body); rerr != nil {
			err = badRequestParse()
			break
		}
		err = d.pipeline.HandleStatsRequestAggregate(&areq, remote)

	case ofp.MultipartTypeTable:
		err = d.pipeline.HandleStatsRequestTable(remote)

	case ofp.MultipartTypeTableDesc:
		err = d.pipeline.HandleStatsRequestTableDesc(remote)

	case ofp.MultipartTypeTableFeatures:
		err = d.pipeline.HandleStatsRequestTableFeatures(r.Header.XID, &req, remote)

	default:
		rl.Debugf("dispatch: unsupported multipart type %s ignored", req.Type)
		return
	}

	if err != nil {
		d.sendError(remote, err)
	}
}

// descriptionReply composes the MultipartReply envelope with the
// static switch description body.
type descriptionReply struct{}

func (descriptionReply) WriteTo(w io.Writer) (int64, error) {
	envelope := &ofp.MultipartReply{Type: ofp.MultipartTypeDescription}

	n, err := envelope.WriteTo(w)
	if err != nil {
		return n, err
	}

	nn, err := switchIdentity.WriteTo(w)
	return n + nn, err
}

func (d *dispatcher) sendError(remote *of.Remote, err error) {
	ofErr, ok := err.(*ofp.Error)
	if !ok {
		ofErr = &ofp.Error{Type: ofp.ErrTypeBadRequest, Code: ofp.ErrCodeBadRequestBadType}
	}

	if sendErr := remote.Send(of.TypeError, ofErr); sendErr != nil {
		rl.Warnf("dispatch: failed to send error reply: %v", sendErr)
	}
}

func badRequestParse() *ofp.Error {
	return &ofp.Error{Type: ofp.ErrTypeBadRequest, Code: ofp.ErrCodeBadRequestLen}
}

func flowModCommandName(cmd ofp.FlowModCommand) string {
	switch cmd {
	case ofp.FlowAdd:
		return "add"
	case ofp.FlowModify:
		return "modify"
	case ofp.FlowModifyStrict:
		return "modify_strict"
	case ofp.FlowDelete:
		return "delete"
	case ofp.FlowDeleteStrict:
		return "delete_strict"
	default:
		return "unknown"
	}
}
