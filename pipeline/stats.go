package pipeline

import (
	"io"
	"time"

	of "github.com/ofgrid/datapath"
	"github.com/ofgrid/datapath/internal/encoding"
	"github.com/ofgrid/datapath/ofp"
)

// tableFeaturesChunk and tableDescChunk are the per-reply-message table
// counts of spec.md section 4.6 "Reply emission".
const (
	tableFeaturesChunk = 8
	tableDescChunk     = 16
)

// multipartReply composes a MultipartReply envelope with an ordered set
// of body elements into a single wire message, the piece the generic
// ofp.MultipartReply type leaves to its caller (spec.md section 4.6).
type multipartReply struct {
	typ   ofp.MultipartType
	flags ofp.MultipartReplyFlag
	body  []io.WriterTo
}

func (m *multipartReply) WriteTo(w io.Writer) (int64, error) {
	envelope := &ofp.MultipartReply{Type: m.typ, Flags: m.flags}

	n, err := envelope.WriteTo(w)
	if err != nil {
		return n, err
	}

	for _, elem := range m.body {
		nn, err := elem.WriteTo(w)
		n += nn
		if err != nil {
			return n, err
		}
	}

	return n, nil
}

func sendMultipart(sender Sender, typ ofp.MultipartType, flags ofp.MultipartReplyFlag, body []io.WriterTo) error {
	return sender.Send(of.TypeMultipartReply, &multipartReply{typ, flags, body})
}

// HandleStatsRequestFlow answers a MultipartTypeFlow request by
// gathering matching flow statistics from one table, or all of them
// when req.Table is ofp.TableAll (spec.md section 4.6).
func (p *Pipeline) HandleStatsRequestFlow(req *ofp.FlowStatsRequest, sender Sender) error {
	var stats []ofp.FlowStats

	if req.Table == ofp.TableAll {
		for _, t := range p.tables {
			stats = append(stats, t.Stats(req)...)
		}
	} else {
		table := p.tableByID(req.Table)
		if table == nil {
			return flowModFailed(ofp.ErrCodeFlowModFailedBadTableID)
		}
		stats = table.Stats(req)
	}

	body := make([]io.WriterTo, len(stats))
	for i := range stats {
		body[i] = &stats[i]
	}

	return sendMultipart(sender, ofp.MultipartTypeFlow, 0, body)
}

// HandleStatsRequestAggregate answers a MultipartTypeAggregate request
// by accumulating packet/byte/flow counts across one table, or all of
// them when req.Table is ofp.TableAll (spec.md section 4.6).
func (p *Pipeline) HandleStatsRequestAggregate(req *ofp.AggregateStatsRequest, sender Sender) error {
	var total ofp.AggregateStats

	accumulate := func(t Table) {
		s := t.AggregateStats(req)
		total.PacketCount += s.PacketCount
		total.ByteCount += s.ByteCount
		total.FlowCount += s.FlowCount
	}

	if req.Table == ofp.TableAll {
		for _, t := range p.tables {
			accumulate(t)
		}
	} else {
		table := p.tableByID(req.Table)
		if table == nil {
			return flowModFailed(ofp.ErrCodeFlowModFailedBadTableID)
		}
		accumulate(table)
	}

	return sendMultipart(sender, ofp.MultipartTypeAggregate, 0, []io.WriterTo{&total})
}

// HandleStatsRequestTable answers a MultipartTypeTable request with the
// statistics of every table in a single reply (spec.md section 4.6).
func (p *Pipeline) HandleStatsRequestTable(sender Sender) error {
	body := make([]io.WriterTo, len(p.tables))
	for i, t := range p.tables {
		stats := t.TableStats()
		body[i] = &stats
	}

	return sendMultipart(sender, ofp.MultipartTypeTable, 0, body)
}

// HandleStatsRequestTableDesc answers a MultipartTypeTableDesc request,
// chunked tableDescChunk tables per reply message. A table's vacancy is
// only recomputed at emit time when TableConfigVacancyEvents is set in
// its config, matching pipeline_handle_stats_request_table_desc_request
// in the reference switch, which leaves the property untouched
// otherwise (spec.md section 4.6).
func (p *Pipeline) HandleStatsRequestTableDesc(sender Sender) error {
	descs := make([]ofp.TableDesc, len(p.tables))
	for i, t := range p.tables {
		desc := t.Desc()
		if desc.Config&ofp.TableConfigVacancyEvents != 0 {
			if v, ok := findVacancy(desc); ok {
				recomputeVacancy(t, v)
			}
		}
		descs[i] = desc
	}

	for start := 0; start < len(descs); start += tableDescChunk {
		end := start + tableDescChunk
		if end > len(descs) {
			end = len(descs)
		}

		flags := ofp.MultipartReplyFlag(0)
		if end < len(descs) {
			flags = ofp.MultipartReplyMode
		}

		chunk := descs[start:end]
		body := make([]io.WriterTo, len(chunk))
		for i := range chunk {
			body[i] = &chunk[i]
		}

		if err := sendMultipart(sender, ofp.MultipartTypeTableDesc, flags, body); err != nil {
			return err
		}
	}

	return nil
}

// findVacancy returns desc's TablePropVacancy property, if any.
func findVacancy(desc ofp.TableDesc) (*ofp.TablePropVacancy, bool) {
	for _, prop := range desc.Properties {
		if v, ok := prop.(*ofp.TablePropVacancy); ok {
			return v, true
		}
	}
	return nil, false
}

// HandleStatsRequestTableFeatures answers a MultipartTypeTableFeatures
// request (spec.md section 4.6). Requests may arrive fragmented across
// several messages sharing one XID; fragments are accumulated on
// sender until the final one (MultipartRequestMode clear) arrives. A
// non-empty reassembled body is applied to the matching tables before
// the current feature set is replied back, chunked tableFeaturesChunk
// tables per reply message.
func (p *Pipeline) HandleStatsRequestTableFeatures(xid uint32, req *ofp.MultipartRequest, sender Sender) error {
	fragment, err := readTableFeatures(req.Body)
	if err != nil {
		return badRequest(ofp.ErrCodeBadRequestLen)
	}

	more := req.Flags&ofp.MultipartRequestMode != 0

	_, pendingXID, pending := sender.PendingTableFeatures()
	if pending && pendingXID != xid {
		sender.ClearPendingTableFeatures()
		return badRequest(ofp.ErrCodeBadRequestMultipartBufferOverflow)
	}

	if !pending {
		sender.SetPendingTableFeatures(xid, fragment)
	} else {
		sender.AppendPendingTableFeatures(fragment)
	}
	sender.SetPendingLastSeen(time.Now())

	if more {
		return nil
	}

	complete, _, _ := sender.PendingTableFeatures()
	sender.ClearPendingTableFeatures()

	if len(complete) > 0 {
		if err := applyTableFeatures(p, complete); err != nil {
			return err
		}
	}

	return p.replyTableFeatures(sender)
}

// applyTableFeatures overwrites each targeted table's live feature
// descriptor with the controller-supplied view. Each ofp.TableFeatures
// value is deep-copied by value onto the table, per the borrowed
// ownership model spec.md section 9 ratifies for this message.
func applyTableFeatures(p *Pipeline, features []ofp.TableFeatures) error {
	for i := range features {
		table := p.tableByID(features[i].Table)
		if table == nil {
			return &ofp.Error{
				Type: ofp.ErrTypeTableFeaturesFailed,
				Code: ofp.ErrCodeTableFeaturesFailedBadArgument,
			}
		}

		table.SetFeatures(features[i])
	}

	return nil
}

// replyTableFeatures emits every table's current feature descriptor,
// chunked tableFeaturesChunk tables per reply message.
func (p *Pipeline) replyTableFeatures(sender Sender) error {
	features := make([]ofp.TableFeatures, len(p.tables))
	for i, t := range p.tables {
		features[i] = t.Features()
	}

	for start := 0; start < len(features); start += tableFeaturesChunk {
		end := start + tableFeaturesChunk
		if end > len(features) {
			end = len(features)
		}

		flags := ofp.MultipartReplyFlag(0)
		if end < len(features) {
			flags = ofp.MultipartReplyMode
		}

		chunk := features[start:end]
		body := make([]io.WriterTo, len(chunk))
		for i := range chunk {
			body[i] = &chunk[i]
		}

		if err := sendMultipart(sender, ofp.MultipartTypeTableFeatures, flags, body); err != nil {
			return err
		}
	}

	return nil
}

// readTableFeatures decodes the repeated ofp.TableFeatures list a
// table-features request/fragment body carries (spec.md section 4.6).
// A nil or exhausted body yields an empty result and a nil error: an
// empty body is the "query current configuration" form of the request.
func readTableFeatures(r io.Reader) ([]ofp.TableFeatures, error) {
	if r == nil {
		return nil, nil
	}

	var features []ofp.TableFeatures

	maker := encoding.ReaderMakerOf(ofp.TableFeatures{})
	_, err := encoding.ReadFunc(r, maker, func(rd io.ReaderFrom) {
		features = append(features, *rd.(*ofp.TableFeatures))
	})

	return features, err
}
