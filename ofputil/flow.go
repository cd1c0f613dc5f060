package ofputil

import (
	"bytes"
	"io"

	"github.com/ofgrid/datapath"
	"github.com/ofgrid/datapath/ofp"
)

// bodyOf serializes the given message body up front, so it can be
// passed as the io.Reader that of.NewRequest expects.
func bodyOf(w io.WriterTo) io.Reader {
	var buf bytes.Buffer
	w.WriteTo(&buf)
	return &buf
}

// TableFlush returns a flow modification request that removes all
// flow entries from the given table.
func TableFlush(table ofp.Table) *of.Request {
	r, _ := of.NewRequest(of.TypeFlowMod, bodyOf(&ofp.FlowMod{
		Table:    table,
		Command:  ofp.FlowDelete,
		Buffer:   ofp.NoBuffer,
		OutPort:  ofp.PortAny,
		OutGroup: ofp.GroupAny,
		Match:    ofp.Match{Type: ofp.MatchTypeXM},
	}))

	return r
}

// FlowFlush returns a flow modification request that removes the flow
// entries of the given table matching the specified fields.
func FlowFlush(table ofp.Table, match ofp.Match) *of.Request {
	r, _ := of.NewRequest(of.TypeFlowMod, bodyOf(&ofp.FlowMod{
		Table:    table,
		Command:  ofp.FlowDelete,
		Buffer:   ofp.NoBuffer,
		OutPort:  ofp.PortAny,
		OutGroup: ofp.GroupAny,
		Match:    match,
	}))

	return r
}

// FlowDrop returns a flow modification request that installs a
// catch-all entry with an empty instruction set, used to silently
// drop every packet that reaches the given table.
func FlowDrop(table ofp.Table) *of.Request {
	r, _ := of.NewRequest(of.TypeFlowMod, bodyOf(&ofp.FlowMod{
		Table:   table,
		Command: ofp.FlowAdd,
		Buffer:  ofp.NoBuffer,
		Match:   ofp.Match{Type: ofp.MatchTypeXM},
	}))

	return r
}
