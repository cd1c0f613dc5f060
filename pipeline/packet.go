// Package pipeline implements the multi-table packet processing engine
// of an OpenFlow 1.3 software datapath: the per-packet traversal loop,
// the instruction executor, the flow-mod/table-mod/multipart protocol
// handlers, and the table vacancy model. The flow-table entry matcher
// and eviction policy are external collaborators, consumed through the
// Table and Entry interfaces; a concrete in-memory implementation
// lives in pipeline/memtable.
package pipeline

import (
	"github.com/ofgrid/datapath/ofp"
)

// Packet is the packet context threaded through the pipeline driver.
// It is exclusively owned by whichever component currently holds it:
// ownership transfers to a meter, an action, the buffer pool, or the
// controller send path, any of which may consume it by calling Drop.
// Once dropped, the driver halts processing instead of continuing to
// operate on a packet no component owns any longer.
type Packet struct {
	// Buffer holds the raw packet bytes.
	Buffer []byte

	// BufferID identifies a packet already saved to the buffer pool.
	// It is ofp.NoBuffer when the packet still carries its full
	// payload.
	BufferID uint32

	// InPort is the ingress port the packet arrived on.
	InPort ofp.PortNo

	// Match is the parsed match field set the tables look up against,
	// and the field set WRITE-METADATA mutates in place.
	Match ofp.Match

	// ActionSet is the deferred write-actions accumulator.
	ActionSet *ActionSet

	// TableID is the table currently processing the packet.
	TableID ofp.Table

	// TableMiss is set by the driver after a lookup resolves to the
	// table-miss entry.
	TableMiss bool

	// TTLValid reports whether the parsed headers carry a valid TTL.
	// The driver gates on this before any table lookup is performed.
	TTLValid bool

	dropped bool
}

// NewPacket returns a packet ready to enter the pipeline: a fresh,
// empty action set and a valid TTL.
func NewPacket(buffer []byte, inPort ofp.PortNo, match ofp.Match) *Packet {
	return &Packet{
		Buffer:    buffer,
		BufferID:  ofp.NoBuffer,
		InPort:    inPort,
		Match:     match,
		ActionSet: NewActionSet(),
		TTLValid:  true,
	}
}

// Drop marks the packet consumed. After Drop, Live reports false.
func (p *Packet) Drop() {
	p.dropped = true
}

// Live reports whether the packet is still owned by whichever
// component last observed it.
func (p *Packet) Live() bool {
	return p != nil && !p.dropped
}

// matchLength returns the byte length of m excluding trailing padding
// (the match header plus its fields), the quantity spec.md calls
// match.length: the table-miss entry invariant keys off it.
func matchLength(m ofp.Match) int {
	var counter countingWriter
	for _, xm := range m.Fields {
		xm.WriteTo(&counter)
	}
	return int(counter.n) + 4
}

// countingWriter discards bytes while counting them, used to measure
// wire-format lengths without allocating a buffer.
type countingWriter struct{ n int64 }

func (c *countingWriter) Write(b []byte) (int, error) {
	c.n += int64(len(b))
	return len(b), nil
}
