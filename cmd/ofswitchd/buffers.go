package main

import (
	"sync"
	"sync/atomic"

	"github.com/ofgrid/datapath/ofp"
	"github.com/ofgrid/datapath/pipeline"
)

// bufferPool is the packet buffer pool collaborator of
// pipeline.Datapath: packets that are punted to a controller but not
// fully copied out are kept here, addressable by the buffer id carried
// in a later flow-mod's Buffer field (spec.md section 4.3 step 7,
// section 4.7).
type bufferPool struct {
	mu   sync.Mutex
	next uint32
	pkts map[uint32]*pipeline.Packet
}

func newBufferPool() *bufferPool {
	return &bufferPool{pkts: make(map[uint32]*pipeline.Packet)}
}

// Save stores pkt and returns a fresh buffer id plus its payload size.
func (b *bufferPool) Save(data []byte) (id uint32, size int) {
	cp := make([]byte, len(data))
	copy(cp, data)

	b.mu.Lock()
	defer b.mu.Unlock()

	id = atomic.AddUint32(&b.next, 1)
	b.pkts[id] = pipeline.NewPacket(cp, 0, ofp.Match{})
	return id, len(cp)
}

// Retrieve returns and forgets the packet saved under id.
func (b *bufferPool) Retrieve(id uint32) (*pipeline.Packet, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	pkt, ok := b.pkts[id]
	if ok {
		delete(b.pkts, id)
	}
	return pkt, ok
}
