package main

import (
	"sync"

	"golang.org/x/time/rate"

	"github.com/ofgrid/datapath/ofp"
	"github.com/ofgrid/datapath/pipeline"
)

// meterTable is the METER instruction's collaborator (spec.md section
// 4.2 METER): each configured meter is backed by a token-bucket rate
// limiter, consulted once per packet before Apply-Actions runs. Rate
// is read in packets per second regardless of the MeterFlagPacketPerSec/
// MeterFlagKBitPerSec flag pair a real MeterMod carries, a simplification noted
// in the design ledger.
type meterTable struct {
	mu       sync.Mutex
	limiters map[ofp.Meter]*rate.Limiter
}

func newMeterTable() *meterTable {
	return &meterTable{limiters: make(map[ofp.Meter]*rate.Limiter)}
}

// Apply implements pipeline.MeterTable. An unconfigured meter lets
// every packet through.
func (m *meterTable) Apply(meter ofp.Meter, pkt *pipeline.Packet) bool {
	m.mu.Lock()
	limiter, ok := m.limiters[meter]
	m.mu.Unlock()

	if !ok {
		return true
	}

	return limiter.Allow()
}

// ApplyMeterMod installs, updates or removes a meter's drop-band rate
// limiter (of.TypeMeterMod).
func (m *meterTable) ApplyMeterMod(mod *ofp.MeterMod) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch mod.Command {
	case ofp.MeterDelete:
		delete(m.limiters, mod.Meter)
		return nil
	case ofp.MeterAdd, ofp.MeterModify:
	default:
		return &ofp.Error{Type: ofp.ErrTypeMeterModFailed, Code: ofp.ErrCodeMeterModFailedBadCommand}
	}

	var band *ofp.MeterBandDrop
	for _, b := range mod.Bands {
		if drop, ok := b.(*ofp.MeterBandDrop); ok {
			band = drop
			break
		}
	}
	if band == nil || band.Rate == 0 {
		delete(m.limiters, mod.Meter)
		return nil
	}

	burst := int(band.BurstSize)
	if burst <= 0 {
		burst = int(band.Rate)
	}

	m.limiters[mod.Meter] = rate.NewLimiter(rate.Limit(band.Rate), burst)
	return nil
}
