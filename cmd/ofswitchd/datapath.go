package main

import (
	"github.com/ofgrid/datapath/pipeline"
)

// switchDatapath is the concrete pipeline.Datapath a running
// ofswitchd binds its Pipeline to (spec.md section 3 "Datapath").
type switchDatapath struct {
	config  pipeline.Config
	buffers *bufferPool
	meters  *meterTable
	actions *actionExecutor
	senders *senderRegistry
}

func newSwitchDatapath(cfg pipeline.Config, senders *senderRegistry) *switchDatapath {
	dp := &switchDatapath{
		config:  cfg,
		buffers: newBufferPool(),
		meters:  newMeterTable(),
		senders: senders,
	}
	dp.actions = newActionExecutor(senders.Senders, nil)
	return dp
}

func (dp *switchDatapath) Config() pipeline.Config         { return dp.config }
func (dp *switchDatapath) Buffers() pipeline.BufferPool    { return dp.buffers }
func (dp *switchDatapath) Meters() pipeline.MeterTable     { return dp.meters }
func (dp *switchDatapath) Actions() pipeline.ActionExecutor { return dp.actions }
func (dp *switchDatapath) Senders() []pipeline.Sender      { return dp.senders.Senders() }
