// Command ofswitchd runs a software OpenFlow 1.3 datapath switch: a
// multi-table packet processing pipeline reachable over the OpenFlow
// wire protocol, with Prometheus metrics and YAML-driven configuration.
package main

import (
	"context"
	"flag"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	of "github.com/ofgrid/datapath"
	"github.com/ofgrid/datapath/internal/config"
	"github.com/ofgrid/datapath/internal/metrics"
	"github.com/ofgrid/datapath/internal/rl"
	"github.com/ofgrid/datapath/ofp"
	"github.com/ofgrid/datapath/pipeline"
	"github.com/ofgrid/datapath/pipeline/memtable"
	"golang.org/x/time/rate"
)

// timeoutInterval is how often the pipeline's aging/eviction tick
// runs (spec.md section 5).
const timeoutInterval = time.Second

func main() {
	configPath := flag.String("config", "", "path to the ofswitchd YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.Fatalf("ofswitchd: %v", err)
	}

	logger := newLogger(cfg.Log)
	rl.SetLogger(logger)
	rl.SetLimit(rate.Limit(cfg.Log.RateLimitPerSecond), cfg.Log.RateLimitBurst)

	tables := buildTables(cfg.Switch)

	senders := newSenderRegistry()
	dp := newSwitchDatapath(pipeline.Config{
		InvalidTTLToController: cfg.Switch.InvalidTTLToController,
		MissSendLength:         cfg.Switch.MissSendLength,
	}, senders)

	p := pipeline.NewPipeline(dp, tables)
	defer p.Destroy()

	mux := of.NewServeMux()
	newDispatcher(p, senders, dp.meters).Register(mux)

	srv := &of.Server{
		Addr:    cfg.Listen.Addr,
		Handler: mux,
		ConnState: func(c of.Conn, state of.ConnState) {
			switch state {
			case of.StateNew:
				senders.Attach(c)
				metrics.ConnectedControllers.Inc()
			case of.StateClosed:
				senders.Detach(c)
				metrics.ConnectedControllers.Dec()
			}
		},
	}

	stop := make(chan struct{})
	go runTimeoutLoop(p, tables, stop)

	var metricsSrv *metrics.Server
	if cfg.Metrics.Enabled {
		metricsSrv = metrics.NewServer(cfg.Metrics.Addr, cfg.Metrics.Path, logger)
		metricsSrv.Start()
		logger.Infof("ofswitchd: metrics listening on %s%s", cfg.Metrics.Addr, cfg.Metrics.Path)
	}

	ln, err := net.Listen(cfg.Listen.Network, cfg.Listen.Addr)
	if err != nil {
		logger.Fatalf("ofswitchd: listen: %v", err)
	}

	go func() {
		logger.Infof("ofswitchd: serving OpenFlow on %s", cfg.Listen.Addr)
		if err := srv.Serve(ln); err != nil {
			logger.Errorf("ofswitchd: serve: %v", err)
		}
	}()

	waitForShutdown(logger)

	close(stop)
	ln.Close()

	if metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsSrv.Stop(ctx); err != nil {
			logger.Warnf("ofswitchd: metrics shutdown: %v", err)
		}
	}
}

// buildTables constructs the pipeline's fixed table vector, one
// memtable per configured table id (spec.md section 3 "Lifecycle").
func buildTables(cfg config.SwitchConfig) []pipeline.Table {
	tables := make([]pipeline.Table, cfg.TableCount)
	for i := range tables {
		tables[i] = memtable.New(ofp.Table(i), cfg.MaxEntriesPerTable)
	}
	return tables
}

// runTimeoutLoop drives Pipeline.Timeout on a fixed interval and keeps
// the table occupancy metrics current. It exits when stop is closed.
func runTimeoutLoop(p *pipeline.Pipeline, tables []pipeline.Table, stop <-chan struct{}) {
	ticker := time.NewTicker(timeoutInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.Timeout()
			reportOccupancy(tables)
		case <-stop:
			return
		}
	}
}

func reportOccupancy(tables []pipeline.Table) {
	for _, t := range tables {
		stats := t.TableStats()

		vacancy := uint8(100)
		features := t.Features()
		if features.MaxEntries > 0 {
			free := uint64(features.MaxEntries) - uint64(stats.ActiveCount)
			vacancy = uint8(free * 100 / uint64(features.MaxEntries))
		}

		metrics.RecordTableOccupancy(tableLabel(stats.Table), stats.ActiveCount, vacancy)
	}
}

func tableLabel(id ofp.Table) string {
	return id.String()
}

func newLogger(cfg config.LogConfig) *logrus.Logger {
	logger := logrus.New()

	if level, err := logrus.ParseLevel(cfg.Level); err == nil {
		logger.SetLevel(level)
	}

	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	return logger
}

func waitForShutdown(logger *logrus.Logger) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	logger.Info("ofswitchd: shutting down")
}
