// Command edgeconsumer runs the Edge Consumer: it binds a UDP socket,
// re-sequences incoming Edge Records into the Snapshot Store, and fails
// over to a direct Session Manager connection if the edge heartbeat
// stops arriving.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/tickcore/internal/config"
	"github.com/sawpanic/tickcore/internal/edge"
	"github.com/sawpanic/tickcore/internal/harness"
	"github.com/sawpanic/tickcore/internal/obslog"
	"github.com/sawpanic/tickcore/internal/reorder"
	"github.com/sawpanic/tickcore/internal/session"
	"github.com/sawpanic/tickcore/internal/snapshot"
	"github.com/sawpanic/tickcore/internal/symboltable"
	"github.com/sawpanic/tickcore/internal/telemetry"
	"github.com/sawpanic/tickcore/internal/tick"
)

const version = "v0.1.0"

func main() {
	var cfgPath string
	root := &cobra.Command{
		Use:     "edgeconsumer",
		Short:   "Edge Consumer: UDP tick receiver with direct-connect failover",
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cfgPath)
		},
	}
	root.Flags().StringVar(&cfgPath, "config", "edgeconsumer.yaml", "path to YAML configuration")
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	obslog.Init(cfg.Log.Level, cfg.Log.Format)

	table, err := symboltable.Build(cfg.Symbols)
	if err != nil {
		return fmt.Errorf("symbol table: %w", err)
	}
	store := snapshot.New(table.Len())
	h := harness.New(cfg.Sampling.Rate, cfg.Sampling.SampleCap)

	var reg *telemetry.Registry
	if cfg.Metrics.Enabled {
		reg = telemetry.NewRegistry()
		h.SetTelemetry(reg)
	}

	if pub := symboltable.NewPublisher(cfg.SymbolTableRedisAddr, cfg.SymbolTableRedisKey); pub != nil {
		pub.Publish(context.Background(), table)
	}

	symbolIDs := make([]uint8, table.Len())
	for i := range symbolIDs {
		symbolIDs[i] = uint8(i)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dialer := session.NewDefaultDialer(10 * time.Second)
	fallback := session.New(cfg.Session, cfg.Exchange.WSURL, cfg.Symbols, dialer, jsonSubscribe, table, table, store, h, nil)

	var fallbackMu sync.Mutex
	fallbackStarted := false

	onFailover := func(edgeActive bool) {
		fallbackMu.Lock()
		defer fallbackMu.Unlock()
		if !edgeActive && !fallbackStarted {
			fallbackStarted = true
			go fallback.Run(ctx)
			log.Warn().Msg("edgeconsumer: started fallback direct session")
		}
		if edgeActive && fallbackStarted {
			fallbackStarted = false
			fallback.Stop()
			log.Info().Msg("edgeconsumer: stopped fallback direct session, edge recovered")
		}
	}

	deliver := func(rec edge.Record) {
		if rec.IsHeartbeat() {
			return
		}
		w := store.Writer(tick.SymbolId(rec.SymbolID))
		w.Publish(tick.Tick{
			SymbolID:     tick.SymbolId(rec.SymbolID),
			Bid:          rec.Bid,
			Ask:          rec.Ask,
			BidQty:       rec.BidQty,
			AskQty:       rec.AskQty,
			ExchangeTsNs: rec.ExchangeTsNs,
			UpdateID:     rec.UpdateID,
		})
	}

	consumer, err := edge.NewConsumer(
		cfg.Edge.SourceBind, symbolIDs,
		cfg.Edge.ReorderCapacity, cfg.Edge.ReorderTimeout(),
		cfg.Edge.HeartbeatTimeout(), 2*cfg.Edge.HeartbeatTimeout(),
		deliver, onFailover,
	)
	if err != nil {
		return fmt.Errorf("edge consumer: %w", err)
	}
	defer consumer.Close()

	stop := make(chan struct{})
	go consumer.Run(stop)
	go consumer.RunLiveness(stop)
	if reg != nil {
		go pollReorderCounters(table, consumer, symbolIDs, reg, stop)
	}
	defer close(stop)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	log.Info().Str("bind", cfg.Edge.SourceBind).Msg("edgeconsumer started")
	<-sigCh
	fallbackMu.Lock()
	running := fallbackStarted
	fallbackMu.Unlock()
	if running {
		fallback.Stop()
	}
	return nil
}

// pollReorderCounters exports the per-symbol reorder.Buffer counters as
// Prometheus counter deltas. reorder.Counters is a cumulative snapshot
// (it never decreases), so each tick adds only the increase since the
// previous poll, matching a Prometheus Counter's add-only contract.
func pollReorderCounters(table *symboltable.Table, consumer *edge.Consumer, symbolIDs []uint8, reg *telemetry.Registry, stop <-chan struct{}) {
	last := make(map[uint8]reorder.Counters, len(symbolIDs))
	var lastMalformed uint64
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if cur := consumer.Malformed(); cur > lastMalformed {
				reg.ParseErrors.WithLabelValues("edge_malformed").Add(float64(cur - lastMalformed))
				lastMalformed = cur
			}
			for _, id := range symbolIDs {
				cur := consumer.BufferSnapshot(id)
				prev := last[id]
				name := table.Name(tick.SymbolId(id))
				if d := cur.Gaps - prev.Gaps; d > 0 {
					reg.EdgeGaps.WithLabelValues(name).Add(float64(d))
				}
				if d := cur.Duplicates - prev.Duplicates; d > 0 {
					reg.EdgeDuplicates.WithLabelValues(name).Add(float64(d))
				}
				if d := cur.Missed - prev.Missed; d > 0 {
					reg.ReorderMissed.WithLabelValues(name).Add(float64(d))
				}
				last[id] = cur
			}
		}
	}
}

func jsonSubscribe(ctx context.Context, conn session.Conn, symbols []string) error {
	msg, err := json.Marshal(struct {
		Op      string   `json:"op"`
		Symbols []string `json:"symbols"`
	}{Op: "subscribe", Symbols: symbols})
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, msg)
}
