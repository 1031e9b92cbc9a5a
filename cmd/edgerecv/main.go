// Command edgerecv runs the Edge Receiver: a local Session Manager
// connection to the exchange that normalizes every decoded tick into an
// Edge Record and forwards it over UDP to a remote Edge Consumer.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/tickcore/internal/config"
	"github.com/sawpanic/tickcore/internal/edge"
	"github.com/sawpanic/tickcore/internal/harness"
	"github.com/sawpanic/tickcore/internal/obslog"
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
		Use:     "edgerecv",
		Short:   "Edge Receiver: exchange to UDP tick forwarder",
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cfgPath)
		},
	}
	root.Flags().StringVar(&cfgPath, "config", "edgerecv.yaml", "path to YAML configuration")
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
	if cfg.Metrics.Enabled {
		h.SetTelemetry(telemetry.NewRegistry())
	}

	if pub := symboltable.NewPublisher(cfg.SymbolTableRedisAddr, cfg.SymbolTableRedisKey); pub != nil {
		pub.Publish(context.Background(), table)
	}

	receiver, err := edge.NewReceiver(cfg.Edge.DestinationHostPort, cfg.Edge.HeartbeatInterval())
	if err != nil {
		return fmt.Errorf("edge receiver: %w", err)
	}
	defer receiver.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hbStop := make(chan struct{})
	go receiver.RunHeartbeat(hbStop)
	defer close(hbStop)

	dialer := session.NewDefaultDialer(10 * time.Second)
	sess := session.New(cfg.Session, cfg.Exchange.WSURL, cfg.Symbols, dialer, jsonSubscribe, table, table, store, h, nil)

	// Tap the Snapshot Store: a lightweight poller checks every symbol at a
	// high fixed cadence (1ms) and forwards its latest tick to the Edge
	// Receiver whenever the update_id has changed since the last poll.
	// This keeps the forwarder decoupled from the Session Manager's
	// internals, matching the single-writer / many-reader discipline the
	// Snapshot Store already enforces.
	pollStop := make(chan struct{})
	go pollAndForward(table, store, receiver, pollStop)
	defer close(pollStop)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		sess.Run(ctx)
		close(done)
	}()

	log.Info().Str("destination", cfg.Edge.DestinationHostPort).Msg("edgerecv started")

	select {
	case <-sigCh:
		sess.Stop()
	case <-done:
	}
	return nil
}

func pollAndForward(table *symboltable.Table, store *snapshot.Store, receiver *edge.Receiver, stop <-chan struct{}) {
	lastSeen := make(map[tick.SymbolId]uint64, table.Len())
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			for i := 0; i < table.Len(); i++ {
				id := tick.SymbolId(i)
				r := store.Reader(id)
				t, ok := r.Read(snapshot.AcceptAfterTwoRetries)
				if !ok || t.UpdateID == lastSeen[id] {
					continue
				}
				lastSeen[id] = t.UpdateID
				receiver.Emit(t)
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
