// Command tickcore runs the single-tier ingestion core: a direct
// Session Manager connection to the exchange, decoding into the
// Snapshot Store and recording latency into the Harness.
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

	"github.com/sawpanic/tickcore/internal/clock"
	"github.com/sawpanic/tickcore/internal/config"
	"github.com/sawpanic/tickcore/internal/harness"
	"github.com/sawpanic/tickcore/internal/obslog"
	"github.com/sawpanic/tickcore/internal/restclient"
	"github.com/sawpanic/tickcore/internal/session"
	"github.com/sawpanic/tickcore/internal/snapshot"
	"github.com/sawpanic/tickcore/internal/symboltable"
	"github.com/sawpanic/tickcore/internal/telemetry"
)

const version = "v0.1.0"

func main() {
	var cfgPath string

	root := &cobra.Command{
		Use:     "tickcore",
		Short:   "Direct-connect market data ingestion core",
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cfgPath)
		},
	}
	root.Flags().StringVar(&cfgPath, "config", "tickcore.yaml", "path to YAML configuration")

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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if pub := symboltable.NewPublisher(cfg.SymbolTableRedisAddr, cfg.SymbolTableRedisKey); pub != nil {
		pub.Publish(ctx, table)
	}

	var clockMon *clock.Monitor
	if cfg.Exchange.RESTBaseURL != "" {
		rc := restclient.New(cfg.Exchange.RESTBaseURL, cfg.Exchange.RESTRequestsPerSecond, cfg.Exchange.RESTBurst)
		clockMon = clock.NewMonitor(nil, func(ctx context.Context) (int64, error) {
			serverNs, err := rc.ServerTime(ctx, "/time")
			if err != nil {
				return 0, err
			}
			return serverNs - int64(clock.WallNow()), nil
		})
		clockMon.Start(ctx)
		defer clockMon.Stop()
	}

	var reg *telemetry.Registry
	if cfg.Metrics.Enabled {
		reg = telemetry.NewRegistry()
		h.SetTelemetry(reg)
		// reg.Gatherer() is ready for an embedding HTTP server to serve;
		// this binary does not run one itself (see Non-goals).
	}

	dialer := session.NewDefaultDialer(10 * time.Second)
	sess := session.New(cfg.Session, cfg.Exchange.WSURL, cfg.Symbols, dialer, jsonSubscribe, table, table, store, h, clockMon)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	flushTicker := time.NewTicker(30 * time.Second)
	defer flushTicker.Stop()

	done := make(chan struct{})
	go func() {
		sess.Run(ctx)
		close(done)
	}()

	log.Info().Str("ws_url", cfg.Exchange.WSURL).Int("symbols", table.Len()).Msg("tickcore started")

	for {
		select {
		case <-sigCh:
			log.Info().Msg("shutdown signal received")
			sess.Stop()
			flushCSV(h, cfg)
			return nil
		case <-flushTicker.C:
			flushCSV(h, cfg)
		case <-done:
			return nil
		}
	}
}

func flushCSV(h *harness.Harness, cfg *config.Config) {
	if err := h.ExportMessagesCSV(cfg.Sampling.CSVDir + "/messages.csv"); err != nil {
		log.Warn().Err(err).Msg("csv export failed")
	}
	if err := h.ExportConnectionsCSV(cfg.Sampling.CSVDir + "/connections.csv"); err != nil {
		log.Warn().Err(err).Msg("csv export failed")
	}
}

// jsonSubscribe sends a single JSON subscribe frame naming every symbol.
// The exchange's exact subscribe-ACK shape is configuration-dependent
// (see DESIGN.md's Open Question resolution); this default assumes no
// ACK is required, matching the specification's "or immediately if no
// ACK is defined" transition rule.
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
