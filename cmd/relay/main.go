// Command relay connects to the live upstream engine (positions and
// gate-metrics TCP endpoints) and serves the websocket/REST control
// surface: flag parsing, os/signal with a second-signal force-exit, and
// periodic snapshot logging.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"sailrelay/internal/config"
	"sailrelay/internal/relay"
	"sailrelay/internal/telemetry/logging"
	"sailrelay/internal/upstream"
)

func main() {
	var (
		configPath    string
		showVersion   bool
		snapshotEvery time.Duration
	)
	flag.StringVar(&configPath, "config", "", "Optional YAML config file")
	flag.BoolVar(&showVersion, "version", false, "Show version and exit")
	flag.DurationVar(&snapshotEvery, "snapshot-interval", 30*time.Second, "Interval between health snapshot logs (0=disabled)")
	flag.Parse()

	if showVersion {
		fmt.Println("sailrelay relay")
		return
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := logging.New(slog.LevelInfo)

	posSource, err := upstream.NewTCPPositionSource(cfg.Upstream.PositionEndpoint)
	if err != nil {
		log.Fatalf("position source: %v", err)
	}
	gateSource, err := upstream.NewTCPGateSource(cfg.Upstream.GateEndpoint)
	if err != nil {
		log.Fatalf("gate source: %v", err)
	}

	rl, err := relay.New(*cfg, posSource, gateSource, logger)
	if err != nil {
		log.Fatalf("create relay: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		log.Println("signal received; initiating graceful shutdown...")
		cancel()
		<-sigCh
		log.Println("second signal received; forcing exit")
		os.Exit(1)
	}()

	rl.Start(ctx)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpSrv := &http.Server{Addr: addr, Handler: rl.Server().Handler()}
	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()

	var ticker *time.Ticker
	if snapshotEvery > 0 {
		ticker = time.NewTicker(snapshotEvery)
		defer ticker.Stop()
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					snap := rl.HealthSnapshot(ctx)
					log.Printf("health: overall=%s probes=%d", snap.Overall, len(snap.Probes))
				}
			}
		}()
	}

	log.Printf("relay listening on %s", addr)
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("serve: %v", err)
	}

	rl.Shutdown(context.Background())
}
