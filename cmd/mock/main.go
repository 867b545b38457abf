// Command mock stands in for the live upstream: it binds the position and
// gate-metrics TCP endpoints and serves either a synthetic generator or a
// replayed session pack, in the exact wire framing the relay's subscribers
// expect, so the relay cannot tell the difference from a real feed.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"

	"sailrelay/internal/mock"
	"sailrelay/internal/telemetry/logging"
	"sailrelay/internal/upstream"
)

func main() {
	var (
		positionAddr string
		gateAddr     string
		packPath     string
		athleteCount int
	)
	flag.StringVar(&positionAddr, "position-addr", ":5000", "Address to serve the position-text upstream on")
	flag.StringVar(&gateAddr, "gate-addr", ":5001", "Address to serve the gate-metrics upstream on")
	flag.StringVar(&packPath, "pack", "", "Session pack file to replay at original cadence (generates synthetic data if unset)")
	flag.IntVar(&athleteCount, "athletes", 5, "Number of synthetic athletes to generate when -pack is unset")
	flag.Parse()

	logger := logging.New(slog.LevelInfo)

	var posSource, gateSource upstream.FrameSource
	if packPath != "" {
		replay, err := mock.LoadReplay(packPath)
		if err != nil {
			log.Fatalf("mock: load pack: %v", err)
		}
		posSource = replay.PositionSource()
		gateSource = replay.GateSource()
		log.Printf("mock: replaying pack %s", packPath)
	} else {
		gen := mock.NewGenerator(mock.GeneratorConfig{AthleteCount: athleteCount})
		posSource = gen.PositionSource()
		gateSource = gen.GateSource()
		log.Printf("mock: generating synthetic data for %d athletes", athleteCount)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		log.Println("signal received; shutting down mock producer")
		cancel()
	}()

	errCh := make(chan error, 2)
	go func() {
		errCh <- mock.ServeFrameSource(ctx, positionAddr, posSource, mock.TerminatorBlankLine, logger)
	}()
	go func() {
		errCh <- mock.ServeFrameSource(ctx, gateAddr, gateSource, mock.TerminatorNewline, logger)
	}()

	log.Printf("mock producer serving positions on %s, gate metrics on %s", positionAddr, gateAddr)

	select {
	case err := <-errCh:
		if err != nil {
			cancel()
			log.Fatalf("mock: %v", err)
		}
	case <-ctx.Done():
	}

	<-ctx.Done()
	fmt.Println("mock producer shut down cleanly")
}
