package mock

import (
	"context"
	"fmt"
	"net"

	"sailrelay/internal/telemetry/logging"
	"sailrelay/internal/upstream"
)

// FrameTerminator is appended to every frame written to a connection so the
// production tcpFrameSource's blank-line (position) or newline (gate)
// framing can find the boundary.
type FrameTerminator int

const (
	TerminatorBlankLine FrameTerminator = iota
	TerminatorNewline
)

// ServeFrameSource binds addr and, for every accepted connection, drains
// source until the connection or ctx closes, writing each RawFrame
// followed by term. Each call serves exactly one upstream topic, the
// same way the production relay dials exactly one TCP endpoint per topic.
func ServeFrameSource(ctx context.Context, addr string, source upstream.FrameSource, term FrameTerminator, logger logging.Logger) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("mock: listen %s: %w", addr, err)
	}
	go func() {
		<-ctx.Done()
		_ = lis.Close()
	}()

	for {
		conn, err := lis.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("mock: accept on %s: %w", addr, err)
		}
		go serveConn(ctx, conn, source, term, logger)
	}
}

func serveConn(ctx context.Context, conn net.Conn, source upstream.FrameSource, term FrameTerminator, logger logging.Logger) {
	defer conn.Close()
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	out := make(chan upstream.RawFrame, 1)
	errCh := make(chan error, 1)
	go func() { errCh <- source.Run(connCtx, out) }()

	// Both a blank line (after a position block) and a bare newline (after
	// one gate-metrics JSON object) are the same byte; the distinction is
	// kept in the type so call sites stay self-documenting.
	suffix := []byte("\n")
	for {
		select {
		case <-connCtx.Done():
			return
		case err := <-errCh:
			if err != nil && logger != nil {
				logger.Warn(ctx, "mock frame source stopped", "error", err)
			}
			return
		case f := <-out:
			if _, err := conn.Write(f.Data); err != nil {
				return
			}
			if _, err := conn.Write(suffix); err != nil {
				return
			}
		}
	}
}
