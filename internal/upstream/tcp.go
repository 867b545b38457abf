package upstream

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"
)

// frameMode selects how a tcpFrameSource delimits frames on the wire: the
// position topic blocks on SERVER_TS/COUNT/POS batches, the gate topic is
// newline-delimited JSON. The two topics are always separate endpoints
// (position_endpoint / gate_endpoint), so each source only ever speaks one
// mode rather than sniffing the leading byte of a shared stream.
type frameMode int

const (
	modePositionBlock frameMode = iota
	modeJSONLines
)

// tcpFrameSource dials a single TCP endpoint and frames the byte stream
// into RawFrames per the wire format for its topic (§4.2a).
type tcpFrameSource struct {
	addr        string
	mode        frameMode
	dialer      net.Dialer
	dialTimeout time.Duration
}

// NewTCPPositionSource builds a FrameSource for the position topic, which
// may be a bare host:port or a tcp:// URL as used in the configuration
// defaults.
func NewTCPPositionSource(endpoint string) (FrameSource, error) {
	return newTCPFrameSource(endpoint, modePositionBlock)
}

// NewTCPGateSource builds a FrameSource for the gate-metrics topic.
func NewTCPGateSource(endpoint string) (FrameSource, error) {
	return newTCPFrameSource(endpoint, modeJSONLines)
}

func newTCPFrameSource(endpoint string, mode frameMode) (FrameSource, error) {
	addr, err := parseTCPEndpoint(endpoint)
	if err != nil {
		return nil, err
	}
	return &tcpFrameSource{addr: addr, mode: mode, dialTimeout: 5 * time.Second}, nil
}

func parseTCPEndpoint(endpoint string) (string, error) {
	if !strings.Contains(endpoint, "://") {
		return endpoint, nil
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint %q: %w", endpoint, err)
	}
	if u.Scheme != "tcp" {
		return "", fmt.Errorf("unsupported endpoint scheme %q, want tcp", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("endpoint %q has no host", endpoint)
	}
	return u.Host, nil
}

// Run dials once and streams frames until the connection closes or ctx is
// canceled, at which point it returns. A non-nil, non-context error signals
// the caller to back off and redial.
func (t *tcpFrameSource) Run(ctx context.Context, out chan<- RawFrame) error {
	dialCtx, cancel := context.WithTimeout(ctx, t.dialTimeout)
	conn, err := t.dialer.DialContext(dialCtx, "tcp", t.addr)
	cancel()
	if err != nil {
		return fmt.Errorf("dial %s: %w", t.addr, err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	if t.mode == modeJSONLines {
		return t.runJSONLines(ctx, conn, out)
	}
	return t.runPositionBlocks(ctx, conn, out)
}

func (t *tcpFrameSource) runJSONLines(ctx context.Context, conn net.Conn, out chan<- RawFrame) error {
	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadString('\n')
		trimmed := strings.TrimRight(line, "\r\n")
		if trimmed != "" {
			select {
			case out <- RawFrame{Data: []byte(trimmed)}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read %s: %w", t.addr, err)
		}
	}
}

// runPositionBlocks accumulates lines into a block, flushing on a blank
// line or after maxPosLines non-blank lines, whichever comes first.
func (t *tcpFrameSource) runPositionBlocks(ctx context.Context, conn net.Conn, out chan<- RawFrame) error {
	const maxPosLines = 4096
	reader := bufio.NewReader(conn)
	var block strings.Builder
	lines := 0

	flush := func() error {
		if block.Len() == 0 {
			return nil
		}
		select {
		case out <- RawFrame{Data: []byte(block.String())}:
		case <-ctx.Done():
			return ctx.Err()
		}
		block.Reset()
		lines = 0
		return nil
	}

	for {
		line, err := reader.ReadString('\n')
		trimmed := strings.TrimRight(line, "\r\n")
		switch {
		case trimmed == "":
			if ferr := flush(); ferr != nil {
				return ferr
			}
		default:
			block.WriteString(trimmed)
			block.WriteByte('\n')
			lines++
			if lines >= maxPosLines {
				if ferr := flush(); ferr != nil {
					return ferr
				}
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			_ = flush()
			return fmt.Errorf("read %s: %w", t.addr, err)
		}
	}
}
