package relay

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sailrelay/internal/config"
	"sailrelay/internal/telemetry/health"
	"sailrelay/internal/telemetry/logging"
	"sailrelay/internal/upstream"
)

// blockingSource never emits a frame; it just waits for ctx to cancel, the
// way a FrameSource behaves when nothing is ever received from a live
// upstream in a short-lived test.
type blockingSource struct{}

func (blockingSource) Run(ctx context.Context, out chan<- upstream.RawFrame) error {
	<-ctx.Done()
	return ctx.Err()
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := *config.Default()
	cfg.Session.SessionDir = t.TempDir()
	cfg.Session.AthletesConfig = filepath.Join(t.TempDir(), "athletes.json")
	cfg.Telemetry.MetricsBackend = "noop"
	return cfg
}

func TestNewWiresAllSubsystems(t *testing.T) {
	cfg := testConfig(t)
	r, err := New(cfg, blockingSource{}, blockingSource{}, logging.New(0))
	require.NoError(t, err)
	require.NotNil(t, r.Server())

	snap := r.HealthSnapshot(context.Background())
	assert.NotEmpty(t, snap.Probes)
}

func TestStartAndShutdownDrainsCleanly(t *testing.T) {
	cfg := testConfig(t)
	r, err := New(cfg, blockingSource{}, blockingSource{}, logging.New(0))
	require.NoError(t, err)

	ctx := context.Background()
	r.Start(ctx)
	time.Sleep(20 * time.Millisecond)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	r.Shutdown(shutdownCtx)
}

func TestServerExposesHealthEndpointAfterWiring(t *testing.T) {
	cfg := testConfig(t)
	r, err := New(cfg, blockingSource{}, blockingSource{}, logging.New(0))
	require.NoError(t, err)
	defer r.Shutdown(context.Background())

	rr := httptest.NewRecorder()
	r.Server().Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestHealthSnapshotReportsDegradedUpstreamBeforeConnect(t *testing.T) {
	cfg := testConfig(t)
	r, err := New(cfg, blockingSource{}, blockingSource{}, logging.New(0))
	require.NoError(t, err)
	defer r.Shutdown(context.Background())

	snap := r.HealthSnapshot(context.Background())
	var sawUpstream bool
	for _, p := range snap.Probes {
		if p.Name == "position_upstream" {
			sawUpstream = true
			assert.Equal(t, health.StatusDegraded, p.Status)
		}
	}
	assert.True(t, sawUpstream)
}
