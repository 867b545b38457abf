package recorder

import (
	"bytes"
	"encoding/csv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamMessagesSkipsMetaHeader(t *testing.T) {
	dir := t.TempDir()
	writePackFile(t, dir, "s1", []string{
		`{"type":"heartbeat","ts_ms":500,"payload":{}}`,
	})
	cat := NewCatalog(dir)

	var buf bytes.Buffer
	require.NoError(t, cat.StreamMessages("s1", &buf))

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "heartbeat")
}

func TestExportCSVJoinsPositionAndGateByDevice(t *testing.T) {
	dir := t.TempDir()
	writePackFile(t, dir, "s1", []string{
		`{"type":"position_update","ts_ms":1000,"payload":{"positions":[{"device_id":1,"lat":22.1,"lon":114.1,"sog_knots":5.5}]}}`,
		`{"type":"gate_metrics","ts_ms":1500,"payload":{"metrics":[{"device_id":1,"d_perp_signed_m":12.0,"eta_s":3.2,"status":"APPROACHING"}]}}`,
	})
	cat := NewCatalog(dir)

	var buf bytes.Buffer
	require.NoError(t, cat.ExportCSV("s1", &buf))

	r := csv.NewReader(strings.NewReader(buf.String()))
	records, err := r.ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3) // header + one row per envelope
	assert.Equal(t, csvHeader, records[0])

	posRow := records[1]
	assert.Equal(t, "1000", posRow[0])
	assert.Equal(t, "1", posRow[1])
	assert.Equal(t, "5.5", posRow[4])

	gateRow := records[2]
	assert.Equal(t, "1500", gateRow[0])
	assert.Equal(t, "22.1", gateRow[2]) // lat carried forward from the last position row
	assert.Equal(t, "APPROACHING", gateRow[6])
	assert.Equal(t, "12", gateRow[7])
}

func TestExportCSVMissingSessionReturnsError(t *testing.T) {
	cat := NewCatalog(t.TempDir())
	var buf bytes.Buffer
	assert.Error(t, cat.ExportCSV("nope", &buf))
}
