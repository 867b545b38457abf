package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePositionText(t *testing.T) {
	cases := []struct {
		name        string
		raw         string
		wantSamples int
		wantDropped int
		wantServer  int64
	}{
		{
			name:        "well formed batch",
			raw:         "SERVER_TS:1000000\nCOUNT:2\nPOS:1:22.12:114.12:0:3:1000100\nPOS:2:22.13:114.13:1.5:3:1000200\n",
			wantSamples: 2,
			wantServer:  1000000,
		},
		{
			name:        "mismatched count still parses all valid lines",
			raw:         "SERVER_TS:5\nCOUNT:99\nPOS:1:22.12:114.12:0:3:5\n",
			wantSamples: 1,
		},
		{
			name:        "missing count header",
			raw:         "SERVER_TS:5\nPOS:1:22.12:114.12:0:3:5\n",
			wantSamples: 1,
		},
		{
			name:        "trailing whitespace and blank lines tolerated",
			raw:         "  SERVER_TS:5  \n\n  POS:1:22.12:114.12:0:3:5  \n\n",
			wantSamples: 1,
		},
		{
			name:        "malformed line dropped, rest still parsed",
			raw:         "SERVER_TS:5\nPOS:notanumber:22.12:114.12:0:3:5\nPOS:2:22.13:114.13:0:3:6\n",
			wantSamples: 1,
			wantDropped: 1,
		},
		{
			name:        "empty input yields nothing",
			raw:         "",
			wantSamples: 0,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			batch := ParsePositionText(tc.raw)
			assert.Len(t, batch.Samples, tc.wantSamples)
			assert.Equal(t, tc.wantDropped, batch.Dropped)
			if tc.wantServer != 0 {
				assert.Equal(t, tc.wantServer, batch.ServerTsUs)
			}
		})
	}
}

func TestParsePositionLineFields(t *testing.T) {
	batch := ParsePositionText("POS:7:22.5:114.5:12.3:5:999\n")
	require.Len(t, batch.Samples, 1)
	s := batch.Samples[0]
	assert.Equal(t, 7, s.DeviceID)
	assert.InDelta(t, 22.5, s.Lat, 1e-9)
	assert.InDelta(t, 114.5, s.Lon, 1e-9)
	assert.InDelta(t, 12.3, s.AltM, 1e-9)
	assert.Equal(t, 5, s.SourceMask)
	assert.EqualValues(t, 999, s.DeviceTsUs)
}
