package recorder

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
)

// StreamMessages copies the raw envelope sequence (skipping the _meta
// header) to w without materializing the file in memory.
func (c *Catalog) StreamMessages(sessionID string, w io.Writer) error {
	f, err := os.Open(c.path(sessionID))
	if err != nil {
		return fmt.Errorf("open pack: %w", err)
	}
	defer f.Close()

	reader := bufio.NewReader(f)
	first := true
	for {
		line, err := reader.ReadString('\n')
		if len(line) > 0 {
			if !first || !looksLikeMeta(line) {
				first = false
				if _, werr := io.WriteString(w, line); werr != nil {
					return werr
				}
				if line[len(line)-1] != '\n' {
					if _, werr := io.WriteString(w, "\n"); werr != nil {
						return werr
					}
				}
			} else {
				first = false
			}
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("read pack: %w", err)
		}
	}
}

func looksLikeMeta(line string) bool {
	var probe struct {
		Meta bool `json:"_meta"`
	}
	return json.Unmarshal([]byte(line), &probe) == nil && probe.Meta
}

// csvHeader is the flattened export schema: timestamp, device, lat, lon,
// sog, cog, status, dist, eta.
var csvHeader = []string{"ts_ms", "device_id", "lat", "lon", "sog_knots", "cog_deg", "status", "dist_m", "eta_s"}

// ExportCSV streams a CSV flattening of position_update and gate_metrics
// envelopes directly to w with no full-file buffering. Each device's
// last-seen values are carried forward across all envelopes of the pack,
// so a row combines the current sample with the latest values seen earlier
// from the other envelope type.
func (c *Catalog) ExportCSV(sessionID string, w io.Writer) error {
	f, err := os.Open(c.path(sessionID))
	if err != nil {
		return fmt.Errorf("open pack: %w", err)
	}
	defer f.Close()

	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}

	latest := make(map[int]*csvRowState)

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	first := true
	for scanner.Scan() {
		line := scanner.Bytes()
		if first {
			first = false
			continue
		}
		var env struct {
			TsMs    int64           `json:"ts_ms"`
			Type    string          `json:"type"`
			Payload json.RawMessage `json:"payload"`
		}
		if json.Unmarshal(line, &env) != nil {
			continue
		}
		switch env.Type {
		case "position_update":
			var p struct {
				Positions []struct {
					DeviceID int      `json:"device_id"`
					Lat      float64  `json:"lat"`
					Lon      float64  `json:"lon"`
					SogKnots *float64 `json:"sog_knots"`
					CogDeg   *float64 `json:"cog_deg"`
				} `json:"positions"`
			}
			if json.Unmarshal(env.Payload, &p) != nil {
				continue
			}
			for _, pos := range p.Positions {
				st := latest[pos.DeviceID]
				if st == nil {
					st = &csvRowState{}
					latest[pos.DeviceID] = st
				}
				st.tsMs = env.TsMs
				st.lat, st.lon = pos.Lat, pos.Lon
				st.sog, st.cog = pos.SogKnots, pos.CogDeg
				if err := writeCSVRow(cw, pos.DeviceID, st); err != nil {
					return err
				}
			}
		case "gate_metrics":
			var g struct {
				Metrics []struct {
					DeviceID     int      `json:"device_id"`
					DPerpSignedM float64  `json:"d_perp_signed_m"`
					EtaS         *float64 `json:"eta_s"`
					Status       string   `json:"status"`
				} `json:"metrics"`
			}
			if json.Unmarshal(env.Payload, &g) != nil {
				continue
			}
			for _, m := range g.Metrics {
				st := latest[m.DeviceID]
				if st == nil {
					st = &csvRowState{}
					latest[m.DeviceID] = st
				}
				st.tsMs = env.TsMs
				st.dist = &m.DPerpSignedM
				st.eta = m.EtaS
				st.status = m.Status
				if err := writeCSVRow(cw, m.DeviceID, st); err != nil {
					return err
				}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	cw.Flush()
	return cw.Error()
}

type csvRowState struct {
	tsMs   int64
	lat, lon float64
	sog, cog *float64
	dist, eta *float64
	status string
}

func writeCSVRow(cw *csv.Writer, deviceID int, st *csvRowState) error {
	return cw.Write([]string{
		strconv.FormatInt(st.tsMs, 10),
		strconv.Itoa(deviceID),
		strconv.FormatFloat(st.lat, 'f', -1, 64),
		strconv.FormatFloat(st.lon, 'f', -1, 64),
		formatOptFloat(st.sog),
		formatOptFloat(st.cog),
		st.status,
		formatOptFloat(st.dist),
		formatOptFloat(st.eta),
	})
}

func formatOptFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}
