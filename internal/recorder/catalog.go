package recorder

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Meta is the decoded first line of a pack file.
type Meta struct {
	SchemaVersion string `json:"schema_version"`
	SessionID     string `json:"session_id"`
	Created       string `json:"created"`
	Description   string `json:"description"`
}

// Summary is one pack's catalog entry: header metadata plus derived stats
// from a single streaming scan.
type Summary struct {
	Meta
	DurationS     float64 `json:"duration_s"`
	MessageCount  int     `json:"message_count"`
	AthleteCount  int     `json:"athlete_count"`
	SizeBytes     int64   `json:"size_bytes"`
	ModifiedAt    time.Time `json:"modified_at"`
}

type cacheKey struct {
	size    int64
	modTime int64
}

// Catalog lists and scans packs under a directory, caching derived stats by
// file size+mtime so repeated GET /api/sessions calls don't rescan an
// unchanged file.
type Catalog struct {
	dir string

	mu    sync.Mutex
	cache map[string]cachedSummary
}

type cachedSummary struct {
	key     cacheKey
	summary Summary
}

// NewCatalog builds a Catalog rooted at dir.
func NewCatalog(dir string) *Catalog {
	return &Catalog{dir: dir, cache: make(map[string]cachedSummary)}
}

// List returns a Summary for every `*.jsonl` pack under the catalog
// directory, ordered by session id.
func (c *Catalog) List() ([]Summary, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read session directory: %w", err)
	}
	var out []Summary
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".jsonl") {
			continue
		}
		id := strings.TrimSuffix(e.Name(), ".jsonl")
		s, err := c.Get(id)
		if err != nil {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

// Get returns the Summary for one session id, scanning the file if its
// size+mtime aren't already cached.
func (c *Catalog) Get(sessionID string) (Summary, error) {
	path := c.path(sessionID)
	info, err := os.Stat(path)
	if err != nil {
		return Summary{}, fmt.Errorf("stat pack %s: %w", sessionID, err)
	}
	key := cacheKey{size: info.Size(), modTime: info.ModTime().UnixNano()}

	c.mu.Lock()
	if cached, ok := c.cache[sessionID]; ok && cached.key == key {
		c.mu.Unlock()
		return cached.summary, nil
	}
	c.mu.Unlock()

	summary, err := scanPack(path)
	if err != nil {
		return Summary{}, err
	}
	summary.SizeBytes = info.Size()
	summary.ModifiedAt = info.ModTime()

	c.mu.Lock()
	c.cache[sessionID] = cachedSummary{key: key, summary: summary}
	c.mu.Unlock()
	return summary, nil
}

// Path returns the on-disk path for a session id's pack file.
func (c *Catalog) Path(sessionID string) string { return c.path(sessionID) }

func (c *Catalog) path(sessionID string) string {
	return filepath.Join(c.dir, sessionID+".jsonl")
}

func scanPack(path string) (Summary, error) {
	f, err := os.Open(path)
	if err != nil {
		return Summary{}, fmt.Errorf("open pack: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	var summary Summary
	var firstLine = true
	var lastTsMs int64
	athletes := make(map[int]struct{})

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if firstLine {
			firstLine = false
			if err := json.Unmarshal(line, &summary.Meta); err != nil {
				return Summary{}, fmt.Errorf("decode pack header: %w", err)
			}
			continue
		}
		summary.MessageCount++
		var env struct {
			TsMs    int64 `json:"ts_ms"`
			Payload json.RawMessage `json:"payload"`
			Type    string          `json:"type"`
		}
		if err := json.Unmarshal(line, &env); err != nil {
			continue
		}
		lastTsMs = env.TsMs
		collectAthletes(env.Type, env.Payload, athletes)
	}
	if err := scanner.Err(); err != nil {
		return Summary{}, fmt.Errorf("scan pack: %w", err)
	}

	summary.DurationS = float64(lastTsMs) / 1000.0
	summary.AthleteCount = len(athletes)
	return summary, nil
}

func collectAthletes(msgType string, payload json.RawMessage, into map[int]struct{}) {
	switch msgType {
	case "position_update":
		var p struct {
			Positions []struct {
				DeviceID int `json:"device_id"`
			} `json:"positions"`
		}
		if json.Unmarshal(payload, &p) == nil {
			for _, pos := range p.Positions {
				into[pos.DeviceID] = struct{}{}
			}
		}
	case "gate_metrics":
		var g struct {
			Metrics []struct {
				DeviceID int `json:"device_id"`
			} `json:"metrics"`
		}
		if json.Unmarshal(payload, &g) == nil {
			for _, m := range g.Metrics {
				into[m.DeviceID] = struct{}{}
			}
		}
	}
}
