package recorder

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sailrelay/internal/wire"
)

type fakeFab struct {
	sessionID *string
}

func (f *fakeFab) SetSessionID(id *string) { f.sessionID = id }

func TestStartStopWritesPackFile(t *testing.T) {
	dir := t.TempDir()
	fab := &fakeFab{}
	r := New(dir, 16, fab, nil, nil, nil)
	defer r.Close()

	ctx := context.Background()
	id, err := r.Start(ctx, "")
	require.NoError(t, err)
	require.NotEmpty(t, id)
	assert.True(t, r.Recording())
	require.NotNil(t, fab.sessionID)
	assert.Equal(t, id, *fab.sessionID)

	r.Offer(wire.Envelope{Type: wire.TypeHeartbeat, Seq: 1, TsMs: time.Now().UnixMilli()})

	require.NoError(t, r.Stop(ctx))
	assert.False(t, r.Recording())
	assert.Nil(t, fab.sessionID)

	data, err := os.ReadFile(filepath.Join(dir, id+".jsonl"))
	require.NoError(t, err)
	lines := splitLines(string(data))
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "_meta")
	assert.Contains(t, lines[1], "heartbeat")
}

func TestStartTwiceReturnsAlreadyRecording(t *testing.T) {
	r := New(t.TempDir(), 16, &fakeFab{}, nil, nil, nil)
	defer r.Close()
	ctx := context.Background()
	_, err := r.Start(ctx, "s1")
	require.NoError(t, err)
	_, err = r.Start(ctx, "s2")
	assert.ErrorIs(t, err, ErrAlreadyRecording)
}

func TestStopWithoutStartReturnsNotRecording(t *testing.T) {
	r := New(t.TempDir(), 16, &fakeFab{}, nil, nil, nil)
	defer r.Close()
	err := r.Stop(context.Background())
	assert.ErrorIs(t, err, ErrNotRecording)
}

func TestOfferWithoutRecordingIsSilentlyDropped(t *testing.T) {
	r := New(t.TempDir(), 16, &fakeFab{}, nil, nil, nil)
	defer r.Close()
	r.Offer(wire.Envelope{Type: wire.TypeHeartbeat})
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, int64(0), r.Dropped())
}

func TestOfferDropsOnFullQueue(t *testing.T) {
	r := New(t.TempDir(), 1, &fakeFab{}, nil, nil, nil)
	defer r.Close()
	for i := 0; i < 20; i++ {
		r.Offer(wire.Envelope{Type: wire.TypeHeartbeat, Seq: int64(i)})
	}
	assert.Greater(t, r.Dropped(), int64(0))
}

func splitLines(s string) []string {
	var out []string
	start := 0
	for i, c := range s {
		if c == '\n' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}
