package fabricator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sailrelay/internal/wire"
)

type fakeSink struct {
	received []wire.Envelope
}

func (f *fakeSink) Offer(env wire.Envelope) { f.received = append(f.received, env) }

func TestStampAssignsMonotonicSeq(t *testing.T) {
	f := New()
	e1 := f.Stamp(wire.TypeHeartbeat, wire.HeartbeatPayload{})
	e2 := f.Stamp(wire.TypeHeartbeat, wire.HeartbeatPayload{})
	assert.Equal(t, int64(1), e1.Seq)
	assert.Equal(t, int64(2), e2.Seq)
	assert.Equal(t, wire.SchemaVersion, e1.SchemaVersion)
}

func TestStampRoutesToAllSinks(t *testing.T) {
	a, b := &fakeSink{}, &fakeSink{}
	f := New(a)
	f.AddSink(b)
	f.Stamp(wire.TypeHeartbeat, wire.HeartbeatPayload{})
	require.Len(t, a.received, 1)
	require.Len(t, b.received, 1)
}

func TestSetSessionIDStampsSubsequentEnvelopes(t *testing.T) {
	f := New()
	env := f.Stamp(wire.TypeHeartbeat, nil)
	assert.Nil(t, env.SessionID)

	id := "sess-1"
	f.SetSessionID(&id)
	env2 := f.Stamp(wire.TypeHeartbeat, nil)
	require.NotNil(t, env2.SessionID)
	assert.Equal(t, "sess-1", *env2.SessionID)

	f.SetSessionID(nil)
	env3 := f.Stamp(wire.TypeHeartbeat, nil)
	assert.Nil(t, env3.SessionID)
}
