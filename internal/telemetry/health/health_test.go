package health

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEvaluateWithNoProbesIsUnknown(t *testing.T) {
	e := NewEvaluator(time.Second)
	snap := e.Evaluate(context.Background())
	assert.Equal(t, StatusUnknown, snap.Overall)
}

func TestEvaluateRollsUpWorstStatus(t *testing.T) {
	e := NewEvaluator(time.Second,
		ProbeFunc(func(ctx context.Context) ProbeResult { return Healthy("a") }),
		ProbeFunc(func(ctx context.Context) ProbeResult { return Degraded("b", "slow") }),
	)
	snap := e.Evaluate(context.Background())
	assert.Equal(t, StatusDegraded, snap.Overall)
	assert.Len(t, snap.Probes, 2)
}

func TestUnhealthyOutranksDegraded(t *testing.T) {
	e := NewEvaluator(time.Second,
		ProbeFunc(func(ctx context.Context) ProbeResult { return Degraded("a", "slow") }),
		ProbeFunc(func(ctx context.Context) ProbeResult { return Unhealthy("b", "down") }),
	)
	snap := e.Evaluate(context.Background())
	assert.Equal(t, StatusUnhealthy, snap.Overall)
}

func TestEvaluateCachesWithinTTL(t *testing.T) {
	calls := 0
	e := NewEvaluator(time.Hour, ProbeFunc(func(ctx context.Context) ProbeResult {
		calls++
		return Healthy("a")
	}))
	e.Evaluate(context.Background())
	e.Evaluate(context.Background())
	assert.Equal(t, 1, calls)
}

func TestForceInvalidateBypassesCache(t *testing.T) {
	calls := 0
	e := NewEvaluator(time.Hour, ProbeFunc(func(ctx context.Context) ProbeResult {
		calls++
		return Healthy("a")
	}))
	e.Evaluate(context.Background())
	e.ForceInvalidate()
	e.Evaluate(context.Background())
	assert.Equal(t, 2, calls)
}

func TestRegisterAddsProbeForSubsequentEvaluations(t *testing.T) {
	e := NewEvaluator(time.Hour)
	e.Register(ProbeFunc(func(ctx context.Context) ProbeResult { return Unhealthy("late", "boom") }))
	snap := e.Evaluate(context.Background())
	assert.Equal(t, StatusUnhealthy, snap.Overall)
}

func TestStaleAthleteProbeHealthyWithNoAthletes(t *testing.T) {
	pr := StaleAthleteProbe(ProbeStateTable, 0, 0, 0.5, 1.0)
	assert.Equal(t, StatusHealthy, pr.Status)
}

func TestStaleAthleteProbeHealthyBelowWarnRatio(t *testing.T) {
	pr := StaleAthleteProbe(ProbeStateTable, 1, 10, 0.5, 1.0)
	assert.Equal(t, StatusHealthy, pr.Status)
}

func TestStaleAthleteProbeDegradedAtWarnRatio(t *testing.T) {
	pr := StaleAthleteProbe(ProbeStateTable, 5, 10, 0.5, 1.0)
	assert.Equal(t, StatusDegraded, pr.Status)
	assert.Contains(t, pr.Detail, "5/10")
}

func TestStaleAthleteProbeUnhealthyAtCritRatio(t *testing.T) {
	pr := StaleAthleteProbe(ProbeStateTable, 10, 10, 0.5, 1.0)
	assert.Equal(t, StatusUnhealthy, pr.Status)
}

func TestBroadcastProbeHealthyWithNoDrops(t *testing.T) {
	pr := BroadcastProbe(ProbeBroadcast, 0)
	assert.Equal(t, StatusHealthy, pr.Status)
}

func TestBroadcastProbeDegradedWithDrops(t *testing.T) {
	pr := BroadcastProbe(ProbeBroadcast, 3)
	assert.Equal(t, StatusDegraded, pr.Status)
	assert.Contains(t, pr.Detail, "3 messages")
}
