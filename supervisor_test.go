package modhost

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func failingHarness(t *testing.T) (*harness, *Host) {
	t.Helper()
	h := newHarness(t)
	h.define(desc("flaky"), func(m *testModule) {
		m.setup = func(context.Context, *Context) error { return errSetupBroken }
	})
	h.define(desc("steady"), nil)
	host := h.build()
	require.NoError(t, host.StartAll(context.Background()))
	h.requireState("flaky", StateCreated)
	return h, host
}

func TestSupervisor_RetriesWithBackoff(t *testing.T) {
	h, host := failingHarness(t)
	s := NewSupervisor(host, SupervisorConfig{InitialInterval: 10 * time.Second, MaxInterval: time.Minute})
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	assert.Equal(t, 1, s.RunOnce(ctx))
	assert.Equal(t, 1, s.Attempts("flaky"))
	assert.Equal(t, 0, s.RunOnce(ctx), "not due yet")

	now = now.Add(10 * time.Second)
	assert.Equal(t, 1, s.RunOnce(ctx))
	assert.Equal(t, 2, s.Attempts("flaky"))

	// The wait grows: 15s after the second failure.
	now = now.Add(10 * time.Second)
	assert.Equal(t, 0, s.RunOnce(ctx))

	h.instance("flaky").setup = nil
	now = now.Add(5 * time.Second)
	assert.Equal(t, 1, s.RunOnce(ctx))
	h.requireState("flaky", StateStarted)
	assert.Equal(t, 0, s.Attempts("flaky"))
	_, ok := host.Failure("flaky")
	assert.False(t, ok)

	assert.Equal(t, 0, s.RunOnce(ctx))
}

func TestSupervisor_GivesUpAfterMaxAttempts(t *testing.T) {
	_, host := failingHarness(t)
	s := NewSupervisor(host, SupervisorConfig{InitialInterval: time.Second, MaxInterval: time.Second, MaxAttempts: 1})
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	assert.Equal(t, 1, s.RunOnce(ctx))
	now = now.Add(time.Second)
	assert.Equal(t, 1, s.RunOnce(ctx))
	now = now.Add(time.Hour)
	assert.Equal(t, 0, s.RunOnce(ctx))
	assert.Equal(t, 2, s.Attempts("flaky"))
}

func TestSupervisor_ForgetsModulesNoLongerFailing(t *testing.T) {
	h, host := failingHarness(t)
	s := NewSupervisor(host, SupervisorConfig{})
	ctx := context.Background()

	assert.Equal(t, 1, s.RunOnce(ctx))
	require.Equal(t, 1, s.Attempts("flaky"))

	// A bulk start clears failure records; the retry state goes with them.
	h.instance("flaky").setup = nil
	require.NoError(t, host.StartAll(ctx))
	assert.Equal(t, 0, s.RunOnce(ctx))
	assert.Equal(t, 0, s.Attempts("flaky"))
}

func TestSupervisor_IgnoresDisabledAndStopFailures(t *testing.T) {
	_, host := failingHarness(t)
	s := NewSupervisor(host, SupervisorConfig{})
	ctx := context.Background()

	_, err := host.Disable(ctx, "flaky")
	require.NoError(t, err)
	assert.Equal(t, 0, s.RunOnce(ctx))
}

func TestSupervisor_StartStop(t *testing.T) {
	_, host := failingHarness(t)
	s := NewSupervisor(host, SupervisorConfig{Schedule: "@every 1h"})
	ctx := context.Background()

	require.NoError(t, s.Start(ctx))
	require.NoError(t, s.Start(ctx))
	require.NoError(t, s.Stop(ctx))
	require.NoError(t, s.Stop(ctx))

	bad := NewSupervisor(host, SupervisorConfig{Schedule: "every now and then"})
	require.Error(t, bad.Start(ctx))
}
