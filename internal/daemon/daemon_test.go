package daemon_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solasola/internal/api"
	"solasola/internal/testsupport"
)

func TestDaemonStartStop(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStartupSweep(true))
	f := newFixture(t, cfg)
	ctx := context.Background()

	require.NoError(t, f.daemon.Start(ctx))
	status := f.daemon.Status()
	assert.True(t, status.Running)
	assert.Equal(t, cfg.LockPath(), status.LockFilePath)
	require.NotEmpty(t, status.APIAddress)

	client, err := api.NewClient(status.APIAddress, "")
	require.NoError(t, err)
	health, err := client.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ok", health.Status)

	// Second start should fail
	assert.Error(t, f.daemon.Start(ctx))
	other := newFixture(t, cfg)
	err = other.daemon.Start(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")

	f.daemon.Stop()
	assert.False(t, f.daemon.Status().Running)
	assert.Equal(t, int32(1), f.models.sweeps.Load(), "startup sweep runs once")
	_, err = client.Health(ctx)
	assert.True(t, api.IsAPIUnavailable(err))

	require.NoError(t, other.daemon.Start(ctx), "lock is released on stop")
}
