package bootstrap

import (
	"context"
	"io"
	"testing"

	"github.com/Domenick1991/venuebooking/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestNewCore_Memory(t *testing.T) {
	cfg := &config.Config{Storage: config.StorageConfig{Driver: "memory"}}

	core, err := NewCore(context.Background(), cfg, quietLogger())

	require.NoError(t, err)
	defer core.Close(quietLogger())
	assert.NotNil(t, core.Bookings)
	assert.NotNil(t, core.Reconciler)
	assert.NotNil(t, core.Workflow)
	assert.NotNil(t, core.Catalog)
}

func TestNewCore_UnknownDriver(t *testing.T) {
	cfg := &config.Config{Storage: config.StorageConfig{Driver: "mongo"}}

	_, err := NewCore(context.Background(), cfg, quietLogger())

	assert.ErrorContains(t, err, "unknown storage driver")
}

func lockWaitSamples(t *testing.T, scope string) uint64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != "resource_lock_wait_seconds" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "scope" && l.GetValue() == scope {
					return m.GetHistogram().GetSampleCount()
				}
			}
		}
	}
	return 0
}

func TestNewCore_LockWaitsAreObserved(t *testing.T) {
	cfg := &config.Config{Storage: config.StorageConfig{Driver: "memory"}}
	core, err := NewCore(context.Background(), cfg, quietLogger())
	require.NoError(t, err)
	defer core.Close(quietLogger())

	before := lockWaitSamples(t, "corecheck")
	require.NoError(t, core.Locks.Do(context.Background(), "corecheck:1", func(ctx context.Context) error {
		return nil
	}))

	assert.Equal(t, before+1, lockWaitSamples(t, "corecheck"))
}

func TestCore_RunBackgroundStopsWithContext(t *testing.T) {
	var ran bool
	core := &Core{background: []func(ctx context.Context) error{
		func(ctx context.Context) error {
			ran = true
			<-ctx.Done()
			return nil
		},
	}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, core.RunBackground(ctx))
	assert.True(t, ran)
}
