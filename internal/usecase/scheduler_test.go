package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"DiscoveryFeed/internal/lifecycle"
	"DiscoveryFeed/internal/logging"
)

type immediateDriver struct {
	started, stopped bool
}

func (d *immediateDriver) Start(_ context.Context, job func(time.Time)) error {
	d.started = true
	job(time.Now())
	return nil
}

func (d *immediateDriver) Stop(context.Context) error {
	d.stopped = true
	return nil
}

type countingSweeper struct {
	calls int
	err   error
}

func (s *countingSweeper) Sweep(context.Context) (lifecycle.SweepReport, error) {
	s.calls++
	return lifecycle.SweepReport{Examined: 2, Suspended: 1}, s.err
}

func TestSchedulerRunsSweep(t *testing.T) {
	driver := &immediateDriver{}
	sweeper := &countingSweeper{}
	s := NewScheduler(driver, sweeper, logging.Discard())

	require.NoError(t, s.Start(context.Background()))
	assert.True(t, driver.started)
	assert.Equal(t, 1, sweeper.calls)

	sweeper.err = errors.New("store down")
	require.NoError(t, s.Start(context.Background()), "sweep failures are logged, not returned")
	assert.Equal(t, 2, sweeper.calls)

	require.NoError(t, s.Stop(context.Background()))
	assert.True(t, driver.stopped)
}

func TestSchedulerWithoutDriver(t *testing.T) {
	s := NewScheduler(nil, &countingSweeper{}, nil)
	assert.NoError(t, s.Start(context.Background()))
	assert.NoError(t, s.Stop(context.Background()))
}
