package feedqueue

import (
	"context"
	"fmt"

	"DiscoveryFeed/internal/config"
	"DiscoveryFeed/internal/domain"
	"DiscoveryFeed/internal/ports"
)

// Controls manages pause flags and pacing per (consumer, patch) lane.
type Controls struct {
	store    ports.ControlStore
	defaults domain.Pacing
	paused   domain.Pacing
}

// NewControls builds lane controls backed by store.
func NewControls(store ports.ControlStore, cfg config.FeedConfig) *Controls {
	c := &Controls{store: store, defaults: cfg.DefaultPacing, paused: cfg.PausedPacing}
	if c.defaults.MaxTasksPerTick <= 0 {
		c.defaults = domain.Pacing{ThrottleMs: 1000, MaxTasksPerTick: 5}
	}
	if c.paused.MaxTasksPerTick <= 0 {
		c.paused = domain.Pacing{ThrottleMs: 15000, MaxTasksPerTick: 1}
	}
	return c
}

// Get returns the lane control, with default pacing when nothing was stored.
func (c *Controls) Get(ctx context.Context, lane domain.Lane) (domain.ConsumerControl, error) {
	ctl, _, err := c.store.GetControl(ctx, lane)
	if err != nil {
		return domain.ConsumerControl{}, err
	}
	ctl.ConsumerID, ctl.PatchID = lane.ConsumerID, lane.PatchID
	return c.withDefaults(ctl), nil
}

// Pause blocks discovery enqueues for the lane and slows its drain, remembering the pacing in force.
func (c *Controls) Pause(ctx context.Context, lane domain.Lane) (domain.ConsumerControl, error) {
	ctl, err := c.store.UpdateControl(ctx, lane, func(cur domain.ConsumerControl) domain.ConsumerControl {
		return c.withDefaults(cur).Pause(c.paused)
	})
	if err != nil {
		return domain.ConsumerControl{}, fmt.Errorf("pause %s/%s: %w", lane.ConsumerID, lane.PatchID, err)
	}
	return ctl, nil
}

// Resume lifts the pause and restores the pacing captured by Pause.
func (c *Controls) Resume(ctx context.Context, lane domain.Lane) (domain.ConsumerControl, error) {
	ctl, err := c.store.UpdateControl(ctx, lane, func(cur domain.ConsumerControl) domain.ConsumerControl {
		return c.withDefaults(cur).Resume()
	})
	if err != nil {
		return domain.ConsumerControl{}, fmt.Errorf("resume %s/%s: %w", lane.ConsumerID, lane.PatchID, err)
	}
	return ctl, nil
}

// SetPacing changes the lane pacing. While paused it replaces the pacing Resume will restore.
func (c *Controls) SetPacing(ctx context.Context, lane domain.Lane, p domain.Pacing) (domain.ConsumerControl, error) {
	if p.MaxTasksPerTick <= 0 || p.ThrottleMs < 0 {
		return domain.ConsumerControl{}, fmt.Errorf("%w: throttle %dms, %d tasks per tick", ErrInvalidPacing, p.ThrottleMs, p.MaxTasksPerTick)
	}
	ctl, err := c.store.UpdateControl(ctx, lane, func(cur domain.ConsumerControl) domain.ConsumerControl {
		cur = c.withDefaults(cur)
		if cur.PauseDiscovery {
			prior := p
			cur.Prior = &prior
			return cur
		}
		cur.Pacing = p
		return cur
	})
	if err != nil {
		return domain.ConsumerControl{}, fmt.Errorf("set pacing %s/%s: %w", lane.ConsumerID, lane.PatchID, err)
	}
	return ctl, nil
}

func (c *Controls) withDefaults(ctl domain.ConsumerControl) domain.ConsumerControl {
	if ctl.Pacing.MaxTasksPerTick <= 0 {
		ctl.Pacing = c.defaults
	}
	return ctl
}
