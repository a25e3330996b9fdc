package domain

import "time"

// FeedStatus enumerates feed queue entry states.
type FeedStatus string

const (
	FeedPending    FeedStatus = "pending"
	FeedProcessing FeedStatus = "processing"
	FeedDone       FeedStatus = "done"
	FeedFailed     FeedStatus = "failed"
	FeedSkipped    FeedStatus = "skipped"
)

// FeedSource tells where an enqueue came from.
type FeedSource string

const (
	FeedFromDiscovery FeedSource = "discovery"
	FeedFromManual    FeedSource = "manual"
)

// FeedEntry moves one content item to one named consumer.
type FeedEntry struct {
	ID          string     `json:"id"`
	ConsumerID  string     `json:"consumer_id"`
	PatchID     string     `json:"patch_id"`
	ContentID   string     `json:"content_id"`
	ContentHash string     `json:"content_hash"`
	Status      FeedStatus `json:"status"`
	Source      FeedSource `json:"source"`
	EnqueuedAt  time.Time  `json:"enqueued_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	MemoryID    string     `json:"memory_id,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
}

// Lane is the (consumer, patch) pair the feed worker paces independently.
type Lane struct {
	ConsumerID string
	PatchID    string
}

// Pacing governs how fast a lane is drained.
type Pacing struct {
	ThrottleMs      int `json:"throttle_ms" yaml:"throttleMs"`
	MaxTasksPerTick int `json:"max_tasks_per_tick" yaml:"maxTasksPerTick"`
}

// Throttle returns the minimum delay between dequeues.
func (p Pacing) Throttle() time.Duration {
	return time.Duration(p.ThrottleMs) * time.Millisecond
}

// ConsumerControl is the pause flag and pacing of a lane.
// Prior is non-nil only while paused and holds the pacing to restore on resume.
type ConsumerControl struct {
	ConsumerID     string  `json:"consumer_id"`
	PatchID        string  `json:"patch_id"`
	PauseDiscovery bool    `json:"pause_discovery"`
	Pacing         Pacing  `json:"pacing"`
	Prior          *Pacing `json:"prior,omitempty"`
}

// Pause captures the current pacing and applies paused pacing.
// Pausing an already paused control keeps the originally captured pacing.
func (c ConsumerControl) Pause(paused Pacing) ConsumerControl {
	if c.PauseDiscovery {
		return c
	}
	prior := c.Pacing
	c.Prior = &prior
	c.PauseDiscovery = true
	c.Pacing = paused
	return c
}

// Resume restores the pacing captured by Pause.
func (c ConsumerControl) Resume() ConsumerControl {
	if !c.PauseDiscovery {
		return c
	}
	if c.Prior != nil {
		c.Pacing = *c.Prior
	}
	c.Prior = nil
	c.PauseDiscovery = false
	return c
}

// MemoryReceipt is what a consumer memory API returns for a feed call.
type MemoryReceipt struct {
	Accepted bool   `json:"accepted"`
	MemoryID string `json:"memory_id"`
}
