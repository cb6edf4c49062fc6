// Package notify holds the transient author-facing message channel: one
// error slot and one success slot, each auto-clearing after a fixed delay.
// Messages are never persisted; after a reload both slots are empty.
package notify

import (
	"sync"
	"time"
)

const (
	// DefaultErrorTTL is how long an error message stays visible.
	DefaultErrorTTL = 5000 * time.Millisecond
	// DefaultSuccessTTL is how long a success message stays visible.
	DefaultSuccessTTL = 4000 * time.Millisecond
)

// Snapshot is the current content of both slots. A nil field means the slot
// is empty.
type Snapshot struct {
	Error   *string `json:"error"`
	Success *string `json:"success"`
}

// CenterConfig tunes the auto-clear delays, mainly for tests.
type CenterConfig struct {
	ErrorTTL   time.Duration
	SuccessTTL time.Duration
}

type slot struct {
	message *string
	timer   *time.Timer
	seq     uint64
}

// Center owns the two message slots. Setting a message while one is pending
// replaces it and restarts the delay: last write wins, nothing queues.
type Center struct {
	mu          sync.Mutex
	errorSlot   slot
	successSlot slot
	errorTTL    time.Duration
	successTTL  time.Duration
}

// NewCenter constructs a notification center with the configured delays.
func NewCenter(cfg CenterConfig) *Center {
	errorTTL := cfg.ErrorTTL
	if errorTTL <= 0 {
		errorTTL = DefaultErrorTTL
	}
	successTTL := cfg.SuccessTTL
	if successTTL <= 0 {
		successTTL = DefaultSuccessTTL
	}
	return &Center{errorTTL: errorTTL, successTTL: successTTL}
}

// Error publishes a transient error message.
func (c *Center) Error(message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.set(&c.errorSlot, message, c.errorTTL)
}

// Success publishes a transient success message.
func (c *Center) Success(message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.set(&c.successSlot, message, c.successTTL)
}

// set replaces the slot content and restarts its expiry task. The previous
// task is cancelled so timers never stack.
func (c *Center) set(target *slot, message string, ttl time.Duration) {
	if target.timer != nil {
		target.timer.Stop()
	}
	target.message = &message
	target.seq++
	expirySeq := target.seq
	target.timer = time.AfterFunc(ttl, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		// A replacement bumps the sequence, so a stale task that already
		// fired clears nothing.
		if target.seq == expirySeq {
			target.message = nil
			target.timer = nil
		}
	})
}

// Current returns the visible content of both slots.
func (c *Center) Current() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		Error:   copyMessage(c.errorSlot.message),
		Success: copyMessage(c.successSlot.message),
	}
}

// Close cancels any pending expiry tasks.
func (c *Center) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.errorSlot.timer != nil {
		c.errorSlot.timer.Stop()
		c.errorSlot.timer = nil
	}
	if c.successSlot.timer != nil {
		c.successSlot.timer.Stop()
		c.successSlot.timer = nil
	}
}

func copyMessage(message *string) *string {
	if message == nil {
		return nil
	}
	copied := *message
	return &copied
}
