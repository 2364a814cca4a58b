// SPDX-FileCopyrightText: 2025 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package unicast

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/gmesh/gmesh-go/pkg/sched"
	"github.com/gmesh/gmesh-go/pkg/stack"
)

var ageOutCacheSerial atomic.Uint64

// AgeOutCache tears down connections to peers that are not cluster members
// once their entry is older than a timeout. The engine inserts a peer on
// creating a sender for a non-member; a periodic sweep calls the expired
// callback for every entry older than the timeout. An entry's age counts
// from its insertion; traffic to or from the peer does not refresh it.
type AgeOutCache struct {
	mutex   sync.Mutex
	timeout time.Duration
	entries map[stack.Addr]time.Time

	expired func(stack.Addr)

	scheduler *sched.Scheduler
	jobName   string
}

// NewAgeOutCache creates and starts an AgeOutCache. The sweep interval is a
// third of the timeout, bounded below by the scheduler's minimum.
func NewAgeOutCache(scheduler *sched.Scheduler, timeout time.Duration, expired func(stack.Addr)) (*AgeOutCache, error) {
	if timeout <= 0 {
		return nil, fmt.Errorf("age-out timeout %v is not positive", timeout)
	}

	cache := &AgeOutCache{
		timeout:   timeout,
		entries:   make(map[stack.Addr]time.Time),
		expired:   expired,
		scheduler: scheduler,
		jobName:   fmt.Sprintf("age-out-cache-%d", ageOutCacheSerial.Add(1)),
	}

	interval := timeout / 3
	if interval < sched.MinInterval {
		interval = sched.MinInterval
	}

	if err := scheduler.RegisterPeriodic(cache.jobName, interval, cache.sweep); err != nil {
		return nil, err
	}

	return cache, nil
}

// Add starts tracking addr, keeping an earlier insertion time on re-add.
func (cache *AgeOutCache) Add(addr stack.Addr) {
	cache.mutex.Lock()
	defer cache.mutex.Unlock()

	if _, exists := cache.entries[addr]; !exists {
		cache.entries[addr] = time.Now()
	}
}

// Remove stops tracking addr.
func (cache *AgeOutCache) Remove(addr stack.Addr) {
	cache.mutex.Lock()
	defer cache.mutex.Unlock()

	delete(cache.entries, addr)
}

// RemoveAll stops tracking every Addr of the given view. Current members are
// kept alive by the membership service; aging them out would only churn
// their connections.
func (cache *AgeOutCache) RemoveAll(view *stack.View) {
	cache.mutex.Lock()
	defer cache.mutex.Unlock()

	for addr := range cache.entries {
		if view.Contains(addr) {
			delete(cache.entries, addr)
		}
	}
}

// Size returns the amount of tracked peers.
func (cache *AgeOutCache) Size() int {
	cache.mutex.Lock()
	defer cache.mutex.Unlock()

	return len(cache.entries)
}

// SetTimeout alters the age-out timeout for future sweeps.
func (cache *AgeOutCache) SetTimeout(timeout time.Duration) {
	cache.mutex.Lock()
	defer cache.mutex.Unlock()

	cache.timeout = timeout
}

func (cache *AgeOutCache) sweep() {
	cache.mutex.Lock()
	var victims []stack.Addr
	for addr, inserted := range cache.entries {
		if time.Since(inserted) >= cache.timeout {
			victims = append(victims, addr)
			delete(cache.entries, addr)
		}
	}
	cache.mutex.Unlock()

	// The callback tears down connections; never call it under the lock.
	for _, addr := range victims {
		log.WithField("peer", addr).Debug("Age-out cache expires idle connection")
		cache.expired(addr)
	}
}

// Stop unregisters the sweep job.
func (cache *AgeOutCache) Stop() {
	cache.scheduler.UnregisterPeriodic(cache.jobName)
}

// Dump returns a human-readable listing of the tracked peers.
func (cache *AgeOutCache) Dump() string {
	cache.mutex.Lock()
	defer cache.mutex.Unlock()

	var sb strings.Builder
	for addr, inserted := range cache.entries {
		fmt.Fprintf(&sb, "  %v: inserted %v ago\n", addr, time.Since(inserted).Round(time.Millisecond))
	}
	return sb.String()
}
