// SPDX-FileCopyrightText: 2025 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package unicast

import (
	"sync"
	"testing"
	"time"

	"github.com/gmesh/gmesh-go/pkg/sched"
	"github.com/gmesh/gmesh-go/pkg/stack"
)

func TestAgeOutCacheExpiry(t *testing.T) {
	scheduler := sched.NewScheduler()
	defer scheduler.Stop()

	var mutex sync.Mutex
	var expired []stack.Addr

	cache, err := NewAgeOutCache(scheduler, 50*time.Millisecond, func(addr stack.Addr) {
		mutex.Lock()
		expired = append(expired, addr)
		mutex.Unlock()
	})
	if err != nil {
		t.Fatalf("creating cache failed: %v", err)
	}
	defer cache.Stop()

	peer := stack.NewNodeAddr("idle-peer")
	cache.Add(peer)
	if cache.Size() != 1 {
		t.Fatalf("expected 1 entry, got %d", cache.Size())
	}

	time.Sleep(200 * time.Millisecond)

	mutex.Lock()
	defer mutex.Unlock()
	if len(expired) != 1 || expired[0] != peer {
		t.Fatalf("expected exactly one expiry for %v, got %v", peer, expired)
	}
	if cache.Size() != 0 {
		t.Fatalf("expected an empty cache, got %d entries", cache.Size())
	}
}

func TestAgeOutCacheRemove(t *testing.T) {
	scheduler := sched.NewScheduler()
	defer scheduler.Stop()

	cache, err := NewAgeOutCache(scheduler, 50*time.Millisecond, func(addr stack.Addr) {
		t.Errorf("unexpected expiry of %v", addr)
	})
	if err != nil {
		t.Fatalf("creating cache failed: %v", err)
	}
	defer cache.Stop()

	peer := stack.NewNodeAddr("busy-peer")
	cache.Add(peer)
	cache.Remove(peer)

	time.Sleep(150 * time.Millisecond)
}

func TestAgeOutCacheRemoveAll(t *testing.T) {
	scheduler := sched.NewScheduler()
	defer scheduler.Stop()

	cache, err := NewAgeOutCache(scheduler, time.Hour, func(stack.Addr) {})
	if err != nil {
		t.Fatalf("creating cache failed: %v", err)
	}
	defer cache.Stop()

	member := stack.NewNodeAddr("member")
	stranger := stack.NewNodeAddr("stranger")
	cache.Add(member)
	cache.Add(stranger)

	cache.RemoveAll(stack.NewView(member))
	if cache.Size() != 1 {
		t.Fatalf("expected only the stranger to remain, got %d entries", cache.Size())
	}
}
