// SPDX-FileCopyrightText: 2025 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package unicast

import (
	"context"
	"sync"

	"github.com/gmesh/gmesh-go/pkg/stack"
)

// ackSlot is the request-scoped holder of a pending piggyback
// acknowledgement. The receive path installs one into the Context before
// upcalling; a send issued from within that upcall towards the same peer
// finds the slot and carries the acknowledgement in its data header for
// free. Whatever remains in the slot at the end of the delivery is flushed
// as an explicit acknowledgement.
//
// The slot holds at most one (peer, seqno) pair. Enqueueing a higher seqno
// for the same peer replaces the pair; enqueueing for a different peer
// evicts the old pair, which the caller must flush explicitly.
type ackSlot struct {
	mutex sync.Mutex
	addr  stack.Addr
	seqno uint64
	set   bool
}

// enqueue stores a pending acknowledgement. If a pair for a different peer
// was pending, it is returned as evicted.
func (slot *ackSlot) enqueue(addr stack.Addr, seqno uint64) (evictedAddr stack.Addr, evictedSeqno uint64, evicted bool) {
	slot.mutex.Lock()
	defer slot.mutex.Unlock()

	if slot.set && slot.addr != addr {
		evictedAddr, evictedSeqno, evicted = slot.addr, slot.seqno, true
	}

	slot.addr, slot.seqno, slot.set = addr, seqno, true
	return
}

// takeIf drains the slot if it holds a pair for addr.
func (slot *ackSlot) takeIf(addr stack.Addr) (seqno uint64, ok bool) {
	slot.mutex.Lock()
	defer slot.mutex.Unlock()

	if !slot.set || slot.addr != addr {
		return 0, false
	}

	slot.set = false
	return slot.seqno, true
}

// take drains the slot unconditionally.
func (slot *ackSlot) take() (addr stack.Addr, seqno uint64, ok bool) {
	slot.mutex.Lock()
	defer slot.mutex.Unlock()

	if !slot.set {
		return nil, 0, false
	}

	slot.set = false
	return slot.addr, slot.seqno, true
}

type ackSlotKey struct{}

// withAckSlot installs a fresh ackSlot into the Context.
func withAckSlot(ctx context.Context) (context.Context, *ackSlot) {
	slot := new(ackSlot)
	return context.WithValue(ctx, ackSlotKey{}, slot), slot
}

// ackSlotFrom extracts the Context's ackSlot, if installed.
func ackSlotFrom(ctx context.Context) *ackSlot {
	slot, _ := ctx.Value(ackSlotKey{}).(*ackSlot)
	return slot
}
