// SPDX-FileCopyrightText: 2025 Alvar Penning
// SPDX-FileCopyrightText: 2025 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

package unicast

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/btree"

	"github.com/gmesh/gmesh-go/pkg/stack"
)

// AddResult classifies an insertion into a recvWindow.
type AddResult int

const (
	// AddNew means the seqno was neither delivered nor buffered before.
	AddNew AddResult = iota

	// AddDuplicatePending means the seqno is already buffered, awaiting
	// delivery.
	AddDuplicatePending

	// AddDuplicateDelivered means the seqno was already delivered. The
	// engine must acknowledge it again, as the peer keeps retransmitting
	// until an acknowledgement gets through.
	AddDuplicateDelivered
)

func (result AddResult) String() string {
	switch result {
	case AddNew:
		return "NEW"
	case AddDuplicatePending:
		return "DUPLICATE_PENDING"
	case AddDuplicateDelivered:
		return "DUPLICATE_DELIVERED"
	default:
		return fmt.Sprintf("unknown add result %d", int(result))
	}
}

// recvEntry is one buffered message within a recvWindow. oobDelivered marks
// out-of-band messages already handed upward on arrival; they stay buffered
// as gap fillers for the in-order drain, which skips them.
type recvEntry struct {
	seqno        uint64
	msg          *stack.Message
	oobDelivered bool
}

func (entry *recvEntry) Less(than btree.Item) bool {
	return entry.seqno < than.(*recvEntry).seqno
}

// recvWindow is the gap-free reassembly buffer of messages received from one
// peer. nextToRemove is the lowest seqno not yet delivered in order; every
// lower seqno counts as a duplicate. The processing flag admits a single
// drainer at a time into the in-order delivery loop.
type recvWindow struct {
	mutex        sync.Mutex
	nextToRemove uint64
	entries      *btree.BTree

	processing atomic.Bool
}

func newRecvWindow(initialSeqno uint64) *recvWindow {
	return &recvWindow{
		nextToRemove: initialSeqno,
		entries:      btree.New(2),
	}
}

// Add inserts a message under its seqno and classifies the insertion.
func (w *recvWindow) Add(seqno uint64, msg *stack.Message) AddResult {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if seqno < w.nextToRemove {
		return AddDuplicateDelivered
	}
	if w.entries.Has(&recvEntry{seqno: seqno}) {
		return AddDuplicatePending
	}

	w.entries.ReplaceOrInsert(&recvEntry{seqno: seqno, msg: msg})
	return AddNew
}

// RemoveMany extracts the contiguous run of messages starting at
// nextToRemove, advances nextToRemove past it and returns the run in seqno
// order. Messages already delivered out-of-band are part of the run; the
// caller skips them during delivery.
func (w *recvWindow) RemoveMany() []*stack.Message {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	var msgs []*stack.Message
	for {
		item := w.entries.Min()
		if item == nil {
			break
		}

		entry := item.(*recvEntry)
		if entry.seqno != w.nextToRemove {
			break
		}

		msgs = append(msgs, entry.msg)
		w.entries.DeleteMin()
		w.nextToRemove++
	}

	return msgs
}

// RemoveOOB marks every buffered out-of-band message at or above
// nextToRemove as delivered and returns the highest marked seqno. The
// messages stay buffered so the in-order drain still sees them as gap
// fillers.
func (w *recvWindow) RemoveOOB() (highest uint64, ok bool) {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	w.entries.Ascend(func(item btree.Item) bool {
		entry := item.(*recvEntry)
		if entry.msg.IsOOB() && !entry.oobDelivered {
			entry.oobDelivered = true
			highest, ok = entry.seqno, true
		}
		return true
	})

	return
}

// HasMessagesToRemove reports whether an in-order drain would deliver at
// least one message right now.
func (w *recvWindow) HasMessagesToRemove() bool {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	item := w.entries.Min()
	return item != nil && item.(*recvEntry).seqno == w.nextToRemove
}

// NextToRemove returns the lowest seqno not yet delivered in order.
func (w *recvWindow) NextToRemove() uint64 {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	return w.nextToRemove
}

// Len returns the amount of buffered messages.
func (w *recvWindow) Len() int {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	return w.entries.Len()
}

// Reset empties the window.
func (w *recvWindow) Reset() {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	w.entries.Clear(false)
}

// Dump returns a human-readable listing of the window's state.
func (w *recvWindow) Dump() string {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	var sb strings.Builder
	fmt.Fprintf(&sb, "  next_to_remove=%d\n", w.nextToRemove)
	w.entries.Ascend(func(item btree.Item) bool {
		entry := item.(*recvEntry)
		fmt.Fprintf(&sb, "  seqno=%d, %d bytes, oob_delivered=%t\n",
			entry.seqno, entry.msg.Len(), entry.oobDelivered)
		return true
	})
	return sb.String()
}
