// SPDX-FileCopyrightText: 2025 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package unicast

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/btree"

	"github.com/gmesh/gmesh-go/pkg/sched"
	"github.com/gmesh/gmesh-go/pkg/stack"
)

// retransmitFunc re-submits an unacknowledged message to the transport.
type retransmitFunc func(seqno uint64, msg *stack.Message)

// sendEntry is one unacknowledged message within a sendWindow.
type sendEntry struct {
	seqno    uint64
	msg      *stack.Message
	task     *sched.Task
	attempts int
}

func (entry *sendEntry) Less(than btree.Item) bool {
	return entry.seqno < than.(*sendEntry).seqno
}

// sendWindow is the ordered buffer of messages sent to one peer and not yet
// acknowledged. Every entry carries its own retransmission timer, armed by
// the engine after insertion and re-armed on each expiry with the next
// configured interval; the last interval repeats forever.
type sendWindow struct {
	mutex      sync.Mutex
	entries    *btree.BTree
	timeouts   []time.Duration
	scheduler  *sched.Scheduler
	retransmit retransmitFunc
}

func newSendWindow(timeouts []time.Duration, scheduler *sched.Scheduler, retransmit retransmitFunc) *sendWindow {
	return &sendWindow{
		entries:    btree.New(2),
		timeouts:   timeouts,
		scheduler:  scheduler,
		retransmit: retransmit,
	}
}

// Add inserts a message without arming its retransmission timer; the engine
// arms it via Arm outside the sender's seqno lock.
func (w *sendWindow) Add(seqno uint64, msg *stack.Message) {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	w.entries.ReplaceOrInsert(&sendEntry{seqno: seqno, msg: msg})
}

// Arm schedules the first retransmission of seqno. Arming an unknown or
// already armed seqno is a no-op.
func (w *sendWindow) Arm(seqno uint64) error {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	item := w.entries.Get(&sendEntry{seqno: seqno})
	if item == nil {
		return nil
	}

	entry := item.(*sendEntry)
	if entry.task != nil {
		return nil
	}

	task, err := w.scheduler.ScheduleOnce(w.timeouts[0], func() { w.fire(seqno) })
	if err != nil {
		return err
	}

	entry.task = task
	return nil
}

// fire retransmits seqno and re-arms its timer with the next interval.
func (w *sendWindow) fire(seqno uint64) {
	w.mutex.Lock()

	item := w.entries.Get(&sendEntry{seqno: seqno})
	if item == nil {
		w.mutex.Unlock()
		return
	}

	entry := item.(*sendEntry)
	entry.attempts++

	interval := w.timeouts[len(w.timeouts)-1]
	if entry.attempts < len(w.timeouts) {
		interval = w.timeouts[entry.attempts]
	}

	task, err := w.scheduler.ScheduleOnce(interval, func() { w.fire(seqno) })
	if err == nil {
		entry.task = task
	} else {
		entry.task = nil
	}

	msg := entry.msg
	w.mutex.Unlock()

	w.retransmit(seqno, msg)
}

// Ack removes every entry up to and including seqno, cancelling its timer.
// The amount of removed entries is returned.
func (w *sendWindow) Ack(seqno uint64) int {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	var acked []*sendEntry
	w.entries.AscendLessThan(&sendEntry{seqno: seqno + 1}, func(item btree.Item) bool {
		acked = append(acked, item.(*sendEntry))
		return true
	})

	for _, entry := range acked {
		if entry.task != nil {
			entry.task.Cancel()
		}
		w.entries.Delete(entry)
	}

	return len(acked)
}

// Reset cancels all timers and empties the window.
func (w *sendWindow) Reset() {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	w.entries.Ascend(func(item btree.Item) bool {
		if task := item.(*sendEntry).task; task != nil {
			task.Cancel()
		}
		return true
	})
	w.entries.Clear(false)
}

// Lowest returns the smallest buffered seqno and its message.
func (w *sendWindow) Lowest() (uint64, *stack.Message, bool) {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	item := w.entries.Min()
	if item == nil {
		return 0, nil, false
	}

	entry := item.(*sendEntry)
	return entry.seqno, entry.msg, true
}

// Len returns the amount of unacknowledged messages.
func (w *sendWindow) Len() int {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	return w.entries.Len()
}

// Dump returns a human-readable listing of the window's entries.
func (w *sendWindow) Dump() string {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	var sb strings.Builder
	w.entries.Ascend(func(item btree.Item) bool {
		entry := item.(*sendEntry)
		fmt.Fprintf(&sb, "  seqno=%d, %d bytes, %d retransmissions\n",
			entry.seqno, entry.msg.Len(), entry.attempts)
		return true
	})
	return sb.String()
}
