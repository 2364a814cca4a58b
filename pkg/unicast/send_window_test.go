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

type retransmitRecorder struct {
	mutex  sync.Mutex
	seqnos []uint64
}

func (rec *retransmitRecorder) record(seqno uint64, _ *stack.Message) {
	rec.mutex.Lock()
	rec.seqnos = append(rec.seqnos, seqno)
	rec.mutex.Unlock()
}

func (rec *retransmitRecorder) count() int {
	rec.mutex.Lock()
	defer rec.mutex.Unlock()
	return len(rec.seqnos)
}

func testMsg(payload string) *stack.Message {
	return stack.NewMessage(stack.NewNodeAddr("peer"), []byte(payload))
}

func TestSendWindowAckCumulative(t *testing.T) {
	scheduler := sched.NewScheduler()
	defer scheduler.Stop()

	rec := new(retransmitRecorder)
	win := newSendWindow([]time.Duration{time.Hour}, scheduler, rec.record)

	for seqno := uint64(1); seqno <= 5; seqno++ {
		win.Add(seqno, testMsg("m"))
		if err := win.Arm(seqno); err != nil {
			t.Fatalf("arming %d failed: %v", seqno, err)
		}
	}
	if win.Len() != 5 {
		t.Fatalf("expected 5 entries, got %d", win.Len())
	}

	if acked := win.Ack(3); acked != 3 {
		t.Fatalf("expected 3 acked entries, got %d", acked)
	}
	if win.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", win.Len())
	}

	seqno, msg, exists := win.Lowest()
	if !exists || seqno != 4 {
		t.Fatalf("expected lowest seqno 4, got %d (exists: %t)", seqno, exists)
	}
	if msg == nil {
		t.Fatal("expected a message")
	}

	// Acking the same seqno again must be a no-op.
	if acked := win.Ack(3); acked != 0 {
		t.Fatalf("expected 0 acked entries, got %d", acked)
	}

	if acked := win.Ack(23); acked != 2 {
		t.Fatalf("expected 2 acked entries, got %d", acked)
	}
	if _, _, exists := win.Lowest(); exists {
		t.Fatal("expected an empty window")
	}
}

func TestSendWindowRetransmits(t *testing.T) {
	scheduler := sched.NewScheduler()
	defer scheduler.Stop()

	rec := new(retransmitRecorder)
	win := newSendWindow([]time.Duration{30 * time.Millisecond, 60 * time.Millisecond}, scheduler, rec.record)

	win.Add(1, testMsg("m1"))
	if err := win.Arm(1); err != nil {
		t.Fatalf("arming failed: %v", err)
	}

	// First retransmission after 30ms, following ones every 60ms.
	time.Sleep(200 * time.Millisecond)

	if fired := rec.count(); fired < 2 {
		t.Fatalf("expected at least 2 retransmissions, got %d", fired)
	}

	win.Ack(1)
	settled := rec.count()

	time.Sleep(150 * time.Millisecond)
	if fired := rec.count(); fired != settled {
		t.Fatalf("retransmissions continued after ack: %d -> %d", settled, fired)
	}
}

func TestSendWindowReset(t *testing.T) {
	scheduler := sched.NewScheduler()
	defer scheduler.Stop()

	rec := new(retransmitRecorder)
	win := newSendWindow([]time.Duration{30 * time.Millisecond}, scheduler, rec.record)

	for seqno := uint64(1); seqno <= 3; seqno++ {
		win.Add(seqno, testMsg("m"))
		if err := win.Arm(seqno); err != nil {
			t.Fatalf("arming %d failed: %v", seqno, err)
		}
	}

	win.Reset()
	if win.Len() != 0 {
		t.Fatalf("expected an empty window, got %d entries", win.Len())
	}

	time.Sleep(100 * time.Millisecond)
	if fired := rec.count(); fired != 0 {
		t.Fatalf("expected no retransmission after reset, got %d", fired)
	}
}
