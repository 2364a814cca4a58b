// SPDX-FileCopyrightText: 2025 Alvar Penning
// SPDX-FileCopyrightText: 2025 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

package unicast

import (
	"testing"

	"github.com/gmesh/gmesh-go/pkg/stack"
)

func TestRecvWindowAddResults(t *testing.T) {
	win := newRecvWindow(1)

	if result := win.Add(1, testMsg("m1")); result != AddNew {
		t.Fatalf("expected NEW, got %v", result)
	}
	if result := win.Add(1, testMsg("m1")); result != AddDuplicatePending {
		t.Fatalf("expected DUPLICATE_PENDING, got %v", result)
	}

	if msgs := win.RemoveMany(); len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}

	if result := win.Add(1, testMsg("m1")); result != AddDuplicateDelivered {
		t.Fatalf("expected DUPLICATE_DELIVERED, got %v", result)
	}
}

func TestRecvWindowContiguousDrain(t *testing.T) {
	win := newRecvWindow(1)

	// A gap at seqno 2 blocks everything behind it.
	win.Add(1, testMsg("m1"))
	win.Add(3, testMsg("m3"))
	win.Add(4, testMsg("m4"))

	msgs := win.RemoveMany()
	if len(msgs) != 1 || string(msgs[0].Payload) != "m1" {
		t.Fatalf("expected only m1, got %d messages", len(msgs))
	}
	if win.HasMessagesToRemove() {
		t.Fatal("expected the gap to block removal")
	}

	win.Add(2, testMsg("m2"))
	if !win.HasMessagesToRemove() {
		t.Fatal("expected removable messages after gap fill")
	}

	msgs = win.RemoveMany()
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	for i, expected := range []string{"m2", "m3", "m4"} {
		if string(msgs[i].Payload) != expected {
			t.Fatalf("expected %s at position %d, got %s", expected, i, msgs[i].Payload)
		}
	}

	if win.NextToRemove() != 5 {
		t.Fatalf("expected next_to_remove 5, got %d", win.NextToRemove())
	}
	if msgs := win.RemoveMany(); len(msgs) != 0 {
		t.Fatalf("expected an empty drain, got %d messages", len(msgs))
	}
}

func TestRecvWindowInitialSeqno(t *testing.T) {
	win := newRecvWindow(10)

	if result := win.Add(9, testMsg("old")); result != AddDuplicateDelivered {
		t.Fatalf("expected DUPLICATE_DELIVERED below the cursor, got %v", result)
	}
	if result := win.Add(10, testMsg("m10")); result != AddNew {
		t.Fatalf("expected NEW, got %v", result)
	}
}

func TestRecvWindowOOB(t *testing.T) {
	win := newRecvWindow(1)

	oob := testMsg("m2-oob")
	oob.Flags = stack.FlagOOB

	// The out-of-band message arrives first, leaving a gap at 1.
	win.Add(2, oob)

	highest, marked := win.RemoveOOB()
	if !marked || highest != 2 {
		t.Fatalf("expected highest OOB seqno 2, got %d (marked: %t)", highest, marked)
	}

	// Marking is one-shot; a second pass finds nothing undelivered.
	if _, marked := win.RemoveOOB(); marked {
		t.Fatal("expected no further OOB message")
	}

	// The marked message still fills its gap for the in-order drain.
	win.Add(1, testMsg("m1"))
	msgs := win.RemoveMany()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if !msgs[1].IsOOB() {
		t.Fatal("expected the gap filler to keep its OOB flag")
	}
}

func TestRecvWindowReset(t *testing.T) {
	win := newRecvWindow(1)
	win.Add(1, testMsg("m1"))
	win.Add(2, testMsg("m2"))

	win.Reset()
	if win.Len() != 0 {
		t.Fatalf("expected an empty window, got %d entries", win.Len())
	}
}
