// SPDX-FileCopyrightText: 2025 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package discovery

import (
	"testing"

	"github.com/gmesh/gmesh-go/pkg/stack"
)

func TestAnnouncementRoundTrip(t *testing.T) {
	announcement := Announcement{Node: "alice", Port: 4223}

	data, err := MarshalAnnouncement(announcement)
	if err != nil {
		t.Fatalf("marshalling failed: %v", err)
	}

	parsed, err := UnmarshalAnnouncement(data)
	if err != nil {
		t.Fatalf("unmarshalling failed: %v", err)
	}

	if parsed != announcement {
		t.Fatalf("expected %v, got %v", announcement, parsed)
	}
}

func TestAnnouncementGarbage(t *testing.T) {
	if _, err := UnmarshalAnnouncement([]byte{0xff, 0x00, 0x23}); err == nil {
		t.Fatal("expected garbage to fail")
	}
}

func TestStaticView(t *testing.T) {
	local := stack.NewNodeAddr("alice")
	peer := stack.NewNodeAddr("bob")

	view := StaticView(local, peer)
	if view.Size() != 2 || !view.Contains(local) || !view.Contains(peer) {
		t.Fatalf("expected a view of alice and bob, got %v", view)
	}
}
