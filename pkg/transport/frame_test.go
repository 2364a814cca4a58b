// SPDX-FileCopyrightText: 2025 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import (
	"bytes"
	"testing"

	"github.com/gmesh/gmesh-go/pkg/stack"
	"github.com/gmesh/gmesh-go/pkg/unicast"
)

func TestFrameRoundTrip(t *testing.T) {
	msg := stack.NewMessage(stack.NewNodeAddr("bob"), []byte("hello"))
	msg.Src = stack.NewNodeAddr("alice")
	msg.Flags = stack.FlagOOB
	msg.PutHeader(unicast.LayerName, unicast.NewDataHeader(23, 42, false, 22))

	data, err := EncodeFrame(msg)
	if err != nil {
		t.Fatalf("encoding failed: %v", err)
	}

	parsed, err := DecodeFrame(data)
	if err != nil {
		t.Fatalf("decoding failed: %v", err)
	}

	if parsed.Src != msg.Src || parsed.Dest != msg.Dest {
		t.Fatalf("expected addresses to survive, got %v -> %v", parsed.Src, parsed.Dest)
	}
	if parsed.Flags != msg.Flags {
		t.Fatalf("expected flags %#x, got %#x", msg.Flags, parsed.Flags)
	}
	if !bytes.Equal(parsed.Payload, msg.Payload) {
		t.Fatalf("expected payload %q, got %q", msg.Payload, parsed.Payload)
	}

	header, exists := parsed.Header(unicast.LayerName)
	if !exists {
		t.Fatal("expected the unicast header to survive")
	}
	if header.(*unicast.Header).Seqno != 23 || header.(*unicast.Header).AckNo != 22 {
		t.Fatalf("expected the header fields to survive, got %v", header)
	}
}

func TestFrameEmptyPayload(t *testing.T) {
	msg := stack.NewMessage(stack.NewNodeAddr("bob"), nil)
	msg.PutHeader(unicast.LayerName, unicast.NewAckHeader(7))

	data, err := EncodeFrame(msg)
	if err != nil {
		t.Fatalf("encoding failed: %v", err)
	}

	parsed, err := DecodeFrame(data)
	if err != nil {
		t.Fatalf("decoding failed: %v", err)
	}
	if parsed.Len() != 0 {
		t.Fatalf("expected an empty payload, got %d bytes", parsed.Len())
	}
	if parsed.Src != nil {
		t.Fatalf("expected no source address, got %v", parsed.Src)
	}
}

func TestFrameChecksum(t *testing.T) {
	msg := stack.NewMessage(stack.NewNodeAddr("bob"), []byte("hello"))

	data, err := EncodeFrame(msg)
	if err != nil {
		t.Fatalf("encoding failed: %v", err)
	}

	// Flip a bit in the middle of the frame; the checksum must catch it.
	data[len(data)/2] ^= 0x01
	if _, err := DecodeFrame(data); err == nil {
		t.Fatal("expected a checksum error")
	}

	if _, err := DecodeFrame([]byte{0x01}); err == nil {
		t.Fatal("expected a too short frame to fail")
	}
}
