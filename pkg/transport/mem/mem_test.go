// SPDX-FileCopyrightText: 2025 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package mem

import (
	"context"
	"sync"
	"testing"

	"github.com/gmesh/gmesh-go/pkg/stack"
)

type upperCapture struct {
	mutex sync.Mutex
	msgs  []*stack.Message
}

func (capture *upperCapture) handler() stack.Handler {
	return func(_ context.Context, ev stack.Event) {
		if msgEv, isMsg := ev.(stack.MessageEvent); isMsg {
			capture.mutex.Lock()
			capture.msgs = append(capture.msgs, msgEv.Msg)
			capture.mutex.Unlock()
		}
	}
}

func TestHubUnicast(t *testing.T) {
	alice := stack.NewNodeAddr("alice")
	bob := stack.NewNodeAddr("bob")

	hub := NewHub()
	endpointA := hub.Endpoint(alice)
	endpointB := hub.Endpoint(bob)

	captureA, captureB := new(upperCapture), new(upperCapture)
	endpointA.SetUpward(captureA.handler())
	endpointB.SetUpward(captureB.handler())

	msg := stack.NewMessage(bob, []byte("hi bob"))
	endpointA.Down(context.Background(), stack.MessageEvent{Msg: msg})

	captureB.mutex.Lock()
	defer captureB.mutex.Unlock()
	if len(captureB.msgs) != 1 {
		t.Fatalf("expected one delivery at bob, got %d", len(captureB.msgs))
	}
	if captureB.msgs[0].Src != alice {
		t.Fatalf("expected the source to be stamped, got %v", captureB.msgs[0].Src)
	}
	if string(captureB.msgs[0].Payload) != "hi bob" {
		t.Fatalf("unexpected payload %q", captureB.msgs[0].Payload)
	}

	captureA.mutex.Lock()
	defer captureA.mutex.Unlock()
	if len(captureA.msgs) != 0 {
		t.Fatalf("expected no delivery at alice, got %d", len(captureA.msgs))
	}
}

func TestHubDrop(t *testing.T) {
	alice := stack.NewNodeAddr("alice")
	bob := stack.NewNodeAddr("bob")

	hub := NewHub()
	endpointA := hub.Endpoint(alice)
	endpointB := hub.Endpoint(bob)

	capture := new(upperCapture)
	endpointB.SetUpward(capture.handler())

	hub.SetDropFunc(func(_, _ stack.Addr, _ *stack.Message) bool { return true })

	msg := stack.NewMessage(bob, []byte("lost"))
	endpointA.Down(context.Background(), stack.MessageEvent{Msg: msg})

	capture.mutex.Lock()
	defer capture.mutex.Unlock()
	if len(capture.msgs) != 0 {
		t.Fatalf("expected the frame to be dropped, got %d deliveries", len(capture.msgs))
	}
}
