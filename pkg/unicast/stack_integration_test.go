// SPDX-FileCopyrightText: 2025 Alvar Penning
// SPDX-FileCopyrightText: 2025 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

package unicast_test

import (
	"context"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/gmesh/gmesh-go/pkg/agent"
	"github.com/gmesh/gmesh-go/pkg/discovery"
	"github.com/gmesh/gmesh-go/pkg/sched"
	"github.com/gmesh/gmesh-go/pkg/stack"
	"github.com/gmesh/gmesh-go/pkg/transport/mem"
	"github.com/gmesh/gmesh-go/pkg/unicast"
)

func buildStack(t *testing.T, hub *mem.Hub, addr stack.Addr, scheduler *sched.Scheduler) *stack.Stack {
	t.Helper()

	cfg := unicast.Config{
		Timeouts: []time.Duration{50 * time.Millisecond, 100 * time.Millisecond},
	}
	layer, err := unicast.NewLayer(cfg, scheduler)
	if err != nil {
		t.Fatalf("creating unicast layer failed: %v", err)
	}

	s, err := stack.NewStack(hub.Endpoint(addr), layer)
	if err != nil {
		t.Fatalf("building stack failed: %v", err)
	}

	return s
}

// TestStackLossyFIFO runs two full stacks over the in-memory transport with
// random frame loss and checks lossless in-order delivery.
func TestStackLossyFIFO(t *testing.T) {
	alice := stack.NewNodeAddr("alice")
	bob := stack.NewNodeAddr("bob")

	hub := mem.NewHub()
	rng := rand.New(rand.NewSource(23))
	hub.SetDropFunc(func(_, _ stack.Addr, _ *stack.Message) bool {
		return rng.Float64() < 0.2
	})

	scheduler := sched.NewScheduler()
	defer scheduler.Stop()

	stackA := buildStack(t, hub, alice, scheduler)
	stackB := buildStack(t, hub, bob, scheduler)

	collector := agent.NewCollector(64)
	stackB.OnDeliver(collector.Handler())
	stackA.OnDeliver(func(context.Context, stack.Event) {})

	for _, s := range []*stack.Stack{stackA, stackB} {
		if err := s.Start(); err != nil {
			t.Fatalf("starting stack failed: %v", err)
		}
		defer func(s *stack.Stack) { _ = s.Stop() }(s)

		s.Inject(context.Background(), stack.ConnectEvent{})
		s.Inject(context.Background(), stack.ViewEvent{View: discovery.StaticView(alice, bob)})
	}

	const count = 20
	for i := 1; i <= count; i++ {
		stackA.Send(context.Background(), stack.NewMessage(bob, []byte(fmt.Sprintf("msg-%d", i))))
	}

	for i := 1; i <= count; i++ {
		msg, ok := collector.Next(5 * time.Second)
		if !ok {
			t.Fatalf("timed out awaiting message %d", i)
		}
		if expected := fmt.Sprintf("msg-%d", i); string(msg.Payload) != expected {
			t.Fatalf("expected %q at position %d, got %q", expected, i, msg.Payload)
		}
	}

	if msg, ok := collector.Next(300 * time.Millisecond); ok {
		t.Fatalf("unexpected extra delivery %q", msg.Payload)
	}
}

// TestStackEchoProbe sends a probe through the full stack and awaits the
// EchoAgent's response.
func TestStackEchoProbe(t *testing.T) {
	alice := stack.NewNodeAddr("alice")
	bob := stack.NewNodeAddr("bob")

	hub := mem.NewHub()
	scheduler := sched.NewScheduler()
	defer scheduler.Stop()

	stackA := buildStack(t, hub, alice, scheduler)
	stackB := buildStack(t, hub, bob, scheduler)

	collector := agent.NewCollector(1)
	stackA.OnDeliver(collector.Handler())
	stackB.OnDeliver(agent.NewEchoAgent(stackB).Handler())

	for _, s := range []*stack.Stack{stackA, stackB} {
		if err := s.Start(); err != nil {
			t.Fatalf("starting stack failed: %v", err)
		}
		defer func(s *stack.Stack) { _ = s.Stop() }(s)

		s.Inject(context.Background(), stack.ConnectEvent{})
	}

	stackA.Send(context.Background(), stack.NewMessage(bob, agent.MarshalProbe(false, 7)))

	reply, ok := collector.Next(5 * time.Second)
	if !ok {
		t.Fatal("timed out awaiting the probe response")
	}

	response, seq, err := agent.UnmarshalProbe(reply.Payload)
	if err != nil {
		t.Fatalf("parsing the response failed: %v", err)
	}
	if !response || seq != 7 {
		t.Fatalf("expected response 7, got (%t, %d)", response, seq)
	}
	if reply.Src != bob {
		t.Fatalf("expected the response from bob, got %v", reply.Src)
	}
}
