// SPDX-FileCopyrightText: 2025 Alvar Penning
// SPDX-FileCopyrightText: 2025 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

package unicast

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/gmesh/gmesh-go/pkg/sched"
	"github.com/gmesh/gmesh-go/pkg/stack"
)

// newTestLayer creates and starts a Layer with the given retransmission
// timeouts and no age-out cache.
func newTestLayer(t *testing.T, scheduler *sched.Scheduler, timeouts ...time.Duration) *Layer {
	t.Helper()

	if len(timeouts) == 0 {
		timeouts = []time.Duration{time.Hour}
	}

	layer, err := NewLayer(Config{Timeouts: timeouts}, scheduler)
	if err != nil {
		t.Fatalf("creating layer failed: %v", err)
	}
	if err := layer.Start(); err != nil {
		t.Fatalf("starting layer failed: %v", err)
	}
	t.Cleanup(func() { _ = layer.Stop() })

	return layer
}

// netFilter observes and optionally drops the traffic a layer emits
// downward, mocking an unreliable transport.
type netFilter struct {
	mutex   sync.Mutex
	headers []*Header
	drop    func(msg *stack.Message, header *Header) bool
}

func (filter *netFilter) observe(msg *stack.Message) (dropped bool) {
	header, exists := msg.Header(LayerName)
	if !exists {
		return false
	}

	filter.mutex.Lock()
	defer filter.mutex.Unlock()

	filter.headers = append(filter.headers, header.(*Header))
	return filter.drop != nil && filter.drop(msg, header.(*Header))
}

func (filter *netFilter) setDrop(drop func(msg *stack.Message, header *Header) bool) {
	filter.mutex.Lock()
	filter.drop = drop
	filter.mutex.Unlock()
}

// count returns the amount of observed headers matching the type.
func (filter *netFilter) count(msgType MsgType) int {
	filter.mutex.Lock()
	defer filter.mutex.Unlock()

	n := 0
	for _, header := range filter.headers {
		if header.Type == msgType {
			n++
		}
	}
	return n
}

// dataHeaders returns the observed data headers.
func (filter *netFilter) dataHeaders() []*Header {
	filter.mutex.Lock()
	defer filter.mutex.Unlock()

	var headers []*Header
	for _, header := range filter.headers {
		if header.Type == Data {
			headers = append(headers, header)
		}
	}
	return headers
}

// bridgeHandler wires a layer's downward output to the peer layer's Up,
// stamping the source address like a transport would.
func bridgeHandler(from stack.Addr, to *Layer, filter *netFilter) stack.Handler {
	return func(_ context.Context, ev stack.Event) {
		msgEv, isMsg := ev.(stack.MessageEvent)
		if !isMsg {
			return
		}

		msg := msgEv.Msg
		if msg.Src == nil {
			msg.Src = from
		}

		if filter != nil && filter.observe(msg) {
			return
		}

		to.Up(context.Background(), stack.MessageEvent{Msg: msg})
	}
}

// deliveryRecorder captures a layer's upcalls and optionally reacts to them
// within the delivering call tree, like an application agent would.
type deliveryRecorder struct {
	mutex     sync.Mutex
	payloads  []string
	onDeliver func(ctx context.Context, msg *stack.Message)
}

func (rec *deliveryRecorder) handler() stack.Handler {
	return func(ctx context.Context, ev stack.Event) {
		msgEv, isMsg := ev.(stack.MessageEvent)
		if !isMsg {
			return
		}

		rec.mutex.Lock()
		rec.payloads = append(rec.payloads, string(msgEv.Msg.Payload))
		onDeliver := rec.onDeliver
		rec.mutex.Unlock()

		if onDeliver != nil {
			onDeliver(ctx, msgEv.Msg)
		}
	}
}

func (rec *deliveryRecorder) delivered() []string {
	rec.mutex.Lock()
	defer rec.mutex.Unlock()

	delivered := make([]string, len(rec.payloads))
	copy(delivered, rec.payloads)
	return delivered
}

// waitUntil polls cond up to the timeout.
func waitUntil(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v: %s", timeout, what)
}

// testPair is a pair of connected layers, A and B, with per-direction
// filters and delivery recorders.
type testPair struct {
	addrA, addrB stack.Addr
	layerA       *Layer
	layerB       *Layer
	filterA      *netFilter // observes traffic A emits
	filterB      *netFilter // observes traffic B emits
	upperA       *deliveryRecorder
	upperB       *deliveryRecorder
}

func newTestPair(t *testing.T, scheduler *sched.Scheduler, timeouts ...time.Duration) *testPair {
	t.Helper()

	pair := &testPair{
		addrA:   stack.NewNodeAddr("node-a"),
		addrB:   stack.NewNodeAddr("node-b"),
		layerA:  newTestLayer(t, scheduler, timeouts...),
		layerB:  newTestLayer(t, scheduler, timeouts...),
		filterA: new(netFilter),
		filterB: new(netFilter),
		upperA:  new(deliveryRecorder),
		upperB:  new(deliveryRecorder),
	}

	pair.layerA.SetDownward(bridgeHandler(pair.addrA, pair.layerB, pair.filterA))
	pair.layerB.SetDownward(bridgeHandler(pair.addrB, pair.layerA, pair.filterB))
	pair.layerA.SetUpward(pair.upperA.handler())
	pair.layerB.SetUpward(pair.upperB.handler())

	return pair
}

// send pushes a payload from A to B.
func (pair *testPair) send(payload string, flags stack.Flags) {
	msg := stack.NewMessage(pair.addrB, []byte(payload))
	msg.Flags = flags
	pair.layerA.Down(context.Background(), stack.MessageEvent{Msg: msg})
}
