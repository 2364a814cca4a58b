// SPDX-FileCopyrightText: 2025 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

package agent

import (
	"context"
	"time"

	"github.com/gmesh/gmesh-go/pkg/stack"
)

// Collector buffers delivered messages for a consumer that polls them, e.g.
// gmesh-ping awaiting probe responses.
type Collector struct {
	msgs chan *stack.Message
}

// NewCollector creates a Collector buffering up to size messages. Further
// deliveries are discarded.
func NewCollector(size int) *Collector {
	return &Collector{msgs: make(chan *stack.Message, size)}
}

// Handler returns the stack.Handler to register via Stack.OnDeliver.
func (c *Collector) Handler() stack.Handler {
	return func(_ context.Context, ev stack.Event) {
		if msgEv, isMsg := ev.(stack.MessageEvent); isMsg {
			select {
			case c.msgs <- msgEv.Msg:
			default:
			}
		}
	}
}

// Next awaits the next delivery.
func (c *Collector) Next(timeout time.Duration) (*stack.Message, bool) {
	select {
	case msg := <-c.msgs:
		return msg, true
	case <-time.After(timeout):
		return nil, false
	}
}
