// SPDX-FileCopyrightText: 2025 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package mem is an in-process datagram transport: a Hub connects the
// Endpoints of multiple Stacks living in the same process. Frames take the
// same encode/decode round trip as on a real wire, and a drop hook allows
// tests and tools to inject loss.
package mem

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/gmesh/gmesh-go/pkg/stack"
	"github.com/gmesh/gmesh-go/pkg/transport"
)

// LayerName is this layer's protocol name.
const LayerName = "mem"

// DropFunc decides whether a frame is dropped in transit.
type DropFunc func(from, to stack.Addr, msg *stack.Message) bool

// Hub connects in-process Endpoints.
type Hub struct {
	mutex     sync.RWMutex
	endpoints map[stack.Addr]*Endpoint
	drop      DropFunc
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{
		endpoints: make(map[stack.Addr]*Endpoint),
	}
}

// SetDropFunc installs a loss-injection hook, called once per candidate
// delivery.
func (hub *Hub) SetDropFunc(drop DropFunc) {
	hub.mutex.Lock()
	hub.drop = drop
	hub.mutex.Unlock()
}

// Endpoint creates and registers the Endpoint for addr.
func (hub *Hub) Endpoint(addr stack.Addr) *Endpoint {
	endpoint := &Endpoint{addr: addr, hub: hub}

	hub.mutex.Lock()
	hub.endpoints[addr] = endpoint
	hub.mutex.Unlock()

	return endpoint
}

// dispatch routes an encoded frame to its destination Endpoints.
func (hub *Hub) dispatch(from stack.Addr, dest stack.Addr, data []byte) {
	msg, err := transport.DecodeFrame(data)
	if err != nil {
		log.WithError(err).Warn("Hub drops malformed frame")
		return
	}

	hub.mutex.RLock()
	drop := hub.drop
	var targets []*Endpoint
	if dest != nil && dest.IsUnicast() {
		if endpoint, exists := hub.endpoints[dest]; exists {
			targets = append(targets, endpoint)
		}
	} else {
		for addr, endpoint := range hub.endpoints {
			if addr != from {
				targets = append(targets, endpoint)
			}
		}
	}
	hub.mutex.RUnlock()

	for _, endpoint := range targets {
		if drop != nil && drop(from, endpoint.addr, msg) {
			log.WithFields(log.Fields{
				"from": from,
				"to":   endpoint.addr,
			}).Trace("Hub drops frame on request")
			continue
		}

		endpoint.PassUp(context.Background(), stack.MessageEvent{Msg: msg})
	}
}

// Endpoint is the Layer plugging a Stack into a Hub.
type Endpoint struct {
	stack.Base

	addr stack.Addr
	hub  *Hub
}

// Name returns this layer's protocol name.
func (e *Endpoint) Name() string {
	return LayerName
}

// Start is a no-op; the Hub needs no warmup.
func (e *Endpoint) Start() error {
	return nil
}

// Stop unregisters this Endpoint from its Hub.
func (e *Endpoint) Stop() error {
	e.hub.mutex.Lock()
	delete(e.hub.endpoints, e.addr)
	e.hub.mutex.Unlock()
	return nil
}

// Down encodes a Message and hands the frame to the Hub.
func (e *Endpoint) Down(_ context.Context, ev stack.Event) {
	msgEv, isMsg := ev.(stack.MessageEvent)
	if !isMsg {
		return
	}

	msg := msgEv.Msg
	if msg.Src == nil {
		msg.Src = e.addr
	}

	data, err := transport.EncodeFrame(msg)
	if err != nil {
		log.WithError(err).WithField("msg", msg).Warn("Encoding frame failed, dropping message")
		return
	}

	e.hub.dispatch(e.addr, msg.Dest, data)
}

// Up is never called; nothing exists below an Endpoint.
func (e *Endpoint) Up(_ context.Context, ev stack.Event) {
	log.WithField("event", ev).Error("Hub endpoint received an upward event")
}
