// SPDX-FileCopyrightText: 2025 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package stack

import (
	"context"

	log "github.com/sirupsen/logrus"
)

// Handler consumes an Event, together with the request-scoped Context of the
// call tree it belongs to.
type Handler func(ctx context.Context, ev Event)

// Layer is a protocol element of a Stack. Events enter a Layer via Down from
// the layer above and via Up from the layer below; results leave through the
// handlers set by the Stack during wiring.
//
// A Layer must be thread-safe: multiple goroutines may call Up and Down
// concurrently. A Layer must never call back into the Stack while holding
// internal locks.
type Layer interface {
	// Name returns the layer's protocol name, also used as its header key.
	Name() string

	// Start prepares the Layer for operation. It is called bottom-up.
	Start() error

	// Stop terminates the Layer's operation. It is called top-down.
	Stop() error

	// Down handles an Event coming from the layer above.
	Down(ctx context.Context, ev Event)

	// Up handles an Event coming from the layer below.
	Up(ctx context.Context, ev Event)

	// SetUpward sets the Handler receiving this Layer's upward output.
	SetUpward(h Handler)

	// SetDownward sets the Handler receiving this Layer's downward output.
	SetDownward(h Handler)
}

// Base provides the handler wiring of a Layer and is meant to be embedded.
// Handlers must be set before the Stack starts; afterwards they are read
// without synchronization.
type Base struct {
	upward   Handler
	downward Handler
}

// SetUpward sets the Handler receiving this Layer's upward output.
func (b *Base) SetUpward(h Handler) {
	b.upward = h
}

// SetDownward sets the Handler receiving this Layer's downward output.
func (b *Base) SetDownward(h Handler) {
	b.downward = h
}

// PassUp forwards an Event to the layer above.
func (b *Base) PassUp(ctx context.Context, ev Event) {
	if b.upward == nil {
		log.WithField("event", ev).Trace("No upward handler wired, dropping event")
		return
	}
	b.upward(ctx, ev)
}

// PassDown forwards an Event to the layer below.
func (b *Base) PassDown(ctx context.Context, ev Event) {
	if b.downward == nil {
		log.WithField("event", ev).Trace("No downward handler wired, dropping event")
		return
	}
	b.downward(ctx, ev)
}
