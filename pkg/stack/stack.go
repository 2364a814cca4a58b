// SPDX-FileCopyrightText: 2025 Alvar Penning
// SPDX-FileCopyrightText: 2025 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

package stack

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"
)

// Stack composes Layers into a running protocol element. The Layer order is
// bottom-up: the first Layer is the transport, the last one sits directly
// below the application.
type Stack struct {
	layers  []Layer
	deliver Handler
}

// NewStack wires the given Layers, bottom first. The wiring connects each
// Layer's upward output to the Up of its upper neighbor and its downward
// output to the Down of its lower neighbor. The topmost Layer's upward output
// goes to the delivery Handler set via OnDeliver.
func NewStack(layers ...Layer) (*Stack, error) {
	if len(layers) == 0 {
		return nil, fmt.Errorf("a stack needs at least one layer")
	}

	s := &Stack{layers: layers}

	for i, layer := range layers {
		if i > 0 {
			lower := layers[i-1]
			layer.SetDownward(lower.Down)
		} else {
			layer.SetDownward(func(_ context.Context, ev Event) {
				log.WithField("event", ev).Trace("Event fell off the bottom of the stack")
			})
		}

		if i < len(layers)-1 {
			upper := layers[i+1]
			layer.SetUpward(upper.Up)
		} else {
			layer.SetUpward(s.topUpward)
		}
	}

	return s, nil
}

func (s *Stack) topUpward(ctx context.Context, ev Event) {
	if s.deliver == nil {
		log.WithField("event", ev).Trace("No delivery handler registered, dropping event")
		return
	}
	s.deliver(ctx, ev)
}

// OnDeliver registers the Handler receiving everything leaving the topmost
// Layer upwards. Must be called before Start.
func (s *Stack) OnDeliver(h Handler) {
	s.deliver = h
}

// Top returns the topmost Layer.
func (s *Stack) Top() Layer {
	return s.layers[len(s.layers)-1]
}

// Send pushes a Message down through the topmost Layer.
func (s *Stack) Send(ctx context.Context, msg *Message) {
	s.Top().Down(ctx, MessageEvent{Msg: msg})
}

// Inject pushes an arbitrary Event down through the topmost Layer, e.g. a
// ViewEvent from the membership service.
func (s *Stack) Inject(ctx context.Context, ev Event) {
	s.Top().Down(ctx, ev)
}

// Start the Layers bottom-up. The first failing Layer aborts the startup;
// already started Layers are stopped again and all errors are aggregated.
func (s *Stack) Start() error {
	for i, layer := range s.layers {
		if err := layer.Start(); err != nil {
			err = fmt.Errorf("starting layer %s failed: %w", layer.Name(), err)
			for j := i - 1; j >= 0; j-- {
				if stopErr := s.layers[j].Stop(); stopErr != nil {
					err = multierror.Append(err, stopErr)
				}
			}
			return err
		}

		log.WithField("layer", layer.Name()).Debug("Stack started layer")
	}
	return nil
}

// Stop the Layers top-down, aggregating all errors.
func (s *Stack) Stop() error {
	var err *multierror.Error
	for i := len(s.layers) - 1; i >= 0; i-- {
		if stopErr := s.layers[i].Stop(); stopErr != nil {
			err = multierror.Append(err, fmt.Errorf(
				"stopping layer %s failed: %w", s.layers[i].Name(), stopErr))
		}
	}
	return err.ErrorOrNil()
}
