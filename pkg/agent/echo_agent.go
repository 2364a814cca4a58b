// SPDX-FileCopyrightText: 2025 Alvar Penning
// SPDX-FileCopyrightText: 2025 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

package agent

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/gmesh/gmesh-go/pkg/stack"
)

// EchoAgent answers probe requests with probe responses and logs every other
// delivery. Responses go down the same Stack the request came up, within the
// delivering call tree, so reliability-layer acknowledgements can piggyback
// onto them.
type EchoAgent struct {
	send func(ctx context.Context, msg *stack.Message)
}

// NewEchoAgent creates an EchoAgent sending its responses through s.
func NewEchoAgent(s *stack.Stack) *EchoAgent {
	return &EchoAgent{send: s.Send}
}

// Handler returns the stack.Handler to register via Stack.OnDeliver.
func (ea *EchoAgent) Handler() stack.Handler {
	return func(ctx context.Context, ev stack.Event) {
		msgEv, isMsg := ev.(stack.MessageEvent)
		if !isMsg {
			log.WithField("event", ev).Debug("Echo agent ignores non-message event")
			return
		}

		ea.deliver(ctx, msgEv.Msg)
	}
}

func (ea *EchoAgent) deliver(ctx context.Context, msg *stack.Message) {
	response, seq, err := UnmarshalProbe(msg.Payload)
	if err != nil {
		log.WithFields(log.Fields{
			"peer":  msg.Src,
			"bytes": msg.Len(),
		}).Info("Received message")
		return
	}

	if response {
		log.WithFields(log.Fields{
			"peer": msg.Src,
			"seq":  seq,
		}).Debug("Ignoring probe response; no probe sent from here")
		return
	}

	reply := stack.NewMessage(msg.Src, MarshalProbe(true, seq))
	reply.Flags = msg.Flags

	ea.send(ctx, reply)
}
