// SPDX-FileCopyrightText: 2025 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// gmesh-ping probes the reliable unicast layer: it builds two in-process
// stacks connected by the in-memory transport, optionally with injected
// frame loss, sends sequenced probe messages from one to the other and
// reports round-trip times and the layer's counters.
package main

import (
	"context"
	"flag"
	"math/rand"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/gmesh/gmesh-go/pkg/agent"
	"github.com/gmesh/gmesh-go/pkg/discovery"
	"github.com/gmesh/gmesh-go/pkg/sched"
	"github.com/gmesh/gmesh-go/pkg/stack"
	"github.com/gmesh/gmesh-go/pkg/transport/mem"
	"github.com/gmesh/gmesh-go/pkg/unicast"
)

func buildStack(hub *mem.Hub, addr stack.Addr, scheduler *sched.Scheduler) (*stack.Stack, *unicast.Layer) {
	unicastLayer, err := unicast.NewLayer(unicast.DefaultConfig(), scheduler)
	if err != nil {
		log.WithError(err).Fatal("Failed to create unicast layer")
	}

	s, err := stack.NewStack(hub.Endpoint(addr), unicastLayer)
	if err != nil {
		log.WithError(err).Fatal("Failed to build stack")
	}

	return s, unicastLayer
}

func main() {
	var (
		count    = flag.Int("count", 10, "amount of probes to send")
		interval = flag.Duration("interval", 100*time.Millisecond, "delay between probes")
		timeout  = flag.Duration("timeout", 10*time.Second, "per-probe response timeout")
		oob      = flag.Bool("oob", false, "flag probes for out-of-band delivery")
		loss     = flag.Float64("loss", 0, "frame loss probability in [0, 1)")
		verbose  = flag.Bool("verbose", false, "debug logging")
	)
	flag.Parse()

	if *verbose {
		log.SetLevel(log.DebugLevel)
	}

	pinger := stack.NewNodeAddr("pinger")
	ponger := stack.NewNodeAddr("ponger")

	hub := mem.NewHub()
	if *loss > 0 {
		rng := rand.New(rand.NewSource(time.Now().UnixNano()))
		hub.SetDropFunc(func(_, _ stack.Addr, _ *stack.Message) bool {
			return rng.Float64() < *loss
		})
	}

	scheduler := sched.NewScheduler()
	defer scheduler.Stop()

	pingStack, pingLayer := buildStack(hub, pinger, scheduler)
	pongStack, _ := buildStack(hub, ponger, scheduler)

	collector := agent.NewCollector(*count)
	pingStack.OnDeliver(collector.Handler())
	pongStack.OnDeliver(agent.NewEchoAgent(pongStack).Handler())

	for _, s := range []*stack.Stack{pingStack, pongStack} {
		if err := s.Start(); err != nil {
			log.WithError(err).Fatal("Failed to start stack")
		}
		defer func(s *stack.Stack) { _ = s.Stop() }(s)
	}

	ctx := context.Background()
	view := discovery.StaticView(pinger, ponger)
	for _, s := range []*stack.Stack{pingStack, pongStack} {
		s.Inject(ctx, stack.ConnectEvent{})
		s.Inject(ctx, stack.ViewEvent{View: view})
	}
	pingStack.Inject(ctx, stack.SetLocalAddressEvent{Addr: pinger})
	pongStack.Inject(ctx, stack.SetLocalAddressEvent{Addr: ponger})

	var flags stack.Flags
	if *oob {
		flags = stack.FlagOOB
	}

	received := 0
	var rttMin, rttMax, rttSum time.Duration

	for seq := uint64(1); seq <= uint64(*count); seq++ {
		msg := stack.NewMessage(ponger, agent.MarshalProbe(false, seq))
		msg.Flags = flags

		start := time.Now()
		pingStack.Send(ctx, msg)

		reply, ok := collector.Next(*timeout)
		if !ok {
			log.WithField("seq", seq).Error("Probe timed out")
			continue
		}

		response, replySeq, err := agent.UnmarshalProbe(reply.Payload)
		if err != nil || !response {
			log.WithField("seq", seq).Error("Received unexpected payload")
			continue
		}

		rtt := time.Since(start)
		log.WithFields(log.Fields{
			"seq": replySeq,
			"rtt": rtt,
		}).Info("Probe answered")

		received++
		rttSum += rtt
		if rttMin == 0 || rtt < rttMin {
			rttMin = rtt
		}
		if rtt > rttMax {
			rttMax = rtt
		}

		time.Sleep(*interval)
	}

	if received > 0 {
		log.WithFields(log.Fields{
			"sent":     *count,
			"received": received,
			"rtt_min":  rttMin,
			"rtt_avg":  rttSum / time.Duration(received),
			"rtt_max":  rttMax,
		}).Info("Probe summary")
	} else {
		log.Error("No probe was answered")
	}

	log.WithField("stats", pingLayer.Snapshot()).Info("Unicast layer counters")
}
