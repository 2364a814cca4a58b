// SPDX-FileCopyrightText: 2025 Alvar Penning
// SPDX-FileCopyrightText: 2025 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package udp is gmesh's UDP datagram transport: the bottom layer of a
// Stack. It maps peer Addrs to UDP endpoints, sends frames without any
// reliability of its own and hands every incoming frame upward. Loss,
// duplication and reordering pass through untouched; absorbing them is what
// the unicast layer above is for.
package udp

import (
	"context"
	"fmt"
	"net"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/gmesh/gmesh-go/pkg/stack"
	"github.com/gmesh/gmesh-go/pkg/transport"
)

// LayerName is this layer's protocol name.
const LayerName = "udp"

// Transport is a Layer sending and receiving frames over UDP.
type Transport struct {
	stack.Base

	local stack.Addr
	laddr *net.UDPAddr
	conn  *net.UDPConn

	peersMutex sync.RWMutex
	peers      map[stack.Addr]*net.UDPAddr

	stopSyn chan struct{}
	stopAck chan struct{}
}

// NewTransport creates a Transport for the local node, listening on the
// given "host:port" endpoint once started.
func NewTransport(local stack.Addr, listen string) (*Transport, error) {
	laddr, err := net.ResolveUDPAddr("udp", listen)
	if err != nil {
		return nil, fmt.Errorf("resolving listen address %s failed: %w", listen, err)
	}

	return &Transport{
		local: local,
		laddr: laddr,
		peers: make(map[stack.Addr]*net.UDPAddr),
	}, nil
}

// Name returns this layer's protocol name.
func (t *Transport) Name() string {
	return LayerName
}

// SetPeer maps a peer's Addr to its UDP endpoint. Both the static peer list
// of the configuration and the discovery service feed this table.
func (t *Transport) SetPeer(addr stack.Addr, endpoint string) error {
	uaddr, err := net.ResolveUDPAddr("udp", endpoint)
	if err != nil {
		return fmt.Errorf("resolving peer endpoint %s failed: %w", endpoint, err)
	}

	t.peersMutex.Lock()
	t.peers[addr] = uaddr
	t.peersMutex.Unlock()

	log.WithFields(log.Fields{
		"peer":     addr,
		"endpoint": uaddr,
	}).Debug("UDP transport learned peer endpoint")

	return nil
}

// RemovePeer drops a peer's endpoint mapping.
func (t *Transport) RemovePeer(addr stack.Addr) {
	t.peersMutex.Lock()
	delete(t.peers, addr)
	t.peersMutex.Unlock()
}

// Start opens the UDP socket and begins reading frames.
func (t *Transport) Start() error {
	conn, err := net.ListenUDP("udp", t.laddr)
	if err != nil {
		return fmt.Errorf("listening on %v failed: %w", t.laddr, err)
	}

	t.conn = conn
	t.stopSyn = make(chan struct{})
	t.stopAck = make(chan struct{})

	go t.readLoop()

	log.WithField("endpoint", conn.LocalAddr()).Info("UDP transport started")
	return nil
}

// LocalAddr returns the bound UDP address, valid after Start. Useful when
// listening on an ephemeral port.
func (t *Transport) LocalAddr() net.Addr {
	return t.conn.LocalAddr()
}

// Stop closes the socket and waits for the read loop to finish.
func (t *Transport) Stop() error {
	close(t.stopSyn)
	err := t.conn.Close()
	<-t.stopAck
	return err
}

func (t *Transport) readLoop() {
	defer close(t.stopAck)

	buff := make([]byte, transport.MaxFrameSize)
	for {
		n, raddr, err := t.conn.ReadFromUDP(buff)
		if err != nil {
			select {
			case <-t.stopSyn:
				return
			default:
				log.WithError(err).Error("UDP transport read failed")
				return
			}
		}

		data := make([]byte, n)
		copy(data, buff[:n])

		msg, err := transport.DecodeFrame(data)
		if err != nil {
			log.WithError(err).WithField("peer", raddr).Warn("Dropping malformed frame")
			continue
		}

		t.PassUp(context.Background(), stack.MessageEvent{Msg: msg})
	}
}

// Down handles an Event coming from the layer above. Messages are sent as
// frames; everything else ends here, as there is no layer below.
func (t *Transport) Down(ctx context.Context, ev stack.Event) {
	msgEv, isMsg := ev.(stack.MessageEvent)
	if !isMsg {
		log.WithField("event", ev).Trace("UDP transport absorbs non-message event")
		return
	}

	msg := msgEv.Msg
	if msg.Src == nil {
		msg.Src = t.local
	}

	data, err := transport.EncodeFrame(msg)
	if err != nil {
		log.WithError(err).WithField("msg", msg).Warn("Encoding frame failed, dropping message")
		return
	}

	for _, uaddr := range t.destinations(msg.Dest) {
		if _, err := t.conn.WriteToUDP(data, uaddr); err != nil {
			// The reliability layer above retransmits; a failed
			// send is not our problem to solve.
			log.WithError(err).WithFields(log.Fields{
				"peer":     msg.Dest,
				"endpoint": uaddr,
			}).Warn("UDP send failed")
		}
	}
}

// destinations resolves a destination Addr to UDP endpoints: one for a known
// unicast peer, none for an unknown unicast peer, and every known peer for a
// group or a missing destination.
func (t *Transport) destinations(dest stack.Addr) []*net.UDPAddr {
	t.peersMutex.RLock()
	defer t.peersMutex.RUnlock()

	if dest != nil && dest.IsUnicast() {
		if uaddr, exists := t.peers[dest]; exists {
			return []*net.UDPAddr{uaddr}
		}

		log.WithField("peer", dest).Warn("No endpoint known for peer, dropping message")
		return nil
	}

	uaddrs := make([]*net.UDPAddr, 0, len(t.peers))
	for _, uaddr := range t.peers {
		uaddrs = append(uaddrs, uaddr)
	}
	return uaddrs
}

// Up is never called; nothing exists below a Transport.
func (t *Transport) Up(_ context.Context, ev stack.Event) {
	log.WithField("event", ev).Error("UDP transport received an upward event")
}
