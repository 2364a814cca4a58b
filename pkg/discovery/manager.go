// SPDX-FileCopyrightText: 2025 Alvar Penning
// SPDX-FileCopyrightText: 2025 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

package discovery

import (
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/schollz/peerdiscovery"

	"github.com/gmesh/gmesh-go/pkg/stack"
)

// missedIntervals is the liveness horizon: a peer not heard for this many
// announcement intervals is dropped from the View.
const missedIntervals = 3

// ViewFunc receives every changed membership View.
type ViewFunc func(view *stack.View)

// PeerFunc receives the transport endpoint of every discovered peer.
type PeerFunc func(addr stack.Addr, endpoint string)

// Manager publishes and receives Announcements and derives membership Views.
type Manager struct {
	node stack.NodeAddr

	onView ViewFunc
	onPeer PeerFunc

	mutex    sync.Mutex
	lastSeen map[stack.NodeAddr]time.Time
	lastView *stack.View

	interval time.Duration

	stopChan4 chan struct{}
	stopChan6 chan struct{}
}

// NewManager creates and starts a Manager announcing the local node's name
// and transport port. Changed Views go to onView, discovered peer endpoints
// to onPeer; both are called from discovery goroutines.
func NewManager(node stack.NodeAddr, transportPort uint, interval time.Duration,
	ipv4, ipv6 bool, onView ViewFunc, onPeer PeerFunc) (*Manager, error) {

	manager := &Manager{
		node:     node,
		onView:   onView,
		onPeer:   onPeer,
		lastSeen: make(map[stack.NodeAddr]time.Time),
		interval: interval,
	}
	if ipv4 {
		manager.stopChan4 = make(chan struct{})
	}
	if ipv6 {
		manager.stopChan6 = make(chan struct{})
	}

	log.WithFields(log.Fields{
		"node":     node,
		"interval": interval,
		"IPv4":     ipv4,
		"IPv6":     ipv6,
	}).Info("Starting discovery manager")

	payload, err := MarshalAnnouncement(Announcement{Node: node.String(), Port: transportPort})
	if err != nil {
		return nil, err
	}

	sets := []struct {
		active           bool
		multicastAddress string
		stopChan         chan struct{}
		ipVersion        peerdiscovery.IPVersion
		notify           func(discovered peerdiscovery.Discovered)
	}{
		{ipv4, address4, manager.stopChan4, peerdiscovery.IPv4, manager.notify},
		{ipv6, address6, manager.stopChan6, peerdiscovery.IPv6, manager.notify6},
	}

	for _, set := range sets {
		if !set.active {
			continue
		}

		settings := peerdiscovery.Settings{
			Limit:            -1,
			Port:             fmt.Sprintf("%d", port),
			MulticastAddress: set.multicastAddress,
			Payload:          payload,
			Delay:            interval,
			TimeLimit:        -1,
			StopChan:         set.stopChan,
			AllowSelf:        true,
			IPVersion:        set.ipVersion,
			Notify:           set.notify,
		}

		discoverErrChan := make(chan error)
		go func() {
			_, discoverErr := peerdiscovery.Discover(settings)
			discoverErrChan <- discoverErr
		}()

		select {
		case discoverErr := <-discoverErrChan:
			if discoverErr != nil {
				return nil, discoverErr
			}

		case <-time.After(time.Second):
			break
		}
	}

	return manager, nil
}

func (manager *Manager) notify6(discovered peerdiscovery.Discovered) {
	discovered.Address = fmt.Sprintf("[%s]", discovered.Address)

	manager.notify(discovered)
}

func (manager *Manager) notify(discovered peerdiscovery.Discovered) {
	announcement, err := UnmarshalAnnouncement(discovered.Payload)
	if err != nil {
		log.WithError(err).WithField("peer", discovered.Address).Warn(
			"Peer announced malformed payload")
		return
	}

	peer := stack.NewNodeAddr(announcement.Node)
	if peer == manager.node {
		manager.refresh(peer)
		return
	}

	log.WithFields(log.Fields{
		"node":     peer,
		"endpoint": discovered.Address,
		"port":     announcement.Port,
	}).Debug("Discovery heard peer announcement")

	if manager.onPeer != nil {
		manager.onPeer(peer, fmt.Sprintf("%s:%d", discovered.Address, announcement.Port))
	}

	manager.refresh(peer)
}

// refresh updates a peer's liveness, prunes silent peers and publishes the
// View if it changed.
func (manager *Manager) refresh(peer stack.NodeAddr) {
	manager.mutex.Lock()

	manager.lastSeen[peer] = time.Now()

	horizon := time.Duration(missedIntervals) * manager.interval
	for node, seen := range manager.lastSeen {
		if time.Since(seen) > horizon {
			delete(manager.lastSeen, node)
		}
	}

	members := make([]stack.Addr, 0, len(manager.lastSeen)+1)
	members = append(members, manager.node)
	for node := range manager.lastSeen {
		members = append(members, node)
	}

	view := stack.NewView(members...)
	changed := !view.Equal(manager.lastView)
	if changed {
		manager.lastView = view
	}

	manager.mutex.Unlock()

	if changed {
		log.WithField("view", view).Info("Membership view changed")
		if manager.onView != nil {
			manager.onView(view)
		}
	}
}

// Close stops the Manager's discovery loops.
func (manager *Manager) Close() {
	if manager.stopChan4 != nil {
		close(manager.stopChan4)
	}
	if manager.stopChan6 != nil {
		close(manager.stopChan6)
	}
}

// StaticView builds the View of a fixed peer list, for closed networks
// without multicast discovery.
func StaticView(local stack.Addr, peers ...stack.Addr) *stack.View {
	members := append([]stack.Addr{local}, peers...)
	return stack.NewView(members...)
}
