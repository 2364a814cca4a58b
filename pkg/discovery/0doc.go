// SPDX-FileCopyrightText: 2025 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package discovery is gmesh's membership service. Nodes announce themselves
// through UDP multicast; every node derives the current membership View from
// the announcements it hears and publishes changed Views to its listeners.
// A static mode covers closed networks without multicast.
package discovery

const (
	// address4 is the default multicast IPv4 address used for discovery.
	address4 = "224.23.23.23"

	// address6 is the default multicast IPv6 address used for discovery.
	address6 = "ff02::23"

	// port is the default multicast UDP port used for discovery.
	port = 35039
)
