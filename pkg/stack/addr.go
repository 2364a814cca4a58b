// SPDX-FileCopyrightText: 2025 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package stack

import (
	"fmt"
	"strings"
)

// Addr identifies an endpoint within a gmesh cluster. Implementations must be
// comparable, as Addrs are used as map keys throughout the stack.
type Addr interface {
	// IsUnicast reports whether this Addr names a single node, as opposed
	// to a multicast group.
	IsUnicast() bool

	fmt.Stringer
}

// NodeAddr is the Addr of a single node, identified by its name.
type NodeAddr struct {
	name string
}

// NewNodeAddr creates a NodeAddr for the given node name.
func NewNodeAddr(name string) NodeAddr {
	return NodeAddr{name: name}
}

// IsUnicast is always true for a NodeAddr.
func (addr NodeAddr) IsUnicast() bool {
	return true
}

func (addr NodeAddr) String() string {
	return addr.name
}

// GroupAddr is the Addr of a multicast group, identified by its name prefixed
// with a number sign in its textual form.
type GroupAddr struct {
	name string
}

// NewGroupAddr creates a GroupAddr for the given group name.
func NewGroupAddr(name string) GroupAddr {
	return GroupAddr{name: name}
}

// IsUnicast is always false for a GroupAddr.
func (addr GroupAddr) IsUnicast() bool {
	return false
}

func (addr GroupAddr) String() string {
	return "#" + addr.name
}

// ParseAddr parses the textual form of an Addr: "#name" becomes a GroupAddr,
// everything else a NodeAddr. An empty string is an error.
func ParseAddr(s string) (Addr, error) {
	if s == "" {
		return nil, fmt.Errorf("empty address")
	}

	if strings.HasPrefix(s, "#") {
		if len(s) == 1 {
			return nil, fmt.Errorf("empty group address")
		}
		return NewGroupAddr(s[1:]), nil
	}

	return NewNodeAddr(s), nil
}
