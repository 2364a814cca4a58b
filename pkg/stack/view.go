// SPDX-FileCopyrightText: 2025 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package stack

import (
	"sort"
	"strings"
)

// View is an ordered snapshot of the cluster membership, as published by the
// membership service. Members are ordered lexicographically by their textual
// form, which makes Views deterministic and comparable across nodes.
type View struct {
	members []Addr
}

// NewView creates a View of the given members, ordered and deduplicated.
func NewView(members ...Addr) *View {
	set := make(map[Addr]struct{}, len(members))
	for _, member := range members {
		if member != nil {
			set[member] = struct{}{}
		}
	}

	ordered := make([]Addr, 0, len(set))
	for member := range set {
		ordered = append(ordered, member)
	}
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].String() < ordered[j].String()
	})

	return &View{members: ordered}
}

// Members returns a copy of the ordered member list.
func (v *View) Members() []Addr {
	members := make([]Addr, len(v.members))
	copy(members, v.members)
	return members
}

// Size returns the amount of members.
func (v *View) Size() int {
	return len(v.members)
}

// Contains reports whether addr is a member of this View.
func (v *View) Contains(addr Addr) bool {
	for _, member := range v.members {
		if member == addr {
			return true
		}
	}
	return false
}

// Equal reports whether both Views contain the same members.
func (v *View) Equal(other *View) bool {
	if other == nil || len(v.members) != len(other.members) {
		return false
	}
	for i := range v.members {
		if v.members[i] != other.members[i] {
			return false
		}
	}
	return true
}

func (v *View) String() string {
	names := make([]string, len(v.members))
	for i, member := range v.members {
		names[i] = member.String()
	}
	return "[" + strings.Join(names, ", ") + "]"
}
