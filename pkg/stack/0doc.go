// SPDX-FileCopyrightText: 2025 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package stack provides the protocol-stack framework of gmesh: endpoint
// addresses, messages with per-layer headers, the events exchanged between
// layers, the Layer contract and the Stack composing Layers into a running
// protocol element.
//
// A Stack is a vertical arrangement of Layers. Events travel in two
// directions: Down, from the application towards the transport, and Up, from
// the transport towards the application. Each Layer may consume, modify or
// forward the events it sees. The context.Context threaded through both
// directions carries request-scoped values across an upcall/downcall
// boundary, e.g. a pending acknowledgement a reliability layer wants to
// piggyback onto the next outgoing message of the same peer.
package stack
