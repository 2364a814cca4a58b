// SPDX-FileCopyrightText: 2025 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package agent contains the application agents sitting on top of a Stack:
// consumers of delivered messages. The daemon runs an EchoAgent answering
// probe messages; tools and tests use a Collector to await deliveries.
package agent
