// SPDX-FileCopyrightText: 2025 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

package unicast

import (
	"fmt"
	"sync/atomic"
)

// Stats are the unicast layer's counters. All fields are updated atomically
// on the data path and may be read concurrently.
type Stats struct {
	MsgsSent      atomic.Int64
	MsgsReceived  atomic.Int64
	BytesSent     atomic.Int64
	BytesReceived atomic.Int64
	AcksSent      atomic.Int64
	AcksReceived  atomic.Int64
	Xmits         atomic.Int64
}

// StatsSnapshot is a point-in-time copy of Stats plus the derived gauges.
type StatsSnapshot struct {
	MsgsSent          int64
	MsgsReceived      int64
	BytesSent         int64
	BytesReceived     int64
	AcksSent          int64
	AcksReceived      int64
	Xmits             int64
	UndeliveredMsgs   int64
	UnackedMsgs       int64
	MsgsInRecvWindows int64
}

// Reset zeroes all counters.
func (stats *Stats) Reset() {
	stats.MsgsSent.Store(0)
	stats.MsgsReceived.Store(0)
	stats.BytesSent.Store(0)
	stats.BytesReceived.Store(0)
	stats.AcksSent.Store(0)
	stats.AcksReceived.Store(0)
	stats.Xmits.Store(0)
}

func (snapshot StatsSnapshot) String() string {
	return fmt.Sprintf(
		"sent=%d received=%d bytes_sent=%d bytes_received=%d acks_sent=%d acks_received=%d xmits=%d undelivered=%d unacked=%d in_recv_windows=%d",
		snapshot.MsgsSent, snapshot.MsgsReceived, snapshot.BytesSent,
		snapshot.BytesReceived, snapshot.AcksSent, snapshot.AcksReceived,
		snapshot.Xmits, snapshot.UndeliveredMsgs, snapshot.UnackedMsgs,
		snapshot.MsgsInRecvWindows)
}
