// SPDX-FileCopyrightText: 2025 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package agent

import (
	"encoding/binary"
	"fmt"
)

// Probe payloads are the tiny request/response pairs exchanged by
// gmesh-ping and the EchoAgent: a kind byte followed by a big-endian
// sequence number.
const (
	probeRequest  byte = 'P'
	probeResponse byte = 'R'

	probeLength = 9
)

// MarshalProbe builds a probe payload.
func MarshalProbe(response bool, seq uint64) []byte {
	data := make([]byte, probeLength)
	if response {
		data[0] = probeResponse
	} else {
		data[0] = probeRequest
	}
	binary.BigEndian.PutUint64(data[1:], seq)
	return data
}

// UnmarshalProbe parses a probe payload.
func UnmarshalProbe(data []byte) (response bool, seq uint64, err error) {
	if len(data) != probeLength {
		return false, 0, fmt.Errorf("probe payload has %d bytes instead of %d", len(data), probeLength)
	}

	switch data[0] {
	case probeRequest:
		response = false
	case probeResponse:
		response = true
	default:
		return false, 0, fmt.Errorf("unknown probe kind %#x", data[0])
	}

	return response, binary.BigEndian.Uint64(data[1:]), nil
}
