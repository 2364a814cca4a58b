// SPDX-FileCopyrightText: 2025 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package unicast

import (
	"encoding/binary"
	"fmt"

	"github.com/gmesh/gmesh-go/pkg/stack"
)

// LayerName keys this layer's Header on a Message and in the decoder
// registry.
const LayerName = "unicast"

// DefaultFirstSeqno is the first sequence number a fresh connection assigns.
// Seqno zero is reserved: an Ack field of zero means "no piggybacked ack".
const DefaultFirstSeqno uint64 = 1

// HeaderLength is the fixed wire size of a Header:
// type:1 | seqno:8 | conn_id:8 | first:1 | ack:8.
const HeaderLength = 26

// MsgType discriminates the unicast header types.
type MsgType uint8

const (
	// Data carries an application message with a sequence number.
	Data MsgType = 0

	// Ack acknowledges all sequence numbers up to and including Seqno.
	Ack MsgType = 1

	// SendFirstSeqno asks the peer to resend its lowest unacknowledged
	// message with the first flag set, re-establishing receiver state.
	SendFirstSeqno MsgType = 2
)

func (t MsgType) String() string {
	switch t {
	case Data:
		return "DATA"
	case Ack:
		return "ACK"
	case SendFirstSeqno:
		return "SEND_FIRST_SEQNO"
	default:
		return fmt.Sprintf("unknown message type %d", uint8(t))
	}
}

// Header is the unicast layer's wire header. All multi-byte fields are
// big-endian; the layout is fixed so that it stays byte-identical across
// implementations.
type Header struct {
	Type   MsgType
	Seqno  uint64
	ConnID uint64
	First  bool
	AckNo  uint64
}

// NewDataHeader creates the Header of an outgoing data message. An ackNo of
// zero means no piggybacked acknowledgement.
func NewDataHeader(seqno, connID uint64, first bool, ackNo uint64) *Header {
	return &Header{
		Type:   Data,
		Seqno:  seqno,
		ConnID: connID,
		First:  first,
		AckNo:  ackNo,
	}
}

// NewAckHeader creates the Header of an explicit cumulative acknowledgement.
func NewAckHeader(seqno uint64) *Header {
	return &Header{Type: Ack, Seqno: seqno}
}

// NewSendFirstSeqnoHeader creates the Header of a first-seqno request.
func NewSendFirstSeqnoHeader() *Header {
	return &Header{Type: SendFirstSeqno}
}

// MarshalBinary returns the fixed-width wire form of this Header.
func (h *Header) MarshalBinary() ([]byte, error) {
	if h.Type != Data && h.Type != Ack && h.Type != SendFirstSeqno {
		return nil, fmt.Errorf("invalid message type %d", uint8(h.Type))
	}

	data := make([]byte, HeaderLength)
	data[0] = byte(h.Type)
	binary.BigEndian.PutUint64(data[1:9], h.Seqno)
	binary.BigEndian.PutUint64(data[9:17], h.ConnID)
	if h.First {
		data[17] = 1
	}
	binary.BigEndian.PutUint64(data[18:26], h.AckNo)

	return data, nil
}

// DecodeHeader parses a Header from its fixed-width wire form.
func DecodeHeader(data []byte) (stack.Header, error) {
	if len(data) != HeaderLength {
		return nil, fmt.Errorf("header has %d bytes instead of %d", len(data), HeaderLength)
	}

	h := &Header{
		Type:   MsgType(data[0]),
		Seqno:  binary.BigEndian.Uint64(data[1:9]),
		ConnID: binary.BigEndian.Uint64(data[9:17]),
		AckNo:  binary.BigEndian.Uint64(data[18:26]),
	}

	if h.Type != Data && h.Type != Ack && h.Type != SendFirstSeqno {
		return nil, fmt.Errorf("unknown message type %d", data[0])
	}

	switch data[17] {
	case 0:
		h.First = false
	case 1:
		h.First = true
	default:
		return nil, fmt.Errorf("invalid first flag %d", data[17])
	}

	return h, nil
}

func init() {
	stack.RegisterHeader(LayerName, DecodeHeader)
}

func (h *Header) String() string {
	return fmt.Sprintf("%v, seqno=%d, conn_id=%d, first=%t, ack=%d",
		h.Type, h.Seqno, h.ConnID, h.First, h.AckNo)
}
