// SPDX-FileCopyrightText: 2025 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package transport holds the wire frame shared by gmesh's datagram
// transports, plus the transports themselves in sub-packages. A frame is a
// CBOR envelope of a Message, including its per-layer headers, followed by a
// CRC-16/CCITT trailer. Transports may lose, duplicate or reorder frames;
// everything stronger is the business of the layers above.
package transport

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/dtn7/cboring"
	"github.com/howeyc/crc16"

	"github.com/gmesh/gmesh-go/pkg/stack"
)

// FrameVersion is the wire version of the frame envelope.
const FrameVersion uint64 = 1

// MaxFrameSize bounds a frame to what a single UDP datagram can carry.
const MaxFrameSize = 64 * 1024

var crc16table = crc16.MakeTable(crc16.CCITT)

// EncodeFrame serializes a Message into a frame:
// [version, src, dest, flags, [[name, header], ...], payload] ++ crc16.
func EncodeFrame(msg *stack.Message) ([]byte, error) {
	buff := new(bytes.Buffer)

	if err := cboring.WriteArrayLength(6, buff); err != nil {
		return nil, err
	}
	if err := cboring.WriteUInt(FrameVersion, buff); err != nil {
		return nil, err
	}

	var src string
	if msg.Src != nil {
		src = msg.Src.String()
	}
	if err := cboring.WriteTextString(src, buff); err != nil {
		return nil, err
	}

	var dest string
	if msg.Dest != nil {
		dest = msg.Dest.String()
	}
	if err := cboring.WriteTextString(dest, buff); err != nil {
		return nil, err
	}

	if err := cboring.WriteUInt(uint64(msg.Flags), buff); err != nil {
		return nil, err
	}

	if err := cboring.WriteArrayLength(uint64(msg.NumHeaders()), buff); err != nil {
		return nil, err
	}
	headerErr := msg.EachHeader(func(name string, header stack.Header) error {
		data, err := header.MarshalBinary()
		if err != nil {
			return fmt.Errorf("marshalling %s header failed: %w", name, err)
		}

		if err := cboring.WriteArrayLength(2, buff); err != nil {
			return err
		}
		if err := cboring.WriteTextString(name, buff); err != nil {
			return err
		}
		return cboring.WriteByteString(data, buff)
	})
	if headerErr != nil {
		return nil, headerErr
	}

	if err := cboring.WriteByteString(msg.Payload, buff); err != nil {
		return nil, err
	}

	data := buff.Bytes()
	trailer := make([]byte, 2)
	binary.BigEndian.PutUint16(trailer, crc16.Checksum(data, crc16table))
	data = append(data, trailer...)

	if len(data) > MaxFrameSize {
		return nil, fmt.Errorf("frame of %d bytes exceeds maximum of %d", len(data), MaxFrameSize)
	}

	return data, nil
}

// DecodeFrame parses a frame back into a Message, verifying the checksum
// trailer and reviving each layer's header through the decoder registry.
func DecodeFrame(data []byte) (*stack.Message, error) {
	if len(data) < 3 {
		return nil, fmt.Errorf("frame of %d bytes is too short", len(data))
	}

	body, trailer := data[:len(data)-2], data[len(data)-2:]
	if checksum := crc16.Checksum(body, crc16table); checksum != binary.BigEndian.Uint16(trailer) {
		return nil, fmt.Errorf("checksum mismatch")
	}

	buff := bytes.NewBuffer(body)

	if l, err := cboring.ReadArrayLength(buff); err != nil {
		return nil, err
	} else if l != 6 {
		return nil, fmt.Errorf("frame envelope has %d elements instead of 6", l)
	}

	if version, err := cboring.ReadUInt(buff); err != nil {
		return nil, err
	} else if version != FrameVersion {
		return nil, fmt.Errorf("unsupported frame version %d", version)
	}

	msg := new(stack.Message)

	if src, err := cboring.ReadTextString(buff); err != nil {
		return nil, err
	} else if src != "" {
		addr, err := stack.ParseAddr(src)
		if err != nil {
			return nil, fmt.Errorf("parsing source address failed: %w", err)
		}
		msg.Src = addr
	}

	if dest, err := cboring.ReadTextString(buff); err != nil {
		return nil, err
	} else if dest != "" {
		addr, err := stack.ParseAddr(dest)
		if err != nil {
			return nil, fmt.Errorf("parsing destination address failed: %w", err)
		}
		msg.Dest = addr
	}

	if flags, err := cboring.ReadUInt(buff); err != nil {
		return nil, err
	} else {
		msg.Flags = stack.Flags(flags)
	}

	headers, err := cboring.ReadArrayLength(buff)
	if err != nil {
		return nil, err
	}
	for i := uint64(0); i < headers; i++ {
		if l, err := cboring.ReadArrayLength(buff); err != nil {
			return nil, err
		} else if l != 2 {
			return nil, fmt.Errorf("header pair has %d elements instead of 2", l)
		}

		name, err := cboring.ReadTextString(buff)
		if err != nil {
			return nil, err
		}
		raw, err := cboring.ReadByteString(buff)
		if err != nil {
			return nil, err
		}

		header, err := stack.DecodeHeader(name, raw)
		if err != nil {
			return nil, fmt.Errorf("decoding %s header failed: %w", name, err)
		}
		msg.PutHeader(name, header)
	}

	if payload, err := cboring.ReadByteString(buff); err != nil {
		return nil, err
	} else {
		msg.Payload = payload
	}

	return msg, nil
}
