// SPDX-FileCopyrightText: 2025 Alvar Penning
// SPDX-FileCopyrightText: 2025 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

package discovery

import (
	"bytes"
	"fmt"
	"io"

	"github.com/dtn7/cboring"
)

// Announcement is one node's periodic self-description.
type Announcement struct {
	Node string
	Port uint
}

// MarshalCbor creates a CBOR representation of an Announcement.
func (announcement *Announcement) MarshalCbor(w io.Writer) error {
	if err := cboring.WriteArrayLength(2, w); err != nil {
		return err
	}

	if err := cboring.WriteTextString(announcement.Node, w); err != nil {
		return err
	}
	return cboring.WriteUInt(uint64(announcement.Port), w)
}

// UnmarshalCbor reads an Announcement from its CBOR representation.
func (announcement *Announcement) UnmarshalCbor(r io.Reader) error {
	if l, err := cboring.ReadArrayLength(r); err != nil {
		return err
	} else if l != 2 {
		return fmt.Errorf("announcement has %d fields instead of 2", l)
	}

	node, err := cboring.ReadTextString(r)
	if err != nil {
		return err
	}
	announcement.Node = node

	port, err := cboring.ReadUInt(r)
	if err != nil {
		return err
	}
	announcement.Port = uint(port)

	return nil
}

// MarshalAnnouncement serializes an Announcement into a byte string.
func MarshalAnnouncement(announcement Announcement) ([]byte, error) {
	buff := new(bytes.Buffer)
	if err := cboring.Marshal(&announcement, buff); err != nil {
		return nil, err
	}
	return buff.Bytes(), nil
}

// UnmarshalAnnouncement parses an Announcement from a byte string.
func UnmarshalAnnouncement(data []byte) (announcement Announcement, err error) {
	err = cboring.Unmarshal(&announcement, bytes.NewBuffer(data))
	return
}
