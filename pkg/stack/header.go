// SPDX-FileCopyrightText: 2025 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package stack

import (
	"fmt"
	"sync"
)

// Header is a per-layer protocol header attached to a Message. Each layer
// knows only its own Header type; the transport serializes them opaquely.
type Header interface {
	// MarshalBinary returns the wire form of this Header.
	MarshalBinary() ([]byte, error)
}

// HeaderDecoder revives a layer's Header from its wire form.
type HeaderDecoder func(data []byte) (Header, error)

var (
	headerDecodersMutex sync.RWMutex
	headerDecoders      = make(map[string]HeaderDecoder)
)

// RegisterHeader registers a HeaderDecoder for a layer name. Registration
// happens from a layer package's init function; registering the same name
// twice is a programming error and panics.
func RegisterHeader(name string, decoder HeaderDecoder) {
	headerDecodersMutex.Lock()
	defer headerDecodersMutex.Unlock()

	if _, exists := headerDecoders[name]; exists {
		panic(fmt.Sprintf("header decoder for %s is already registered", name))
	}
	headerDecoders[name] = decoder
}

// DecodeHeader revives the named layer's Header from data. An unknown name is
// an error, as it indicates a frame from an incompatible stack.
func DecodeHeader(name string, data []byte) (Header, error) {
	headerDecodersMutex.RLock()
	decoder, exists := headerDecoders[name]
	headerDecodersMutex.RUnlock()

	if !exists {
		return nil, fmt.Errorf("no header decoder registered for %s", name)
	}
	return decoder(data)
}
