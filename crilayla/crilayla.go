// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/cpk

/*
Package crilayla implements the CRILAYLA back-reference codec used for
compressed CPK payloads.

A compressed payload is laid out as:

	0x00  "CRILAYLA"
	0x08  u32 LE  body size (decoded size without the raw prefix block)
	0x0C  u32 LE  stream length
	0x10  bitstream (stream length bytes)
	....  raw prefix block (first min(0x100, size) bytes of decoded output)

The bitstream is consumed from its last byte toward its first. Decoded output
is filled from its end toward the raw prefix block.

	data, err := crilayla.Decompress(payload, extractSize)
	if err != nil {
	    return err
	}
*/
package crilayla

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// Signature is the fixed marker at the start of every compressed payload.
const Signature = "CRILAYLA"

const (
	// headerSize is signature + body size + stream length.
	headerSize = 16
	// prefixSize is the raw block length stored after the bitstream.
	prefixSize = 0x100
	// minMatch is the shortest back-reference length.
	minMatch = 3
	// distanceBits is the width of a back-reference distance code.
	distanceBits = 13
	// maxDistance is the largest encodable back-reference distance.
	maxDistance = 1<<distanceBits - 1 + minMatch
)

// lengthWidths are the escalating length code widths.
var lengthWidths = [...]uint8{2, 3, 5, 8}

var (
	// ErrFormat means the input does not carry a valid CRILAYLA header.
	ErrFormat = errors.New("crilayla: invalid format")
	// ErrDataCorrupt means the bitstream does not decode to the declared size.
	ErrDataCorrupt = errors.New("crilayla: corrupt data")
)

// Layout selects the bitstream layout variant.
type Layout uint8

const (
	// LayoutModern is the layout written by current tooling.
	LayoutModern Layout = iota
	// LayoutLegacy derives the stream end from the input length and reads bits LSB-first.
	LayoutLegacy
)

// String returns layout name.
func (l Layout) String() string {
	switch l {
	case LayoutModern:
		return "modern"
	case LayoutLegacy:
		return "legacy"
	default:
		return fmt.Sprintf("layout(%d)", uint8(l))
	}
}

// HasSignature reports whether b starts with the CRILAYLA signature.
func HasSignature(b []byte) bool {
	return len(b) >= len(Signature) && bytes.Equal(b[:len(Signature)], []byte(Signature))
}

// DecodedLen returns decoded size declared by a compressed payload header.
// The raw prefix block is counted as present when the payload is long enough to carry it.
func DecodedLen(input []byte) (int, error) {
	if !HasSignature(input) {
		return 0, fmt.Errorf("%w: missing signature", ErrFormat)
	}
	if len(input) < headerSize {
		return 0, fmt.Errorf("%w: short header", ErrFormat)
	}

	body := int(binary.LittleEndian.Uint32(input[8:12]))
	stream := int(binary.LittleEndian.Uint32(input[12:16]))
	prefix := len(input) - headerSize - stream
	if prefix < 0 {
		return 0, fmt.Errorf("%w: stream length %d exceeds payload", ErrDataCorrupt, stream)
	}
	if prefix > prefixSize {
		prefix = prefixSize
	}
	if body > 0 && prefix < prefixSize {
		return 0, fmt.Errorf("%w: raw prefix block is truncated", ErrDataCorrupt)
	}

	return body + prefix, nil
}

// prefixLen returns raw prefix block length for decoded size.
func prefixLen(size int) int {
	if size < prefixSize {
		return size
	}

	return prefixSize
}
