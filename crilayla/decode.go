// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/cpk

package crilayla

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math/bits"

	"github.com/icza/bitio"
)

// Decompress decodes a modern-layout payload into exactly size bytes.
func Decompress(input []byte, size int) ([]byte, error) {
	return DecompressLayout(input, size, LayoutModern)
}

// LegacyDecompress decodes a legacy-layout payload into exactly size bytes.
func LegacyDecompress(input []byte, size int) ([]byte, error) {
	return DecompressLayout(input, size, LayoutLegacy)
}

// DecompressLayout decodes payload with explicit layout into exactly size bytes.
func DecompressLayout(input []byte, size int, layout Layout) ([]byte, error) {
	if size < 0 {
		return nil, fmt.Errorf("%w: negative size %d", ErrDataCorrupt, size)
	}
	if len(input) > 0 && !HasSignature(input) {
		return nil, fmt.Errorf("%w: missing signature", ErrFormat)
	}

	// Nothing to decode, the bit reader is never created.
	if size == 0 {
		return []byte{}, nil
	}

	if !HasSignature(input) {
		return nil, fmt.Errorf("%w: missing signature", ErrFormat)
	}
	if len(input) < headerSize {
		return nil, fmt.Errorf("%w: short header", ErrFormat)
	}

	prefix := prefixLen(size)
	body := int(binary.LittleEndian.Uint32(input[8:12]))
	if body+prefix != size {
		return nil, fmt.Errorf("%w: declared size %d, want %d", ErrDataCorrupt, body+prefix, size)
	}

	stream, tail, err := splitPayload(input, prefix, layout)
	if err != nil {
		return nil, err
	}

	out := make([]byte, size)
	copy(out, tail)
	if body == 0 {
		return out, nil
	}

	br := bitio.NewReader(bytes.NewReader(reverseStream(stream, layout)))
	if err := decodeBody(br, out, prefix); err != nil {
		return nil, err
	}

	return out, nil
}

// splitPayload returns bitstream and raw prefix block for selected layout.
func splitPayload(input []byte, prefix int, layout Layout) ([]byte, []byte, error) {
	var streamEnd int
	switch layout {
	case LayoutModern:
		streamEnd = headerSize + int(binary.LittleEndian.Uint32(input[12:16]))
	case LayoutLegacy:
		streamEnd = len(input) - prefix
	default:
		return nil, nil, fmt.Errorf("%w: unknown layout %d", ErrFormat, layout)
	}

	if streamEnd < headerSize || streamEnd+prefix > len(input) {
		return nil, nil, fmt.Errorf("%w: payload truncated (%d bytes, stream end %d)", ErrDataCorrupt, len(input), streamEnd)
	}

	return input[headerSize:streamEnd], input[streamEnd : streamEnd+prefix], nil
}

// reverseStream returns a copy of stream that can be read front-to-back MSB-first.
func reverseStream(stream []byte, layout Layout) []byte {
	out := make([]byte, len(stream))
	last := len(stream) - 1
	for i, b := range stream {
		if layout == LayoutLegacy {
			b = bits.Reverse8(b)
		}
		out[last-i] = b
	}

	return out
}

// decodeBody fills out[prefix:] from its end using bitstream commands.
func decodeBody(br *bitio.Reader, out []byte, prefix int) error {
	w := len(out) - 1
	for w >= prefix {
		flag, err := readBits(br, 1)
		if err != nil {
			return err
		}

		if flag == 0 {
			literal, err := readBits(br, 8)
			if err != nil {
				return err
			}

			out[w] = byte(literal)
			w--
			continue
		}

		distance, err := readBits(br, distanceBits)
		if err != nil {
			return err
		}

		length, err := readLength(br)
		if err != nil {
			return err
		}

		src := w + int(distance) + minMatch
		if src >= len(out) {
			return fmt.Errorf("%w: reference 0x%x beyond output end", ErrDataCorrupt, src)
		}
		if w-length+1 < prefix {
			return fmt.Errorf("%w: reference length %d overruns output", ErrDataCorrupt, length)
		}

		for range length {
			out[w] = out[src]
			w--
			src--
		}
	}

	return nil
}

// readLength decodes back-reference length from escalating code widths.
func readLength(br *bitio.Reader) (int, error) {
	length := minMatch
	for _, width := range lengthWidths {
		v, err := readBits(br, width)
		if err != nil {
			return 0, err
		}

		length += int(v)
		if v != 1<<width-1 {
			return length, nil
		}
	}

	for {
		v, err := readBits(br, 8)
		if err != nil {
			return 0, err
		}

		length += int(v)
		if v != 0xff {
			return length, nil
		}
	}
}

// readBits reads n bits and maps stream exhaustion to ErrDataCorrupt.
func readBits(br *bitio.Reader, n uint8) (uint64, error) {
	v, err := br.ReadBits(n)
	if err == nil {
		return v, nil
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return 0, fmt.Errorf("%w: stream exhausted", ErrDataCorrupt)
	}

	return 0, fmt.Errorf("%w: %w", ErrDataCorrupt, err)
}
