// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/cpk

package crilayla

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/icza/bitio"
)

const (
	// maxChainDepth bounds candidate positions visited per match search.
	maxChainDepth = 128
	// maxMatchLen bounds one back-reference length.
	maxMatchLen = 1 << 16
)

// Compress encodes raw with the modern layout.
func Compress(raw []byte) ([]byte, error) {
	return CompressLayout(raw, LayoutModern)
}

// LegacyCompress encodes raw with the legacy layout.
func LegacyCompress(raw []byte) ([]byte, error) {
	return CompressLayout(raw, LayoutLegacy)
}

// CompressLayout encodes raw with explicit layout.
func CompressLayout(raw []byte, layout Layout) ([]byte, error) {
	if layout != LayoutModern && layout != LayoutLegacy {
		return nil, fmt.Errorf("%w: unknown layout %d", ErrFormat, layout)
	}
	if uint64(len(raw)) > math.MaxUint32 {
		return nil, fmt.Errorf("%w: input of %d bytes exceeds 4 GiB", ErrFormat, len(raw))
	}

	prefix := prefixLen(len(raw))

	var packed bytes.Buffer
	bw := bitio.NewWriter(&packed)
	encodeBody(bw, raw, prefix)
	if err := bw.Close(); err != nil {
		return nil, fmt.Errorf("flush bitstream: %w", err)
	}
	if bw.TryError != nil {
		return nil, fmt.Errorf("write bitstream: %w", bw.TryError)
	}

	// Bits were written in decode order, the payload stores them back-to-front.
	stream := reverseStream(packed.Bytes(), layout)

	out := make([]byte, headerSize, headerSize+len(stream)+prefix)
	copy(out, Signature)
	binary.LittleEndian.PutUint32(out[8:12], uint32(len(raw)-prefix))
	binary.LittleEndian.PutUint32(out[12:16], uint32(len(stream)))
	out = append(out, stream...)
	out = append(out, raw[:prefix]...)

	return out, nil
}

// encodeBody writes commands for raw[prefix:] walking from the end toward prefix.
func encodeBody(bw *bitio.Writer, raw []byte, prefix int) {
	chains := make(map[uint32][]int32)
	insert := func(p int) {
		// Position s becomes a match source once raw[s-2] is emitted.
		s := p + 2
		if s < len(raw) {
			key := matchKey(raw, s)
			chains[key] = append(chains[key], int32(s))
		}
	}

	i := len(raw) - 1
	for i >= prefix {
		length, distance := findMatch(raw, chains, i, prefix)
		if length < minMatch {
			bw.TryWriteBool(false)
			bw.TryWriteBits(uint64(raw[i]), 8)
			insert(i)
			i--
			continue
		}

		bw.TryWriteBool(true)
		bw.TryWriteBits(uint64(distance-minMatch), distanceBits)
		writeLength(bw, length-minMatch)
		for p := i; p > i-length; p-- {
			insert(p)
		}
		i -= length
	}
}

// findMatch returns the longest back-reference available at position i.
func findMatch(raw []byte, chains map[uint32][]int32, i int, prefix int) (int, int) {
	if i-2 < prefix {
		return 0, 0
	}

	limit := i - prefix + 1
	if limit > maxMatchLen {
		limit = maxMatchLen
	}

	candidates := chains[matchKey(raw, i)]
	bestLen, bestDist := 0, 0
	depth := 0
	for k := len(candidates) - 1; k >= 0 && depth < maxChainDepth; k-- {
		s := int(candidates[k])
		distance := s - i
		if distance > maxDistance {
			break
		}
		depth++

		n := 0
		for n < limit && raw[i-n] == raw[s-n] {
			n++
		}
		if n > bestLen {
			bestLen, bestDist = n, distance
			if n == limit {
				break
			}
		}
	}

	return bestLen, bestDist
}

// writeLength encodes extra back-reference length with escalating widths.
func writeLength(bw *bitio.Writer, rem int) {
	for _, width := range lengthWidths {
		limit := 1<<width - 1
		if rem < limit {
			bw.TryWriteBits(uint64(rem), width)
			return
		}

		bw.TryWriteBits(uint64(limit), width)
		rem -= limit
	}

	for rem >= 0xff {
		bw.TryWriteBits(0xff, 8)
		rem -= 0xff
	}
	bw.TryWriteBits(uint64(rem), 8)
}

// matchKey hashes three bytes ending at s walking backward.
func matchKey(raw []byte, s int) uint32 {
	return uint32(raw[s])<<16 | uint32(raw[s-1])<<8 | uint32(raw[s-2])
}
