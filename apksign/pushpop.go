// Copyright © 2018 Playground Global, LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package apksign

import (
	"encoding/binary"
	"errors"
)

// The v2 signing block is nested little-endian length-prefixed sequences. These helpers consume
// ("pop") a value off the front of a slice and return the remainder, or build ("push") a
// length-prefixed copy.

var errShortBlock = errors.New("malformed signing block - truncated")

// pop32 pops a little-endian uint32. The caller guarantees at least 4 bytes.
func pop32(in []byte) (uint32, []byte) {
	return binary.LittleEndian.Uint32(in[:4]), in[4:]
}

// pop64 pops a little-endian uint64. The caller guarantees at least 8 bytes.
func pop64(in []byte) (uint64, []byte) {
	return binary.LittleEndian.Uint64(in[:8]), in[8:]
}

// popN splits off the first count bytes.
func popN(in []byte, count int) ([]byte, []byte) {
	return in[:count], in[count:]
}

// popPrefixed pops a uint32 length and then that many bytes, failing instead of panicking when
// the input is too short.
func popPrefixed(in []byte) ([]byte, []byte, error) {
	if len(in) < 4 {
		return nil, nil, errShortBlock
	}
	n, in := pop32(in)
	if uint64(n) > uint64(len(in)) {
		return nil, nil, errShortBlock
	}
	v, rest := popN(in, int(n))
	return v, rest, nil
}

// push32 returns a new slice holding the uint32 length of in followed by in.
func push32(in []byte) []byte {
	out := make([]byte, 4+len(in))
	binary.LittleEndian.PutUint32(out, uint32(len(in)))
	copy(out[4:], in)
	return out
}

// push64 returns a new slice holding the uint64 length of in followed by in.
func push64(in []byte) []byte {
	out := make([]byte, 8+len(in))
	binary.LittleEndian.PutUint64(out, uint64(len(in)))
	copy(out[8:], in)
	return out
}

// idValue returns a new slice holding id followed by the uint32 length of value and value itself,
// the shape shared by v2 digests, signatures and attributes.
func idValue(id uint32, value []byte) []byte {
	out := make([]byte, 8+len(value))
	binary.LittleEndian.PutUint32(out, id)
	binary.LittleEndian.PutUint32(out[4:], uint32(len(value)))
	copy(out[8:], value)
	return out
}

// concat returns the input slices back to back in a new slice.
func concat(blocks ...[]byte) []byte {
	total := 0
	for _, b := range blocks {
		total += len(b)
	}
	out := make([]byte, 0, total)
	for _, b := range blocks {
		out = append(out, b...)
	}
	return out
}
