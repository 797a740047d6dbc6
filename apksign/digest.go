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
	"crypto"
	"encoding/binary"
	"hash"
)

// chunkSize is the v2 content digest chunk size (1 MiB).
const chunkSize = 1 << 20

// Digester computes the v2 "chunked" content digest: each Write is split into 1 MiB chunks, each
// chunk is hashed as 0xa5 || uint32le(len) || chunk, and Sum hashes 0x5a || uint32le(count)
// followed by all chunk digests in order. Chunks hash concurrently; Sum waits for them.
//
// Every Write starts a new chunk, so callers write each section (entries, central directory,
// EOCD) separately.
type Digester struct {
	Hash   crypto.Hash
	chunks []chan []byte
}

func NewDigester(h crypto.Hash) *Digester {
	return &Digester{Hash: h}
}

func (d *Digester) Write(p []byte) (n int, err error) {
	d.chunks = append(d.chunks, chunkHashes(p, d.Hash.New)...)
	return len(p), nil
}

func (d *Digester) Sum(b []byte) []byte {
	count := make([]byte, 4)
	binary.LittleEndian.PutUint32(count, uint32(len(d.chunks)))

	accum := d.Hash.New()
	accum.Write([]byte{0x5a})
	accum.Write(count)
	for _, c := range d.chunks {
		accum.Write(<-c)
	}
	d.chunks = nil // each channel has been drained
	return accum.Sum(b)
}

func (d *Digester) Reset() {
	d.chunks = nil
}

func (d *Digester) Size() int {
	return d.Hash.Size()
}

func (d *Digester) BlockSize() int {
	return d.Hash.New().BlockSize()
}

var _ hash.Hash = (*Digester)(nil)

// chunkHashes starts one goroutine per chunk of in and returns the channels their digests arrive
// on, in chunk order. Each channel is buffered so an abandoned Digester leaks nothing.
func chunkHashes(in []byte, newHash func() hash.Hash) []chan []byte {
	var ret []chan []byte
	for len(in) > 0 {
		n := len(in)
		if n > chunkSize {
			n = chunkSize
		}
		buf := make([]byte, 5+n)
		buf[0] = 0xa5
		binary.LittleEndian.PutUint32(buf[1:5], uint32(n))
		copy(buf[5:], in[:n])
		in = in[n:]

		c := make(chan []byte, 1)
		go func(data []byte, h hash.Hash) {
			h.Write(data)
			c <- h.Sum(nil)
		}(buf, newHash())
		ret = append(ret, c)
	}
	return ret
}
