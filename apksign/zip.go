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
	"bytes"
	"encoding/binary"
	"errors"

	"github.com/klauspost/compress/zip"

	"plt/android"
	"plt/android/log"
)

const (
	eocdMagic    = 0x06054b50
	cdMagic      = 0x02014b50
	eocdSize     = 22
	asv2Magic    = "APK Sig Block 42"
	maxCommentSz = 0xffff
)

// Zip loads and inspects a finished zip/APK: where its central directory, end of central
// directory and APK Signature Scheme v2 block are, whether it looks like an Android APK, and
// which signature schemes it carries.
//
// See https://source.android.com/security/apksigning/v2.html
type Zip struct {
	IsAPK      bool
	IsV1Signed bool
	IsV2Signed bool

	raw        []byte
	size       int64
	eocdOffset uint64
	cdOffset   uint64
	asv2Offset uint64
	rawASv2    []byte
}

// NewZip parses its input as a Zip file. A non-nil error is returned if the input does not parse
// as a Zip. The IsAPK, IsV1Signed and IsV2Signed flags are only meaningful when err is nil.
//
// The v2 block sits between the entries and the central directory, outside anything the zip
// format describes, so the offsets are found by scanning bytes rather than with a zip library.
func NewZip(buf []byte) (*Zip, error) {
	z := &Zip{}

	z.size = int64(len(buf))
	z.raw = make([]byte, z.size)
	copy(z.raw, buf)

	if z.size < eocdSize {
		return nil, errors.New("input is too small to be a zip")
	}

	for i := int64(0); i <= maxCommentSz && z.size-eocdSize-i >= 0; i++ {
		// The EOCD has 22 bytes of fixed fields followed by a variable-length comment, so scan
		// backwards from EOF - 22 for its magic.
		start := z.size - eocdSize - i
		b := z.raw[start : start+eocdSize]
		if binary.LittleEndian.Uint32(b[:4]) != eocdMagic {
			continue
		}

		// The comment could contain the magic too: the comment length must account exactly for
		// the bytes after this candidate. This also guarantees nothing follows the EOCD.
		if int64(binary.LittleEndian.Uint16(b[20:22])) != i {
			continue
		}

		candidateEOCD := uint64(start)
		eocdCD := uint64(binary.LittleEndian.Uint32(b[16:20]))
		eocdCDLen := uint64(binary.LittleEndian.Uint32(b[12:16]))
		if eocdCD+4 > candidateEOCD || binary.LittleEndian.Uint32(z.raw[eocdCD:]) != cdMagic {
			continue
		}

		// the central directory must be immediately followed by the EOCD
		if eocdCD+eocdCDLen != candidateEOCD {
			return nil, errors.New("CD not adjacent to EOCD")
		}

		z.cdOffset = eocdCD
		z.eocdOffset = candidateEOCD

		if err := z.classify(); err != nil {
			return nil, err
		}
		z.findV2Block()

		log.Debug("apksign.NewZip", "ASv2, CD, EOCD", z.asv2Offset, z.cdOffset, z.eocdOffset)
		return z, nil
	}

	return nil, errors.New("input is not a zip")
}

// classify sets IsAPK and IsV1Signed from the entry names.
func (z *Zip) classify() error {
	r, err := zip.NewReader(bytes.NewReader(z.raw), z.size)
	if err != nil {
		return err
	}

	var hasClassesDex, hasAndroidManifestXML, hasResourcesARSC, hasManifest, hasSF, hasBlock bool
	for _, f := range r.File {
		switch f.Name {
		case "classes.dex":
			hasClassesDex = true
		case "AndroidManifest.xml":
			hasAndroidManifestXML = true
		case "resources.arsc":
			hasResourcesARSC = true
		case manifestPath:
			hasManifest = true
		}
		hasSF = hasSF || signedFileRE.MatchString(f.Name)
		hasBlock = hasBlock || sigBlockRE.MatchString(f.Name) || sigRE.MatchString(f.Name)
	}
	z.IsAPK = hasClassesDex && hasAndroidManifestXML && hasResourcesARSC
	z.IsV1Signed = hasManifest && (hasSF || hasBlock) // doesn't mean it validates
	return nil
}

// findV2Block looks for the signing block magic right before the central directory and checks
// that its two size fields agree.
func (z *Zip) findV2Block() {
	if z.cdOffset < 16+8 {
		return
	}
	if string(z.raw[z.cdOffset-16:z.cdOffset]) != asv2Magic {
		return
	}

	// the size is repeated at both ends of the block and excludes the leading copy of itself
	postSize := binary.LittleEndian.Uint64(z.raw[z.cdOffset-24:])
	if postSize < 24 || postSize+8 > z.cdOffset {
		return
	}
	start := z.cdOffset - postSize - 8
	preSize := binary.LittleEndian.Uint64(z.raw[start:])
	if preSize != postSize {
		return
	}

	z.asv2Offset = start
	z.rawASv2 = make([]byte, preSize-24)
	copy(z.rawASv2, z.raw[start+8:])
	z.IsV2Signed = true
}

// VerifyV1 returns a non-nil error unless the zip has a v1 (signed JAR) signature that verifies.
func (z *Zip) VerifyV1() error {
	if !z.IsV1Signed {
		return errors.New("v1 verification attempted on non-v1-signed file")
	}

	r, err := ParseZip(z.raw)
	if err != nil {
		return err
	}
	return r.Verify()
}

// VerifyV2 returns a non-nil error unless the zip has an APK Signature Scheme v2 signature that
// verifies.
func (z *Zip) VerifyV2() error {
	v2, err := z.V2Block()
	if err != nil {
		return err
	}
	return v2.Verify(z)
}

// V2Block parses the APK Signature Scheme v2 block without verifying it.
func (z *Zip) V2Block() (*V2Block, error) {
	if !z.IsV2Signed {
		return nil, errors.New("v2 verification attempted on non-v2-signed file")
	}
	return ParseV2Block(z.rawASv2)
}

// Verify checks the strongest signature present: v2 if there is one, else v1.
func (z *Zip) Verify() error {
	if z.IsV2Signed {
		return z.VerifyV2()
	}
	if !z.IsV1Signed {
		return errors.New("APK not recognized as signed")
	}
	return z.VerifyV1()
}

// SignV1 re-signs the zip with the signed-JAR scheme only. Existing signature files are dropped.
func (z *Zip) SignV1(keys []*android.SigningCert) (*Zip, error) {
	return z.resign(keys, false)
}

// SignV2 adds an APK Signature Scheme v2 block, replacing any existing one, and leaves the entries
// untouched.
func (z *Zip) SignV2(keys []*android.SigningCert) (*Zip, error) {
	v2 := &V2Block{}
	b, err := v2.Sign(z, keys)
	if err != nil {
		return nil, err
	}
	return NewZip(b)
}

// Sign re-signs the zip with both schemes. This is not SignV1 followed by SignV2: the .SF files
// announce the v2 signature so that it can't be stripped.
func (z *Zip) Sign(keys []*android.SigningCert) (*Zip, error) {
	return z.resign(keys, true)
}

func (z *Zip) resign(keys []*android.SigningCert, v2 bool) (*Zip, error) {
	var buf bytes.Buffer

	cfg := defaultConfig()
	cfg.v2 = v2
	b, err := newBuilder(NopWriteCloser(&buf), keys, cfg)
	if err != nil {
		return nil, err
	}
	if err = b.AddArchive(bytes.NewReader(z.raw), nil); err != nil {
		b.abandon()
		return nil, err
	}
	if err = b.Finalize(); err != nil {
		return nil, err
	}
	return NewZip(buf.Bytes())
}

// contentDigest is the v2 digest of the zip as if it had no v2 block: entries, central directory,
// and an EOCD whose CD offset is rewritten to where the v2 block starts.
func (z *Zip) contentDigest(h android.AlgorithmID) []byte {
	endOfEntries := z.asv2Offset
	if endOfEntries == 0 {
		endOfEntries = z.cdOffset
	}

	d := NewDigester(h.Hash())
	d.Write(z.raw[:endOfEntries])
	d.Write(z.raw[z.cdOffset:z.eocdOffset])

	eocd := make([]byte, z.size-int64(z.eocdOffset))
	copy(eocd, z.raw[z.eocdOffset:])
	binary.LittleEndian.PutUint32(eocd[16:20], uint32(endOfEntries))
	d.Write(eocd)

	return d.Sum(nil)
}

// InjectBeforeCD returns a copy of the zip with data inserted right before the central directory
// (replacing any existing v2 block) and the EOCD's CD offset updated to match. z is unchanged.
func (z *Zip) InjectBeforeCD(data []byte) []byte {
	endOfEntries := z.cdOffset
	if z.asv2Offset > 0 {
		endOfEntries = z.asv2Offset
	}

	eocd := make([]byte, z.size-int64(z.eocdOffset))
	copy(eocd, z.raw[z.eocdOffset:])
	binary.LittleEndian.PutUint32(eocd[16:], uint32(endOfEntries+uint64(len(data))))

	return concat(z.raw[:endOfEntries], data, z.raw[z.cdOffset:z.eocdOffset], eocd)
}

// Bytes returns a copy of the zip's bytes.
func (z *Zip) Bytes() []byte {
	ret := make([]byte, len(z.raw))
	copy(ret, z.raw)
	return ret
}
