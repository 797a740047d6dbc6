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
	"crypto/rsa"
	"crypto/x509"
	"encoding/binary"
	"errors"
	"sort"

	"plt/android"
	"plt/android/log"
)

// See https://source.android.com/security/apksigning/v2.html

// v2BlockID is the ID of the APK Signature Scheme v2 pair within the APK Signing Block.
const v2BlockID = 0x7109871a

type Digest struct {
	AlgorithmID android.AlgorithmID
	Digest      []byte
}

type Attribute struct {
	ID    uint32
	Value []byte
}

type SignedData struct {
	Digests    []*Digest
	Certs      []*x509.Certificate
	Attributes []*Attribute
	Raw        []byte // exact bytes the signatures cover
}

type Signature struct {
	AlgorithmID android.AlgorithmID
	Signature   []byte
}

type V2Signer struct {
	SignedData *SignedData
	Signatures []*Signature
	PublicKey  []byte // DER SubjectPublicKeyInfo
}

// V2Block is the APK Signature Scheme v2 value: one or more signers.
type V2Block struct {
	Signers []*V2Signer
}

// ParseV2Block parses the ID/value pairs of an APK Signing Block (without its size fields and
// magic). Exactly one pair, the v2 one, is accepted.
func ParseV2Block(block []byte) (*V2Block, error) {
	if len(block) < 12 {
		return nil, errShortBlock
	}

	pairLen, block := pop64(block)
	if uint64(len(block)) != pairLen {
		// Extra pairs are either another v2 block (an attack), a later scheme we can't check, or
		// someone's private data. We refuse all three.
		log.Debug("apksign.ParseV2Block", "unsupported: multiple ID/Value pair blocks at top level", pairLen, len(block))
		return nil, errors.New("unsupported: multiple ID/Value pair blocks at top level")
	}

	id, block := pop32(block)
	if id != v2BlockID {
		return nil, errors.New("unsupported: not an Android v2 signature block")
	}

	signers, rest, err := popPrefixed(block)
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, errors.New("spurious data after signers sequence")
	}

	v2 := &V2Block{}
	for len(signers) > 0 {
		var signer []byte
		if signer, signers, err = popPrefixed(signers); err != nil {
			return nil, errors.New("malformed signing block - bad signer length")
		}
		s, err := ParseV2Signer(signer)
		if err != nil {
			return nil, err
		}
		v2.Signers = append(v2.Signers, s)
	}

	return v2, nil
}

func ParseV2Signer(signer []byte) (*V2Signer, error) {
	signedData, signer, err := popPrefixed(signer)
	if err != nil {
		return nil, errors.New("malformed signed data block")
	}
	sd, err := ParseSignedData(signedData)
	if err != nil {
		return nil, err
	}

	signatures, signer, err := popPrefixed(signer)
	if err != nil {
		return nil, errors.New("malformed or missing signatures block")
	}
	sigs, err := ParseSignatures(signatures)
	if err != nil {
		return nil, err
	}
	if len(sigs) == 0 {
		return nil, errors.New("malformed signatures block - block is empty")
	}

	publicKey, signer, err := popPrefixed(signer)
	if err != nil || len(signer) != 0 {
		return nil, errors.New("malformed signer block - erroneous public key length")
	}

	return &V2Signer{SignedData: sd, Signatures: sigs, PublicKey: publicKey}, nil
}

func ParseSignedData(sd []byte) (*SignedData, error) {
	out := &SignedData{Raw: append([]byte(nil), sd...)}

	digests, sd, err := popPrefixed(sd)
	if err != nil {
		return nil, errors.New("malformed signed data block - bogus digests sub block")
	}
	for len(digests) > 0 {
		var d []byte
		if d, digests, err = popPrefixed(digests); err != nil || len(d) < 8 {
			return nil, errors.New("malformed digests block")
		}
		algID, d := pop32(d)
		value, rest, err := popPrefixed(d)
		if err != nil || len(rest) != 0 {
			return nil, errors.New("malformed digests block - bad digest length")
		}
		out.Digests = append(out.Digests, &Digest{android.AlgorithmID(algID), value})
	}

	certs, sd, err := popPrefixed(sd)
	if err != nil {
		return nil, errors.New("malformed certificates block - long length")
	}
	for len(certs) > 0 {
		var der []byte
		if der, certs, err = popPrefixed(certs); err != nil {
			return nil, errors.New("malformed certificates block - bad cert length")
		}
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, err
		}
		out.Certs = append(out.Certs, cert)
	}

	attrs, sd, err := popPrefixed(sd)
	if err != nil {
		return nil, errors.New("malformed attributes block - long length")
	}
	for len(attrs) > 0 {
		var a []byte
		if a, attrs, err = popPrefixed(attrs); err != nil || len(a) < 4 {
			return nil, errors.New("malformed attributes block")
		}
		id, value := pop32(a)
		out.Attributes = append(out.Attributes, &Attribute{id, append([]byte(nil), value...)})
	}

	if len(sd) != 0 {
		return nil, errors.New("malformed signed data block - extra bytes")
	}
	return out, nil
}

func ParseSignatures(sigs []byte) ([]*Signature, error) {
	var ret []*Signature
	for len(sigs) > 0 {
		var s []byte
		var err error
		if s, sigs, err = popPrefixed(sigs); err != nil || len(s) < 8 {
			return nil, errors.New("malformed signatures block - short sig block")
		}
		algID, s := pop32(s)
		value, rest, err := popPrefixed(s)
		if err != nil || len(rest) != 0 {
			return nil, errors.New("malformed signatures block - mismatched sizes")
		}
		ret = append(ret, &Signature{android.AlgorithmID(algID), value})
	}
	return ret, nil
}

// Verify checks every signer against z. Only RSA PKCS#1 v1.5 signatures are supported.
func (v2 *V2Block) Verify(z *Zip) error {
	// NewZip already checked that the size fields agree, that the CD is followed by the EOCD and
	// that nothing follows the EOCD.

	if len(v2.Signers) < 1 {
		return errors.New("no signers in signing block")
	}

	for _, signer := range v2.Signers {
		// pick the strongest supported algorithm
		var sig *Signature
		for _, s := range signer.Signatures {
			if s.AlgorithmID != android.RSA_PKCS_SHA256 && s.AlgorithmID != android.RSA_PKCS_SHA512 {
				continue
			}
			if sig == nil || s.AlgorithmID > sig.AlgorithmID {
				sig = s
			}
		}
		if sig == nil {
			return errors.New("no supported algorithm ID in signatures")
		}

		pubkey, err := x509.ParsePKIXPublicKey(signer.PublicKey)
		if err != nil {
			return err
		}
		rsaKey, ok := pubkey.(*rsa.PublicKey)
		if !ok {
			return errors.New("unsupported signature algorithm (only RSA currently supported)")
		}
		hashed := sum(sig.AlgorithmID.Hash(), signer.SignedData.Raw)
		if err = rsa.VerifyPKCS1v15(rsaKey, sig.AlgorithmID.Hash(), hashed, sig.Signature); err != nil {
			return err
		}

		// digests and signatures must list the same algorithms in the same order
		if len(signer.Signatures) != len(signer.SignedData.Digests) {
			return errors.New("signature/digest length mismatch")
		}
		var dig *Digest
		for i := range signer.Signatures {
			if signer.Signatures[i].AlgorithmID != signer.SignedData.Digests[i].AlgorithmID {
				return errors.New("signature/digest algorithm mismatch")
			}
			if signer.Signatures[i] == sig {
				dig = signer.SignedData.Digests[i]
			}
		}

		if !bytes.Equal(z.contentDigest(sig.AlgorithmID), dig.Digest) {
			return errors.New("hash mismatch")
		}

		if len(signer.SignedData.Certs) == 0 {
			return errors.New("signer has no certificates")
		}
		if !bytes.Equal(signer.SignedData.Certs[0].RawSubjectPublicKeyInfo, signer.PublicKey) {
			return errors.New("SubjectPublicKeyInfo mismatch")
		}
	}

	return nil
}

// Sign computes a v2 block for z and returns the zip bytes with the block injected before the
// central directory. Keys sharing a certificate are grouped into one signer.
func (v2 *V2Block) Sign(z *Zip, keys []*android.SigningCert) ([]byte, error) {
	v2.Signers = nil

	keyMap := make(map[string][]*android.SigningCert)
	var certHashes []string
	for _, sk := range keys {
		if _, ok := keyMap[sk.CertHash]; !ok {
			certHashes = append(certHashes, sk.CertHash)
		}
		keyMap[sk.CertHash] = append(keyMap[sk.CertHash], sk)
	}
	sort.Strings(certHashes)

	for _, certHash := range certHashes {
		sks := keyMap[certHash]
		cert := sks[0].Certificate

		s := &V2Signer{
			SignedData: &SignedData{Certs: []*x509.Certificate{cert}},
			PublicKey:  append([]byte(nil), cert.RawSubjectPublicKeyInfo...),
		}

		for _, sk := range sks {
			algID := sk.AlgorithmID()
			if algID != android.RSA_PKCS_SHA256 && algID != android.RSA_PKCS_SHA512 {
				return nil, errors.New("unsupported key type or hash algorithm specified")
			}
			s.SignedData.Digests = append(s.SignedData.Digests, &Digest{algID, z.contentDigest(algID)})
			s.Signatures = append(s.Signatures, &Signature{AlgorithmID: algID})
		}

		s.SignedData.Raw = s.SignedData.Marshal()
		for i, sk := range sks {
			var err error
			if s.Signatures[i].Signature, err = sk.Sign(s.SignedData.Raw, sk.Hash.AsHash()); err != nil {
				return nil, err
			}
		}

		v2.Signers = append(v2.Signers, s)
	}

	pairs := v2.Marshal()

	// sanity check that we generated a block that parses
	if _, err := ParseV2Block(pairs); err != nil {
		return nil, err
	}

	// size covers the pairs, the trailing size copy and the magic, but not the leading size copy
	size := uint64(len(pairs) + 8 + 16)
	block := make([]byte, 8, size+8)
	binary.LittleEndian.PutUint64(block, size)
	block = append(block, pairs...)
	block = binary.LittleEndian.AppendUint64(block, size)
	block = append(block, asv2Magic...)

	return z.InjectBeforeCD(block), nil
}

// Marshal returns the single v2 ID/value pair, length prefix included.
func (v2 *V2Block) Marshal() []byte {
	blocks := make([][]byte, 0, len(v2.Signers))
	for _, signer := range v2.Signers {
		blocks = append(blocks, push32(signer.Marshal()))
	}

	id := make([]byte, 4)
	binary.LittleEndian.PutUint32(id, v2BlockID)
	return push64(concat(id, push32(concat(blocks...))))
}

func (s *V2Signer) Marshal() []byte {
	if s == nil {
		return nil
	}

	sigs := make([][]byte, 0, len(s.Signatures))
	for _, sig := range s.Signatures {
		sigs = append(sigs, push32(sig.Marshal()))
	}
	return concat(push32(s.SignedData.Marshal()), push32(concat(sigs...)), push32(s.PublicKey))
}

func (sd *SignedData) Marshal() []byte {
	if sd == nil {
		return nil
	}

	blocks := make([][]byte, 0, len(sd.Digests))
	for _, d := range sd.Digests {
		blocks = append(blocks, push32(d.Marshal()))
	}
	digests := push32(concat(blocks...))

	blocks = make([][]byte, 0, len(sd.Certs))
	for _, c := range sd.Certs {
		blocks = append(blocks, push32(c.Raw))
	}
	certs := push32(concat(blocks...))

	blocks = make([][]byte, 0, len(sd.Attributes))
	for _, a := range sd.Attributes {
		blocks = append(blocks, push32(a.Marshal()))
	}
	attrs := push32(concat(blocks...))

	return concat(digests, certs, attrs)
}

func (s *Signature) Marshal() []byte {
	if s == nil {
		return nil
	}
	return idValue(uint32(s.AlgorithmID), s.Signature)
}

func (a *Attribute) Marshal() []byte {
	if a == nil {
		return nil
	}
	out := make([]byte, 4, 4+len(a.Value))
	binary.LittleEndian.PutUint32(out, a.ID)
	return append(out, a.Value...)
}

func (d *Digest) Marshal() []byte {
	if d == nil {
		return nil
	}
	return idValue(uint32(d.AlgorithmID), d.Digest)
}
