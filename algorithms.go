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

// Package android holds the signing identity shared by the APK signing schemes: the debug key
// loaded from a keystore, its certificate, and the algorithm identifiers used to describe them.
package android

import (
	"crypto"
	"fmt"
	"strings"
)

// KeyAlgorithm names a public-key cryptosystem. Only RSA is used for debug signing.
type KeyAlgorithm string

const (
	RSA KeyAlgorithm = "RSA"
	EC  KeyAlgorithm = "EC"
	DSA KeyAlgorithm = "DSA"
)

// HashAlgorithm names a digest used for signatures, in a form that can come from a command-line
// flag. AsHash maps it to the crypto.Hash implementation.
type HashAlgorithm string

const (
	SHA256 HashAlgorithm = "SHA256"
	SHA512 HashAlgorithm = "SHA512"
)

// ParseHashAlgorithm accepts "sha256"/"SHA-256"/"SHA256" style spellings.
func ParseHashAlgorithm(s string) (HashAlgorithm, error) {
	switch strings.ToUpper(strings.ReplaceAll(s, "-", "")) {
	case "", "SHA256":
		return SHA256, nil
	case "SHA512":
		return SHA512, nil
	default:
		return "", fmt.Errorf("unsupported hash algorithm %q", s)
	}
}

// AsHash turns our string-based enum type into a Go crypto.Hash value. Unknown values map to 0,
// which crypto.Hash.Available reports as unavailable.
func (h HashAlgorithm) AsHash() crypto.Hash {
	switch h {
	case SHA256:
		return crypto.SHA256
	case SHA512:
		return crypto.SHA512
	default:
		return 0
	}
}

// AlgorithmID labels the APK Signature Scheme v2 signature algorithms. These serve the same
// function as ASN.1 object identifiers, but in an integer format.
type AlgorithmID uint32

const (
	RSAPSS_SHA256   AlgorithmID = 0x0101
	RSAPSS_SHA512   AlgorithmID = 0x0102
	RSA_PKCS_SHA256 AlgorithmID = 0x0103
	RSA_PKCS_SHA512 AlgorithmID = 0x0104
	ECDSA_SHA256    AlgorithmID = 0x0201
	ECDSA_SHA512    AlgorithmID = 0x0202
	DSA_SHA256      AlgorithmID = 0x0301
)

func (id AlgorithmID) String() string {
	switch id {
	case RSAPSS_SHA256:
		return "RSASSA-PSS with SHA2-256 digest, SHA2-256 MGF1, 32 bytes of salt, trailer: 0xbc"
	case RSAPSS_SHA512:
		return "RSASSA-PSS with SHA2-512 digest, SHA2-512 MGF1, 64 bytes of salt, trailer: 0xbc"
	case RSA_PKCS_SHA256:
		return "RSASSA-PKCS1-v1_5 with SHA2-256 digest"
	case RSA_PKCS_SHA512:
		return "RSASSA-PKCS1-v1_5 with SHA2-512 digest"
	case ECDSA_SHA256:
		return "ECDSA with SHA2-256 digest"
	case ECDSA_SHA512:
		return "ECDSA with SHA2-512 digest"
	case DSA_SHA256:
		return "DSA with SHA2-256 digest"
	default:
		return fmt.Sprintf("unknown algorithm 0x%04x", uint32(id))
	}
}

// Hash returns the content digest that goes with the signature algorithm, or 0 if unknown.
func (id AlgorithmID) Hash() crypto.Hash {
	switch id {
	case RSAPSS_SHA256, RSA_PKCS_SHA256, ECDSA_SHA256, DSA_SHA256:
		return crypto.SHA256
	case RSAPSS_SHA512, RSA_PKCS_SHA512, ECDSA_SHA512:
		return crypto.SHA512
	default:
		return 0
	}
}

// IDFor returns the v2 signature algorithm for a key type and digest, or 0 when the pair has no
// defined identifier.
func IDFor(key KeyAlgorithm, hash HashAlgorithm) AlgorithmID {
	switch key {
	case RSA:
		switch hash {
		case SHA256:
			return RSA_PKCS_SHA256
		case SHA512:
			return RSA_PKCS_SHA512
		}
	case EC:
		switch hash {
		case SHA256:
			return ECDSA_SHA256
		case SHA512:
			return ECDSA_SHA512
		}
	case DSA:
		if hash == SHA256 {
			return DSA_SHA256
		}
	}
	return 0
}
