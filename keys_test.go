// Copyright © 2019 Playground Global, LLC
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

package android

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509/pkix"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plt/android/internal/testkeys"
)

func TestNewSigningCert(t *testing.T) {
	key, cert, err := testkeys.DebugKey()
	require.NoError(t, err)

	sc, err := NewSigningCert(key, cert, SHA256)
	require.NoError(t, err)
	assert.Equal(t, RSA, sc.Type)
	assert.Equal(t, RSA_PKCS_SHA256, sc.AlgorithmID())
	assert.Len(t, sc.CertHash, 64)

	sig, err := sc.Sign([]byte("payload"), crypto.SHA256)
	require.NoError(t, err)
	digest := sha256.Sum256([]byte("payload"))
	assert.NoError(t, rsa.VerifyPKCS1v15(&key.PublicKey, crypto.SHA256, digest[:], sig))

	sc512, err := NewSigningCert(key, cert, SHA512)
	require.NoError(t, err)
	assert.Equal(t, RSA_PKCS_SHA512, sc512.AlgorithmID())
	assert.Equal(t, sc.CertHash, sc512.CertHash)
}

func TestNewSigningCertRejects(t *testing.T) {
	key, cert, err := testkeys.DebugKey()
	require.NoError(t, err)
	_, other, err := testkeys.NewKey(pkix.Name{CommonName: "Other"})
	require.NoError(t, err)
	ec, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	_, err = NewSigningCert(key, other, SHA256)
	assert.Error(t, err, "mismatched certificate")
	_, err = NewSigningCert(key, nil, SHA256)
	assert.Error(t, err, "nil certificate")
	_, err = NewSigningCert(ec, cert, SHA256)
	assert.Error(t, err, "EC key")
	_, err = NewSigningCert(key, cert, "MD5")
	assert.Error(t, err, "unsupported hash")
}

func TestSignWithoutKey(t *testing.T) {
	sk := &SigningKey{Type: RSA, Hash: SHA256}
	_, err := sk.Sign([]byte("x"), crypto.SHA256)
	assert.Error(t, err)
}

func TestAlgorithms(t *testing.T) {
	for in, want := range map[string]HashAlgorithm{"": SHA256, "sha256": SHA256, "SHA-512": SHA512} {
		got, err := ParseHashAlgorithm(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := ParseHashAlgorithm("md5")
	assert.Error(t, err)

	assert.Equal(t, crypto.SHA512, SHA512.AsHash())
	assert.Equal(t, crypto.Hash(0), HashAlgorithm("SHA1").AsHash())

	assert.Equal(t, ECDSA_SHA256, IDFor(EC, SHA256))
	assert.Equal(t, AlgorithmID(0), IDFor(DSA, SHA512))
	assert.Equal(t, crypto.SHA512, RSAPSS_SHA512.Hash())
	assert.Equal(t, crypto.Hash(0), AlgorithmID(0x9999).Hash())
	assert.Equal(t, "unknown algorithm 0x9999", AlgorithmID(0x9999).String())
}
