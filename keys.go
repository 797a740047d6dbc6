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

package android

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"errors"

	"plt/android/log"
)

// SigningKey pairs an in-memory private key with the algorithms used to sign with it. Currently
// only RSA keys and SHA-2/256 and SHA-2/512 digests are supported.
type SigningKey struct {
	Type KeyAlgorithm
	Hash HashAlgorithm
	Key  *rsa.PrivateKey
}

// Sign returns the input bytes signed using the private key and the provided hash function. The
// returned bytes are a binary DER-encoded PKCS#1v1.5 signature.
func (sk *SigningKey) Sign(data []byte, hash crypto.Hash) ([]byte, error) {
	if !hash.Available() {
		return nil, errors.New("hash function not available")
	}
	h := hash.New()
	h.Write(data)
	return sk.SignPrehashed(h.Sum(nil), hash)
}

// SignPrehashed is the same as Sign, except that its input bytes must be pre-hashed (or at least
// the same length as a digest under the provided crypto.Hash scheme.)
func (sk *SigningKey) SignPrehashed(data []byte, hash crypto.Hash) ([]byte, error) {
	if sk.Key == nil {
		return nil, errors.New("signing key has no private key")
	}
	res, err := rsa.SignPKCS1v15(rand.Reader, sk.Key, hash, data)
	if err != nil {
		log.Debug("SigningKey.SignPrehashed", "error during sign", err)
	}
	return res, err
}

// SigningCert is a SigningKey that adds the X.509 certificate for its public half.
type SigningCert struct {
	SigningKey
	Certificate *x509.Certificate
	CertHash    string // hex SHA-256 of the DER certificate
}

// NewSigningCert wraps a private key and its certificate, as loaded from a keystore. A non-nil
// error is returned if the key is not RSA, if the certificate's public key does not match the
// private key, or if the hash is unsupported.
func NewSigningCert(key crypto.PrivateKey, cert *x509.Certificate, hash HashAlgorithm) (*SigningCert, error) {
	if cert == nil {
		return nil, errors.New("certificate is required")
	}
	if hash.AsHash() == 0 {
		return nil, errors.New("unsupported hash algorithm was specified")
	}

	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		// TODO: support EC debug keys once the PKCS#7 signer can produce ECDSA SignerInfos
		return nil, errors.New("only RSA signing keys are supported")
	}
	certPubKey, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("certificate doesn't contain an RSA public key")
	}
	if rsaKey.N.Cmp(certPubKey.N) != 0 || rsaKey.E != certPubKey.E {
		log.Debug("android.NewSigningCert", "certificate public key does not match private key's copy", cert.Subject.String())
		return nil, errors.New("certificate public key does not match private key's copy")
	}

	b := sha256.Sum256(cert.Raw)
	return &SigningCert{
		SigningKey:  SigningKey{Type: RSA, Hash: hash, Key: rsaKey},
		Certificate: cert,
		CertHash:    hex.EncodeToString(b[:]),
	}, nil
}

// AlgorithmID returns the APK Signature Scheme v2 identifier for this key's cryptosystem.
func (sc *SigningCert) AlgorithmID() AlgorithmID {
	return IDFor(sc.Type, sc.Hash)
}
