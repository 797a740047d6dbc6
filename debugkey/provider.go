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

// Package debugkey loads the well-known Android debug signing key from a keystore stream.
//
// The debug keystore convention is fixed: the store and the key are both protected by the password
// "android", and the key lives under the alias "AndroidDebugKey". Keystores are only ever read
// here; a missing keystore is reported, never generated.
package debugkey

import (
	"bytes"
	"crypto"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"io"

	"plt/android/log"
)

const (
	// Password unlocks both the debug keystore and the key entry inside it.
	Password = "android"

	// Alias is the name of the debug key entry.
	Alias = "AndroidDebugKey"

	// CertificateDesc is the subject of the canonical debug certificate. App stores check for it
	// to refuse debug-signed uploads.
	CertificateDesc = "CN=Android Debug,O=Android,C=US"
)

// Provider holds the debug key entry loaded from a keystore.
type Provider struct {
	entry *KeyEntry
	store StoreType
}

// NewProvider reads a keystore from r and extracts the debug key entry. storeType may be
// StoreTypeDefault, in which case the container format is detected.
//
// A nil or empty stream yields an error matching ErrKeystoreAbsent. Any other failure (malformed
// data, wrong password, missing alias) matches ErrKeystoreLoad and no Provider is returned.
// The stream is read to EOF and is not retained.
func NewProvider(r io.Reader, storeType StoreType) (*Provider, error) {
	if r == nil {
		return nil, absent(errors.New("no keystore stream"))
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, loadFailure(storeType, err)
	}
	if len(data) == 0 {
		return nil, absent(errors.New("keystore stream is empty"))
	}

	ks, err := NewKeyStore(storeType, data)
	if err != nil {
		return nil, loadFailure(storeType, err)
	}

	entry, err := loadKeyEntry(ks, data)
	if err != nil {
		log.Debug("debugkey.NewProvider", "failed to load debug key", ks.Type(), err)
		return nil, loadFailure(ks.Type(), err)
	}

	log.Debug("debugkey.NewProvider", "loaded debug key", ks.Type(), entry.Certificate.Subject.String())
	return &Provider{entry: entry, store: ks.Type()}, nil
}

// loadKeyEntry unlocks the store and fetches the debug alias. Password slices are fresh per call
// since backends are free to scrub them.
func loadKeyEntry(ks KeyStore, data []byte) (*KeyEntry, error) {
	if err := ks.Load(bytes.NewReader(data), []byte(Password)); err != nil {
		return nil, err
	}
	entry, err := ks.Entry(Alias, []byte(Password))
	if err != nil {
		return nil, err
	}
	if entry == nil || entry.PrivateKey == nil || entry.Certificate == nil {
		return nil, errors.New("debug alias does not hold a private key entry")
	}
	return entry, nil
}

// DebugKey returns the private key used to sign debug builds.
func (p *Provider) DebugKey() crypto.PrivateKey {
	if p == nil || p.entry == nil {
		return nil
	}
	return p.entry.PrivateKey
}

// Certificate returns the certificate for the debug key.
func (p *Provider) Certificate() *x509.Certificate {
	if p == nil || p.entry == nil {
		return nil
	}
	return p.entry.Certificate
}

// Entry returns the complete key entry.
func (p *Provider) Entry() *KeyEntry {
	if p == nil {
		return nil
	}
	return p.entry
}

// StoreType reports which container format the key was read from.
func (p *Provider) StoreType() StoreType {
	return p.store
}

// IsDebugCertificate reports whether cert carries the canonical debug subject. Attribute order in
// the encoded name is ignored.
func IsDebugCertificate(cert *x509.Certificate) bool {
	if cert == nil {
		return false
	}
	return equalNames(cert.Subject, debugSubject)
}

var debugSubject = pkix.Name{
	CommonName:   "Android Debug",
	Organization: []string{"Android"},
	Country:      []string{"US"},
}

func equalNames(a, b pkix.Name) bool {
	return a.CommonName == b.CommonName &&
		equalStrings(a.Organization, b.Organization) &&
		equalStrings(a.Country, b.Country) &&
		len(a.OrganizationalUnit) == 0 &&
		len(a.Locality) == 0 &&
		len(a.Province) == 0
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
