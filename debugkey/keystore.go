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

package debugkey

import (
	"crypto"
	"crypto/x509"
	"encoding/binary"
	"fmt"
	"io"
	"strings"
	"time"
)

// StoreType selects a keystore container format. The zero value picks the default.
type StoreType string

const (
	StoreTypeDefault StoreType = ""
	StoreTypeJKS     StoreType = "JKS"
	StoreTypePKCS12  StoreType = "PKCS12"
)

// ParseStoreType accepts the usual keytool spellings ("jks", "pkcs12", "PKCS#12"); the empty
// string selects StoreTypeDefault.
func ParseStoreType(s string) (StoreType, error) {
	switch strings.ToUpper(strings.ReplaceAll(s, "#", "")) {
	case "":
		return StoreTypeDefault, nil
	case "JKS":
		return StoreTypeJKS, nil
	case "PKCS12", "P12", "PFX":
		return StoreTypePKCS12, nil
	default:
		return "", fmt.Errorf("unsupported keystore type %q", s)
	}
}

const (
	jksMagic   = 0xfeedfeed
	jceksMagic = 0xcececece
)

// KeyEntry is a private key and its certificate, as stored under one alias.
type KeyEntry struct {
	PrivateKey  crypto.PrivateKey
	Certificate *x509.Certificate
	Chain       []*x509.Certificate // issuers after Certificate, if the store has them
	Created     time.Time           // zero when the container does not record it
}

// KeyStore is a keystore container backend.
type KeyStore interface {
	// Load reads the whole container from r, unlocking it with password.
	Load(r io.Reader, password []byte) error

	// Entry returns the private key entry under alias, unlocked with password.
	Entry(alias string, password []byte) (*KeyEntry, error)

	Type() StoreType
}

// NewKeyStore returns the backend for storeType. For StoreTypeDefault the first bytes of the
// container decide: a JKS magic number selects JKS, anything else PKCS#12. This matches a JVM
// whose default type is PKCS12 with JKS compatibility enabled.
func NewKeyStore(storeType StoreType, header []byte) (KeyStore, error) {
	if storeType == StoreTypeDefault {
		storeType = sniff(header)
	}

	switch storeType {
	case StoreTypeJKS:
		return &jksStore{}, nil
	case StoreTypePKCS12:
		return &pkcs12Store{}, nil
	default:
		return nil, fmt.Errorf("unsupported keystore type %q", storeType)
	}
}

func sniff(header []byte) StoreType {
	if len(header) >= 4 {
		switch binary.BigEndian.Uint32(header[:4]) {
		case jksMagic:
			return StoreTypeJKS
		case jceksMagic:
			return "JCEKS"
		}
	}
	return StoreTypePKCS12
}

func parseChain(ders [][]byte) ([]*x509.Certificate, error) {
	certs := make([]*x509.Certificate, 0, len(ders))
	for _, der := range ders {
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, err
		}
		certs = append(certs, cert)
	}
	return certs, nil
}
