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
	"crypto/x509"
	"errors"
	"fmt"
	"io"

	"github.com/pavlo-v-chernykh/keystore-go/v4"
)

// jksStore reads Java KeyStore containers. Aliases are case-insensitive, as with the JDK.
type jksStore struct {
	ks     keystore.KeyStore
	loaded bool
}

func (s *jksStore) Type() StoreType {
	return StoreTypeJKS
}

func (s *jksStore) Load(r io.Reader, password []byte) error {
	s.ks = keystore.New()
	if err := s.ks.Load(r, password); err != nil {
		return err
	}
	s.loaded = true
	return nil
}

func (s *jksStore) Entry(alias string, password []byte) (*KeyEntry, error) {
	if !s.loaded {
		return nil, errors.New("keystore not loaded")
	}

	e, err := s.ks.GetPrivateKeyEntry(alias, password)
	if err != nil {
		return nil, fmt.Errorf("alias %q: %w", alias, err)
	}
	if len(e.CertificateChain) == 0 {
		return nil, fmt.Errorf("alias %q has no certificate", alias)
	}

	// JKS stores the decrypted key as PKCS#8 PrivateKeyInfo
	key, err := x509.ParsePKCS8PrivateKey(e.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("alias %q: %w", alias, err)
	}

	ders := make([][]byte, 0, len(e.CertificateChain))
	for _, c := range e.CertificateChain {
		if c.Type != "X.509" {
			return nil, fmt.Errorf("alias %q: unsupported certificate type %q", alias, c.Type)
		}
		ders = append(ders, c.Content)
	}
	certs, err := parseChain(ders)
	if err != nil {
		return nil, fmt.Errorf("alias %q: %w", alias, err)
	}

	return &KeyEntry{
		PrivateKey:  key,
		Certificate: certs[0],
		Chain:       certs[1:],
		Created:     e.CreationTime,
	}, nil
}
