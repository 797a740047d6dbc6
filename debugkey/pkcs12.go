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
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"software.sslmate.com/src/go-pkcs12"
)

// pkcs12Store reads PKCS#12 containers holding a single key bag. The key bag's friendlyName is
// its alias; keytool lowercases it, so aliases compare case-insensitively. The store and key
// password must be identical, which is what keytool produces for PKCS#12.
type pkcs12Store struct {
	entry    *KeyEntry
	aliases  []string
	password []byte
}

func (s *pkcs12Store) Type() StoreType {
	return StoreTypePKCS12
}

func (s *pkcs12Store) Load(r io.Reader, password []byte) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	key, cert, chain, err := pkcs12.DecodeChain(data, string(password))
	if err != nil {
		return err
	}
	if key == nil || cert == nil {
		return errors.New("no private key entry in keystore")
	}

	// ToPEM is the only decoder entry point that exposes bag attributes
	blocks, err := pkcs12.ToPEM(data, string(password))
	if err != nil {
		return err
	}
	s.aliases = nil
	for _, b := range blocks {
		if b.Type != "PRIVATE KEY" {
			continue
		}
		if name, ok := b.Headers["friendlyName"]; ok {
			s.aliases = append(s.aliases, name)
		}
	}

	s.entry = &KeyEntry{PrivateKey: key, Certificate: cert, Chain: chain}
	s.password = append([]byte(nil), password...)
	return nil
}

func (s *pkcs12Store) Entry(alias string, password []byte) (*KeyEntry, error) {
	if s.entry == nil {
		return nil, errors.New("keystore not loaded")
	}
	if !bytes.Equal(password, s.password) {
		return nil, pkcs12.ErrIncorrectPassword
	}
	for _, a := range s.aliases {
		if strings.EqualFold(a, alias) {
			return s.entry, nil
		}
	}
	return nil, fmt.Errorf("no key entry with alias %q (found %q)", alias, s.aliases)
}
