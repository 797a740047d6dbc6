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
	"crypto/rsa"
	"crypto/x509/pkix"
	"errors"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plt/android/internal/testkeys"
)

type errReader struct{}

func (errReader) Read([]byte) (int, error) {
	return 0, errors.New("read failed")
}

func TestProviderJKS(t *testing.T) {
	ks, err := testkeys.DebugJKS()
	require.NoError(t, err)
	key, cert, err := testkeys.DebugKey()
	require.NoError(t, err)

	for _, st := range []StoreType{StoreTypeDefault, StoreTypeJKS} {
		p, err := NewProvider(bytes.NewReader(ks), st)
		require.NoError(t, err, st)
		assert.Equal(t, StoreTypeJKS, p.StoreType())

		assert.True(t, p.Certificate().Equal(cert))
		require.IsType(t, &rsa.PrivateKey{}, p.DebugKey())
		assert.True(t, key.Equal(p.DebugKey()))
		assert.False(t, p.Entry().Created.IsZero())

		// accessors hand back the same cached entry
		assert.Same(t, p.Certificate(), p.Certificate())
		assert.Same(t, p.DebugKey().(*rsa.PrivateKey), p.DebugKey().(*rsa.PrivateKey))
		assert.True(t, IsDebugCertificate(p.Certificate()))
	}
}

func TestProviderPKCS12(t *testing.T) {
	ks := testkeys.DebugPKCS12()
	key, cert, err := testkeys.DebugKey()
	require.NoError(t, err)

	for _, st := range []StoreType{StoreTypeDefault, StoreTypePKCS12} {
		p, err := NewProvider(bytes.NewReader(ks), st)
		require.NoError(t, err, st)
		assert.Equal(t, StoreTypePKCS12, p.StoreType())
		assert.True(t, p.Certificate().Equal(cert))
		assert.True(t, key.Equal(p.DebugKey()))
		assert.True(t, IsDebugCertificate(p.Certificate()))
	}
}

func TestProviderAbsent(t *testing.T) {
	for name, r := range map[string]io.Reader{
		"nil":   nil,
		"empty": bytes.NewReader(nil),
	} {
		p, err := NewProvider(r, StoreTypeDefault)
		assert.Nil(t, p, name)
		assert.ErrorIs(t, err, ErrKeystoreAbsent, name)
		assert.NotErrorIs(t, err, ErrKeystoreLoad, name)
	}

	err := Absent(os.ErrNotExist)
	assert.ErrorIs(t, err, ErrKeystoreAbsent)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestProviderLoadFailures(t *testing.T) {
	key, cert, err := testkeys.DebugKey()
	require.NoError(t, err)

	wrongPassJKS, err := testkeys.JKS(key, cert, Alias, "not-android")
	require.NoError(t, err)
	wrongAliasJKS, err := testkeys.JKS(key, cert, "someotherkey", Password)
	require.NoError(t, err)
	wrongPassP12, err := testkeys.PKCS12(key, cert, "not-android")
	require.NoError(t, err)
	noAliasP12, err := testkeys.PKCS12(key, cert, Password)
	require.NoError(t, err)
	trustedJKS, err := testkeys.TrustedCertJKS(cert, Alias, Password)
	require.NoError(t, err)
	goodJKS, err := testkeys.DebugJKS()
	require.NoError(t, err)

	cases := []struct {
		name  string
		r     io.Reader
		store StoreType
	}{
		{"wrong JKS password", bytes.NewReader(wrongPassJKS), StoreTypeDefault},
		{"missing alias", bytes.NewReader(wrongAliasJKS), StoreTypeDefault},
		{"trusted certificate under alias", bytes.NewReader(trustedJKS), StoreTypeDefault},
		{"wrong PKCS12 password", bytes.NewReader(wrongPassP12), StoreTypeDefault},
		{"PKCS12 missing alias", bytes.NewReader(testkeys.OtherAliasPKCS12()), StoreTypeDefault},
		{"PKCS12 missing alias, explicit type", bytes.NewReader(testkeys.OtherAliasPKCS12()), StoreTypePKCS12},
		{"PKCS12 without friendlyName", bytes.NewReader(noAliasP12), StoreTypeDefault},
		{"garbage", strings.NewReader("definitely not a keystore"), StoreTypeDefault},
		{"truncated JKS", bytes.NewReader(goodJKS[:len(goodJKS)/2]), StoreTypeJKS},
		{"JKS read as PKCS12", bytes.NewReader(goodJKS), StoreTypePKCS12},
		{"unsupported type", bytes.NewReader(goodJKS), StoreType("BKS")},
		{"JCEKS", bytes.NewReader([]byte{0xce, 0xce, 0xce, 0xce, 0, 0, 0, 2}), StoreTypeDefault},
		{"read error", errReader{}, StoreTypeDefault},
	}
	for _, c := range cases {
		p, err := NewProvider(c.r, c.store)
		assert.Nil(t, p, c.name)
		assert.ErrorIs(t, err, ErrKeystoreLoad, c.name)
		assert.NotErrorIs(t, err, ErrKeystoreAbsent, c.name)

		var kerr *Error
		if assert.ErrorAs(t, err, &kerr, c.name) {
			assert.Equal(t, KindKeystoreLoad, kerr.Kind, c.name)
		}
	}
}

func TestProviderFreshPasswords(t *testing.T) {
	// the same stream contents load repeatedly
	ks, err := testkeys.DebugJKS()
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := NewProvider(bytes.NewReader(ks), StoreTypeDefault)
		require.NoError(t, err)
	}
}

func TestParseStoreType(t *testing.T) {
	for in, want := range map[string]StoreType{
		"":        StoreTypeDefault,
		"jks":     StoreTypeJKS,
		"PKCS12":  StoreTypePKCS12,
		"pkcs#12": StoreTypePKCS12,
		"p12":     StoreTypePKCS12,
	} {
		got, err := ParseStoreType(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseStoreType("bks")
	assert.Error(t, err)
}

func TestIsDebugCertificate(t *testing.T) {
	_, other, err := testkeys.NewKey(pkix.Name{CommonName: "Android Debug", Organization: []string{"Android"}, Country: []string{"US"}, OrganizationalUnit: []string{"Release"}})
	require.NoError(t, err)

	assert.False(t, IsDebugCertificate(other))
	assert.False(t, IsDebugCertificate(nil))
}

func TestNilProvider(t *testing.T) {
	var p *Provider
	assert.Nil(t, p.DebugKey())
	assert.Nil(t, p.Certificate())
	assert.Nil(t, p.Entry())
}
