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

// Package testkeys provides debug keystores and small zips for tests. The debug key itself comes
// from testdata/debug.p12, a keytool-style PKCS#12 store whose key bag carries the friendlyName
// "androiddebugkey"; the JKS variants are generated from it.
package testkeys

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	_ "embed"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/pavlo-v-chernykh/keystore-go/v4"
	"software.sslmate.com/src/go-pkcs12"
)

const (
	// Password and Alias mirror the debug keystore convention.
	Password = "android"
	Alias    = "AndroidDebugKey"
)

var (
	//go:embed testdata/debug.p12
	debugP12 []byte

	// same key and certificate as debug.p12, filed under the alias "someotherkey"
	//go:embed testdata/otheralias.p12
	otherAliasP12 []byte
)

var (
	once sync.Once
	key  *rsa.PrivateKey
	cert *x509.Certificate
	err  error
)

// DebugKey returns the RSA-2048 key and self-signed certificate (canonical debug subject) held in
// testdata/debug.p12. Decoding happens once.
func DebugKey() (*rsa.PrivateKey, *x509.Certificate, error) {
	once.Do(func() {
		var k interface{}
		k, cert, _, err = pkcs12.DecodeChain(debugP12, Password)
		if err != nil {
			return
		}
		var ok bool
		if key, ok = k.(*rsa.PrivateKey); !ok {
			err = errors.New("testdata/debug.p12 does not hold an RSA key")
		}
	})
	return key, cert, err
}

// NewKey generates a fresh RSA-2048 key and a self-signed certificate for subject.
func NewKey(subject pkix.Name) (*rsa.PrivateKey, *x509.Certificate, error) {
	k, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, nil, err
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
	if err != nil {
		return nil, nil, err
	}
	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               subject,
		Issuer:                subject,
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().AddDate(30, 0, 0),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &k.PublicKey, k)
	if err != nil {
		return nil, nil, err
	}
	c, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, nil, err
	}
	return k, c, nil
}

// JKS returns a Java KeyStore holding k and c under alias, with store and key both protected by
// password.
func JKS(k *rsa.PrivateKey, c *x509.Certificate, alias, password string) ([]byte, error) {
	pkcs8, err := x509.MarshalPKCS8PrivateKey(k)
	if err != nil {
		return nil, err
	}

	ks := keystore.New()
	entry := keystore.PrivateKeyEntry{
		CreationTime: time.Now(),
		PrivateKey:   pkcs8,
		CertificateChain: []keystore.Certificate{
			{Type: "X.509", Content: c.Raw},
		},
	}
	if err := ks.SetPrivateKeyEntry(alias, entry, []byte(password)); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := ks.Store(&buf, []byte(password)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// TrustedCertJKS returns a Java KeyStore in which alias holds only c, as a trusted certificate.
func TrustedCertJKS(c *x509.Certificate, alias, password string) ([]byte, error) {
	ks := keystore.New()
	entry := keystore.TrustedCertificateEntry{
		CreationTime: time.Now(),
		Certificate:  keystore.Certificate{Type: "X.509", Content: c.Raw},
	}
	if err := ks.SetTrustedCertificateEntry(alias, entry); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := ks.Store(&buf, []byte(password)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DebugJKS is JKS for the shared debug key under the debug alias and password.
func DebugJKS() ([]byte, error) {
	k, c, err := DebugKey()
	if err != nil {
		return nil, err
	}
	return JKS(k, c, Alias, Password)
}

// PKCS12 returns a PKCS#12 container holding k and c, protected by password. The encoder writes no
// friendlyName on the key bag, so the result has no alias.
func PKCS12(k *rsa.PrivateKey, c *x509.Certificate, password string) ([]byte, error) {
	return pkcs12.Modern.Encode(k, c, nil, password)
}

// DebugPKCS12 returns the debug keystore as keytool writes it: alias "androiddebugkey", store and
// key password "android".
func DebugPKCS12() []byte {
	return append([]byte(nil), debugP12...)
}

// OtherAliasPKCS12 is DebugPKCS12 with the key filed under "someotherkey".
func OtherAliasPKCS12() []byte {
	return append([]byte(nil), otherAliasP12...)
}

// Entry is one file for Zip.
type Entry struct {
	Name   string
	Data   []byte
	Stored bool
}

// Zip returns a zip holding entries in order.
func Zip(entries ...Entry) ([]byte, error) {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for _, e := range entries {
		method := zip.Deflate
		if e.Stored {
			method = zip.Store
		}
		f, err := w.CreateHeader(&zip.FileHeader{Name: e.Name, Method: method, Modified: time.Now()})
		if err != nil {
			return nil, err
		}
		if _, err := f.Write(e.Data); err != nil {
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// APK returns a zip shaped like a minimal APK: the three entries every APK has plus extras.
func APK(extras ...Entry) ([]byte, error) {
	entries := []Entry{
		{Name: "AndroidManifest.xml", Data: []byte("<manifest/>")},
		{Name: "classes.dex", Data: []byte("dex\n035\x00")},
		{Name: "resources.arsc", Data: []byte("arsc"), Stored: true},
	}
	return Zip(append(entries, extras...)...)
}
