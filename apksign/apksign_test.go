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
	"crypto/x509/pkix"
	"fmt"
	"os"
	"testing"

	"github.com/klauspost/compress/zip"

	"plt/android"
	"plt/android/internal/testkeys"
)

var unsapk, rawzip []byte

var keys []*android.SigningCert

func TestMain(m *testing.M) {
	key, cert, err := testkeys.DebugKey()
	if err != nil {
		fmt.Println("error generating key", err)
		os.Exit(1)
	}
	sc, err := android.NewSigningCert(key, cert, android.SHA256)
	if err != nil {
		fmt.Println("error wrapping key", err)
		os.Exit(1)
	}
	keys = []*android.SigningCert{sc}

	if unsapk, err = testkeys.APK(testkeys.Entry{Name: "res/layout/main.xml", Data: []byte("<LinearLayout/>")}); err != nil {
		fmt.Println("error building apk", err)
		os.Exit(1)
	}
	if rawzip, err = testkeys.Zip(testkeys.Entry{Name: "hello.txt", Data: []byte("hello, world\n")}); err != nil {
		fmt.Println("error building zip", err)
		os.Exit(1)
	}

	os.Exit(m.Run())
}

// v1Stripped is what an attacker gets by removing the v2 block from an APK signed with both
// schemes: the .SF still announces v2.
func v1Stripped(t *testing.T, src []byte) []byte {
	var buf bytes.Buffer
	w := NewV1Writer(&buf, DefaultCreatedBy)

	r, err := zip.NewReader(bytes.NewReader(src), int64(len(src)))
	if err != nil {
		t.Log("error reading zip", err)
		t.FailNow()
	}
	for _, f := range r.File {
		rc, err := f.Open()
		if err != nil {
			t.Log("error opening entry", err)
			t.FailNow()
		}
		if _, err = w.Add(&zip.FileHeader{Name: f.Name, Method: f.Method}, rc); err != nil {
			t.Log("error adding entry", err)
			t.FailNow()
		}
		rc.Close()
	}
	if err = w.Sign(keys, true); err != nil {
		t.Log("error signing", err)
		t.FailNow()
	}
	if err = w.Close(); err != nil {
		t.Log("error closing zip", err)
		t.FailNow()
	}
	return buf.Bytes()
}

func TestUnsignedAPK(t *testing.T) {
	var z *Zip
	var err error
	if z, err = NewZip(unsapk); err != nil {
		t.Log("error parsing Zip", err)
		t.FailNow()
	}
	if !z.IsAPK {
		t.Errorf("zip is not an APK")
	}
	if z.IsV1Signed {
		t.Errorf("unsigned zip is reporting as V1 (JAR) signed")
	}
	if z.IsV2Signed {
		t.Errorf("unsigned zip is reporting as V2 signed")
	}
	if err = z.Verify(); err == nil {
		t.Errorf("unsigned zip passes verify")
	}
}

func TestRawZip(t *testing.T) {
	var z *Zip
	var err error
	if z, err = NewZip(rawzip); err != nil {
		t.Log("error parsing Zip", err)
		t.FailNow()
	}
	if z.IsAPK {
		t.Errorf("zip is reporting as an APK")
	}
	if z.IsV1Signed {
		t.Errorf("unsigned zip is reporting as V1 (JAR) signed")
	}
	if z.IsV2Signed {
		t.Errorf("unsigned zip is reporting as V2 signed")
	}
}

func TestNotAZip(t *testing.T) {
	for _, b := range [][]byte{nil, []byte("PK"), bytes.Repeat([]byte{0}, 100), []byte("<html></html>")} {
		if _, err := NewZip(b); err == nil {
			t.Errorf("%q parsed as a zip", b)
		}
	}
}

func TestSignUnsignedAPK(t *testing.T) {
	var z *Zip
	var err error
	if z, err = NewZip(unsapk); err != nil {
		t.Log("error parsing Zip", err)
		t.FailNow()
	}
	if z, err = z.Sign(keys); err != nil {
		t.Log("error signing apk", err)
		t.FailNow()
	}
	if !z.IsAPK || !z.IsV1Signed || !z.IsV2Signed {
		t.Errorf("signed apk misclassified: apk=%v v1=%v v2=%v", z.IsAPK, z.IsV1Signed, z.IsV2Signed)
	}
	if err = z.VerifyV1(); err == nil {
		t.Errorf("v2-signed apk passes v1 verify")
	}
	if err = z.VerifyV2(); err != nil {
		t.Errorf("v2-signed apk fails v2 verify: %v", err)
	}
	if err = z.Verify(); err != nil {
		t.Errorf("v2-signed apk fails verify: %v", err)
	}
}

func TestSignUnsignedZip(t *testing.T) {
	var z *Zip
	var err error
	if z, err = NewZip(rawzip); err != nil {
		t.Log("error parsing Zip", err)
		t.FailNow()
	}
	if z, err = z.Sign(keys); err != nil {
		t.Log("error signing zip", err)
		t.FailNow()
	}
	if err = z.VerifyV1(); err == nil {
		t.Errorf("v2-signed zip passes v1 verify")
	}
	if err = z.VerifyV2(); err != nil {
		t.Errorf("v2-signed zip fails v2 verify: %v", err)
	}
	if err = z.Verify(); err != nil {
		t.Errorf("v2-signed zip fails verify: %v", err)
	}
}

func TestResignAPK(t *testing.T) {
	var z *Zip
	var err error
	if z, err = NewZip(unsapk); err != nil {
		t.Log("error parsing Zip", err)
		t.FailNow()
	}
	if z, err = z.Sign(keys); err != nil {
		t.Log("error signing zip", err)
		t.FailNow()
	}

	other, cert, err := testkeys.NewKey(pkix.Name{CommonName: "Someone Else"})
	if err != nil {
		t.Log("error generating key", err)
		t.FailNow()
	}
	sc, err := android.NewSigningCert(other, cert, android.SHA512)
	if err != nil {
		t.Log("error wrapping key", err)
		t.FailNow()
	}

	if z, err = z.Sign([]*android.SigningCert{sc}); err != nil {
		t.Log("error re-signing zip", err)
		t.FailNow()
	}
	if err = z.Verify(); err != nil {
		t.Errorf("re-signed zip fails verify: %v", err)
	}

	r, err := ParseZip(z.Bytes())
	if err != nil {
		t.Log("error parsing re-signed zip", err)
		t.FailNow()
	}
	if len(r.sigs) != 1 {
		t.Errorf("re-signed zip has %d v1 signers, want 1", len(r.sigs))
	}
}

func TestV1Verify(t *testing.T) {
	var z *Zip
	var err error
	if z, err = NewZip(unsapk); err != nil {
		t.Log("error parsing zip", err)
		t.FailNow()
	}
	if z, err = z.SignV1(keys); err != nil {
		t.Log("error signing zip", err)
		t.FailNow()
	}
	if err = z.VerifyV1(); err != nil {
		t.Errorf("v1-signed zip fails v1 verify: %v", err)
	}
	if err = z.VerifyV2(); err == nil {
		t.Errorf("v1-signed zip passes v2 verify")
	}
	if err = z.Verify(); err != nil {
		t.Errorf("v1-signed zip fails general verify: %v", err)
	}
}

func TestV2Verify(t *testing.T) {
	var z *Zip
	var err error
	if z, err = NewZip(rawzip); err != nil {
		t.Log("error parsing zip", err)
		t.FailNow()
	}
	if z, err = z.SignV2(keys); err != nil {
		t.Log("error signing zip", err)
		t.FailNow()
	}
	if z.IsV1Signed {
		t.Errorf("v2-only zip reports v1 signature")
	}
	if err = z.VerifyV2(); err != nil {
		t.Errorf("v2-signed zip fails v2 verify: %v", err)
	}
	if err = z.Verify(); err != nil {
		t.Errorf("v2-signed zip fails general verify: %v", err)
	}

	// signing again replaces the block rather than stacking a second one
	size := len(z.Bytes())
	if z, err = z.SignV2(keys); err != nil {
		t.Log("error re-signing zip", err)
		t.FailNow()
	}
	if len(z.Bytes()) != size {
		t.Errorf("re-signed zip is %d bytes, want %d", len(z.Bytes()), size)
	}
	if err = z.VerifyV2(); err != nil {
		t.Errorf("re-signed zip fails v2 verify: %v", err)
	}
}

func TestV2Stripped(t *testing.T) {
	var z *Zip
	var err error
	if z, err = NewZip(v1Stripped(t, unsapk)); err != nil {
		t.Log("error parsing zip", err)
		t.FailNow()
	}
	if z.IsV2Signed {
		t.Errorf("stripped zip reports a v2 block")
	}
	if err = z.VerifyV1(); err == nil {
		t.Errorf("v2-stripped zip passes v1 verify")
	}
	if err = z.VerifyV2(); err == nil {
		t.Errorf("v2-stripped zip passes v2 verify")
	}
	if err = z.Verify(); err == nil {
		t.Errorf("v2-stripped zip passes general verify")
	}
}

func TestV2Tampered(t *testing.T) {
	var z *Zip
	var err error
	if z, err = NewZip(unsapk); err != nil {
		t.Log("error parsing zip", err)
		t.FailNow()
	}
	if z, err = z.Sign(keys); err != nil {
		t.Log("error signing zip", err)
		t.FailNow()
	}

	// flip a byte inside the first local file header's name
	b := z.Bytes()
	b[30] ^= 0x01
	if z, err = NewZip(b); err != nil {
		t.Log("error parsing zip", err)
		t.FailNow()
	}
	if err = z.VerifyV2(); err == nil {
		t.Errorf("tampered zip passes v2 verify")
	}
}

func TestV1TamperedEntry(t *testing.T) {
	var z *Zip
	var err error
	if z, err = NewZip(rawzip); err != nil {
		t.Log("error parsing zip", err)
		t.FailNow()
	}
	if z, err = z.SignV1(keys); err != nil {
		t.Log("error signing zip", err)
		t.FailNow()
	}

	// rebuild the archive with one entry's contents changed but the signature files intact
	r, err := zip.NewReader(bytes.NewReader(z.Bytes()), int64(len(z.Bytes())))
	if err != nil {
		t.Log("error reading zip", err)
		t.FailNow()
	}
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for _, f := range r.File {
		data, err := readZipFile(f)
		if err != nil {
			t.Log("error reading entry", err)
			t.FailNow()
		}
		if f.Name == "hello.txt" {
			data = []byte("goodbye, world\n")
		}
		fw, _ := w.Create(f.Name)
		fw.Write(data)
	}
	w.Close()

	if z, err = NewZip(buf.Bytes()); err != nil {
		t.Log("error parsing zip", err)
		t.FailNow()
	}
	if err = z.VerifyV1(); err == nil {
		t.Errorf("tampered zip passes v1 verify")
	}
}

func TestV2BlockRoundTrip(t *testing.T) {
	z, err := NewZip(rawzip)
	if err != nil {
		t.Log("error parsing zip", err)
		t.FailNow()
	}
	v2 := &V2Block{}
	if _, err = v2.Sign(z, keys); err != nil {
		t.Log("error signing", err)
		t.FailNow()
	}

	pairs := v2.Marshal()
	parsed, err := ParseV2Block(pairs)
	if err != nil {
		t.Log("error parsing marshaled block", err)
		t.FailNow()
	}
	if !bytes.Equal(parsed.Marshal(), pairs) {
		t.Errorf("re-marshaled block differs")
	}
	if len(parsed.Signers) != 1 || len(parsed.Signers[0].Signatures) != 1 {
		t.Fatalf("unexpected signer layout")
	}
	if parsed.Signers[0].Signatures[0].AlgorithmID != android.RSA_PKCS_SHA256 {
		t.Errorf("algorithm = %v", parsed.Signers[0].Signatures[0].AlgorithmID)
	}

	if _, err = ParseV2Block(pairs[:len(pairs)-1]); err == nil {
		t.Errorf("truncated block parses")
	}
}
