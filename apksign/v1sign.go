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
	"crypto"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/fullsailor/pkcs7"
	"github.com/klauspost/compress/zip"

	"plt/android"
	"plt/android/log"
)

// v1 is the signed-JAR scheme: META-INF/MANIFEST.MF lists a digest per entry, each signer's .SF
// file digests the manifest, and a PKCS#7 block (.RSA/.DSA/.EC) signs the .SF.

var (
	signedFileRE = regexp.MustCompile(`^META-INF/([a-zA-Z0-9_-]+)\.SF$`)
	sigBlockRE   = regexp.MustCompile(`^META-INF/([a-zA-Z0-9_-]+)\.(RSA|DSA|EC)$`)
	sigRE        = regexp.MustCompile(`^META-INF/SIG-([a-zA-Z0-9_-]+)$`)
)

// isSignatureEntry reports whether name is one of the files the v1 scheme generates: the manifest,
// a .SF, or a signature block. Such entries are never digested into the manifest and are dropped
// when re-signing.
func isSignatureEntry(name string) bool {
	if strings.EqualFold(name, manifestPath) {
		return true
	}
	upper := strings.ToUpper(name)
	if !strings.HasPrefix(upper, "META-INF/") || strings.Contains(upper[len("META-INF/"):], "/") {
		return false
	}
	for _, suffix := range []string{".SF", ".RSA", ".DSA", ".EC"} {
		if strings.HasSuffix(upper, suffix) {
			return true
		}
	}
	return strings.HasPrefix(upper, "META-INF/SIG-")
}

type sigPair struct {
	sf    *signedFile
	pkcs7 *pkcs7.PKCS7
}

// V1Reader holds the v1 signature material found in a zip, plus the zip's contents for digesting.
type V1Reader struct {
	provided *manifest
	sigs     map[string]*sigPair
	files    []*zip.File
}

// ParseZip collects the manifest, signature files and signature blocks from a zip.
func ParseZip(buf []byte) (*V1Reader, error) {
	var z *zip.Reader
	var err error

	if z, err = zip.NewReader(bytes.NewReader(buf), int64(len(buf))); err != nil {
		log.Debug("apksign.ParseZip", "reader", err)
		return nil, err
	}

	v1 := &V1Reader{sigs: make(map[string]*sigPair)}

	for _, f := range z.File {
		name := f.Name

		if name == manifestPath {
			if buf, err = readZipFile(f); err != nil {
				return nil, err
			}
			if v1.provided, err = parseManifest(buf); err != nil {
				return nil, err
			}
			continue
		}

		if hits := signedFileRE.FindStringSubmatch(name); hits != nil {
			pair := v1.pair(hits[1])
			if pair.sf != nil {
				return nil, errors.New("duplicate .SF for '" + hits[1] + "'")
			}
			if buf, err = readZipFile(f); err != nil {
				return nil, err
			}
			if pair.sf, err = parseSignedFile(buf); err != nil {
				return nil, err
			}
			continue
		}

		hits := sigBlockRE.FindStringSubmatch(name)
		if hits == nil {
			hits = sigRE.FindStringSubmatch(name)
		}
		if hits != nil {
			pair := v1.pair(hits[1])
			if pair.pkcs7 != nil {
				// signers may technically have both .RSA and .DSA for one .SF; we don't accept that
				return nil, errors.New("duplicate PKCS7 for '" + hits[1] + "'")
			}
			if buf, err = readZipFile(f); err != nil {
				return nil, err
			}
			if pair.pkcs7, err = pkcs7.Parse(buf); err != nil {
				return nil, err
			}
			continue
		}

		if isSignatureEntry(name) || strings.HasSuffix(name, "/") {
			continue
		}
		v1.files = append(v1.files, f)
	}

	return v1, nil
}

func (v1 *V1Reader) pair(signer string) *sigPair {
	pair, ok := v1.sigs[signer]
	if !ok {
		pair = &sigPair{}
		v1.sigs[signer] = pair
	}
	return pair
}

// Verify checks that the manifest matches the zip's actual contents (no missing or extra entries),
// and that every signer's .SF matches the manifest and carries a valid PKCS#7 signature.
func (v1 *V1Reader) Verify() error {
	if v1.provided == nil {
		return errors.New("missing manifest")
	}
	if len(v1.sigs) == 0 {
		return errors.New("no signers")
	}

	seen := make(map[string]bool, len(v1.files))
	for _, f := range v1.files {
		want, ok := v1.provided.digests[f.Name]
		if !ok || len(want) == 0 {
			return errors.New("entry '" + f.Name + "' missing from manifest")
		}
		contents, err := readZipFile(f)
		if err != nil {
			return err
		}
		for h, d := range want {
			if !bytes.Equal(sum(h, contents), d) {
				log.Debug("V1Reader.Verify", "digest mismatch", f.Name, h)
				return errors.New("digest mismatch for '" + f.Name + "'")
			}
		}
		seen[f.Name] = true
	}
	for _, name := range v1.provided.names {
		if !seen[name] {
			return errors.New("manifest lists missing entry '" + name + "'")
		}
	}

	for signer, sig := range v1.sigs {
		if sig.sf == nil || sig.pkcs7 == nil {
			return errors.New("incomplete signature for '" + signer + "'")
		}
		if sig.sf.version >= APKSignV2 {
			return errors.New("signer specified v2 rubric; v2-aware verifiers must abort v1 verification")
		}
		if err := sig.sf.verify(v1.provided); err != nil {
			return fmt.Errorf(".SF file for '%s' does not comport with manifest: %w", signer, err)
		}

		// the signature is over the .SF bytes themselves
		sig.pkcs7.Content = sig.sf.raw
		if err := sig.pkcs7.Verify(); err != nil {
			return err
		}
	}

	return nil
}

// V1Writer streams entries into a zip while accumulating the manifest, then appends the v1
// signature files.
type V1Writer struct {
	manifest  *manifest
	writer    *zip.Writer
	createdBy string
}

func NewV1Writer(w io.Writer, createdBy string) *V1Writer {
	return &V1Writer{
		manifest:  newManifest(createdBy),
		writer:    zip.NewWriter(w),
		createdBy: createdBy,
	}
}

// check rejects names that can't be added, without writing anything.
func (v1 *V1Writer) check(name string) error {
	switch {
	case name == "":
		return errors.New("empty entry name")
	case strings.ContainsAny(name, "\r\n\x00"):
		// would break the manifest's Name: line
		return errors.New("entry name contains a line break or NUL")
	case strings.HasSuffix(name, "/"):
		return errors.New("directory entries are not supported")
	case isSignatureEntry(name):
		return errors.New("name is reserved for signature files")
	case v1.manifest.has(name):
		return errors.New("duplicate entry")
	}
	return nil
}

// Add copies r into a new entry described by fh and records its SHA-256 digest.
func (v1 *V1Writer) Add(fh *zip.FileHeader, r io.Reader) (int64, error) {
	if err := v1.check(fh.Name); err != nil {
		return 0, err
	}

	w, err := v1.writer.CreateHeader(fh)
	if err != nil {
		return 0, err
	}
	h := crypto.SHA256.New()
	n, err := io.Copy(io.MultiWriter(w, h), r)
	if err != nil {
		return n, err
	}

	return n, v1.manifest.add(fh.Name, crypto.SHA256, h.Sum(nil))
}

// Sign writes META-INF/MANIFEST.MF and, per key, a .SF and .RSA pair. signifyV2 marks the .SF
// files so that v2-aware verifiers refuse v1-only verification.
func (v1 *V1Writer) Sign(keys []*android.SigningCert, signifyV2 bool) error {
	if len(keys) == 0 {
		return errors.New("no signing keys")
	}

	v1.manifest.marshal()
	if err := v1.writeFile(manifestPath, v1.manifest.raw); err != nil {
		return err
	}

	version := APKSignV1
	if signifyV2 {
		version = APKSignV2
	}

	for i, key := range keys {
		sf := newSignedFile(v1.manifest, v1.createdBy, version)
		sf.marshal(v1.manifest.names)

		signed, err := signatureBlock(sf.raw, key)
		if err != nil {
			return err
		}

		name := signerName(i, len(keys))
		if err := v1.writeFile("META-INF/"+name+".SF", sf.raw); err != nil {
			return err
		}
		if err := v1.writeFile("META-INF/"+name+".RSA", signed); err != nil {
			return err
		}
	}

	return nil
}

// Close finishes the zip central directory. It does not close the underlying writer.
func (v1 *V1Writer) Close() error {
	return v1.writer.Close()
}

func (v1 *V1Writer) writeFile(name string, data []byte) error {
	w, err := v1.writer.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate})
	if err != nil {
		return err
	}
	_, err = io.Copy(w, bytes.NewReader(data))
	return err
}

// signatureBlock returns a detached PKCS#7 SignedData over sf with the signer's certificate
// embedded.
func signatureBlock(sf []byte, key *android.SigningCert) ([]byte, error) {
	sd, err := pkcs7.NewSignedData(sf)
	if err != nil {
		return nil, err
	}
	if err = sd.AddSigner(key.Certificate, key.Key, pkcs7.SignerInfoConfig{}); err != nil {
		return nil, err
	}
	sd.Detach()

	signed, err := sd.Finish()
	if err != nil {
		return nil, err
	}
	if _, err = pkcs7.Parse(signed); err != nil {
		log.Debug("apksign.signatureBlock", "failed to roundtrip parse generated PKCS7")
		return nil, err
	}
	return signed, nil
}

// signerName is "CERT" for a lone signer, as jarsigner and the Android tools name it, and
// "CERT00", "CERT01", ... otherwise.
func signerName(i, n int) string {
	if n == 1 {
		return "CERT"
	}
	return fmt.Sprintf("CERT%02d", i)
}

func readZipFile(zf *zip.File) ([]byte, error) {
	fr, err := zf.Open()
	if err != nil {
		return nil, err
	}
	defer fr.Close()

	return io.ReadAll(fr)
}
