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
	_ "crypto/sha1"
	_ "crypto/sha256"
	_ "crypto/sha512"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"plt/android/log"
)

// JAR manifest and signature file codec. Both files are a main section followed by per-entry
// sections, each section terminated by a blank line. Lines are limited to 72 bytes; longer values
// continue on lines starting with a single space.
//
// See https://docs.oracle.com/javase/8/docs/technotes/guides/jar/jar.html

const (
	manifestPath = "META-INF/MANIFEST.MF"
	eol          = "\r\n"
	lineLimit    = 72
)

// digestNames maps JAR digest attribute prefixes ("SHA-256" in "SHA-256-Digest") to hashes.
var digestNames = map[string]crypto.Hash{
	"SHA1":    crypto.SHA1,
	"SHA-1":   crypto.SHA1,
	"SHA-256": crypto.SHA256,
	"SHA-512": crypto.SHA512,
}

func digestName(h crypto.Hash) string {
	switch h {
	case crypto.SHA1:
		return "SHA1"
	case crypto.SHA256:
		return "SHA-256"
	case crypto.SHA512:
		return "SHA-512"
	default:
		return ""
	}
}

type attribute struct {
	key   string
	value string
}

type manifest struct {
	main     []attribute
	names    []string // entry order
	digests  map[string]map[crypto.Hash][]byte
	sections map[string][]byte // exact section bytes, blank terminator included
	raw      []byte
}

type signedFile struct {
	main           []attribute
	version        SigningVersion
	manifestHash   crypto.Hash
	manifestDigest []byte
	digests        map[string]map[crypto.Hash][]byte // digests of manifest sections
	raw            []byte
}

func newManifest(createdBy string) *manifest {
	return &manifest{
		main: []attribute{
			{"Manifest-Version", "1.0"},
			{"Created-By", createdBy},
		},
		digests:  make(map[string]map[crypto.Hash][]byte),
		sections: make(map[string][]byte),
	}
}

func (mf *manifest) has(name string) bool {
	_, ok := mf.digests[name]
	return ok
}

func (mf *manifest) add(name string, h crypto.Hash, sum []byte) error {
	if mf.has(name) {
		return errors.New("duplicate entry for '" + name + "'")
	}
	mf.names = append(mf.names, name)
	mf.digests[name] = map[crypto.Hash][]byte{h: append([]byte(nil), sum...)}
	return nil
}

// marshal renders the manifest, recording each entry's section bytes for the signature file.
func (mf *manifest) marshal() []byte {
	var buf bytes.Buffer

	writeSection(&buf, mf.main)
	for _, name := range mf.names {
		attrs := []attribute{{"Name", name}}
		for _, h := range []crypto.Hash{crypto.SHA256, crypto.SHA512, crypto.SHA1} {
			if sum, ok := mf.digests[name][h]; ok {
				attrs = append(attrs, attribute{digestName(h) + "-Digest", base64.StdEncoding.EncodeToString(sum)})
			}
		}
		start := buf.Len()
		writeSection(&buf, attrs)
		mf.sections[name] = append([]byte(nil), buf.Bytes()[start:]...)
	}

	mf.raw = buf.Bytes()
	return mf.raw
}

func parseManifest(buf []byte) (*manifest, error) {
	mf := &manifest{
		digests:  make(map[string]map[crypto.Hash][]byte),
		sections: make(map[string][]byte),
		raw:      append([]byte(nil), buf...),
	}

	sections := splitSections(mf.raw)
	if len(sections) == 0 {
		return nil, errors.New("empty manifest")
	}

	var err error
	if mf.main, err = parseAttributes(sections[0]); err != nil {
		return nil, err
	}
	if lookup(mf.main, "Manifest-Version") != "1.0" {
		return nil, errors.New("unknown manifest version")
	}

	for _, raw := range sections[1:] {
		attrs, err := parseAttributes(raw)
		if err != nil {
			return nil, err
		}
		name, digests := extractDigests(attrs, "-Digest")
		if name == "" {
			continue
		}
		if mf.has(name) {
			return nil, errors.New("duplicate manifest section for '" + name + "'")
		}
		mf.names = append(mf.names, name)
		mf.digests[name] = digests
		mf.sections[name] = raw
	}

	return mf, nil
}

// newSignedFile builds the .SF contents for mf, which must already be marshaled.
func newSignedFile(mf *manifest, createdBy string, version SigningVersion) *signedFile {
	sf := &signedFile{
		version:      version,
		manifestHash: crypto.SHA256,
		digests:      make(map[string]map[crypto.Hash][]byte),
	}
	sf.manifestDigest = sum(crypto.SHA256, mf.raw)

	sf.main = []attribute{
		{"Signature-Version", "1.0"},
		{"Created-By", createdBy},
		{"SHA-256-Digest-Manifest", base64.StdEncoding.EncodeToString(sf.manifestDigest)},
	}
	if version > APKSignV1 {
		sf.main = append(sf.main, attribute{apkSignedHeader, version.String()})
	}

	for _, name := range mf.names {
		sf.digests[name] = map[crypto.Hash][]byte{crypto.SHA256: sum(crypto.SHA256, mf.sections[name])}
	}
	return sf
}

func (sf *signedFile) marshal(names []string) []byte {
	var buf bytes.Buffer

	writeSection(&buf, sf.main)
	for _, name := range names {
		d, ok := sf.digests[name][crypto.SHA256]
		if !ok {
			log.Debug("apksign.signedFile.marshal", "missing SHA-256 section digest for '"+name+"'")
			continue
		}
		writeSection(&buf, []attribute{
			{"Name", name},
			{"SHA-256-Digest", base64.StdEncoding.EncodeToString(d)},
		})
	}

	sf.raw = buf.Bytes()
	return sf.raw
}

func parseSignedFile(buf []byte) (*signedFile, error) {
	sf := &signedFile{
		digests: make(map[string]map[crypto.Hash][]byte),
		raw:     append([]byte(nil), buf...),
	}

	sections := splitSections(sf.raw)
	if len(sections) == 0 {
		return nil, errors.New("empty signature file")
	}

	var err error
	if sf.main, err = parseAttributes(sections[0]); err != nil {
		return nil, err
	}
	if lookup(sf.main, "Signature-Version") != "1.0" {
		return nil, errors.New("unknown signature version")
	}
	sf.version = parseAPKSigned(lookup(sf.main, apkSignedHeader))

	// prefer the strongest whole-manifest digest present
	for _, h := range []crypto.Hash{crypto.SHA512, crypto.SHA256, crypto.SHA1} {
		b64 := lookup(sf.main, digestName(h)+"-Digest-Manifest")
		if b64 == "" {
			continue
		}
		if sf.manifestDigest, err = base64.StdEncoding.DecodeString(b64); err != nil {
			return nil, fmt.Errorf("bad manifest digest: %w", err)
		}
		sf.manifestHash = h
		break
	}
	if sf.manifestHash == 0 {
		return nil, errors.New("missing or unsupported manifest digest header")
	}

	for _, raw := range sections[1:] {
		attrs, err := parseAttributes(raw)
		if err != nil {
			return nil, err
		}
		name, digests := extractDigests(attrs, "-Digest")
		if name == "" {
			continue
		}
		sf.digests[name] = digests
	}

	return sf, nil
}

// verify checks the .SF against a manifest. A matching whole-manifest digest is sufficient;
// otherwise every manifest section must be covered by a matching section digest.
func (sf *signedFile) verify(mf *manifest) error {
	if sf == nil || mf == nil {
		return errors.New("nil signature file or manifest")
	}

	if bytes.Equal(sum(sf.manifestHash, mf.raw), sf.manifestDigest) {
		return nil
	}
	log.Debug("signedFile.verify", "whole-manifest digest mismatch; checking sections")

	if len(sf.digests) != len(mf.names) {
		return errors.New("signature file and manifest list different entries")
	}
	for _, name := range mf.names {
		want, ok := sf.digests[name]
		if !ok || len(want) == 0 {
			return errors.New("entry '" + name + "' is not covered by the signature file")
		}
		for h, d := range want {
			if !bytes.Equal(sum(h, mf.sections[name]), d) {
				return errors.New("section digest mismatch for '" + name + "'")
			}
		}
	}
	return nil
}

func sum(h crypto.Hash, data []byte) []byte {
	hasher := h.New()
	hasher.Write(data)
	return hasher.Sum(nil)
}

func writeSection(buf *bytes.Buffer, attrs []attribute) {
	for _, a := range attrs {
		for _, line := range manifestSplitLine(a.key + ": " + a.value) {
			buf.WriteString(line)
			buf.WriteString(eol)
		}
	}
	buf.WriteString(eol)
}

// manifestSplitLine breaks s into a first line of at most 72 bytes followed by continuation
// lines of a space plus at most 71 bytes.
func manifestSplitLine(s string) []string {
	if len(s) <= lineLimit {
		return []string{s}
	}
	lines := []string{s[:lineLimit]}
	s = s[lineLimit:]
	for len(s) > 0 {
		n := len(s)
		if n > lineLimit-1 {
			n = lineLimit - 1
		}
		lines = append(lines, " "+s[:n])
		s = s[n:]
	}
	return lines
}

// splitSections cuts buf at blank lines. Each returned slice aliases buf and includes its
// terminating blank line, which is what section digests are computed over.
func splitSections(buf []byte) [][]byte {
	var out [][]byte
	start, pos := 0, 0
	for pos < len(buf) {
		next := len(buf)
		if i := bytes.IndexByte(buf[pos:], '\n'); i >= 0 {
			next = pos + i + 1
		}
		if len(bytes.TrimRight(buf[pos:next], "\r\n")) == 0 {
			if pos > start {
				out = append(out, buf[start:next])
			}
			start = next
		}
		pos = next
	}
	if start < len(buf) {
		out = append(out, buf[start:])
	}
	return out
}

func parseAttributes(section []byte) ([]attribute, error) {
	var attrs []attribute
	for _, line := range strings.Split(string(section), "\n") {
		line = strings.TrimSuffix(line, "\r")
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, " ") {
			if len(attrs) == 0 {
				return nil, errors.New("malformed manifest: spurious continuation line")
			}
			attrs[len(attrs)-1].value += line[1:]
			continue
		}

		chunks := strings.SplitN(line, ": ", 2)
		if len(chunks) != 2 {
			return nil, errors.New("malformed attribute")
		}
		k := strings.TrimSpace(chunks[0])
		if lookup(attrs, k) != "" {
			return nil, errors.New("duplicate value for attribute '" + k + "'")
		}
		attrs = append(attrs, attribute{k, chunks[1]})
	}
	return attrs, nil
}

func lookup(attrs []attribute, key string) string {
	for _, a := range attrs {
		if strings.EqualFold(a.key, key) {
			return a.value
		}
	}
	return ""
}

// extractDigests pulls the Name attribute and every "<alg><suffix>" digest it recognizes out of a
// section. Unknown digest algorithms are ignored.
func extractDigests(attrs []attribute, suffix string) (string, map[crypto.Hash][]byte) {
	name := lookup(attrs, "Name")
	if name == "" {
		log.Debug("apksign.extractDigests", "section missing Name")
		return "", nil
	}

	out := make(map[crypto.Hash][]byte)
	for _, a := range attrs {
		if !strings.HasSuffix(a.key, suffix) {
			continue
		}
		h, ok := digestNames[strings.ToUpper(strings.TrimSuffix(a.key, suffix))]
		if !ok {
			log.Debug("apksign.extractDigests", "unsupported digest algorithm", a.key)
			continue
		}
		b, err := base64.StdEncoding.DecodeString(a.value)
		if err != nil {
			log.Debug("apksign.extractDigests", "digest failed to base64-decode", name)
			continue
		}
		out[h] = b
	}
	return name, out
}
