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

package apksign

import (
	"bytes"
	"crypto"
	"crypto/x509"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"

	"plt/android"
	"plt/android/log"
)

// DefaultCreatedBy is the Created-By value written into the manifest and signature files.
const DefaultCreatedBy = "1.0 (Android)"

// EntryFilter decides whether an entry of a source archive is imported. Returning false skips it.
type EntryFilter func(name string) bool

// Signer is the archive-signing capability: feed entries, then finalize once.
type Signer interface {
	AddEntry(r io.Reader, name string) error
	AddArchive(r io.Reader, filter EntryFilter) error
	Finalize() error
}

type builderState int

const (
	stateCreated builderState = iota
	stateAccepting
	stateFinalized
)

type config struct {
	v2        bool
	createdBy string
	modTime   time.Time
	fixedTime bool
	hash      android.HashAlgorithm
}

// Option configures a Builder.
type Option func(*config)

// WithSchemeV2 also applies APK Signature Scheme v2 at Finalize. The archive is then buffered in
// memory until Finalize, since the v2 block covers the whole file.
func WithSchemeV2() Option {
	return func(c *config) { c.v2 = true }
}

// WithCreatedBy overrides DefaultCreatedBy.
func WithCreatedBy(createdBy string) Option {
	return func(c *config) {
		if createdBy != "" {
			c.createdBy = createdBy
		}
	}
}

// WithModTime stamps every entry, including imported ones, with t. Useful for reproducible output.
func WithModTime(t time.Time) Option {
	return func(c *config) {
		c.modTime = t
		c.fixedTime = true
	}
}

// WithHash selects the v2 content digest (SHA256 or SHA512). The v1 manifest always uses SHA-256.
func WithHash(h android.HashAlgorithm) Option {
	return func(c *config) { c.hash = h }
}

// Builder writes a signed APK to an output sink. Entries are streamed into the archive as they
// are added; signature files are produced by Finalize, which also closes the sink.
//
// A Builder is not safe for concurrent use. After an ErrArchiveIO failure every later call returns
// that same error.
type Builder struct {
	out   io.WriteCloser
	buf   *bytes.Buffer // whole archive, when v2 signing needs it
	v1    *V1Writer
	keys  []*android.SigningCert
	cfg   config
	state builderState
	err   error
}

var _ Signer = (*Builder)(nil)

// NewBuilder prepares to sign with key and cert, writing to out. No I/O happens until entries are
// added. A key that is not RSA or doesn't match cert fails with ErrSigning.
func NewBuilder(out io.WriteCloser, key crypto.PrivateKey, cert *x509.Certificate, opts ...Option) (*Builder, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	sc, err := android.NewSigningCert(key, cert, cfg.hash)
	if err != nil {
		return nil, signing(err)
	}
	return newBuilder(out, []*android.SigningCert{sc}, cfg)
}

func defaultConfig() config {
	return config{
		createdBy: DefaultCreatedBy,
		hash:      android.SHA256,
	}
}

func newBuilder(out io.WriteCloser, keys []*android.SigningCert, cfg config) (*Builder, error) {
	if out == nil {
		return nil, archiveIO("", errors.New("nil output"))
	}
	if len(keys) == 0 {
		return nil, signing(errors.New("no signing keys"))
	}
	if !cfg.fixedTime {
		cfg.modTime = time.Now()
	}

	b := &Builder{out: out, keys: keys, cfg: cfg}
	if cfg.v2 {
		b.buf = &bytes.Buffer{}
		b.v1 = NewV1Writer(b.buf, cfg.createdBy)
	} else {
		b.v1 = NewV1Writer(out, cfg.createdBy)
	}
	return b, nil
}

func (b *Builder) accepting(op string) error {
	if b.state == stateFinalized {
		return sequencing(op)
	}
	if b.err != nil {
		return b.err
	}
	b.state = stateAccepting
	return nil
}

func (b *Builder) fail(entry string, err error) error {
	b.err = archiveIO(entry, err)
	log.Debug("Builder.fail", "archive session aborted", entry, err)
	return b.err
}

// AddEntry copies r into the archive under name. r is read to EOF but not closed.
func (b *Builder) AddEntry(r io.Reader, name string) error {
	if err := b.accepting("AddEntry"); err != nil {
		return err
	}
	if err := b.v1.check(name); err != nil {
		return invalidEntry(name, err)
	}

	fh := &zip.FileHeader{Name: name, Method: zip.Deflate, Modified: b.cfg.modTime}
	if _, err := b.v1.Add(fh, r); err != nil {
		return b.fail(name, err)
	}
	return nil
}

// AddArchive reads a whole zip from r and re-emits its file entries, keeping their paths,
// compression method and timestamps. Directories and existing signature files are skipped, as
// are entries for which filter returns false.
func (b *Builder) AddArchive(r io.Reader, filter EntryFilter) error {
	if err := b.accepting("AddArchive"); err != nil {
		return err
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return b.fail("", err)
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		// nothing has been written for this archive yet, so the session is still usable
		return archiveIO("", err)
	}

	for _, f := range zr.File {
		name := f.Name
		if strings.HasSuffix(name, "/") || f.FileInfo().IsDir() {
			continue
		}
		if isSignatureEntry(name) {
			log.Debug("Builder.AddArchive", "dropping existing signature file", name)
			continue
		}
		if filter != nil && !filter(name) {
			continue
		}
		if err := b.v1.check(name); err != nil {
			return invalidEntry(name, err)
		}

		if err := b.copyFile(f); err != nil {
			return b.fail(name, err)
		}
	}

	return nil
}

func (b *Builder) copyFile(f *zip.File) error {
	fh := &zip.FileHeader{Name: f.Name, Method: zip.Deflate, Modified: f.Modified}
	if f.Method == zip.Store {
		// resources.arsc and friends must stay uncompressed to be mmap-able
		fh.Method = zip.Store
	}
	if b.cfg.fixedTime || fh.Modified.IsZero() {
		fh.Modified = b.cfg.modTime
	}

	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	_, err = b.v1.Add(fh, rc)
	return err
}

// Finalize writes the manifest, signature file and signature block, completes the archive
// (applying the v2 scheme if configured) and closes the output. Calling it again, or adding
// entries afterwards, fails with ErrSequencing and never touches the closed output.
func (b *Builder) Finalize() error {
	if b.state == stateFinalized {
		return sequencing("Finalize")
	}
	b.state = stateFinalized

	if b.err != nil {
		b.out.Close()
		return b.err
	}

	if err := b.v1.Sign(b.keys, b.cfg.v2); err != nil {
		b.out.Close()
		return signing(err)
	}
	if err := b.v1.Close(); err != nil {
		b.out.Close()
		return archiveIO("", err)
	}

	if b.buf != nil {
		if err := b.writeV2(); err != nil {
			b.out.Close()
			return err
		}
	}

	if err := b.out.Close(); err != nil {
		return archiveIO("", err)
	}
	return nil
}

func (b *Builder) writeV2() error {
	z, err := NewZip(b.buf.Bytes())
	if err != nil {
		return archiveIO("", err)
	}
	v2 := &V2Block{}
	signed, err := v2.Sign(z, b.keys)
	if err != nil {
		return signing(err)
	}
	if _, err = b.out.Write(signed); err != nil {
		return archiveIO("", err)
	}
	return nil
}

// abandon closes the output without signing. Used when a session fails before Finalize.
func (b *Builder) abandon() {
	if b.state != stateFinalized {
		b.state = stateFinalized
		b.out.Close()
	}
}

// SignZip signs the whole zip read from src into out, for callers that already have a complete
// archive. out is closed in every case.
func SignZip(out io.WriteCloser, key crypto.PrivateKey, cert *x509.Certificate, src io.Reader, filter EntryFilter, opts ...Option) error {
	b, err := NewBuilder(out, key, cert, opts...)
	if err != nil {
		if out != nil {
			out.Close()
		}
		return err
	}
	if err = b.AddArchive(src, filter); err != nil {
		b.abandon()
		return err
	}
	return b.Finalize()
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

// NopWriteCloser adapts w to an io.WriteCloser whose Close does nothing, e.g. for signing into a
// bytes.Buffer.
func NopWriteCloser(w io.Writer) io.WriteCloser {
	return nopWriteCloser{w}
}
