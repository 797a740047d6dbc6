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

package cli

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"plt/android"
	"plt/android/apksign"
	"plt/android/debugkey"
	"plt/android/log"
)

type signConfig struct {
	Keystore  string
	Input     string
	Output    string
	StoreType string
	V2        bool
	Verify    bool
	CreatedBy string
	Hash      string

	storeType debugkey.StoreType
	hash      android.HashAlgorithm
}

func (c *signConfig) validate() error {
	var err error
	if c.storeType, err = debugkey.ParseStoreType(c.StoreType); err != nil {
		return err
	}
	if c.hash, err = android.ParseHashAlgorithm(c.Hash); err != nil {
		return err
	}
	for flag, path := range map[string]string{"keystore": c.Keystore, "input": c.Input, "output": c.Output} {
		if path == "" {
			return fmt.Errorf("%s path is required", flag)
		}
	}
	if filepath.Clean(c.Input) == filepath.Clean(c.Output) {
		return errors.New("input and output must be different files")
	}
	return nil
}

func (c *signConfig) options() []apksign.Option {
	opts := []apksign.Option{apksign.WithHash(c.hash)}
	if c.V2 {
		opts = append(opts, apksign.WithSchemeV2())
	}
	if c.CreatedBy != "" {
		opts = append(opts, apksign.WithCreatedBy(c.CreatedBy))
	}
	return opts
}

// loadProvider opens the keystore at path. A path that does not exist is the recoverable
// "absent" case; every other failure is a load failure.
func loadProvider(path string, storeType debugkey.StoreType) (*debugkey.Provider, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, debugkey.Absent(err)
		}
		return nil, &debugkey.Error{Kind: debugkey.KindKeystoreLoad, Store: storeType, Err: err}
	}
	defer f.Close()

	p, err := debugkey.NewProvider(f, storeType)
	if err != nil {
		return nil, err
	}
	if !debugkey.IsDebugCertificate(p.Certificate()) {
		log.Warn("cli.loadProvider", "certificate is not the canonical debug certificate",
			p.Certificate().Subject.String(), debugkey.CertificateDesc)
	}
	return p, nil
}

func runSign(stdout io.Writer, config *signConfig) (err error) {
	p, err := loadProvider(config.Keystore, config.storeType)
	if err != nil {
		return err
	}

	in, err := os.Open(config.Input)
	if err != nil {
		return fmt.Errorf("failed to open input: %w", err)
	}
	defer in.Close()

	out, err := os.Create(config.Output)
	if err != nil {
		return fmt.Errorf("failed to create output: %w", err)
	}
	defer func() {
		// no partial archive is ever left behind
		if err != nil {
			os.Remove(config.Output)
		}
	}()

	log.Debug("cli.runSign", "signing", config.Input, config.Output, p.StoreType())
	if err = apksign.SignZip(out, p.DebugKey(), p.Certificate(), in, nil, config.options()...); err != nil {
		return err
	}

	if config.Verify {
		var z *apksign.Zip
		if z, err = verifyFile(config.Output); err != nil {
			return fmt.Errorf("signed output does not verify: %w", err)
		}
		log.Debug("cli.runSign", "verified", config.Output, z.IsV1Signed, z.IsV2Signed)
	}

	fmt.Fprintf(stdout, "signed %s -> %s\n", config.Input, config.Output)
	return nil
}
