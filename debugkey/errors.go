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
	"errors"
	"fmt"
)

// Sentinels for errors.Is. Every error returned by NewProvider matches exactly one of them.
var (
	// ErrKeystoreAbsent means there was no keystore data at all. Callers may treat this as "no
	// debug keystore yet"; this package never creates one.
	ErrKeystoreAbsent = errors.New("keystore not found")

	// ErrKeystoreLoad means keystore data was present but unusable: malformed, wrong password,
	// unknown type, or no private key under the debug alias.
	ErrKeystoreLoad = errors.New("keystore could not be loaded")
)

// ErrorKind categorizes a keystore failure.
type ErrorKind int

const (
	KindKeystoreAbsent ErrorKind = iota
	KindKeystoreLoad
)

func (k ErrorKind) String() string {
	switch k {
	case KindKeystoreAbsent:
		return "KeystoreAbsent"
	case KindKeystoreLoad:
		return "KeystoreLoad"
	default:
		return "Unknown"
	}
}

// Error is a keystore failure with its category and underlying cause.
type Error struct {
	Kind  ErrorKind
	Store StoreType
	Err   error
}

func (e *Error) Error() string {
	if e.Store != "" {
		return fmt.Sprintf("[%s] %s keystore: %v", e.Kind, e.Store, e.Err)
	}
	return fmt.Sprintf("[%s] %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for the error's kind.
func (e *Error) Is(target error) bool {
	switch e.Kind {
	case KindKeystoreAbsent:
		return target == ErrKeystoreAbsent
	case KindKeystoreLoad:
		return target == ErrKeystoreLoad
	}
	return false
}

func absent(err error) error {
	return &Error{Kind: KindKeystoreAbsent, Err: err}
}

func loadFailure(store StoreType, err error) error {
	return &Error{Kind: KindKeystoreLoad, Store: store, Err: err}
}

// Absent wraps err (typically an os.ErrNotExist from opening a keystore path) so that it matches
// ErrKeystoreAbsent.
func Absent(err error) error {
	if err == nil {
		err = ErrKeystoreAbsent
	}
	return absent(err)
}
