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
	"errors"
	"fmt"
)

// Sentinels for errors.Is against errors returned by Builder.
var (
	// ErrArchiveIO is a failure reading entry content or a source archive, or writing the output.
	// The Builder is unusable afterwards.
	ErrArchiveIO = errors.New("archive I/O failure")

	// ErrSequencing is a call made after Finalize. It indicates a caller bug.
	ErrSequencing = errors.New("builder already finalized")

	// ErrInvalidEntry is an entry name that cannot be added: empty, a directory, reserved for
	// signature files, or already present. Nothing is written for it.
	ErrInvalidEntry = errors.New("invalid archive entry")

	// ErrSigning is a failure to produce signatures, including a key/certificate mismatch.
	ErrSigning = errors.New("signing failure")
)

// ErrorKind categorizes a Builder failure.
type ErrorKind int

const (
	KindArchiveIO ErrorKind = iota
	KindSequencing
	KindInvalidEntry
	KindSigning
)

func (k ErrorKind) String() string {
	switch k {
	case KindArchiveIO:
		return "ArchiveIO"
	case KindSequencing:
		return "Sequencing"
	case KindInvalidEntry:
		return "InvalidEntry"
	case KindSigning:
		return "Signing"
	default:
		return "Unknown"
	}
}

var kindSentinels = map[ErrorKind]error{
	KindArchiveIO:    ErrArchiveIO,
	KindSequencing:   ErrSequencing,
	KindInvalidEntry: ErrInvalidEntry,
	KindSigning:      ErrSigning,
}

// Error is a Builder failure, optionally tied to one archive entry.
type Error struct {
	Kind  ErrorKind
	Entry string
	Err   error
}

func (e *Error) Error() string {
	if e.Entry != "" {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Entry, e.Err)
	}
	return fmt.Sprintf("[%s] %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	return kindSentinels[e.Kind] == target
}

func archiveIO(entry string, err error) *Error {
	return &Error{Kind: KindArchiveIO, Entry: entry, Err: err}
}

func sequencing(op string) *Error {
	return &Error{Kind: KindSequencing, Err: fmt.Errorf("%s called after Finalize", op)}
}

func invalidEntry(entry string, err error) *Error {
	return &Error{Kind: KindInvalidEntry, Entry: entry, Err: err}
}

func signing(err error) *Error {
	return &Error{Kind: KindSigning, Err: err}
}
