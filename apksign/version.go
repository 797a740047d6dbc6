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
	"strings"
)

// SigningVersion is an enum of the APK signing scheme versions we know about.
type SigningVersion int

const (
	APKSignUnknown SigningVersion = iota
	APKSignV1
	APKSignV2
)

// apkSignedHeader is the .SF main attribute a v2-aware signer uses to announce that the APK also
// carries newer signatures, so that v1-only verification must be refused (stripping protection).
const apkSignedHeader = "X-Android-APK-Signed"

func (sv SigningVersion) String() string {
	switch sv {
	case APKSignV1:
		return "1"
	case APKSignV2:
		return "2"
	default:
		return ""
	}
}

// parseAPKSigned reads an X-Android-APK-Signed value like "2" or "2, 3". Versions we don't know
// are ignored; a missing or empty header means plain v1.
func parseAPKSigned(v string) SigningVersion {
	max := APKSignV1
	for _, c := range strings.Split(v, ",") {
		if strings.TrimSpace(c) == "2" {
			max = APKSignV2
		}
	}
	return max
}
