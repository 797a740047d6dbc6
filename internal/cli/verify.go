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
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"plt/android/apksign"
)

// NewVerifyCmd creates the verify command
func NewVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <file.apk>",
		Short: "Check the signatures on an APK",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			z, err := verifyFile(args[0])
			if z != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: apk=%v v1=%v v2=%v\n", args[0], z.IsAPK, z.IsV1Signed, z.IsV2Signed)
			}
			if err != nil {
				return fmt.Errorf("%s does not verify: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: verified\n", args[0])
			return nil
		},
	}
}

// verifyFile parses and verifies the archive at path. The Zip is returned whenever it parsed,
// even if verification failed.
func verifyFile(path string) (*apksign.Zip, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	z, err := apksign.NewZip(b)
	if err != nil {
		return nil, err
	}
	return z, z.Verify()
}
