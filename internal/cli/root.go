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
	"github.com/spf13/cobra"

	"plt/android"
	"plt/android/log"
)

// NewRootCmd creates the root command, which signs a zip with the debug key.
func NewRootCmd() *cobra.Command {
	var config signConfig

	rootCmd := &cobra.Command{
		Use:   "buildapk [flags] <keystore> <input.zip> <output.apk>",
		Short: "Sign a zip with the Android debug key",
		Long: `Buildapk repackages an existing zip as an APK signed with the Android debug key.

The key is read from the keystore under the alias "AndroidDebugKey", with the
password "android" for both the store and the key. A keystore is never created.`,
		Args:          cobra.ExactArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			verbose, _ := cmd.Flags().GetBool("verbose")
			log.SetVerbose(verbose)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			config.Keystore, config.Input, config.Output = args[0], args[1], args[2]
			if err := config.validate(); err != nil {
				return err
			}
			return runSign(cmd.OutOrStdout(), &config)
		},
	}

	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")

	rootCmd.Flags().StringVar(&config.StoreType, "store-type", "", "Keystore type (JKS or PKCS12); detected when empty")
	rootCmd.Flags().BoolVar(&config.V2, "v2", false, "Also apply APK Signature Scheme v2")
	rootCmd.Flags().BoolVar(&config.Verify, "verify", false, "Verify the output after writing it")
	rootCmd.Flags().StringVar(&config.CreatedBy, "created-by", "", "Created-By value for the manifest")
	rootCmd.Flags().StringVar(&config.Hash, "hash", string(android.SHA256), "v2 content digest (SHA256 or SHA512)")

	rootCmd.AddCommand(NewVerifyCmd())
	rootCmd.AddCommand(NewServeCmd())

	return rootCmd
}
