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
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"plt/android"
	"plt/android/debugkey"
	"plt/android/internal/server"
)

// NewServeCmd creates the serve command
func NewServeCmd() *cobra.Command {
	var config server.Config
	var keystore, storeType string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve debug signing over HTTP",
		Long: `Loads the debug key once and signs zips posted to /v1/sign, returning the APK.
GET /healthz reports the signing certificate.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if keystore == "" {
				return errors.New("--keystore is required")
			}
			if err := config.Validate(); err != nil {
				return err
			}
			st, err := debugkey.ParseStoreType(storeType)
			if err != nil {
				return err
			}
			p, err := loadProvider(keystore, st)
			if err != nil {
				return err
			}

			if verbose, _ := cmd.Flags().GetBool("verbose"); !verbose {
				gin.SetMode(gin.ReleaseMode)
			}
			srv, err := server.NewServer(config, p)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmdContext(cmd), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return srv.Run(ctx)
		},
	}

	cmd.Flags().StringVar(&keystore, "keystore", "", "Path to the debug keystore")
	cmd.Flags().StringVar(&storeType, "store-type", "", "Keystore type (JKS or PKCS12); detected when empty")
	cmd.Flags().StringVar(&config.Addr, "addr", server.DefaultAddr, "Listen address")
	cmd.Flags().BoolVar(&config.V2, "v2", false, "Also apply APK Signature Scheme v2")
	cmd.Flags().StringVar((*string)(&config.Hash), "hash", string(android.SHA256), "v2 content digest (SHA256 or SHA512)")
	cmd.Flags().Int64Var(&config.MaxUpload, "max-upload", server.DefaultMaxUpload, "Maximum upload size in bytes")

	return cmd
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
