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

// Package server exposes debug signing over HTTP: clients upload an unsigned zip and get back an
// APK signed with the debug key loaded at startup.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"plt/android"
	"plt/android/debugkey"
	"plt/android/log"
)

const (
	DefaultAddr      = ":8080"
	DefaultMaxUpload = 256 << 20
)

// Config is the service configuration, filled from command-line flags.
type Config struct {
	Addr      string
	MaxUpload int64                 // bytes; 0 means DefaultMaxUpload
	V2        bool                  // also apply APK Signature Scheme v2
	Hash      android.HashAlgorithm // v2 content digest; any ParseHashAlgorithm spelling
}

// Validate fills defaults and rejects unusable values.
func (c *Config) Validate() error {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.MaxUpload < 0 {
		return errors.New("max upload size must not be negative")
	}
	if c.MaxUpload == 0 {
		c.MaxUpload = DefaultMaxUpload
	}
	h, err := android.ParseHashAlgorithm(string(c.Hash))
	if err != nil {
		return err
	}
	c.Hash = h
	return nil
}

type Server struct {
	cfg Config
	r   *gin.Engine
}

// NewServer builds the router around a loaded debug key. The Provider is only read, so one can be
// shared by all requests.
func NewServer(cfg Config, provider *debugkey.Provider) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if provider == nil || provider.DebugKey() == nil {
		return nil, errors.New("server needs a loaded debug key")
	}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	s := &Server{cfg: cfg, r: r}
	s.routes(NewHandler(provider, cfg))
	return s, nil
}

func (s *Server) routes(h *Handler) {
	s.r.GET("/healthz", h.HandleHealth)

	v1 := s.r.Group("/v1")
	{
		v1.POST("/sign", h.HandleSign)
	}
}

// Handler returns the router, e.g. for httptest.
func (s *Server) Handler() http.Handler {
	return s.r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info("server.Run", "listening", s.cfg.Addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info("server.request", c.Request.Method+" "+c.Request.URL.Path,
			c.Writer.Status(), c.Writer.Size(), time.Since(start).String())
	}
}
