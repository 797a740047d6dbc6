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

package server

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"plt/android/apksign"
	"plt/android/debugkey"
	"plt/android/log"
)

// APKContentType is the media type of a signed APK response.
const APKContentType = "application/vnd.android.package-archive"

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type healthResponse struct {
	Status       string `json:"status"`
	Subject      string `json:"subject"`
	SHA256       string `json:"sha256"`
	StoreType    string `json:"store_type"`
	DebugSubject bool   `json:"debug_subject"`
}

type Handler struct {
	provider  *debugkey.Provider
	maxUpload int64
	opts      []apksign.Option
}

func NewHandler(provider *debugkey.Provider, cfg Config) *Handler {
	h := &Handler{provider: provider, maxUpload: cfg.MaxUpload}
	if cfg.Hash != "" {
		h.opts = append(h.opts, apksign.WithHash(cfg.Hash))
	}
	if cfg.V2 {
		h.opts = append(h.opts, apksign.WithSchemeV2())
	}
	return h
}

func (h *Handler) HandleHealth(c *gin.Context) {
	cert := h.provider.Certificate()
	fp := sha256.Sum256(cert.Raw)
	c.JSON(http.StatusOK, healthResponse{
		Status:       "ok",
		Subject:      cert.Subject.String(),
		SHA256:       hex.EncodeToString(fp[:]),
		StoreType:    string(h.provider.StoreType()),
		DebugSubject: debugkey.IsDebugCertificate(cert),
	})
}

// HandleSign signs the zip in the request body and returns the APK.
func (h *Handler) HandleSign(c *gin.Context) {
	body := http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload)
	payload, err := io.ReadAll(body)
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(c, http.StatusRequestEntityTooLarge, "TOO_LARGE", "upload exceeds size limit")
			return
		}
		writeError(c, http.StatusBadRequest, "READ_FAILED", "error reading request body")
		return
	}

	if _, err = apksign.NewZip(payload); err != nil {
		log.Warn("server.HandleSign", "error parsing zip", err)
		writeError(c, http.StatusBadRequest, "INVALID_ZIP", "error parsing zip: "+err.Error())
		return
	}

	var out bytes.Buffer
	err = apksign.SignZip(apksign.NopWriteCloser(&out), h.provider.DebugKey(), h.provider.Certificate(),
		bytes.NewReader(payload), nil, h.opts...)
	switch {
	case err == nil:
	case errors.Is(err, apksign.ErrArchiveIO), errors.Is(err, apksign.ErrInvalidEntry):
		log.Warn("server.HandleSign", "unusable zip contents", err)
		writeError(c, http.StatusBadRequest, "INVALID_ZIP", err.Error())
		return
	default:
		log.Error("server.HandleSign", "error signing zip", err)
		writeError(c, http.StatusInternalServerError, "SIGNING_FAILED", "error signing zip")
		return
	}

	c.Data(http.StatusOK, APKContentType, out.Bytes())
}

func writeError(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, errorResponse{Code: code, Message: msg})
}
