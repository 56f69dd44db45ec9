package server

import (
	"bytes"
	"crypto/subtle"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/minno-ai/minno/internal/signature"
)

const rawBodyKey = "minno.rawBody"

// requestLogger logs one line per request.
func requestLogger(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		attrs := []any{
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, "errors", c.Errors.String())
		}
		log.Info("server: request", attrs...)
	}
}

// verifySlackSignature reads the raw body once, verifies it and makes it
// available to handlers. Nothing downstream runs for a rejected request.
func (s *Server) verifySlackSignature(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, s.maxBody))
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(c, http.StatusRequestEntityTooLarge, "payload_too_large", "request body is too large")
			return
		}
		writeError(c, http.StatusBadRequest, "unreadable_body", "could not read request body")
		return
	}

	if err := s.verifier.Verify(c.Request.Header, body); err != nil {
		status := http.StatusUnauthorized
		var ae *signature.AuthError
		if errors.As(err, &ae) {
			status = ae.Status
		}
		key := "invalid_signature"
		if status == http.StatusBadRequest {
			key = "invalid_request"
		}
		s.log.Warn("server: slack signature rejected", "path", c.Request.URL.Path, "error", err)
		writeError(c, status, key, err.Error())
		return
	}

	c.Set(rawBodyKey, body)
	c.Request.Body = io.NopCloser(bytes.NewReader(body))
	c.Next()
}

func rawBody(c *gin.Context) []byte {
	b, _ := c.Get(rawBodyKey)
	body, _ := b.([]byte)
	return body
}

// requireAPIKey guards the admin API with a static bearer key. Without a
// configured key the admin API does not exist.
func (s *Server) requireAPIKey(c *gin.Context) {
	if s.apiKey == "" || s.admin == nil {
		writeError(c, http.StatusNotFound, "not_found", "admin api is disabled")
		return
	}
	header := c.GetHeader("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.apiKey)) != 1 {
		writeError(c, http.StatusUnauthorized, "unauthorized", "missing or invalid api key")
		return
	}
	c.Next()
}
