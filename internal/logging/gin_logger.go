package logging

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// aiAPISuffixes identifies chat endpoints that get request-ID tracking and
// model extraction. Matched as suffixes so the region path variants count.
var aiAPISuffixes = []string{
	"/v1/chat/completions",
	"/v1/messages",
}

const requestBodyKey = "__gin_request_body__"
const requestIDHeader = "X-Request-ID"

// GinLogrusLogger returns middleware that logs each request with method,
// path, status, latency and client IP; chat requests additionally get a
// request id (echoed in the X-Request-ID response header) and the model
// name pulled from the body.
func GinLogrusLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		var requestBody []byte
		if isAIAPIPath(path) && c.Request.Body != nil {
			requestBody, _ = io.ReadAll(c.Request.Body)
			c.Request.Body = io.NopCloser(bytes.NewReader(requestBody))
			c.Set(requestBodyKey, requestBody)
		}

		var requestID string
		if isAIAPIPath(path) {
			requestID = GenerateRequestID()
			c.Header(requestIDHeader, requestID)
			c.Request = c.Request.WithContext(WithRequestID(c.Request.Context(), requestID))
		}

		c.Next()

		latency := time.Since(start)
		if latency > time.Minute {
			latency = latency.Truncate(time.Second)
		} else {
			latency = latency.Truncate(time.Millisecond)
		}

		statusCode := c.Writer.Status()
		logLine := fmt.Sprintf("%3d | %13v | %15s | %-7s %q",
			statusCode, latency, c.ClientIP(), c.Request.Method, path)

		if len(requestBody) > 0 {
			if model := strings.TrimSpace(gjson.GetBytes(requestBody, "model").String()); model != "" {
				logLine += " | " + model
			}
		}
		if errorMessage := c.Errors.ByType(gin.ErrorTypePrivate).String(); errorMessage != "" {
			logLine += " | " + errorMessage
		}

		if requestID == "" {
			requestID = "--------"
		}
		entry := log.WithField("request_id", requestID)

		switch {
		case statusCode >= http.StatusInternalServerError:
			entry.Error(logLine)
		case statusCode >= http.StatusBadRequest:
			entry.Warn(logLine)
		default:
			entry.Info(logLine)
		}
	}
}

// GinLogrusRecovery recovers from handler panics, logs the stack and maps
// the failure to the uniform error body.
func GinLogrusRecovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		if err, ok := recovered.(error); ok && errors.Is(err, http.ErrAbortHandler) {
			// Let net/http abort the connection without noisy stack logs.
			panic(http.ErrAbortHandler)
		}

		log.WithFields(log.Fields{
			"panic": recovered,
			"stack": string(debug.Stack()),
			"path":  c.Request.URL.Path,
		}).Error("recovered from panic")

		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error": gin.H{
				"message": fmt.Sprintf("%v", recovered),
				"type":    "internal_error",
			},
		})
	})
}

// GetRequestBody returns the buffered request body, reading and re-priming
// it when the logger middleware has not already done so.
func GetRequestBody(c *gin.Context) []byte {
	if body, exists := c.Get(requestBodyKey); exists {
		if bodyBytes, ok := body.([]byte); ok {
			return bodyBytes
		}
	}
	if c.Request.Body != nil {
		body, _ := io.ReadAll(c.Request.Body)
		c.Request.Body = io.NopCloser(bytes.NewReader(body))
		c.Set(requestBodyKey, body)
		return body
	}
	return nil
}

func isAIAPIPath(path string) bool {
	for _, suffix := range aiAPISuffixes {
		if strings.HasSuffix(path, suffix) {
			return true
		}
	}
	return false
}
