package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/relayforge/bedrock-gateway/internal/dispatch"
	"github.com/relayforge/bedrock-gateway/internal/translator"
)

// ErrorResponse is the uniform error body for all non-2xx JSON responses.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries a human-readable message and a stable error type.
type ErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

func respondError(c *gin.Context, status int, message, errType string) {
	c.JSON(status, ErrorResponse{Error: ErrorDetail{Message: message, Type: errType}})
}

// respondDispatchError maps the error taxonomy to HTTP statuses: validation
// failures are the client's fault (400), everything else surfaces as 500
// after fallback was exhausted.
func respondDispatchError(c *gin.Context, err error) {
	var validationErr *translator.ValidationError
	if errors.As(err, &validationErr) {
		respondError(c, http.StatusBadRequest, validationErr.Message, "invalid_request_error")
		return
	}
	respondError(c, http.StatusInternalServerError, err.Error(), dispatch.Classify(err))
}
