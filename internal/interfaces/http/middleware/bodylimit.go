package middleware

import (
	"fmt"
	"net/http"

	"github.com/erp/catalogsync/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
)

// BodyLimit caps request bodies at maxBytes; a non-positive limit disables it.
// Declared lengths are rejected up front. Chunked bodies fail while decoding
// and are answered by HandleValidationError.
func BodyLimit(maxBytes int64) gin.HandlerFunc {
	if maxBytes <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxBytes {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, tooLargeResponse(maxBytes, requestID(c)))
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

func tooLargeResponse(limit int64, requestID string) dto.Response {
	return dto.NewErrorResponseWithRequestID(dto.ErrCodeTooLarge,
		fmt.Sprintf("Request body exceeds the %d byte limit", limit), requestID)
}
