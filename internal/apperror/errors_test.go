package apperror

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusCodesMatchCodes(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, New(CodeBadRequest, "x").StatusCode)
	assert.Equal(t, http.StatusUnauthorized, New(CodeUnauthorized, "x").StatusCode)
	assert.Equal(t, http.StatusForbidden, New(CodeForbidden, "x").StatusCode)
	assert.Equal(t, http.StatusNotFound, New(CodeNotFound, "x").StatusCode)
	assert.Equal(t, http.StatusConflict, New(CodeConflict, "x").StatusCode)
	assert.Equal(t, http.StatusTooManyRequests, New(CodeRateLimited, "x").StatusCode)
	assert.Equal(t, http.StatusInternalServerError, New(CodeInternal, "x").StatusCode)
}

func TestWrapPreservesCauseAsDetails(t *testing.T) {
	cause := errors.New("boom")
	wrapped := Wrap(cause)
	assert.Equal(t, CodeInternal, wrapped.Code)
	assert.Equal(t, "boom", wrapped.Details)
}

func TestToResponseCarriesCodeMessageAndDetails(t *testing.T) {
	err := NewWithDetails(CodeUnauthorized, "session invalid", "token expired")
	resp := err.ToResponse()
	assert.Equal(t, CodeUnauthorized, resp.Code)
	assert.Equal(t, "session invalid", resp.Message)
	assert.Equal(t, "token expired", resp.Details)
}
