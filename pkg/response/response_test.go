package response

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSuccess_WritesBareBody(t *testing.T) {
	rec := httptest.NewRecorder()

	Success(rec, map[string]int{"count": 1})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"count":1}`, rec.Body.String())
}

func TestErrorHelpers(t *testing.T) {
	tests := []struct {
		name   string
		write  func(http.ResponseWriter, string)
		status int
	}{
		{name: "bad request", write: BadRequest, status: http.StatusBadRequest},
		{name: "unauthorized", write: Unauthorized, status: http.StatusUnauthorized},
		{name: "not found", write: NotFound, status: http.StatusNotFound},
		{name: "conflict", write: Conflict, status: http.StatusConflict},
		{name: "internal", write: InternalError, status: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tt.write(rec, "boom")

			assert.Equal(t, tt.status, rec.Code)
			assert.JSONEq(t, `{"error":"boom"}`, rec.Body.String())
		})
	}
}
