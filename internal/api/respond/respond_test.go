package respond

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mycelian/mycelian-companion/internal/model"
)

func TestWriteServiceError(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{fmt.Errorf("content: %w", model.ErrValidation), http.StatusBadRequest},
		{fmt.Errorf("memory: %w", model.ErrNotFound), http.StatusNotFound},
		{model.ErrConflict, http.StatusConflict},
		{fmt.Errorf("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		rr := httptest.NewRecorder()
		WriteServiceError(rr, tt.err)
		assert.Equal(t, tt.code, rr.Code, tt.err.Error())

		var body ErrorResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
		assert.Equal(t, tt.code, body.Code)
	}
}

func TestWriteServiceError_HidesInternalDetail(t *testing.T) {
	rr := httptest.NewRecorder()
	WriteServiceError(rr, fmt.Errorf("dsn=postgres://secret"))
	assert.NotContains(t, rr.Body.String(), "secret")
}
