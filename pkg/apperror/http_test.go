package apperror_test

import (
	"errors"
	"net/http"
	"testing"

	"cronguard/pkg/apperror"

	"github.com/stretchr/testify/assert"
)

func TestGetHTTPStatus(t *testing.T) {
	tests := []struct {
		kind apperror.Kind
		want int
	}{
		{apperror.InvalidInput, http.StatusBadRequest},
		{apperror.NotFound, http.StatusNotFound},
		{apperror.Conflict, http.StatusConflict},
		{apperror.AlreadyExists, http.StatusConflict},
		{apperror.RateLimited, http.StatusTooManyRequests},
		{apperror.RequestTimeout, http.StatusRequestTimeout},
		{apperror.Dependency, http.StatusBadGateway},
		{apperror.DatabaseErr, http.StatusBadGateway},
		{apperror.Internal, http.StatusInternalServerError},
		{apperror.Kind("never-seen"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.want, apperror.GetHTTPStatus(tt.kind))
		})
	}
}

func TestHTTPStatus_UnwrapsNestedError(t *testing.T) {
	inner := apperror.New(apperror.RateLimited, "service.checkin.ingest", nil)
	wrapped := apperror.New(apperror.Internal, "handler.checkin", inner)

	// the outermost *Error wins
	assert.Equal(t, http.StatusInternalServerError, apperror.HTTPStatus(wrapped))
	assert.Equal(t, http.StatusTooManyRequests, apperror.HTTPStatus(inner))
	assert.Equal(t, http.StatusInternalServerError, apperror.HTTPStatus(errors.New("plain")))
}
