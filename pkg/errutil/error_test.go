package errutil

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHTTPStatusMapping(t *testing.T) {
	cases := map[CoreStatus]int{
		StatusBadRequest:       http.StatusBadRequest,
		StatusValidationFailed: http.StatusBadRequest,
		StatusUnauthorized:     http.StatusUnauthorized,
		StatusForbidden:        http.StatusForbidden,
		StatusNotFound:         http.StatusNotFound,
		StatusConflict:         http.StatusConflict,
		StatusTooManyRequests:  http.StatusTooManyRequests,
		StatusInternal:         http.StatusInternalServerError,
		StatusUnknown:          http.StatusInternalServerError,
	}
	for code, want := range cases {
		require.Equal(t, want, code.HTTPStatus(), "status %s", code)
	}
}

func TestBaseErrorWrapping(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := Internal("database unavailable", WithErr(cause))

	var be BaseError
	require.ErrorAs(t, err, &be)
	require.Equal(t, StatusInternal, be.Status())
	require.ErrorIs(t, err, cause)
	require.Contains(t, err.Error(), "database unavailable")
	require.Contains(t, err.Error(), "connection refused")
}

func TestBaseErrorJSON(t *testing.T) {
	err := ValidationFailed("amount must be a positive number",
		WithDetails(Detail{Field: "amount", Message: "must be positive"}))

	var be BaseError
	require.ErrorAs(t, err, &be)

	body, ok := be.JSON().(map[string]interface{})
	require.True(t, ok)
	inner, ok := body["error"].(map[string]interface{})
	require.True(t, ok)
	require.Equal(t, StatusValidationFailed, inner["code"])
}
