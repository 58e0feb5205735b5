package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type fieldErr struct{ field string }

func (e fieldErr) Error() string     { return e.field + " is invalid" }
func (e fieldErr) FieldName() string { return e.field }

func TestRespondError(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		field  string
		detail bool
	}{
		{"validation with field", fmt.Errorf("%w: %w", ErrValidation, fieldErr{"currency"}), http.StatusBadRequest, "currency", true},
		{"not found", fmt.Errorf("%w: party p1", ErrNotFound), http.StatusNotFound, "", true},
		{"conflict", fmt.Errorf("%w: already cancelled", ErrConflict), http.StatusConflict, "", true},
		{"unprocessable", ErrUnprocessable, http.StatusUnprocessableEntity, "", true},
		{"unavailable", ErrUnavailable, http.StatusServiceUnavailable, "", true},
		{"internal", errors.New("pq: connection reset"), http.StatusInternalServerError, "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			RespondError(rec, tc.err)
			require.Equal(t, tc.status, rec.Code)
			require.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))

			var p ProblemDetail
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&p))
			require.Equal(t, tc.status, p.Status)
			require.Equal(t, tc.field, p.Field)
			require.Equal(t, tc.detail, p.Detail != "")
		})
	}
}

func TestDecodeJSON(t *testing.T) {
	var dst struct {
		Code string `json:"code"`
	}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"code":"TRX-1"}`))
	require.NoError(t, DecodeJSON(req, &dst))
	require.Equal(t, "TRX-1", dst.Code)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"code":"a"} {"code":"b"}`))
	require.Error(t, DecodeJSON(req, &dst))

	big := `{"code":"` + strings.Repeat("x", MaxBodyBytes) + `"}`
	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(big))
	require.Error(t, DecodeJSON(req, &dst))
}
