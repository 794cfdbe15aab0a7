package middle

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAdminMiddleware(t *testing.T) {
	mw := NewAdminMiddleware("operator-key-1234")

	var reached bool
	handler := mw.Handle(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name       string
		authHeader string
		wantStatus int
		wantPass   bool
	}{
		{"valid key", "Bearer operator-key-1234", http.StatusNoContent, true},
		{"wrong key", "Bearer wrong-key", http.StatusForbidden, false},
		{"missing header", "", http.StatusUnauthorized, false},
		{"not bearer", "Basic operator-key-1234", http.StatusUnauthorized, false},
		{"bare token", "operator-key-1234", http.StatusUnauthorized, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			reached = false
			req := httptest.NewRequest(http.MethodGet, "/admin/targets", nil)
			if tc.authHeader != "" {
				req.Header.Set("Authorization", tc.authHeader)
			}

			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tc.wantStatus, rec.Code)
			assert.Equal(t, tc.wantPass, reached)
		})
	}
}
