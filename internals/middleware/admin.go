package middle

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"watchpost/pkg/apperror"
	"watchpost/pkg/utils"

	"github.com/go-chi/chi/v5/middleware"
)

// AdminMiddleware protects the diagnostic endpoints with a shared operator
// key presented as a bearer token.
type AdminMiddleware struct {
	key string
}

func NewAdminMiddleware(key string) *AdminMiddleware {
	return &AdminMiddleware{key: key}
}

func (a *AdminMiddleware) Handle(next http.Handler) http.Handler {
	fn := func(w http.ResponseWriter, r *http.Request) {
		reqID := middleware.GetReqID(r.Context())

		authHeader := r.Header.Get("Authorization")
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			utils.WriteError(w, http.StatusUnauthorized, reqID, apperror.Unauthorised, "missing admin key")
			return
		}

		if subtle.ConstantTimeCompare([]byte(parts[1]), []byte(a.key)) != 1 {
			utils.WriteError(w, http.StatusForbidden, reqID, apperror.Forbidden, "invalid admin key")
			return
		}

		next.ServeHTTP(w, r)
	}

	return http.HandlerFunc(fn)
}
