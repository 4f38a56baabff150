package api

import (
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// requireAuth validates a Bearer token against the configured bcrypt hash.
func (s *server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			writeJSON(w, http.StatusUnauthorized, errorResponse{"authentication required"})

			return
		}

		token := authHeader[len("Bearer "):]

		if err := bcrypt.CompareHashAndPassword(
			[]byte(s.cfg.Server.AuthTokenHash), []byte(token),
		); err != nil {
			writeJSON(w, http.StatusUnauthorized, errorResponse{"invalid token"})

			return
		}

		next.ServeHTTP(w, r)
	})
}
