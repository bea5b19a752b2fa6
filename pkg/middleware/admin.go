package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
)

// AdminTokenHeader carries the shared admin token on administrative requests.
const AdminTokenHeader = "X-Admin-Token"

// Admin gates the administrative endpoints (catalogue writes, ad-hoc test
// execution, cache management) behind a shared token. An empty token disables
// those endpoints entirely rather than leaving them open.
type Admin struct {
	token  string
	logger *zap.Logger
}

// NewAdmin creates the admin gate with the configured token.
func NewAdmin(token string, logger *zap.Logger) *Admin {
	return &Admin{token: token, logger: logger}
}

// Require wraps next so it only runs for requests presenting the admin token.
func (m *Admin) Require(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if m.token == "" {
			m.logger.Warn("Rejected administrative request: no admin token configured",
				zap.String("path", r.URL.Path))
			m.forbidden(w, "Administrative endpoints are disabled")
			return
		}

		presented := r.Header.Get(AdminTokenHeader)
		if presented == "" {
			m.unauthorized(w, "Admin token required")
			return
		}

		if subtle.ConstantTimeCompare([]byte(presented), []byte(m.token)) != 1 {
			m.logger.Warn("Rejected administrative request with invalid admin token",
				zap.String("path", r.URL.Path))
			m.forbidden(w, "Admin token is not valid")
			return
		}

		next(w, r)
	}
}

// unauthorized returns a 401 response with JSON error body.
func (m *Admin) unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   "unauthorized",
		"message": message,
	})
}

// forbidden returns a 403 response with JSON error body.
func (m *Admin) forbidden(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   "forbidden",
		"message": message,
	})
}
