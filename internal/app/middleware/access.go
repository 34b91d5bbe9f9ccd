// Package middleware holds the HTTP middleware applied in front of every
// gateway handler.
package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"github.com/corralhq/corral/internal/core/constants"
	"github.com/corralhq/corral/internal/logger"
	"github.com/corralhq/corral/internal/util"
)

// AccessFilter gates every request on source address and shared secret, in
// that order. A rejected request never reaches a downstream handler.
type AccessFilter struct {
	allowlist            *util.Allowlist
	sharedSecret         string
	requireAuthForHealth bool
	logger               *logger.StyledLogger
}

func NewAccessFilter(allowlist *util.Allowlist, sharedSecret string, requireAuthForHealth bool, logger *logger.StyledLogger) *AccessFilter {
	return &AccessFilter{
		allowlist:            allowlist,
		sharedSecret:         sharedSecret,
		requireAuthForHealth: requireAuthForHealth,
		logger:               logger,
	}
}

func (af *AccessFilter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		peer := util.PeerIP(r.RemoteAddr)

		if !af.allowlist.Contains(peer) {
			af.logger.Warn("Request rejected: source not in allowlist",
				"remote_addr", peer,
				"method", r.Method,
				"path", r.URL.Path)
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		if af.requiresSecret(r.URL.Path) {
			// Constant-time equality; the submitted key is never logged.
			submitted := r.Header.Get(constants.HeaderAPIKey)
			if subtle.ConstantTimeCompare([]byte(submitted), []byte(af.sharedSecret)) != 1 {
				af.logger.Warn("Request rejected: invalid API key",
					"remote_addr", peer,
					"path", r.URL.Path)
				w.Header().Set(constants.HeaderContentType, constants.ContentTypeJSON)
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "Unauthorized"})
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

func (af *AccessFilter) requiresSecret(path string) bool {
	if af.sharedSecret == "" {
		return false
	}
	if path == constants.DefaultHealthCheckEndpoint && !af.requireAuthForHealth {
		return false
	}
	return true
}
