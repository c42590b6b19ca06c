package gateway

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/flemzord/roundtable/internal/security"
)

var (
	errUnauthorized     = errors.New("unauthorized")
	errTooManyAuthTries = errors.New("too many requests")
)

// tokenGuard admits /v1 requests carrying the configured bearer token.
// Every attempt is drawn from the limiter's auth bucket and audited;
// audit and limiter may be nil.
func tokenGuard(token string, audit *security.AuditLogger, limiter *security.RateLimiter) func(http.Handler) http.Handler {
	want := []byte(token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter != nil && limiter.Allow(security.BucketAuth) != nil {
				auditAuth(audit, r, security.EventRateLimit, security.BucketAuth)
				writeError(w, http.StatusTooManyRequests, errTooManyAuthTries)
				return
			}
			if reason := rejectBearer(r.Header.Get("Authorization"), want); reason != "" {
				auditAuth(audit, r, security.EventAuthFailure, reason)
				writeError(w, http.StatusUnauthorized, errUnauthorized)
				return
			}
			auditAuth(audit, r, security.EventAuthSuccess, "bearer")
			next.ServeHTTP(w, r)
		})
	}
}

// rejectBearer returns why header does not carry want, or "" if it does.
func rejectBearer(header string, want []byte) string {
	got, isBearer := strings.CutPrefix(header, "Bearer ")
	switch {
	case header == "":
		return "missing authorization header"
	case !isBearer:
		return "unsupported authorization scheme"
	case subtle.ConstantTimeCompare([]byte(got), want) != 1:
		return "invalid token"
	}
	return ""
}

func auditAuth(audit *security.AuditLogger, r *http.Request, typ security.EventType, detail string) {
	audit.Log(security.AuditEvent{
		Type:       typ,
		RemoteAddr: r.RemoteAddr,
		Detail:     detail,
		Metadata:   map[string]string{"method": r.Method, "path": r.URL.Path},
	})
}
