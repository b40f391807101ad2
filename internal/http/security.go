package http

import (
	"context"
	"net/http"

	applog "mintmind/internal/log"
)

// HeaderUserID carries the authenticated owner set by the fronting gateway.
const HeaderUserID = "X-User-ID"

const maxOwnerIDLength = 128

type ctxKey string

const ownerKey ctxKey = "owner_id"

// OwnerFromContext returns the owner set by requireIdentity, or "".
func OwnerFromContext(ctx context.Context) string {
	owner, _ := ctx.Value(ownerKey).(string)
	return owner
}

// requireIdentity resolves the owner from X-User-ID. The header is only
// honoured from trusted proxies when requireTrusted is set.
func (s *Server) requireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner := sanitizeInput(r.Header.Get(HeaderUserID))
		if owner == "" || len(owner) > maxOwnerIDLength {
			UnauthorizedError().Write(w)
			return
		}
		if s.requireTrusted && !s.resolver.FromTrustedProxy(r) {
			s.logger.WarnContext(r.Context(), "Identity header from untrusted peer",
				applog.FieldClientIP, s.resolver.ExtractClientIP(r),
				"rejected_total", s.resolver.Rejected())
			UnauthorizedError().Write(w)
			return
		}

		ctx := context.WithValue(r.Context(), ownerKey, owner)
		ctx = applog.WithLogger(ctx, s.logger.With(applog.FieldOwnerID, owner))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
