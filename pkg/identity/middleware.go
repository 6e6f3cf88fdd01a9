package identity

import (
	"net/http"

	"github.com/google/uuid"
)

// Header names populated by the auth gateway after token verification.
// These headers are only trusted because the gateway strips client-supplied
// values before forwarding.
const (
	HeaderTenantID = "X-Tenant-ID"
	HeaderUserID   = "X-User-ID"
	HeaderUserType = "X-User-Type"
	HeaderRole     = "X-Role"
)

// Middleware extracts the verified identity headers into the request context.
// Requests without a parsable tenant ID are rejected with 401; the routes
// this service exposes are meaningless without a caller identity.
func Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tenantID, err := uuid.Parse(r.Header.Get(HeaderTenantID))
			if err != nil {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}

			id := Identity{
				TenantID: tenantID,
				UserType: UserType(r.Header.Get(HeaderUserType)),
				Role:     Role(r.Header.Get(HeaderRole)),
			}
			if userID, err := uuid.Parse(r.Header.Get(HeaderUserID)); err == nil {
				id.UserID = userID
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}
