package middleware

import (
	"context"
	"net/http"
)

type AdminDirectory interface {
	IsAdmin(ctx context.Context, customerID string) (bool, error)
}

// RequireAdmin lets the request through only when the authenticated customer
// is active and holds the ADMIN role, looked up on every request.
func RequireAdmin(directory AdminDirectory) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			customerID, ok := CustomerIDFromContext(r.Context())
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			isAdmin, err := directory.IsAdmin(r.Context(), customerID)
			if err != nil {
				http.Error(w, "unable to verify admin", http.StatusInternalServerError)
				return
			}
			if !isAdmin {
				http.Error(w, "admin privileges required", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
