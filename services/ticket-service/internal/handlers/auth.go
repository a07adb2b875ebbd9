package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/md-rashed-zaman/ticketledger/libs/auth"
	"github.com/md-rashed-zaman/ticketledger/libs/httpx"
)

type identityKey struct{}

// IdentityFromContext returns the caller id resolved by RequireIdentity. It
// may be empty when the token carried no id claim.
func IdentityFromContext(ctx context.Context) string {
	v, _ := ctx.Value(identityKey{}).(string)
	return v
}

type IdentityResolver interface {
	Identity(ctx context.Context, c auth.Credential) (string, error)
}

// RequireIdentity resolves the bearer credential and stores the caller id on
// the request context.
func RequireIdentity(v IdentityResolver, logger *slog.Logger) httpx.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cred, err := auth.ParseBearer(r.Header.Get("Authorization"))
			if err != nil {
				httpx.WriteError(w, http.StatusUnauthorized, msgUnauthenticated)
				return
			}

			id, err := v.Identity(r.Context(), cred)
			switch {
			case errors.Is(err, auth.ErrInvalidToken):
				httpx.WriteError(w, http.StatusUnauthorized, "Invalid token. Please sign in again.")
				return
			case err != nil:
				logger.ErrorContext(r.Context(), "authentication failed",
					"request_id", httpx.RequestIDFromContext(r.Context()),
					"credential_kind", cred.Kind.String(),
					"err", err,
				)
				httpx.WriteError(w, http.StatusInternalServerError, "Authentication failed")
				return
			}

			httpx.AddLogAttr(r.Context(), "user_id", id)
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey{}, id)))
		})
	}
}
