package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/isdelr/ender-auth/internal/models"
	"github.com/isdelr/ender-auth/internal/services"
	"github.com/rs/zerolog/log"
)

// Authenticator resolves a bearer token to its user and token row.
type Authenticator interface {
	Authenticate(ctx context.Context, plainToken string) (models.User, models.AccessToken, error)
}

type contextKey string

const (
	userKey  = contextKey("user")
	tokenKey = contextKey("accessToken")
)

// BearerToken extracts the token from an "Authorization: Bearer <token>" header.
func BearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// Middleware rejects requests without a valid bearer token and stores the
// authenticated user and token in the request context.
func Middleware(authn Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenStr, ok := BearerToken(r)
			if !ok {
				unauthenticated(w)
				return
			}

			user, token, err := authn.Authenticate(r.Context(), tokenStr)
			if err != nil {
				if !errors.Is(err, services.ErrUnauthenticated) {
					log.Error().Err(err).Msg("Failed to authenticate bearer token")
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					json.NewEncoder(w).Encode(map[string]string{"message": "Server Error"})
					return
				}
				unauthenticated(w)
				return
			}

			ctx := context.WithValue(r.Context(), userKey, user)
			ctx = context.WithValue(ctx, tokenKey, token)
			log.Debug().Str("user_id", user.ID).Str("token_id", token.ID).Msg("Authenticated request")
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserFrom returns the authenticated user stored by Middleware.
func UserFrom(ctx context.Context) (models.User, bool) {
	user, ok := ctx.Value(userKey).(models.User)
	return user, ok
}

// TokenFrom returns the token used for the current request.
func TokenFrom(ctx context.Context) (models.AccessToken, bool) {
	token, ok := ctx.Value(tokenKey).(models.AccessToken)
	return token, ok
}

func unauthenticated(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", "Bearer")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"message": "Unauthenticated."})
}
