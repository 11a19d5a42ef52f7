package handler

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/boddenberg/finance-tracker-api/internal/service"
)

type contextKey string

const userIDKey contextKey = "userID"

// TokenValidator checks a bearer token and returns its claims.
type TokenValidator interface {
	ValidateAccessToken(token string) (*service.JWTClaims, error)
}

// JWTAuthMiddleware validates Bearer tokens and injects the user id into context.
func JWTAuthMiddleware(tokens TokenValidator, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				logger.Warn("auth: missing token", zap.String("path", r.URL.Path))
				writeError(w, http.StatusUnauthorized, "Token de autenticação não fornecido")
				return
			}

			scheme, token, ok := strings.Cut(authHeader, " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
				logger.Warn("auth: invalid token format", zap.String("path", r.URL.Path))
				writeError(w, http.StatusUnauthorized, "Formato de token inválido")
				return
			}

			claims, err := tokens.ValidateAccessToken(strings.TrimSpace(token))
			if err != nil {
				logger.Warn("auth: invalid or expired token",
					zap.String("path", r.URL.Path),
					zap.Error(err),
				)
				writeError(w, http.StatusUnauthorized, err.Error())
				return
			}

			ctx := context.WithValue(r.Context(), userIDKey, claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserIDFromContext extracts the authenticated user id from context.
func UserIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(userIDKey).(string)
	return v
}
