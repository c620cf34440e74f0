package auth

import (
	"context"
	"net/http"

	"github.com/xela07ax/spaceai-pacer/internal/domain"
	"go.uber.org/zap"
)

// TokenValidator — проверка bearer-токена управляющего API
type TokenValidator interface {
	VerifyToken(tokenStr string) (*domain.OperatorClaims, error)
}

type claimsKey struct{}

// ClaimsFrom достает claims, положенные middleware
func ClaimsFrom(ctx context.Context) (*domain.OperatorClaims, bool) {
	c, ok := ctx.Value(claimsKey{}).(*domain.OperatorClaims)
	return c, ok
}

func NewMiddleware(v TokenValidator, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				unauthorized(w)
				return
			}

			claims, err := v.VerifyToken(header)
			if err != nil {
				logger.Warn("rejected operator token",
					zap.String("path", r.URL.Path),
					zap.String("remote", r.RemoteAddr),
					zap.Error(err))
				unauthorized(w)
				return
			}

			ctx := context.WithValue(r.Context(), claimsKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="pacer"`)
	http.Error(w, "Unauthorized", http.StatusUnauthorized)
}

// RequireScope пропускает только токены со скоупом scope.
// Без NewMiddleware выше по цепочке claims нет, и запрос пропускается (API без auth).
func RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if claims, ok := ClaimsFrom(r.Context()); ok && !claims.Scopes[scope] {
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
