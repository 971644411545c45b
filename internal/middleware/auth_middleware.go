package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/streamhub/streamhub/internal/models"
	"github.com/streamhub/streamhub/internal/service"
)

// AccessTokenCookie is the cookie the access token is delivered in.
const AccessTokenCookie = "accessToken"

type contextKey struct{}

var identityKey contextKey

type AuthMiddleware struct {
	verifier *service.TokenVerifier
	logger   *logrus.Logger
}

func NewAuthMiddleware(verifier *service.TokenVerifier, logger *logrus.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		verifier: verifier,
		logger:   logger,
	}
}

// RequireAuth resolves the presented access token to an identity and stores
// it in the request context. Handlers behind it read it with IdentityFrom.
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := m.verifier.Verify(r.Context(), AccessToken(r))
		if err != nil {
			// Internal failures are logged by the verifier.
			if svcErr := service.AsError(err); svcErr.Kind != service.KindInternal {
				m.logger.WithFields(logrus.Fields{
					"path":   r.URL.Path,
					"reason": svcErr.Reason,
				}).Debug("Access token rejected")
			}
			WriteError(w, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
	})
}

// AccessToken returns the access token from the cookie, falling back to an
// "Authorization: Bearer" header.
func AccessToken(r *http.Request) string {
	if cookie, err := r.Cookie(AccessTokenCookie); err == nil && cookie.Value != "" {
		return cookie.Value
	}

	parts := strings.Fields(r.Header.Get("Authorization"))
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return parts[1]
	}
	return ""
}

func WithIdentity(ctx context.Context, identity *models.Identity) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}

func IdentityFrom(ctx context.Context) (*models.Identity, bool) {
	identity, ok := ctx.Value(identityKey).(*models.Identity)
	return identity, ok && identity != nil
}
