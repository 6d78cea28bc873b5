package api

import (
	"context"
	"net/http"
	"strings"

	"studiobook/internal/models"

	"github.com/rs/zerolog"
)

type identityKey struct{}

func withIdentity(ctx context.Context, identity models.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// identityFrom returns the verified caller; the zero Identity when the route
// is public.
func identityFrom(ctx context.Context) models.Identity {
	identity, _ := ctx.Value(identityKey{}).(models.Identity)
	return identity
}

// authMiddleware verifies the bearer token before next runs.
func (s *HTTPServer) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "Authentication required. Please sign in.")
			return
		}

		identity, err := s.verifier.Verify(r.Context(), token)
		if err != nil {
			zerolog.Ctx(r.Context()).Debug().Err(err).Msg("token rejected")
			writeError(w, http.StatusUnauthorized, "Invalid or expired token.")
			return
		}

		reqLogger := zerolog.Ctx(r.Context()).With().Str("user_id", identity.UserID).Logger()
		ctx := reqLogger.WithContext(withIdentity(r.Context(), identity))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}
