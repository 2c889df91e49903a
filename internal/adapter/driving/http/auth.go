package http

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/vasanthgoud799/connectify-sub001/internal/auth"
	"github.com/vasanthgoud799/connectify-sub001/internal/metrics"
)

type ctxKey struct{}

func claimsFrom(ctx context.Context) (*auth.Claims, bool) {
	c, ok := ctx.Value(ctxKey{}).(*auth.Claims)
	return c, ok
}

// bearerToken reads the Authorization header, falling back to the token
// query parameter browsers use for WebSocket upgrades.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if tok, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(tok)
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

// Authenticate rejects requests without a valid token before any handler or
// upgrade runs.
func (h *Handler) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := h.Validator.Validate(bearerToken(r))
		if err != nil {
			metrics.AuthRejections.Inc()
			log.Debug().Err(err).Str("path", r.URL.Path).Msg("Rejected unauthenticated request")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, claims)))
	})
}
