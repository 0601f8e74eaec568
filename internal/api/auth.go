// Package api implements the HTTP surface of the webhook delivery service.
package api

import (
	"context"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

// Principal identifies the caller. Authentication sits in front of this
// service; the gateway forwards the merchant and role as headers.
type Principal struct {
	MerchantID string
	Role       string // merchant, admin
}

// IsAdmin reports whether the principal has the admin role.
func (p Principal) IsAdmin() bool { return p.Role == "admin" }

type ctxKeyPrincipal struct{}

const (
	headerMerchant = "X-Merchant-Id"
	headerRole     = "X-Role"

	textCodeUnauthenticated = "MERCHANT_REQUIRED"
	textCodeForbidden       = "ADMIN_REQUIRED"
)

func principalFromRequest(r *http.Request) Principal {
	role := strings.ToLower(strings.TrimSpace(r.Header.Get(headerRole)))
	if role == "" {
		role = "merchant"
	}
	return Principal{MerchantID: strings.TrimSpace(r.Header.Get(headerMerchant)), Role: role}
}

func principal(ctx context.Context) Principal {
	p, _ := ctx.Value(ctxKeyPrincipal{}).(Principal)
	return p
}

// requireMerchant rejects requests without a merchant identity.
func (s *Server) requireMerchant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := principalFromRequest(r)
		if p.MerchantID == "" {
			s.writeError(w, r, goerrors.New(headerMerchant+" header is required", goerrors.CategoryAuth).
				WithCode(http.StatusUnauthorized).WithTextCode(textCodeUnauthenticated))
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKeyPrincipal{}, p)))
	})
}

// requireAdmin guards operator endpoints.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := principalFromRequest(r)
		if !p.IsAdmin() {
			s.writeError(w, r, goerrors.New("admin role required", goerrors.CategoryAuthz).
				WithCode(http.StatusForbidden).WithTextCode(textCodeForbidden))
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKeyPrincipal{}, p)))
	})
}
