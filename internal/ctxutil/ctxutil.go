// Package ctxutil provides shared context key accessors.
//
// Both server and mcp read the caller's claims and effective company from
// the context that the auth middleware populates. They import ctxutil
// instead of each other.
package ctxutil

import (
	"context"

	"github.com/zeus-ia/zeus/internal/auth"
)

type contextKey string

const (
	keyClaims    contextKey = "claims"
	keyCompanyID contextKey = "company_id"
)

// WithClaims returns a new context carrying the given claims. The effective
// company starts as the claims' company.
func WithClaims(ctx context.Context, claims *auth.Claims) context.Context {
	ctx = context.WithValue(ctx, keyClaims, claims)
	ctx = context.WithValue(ctx, keyCompanyID, claims.CompanyID)
	return ctx
}

// WithCompanyID overrides the effective company. Only superusers reach it,
// through the X-Company-ID header.
func WithCompanyID(ctx context.Context, companyID string) context.Context {
	return context.WithValue(ctx, keyCompanyID, companyID)
}

// ClaimsFromContext extracts the JWT claims from the context.
func ClaimsFromContext(ctx context.Context) *auth.Claims {
	if v, ok := ctx.Value(keyClaims).(*auth.Claims); ok {
		return v
	}
	return nil
}

// CompanyIDFromContext returns the effective company, or "".
func CompanyIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(keyCompanyID).(string); ok {
		return v
	}
	return ""
}
