package middleware

import (
	"context"

	jwtutil "autojs-hub/backend/app/jwt"
)

func GetClaims(ctx context.Context) *jwtutil.Claims {
	if c, ok := ctx.Value(ClaimsKey).(*jwtutil.Claims); ok {
		return c
	}
	return nil
}

// Username returns the authenticated admin, or "" for device and public routes.
func Username(ctx context.Context) string {
	if c := GetClaims(ctx); c != nil {
		return c.Username
	}
	return ""
}
