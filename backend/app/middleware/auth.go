package middleware

import (
	"context"
	"net/http"
	"strings"

	jwtutil "autojs-hub/backend/app/jwt"
	"autojs-hub/backend/app/models"
)

type ctxKey int

const ClaimsKey ctxKey = 1

type Auth struct{ Signer *jwtutil.Signer }

func bearer(r *http.Request) (string, bool) {
	authz := r.Header.Get("Authorization")
	if !strings.HasPrefix(authz, "Bearer ") {
		return "", false
	}
	return strings.TrimPrefix(authz, "Bearer "), true
}

func deny(w http.ResponseWriter, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(`{"error":"` + strings.ToLower(http.StatusText(code)) + `"}`))
}

func (a *Auth) authenticate(w http.ResponseWriter, r *http.Request) (*jwtutil.Claims, bool) {
	token, ok := bearer(r)
	if !ok {
		deny(w, http.StatusUnauthorized)
		return nil, false
	}
	claims, err := a.Signer.Parse(token)
	if err != nil {
		deny(w, http.StatusUnauthorized)
		return nil, false
	}
	return claims, true
}

func (a *Auth) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := a.authenticate(w, r)
		if !ok {
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ClaimsKey, claims)))
	})
}

func (a *Auth) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := a.authenticate(w, r)
		if !ok {
			return
		}
		if claims.Role != models.RoleAdmin {
			deny(w, http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ClaimsKey, claims)))
	})
}
