package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/vigiapessoal/identidade/internal/auth"
)

type contextKey string

const (
	ContextKeySubject contextKey = "subject"
	ContextKeyEmail   contextKey = "email"
	ContextKeyPapel   contextKey = "papel"
)

// Auth valida o JWT de acesso e injeta as claims no contexto.
// Token ausente, malformado ou expirado encerra a requisição em 401.
func Auth(jwtManager *auth.JWTManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				writeError(w, http.StatusUnauthorized, "AUTH", "token ausente")
				return
			}

			claims, err := jwtManager.ParseAndValidate(parts[1])
			if err != nil {
				writeError(w, http.StatusUnauthorized, "AUTH", "token inválido")
				return
			}

			ctx := context.WithValue(r.Context(), ContextKeySubject, claims.Subject)
			ctx = context.WithValue(ctx, ContextKeyEmail, claims.Email)
			ctx = context.WithValue(ctx, ContextKeyPapel, claims.Role)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetSubject recupera o subject do contexto.
func GetSubject(ctx context.Context) string {
	val, _ := ctx.Value(ContextKeySubject).(string)
	return val
}

// GetEmail recupera o email do contexto.
func GetEmail(ctx context.Context) string {
	val, _ := ctx.Value(ContextKeyEmail).(string)
	return val
}

// GetPapel recupera o papel do contexto.
func GetPapel(ctx context.Context) string {
	val, _ := ctx.Value(ContextKeyPapel).(string)
	return val
}

// RequirePapeis garante que o papel autenticado está na allow-list da rota.
// A verificação é puramente sobre as claims; nenhum acesso ao banco.
func RequirePapeis(papeis ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(papeis))
	for _, papel := range papeis {
		papel = strings.ToUpper(strings.TrimSpace(papel))
		if papel != "" {
			allowed[papel] = struct{}{}
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			papel := strings.ToUpper(strings.TrimSpace(GetPapel(r.Context())))
			if _, ok := allowed[papel]; !ok {
				writeError(w, http.StatusForbidden, "FORBIDDEN", "acesso negado")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"data": nil,
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	})
}
