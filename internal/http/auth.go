package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/vigiapessoal/identidade/internal/service"
)

const refreshCookieName = "refresh_token"

// Health responde o liveness básico.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready valida conexões com Postgres e Redis.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	dbErr := h.pool.Ping(ctx)
	redisErr := h.redis.Ping(ctx).Err()

	if dbErr != nil || redisErr != nil {
		log.Warn().AnErr("db", dbErr).AnErr("redis", redisErr).Msg("ready: dependências indisponíveis")
		WriteError(w, http.StatusServiceUnavailable, "INTERNAL", "dependências indisponíveis")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]bool{"ready": true})
}

// Login autentica por email e senha e devolve o token de acesso.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}

	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		WriteError(w, http.StatusBadRequest, "VALIDATION", "JSON inválido")
		return
	}

	result, err := h.authService.Login(r.Context(), payload.Email, payload.Password)
	if err != nil {
		h.handleAuthError(w, err)
		return
	}

	h.writeLoginSuccess(w, result)
}

// Refresh troca o refresh token por um novo par de tokens.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	result, err := h.authService.Refresh(r.Context(), h.refreshFromRequest(r))
	if err != nil {
		if errors.Is(err, service.ErrRefreshInvalido) {
			WriteError(w, http.StatusUnauthorized, "AUTH", "sessão expirada")
			return
		}
		log.Error().Err(err).Msg("refresh: falha inesperada")
		WriteError(w, http.StatusInternalServerError, "INTERNAL", "erro ao renovar sessão")
		return
	}

	h.writeLoginSuccess(w, result)
}

// Logout revoga o refresh token atual.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if token := h.refreshFromRequest(r); token != "" {
		_ = h.authService.Logout(r.Context(), token)
	}

	h.clearRefreshCookie(w)
	WriteJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

func (h *Handler) handleAuthError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrCredenciaisInvalidas), errors.Is(err, service.ErrContaDesativada):
		// mesma resposta para qualquer motivo, evitando enumeração de contas
		WriteError(w, http.StatusUnauthorized, "AUTH", "credenciais inválidas")
	default:
		log.Error().Err(err).Msg("login: falha inesperada")
		WriteError(w, http.StatusInternalServerError, "INTERNAL", "erro ao autenticar")
	}
}

func (h *Handler) writeLoginSuccess(w http.ResponseWriter, result *service.LoginResult) {
	h.setRefreshCookie(w, result.RefreshToken, result.RefreshExpiry)

	WriteJSON(w, http.StatusOK, map[string]any{
		"access_token": result.AccessToken,
		"user":         result.Usuario,
	})
}

// refreshFromRequest aceita o cookie do painel web ou o corpo enviado pelo
// app móvel, que não compartilha cookies.
func (h *Handler) refreshFromRequest(r *http.Request) string {
	if cookie, err := r.Cookie(refreshCookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}

	var payload struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err == nil {
		return payload.RefreshToken
	}
	return ""
}

func (h *Handler) setRefreshCookie(w http.ResponseWriter, token string, expiry time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    token,
		Path:     "/auth",
		Expires:  expiry,
		HttpOnly: true,
		Secure:   !h.devCookies,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *Handler) clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    "",
		Path:     "/auth",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   !h.devCookies,
		SameSite: http.SameSiteStrictMode,
	})
}
