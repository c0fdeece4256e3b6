package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	httpmiddleware "github.com/vigiapessoal/identidade/internal/http/middleware"
	"github.com/vigiapessoal/identidade/internal/repo"
	"github.com/vigiapessoal/identidade/internal/service"
)

type createUserPayload struct {
	Name      string `json:"name"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	CPF       string `json:"cpf"`
	BirthDate string `json:"birthDate"`
	Role      string `json:"role"`
	PhotoURL  string `json:"photoUrl"`
}

type updateUserPayload struct {
	Name      *string `json:"name"`
	Email     *string `json:"email"`
	Password  *string `json:"password"`
	CPF       *string `json:"cpf"`
	BirthDate *string `json:"birthDate"`
	Role      *string `json:"role"`
	PhotoURL  *string `json:"photoUrl"`
	IsActive  *bool   `json:"isActive"`
}

// Register cria um usuário pela rota pública de cadastro.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	h.createUser(w, r)
}

// Create cria um usuário pela rota administrativa.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	h.createUser(w, r)
}

func (h *Handler) createUser(w http.ResponseWriter, r *http.Request) {
	var payload createUserPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		WriteError(w, http.StatusBadRequest, "VALIDATION", "JSON inválido")
		return
	}

	input := service.CreateUsuarioInput{
		Nome:    payload.Name,
		Email:   payload.Email,
		Senha:   payload.Password,
		CPF:     payload.CPF,
		Papel:   payload.Role,
		FotoURL: payload.PhotoURL,
	}

	if payload.BirthDate != "" {
		data, err := time.Parse("2006-01-02", payload.BirthDate)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "VALIDATION", "birthDate inválido")
			return
		}
		input.DataNascimento = &data
	}

	view, err := h.users.Register(r.Context(), input)
	if err != nil {
		h.handleUserError(w, err)
		return
	}

	WriteJSON(w, http.StatusCreated, view)
}

// List devolve todos os usuários decifrados.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	views, err := h.users.List(r.Context())
	if err != nil {
		h.handleUserError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, views)
}

// Get devolve um usuário pelo id.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, http.StatusNotFound, "NOT_FOUND", "usuário não encontrado")
		return
	}

	view, err := h.users.Get(r.Context(), id)
	if err != nil {
		h.handleUserError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, view)
}

// Update aplica atualização parcial a um usuário.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, http.StatusNotFound, "NOT_FOUND", "usuário não encontrado")
		return
	}

	var payload updateUserPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		WriteError(w, http.StatusBadRequest, "VALIDATION", "JSON inválido")
		return
	}

	input := service.UpdateUsuarioInput{
		Nome:    payload.Name,
		Email:   payload.Email,
		Senha:   payload.Password,
		CPF:     payload.CPF,
		Papel:   payload.Role,
		FotoURL: payload.PhotoURL,
		Ativo:   payload.IsActive,
	}

	if payload.BirthDate != nil {
		data, err := time.Parse("2006-01-02", *payload.BirthDate)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "VALIDATION", "birthDate inválido")
			return
		}
		input.DataNascimento = &data
	}

	view, err := h.users.Update(r.Context(), id, input)
	if err != nil {
		h.handleUserError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, view)
}

// Delete remove um usuário.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, http.StatusNotFound, "NOT_FOUND", "usuário não encontrado")
		return
	}

	if err := h.users.Remove(r.Context(), id); err != nil {
		h.handleUserError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

// Profile devolve o usuário autenticado.
func (h *Handler) Profile(w http.ResponseWriter, r *http.Request) {
	subject, err := uuid.Parse(httpmiddleware.GetSubject(r.Context()))
	if err != nil {
		WriteError(w, http.StatusUnauthorized, "AUTH", "identificação inválida")
		return
	}

	view, err := h.authService.Profile(r.Context(), subject)
	if err != nil {
		h.handleUserError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, view)
}

// handleUserError traduz a taxonomia do domínio para status HTTP com
// mensagens genéricas; o detalhe fica no log.
func (h *Handler) handleUserError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrValidacao):
		WriteError(w, http.StatusBadRequest, "VALIDATION", err.Error())
	case errors.Is(err, repo.ErrDuplicado):
		WriteError(w, http.StatusConflict, "DUPLICATE", "email ou cpf já cadastrado")
	case errors.Is(err, repo.ErrLimiteSuper):
		WriteError(w, http.StatusForbidden, "FORBIDDEN", "limite de super usuários atingido")
	case errors.Is(err, service.ErrSuperProtegido):
		WriteError(w, http.StatusForbidden, "FORBIDDEN", "operação não permitida")
	case errors.Is(err, repo.ErrNotFound):
		WriteError(w, http.StatusNotFound, "NOT_FOUND", "usuário não encontrado")
	case errors.Is(err, repo.ErrIndisponivel):
		w.Header().Set("Retry-After", "1")
		WriteError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "tente novamente em instantes")
	default:
		log.Error().Err(err).Msg("users: falha inesperada")
		WriteError(w, http.StatusInternalServerError, "INTERNAL", "erro interno")
	}
}
