package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/vigiapessoal/identidade/internal/auth"
	"github.com/vigiapessoal/identidade/internal/cifra"
	"github.com/vigiapessoal/identidade/internal/config"
	"github.com/vigiapessoal/identidade/internal/repo"
	"github.com/vigiapessoal/identidade/internal/service"
)

// memRepo simula o repositório de usuários e de refresh tokens em memória,
// aplicando as mesmas invariantes das constraints do banco.
type memRepo struct {
	usuarios map[uuid.UUID]repo.Usuario
	tokens   map[string]repo.TokenRefresh
}

func newMemRepo() *memRepo {
	return &memRepo{
		usuarios: make(map[uuid.UUID]repo.Usuario),
		tokens:   make(map[string]repo.TokenRefresh),
	}
}

func (m *memRepo) CreateUsuario(ctx context.Context, u *repo.Usuario) error {
	if u.Papel == repo.PapelSuperUsuario {
		total := 0
		for _, e := range m.usuarios {
			if e.Papel == repo.PapelSuperUsuario {
				total++
			}
		}
		if total >= repo.MaxSuperUsuarios {
			return repo.ErrLimiteSuper
		}
	}
	for _, e := range m.usuarios {
		if e.Email == u.Email || (u.CPF != "" && e.CPF == u.CPF) {
			return repo.ErrDuplicado
		}
	}
	m.usuarios[u.ID] = *u
	return nil
}

func (m *memRepo) GetUsuarioByID(ctx context.Context, id uuid.UUID) (repo.Usuario, error) {
	if u, ok := m.usuarios[id]; ok {
		return u, nil
	}
	return repo.Usuario{}, repo.ErrNotFound
}

func (m *memRepo) GetUsuarioByEmailCifrado(ctx context.Context, emailCifrado string) (repo.Usuario, error) {
	for _, u := range m.usuarios {
		if u.Email == emailCifrado {
			return u, nil
		}
	}
	return repo.Usuario{}, repo.ErrNotFound
}

func (m *memRepo) ListUsuarios(ctx context.Context) ([]repo.Usuario, error) {
	var out []repo.Usuario
	for _, u := range m.usuarios {
		out = append(out, u)
	}
	return out, nil
}

func (m *memRepo) FindConflito(ctx context.Context, emailCifrado, cpfCifrado string) (*repo.Usuario, error) {
	for _, u := range m.usuarios {
		if (emailCifrado != "" && u.Email == emailCifrado) || (cpfCifrado != "" && u.CPF == cpfCifrado) {
			match := u
			return &match, nil
		}
	}
	return nil, nil
}

func (m *memRepo) UpdateUsuario(ctx context.Context, id uuid.UUID, params repo.UpdateUsuarioParams) error {
	u, ok := m.usuarios[id]
	if !ok {
		return repo.ErrNotFound
	}
	u.AtualizadoEm = time.Now().UTC()
	if params.Nome != nil {
		u.Nome = *params.Nome
	}
	if params.Email != nil {
		u.Email = *params.Email
	}
	if params.CPF != nil {
		u.CPF = *params.CPF
	}
	if params.DataNascimento != nil {
		u.DataNascimento = params.DataNascimento
	}
	if params.FotoURL != nil {
		u.FotoURL = params.FotoURL
	}
	if params.Papel != nil {
		u.Papel = *params.Papel
	}
	if params.SenhaHash != nil {
		u.SenhaHash = *params.SenhaHash
	}
	if params.Ativo != nil {
		u.Ativo = *params.Ativo
	}
	m.usuarios[id] = u
	return nil
}

func (m *memRepo) DeleteUsuario(ctx context.Context, id uuid.UUID) error {
	if _, ok := m.usuarios[id]; !ok {
		return repo.ErrNotFound
	}
	delete(m.usuarios, id)
	return nil
}

func (m *memRepo) TouchUltimoLogin(ctx context.Context, id uuid.UUID) error {
	u, ok := m.usuarios[id]
	if !ok {
		return repo.ErrNotFound
	}
	now := time.Now().UTC()
	u.UltimoLogin = &now
	m.usuarios[id] = u
	return nil
}

func (m *memRepo) InsertRefreshToken(ctx context.Context, subject uuid.UUID, tokenHash string, expiracao time.Time) error {
	m.tokens[tokenHash] = repo.TokenRefresh{
		ID:        uuid.New(),
		Subject:   subject,
		TokenHash: tokenHash,
		Expiracao: expiracao,
		CriadoEm:  time.Now().UTC(),
	}
	return nil
}

func (m *memRepo) GetRefreshTokenByHash(ctx context.Context, tokenHash string) (repo.TokenRefresh, error) {
	if t, ok := m.tokens[tokenHash]; ok {
		return t, nil
	}
	return repo.TokenRefresh{}, repo.ErrNotFound
}

func (m *memRepo) RevokeRefreshToken(ctx context.Context, tokenHash string) error {
	t, ok := m.tokens[tokenHash]
	if !ok {
		return repo.ErrNotFound
	}
	t.Revogado = true
	m.tokens[tokenHash] = t
	return nil
}

type memRedis struct {
	store map[string]string
}

func newMemRedis() *memRedis {
	return &memRedis{store: make(map[string]string)}
}

func (m *memRedis) Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	m.store[key] = fmt.Sprint(value)
	cmd := redis.NewStatusCmd(ctx)
	cmd.SetVal("OK")
	return cmd
}

func (m *memRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	cmd := redis.NewStringCmd(ctx)
	if v, ok := m.store[key]; ok {
		cmd.SetVal(v)
	} else {
		cmd.SetErr(redis.Nil)
	}
	return cmd
}

func (m *memRedis) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	var n int64
	for _, k := range keys {
		if _, ok := m.store[k]; ok {
			delete(m.store, k)
			n++
		}
	}
	cmd.SetVal(n)
	return cmd
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()

	cfg := &config.Config{
		AllowOrigins:    []string{"http://localhost:5173"},
		JWTAccessTTL:    15 * time.Minute,
		JWTRefreshTTL:   time.Hour,
		RateLimitPublic: config.RateLimitConfig{RequestsPerSecond: 1000, Burst: 1000},
		RateLimitAuth:   config.RateLimitConfig{RequestsPerSecond: 1000, Burst: 1000},
	}

	c, err := cifra.New([]byte("chave-de-teste-com-32-bytes-ok!!"))
	if err != nil {
		t.Fatalf("cifra: %v", err)
	}

	mem := newMemRepo()
	users := service.NewUserService(mem, c)
	jwtMgr := auth.NewJWTManager("segredo-de-teste-com-bem-mais-de-32-chars", cfg.JWTAccessTTL)
	authService := service.NewAuthService(users, mem, newMemRedis(), jwtMgr, cfg.JWTRefreshTTL)

	return NewRouter(cfg, nil, nil, users, authService)
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("resposta não é o envelope padrão: %v (%s)", err, rec.Body.String())
	}
	return env
}

func registerUser(t *testing.T, h http.Handler, email, senha, role string) string {
	t.Helper()
	rec := doJSON(t, h, http.MethodPost, "/users/register", map[string]string{
		"name":     "Ana",
		"email":    email,
		"password": senha,
		"role":     role,
	}, "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("register %s: esperava 201, obteve %d (%s)", email, rec.Code, rec.Body.String())
	}
	var data struct {
		ID string `json:"id"`
	}
	env := decodeEnvelope(t, rec)
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("data: %v", err)
	}
	return data.ID
}

func loginUser(t *testing.T, h http.Handler, email, senha string) string {
	t.Helper()
	rec := doJSON(t, h, http.MethodPost, "/auth/login", map[string]string{
		"email":    email,
		"password": senha,
	}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("login %s: esperava 200, obteve %d (%s)", email, rec.Code, rec.Body.String())
	}
	env := decodeEnvelope(t, rec)
	var data struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("data: %v", err)
	}
	if data.AccessToken == "" {
		t.Fatal("login deve devolver access_token")
	}
	return data.AccessToken
}

func TestRegisterEndpoint(t *testing.T) {
	h := newTestRouter(t)

	rec := doJSON(t, h, http.MethodPost, "/users/register", map[string]string{
		"name":     "Ana",
		"email":    "ana@x.com",
		"password": "Secret1",
		"cpf":      "123.456.789-01",
	}, "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("esperava 201, obteve %d (%s)", rec.Code, rec.Body.String())
	}

	env := decodeEnvelope(t, rec)
	var data map[string]any
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("data: %v", err)
	}
	if data["name"] != "Ana" {
		t.Fatalf("name: esperava Ana, obteve %v", data["name"])
	}
	if data["email"] != "ana@x.com" {
		t.Fatalf("email: esperava ana@x.com, obteve %v", data["email"])
	}
	if data["role"] != repo.PapelCliente {
		t.Fatalf("role: esperava CLIENT, obteve %v", data["role"])
	}
	if _, ok := data["password"]; ok {
		t.Fatal("resposta não pode conter a senha")
	}
	if strings.Contains(rec.Body.String(), "Secret1") || strings.Contains(rec.Body.String(), "argon2") {
		t.Fatal("resposta não pode vazar senha nem hash")
	}
}

func TestRegisterRejeitaDuplicadoEInvalido(t *testing.T) {
	h := newTestRouter(t)
	registerUser(t, h, "ana@x.com", "Secret1", "")

	rec := doJSON(t, h, http.MethodPost, "/users/register", map[string]string{
		"name":     "Outra",
		"email":    "ana@x.com",
		"password": "Secret2",
	}, "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicado: esperava 409, obteve %d", rec.Code)
	}
	if env := decodeEnvelope(t, rec); env.Error == nil || env.Error.Code != "DUPLICATE" {
		t.Fatalf("esperava code DUPLICATE, obteve %+v", env.Error)
	}

	rec = doJSON(t, h, http.MethodPost, "/users/register", map[string]string{
		"name":     "Ana",
		"email":    "sem-arroba",
		"password": "Secret1",
	}, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("email inválido: esperava 400, obteve %d", rec.Code)
	}
}

func TestLoginEndpoint(t *testing.T) {
	h := newTestRouter(t)
	registerUser(t, h, "ana@x.com", "Secret1", "")

	token := loginUser(t, h, "ana@x.com", "Secret1")
	if token == "" {
		t.Fatal("token vazio")
	}

	rec := doJSON(t, h, http.MethodPost, "/auth/login", map[string]string{
		"email":    "ana@x.com",
		"password": "errada1",
	}, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("senha errada: esperava 401, obteve %d", rec.Code)
	}
	if env := decodeEnvelope(t, rec); env.Error == nil || env.Error.Code != "AUTH" {
		t.Fatalf("esperava code AUTH, obteve %+v", env.Error)
	}
}

func TestRotasPrivadasExigemToken(t *testing.T) {
	h := newTestRouter(t)

	rec := doJSON(t, h, http.MethodGet, "/user/profile", nil, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("sem token: esperava 401, obteve %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodGet, "/users/", nil, "token-invalido")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("token inválido: esperava 401, obteve %d", rec.Code)
	}
}

func TestGuardaDePapelNasRotasAdministrativas(t *testing.T) {
	h := newTestRouter(t)
	registerUser(t, h, "cliente@x.com", "Secret1", "")
	registerUser(t, h, "admin@x.com", "Secret1", "ADMIN")

	clienteToken := loginUser(t, h, "cliente@x.com", "Secret1")
	adminToken := loginUser(t, h, "admin@x.com", "Secret1")

	// CLIENT autenticado acessa o próprio perfil
	rec := doJSON(t, h, http.MethodGet, "/user/profile", nil, clienteToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("profile cliente: esperava 200, obteve %d (%s)", rec.Code, rec.Body.String())
	}

	// mas não a listagem administrativa
	rec = doJSON(t, h, http.MethodGet, "/users/", nil, clienteToken)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("listagem como CLIENT: esperava 403, obteve %d", rec.Code)
	}
	if env := decodeEnvelope(t, rec); env.Error == nil || env.Error.Code != "FORBIDDEN" {
		t.Fatalf("esperava code FORBIDDEN, obteve %+v", env.Error)
	}

	// ADMIN acessa
	rec = doJSON(t, h, http.MethodGet, "/users/", nil, adminToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("listagem como ADMIN: esperava 200, obteve %d (%s)", rec.Code, rec.Body.String())
	}
}

func TestAdminCRUDDeUsuarios(t *testing.T) {
	h := newTestRouter(t)
	registerUser(t, h, "admin@x.com", "Secret1", "ADMIN")
	adminToken := loginUser(t, h, "admin@x.com", "Secret1")

	id := registerUser(t, h, "ana@x.com", "Secret1", "")

	rec := doJSON(t, h, http.MethodGet, "/users/"+id, nil, adminToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("get: esperava 200, obteve %d (%s)", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodPatch, "/users/"+id, map[string]string{"name": "Ana Maria"}, adminToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("patch: esperava 200, obteve %d (%s)", rec.Code, rec.Body.String())
	}
	env := decodeEnvelope(t, rec)
	var atualizado map[string]any
	if err := json.Unmarshal(env.Data, &atualizado); err != nil {
		t.Fatalf("data: %v", err)
	}
	if atualizado["name"] != "Ana Maria" {
		t.Fatalf("name: esperava Ana Maria, obteve %v", atualizado["name"])
	}
	if atualizado["email"] != "ana@x.com" {
		t.Fatalf("campo não enviado deve permanecer: %v", atualizado["email"])
	}

	rec = doJSON(t, h, http.MethodDelete, "/users/"+id, nil, adminToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete: esperava 200, obteve %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodGet, "/users/"+id, nil, adminToken)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get após delete: esperava 404, obteve %d", rec.Code)
	}
}

func TestSuperUsuarioProtegidoViaHTTP(t *testing.T) {
	h := newTestRouter(t)
	superID := registerUser(t, h, "root@x.com", "Secret1", "SUPER_USER")
	superToken := loginUser(t, h, "root@x.com", "Secret1")

	rec := doJSON(t, h, http.MethodPatch, "/users/"+superID, map[string]string{"name": "Outro"}, superToken)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("patch super: esperava 403, obteve %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodDelete, "/users/"+superID, nil, superToken)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("delete super: esperava 403, obteve %d", rec.Code)
	}
}

func TestLimiteDeSuperUsuariosViaHTTP(t *testing.T) {
	h := newTestRouter(t)
	for i := 1; i <= repo.MaxSuperUsuarios; i++ {
		registerUser(t, h, fmt.Sprintf("super%d@x.com", i), "Secret1", "SUPER_USER")
	}

	rec := doJSON(t, h, http.MethodPost, "/users/register", map[string]string{
		"name":     "Super 5",
		"email":    "super5@x.com",
		"password": "Secret1",
		"role":     "SUPER_USER",
	}, "")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("quinto super: esperava 403, obteve %d (%s)", rec.Code, rec.Body.String())
	}
}

func TestRefreshELogout(t *testing.T) {
	h := newTestRouter(t)
	registerUser(t, h, "ana@x.com", "Secret1", "")

	rec := doJSON(t, h, http.MethodPost, "/auth/login", map[string]string{
		"email":    "ana@x.com",
		"password": "Secret1",
	}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("login: esperava 200, obteve %d", rec.Code)
	}

	var refreshToken string
	for _, cookie := range rec.Result().Cookies() {
		if cookie.Name == "refresh_token" {
			refreshToken = cookie.Value
		}
	}
	if refreshToken == "" {
		t.Fatal("login deve emitir cookie refresh_token")
	}

	rec = doJSON(t, h, http.MethodPost, "/auth/refresh", map[string]string{"refresh_token": refreshToken}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh: esperava 200, obteve %d (%s)", rec.Code, rec.Body.String())
	}

	// a rotação invalida o token anterior
	rec = doJSON(t, h, http.MethodPost, "/auth/refresh", map[string]string{"refresh_token": refreshToken}, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("refresh reusado: esperava 401, obteve %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodPost, "/auth/logout", map[string]string{"refresh_token": refreshToken}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("logout: esperava 200, obteve %d", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	h := newTestRouter(t)

	rec := doJSON(t, h, http.MethodGet, "/health", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("health: esperava 200, obteve %d", rec.Code)
	}
}
