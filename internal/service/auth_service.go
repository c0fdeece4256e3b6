package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/vigiapessoal/identidade/internal/auth"
	"github.com/vigiapessoal/identidade/internal/repo"
)

var (
	// ErrCredenciaisInvalidas indica falha na autenticação.
	ErrCredenciaisInvalidas = errors.New("credenciais inválidas")
	// ErrContaDesativada indica conta inativa; o cliente recebe a mesma
	// resposta genérica de credenciais inválidas.
	ErrContaDesativada = errors.New("conta desativada")
	// ErrRefreshInvalido indica refresh token inválido, expirado ou revogado.
	ErrRefreshInvalido = errors.New("refresh token inválido")
)

type authRepository interface {
	GetUsuarioByID(ctx context.Context, id uuid.UUID) (repo.Usuario, error)
	TouchUltimoLogin(ctx context.Context, id uuid.UUID) error
	InsertRefreshToken(ctx context.Context, subject uuid.UUID, tokenHash string, expiracao time.Time) error
	GetRefreshTokenByHash(ctx context.Context, tokenHash string) (repo.TokenRefresh, error)
	RevokeRefreshToken(ctx context.Context, tokenHash string) error
}

type redisCommander interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// AuthService concentra validação de credenciais, emissão de tokens e sessões.
type AuthService struct {
	users      *UserService
	repo       authRepository
	redis      redisCommander
	jwt        *auth.JWTManager
	refreshTTL time.Duration
}

// NewAuthService cria novo serviço.
func NewAuthService(users *UserService, r authRepository, redisClient redisCommander, jwtMgr *auth.JWTManager, refreshTTL time.Duration) *AuthService {
	return &AuthService{users: users, repo: r, redis: redisClient, jwt: jwtMgr, refreshTTL: refreshTTL}
}

// JWT expõe o gerenciador de JWT (útil em middlewares).
func (s *AuthService) JWT() *auth.JWTManager {
	return s.jwt
}

// LoginResult representa o retorno padrão das autenticações.
type LoginResult struct {
	AccessToken   string
	RefreshToken  string
	RefreshExpiry time.Time
	Usuario       *UsuarioView
}

// Validate confere as credenciais sem nenhum efeito colateral.
// Cada motivo de recusa fica registrado só em log; o chamador recebe sempre
// o mesmo erro genérico para não permitir enumeração de contas.
func (s *AuthService) Validate(ctx context.Context, email, senha string) (repo.Usuario, error) {
	if strings.TrimSpace(email) == "" || senha == "" {
		return repo.Usuario{}, ErrCredenciaisInvalidas
	}

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			log.Warn().Msg("login: usuário não encontrado")
			return repo.Usuario{}, ErrCredenciaisInvalidas
		}
		return repo.Usuario{}, err
	}

	if !user.Ativo {
		log.Warn().Str("usuario", user.ID.String()).Msg("login: conta desativada")
		return repo.Usuario{}, ErrContaDesativada
	}

	ok, err := auth.Verify(senha, user.SenhaHash)
	if err != nil {
		log.Warn().Err(err).Msg("login: verificação de senha falhou")
		return repo.Usuario{}, ErrCredenciaisInvalidas
	}
	if !ok {
		log.Warn().Str("usuario", user.ID.String()).Msg("login: senha inválida")
		return repo.Usuario{}, ErrCredenciaisInvalidas
	}

	return user, nil
}

// Login valida as credenciais, emite o par de tokens e registra o último login.
func (s *AuthService) Login(ctx context.Context, email, senha string) (*LoginResult, error) {
	user, err := s.Validate(ctx, email, senha)
	if err != nil {
		return nil, err
	}
	return s.issue(ctx, user, strings.ToLower(strings.TrimSpace(email)), true)
}

func (s *AuthService) issue(ctx context.Context, user repo.Usuario, email string, touchLogin bool) (*LoginResult, error) {
	token, err := s.jwt.GenerateAccessToken(user.ID.String(), email, user.Papel)
	if err != nil {
		return nil, err
	}

	rawRefresh, refreshHash, err := auth.GenerateRefreshToken()
	if err != nil {
		return nil, err
	}

	expires := time.Now().UTC().Add(s.refreshTTL)
	if err := s.repo.InsertRefreshToken(ctx, user.ID, refreshHash, expires); err != nil {
		return nil, err
	}
	if err := s.redis.Set(ctx, auth.RefreshRedisKey(refreshHash), "active", s.refreshTTL).Err(); err != nil {
		return nil, err
	}

	if touchLogin {
		if err := s.repo.TouchUltimoLogin(ctx, user.ID); err != nil {
			log.Warn().Err(err).Str("usuario", user.ID.String()).Msg("login: falha ao registrar ultimo_login")
		}
	}

	view, err := s.users.View(user)
	if err != nil {
		return nil, err
	}

	return &LoginResult{
		AccessToken:   token,
		RefreshToken:  rawRefresh,
		RefreshExpiry: expires,
		Usuario:       view,
	}, nil
}

// Refresh troca o refresh token atual por um novo par, revogando o anterior.
func (s *AuthService) Refresh(ctx context.Context, rawToken string) (*LoginResult, error) {
	if rawToken == "" {
		return nil, ErrRefreshInvalido
	}

	hash := auth.HashRefreshToken(rawToken)
	record, err := s.repo.GetRefreshTokenByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrRefreshInvalido
		}
		return nil, err
	}

	if record.Revogado || time.Now().UTC().After(record.Expiracao) {
		return nil, ErrRefreshInvalido
	}

	redisKey := auth.RefreshRedisKey(hash)
	status, err := s.redis.Get(ctx, redisKey).Result()
	if err == redis.Nil {
		return nil, ErrRefreshInvalido
	}
	if err != nil {
		return nil, err
	}
	if status != "active" {
		return nil, ErrRefreshInvalido
	}

	user, err := s.repo.GetUsuarioByID(ctx, record.Subject)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrRefreshInvalido
		}
		return nil, err
	}
	if !user.Ativo {
		return nil, ErrRefreshInvalido
	}

	view, err := s.users.View(user)
	if err != nil {
		return nil, err
	}

	result, err := s.issue(ctx, user, view.Email, false)
	if err != nil {
		return nil, err
	}

	// revoga o token anterior (banco + Redis)
	if err := s.repo.RevokeRefreshToken(ctx, hash); err != nil && !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}
	if err := s.redis.Del(ctx, redisKey).Err(); err != nil && err != redis.Nil {
		return nil, err
	}

	return result, nil
}

// Logout revoga o refresh token atual.
func (s *AuthService) Logout(ctx context.Context, rawToken string) error {
	if rawToken == "" {
		return nil
	}
	hash := auth.HashRefreshToken(rawToken)
	if err := s.repo.RevokeRefreshToken(ctx, hash); err != nil && !errors.Is(err, repo.ErrNotFound) {
		return err
	}
	if err := s.redis.Del(ctx, auth.RefreshRedisKey(hash)).Err(); err != nil && err != redis.Nil {
		return err
	}
	return nil
}

// Profile devolve a visão decifrada do usuário autenticado.
func (s *AuthService) Profile(ctx context.Context, subject uuid.UUID) (*UsuarioView, error) {
	user, err := s.repo.GetUsuarioByID(ctx, subject)
	if err != nil {
		return nil, err
	}
	return s.users.View(user)
}
