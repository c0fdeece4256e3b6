package http

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/vigiapessoal/identidade/internal/config"
	httpmiddleware "github.com/vigiapessoal/identidade/internal/http/middleware"
	"github.com/vigiapessoal/identidade/internal/repo"
	"github.com/vigiapessoal/identidade/internal/service"
)

// Handler agrega as dependências dos endpoints.
type Handler struct {
	cfg           *config.Config
	pool          *pgxpool.Pool
	redis         *redis.Client
	users         *service.UserService
	authService   *service.AuthService
	publicLimiter *httpmiddleware.RateLimiter
	authLimiter   *httpmiddleware.RateLimiter
	devCookies    bool
}

// papéis autorizados nas rotas administrativas de usuários
var papeisAdmin = []string{repo.PapelSuperUsuario, repo.PapelAdmin}

// NewRouter devolve o roteador configurado.
func NewRouter(cfg *config.Config, pool *pgxpool.Pool, redisClient *redis.Client, users *service.UserService, authService *service.AuthService) http.Handler {
	devCookies := false
	for _, origin := range cfg.AllowOrigins {
		if strings.Contains(origin, "localhost") {
			devCookies = true
			break
		}
	}

	h := &Handler{
		cfg:           cfg,
		pool:          pool,
		redis:         redisClient,
		users:         users,
		authService:   authService,
		publicLimiter: httpmiddleware.NewRateLimiter(cfg.RateLimitPublic.RequestsPerSecond, cfg.RateLimitPublic.Burst),
		authLimiter:   httpmiddleware.NewRateLimiter(cfg.RateLimitAuth.RequestsPerSecond, cfg.RateLimitAuth.Burst),
		devCookies:    devCookies,
	}

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(httpmiddleware.Logging)
	r.Use(httpmiddleware.Recover)
	r.Use(httpmiddleware.CORS(cfg.AllowOrigins))

	r.Group(func(public chi.Router) {
		public.Use(httpmiddleware.IPRateLimit(h.publicLimiter))

		public.Get("/health", h.Health)
		public.Get("/ready", h.Ready)

		public.Route("/auth", func(auth chi.Router) {
			auth.Post("/login", h.Login)
			auth.Post("/refresh", h.Refresh)
			auth.Post("/logout", h.Logout)
		})

		// cadastro aberto, consumido pela tela de registro do app
		public.Post("/users/register", h.Register)
	})

	r.Group(func(private chi.Router) {
		private.Use(httpmiddleware.Auth(authService.JWT()))
		private.Use(httpmiddleware.UserRateLimit(h.authLimiter))

		private.Get("/user/profile", h.Profile)

		private.Group(func(admin chi.Router) {
			admin.Use(httpmiddleware.RequirePapeis(papeisAdmin...))
			admin.Route("/users", func(u chi.Router) {
				u.Post("/", h.Create)
				u.Get("/", h.List)
				u.Get("/{id}", h.Get)
				u.Patch("/{id}", h.Update)
				u.Delete("/{id}", h.Delete)
			})
		})
	})

	return r
}
