package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/vigiapessoal/identidade/internal/auth"
	"github.com/vigiapessoal/identidade/internal/cifra"
	"github.com/vigiapessoal/identidade/internal/config"
	"github.com/vigiapessoal/identidade/internal/db"
	internalhttp "github.com/vigiapessoal/identidade/internal/http"
	"github.com/vigiapessoal/identidade/internal/repo"
	"github.com/vigiapessoal/identidade/internal/service"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("api encerrada com erro")
	}
}

func run() error {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	ctx := context.Background()

	if err := db.Migrate(cfg.DBDSN); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	pool, err := db.NewPool(ctx, cfg.DBDSN)
	if err != nil {
		return fmt.Errorf("db: %w", err)
	}
	defer pool.Close()

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis parse: %w", err)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	fieldCipher, err := cifra.New(cfg.EncryptionKey)
	if err != nil {
		return fmt.Errorf("cifra: %w", err)
	}

	repository := repo.New(pool)
	jwtManager := auth.NewJWTManager(cfg.JWTSecret, cfg.JWTAccessTTL)
	userService := service.NewUserService(repository, fieldCipher)
	authService := service.NewAuthService(userService, repository, redisClient, jwtManager, cfg.JWTRefreshTTL)

	handler := internalhttp.NewRouter(cfg, pool, redisClient, userService, authService)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: handler,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Msgf("API ouvindo em :%d", cfg.Port)
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("encerrando...")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	return nil
}
