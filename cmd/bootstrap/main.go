// bootstrap cria o primeiro SUPER_USER direto no banco, para ambientes
// recém-provisionados onde ainda não existe conta administrativa.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/vigiapessoal/identidade/internal/cifra"
	"github.com/vigiapessoal/identidade/internal/config"
	"github.com/vigiapessoal/identidade/internal/db"
	"github.com/vigiapessoal/identidade/internal/repo"
	"github.com/vigiapessoal/identidade/internal/service"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})

	nome := flag.String("nome", "", "nome do super usuário")
	email := flag.String("email", "", "email de login")
	senha := flag.String("senha", "", "senha inicial")
	cpf := flag.String("cpf", "", "cpf (opcional)")
	flag.Parse()

	if *nome == "" || *email == "" || *senha == "" {
		fmt.Fprintln(os.Stderr, "usage: bootstrap -nome <nome> -email <email> -senha <senha> [-cpf <cpf>]")
		os.Exit(1)
	}

	if err := run(*nome, *email, *senha, *cpf); err != nil {
		log.Fatal().Err(err).Msg("bootstrap falhou")
	}
}

func run(nome, email, senha, cpf string) error {
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

	fieldCipher, err := cifra.New(cfg.EncryptionKey)
	if err != nil {
		return fmt.Errorf("cifra: %w", err)
	}

	users := service.NewUserService(repo.New(pool), fieldCipher)

	view, err := users.Register(ctx, service.CreateUsuarioInput{
		Nome:  nome,
		Email: email,
		Senha: senha,
		CPF:   cpf,
		Papel: repo.PapelSuperUsuario,
	})
	if err != nil {
		return err
	}

	log.Info().Str("id", view.ID).Str("email", view.Email).Msg("super usuário criado")
	return nil
}
