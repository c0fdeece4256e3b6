package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vigiapessoal/identidade/internal/db"
)

const dbTimeout = 3 * time.Second

const usuarioColunas = `id, nome, email, cpf, data_nascimento, foto_url, papel, senha_hash, ativo, criado_em, atualizado_em, ultimo_login`

// Repository encapsula as consultas sobre usuarios e tokens_refresh.
type Repository struct {
	db *pgxpool.Pool
}

// New cria o repositório sobre o pool.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{db: pool}
}

// CreateUsuario insere o registro dentro de uma transação.
// A contagem do limite de SUPER_USER acontece na mesma transação do INSERT;
// a unicidade final de email/cpf fica por conta das constraints UNIQUE do
// banco, traduzidas para ErrDuplicado.
func (r *Repository) CreateUsuario(ctx context.Context, u *Usuario) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	err := db.WithTx(ctx, r.db, func(ctx context.Context, tx pgx.Tx) error {
		if u.Papel == PapelSuperUsuario {
			var total int
			if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM usuarios WHERE papel = $1`, PapelSuperUsuario).Scan(&total); err != nil {
				return err
			}
			if total >= MaxSuperUsuarios {
				return ErrLimiteSuper
			}
		}

		_, err := tx.Exec(ctx, `
			INSERT INTO usuarios (id, nome, email, cpf, data_nascimento, foto_url, papel, senha_hash, ativo, criado_em, atualizado_em)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`, u.ID, u.Nome, u.Email, u.CPF, u.DataNascimento, u.FotoURL, u.Papel, u.SenhaHash, u.Ativo, u.CriadoEm, u.AtualizadoEm)
		return err
	})
	return mapError(err)
}

// GetUsuarioByID busca um usuário pelo id.
func (r *Repository) GetUsuarioByID(ctx context.Context, id uuid.UUID) (Usuario, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	row := r.db.QueryRow(ctx, `SELECT `+usuarioColunas+` FROM usuarios WHERE id = $1`, id)
	return scanUsuario(row)
}

// GetUsuarioByEmailCifrado busca pela coluna cifrada de email.
// O chamador cifra o email no modo determinístico antes da consulta.
func (r *Repository) GetUsuarioByEmailCifrado(ctx context.Context, emailCifrado string) (Usuario, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	row := r.db.QueryRow(ctx, `SELECT `+usuarioColunas+` FROM usuarios WHERE email = $1`, emailCifrado)
	return scanUsuario(row)
}

// ListUsuarios devolve todos os registros ordenados por criação.
func (r *Repository) ListUsuarios(ctx context.Context) ([]Usuario, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	rows, err := r.db.Query(ctx, `SELECT `+usuarioColunas+` FROM usuarios ORDER BY criado_em`)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var usuarios []Usuario
	for rows.Next() {
		u, err := scanUsuario(rows)
		if err != nil {
			return nil, err
		}
		usuarios = append(usuarios, u)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return usuarios, nil
}

// FindConflito devolve o registro que colide com o email ou CPF cifrados,
// se existir. CPF vazio não participa da comparação.
func (r *Repository) FindConflito(ctx context.Context, emailCifrado, cpfCifrado string) (*Usuario, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	row := r.db.QueryRow(ctx, `
		SELECT `+usuarioColunas+`
		FROM usuarios
		WHERE (email <> '' AND email = $1) OR (cpf <> '' AND cpf = $2)
		LIMIT 1
	`, emailCifrado, cpfCifrado)
	u, err := scanUsuario(row)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

// UpdateUsuarioParams descreve a atualização parcial: campos nil ficam como estão.
type UpdateUsuarioParams struct {
	Nome           *string
	Email          *string
	CPF            *string
	DataNascimento *time.Time
	FotoURL        *string
	Papel          *string
	SenhaHash      *string
	Ativo          *bool
}

// UpdateUsuario aplica o merge parcial e bumpa atualizado_em.
func (r *Repository) UpdateUsuario(ctx context.Context, id uuid.UUID, params UpdateUsuarioParams) error {
	sets := []string{"atualizado_em = $2"}
	args := []any{id, time.Now().UTC()}

	add := func(coluna string, valor any) {
		args = append(args, valor)
		sets = append(sets, fmt.Sprintf("%s = $%d", coluna, len(args)))
	}

	if params.Nome != nil {
		add("nome", *params.Nome)
	}
	if params.Email != nil {
		add("email", *params.Email)
	}
	if params.CPF != nil {
		add("cpf", *params.CPF)
	}
	if params.DataNascimento != nil {
		add("data_nascimento", *params.DataNascimento)
	}
	if params.FotoURL != nil {
		add("foto_url", *params.FotoURL)
	}
	if params.Papel != nil {
		add("papel", *params.Papel)
	}
	if params.SenhaHash != nil {
		add("senha_hash", *params.SenhaHash)
	}
	if params.Ativo != nil {
		add("ativo", *params.Ativo)
	}

	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	cmd, err := r.db.Exec(ctx, `UPDATE usuarios SET `+strings.Join(sets, ", ")+` WHERE id = $1`, args...)
	if err != nil {
		return mapError(err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteUsuario remove o registro.
func (r *Repository) DeleteUsuario(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	cmd, err := r.db.Exec(ctx, `DELETE FROM usuarios WHERE id = $1`, id)
	if err != nil {
		return mapError(err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchUltimoLogin registra o instante do login bem-sucedido.
func (r *Repository) TouchUltimoLogin(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	_, err := r.db.Exec(ctx, `UPDATE usuarios SET ultimo_login = $2 WHERE id = $1`, id, time.Now().UTC())
	return mapError(err)
}

// InsertRefreshToken persiste o hash do token de refresh.
func (r *Repository) InsertRefreshToken(ctx context.Context, subject uuid.UUID, tokenHash string, expiracao time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	_, err := r.db.Exec(ctx, `
		INSERT INTO tokens_refresh (id, subject, token_hash, expiracao, criado_em, revogado)
		VALUES ($1, $2, $3, $4, $5, false)
	`, uuid.New(), subject, tokenHash, expiracao, time.Now().UTC())
	return mapError(err)
}

// GetRefreshTokenByHash busca o registro pelo hash.
func (r *Repository) GetRefreshTokenByHash(ctx context.Context, tokenHash string) (TokenRefresh, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var t TokenRefresh
	err := r.db.QueryRow(ctx, `
		SELECT id, subject, token_hash, expiracao, criado_em, revogado
		FROM tokens_refresh
		WHERE token_hash = $1
	`, tokenHash).Scan(&t.ID, &t.Subject, &t.TokenHash, &t.Expiracao, &t.CriadoEm, &t.Revogado)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return TokenRefresh{}, ErrNotFound
		}
		return TokenRefresh{}, mapError(err)
	}
	return t, nil
}

// RevokeRefreshToken marca o token como revogado.
func (r *Repository) RevokeRefreshToken(ctx context.Context, tokenHash string) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	cmd, err := r.db.Exec(ctx, `UPDATE tokens_refresh SET revogado = true WHERE token_hash = $1`, tokenHash)
	if err != nil {
		return mapError(err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanUsuario(row scannable) (Usuario, error) {
	var u Usuario
	err := row.Scan(&u.ID, &u.Nome, &u.Email, &u.CPF, &u.DataNascimento, &u.FotoURL,
		&u.Papel, &u.SenhaHash, &u.Ativo, &u.CriadoEm, &u.AtualizadoEm, &u.UltimoLogin)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Usuario{}, ErrNotFound
		}
		return Usuario{}, mapError(err)
	}
	return u, nil
}

// mapError traduz erros do driver para a taxonomia do repositório.
func mapError(err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicado
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrIndisponivel
	}
	return err
}
