package repo

import (
	"time"

	"github.com/google/uuid"
)

// Papéis aceitos para um usuário.
const (
	PapelSuperUsuario = "SUPER_USER"
	PapelAdmin        = "ADMIN"
	PapelCliente      = "CLIENT"
)

// MaxSuperUsuarios limita quantos registros podem ter papel SUPER_USER.
const MaxSuperUsuarios = 4

// PapelValido informa se o papel é um dos aceitos.
func PapelValido(papel string) bool {
	switch papel {
	case PapelSuperUsuario, PapelAdmin, PapelCliente:
		return true
	}
	return false
}

// Usuario representa a linha persistida da tabela usuarios.
// Nome, Email e CPF guardam o envelope cifrado, nunca o texto claro;
// Email e CPF usam o modo determinístico para sustentar UNIQUE e busca exata.
type Usuario struct {
	ID             uuid.UUID
	Nome           string
	Email          string
	CPF            string
	DataNascimento *time.Time
	FotoURL        *string
	Papel          string
	SenhaHash      string
	Ativo          bool
	CriadoEm       time.Time
	AtualizadoEm   time.Time
	UltimoLogin    *time.Time
}

// TokenRefresh modela tabela de refresh tokens.
type TokenRefresh struct {
	ID        uuid.UUID
	Subject   uuid.UUID
	TokenHash string
	Expiracao time.Time
	CriadoEm  time.Time
	Revogado  bool
}
