package repo

import "errors"

var (
	// ErrNotFound é retornado quando nenhum registro é encontrado.
	ErrNotFound = errors.New("registro não encontrado")
	// ErrDuplicado é retornado quando email ou CPF colidem com outro registro.
	ErrDuplicado = errors.New("email ou cpf já cadastrado")
	// ErrLimiteSuper é retornado ao tentar criar o quinto SUPER_USER.
	ErrLimiteSuper = errors.New("limite de super usuários atingido")
	// ErrIndisponivel é retornado quando o banco não responde dentro do prazo.
	ErrIndisponivel = errors.New("armazenamento indisponível")
)
