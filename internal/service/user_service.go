package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vigiapessoal/identidade/internal/auth"
	"github.com/vigiapessoal/identidade/internal/cifra"
	"github.com/vigiapessoal/identidade/internal/repo"
	"github.com/vigiapessoal/identidade/internal/util"
)

var (
	// ErrValidacao marca entradas rejeitadas antes de tocar o banco.
	ErrValidacao = errors.New("dados inválidos")
	// ErrSuperProtegido indica tentativa de alterar ou remover um SUPER_USER.
	ErrSuperProtegido = errors.New("super usuário não pode ser alterado ou removido")
)

type userRepository interface {
	CreateUsuario(ctx context.Context, u *repo.Usuario) error
	GetUsuarioByID(ctx context.Context, id uuid.UUID) (repo.Usuario, error)
	GetUsuarioByEmailCifrado(ctx context.Context, emailCifrado string) (repo.Usuario, error)
	ListUsuarios(ctx context.Context) ([]repo.Usuario, error)
	FindConflito(ctx context.Context, emailCifrado, cpfCifrado string) (*repo.Usuario, error)
	UpdateUsuario(ctx context.Context, id uuid.UUID, params repo.UpdateUsuarioParams) error
	DeleteUsuario(ctx context.Context, id uuid.UUID) error
}

// UserService é o dono dos registros de identidade: cifra na escrita,
// decifra na leitura e aplica as invariantes de unicidade e de papel.
type UserService struct {
	repo  userRepository
	cifra *cifra.Cipher
}

// NewUserService cria o serviço.
func NewUserService(r userRepository, c *cifra.Cipher) *UserService {
	return &UserService{repo: r, cifra: c}
}

// CreateUsuarioInput carrega os campos do cadastro.
type CreateUsuarioInput struct {
	Nome           string
	Email          string
	Senha          string
	CPF            string
	Papel          string
	FotoURL        string
	DataNascimento *time.Time
}

// UpdateUsuarioInput descreve a atualização parcial: nil mantém o valor atual.
type UpdateUsuarioInput struct {
	Nome           *string
	Email          *string
	Senha          *string
	CPF            *string
	Papel          *string
	FotoURL        *string
	DataNascimento *time.Time
	Ativo          *bool
}

// UsuarioView é a visão decifrada devolvida aos clientes; nunca carrega a senha.
type UsuarioView struct {
	ID             string     `json:"id"`
	Nome           string     `json:"name"`
	Email          string     `json:"email"`
	CPF            string     `json:"cpf,omitempty"`
	DataNascimento *string    `json:"birthDate,omitempty"`
	FotoURL        *string    `json:"photoUrl,omitempty"`
	Papel          string     `json:"role"`
	Ativo          bool       `json:"isActive"`
	CriadoEm       time.Time  `json:"createdAt"`
	AtualizadoEm   time.Time  `json:"updatedAt"`
	UltimoLogin    *time.Time `json:"lastLogin,omitempty"`
}

func invalid(msg string) error {
	return fmt.Errorf("%w: %s", ErrValidacao, msg)
}

// Register valida, cifra e persiste um novo usuário.
// O pré-check de duplicidade é advisory: a palavra final é da constraint
// UNIQUE do banco, que chega aqui como repo.ErrDuplicado mesmo quando duas
// requisições simultâneas passam pelo pré-check.
func (s *UserService) Register(ctx context.Context, input CreateUsuarioInput) (*UsuarioView, error) {
	if err := util.RequireString(input.Nome, "nome"); err != nil {
		return nil, invalid(err.Error())
	}
	if err := util.ValidateEmail(input.Email); err != nil {
		return nil, invalid(err.Error())
	}
	if err := util.ValidatePassword(input.Senha); err != nil {
		return nil, invalid(err.Error())
	}

	papel := strings.ToUpper(strings.TrimSpace(input.Papel))
	if papel == "" {
		papel = repo.PapelCliente
	}
	if !repo.PapelValido(papel) {
		return nil, invalid("papel desconhecido")
	}

	email := strings.ToLower(strings.TrimSpace(input.Email))

	cpf := ""
	if strings.TrimSpace(input.CPF) != "" {
		normalizado, err := util.NormalizeCPF(input.CPF)
		if err != nil {
			return nil, invalid(err.Error())
		}
		cpf = normalizado
	}

	emailCifrado, err := s.cifra.EncryptDeterministic(email)
	if err != nil {
		return nil, err
	}
	cpfCifrado, err := s.cifra.EncryptDeterministic(cpf)
	if err != nil {
		return nil, err
	}
	nomeCifrado, err := s.cifra.EncryptRandom(strings.TrimSpace(input.Nome))
	if err != nil {
		return nil, err
	}

	if conflito, err := s.repo.FindConflito(ctx, emailCifrado, cpfCifrado); err != nil {
		return nil, err
	} else if conflito != nil {
		return nil, repo.ErrDuplicado
	}

	senhaHash, err := auth.Hash(input.Senha)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	u := &repo.Usuario{
		ID:             uuid.New(),
		Nome:           nomeCifrado,
		Email:          emailCifrado,
		CPF:            cpfCifrado,
		DataNascimento: input.DataNascimento,
		Papel:          papel,
		SenhaHash:      senhaHash,
		Ativo:          true,
		CriadoEm:       now,
		AtualizadoEm:   now,
	}
	if foto := strings.TrimSpace(input.FotoURL); foto != "" {
		u.FotoURL = &foto
	}

	if err := s.repo.CreateUsuario(ctx, u); err != nil {
		return nil, err
	}

	return s.View(*u)
}

// List devolve as visões decifradas de todos os usuários.
func (s *UserService) List(ctx context.Context) ([]UsuarioView, error) {
	usuarios, err := s.repo.ListUsuarios(ctx)
	if err != nil {
		return nil, err
	}

	views := make([]UsuarioView, 0, len(usuarios))
	for _, u := range usuarios {
		view, err := s.View(u)
		if err != nil {
			return nil, err
		}
		views = append(views, *view)
	}
	return views, nil
}

// Get devolve a visão decifrada de um usuário.
func (s *UserService) Get(ctx context.Context, id uuid.UUID) (*UsuarioView, error) {
	u, err := s.repo.GetUsuarioByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.View(u)
}

// FindByEmail é o caminho interno do validador de credenciais: devolve o
// registro cru, incluindo o hash de senha que as visões públicas nunca expõem.
func (s *UserService) FindByEmail(ctx context.Context, email string) (repo.Usuario, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	emailCifrado, err := s.cifra.EncryptDeterministic(email)
	if err != nil {
		return repo.Usuario{}, err
	}
	return s.repo.GetUsuarioByEmailCifrado(ctx, emailCifrado)
}

// Update aplica o merge parcial: re-cifra só os campos enviados e re-hasheia
// a senha apenas quando uma nova foi informada.
func (s *UserService) Update(ctx context.Context, id uuid.UUID, input UpdateUsuarioInput) (*UsuarioView, error) {
	atual, err := s.repo.GetUsuarioByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if atual.Papel == repo.PapelSuperUsuario {
		return nil, ErrSuperProtegido
	}

	params := repo.UpdateUsuarioParams{
		DataNascimento: input.DataNascimento,
		FotoURL:        input.FotoURL,
		Ativo:          input.Ativo,
	}

	var emailCifrado, cpfCifrado string
	if input.Email != nil {
		if err := util.ValidateEmail(*input.Email); err != nil {
			return nil, invalid(err.Error())
		}
		email := strings.ToLower(strings.TrimSpace(*input.Email))
		if emailCifrado, err = s.cifra.EncryptDeterministic(email); err != nil {
			return nil, err
		}
		params.Email = &emailCifrado
	}
	if input.CPF != nil {
		cpf, err := util.NormalizeCPF(*input.CPF)
		if err != nil {
			return nil, invalid(err.Error())
		}
		if cpfCifrado, err = s.cifra.EncryptDeterministic(cpf); err != nil {
			return nil, err
		}
		params.CPF = &cpfCifrado
	}

	if input.Email != nil || input.CPF != nil {
		conflito, err := s.repo.FindConflito(ctx, emailCifrado, cpfCifrado)
		if err != nil {
			return nil, err
		}
		if conflito != nil && conflito.ID != id {
			return nil, repo.ErrDuplicado
		}
	}

	if input.Nome != nil {
		if err := util.RequireString(*input.Nome, "nome"); err != nil {
			return nil, invalid(err.Error())
		}
		nomeCifrado, err := s.cifra.EncryptRandom(strings.TrimSpace(*input.Nome))
		if err != nil {
			return nil, err
		}
		params.Nome = &nomeCifrado
	}

	if input.Senha != nil {
		if err := util.ValidatePassword(*input.Senha); err != nil {
			return nil, invalid(err.Error())
		}
		senhaHash, err := auth.Hash(*input.Senha)
		if err != nil {
			return nil, err
		}
		params.SenhaHash = &senhaHash
	}

	if input.Papel != nil {
		papel := strings.ToUpper(strings.TrimSpace(*input.Papel))
		// elevação a SUPER_USER só pelo cadastro, onde o cap é
		// verificado na transação do INSERT
		if !repo.PapelValido(papel) || papel == repo.PapelSuperUsuario {
			return nil, invalid("papel desconhecido")
		}
		params.Papel = &papel
	}

	if err := s.repo.UpdateUsuario(ctx, id, params); err != nil {
		return nil, err
	}

	return s.Get(ctx, id)
}

// Remove apaga o registro; SUPER_USER nunca pode ser removido.
func (s *UserService) Remove(ctx context.Context, id uuid.UUID) error {
	atual, err := s.repo.GetUsuarioByID(ctx, id)
	if err != nil {
		return err
	}
	if atual.Papel == repo.PapelSuperUsuario {
		return ErrSuperProtegido
	}
	return s.repo.DeleteUsuario(ctx, id)
}

// View decifra um registro para a visão pública, sem o hash de senha.
func (s *UserService) View(u repo.Usuario) (*UsuarioView, error) {
	nome, err := s.cifra.Decrypt(u.Nome)
	if err != nil {
		return nil, err
	}
	email, err := s.cifra.Decrypt(u.Email)
	if err != nil {
		return nil, err
	}
	cpf, err := s.cifra.Decrypt(u.CPF)
	if err != nil {
		return nil, err
	}

	view := &UsuarioView{
		ID:           u.ID.String(),
		Nome:         nome,
		Email:        email,
		CPF:          cpf,
		FotoURL:      u.FotoURL,
		Papel:        u.Papel,
		Ativo:        u.Ativo,
		CriadoEm:     u.CriadoEm,
		AtualizadoEm: u.AtualizadoEm,
		UltimoLogin:  u.UltimoLogin,
	}
	if u.DataNascimento != nil {
		data := u.DataNascimento.Format("2006-01-02")
		view.DataNascimento = &data
	}
	return view, nil
}
