package util

import (
	"errors"
	"net/mail"
	"strings"
)

// ValidateEmail retorna erro para e-mails inválidos.
func ValidateEmail(email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return errors.New("email obrigatório")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return errors.New("email inválido")
	}
	return nil
}

// ValidatePassword verifica requisitos mínimos de senha.
func ValidatePassword(password string) error {
	if len(password) < 6 {
		return errors.New("senha deve ter pelo menos 6 caracteres")
	}
	return nil
}

// NormalizeCPF remove pontuação e valida o formato de 11 dígitos.
// Devolve apenas os dígitos, prontos para a cifra determinística.
func NormalizeCPF(cpf string) (string, error) {
	var digits strings.Builder
	for _, r := range cpf {
		switch {
		case r >= '0' && r <= '9':
			digits.WriteRune(r)
		case r == '.' || r == '-' || r == ' ':
			// pontuação usual de CPF
		default:
			return "", errors.New("cpf inválido")
		}
	}
	out := digits.String()
	if len(out) != 11 {
		return "", errors.New("cpf deve ter 11 dígitos")
	}
	return out, nil
}

// RequireString garante string não vazia.
func RequireString(value, field string) error {
	if strings.TrimSpace(value) == "" {
		return errors.New(field + " obrigatório")
	}
	return nil
}
