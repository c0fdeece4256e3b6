package cifra

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

var (
	// ErrEnvelopeInvalido é retornado quando o texto cifrado não pode ser decodificado.
	ErrEnvelopeInvalido = errors.New("envelope cifrado inválido")
	// ErrChaveInvalida é retornado quando a chave não tem 32 bytes.
	ErrChaveInvalida = errors.New("chave de cifra deve ter 32 bytes")
)

// Cipher cifra campos individuais com AES-256-CBC.
//
// O envelope persistido é sempre hex(iv || ciphertext), então a decifragem
// não precisa saber qual modo produziu o valor. Campos consultados por
// igualdade (email, cpf) usam o modo determinístico: o IV é derivado do
// próprio plaintext via HMAC, logo o mesmo texto produz sempre o mesmo
// envelope e a coluna cifrada aceita UNIQUE e busca exata. Campos só de
// exibição (nome) usam IV aleatório.
//
// Uma vez escolhido o modo de um campo, ele não pode mudar: trocar o modo
// quebra as buscas sobre os dados já gravados.
type Cipher struct {
	key []byte
}

// New cria a cifra com uma chave de 32 bytes (AES-256).
func New(key []byte) (*Cipher, error) {
	if len(key) != 32 {
		return nil, ErrChaveInvalida
	}
	return &Cipher{key: append([]byte(nil), key...)}, nil
}

// EncryptDeterministic cifra com IV derivado do plaintext.
// Texto vazio mapeia para vazio sem invocar a cifra.
func (c *Cipher) EncryptDeterministic(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	return c.encrypt(plaintext, c.deriveIV(plaintext))
}

// EncryptRandom cifra com IV aleatório; o mesmo texto produz envelopes distintos.
func (c *Cipher) EncryptRandom(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("gerar iv: %w", err)
	}
	return c.encrypt(plaintext, iv)
}

func (c *Cipher) deriveIV(plaintext string) []byte {
	mac := hmac.New(sha256.New, c.key)
	mac.Write([]byte(plaintext))
	return mac.Sum(nil)[:aes.BlockSize]
}

func (c *Cipher) encrypt(plaintext string, iv []byte) (string, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", err
	}

	padded := padPKCS7([]byte(plaintext), aes.BlockSize)
	out := make([]byte, aes.BlockSize+len(padded))
	copy(out, iv)
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out[aes.BlockSize:], padded)

	return hex.EncodeToString(out), nil
}

// Decrypt abre qualquer envelope produzido por este pacote.
// Texto vazio mapeia para vazio.
func (c *Cipher) Decrypt(encoded string) (string, error) {
	if encoded == "" {
		return "", nil
	}

	raw, err := hex.DecodeString(encoded)
	if err != nil {
		return "", ErrEnvelopeInvalido
	}
	if len(raw) < 2*aes.BlockSize || len(raw)%aes.BlockSize != 0 {
		return "", ErrEnvelopeInvalido
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", err
	}

	iv, ct := raw[:aes.BlockSize], raw[aes.BlockSize:]
	plain := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, ct)

	unpadded, err := unpadPKCS7(plain, aes.BlockSize)
	if err != nil {
		return "", ErrEnvelopeInvalido
	}
	return string(unpadded), nil
}

func padPKCS7(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpadPKCS7(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, errors.New("tamanho inválido")
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize || n > len(data) {
		return nil, errors.New("padding inválido")
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, errors.New("padding inválido")
		}
	}
	return data[:len(data)-n], nil
}
