package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
)

// GenerateRefreshToken cria token aleatório seguro e seu hash persistível.
// Só o hash vai para o banco e para o Redis; o valor cru fica com o cliente.
func GenerateRefreshToken() (raw string, hashed string, err error) {
	buf := make([]byte, 32)
	if _, err = rand.Read(buf); err != nil {
		return "", "", err
	}

	raw = base64.RawURLEncoding.EncodeToString(buf)
	hashed = HashRefreshToken(raw)
	return raw, hashed, nil
}

// HashRefreshToken produz hash SHA-256 base64.
func HashRefreshToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// RefreshRedisKey monta a chave que guarda o estado do refresh.
func RefreshRedisKey(hash string) string {
	return "refresh:" + hash
}
