// verifier.go — односторонний верификатор ключа.
//
// Сервер никогда не хранит сам ключ — только его Argon2id-дайджест.
// Дайджест намеренно медленный (memory-hard): ключ выступает bearer-секретом,
// и при утечке базы верификаторов запас стойкости должен оставаться
// равномерным даже для входов с меньшей энтропией.
// Формат дайджеста — PHC-строка: $argon2id$v=19$m=...,t=...,p=...$salt$hash.
package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Параметры Argon2id по рекомендациям OWASP.
const (
	argonMemory      = 64 * 1024 // KiB
	argonIterations  = 3
	argonParallelism = 2
	saltLength       = 16
	digestLength     = 32
)

// ErrMalformedDigest — сохранённый дайджест не соответствует PHC-формату.
var ErrMalformedDigest = errors.New("некорректный формат дайджеста")

// DeriveVerifier вычисляет Argon2id-дайджест ключа со свежей случайной солью.
// Возвращает PHC-строку, содержащую все параметры для последующей проверки.
func DeriveVerifier(key []byte) (string, error) {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("ошибка генерации соли: %w", err)
	}

	hash := argon2.IDKey(key, salt, argonIterations, argonMemory, argonParallelism, digestLength)

	b64Salt := base64.RawStdEncoding.EncodeToString(salt)
	b64Hash := base64.RawStdEncoding.EncodeToString(hash)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argonMemory, argonIterations, argonParallelism, b64Salt, b64Hash), nil
}

// Verify проверяет ключ против сохранённого дайджеста.
// Пересчитывает Argon2id с параметрами из PHC-строки и сравнивает
// за константное время. Некорректный дайджест — ошибка, а не false.
func Verify(key []byte, digest string) (bool, error) {
	salt, hash, iterations, memory, parallelism, err := parseDigest(digest)
	if err != nil {
		return false, err
	}

	computed := argon2.IDKey(key, salt, iterations, memory, parallelism, uint32(len(hash)))

	return subtle.ConstantTimeCompare(hash, computed) == 1, nil
}

// parseDigest разбирает PHC-строку Argon2id.
func parseDigest(digest string) (salt, hash []byte, iterations, memory uint32, parallelism uint8, err error) {
	parts := strings.Split(digest, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return nil, nil, 0, 0, 0, ErrMalformedDigest
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return nil, nil, 0, 0, 0, ErrMalformedDigest
	}
	if version != argon2.Version {
		return nil, nil, 0, 0, 0, fmt.Errorf("%w: неподдерживаемая версия argon2 %d", ErrMalformedDigest, version)
	}

	var m, t uint32
	var p uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &m, &t, &p); err != nil {
		return nil, nil, 0, 0, 0, ErrMalformedDigest
	}

	salt, err = base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return nil, nil, 0, 0, 0, ErrMalformedDigest
	}
	hash, err = base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return nil, nil, 0, 0, 0, ErrMalformedDigest
	}

	return salt, hash, t, m, p, nil
}
