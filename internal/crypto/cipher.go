// Пакет crypto — криптографическое ядро Seif Module.
// cipher.go — генерация ключей и аутентифицированное шифрование AES-256-GCM.
// Один и тот же примитив шифрует и содержимое файла, и запись метаданных;
// каждый вызов Encrypt использует независимый случайный nonce.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
)

// KeySize — длина симметричного ключа в байтах (AES-256).
const KeySize = 32

// ErrAuthentication — шифротекст не прошёл аутентификацию: неверный ключ,
// подмена данных или обрезанный вход. Никогда не возвращаем «мусорные» байты.
var ErrAuthentication = errors.New("аутентификация шифротекста не пройдена")

// GenerateKey генерирует криптографически стойкий случайный ключ.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("ошибка генерации ключа: %w", err)
	}
	return key, nil
}

// Encrypt шифрует plaintext ключом key (AES-256-GCM).
// Возвращает самодостаточный шифротекст: nonce || sealed,
// для расшифровки нужен только ключ.
func Encrypt(plaintext, key []byte) ([]byte, error) {
	aesgcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aesgcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("ошибка генерации nonce: %w", err)
	}

	// Seal дописывает шифротекст после nonce — получаем nonce || sealed
	return aesgcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt расшифровывает шифротекст формата nonce || sealed.
// При любом несоответствии ключа или повреждении данных возвращает
// ErrAuthentication.
func Decrypt(ciphertext, key []byte) ([]byte, error) {
	aesgcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < aesgcm.NonceSize() {
		return nil, ErrAuthentication
	}

	nonce := ciphertext[:aesgcm.NonceSize()]
	sealed := ciphertext[aesgcm.NonceSize():]

	plaintext, err := aesgcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, ErrAuthentication
	}
	return plaintext, nil
}

// newGCM создаёт AEAD-примитив AES-GCM для ключа key.
func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("некорректная длина ключа: %d, ожидается %d", len(key), KeySize)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("ошибка инициализации AES: %w", err)
	}

	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("ошибка инициализации GCM: %w", err)
	}
	return aesgcm, nil
}
