// errors.go — ошибки бизнес-логики сервисного слоя.
package service

import "errors"

var (
	// ErrUploadLimitReached — исчерпан лимит загрузок в скользящем окне.
	ErrUploadLimitReached = errors.New("превышен лимит загрузок")
	// ErrBodyTooLarge — содержимое файла превышает допустимый размер.
	ErrBodyTooLarge = errors.New("содержимое превышает допустимый размер")
	// ErrMetadataTooLarge — зашифрованные метаданные не укладываются в бюджет хранения.
	ErrMetadataTooLarge = errors.New("метаданные превышают допустимый размер")
	// ErrNotDownloadable — файл не подлежит скачиванию: не существует, истёк,
	// исчерпал попытки или уже был выдан. Причины намеренно неразличимы.
	ErrNotDownloadable = errors.New("файл недоступен для скачивания")
	// ErrKeyMismatch — предъявленный ключ не прошёл проверку.
	ErrKeyMismatch = errors.New("ключ не прошёл проверку")
)
