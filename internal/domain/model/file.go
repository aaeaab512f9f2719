// Пакет model — доменные модели Seif Module.
package model

import (
	"time"

	"github.com/google/uuid"
)

// FileRecord — запись файла в хранилище (таблица files).
// Неизменяема после создания; «истекает» только по времени
// или по росту журнала попыток. Сам ключ здесь не хранится никогда —
// только его односторонний дайджест.
type FileRecord struct {
	// ID — непрозрачный случайный идентификатор файла
	ID uuid.UUID
	// KeyDigest — Argon2id-дайджест ключа (PHC-строка)
	KeyDigest string
	// UploaderIP — адрес источника загрузки
	UploaderIP string
	// UploadedAt — момент загрузки
	UploadedAt time.Time
	// DownloadUntil — момент истечения срока скачивания
	DownloadUntil time.Time
	// EncryptedMetadata — шифротекст записи метаданных (FileMetadata)
	EncryptedMetadata []byte
}

// Expired сообщает, истёк ли срок скачивания файла на момент now.
func (f *FileRecord) Expired(now time.Time) bool {
	return now.After(f.DownloadUntil)
}

// AccessLogEntry — запись журнала попыток скачивания (таблица access_log).
// Журнал append-only: записи никогда не обновляются и не удаляются.
type AccessLogEntry struct {
	// ID — идентификатор записи
	ID uuid.UUID
	// FileID — ссылка на файл
	FileID uuid.UUID
	// IP — адрес источника попытки
	IP string
	// AttemptedAt — момент попытки
	AttemptedAt time.Time
	// Successful — завершилась ли попытка выдачей содержимого
	Successful bool
}

// FileMetadata — небольшая структурированная запись метаданных файла.
// Хранится только в зашифрованном виде (FileRecord.EncryptedMetadata);
// размер шифротекста в base64url ограничен MetadataMaxEncodedSize.
type FileMetadata struct {
	// Filename — оригинальное имя файла
	Filename string `json:"filename,omitempty"`
	// ContentType — MIME-тип содержимого
	ContentType string `json:"content_type,omitempty"`
}

// MetadataMaxEncodedSize — бюджет размера зашифрованных метаданных
// в base64url-кодировке. Шифротекст должен помещаться в ограниченное
// транспортное поле.
const MetadataMaxEncodedSize = 255
