// upload.go — сервис приёма файлов на хранение.
//
// Ключ шифрования генерируется на каждую загрузку, отдаётся клиенту
// один раз и нигде не сохраняется: в базу попадает только Argon2id-дайджест
// для последующей проверки. Содержимое и метаданные шифруются этим ключом
// до записи на диск и в базу.
package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goseif/internal/crypto"
	"github.com/bigkaa/goseif/internal/domain/model"
	"github.com/bigkaa/goseif/internal/repository"
	"github.com/bigkaa/goseif/internal/storage/blobstore"
)

// Prometheus метрики загрузок
var (
	// uploadsTotal — количество принятых файлов.
	uploadsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sf_uploads_total",
		Help: "Общее количество принятых файлов",
	})

	// uploadsRejectedTotal — количество отклонённых загрузок по причинам.
	uploadsRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sf_uploads_rejected_total",
		Help: "Общее количество отклонённых загрузок",
	}, []string{"reason"})

	// uploadBytesTotal — суммарный размер принятого содержимого (до шифрования).
	uploadBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sf_upload_bytes_total",
		Help: "Суммарный размер принятого содержимого в байтах",
	})
)

// UploadPolicy — политика приёма файлов.
type UploadPolicy struct {
	// BodyMaxSize — максимальный размер содержимого файла в байтах
	BodyMaxSize int64
	// Window — ширина скользящего окна лимита загрузок
	Window time.Duration
	// UploadsPerWindow — максимум загрузок с одного адреса в окне
	UploadsPerWindow int64
	// FileLifetime — срок, в течение которого файл можно скачать
	FileLifetime time.Duration
}

// UploadResult — результат успешной загрузки.
type UploadResult struct {
	// ID — непрозрачный идентификатор файла
	ID uuid.UUID
	// Key — одноразовый ключ шифрования. Единственная копия:
	// после ответа клиенту ключ восстановить невозможно.
	Key []byte
}

// UploadService — сервис приёма файлов.
type UploadService struct {
	files  repository.FileRepository
	blobs  *blobstore.BlobStore
	policy UploadPolicy
	logger *slog.Logger
}

// NewUploadService создаёт сервис приёма файлов.
func NewUploadService(
	files repository.FileRepository,
	blobs *blobstore.BlobStore,
	policy UploadPolicy,
	logger *slog.Logger,
) *UploadService {
	return &UploadService{
		files:  files,
		blobs:  blobs,
		policy: policy,
		logger: logger.With(slog.String("component", "upload")),
	}
}

// Upload читает содержимое файла из body, шифрует его и метаданные свежим
// ключом и сохраняет. Возвращает идентификатор и ключ — оба нужны для
// скачивания.
//
// Лимит загрузок проверяется до чтения тела: отправителю с исчерпанным
// лимитом отвечаем отказом по лимиту, не буферизуя содержимое и независимо
// от его размера. Чтение ограничено одним байтом сверх бюджета — этого
// достаточно, чтобы отличить допустимое тело от превышения.
//
// Порядок записи: сначала блоб на диск, затем запись в базу. Файл без
// записи в базе недоступен и будет убран уборщиком; запись без блоба
// ломает скачивание, поэтому обратный порядок недопустим.
func (s *UploadService) Upload(ctx context.Context, origin string, body io.Reader, meta model.FileMetadata) (*UploadResult, error) {
	now := time.Now().UTC()

	count, err := s.files.CountRecentUploads(ctx, origin, now.Add(-s.policy.Window))
	if err != nil {
		return nil, fmt.Errorf("ошибка проверки лимита загрузок: %w", err)
	}
	if count >= s.policy.UploadsPerWindow {
		uploadsRejectedTotal.WithLabelValues("rate_limited").Inc()
		s.logger.Info("Загрузка отклонена: лимит исчерпан",
			slog.String("origin", origin),
			slog.Int64("count", count),
		)
		return nil, ErrUploadLimitReached
	}

	content, err := io.ReadAll(io.LimitReader(body, s.policy.BodyMaxSize+1))
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения содержимого: %w", err)
	}
	if int64(len(content)) > s.policy.BodyMaxSize {
		uploadsRejectedTotal.WithLabelValues("body_too_large").Inc()
		return nil, ErrBodyTooLarge
	}

	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("ошибка генерации ключа: %w", err)
	}

	ciphertext, err := crypto.Encrypt(content, key)
	if err != nil {
		return nil, fmt.Errorf("ошибка шифрования содержимого: %w", err)
	}

	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации метаданных: %w", err)
	}
	encryptedMeta, err := crypto.Encrypt(metaJSON, key)
	if err != nil {
		return nil, fmt.Errorf("ошибка шифрования метаданных: %w", err)
	}
	// Бюджет считается по закодированному виду: в нём метаданные уходят клиенту
	if base64.RawURLEncoding.EncodedLen(len(encryptedMeta)) > model.MetadataMaxEncodedSize {
		uploadsRejectedTotal.WithLabelValues("metadata_too_large").Inc()
		return nil, ErrMetadataTooLarge
	}

	digest, err := crypto.DeriveVerifier(key)
	if err != nil {
		return nil, fmt.Errorf("ошибка вычисления дайджеста ключа: %w", err)
	}

	id := uuid.New()

	if err := s.blobs.Save(id, ciphertext); err != nil {
		return nil, fmt.Errorf("ошибка сохранения блоба: %w", err)
	}

	record := &model.FileRecord{
		ID:                id,
		KeyDigest:         digest,
		UploaderIP:        origin,
		UploadedAt:        now,
		DownloadUntil:     now.Add(s.policy.FileLifetime),
		EncryptedMetadata: encryptedMeta,
	}
	if err := s.files.Insert(ctx, record); err != nil {
		// Блоб без записи в базе бесполезен — убираем сразу
		if delErr := s.blobs.Delete(id); delErr != nil {
			s.logger.Error("Не удалось убрать блоб после ошибки вставки",
				slog.String("file_id", id.String()),
				slog.String("error", delErr.Error()),
			)
		}
		return nil, fmt.Errorf("ошибка сохранения записи файла: %w", err)
	}

	uploadsTotal.Inc()
	uploadBytesTotal.Add(float64(len(content)))

	s.logger.Info("Файл принят",
		slog.String("file_id", id.String()),
		slog.String("origin", origin),
		slog.Int("size", len(content)),
		slog.Time("download_until", record.DownloadUntil),
	)

	return &UploadResult{ID: id, Key: key}, nil
}
