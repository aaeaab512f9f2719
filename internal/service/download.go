// download.go — сервис выдачи файлов.
//
// Решение по попытке выносится под блокировкой строки файла: проверка
// права на скачивание, проверка ключа, чтение и расшифровка содержимого
// и запись в журнал попыток составляют одну транзакцию. Два конкурентных
// запроса с верным ключом не получат файл оба.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
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

// downloadAttemptsTotal — количество попыток скачивания по исходам.
var downloadAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "sf_download_attempts_total",
	Help: "Общее количество попыток скачивания",
}, []string{"outcome"})

// DownloadPolicy — политика выдачи файлов.
type DownloadPolicy struct {
	// MaxAttempts — предел попыток скачивания на файл (успешных и нет)
	MaxAttempts int64
	// OneShot — выдавать ли файл не более одного раза
	OneShot bool
}

// DownloadResult — расшифрованное содержимое и метаданные файла.
type DownloadResult struct {
	Content  []byte
	Metadata model.FileMetadata
}

// DownloadService — сервис выдачи файлов.
type DownloadService struct {
	attempts repository.Attempter
	blobs    *blobstore.BlobStore
	policy   DownloadPolicy
	logger   *slog.Logger
}

// NewDownloadService создаёт сервис выдачи файлов.
func NewDownloadService(
	attempts repository.Attempter,
	blobs *blobstore.BlobStore,
	policy DownloadPolicy,
	logger *slog.Logger,
) *DownloadService {
	return &DownloadService{
		attempts: attempts,
		blobs:    blobs,
		policy:   policy,
		logger:   logger.With(slog.String("component", "download")),
	}
}

// Download выполняет попытку скачивания файла по паре (id, key).
//
// Исходы:
//   - файл отсутствует, истёк, исчерпал попытки или уже выдан —
//     ErrNotDownloadable, запись в журнал не делается;
//   - ключ не прошёл проверку — ErrKeyMismatch, в журнал пишется
//     неуспешная попытка (она же расходует предел попыток);
//   - ключ верен — содержимое расшифровывается, в журнал пишется
//     успешная попытка, файл считается выданным.
//
// Внутренняя ошибка после верного ключа (потерянный блоб, сбой
// расшифровки) откатывает транзакцию целиком: попытка не расходуется.
func (s *DownloadService) Download(ctx context.Context, id uuid.UUID, key []byte, origin string) (*DownloadResult, error) {
	var (
		result  *DownloadResult
		outcome repository.AttemptOutcome
	)

	err := s.attempts.Attempt(ctx, id, origin, func(f *model.FileRecord, stats repository.AttemptStats) (repository.AttemptOutcome, error) {
		if !s.eligible(f, stats, time.Now().UTC()) {
			outcome = repository.AttemptIneligible
			return repository.AttemptIneligible, nil
		}

		ok, err := crypto.Verify(key, f.KeyDigest)
		if err != nil {
			return 0, fmt.Errorf("ошибка проверки ключа: %w", err)
		}
		if !ok {
			outcome = repository.AttemptRejected
			return repository.AttemptRejected, nil
		}

		ciphertext, err := s.blobs.Load(f.ID)
		if err != nil {
			return 0, fmt.Errorf("ошибка чтения блоба: %w", err)
		}
		content, err := crypto.Decrypt(ciphertext, key)
		if err != nil {
			return 0, fmt.Errorf("ошибка расшифровки содержимого: %w", err)
		}
		metaJSON, err := crypto.Decrypt(f.EncryptedMetadata, key)
		if err != nil {
			return 0, fmt.Errorf("ошибка расшифровки метаданных: %w", err)
		}
		var meta model.FileMetadata
		if err := json.Unmarshal(metaJSON, &meta); err != nil {
			return 0, fmt.Errorf("ошибка разбора метаданных: %w", err)
		}

		result = &DownloadResult{Content: content, Metadata: meta}
		outcome = repository.AttemptSucceeded
		return repository.AttemptSucceeded, nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			downloadAttemptsTotal.WithLabelValues("not_found").Inc()
			return nil, ErrNotDownloadable
		}
		return nil, err
	}

	switch outcome {
	case repository.AttemptIneligible:
		downloadAttemptsTotal.WithLabelValues("ineligible").Inc()
		s.logger.Info("Скачивание отклонено: файл недоступен",
			slog.String("file_id", id.String()),
			slog.String("origin", origin),
		)
		return nil, ErrNotDownloadable
	case repository.AttemptRejected:
		downloadAttemptsTotal.WithLabelValues("rejected").Inc()
		s.logger.Info("Скачивание отклонено: неверный ключ",
			slog.String("file_id", id.String()),
			slog.String("origin", origin),
		)
		return nil, ErrKeyMismatch
	}

	downloadAttemptsTotal.WithLabelValues("succeeded").Inc()
	s.logger.Info("Файл выдан",
		slog.String("file_id", id.String()),
		slog.String("origin", origin),
		slog.Int("size", len(result.Content)),
	)
	return result, nil
}

// eligible проверяет право файла на скачивание: срок не истёк, предел
// попыток не исчерпан, при one-shot политике файл ещё не выдавался.
func (s *DownloadService) eligible(f *model.FileRecord, stats repository.AttemptStats, now time.Time) bool {
	if f.Expired(now) {
		return false
	}
	if stats.Total >= s.policy.MaxAttempts {
		return false
	}
	if s.policy.OneShot && stats.Successes > 0 {
		return false
	}
	return true
}
