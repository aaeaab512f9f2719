// sweep.go — сервис фоновой уборки хранилища.
//
// Уборщик выполняет четыре задачи:
//  1. Освобождает блобы файлов, навсегда потерявших право на скачивание:
//     истёкших, исчерпавших предел попыток, уже выданных (при one-shot).
//     Запись в базе при этом остаётся: она участвует в подсчёте лимита
//     загрузок, пока не выйдет из скользящего окна.
//  2. Удаляет записи (вместе с журналом — каскадно), когда файл и потерял
//     право на скачивание, и вышел из окна лимита загрузок.
//  3. Убирает осиротевшие блобы: публикация прошла, но запись в базе так
//     и не появилась (сбой между rename и вставкой). Блоб считается
//     осиротевшим только по истечении срока жизни файла.
//  4. Убирает временные файлы незавершённых публикаций старше часа.
//
// Запускается как горутина с периодическим тикером (SF_SWEEP_INTERVAL).
package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goseif/internal/repository"
	"github.com/bigkaa/goseif/internal/storage/blobstore"
)

const (
	// sweepBatchSize — максимум файлов, убираемых за один проход.
	sweepBatchSize = 500
	// tempMaxAge — возраст, после которого temp файл считается осиротевшим.
	// Свежий temp файл может принадлежать идущей прямо сейчас публикации.
	tempMaxAge = time.Hour
)

// Prometheus метрики уборщика
var (
	// sweepRunsTotal — количество запусков уборки.
	sweepRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sf_sweep_runs_total",
		Help: "Общее количество запусков уборки",
	})

	// sweepBlobsReclaimedTotal — количество освобождённых блобов.
	sweepBlobsReclaimedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sf_sweep_blobs_reclaimed_total",
		Help: "Общее количество блобов, освобождённых уборщиком",
	})

	// sweepFilesPurgedTotal — количество удалённых записей файлов.
	sweepFilesPurgedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sf_sweep_files_purged_total",
		Help: "Общее количество записей файлов, удалённых уборщиком",
	})

	// sweepOrphansRemovedTotal — количество убранных осиротевших блобов.
	sweepOrphansRemovedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sf_sweep_orphans_removed_total",
		Help: "Общее количество убранных осиротевших блобов",
	})

	// sweepTempRemovedTotal — количество убранных временных файлов.
	sweepTempRemovedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sf_sweep_temp_removed_total",
		Help: "Общее количество убранных осиротевших временных файлов",
	})

	// sweepDurationSeconds — длительность выполнения уборки.
	sweepDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sf_sweep_duration_seconds",
		Help:    "Длительность выполнения уборки в секундах",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
	})
)

// SweepPolicy — параметры уборки.
type SweepPolicy struct {
	// Interval — период запуска фоновой уборки
	Interval time.Duration
	// UploadWindow — окно лимита загрузок: запись файла не удаляется,
	// пока участвует в подсчёте лимита
	UploadWindow time.Duration
	// FileLifetime — срок жизни файла: блоб без записи старше этого
	// срока считается осиротевшим
	FileLifetime time.Duration
	// Download — пределы, по которым отказывает сервис выдачи:
	// уборщик освобождает ровно то, что выдача уже никогда не отдаст
	Download DownloadPolicy
}

// SweepResult — результат одного прохода уборки.
type SweepResult struct {
	// BlobCount — количество освобождённых блобов
	BlobCount int
	// PurgedCount — количество удалённых записей файлов
	PurgedCount int
	// OrphanCount — количество убранных осиротевших блобов
	OrphanCount int
	// TempCount — количество убранных временных файлов
	TempCount int
	// Errors — количество ошибок при обработке файлов
	Errors int
	// Duration — длительность выполнения
	Duration time.Duration
}

// SweepService — сервис фоновой уборки хранилища.
type SweepService struct {
	files  repository.FileRepository
	blobs  *blobstore.BlobStore
	policy SweepPolicy
	logger *slog.Logger

	mu     sync.Mutex // защита от параллельного запуска RunOnce
	cancel context.CancelFunc
}

// NewSweepService создаёт сервис уборки.
func NewSweepService(
	files repository.FileRepository,
	blobs *blobstore.BlobStore,
	policy SweepPolicy,
	logger *slog.Logger,
) *SweepService {
	return &SweepService{
		files:  files,
		blobs:  blobs,
		policy: policy,
		logger: logger.With(slog.String("component", "sweep")),
	}
}

// Start запускает фоновую горутину уборки с периодическим тикером.
// Вызывается один раз при старте приложения.
func (s *SweepService) Start(ctx context.Context) {
	sweepCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	go s.run(sweepCtx)

	s.logger.Info("Уборщик запущен",
		slog.String("interval", s.policy.Interval.String()),
	)
}

// Stop останавливает фоновый процесс уборки.
func (s *SweepService) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.logger.Info("Уборщик остановлен")
}

// run — основной цикл фоновой горутины.
func (s *SweepService) run(ctx context.Context) {
	// Первый проход — сразу после старта
	s.RunOnce(ctx)

	ticker := time.NewTicker(s.policy.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce выполняет один проход уборки.
// Потокобезопасен: использует mutex для защиты от параллельного запуска.
func (s *SweepService) RunOnce(ctx context.Context) *SweepResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	result := &SweepResult{}
	now := time.Now().UTC()

	s.logger.Debug("Проход уборки начат")

	// Фаза 1: освобождение блобов недоступных файлов. Запись остаётся —
	// она ещё участвует в подсчёте лимита загрузок.
	result.BlobCount = s.reclaimBlobs(ctx, now, result)

	// Фаза 2: удаление записей, вышедших из окна лимита загрузок
	result.PurgedCount = s.purgeRecords(ctx, now, result)

	// Фаза 3: осиротевшие блобы без записи в базе
	result.OrphanCount = s.removeOrphans(ctx, now, result)

	// Фаза 4: временные файлы незавершённых публикаций
	tempCount, err := s.blobs.SweepTemp(tempMaxAge)
	if err != nil {
		s.logger.Error("Ошибка уборки временных файлов",
			slog.String("error", err.Error()),
		)
		result.Errors++
	}
	result.TempCount = tempCount

	result.Duration = time.Since(start)

	// Обновляем Prometheus метрики
	sweepRunsTotal.Inc()
	sweepBlobsReclaimedTotal.Add(float64(result.BlobCount))
	sweepFilesPurgedTotal.Add(float64(result.PurgedCount))
	sweepOrphansRemovedTotal.Add(float64(result.OrphanCount))
	sweepTempRemovedTotal.Add(float64(result.TempCount))
	sweepDurationSeconds.Observe(result.Duration.Seconds())

	s.logger.Info("Проход уборки завершён",
		slog.Int("blobs_reclaimed", result.BlobCount),
		slog.Int("records_purged", result.PurgedCount),
		slog.Int("orphans_removed", result.OrphanCount),
		slog.Int("temp_removed", result.TempCount),
		slog.Int("errors", result.Errors),
		slog.Duration("duration", result.Duration),
	)

	return result
}

// reclaimBlobs освобождает блобы файлов, навсегда потерявших право
// на скачивание.
func (s *SweepService) reclaimBlobs(ctx context.Context, now time.Time, result *SweepResult) int {
	ids, err := s.files.ListPurgeable(ctx, now, now,
		int(s.policy.Download.MaxAttempts), s.policy.Download.OneShot, sweepBatchSize)
	if err != nil {
		s.logger.Error("Ошибка выборки файлов для освобождения блобов",
			slog.String("error", err.Error()),
		)
		result.Errors++
		return 0
	}

	count := 0
	for _, id := range ids {
		if !s.blobs.Exists(id) {
			continue
		}
		if err := s.blobs.Delete(id); err != nil {
			s.logger.Error("Ошибка удаления блоба",
				slog.String("file_id", id.String()),
				slog.String("error", err.Error()),
			)
			result.Errors++
			continue
		}
		s.logger.Debug("Блоб освобождён", slog.String("file_id", id.String()))
		count++
	}
	return count
}

// purgeRecords удаляет записи файлов, которые и недоступны для скачивания,
// и вышли из окна лимита загрузок.
func (s *SweepService) purgeRecords(ctx context.Context, now time.Time, result *SweepResult) int {
	ids, err := s.files.ListPurgeable(ctx, now, now.Add(-s.policy.UploadWindow),
		int(s.policy.Download.MaxAttempts), s.policy.Download.OneShot, sweepBatchSize)
	if err != nil {
		s.logger.Error("Ошибка выборки записей для удаления",
			slog.String("error", err.Error()),
		)
		result.Errors++
		return 0
	}

	count := 0
	for _, id := range ids {
		// Блоб обычно уже освобождён первой фазой, удаление идемпотентно
		if err := s.blobs.Delete(id); err != nil {
			s.logger.Error("Ошибка удаления блоба",
				slog.String("file_id", id.String()),
				slog.String("error", err.Error()),
			)
			result.Errors++
			continue
		}
		if err := s.files.Delete(ctx, id); err != nil {
			s.logger.Error("Ошибка удаления записи файла",
				slog.String("file_id", id.String()),
				slog.String("error", err.Error()),
			)
			result.Errors++
			continue
		}
		s.logger.Debug("Запись файла удалена", slog.String("file_id", id.String()))
		count++
	}
	return count
}

// removeOrphans убирает блобы, у которых нет записи в базе.
// Блоб моложе срока жизни файла не трогается: публикация могла пройти,
// а вставка записи — ещё не завершиться.
func (s *SweepService) removeOrphans(ctx context.Context, now time.Time, result *SweepResult) int {
	ids, err := s.blobs.ListOlderThan(now.Add(-s.policy.FileLifetime))
	if err != nil {
		s.logger.Error("Ошибка перечисления блобов",
			slog.String("error", err.Error()),
		)
		result.Errors++
		return 0
	}

	count := 0
	for _, id := range ids {
		exists, err := s.files.Exists(ctx, id)
		if err != nil {
			s.logger.Error("Ошибка проверки записи файла",
				slog.String("file_id", id.String()),
				slog.String("error", err.Error()),
			)
			result.Errors++
			continue
		}
		if exists {
			continue
		}
		if err := s.blobs.Delete(id); err != nil {
			s.logger.Error("Ошибка удаления осиротевшего блоба",
				slog.String("file_id", id.String()),
				slog.String("error", err.Error()),
			)
			result.Errors++
			continue
		}
		s.logger.Debug("Осиротевший блоб убран", slog.String("file_id", id.String()))
		count++
	}
	return count
}
