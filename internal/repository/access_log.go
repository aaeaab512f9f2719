package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/bigkaa/goseif/internal/domain/model"
)

// AttemptStats — сводка журнала попыток по одному файлу.
type AttemptStats struct {
	// Total — общее количество попыток (успешных и нет)
	Total int64
	// Successes — количество успешных попыток (0 или 1 при one-shot)
	Successes int64
}

// AccessLogRepository — операции с append-only журналом попыток.
// Обновления и удаления записей отсутствуют намеренно.
type AccessLogRepository interface {
	// Insert добавляет запись попытки.
	Insert(ctx context.Context, e *model.AccessLogEntry) error
	// StatsByFile возвращает сводку попыток по файлу.
	StatsByFile(ctx context.Context, fileID uuid.UUID) (AttemptStats, error)
}

// accessLogRepo — реализация AccessLogRepository.
type accessLogRepo struct {
	db DBTX
}

// NewAccessLogRepository создаёт репозиторий журнала попыток.
func NewAccessLogRepository(db DBTX) AccessLogRepository {
	return &accessLogRepo{db: db}
}

func (r *accessLogRepo) Insert(ctx context.Context, e *model.AccessLogEntry) error {
	query := `
		INSERT INTO access_log (id, file_id, ip, attempted_at, successful)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := r.db.Exec(ctx, query, e.ID, e.FileID, e.IP, e.AttemptedAt, e.Successful)
	if err != nil {
		if isUniqueViolation(err) {
			// Частичный уникальный индекс: вторая успешная запись по файлу
			return fmt.Errorf("%w: успешная попытка по файлу уже записана", ErrConflict)
		}
		return fmt.Errorf("ошибка записи в журнал попыток: %w", err)
	}
	return nil
}

func (r *accessLogRepo) StatsByFile(ctx context.Context, fileID uuid.UUID) (AttemptStats, error) {
	query := `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE successful)
		FROM access_log
		WHERE file_id = $1`

	var stats AttemptStats
	if err := r.db.QueryRow(ctx, query, fileID).Scan(&stats.Total, &stats.Successes); err != nil {
		return AttemptStats{}, fmt.Errorf("ошибка подсчёта попыток: %w", err)
	}
	return stats, nil
}
