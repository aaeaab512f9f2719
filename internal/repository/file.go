package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/goseif/internal/domain/model"
)

// FileRepository — операции с таблицей files.
// Записи файлов неизменяемы: Update отсутствует намеренно.
type FileRepository interface {
	// Insert создаёт запись файла. Коллизия id — ErrConflict (фатальна для вызывающего).
	Insert(ctx context.Context, f *model.FileRecord) error
	// GetForUpdate возвращает запись файла, блокируя её строку до конца
	// текущей транзакции (SELECT ... FOR UPDATE).
	GetForUpdate(ctx context.Context, id uuid.UUID) (*model.FileRecord, error)
	// CountRecentUploads возвращает количество загрузок с адреса origin
	// начиная с момента since.
	CountRecentUploads(ctx context.Context, origin string, since time.Time) (int64, error)
	// ListPurgeable возвращает id файлов, навсегда потерявших право на
	// скачивание: истёкших, исчерпавших лимит попыток или — при политике
	// oneShot — уже выданных. Выборка дополнительно ограничена файлами,
	// загруженными до uploadedBefore: запись участвует в подсчёте лимита
	// загрузок и не должна исчезать, пока не выйдет из скользящего окна.
	ListPurgeable(ctx context.Context, now, uploadedBefore time.Time, maxAttempts int, oneShot bool, limit int) ([]uuid.UUID, error)
	// Exists сообщает, существует ли запись файла.
	Exists(ctx context.Context, id uuid.UUID) (bool, error)
	// Delete удаляет запись файла. Записи журнала попыток удаляются
	// каскадно на уровне схемы. Отсутствие записи не является ошибкой.
	Delete(ctx context.Context, id uuid.UUID) error
}

// fileRepo — реализация FileRepository.
type fileRepo struct {
	db DBTX
}

// NewFileRepository создаёт репозиторий записей файлов.
func NewFileRepository(db DBTX) FileRepository {
	return &fileRepo{db: db}
}

func (r *fileRepo) Insert(ctx context.Context, f *model.FileRecord) error {
	query := `
		INSERT INTO files (id, key_digest, uploader_ip, uploaded_at, download_until, encrypted_metadata)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := r.db.Exec(ctx, query,
		f.ID, f.KeyDigest, f.UploaderIP, f.UploadedAt, f.DownloadUntil, f.EncryptedMetadata,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: файл с таким id уже существует", ErrConflict)
		}
		return fmt.Errorf("ошибка вставки записи файла: %w", err)
	}
	return nil
}

func (r *fileRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*model.FileRecord, error) {
	query := `
		SELECT id, key_digest, uploader_ip, uploaded_at, download_until, encrypted_metadata
		FROM files
		WHERE id = $1
		FOR UPDATE`

	f := &model.FileRecord{}
	err := r.db.QueryRow(ctx, query, id).Scan(
		&f.ID, &f.KeyDigest, &f.UploaderIP, &f.UploadedAt, &f.DownloadUntil, &f.EncryptedMetadata,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения записи файла: %w", err)
	}
	return f, nil
}

func (r *fileRepo) CountRecentUploads(ctx context.Context, origin string, since time.Time) (int64, error) {
	query := `
		SELECT COUNT(*)
		FROM files
		WHERE uploader_ip = $1 AND uploaded_at >= $2`

	var count int64
	if err := r.db.QueryRow(ctx, query, origin, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("ошибка подсчёта загрузок: %w", err)
	}
	return count, nil
}

func (r *fileRepo) ListPurgeable(ctx context.Context, now, uploadedBefore time.Time, maxAttempts int, oneShot bool, limit int) ([]uuid.UUID, error) {
	query := `
		SELECT f.id
		FROM files f
		WHERE f.uploaded_at < $1
		  AND (f.download_until < $2
		   OR (SELECT COUNT(*) FROM access_log a WHERE a.file_id = f.id) >= $3
		   OR ($4 AND EXISTS (SELECT 1 FROM access_log a WHERE a.file_id = f.id AND a.successful)))
		LIMIT $5`

	rows, err := r.db.Query(ctx, query, uploadedBefore, now, maxAttempts, oneShot, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка выборки файлов для уборки: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("ошибка сканирования id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *fileRepo) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM files WHERE id = $1)`

	var exists bool
	if err := r.db.QueryRow(ctx, query, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("ошибка проверки записи файла: %w", err)
	}
	return exists, nil
}

func (r *fileRepo) Delete(ctx context.Context, id uuid.UUID) error {
	query := `DELETE FROM files WHERE id = $1`

	if _, err := r.db.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("ошибка удаления записи файла: %w", err)
	}
	return nil
}
