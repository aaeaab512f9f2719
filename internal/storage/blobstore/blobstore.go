// Пакет blobstore — хранение шифротекста на диске, адресация по UUID файла.
// Запись durable: temp файл → fsync → атомарный rename, поэтому
// полузаписанный blob никогда не виден под финальным именем.
// Blob неизменяем после записи; операций обновления и частичного чтения нет.
package blobstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// blobExt — расширение файлов blob в dataDir.
const blobExt = ".enc"

// ErrNotFound — blob с указанным id отсутствует на диске.
var ErrNotFound = errors.New("blob не найден")

// BlobStore — управление файлами шифротекста на диске.
type BlobStore struct {
	// dataDir — корневая директория хранения (SF_DATA_DIR)
	dataDir string
}

// New создаёт BlobStore. Создаёт директорию данных, если её нет.
func New(dataDir string) (*BlobStore, error) {
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию данных %s: %w", dataDir, err)
	}
	return &BlobStore{dataDir: dataDir}, nil
}

// Save записывает шифротекст под id.
// Паттерн: temp файл → запись → fsync → atomic rename.
// При ошибке temp файл удаляется.
func (bs *BlobStore) Save(id uuid.UUID, ciphertext []byte) error {
	fullPath := bs.path(id)
	tmpPath := fullPath + ".tmp"

	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o640)
	if err != nil {
		return fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	if _, err := f.Write(ciphertext); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка записи данных: %w", err)
	}

	// fsync для гарантии записи на диск до публикации
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return nil
}

// Load читает шифротекст blob по id.
// Возвращает ErrNotFound, если blob отсутствует.
func (bs *BlobStore) Load(id uuid.UUID) ([]byte, error) {
	data, err := os.ReadFile(bs.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("ошибка чтения blob %s: %w", id, err)
	}
	return data, nil
}

// Delete удаляет blob с диска. Возвращает nil, если blob уже не существует.
func (bs *BlobStore) Delete(id uuid.UUID) error {
	err := os.Remove(bs.path(id))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ошибка удаления blob %s: %w", id, err)
	}
	return nil
}

// Exists проверяет наличие blob на диске.
func (bs *BlobStore) Exists(id uuid.UUID) bool {
	_, err := os.Stat(bs.path(id))
	return err == nil
}

// SweepTemp удаляет осиротевшие temp файлы, оставшиеся после сбоев записи.
// Убираются только файлы старше maxAge: свежий temp файл может принадлежать
// публикации, идущей прямо сейчас. Возвращает количество удалённых файлов.
func (bs *BlobStore) SweepTemp(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(bs.dataDir)
	if err != nil {
		return 0, fmt.Errorf("ошибка чтения директории данных: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".tmp") {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(bs.dataDir, entry.Name())); err == nil {
			removed++
		}
	}
	return removed, nil
}

// ListOlderThan возвращает id опубликованных blob, записанных до cutoff.
// Используется уборщиком для поиска осиротевших blob: файл опубликован,
// но запись в базе так и не появилась (сбой между rename и вставкой).
func (bs *BlobStore) ListOlderThan(cutoff time.Time) ([]uuid.UUID, error) {
	entries, err := os.ReadDir(bs.dataDir)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения директории данных: %w", err)
	}

	var ids []uuid.UUID
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), blobExt) {
			continue
		}
		id, err := uuid.Parse(strings.TrimSuffix(entry.Name(), blobExt))
		if err != nil {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// DataDir возвращает путь к директории данных.
func (bs *BlobStore) DataDir() string {
	return bs.dataDir
}

// path возвращает абсолютный путь blob для id.
func (bs *BlobStore) path(id uuid.UUID) string {
	return filepath.Join(bs.dataDir, id.String()+blobExt)
}
