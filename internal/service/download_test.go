package service

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/goseif/internal/domain/model"
	"github.com/bigkaa/goseif/internal/storage/blobstore"
)

func testDownloadPolicy() DownloadPolicy {
	return DownloadPolicy{MaxAttempts: 3, OneShot: true}
}

// uploadTestFile загружает файл через UploadService и возвращает id и ключ.
func uploadTestFile(t *testing.T, files *fakeFileRepo, blobs *blobstore.BlobStore, content []byte, meta model.FileMetadata) (uuid.UUID, []byte) {
	t.Helper()
	svc := NewUploadService(files, blobs, testUploadPolicy(), testLogger())
	result, err := svc.Upload(context.Background(), "203.0.113.5", bytes.NewReader(content), meta)
	if err != nil {
		t.Fatalf("Upload вернул ошибку: %v", err)
	}
	return result.ID, result.Key
}

func TestDownloadService_RoundTrip(t *testing.T) {
	files := newFakeFileRepo()
	blobs := newTestBlobStore(t)
	attempts := newFakeAttempter(files)

	content := []byte("очень секретный отчёт")
	meta := model.FileMetadata{Filename: "report.pdf", ContentType: "application/pdf"}
	id, key := uploadTestFile(t, files, blobs, content, meta)

	svc := NewDownloadService(attempts, blobs, testDownloadPolicy(), testLogger())

	result, err := svc.Download(context.Background(), id, key, "198.51.100.7")
	if err != nil {
		t.Fatalf("Download вернул ошибку: %v", err)
	}
	if string(result.Content) != string(content) {
		t.Error("Содержимое не совпадает с загруженным")
	}
	if result.Metadata != meta {
		t.Errorf("Метаданные = %+v, ожидается %+v", result.Metadata, meta)
	}

	// Успешная попытка записана в журнал
	if len(attempts.journal) != 1 || !attempts.journal[0].Successful {
		t.Errorf("Журнал после успеха: %+v", attempts.journal)
	}
}

func TestDownloadService_WrongKey(t *testing.T) {
	files := newFakeFileRepo()
	blobs := newTestBlobStore(t)
	attempts := newFakeAttempter(files)

	id, key := uploadTestFile(t, files, blobs, []byte("секрет"), model.FileMetadata{})

	wrong := make([]byte, len(key))
	copy(wrong, key)
	wrong[0] ^= 0xff

	svc := NewDownloadService(attempts, blobs, testDownloadPolicy(), testLogger())

	_, err := svc.Download(context.Background(), id, wrong, "198.51.100.7")
	if !errors.Is(err, ErrKeyMismatch) {
		t.Fatalf("ожидается ErrKeyMismatch, получено: %v", err)
	}

	// Неверный ключ расходует попытку
	if st := attempts.stats[id]; st.Total != 1 || st.Successes != 0 {
		t.Errorf("stats = %+v, ожидается Total=1 Successes=0", st)
	}

	// Верный ключ после неудачной попытки всё ещё работает
	if _, err := svc.Download(context.Background(), id, key, "198.51.100.7"); err != nil {
		t.Errorf("Download с верным ключом вернул ошибку: %v", err)
	}
}

func TestDownloadService_AttemptsExhausted(t *testing.T) {
	files := newFakeFileRepo()
	blobs := newTestBlobStore(t)
	attempts := newFakeAttempter(files)

	id, key := uploadTestFile(t, files, blobs, []byte("секрет"), model.FileMetadata{})

	wrong := make([]byte, len(key))
	copy(wrong, key)
	wrong[0] ^= 0xff

	svc := NewDownloadService(attempts, blobs, testDownloadPolicy(), testLogger())

	for i := 0; i < 3; i++ {
		if _, err := svc.Download(context.Background(), id, wrong, "198.51.100.7"); !errors.Is(err, ErrKeyMismatch) {
			t.Fatalf("попытка %d: ожидается ErrKeyMismatch, получено: %v", i, err)
		}
	}

	// Предел исчерпан: даже верный ключ больше не выдаёт файл,
	// и попытка не оставляет следа в журнале
	_, err := svc.Download(context.Background(), id, key, "198.51.100.7")
	if !errors.Is(err, ErrNotDownloadable) {
		t.Fatalf("ожидается ErrNotDownloadable, получено: %v", err)
	}
	if st := attempts.stats[id]; st.Total != 3 {
		t.Errorf("stats.Total = %d, ожидается 3", st.Total)
	}
}

func TestDownloadService_Expired(t *testing.T) {
	files := newFakeFileRepo()
	blobs := newTestBlobStore(t)
	attempts := newFakeAttempter(files)

	id, key := uploadTestFile(t, files, blobs, []byte("секрет"), model.FileMetadata{})
	files.records[id].DownloadUntil = time.Now().UTC().Add(-time.Minute)

	svc := NewDownloadService(attempts, blobs, testDownloadPolicy(), testLogger())

	_, err := svc.Download(context.Background(), id, key, "198.51.100.7")
	if !errors.Is(err, ErrNotDownloadable) {
		t.Fatalf("ожидается ErrNotDownloadable, получено: %v", err)
	}
	if st := attempts.stats[id]; st.Total != 0 {
		t.Errorf("Истёкший файл оставил след в журнале: %+v", st)
	}
}

func TestDownloadService_OneShot(t *testing.T) {
	files := newFakeFileRepo()
	blobs := newTestBlobStore(t)
	attempts := newFakeAttempter(files)

	id, key := uploadTestFile(t, files, blobs, []byte("секрет"), model.FileMetadata{})

	svc := NewDownloadService(attempts, blobs, testDownloadPolicy(), testLogger())

	if _, err := svc.Download(context.Background(), id, key, "198.51.100.7"); err != nil {
		t.Fatalf("Первое скачивание вернуло ошибку: %v", err)
	}

	// Файл уже выдан: повторное скачивание с верным ключом отклоняется
	_, err := svc.Download(context.Background(), id, key, "198.51.100.7")
	if !errors.Is(err, ErrNotDownloadable) {
		t.Fatalf("ожидается ErrNotDownloadable, получено: %v", err)
	}
}

func TestDownloadService_OneShotDisabled(t *testing.T) {
	files := newFakeFileRepo()
	blobs := newTestBlobStore(t)
	attempts := newFakeAttempter(files)

	id, key := uploadTestFile(t, files, blobs, []byte("секрет"), model.FileMetadata{})

	svc := NewDownloadService(attempts, blobs, DownloadPolicy{MaxAttempts: 10, OneShot: false}, testLogger())

	for i := 0; i < 3; i++ {
		if _, err := svc.Download(context.Background(), id, key, "198.51.100.7"); err != nil {
			t.Fatalf("скачивание %d вернуло ошибку: %v", i, err)
		}
	}
}

func TestDownloadService_UnknownFile(t *testing.T) {
	files := newFakeFileRepo()
	blobs := newTestBlobStore(t)
	attempts := newFakeAttempter(files)

	svc := NewDownloadService(attempts, blobs, testDownloadPolicy(), testLogger())

	_, err := svc.Download(context.Background(), uuid.New(), make([]byte, 32), "198.51.100.7")
	if !errors.Is(err, ErrNotDownloadable) {
		t.Fatalf("ожидается ErrNotDownloadable, получено: %v", err)
	}
	if len(attempts.journal) != 0 {
		t.Error("Попытка по несуществующему файлу оставила след в журнале")
	}
}

func TestDownloadService_MissingBlobRollsBack(t *testing.T) {
	files := newFakeFileRepo()
	blobs := newTestBlobStore(t)
	attempts := newFakeAttempter(files)

	id, key := uploadTestFile(t, files, blobs, []byte("секрет"), model.FileMetadata{})
	if err := blobs.Delete(id); err != nil {
		t.Fatalf("Не удалось удалить блоб: %v", err)
	}

	svc := NewDownloadService(attempts, blobs, testDownloadPolicy(), testLogger())

	_, err := svc.Download(context.Background(), id, key, "198.51.100.7")
	if err == nil || errors.Is(err, ErrNotDownloadable) || errors.Is(err, ErrKeyMismatch) {
		t.Fatalf("ожидается внутренняя ошибка, получено: %v", err)
	}

	// Внутренняя ошибка не расходует попытку
	if st := attempts.stats[id]; st.Total != 0 {
		t.Errorf("Внутренняя ошибка оставила след в журнале: %+v", st)
	}
}
