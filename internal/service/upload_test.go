package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/goseif/internal/crypto"
	"github.com/bigkaa/goseif/internal/domain/model"
	"github.com/bigkaa/goseif/internal/repository"
	"github.com/bigkaa/goseif/internal/storage/blobstore"
)

// fakeFileRepo — репозиторий файлов в памяти для unit-тестов.
type fakeFileRepo struct {
	records     map[uuid.UUID]*model.FileRecord
	recentCount int64
	insertErr   error
	purgeable   []uuid.UUID
}

func newFakeFileRepo() *fakeFileRepo {
	return &fakeFileRepo{records: map[uuid.UUID]*model.FileRecord{}}
}

func (f *fakeFileRepo) Insert(_ context.Context, r *model.FileRecord) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	if _, ok := f.records[r.ID]; ok {
		return repository.ErrConflict
	}
	cp := *r
	f.records[r.ID] = &cp
	return nil
}

func (f *fakeFileRepo) GetForUpdate(_ context.Context, id uuid.UUID) (*model.FileRecord, error) {
	r, ok := f.records[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (f *fakeFileRepo) CountRecentUploads(context.Context, string, time.Time) (int64, error) {
	return f.recentCount, nil
}

func (f *fakeFileRepo) ListPurgeable(_ context.Context, _, uploadedBefore time.Time, _ int, _ bool, _ int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	for _, id := range f.purgeable {
		r, ok := f.records[id]
		if !ok || !r.UploadedAt.Before(uploadedBefore) {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (f *fakeFileRepo) Exists(_ context.Context, id uuid.UUID) (bool, error) {
	_, ok := f.records[id]
	return ok, nil
}

func (f *fakeFileRepo) Delete(_ context.Context, id uuid.UUID) error {
	delete(f.records, id)
	return nil
}

// fakeAttempter — Attempter в памяти: повторяет транзакционную семантику
// (ineligible не оставляет следа, ошибка decide откатывает попытку).
type fakeAttempter struct {
	files   *fakeFileRepo
	stats   map[uuid.UUID]repository.AttemptStats
	journal []model.AccessLogEntry
}

func newFakeAttempter(files *fakeFileRepo) *fakeAttempter {
	return &fakeAttempter{files: files, stats: map[uuid.UUID]repository.AttemptStats{}}
}

func (a *fakeAttempter) Attempt(ctx context.Context, fileID uuid.UUID, origin string, decide repository.DecideFunc) error {
	f, err := a.files.GetForUpdate(ctx, fileID)
	if err != nil {
		return err
	}

	outcome, err := decide(f, a.stats[fileID])
	if err != nil {
		return err
	}
	if outcome == repository.AttemptIneligible {
		return nil
	}

	st := a.stats[fileID]
	st.Total++
	if outcome == repository.AttemptSucceeded {
		st.Successes++
	}
	a.stats[fileID] = st

	a.journal = append(a.journal, model.AccessLogEntry{
		ID:          uuid.New(),
		FileID:      fileID,
		IP:          origin,
		AttemptedAt: time.Now().UTC(),
		Successful:  outcome == repository.AttemptSucceeded,
	})
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testUploadPolicy() UploadPolicy {
	return UploadPolicy{
		BodyMaxSize:      1 << 20,
		Window:           24 * time.Hour,
		UploadsPerWindow: 50,
		FileLifetime:     72 * time.Hour,
	}
}

func newTestBlobStore(t *testing.T) *blobstore.BlobStore {
	t.Helper()
	blobs, err := blobstore.New(t.TempDir())
	if err != nil {
		t.Fatalf("Не удалось создать blob store: %v", err)
	}
	return blobs
}

func TestUploadService_Upload(t *testing.T) {
	files := newFakeFileRepo()
	blobs := newTestBlobStore(t)
	svc := NewUploadService(files, blobs, testUploadPolicy(), testLogger())

	content := []byte("содержимое секретного файла")
	meta := model.FileMetadata{Filename: "report.pdf", ContentType: "application/pdf"}

	result, err := svc.Upload(context.Background(), "203.0.113.5", bytes.NewReader(content), meta)
	if err != nil {
		t.Fatalf("Upload вернул ошибку: %v", err)
	}
	if len(result.Key) != crypto.KeySize {
		t.Errorf("длина ключа = %d, ожидается %d", len(result.Key), crypto.KeySize)
	}

	record, ok := files.records[result.ID]
	if !ok {
		t.Fatal("Запись файла не сохранена")
	}

	// Ключ нигде не хранится: в записи только дайджест, которым ключ проверяется
	if !strings.HasPrefix(record.KeyDigest, "$argon2id$") {
		t.Errorf("KeyDigest не в формате PHC: %q", record.KeyDigest)
	}
	if ok, err := crypto.Verify(result.Key, record.KeyDigest); err != nil || !ok {
		t.Errorf("Ключ не проходит проверку по дайджесту: ok=%v, err=%v", ok, err)
	}

	// Блоб опубликован и зашифрован
	ciphertext, err := blobs.Load(result.ID)
	if err != nil {
		t.Fatalf("Блоб не опубликован: %v", err)
	}
	if strings.Contains(string(ciphertext), string(content)) {
		t.Error("Содержимое лежит на диске открытым текстом")
	}
	plaintext, err := crypto.Decrypt(ciphertext, result.Key)
	if err != nil {
		t.Fatalf("Блоб не расшифровывается выданным ключом: %v", err)
	}
	if string(plaintext) != string(content) {
		t.Error("Расшифрованное содержимое не совпадает с исходным")
	}

	// Метаданные тоже только шифротекстом
	if strings.Contains(string(record.EncryptedMetadata), "report.pdf") {
		t.Error("Метаданные лежат в базе открытым текстом")
	}
	if !record.DownloadUntil.After(record.UploadedAt) {
		t.Error("DownloadUntil не позже UploadedAt")
	}
}

func TestUploadService_FreshKeyPerUpload(t *testing.T) {
	files := newFakeFileRepo()
	svc := NewUploadService(files, newTestBlobStore(t), testUploadPolicy(), testLogger())

	r1, err := svc.Upload(context.Background(), "203.0.113.5", strings.NewReader("раз"), model.FileMetadata{})
	if err != nil {
		t.Fatalf("Upload вернул ошибку: %v", err)
	}
	r2, err := svc.Upload(context.Background(), "203.0.113.5", strings.NewReader("раз"), model.FileMetadata{})
	if err != nil {
		t.Fatalf("Upload вернул ошибку: %v", err)
	}

	if r1.ID == r2.ID {
		t.Error("Два файла получили один id")
	}
	if string(r1.Key) == string(r2.Key) {
		t.Error("Два файла получили один ключ")
	}
}

func TestUploadService_RateLimit(t *testing.T) {
	files := newFakeFileRepo()
	files.recentCount = 50
	svc := NewUploadService(files, newTestBlobStore(t), testUploadPolicy(), testLogger())

	_, err := svc.Upload(context.Background(), "203.0.113.5", strings.NewReader("x"), model.FileMetadata{})
	if !errors.Is(err, ErrUploadLimitReached) {
		t.Errorf("ожидается ErrUploadLimitReached, получено: %v", err)
	}
	if len(files.records) != 0 {
		t.Error("Запись сохранена несмотря на исчерпанный лимит")
	}
}

func TestUploadService_RateLimitCheckedBeforeSize(t *testing.T) {
	// Отправителю с исчерпанным лимитом отвечаем отказом по лимиту,
	// даже если тело заодно превышает максимальный размер
	files := newFakeFileRepo()
	files.recentCount = 50
	policy := testUploadPolicy()
	policy.BodyMaxSize = 16
	svc := NewUploadService(files, newTestBlobStore(t), policy, testLogger())

	_, err := svc.Upload(context.Background(), "203.0.113.5", bytes.NewReader(make([]byte, 17)), model.FileMetadata{})
	if !errors.Is(err, ErrUploadLimitReached) {
		t.Errorf("ожидается ErrUploadLimitReached, получено: %v", err)
	}
}

func TestUploadService_BodyTooLarge(t *testing.T) {
	policy := testUploadPolicy()
	policy.BodyMaxSize = 16
	svc := NewUploadService(newFakeFileRepo(), newTestBlobStore(t), policy, testLogger())

	_, err := svc.Upload(context.Background(), "203.0.113.5", bytes.NewReader(make([]byte, 17)), model.FileMetadata{})
	if !errors.Is(err, ErrBodyTooLarge) {
		t.Errorf("ожидается ErrBodyTooLarge, получено: %v", err)
	}
}

func TestUploadService_MetadataTooLarge(t *testing.T) {
	svc := NewUploadService(newFakeFileRepo(), newTestBlobStore(t), testUploadPolicy(), testLogger())

	meta := model.FileMetadata{Filename: strings.Repeat("a", 300) + ".bin"}
	_, err := svc.Upload(context.Background(), "203.0.113.5", strings.NewReader("x"), meta)
	if !errors.Is(err, ErrMetadataTooLarge) {
		t.Errorf("ожидается ErrMetadataTooLarge, получено: %v", err)
	}
}

func TestUploadService_InsertFailureCleansBlob(t *testing.T) {
	files := newFakeFileRepo()
	files.insertErr = errors.New("база недоступна")
	blobs := newTestBlobStore(t)
	svc := NewUploadService(files, blobs, testUploadPolicy(), testLogger())

	_, err := svc.Upload(context.Background(), "203.0.113.5", strings.NewReader("x"), model.FileMetadata{})
	if err == nil {
		t.Fatal("Ожидалась ошибка вставки")
	}

	// Блоб без записи в базе не должен остаться на диске
	entries, err := os.ReadDir(blobs.DataDir())
	if err != nil {
		t.Fatalf("Не удалось прочитать каталог данных: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("В каталоге данных остались файлы: %d", len(entries))
	}
}
