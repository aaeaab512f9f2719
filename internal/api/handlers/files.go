// files.go — обработчики приёма и выдачи файлов.
package handlers

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	apierrors "github.com/bigkaa/goseif/internal/api/errors"
	"github.com/bigkaa/goseif/internal/crypto"
	"github.com/bigkaa/goseif/internal/domain/model"
	"github.com/bigkaa/goseif/internal/service"
)

// uploadResponse — ответ на успешную загрузку.
// Поле key отдаётся ровно один раз и нигде не хранится.
type uploadResponse struct {
	ID  string `json:"id"`
	Key string `json:"key"`
}

// downloadRequest — тело запроса на скачивание.
type downloadRequest struct {
	Key string `json:"key"`
}

// Upload — POST /files. Принимает содержимое файла телом запроса,
// метаданные — заголовками X-Filename и Content-Type.
// Отвечает парой (id, key); без обоих значений скачивание невозможно.
func (h *APIHandler) Upload(w http.ResponseWriter, r *http.Request) {
	origin, ok := requestOrigin(r)
	if !ok {
		writeOriginError(w)
		return
	}

	meta := model.FileMetadata{
		Filename:    r.Header.Get("X-Filename"),
		ContentType: r.Header.Get("Content-Type"),
	}

	// Тело передаётся сервису потоком: лимит загрузок проверяется до чтения,
	// чтение ограничено бюджетом размера
	result, err := h.uploads.Upload(r.Context(), origin, r.Body, meta)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrUploadLimitReached):
			apierrors.TooManyRequests(w, "превышен лимит загрузок, попробуйте позже")
		case errors.Is(err, service.ErrBodyTooLarge):
			apierrors.PayloadTooLarge(w, "содержимое превышает допустимый размер")
		case errors.Is(err, service.ErrMetadataTooLarge):
			apierrors.MetadataTooLarge(w, "метаданные превышают допустимый размер")
		default:
			h.logger.Error("Ошибка приёма файла",
				slog.String("origin", origin),
				slog.String("error", err.Error()),
			)
			apierrors.InternalError(w, "внутренняя ошибка сервера")
		}
		return
	}

	writeJSON(w, http.StatusOK, uploadResponse{
		ID:  result.ID.String(),
		Key: base64.RawURLEncoding.EncodeToString(result.Key),
	})
}

// Download — POST /files/{id}/download. Тело — JSON {"key": "<base64url>"}.
// Успех — расшифрованное содержимое с Content-Type и Content-Disposition
// из расшифрованных метаданных.
//
// Некорректный id неотличим от несуществующего: ответ 404, как и для
// истёкших, исчерпанных и уже выданных файлов.
func (h *APIHandler) Download(w http.ResponseWriter, r *http.Request) {
	origin, ok := requestOrigin(r)
	if !ok {
		writeOriginError(w)
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		apierrors.NotFound(w, "файл недоступен")
		return
	}

	var req downloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "некорректное тело запроса")
		return
	}
	key, err := base64.RawURLEncoding.DecodeString(req.Key)
	if err != nil || len(key) != crypto.KeySize {
		// Ключ заведомо негодного формата не расходует попытку
		apierrors.ValidationError(w, "некорректный формат ключа")
		return
	}

	result, err := h.downloads.Download(r.Context(), id, key, origin)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNotDownloadable):
			apierrors.NotFound(w, "файл недоступен")
		case errors.Is(err, service.ErrKeyMismatch):
			apierrors.Unauthorized(w, "ключ не прошёл проверку")
		default:
			h.logger.Error("Ошибка выдачи файла",
				slog.String("file_id", id.String()),
				slog.String("origin", origin),
				slog.String("error", err.Error()),
			)
			apierrors.InternalError(w, "внутренняя ошибка сервера")
		}
		return
	}

	contentType := result.Metadata.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	if result.Metadata.Filename != "" {
		w.Header().Set("Content-Disposition",
			mime.FormatMediaType("attachment", map[string]string{"filename": result.Metadata.Filename}))
	}
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(result.Content)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Content)
}
