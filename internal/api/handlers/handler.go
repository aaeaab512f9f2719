// handler.go — основной обработчик API Seif Module.
// Объединяет доменные обработчики и делегирует запросы в сервисный слой.
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	apierrors "github.com/bigkaa/goseif/internal/api/errors"
	"github.com/bigkaa/goseif/internal/service"
)

// APIHandler — основной обработчик API Seif Module.
type APIHandler struct {
	health    *HealthHandler
	uploads   *service.UploadService
	downloads *service.DownloadService
	logger    *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
func NewAPIHandler(
	health *HealthHandler,
	uploads *service.UploadService,
	downloads *service.DownloadService,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		health:    health,
		uploads:   uploads,
		downloads: downloads,
		logger:    logger.With(slog.String("component", "api_handler")),
	}
}

// HealthLive — liveness probe (делегируется в HealthHandler).
func (h *APIHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	h.health.HealthLive(w, r)
}

// HealthReady — readiness probe (делегируется в HealthHandler).
func (h *APIHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	h.health.HealthReady(w, r)
}

// GetMetrics — Prometheus метрики (делегируется в HealthHandler).
func (h *APIHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.health.GetMetrics(w, r)
}

// --- Вспомогательные функции ---

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// requestOrigin извлекает адрес источника запроса из X-Forwarded-For.
// Сервис работает только за обратным прокси, поэтому отсутствие заголовка —
// ошибка конфигурации окружения, а не клиента. При цепочке адресов
// берётся первый: адрес исходного клиента.
func requestOrigin(r *http.Request) (string, bool) {
	forwarded := r.Header.Get("X-Forwarded-For")
	if forwarded == "" {
		return "", false
	}
	origin := strings.TrimSpace(strings.Split(forwarded, ",")[0])
	if origin == "" {
		return "", false
	}
	return origin, true
}

// writeOriginError отвечает 502 на запрос без определимого источника.
func writeOriginError(w http.ResponseWriter) {
	apierrors.OriginUnknown(w, "адрес источника запроса не определён")
}
