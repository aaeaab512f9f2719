// Пакет errors — конструкторы стандартных ошибок в формате Seif.
// Единый формат: {"error": {"code": "...", "message": "..."}}.
// Все HTTP-ответы с ошибками должны использовать WriteError.
package errors

import (
	"encoding/json"
	"net/http"
)

// Машиночитаемые коды ошибок API.
const (
	CodeValidationError  = "VALIDATION_ERROR"
	CodeNotFound         = "NOT_FOUND"
	CodeUnauthorized     = "UNAUTHORIZED"
	CodeTooManyRequests  = "TOO_MANY_REQUESTS"
	CodePayloadTooLarge  = "PAYLOAD_TOO_LARGE"
	CodeMetadataTooLarge = "METADATA_TOO_LARGE"
	CodeOriginUnknown    = "ORIGIN_UNKNOWN"
	CodeInternalError    = "INTERNAL_ERROR"
)

// errorBody — структура тела ответа ошибки.
type errorBody struct {
	Error errorDetail `json:"error"`
}

// errorDetail — детали ошибки.
type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError записывает ответ ошибки в стандартном формате Seif.
// statusCode — HTTP статус-код, code — машиночитаемый код, message — описание.
func WriteError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorBody{
		Error: errorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// --- Конструкторы для типичных ошибок ---

// ValidationError — 400 некорректные входные данные.
func ValidationError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeValidationError, message)
}

// NotFound — 404 ресурс не найден.
// Единственный ответ на любой непригодный для скачивания файл:
// несуществующий, истёкший, исчерпавший попытки и уже выданный
// неразличимы снаружи.
func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, CodeNotFound, message)
}

// Unauthorized — 401 ключ не прошёл проверку.
func Unauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, CodeUnauthorized, message)
}

// TooManyRequests — 429 исчерпан лимит загрузок.
func TooManyRequests(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusTooManyRequests, CodeTooManyRequests, message)
}

// PayloadTooLarge — 413 содержимое превышает допустимый размер.
func PayloadTooLarge(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusRequestEntityTooLarge, CodePayloadTooLarge, message)
}

// MetadataTooLarge — 431 метаданные не укладываются в бюджет.
func MetadataTooLarge(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusRequestHeaderFieldsTooLarge, CodeMetadataTooLarge, message)
}

// OriginUnknown — 502 адрес источника запроса не определён.
// Сервис работает за обратным прокси; запрос без X-Forwarded-For
// означает ошибку конфигурации прокси.
func OriginUnknown(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadGateway, CodeOriginUnknown, message)
}

// InternalError — 500 внутренняя ошибка.
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeInternalError, message)
}
