// Пакет config — загрузка и валидация конфигурации Seif Module
// из переменных окружения. Конфигурация неизменяема после старта
// и передаётся явно в конструкторы всех компонентов.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Config содержит все параметры конфигурации Seif Module.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- HTTP Server Timeouts ---

	// Таймаут чтения HTTP-сервера (по умолчанию 30s)
	HTTPReadTimeout time.Duration
	// Таймаут записи HTTP-сервера (по умолчанию 60s)
	HTTPWriteTimeout time.Duration
	// Таймаут простоя HTTP-сервера (по умолчанию 120s)
	HTTPIdleTimeout time.Duration

	// --- Graceful shutdown ---

	// Таймаут graceful shutdown (по умолчанию 5s)
	ShutdownTimeout time.Duration

	// --- PostgreSQL ---

	// Хост PostgreSQL
	DBHost string
	// Порт PostgreSQL
	DBPort int
	// Имя базы данных
	DBName string
	// Пользователь
	DBUser string
	// Пароль
	DBPassword string
	// Режим SSL (disable, require, verify-ca, verify-full)
	DBSSLMode string

	// --- Хранилище ---

	// Директория хранения blob-файлов
	DataDir string

	// --- Политика доступа ---

	// Максимальный размер тела загрузки в байтах
	BodyMaxSize int64
	// Длина скользящего окна лимита загрузок
	UploadWindow time.Duration
	// Максимум загрузок с одного адреса в пределах окна
	UploadsPerWindow int
	// Срок жизни файла с момента загрузки
	FileLifetime time.Duration
	// Максимальное количество попыток скачивания
	MaxDownloadAttempts int
	// Одноразовая выдача: успешное скачивание исчерпывает файл
	OneShot bool

	// --- Фоновая уборка ---

	// Интервал запуска уборки blob-файлов
	SweepInterval time.Duration

	// --- Dependency health ---

	// Включение мониторинга зависимостей (topologymetrics)
	DephealthEnabled bool
	// Имя группы в метриках dephealth
	DephealthGroup string
	// Интервал проверки зависимостей
	DephealthCheckInterval time.Duration
}

// Load загружает конфигурацию из переменных окружения.
// Возвращает ошибку, если обязательные переменные не заданы
// или значения некорректны.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	// SF_PORT — порт HTTP-сервера (по умолчанию 8040)
	cfg.Port, err = getEnvInt("SF_PORT", 8040)
	if err != nil {
		return nil, fmt.Errorf("SF_PORT: %w", err)
	}

	// SF_LOG_LEVEL — уровень логирования (по умолчанию info)
	logLevel := getEnvDefault("SF_LOG_LEVEL", "info")
	cfg.LogLevel, err = parseLogLevel(logLevel)
	if err != nil {
		return nil, fmt.Errorf("SF_LOG_LEVEL: %w", err)
	}

	// SF_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("SF_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("SF_LOG_FORMAT: недопустимый формат %q, допустимые: json, text", cfg.LogFormat)
	}

	// --- HTTP Server Timeouts ---

	cfg.HTTPReadTimeout, err = getEnvDuration("SF_HTTP_READ_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("SF_HTTP_READ_TIMEOUT: %w", err)
	}
	cfg.HTTPWriteTimeout, err = getEnvDuration("SF_HTTP_WRITE_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("SF_HTTP_WRITE_TIMEOUT: %w", err)
	}
	cfg.HTTPIdleTimeout, err = getEnvDuration("SF_HTTP_IDLE_TIMEOUT", 120*time.Second)
	if err != nil {
		return nil, fmt.Errorf("SF_HTTP_IDLE_TIMEOUT: %w", err)
	}

	// SF_SHUTDOWN_TIMEOUT — таймаут graceful shutdown (по умолчанию 5s)
	cfg.ShutdownTimeout, err = getEnvDuration("SF_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("SF_SHUTDOWN_TIMEOUT: %w", err)
	}

	// --- PostgreSQL ---

	// SF_DB_HOST — обязательный
	cfg.DBHost, err = getEnvRequired("SF_DB_HOST")
	if err != nil {
		return nil, err
	}

	// SF_DB_PORT — порт PostgreSQL (по умолчанию 5432)
	cfg.DBPort, err = getEnvInt("SF_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("SF_DB_PORT: %w", err)
	}

	// SF_DB_NAME — обязательный
	cfg.DBName, err = getEnvRequired("SF_DB_NAME")
	if err != nil {
		return nil, err
	}

	// SF_DB_USER — обязательный
	cfg.DBUser, err = getEnvRequired("SF_DB_USER")
	if err != nil {
		return nil, err
	}

	// SF_DB_PASSWORD — обязательный
	cfg.DBPassword, err = getEnvRequired("SF_DB_PASSWORD")
	if err != nil {
		return nil, err
	}

	// SF_DB_SSL_MODE — режим SSL (по умолчанию disable)
	cfg.DBSSLMode = getEnvDefault("SF_DB_SSL_MODE", "disable")
	validSSLModes := map[string]bool{
		"disable": true, "require": true, "verify-ca": true, "verify-full": true,
	}
	if !validSSLModes[cfg.DBSSLMode] {
		return nil, fmt.Errorf("SF_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}

	// --- Хранилище ---

	// SF_DATA_DIR — обязательный
	cfg.DataDir, err = getEnvRequired("SF_DATA_DIR")
	if err != nil {
		return nil, err
	}

	// --- Политика доступа ---

	// SF_BODY_MAX_SIZE — максимальный размер тела (по умолчанию 10 MiB)
	cfg.BodyMaxSize, err = getEnvInt64("SF_BODY_MAX_SIZE", 10*1024*1024)
	if err != nil {
		return nil, fmt.Errorf("SF_BODY_MAX_SIZE: %w", err)
	}
	if cfg.BodyMaxSize <= 0 {
		return nil, fmt.Errorf("SF_BODY_MAX_SIZE: значение должно быть > 0")
	}

	// SF_UPLOAD_WINDOW — скользящее окно лимита загрузок (по умолчанию 24h)
	cfg.UploadWindow, err = getEnvDuration("SF_UPLOAD_WINDOW", 24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("SF_UPLOAD_WINDOW: %w", err)
	}

	// SF_UPLOADS_PER_WINDOW — максимум загрузок с адреса в окне (по умолчанию 50)
	cfg.UploadsPerWindow, err = getEnvInt("SF_UPLOADS_PER_WINDOW", 50)
	if err != nil {
		return nil, fmt.Errorf("SF_UPLOADS_PER_WINDOW: %w", err)
	}
	if cfg.UploadsPerWindow < 1 {
		return nil, fmt.Errorf("SF_UPLOADS_PER_WINDOW: значение должно быть >= 1")
	}

	// SF_FILE_LIFETIME — срок жизни файла (по умолчанию 72h)
	cfg.FileLifetime, err = getEnvDuration("SF_FILE_LIFETIME", 72*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("SF_FILE_LIFETIME: %w", err)
	}

	// SF_MAX_DOWNLOAD_ATTEMPTS — лимит попыток скачивания (по умолчанию 3)
	cfg.MaxDownloadAttempts, err = getEnvInt("SF_MAX_DOWNLOAD_ATTEMPTS", 3)
	if err != nil {
		return nil, fmt.Errorf("SF_MAX_DOWNLOAD_ATTEMPTS: %w", err)
	}
	if cfg.MaxDownloadAttempts < 1 {
		return nil, fmt.Errorf("SF_MAX_DOWNLOAD_ATTEMPTS: значение должно быть >= 1")
	}

	// SF_ONE_SHOT — одноразовая выдача (по умолчанию true)
	cfg.OneShot, err = getEnvBool("SF_ONE_SHOT", true)
	if err != nil {
		return nil, fmt.Errorf("SF_ONE_SHOT: %w", err)
	}

	// --- Фоновая уборка ---

	// SF_SWEEP_INTERVAL — интервал уборки (по умолчанию 30m)
	cfg.SweepInterval, err = getEnvDuration("SF_SWEEP_INTERVAL", 30*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("SF_SWEEP_INTERVAL: %w", err)
	}

	// --- Dependency health ---

	cfg.DephealthEnabled, err = getEnvBool("SF_DEPHEALTH_ENABLED", true)
	if err != nil {
		return nil, fmt.Errorf("SF_DEPHEALTH_ENABLED: %w", err)
	}
	cfg.DephealthGroup = getEnvDefault("SF_DEPHEALTH_GROUP", "storage")
	cfg.DephealthCheckInterval, err = getEnvDuration("SF_DEPHEALTH_CHECK_INTERVAL", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("SF_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	return cfg, nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseURL возвращает URL подключения к PostgreSQL
// (используется для лейблов dephealth-метрик).
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvInt64 возвращает int64 из переменной окружения или значение по умолчанию.
func getEnvInt64(key string, defaultVal int64) (int64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// getEnvBool возвращает булево значение переменной окружения или значение по умолчанию.
func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное булево значение: %q (допустимые: true, false, 1, 0)", val)
	}
	return b, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
