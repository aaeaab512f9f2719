// Точка входа Seif Module — эфемерное zero-knowledge хранилище файлов.
// Загружает конфигурацию, подключается к PostgreSQL, применяет миграции,
// открывает blob-хранилище, создаёт сервисный слой и API handlers,
// запускает фоновые задачи (уборка, topologymetrics),
// HTTP-сервер с graceful shutdown.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/bigkaa/goseif/internal/api/handlers"
	"github.com/bigkaa/goseif/internal/config"
	"github.com/bigkaa/goseif/internal/database"
	"github.com/bigkaa/goseif/internal/repository"
	"github.com/bigkaa/goseif/internal/server"
	"github.com/bigkaa/goseif/internal/service"
	"github.com/bigkaa/goseif/internal/storage/blobstore"
)

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("Seif Module запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
	)

	// Предупреждение о дефолтном значении topologymetrics
	if cfg.DephealthEnabled && os.Getenv("SF_DEPHEALTH_GROUP") == "" {
		logger.Warn("SF_DEPHEALTH_GROUP не задана, используется значение по умолчанию",
			slog.String("default", cfg.DephealthGroup),
		)
	}

	// 3. Применение миграций БД
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg, logger); err != nil {
		logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. Подключение к PostgreSQL (pgxpool)
	ctx := context.Background()
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	// 4.1 Индекс одноразовой выдачи настраивается по политике SF_ONE_SHOT:
	// при включённой политике — страховка схемы «не более одного успеха на
	// файл», при выключенной индекс снимается, чтобы не мешать повторным
	// выдачам
	if err := database.EnsureOneShotGuard(ctx, pool, cfg.OneShot, logger); err != nil {
		logger.Error("Ошибка настройки индекса одноразовой выдачи", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4.2 Адаптер pgxpool → *sql.DB для topologymetrics (connection pool mode).
	// Проверка здоровья PostgreSQL будет идти через существующий пул соединений,
	// что позволяет обнаружить его исчерпание.
	pgDB := stdlib.OpenDBFromPool(pool)
	defer pgDB.Close()

	// 5. Blob-хранилище
	blobs, err := blobstore.New(cfg.DataDir)
	if err != nil {
		logger.Error("Ошибка открытия blob-хранилища",
			slog.String("data_dir", cfg.DataDir),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	logger.Info("Blob-хранилище открыто", slog.String("data_dir", cfg.DataDir))

	// 6. Repositories
	fileRepo := repository.NewFileRepository(pool)
	attempter := repository.NewAttempter(repository.NewTxRunner(pool))

	// 7. Services
	uploadSvc := service.NewUploadService(
		fileRepo, blobs,
		service.UploadPolicy{
			BodyMaxSize:      cfg.BodyMaxSize,
			Window:           cfg.UploadWindow,
			UploadsPerWindow: int64(cfg.UploadsPerWindow),
			FileLifetime:     cfg.FileLifetime,
		},
		logger,
	)
	downloadPolicy := service.DownloadPolicy{
		MaxAttempts: int64(cfg.MaxDownloadAttempts),
		OneShot:     cfg.OneShot,
	}
	downloadSvc := service.NewDownloadService(attempter, blobs, downloadPolicy, logger)

	// 8. Фоновая уборка: убирает то, что выдача уже никогда не отдаст
	sweepSvc := service.NewSweepService(fileRepo, blobs,
		service.SweepPolicy{
			Interval:     cfg.SweepInterval,
			UploadWindow: cfg.UploadWindow,
			FileLifetime: cfg.FileLifetime,
			Download:     downloadPolicy,
		},
		logger,
	)
	sweepSvc.Start(ctx)

	// 9. Readiness checker (PostgreSQL)
	pgChecker := database.NewReadinessChecker(pool)
	healthHandler := handlers.NewHealthHandler(pgChecker)

	// 10. API handler
	apiHandler := handlers.NewAPIHandler(healthHandler, uploadSvc, downloadSvc, logger)

	// 11. topologymetrics — мониторинг зависимостей (PostgreSQL)
	var dephealthSvc *service.DephealthService
	if cfg.DephealthEnabled {
		dephealthSvc, err = service.NewDephealthService(
			"seif",
			cfg.DephealthGroup,
			pgDB,
			cfg.DatabaseURL(),
			cfg.DephealthCheckInterval,
			logger,
		)
		if err != nil {
			logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
				slog.String("error", err.Error()),
			)
			dephealthSvc = nil
		} else {
			if startErr := dephealthSvc.Start(ctx); startErr != nil {
				logger.Warn("Ошибка запуска topologymetrics",
					slog.String("error", startErr.Error()),
				)
				dephealthSvc = nil
			} else {
				logger.Info("topologymetrics запущен",
					slog.String("group", cfg.DephealthGroup),
					slog.String("check_interval", cfg.DephealthCheckInterval.String()),
				)
			}
		}
	}

	// 12. Создание и запуск HTTP-сервера
	srv := server.New(cfg, logger, apiHandler)
	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 13. Graceful shutdown фоновых задач
	logger.Info("Останавливаем фоновые задачи...")

	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}
	sweepSvc.Stop()

	logger.Info("Seif Module остановлен")
}
