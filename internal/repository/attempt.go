// attempt.go — атомарная попытка скачивания.
//
// Проверка права на скачивание и запись в журнал попыток должны составлять
// единое целое: два конкурентных запроса с верным ключом не должны оба
// пройти проверку до того, как один из них зафиксирует попытку. Блокировка
// строки файла (SELECT ... FOR UPDATE) сериализует попытки по одному id,
// а запись журнала выполняется в той же транзакции.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/goseif/internal/domain/model"
)

// AttemptOutcome — решение по попытке скачивания.
type AttemptOutcome int

const (
	// AttemptIneligible — файл не подлежит скачиванию (истёк, исчерпан,
	// уже выдан). Запись в журнал не делается.
	AttemptIneligible AttemptOutcome = iota
	// AttemptRejected — ключ не прошёл проверку. Журнал: successful = false.
	AttemptRejected
	// AttemptSucceeded — содержимое выдано. Журнал: successful = true.
	AttemptSucceeded
)

// DecideFunc принимает запись файла и сводку журнала под блокировкой строки
// и выносит решение по попытке. Ошибка решения откатывает транзакцию целиком.
type DecideFunc func(f *model.FileRecord, stats AttemptStats) (AttemptOutcome, error)

// Attempter выполняет атомарную попытку скачивания файла.
type Attempter interface {
	// Attempt блокирует запись файла, собирает сводку журнала, вызывает
	// decide и фиксирует продиктованную им запись журнала — всё в одной
	// транзакции. Отсутствующий файл — ErrNotFound.
	Attempt(ctx context.Context, fileID uuid.UUID, origin string, decide DecideFunc) error
}

// attemptRepo — реализация Attempter поверх TxRunner.
type attemptRepo struct {
	tx *TxRunner
}

// NewAttempter создаёт Attempter.
func NewAttempter(tx *TxRunner) Attempter {
	return &attemptRepo{tx: tx}
}

func (r *attemptRepo) Attempt(ctx context.Context, fileID uuid.UUID, origin string, decide DecideFunc) error {
	return r.tx.RunInTx(ctx, func(tx pgx.Tx) error {
		files := NewFileRepository(tx)
		journal := NewAccessLogRepository(tx)

		f, err := files.GetForUpdate(ctx, fileID)
		if err != nil {
			return err
		}

		stats, err := journal.StatsByFile(ctx, fileID)
		if err != nil {
			return err
		}

		outcome, err := decide(f, stats)
		if err != nil {
			return err
		}
		if outcome == AttemptIneligible {
			return nil
		}

		err = journal.Insert(ctx, &model.AccessLogEntry{
			ID:          uuid.New(),
			FileID:      fileID,
			IP:          origin,
			AttemptedAt: time.Now().UTC(),
			Successful:  outcome == AttemptSucceeded,
		})
		if err != nil {
			// Страховочный индекс одноразовой выдачи: конкурентная успешная
			// попытка успела первой, файл уже выдан
			if outcome == AttemptSucceeded && errors.Is(err, ErrConflict) {
				return ErrNotFound
			}
			return err
		}
		return nil
	})
}
