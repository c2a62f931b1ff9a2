// Package cache хранит счётчики записей по статусам для срезов фильтра.
// Ключ — FilterCriteria.BaseKey(): статус и пагинация на счётчики не влияют.
package cache

import (
	"context"

	"github.com/vladislavdragonenkov/backorders/internal/domain"
)

// StatusCountCache: кэш счётчиков по вкладкам. Ошибки бэкенда не пробрасываются:
// промах кэша означает запрос в хранилище.
type StatusCountCache interface {
	Get(ctx context.Context, key string) (domain.StatusCounts, bool)
	Set(ctx context.Context, key string, counts domain.StatusCounts)
	// Invalidate сбрасывает все ключи (после изменения любой записи).
	Invalidate(ctx context.Context)
}

// Noop ничего не хранит.
type Noop struct{}

func (Noop) Get(context.Context, string) (domain.StatusCounts, bool) { return nil, false }
func (Noop) Set(context.Context, string, domain.StatusCounts)        {}
func (Noop) Invalidate(context.Context)                             {}

var _ StatusCountCache = Noop{}
