package listing

import (
	"context"
	"time"

	"github.com/vladislavdragonenkov/backorders/internal/domain"
)

// refreshCountsLocked пересчитывает счётчики, только если изменились нестатусные критерии.
func (p *Paginator) refreshCountsLocked(criteria domain.FilterCriteria) {
	key := criteria.BaseKey()
	if key == p.countsKey && (p.state.StatusCounts != nil || p.state.CountsErr == nil) {
		return
	}

	p.countsKey = key
	p.countsSeq++
	p.state.StatusCounts = nil
	p.state.CountsErr = nil

	if counts, ok := p.countFromWindowLocked(criteria); ok {
		p.state.StatusCounts = counts
		return
	}

	seq := p.countsSeq
	p.bg.Add(1)
	go p.loadCounts(criteria.WithStatus(""), key, seq)
}

// countFromWindowLocked считает вкладки по окну, загруженному без фильтра статуса.
func (p *Paginator) countFromWindowLocked(criteria domain.FilterCriteria) (domain.StatusCounts, bool) {
	base := criteria.WithStatus("")
	if p.window == nil || p.window.criteria.Status != "" || !p.window.criteria.Covers(base) {
		return nil, false
	}
	counts := domain.NewStatusCounts()
	for _, item := range p.window.items {
		if base.Matches(item.Record, item.RecordNames) {
			counts[item.Status]++
		}
	}
	return counts, true
}

func (p *Paginator) resetCountsLocked() {
	if p.countsKey != "" {
		p.flight.Forget(p.countsKey)
	}
	p.countsKey = ""
	p.countsSeq++
}

func (p *Paginator) loadCounts(criteria domain.FilterCriteria, key string, seq uint64) {
	defer p.bg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), p.countsTimeout)
	defer cancel()

	counts, hit := p.counts.Get(ctx, key)
	p.metrics.RecordCountsCache(hit)

	var err error
	if !hit {
		var v any
		v, err, _ = p.flight.Do(key, func() (any, error) {
			start := time.Now()
			result, err := p.querier.CountByStatus(ctx, criteria)
			p.metrics.RecordQuery("count_by_status", time.Since(start), err)
			if err != nil {
				return nil, err
			}
			p.storeCounts(ctx, key, seq, result)
			return result, nil
		})
		if err == nil {
			counts = v.(domain.StatusCounts).Clone()
		}
	}

	p.mu.Lock()
	if p.closed || seq != p.countsSeq {
		p.mu.Unlock()
		return
	}
	if err != nil {
		if !domain.IsQuery(err) {
			err = domain.NewQueryError("count_by_status", criteria, err)
		}
		p.state.CountsErr = err
		p.logger.WithError(err).Warn("status counts failed")
	} else {
		p.state.StatusCounts = counts
	}
	p.touchLocked()
	snap := p.snapshotLocked()
	p.mu.Unlock()
	p.emit(snap)
}

// storeCounts кладёт результат в кэш, только если с начала подсчёта не было Invalidate или Reload:
// иначе подсчёт мог не увидеть изменение и пережил бы его в кэше.
func (p *Paginator) storeCounts(ctx context.Context, key string, seq uint64, counts domain.StatusCounts) {
	p.cacheMu.Lock()
	defer p.cacheMu.Unlock()

	p.mu.Lock()
	current := !p.closed && seq == p.countsSeq
	p.mu.Unlock()
	if !current {
		p.logger.WithField("key", key).Debug("status counts outdated, cache not updated")
		return
	}
	p.counts.Set(ctx, key, counts)
}
