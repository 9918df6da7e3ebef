// Package referral — service.go: обход дерева в ширину.
package referral

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/invest-engine/internal/metrics"
)

// Source: откуда обходчик берёт рёбра и участников.
type Source interface {
	Children(ctx context.Context, referrerIDs []int64) ([]Edge, error)
	Members(ctx context.Context, ids []int64) (map[int64]Member, error)
}

// Aggregator собирает команду аккаунта по уровням.
// Только чтение: ничего не пишет и не кэширует между вызовами.
type Aggregator struct {
	source   Source
	maxDepth int
}

// NewAggregator создаёт обходчик. maxDepth <= 0 означает DefaultMaxDepth.
func NewAggregator(source Source, maxDepth int) *Aggregator {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &Aggregator{source: source, maxDepth: maxDepth}
}

// GetTeam возвращает непустые уровни 1..N команды rootID.
//
// Уровень k: аккаунты, приглашённые кем-то с уровня k-1. Обход останавливается
// на первом пустом уровне или на maxDepth. Каждый аккаунт читается один раз:
// повторно встреченные id (цикл в данных) отбрасываются. Ребро на удалённый
// аккаунт пропускается с предупреждением в логе.
func (a *Aggregator) GetTeam(ctx context.Context, rootID int64) ([]Level, error) {
	visited := map[int64]struct{}{rootID: {}}
	frontier := []int64{rootID}
	var levels []Level

	for depth := 1; depth <= a.maxDepth && len(frontier) > 0; depth++ {
		edges, err := a.source.Children(ctx, frontier)
		if err != nil {
			return nil, fmt.Errorf("уровень %d: %w", depth, err)
		}

		ids := make([]int64, 0, len(edges))
		for _, e := range edges {
			if _, seen := visited[e.ReferredID]; seen {
				continue
			}
			visited[e.ReferredID] = struct{}{}
			ids = append(ids, e.ReferredID)
		}
		if len(ids) == 0 {
			break
		}

		members, err := a.source.Members(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("уровень %d: %w", depth, err)
		}

		level := Level{Number: depth, Members: make([]Member, 0, len(ids))}
		next := make([]int64, 0, len(ids))
		for _, id := range ids {
			m, ok := members[id]
			if !ok {
				metrics.TeamWalkSkippedTotal.Inc()
				log.WithFields(log.Fields{
					"component":  "team",
					"user_id":    rootID,
					"level":      depth,
					"missing_id": id,
				}).Warn("Реферал ссылается на несуществующий аккаунт, пропускаем")
				continue
			}
			level.Members = append(level.Members, m)
			next = append(next, id)
		}
		if len(level.Members) == 0 {
			break
		}

		levels = append(levels, level)
		frontier = next
	}

	metrics.TeamWalkDepth.Observe(float64(len(levels)))
	return levels, nil
}
