package notify

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/invest-engine/internal/metrics"
)

// Throttle ограничивает число предупреждений (KindAdvisory) на аккаунт.
// Использует алгоритм скользящего окна. Остальные события проходят без ограничений:
// переход активации и выплата случаются редко и терять их нельзя.
type Throttle struct {
	next   Notifier
	clock  clockwork.Clock
	limit  int
	window time.Duration

	mu       sync.Mutex
	requests map[int64][]time.Time
}

func NewThrottle(next Notifier, clock clockwork.Clock, limit int, window time.Duration) *Throttle {
	return &Throttle{
		next:     next,
		clock:    clock,
		limit:    limit,
		window:   window,
		requests: make(map[int64][]time.Time),
	}
}

func (t *Throttle) Notify(ctx context.Context, ev Event) error {
	if ev.Kind == KindAdvisory && !t.allow(ev.UserID) {
		metrics.NotificationsTotal.WithLabelValues("throttle", "dropped").Inc()
		log.WithField("user_id", ev.UserID).Debug("Предупреждение подавлено: лимит на окно исчерпан")
		return nil
	}
	return t.next.Notify(ctx, ev)
}

func (t *Throttle) allow(userID int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	cutoff := now.Add(-t.window)

	var recent []time.Time
	for _, ts := range t.requests[userID] {
		if ts.After(cutoff) {
			recent = append(recent, ts)
		}
	}

	if len(recent) >= t.limit {
		t.requests[userID] = recent
		return false
	}

	t.requests[userID] = append(recent, now)
	return true
}

// Cleanup удаляет устаревшие окна. Вызывается по расписанию.
func (t *Throttle) Cleanup() {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := t.clock.Now().Add(-t.window)
	for userID, times := range t.requests {
		var recent []time.Time
		for _, ts := range times {
			if ts.After(cutoff) {
				recent = append(recent, ts)
			}
		}
		if len(recent) == 0 {
			delete(t.requests, userID)
		} else {
			t.requests[userID] = recent
		}
	}
}
