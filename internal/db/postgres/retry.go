package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/invest-engine/internal/common"
	"serotonyl.ru/invest-engine/internal/config"
	"serotonyl.ru/invest-engine/internal/metrics"
)

// RetryConfig: параметры повторов для временных ошибок и конфликтов сериализации.
type RetryConfig struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// DefaultRetryConfig возвращает параметры повторов по умолчанию.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 4,
		BaseBackoff: 100 * time.Millisecond,
		MaxBackoff:  2 * time.Second,
	}
}

// RetryConfigFrom собирает параметры повторов из конфигурации приложения.
// Незаданные (нулевые) поля берутся из DefaultRetryConfig.
func RetryConfigFrom(cfg *config.Config) RetryConfig {
	return RetryConfig{
		MaxAttempts: cfg.StoreRetryAttempts,
		BaseBackoff: cfg.StoreRetryBase,
		MaxBackoff:  cfg.StoreRetryMax,
	}.withDefaults()
}

func (c RetryConfig) withDefaults() RetryConfig {
	def := DefaultRetryConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = def.BaseBackoff
	}
	if c.MaxBackoff < c.BaseBackoff {
		c.MaxBackoff = max(def.MaxBackoff, c.BaseBackoff)
	}
	return c
}

// Retry выполняет fn, повторяя её при ErrTransient и ErrConflict
// с экспоненциальной паузой и джиттером. Ошибки прав доступа и
// остальные ошибки возвращаются сразу, без повторов.
func Retry(ctx context.Context, cfg RetryConfig, op string, fn func() error) error {
	cfg = cfg.withDefaults()
	var lastErr error

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			backoff := calculateBackoff(cfg.BaseBackoff, cfg.MaxBackoff, attempt-1)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		lastErr = Classify(fn())
		if lastErr == nil {
			return nil
		}
		if !IsRetryable(lastErr) {
			return lastErr
		}

		metrics.StoreRetries.WithLabelValues(op).Inc()
		log.WithFields(log.Fields{
			"component": "store",
			"op":        op,
			"attempt":   attempt,
		}).WithError(lastErr).Debug("Повтор операции с БД")
	}

	return fmt.Errorf("%s: не удалось после %d попыток: %w", op, cfg.MaxAttempts, lastErr)
}

// IsRetryable: стоит ли повторять операцию.
func IsRetryable(err error) bool {
	return errors.Is(err, common.ErrTransient) || errors.Is(err, common.ErrConflict)
}

// calculateBackoff: base * 2^attempt * (0.5 + rand(0, 0.5)), не больше max.
func calculateBackoff(base, max time.Duration, attempt int) time.Duration {
	backoff := base * time.Duration(1<<uint(attempt))
	if backoff > max {
		backoff = max
	}
	jitter := 0.5 + rand.Float64()*0.5
	return time.Duration(float64(backoff) * jitter)
}
