// Package settings — service.go: кэш настроек с живым обновлением.
package settings

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/invest-engine/internal/common"
	"serotonyl.ru/invest-engine/internal/metrics"
)

// Loader: источник настроек.
type Loader interface {
	LoadRules(ctx context.Context) ([]LevelRule, error)
	LoadROI(ctx context.Context) (ROISetting, bool, error)
}

// ChangeSource сообщает об изменениях настроек: Next блокируется до следующего изменения.
type ChangeSource interface {
	Next(ctx context.Context) error
}

// Provider хранит последний удачно загруженный срез настроек.
// Отсутствующие настройки заменяются значениями по умолчанию, ошибки чтения
// не блокируют расчёты: отдаётся последний удачный срез или умолчания.
type Provider struct {
	loader     Loader
	clock      clockwork.Clock
	defaultROI ROISetting
	debounce   time.Duration

	mu      sync.RWMutex
	current Snapshot
	loaded  bool
	version uint64

	subMu       sync.Mutex
	subscribers []func(Snapshot)
	timer       clockwork.Timer
}

// NewProvider создаёт провайдер. defaultROI подставляется, когда строки roi_settings нет.
func NewProvider(loader Loader, clock clockwork.Clock, defaultDaily, defaultMax decimal.Decimal, debounce time.Duration) *Provider {
	def := ROISetting{DailyROI: defaultDaily, MaxROI: defaultMax}
	return &Provider{
		loader:     loader,
		clock:      clock,
		defaultROI: def,
		debounce:   debounce,
		current:    Snapshot{ROI: def, ROIDefaulted: true},
	}
}

// Current возвращает текущий срез; при первом обращении загружает его.
func (p *Provider) Current(ctx context.Context) Snapshot {
	p.mu.RLock()
	snap, loaded := p.current, p.loaded
	p.mu.RUnlock()
	if loaded {
		return snap
	}

	// ошибка уже залогирована, в срезе останутся умолчания
	_ = p.Reload(ctx)

	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}

// Reload перечитывает настройки. При ошибке сохраняется прежний срез.
func (p *Provider) Reload(ctx context.Context) error {
	rules, err := p.loader.LoadRules(ctx)
	if err != nil {
		return p.reloadFailed(err)
	}
	roi, ok, err := p.loader.LoadROI(ctx)
	if err != nil {
		return p.reloadFailed(err)
	}

	defaulted := false
	if !ok || !roi.Valid() {
		if ok {
			log.WithFields(log.Fields{
				"daily_roi": roi.DailyROI.String(),
				"max_roi":   roi.MaxROI.String(),
			}).Warn("Некорректная настройка ROI, используем значения по умолчанию")
		}
		roi = p.defaultROI
		defaulted = true
	}

	p.mu.Lock()
	p.version++
	p.current = Snapshot{
		Rules:        normalizeRules(rules),
		ROI:          roi,
		ROIDefaulted: defaulted,
		Version:      p.version,
		LoadedAt:     p.clock.Now(),
	}
	p.loaded = true
	snap := p.current
	p.mu.Unlock()

	metrics.SettingsReloadsTotal.WithLabelValues("ok").Inc()
	log.WithFields(log.Fields{
		"levels":    len(snap.Rules),
		"daily_roi": snap.ROI.DailyROI.String(),
		"max_roi":   snap.ROI.MaxROI.String(),
		"version":   snap.Version,
	}).Info("Настройки начислений загружены")
	return nil
}

func (p *Provider) reloadFailed(err error) error {
	metrics.SettingsReloadsTotal.WithLabelValues("error").Inc()
	if errors.Is(err, common.ErrPermissionDenied) {
		// нет прав: молча работаем на умолчаниях до следующего уведомления
		log.WithError(err).Debug("Нет прав на чтение настроек")
		p.mu.Lock()
		p.loaded = true
		p.mu.Unlock()
		return err
	}
	log.WithError(err).Warn("Не удалось перечитать настройки, оставляем прежние")
	return err
}

// Subscribe регистрирует обработчик, который вызывается после каждой
// перезагрузки по уведомлению.
func (p *Provider) Subscribe(fn func(Snapshot)) {
	p.subMu.Lock()
	defer p.subMu.Unlock()
	p.subscribers = append(p.subscribers, fn)
}

// Changed сообщает провайдеру об изменении настроек. Серия вызовов в пределах
// debounce схлопывается в одну перезагрузку.
func (p *Provider) Changed(ctx context.Context) {
	p.subMu.Lock()
	defer p.subMu.Unlock()

	if p.timer != nil {
		p.timer.Stop()
	}
	p.timer = p.clock.AfterFunc(p.debounce, func() {
		if err := p.Reload(ctx); err != nil {
			return
		}
		snap := p.Current(ctx)

		p.subMu.Lock()
		subs := append([]func(Snapshot){}, p.subscribers...)
		p.subMu.Unlock()
		for _, fn := range subs {
			fn(snap)
		}
	})
}

// Run слушает source до отмены ctx и вызывает Changed на каждое уведомление.
func (p *Provider) Run(ctx context.Context, source ChangeSource) {
	for {
		err := source.Next(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			log.WithError(err).Warn("Подписка на изменения настроек прервалась, переподключаемся")
			select {
			case <-ctx.Done():
				return
			case <-p.clock.After(reconnectPause):
			}
			continue
		}
		p.Changed(ctx)
	}
}
