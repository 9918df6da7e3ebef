package dashboard

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/invest-engine/internal/common"
	"serotonyl.ru/invest-engine/internal/features/accounts"
	"serotonyl.ru/invest-engine/internal/features/activation"
	"serotonyl.ru/invest-engine/internal/features/deposits"
	"serotonyl.ru/invest-engine/internal/features/levelincome"
	"serotonyl.ru/invest-engine/internal/features/settings"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type memAccounts struct {
	mu      sync.Mutex
	byID    map[int64]*accounts.Account
	roiSets int
}

func (m *memAccounts) Get(_ context.Context, id int64) (*accounts.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	if !ok {
		return nil, common.ErrAccountNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *memAccounts) UpdateROIIncome(_ context.Context, id int64, v decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[id].ROIIncome = v
	m.roiSets++
	return nil
}

type stubActivation struct{ active bool }

func (s *stubActivation) Evaluate(_ context.Context, id int64) (activation.State, error) {
	return activation.State{UserID: id, IsActive: s.active}, nil
}

type stubDeposits struct {
	list []deposits.Deposit
	err  error
}

func (s *stubDeposits) ListApproved(context.Context, int64) ([]deposits.Deposit, error) {
	return s.list, s.err
}

type stubLevels struct{ res levelincome.Result }

func (s stubLevels) Compute(context.Context, int64) (levelincome.Result, error) { return s.res, nil }

type stubSettings struct{ snap settings.Snapshot }

func (s *stubSettings) Current(context.Context) settings.Snapshot { return s.snap }

type fixture struct {
	accounts   *memAccounts
	activation *stubActivation
	deposits   *stubDeposits
	settings   *stubSettings
	cache      *MemoryCache
	clock      *clockwork.FakeClock
	svc        *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	approved := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	f := &fixture{
		accounts: &memAccounts{byID: map[int64]*accounts.Account{
			7: {ID: 7, ROIIncome: decimal.Zero},
		}},
		activation: &stubActivation{active: true},
		deposits: &stubDeposits{list: []deposits.Deposit{
			{ID: 1, UserID: 7, Amount: dec("100"), Status: deposits.StatusApproved, ApprovedAt: &approved},
		}},
		settings: &stubSettings{snap: settings.Snapshot{
			ROI:     settings.ROISetting{DailyROI: dec("0.01"), MaxROI: dec("0.30")},
			Version: 1,
		}},
		cache: NewMemoryCache(),
		clock: clockwork.NewFakeClockAt(now),
	}
	levels := stubLevels{res: levelincome.Result{Cumulative: dec("15"), Today: dec("1.5")}}
	f.svc = NewService(f.accounts, f.activation, f.deposits, levels, f.settings, f.cache, f.clock)
	return f
}

func TestSnapshotComputesAndPersistsROI(t *testing.T) {
	f := newFixture(t)

	got, err := f.svc.Snapshot(context.Background(), 7)
	require.NoError(t, err)
	// 01.03 12:00 → 10.03 12:00: 10 дней включительно
	assert.True(t, got.CumulativeROI.Equal(dec("10")), "накоплено %s", got.CumulativeROI)
	assert.True(t, got.TodayROI.Equal(dec("1")))
	assert.True(t, got.CumulativeLevelIncome.Equal(dec("15")))
	assert.True(t, got.TodayLevelIncome.Equal(dec("1.5")))
	assert.True(t, got.IsActive)
	assert.False(t, got.Stale)
	assert.True(t, f.accounts.byID[7].ROIIncome.Equal(dec("10")))
}

func TestSnapshotInactiveShowsLastActiveValue(t *testing.T) {
	f := newFixture(t)
	f.accounts.byID[7].ROIIncome = dec("4")
	f.activation.active = false

	got, err := f.svc.Snapshot(context.Background(), 7)
	require.NoError(t, err)
	assert.True(t, got.CumulativeROI.Equal(dec("4")))
	assert.True(t, got.TodayROI.IsZero())
	assert.Zero(t, f.accounts.roiSets, "в неактивном состоянии roi_income не трогаем")
}

func TestSnapshotServesFreshCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.Snapshot(ctx, 7)
	require.NoError(t, err)

	// поломка источника не видна, пока кэш свежий
	f.deposits.err = fmt.Errorf("%w: timeout", common.ErrTransient)
	f.clock.Advance(10 * time.Second)
	second, err := f.svc.Snapshot(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestSnapshotFallsBackToLastKnownGood(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Snapshot(ctx, 7)
	require.NoError(t, err)

	f.deposits.err = fmt.Errorf("%w: timeout", common.ErrTransient)
	f.clock.Advance(FreshFor + time.Second)

	got, err := f.svc.Snapshot(ctx, 7)
	require.NoError(t, err)
	assert.True(t, got.Stale)
	assert.True(t, got.CumulativeROI.Equal(dec("10")))
}

func TestSnapshotZeroWithoutCache(t *testing.T) {
	f := newFixture(t)
	f.deposits.err = fmt.Errorf("%w: timeout", common.ErrTransient)

	got, err := f.svc.Snapshot(context.Background(), 7)
	require.NoError(t, err)
	assert.True(t, got.Stale)
	assert.True(t, got.CumulativeROI.IsZero())
	assert.True(t, got.TodayLevelIncome.IsZero())
}

func TestSettingsChangeInvalidatesCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.Snapshot(ctx, 7)
	require.NoError(t, err)
	assert.Zero(t, first.SettingsGeneration)

	f.settings.snap.ROI = settings.ROISetting{DailyROI: dec("0.02"), MaxROI: dec("0.30")}
	f.settings.snap.Version = 2
	f.svc.SettingsChanged(f.settings.snap)

	got, err := f.svc.Snapshot(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.SettingsGeneration)
	assert.True(t, got.CumulativeROI.Equal(dec("20")))
}

func TestSettingsChangeReachesInstancesSharingCache(t *testing.T) {
	a := newFixture(t)
	ctx := context.Background()
	// второй экземпляр движка с тем же кэшем и своим счётчиком версий настроек
	other := &stubSettings{snap: settings.Snapshot{
		ROI:     settings.ROISetting{DailyROI: dec("0.01"), MaxROI: dec("0.30")},
		Version: 40,
	}}
	levels := stubLevels{res: levelincome.Result{Cumulative: dec("15"), Today: dec("1.5")}}
	b := NewService(a.accounts, a.activation, a.deposits, levels, other, a.cache, a.clock)

	_, err := a.svc.Snapshot(ctx, 7)
	require.NoError(t, err)

	// разные версии в процессах не мешают отдавать общий свежий кэш
	cached, err := b.Snapshot(ctx, 7)
	require.NoError(t, err)
	assert.True(t, cached.CumulativeROI.Equal(dec("10")))
	roiSets := a.accounts.roiSets

	// настройки поменялись; экземпляр b перезагрузился и сбросил кэш для всех
	a.settings.snap.ROI = settings.ROISetting{DailyROI: dec("0.02"), MaxROI: dec("0.30")}
	a.settings.snap.Version = 2
	other.snap.ROI = a.settings.snap.ROI
	other.snap.Version = 41
	b.SettingsChanged(other.snap)

	got, err := a.svc.Snapshot(ctx, 7)
	require.NoError(t, err)
	assert.True(t, got.CumulativeROI.Equal(dec("20")), "экземпляр a пересчитал по новым настройкам")
	assert.Greater(t, a.accounts.roiSets, roiSets)
}

func TestSnapshotUnknownAccount(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Snapshot(context.Background(), 404)
	assert.ErrorIs(t, err, common.ErrAccountNotFound)
}
