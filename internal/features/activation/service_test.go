package activation

import (
	"context"
	"errors"
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
	"serotonyl.ru/invest-engine/internal/notify"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type memAccounts struct {
	mu      sync.Mutex
	byID    map[int64]*accounts.Account
	updates []accounts.ActivationUpdate
	getErr  error
}

func (m *memAccounts) Get(_ context.Context, id int64) (*accounts.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	a, ok := m.byID[id]
	if !ok {
		return nil, common.ErrAccountNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *memAccounts) UpdateActivation(_ context.Context, id int64, u accounts.ActivationUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := m.byID[id]
	a.IsActive, a.Status, a.TotalDeposits = u.IsActive, u.Status, u.TotalDeposits
	m.updates = append(m.updates, u)
	return nil
}

func (m *memAccounts) ListIDs(context.Context) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []int64
	for id := range m.byID {
		ids = append(ids, id)
	}
	return ids, nil
}

type memTotals struct {
	mu     sync.Mutex
	totals map[int64]decimal.Decimal
	err    error
}

func (m *memTotals) ApprovedTotal(_ context.Context, id int64) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return decimal.Zero, m.err
	}
	if v, ok := m.totals[id]; ok {
		return v, nil
	}
	return decimal.Zero, nil
}

type recorder struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recorder) Notify(_ context.Context, ev notify.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func TestEvaluateRule(t *testing.T) {
	th := DefaultThreshold
	tests := []struct {
		balance, deposits string
		want              bool
	}{
		{"5", "25", true},
		{"20", "0", true},
		{"19.99", "19.99", false},
		{"0", "20", true},
		{"0", "0", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Evaluate(dec(tt.balance), dec(tt.deposits), th), "%s/%s", tt.balance, tt.deposits)
	}
}

func newService(acc *memAccounts, totals *memTotals, rec *recorder) *Service {
	clock := clockwork.NewFakeClockAt(time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC))
	return NewService(acc, totals, rec, clock, DefaultThreshold, 4)
}

func TestLowBalanceButDepositsActivates(t *testing.T) {
	acc := &memAccounts{byID: map[int64]*accounts.Account{
		1: {ID: 1, Balance: dec("5"), TotalDeposits: dec("0"), Status: accounts.StatusInactive},
	}}
	totals := &memTotals{totals: map[int64]decimal.Decimal{1: dec("25")}}
	rec := &recorder{}

	st, err := newService(acc, totals, rec).Evaluate(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, st.IsActive)
	assert.True(t, st.Changed)

	require.Len(t, acc.updates, 1)
	u := acc.updates[0]
	assert.True(t, u.IsActive)
	assert.Equal(t, accounts.StatusActive, u.Status)
	assert.True(t, dec("25").Equal(u.TotalDeposits))
	assert.Equal(t, time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC), u.CheckedAt)

	require.Len(t, rec.events, 1)
	assert.Equal(t, notify.KindActivated, rec.events[0].Kind)
}

func TestRegressionToInactiveNotifies(t *testing.T) {
	acc := &memAccounts{byID: map[int64]*accounts.Account{
		1: {ID: 1, Balance: dec("10"), TotalDeposits: dec("0"), IsActive: true, Status: accounts.StatusActive},
	}}
	rec := &recorder{}

	st, err := newService(acc, &memTotals{}, rec).Evaluate(context.Background(), 1)
	require.NoError(t, err)
	assert.False(t, st.IsActive)
	assert.True(t, st.Changed)
	require.Len(t, rec.events, 1)
	assert.Equal(t, notify.KindDeactivated, rec.events[0].Kind)
}

func TestNoTransitionNoWrite(t *testing.T) {
	acc := &memAccounts{byID: map[int64]*accounts.Account{
		1: {ID: 1, Balance: dec("50"), TotalDeposits: dec("30"), IsActive: true},
	}}
	totals := &memTotals{totals: map[int64]decimal.Decimal{1: dec("30")}}
	rec := &recorder{}

	st, err := newService(acc, totals, rec).Evaluate(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, st.IsActive)
	assert.False(t, st.Changed)
	assert.Empty(t, acc.updates)
	assert.Empty(t, rec.events)
}

func TestStaleTotalRefreshedSilently(t *testing.T) {
	acc := &memAccounts{byID: map[int64]*accounts.Account{
		1: {ID: 1, Balance: dec("50"), TotalDeposits: dec("30"), IsActive: true},
	}}
	totals := &memTotals{totals: map[int64]decimal.Decimal{1: dec("45")}}
	rec := &recorder{}

	_, err := newService(acc, totals, rec).Evaluate(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, acc.updates, 1)
	assert.True(t, dec("45").Equal(acc.updates[0].TotalDeposits))
	assert.Empty(t, rec.events)
}

func TestReadFailureIsConservative(t *testing.T) {
	acc := &memAccounts{byID: map[int64]*accounts.Account{
		1: {ID: 1, Balance: dec("500"), IsActive: true},
	}}
	totals := &memTotals{err: fmt.Errorf("%w: reset", common.ErrTransient)}
	rec := &recorder{}

	st, err := newService(acc, totals, rec).Evaluate(context.Background(), 1)
	assert.ErrorIs(t, err, common.ErrTransient)
	assert.False(t, st.IsActive)
	assert.Empty(t, acc.updates)
	assert.Empty(t, rec.events)
}

func TestThresholdFlipsState(t *testing.T) {
	acc := &memAccounts{byID: map[int64]*accounts.Account{1: {ID: 1, Balance: dec("19.99")}}}
	rec := &recorder{}
	svc := newService(acc, &memTotals{}, rec)
	ctx := context.Background()

	st, err := svc.Evaluate(ctx, 1)
	require.NoError(t, err)
	assert.False(t, st.IsActive)

	acc.byID[1].Balance = dec("20")
	st, err = svc.Evaluate(ctx, 1)
	require.NoError(t, err)
	assert.True(t, st.IsActive)

	acc.byID[1].Balance = dec("19.99")
	st, err = svc.Evaluate(ctx, 1)
	require.NoError(t, err)
	assert.False(t, st.IsActive)
	assert.Len(t, rec.events, 2)
}

func TestSweepContinuesPastFailures(t *testing.T) {
	acc := &memAccounts{byID: map[int64]*accounts.Account{
		1: {ID: 1, Balance: dec("100")},
		2: {ID: 2, Balance: dec("100")},
		3: {ID: 3, Balance: dec("1")},
	}}
	rec := &recorder{}

	require.NoError(t, newService(acc, &memTotals{}, rec).Sweep(context.Background()))
	assert.True(t, acc.byID[1].IsActive)
	assert.True(t, acc.byID[2].IsActive)
	assert.False(t, acc.byID[3].IsActive)
	assert.Len(t, rec.events, 2)

	acc.getErr = errors.New("boom")
	assert.NoError(t, newService(acc, &memTotals{}, rec).Sweep(context.Background()))
}
