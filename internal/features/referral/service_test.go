package referral

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memSource struct {
	edges       []Edge
	members     map[int64]Member
	childCalls  int
	memberCalls int
	memberReads map[int64]int
	childrenErr error
}

func newMemSource() *memSource {
	return &memSource{members: map[int64]Member{}, memberReads: map[int64]int{}}
}

func (s *memSource) link(referrer, referred int64, deposit int64, active bool) {
	s.edges = append(s.edges, Edge{ReferrerID: referrer, ReferredID: referred})
	s.members[referred] = Member{AccountID: referred, SelfDeposit: decimal.NewFromInt(deposit), IsActive: active}
}

func (s *memSource) Children(_ context.Context, referrerIDs []int64) ([]Edge, error) {
	s.childCalls++
	if s.childrenErr != nil {
		return nil, s.childrenErr
	}
	want := map[int64]bool{}
	for _, id := range referrerIDs {
		want[id] = true
	}
	var out []Edge
	for _, e := range s.edges {
		if want[e.ReferrerID] {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *memSource) Members(_ context.Context, ids []int64) (map[int64]Member, error) {
	s.memberCalls++
	out := map[int64]Member{}
	for _, id := range ids {
		s.memberReads[id]++
		if m, ok := s.members[id]; ok {
			out[id] = m
		}
	}
	return out, nil
}

func TestGetTeamDepthThree(t *testing.T) {
	src := newMemSource()
	src.link(1, 2, 100, true)
	src.link(1, 3, 50, false)
	src.link(2, 4, 10, true)
	src.link(2, 5, 20, true)
	src.link(3, 6, 30, false)
	src.link(4, 7, 5, true)

	levels, err := NewAggregator(src, 0).GetTeam(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, levels, 3)

	assert.Equal(t, 1, levels[0].Number)
	assert.Equal(t, 2, levels[0].Size())
	assert.True(t, decimal.NewFromInt(150).Equal(levels[0].Business()))
	assert.Equal(t, 3, levels[1].Size())
	assert.True(t, decimal.NewFromInt(60).Equal(levels[1].Business()))
	assert.Equal(t, 1, levels[2].Size())

	// 3 непустых уровня + один запрос, который вернул пустой уровень
	assert.Equal(t, 4, src.childCalls)
	assert.Equal(t, 3, src.memberCalls)
}

func TestGetTeamLeafHasNoLevels(t *testing.T) {
	src := newMemSource()
	src.link(1, 2, 100, true)

	levels, err := NewAggregator(src, 0).GetTeam(context.Background(), 2)
	require.NoError(t, err)
	assert.Empty(t, levels)
}

func TestGetTeamSkipsDeletedAccounts(t *testing.T) {
	src := newMemSource()
	src.link(1, 2, 100, true)
	src.link(1, 3, 40, true)
	src.link(3, 4, 10, true)
	delete(src.members, 3)

	levels, err := NewAggregator(src, 0).GetTeam(context.Background(), 1)
	require.NoError(t, err)
	// аккаунт 3 удалён: его ветка недостижима
	require.Len(t, levels, 1)
	assert.Equal(t, []Member{src.members[2]}, levels[0].Members)
}

func TestGetTeamStopsAtDepthCap(t *testing.T) {
	src := newMemSource()
	for i := int64(1); i <= 40; i++ {
		src.link(i, i+1, 1, true)
	}

	levels, err := NewAggregator(src, DefaultMaxDepth).GetTeam(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, levels, 30)
	assert.Equal(t, 30, levels[29].Number)
}

func TestGetTeamCycleGuard(t *testing.T) {
	src := newMemSource()
	src.link(1, 2, 10, true)
	src.link(2, 3, 10, true)
	src.edges = append(src.edges, Edge{ReferrerID: 3, ReferredID: 1}) // цикл на корень
	src.members[1] = Member{AccountID: 1, SelfDeposit: decimal.NewFromInt(10)}
	src.link(3, 2, 10, true) // и на уже посещённый узел

	levels, err := NewAggregator(src, 0).GetTeam(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, levels, 2)
	for id, n := range src.memberReads {
		assert.Equal(t, 1, n, "аккаунт %d прочитан больше одного раза", id)
	}
}

func TestGetTeamPropagatesReadErrors(t *testing.T) {
	src := newMemSource()
	src.childrenErr = errors.New("boom")

	_, err := NewAggregator(src, 0).GetTeam(context.Background(), 1)
	assert.Error(t, err)
}
