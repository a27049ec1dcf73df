package handlestore

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"
)

func TestStore_DedupesPreservingOrder(t *testing.T) {
	s := New()
	id, err := s.Store(context.Background(), []int{3, 1, 3, 2, 1}, "SELECT *", Metadata{}, 0, nil)
	require.NoError(t, err)

	ids, err := s.GetIDs(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, []int{3, 1, 2}, ids)
}

func TestStore_ExpiredHandleNotFound(t *testing.T) {
	now := time.Now()
	clock := now
	s := New(WithClock(func() time.Time { return clock }))

	id, err := s.Store(context.Background(), []int{1, 2}, "q", Metadata{}, time.Hour, nil)
	require.NoError(t, err)

	clock = now.Add(2 * time.Hour)

	_, err = s.GetIDs(context.Background(), id)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = s.GetData(context.Background(), id)
	require.ErrorIs(t, err, ErrNotFound)

	for _, sum := range s.List(context.Background()) {
		require.NotEqual(t, id, sum.ID)
	}
}

func TestStore_ListNeverLeaksIDs(t *testing.T) {
	s := New()
	_, err := s.Store(context.Background(), []int{1, 2, 3}, "q", Metadata{QueryType: QueryTypeFlat}, 0, nil)
	require.NoError(t, err)

	list := s.List(context.Background())
	require.Len(t, list, 1)
	require.Equal(t, 3, list[0].ItemCount)
}

func TestStore_HandleIDsAreOpaqueAndUnique(t *testing.T) {
	s := New()
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		id, err := s.Store(context.Background(), []int{i}, "q", Metadata{}, 0, nil)
		require.NoError(t, err)
		require.True(t, strings.HasPrefix(id, "qh_"))
		require.GreaterOrEqual(t, len(id), len("qh_")+16)
		require.False(t, seen[id], "handle id collision")
		seen[id] = true
	}
}

func TestStore_GetDataDefensiveCopy(t *testing.T) {
	s := New()
	id, err := s.Store(context.Background(), []int{1}, "q", Metadata{}, 0, map[int]ItemContext{
		1: {Title: "original", Tags: []string{"a"}},
	})
	require.NoError(t, err)

	rec, err := s.GetData(context.Background(), id)
	require.NoError(t, err)
	rec.ItemContext[1] = ItemContext{Title: "mutated"}
	rec.WorkItemIDs[0] = 999

	rec2, err := s.GetData(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, "original", rec2.ItemContext[1].Title)
	require.Equal(t, 1, rec2.WorkItemIDs[0])
}

// TestStore_PropertyInvariants exercises the §8 handle invariants with
// gopter: for arbitrary id lists, GetIDs on the stored handle never returns
// a duplicate, and two handles created in the same process never share an
// id. Order preservation is asserted by the example tests above.
func TestStore_PropertyInvariants(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("stored ids have no duplicates", prop.ForAll(
		func(ids []int) bool {
			s := New()
			id, err := s.Store(context.Background(), ids, "q", Metadata{}, 0, nil)
			if err != nil {
				return false
			}
			got, err := s.GetIDs(context.Background(), id)
			if err != nil {
				return false
			}
			seen := map[int]bool{}
			for _, v := range got {
				if seen[v] {
					return false
				}
				seen[v] = true
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 50)),
	))

	properties.Property("two handles created in the same process never collide", prop.ForAll(
		func(a, b []int) bool {
			s := New()
			id1, _ := s.Store(context.Background(), a, "q1", Metadata{}, 0, nil)
			id2, _ := s.Store(context.Background(), b, "q2", Metadata{}, 0, nil)
			return id1 != id2
		},
		gen.SliceOf(gen.IntRange(0, 50)),
		gen.SliceOf(gen.IntRange(0, 50)),
	))

	properties.TestingRun(t)
}
