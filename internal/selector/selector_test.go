package selector

import (
	"context"
	"testing"

	"github.com/AmeliaRose802/enhanced-ado-mcp-sub009/internal/adoerrors"
	"github.com/AmeliaRose802/enhanced-ado-mcp-sub009/internal/handlestore"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"
)

func recordWithContext() handlestore.Record {
	days := func(n int) *int { return &n }
	return handlestore.Record{
		WorkItemIDs: []int{101, 102, 103, 104, 105},
		ItemContext: map[int]handlestore.ItemContext{
			101: {Title: "Fix login bug", State: "Active", Type: "Bug", Tags: []string{"needs-review"}, DaysInactive: days(40)},
			102: {Title: "Add export", State: "Active", Type: "Task", Tags: []string{"backend"}, DaysInactive: days(10)},
			103: {Title: "Placeholder", State: "New", Type: "Bug", Tags: nil, DaysInactive: days(5)},
			104: {Title: "Stale epic", State: "Active", Type: "Epic", Tags: []string{"needs-review", "q3"}, DaysInactive: days(90)},
			105: {Title: "Closed item", State: "Closed", Type: "Bug", DaysInactive: days(200)},
		},
	}
}

func TestResolve_All(t *testing.T) {
	rec := recordWithContext()
	ids, err := Resolve(context.Background(), rec, NewAll())
	require.NoError(t, err)
	require.Equal(t, rec.WorkItemIDs, ids)
}

func TestResolve_IndicesOutOfRange(t *testing.T) {
	rec := recordWithContext()
	_, err := Resolve(context.Background(), rec, NewIndices([]int{0, 2, 7}))
	require.Error(t, err)
	ae, ok := adoerrors.As(err)
	require.True(t, ok)
	require.Equal(t, adoerrors.KindInvalidSelection, ae.Kind)
	require.Equal(t, 7, ae.Details["offendingIndex"])
}

func TestResolve_IndicesDedupePreservingOrder(t *testing.T) {
	rec := recordWithContext()
	ids, err := Resolve(context.Background(), rec, NewIndices([]int{0, 0, 2, 1}))
	require.NoError(t, err)
	require.Equal(t, []int{101, 103, 102}, ids)
}

func TestResolve_CriteriaStatesAndDaysInactive(t *testing.T) {
	rec := recordWithContext()
	min := 30
	ids, err := Resolve(context.Background(), rec, NewCriteria(Criteria{
		States:          []string{"Active"},
		DaysInactiveMin: &min,
	}))
	require.NoError(t, err)
	require.ElementsMatch(t, []int{101, 104}, ids)
}

func TestResolve_CriteriaStatesCaseInsensitive(t *testing.T) {
	rec := recordWithContext()
	ids, err := Resolve(context.Background(), rec, NewCriteria(Criteria{
		States: []string{"active"},
	}))
	require.NoError(t, err)
	require.ElementsMatch(t, []int{101, 102, 104}, ids)
}

func TestResolve_CriteriaTagsAnyOf(t *testing.T) {
	rec := recordWithContext()
	ids, err := Resolve(context.Background(), rec, NewCriteria(Criteria{
		Tags: []string{"q3", "backend"},
	}))
	require.NoError(t, err)
	require.ElementsMatch(t, []int{102, 104}, ids)
}

func TestResolve_UnknownCriteriaKeyRejected(t *testing.T) {
	rec := recordWithContext()
	sel, err := ParseRaw(map[string]any{"bogus": true})
	require.NoError(t, err)
	_, err = Resolve(context.Background(), rec, sel)
	require.Error(t, err)
	ae, ok := adoerrors.As(err)
	require.True(t, ok)
	require.Equal(t, adoerrors.KindInvalidSelection, ae.Kind)
}

func TestResolve_ContextUnavailableWhenNoItemHasTheField(t *testing.T) {
	rec := handlestore.Record{
		WorkItemIDs: []int{1, 2},
		ItemContext: map[int]handlestore.ItemContext{
			1: {Title: "a", State: "Active"},
			2: {Title: "b", State: "Active"},
		},
	}
	min := 10
	_, err := Resolve(context.Background(), rec, NewCriteria(Criteria{DaysInactiveMin: &min}))
	require.Error(t, err)
	ae, ok := adoerrors.As(err)
	require.True(t, ok)
	require.Equal(t, adoerrors.KindContextUnavailable, ae.Kind)
}

func TestResolve_MissingContextItemIsIneligibleNotError(t *testing.T) {
	rec := handlestore.Record{
		WorkItemIDs: []int{1, 2},
		ItemContext: map[int]handlestore.ItemContext{
			1: {Title: "a", State: "Active"},
			// 2 has no context at all
		},
	}
	ids, err := Resolve(context.Background(), rec, NewCriteria(Criteria{States: []string{"Active"}}))
	require.NoError(t, err)
	require.Equal(t, []int{1}, ids)
}

// TestResolve_Properties checks the §8 index-list selector law with gopter.
func TestResolve_Properties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("index-list results are WorkItemIDs[i] for each valid index, in selector order, deduplicated", prop.ForAll(
		func(n int, picks []int) bool {
			ids := make([]int, n)
			for i := range ids {
				ids[i] = 1000 + i
			}
			rec := handlestore.Record{WorkItemIDs: ids}
			var valid []int
			for _, p := range picks {
				if p >= 0 && p < n {
					valid = append(valid, p)
				}
			}
			got, err := Resolve(context.Background(), rec, NewIndices(valid))
			if err != nil {
				return false
			}
			var want []int
			seen := map[int]bool{}
			for _, p := range valid {
				if !seen[p] {
					seen[p] = true
					want = append(want, ids[p])
				}
			}
			if len(got) != len(want) {
				return false
			}
			for i := range want {
				if got[i] != want[i] {
					return false
				}
			}
			return true
		},
		gen.IntRange(0, 20),
		gen.SliceOf(gen.IntRange(-5, 25)),
	))

	properties.TestingRun(t)
}
