package queryexec

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/AmeliaRose802/enhanced-ado-mcp-sub009/internal/adoauth"
	"github.com/AmeliaRose802/enhanced-ado-mcp-sub009/internal/adoclient"
	"github.com/AmeliaRose802/enhanced-ado-mcp-sub009/internal/handlestore"
	"github.com/AmeliaRose802/enhanced-ado-mcp-sub009/internal/workitem"
	"github.com/stretchr/testify/require"
)

func newTestExecutor(t *testing.T, handler http.HandlerFunc) *Executor {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	tokens := adoauth.NewCache(adoauth.StaticSource{Token: adoauth.Token{Value: "tok", ExpiresAt: time.Now().Add(time.Hour)}}, "rest", 0, nil)
	ado := adoclient.New("org", tokens, adoclient.WithBaseURL(srv.URL), adoclient.WithLimiter(rate.NewLimiter(rate.Inf, 100)))
	store := handlestore.New()
	return New(ado, nil, store)
}

func wiqlOnly(ids ...int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			refs := make([]map[string]int, len(ids))
			for i, id := range ids {
				refs[i] = map[string]int{"id": id}
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"workItems": refs})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"count": 0, "value": []any{}})
	}
}

func TestRunWIQL_NoContextRequested(t *testing.T) {
	e := newTestExecutor(t, wiqlOnly(1, 2, 3))
	res, err := e.RunWIQL(context.Background(), WIQLRequest{Project: "proj", Query: "SELECT 1"})
	require.NoError(t, err)
	require.Len(t, res.Items, 3)
	require.Equal(t, 1, res.Items[0].ID)
	require.Empty(t, res.QueryHandle)
}

func TestRunWIQL_ReturnsHandleAndPreview(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost:
			_ = json.NewEncoder(w).Encode(map[string]any{"workItems": []map[string]int{{"id": 1}, {"id": 2}}})
		default:
			_ = json.NewEncoder(w).Encode(map[string]any{
				"count": 2,
				"value": []map[string]any{
					{"id": 1, "fields": map[string]any{"System.Title": "Fix bug", "System.State": "Active"}},
					{"id": 2, "fields": map[string]any{"System.Title": "Fix bug", "System.State": "New"}},
				},
			})
		}
	}
	e := newTestExecutor(t, handler)
	res, err := e.RunWIQL(context.Background(), WIQLRequest{
		Project: "proj", Query: "SELECT 1", ReturnQueryHandle: true,
	})
	require.NoError(t, err)
	require.NotEmpty(t, res.QueryHandle)
	require.Len(t, res.Preview, 2)
	require.Len(t, res.Items, 2)

	rec, err := e.Store.GetData(context.Background(), res.QueryHandle)
	require.NoError(t, err)
	require.Equal(t, []int{1, 2}, rec.WorkItemIDs)
}

func TestRunWIQL_HandleOnlyOmitsItems(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost:
			_ = json.NewEncoder(w).Encode(map[string]any{"workItems": []map[string]int{{"id": 1}}})
		default:
			_ = json.NewEncoder(w).Encode(map[string]any{
				"count": 1,
				"value": []map[string]any{{"id": 1, "fields": map[string]any{"System.Title": "X"}}},
			})
		}
	}
	e := newTestExecutor(t, handler)
	res, err := e.RunWIQL(context.Background(), WIQLRequest{
		Project: "proj", Query: "SELECT 1", ReturnQueryHandle: true, HandleOnly: true,
	})
	require.NoError(t, err)
	require.Nil(t, res.Items)
	require.NotEmpty(t, res.QueryHandle)
}

func TestFilterByDaysInactive(t *testing.T) {
	d10, d100 := 10, 100
	items := []workitem.Item{
		{ID: 1, DaysInactive: &d10},
		{ID: 2, DaysInactive: &d100},
		{ID: 3, DaysInactive: nil},
	}
	min := 50
	out := filterByDaysInactive(items, &min, nil)
	require.Len(t, out, 1)
	require.Equal(t, 2, out[0].ID)
}

func TestFilterByPatterns_MissingDescription(t *testing.T) {
	items := []workitem.Item{
		{ID: 1, Description: ""},
		{ID: 2, Description: "has content"},
	}
	out, err := filterByPatterns(items, []string{PatternMissingDescription})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, 1, out[0].ID)
}

func TestFilterByPatterns_PlaceholderTitles(t *testing.T) {
	items := []workitem.Item{
		{ID: 1, Title: "TODO"},
		{ID: 2, Title: "Implement login flow"},
		{ID: 3, Title: "untitled"},
	}
	out, err := filterByPatterns(items, []string{PatternPlaceholderTitles})
	require.NoError(t, err)
	require.Len(t, out, 2)
}

func TestFilterByPatterns_Duplicates(t *testing.T) {
	items := []workitem.Item{
		{ID: 1, Title: "Refactor auth"},
		{ID: 2, Title: "Unrelated"},
		{ID: 3, Title: "refactor auth"},
	}
	out, err := filterByPatterns(items, []string{PatternDuplicates})
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Equal(t, 1, out[0].ID)
	require.Equal(t, 3, out[1].ID)
}

func TestFilterByPatterns_UnknownPattern(t *testing.T) {
	_, err := filterByPatterns([]workitem.Item{{ID: 1}}, []string{"not_a_real_pattern"})
	require.Error(t, err)
}

func TestBuildPreview_CapsAtTen(t *testing.T) {
	items := make([]workitem.Item, 15)
	for i := range items {
		items[i] = workitem.Item{ID: i + 1}
	}
	preview := buildPreview(items)
	require.Len(t, preview, 10)
	require.Equal(t, 1, preview[0].ID)
}
