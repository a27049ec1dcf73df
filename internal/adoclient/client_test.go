package adoclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/AmeliaRose802/enhanced-ado-mcp-sub009/internal/adoauth"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	tokens := adoauth.NewCache(adoauth.StaticSource{Token: adoauth.Token{Value: "tok", ExpiresAt: time.Now().Add(time.Hour)}}, "rest", 0, nil)
	c := New("org", tokens, WithBaseURL(srv.URL), WithLimiter(rate.NewLimiter(rate.Inf, 100)), WithMaxRetries(2))
	return c, srv
}

func TestRunWIQL_Paginates(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"workItems": []map[string]int{{"id": 1}, {"id": 2}, {"id": 3}, {"id": 4}, {"id": 5}},
		})
	})

	res, err := c.RunWIQL(context.Background(), "proj", "SELECT [System.Id] FROM WorkItems", 1, 2)
	require.NoError(t, err)
	require.Equal(t, []int{2, 3}, res.IDs)
	require.Equal(t, 5, res.TotalCount)
	require.True(t, res.HasNextPage)
	require.Equal(t, 3, res.NextSkip)
}

func TestDo_RetriesOn429ThenSucceeds(t *testing.T) {
	attempts := 0
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"workItems": []map[string]int{{"id": 1}}})
	})

	res, err := c.RunWIQL(context.Background(), "proj", "SELECT 1", 0, 0)
	require.NoError(t, err)
	require.Equal(t, 2, attempts)
	require.Equal(t, []int{1}, res.IDs)
}

func TestDo_NonRetryable4xxFailsImmediately(t *testing.T) {
	attempts := 0
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"bad query"}`))
	})

	_, err := c.RunWIQL(context.Background(), "proj", "SELECT 1", 0, 0)
	require.Error(t, err)
	require.Equal(t, 1, attempts)
}

func TestGetWorkItemsBatch_SplitsAtBatchCeiling(t *testing.T) {
	var seenBatches int
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		seenBatches++
		_ = json.NewEncoder(w).Encode(wiListResponse{Count: 0, Value: []wiFieldsPayload{}})
	})

	ids := make([]int, BatchCeiling+1)
	for i := range ids {
		ids[i] = i + 1
	}
	_, err := c.GetWorkItemsBatch(context.Background(), "proj", ids, nil)
	require.NoError(t, err)
	require.Equal(t, 2, seenBatches)
}
