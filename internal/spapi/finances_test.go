package spapi

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFinances_FollowsNextToken(t *testing.T) {
	var mu sync.Mutex
	var seenTokens []string
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/finances/2024-06-19/transactions", r.URL.Path)
		q := r.URL.Query()
		mu.Lock()
		seenTokens = append(seenTokens, q.Get("nextToken"))
		mu.Unlock()

		switch q.Get("nextToken") {
		case "":
			fmt.Fprint(w, `{"payload":{"nextToken":"p2","transactions":[{"transactionId":"t1"},{"transactionId":"t2"}]}}`)
		case "p2":
			fmt.Fprint(w, `{"payload":{"nextToken":"p3","transactions":[{"transactionId":"t3"}]}}`)
		default:
			fmt.Fprint(w, `{"payload":{"transactions":[]}}`)
		}
	})

	fin := NewFinances(env.client)
	after := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	before := time.Date(2025, 3, 8, 0, 0, 0, 0, time.UTC)

	total := 0
	pages := 0
	err := fin.EachTransactionsPage(context.Background(), testCredential(), after, before, func(p *TransactionsPage) error {
		pages++
		total += len(p.Transactions)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, pages)
	require.Equal(t, 3, total)
	require.Equal(t, []string{"", "p2", "p3"}, seenTokens)
}

func TestFinances_SendsWindow(t *testing.T) {
	var query map[string]string
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		query = map[string]string{}
		for k := range r.URL.Query() {
			query[k] = r.URL.Query().Get(k)
		}
		fmt.Fprint(w, `{"payload":{}}`)
	})

	after := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	before := time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC)
	_, err := NewFinances(env.client).ListTransactions(context.Background(), testCredential(), after, before, "")
	require.NoError(t, err)
	require.Equal(t, "2025-03-01T00:00:00Z", query["postedAfter"])
	require.Equal(t, "2025-03-02T00:00:00Z", query["postedBefore"])
	require.Equal(t, "ATVPDKIKX0DER", query["marketplaceId"])
}

func TestFinances_RepeatedTokenStops(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"payload":{"nextToken":"same","transactions":[]}}`)
	})

	err := NewFinances(env.client).EachTransactionsPage(context.Background(), testCredential(), time.Now(), time.Time{}, func(*TransactionsPage) error { return nil })
	require.Error(t, err)
}
