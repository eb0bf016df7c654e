package stripe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"payout-engine/pkg/processor"
)

func TestRetrieveBalance(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/balance", r.URL.Path)
		require.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"available":[{"amount":150000,"currency":"usd"},{"amount":999,"currency":"eur"}],"pending":[{"amount":2500,"currency":"usd"}]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "sk_test", time.Second)
	b, err := c.RetrieveBalance(context.Background(), "USD")
	require.NoError(t, err)
	require.True(t, decimal.NewFromInt(1500).Equal(b.Available))
	require.True(t, decimal.NewFromInt(25).Equal(b.Pending))
	require.Equal(t, "usd", b.Currency)
}

func TestTransferSendsIdempotencyKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/transfers", r.URL.Path)
		require.Equal(t, "payout_abc", r.Header.Get("Idempotency-Key"))
		require.NoError(t, r.ParseForm())
		require.Equal(t, "9660", r.PostForm.Get("amount"))
		require.Equal(t, "usd", r.PostForm.Get("currency"))
		require.Equal(t, "acct_1", r.PostForm.Get("destination"))
		require.Equal(t, "aff_1", r.PostForm.Get("metadata[affiliate_id]"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"tr_123","amount":9660,"currency":"usd"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "sk_test", time.Second)
	tr, err := c.Transfer(context.Background(), &processor.TransferRequest{
		Amount:         decimal.RequireFromString("96.60"),
		Currency:       "USD",
		Destination:    "acct_1",
		IdempotencyKey: "payout_abc",
		Metadata:       map[string]string{"affiliate_id": "aff_1"},
	})
	require.NoError(t, err)
	require.Equal(t, "tr_123", tr.ID)
	require.True(t, decimal.RequireFromString("96.6").Equal(tr.Amount))
}

func TestTransferErrorClassification(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"insufficient funds", http.StatusBadRequest, `{"error":{"type":"invalid_request_error","code":"balance_insufficient","message":"no"}}`, processor.ErrInsufficientFunds},
		{"server error", http.StatusBadGateway, `{"error":{"type":"api_error"}}`, processor.ErrOutcomeUnknown},
		{"rate limited", http.StatusTooManyRequests, `{"error":{"type":"rate_limit_error"}}`, processor.ErrTransient},
		{"bad destination", http.StatusBadRequest, `{"error":{"type":"invalid_request_error","code":"resource_missing"}}`, processor.ErrRejected},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			c := New(srv.URL, "sk_test", time.Second)
			_, err := c.Transfer(context.Background(), &processor.TransferRequest{Amount: decimal.NewFromInt(1), Currency: "usd", Destination: "acct"})
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestTransferTimeoutIsUnknownOutcome(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c := New(srv.URL, "sk_test", 20*time.Millisecond)
	_, err := c.Transfer(context.Background(), &processor.TransferRequest{Amount: decimal.NewFromInt(1), Currency: "usd", Destination: "acct"})
	require.ErrorIs(t, err, processor.ErrOutcomeUnknown)
}
