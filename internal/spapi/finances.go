package spapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"sellersync/internal/credentials"
)

const transactionsPath = "/finances/2024-06-19/transactions"

type TransactionsPage struct {
	Transactions []json.RawMessage
	NextToken    string
}

// Finances reads the synchronous, cursor-paginated transactions endpoint.
type Finances struct {
	client Doer
}

func NewFinances(client Doer) *Finances {
	return &Finances{client: client}
}

func (f *Finances) ListTransactions(ctx context.Context, cred credentials.Credential, postedAfter, postedBefore time.Time, nextToken string) (*TransactionsPage, error) {
	q := url.Values{}
	q.Set("postedAfter", postedAfter.UTC().Format(time.RFC3339))
	if !postedBefore.IsZero() {
		q.Set("postedBefore", postedBefore.UTC().Format(time.RFC3339))
	}
	if cred.MarketplaceID != "" {
		q.Set("marketplaceId", cred.MarketplaceID)
	}
	if nextToken != "" {
		q.Set("nextToken", nextToken)
	}

	resp, err := f.client.Do(ctx, cred, Request{Method: http.MethodGet, Path: transactionsPath, Query: q})
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	if err := CheckStatus(resp, "listTransactions"); err != nil {
		return nil, err
	}

	var out struct {
		Payload struct {
			NextToken    string            `json:"nextToken"`
			Transactions []json.RawMessage `json:"transactions"`
		} `json:"payload"`
	}
	if err := DecodeJSON(resp.Body, &out); err != nil {
		return nil, err
	}
	return &TransactionsPage{Transactions: out.Payload.Transactions, NextToken: out.Payload.NextToken}, nil
}

// EachTransactionsPage follows nextToken until the server stops returning one.
func (f *Finances) EachTransactionsPage(ctx context.Context, cred credentials.Credential, postedAfter, postedBefore time.Time, fn func(*TransactionsPage) error) error {
	token := ""
	for {
		page, err := f.ListTransactions(ctx, cred, postedAfter, postedBefore, token)
		if err != nil {
			return err
		}
		if err := fn(page); err != nil {
			return err
		}
		if page.NextToken == "" {
			return nil
		}
		if page.NextToken == token {
			return fmt.Errorf("list transactions: server repeated nextToken")
		}
		token = page.NextToken
	}
}
