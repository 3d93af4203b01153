package plaid

import (
	"context"

	"github.com/plaid/plaid-go/v20/plaid"
)

// SyncAPI is the slice of the Plaid API the client needs.
type SyncAPI interface {
	TransactionsSync(ctx context.Context, req plaid.TransactionsSyncRequest) (plaid.TransactionsSyncResponse, error)
}

type apiAdapter struct {
	client *plaid.APIClient
}

func (a *apiAdapter) TransactionsSync(ctx context.Context, req plaid.TransactionsSyncRequest) (plaid.TransactionsSyncResponse, error) {
	resp, _, err := a.client.PlaidApi.TransactionsSync(ctx).TransactionsSyncRequest(req).Execute()
	return resp, err
}
