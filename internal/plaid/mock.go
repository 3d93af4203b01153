package plaid

import (
	"context"
	"sync"

	"github.com/plaid/plaid-go/v20/plaid"
)

// MockAPI is a SyncAPI that serves canned responses keyed by cursor.
type MockAPI struct {
	Responses map[string]plaid.TransactionsSyncResponse
	Err       error
	Requests  []plaid.TransactionsSyncRequest
	mu        sync.Mutex
}

// NewMockAPI creates an empty mock.
func NewMockAPI() *MockAPI {
	return &MockAPI{Responses: make(map[string]plaid.TransactionsSyncResponse)}
}

// TransactionsSync records the request and returns the response for its cursor.
func (m *MockAPI) TransactionsSync(_ context.Context, req plaid.TransactionsSyncRequest) (plaid.TransactionsSyncResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Requests = append(m.Requests, req)
	if m.Err != nil {
		return plaid.TransactionsSyncResponse{}, m.Err
	}
	return m.Responses[req.GetCursor()], nil
}

var _ SyncAPI = (*MockAPI)(nil)
