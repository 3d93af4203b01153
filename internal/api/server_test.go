package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/tally/internal/common"
	"github.com/Veraticus/tally/internal/engine"
	"github.com/Veraticus/tally/internal/learning"
	"github.com/Veraticus/tally/internal/model"
	"github.com/Veraticus/tally/internal/review"
	"github.com/Veraticus/tally/internal/taxonomy"
	"github.com/Veraticus/tally/internal/testutil"
	"github.com/Veraticus/tally/internal/testutil/categories"
)

type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func setup(t *testing.T) (*testutil.TestDB, http.Handler) {
	t.Helper()
	db := testutil.SetupTestDB(t, categories.FixtureStandard)
	guard := &common.TaxonomyGuard{}
	locks := common.NewKeyedMutex()

	cascade, err := engine.New(db.Storage, nil, engine.DefaultConfig(), engine.WithGuard(guard), engine.WithLocks(locks))
	require.NoError(t, err)
	machine := review.New(db.Storage, learning.New(learning.DefaultMaxConfidence),
		review.WithGuard(guard), review.WithLocks(locks))
	return db, New(machine, taxonomy.New(db.Storage, guard), cascade).Handler()
}

func do(t *testing.T, h http.Handler, method, path string, body any) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec.Code, env
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{common.Validationf("op", "", "bad"), http.StatusBadRequest},
		{&common.NotFoundError{Op: "get"}, http.StatusNotFound},
		{&common.ConflictError{Op: "stage"}, http.StatusConflict},
		{&common.ExternalCapabilityError{Op: "sync"}, http.StatusBadGateway},
		{&common.IntegrityError{Op: "merge"}, http.StatusUnprocessableEntity},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(strconv.Itoa(tt.want), func(t *testing.T) {
			assert.Equal(t, tt.want, StatusFor(tt.err))
		})
	}
}

func TestStageAndCommit(t *testing.T) {
	db, h := setup(t)
	coffee := db.CategoryID(categories.CategoryCoffee)
	txn := testutil.NewTxn("BLUE BOTTLE", 550).ID("t1").Merchant("Blue Bottle").Build()
	db.Insert(txn)

	code, env := do(t, h, http.MethodGet, "/transactions/pending", nil)
	require.Equal(t, http.StatusOK, code)
	var pending []model.Transaction
	require.NoError(t, json.Unmarshal(env.Data, &pending))
	require.Len(t, pending, 1)

	code, env = do(t, h, http.MethodPost, "/transactions/t1/stage", map[string]any{"category_id": coffee})
	require.Equal(t, http.StatusOK, code, env.Message)
	assert.Equal(t, model.StatusPendingSave, db.MustGet("t1").Status)

	code, env = do(t, h, http.MethodPost, "/transactions/commit", map[string]any{"ids": []string{}})
	require.Equal(t, http.StatusOK, code, env.Message)
	got := db.MustGet("t1")
	assert.Equal(t, model.StatusConfirmed, got.Status)
	require.NotNil(t, got.CategoryID)
	assert.Equal(t, coffee, *got.CategoryID)
}

func TestStage_Errors(t *testing.T) {
	db, h := setup(t)
	coffee := db.CategoryID(categories.CategoryCoffee)
	db.Insert(testutil.NewTxn("SHELL", 4000).ID("t1").Build())

	tests := []struct {
		body any
		name string
		path string
		want int
	}{
		{name: "missing category", path: "/transactions/t1/stage", body: map[string]any{}, want: http.StatusBadRequest},
		{name: "unknown transaction", path: "/transactions/nope/stage", body: map[string]any{"category_id": coffee}, want: http.StatusNotFound},
		{name: "malformed body", path: "/transactions/t1/stage", body: "not an object", want: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, env := do(t, h, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.want, code)
			assert.Equal(t, "error", env.Status)
			assert.NotEmpty(t, env.Message)
		})
	}
}

func TestConfirmDirect(t *testing.T) {
	db, h := setup(t)
	groceries := db.CategoryID(categories.CategoryGroceries)
	db.Insert(testutil.NewTxn("WHOLE FOODS", 8812).ID("t1").Build())

	code, env := do(t, h, http.MethodPost, "/transactions/t1/confirm", map[string]any{"category_id": groceries})
	require.Equal(t, http.StatusOK, code, env.Message)

	var txn model.Transaction
	require.NoError(t, json.Unmarshal(env.Data, &txn))
	assert.Equal(t, model.StatusConfirmed, txn.Status)
}

func TestDeleteRestorePurge(t *testing.T) {
	db, h := setup(t)
	db.Insert(
		testutil.NewTxn("DUPLICATE", 1000).ID("t1").Build(),
		testutil.NewTxn("DUPLICATE", 1000).ID("t2").Build(),
	)

	for _, id := range []string{"t1", "t2"} {
		code, env := do(t, h, http.MethodDelete, "/transactions/"+id, nil)
		require.Equal(t, http.StatusOK, code, env.Message)
	}

	code, env := do(t, h, http.MethodGet, "/deleted", nil)
	require.Equal(t, http.StatusOK, code)
	var deleted []model.DeletedTransaction
	require.NoError(t, json.Unmarshal(env.Data, &deleted))
	assert.Len(t, deleted, 2)

	code, env = do(t, h, http.MethodPost, "/deleted/t1/restore", nil)
	require.Equal(t, http.StatusOK, code, env.Message)
	code, env = do(t, h, http.MethodGet, "/transactions/t1", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), `"state":"active"`)

	code, _ = do(t, h, http.MethodDelete, "/deleted/t2", nil)
	require.Equal(t, http.StatusOK, code)
	code, env = do(t, h, http.MethodGet, "/transactions/t2", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), `"state":"purged"`)

	code, _ = do(t, h, http.MethodPost, "/deleted/t2/restore", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, env = do(t, h, http.MethodDelete, "/deleted", nil)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"purged":0}`, string(env.Data))
}

func TestBulk(t *testing.T) {
	db, h := setup(t)
	dining := db.CategoryID(categories.CategoryDining)
	db.Insert(testutil.NewTxn("CHIPOTLE", 1250).ID("t1").Build())

	code, env := do(t, h, http.MethodPost, "/transactions/bulk", review.BulkRequest{
		Action:     review.ActionConfirm,
		CategoryID: &dining,
		IDs:        []string{"t1", "missing"},
	})
	require.Equal(t, http.StatusOK, code, env.Message)
	assert.Contains(t, string(env.Data), `"status":"error"`)
	assert.Equal(t, model.StatusConfirmed, db.MustGet("t1").Status)

	code, _ = do(t, h, http.MethodPost, "/transactions/bulk", review.BulkRequest{Action: review.ActionConfirm})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestCategories(t *testing.T) {
	db, h := setup(t)
	food := db.CategoryID(categories.CategoryFood)
	coffee := db.CategoryID(categories.CategoryCoffee)
	dining := db.CategoryID(categories.CategoryDining)

	code, env := do(t, h, http.MethodPost, "/categories", taxonomy.CreateRequest{Name: "bakery", ParentID: &food})
	require.Equal(t, http.StatusCreated, code, env.Message)
	var created model.Category
	require.NoError(t, json.Unmarshal(env.Data, &created))
	id := strconv.FormatInt(created.ID, 10)

	code, env = do(t, h, http.MethodPatch, "/categories/"+id, map[string]any{"display_name": "Bakery"})
	require.Equal(t, http.StatusOK, code, env.Message)
	assert.Contains(t, string(env.Data), `"Bakery"`)

	code, _ = do(t, h, http.MethodPatch, "/categories/"+id, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = do(t, h, http.MethodPatch, "/categories/abc", map[string]any{"name": "x"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = do(t, h, http.MethodPatch, "/categories/"+id, map[string]any{"parent_id": 9999})
	assert.Equal(t, http.StatusUnprocessableEntity, code, "missing parent breaks the tree")

	code, env = do(t, h, http.MethodPost, "/categories/"+strconv.FormatInt(coffee, 10)+"/merge", map[string]any{"into": dining})
	require.Equal(t, http.StatusOK, code, env.Message)

	code, _ = do(t, h, http.MethodPost, "/categories", taxonomy.CreateRequest{Name: "dining"})
	assert.Equal(t, http.StatusConflict, code)

	code, env = do(t, h, http.MethodGet, "/categories/tree", nil)
	require.Equal(t, http.StatusOK, code)
	assert.NotContains(t, string(env.Data), `"coffee"`)
	assert.Contains(t, string(env.Data), `"bakery"`)

	code, env = do(t, h, http.MethodDelete, "/categories/"+id, nil)
	require.Equal(t, http.StatusOK, code, env.Message)
}

func TestClassifyPending(t *testing.T) {
	db, h := setup(t)
	db.Insert(testutil.NewTxn("UNKNOWN SHOP", 999).ID("t1").Build())

	code, env := do(t, h, http.MethodPost, "/classify/pending?limit=10", nil)
	require.Equal(t, http.StatusOK, code, env.Message)
	var result engine.PendingResult
	require.NoError(t, json.Unmarshal(env.Data, &result))
	assert.Equal(t, 1, result.Processed)

	code, _ = do(t, h, http.MethodPost, "/classify/pending?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestSpending(t *testing.T) {
	db, h := setup(t)
	groceries := db.CategoryID(categories.CategoryGroceries)
	db.Insert(testutil.NewTxn("WHOLE FOODS", 8812).ID("t1").Confirmed(groceries, model.StatusConfirmed).Build())

	code, env := do(t, h, http.MethodGet, "/reports/spending?start=2024-06-01", nil)
	require.Equal(t, http.StatusOK, code, env.Message)
	var rows []model.CategorySpending
	require.NoError(t, json.Unmarshal(env.Data, &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, model.Cents(8812), rows[0].Total)

	code, _ = do(t, h, http.MethodGet, "/reports/spending?start=June", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}
