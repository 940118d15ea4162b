package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nemonet1337/zaiGarment/internal/config"
	"github.com/nemonet1337/zaiGarment/internal/metrics"
	"github.com/nemonet1337/zaiGarment/pkg/inventory"
	"github.com/nemonet1337/zaiGarment/pkg/inventory/storage"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Code    string          `json:"code"`
}

func newTestRouter(t *testing.T) *mux.Router {
	t.Helper()
	store := storage.NewMemoryStorage()
	logger := zap.NewNop()
	m := metrics.New("test")
	manager := inventory.NewManager(store, nil, m, logger, nil)
	handlers := NewHandlers(manager, store, logger, 3)
	return setupRouter(handlers, m, config.APIConfig{EnableMetrics: true, EnableCORS: true})
}

func do(t *testing.T, router http.Handler, method, path string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", "tester")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var env envelope
	if rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec, env
}

func receiveDenim(t *testing.T, router http.Handler) inventory.InventoryItem {
	t.Helper()
	rec, env := do(t, router, http.MethodPost, "/api/v1/inventory/receive", map[string]interface{}{
		"item_name":    "Denim",
		"category":     "Fabric",
		"color":        "Indigo",
		"batch_number": "B24",
		"unit":         "kg",
		"reason":       "supplier delivery",
		"roll_weights": []string{"20.5", "19.5"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, env.Error)

	var item inventory.InventoryItem
	require.NoError(t, json.Unmarshal(env.Data, &item))
	return item
}

func TestHealthCheck(t *testing.T) {
	router := newTestRouter(t)
	rec, env := do(t, router, http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.Success)
}

func TestReceiveAndIssue(t *testing.T) {
	router := newTestRouter(t)
	item := receiveDenim(t, router)
	assert.True(t, item.Quantity.Equal(decimal.NewFromInt(40)))
	assert.Equal(t, "Denim", item.ItemName)

	rec, env := do(t, router, http.MethodGet, "/api/v1/items/"+item.ID+"/rolls", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var rolls []inventory.Roll
	require.NoError(t, json.Unmarshal(env.Data, &rolls))
	require.Len(t, rolls, 2)
	assert.Equal(t, "B24-1", rolls[0].RollNumber)

	rec, env = do(t, router, http.MethodPost, "/api/v1/inventory/issue", map[string]interface{}{
		"inventory_id": item.ID,
		"roll_ids":     []string{rolls[0].ID},
		"metadata":     []map[string]string{{"key": "model", "value": "JK-01"}},
	})
	require.Equal(t, http.StatusOK, rec.Code, env.Error)
	var after inventory.InventoryItem
	require.NoError(t, json.Unmarshal(env.Data, &after))
	assert.True(t, after.Quantity.Equal(decimal.RequireFromString("19.5")))

	rec, env = do(t, router, http.MethodGet, "/api/v1/items/"+item.ID+"/verify", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var report inventory.DriftReport
	require.NoError(t, json.Unmarshal(env.Data, &report))
	assert.True(t, report.Consistent)

	rec, env = do(t, router, http.MethodGet, "/api/v1/reports/issues?key=model", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var totals []inventory.IssueTotal
	require.NoError(t, json.Unmarshal(env.Data, &totals))
	require.Len(t, totals, 1)
	assert.Equal(t, "JK-01", totals[0].Value)
}

func TestErrorMapping(t *testing.T) {
	router := newTestRouter(t)
	item := receiveDenim(t, router)

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		status int
		code   string
	}{
		{
			name: "insufficient stock", method: http.MethodPost, path: "/api/v1/inventory/issue",
			body:   map[string]interface{}{"inventory_id": item.ID, "quantity": "100"},
			status: http.StatusConflict, code: CodeInsufficientStock,
		},
		{
			name: "missing inventory id", method: http.MethodPost, path: "/api/v1/inventory/issue",
			body:   map[string]interface{}{"quantity": "1"},
			status: http.StatusBadRequest, code: CodeValidation,
		},
		{
			name: "unknown category", method: http.MethodPost, path: "/api/v1/inventory/receive",
			body:   map[string]interface{}{"item_name": "Thread", "category": "Tool", "quantity": "1"},
			status: http.StatusBadRequest, code: CodeValidation,
		},
		{
			name: "unknown item", method: http.MethodGet, path: "/api/v1/items/nope",
			status: http.StatusNotFound, code: CodeNotFound,
		},
		{
			name: "unknown entry", method: http.MethodDelete, path: "/api/v1/ledger/nope",
			status: http.StatusNotFound, code: CodeNotFound,
		},
		{
			name: "edit without quantity", method: http.MethodPut, path: "/api/v1/items/" + item.ID,
			body:   map[string]interface{}{"color": "Black"},
			status: http.StatusBadRequest, code: CodeValidation,
		},
		{
			name: "bad group_by", method: http.MethodGet, path: "/api/v1/reports/aggregate?group_by=color",
			status: http.StatusBadRequest, code: CodeValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, env := do(t, router, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code)
			assert.False(t, env.Success)
			assert.Equal(t, tt.code, env.Code)
		})
	}
}

func TestMalformedBody(t *testing.T) {
	router := newTestRouter(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/inventory/receive", bytes.NewBufferString("{"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReceiveRollsOnAccessoryRejected(t *testing.T) {
	router := newTestRouter(t)

	rec, env := do(t, router, http.MethodPost, "/api/v1/inventory/receive", map[string]interface{}{
		"item_name":    "Zipper",
		"category":     "Accessory",
		"batch_number": "Z1",
		"roll_weights": []string{"3", "4"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, CodeValidation, env.Code)
}

func TestUpdateItemAndDeleteLedgerEntry(t *testing.T) {
	router := newTestRouter(t)
	item := receiveDenim(t, router)

	rec, env := do(t, router, http.MethodPut, "/api/v1/items/"+item.ID, map[string]interface{}{
		"quantity": "35",
	})
	require.Equal(t, http.StatusOK, rec.Code, env.Error)

	rec, env = do(t, router, http.MethodGet, "/api/v1/items/"+item.ID+"/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var view inventory.HistoryView
	require.NoError(t, json.Unmarshal(env.Data, &view))
	require.Len(t, view.Entries, 2)
	assert.True(t, view.Consistent)
	assert.Equal(t, inventory.CorrectionReason, view.Entries[0].Reason)

	rec, env = do(t, router, http.MethodDelete, "/api/v1/ledger/"+view.Entries[0].ID, nil)
	require.Equal(t, http.StatusOK, rec.Code, env.Error)

	rec, env = do(t, router, http.MethodGet, "/api/v1/items/"+item.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var restored inventory.InventoryItem
	require.NoError(t, json.Unmarshal(env.Data, &restored))
	assert.True(t, restored.Quantity.Equal(decimal.NewFromInt(40)))
}

func TestRequestWorkflow(t *testing.T) {
	router := newTestRouter(t)
	item := receiveDenim(t, router)

	rec, env := do(t, router, http.MethodPost, "/api/v1/requests", map[string]interface{}{
		"inventory_id": item.ID,
		"quantity":     "10",
		"department":   "cutting",
	})
	require.Equal(t, http.StatusCreated, rec.Code, env.Error)
	var req inventory.MaterialRequest
	require.NoError(t, json.Unmarshal(env.Data, &req))
	assert.Equal(t, inventory.RequestStatusPending, req.Status)
	assert.Equal(t, "tester", req.RequestedBy)

	rec, env = do(t, router, http.MethodPost, "/api/v1/requests/"+req.ID+"/issue", nil)
	require.Equal(t, http.StatusOK, rec.Code, env.Error)
	require.NoError(t, json.Unmarshal(env.Data, &req))
	assert.Equal(t, inventory.RequestStatusIssued, req.Status)
	require.NotNil(t, req.IssuedQty)
	assert.True(t, req.IssuedQty.Equal(decimal.NewFromInt(10)))

	rec, env = do(t, router, http.MethodPost, "/api/v1/requests/"+req.ID+"/issue", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, CodeValidation, env.Code)

	rec, env = do(t, router, http.MethodPost, "/api/v1/requests/"+req.ID+"/receive", nil)
	require.Equal(t, http.StatusOK, rec.Code, env.Error)
	require.NoError(t, json.Unmarshal(env.Data, &req))
	assert.Equal(t, inventory.RequestStatusReceived, req.Status)

	rec, env = do(t, router, http.MethodGet, "/api/v1/requests?status=Received", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []inventory.MaterialRequest
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.Len(t, list, 1)
}

func TestLabelAndDeleteItem(t *testing.T) {
	router := newTestRouter(t)
	item := receiveDenim(t, router)

	rec, env := do(t, router, http.MethodGet, "/api/v1/items/"+item.ID+"/label", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var labels LabelResponse
	require.NoError(t, json.Unmarshal(env.Data, &labels))
	assert.Equal(t, "Denim", labels.Item.Name)
	assert.Len(t, labels.Rolls, 2)

	rec, _ = do(t, router, http.MethodDelete, "/api/v1/items/"+item.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = do(t, router, http.MethodGet, "/api/v1/items/"+item.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	router := newTestRouter(t)
	receiveDenim(t, router)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `test_inventory_operations_total{operation="receive",outcome="ok"} 1`)
}
