package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/nemonet1337/zaiGarment/pkg/inventory"
)

// defaultUser is the acting user when a request carries no X-User-ID header
const defaultUser = "api_user"

// Error codes carried in APIResponse.Code
const (
	CodeValidation          = "VALIDATION_ERROR"
	CodeNotFound            = "NOT_FOUND"
	CodeInsufficientStock   = "INSUFFICIENT_STOCK"
	CodeConcurrencyConflict = "CONCURRENCY_CONFLICT"
	CodeInternal            = "INTERNAL_ERROR"
)

// Handlers holds HTTP handlers for the inventory API
// 在庫API用のHTTPハンドラーを保持
type Handlers struct {
	service  inventory.Service
	storage  inventory.Storage
	logger   *zap.Logger
	validate *validator.Validate
	retries  int
}

// NewHandlers creates new HTTP handlers. retries bounds RetryOnConflict for
// mutating endpoints.
// 新しいHTTPハンドラーを作成
func NewHandlers(service inventory.Service, storage inventory.Storage, logger *zap.Logger, retries int) *Handlers {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return fld.Name
		}
		return name
	})
	return &Handlers{
		service:  service,
		storage:  storage,
		logger:   logger,
		validate: validate,
		retries:  retries,
	}
}

// APIResponse represents standard API response format
// 標準的なAPIレスポンス形式を表現
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`
}

// ReceiveStockRequest represents an inbound receipt
// 入庫リクエストを表現
type ReceiveStockRequest struct {
	ItemName    string             `json:"item_name" validate:"required,max=255"`
	Category    string             `json:"category" validate:"required,oneof=Fabric Accessory FinishedGood"`
	Color       string             `json:"color" validate:"max=255"`
	BatchNumber string             `json:"batch_number" validate:"max=255"`
	Quantity    decimal.Decimal    `json:"quantity"`
	Unit        string             `json:"unit" validate:"omitempty,oneof=kg piece meter roll box set"`
	Reason      string             `json:"reason" validate:"max=1000"`
	Metadata    inventory.Metadata `json:"metadata"`
	ColorCode   *string            `json:"color_code"`
	ReferenceID *string            `json:"reference_id"`
	RollWeights []decimal.Decimal  `json:"roll_weights"`
}

// IssueStockRequest represents an outbound issue
// 出庫リクエストを表現
type IssueStockRequest struct {
	InventoryID string             `json:"inventory_id" validate:"required"`
	Quantity    decimal.Decimal    `json:"quantity"`
	Reason      string             `json:"reason" validate:"max=1000"`
	Metadata    inventory.Metadata `json:"metadata"`
	RollIDs     []string           `json:"roll_ids" validate:"omitempty,dive,required"`
}

// UpdateItemRequest edits descriptive fields and sets the quantity directly
// 品目編集リクエストを表現
type UpdateItemRequest struct {
	inventory.ItemFields
	Quantity *decimal.Decimal `json:"quantity"`
}

// CreateMaterialRequest opens a material request
// 資材請求作成リクエストを表現
type CreateMaterialRequest struct {
	InventoryID string          `json:"inventory_id" validate:"required"`
	Quantity    decimal.Decimal `json:"quantity"`
	Department  string          `json:"department" validate:"required,max=255"`
	Note        string          `json:"note" validate:"max=1000"`
}

// IssueMaterialRequest carries the warehouse side of a request issue
// 資材請求出庫リクエストを表現
type IssueMaterialRequest struct {
	RollIDs  []string           `json:"roll_ids" validate:"omitempty,dive,required"`
	Reason   string             `json:"reason" validate:"max=1000"`
	Metadata inventory.Metadata `json:"metadata"`
}

// LabelResponse bundles the item label with the labels of its in-stock rolls
type LabelResponse struct {
	Item  *inventory.Label  `json:"item"`
	Rolls []inventory.Label `json:"rolls"`
}

// HealthCheck handles health check requests
// ヘルスチェックリクエストを処理
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	code := http.StatusOK
	if err := h.storage.Ping(r.Context()); err != nil {
		h.logger.Warn("ヘルスチェックでストレージ接続に失敗しました", zap.Error(err))
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}

	h.writeJSON(w, code, APIResponse{
		Success: code == http.StatusOK,
		Data: map[string]interface{}{
			"status":    status,
			"timestamp": time.Now(),
			"service":   "zaiGarment",
		},
	})
}

// ReceiveStock handles inbound receipts
// 入庫リクエストを処理
func (h *Handlers) ReceiveStock(w http.ResponseWriter, r *http.Request) {
	var req ReceiveStockRequest
	if !h.decode(w, r, &req, false) {
		return
	}

	in := inventory.ReceiveInput{
		Identity:    inventory.NewIdentity(req.ItemName, inventory.Category(req.Category), req.Color, req.BatchNumber),
		Quantity:    req.Quantity,
		Unit:        inventory.Unit(req.Unit),
		Reason:      req.Reason,
		Metadata:    req.Metadata,
		ColorCode:   req.ColorCode,
		ReferenceID: req.ReferenceID,
		RollWeights: req.RollWeights,
	}

	ctx := withUser(r)
	var id string
	err := inventory.RetryOnConflict(ctx, h.retries, func() error {
		var err error
		id, err = h.service.Receive(ctx, in)
		return err
	})
	if err != nil {
		h.sendError(w, err)
		return
	}

	item, err := h.service.GetItem(ctx, id)
	if err != nil {
		h.sendError(w, err)
		return
	}
	h.sendSuccess(w, http.StatusCreated, item)
}

// IssueStock handles outbound issues
// 出庫リクエストを処理
func (h *Handlers) IssueStock(w http.ResponseWriter, r *http.Request) {
	var req IssueStockRequest
	if !h.decode(w, r, &req, false) {
		return
	}

	in := inventory.IssueInput{
		InventoryID: req.InventoryID,
		Quantity:    req.Quantity,
		Reason:      req.Reason,
		Metadata:    req.Metadata,
		RollIDs:     req.RollIDs,
	}

	ctx := withUser(r)
	err := inventory.RetryOnConflict(ctx, h.retries, func() error {
		return h.service.Issue(ctx, in)
	})
	if err != nil {
		h.sendError(w, err)
		return
	}

	item, err := h.service.GetItem(ctx, req.InventoryID)
	if err != nil {
		h.sendError(w, err)
		return
	}
	h.sendSuccess(w, http.StatusOK, item)
}

// ListItems handles item listing, optionally by category
// 品目一覧を処理
func (h *Handlers) ListItems(w http.ResponseWriter, r *http.Request) {
	filter := inventory.ItemFilter{
		Category: inventory.Category(r.URL.Query().Get("category")),
		Name:     r.URL.Query().Get("name"),
	}
	items, err := h.service.ListItems(r.Context(), filter)
	if err != nil {
		h.sendError(w, err)
		return
	}
	h.sendSuccess(w, http.StatusOK, items)
}

// GetItem handles item lookup
// 品目取得を処理
func (h *Handlers) GetItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.service.GetItem(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.sendError(w, err)
		return
	}
	h.sendSuccess(w, http.StatusOK, item)
}

// UpdateItem handles direct edits of an item
// 品目編集を処理
func (h *Handlers) UpdateItem(w http.ResponseWriter, r *http.Request) {
	var req UpdateItemRequest
	if !h.decode(w, r, &req, false) {
		return
	}
	if req.Quantity == nil {
		h.sendError(w, inventory.NewValidationError("quantity", "数量が指定されていません", ""))
		return
	}

	id := mux.Vars(r)["id"]
	ctx := withUser(r)
	err := inventory.RetryOnConflict(ctx, h.retries, func() error {
		return h.service.EditQuantity(ctx, id, req.ItemFields, *req.Quantity)
	})
	if err != nil {
		h.sendError(w, err)
		return
	}

	item, err := h.service.GetItem(ctx, id)
	if err != nil {
		h.sendError(w, err)
		return
	}
	h.sendSuccess(w, http.StatusOK, item)
}

// DeleteItem handles cascading item deletion
// 品目削除を処理
func (h *Handlers) DeleteItem(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	ctx := withUser(r)
	err := inventory.RetryOnConflict(ctx, h.retries, func() error {
		return h.service.DeleteItem(ctx, id)
	})
	if err != nil {
		h.sendError(w, err)
		return
	}
	h.sendSuccess(w, http.StatusOK, map[string]string{
		"message":      "品目を削除しました",
		"inventory_id": id,
	})
}

// GetHistory handles the per-item history view
// 入出庫履歴を処理
func (h *Handlers) GetHistory(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.History(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.sendError(w, err)
		return
	}
	h.sendSuccess(w, http.StatusOK, view)
}

// GetRolls handles roll listing of an item
// ロール一覧を処理
func (h *Handlers) GetRolls(w http.ResponseWriter, r *http.Request) {
	rolls, err := h.service.ListRolls(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.sendError(w, err)
		return
	}
	h.sendSuccess(w, http.StatusOK, rolls)
}

// GetLabel handles label regeneration for an item and its rolls
// ラベル情報を処理
func (h *Handlers) GetLabel(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	label, err := h.service.ItemLabel(r.Context(), id)
	if err != nil {
		h.sendError(w, err)
		return
	}
	rolls, err := h.service.RollLabels(r.Context(), id)
	if err != nil {
		h.sendError(w, err)
		return
	}
	h.sendSuccess(w, http.StatusOK, LabelResponse{Item: label, Rolls: rolls})
}

// VerifyItem handles the ledger/registry consistency check
// 整合性チェックを処理
func (h *Handlers) VerifyItem(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.Verify(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.sendError(w, err)
		return
	}
	h.sendSuccess(w, http.StatusOK, report)
}

// DeleteLedgerEntry handles ledger entry deletion
// 台帳エントリ削除を処理
func (h *Handlers) DeleteLedgerEntry(w http.ResponseWriter, r *http.Request) {
	entryID := mux.Vars(r)["entryId"]
	ctx := withUser(r)
	err := inventory.RetryOnConflict(ctx, h.retries, func() error {
		return h.service.DeleteLedgerEntry(ctx, entryID)
	})
	if err != nil {
		h.sendError(w, err)
		return
	}
	h.sendSuccess(w, http.StatusOK, map[string]string{
		"message":  "台帳エントリを削除しました",
		"entry_id": entryID,
	})
}

// Aggregate handles grouped totals
// 集計を処理
func (h *Handlers) Aggregate(w http.ResponseWriter, r *http.Request) {
	query := inventory.AggregateQuery{
		Category: inventory.Category(r.URL.Query().Get("category")),
		GroupBy:  inventory.GroupBy(r.URL.Query().Get("group_by")),
	}
	result, err := h.service.Aggregate(r.Context(), query)
	if err != nil {
		h.sendError(w, err)
		return
	}
	h.sendSuccess(w, http.StatusOK, result)
}

// IssueSummary handles outbound totals by metadata key
// 出庫集計を処理
func (h *Handlers) IssueSummary(w http.ResponseWriter, r *http.Request) {
	totals, err := h.service.IssueSummary(r.Context(), r.URL.Query().Get("key"))
	if err != nil {
		h.sendError(w, err)
		return
	}
	h.sendSuccess(w, http.StatusOK, totals)
}

// CreateRequest handles material request creation
// 資材請求作成を処理
func (h *Handlers) CreateRequest(w http.ResponseWriter, r *http.Request) {
	var req CreateMaterialRequest
	if !h.decode(w, r, &req, false) {
		return
	}

	created, err := h.service.CreateRequest(withUser(r), inventory.RequestInput{
		InventoryID: req.InventoryID,
		Quantity:    req.Quantity,
		Department:  req.Department,
		Note:        req.Note,
	})
	if err != nil {
		h.sendError(w, err)
		return
	}
	h.sendSuccess(w, http.StatusCreated, created)
}

// ListRequests handles material request listing
// 資材請求一覧を処理
func (h *Handlers) ListRequests(w http.ResponseWriter, r *http.Request) {
	reqs, err := h.service.ListRequests(r.Context(), inventory.RequestFilter{
		Status:      inventory.RequestStatus(r.URL.Query().Get("status")),
		InventoryID: r.URL.Query().Get("inventory_id"),
	})
	if err != nil {
		h.sendError(w, err)
		return
	}
	h.sendSuccess(w, http.StatusOK, reqs)
}

// GetRequest handles material request lookup
// 資材請求取得を処理
func (h *Handlers) GetRequest(w http.ResponseWriter, r *http.Request) {
	req, err := h.service.GetRequest(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.sendError(w, err)
		return
	}
	h.sendSuccess(w, http.StatusOK, req)
}

// IssueRequest handles Pending -> Issued
// 資材請求出庫を処理
func (h *Handlers) IssueRequest(w http.ResponseWriter, r *http.Request) {
	var req IssueMaterialRequest
	if !h.decode(w, r, &req, true) {
		return
	}

	id := mux.Vars(r)["id"]
	ctx := withUser(r)
	var issued *inventory.MaterialRequest
	err := inventory.RetryOnConflict(ctx, h.retries, func() error {
		var err error
		issued, err = h.service.IssueRequest(ctx, id, inventory.IssueRequestInput{
			RollIDs:  req.RollIDs,
			Reason:   req.Reason,
			Metadata: req.Metadata,
		})
		return err
	})
	if err != nil {
		h.sendError(w, err)
		return
	}
	h.sendSuccess(w, http.StatusOK, issued)
}

// ReceiveRequest handles Issued -> Received
// 資材請求受領を処理
func (h *Handlers) ReceiveRequest(w http.ResponseWriter, r *http.Request) {
	received, err := h.service.ReceiveRequest(withUser(r), mux.Vars(r)["id"])
	if err != nil {
		h.sendError(w, err)
		return
	}
	h.sendSuccess(w, http.StatusOK, received)
}

// ヘルパーメソッド

// withUser attaches the X-User-ID header to the request context
func withUser(r *http.Request) context.Context {
	user := strings.TrimSpace(r.Header.Get("X-User-ID"))
	if user == "" {
		user = defaultUser
	}
	return inventory.WithUser(r.Context(), user)
}

// decode reads a JSON body into dst and runs struct validation. An empty
// body is accepted only when allowEmpty is set.
func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, dst interface{}, allowEmpty bool) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if !(allowEmpty && errors.Is(err, io.EOF)) {
			h.writeJSON(w, http.StatusBadRequest, APIResponse{Error: "無効なリクエスト形式です", Code: CodeValidation})
			return false
		}
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			h.sendError(w, inventory.NewValidationError(fe.Field(), "入力値が不正です ("+fe.Tag()+")", fmtValue(fe.Value())))
			return false
		}
		h.sendError(w, err)
		return false
	}
	return true
}

func fmtValue(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, _ := json.Marshal(v)
	return string(b)
}

// sendSuccess sends a successful API response
// 成功APIレスポンスを送信
func (h *Handlers) sendSuccess(w http.ResponseWriter, status int, data interface{}) {
	h.writeJSON(w, status, APIResponse{
		Success: true,
		Data:    data,
	})
}

// sendError maps an engine error to its status code and sends it
// エラーAPIレスポンスを送信
func (h *Handlers) sendError(w http.ResponseWriter, err error) {
	status, code := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("リクエスト処理に失敗しました", zap.Error(err))
	}
	h.writeJSON(w, status, APIResponse{
		Success: false,
		Error:   err.Error(),
		Code:    code,
	})
}

// statusFor maps the engine error taxonomy onto HTTP
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, inventory.ErrValidation):
		return http.StatusBadRequest, CodeValidation
	case errors.Is(err, inventory.ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, inventory.ErrInsufficientStock):
		return http.StatusConflict, CodeInsufficientStock
	case errors.Is(err, inventory.ErrConcurrencyConflict):
		return http.StatusConflict, CodeConcurrencyConflict
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, response APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.logger.Error("レスポンス送信に失敗しました", zap.Error(err))
	}
}
