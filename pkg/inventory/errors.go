package inventory

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Error kinds of the engine. Every typed error below matches one of these
// through errors.Is.
// エンジンのエラー種別

var (
	// ErrValidation is matched by every *ValidationError
	// 入力不正
	ErrValidation = errors.New("入力が不正です")

	// ErrNotFound is matched by every *NotFoundError
	// 対象が存在しない
	ErrNotFound = errors.New("対象が見つかりません")

	// ErrInsufficientStock is matched by every *InsufficientStockError
	// 在庫不足
	ErrInsufficientStock = errors.New("在庫が不足しています")

	// ErrConcurrencyConflict is matched by every *ConcurrencyConflictError
	// 同時更新の競合
	ErrConcurrencyConflict = errors.New("他の操作と競合しました。再試行してください")
)

// Resource names used in NotFoundError
const (
	ResourceItem    = "inventory_item"
	ResourceEntry   = "ledger_entry"
	ResourceRoll    = "roll"
	ResourceRequest = "material_request"
)

// ValidationError represents malformed input
// 詳細付きバリデーションエラーを表現
type ValidationError struct {
	Field   string `json:"field"`   // エラーフィールド
	Message string `json:"message"` // エラーメッセージ
	Value   string `json:"value"`   // 無効な値
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("バリデーションエラー [%s]: %s (値: %s)", e.Field, e.Message, e.Value)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// NotFoundError reports a missing item, ledger entry, roll or request
// 参照先が存在しない
type NotFoundError struct {
	Resource string `json:"resource"`
	ID       string `json:"id"`
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s が見つかりません: %s", e.Resource, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// InsufficientStockError is returned when an operation would drive quantity below zero
// 数量が負になる操作を拒否
type InsufficientStockError struct {
	InventoryID string          `json:"inventory_id"`
	Requested   decimal.Decimal `json:"requested"`
	Available   decimal.Decimal `json:"available"`
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("在庫が不足しています [%s]: 要求 %s, 在庫 %s", e.InventoryID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Is(target error) bool { return target == ErrInsufficientStock }

// ConcurrencyConflictError reports a transaction that could not be serialized
// against a concurrent mutation of the same item
// 同時実行関連のエラーを表現
type ConcurrencyConflictError struct {
	Operation string `json:"operation"` // 操作名
	Resource  string `json:"resource"`  // リソース
	Message   string `json:"message"`   // エラーメッセージ
	Cause     error  `json:"-"`
}

func (e *ConcurrencyConflictError) Error() string {
	return fmt.Sprintf("同時実行エラー [%s:%s]: %s", e.Operation, e.Resource, e.Message)
}

func (e *ConcurrencyConflictError) Is(target error) bool { return target == ErrConcurrencyConflict }

func (e *ConcurrencyConflictError) Unwrap() error { return e.Cause }

// StorageError represents a storage layer error
// ストレージ層のエラーを表現
type StorageError struct {
	Operation string `json:"operation"` // 操作名
	Message   string `json:"message"`   // エラーメッセージ
	Cause     error  `json:"cause"`     // 原因エラー
}

func (e *StorageError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("ストレージエラー [%s]: %s (原因: %v)", e.Operation, e.Message, e.Cause)
	}
	return fmt.Sprintf("ストレージエラー [%s]: %s", e.Operation, e.Message)
}

func (e *StorageError) Unwrap() error {
	return e.Cause
}

// NewValidationError creates a new validation error
// 新しいバリデーションエラーを作成
func NewValidationError(field, message, value string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	}
}

// NewNotFoundError creates a new not-found error
func NewNotFoundError(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

// NewInsufficientStockError creates a new insufficient stock error
func NewInsufficientStockError(inventoryID string, requested, available decimal.Decimal) *InsufficientStockError {
	return &InsufficientStockError{
		InventoryID: inventoryID,
		Requested:   requested,
		Available:   available,
	}
}

// NewConcurrencyConflictError creates a new concurrency conflict error
// 新しい同時実行エラーを作成
func NewConcurrencyConflictError(operation, resource, message string, cause error) *ConcurrencyConflictError {
	return &ConcurrencyConflictError{
		Operation: operation,
		Resource:  resource,
		Message:   message,
		Cause:     cause,
	}
}

// NewStorageError creates a new storage error
// 新しいストレージエラーを作成
func NewStorageError(operation, message string, cause error) *StorageError {
	return &StorageError{
		Operation: operation,
		Message:   message,
		Cause:     cause,
	}
}

// wrapStorage passes engine errors through untouched and wraps anything else
// as a StorageError
func wrapStorage(operation, message string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrValidation) || errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrInsufficientStock) || errors.Is(err, ErrConcurrencyConflict) {
		return err
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return NewStorageError(operation, message, err)
}
