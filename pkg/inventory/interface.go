package inventory

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ReconciliationEngine defines every quantity-affecting operation
// 数量を変更するすべての操作を定義
type ReconciliationEngine interface {
	Receive(ctx context.Context, in ReceiveInput) (string, error)
	Issue(ctx context.Context, in IssueInput) error
	EditQuantity(ctx context.Context, inventoryID string, fields ItemFields, newQuantity decimal.Decimal) error
	DeleteLedgerEntry(ctx context.Context, entryID string) error
	DeleteItem(ctx context.Context, inventoryID string) error
}

// InventoryReader defines the read side used by views and reports
// 参照系の操作を定義
type InventoryReader interface {
	GetItem(ctx context.Context, inventoryID string) (*InventoryItem, error)
	FindItem(ctx context.Context, identity Identity) (*InventoryItem, error)
	ListItems(ctx context.Context, filter ItemFilter) ([]InventoryItem, error)
	ListHistory(ctx context.Context, inventoryID string) ([]LedgerEntry, error)
	ListRolls(ctx context.Context, inventoryID string) ([]Roll, error)
	History(ctx context.Context, inventoryID string) (*HistoryView, error)
	Verify(ctx context.Context, inventoryID string) (*DriftReport, error)
	Aggregate(ctx context.Context, query AggregateQuery) (*AggregateResult, error)
	IssueSummary(ctx context.Context, key string) ([]IssueTotal, error)
	ItemLabel(ctx context.Context, inventoryID string) (*Label, error)
	RollLabels(ctx context.Context, inventoryID string) ([]Label, error)
}

// RequestWorkflow defines the Pending -> Issued -> Received material request flow
// 資材請求ワークフローを定義
type RequestWorkflow interface {
	CreateRequest(ctx context.Context, in RequestInput) (*MaterialRequest, error)
	IssueRequest(ctx context.Context, requestID string, in IssueRequestInput) (*MaterialRequest, error)
	ReceiveRequest(ctx context.Context, requestID string) (*MaterialRequest, error)
	GetRequest(ctx context.Context, requestID string) (*MaterialRequest, error)
	ListRequests(ctx context.Context, filter RequestFilter) ([]MaterialRequest, error)
}

// Service is everything the API layer needs from the engine
type Service interface {
	ReconciliationEngine
	InventoryReader
	RequestWorkflow
}

// Storage defines the interface for data persistence layer. Every engine
// operation runs inside exactly one WithTx call; fn's writes commit together
// or not at all.
// データ永続化層のインターフェースを定義
type Storage interface {
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// Health check
	Ping(ctx context.Context) error
	Close() error
}

// Tx is the transactional view of the store handed to WithTx callbacks
type Tx interface {
	RegistryStore
	LedgerStore
	RollStore
	RequestStore
}

// RegistryStore persists inventory items
// 在庫台帳の永続化
type RegistryStore interface {
	CreateItem(ctx context.Context, item *InventoryItem) error
	GetItem(ctx context.Context, inventoryID string) (*InventoryItem, error)
	FindItemByIdentity(ctx context.Context, identity Identity) (*InventoryItem, error)
	ListItems(ctx context.Context, filter ItemFilter) ([]InventoryItem, error)

	// AdjustQuantity atomically applies delta and returns the new quantity.
	// It must refuse (InsufficientStockError) a delta that would leave the
	// quantity negative, and bump version and last_updated.
	AdjustQuantity(ctx context.Context, inventoryID string, delta decimal.Decimal, at time.Time) (decimal.Decimal, error)

	// UpdateItem writes descriptive fields and quantity. item.Version carries
	// the new version; the row must currently hold item.Version-1.
	UpdateItem(ctx context.Context, item *InventoryItem) error
	DeleteItem(ctx context.Context, inventoryID string) error
}

// EntryFilter narrows ledger listings
type EntryFilter struct {
	InventoryID string
	Type        EntryType
}

// LedgerStore persists ledger entries
// 入出庫台帳の永続化
type LedgerStore interface {
	AppendEntry(ctx context.Context, entry *LedgerEntry) error
	GetEntry(ctx context.Context, entryID string) (*LedgerEntry, error)
	ListEntriesByItem(ctx context.Context, inventoryID string) ([]LedgerEntry, error)
	ListEntries(ctx context.Context, filter EntryFilter) ([]LedgerEntry, error)
	DeleteEntry(ctx context.Context, entryID string) error
	DeleteEntriesByItem(ctx context.Context, inventoryID string) (int64, error)
}

// RollStore persists fabric rolls
// ロールの永続化
type RollStore interface {
	CreateRolls(ctx context.Context, rolls []Roll) error
	CountRolls(ctx context.Context, inventoryID string) (int64, error)
	GetRolls(ctx context.Context, rollIDs []string) ([]Roll, error)
	MarkRollsUsed(ctx context.Context, rollIDs []string, at time.Time) (int64, error)
	ListRollsByItem(ctx context.Context, inventoryID string) ([]Roll, error)
	DeleteRollsByItem(ctx context.Context, inventoryID string) (int64, error)
	SetRollSequence(ctx context.Context, inventoryID string, sequence int64) error
}

// RequestStore persists material requests
// 資材請求の永続化
type RequestStore interface {
	CreateRequest(ctx context.Context, req *MaterialRequest) error
	GetRequest(ctx context.Context, requestID string) (*MaterialRequest, error)
	// UpdateRequest writes req only if the stored status still equals from
	UpdateRequest(ctx context.Context, req *MaterialRequest, from RequestStatus) error
	ListRequests(ctx context.Context, filter RequestFilter) ([]MaterialRequest, error)
	DeleteRequestsByItem(ctx context.Context, inventoryID string) (int64, error)
}

// EventPublisher defines interface for publishing inventory events
// 在庫イベント発行のインターフェースを定義
type EventPublisher interface {
	PublishStockChanged(ctx context.Context, event StockChangedEvent) error
}

// MetricsRecorder receives operation outcomes and stock levels
// メトリクス記録のインターフェース
type MetricsRecorder interface {
	ObserveOperation(operation string, err error, duration time.Duration)
	SetStockLevel(item *InventoryItem)
	ForgetItem(inventoryID string)
}

// Change types carried by StockChangedEvent
const (
	ChangeReceive      = "receive"
	ChangeIssue        = "issue"
	ChangeEdit         = "edit"
	ChangeEntryDelete  = "ledger_delete"
	ChangeItemDelete   = "item_delete"
	ChangeRequestIssue = "request_issue"
)

// StockChangedEvent represents a committed change of an item's quantity
// 在庫レベル変更イベントを表現
type StockChangedEvent struct {
	EventID     string          `json:"event_id"`
	InventoryID string          `json:"inventory_id"`
	ItemName    string          `json:"item_name"`
	Category    Category        `json:"category"`
	ChangeType  string          `json:"change_type"`
	EntryID     string          `json:"entry_id,omitempty"`
	Delta       decimal.Decimal `json:"delta"`
	NewQuantity decimal.Decimal `json:"new_quantity"`
	UserID      string          `json:"user_id"`
	Timestamp   time.Time       `json:"timestamp"`
}

type userKey struct{}

// WithUser attaches the acting user to ctx
// 操作ユーザーをコンテキストに設定
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userKey{}, userID)
}

// UserFromContext extracts user ID from context
// コンテキストからユーザーIDを取得
func UserFromContext(ctx context.Context) string {
	if userID, ok := ctx.Value(userKey{}).(string); ok && userID != "" {
		return userID
	}
	return "system"
}
