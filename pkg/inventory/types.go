// Package inventory provides the stock consistency engine for the garment warehouse
package inventory

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Category classifies an inventory item
// 在庫品目の区分
type Category string

const (
	CategoryFabric       Category = "Fabric"       // 生地
	CategoryAccessory    Category = "Accessory"    // 副資材
	CategoryFinishedGood Category = "FinishedGood" // 完成品
)

// Unit is the unit of measure of an item's quantity
// 数量の単位
type Unit string

const (
	UnitKg    Unit = "kg"
	UnitPiece Unit = "piece"
	UnitMeter Unit = "meter"
	UnitRoll  Unit = "roll"
	UnitBox   Unit = "box"
	UnitSet   Unit = "set"
)

// Identity is the composite key that decides whether a receipt merges into an
// existing item. A nil Color or BatchNumber is a value of its own: it only
// matches another nil, never acts as a wildcard.
// 品目の複合キー（nilはワイルドカードではなく独立した値）
type Identity struct {
	ItemName    string   `json:"item_name" db:"item_name"`                 // 品名
	Category    Category `json:"category" db:"category"`                   // 区分
	Color       *string  `json:"color,omitempty" db:"color"`               // 色
	BatchNumber *string  `json:"batch_number,omitempty" db:"batch_number"` // ロット番号
}

// NewIdentity builds a normalized identity; empty color or batch become nil
// 正規化済みのIdentityを作成
func NewIdentity(name string, category Category, color, batch string) Identity {
	return Identity{
		ItemName:    name,
		Category:    category,
		Color:       optionalString(color),
		BatchNumber: optionalString(batch),
	}.Normalize()
}

// Normalize trims surrounding whitespace and maps blank optional fields to nil
// 前後の空白を除去し、空の任意項目をnilにする
func (id Identity) Normalize() Identity {
	out := Identity{
		ItemName: strings.TrimSpace(id.ItemName),
		Category: Category(strings.TrimSpace(string(id.Category))),
	}
	if id.Color != nil {
		out.Color = optionalString(*id.Color)
	}
	if id.BatchNumber != nil {
		out.BatchNumber = optionalString(*id.BatchNumber)
	}
	return out
}

// Equal reports whether two identities denote the same item
func (id Identity) Equal(other Identity) bool {
	return id.Key() == other.Key()
}

// Key returns a stable string form of the identity
// 比較・ログ用の安定したキー文字列
func (id Identity) Key() string {
	n := id.Normalize()
	var b strings.Builder
	b.WriteString(n.ItemName)
	b.WriteByte(0x1f)
	b.WriteString(string(n.Category))
	for _, p := range []*string{n.Color, n.BatchNumber} {
		b.WriteByte(0x1f)
		if p == nil {
			b.WriteString("\x00")
			continue
		}
		b.WriteString("=")
		b.WriteString(*p)
	}
	return b.String()
}

// Batch returns the batch number or the empty string
func (id Identity) Batch() string {
	if id.BatchNumber == nil {
		return ""
	}
	return *id.BatchNumber
}

// InventoryItem is one row of the registry: the cached running quantity of an identity
// 在庫台帳の1行（同一Identityの現在数量）
type InventoryItem struct {
	Identity // 複合キー

	ID           string          `json:"id" db:"id"`                               // 品目ID
	Quantity     decimal.Decimal `json:"quantity" db:"quantity"`                   // 現在数量
	Unit         Unit            `json:"unit" db:"unit"`                           // 単位
	ColorCode    *string         `json:"color_code,omitempty" db:"color_code"`     // 表示用カラーコード
	ReferenceID  *string         `json:"reference_id,omitempty" db:"reference_id"` // 規格マスタ参照
	RollSequence int64           `json:"roll_sequence" db:"roll_sequence"`         // 発番済みロール連番の最大値
	Version      int64           `json:"version" db:"version"`                     // 楽観的ロック用バージョン
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`               // 作成日時
	LastUpdated  time.Time       `json:"last_updated" db:"last_updated"`           // 最終更新日時
}

// EntryType is the direction of a ledger entry
// 台帳エントリの方向
type EntryType string

const (
	EntryTypeIn  EntryType = "In"  // 入庫
	EntryTypeOut EntryType = "Out" // 出庫
)

// Signed returns the quantity as a registry delta for this direction
func (t EntryType) Signed(q decimal.Decimal) decimal.Decimal {
	if t == EntryTypeOut {
		return q.Neg()
	}
	return q
}

// MetaField is one key/value pair of structured ledger metadata
type MetaField struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Metadata is an ordered list of structured fields attached to a ledger entry
// 台帳エントリに付与する構造化メタデータ（順序付き）
type Metadata []MetaField

// Metadata keys written by the engine and by callers
const (
	MetaOrder      = "order"
	MetaDepartment = "department"
	MetaOperator   = "operator"
	MetaModel      = "model"
	MetaPart       = "part"
	MetaRequestID  = "request_id"
	MetaRolls      = "rolls"
	MetaBefore     = "before"
	MetaAfter      = "after"
)

// Get returns the value stored under key
func (m Metadata) Get(key string) (string, bool) {
	for _, f := range m {
		if f.Key == key {
			return f.Value, true
		}
	}
	return "", false
}

// With returns a copy of m with key set to value, keeping the original order
func (m Metadata) With(key, value string) Metadata {
	out := make(Metadata, 0, len(m)+1)
	replaced := false
	for _, f := range m {
		if f.Key == key {
			out = append(out, MetaField{Key: key, Value: value})
			replaced = true
			continue
		}
		out = append(out, f)
	}
	if !replaced {
		out = append(out, MetaField{Key: key, Value: value})
	}
	return out
}

// LedgerEntry is one immutable fact about a quantity change
// 数量変動の記録（追記専用）
type LedgerEntry struct {
	ID          string          `json:"id" db:"id"`                               // エントリID
	InventoryID string          `json:"inventory_id" db:"inventory_id"`           // 品目ID
	Type        EntryType       `json:"type" db:"type"`                           // In / Out
	Quantity    decimal.Decimal `json:"quantity" db:"quantity"`                   // 数量（常に正）
	Reason      string          `json:"reason" db:"reason"`                       // 自由記述
	Metadata    Metadata        `json:"metadata,omitempty" db:"metadata"`         // 構造化メタデータ
	BatchNumber *string         `json:"batch_number,omitempty" db:"batch_number"` // 監査用ロット番号の写し
	CreatedBy   string          `json:"created_by" db:"created_by"`               // 作成者
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`               // 作成日時
}

// RollStatus is the lifecycle state of a roll
type RollStatus string

const (
	RollStatusInStock RollStatus = "in_stock" // 在庫
	RollStatusUsed    RollStatus = "used"     // 使用済み
)

// Roll is an individually numbered physical unit of a fabric item
// 個別番号付きの生地ロール
type Roll struct {
	ID          string          `json:"id" db:"id"`
	InventoryID string          `json:"inventory_id" db:"inventory_id"`
	RollNumber  string          `json:"roll_number" db:"roll_number"` // "{batch}-{seq}"
	Sequence    int64           `json:"sequence" db:"sequence"`
	Weight      decimal.Decimal `json:"weight" db:"weight"`
	Status      RollStatus      `json:"status" db:"status"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	UsedAt      *time.Time      `json:"used_at,omitempty" db:"used_at"`
}

// RequestStatus is the state of a material request
// 資材請求のステータス
type RequestStatus string

const (
	RequestStatusPending  RequestStatus = "Pending"  // 請求中
	RequestStatusIssued   RequestStatus = "Issued"   // 出庫済み
	RequestStatusReceived RequestStatus = "Received" // 受領済み
)

// next returns the only state reachable from s, or "" for the terminal state
func (s RequestStatus) next() RequestStatus {
	switch s {
	case RequestStatusPending:
		return RequestStatusIssued
	case RequestStatusIssued:
		return RequestStatusReceived
	default:
		return ""
	}
}

// MaterialRequest is a department's pull request for material
// 裁断・縫製部門からの資材請求
type MaterialRequest struct {
	ID           string           `json:"id" db:"id"`
	InventoryID  string           `json:"inventory_id" db:"inventory_id"`
	RequestedQty decimal.Decimal  `json:"requested_qty" db:"requested_qty"`
	IssuedQty    *decimal.Decimal `json:"issued_qty,omitempty" db:"issued_qty"`
	Status       RequestStatus    `json:"status" db:"status"`
	Department   string           `json:"department" db:"department"`
	Note         string           `json:"note,omitempty" db:"note"`
	RequestedBy  string           `json:"requested_by" db:"requested_by"`
	IssuedBy     *string          `json:"issued_by,omitempty" db:"issued_by"`
	IssueEntryID *string          `json:"issue_entry_id,omitempty" db:"issue_entry_id"`
	CreatedAt    time.Time        `json:"created_at" db:"created_at"`
	IssuedAt     *time.Time       `json:"issued_at,omitempty" db:"issued_at"`
	ReceivedAt   *time.Time       `json:"received_at,omitempty" db:"received_at"`
}

// Label is the stable tuple a presentation layer needs to regenerate a QR label
// QRラベル再生成に必要な情報
type Label struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Color  string `json:"color,omitempty"`
	Weight string `json:"weight"`
	Batch  string `json:"batch,omitempty"`
}

// ReceiveInput describes an inbound receipt
// 入庫リクエスト
type ReceiveInput struct {
	Identity    Identity          `json:"identity"`
	Quantity    decimal.Decimal   `json:"quantity"`
	Unit        Unit              `json:"unit"`
	Reason      string            `json:"reason"`
	Metadata    Metadata          `json:"metadata,omitempty"`
	ColorCode   *string           `json:"color_code,omitempty"`
	ReferenceID *string           `json:"reference_id,omitempty"`
	RollWeights []decimal.Decimal `json:"roll_weights,omitempty"`
}

// IssueInput describes an outbound issue
// 出庫リクエスト
type IssueInput struct {
	InventoryID string          `json:"inventory_id"`
	Quantity    decimal.Decimal `json:"quantity"`
	Reason      string          `json:"reason"`
	Metadata    Metadata        `json:"metadata,omitempty"`
	RollIDs     []string        `json:"roll_ids,omitempty"`
}

// ItemFields carries the descriptive fields an edit may change. Nil pointers
// leave the field untouched; ClearColor / ClearBatch set the field to nil.
// 編集可能な記述項目
type ItemFields struct {
	ItemName    *string `json:"item_name,omitempty"`
	Color       *string `json:"color,omitempty"`
	ClearColor  bool    `json:"clear_color,omitempty"`
	BatchNumber *string `json:"batch_number,omitempty"`
	ClearBatch  bool    `json:"clear_batch,omitempty"`
	Unit        *Unit   `json:"unit,omitempty"`
	ColorCode   *string `json:"color_code,omitempty"`
	ReferenceID *string `json:"reference_id,omitempty"`
}

// ItemFilter narrows ListItems
type ItemFilter struct {
	Category Category
	Name     string
}

// RequestInput creates a material request
type RequestInput struct {
	InventoryID string          `json:"inventory_id"`
	Quantity    decimal.Decimal `json:"quantity"`
	Department  string          `json:"department"`
	Note        string          `json:"note,omitempty"`
}

// IssueRequestInput carries the warehouse side of fulfilling a request
type IssueRequestInput struct {
	RollIDs  []string `json:"roll_ids,omitempty"`
	Reason   string   `json:"reason,omitempty"`
	Metadata Metadata `json:"metadata,omitempty"`
}

// RequestFilter narrows ListRequests
type RequestFilter struct {
	Status      RequestStatus
	InventoryID string
}

// NewID generates a new surrogate id
// 新しいIDを生成
func NewID() string {
	return uuid.New().String()
}

func optionalString(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func derefString(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
