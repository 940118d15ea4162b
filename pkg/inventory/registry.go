package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Registry holds one row per identity with its cached running quantity
// 在庫台帳（Identityごとの現在数量）
type Registry struct {
	store RegistryStore
}

// NewRegistry creates a registry over the given store, usually a Tx
func NewRegistry(store RegistryStore) *Registry {
	return &Registry{store: store}
}

// Lookup finds the item for identity, or returns nil when none exists
// 複合キーで品目を検索（存在しない場合はnil）
func (r *Registry) Lookup(ctx context.Context, identity Identity) (*InventoryItem, error) {
	item, err := r.store.FindItemByIdentity(ctx, identity.Normalize())
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, wrapStorage("find_item", "品目検索に失敗しました", err)
	}
	return item, nil
}

// Get returns the item or a NotFoundError
func (r *Registry) Get(ctx context.Context, inventoryID string) (*InventoryItem, error) {
	if inventoryID == "" {
		return nil, NewValidationError("inventory_id", "品目IDが指定されていません", "")
	}
	item, err := r.store.GetItem(ctx, inventoryID)
	if err != nil {
		return nil, wrapStorage("get_item", "品目取得に失敗しました", err)
	}
	return item, nil
}

// Create inserts a new item at version 1
// 新しい品目を登録
func (r *Registry) Create(ctx context.Context, item *InventoryItem) error {
	if item.ID == "" {
		item.ID = NewID()
	}
	item.Identity = item.Identity.Normalize()
	item.Version = 1
	if err := r.store.CreateItem(ctx, item); err != nil {
		return wrapStorage("create_item", "品目登録に失敗しました", err)
	}
	return nil
}

// Adjust applies delta atomically and returns the new quantity. A delta that
// would leave the quantity negative fails with InsufficientStockError.
// 数量を差分で更新
func (r *Registry) Adjust(ctx context.Context, inventoryID string, delta decimal.Decimal, at time.Time) (decimal.Decimal, error) {
	q, err := r.store.AdjustQuantity(ctx, inventoryID, delta, at)
	if err != nil {
		return decimal.Zero, wrapStorage("adjust_quantity", "数量更新に失敗しました", err)
	}
	return q, nil
}

// Update writes item under the version check; item.Version is bumped on success
// バージョンチェック付きで品目を更新
func (r *Registry) Update(ctx context.Context, item *InventoryItem) error {
	item.Version++
	if err := r.store.UpdateItem(ctx, item); err != nil {
		item.Version--
		return wrapStorage("update_item", "品目更新に失敗しました", err)
	}
	return nil
}
