package inventory

import (
	"context"
	"sort"
	"time"
)

// Ledger is the append-only record of quantity changes. It never refuses an
// entry on business grounds; the Reconciliation Engine decides what to write.
// 入出庫台帳（追記専用）
type Ledger struct {
	store LedgerStore
}

// NewLedger creates a ledger over the given store, usually a Tx
// 新しい台帳を作成
func NewLedger(store LedgerStore) *Ledger {
	return &Ledger{store: store}
}

// Append records entry and returns its id
// エントリを追記
func (l *Ledger) Append(ctx context.Context, entry *LedgerEntry) (string, error) {
	if entry.InventoryID == "" {
		return "", NewValidationError("inventory_id", "品目IDが指定されていません", "")
	}
	switch entry.Type {
	case EntryTypeIn, EntryTypeOut:
	default:
		return "", NewValidationError("type", "無効なエントリ種別です", string(entry.Type))
	}
	if err := ValidatePositiveQuantity("quantity", entry.Quantity); err != nil {
		return "", err
	}

	if entry.ID == "" {
		entry.ID = NewID()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	if err := l.store.AppendEntry(ctx, entry); err != nil {
		return "", wrapStorage("append_entry", "台帳エントリの追記に失敗しました", err)
	}
	return entry.ID, nil
}

// ListByItem returns the item's entries newest first
// 品目の台帳エントリを新しい順に取得
func (l *Ledger) ListByItem(ctx context.Context, inventoryID string) ([]LedgerEntry, error) {
	entries, err := l.store.ListEntriesByItem(ctx, inventoryID)
	if err != nil {
		return nil, wrapStorage("list_entries", "台帳エントリ取得に失敗しました", err)
	}
	SortEntriesNewestFirst(entries)
	return entries, nil
}

// Get returns one entry
func (l *Ledger) Get(ctx context.Context, entryID string) (*LedgerEntry, error) {
	entry, err := l.store.GetEntry(ctx, entryID)
	if err != nil {
		return nil, wrapStorage("get_entry", "台帳エントリ取得に失敗しました", err)
	}
	return entry, nil
}

// Delete removes the entry. Reversing its effect on the registry is the
// caller's job.
// エントリを削除（在庫数量の戻しは呼び出し側で行う）
func (l *Ledger) Delete(ctx context.Context, entryID string) error {
	if err := l.store.DeleteEntry(ctx, entryID); err != nil {
		return wrapStorage("delete_entry", "台帳エントリ削除に失敗しました", err)
	}
	return nil
}

// SortEntriesNewestFirst orders entries by CreatedAt descending, ties by id
func SortEntriesNewestFirst(entries []LedgerEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].CreatedAt.After(entries[j].CreatedAt)
		}
		return entries[i].ID > entries[j].ID
	})
}
