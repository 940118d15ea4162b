package inventory

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// GetItem returns one item
// 品目を取得
func (m *Manager) GetItem(ctx context.Context, inventoryID string) (*InventoryItem, error) {
	var item *InventoryItem
	err := m.storage.WithTx(ctx, func(tx Tx) error {
		var err error
		item, err = NewRegistry(tx).Get(ctx, inventoryID)
		return err
	})
	if err != nil {
		return nil, wrapStorage("get_item", "品目取得に失敗しました", err)
	}
	return item, nil
}

// FindItem returns the item with the given identity or a NotFoundError
// 複合キーで品目を取得
func (m *Manager) FindItem(ctx context.Context, identity Identity) (*InventoryItem, error) {
	identity = identity.Normalize()
	if err := ValidateIdentity(identity); err != nil {
		return nil, err
	}
	var item *InventoryItem
	err := m.storage.WithTx(ctx, func(tx Tx) error {
		var err error
		item, err = NewRegistry(tx).Lookup(ctx, identity)
		return err
	})
	if err != nil {
		return nil, wrapStorage("find_item", "品目検索に失敗しました", err)
	}
	if item == nil {
		return nil, NewNotFoundError(ResourceItem, identity.ItemName)
	}
	return item, nil
}

// ListItems returns items matching filter ordered by name
// 品目一覧を取得
func (m *Manager) ListItems(ctx context.Context, filter ItemFilter) ([]InventoryItem, error) {
	if filter.Category != "" {
		if err := ValidateCategory(filter.Category); err != nil {
			return nil, err
		}
	}
	var items []InventoryItem
	err := m.storage.WithTx(ctx, func(tx Tx) error {
		var err error
		items, err = tx.ListItems(ctx, filter)
		return err
	})
	if err != nil {
		return nil, wrapStorage("list_items", "品目一覧取得に失敗しました", err)
	}
	return items, nil
}

// ListHistory returns the item's ledger newest first
// 入出庫履歴を取得
func (m *Manager) ListHistory(ctx context.Context, inventoryID string) ([]LedgerEntry, error) {
	var entries []LedgerEntry
	err := m.storage.WithTx(ctx, func(tx Tx) error {
		if _, err := NewRegistry(tx).Get(ctx, inventoryID); err != nil {
			return err
		}
		var err error
		entries, err = NewLedger(tx).ListByItem(ctx, inventoryID)
		return err
	})
	if err != nil {
		return nil, wrapStorage("list_history", "履歴取得に失敗しました", err)
	}
	return entries, nil
}

// ListRolls returns the item's rolls in roll-number order
// ロール一覧を取得
func (m *Manager) ListRolls(ctx context.Context, inventoryID string) ([]Roll, error) {
	var rolls []Roll
	err := m.storage.WithTx(ctx, func(tx Tx) error {
		if _, err := NewRegistry(tx).Get(ctx, inventoryID); err != nil {
			return err
		}
		var err error
		rolls, err = NewRollTracker(tx).ListByItem(ctx, inventoryID)
		return err
	})
	if err != nil {
		return nil, wrapStorage("list_rolls", "ロール取得に失敗しました", err)
	}
	return rolls, nil
}

// History returns the item with its ledger and running totals
// 履歴ビューを取得
func (m *Manager) History(ctx context.Context, inventoryID string) (*HistoryView, error) {
	item, entries, err := m.itemWithEntries(ctx, inventoryID)
	if err != nil {
		return nil, err
	}
	view := BuildHistory(*item, entries, m.config.EditEpsilon)
	return &view, nil
}

// Verify recomputes the ledger balance of an item and compares it with the
// registry quantity. It never writes.
// 台帳と在庫数量の整合性を検証
func (m *Manager) Verify(ctx context.Context, inventoryID string) (*DriftReport, error) {
	item, entries, err := m.itemWithEntries(ctx, inventoryID)
	if err != nil {
		return nil, err
	}
	view := BuildHistory(*item, entries, m.config.EditEpsilon)
	report := &DriftReport{
		InventoryID: item.ID,
		Recorded:    item.Quantity,
		Computed:    view.CurrentBalance,
		Drift:       item.Quantity.Sub(view.CurrentBalance),
		Entries:     len(entries),
		Consistent:  view.Consistent,
		CheckedAt:   time.Now().UTC(),
	}
	if !report.Consistent {
		m.logger.Warn("台帳と在庫数量が一致しません",
			zap.String("inventory_id", item.ID),
			zap.Stringer("recorded", report.Recorded),
			zap.Stringer("computed", report.Computed),
		)
	}
	return report, nil
}

// Aggregate returns grouped totals for dashboards and the inbound table
// 集計を取得
func (m *Manager) Aggregate(ctx context.Context, query AggregateQuery) (*AggregateResult, error) {
	if query.GroupBy == "" {
		query.GroupBy = GroupByName
	}
	if query.GroupBy != GroupByName && query.GroupBy != GroupByNameDate {
		return nil, NewValidationError("group_by", "無効な集計軸です", string(query.GroupBy))
	}
	if query.Category != "" {
		if err := ValidateCategory(query.Category); err != nil {
			return nil, err
		}
	}

	var (
		items   []InventoryItem
		entries []LedgerEntry
	)
	err := m.storage.WithTx(ctx, func(tx Tx) error {
		var err error
		if items, err = tx.ListItems(ctx, ItemFilter{Category: query.Category}); err != nil {
			return err
		}
		if query.GroupBy == GroupByNameDate {
			entries, err = tx.ListEntries(ctx, EntryFilter{Type: EntryTypeIn})
		}
		return err
	})
	if err != nil {
		return nil, wrapStorage("aggregate", "集計に失敗しました", err)
	}

	result := &AggregateResult{Query: query}
	switch query.GroupBy {
	case GroupByName:
		result.Totals = SummarizeByName(items, query.Category)
	case GroupByNameDate:
		result.Inbound = GroupInbound(items, entries)
	}
	return result, nil
}

// IssueSummary totals outbound quantities by a structured metadata key
// such as "model" or "department"
// 出庫数量をメタデータのキーごとに集計
func (m *Manager) IssueSummary(ctx context.Context, key string) ([]IssueTotal, error) {
	if key == "" {
		return nil, NewValidationError("key", "集計キーが指定されていません", "")
	}
	var entries []LedgerEntry
	err := m.storage.WithTx(ctx, func(tx Tx) error {
		var err error
		entries, err = tx.ListEntries(ctx, EntryFilter{Type: EntryTypeOut})
		return err
	})
	if err != nil {
		return nil, wrapStorage("issue_summary", "出庫集計に失敗しました", err)
	}
	return SummarizeIssues(entries, key), nil
}

// ItemLabel returns the label tuple of an item
// 品目ラベル情報を取得
func (m *Manager) ItemLabel(ctx context.Context, inventoryID string) (*Label, error) {
	item, err := m.GetItem(ctx, inventoryID)
	if err != nil {
		return nil, err
	}
	label := ItemLabelFor(*item)
	return &label, nil
}

// RollLabels returns one label tuple per in-stock roll of an item
// ロールラベル情報を取得
func (m *Manager) RollLabels(ctx context.Context, inventoryID string) ([]Label, error) {
	var (
		item  *InventoryItem
		rolls []Roll
	)
	err := m.storage.WithTx(ctx, func(tx Tx) error {
		var err error
		if item, err = NewRegistry(tx).Get(ctx, inventoryID); err != nil {
			return err
		}
		rolls, err = NewRollTracker(tx).ListByItem(ctx, inventoryID)
		return err
	})
	if err != nil {
		return nil, wrapStorage("roll_labels", "ロールラベル取得に失敗しました", err)
	}

	labels := make([]Label, 0, len(rolls))
	for _, r := range rolls {
		if r.Status != RollStatusInStock {
			continue
		}
		labels = append(labels, RollLabelFor(*item, r))
	}
	return labels, nil
}

func (m *Manager) itemWithEntries(ctx context.Context, inventoryID string) (*InventoryItem, []LedgerEntry, error) {
	var (
		item    *InventoryItem
		entries []LedgerEntry
	)
	err := m.storage.WithTx(ctx, func(tx Tx) error {
		var err error
		if item, err = NewRegistry(tx).Get(ctx, inventoryID); err != nil {
			return err
		}
		entries, err = NewLedger(tx).ListByItem(ctx, inventoryID)
		return err
	})
	if err != nil {
		return nil, nil, wrapStorage("history", "履歴取得に失敗しました", err)
	}
	return item, entries, nil
}
