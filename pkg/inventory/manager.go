package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Manager is the reconciliation engine. It holds no business state of its
// own; every operation runs in exactly one storage transaction.
// 在庫整合エンジン（状態はすべてストレージ側に持つ）
type Manager struct {
	storage   Storage         // ストレージ層
	publisher EventPublisher  // イベント発行者
	metrics   MetricsRecorder // メトリクス
	logger    *zap.Logger     // ログ
	config    *Config         // 設定
}

// すべてのインターフェースを実装することを明示
var (
	_ Service              = (*Manager)(nil)
	_ ReconciliationEngine = (*Manager)(nil)
	_ InventoryReader      = (*Manager)(nil)
	_ RequestWorkflow      = (*Manager)(nil)
)

// CorrectionReason is the reason written on entries appended by EditQuantity
const CorrectionReason = "correction"

// Config holds configuration for the inventory manager
// 在庫マネージャーの設定を保持
type Config struct {
	EditEpsilon   decimal.Decimal `yaml:"edit_epsilon"`   // 補正エントリを作らない差分の上限
	DefaultUnit   Unit            `yaml:"default_unit"`   // 単位未指定時の既定値
	RequestReason string          `yaml:"request_reason"` // 資材請求出庫の既定の理由
}

// DefaultConfig returns the configuration used when none is given
// デフォルト設定を返す
func DefaultConfig() *Config {
	return &Config{
		EditEpsilon:   decimal.New(1, -3),
		DefaultUnit:   UnitPiece,
		RequestReason: "material request",
	}
}

// NewManager creates a new inventory manager. publisher and metrics may be nil.
// 新しい在庫マネージャーを作成
func NewManager(storage Storage, publisher EventPublisher, metrics MetricsRecorder, logger *zap.Logger, config *Config) *Manager {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		storage:   storage,
		publisher: publisher,
		metrics:   metrics,
		logger:    logger,
		config:    config,
	}
}

// Receive records an inbound receipt. A receipt whose identity matches an
// existing item merges into it; otherwise a new item is created.
// 入庫を記録（同一Identityは既存品目に合算）
func (m *Manager) Receive(ctx context.Context, in ReceiveInput) (inventoryID string, err error) {
	defer m.observe("receive", time.Now(), &err)

	in.Identity = in.Identity.Normalize()
	if len(in.RollWeights) > 0 && in.Quantity.IsZero() {
		in.Quantity = sumWeights(in.RollWeights)
	}
	if err := ValidateReceiveInput(in); err != nil {
		return "", err
	}

	user := UserFromContext(ctx)
	now := time.Now().UTC()

	var (
		item  *InventoryItem
		entry *LedgerEntry
	)
	err = m.storage.WithTx(ctx, func(tx Tx) error {
		reg := NewRegistry(tx)
		existing, err := reg.Lookup(ctx, in.Identity)
		if err != nil {
			return err
		}

		if existing == nil {
			unit := in.Unit
			if unit == "" {
				unit = m.config.DefaultUnit
			}
			item = &InventoryItem{
				ID:          NewID(),
				Identity:    in.Identity,
				Quantity:    in.Quantity,
				Unit:        unit,
				ColorCode:   in.ColorCode,
				ReferenceID: in.ReferenceID,
				CreatedAt:   now,
				LastUpdated: now,
			}
			if err := reg.Create(ctx, item); err != nil {
				return err
			}
		} else {
			if in.Unit != "" && in.Unit != existing.Unit {
				return NewValidationError("unit", "既存品目と単位が異なります", string(in.Unit))
			}
			q, err := reg.Adjust(ctx, existing.ID, in.Quantity, now)
			if err != nil {
				return err
			}
			existing.Quantity = q
			existing.LastUpdated = now
			item = existing
		}

		metadata := in.Metadata
		if len(in.RollWeights) > 0 {
			rolls, err := NewRollTracker(tx).CreateBatch(ctx, item, in.Identity.Batch(), in.RollWeights, now)
			if err != nil {
				return err
			}
			metadata = metadata.With(MetaRolls, rollNumbers(rolls))
		}

		entry = &LedgerEntry{
			InventoryID: item.ID,
			Type:        EntryTypeIn,
			Quantity:    in.Quantity,
			Reason:      in.Reason,
			Metadata:    metadata,
			BatchNumber: in.Identity.BatchNumber,
			CreatedBy:   user,
			CreatedAt:   now,
		}
		_, err = NewLedger(tx).Append(ctx, entry)
		return err
	})
	if err != nil {
		return "", wrapStorage("receive", "入庫処理に失敗しました", err)
	}

	m.afterCommit(ctx, ChangeReceive, item, entry.ID, in.Quantity)

	m.logger.Info("入庫完了",
		zap.String("inventory_id", item.ID),
		zap.String("item_name", item.ItemName),
		zap.String("category", string(item.Category)),
		zap.Stringer("quantity", in.Quantity),
		zap.Stringer("new_quantity", item.Quantity),
		zap.Int("rolls", len(in.RollWeights)),
	)

	return item.ID, nil
}

// Issue records an outbound issue. With RollIDs the quantity is the sum of
// the rolls' weights and those rolls become used.
// 出庫を記録
func (m *Manager) Issue(ctx context.Context, in IssueInput) (err error) {
	defer m.observe("issue", time.Now(), &err)

	if err := ValidateIssueInput(in); err != nil {
		return err
	}

	user := UserFromContext(ctx)
	now := time.Now().UTC()

	var (
		item  *InventoryItem
		entry *LedgerEntry
	)
	err = m.storage.WithTx(ctx, func(tx Tx) error {
		var err error
		item, entry, err = m.issueInTx(ctx, tx, in, user, now)
		return err
	})
	if err != nil {
		return wrapStorage("issue", "出庫処理に失敗しました", err)
	}

	m.afterCommit(ctx, ChangeIssue, item, entry.ID, entry.Quantity.Neg())

	m.logger.Info("出庫完了",
		zap.String("inventory_id", item.ID),
		zap.Stringer("quantity", entry.Quantity),
		zap.Stringer("new_quantity", item.Quantity),
		zap.Int("rolls", len(in.RollIDs)),
	)

	return nil
}

// issueInTx is the issue core shared by Issue and IssueRequest
func (m *Manager) issueInTx(ctx context.Context, tx Tx, in IssueInput, user string, now time.Time) (*InventoryItem, *LedgerEntry, error) {
	reg := NewRegistry(tx)
	item, err := reg.Get(ctx, in.InventoryID)
	if err != nil {
		return nil, nil, err
	}

	qty := in.Quantity
	metadata := in.Metadata
	if len(in.RollIDs) > 0 {
		used, total, err := NewRollTracker(tx).MarkUsed(ctx, item.ID, in.RollIDs, now)
		if err != nil {
			return nil, nil, err
		}
		if !qty.IsZero() && !qty.Equal(total) {
			return nil, nil, NewValidationError("quantity", "数量がロール重量の合計と一致しません", qty.String())
		}
		qty = total
		metadata = metadata.With(MetaRolls, rollNumbers(used))
	}

	q, err := reg.Adjust(ctx, item.ID, qty.Neg(), now)
	if err != nil {
		return nil, nil, err
	}
	item.Quantity = q
	item.LastUpdated = now

	entry := &LedgerEntry{
		InventoryID: item.ID,
		Type:        EntryTypeOut,
		Quantity:    qty,
		Reason:      in.Reason,
		Metadata:    metadata,
		BatchNumber: item.BatchNumber,
		CreatedBy:   user,
		CreatedAt:   now,
	}
	if _, err := NewLedger(tx).Append(ctx, entry); err != nil {
		return nil, nil, err
	}
	return item, entry, nil
}

// EditQuantity updates descriptive fields and sets the quantity directly.
// A difference above EditEpsilon is recorded as a correction entry so the
// ledger still sums to the new quantity.
// 記述項目を更新し、数量を直接設定（差分は補正エントリとして記録）
func (m *Manager) EditQuantity(ctx context.Context, inventoryID string, fields ItemFields, newQuantity decimal.Decimal) (err error) {
	defer m.observe("edit", time.Now(), &err)

	if err := ValidateNonNegativeQuantity("quantity", newQuantity); err != nil {
		return err
	}

	user := UserFromContext(ctx)
	now := time.Now().UTC()

	var (
		updated InventoryItem
		before  decimal.Decimal
		entryID string
	)
	err = m.storage.WithTx(ctx, func(tx Tx) error {
		reg := NewRegistry(tx)
		item, err := reg.Get(ctx, inventoryID)
		if err != nil {
			return err
		}
		before = item.Quantity

		updated = *item
		applyFields(&updated, fields)
		if err := ValidateIdentity(updated.Identity); err != nil {
			return err
		}
		if err := ValidateUnit(updated.Unit); err != nil {
			return err
		}
		if !updated.Identity.Equal(item.Identity) {
			other, err := reg.Lookup(ctx, updated.Identity)
			if err != nil {
				return err
			}
			if other != nil && other.ID != item.ID {
				return NewValidationError("identity", "同じ品名・区分・色・ロットの品目が既に存在します", other.ID)
			}
		}

		diff := newQuantity.Sub(before)
		if diff.Abs().GreaterThan(m.config.EditEpsilon) {
			entryType := EntryTypeIn
			if diff.IsNegative() {
				entryType = EntryTypeOut
			}
			entry := &LedgerEntry{
				InventoryID: item.ID,
				Type:        entryType,
				Quantity:    diff.Abs(),
				Reason:      CorrectionReason,
				Metadata: Metadata{
					{Key: MetaBefore, Value: before.String()},
					{Key: MetaAfter, Value: newQuantity.String()},
				},
				BatchNumber: updated.BatchNumber,
				CreatedBy:   user,
				CreatedAt:   now,
			}
			if entryID, err = NewLedger(tx).Append(ctx, entry); err != nil {
				return err
			}
		}

		updated.Quantity = newQuantity
		updated.LastUpdated = now
		return reg.Update(ctx, &updated)
	})
	if err != nil {
		return wrapStorage("edit_quantity", "品目編集に失敗しました", err)
	}

	m.afterCommit(ctx, ChangeEdit, &updated, entryID, newQuantity.Sub(before))

	m.logger.Info("品目編集完了",
		zap.String("inventory_id", inventoryID),
		zap.Stringer("before", before),
		zap.Stringer("after", newQuantity),
		zap.Bool("correction", entryID != ""),
	)

	return nil
}

// DeleteLedgerEntry removes an entry and reverses its effect against the
// item's current quantity.
// 台帳エントリを削除し、現在数量から影響を戻す
func (m *Manager) DeleteLedgerEntry(ctx context.Context, entryID string) (err error) {
	defer m.observe("ledger_delete", time.Now(), &err)

	if entryID == "" {
		return NewValidationError("entry_id", "エントリIDが指定されていません", "")
	}
	now := time.Now().UTC()

	var (
		item  *InventoryItem
		delta decimal.Decimal
	)
	err = m.storage.WithTx(ctx, func(tx Tx) error {
		ledger := NewLedger(tx)
		entry, err := ledger.Get(ctx, entryID)
		if err != nil {
			return err
		}
		reg := NewRegistry(tx)
		item, err = reg.Get(ctx, entry.InventoryID)
		if err != nil {
			return err
		}

		delta = entry.Type.Signed(entry.Quantity).Neg()
		q, err := reg.Adjust(ctx, item.ID, delta, now)
		if err != nil {
			return err
		}
		item.Quantity = q
		item.LastUpdated = now

		return ledger.Delete(ctx, entryID)
	})
	if err != nil {
		return wrapStorage("delete_ledger_entry", "台帳エントリ削除に失敗しました", err)
	}

	m.afterCommit(ctx, ChangeEntryDelete, item, entryID, delta)

	m.logger.Info("台帳エントリ削除完了",
		zap.String("entry_id", entryID),
		zap.String("inventory_id", item.ID),
		zap.Stringer("delta", delta),
		zap.Stringer("new_quantity", item.Quantity),
	)

	return nil
}

// DeleteItem removes an item with its ledger entries, rolls and material requests
// 品目と関連データをすべて削除
func (m *Manager) DeleteItem(ctx context.Context, inventoryID string) (err error) {
	defer m.observe("item_delete", time.Now(), &err)

	var (
		item                     *InventoryItem
		entries, rolls, requests int64
	)
	err = m.storage.WithTx(ctx, func(tx Tx) error {
		var err error
		item, err = NewRegistry(tx).Get(ctx, inventoryID)
		if err != nil {
			return err
		}
		if entries, err = tx.DeleteEntriesByItem(ctx, inventoryID); err != nil {
			return err
		}
		if rolls, err = tx.DeleteRollsByItem(ctx, inventoryID); err != nil {
			return err
		}
		if requests, err = tx.DeleteRequestsByItem(ctx, inventoryID); err != nil {
			return err
		}
		return tx.DeleteItem(ctx, inventoryID)
	})
	if err != nil {
		return wrapStorage("delete_item", "品目削除に失敗しました", err)
	}

	if m.metrics != nil {
		m.metrics.ForgetItem(inventoryID)
	}
	deleted := *item
	deleted.Quantity = decimal.Zero
	m.publish(ctx, ChangeItemDelete, &deleted, "", item.Quantity.Neg())

	m.logger.Info("品目削除完了",
		zap.String("inventory_id", inventoryID),
		zap.Int64("entries", entries),
		zap.Int64("rolls", rolls),
		zap.Int64("requests", requests),
	)

	return nil
}

// RetryOnConflict runs fn up to attempts times while it fails with a
// concurrency conflict. The engine itself never retries.
// 競合時に操作全体を再試行する呼び出し側のヘルパー
func RetryOnConflict(ctx context.Context, attempts int, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil || !errors.Is(err, ErrConcurrencyConflict) {
			return err
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(time.Duration(i+1) * 10 * time.Millisecond):
		}
	}
	return err
}

// ヘルパーメソッド

func (m *Manager) observe(operation string, start time.Time, err *error) {
	if m.metrics != nil {
		m.metrics.ObserveOperation(operation, *err, time.Since(start))
	}
}

// afterCommit records the new stock level and publishes the change
func (m *Manager) afterCommit(ctx context.Context, change string, item *InventoryItem, entryID string, delta decimal.Decimal) {
	if m.metrics != nil {
		m.metrics.SetStockLevel(item)
	}
	m.publish(ctx, change, item, entryID, delta)
}

// publish emits a StockChangedEvent. The store is the source of truth, so a
// failed publish is logged and not returned.
func (m *Manager) publish(ctx context.Context, change string, item *InventoryItem, entryID string, delta decimal.Decimal) {
	if m.publisher == nil {
		return
	}
	event := StockChangedEvent{
		EventID:     NewID(),
		InventoryID: item.ID,
		ItemName:    item.ItemName,
		Category:    item.Category,
		ChangeType:  change,
		EntryID:     entryID,
		Delta:       delta,
		NewQuantity: item.Quantity,
		UserID:      UserFromContext(ctx),
		Timestamp:   time.Now().UTC(),
	}
	if err := m.publisher.PublishStockChanged(ctx, event); err != nil {
		m.logger.Error("イベント発行に失敗しました",
			zap.String("inventory_id", item.ID),
			zap.String("change_type", change),
			zap.Error(err),
		)
	}
}

func applyFields(item *InventoryItem, f ItemFields) {
	if f.ItemName != nil {
		item.ItemName = *f.ItemName
	}
	if f.ClearColor {
		item.Color = nil
	} else if f.Color != nil {
		item.Color = optionalString(*f.Color)
	}
	if f.ClearBatch {
		item.BatchNumber = nil
	} else if f.BatchNumber != nil {
		item.BatchNumber = optionalString(*f.BatchNumber)
	}
	if f.Unit != nil {
		item.Unit = *f.Unit
	}
	if f.ColorCode != nil {
		item.ColorCode = optionalString(*f.ColorCode)
	}
	if f.ReferenceID != nil {
		item.ReferenceID = optionalString(*f.ReferenceID)
	}
	item.Identity = item.Identity.Normalize()
}

func sumWeights(weights []decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, w := range weights {
		total = total.Add(w)
	}
	return total
}
