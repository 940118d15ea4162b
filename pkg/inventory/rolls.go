package inventory

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// RollTracker numbers and tracks the physical rolls of a fabric item
// 生地ロールの発番と状態管理
type RollTracker struct {
	store RollStore
}

// NewRollTracker creates a roll tracker over the given store, usually a Tx
// 新しいロールトラッカーを作成
func NewRollTracker(store RollStore) *RollTracker {
	return &RollTracker{store: store}
}

// CreateBatch creates one in-stock roll per weight. Sequence numbers continue
// from the larger of the existing roll count and the item's high-water mark,
// so a number is never handed out twice even after rolls were deleted.
// ロールを一括作成（連番は再利用しない）
func (rt *RollTracker) CreateBatch(ctx context.Context, item *InventoryItem, batchNumber string, weights []decimal.Decimal, at time.Time) ([]Roll, error) {
	if len(weights) == 0 {
		return nil, nil
	}
	if err := ValidateRollCategory(item.Category); err != nil {
		return nil, err
	}
	if err := ValidateBatchNumber(batchNumber); err != nil {
		return nil, err
	}
	if err := ValidateRollWeights(weights); err != nil {
		return nil, err
	}

	count, err := rt.store.CountRolls(ctx, item.ID)
	if err != nil {
		return nil, wrapStorage("count_rolls", "ロール数取得に失敗しました", err)
	}
	start := count
	if item.RollSequence > start {
		start = item.RollSequence
	}
	start++

	rolls := make([]Roll, len(weights))
	for i, w := range weights {
		seq := start + int64(i)
		rolls[i] = Roll{
			ID:          NewID(),
			InventoryID: item.ID,
			RollNumber:  fmt.Sprintf("%s-%d", batchNumber, seq),
			Sequence:    seq,
			Weight:      w,
			Status:      RollStatusInStock,
			CreatedAt:   at,
		}
	}

	if err := rt.store.CreateRolls(ctx, rolls); err != nil {
		return nil, wrapStorage("create_rolls", "ロール作成に失敗しました", err)
	}

	last := rolls[len(rolls)-1].Sequence
	if err := rt.store.SetRollSequence(ctx, item.ID, last); err != nil {
		return nil, wrapStorage("set_roll_sequence", "ロール連番の更新に失敗しました", err)
	}
	item.RollSequence = last

	return rolls, nil
}

// MarkUsed flips the given rolls to used and returns them with their total
// weight. Every roll must exist, belong to the item and still be in stock.
// ロールを使用済みにし、合計重量を返す
func (rt *RollTracker) MarkUsed(ctx context.Context, inventoryID string, rollIDs []string, at time.Time) ([]Roll, decimal.Decimal, error) {
	if len(rollIDs) == 0 {
		return nil, decimal.Zero, NewValidationError("roll_ids", "ロールが指定されていません", "")
	}
	if err := ValidateRollIDs(rollIDs); err != nil {
		return nil, decimal.Zero, err
	}

	found, err := rt.store.GetRolls(ctx, rollIDs)
	if err != nil {
		return nil, decimal.Zero, wrapStorage("get_rolls", "ロール取得に失敗しました", err)
	}
	byID := make(map[string]Roll, len(found))
	for _, r := range found {
		byID[r.ID] = r
	}

	used := make([]Roll, 0, len(rollIDs))
	total := decimal.Zero
	for _, id := range rollIDs {
		r, ok := byID[id]
		if !ok {
			return nil, decimal.Zero, NewNotFoundError(ResourceRoll, id)
		}
		if r.InventoryID != inventoryID {
			return nil, decimal.Zero, NewValidationError("roll_ids", "別の品目のロールです", r.RollNumber)
		}
		if r.Status != RollStatusInStock {
			return nil, decimal.Zero, NewValidationError("roll_ids", "ロールは使用済みです", r.RollNumber)
		}
		total = total.Add(r.Weight)
		r.Status = RollStatusUsed
		usedAt := at
		r.UsedAt = &usedAt
		used = append(used, r)
	}

	n, err := rt.store.MarkRollsUsed(ctx, rollIDs, at)
	if err != nil {
		return nil, decimal.Zero, wrapStorage("mark_rolls_used", "ロール更新に失敗しました", err)
	}
	if n != int64(len(rollIDs)) {
		return nil, decimal.Zero, NewConcurrencyConflictError("mark_rolls_used", ResourceRoll, "ロールが他の操作で更新されました", nil)
	}

	return used, total, nil
}

// ListByItem returns the item's rolls in roll-number order
// 品目のロールをロール番号順に取得
func (rt *RollTracker) ListByItem(ctx context.Context, inventoryID string) ([]Roll, error) {
	rolls, err := rt.store.ListRollsByItem(ctx, inventoryID)
	if err != nil {
		return nil, wrapStorage("list_rolls", "ロール取得に失敗しました", err)
	}
	SortRolls(rolls)
	return rolls, nil
}

// SortRolls orders rolls ascending by the numeric suffix after the last '-'.
// When either suffix is not a number the full roll numbers are compared.
// ロール番号の末尾の連番で昇順に並べる
func SortRolls(rolls []Roll) {
	sort.SliceStable(rolls, func(i, j int) bool {
		return rollLess(rolls[i].RollNumber, rolls[j].RollNumber)
	})
}

func rollLess(a, b string) bool {
	na, okA := rollSuffix(a)
	nb, okB := rollSuffix(b)
	if okA && okB && na != nb {
		return na < nb
	}
	return a < b
}

func rollSuffix(number string) (int64, bool) {
	idx := strings.LastIndex(number, "-")
	if idx < 0 || idx == len(number)-1 {
		return 0, false
	}
	n, err := strconv.ParseInt(number[idx+1:], 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// rollNumbers joins roll numbers for ledger metadata
func rollNumbers(rolls []Roll) string {
	names := make([]string, len(rolls))
	for i, r := range rolls {
		names[i] = r.RollNumber
	}
	return strings.Join(names, ",")
}
