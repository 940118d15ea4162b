package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nemonet1337/zaiGarment/pkg/inventory"
)

// MemoryStorage is an in-process Storage. Each WithTx works on a copy of the
// state and swaps it in only when fn succeeds, so a failed operation leaves
// nothing behind. Transactions are serialized by a single mutex.
// メモリ上のストレージ（テスト・ローカル実行用）
type MemoryStorage struct {
	mu     sync.Mutex
	state  memoryState
	closed bool
}

var _ inventory.Storage = (*MemoryStorage)(nil)

type memoryState struct {
	items      map[string]inventory.InventoryItem
	identities map[string]string // Identity.Key() -> item id
	entries    map[string]inventory.LedgerEntry
	rolls      map[string]inventory.Roll
	requests   map[string]inventory.MaterialRequest
}

func newMemoryState() memoryState {
	return memoryState{
		items:      map[string]inventory.InventoryItem{},
		identities: map[string]string{},
		entries:    map[string]inventory.LedgerEntry{},
		rolls:      map[string]inventory.Roll{},
		requests:   map[string]inventory.MaterialRequest{},
	}
}

func (s memoryState) clone() memoryState {
	c := memoryState{
		items:      make(map[string]inventory.InventoryItem, len(s.items)),
		identities: make(map[string]string, len(s.identities)),
		entries:    make(map[string]inventory.LedgerEntry, len(s.entries)),
		rolls:      make(map[string]inventory.Roll, len(s.rolls)),
		requests:   make(map[string]inventory.MaterialRequest, len(s.requests)),
	}
	for k, v := range s.items {
		c.items[k] = cloneItem(v)
	}
	for k, v := range s.identities {
		c.identities[k] = v
	}
	for k, v := range s.entries {
		c.entries[k] = cloneEntry(v)
	}
	for k, v := range s.rolls {
		c.rolls[k] = cloneRoll(v)
	}
	for k, v := range s.requests {
		c.requests[k] = cloneRequest(v)
	}
	return c
}

// NewMemoryStorage creates an empty in-memory storage
// 新しいメモリストレージを作成
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{state: newMemoryState()}
}

// WithTx runs fn against a private copy of the state and commits it on success
func (s *MemoryStorage) WithTx(ctx context.Context, fn func(tx inventory.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return inventory.NewStorageError("begin", "ストレージは既に閉じられています", nil)
	}

	tx := &memTx{state: s.state.clone()}
	if err := fn(tx); err != nil {
		return err
	}
	s.state = tx.state
	return nil
}

// Ping reports whether the storage is open
func (s *MemoryStorage) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return inventory.NewStorageError("ping", "ストレージは既に閉じられています", nil)
	}
	return nil
}

// Close marks the storage closed
func (s *MemoryStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type memTx struct {
	state memoryState
}

var _ inventory.Tx = (*memTx)(nil)

// ---- items ----

func (tx *memTx) CreateItem(_ context.Context, item *inventory.InventoryItem) error {
	key := item.Identity.Key()
	if _, ok := tx.state.identities[key]; ok {
		return inventory.NewConcurrencyConflictError("create_item", inventory.ResourceItem, "同じキーの品目が既に存在します", nil)
	}
	if _, ok := tx.state.items[item.ID]; ok {
		return inventory.NewConcurrencyConflictError("create_item", inventory.ResourceItem, "同じIDの品目が既に存在します", nil)
	}
	tx.state.items[item.ID] = cloneItem(*item)
	tx.state.identities[key] = item.ID
	return nil
}

func (tx *memTx) GetItem(_ context.Context, inventoryID string) (*inventory.InventoryItem, error) {
	item, ok := tx.state.items[inventoryID]
	if !ok {
		return nil, inventory.NewNotFoundError(inventory.ResourceItem, inventoryID)
	}
	out := cloneItem(item)
	return &out, nil
}

func (tx *memTx) FindItemByIdentity(ctx context.Context, identity inventory.Identity) (*inventory.InventoryItem, error) {
	id, ok := tx.state.identities[identity.Key()]
	if !ok {
		return nil, inventory.NewNotFoundError(inventory.ResourceItem, identity.ItemName)
	}
	return tx.GetItem(ctx, id)
}

func (tx *memTx) ListItems(_ context.Context, filter inventory.ItemFilter) ([]inventory.InventoryItem, error) {
	name := strings.ToLower(filter.Name)
	items := make([]inventory.InventoryItem, 0, len(tx.state.items))
	for _, it := range tx.state.items {
		if filter.Category != "" && it.Category != filter.Category {
			continue
		}
		if name != "" && !strings.Contains(strings.ToLower(it.ItemName), name) {
			continue
		}
		items = append(items, cloneItem(it))
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].ItemName != items[j].ItemName {
			return items[i].ItemName < items[j].ItemName
		}
		if items[i].Category != items[j].Category {
			return items[i].Category < items[j].Category
		}
		return items[i].ID < items[j].ID
	})
	return items, nil
}

func (tx *memTx) AdjustQuantity(_ context.Context, inventoryID string, delta decimal.Decimal, at time.Time) (decimal.Decimal, error) {
	item, ok := tx.state.items[inventoryID]
	if !ok {
		return decimal.Zero, inventory.NewNotFoundError(inventory.ResourceItem, inventoryID)
	}
	next := item.Quantity.Add(delta)
	if next.IsNegative() {
		return decimal.Zero, inventory.NewInsufficientStockError(inventoryID, delta.Neg(), item.Quantity)
	}
	item.Quantity = next
	item.Version++
	item.LastUpdated = at
	tx.state.items[inventoryID] = item
	return next, nil
}

func (tx *memTx) UpdateItem(_ context.Context, item *inventory.InventoryItem) error {
	current, ok := tx.state.items[item.ID]
	if !ok {
		return inventory.NewNotFoundError(inventory.ResourceItem, item.ID)
	}
	if current.Version != item.Version-1 {
		return inventory.NewConcurrencyConflictError("update_item", inventory.ResourceItem, "品目が他の操作で更新されました", nil)
	}
	oldKey, newKey := current.Identity.Key(), item.Identity.Key()
	if oldKey != newKey {
		if other, taken := tx.state.identities[newKey]; taken && other != item.ID {
			return inventory.NewConcurrencyConflictError("update_item", inventory.ResourceItem, "同じキーの品目が既に存在します", nil)
		}
		delete(tx.state.identities, oldKey)
		tx.state.identities[newKey] = item.ID
	}
	tx.state.items[item.ID] = cloneItem(*item)
	return nil
}

func (tx *memTx) DeleteItem(_ context.Context, inventoryID string) error {
	item, ok := tx.state.items[inventoryID]
	if !ok {
		return inventory.NewNotFoundError(inventory.ResourceItem, inventoryID)
	}
	delete(tx.state.identities, item.Identity.Key())
	delete(tx.state.items, inventoryID)
	return nil
}

func (tx *memTx) SetRollSequence(_ context.Context, inventoryID string, sequence int64) error {
	item, ok := tx.state.items[inventoryID]
	if !ok {
		return inventory.NewNotFoundError(inventory.ResourceItem, inventoryID)
	}
	if sequence > item.RollSequence {
		item.RollSequence = sequence
		tx.state.items[inventoryID] = item
	}
	return nil
}

// ---- ledger ----

func (tx *memTx) AppendEntry(_ context.Context, entry *inventory.LedgerEntry) error {
	if _, ok := tx.state.items[entry.InventoryID]; !ok {
		return inventory.NewNotFoundError(inventory.ResourceItem, entry.InventoryID)
	}
	tx.state.entries[entry.ID] = cloneEntry(*entry)
	return nil
}

func (tx *memTx) GetEntry(_ context.Context, entryID string) (*inventory.LedgerEntry, error) {
	e, ok := tx.state.entries[entryID]
	if !ok {
		return nil, inventory.NewNotFoundError(inventory.ResourceEntry, entryID)
	}
	out := cloneEntry(e)
	return &out, nil
}

func (tx *memTx) ListEntriesByItem(ctx context.Context, inventoryID string) ([]inventory.LedgerEntry, error) {
	return tx.ListEntries(ctx, inventory.EntryFilter{InventoryID: inventoryID})
}

func (tx *memTx) ListEntries(_ context.Context, filter inventory.EntryFilter) ([]inventory.LedgerEntry, error) {
	entries := make([]inventory.LedgerEntry, 0)
	for _, e := range tx.state.entries {
		if filter.InventoryID != "" && e.InventoryID != filter.InventoryID {
			continue
		}
		if filter.Type != "" && e.Type != filter.Type {
			continue
		}
		entries = append(entries, cloneEntry(e))
	}
	inventory.SortEntriesNewestFirst(entries)
	return entries, nil
}

func (tx *memTx) DeleteEntry(_ context.Context, entryID string) error {
	if _, ok := tx.state.entries[entryID]; !ok {
		return inventory.NewNotFoundError(inventory.ResourceEntry, entryID)
	}
	delete(tx.state.entries, entryID)
	for id, req := range tx.state.requests {
		if req.IssueEntryID != nil && *req.IssueEntryID == entryID {
			req.IssueEntryID = nil
			tx.state.requests[id] = req
		}
	}
	return nil
}

func (tx *memTx) DeleteEntriesByItem(_ context.Context, inventoryID string) (int64, error) {
	var n int64
	for id, e := range tx.state.entries {
		if e.InventoryID == inventoryID {
			delete(tx.state.entries, id)
			n++
		}
	}
	return n, nil
}

// ---- rolls ----

func (tx *memTx) CreateRolls(_ context.Context, rolls []inventory.Roll) error {
	for _, r := range rolls {
		if _, ok := tx.state.items[r.InventoryID]; !ok {
			return inventory.NewNotFoundError(inventory.ResourceItem, r.InventoryID)
		}
		for _, existing := range tx.state.rolls {
			if existing.InventoryID == r.InventoryID && existing.RollNumber == r.RollNumber {
				return inventory.NewConcurrencyConflictError("create_rolls", inventory.ResourceRoll, "同じロール番号が既に存在します", nil)
			}
		}
		tx.state.rolls[r.ID] = cloneRoll(r)
	}
	return nil
}

func (tx *memTx) CountRolls(_ context.Context, inventoryID string) (int64, error) {
	var n int64
	for _, r := range tx.state.rolls {
		if r.InventoryID == inventoryID {
			n++
		}
	}
	return n, nil
}

func (tx *memTx) GetRolls(_ context.Context, rollIDs []string) ([]inventory.Roll, error) {
	rolls := make([]inventory.Roll, 0, len(rollIDs))
	for _, id := range rollIDs {
		if r, ok := tx.state.rolls[id]; ok {
			rolls = append(rolls, cloneRoll(r))
		}
	}
	return rolls, nil
}

func (tx *memTx) MarkRollsUsed(_ context.Context, rollIDs []string, at time.Time) (int64, error) {
	var n int64
	for _, id := range rollIDs {
		r, ok := tx.state.rolls[id]
		if !ok || r.Status != inventory.RollStatusInStock {
			continue
		}
		usedAt := at
		r.Status = inventory.RollStatusUsed
		r.UsedAt = &usedAt
		tx.state.rolls[id] = r
		n++
	}
	return n, nil
}

func (tx *memTx) ListRollsByItem(_ context.Context, inventoryID string) ([]inventory.Roll, error) {
	rolls := make([]inventory.Roll, 0)
	for _, r := range tx.state.rolls {
		if r.InventoryID == inventoryID {
			rolls = append(rolls, cloneRoll(r))
		}
	}
	sort.Slice(rolls, func(i, j int) bool { return rolls[i].Sequence < rolls[j].Sequence })
	return rolls, nil
}

func (tx *memTx) DeleteRollsByItem(_ context.Context, inventoryID string) (int64, error) {
	var n int64
	for id, r := range tx.state.rolls {
		if r.InventoryID == inventoryID {
			delete(tx.state.rolls, id)
			n++
		}
	}
	return n, nil
}

// ---- requests ----

func (tx *memTx) CreateRequest(_ context.Context, req *inventory.MaterialRequest) error {
	if _, ok := tx.state.items[req.InventoryID]; !ok {
		return inventory.NewNotFoundError(inventory.ResourceItem, req.InventoryID)
	}
	tx.state.requests[req.ID] = cloneRequest(*req)
	return nil
}

func (tx *memTx) GetRequest(_ context.Context, requestID string) (*inventory.MaterialRequest, error) {
	req, ok := tx.state.requests[requestID]
	if !ok {
		return nil, inventory.NewNotFoundError(inventory.ResourceRequest, requestID)
	}
	out := cloneRequest(req)
	return &out, nil
}

func (tx *memTx) UpdateRequest(_ context.Context, req *inventory.MaterialRequest, from inventory.RequestStatus) error {
	current, ok := tx.state.requests[req.ID]
	if !ok {
		return inventory.NewNotFoundError(inventory.ResourceRequest, req.ID)
	}
	if current.Status != from {
		return inventory.NewConcurrencyConflictError("update_request", inventory.ResourceRequest, "資材請求が他の操作で更新されました", nil)
	}
	tx.state.requests[req.ID] = cloneRequest(*req)
	return nil
}

func (tx *memTx) ListRequests(_ context.Context, filter inventory.RequestFilter) ([]inventory.MaterialRequest, error) {
	reqs := make([]inventory.MaterialRequest, 0)
	for _, r := range tx.state.requests {
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		if filter.InventoryID != "" && r.InventoryID != filter.InventoryID {
			continue
		}
		reqs = append(reqs, cloneRequest(r))
	}
	sort.Slice(reqs, func(i, j int) bool {
		if !reqs[i].CreatedAt.Equal(reqs[j].CreatedAt) {
			return reqs[i].CreatedAt.After(reqs[j].CreatedAt)
		}
		return reqs[i].ID > reqs[j].ID
	})
	return reqs, nil
}

func (tx *memTx) DeleteRequestsByItem(_ context.Context, inventoryID string) (int64, error) {
	var n int64
	for id, r := range tx.state.requests {
		if r.InventoryID == inventoryID {
			delete(tx.state.requests, id)
			n++
		}
	}
	return n, nil
}

// ---- clone helpers ----

func cloneString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneTime(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneItem(it inventory.InventoryItem) inventory.InventoryItem {
	it.Color = cloneString(it.Color)
	it.BatchNumber = cloneString(it.BatchNumber)
	it.ColorCode = cloneString(it.ColorCode)
	it.ReferenceID = cloneString(it.ReferenceID)
	return it
}

func cloneEntry(e inventory.LedgerEntry) inventory.LedgerEntry {
	if e.Metadata != nil {
		e.Metadata = append(inventory.Metadata(nil), e.Metadata...)
	}
	e.BatchNumber = cloneString(e.BatchNumber)
	return e
}

func cloneRoll(r inventory.Roll) inventory.Roll {
	r.UsedAt = cloneTime(r.UsedAt)
	return r
}

func cloneRequest(r inventory.MaterialRequest) inventory.MaterialRequest {
	if r.IssuedQty != nil {
		q := *r.IssuedQty
		r.IssuedQty = &q
	}
	r.IssuedBy = cloneString(r.IssuedBy)
	r.IssueEntryID = cloneString(r.IssueEntryID)
	r.IssuedAt = cloneTime(r.IssuedAt)
	r.ReceivedAt = cloneTime(r.ReceivedAt)
	return r
}
