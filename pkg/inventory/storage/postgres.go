package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/nemonet1337/zaiGarment/pkg/inventory"
)

// PostgreSQL SQLSTATE codes mapped to engine errors
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeUniqueViolation      = "23505"
	codeForeignKeyViolation  = "23503"
)

// PostgreSQLStorage implements the Storage interface using PostgreSQL
// PostgreSQLを使用したStorageインターフェースの実装
type PostgreSQLStorage struct {
	db     *sql.DB
	logger *zap.Logger
}

var _ inventory.Storage = (*PostgreSQLStorage)(nil)

// PoolConfig tunes the connection pool
// 接続プール設定
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewPostgreSQLStorage creates a new PostgreSQL storage instance
// 新しいPostgreSQLストレージインスタンスを作成
func NewPostgreSQLStorage(dsn string, pool PoolConfig, logger *zap.Logger) (*PostgreSQLStorage, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗しました: %w", err)
	}

	// 接続テスト
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("データベースpingに失敗しました: %w", err)
	}

	// 接続プール設定
	if pool.MaxOpenConns > 0 {
		db.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		db.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	}

	return NewPostgreSQLStorageFromDB(db, logger), nil
}

// NewPostgreSQLStorageFromDB wraps an already opened database
func NewPostgreSQLStorageFromDB(db *sql.DB, logger *zap.Logger) *PostgreSQLStorage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgreSQLStorage{db: db, logger: logger}
}

// WithTx runs fn in a serializable transaction. fn's error rolls the
// transaction back and is returned unchanged; serialization failures on
// commit become ConcurrencyConflictError.
// 直列化可能トランザクションでfnを実行
func (s *PostgreSQLStorage) WithTx(ctx context.Context, fn func(tx inventory.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return mapError("begin", "トランザクション開始に失敗しました", err)
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.logger.Error("ロールバックに失敗しました", zap.Error(rbErr))
		}
	}()

	if err := fn(&pgTx{tx: tx, logger: s.logger}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return mapError("commit", "コミットに失敗しました", err)
	}
	committed = true
	return nil
}

// Ping checks database connectivity
// データベース接続確認
func (s *PostgreSQLStorage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
// データベース接続を閉じる
func (s *PostgreSQLStorage) Close() error {
	return s.db.Close()
}

// pgTx is the transactional view handed to WithTx callbacks
type pgTx struct {
	tx     *sql.Tx
	logger *zap.Logger
}

var _ inventory.Tx = (*pgTx)(nil)

type rowScanner interface {
	Scan(dest ...any) error
}

// ---- inventory_items ----

const itemColumns = `id, item_name, category, color, batch_number, quantity, unit, color_code, reference_id, roll_sequence, version, created_at, last_updated`

func scanItem(row rowScanner) (*inventory.InventoryItem, error) {
	item := &inventory.InventoryItem{}
	err := row.Scan(
		&item.ID,
		&item.ItemName,
		&item.Category,
		&item.Color,
		&item.BatchNumber,
		&item.Quantity,
		&item.Unit,
		&item.ColorCode,
		&item.ReferenceID,
		&item.RollSequence,
		&item.Version,
		&item.CreatedAt,
		&item.LastUpdated,
	)
	if err != nil {
		return nil, err
	}
	return item, nil
}

// CreateItem inserts a new registry row
// 新しい品目を作成
func (t *pgTx) CreateItem(ctx context.Context, item *inventory.InventoryItem) error {
	query := `
		INSERT INTO inventory_items (` + itemColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := t.tx.ExecContext(ctx, query,
		item.ID,
		item.ItemName,
		item.Category,
		item.Color,
		item.BatchNumber,
		item.Quantity,
		item.Unit,
		item.ColorCode,
		item.ReferenceID,
		item.RollSequence,
		item.Version,
		item.CreatedAt,
		item.LastUpdated,
	)
	if err != nil {
		return mapError("create_item", "品目作成に失敗しました", err)
	}
	return nil
}

// GetItem retrieves an item by id
// 品目を取得
func (t *pgTx) GetItem(ctx context.Context, inventoryID string) (*inventory.InventoryItem, error) {
	query := `SELECT ` + itemColumns + ` FROM inventory_items WHERE id = $1`

	item, err := scanItem(t.tx.QueryRowContext(ctx, query, inventoryID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, inventory.NewNotFoundError(inventory.ResourceItem, inventoryID)
		}
		return nil, mapError("get_item", "品目取得に失敗しました", err)
	}
	return item, nil
}

// FindItemByIdentity looks an item up by its composite key. NULL color or
// batch only matches NULL.
// 複合キーで品目を検索
func (t *pgTx) FindItemByIdentity(ctx context.Context, identity inventory.Identity) (*inventory.InventoryItem, error) {
	query := `
		SELECT ` + itemColumns + `
		FROM inventory_items
		WHERE item_name = $1
		  AND category = $2
		  AND color IS NOT DISTINCT FROM $3::text
		  AND batch_number IS NOT DISTINCT FROM $4::text`

	item, err := scanItem(t.tx.QueryRowContext(ctx, query,
		identity.ItemName,
		identity.Category,
		identity.Color,
		identity.BatchNumber,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, inventory.NewNotFoundError(inventory.ResourceItem, identity.ItemName)
		}
		return nil, mapError("find_item", "品目検索に失敗しました", err)
	}
	return item, nil
}

// ListItems lists items ordered by name
// 品目一覧を取得
func (t *pgTx) ListItems(ctx context.Context, filter inventory.ItemFilter) ([]inventory.InventoryItem, error) {
	var (
		conds []string
		args  []any
	)
	if filter.Category != "" {
		args = append(args, filter.Category)
		conds = append(conds, fmt.Sprintf("category = $%d", len(args)))
	}
	if filter.Name != "" {
		args = append(args, "%"+filter.Name+"%")
		conds = append(conds, fmt.Sprintf("item_name ILIKE $%d", len(args)))
	}

	query := `SELECT ` + itemColumns + ` FROM inventory_items`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY item_name, category, id`

	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError("list_items", "品目一覧取得に失敗しました", err)
	}
	defer rows.Close()

	items := make([]inventory.InventoryItem, 0)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, mapError("list_items", "品目スキャンに失敗しました", err)
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("list_items", "品目一覧取得に失敗しました", err)
	}
	return items, nil
}

// AdjustQuantity applies delta in a single conditional UPDATE so concurrent
// receipts and issues cannot lose updates
// 条件付きUPDATEで数量を加減算
func (t *pgTx) AdjustQuantity(ctx context.Context, inventoryID string, delta decimal.Decimal, at time.Time) (decimal.Decimal, error) {
	query := `
		UPDATE inventory_items
		SET quantity = quantity + $2::numeric, version = version + 1, last_updated = $3
		WHERE id = $1 AND quantity + $2::numeric >= 0
		RETURNING quantity`

	var q decimal.Decimal
	err := t.tx.QueryRowContext(ctx, query, inventoryID, delta, at).Scan(&q)
	if err == nil {
		return q, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, mapError("adjust_quantity", "数量更新に失敗しました", err)
	}

	// 対象なし: 品目が存在しないか在庫不足
	var available decimal.Decimal
	err = t.tx.QueryRowContext(ctx, `SELECT quantity FROM inventory_items WHERE id = $1`, inventoryID).Scan(&available)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return decimal.Zero, inventory.NewNotFoundError(inventory.ResourceItem, inventoryID)
		}
		return decimal.Zero, mapError("adjust_quantity", "在庫取得に失敗しました", err)
	}
	return decimal.Zero, inventory.NewInsufficientStockError(inventoryID, delta.Neg(), available)
}

// UpdateItem updates an existing item under the version check
// 既存の品目を更新（楽観的ロック）
func (t *pgTx) UpdateItem(ctx context.Context, item *inventory.InventoryItem) error {
	query := `
		UPDATE inventory_items
		SET item_name = $2, category = $3, color = $4, batch_number = $5, quantity = $6, unit = $7,
		    color_code = $8, reference_id = $9, version = $10, last_updated = $11
		WHERE id = $1 AND version = $12`

	result, err := t.tx.ExecContext(ctx, query,
		item.ID,
		item.ItemName,
		item.Category,
		item.Color,
		item.BatchNumber,
		item.Quantity,
		item.Unit,
		item.ColorCode,
		item.ReferenceID,
		item.Version,
		item.LastUpdated,
		item.Version-1, // 楽観的ロックのための前バージョン
	)
	if err != nil {
		return mapError("update_item", "品目更新に失敗しました", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return mapError("update_item", "更新行数の取得に失敗しました", err)
	}
	if rowsAffected == 0 {
		return inventory.NewConcurrencyConflictError("update_item", inventory.ResourceItem, "品目が他の操作で更新されました", nil)
	}
	return nil
}

// DeleteItem deletes an item
// 品目を削除
func (t *pgTx) DeleteItem(ctx context.Context, inventoryID string) error {
	return t.deleteOne(ctx, "delete_item", inventory.ResourceItem,
		`DELETE FROM inventory_items WHERE id = $1`, inventoryID)
}

// SetRollSequence raises the item's roll high-water mark
func (t *pgTx) SetRollSequence(ctx context.Context, inventoryID string, sequence int64) error {
	return t.deleteOrUpdateOne(ctx, "set_roll_sequence", inventory.ResourceItem,
		`UPDATE inventory_items SET roll_sequence = GREATEST(roll_sequence, $2) WHERE id = $1`, inventoryID, sequence)
}

// ---- ledger_entries ----

const entryColumns = `id, inventory_id, type, quantity, reason, metadata, batch_number, created_by, created_at`

func (t *pgTx) scanEntry(row rowScanner) (*inventory.LedgerEntry, error) {
	entry := &inventory.LedgerEntry{}
	var metadataJSON []byte
	err := row.Scan(
		&entry.ID,
		&entry.InventoryID,
		&entry.Type,
		&entry.Quantity,
		&entry.Reason,
		&metadataJSON,
		&entry.BatchNumber,
		&entry.CreatedBy,
		&entry.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &entry.Metadata); err != nil {
			t.logger.Warn("メタデータの解析に失敗しました",
				zap.String("entry_id", entry.ID),
				zap.Error(err),
			)
		}
	}
	return entry, nil
}

// AppendEntry inserts a ledger entry
// 台帳エントリを追記
func (t *pgTx) AppendEntry(ctx context.Context, entry *inventory.LedgerEntry) error {
	metadata := entry.Metadata
	if metadata == nil {
		metadata = inventory.Metadata{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("メタデータのJSON変換に失敗しました: %w", err)
	}

	query := `
		INSERT INTO ledger_entries (` + entryColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err = t.tx.ExecContext(ctx, query,
		entry.ID,
		entry.InventoryID,
		entry.Type,
		entry.Quantity,
		entry.Reason,
		metadataJSON,
		entry.BatchNumber,
		entry.CreatedBy,
		entry.CreatedAt,
	)
	if err != nil {
		return mapError("append_entry", "台帳エントリ作成に失敗しました", err)
	}
	return nil
}

// GetEntry retrieves one ledger entry
// 台帳エントリを取得
func (t *pgTx) GetEntry(ctx context.Context, entryID string) (*inventory.LedgerEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM ledger_entries WHERE id = $1`

	entry, err := t.scanEntry(t.tx.QueryRowContext(ctx, query, entryID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, inventory.NewNotFoundError(inventory.ResourceEntry, entryID)
		}
		return nil, mapError("get_entry", "台帳エントリ取得に失敗しました", err)
	}
	return entry, nil
}

// ListEntriesByItem lists an item's entries newest first
// 品目の台帳エントリを新しい順に取得
func (t *pgTx) ListEntriesByItem(ctx context.Context, inventoryID string) ([]inventory.LedgerEntry, error) {
	return t.ListEntries(ctx, inventory.EntryFilter{InventoryID: inventoryID})
}

// ListEntries lists entries matching filter newest first
// 条件に合う台帳エントリを取得
func (t *pgTx) ListEntries(ctx context.Context, filter inventory.EntryFilter) ([]inventory.LedgerEntry, error) {
	var (
		conds []string
		args  []any
	)
	if filter.InventoryID != "" {
		args = append(args, filter.InventoryID)
		conds = append(conds, fmt.Sprintf("inventory_id = $%d", len(args)))
	}
	if filter.Type != "" {
		args = append(args, filter.Type)
		conds = append(conds, fmt.Sprintf("type = $%d", len(args)))
	}

	query := `SELECT ` + entryColumns + ` FROM ledger_entries`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError("list_entries", "台帳エントリ取得に失敗しました", err)
	}
	defer rows.Close()

	entries := make([]inventory.LedgerEntry, 0)
	for rows.Next() {
		entry, err := t.scanEntry(rows)
		if err != nil {
			return nil, mapError("list_entries", "台帳エントリのスキャンに失敗しました", err)
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("list_entries", "台帳エントリ取得に失敗しました", err)
	}
	return entries, nil
}

// DeleteEntry deletes one ledger entry
// 台帳エントリを削除
func (t *pgTx) DeleteEntry(ctx context.Context, entryID string) error {
	return t.deleteOne(ctx, "delete_entry", inventory.ResourceEntry,
		`DELETE FROM ledger_entries WHERE id = $1`, entryID)
}

// DeleteEntriesByItem deletes all entries of an item
func (t *pgTx) DeleteEntriesByItem(ctx context.Context, inventoryID string) (int64, error) {
	return t.deleteMany(ctx, "delete_entries", `DELETE FROM ledger_entries WHERE inventory_id = $1`, inventoryID)
}

// ---- rolls ----

const rollColumns = `id, inventory_id, roll_number, sequence, weight, status, created_at, used_at`

func scanRoll(row rowScanner) (*inventory.Roll, error) {
	roll := &inventory.Roll{}
	err := row.Scan(
		&roll.ID,
		&roll.InventoryID,
		&roll.RollNumber,
		&roll.Sequence,
		&roll.Weight,
		&roll.Status,
		&roll.CreatedAt,
		&roll.UsedAt,
	)
	if err != nil {
		return nil, err
	}
	return roll, nil
}

// CreateRolls inserts rolls with one prepared statement
// ロールを一括作成
func (t *pgTx) CreateRolls(ctx context.Context, rolls []inventory.Roll) error {
	if len(rolls) == 0 {
		return nil
	}
	stmt, err := t.tx.PrepareContext(ctx, `
		INSERT INTO rolls (`+rollColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`)
	if err != nil {
		return mapError("create_rolls", "ロール作成の準備に失敗しました", err)
	}
	defer stmt.Close()

	for _, r := range rolls {
		if _, err := stmt.ExecContext(ctx,
			r.ID,
			r.InventoryID,
			r.RollNumber,
			r.Sequence,
			r.Weight,
			r.Status,
			r.CreatedAt,
			r.UsedAt,
		); err != nil {
			return mapError("create_rolls", "ロール作成に失敗しました", err)
		}
	}
	return nil
}

// CountRolls counts an item's rolls
func (t *pgTx) CountRolls(ctx context.Context, inventoryID string) (int64, error) {
	var n int64
	if err := t.tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM rolls WHERE inventory_id = $1`, inventoryID).Scan(&n); err != nil {
		return 0, mapError("count_rolls", "ロール数取得に失敗しました", err)
	}
	return n, nil
}

// GetRolls returns the rolls that exist among rollIDs
// 指定IDのロールを取得
func (t *pgTx) GetRolls(ctx context.Context, rollIDs []string) ([]inventory.Roll, error) {
	query := `SELECT ` + rollColumns + ` FROM rolls WHERE id = ANY($1)`
	return t.queryRolls(ctx, "get_rolls", query, pq.Array(rollIDs))
}

// MarkRollsUsed flips in-stock rolls to used and returns how many changed
// ロールを使用済みに更新
func (t *pgTx) MarkRollsUsed(ctx context.Context, rollIDs []string, at time.Time) (int64, error) {
	query := `
		UPDATE rolls SET status = $2, used_at = $3
		WHERE id = ANY($1) AND status = $4`

	result, err := t.tx.ExecContext(ctx, query,
		pq.Array(rollIDs),
		inventory.RollStatusUsed,
		at,
		inventory.RollStatusInStock,
	)
	if err != nil {
		return 0, mapError("mark_rolls_used", "ロール更新に失敗しました", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, mapError("mark_rolls_used", "更新行数の取得に失敗しました", err)
	}
	return n, nil
}

// ListRollsByItem lists an item's rolls by sequence
// 品目のロール一覧を取得
func (t *pgTx) ListRollsByItem(ctx context.Context, inventoryID string) ([]inventory.Roll, error) {
	query := `SELECT ` + rollColumns + ` FROM rolls WHERE inventory_id = $1 ORDER BY sequence, roll_number`
	return t.queryRolls(ctx, "list_rolls", query, inventoryID)
}

// DeleteRollsByItem deletes all rolls of an item
func (t *pgTx) DeleteRollsByItem(ctx context.Context, inventoryID string) (int64, error) {
	return t.deleteMany(ctx, "delete_rolls", `DELETE FROM rolls WHERE inventory_id = $1`, inventoryID)
}

func (t *pgTx) queryRolls(ctx context.Context, op, query string, args ...any) ([]inventory.Roll, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(op, "ロール取得に失敗しました", err)
	}
	defer rows.Close()

	rolls := make([]inventory.Roll, 0)
	for rows.Next() {
		roll, err := scanRoll(rows)
		if err != nil {
			return nil, mapError(op, "ロールのスキャンに失敗しました", err)
		}
		rolls = append(rolls, *roll)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(op, "ロール取得に失敗しました", err)
	}
	return rolls, nil
}

// ---- material_requests ----

const requestColumns = `id, inventory_id, requested_qty, issued_qty, status, department, note, requested_by, issued_by, issue_entry_id, created_at, issued_at, received_at`

func scanRequest(row rowScanner) (*inventory.MaterialRequest, error) {
	req := &inventory.MaterialRequest{}
	var issued decimal.NullDecimal
	err := row.Scan(
		&req.ID,
		&req.InventoryID,
		&req.RequestedQty,
		&issued,
		&req.Status,
		&req.Department,
		&req.Note,
		&req.RequestedBy,
		&req.IssuedBy,
		&req.IssueEntryID,
		&req.CreatedAt,
		&req.IssuedAt,
		&req.ReceivedAt,
	)
	if err != nil {
		return nil, err
	}
	if issued.Valid {
		req.IssuedQty = &issued.Decimal
	}
	return req, nil
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

// CreateRequest inserts a material request
// 資材請求を作成
func (t *pgTx) CreateRequest(ctx context.Context, req *inventory.MaterialRequest) error {
	query := `
		INSERT INTO material_requests (` + requestColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := t.tx.ExecContext(ctx, query,
		req.ID,
		req.InventoryID,
		req.RequestedQty,
		nullDecimal(req.IssuedQty),
		req.Status,
		req.Department,
		req.Note,
		req.RequestedBy,
		req.IssuedBy,
		req.IssueEntryID,
		req.CreatedAt,
		req.IssuedAt,
		req.ReceivedAt,
	)
	if err != nil {
		return mapError("create_request", "資材請求の作成に失敗しました", err)
	}
	return nil
}

// GetRequest retrieves one material request
// 資材請求を取得
func (t *pgTx) GetRequest(ctx context.Context, requestID string) (*inventory.MaterialRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM material_requests WHERE id = $1`

	req, err := scanRequest(t.tx.QueryRowContext(ctx, query, requestID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, inventory.NewNotFoundError(inventory.ResourceRequest, requestID)
		}
		return nil, mapError("get_request", "資材請求の取得に失敗しました", err)
	}
	return req, nil
}

// UpdateRequest writes the request only if its stored status is still from
// 資材請求を更新（ステータス条件付き）
func (t *pgTx) UpdateRequest(ctx context.Context, req *inventory.MaterialRequest, from inventory.RequestStatus) error {
	query := `
		UPDATE material_requests
		SET status = $2, issued_qty = $3, issued_by = $4, issue_entry_id = $5, issued_at = $6, received_at = $7
		WHERE id = $1 AND status = $8`

	result, err := t.tx.ExecContext(ctx, query,
		req.ID,
		req.Status,
		nullDecimal(req.IssuedQty),
		req.IssuedBy,
		req.IssueEntryID,
		req.IssuedAt,
		req.ReceivedAt,
		from,
	)
	if err != nil {
		return mapError("update_request", "資材請求の更新に失敗しました", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return mapError("update_request", "更新行数の取得に失敗しました", err)
	}
	if n == 0 {
		return inventory.NewConcurrencyConflictError("update_request", inventory.ResourceRequest, "資材請求が他の操作で更新されました", nil)
	}
	return nil
}

// ListRequests lists requests newest first
// 資材請求一覧を取得
func (t *pgTx) ListRequests(ctx context.Context, filter inventory.RequestFilter) ([]inventory.MaterialRequest, error) {
	var (
		conds []string
		args  []any
	)
	if filter.Status != "" {
		args = append(args, filter.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.InventoryID != "" {
		args = append(args, filter.InventoryID)
		conds = append(conds, fmt.Sprintf("inventory_id = $%d", len(args)))
	}

	query := `SELECT ` + requestColumns + ` FROM material_requests`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError("list_requests", "資材請求一覧の取得に失敗しました", err)
	}
	defer rows.Close()

	reqs := make([]inventory.MaterialRequest, 0)
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, mapError("list_requests", "資材請求のスキャンに失敗しました", err)
		}
		reqs = append(reqs, *req)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("list_requests", "資材請求一覧の取得に失敗しました", err)
	}
	return reqs, nil
}

// DeleteRequestsByItem deletes all requests referencing an item
func (t *pgTx) DeleteRequestsByItem(ctx context.Context, inventoryID string) (int64, error) {
	return t.deleteMany(ctx, "delete_requests", `DELETE FROM material_requests WHERE inventory_id = $1`, inventoryID)
}

// ---- helpers ----

func (t *pgTx) deleteOne(ctx context.Context, op, resource, query, id string) error {
	return t.deleteOrUpdateOne(ctx, op, resource, query, id)
}

// deleteOrUpdateOne executes a statement that must touch exactly the row id
func (t *pgTx) deleteOrUpdateOne(ctx context.Context, op, resource, query, id string, args ...any) error {
	result, err := t.tx.ExecContext(ctx, query, append([]any{id}, args...)...)
	if err != nil {
		return mapError(op, "更新に失敗しました", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return mapError(op, "更新行数の取得に失敗しました", err)
	}
	if n == 0 {
		return inventory.NewNotFoundError(resource, id)
	}
	return nil
}

func (t *pgTx) deleteMany(ctx context.Context, op, query, inventoryID string) (int64, error) {
	result, err := t.tx.ExecContext(ctx, query, inventoryID)
	if err != nil {
		return 0, mapError(op, "削除に失敗しました", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, mapError(op, "削除行数の取得に失敗しました", err)
	}
	return n, nil
}

// mapError converts driver errors into engine errors
// ドライバのエラーをエンジンのエラーに変換
func mapError(operation, message string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case codeSerializationFailure, codeDeadlockDetected:
			return inventory.NewConcurrencyConflictError(operation, "transaction", "同時更新のためトランザクションを直列化できませんでした", err)
		case codeUniqueViolation:
			return inventory.NewConcurrencyConflictError(operation, pqErr.Table, "同じキーの行が同時に作成されました", err)
		case codeForeignKeyViolation:
			return inventory.NewConcurrencyConflictError(operation, pqErr.Table, "参照先が同時に削除されました", err)
		}
	}
	return inventory.NewStorageError(operation, message, err)
}
