package inventory

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// GroupBy selects the projection returned by Aggregate
// 集計の軸
type GroupBy string

const (
	GroupByName     GroupBy = "name"      // 品名ごとの合計
	GroupByNameDate GroupBy = "name_date" // 品名×入庫日ごとの合計
)

const dateLayout = "2006-01-02"

// AggregateQuery selects a category and a grouping
// 集計条件
type AggregateQuery struct {
	Category Category `json:"category,omitempty"`
	GroupBy  GroupBy  `json:"group_by"`
}

// NameTotal is the summed quantity of every row sharing a name within a category
// 品名ごとの合計数量
type NameTotal struct {
	Name     string          `json:"name"`
	Category Category        `json:"category"`
	Total    decimal.Decimal `json:"total"`
	Unit     Unit            `json:"unit"`
	Rows     int             `json:"rows"`
	Low      bool            `json:"low"` // 合計が0以下
}

// InboundGroup is the inbound total of one name on one UTC day
// 品名・入庫日ごとの入庫合計
type InboundGroup struct {
	Name  string          `json:"name"`
	Date  string          `json:"date"`
	Total decimal.Decimal `json:"total"`
	Rows  int             `json:"rows"` // 異なる品目行の数
}

// AggregateResult carries the projection chosen by the query
// 集計結果
type AggregateResult struct {
	Query   AggregateQuery `json:"query"`
	Totals  []NameTotal    `json:"totals,omitempty"`
	Inbound []InboundGroup `json:"inbound,omitempty"`
}

// HistoryView is the ledger of one item with its running totals
// 品目ごとの入出庫履歴
type HistoryView struct {
	Item           InventoryItem   `json:"item"`
	Entries        []LedgerEntry   `json:"entries"`
	TotalIn        decimal.Decimal `json:"total_in"`
	TotalOut       decimal.Decimal `json:"total_out"`
	CurrentBalance decimal.Decimal `json:"current_balance"`
	Consistent     bool            `json:"consistent"`
}

// DriftReport compares the registry quantity with the ledger
// 台帳と在庫数量の差異レポート
type DriftReport struct {
	InventoryID string          `json:"inventory_id"`
	Recorded    decimal.Decimal `json:"recorded"`
	Computed    decimal.Decimal `json:"computed"`
	Drift       decimal.Decimal `json:"drift"`
	Entries     int             `json:"entries"`
	Consistent  bool            `json:"consistent"`
	CheckedAt   time.Time       `json:"checked_at"`
}

// IssueTotal is the outbound total for one value of a metadata key
// メタデータ値ごとの出庫合計
type IssueTotal struct {
	Key     string          `json:"key"`
	Value   string          `json:"value"`
	Total   decimal.Decimal `json:"total"`
	Entries int             `json:"entries"`
}

// SummarizeByName totals items per (name, category, unit). Rows in different
// units are never summed together. An empty category selects all categories.
func SummarizeByName(items []InventoryItem, category Category) []NameTotal {
	type key struct {
		name     string
		category Category
		unit     Unit
	}
	groups := make(map[key]*NameTotal)
	for _, it := range items {
		if category != "" && it.Category != category {
			continue
		}
		k := key{it.ItemName, it.Category, it.Unit}
		g, ok := groups[k]
		if !ok {
			g = &NameTotal{Name: it.ItemName, Category: it.Category, Unit: it.Unit, Total: decimal.Zero}
			groups[k] = g
		}
		g.Total = g.Total.Add(it.Quantity)
		g.Rows++
	}

	out := make([]NameTotal, 0, len(groups))
	for _, g := range groups {
		g.Low = !g.Total.IsPositive()
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		if out[i].Category != out[j].Category {
			return out[i].Category < out[j].Category
		}
		return out[i].Unit < out[j].Unit
	})
	return out
}

// GroupInbound totals receipts of the given items by (name, UTC date),
// newest date first, then by name. Upward corrections written by
// EditQuantity are not receipts and are left out.
func GroupInbound(items []InventoryItem, entries []LedgerEntry) []InboundGroup {
	names := make(map[string]string, len(items))
	for _, it := range items {
		names[it.ID] = it.ItemName
	}

	type key struct{ name, date string }
	groups := make(map[key]*InboundGroup)
	rows := make(map[key]map[string]bool)
	for _, e := range entries {
		if e.Type != EntryTypeIn || e.Reason == CorrectionReason {
			continue
		}
		name, ok := names[e.InventoryID]
		if !ok {
			continue
		}
		k := key{name, e.CreatedAt.UTC().Format(dateLayout)}
		g, ok := groups[k]
		if !ok {
			g = &InboundGroup{Name: k.name, Date: k.date, Total: decimal.Zero}
			groups[k] = g
			rows[k] = make(map[string]bool)
		}
		g.Total = g.Total.Add(e.Quantity)
		rows[k][e.InventoryID] = true
	}

	out := make([]InboundGroup, 0, len(groups))
	for k, g := range groups {
		g.Rows = len(rows[k])
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date > out[j].Date
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// BuildHistory sums the ledger of item. Consistent is true when the ledger
// balance is within tolerance of the registry quantity.
func BuildHistory(item InventoryItem, entries []LedgerEntry, tolerance decimal.Decimal) HistoryView {
	view := HistoryView{
		Item:     item,
		Entries:  entries,
		TotalIn:  decimal.Zero,
		TotalOut: decimal.Zero,
	}
	for _, e := range entries {
		switch e.Type {
		case EntryTypeIn:
			view.TotalIn = view.TotalIn.Add(e.Quantity)
		case EntryTypeOut:
			view.TotalOut = view.TotalOut.Add(e.Quantity)
		}
	}
	view.CurrentBalance = view.TotalIn.Sub(view.TotalOut)
	view.Consistent = view.CurrentBalance.Sub(item.Quantity).Abs().LessThanOrEqual(tolerance)
	if view.Entries == nil {
		view.Entries = []LedgerEntry{}
	}
	return view
}

// SummarizeIssues totals Out entries by the value of a metadata key. Entries
// without the key are grouped under the empty value.
func SummarizeIssues(entries []LedgerEntry, key string) []IssueTotal {
	groups := make(map[string]*IssueTotal)
	for _, e := range entries {
		if e.Type != EntryTypeOut {
			continue
		}
		v, _ := e.Metadata.Get(key)
		g, ok := groups[v]
		if !ok {
			g = &IssueTotal{Key: key, Value: v, Total: decimal.Zero}
			groups[v] = g
		}
		g.Total = g.Total.Add(e.Quantity)
		g.Entries++
	}

	out := make([]IssueTotal, 0, len(groups))
	for _, g := range groups {
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Total.Equal(out[j].Total) {
			return out[i].Total.GreaterThan(out[j].Total)
		}
		return out[i].Value < out[j].Value
	})
	return out
}

// ItemLabelFor builds the label tuple of an item
func ItemLabelFor(item InventoryItem) Label {
	return Label{
		ID:     item.ID,
		Name:   item.ItemName,
		Color:  derefString(item.Color),
		Weight: item.Quantity.String(),
		Batch:  item.Batch(),
	}
}

// RollLabelFor builds the label tuple of one roll of item
func RollLabelFor(item InventoryItem, roll Roll) Label {
	return Label{
		ID:     roll.ID,
		Name:   item.ItemName,
		Color:  derefString(item.Color),
		Weight: roll.Weight.String(),
		Batch:  roll.RollNumber,
	}
}
