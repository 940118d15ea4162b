package inventory

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestBuildHistory(t *testing.T) {
	item := InventoryItem{ID: "i1", Quantity: dec("4")}
	entries := []LedgerEntry{
		{Type: EntryTypeIn, Quantity: dec("10")},
		{Type: EntryTypeOut, Quantity: dec("6")},
	}

	view := BuildHistory(item, entries, dec("0.001"))
	assert.True(t, view.TotalIn.Equal(dec("10")))
	assert.True(t, view.TotalOut.Equal(dec("6")))
	assert.True(t, view.CurrentBalance.Equal(dec("4")))
	assert.True(t, view.Consistent)

	item.Quantity = dec("4.0008")
	assert.True(t, BuildHistory(item, entries, dec("0.001")).Consistent)

	item.Quantity = dec("5")
	assert.False(t, BuildHistory(item, entries, dec("0.001")).Consistent)

	empty := BuildHistory(InventoryItem{Quantity: decimal.Zero}, nil, decimal.Zero)
	assert.NotNil(t, empty.Entries)
	assert.True(t, empty.Consistent)
}

func TestGroupInbound(t *testing.T) {
	day1 := time.Date(2024, 7, 1, 23, 30, 0, 0, time.UTC)
	day2 := time.Date(2024, 7, 2, 8, 0, 0, 0, time.UTC)
	items := []InventoryItem{
		{ID: "a", Identity: NewIdentity("Denim", CategoryFabric, "Blue", "")},
		{ID: "b", Identity: NewIdentity("Denim", CategoryFabric, "Black", "")},
		{ID: "c", Identity: NewIdentity("Linen", CategoryFabric, "", "")},
	}
	entries := []LedgerEntry{
		{InventoryID: "a", Type: EntryTypeIn, Quantity: dec("10"), CreatedAt: day1},
		{InventoryID: "b", Type: EntryTypeIn, Quantity: dec("5"), CreatedAt: day1},
		{InventoryID: "a", Type: EntryTypeIn, Quantity: dec("1"), CreatedAt: day1},
		{InventoryID: "a", Type: EntryTypeOut, Quantity: dec("7"), CreatedAt: day1},
		{InventoryID: "b", Type: EntryTypeIn, Quantity: dec("40"), Reason: CorrectionReason, CreatedAt: day1},
		{InventoryID: "c", Type: EntryTypeIn, Quantity: dec("2"), CreatedAt: day2},
		{InventoryID: "z", Type: EntryTypeIn, Quantity: dec("99"), CreatedAt: day2},
	}

	groups := GroupInbound(items, entries)
	require.Len(t, groups, 2)

	assert.Equal(t, "Linen", groups[0].Name)
	assert.Equal(t, "2024-07-02", groups[0].Date)

	assert.Equal(t, "Denim", groups[1].Name)
	assert.Equal(t, "2024-07-01", groups[1].Date)
	assert.True(t, groups[1].Total.Equal(dec("16")))
	assert.Equal(t, 2, groups[1].Rows)
}

func TestSummarizeByName_CategoryFilter(t *testing.T) {
	items := []InventoryItem{
		{Identity: NewIdentity("Tape", CategoryAccessory, "", ""), Quantity: dec("3"), Unit: UnitMeter},
		{Identity: NewIdentity("Tape", CategoryFabric, "", ""), Quantity: dec("1"), Unit: UnitMeter},
	}

	all := SummarizeByName(items, "")
	require.Len(t, all, 2)
	assert.Equal(t, CategoryAccessory, all[0].Category)

	fabric := SummarizeByName(items, CategoryFabric)
	require.Len(t, fabric, 1)
	assert.Equal(t, UnitMeter, fabric[0].Unit)
}

func TestSummarizeByName_SplitsUnits(t *testing.T) {
	items := []InventoryItem{
		{Identity: NewIdentity("Lace", CategoryAccessory, "White", ""), Quantity: dec("30"), Unit: UnitMeter},
		{Identity: NewIdentity("Lace", CategoryAccessory, "Black", ""), Quantity: dec("2"), Unit: UnitBox},
		{Identity: NewIdentity("Lace", CategoryAccessory, "Red", ""), Quantity: dec("5"), Unit: UnitMeter},
	}

	totals := SummarizeByName(items, CategoryAccessory)
	require.Len(t, totals, 2)
	assert.Equal(t, UnitBox, totals[0].Unit)
	assert.True(t, totals[0].Total.Equal(dec("2")))
	assert.Equal(t, 1, totals[0].Rows)
	assert.Equal(t, UnitMeter, totals[1].Unit)
	assert.True(t, totals[1].Total.Equal(dec("35")))
	assert.Equal(t, 2, totals[1].Rows)
}

func TestLabelsFor(t *testing.T) {
	item := InventoryItem{ID: "i1", Identity: NewIdentity("Lawn", CategoryFabric, "", "L-5"), Quantity: dec("12.25")}
	assert.Equal(t, Label{ID: "i1", Name: "Lawn", Weight: "12.25", Batch: "L-5"}, ItemLabelFor(item))

	roll := Roll{ID: "r1", RollNumber: "L-5-2", Weight: dec("6")}
	assert.Equal(t, Label{ID: "r1", Name: "Lawn", Weight: "6", Batch: "L-5-2"}, RollLabelFor(item, roll))
}
