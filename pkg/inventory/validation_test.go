package inventory

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestValidateBatchNumber(t *testing.T) {
	tests := []struct {
		batch string
		valid bool
	}{
		{"B-001", true},
		{"LOT_2024.07/A", true},
		{"B 001", true},
		{"Партия-7", true},
		{"B#12", true},
		{"ロット1", true},
		{"", false},
		{"   ", false},
		{"B\x00", false},
		{"B-1\n", false},
		{strings.Repeat("a", 256), false},
	}

	for _, tt := range tests {
		t.Run(tt.batch, func(t *testing.T) {
			err := ValidateBatchNumber(tt.batch)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrValidation)
			}
		})
	}
}

func TestValidateQuantities(t *testing.T) {
	assert.NoError(t, ValidatePositiveQuantity("q", decimal.RequireFromString("0.0001")))
	assert.Error(t, ValidatePositiveQuantity("q", decimal.Zero))
	assert.Error(t, ValidatePositiveQuantity("q", decimal.RequireFromString("1.00001")))

	assert.NoError(t, ValidateNonNegativeQuantity("q", decimal.Zero))
	assert.Error(t, ValidateNonNegativeQuantity("q", decimal.NewFromInt(-1)))
}

func TestValidateMetadata(t *testing.T) {
	assert.NoError(t, ValidateMetadata(nil))
	assert.NoError(t, ValidateMetadata(Metadata{{Key: MetaOrder, Value: "PO-1"}, {Key: MetaPart, Value: "sleeve"}}))
	assert.Error(t, ValidateMetadata(Metadata{{Key: " ", Value: "x"}}))
	assert.Error(t, ValidateMetadata(Metadata{{Key: strings.Repeat("k", 65), Value: "x"}}))
	assert.Error(t, ValidateMetadata(Metadata{{Key: "k", Value: strings.Repeat("v", 501)}}))
}

func TestValidateIssueInput(t *testing.T) {
	assert.NoError(t, ValidateIssueInput(IssueInput{InventoryID: "i", Quantity: decimal.NewFromInt(1)}))
	// ロール指定時は数量省略可
	assert.NoError(t, ValidateIssueInput(IssueInput{InventoryID: "i", RollIDs: []string{"r1", "r2"}}))
	assert.Error(t, ValidateIssueInput(IssueInput{InventoryID: "i", RollIDs: []string{"r1", "r1"}}))
	assert.Error(t, ValidateIssueInput(IssueInput{InventoryID: "i", RollIDs: []string{""}}))
	assert.Error(t, ValidateIssueInput(IssueInput{InventoryID: "i"}))
	assert.Error(t, ValidateIssueInput(IssueInput{InventoryID: "i", Quantity: decimal.NewFromInt(1), Reason: strings.Repeat("r", 1001)}))
}

func TestValidateIdentity(t *testing.T) {
	assert.NoError(t, ValidateIdentity(NewIdentity("Denim", CategoryFabric, "Blue", "B-1")))
	assert.Error(t, ValidateIdentity(NewIdentity("", CategoryFabric, "", "")))
	assert.Error(t, ValidateIdentity(NewIdentity("Denim", "fabric", "", "")))
	assert.Error(t, ValidateIdentity(NewIdentity("Denim", CategoryFabric, strings.Repeat("c", 256), "")))
	assert.NoError(t, ValidateIdentity(NewIdentity("Denim", CategoryFabric, "", "bad batch")))
	assert.Error(t, ValidateIdentity(NewIdentity("Den\x1fim", CategoryFabric, "", "")))
	assert.Error(t, ValidateIdentity(NewIdentity("Denim", CategoryFabric, "Bl\tue", "")))
}
