package inventory

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

const (
	maxNameLength   = 255
	maxReasonLength = 1000
	maxMetaKey      = 64
	maxMetaValue    = 500
	quantityScale   = 4
)

// ValidateItemName 品名をバリデーション
func ValidateItemName(name string) error {
	if strings.TrimSpace(name) == "" {
		return NewValidationError("item_name", "品名が空です", name)
	}
	if len(name) > maxNameLength {
		return NewValidationError("item_name", "品名が長すぎます", name)
	}
	if hasControl(name) {
		return NewValidationError("item_name", "品名に制御文字が含まれています", name)
	}
	return nil
}

// ValidateCategory 区分をバリデーション
func ValidateCategory(category Category) error {
	switch category {
	case CategoryFabric, CategoryAccessory, CategoryFinishedGood:
		return nil
	}
	return NewValidationError("category", "無効な区分です", string(category))
}

// ValidateUnit 単位をバリデーション
func ValidateUnit(unit Unit) error {
	switch unit {
	case UnitKg, UnitPiece, UnitMeter, UnitRoll, UnitBox, UnitSet:
		return nil
	}
	return NewValidationError("unit", "無効な単位です", string(unit))
}

// ValidateBatchNumber ロット番号をバリデーション（自由記述、制御文字のみ拒否）
func ValidateBatchNumber(batch string) error {
	if strings.TrimSpace(batch) == "" {
		return NewValidationError("batch_number", "ロット番号が空です", batch)
	}
	if len(batch) > maxNameLength {
		return NewValidationError("batch_number", "ロット番号が長すぎます", batch)
	}
	if hasControl(batch) {
		return NewValidationError("batch_number", "ロット番号に制御文字が含まれています", batch)
	}
	return nil
}

// ValidateRollCategory ロールは生地品目のみ
func ValidateRollCategory(category Category) error {
	if category != CategoryFabric {
		return NewValidationError("roll_weights", "ロールは生地品目のみ登録できます", string(category))
	}
	return nil
}

// ValidateIdentity 複合キーをバリデーション
func ValidateIdentity(id Identity) error {
	if err := ValidateItemName(id.ItemName); err != nil {
		return err
	}
	if err := ValidateCategory(id.Category); err != nil {
		return err
	}
	if id.Color != nil {
		if len(*id.Color) > maxNameLength {
			return NewValidationError("color", "色名が長すぎます", *id.Color)
		}
		if hasControl(*id.Color) {
			return NewValidationError("color", "色名に制御文字が含まれています", *id.Color)
		}
	}
	if id.BatchNumber != nil {
		if err := ValidateBatchNumber(*id.BatchNumber); err != nil {
			return err
		}
	}
	return nil
}

// 複合キーの区切り文字と衝突しないよう制御文字は拒否
func hasControl(s string) bool {
	return strings.IndexFunc(s, unicode.IsControl) >= 0
}

// ValidatePositiveQuantity 正の数量をバリデーション
func ValidatePositiveQuantity(field string, q decimal.Decimal) error {
	if !q.IsPositive() {
		return NewValidationError(field, "数量は正の値である必要があります", q.String())
	}
	return validateScale(field, q)
}

// ValidateNonNegativeQuantity 0以上の数量をバリデーション
func ValidateNonNegativeQuantity(field string, q decimal.Decimal) error {
	if q.IsNegative() {
		return NewValidationError(field, "負の数量は許可されていません", q.String())
	}
	return validateScale(field, q)
}

func validateScale(field string, q decimal.Decimal) error {
	if !q.Equal(q.Round(quantityScale)) {
		return NewValidationError(field, fmt.Sprintf("小数点以下は%d桁までです", quantityScale), q.String())
	}
	return nil
}

// ValidateReason 理由の長さをバリデーション
func ValidateReason(reason string) error {
	if len(reason) > maxReasonLength {
		return NewValidationError("reason", "理由が長すぎます", reason)
	}
	return nil
}

// ValidateMetadata メタデータをバリデーション
func ValidateMetadata(m Metadata) error {
	seen := make(map[string]bool, len(m))
	for _, f := range m {
		if strings.TrimSpace(f.Key) == "" {
			return NewValidationError("metadata", "メタデータのキーが空です", f.Value)
		}
		if len(f.Key) > maxMetaKey {
			return NewValidationError("metadata", "メタデータのキーが長すぎます", f.Key)
		}
		if len(f.Value) > maxMetaValue {
			return NewValidationError("metadata", "メタデータの値が長すぎます", f.Key)
		}
		if seen[f.Key] {
			return NewValidationError("metadata", "メタデータのキーが重複しています", f.Key)
		}
		seen[f.Key] = true
	}
	return nil
}

// ValidateRollWeights ロール重量をバリデーション
func ValidateRollWeights(weights []decimal.Decimal) error {
	for i, w := range weights {
		if err := ValidatePositiveQuantity(fmt.Sprintf("roll_weights[%d]", i), w); err != nil {
			return err
		}
	}
	return nil
}

// ValidateRollIDs ロールIDの一覧をバリデーション
func ValidateRollIDs(ids []string) error {
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id == "" {
			return NewValidationError("roll_ids", "ロールIDが空です", id)
		}
		if seen[id] {
			return NewValidationError("roll_ids", "ロールIDが重複しています", id)
		}
		seen[id] = true
	}
	return nil
}

// ValidateReceiveInput 入庫入力をバリデーション
func ValidateReceiveInput(in ReceiveInput) error {
	if err := ValidateIdentity(in.Identity); err != nil {
		return err
	}
	// 空の単位は既存品目の単位、または既定単位を使う
	if in.Unit != "" {
		if err := ValidateUnit(in.Unit); err != nil {
			return err
		}
	}
	if err := ValidatePositiveQuantity("quantity", in.Quantity); err != nil {
		return err
	}
	if len(in.RollWeights) > 0 {
		if err := ValidateRollCategory(in.Identity.Category); err != nil {
			return err
		}
		if in.Identity.BatchNumber == nil {
			return NewValidationError("batch_number", "ロール入庫にはロット番号が必要です", "")
		}
		if err := ValidateRollWeights(in.RollWeights); err != nil {
			return err
		}
	}
	if err := ValidateReason(in.Reason); err != nil {
		return err
	}
	return ValidateMetadata(in.Metadata)
}

// ValidateIssueInput 出庫入力をバリデーション
func ValidateIssueInput(in IssueInput) error {
	if in.InventoryID == "" {
		return NewValidationError("inventory_id", "品目IDが指定されていません", "")
	}
	if len(in.RollIDs) > 0 {
		if err := ValidateRollIDs(in.RollIDs); err != nil {
			return err
		}
		if !in.Quantity.IsZero() {
			if err := ValidatePositiveQuantity("quantity", in.Quantity); err != nil {
				return err
			}
		}
	} else if err := ValidatePositiveQuantity("quantity", in.Quantity); err != nil {
		return err
	}
	if err := ValidateReason(in.Reason); err != nil {
		return err
	}
	return ValidateMetadata(in.Metadata)
}

// ValidateRequestInput 資材請求入力をバリデーション
func ValidateRequestInput(in RequestInput) error {
	if in.InventoryID == "" {
		return NewValidationError("inventory_id", "品目IDが指定されていません", "")
	}
	if err := ValidatePositiveQuantity("requested_qty", in.Quantity); err != nil {
		return err
	}
	if strings.TrimSpace(in.Department) == "" {
		return NewValidationError("department", "請求部門が指定されていません", in.Department)
	}
	if len(in.Department) > maxNameLength {
		return NewValidationError("department", "請求部門名が長すぎます", in.Department)
	}
	return ValidateReason(in.Note)
}
