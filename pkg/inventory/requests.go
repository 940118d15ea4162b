package inventory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CreateRequest opens a Pending material request against an item
// 資材請求を作成（Pending）
func (m *Manager) CreateRequest(ctx context.Context, in RequestInput) (req *MaterialRequest, err error) {
	defer m.observe("request_create", time.Now(), &err)

	in.Department = strings.TrimSpace(in.Department)
	if err := ValidateRequestInput(in); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	req = &MaterialRequest{
		ID:           NewID(),
		InventoryID:  in.InventoryID,
		RequestedQty: in.Quantity,
		Status:       RequestStatusPending,
		Department:   in.Department,
		Note:         in.Note,
		RequestedBy:  UserFromContext(ctx),
		CreatedAt:    now,
	}

	err = m.storage.WithTx(ctx, func(tx Tx) error {
		if _, err := NewRegistry(tx).Get(ctx, in.InventoryID); err != nil {
			return err
		}
		return tx.CreateRequest(ctx, req)
	})
	if err != nil {
		return nil, wrapStorage("create_request", "資材請求の作成に失敗しました", err)
	}

	m.logger.Info("資材請求作成完了",
		zap.String("request_id", req.ID),
		zap.String("inventory_id", req.InventoryID),
		zap.String("department", req.Department),
		zap.Stringer("requested_qty", req.RequestedQty),
	)

	return req, nil
}

// IssueRequest moves a Pending request to Issued. The stock check, the Out
// entry and the status change commit together; when stock is short the
// request stays Pending.
// 資材請求を出庫（Pending → Issued）
func (m *Manager) IssueRequest(ctx context.Context, requestID string, in IssueRequestInput) (req *MaterialRequest, err error) {
	defer m.observe("request_issue", time.Now(), &err)

	if requestID == "" {
		return nil, NewValidationError("request_id", "請求IDが指定されていません", "")
	}
	if err := ValidateRollIDs(in.RollIDs); err != nil {
		return nil, err
	}
	if err := ValidateReason(in.Reason); err != nil {
		return nil, err
	}
	if err := ValidateMetadata(in.Metadata); err != nil {
		return nil, err
	}

	user := UserFromContext(ctx)
	now := time.Now().UTC()

	var (
		item  *InventoryItem
		entry *LedgerEntry
	)
	err = m.storage.WithTx(ctx, func(tx Tx) error {
		var err error
		req, err = tx.GetRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if err := checkTransition(req.Status, RequestStatusIssued); err != nil {
			return err
		}

		current, err := NewRegistry(tx).Get(ctx, req.InventoryID)
		if err != nil {
			return err
		}
		if req.RequestedQty.GreaterThan(current.Quantity) {
			return NewInsufficientStockError(current.ID, req.RequestedQty, current.Quantity)
		}

		issue := IssueInput{
			InventoryID: req.InventoryID,
			Quantity:    req.RequestedQty,
			Reason:      in.Reason,
			Metadata:    in.Metadata.With(MetaRequestID, req.ID).With(MetaDepartment, req.Department),
			RollIDs:     in.RollIDs,
		}
		if len(issue.RollIDs) > 0 {
			// ロール指定時は重量合計を出庫数量とする
			issue.Quantity = decimal.Zero
		}
		if issue.Reason == "" {
			issue.Reason = m.config.RequestReason
		}

		item, entry, err = m.issueInTx(ctx, tx, issue, user, now)
		if err != nil {
			return err
		}

		issuedQty := entry.Quantity
		issuedAt := now
		entryID := entry.ID
		req.Status = RequestStatusIssued
		req.IssuedQty = &issuedQty
		req.IssuedBy = &user
		req.IssuedAt = &issuedAt
		req.IssueEntryID = &entryID
		return tx.UpdateRequest(ctx, req, RequestStatusPending)
	})
	if err != nil {
		return nil, wrapStorage("issue_request", "資材請求の出庫に失敗しました", err)
	}

	m.afterCommit(ctx, ChangeRequestIssue, item, entry.ID, entry.Quantity.Neg())

	m.logger.Info("資材請求出庫完了",
		zap.String("request_id", req.ID),
		zap.String("inventory_id", item.ID),
		zap.String("department", req.Department),
		zap.Stringer("issued_qty", entry.Quantity),
		zap.Stringer("new_quantity", item.Quantity),
	)

	return req, nil
}

// ReceiveRequest acknowledges receipt of an Issued request. It has no
// inventory effect.
// 資材請求の受領を記録（Issued → Received）
func (m *Manager) ReceiveRequest(ctx context.Context, requestID string) (req *MaterialRequest, err error) {
	defer m.observe("request_receive", time.Now(), &err)

	if requestID == "" {
		return nil, NewValidationError("request_id", "請求IDが指定されていません", "")
	}
	now := time.Now().UTC()

	err = m.storage.WithTx(ctx, func(tx Tx) error {
		var err error
		req, err = tx.GetRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if err := checkTransition(req.Status, RequestStatusReceived); err != nil {
			return err
		}
		req.Status = RequestStatusReceived
		req.ReceivedAt = &now
		return tx.UpdateRequest(ctx, req, RequestStatusIssued)
	})
	if err != nil {
		return nil, wrapStorage("receive_request", "資材請求の受領に失敗しました", err)
	}

	m.logger.Info("資材請求受領完了",
		zap.String("request_id", req.ID),
		zap.String("inventory_id", req.InventoryID),
	)

	return req, nil
}

// GetRequest returns one material request
// 資材請求を取得
func (m *Manager) GetRequest(ctx context.Context, requestID string) (*MaterialRequest, error) {
	var req *MaterialRequest
	err := m.storage.WithTx(ctx, func(tx Tx) error {
		var err error
		req, err = tx.GetRequest(ctx, requestID)
		return err
	})
	if err != nil {
		return nil, wrapStorage("get_request", "資材請求の取得に失敗しました", err)
	}
	return req, nil
}

// ListRequests returns requests matching filter, newest first
// 資材請求一覧を取得
func (m *Manager) ListRequests(ctx context.Context, filter RequestFilter) ([]MaterialRequest, error) {
	switch filter.Status {
	case "", RequestStatusPending, RequestStatusIssued, RequestStatusReceived:
	default:
		return nil, NewValidationError("status", "無効なステータスです", string(filter.Status))
	}
	var reqs []MaterialRequest
	err := m.storage.WithTx(ctx, func(tx Tx) error {
		var err error
		reqs, err = tx.ListRequests(ctx, filter)
		return err
	})
	if err != nil {
		return nil, wrapStorage("list_requests", "資材請求一覧の取得に失敗しました", err)
	}
	return reqs, nil
}

// checkTransition allows only the single forward step of the workflow
func checkTransition(from, to RequestStatus) error {
	if from.next() != to {
		return NewValidationError("status", fmt.Sprintf("%s から %s へは遷移できません", from, to), string(from))
	}
	return nil
}
