package inventory_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nemonet1337/zaiGarment/pkg/inventory"
)

func TestRequestWorkflow_PendingIssuedReceived(t *testing.T) {
	m := newTestManager(t)
	ctx := testContext()
	id := receive(t, m, inventory.NewIdentity("Interlining", inventory.CategoryAccessory, "", ""), "80")

	req, err := m.CreateRequest(ctx, inventory.RequestInput{InventoryID: id, Quantity: d("30"), Department: " cutting ", Note: "JK-01"})
	require.NoError(t, err)
	assert.Equal(t, inventory.RequestStatusPending, req.Status)
	assert.Equal(t, "cutting", req.Department)
	assert.Equal(t, "tester", req.RequestedBy)
	assert.Nil(t, req.IssuedQty)

	// 作成だけでは在庫は動かない
	assert.True(t, quantityOf(t, m, id).Equal(d("80")))

	// Pending から Received へは飛べない
	_, err = m.ReceiveRequest(ctx, req.ID)
	assert.ErrorIs(t, err, inventory.ErrValidation)

	issued, err := m.IssueRequest(ctx, req.ID, inventory.IssueRequestInput{Metadata: inventory.Metadata{{Key: inventory.MetaModel, Value: "JK-01"}}})
	require.NoError(t, err)
	assert.Equal(t, inventory.RequestStatusIssued, issued.Status)
	require.NotNil(t, issued.IssuedQty)
	assert.True(t, issued.IssuedQty.Equal(d("30")))
	require.NotNil(t, issued.IssueEntryID)
	assert.NotNil(t, issued.IssuedAt)
	assert.True(t, quantityOf(t, m, id).Equal(d("50")))

	entries, err := m.ListHistory(ctx, id)
	require.NoError(t, err)
	out := entryOf(t, entries, inventory.EntryTypeOut, inventory.DefaultConfig().RequestReason)
	assert.Equal(t, *issued.IssueEntryID, out.ID)
	reqID, _ := out.Metadata.Get(inventory.MetaRequestID)
	dept, _ := out.Metadata.Get(inventory.MetaDepartment)
	model, _ := out.Metadata.Get(inventory.MetaModel)
	assert.Equal(t, req.ID, reqID)
	assert.Equal(t, "cutting", dept)
	assert.Equal(t, "JK-01", model)

	// 二重出庫は不可
	_, err = m.IssueRequest(ctx, req.ID, inventory.IssueRequestInput{})
	assert.ErrorIs(t, err, inventory.ErrValidation)
	assert.True(t, quantityOf(t, m, id).Equal(d("50")))

	received, err := m.ReceiveRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, inventory.RequestStatusReceived, received.Status)
	assert.NotNil(t, received.ReceivedAt)
	assert.True(t, quantityOf(t, m, id).Equal(d("50")))

	_, err = m.ReceiveRequest(ctx, req.ID)
	assert.ErrorIs(t, err, inventory.ErrValidation)

	got, err := m.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, inventory.RequestStatusReceived, got.Status)
	assertConsistent(t, m, id)
}

func TestIssueRequest_InsufficientStockStaysPending(t *testing.T) {
	m := newTestManager(t)
	ctx := testContext()
	id := receive(t, m, inventory.NewIdentity("Snap", inventory.CategoryAccessory, "", ""), "5")

	req, err := m.CreateRequest(ctx, inventory.RequestInput{InventoryID: id, Quantity: d("8"), Department: "sewing"})
	require.NoError(t, err)

	_, err = m.IssueRequest(ctx, req.ID, inventory.IssueRequestInput{})
	assert.ErrorIs(t, err, inventory.ErrInsufficientStock)

	got, err := m.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, inventory.RequestStatusPending, got.Status)
	assert.True(t, quantityOf(t, m, id).Equal(d("5")))

	// 入庫後に再試行すると出庫できる
	receive(t, m, inventory.NewIdentity("Snap", inventory.CategoryAccessory, "", ""), "5")
	issued, err := m.IssueRequest(ctx, req.ID, inventory.IssueRequestInput{})
	require.NoError(t, err)
	assert.Equal(t, inventory.RequestStatusIssued, issued.Status)
	assert.True(t, quantityOf(t, m, id).Equal(d("2")))
}

func TestIssueRequest_WithRollsIssuesRollWeight(t *testing.T) {
	m := newTestManager(t)
	ctx := testContext()

	id, err := m.Receive(ctx, inventory.ReceiveInput{
		Identity:    inventory.NewIdentity("Tweed", inventory.CategoryFabric, "Brown", "TW1"),
		Unit:        inventory.UnitKg,
		RollWeights: []decimal.Decimal{d("12.5"), d("13")},
	})
	require.NoError(t, err)
	rolls, err := m.ListRolls(ctx, id)
	require.NoError(t, err)

	req, err := m.CreateRequest(ctx, inventory.RequestInput{InventoryID: id, Quantity: d("12"), Department: "cutting"})
	require.NoError(t, err)

	issued, err := m.IssueRequest(ctx, req.ID, inventory.IssueRequestInput{RollIDs: []string{rolls[0].ID}})
	require.NoError(t, err)
	assert.True(t, issued.IssuedQty.Equal(d("12.5")))
	assert.True(t, issued.RequestedQty.Equal(d("12")))
	assert.True(t, quantityOf(t, m, id).Equal(d("13")))

	rolls, err = m.ListRolls(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, inventory.RollStatusUsed, rolls[0].Status)
	assertConsistent(t, m, id)
}

func TestRequests_ValidationAndListing(t *testing.T) {
	m := newTestManager(t)
	ctx := testContext()
	id := receive(t, m, inventory.NewIdentity("Cord", inventory.CategoryAccessory, "", ""), "100")

	_, err := m.CreateRequest(ctx, inventory.RequestInput{InventoryID: id, Quantity: d("1"), Department: "  "})
	assert.ErrorIs(t, err, inventory.ErrValidation)
	_, err = m.CreateRequest(ctx, inventory.RequestInput{InventoryID: id, Quantity: decimal.Zero, Department: "cutting"})
	assert.ErrorIs(t, err, inventory.ErrValidation)
	_, err = m.CreateRequest(ctx, inventory.RequestInput{InventoryID: "missing", Quantity: d("1"), Department: "cutting"})
	assert.ErrorIs(t, err, inventory.ErrNotFound)
	_, err = m.IssueRequest(ctx, "missing", inventory.IssueRequestInput{})
	assert.ErrorIs(t, err, inventory.ErrNotFound)
	_, err = m.GetRequest(ctx, "missing")
	assert.ErrorIs(t, err, inventory.ErrNotFound)

	first, err := m.CreateRequest(ctx, inventory.RequestInput{InventoryID: id, Quantity: d("1"), Department: "cutting"})
	require.NoError(t, err)
	_, err = m.CreateRequest(ctx, inventory.RequestInput{InventoryID: id, Quantity: d("2"), Department: "sewing"})
	require.NoError(t, err)
	_, err = m.IssueRequest(ctx, first.ID, inventory.IssueRequestInput{})
	require.NoError(t, err)

	all, err := m.ListRequests(ctx, inventory.RequestFilter{InventoryID: id})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	pending, err := m.ListRequests(ctx, inventory.RequestFilter{Status: inventory.RequestStatusPending})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "sewing", pending[0].Department)

	_, err = m.ListRequests(ctx, inventory.RequestFilter{Status: "Cancelled"})
	assert.ErrorIs(t, err, inventory.ErrValidation)
}
