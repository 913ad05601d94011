package wizard

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/distrohq/salesdesk/internal/cartsync"
	"github.com/distrohq/salesdesk/internal/commerce"
	"github.com/distrohq/salesdesk/internal/payment"
	"github.com/distrohq/salesdesk/pkg/division"
	pkgerrors "github.com/distrohq/salesdesk/pkg/errors"
)

type stubCommerce struct {
	cart *commerce.Cart

	reviewCalls   int
	reviewErr     error
	finalizeCalls int
	finalizeErr   error
	lastFinalize  commerce.FinalizeOrderRequest
	paymentCalls  int
	paymentOrder  string
}

func (s *stubCommerce) snapshot() *commerce.Cart {
	if s.cart == nil {
		return nil
	}
	copied := *s.cart
	copied.Items = append([]commerce.CartItem(nil), s.cart.Items...)
	return &copied
}

func (s *stubCommerce) CreateCart(ctx context.Context, scope division.Scope, req commerce.UpsertCartRequest) (*commerce.Cart, error) {
	s.cart = &commerce.Cart{
		ID:         "cart-1",
		CustomerID: req.CustomerID,
		Logistics:  commerce.CartLogistics{WarehouseOptions: []string{"main"}, MaxDropOffs: 3},
	}
	return s.applyLines(req.Items)
}

func (s *stubCommerce) UpdateCart(ctx context.Context, scope division.Scope, req commerce.UpsertCartRequest) (*commerce.Cart, error) {
	return s.applyLines(req.Items)
}

func (s *stubCommerce) applyLines(lines []commerce.CartLineRequest) (*commerce.Cart, error) {
	s.cart.Items = nil
	for _, l := range lines {
		if l.Quantity <= 0 {
			continue
		}
		s.cart.Items = append(s.cart.Items, commerce.CartItem{
			ProductID: l.ProductID,
			Quantity:  l.Quantity,
			Unit:      l.Unit,
			UnitPrice: decimal.NewFromInt(10),
		})
	}
	return s.snapshot(), nil
}

func (s *stubCommerce) RemoveFromCart(ctx context.Context, scope division.Scope, req commerce.RemoveItemRequest) (*commerce.Cart, error) {
	var kept []commerce.CartItem
	for _, item := range s.cart.Items {
		if item.ProductID != req.ProductID {
			kept = append(kept, item)
		}
	}
	s.cart.Items = kept
	return s.snapshot(), nil
}

func (s *stubCommerce) ValidateDropOffs(ctx context.Context, scope division.Scope, req commerce.ValidateDropOffsRequest) (*commerce.DropOffValidation, error) {
	return &commerce.DropOffValidation{Valid: true}, nil
}

func (s *stubCommerce) GetReviewDetails(ctx context.Context, scope division.Scope, cartID, warehouseType string) (*commerce.ReviewSnapshot, error) {
	s.reviewCalls++
	if s.reviewErr != nil {
		return nil, s.reviewErr
	}
	return &commerce.ReviewSnapshot{Warehouse: warehouseType, TotalAmount: decimal.NewFromInt(100)}, nil
}

func (s *stubCommerce) FinalizeOrder(ctx context.Context, scope division.Scope, req commerce.FinalizeOrderRequest) (*commerce.OrderIdentifiers, error) {
	s.finalizeCalls++
	s.lastFinalize = req
	if s.finalizeErr != nil {
		return nil, s.finalizeErr
	}
	return &commerce.OrderIdentifiers{OrderID: "ord-1", OrderNumber: "SO-77"}, nil
}

func (s *stubCommerce) SubmitPayments(ctx context.Context, scope division.Scope, orderNumber string, payments []commerce.PaymentPayload) error {
	s.paymentCalls++
	s.paymentOrder = orderNumber
	return nil
}

func newTestWizard(t *testing.T) (*Wizard, *stubCommerce) {
	t.Helper()
	remote := &stubCommerce{}
	w, err := New(remote, Config{FallbackLatitude: 28.6, FallbackLongitude: 77.2})
	if err != nil {
		t.Fatalf("new wizard: %v", err)
	}
	return w, remote
}

// driveToLogistics walks a wizard through customer selection and one cart
// line onto the logistics step.
func driveToLogistics(t *testing.T, w *Wizard) {
	t.Helper()
	ctx := context.Background()
	if err := w.SelectCustomer("cust-1", "Acme Traders"); err != nil {
		t.Fatalf("select customer: %v", err)
	}
	if _, err := w.Advance(ctx); err != nil {
		t.Fatalf("advance to products: %v", err)
	}
	if _, err := w.AddOrUpdateProduct(ctx, cartsync.ProductRef{ProductID: "p1", Unit: "bag"}, 5); err != nil {
		t.Fatalf("add product: %v", err)
	}
	if _, err := w.Advance(ctx); err != nil {
		t.Fatalf("advance to logistics: %v", err)
	}
}

func driveToReview(t *testing.T, w *Wizard) {
	t.Helper()
	ctx := context.Background()
	driveToLogistics(t, w)
	if err := w.ChooseWarehouse("main"); err != nil {
		t.Fatalf("warehouse: %v", err)
	}
	if _, err := w.ValidateDropOff(ctx, 0); err != nil {
		t.Fatalf("validate drop-off: %v", err)
	}
	if _, err := w.Advance(ctx); err != nil {
		t.Fatalf("advance to review: %v", err)
	}
}

func TestAdvanceRequiresCustomer(t *testing.T) {
	w, _ := newTestWizard(t)
	_, err := w.Advance(context.Background())
	if pkgerrors.CodeOf(err) != pkgerrors.CodeValidation {
		t.Fatalf("error = %v, want validation", err)
	}
	if w.CurrentStep() != StepCustomer {
		t.Fatalf("step moved to %s", w.CurrentStep())
	}
}

func TestAdvanceRequiresNonEmptyCart(t *testing.T) {
	w, _ := newTestWizard(t)
	ctx := context.Background()
	if err := w.SelectCustomer("cust-1", ""); err != nil {
		t.Fatalf("select: %v", err)
	}
	if _, err := w.Advance(ctx); err != nil {
		t.Fatalf("to products: %v", err)
	}

	_, err := w.Advance(ctx)
	if pkgerrors.CodeOf(err) != pkgerrors.CodeValidation {
		t.Fatalf("error = %v, want validation for empty cart", err)
	}
	if w.CurrentStep() != StepProducts {
		t.Fatalf("step = %s, want to stay on products", w.CurrentStep())
	}
}

func TestLogisticsEntrySeedsDropOffPlan(t *testing.T) {
	w, _ := newTestWizard(t)
	driveToLogistics(t, w)

	snap := w.Snapshot()
	if len(snap.DropOffs) != 1 {
		t.Fatalf("drop-offs = %d, want auto-seeded 1", len(snap.DropOffs))
	}
	if len(snap.DropOffs[0].Items) != 1 || snap.DropOffs[0].Items[0].Quantity != 5 {
		t.Fatalf("seeded items = %+v, want full cart quantity", snap.DropOffs[0].Items)
	}
}

func TestReviewEntryFetchesSnapshotAndStaysOnFailure(t *testing.T) {
	w, remote := newTestWizard(t)
	driveToLogistics(t, w)
	if err := w.ChooseWarehouse("main"); err != nil {
		t.Fatalf("warehouse: %v", err)
	}
	if _, err := w.ValidateDropOff(context.Background(), 0); err != nil {
		t.Fatalf("validate: %v", err)
	}

	remote.reviewErr = errors.New("review endpoint down")
	if _, err := w.Advance(context.Background()); err == nil {
		t.Fatal("expected review fetch failure")
	}
	if w.CurrentStep() != StepLogistics {
		t.Fatalf("step = %s, want to stay on logistics", w.CurrentStep())
	}

	remote.reviewErr = nil
	if _, err := w.Advance(context.Background()); err != nil {
		t.Fatalf("retry advance: %v", err)
	}
	if w.CurrentStep() != StepReview {
		t.Fatalf("step = %s", w.CurrentStep())
	}
	if w.Snapshot().Review == nil {
		t.Fatal("review snapshot not cached")
	}
}

func TestBackNavigationPreservesDataAndInvalidatesReview(t *testing.T) {
	w, remote := newTestWizard(t)
	driveToReview(t, w)
	if remote.reviewCalls != 1 {
		t.Fatalf("review calls = %d", remote.reviewCalls)
	}

	if _, err := w.GoTo(StepProducts); err != nil {
		t.Fatalf("back to products: %v", err)
	}
	snap := w.Snapshot()
	if snap.Cart.IsEmpty() {
		t.Fatal("cart lost on back navigation")
	}

	// forward through logistics again: plan survives, review is refetched
	if _, err := w.GoTo(StepLogistics); err != nil {
		t.Fatalf("to logistics: %v", err)
	}
	snap = w.Snapshot()
	if len(snap.DropOffs) != 1 || snap.WarehouseType != "main" {
		t.Fatalf("plan lost: %+v", snap)
	}
	if snap.Review != nil {
		t.Fatal("review projection should be dropped when logistics is editable")
	}
	if _, err := w.Advance(context.Background()); err != nil {
		t.Fatalf("re-advance: %v", err)
	}
	if remote.reviewCalls != 2 {
		t.Fatalf("review calls = %d, want refetch", remote.reviewCalls)
	}
}

func TestCartShrinkReconcilesDropOffAssignments(t *testing.T) {
	w, remote := newTestWizard(t)
	driveToReview(t, w)
	ctx := context.Background()

	// back to products, p1 reduced from 5 to 2
	if _, err := w.GoTo(StepProducts); err != nil {
		t.Fatalf("back to products: %v", err)
	}
	if _, err := w.AddOrUpdateProduct(ctx, cartsync.ProductRef{ProductID: "p1", Unit: "bag"}, 2); err != nil {
		t.Fatalf("reduce quantity: %v", err)
	}

	assigned := 0
	for _, d := range w.Snapshot().DropOffs {
		for _, item := range d.Items {
			if item.ProductID == "p1" {
				assigned += item.Quantity
			}
		}
	}
	if assigned != 2 {
		t.Fatalf("assigned across drop-offs = %d, want clamped to cart quantity 2", assigned)
	}

	// the order built from the plan must not over-ship either
	if _, err := w.GoTo(StepLogistics); err != nil {
		t.Fatalf("to logistics: %v", err)
	}
	if _, err := w.Advance(ctx); err != nil {
		t.Fatalf("re-advance to review: %v", err)
	}
	if _, err := w.Finalize(ctx, "cash"); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	for _, d := range remote.lastFinalize.DropOffs {
		for _, item := range d.Items {
			if item.ProductID == "p1" && item.Quantity > 2 {
				t.Fatalf("finalize shipped %d of p1 against a cart of 2", item.Quantity)
			}
		}
	}
}

func TestProductRemovalDropsItsAssignments(t *testing.T) {
	w, _ := newTestWizard(t)
	driveToLogistics(t, w)
	ctx := context.Background()

	if _, err := w.GoTo(StepProducts); err != nil {
		t.Fatalf("back to products: %v", err)
	}
	if _, err := w.RemoveProduct(ctx, "p1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	for _, d := range w.Snapshot().DropOffs {
		for _, item := range d.Items {
			if item.ProductID == "p1" && item.Quantity > 0 {
				t.Fatalf("assignment survived product removal: %+v", d.Items)
			}
		}
	}
}

func TestGoToRejectsUnreachedStep(t *testing.T) {
	w, _ := newTestWizard(t)
	driveToLogistics(t, w)

	_, err := w.GoTo(StepPayment)
	if pkgerrors.CodeOf(err) != pkgerrors.CodeValidation {
		t.Fatalf("error = %v, want validation", err)
	}
}

func TestFinalizeMovesToPayment(t *testing.T) {
	w, remote := newTestWizard(t)
	driveToReview(t, w)

	ids, err := w.Finalize(context.Background(), "cash")
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if ids.OrderNumber != "SO-77" {
		t.Fatalf("ids = %+v", ids)
	}
	if w.CurrentStep() != StepPayment {
		t.Fatalf("step = %s, want payment", w.CurrentStep())
	}
	if remote.finalizeCalls != 1 {
		t.Fatalf("finalize calls = %d", remote.finalizeCalls)
	}
}

func TestFinalizeOnlyOnReviewStep(t *testing.T) {
	w, _ := newTestWizard(t)
	driveToLogistics(t, w)

	_, err := w.Finalize(context.Background(), "cash")
	if pkgerrors.CodeOf(err) != pkgerrors.CodeConflict {
		t.Fatalf("error = %v, want conflict", err)
	}
}

func TestFinalizeFailureStaysOnReview(t *testing.T) {
	w, remote := newTestWizard(t)
	driveToReview(t, w)

	remote.finalizeErr = errors.New("boom")
	if _, err := w.Finalize(context.Background(), "cash"); err == nil {
		t.Fatal("expected error")
	}
	if w.CurrentStep() != StepReview {
		t.Fatalf("step = %s, want review", w.CurrentStep())
	}
}

func TestSubmitPaymentsKeyedByOrderNumber(t *testing.T) {
	w, remote := newTestWizard(t)
	driveToReview(t, w)
	if _, err := w.Finalize(context.Background(), "cash"); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	err := w.SubmitPayments(context.Background(), []payment.Record{{
		TransactionDate: "2026-08-20",
		Method:          commerce.PaymentMethodCash,
		Amount:          decimal.NewFromInt(100),
	}})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if remote.paymentOrder != "SO-77" {
		t.Fatalf("payment keyed by %q, want order number SO-77", remote.paymentOrder)
	}
	if !w.Snapshot().PaymentsDone {
		t.Fatal("payments_done not reflected")
	}
}

func TestSubmitPaymentsRequiresPaymentStep(t *testing.T) {
	w, _ := newTestWizard(t)
	driveToReview(t, w)

	err := w.SubmitPayments(context.Background(), []payment.Record{{
		TransactionDate: "2026-08-20",
		Method:          commerce.PaymentMethodCash,
		Amount:          decimal.NewFromInt(100),
	}})
	if pkgerrors.CodeOf(err) != pkgerrors.CodeConflict {
		t.Fatalf("error = %v, want conflict", err)
	}
}

func TestCustomerLockedOnceCartExists(t *testing.T) {
	w, _ := newTestWizard(t)
	driveToLogistics(t, w)

	err := w.SelectCustomer("cust-2", "Other")
	if pkgerrors.CodeOf(err) != pkgerrors.CodeConflict {
		t.Fatalf("error = %v, want conflict", err)
	}

	// re-selecting the same customer only refreshes the display name
	if err := w.SelectCustomer("cust-1", "Acme Traders Pvt Ltd"); err != nil {
		t.Fatalf("same customer: %v", err)
	}
	if got := w.Snapshot().CustomerName; got != "Acme Traders Pvt Ltd" {
		t.Fatalf("name = %q", got)
	}
}

func TestResetReturnsToCustomerStep(t *testing.T) {
	w, _ := newTestWizard(t)
	driveToReview(t, w)

	w.Reset()
	snap := w.Snapshot()
	if snap.CurrentStep != "customer" || snap.CustomerID != "" || snap.Cart != nil || len(snap.DropOffs) != 0 {
		t.Fatalf("state survived reset: %+v", snap)
	}
}
