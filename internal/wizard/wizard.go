package wizard

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/distrohq/salesdesk/internal/cartsync"
	"github.com/distrohq/salesdesk/internal/commerce"
	"github.com/distrohq/salesdesk/internal/dropoff"
	"github.com/distrohq/salesdesk/internal/order"
	"github.com/distrohq/salesdesk/internal/payment"
	"github.com/distrohq/salesdesk/pkg/division"
	pkgerrors "github.com/distrohq/salesdesk/pkg/errors"
)

// CommerceAPI is the remote surface the wizard drives. Implemented by
// *commerce.Client; stubbed in tests.
type CommerceAPI interface {
	CreateCart(ctx context.Context, scope division.Scope, req commerce.UpsertCartRequest) (*commerce.Cart, error)
	UpdateCart(ctx context.Context, scope division.Scope, req commerce.UpsertCartRequest) (*commerce.Cart, error)
	RemoveFromCart(ctx context.Context, scope division.Scope, req commerce.RemoveItemRequest) (*commerce.Cart, error)
	ValidateDropOffs(ctx context.Context, scope division.Scope, req commerce.ValidateDropOffsRequest) (*commerce.DropOffValidation, error)
	GetReviewDetails(ctx context.Context, scope division.Scope, cartID, warehouseType string) (*commerce.ReviewSnapshot, error)
	FinalizeOrder(ctx context.Context, scope division.Scope, req commerce.FinalizeOrderRequest) (*commerce.OrderIdentifiers, error)
	SubmitPayments(ctx context.Context, scope division.Scope, orderNumber string, payments []commerce.PaymentPayload) error
}

// Config carries the per-session settings the wizard needs.
type Config struct {
	Scope             division.Scope
	FallbackLatitude  float64
	FallbackLongitude float64
}

// Wizard sequences the five-step order creation flow. It exclusively owns
// all step state; nothing entered on an earlier step is ever discarded by
// moving between steps.
type Wizard struct {
	remote CommerceAPI
	cfg    Config

	mu           sync.Mutex
	current      Step
	furthest     Step
	customerID   string
	customerName string

	cart      *cartsync.Synchronizer
	plan      *dropoff.Planner
	review    *commerce.ReviewSnapshot
	finalizer *order.Finalizer
	payments  *payment.Submitter
}

// New builds a wizard at the customer step.
func New(remote CommerceAPI, cfg Config) (*Wizard, error) {
	if remote == nil {
		return nil, fmt.Errorf("commerce client required")
	}
	return &Wizard{remote: remote, cfg: cfg}, nil
}

// CurrentStep returns the step the wizard sits on.
func (w *Wizard) CurrentStep() Step {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Snapshot is the read model handed to the transport layer.
type Snapshot struct {
	CurrentStep   string                     `json:"current_step"`
	FurthestStep  string                     `json:"furthest_step"`
	CustomerID    string                     `json:"customer_id,omitempty"`
	CustomerName  string                     `json:"customer_name,omitempty"`
	Cart          *commerce.Cart             `json:"cart,omitempty"`
	WarehouseType string                     `json:"warehouse_type,omitempty"`
	DropOffs      []dropoff.DropOff          `json:"drop_offs,omitempty"`
	Review        *commerce.ReviewSnapshot   `json:"review,omitempty"`
	Order         *commerce.OrderIdentifiers `json:"order,omitempty"`
	PaymentsDone  bool                       `json:"payments_done"`
}

// Snapshot captures the whole wizard state for the UI.
func (w *Wizard) Snapshot() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	snap := Snapshot{
		CurrentStep:  w.current.String(),
		FurthestStep: w.furthest.String(),
		CustomerID:   w.customerID,
		CustomerName: w.customerName,
		Review:       w.review,
	}
	if w.cart != nil {
		snap.Cart = w.cart.Cart()
	}
	if w.plan != nil {
		snap.WarehouseType = w.plan.WarehouseType()
		snap.DropOffs = w.plan.List()
	}
	if w.finalizer != nil {
		snap.Order = w.finalizer.Result()
	}
	if w.payments != nil {
		snap.PaymentsDone = w.payments.Submitted()
	}
	return snap
}

// SelectCustomer binds the wizard to a customer and instantiates the
// per-pass collaborators. Once a cart exists the customer is locked in;
// starting over requires an explicit Reset.
func (w *Wizard) SelectCustomer(customerID, customerName string) error {
	id := strings.TrimSpace(customerID)
	if id == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "customer id required")
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.customerID == id {
		w.customerName = customerName
		return nil
	}
	if w.cart != nil && !w.cart.IsEmpty() {
		return pkgerrors.New(pkgerrors.CodeConflict, "reset the wizard to change the customer")
	}

	cart, err := cartsync.NewSynchronizer(w.remote, w.cfg.Scope, id)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build cart synchronizer")
	}
	plan, err := dropoff.NewPlanner(w.remote, w.cfg.Scope, id, w.cfg.FallbackLatitude, w.cfg.FallbackLongitude)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build drop-off planner")
	}
	finalizer, err := order.NewFinalizer(w.remote, w.cfg.Scope, id)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build order finalizer")
	}
	payments, err := payment.NewSubmitter(w.remote, w.cfg.Scope)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build payment submitter")
	}

	w.customerID = id
	w.customerName = customerName
	w.cart = cart
	w.plan = plan
	w.finalizer = finalizer
	w.payments = payments
	return nil
}

// Advance completes the current step and moves forward one step, checking
// the transition guard first. On guard or remote failure the wizard stays
// where it is and keeps all entered data.
func (w *Wizard) Advance(ctx context.Context) (Step, error) {
	w.mu.Lock()
	current := w.current
	w.mu.Unlock()

	next, ok := transitions[current]
	if !ok {
		return current, pkgerrors.New(pkgerrors.CodeConflict, "already at the final step")
	}
	if err := w.guard(ctx, next); err != nil {
		return current, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.current = next
	if next > w.furthest {
		w.furthest = next
	}
	w.enter(next)
	return w.current, nil
}

// GoTo jumps backward (or sideways) to an already-reached step. Forward
// jumps past the furthest completed step are rejected; completion actions
// are the only way forward.
func (w *Wizard) GoTo(step Step) (Step, error) {
	if !step.IsValid() {
		return w.CurrentStep(), pkgerrors.New(pkgerrors.CodeValidation, "unknown step")
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if step > w.furthest {
		return w.current, pkgerrors.New(pkgerrors.CodeValidation,
			fmt.Sprintf("step %s not reached yet; complete %s first", step, w.current))
	}
	w.current = step
	w.enter(step)
	return w.current, nil
}

// guard checks the precondition for entering a step.
func (w *Wizard) guard(ctx context.Context, next Step) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch next {
	case StepProducts:
		if w.customerID == "" {
			return pkgerrors.New(pkgerrors.CodeValidation, "select a customer first")
		}
		return nil
	case StepLogistics:
		if w.cart == nil || w.cart.IsEmpty() {
			return pkgerrors.New(pkgerrors.CodeValidation, "add at least one product to the cart")
		}
		return nil
	case StepReview:
		if err := w.plan.Ready(); err != nil {
			return err
		}
		return w.loadReviewLocked(ctx)
	case StepPayment:
		if w.finalizer == nil || w.finalizer.Result() == nil || w.finalizer.Result().OrderID == "" {
			return pkgerrors.New(pkgerrors.CodeConflict, "finalize the order before entering payment")
		}
		return nil
	default:
		return nil
	}
}

// enter runs entry side effects. Must hold w.mu.
func (w *Wizard) enter(step Step) {
	if step == StepLogistics {
		if w.plan != nil && w.cart != nil {
			snapshot := w.cart.Cart()
			w.plan.SeedFromCart(snapshot)
			w.plan.ReconcileWithCart(snapshot)
		}
		// the review projection is stale once logistics is editable again
		w.review = nil
	}
}

func (w *Wizard) loadReviewLocked(ctx context.Context) error {
	if w.review != nil {
		return nil
	}
	snapshot, err := w.remote.GetReviewDetails(ctx, w.cfg.Scope, w.cart.CartID(), w.plan.WarehouseType())
	if err != nil {
		return err
	}
	w.review = snapshot
	return nil
}

// AddOrUpdateProduct sets the absolute quantity of a product in the cart.
// Existing drop-off assignments are clamped to the new cart contents.
func (w *Wizard) AddOrUpdateProduct(ctx context.Context, product cartsync.ProductRef, quantity int) (*commerce.Cart, error) {
	cart, err := w.cartSync()
	if err != nil {
		return nil, err
	}
	snapshot, err := cart.AddOrUpdate(ctx, product, quantity)
	if err != nil {
		return nil, err
	}
	w.reconcilePlan(snapshot)
	return snapshot, nil
}

// RemoveProduct removes a product from the cart, falling back to a
// zero-quantity update when the remove endpoint is unavailable. Drop-off
// assignments of the removed product are dropped with it.
func (w *Wizard) RemoveProduct(ctx context.Context, productID string) (*commerce.Cart, error) {
	cart, err := w.cartSync()
	if err != nil {
		return nil, err
	}
	snapshot, err := cart.Remove(ctx, productID)
	if err != nil {
		return nil, err
	}
	w.reconcilePlan(snapshot)
	return snapshot, nil
}

// reconcilePlan keeps the per-product drop-off totals within the cart
// quantities after the cart changed under an existing plan.
func (w *Wizard) reconcilePlan(cart *commerce.Cart) {
	w.mu.Lock()
	plan := w.plan
	w.mu.Unlock()
	if plan != nil {
		plan.ReconcileWithCart(cart)
	}
}

// ResizeDropOffs changes the number of destinations.
func (w *Wizard) ResizeDropOffs(count int) error {
	plan, cart, err := w.planner()
	if err != nil {
		return err
	}
	return plan.Resize(count, cart.Cart())
}

// PatchDropOff edits a destination's address fields.
func (w *Wizard) PatchDropOff(index int, patch dropoff.FieldPatch) error {
	plan, _, err := w.planner()
	if err != nil {
		return err
	}
	return plan.ApplyFieldPatch(index, patch)
}

// MoveDropOff repositions a destination's coordinate.
func (w *Wizard) MoveDropOff(index int, lat, lng float64) error {
	plan, _, err := w.planner()
	if err != nil {
		return err
	}
	return plan.SetCoordinates(index, lat, lng)
}

// AssignDropOffItem sets the quantity of a cart line on a destination.
func (w *Wizard) AssignDropOffItem(index int, productID string, quantity int) error {
	plan, cart, err := w.planner()
	if err != nil {
		return err
	}
	return plan.SetItemQuantity(index, productID, quantity, cart.Cart())
}

// ChooseWarehouse picks the warehouse/service-area type.
func (w *Wizard) ChooseWarehouse(warehouseType string) error {
	plan, cart, err := w.planner()
	if err != nil {
		return err
	}
	return plan.SetWarehouseType(warehouseType, cart.Cart())
}

// ValidateDropOff runs the remote feasibility check for one destination.
func (w *Wizard) ValidateDropOff(ctx context.Context, index int) (*dropoff.DropOff, error) {
	plan, _, err := w.planner()
	if err != nil {
		return nil, err
	}
	return plan.Validate(ctx, index)
}

// SkipDropOffValidation force-marks a destination valid after the operator
// acknowledged the permission failure.
func (w *Wizard) SkipDropOffValidation(index int) error {
	plan, _, err := w.planner()
	if err != nil {
		return err
	}
	return plan.SkipValidation(index)
}

// Review returns the server-computed review projection, fetching it when
// missing.
func (w *Wizard) Review(ctx context.Context) (*commerce.ReviewSnapshot, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cart == nil || w.plan == nil {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "wizard has no cart yet")
	}
	if err := w.loadReviewLocked(ctx); err != nil {
		return nil, err
	}
	return w.review, nil
}

// Finalize converts the plan into a persisted order and, on success, moves
// the wizard onto the payment step. Exactly one finalize may succeed per
// wizard pass.
func (w *Wizard) Finalize(ctx context.Context, paymentMethod string) (*commerce.OrderIdentifiers, error) {
	w.mu.Lock()
	if w.current != StepReview {
		current := w.current
		w.mu.Unlock()
		return nil, pkgerrors.New(pkgerrors.CodeConflict,
			fmt.Sprintf("finalize is only available on the review step, not %s", current))
	}
	finalizer := w.finalizer
	cart := w.cart.Cart()
	warehouseType := w.plan.WarehouseType()
	payloads := w.plan.Payloads()
	w.mu.Unlock()

	ids, err := finalizer.Finalize(ctx, cart, warehouseType, payloads, paymentMethod)
	if err != nil {
		return nil, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.current = StepPayment
	if w.furthest < StepPayment {
		w.furthest = StepPayment
	}
	return ids, nil
}

// SubmitPayments posts the payment batch against the finalized order,
// keyed by the order number.
func (w *Wizard) SubmitPayments(ctx context.Context, records []payment.Record) error {
	w.mu.Lock()
	if w.current != StepPayment {
		current := w.current
		w.mu.Unlock()
		return pkgerrors.New(pkgerrors.CodeConflict,
			fmt.Sprintf("payments are only accepted on the payment step, not %s", current))
	}
	submitter := w.payments
	ids := w.finalizer.Result()
	w.mu.Unlock()

	if ids == nil {
		return pkgerrors.New(pkgerrors.CodeConflict, "no finalized order to pay against")
	}
	return submitter.Submit(ctx, ids.OrderNumber, records)
}

// Reset abandons the pass and returns to the customer step. The remote
// cart is discarded, not deleted.
func (w *Wizard) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.current = StepCustomer
	w.furthest = StepCustomer
	w.customerID = ""
	w.customerName = ""
	w.cart = nil
	w.plan = nil
	w.review = nil
	w.finalizer = nil
	w.payments = nil
}

func (w *Wizard) cartSync() (*cartsync.Synchronizer, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cart == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "select a customer first")
	}
	return w.cart, nil
}

func (w *Wizard) planner() (*dropoff.Planner, *cartsync.Synchronizer, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.plan == nil || w.cart == nil {
		return nil, nil, pkgerrors.New(pkgerrors.CodeValidation, "select a customer first")
	}
	return w.plan, w.cart, nil
}
