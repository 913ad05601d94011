package order

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/distrohq/salesdesk/internal/commerce"
	"github.com/distrohq/salesdesk/pkg/division"
	pkgerrors "github.com/distrohq/salesdesk/pkg/errors"
)

type finalizeCaller interface {
	FinalizeOrder(ctx context.Context, scope division.Scope, req commerce.FinalizeOrderRequest) (*commerce.OrderIdentifiers, error)
}

// Finalizer performs the one-way conversion of a validated cart plus
// drop-off plan into a persisted order. Finalize is not idempotent on the
// server, so exactly one call is allowed per wizard pass; a client-side
// idempotency key is minted per pass as a second line of defense.
type Finalizer struct {
	remote     finalizeCaller
	scope      division.Scope
	customerID string

	mu             sync.Mutex
	inFlight       bool
	result         *commerce.OrderIdentifiers
	idempotencyKey string
}

// NewFinalizer builds a finalizer for one wizard pass.
func NewFinalizer(remote finalizeCaller, scope division.Scope, customerID string) (*Finalizer, error) {
	if remote == nil {
		return nil, fmt.Errorf("finalize client required")
	}
	if strings.TrimSpace(customerID) == "" {
		return nil, fmt.Errorf("customer id required")
	}
	return &Finalizer{
		remote:         remote,
		scope:          scope,
		customerID:     customerID,
		idempotencyKey: mintIdempotencyKey(),
	}, nil
}

// Result returns the finalized order identifiers, nil before success.
func (f *Finalizer) Result() *commerce.OrderIdentifiers {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.result
}

// Finalize submits the order. A call while one is pending, or after a
// previous success, is rejected without touching the network.
func (f *Finalizer) Finalize(
	ctx context.Context,
	cart *commerce.Cart,
	warehouseType string,
	dropOffs []commerce.DropOffPayload,
	paymentMethod string,
) (*commerce.OrderIdentifiers, error) {
	if cart.IsEmpty() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cannot finalize an empty cart")
	}
	if strings.TrimSpace(warehouseType) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "warehouse type required")
	}
	if len(dropOffs) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one drop-off required")
	}

	f.mu.Lock()
	if f.inFlight {
		f.mu.Unlock()
		return nil, pkgerrors.New(pkgerrors.CodeInFlight, "finalize already in flight")
	}
	if f.result != nil {
		result := f.result
		f.mu.Unlock()
		return result, pkgerrors.New(pkgerrors.CodeConflict, "order already finalized")
	}
	f.inFlight = true
	key := f.idempotencyKey
	f.mu.Unlock()

	req := commerce.FinalizeOrderRequest{
		CustomerID:     f.customerID,
		WarehouseType:  warehouseType,
		PaymentMethod:  paymentMethod,
		DropOffs:       dropOffs,
		IdempotencyKey: key,
		Items:          make([]commerce.CartLineRequest, 0, len(cart.Items)),
	}
	for _, line := range cart.Items {
		req.Items = append(req.Items, commerce.CartLineRequest{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			Unit:      line.Unit,
		})
	}

	ids, err := f.remote.FinalizeOrder(ctx, f.scope, req)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.inFlight = false
	if err != nil {
		// the wizard stays on Review; the operator retries explicitly
		return nil, err
	}
	f.result = ids
	return ids, nil
}

// Reset discards the finalize state and mints a fresh idempotency key for
// the next wizard pass.
func (f *Finalizer) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.result = nil
	f.inFlight = false
	f.idempotencyKey = mintIdempotencyKey()
}

func mintIdempotencyKey() string {
	return fmt.Sprintf("order-%s", uuid.NewString())
}
