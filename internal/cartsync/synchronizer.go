package cartsync

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/multierr"

	"github.com/distrohq/salesdesk/internal/commerce"
	"github.com/distrohq/salesdesk/pkg/division"
	pkgerrors "github.com/distrohq/salesdesk/pkg/errors"
)

type remoteCart interface {
	CreateCart(ctx context.Context, scope division.Scope, req commerce.UpsertCartRequest) (*commerce.Cart, error)
	UpdateCart(ctx context.Context, scope division.Scope, req commerce.UpsertCartRequest) (*commerce.Cart, error)
	RemoveFromCart(ctx context.Context, scope division.Scope, req commerce.RemoveItemRequest) (*commerce.Cart, error)
}

// ProductRef identifies a catalog product being placed in the cart.
type ProductRef struct {
	ProductID string
	Name      string
	Unit      string
}

// Synchronizer maintains a local mirror of the server-side cart. Every
// mutation round-trips through the remote service and the mirror is
// replaced wholesale by the authoritative response; nothing is mutated
// optimistically.
type Synchronizer struct {
	remote     remoteCart
	scope      division.Scope
	customerID string

	mu       sync.Mutex
	cart     *commerce.Cart
	inFlight bool
	seq      uint64
}

// NewSynchronizer builds a synchronizer for one customer's wizard pass.
func NewSynchronizer(remote remoteCart, scope division.Scope, customerID string) (*Synchronizer, error) {
	if remote == nil {
		return nil, fmt.Errorf("remote cart client required")
	}
	if strings.TrimSpace(customerID) == "" {
		return nil, fmt.Errorf("customer id required")
	}
	return &Synchronizer{
		remote:     remote,
		scope:      scope,
		customerID: customerID,
	}, nil
}

// Cart returns the current mirror; nil until the first successful mutation.
func (s *Synchronizer) Cart() *commerce.Cart {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cart
}

// CartID returns the remote cart id, empty until the cart exists.
func (s *Synchronizer) CartID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cart == nil {
		return ""
	}
	return s.cart.ID
}

// Quantity reports the mirrored quantity for a product.
func (s *Synchronizer) Quantity(productID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cart.Quantity(productID)
}

// IsEmpty reports whether the mirror holds no lines.
func (s *Synchronizer) IsEmpty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cart.IsEmpty()
}

// AddOrUpdate sets the absolute quantity for a product. The first
// successful mutation creates the remote cart; later ones update it. On
// failure the mirror is left untouched so the operator can retry.
func (s *Synchronizer) AddOrUpdate(ctx context.Context, product ProductRef, quantity int) (*commerce.Cart, error) {
	if strings.TrimSpace(product.ProductID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product id required")
	}
	if quantity < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity cannot be negative")
	}

	seq, req, create, err := s.begin(product, quantity)
	if err != nil {
		return nil, err
	}

	var snapshot *commerce.Cart
	var callErr error
	if create {
		snapshot, callErr = s.remote.CreateCart(ctx, s.scope, req)
	} else {
		snapshot, callErr = s.remote.UpdateCart(ctx, s.scope, req)
	}
	return s.finish(seq, snapshot, callErr)
}

// Remove deletes a product from the cart. When the dedicated remove
// endpoint is rejected (some account tiers lack the permission), it falls
// back to an update with quantity zero before surfacing any error.
func (s *Synchronizer) Remove(ctx context.Context, productID string) (*commerce.Cart, error) {
	if strings.TrimSpace(productID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product id required")
	}

	s.mu.Lock()
	if s.inFlight {
		s.mu.Unlock()
		return nil, pkgerrors.New(pkgerrors.CodeInFlight, "cart mutation already in flight")
	}
	if s.cart == nil {
		s.mu.Unlock()
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cart does not exist yet")
	}
	item, present := s.cart.Item(productID)
	if !present {
		cart := s.cart
		s.mu.Unlock()
		return cart, nil
	}
	s.inFlight = true
	s.seq++
	seq := s.seq
	cartID := s.cart.ID
	s.mu.Unlock()

	snapshot, primaryErr := s.remote.RemoveFromCart(ctx, s.scope, commerce.RemoveItemRequest{
		CartID:     cartID,
		CustomerID: s.customerID,
		ProductID:  productID,
	})
	if primaryErr == nil {
		return s.finish(seq, snapshot, nil)
	}

	// removal must not fail merely because the primary endpoint is
	// unavailable for this account
	req := s.buildUpsert(cartID, ProductRef{ProductID: productID, Unit: item.Unit}, 0)
	snapshot, fallbackErr := s.remote.UpdateCart(ctx, s.scope, req)
	if fallbackErr != nil {
		_, _ = s.finish(seq, nil, fallbackErr)
		return nil, pkgerrors.Wrap(pkgerrors.CodeOf(fallbackErr),
			multierr.Append(primaryErr, fallbackErr), "remove from cart failed")
	}
	return s.finish(seq, snapshot, nil)
}

// Reset discards the mirror; the remote cart is abandoned, not deleted.
func (s *Synchronizer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cart = nil
	s.seq++
	s.inFlight = false
}

func (s *Synchronizer) begin(product ProductRef, quantity int) (uint64, commerce.UpsertCartRequest, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inFlight {
		return 0, commerce.UpsertCartRequest{}, false, pkgerrors.New(pkgerrors.CodeInFlight, "cart mutation already in flight")
	}

	create := s.cart == nil
	if create && quantity == 0 {
		return 0, commerce.UpsertCartRequest{}, false, pkgerrors.New(pkgerrors.CodeValidation, "cannot create a cart with zero quantity")
	}

	cartID := ""
	if s.cart != nil {
		cartID = s.cart.ID
	}

	s.inFlight = true
	s.seq++
	return s.seq, s.buildUpsert(cartID, product, quantity), create, nil
}

// buildUpsert sends the full line set with the target replaced; the remote
// service treats quantities as absolute, not deltas.
func (s *Synchronizer) buildUpsert(cartID string, product ProductRef, quantity int) commerce.UpsertCartRequest {
	req := commerce.UpsertCartRequest{
		CartID:     cartID,
		CustomerID: s.customerID,
	}

	seen := false
	if s.cart != nil {
		for _, line := range s.cart.Items {
			if line.ProductID == product.ProductID {
				seen = true
				if quantity > 0 {
					req.Items = append(req.Items, commerce.CartLineRequest{
						ProductID: line.ProductID,
						Quantity:  quantity,
						Unit:      line.Unit,
					})
				}
				continue
			}
			req.Items = append(req.Items, commerce.CartLineRequest{
				ProductID: line.ProductID,
				Quantity:  line.Quantity,
				Unit:      line.Unit,
			})
		}
	}
	if !seen && quantity > 0 {
		req.Items = append(req.Items, commerce.CartLineRequest{
			ProductID: product.ProductID,
			Quantity:  quantity,
			Unit:      product.Unit,
		})
	}
	return req
}

// finish applies the server snapshot unless a newer request superseded this
// one, in which case the late result is discarded.
func (s *Synchronizer) finish(seq uint64, snapshot *commerce.Cart, callErr error) (*commerce.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if seq == s.seq {
		s.inFlight = false
	}
	if callErr != nil {
		return nil, callErr
	}
	if seq != s.seq {
		return s.cart, pkgerrors.New(pkgerrors.CodeConflict, "stale cart response discarded")
	}
	s.cart = snapshot
	return s.cart, nil
}
