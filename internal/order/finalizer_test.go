package order

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/distrohq/salesdesk/internal/commerce"
	"github.com/distrohq/salesdesk/pkg/division"
	pkgerrors "github.com/distrohq/salesdesk/pkg/errors"
)

type stubFinalize struct {
	calls   int
	lastReq commerce.FinalizeOrderRequest
	resp    *commerce.OrderIdentifiers
	err     error

	entered chan struct{}
	release chan struct{}
}

func (s *stubFinalize) FinalizeOrder(ctx context.Context, scope division.Scope, req commerce.FinalizeOrderRequest) (*commerce.OrderIdentifiers, error) {
	s.calls++
	s.lastReq = req
	if s.entered != nil {
		s.entered <- struct{}{}
		<-s.release
	}
	return s.resp, s.err
}

func readyCart() *commerce.Cart {
	return &commerce.Cart{
		ID: "cart-1",
		Items: []commerce.CartItem{
			{ProductID: "p1", Quantity: 3, Unit: "bag"},
		},
	}
}

func someDropOffs() []commerce.DropOffPayload {
	return []commerce.DropOffPayload{
		{Order: 1, Items: []commerce.DropOffItemPayload{{ProductID: "p1", Quantity: 3}}},
	}
}

func TestFinalizeHappyPath(t *testing.T) {
	remote := &stubFinalize{resp: &commerce.OrderIdentifiers{OrderID: "ord-1", OrderNumber: "SO-1"}}
	f, err := NewFinalizer(remote, division.Scope{}, "cust-1")
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	ids, err := f.Finalize(context.Background(), readyCart(), "main", someDropOffs(), "cash")
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if ids.OrderID != "ord-1" {
		t.Errorf("ids = %+v", ids)
	}
	if remote.lastReq.CustomerID != "cust-1" || remote.lastReq.WarehouseType != "main" {
		t.Errorf("request = %+v", remote.lastReq)
	}
	if len(remote.lastReq.Items) != 1 || remote.lastReq.Items[0].Quantity != 3 {
		t.Errorf("items = %+v", remote.lastReq.Items)
	}
	if !strings.HasPrefix(remote.lastReq.IdempotencyKey, "order-") {
		t.Errorf("idempotency key = %q, want order-<uuid>", remote.lastReq.IdempotencyKey)
	}
	if f.Result() == nil {
		t.Error("result not recorded")
	}
}

func TestFinalizeValidatesInputs(t *testing.T) {
	f, _ := NewFinalizer(&stubFinalize{}, division.Scope{}, "cust-1")

	if _, err := f.Finalize(context.Background(), &commerce.Cart{ID: "c"}, "main", someDropOffs(), "cash"); pkgerrors.CodeOf(err) != pkgerrors.CodeValidation {
		t.Errorf("empty cart: %v", err)
	}
	if _, err := f.Finalize(context.Background(), readyCart(), "", someDropOffs(), "cash"); pkgerrors.CodeOf(err) != pkgerrors.CodeValidation {
		t.Errorf("missing warehouse: %v", err)
	}
	if _, err := f.Finalize(context.Background(), readyCart(), "main", nil, "cash"); pkgerrors.CodeOf(err) != pkgerrors.CodeValidation {
		t.Errorf("missing drop-offs: %v", err)
	}
}

func TestFinalizeOnlyOncePerPass(t *testing.T) {
	remote := &stubFinalize{resp: &commerce.OrderIdentifiers{OrderID: "ord-1", OrderNumber: "SO-1"}}
	f, _ := NewFinalizer(remote, division.Scope{}, "cust-1")

	if _, err := f.Finalize(context.Background(), readyCart(), "main", someDropOffs(), "cash"); err != nil {
		t.Fatalf("first: %v", err)
	}
	ids, err := f.Finalize(context.Background(), readyCart(), "main", someDropOffs(), "cash")
	if pkgerrors.CodeOf(err) != pkgerrors.CodeConflict {
		t.Fatalf("second error = %v, want conflict", err)
	}
	if ids == nil || ids.OrderID != "ord-1" {
		t.Errorf("existing result not returned: %+v", ids)
	}
	if remote.calls != 1 {
		t.Fatalf("remote calls = %d, want exactly 1", remote.calls)
	}
}

func TestFinalizeRejectsConcurrentCall(t *testing.T) {
	remote := &stubFinalize{
		resp:    &commerce.OrderIdentifiers{OrderID: "ord-1"},
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	f, _ := NewFinalizer(remote, division.Scope{}, "cust-1")

	done := make(chan error, 1)
	go func() {
		_, err := f.Finalize(context.Background(), readyCart(), "main", someDropOffs(), "cash")
		done <- err
	}()
	<-remote.entered

	_, err := f.Finalize(context.Background(), readyCart(), "main", someDropOffs(), "cash")
	if pkgerrors.CodeOf(err) != pkgerrors.CodeInFlight {
		t.Fatalf("concurrent error = %v, want in-flight", err)
	}

	close(remote.release)
	if err := <-done; err != nil {
		t.Fatalf("first finalize: %v", err)
	}
}

func TestFinalizeFailureAllowsRetryWithSameKey(t *testing.T) {
	remote := &stubFinalize{err: errors.New("boom")}
	f, _ := NewFinalizer(remote, division.Scope{}, "cust-1")

	if _, err := f.Finalize(context.Background(), readyCart(), "main", someDropOffs(), "cash"); err == nil {
		t.Fatal("expected error")
	}
	firstKey := remote.lastReq.IdempotencyKey

	remote.err = nil
	remote.resp = &commerce.OrderIdentifiers{OrderID: "ord-1"}
	if _, err := f.Finalize(context.Background(), readyCart(), "main", someDropOffs(), "cash"); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if remote.lastReq.IdempotencyKey != firstKey {
		t.Errorf("retry minted a new key: %q vs %q", remote.lastReq.IdempotencyKey, firstKey)
	}
}

func TestResetMintsFreshKey(t *testing.T) {
	remote := &stubFinalize{resp: &commerce.OrderIdentifiers{OrderID: "ord-1"}}
	f, _ := NewFinalizer(remote, division.Scope{}, "cust-1")

	if _, err := f.Finalize(context.Background(), readyCart(), "main", someDropOffs(), "cash"); err != nil {
		t.Fatalf("first: %v", err)
	}
	firstKey := remote.lastReq.IdempotencyKey

	f.Reset()
	if f.Result() != nil {
		t.Error("result survived reset")
	}
	if _, err := f.Finalize(context.Background(), readyCart(), "main", someDropOffs(), "cash"); err != nil {
		t.Fatalf("after reset: %v", err)
	}
	if remote.lastReq.IdempotencyKey == firstKey {
		t.Error("reset should mint a fresh idempotency key")
	}
}
