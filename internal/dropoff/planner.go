package dropoff

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/distrohq/salesdesk/internal/commerce"
	"github.com/distrohq/salesdesk/pkg/division"
	pkgerrors "github.com/distrohq/salesdesk/pkg/errors"
)

// Status tracks a drop-off's validation lifecycle.
type Status string

const (
	StatusUnvalidated Status = "unvalidated"
	StatusValid       Status = "valid"
	StatusInvalid     Status = "invalid"
)

// Item is part of a cart line assigned to one destination.
type Item struct {
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	Quantity    int    `json:"quantity"`
	Unit        string `json:"unit"`
}

// DropOff is one physical delivery destination.
type DropOff struct {
	Order           int     `json:"order"`
	ReceiverName    string  `json:"receiver_name"`
	ReceiverMobile  string  `json:"receiver_mobile"`
	AddressLine1    string  `json:"address_line1"`
	AddressLine2    string  `json:"address_line2"`
	City            string  `json:"city"`
	State           string  `json:"state"`
	PostalCode      string  `json:"postal_code"`
	Latitude        float64 `json:"latitude"`
	Longitude       float64 `json:"longitude"`
	Items           []Item  `json:"items"`
	Status          Status  `json:"status"`
	ValidationError string  `json:"validation_error,omitempty"`
	DistanceKM      float64 `json:"distance_km,omitempty"`

	// SkipOffered is set when the validation endpoint rejected the account
	// with a permission error; only then may the operator force-validate.
	SkipOffered bool `json:"skip_offered,omitempty"`

	rev uint64
}

// FieldPatch applies partial edits to a drop-off's address fields. Nil
// members are left untouched.
type FieldPatch struct {
	ReceiverName   *string
	ReceiverMobile *string
	AddressLine1   *string
	AddressLine2   *string
	City           *string
	State          *string
	PostalCode     *string
}

type validator interface {
	ValidateDropOffs(ctx context.Context, scope division.Scope, req commerce.ValidateDropOffsRequest) (*commerce.DropOffValidation, error)
}

// Planner manages the delivery destinations for one wizard pass.
type Planner struct {
	remote     validator
	scope      division.Scope
	customerID string

	fallbackLat float64
	fallbackLng float64

	mu            sync.Mutex
	dropOffs      []*DropOff
	warehouseType string
	everSeeded    bool
}

// NewPlanner builds a planner. The fallback coordinate seeds new drop-offs
// until the operator picks a real location.
func NewPlanner(remote validator, scope division.Scope, customerID string, fallbackLat, fallbackLng float64) (*Planner, error) {
	if remote == nil {
		return nil, fmt.Errorf("drop-off validator required")
	}
	if strings.TrimSpace(customerID) == "" {
		return nil, fmt.Errorf("customer id required")
	}
	return &Planner{
		remote:      remote,
		scope:       scope,
		customerID:  customerID,
		fallbackLat: fallbackLat,
		fallbackLng: fallbackLng,
	}, nil
}

// Count returns the number of destinations.
func (p *Planner) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.dropOffs)
}

// WarehouseType returns the chosen warehouse/service type.
func (p *Planner) WarehouseType() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.warehouseType
}

// List returns a copy of the current plan.
func (p *Planner) List() []DropOff {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]DropOff, len(p.dropOffs))
	for i, d := range p.dropOffs {
		out[i] = *d
		out[i].Items = append([]Item(nil), d.Items...)
	}
	return out
}

// SeedFromCart creates the initial single destination pre-filled with every
// cart line at full quantity. No-op when destinations already exist or the
// cart is empty.
func (p *Planner) SeedFromCart(cart *commerce.Cart) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.dropOffs) > 0 || cart.IsEmpty() {
		return
	}
	p.dropOffs = append(p.dropOffs, p.newDropOff(1, cart))
	p.everSeeded = true
}

// Resize grows or shrinks the plan. Surviving entries keep their field
// values; new entries are default-initialized (empty item list); shrinking
// truncates from the end.
func (p *Planner) Resize(count int, cart *commerce.Cart) error {
	if count < 1 {
		return pkgerrors.New(pkgerrors.CodeValidation, "at least one drop-off is required")
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if max := maxDropOffs(cart); max > 0 && count > max {
		return pkgerrors.New(pkgerrors.CodeValidation,
			fmt.Sprintf("at most %d drop-offs allowed for this cart", max))
	}

	switch {
	case count < len(p.dropOffs):
		p.dropOffs = p.dropOffs[:count]
	case count > len(p.dropOffs):
		for i := len(p.dropOffs); i < count; i++ {
			var seed *commerce.Cart
			if !p.everSeeded && i == 0 {
				seed = cart
				p.everSeeded = true
			}
			p.dropOffs = append(p.dropOffs, p.newDropOff(i+1, seed))
		}
	}
	return nil
}

// ApplyFieldPatch edits address fields; any applied change resets the
// drop-off to unvalidated.
func (p *Planner) ApplyFieldPatch(index int, patch FieldPatch) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	d, err := p.at(index)
	if err != nil {
		return err
	}

	changed := false
	apply := func(dst *string, src *string) {
		if src != nil && *dst != *src {
			*dst = *src
			changed = true
		}
	}
	apply(&d.ReceiverName, patch.ReceiverName)
	apply(&d.ReceiverMobile, patch.ReceiverMobile)
	apply(&d.AddressLine1, patch.AddressLine1)
	apply(&d.AddressLine2, patch.AddressLine2)
	apply(&d.City, patch.City)
	apply(&d.State, patch.State)
	apply(&d.PostalCode, patch.PostalCode)

	if changed {
		p.invalidate(d)
	}
	return nil
}

// SetCoordinates moves the destination pin and resets validation.
func (p *Planner) SetCoordinates(index int, lat, lng float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	d, err := p.at(index)
	if err != nil {
		return err
	}
	if d.Latitude != lat || d.Longitude != lng {
		d.Latitude = lat
		d.Longitude = lng
		p.invalidate(d)
	}
	return nil
}

// SetItemQuantity assigns part of a cart line to the destination. The
// entered quantity is silently clamped so the per-product total across all
// destinations never exceeds the cart quantity.
func (p *Planner) SetItemQuantity(index int, productID string, quantity int, cart *commerce.Cart) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	d, err := p.at(index)
	if err != nil {
		return err
	}

	line, inCart := cart.Item(productID)
	if !inCart {
		return pkgerrors.New(pkgerrors.CodeValidation, "product is not in the cart")
	}

	assignedElsewhere := 0
	for i, other := range p.dropOffs {
		if i == index {
			continue
		}
		for _, item := range other.Items {
			if item.ProductID == productID {
				assignedElsewhere += item.Quantity
			}
		}
	}

	remaining := line.Quantity - assignedElsewhere
	if remaining < 0 {
		remaining = 0
	}
	if quantity > remaining {
		quantity = remaining
	}
	if quantity < 0 {
		quantity = 0
	}

	for i := range d.Items {
		if d.Items[i].ProductID == productID {
			d.Items[i].Quantity = quantity
			return nil
		}
	}
	d.Items = append(d.Items, Item{
		ProductID:   line.ProductID,
		ProductName: line.ProductName,
		Quantity:    quantity,
		Unit:        line.Unit,
	})
	return nil
}

// SetWarehouseType picks the warehouse/service-area type. Feasibility
// depends on it, so changing it resets every destination to unvalidated.
func (p *Planner) SetWarehouseType(warehouseType string, cart *commerce.Cart) error {
	wt := strings.TrimSpace(warehouseType)
	if wt == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "warehouse type required")
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if cart != nil && len(cart.Logistics.WarehouseOptions) > 0 {
		allowed := false
		for _, option := range cart.Logistics.WarehouseOptions {
			if strings.EqualFold(option, wt) {
				allowed = true
				break
			}
		}
		if !allowed {
			return pkgerrors.New(pkgerrors.CodeValidation,
				fmt.Sprintf("warehouse type %q is not offered for this cart", wt))
		}
	}

	if !strings.EqualFold(p.warehouseType, wt) {
		p.warehouseType = wt
		for _, d := range p.dropOffs {
			p.invalidate(d)
		}
	}
	return nil
}

// Validate checks feasibility of the indexed destination. The request
// ships every destination's coordinates since cross-destination distance
// affects feasibility; the verdict applies to the target only. A stale
// result (the target was edited mid-flight) is discarded.
func (p *Planner) Validate(ctx context.Context, index int) (*DropOff, error) {
	p.mu.Lock()
	target, err := p.at(index)
	if err != nil {
		p.mu.Unlock()
		return nil, err
	}
	if p.warehouseType == "" {
		p.mu.Unlock()
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "choose a warehouse type before validating")
	}
	rev := target.rev
	req := commerce.ValidateDropOffsRequest{
		CustomerID:    p.customerID,
		WarehouseType: p.warehouseType,
		Coordinates:   make([]commerce.Coordinate, len(p.dropOffs)),
	}
	for i, d := range p.dropOffs {
		req.Coordinates[i] = commerce.Coordinate{
			Order:     d.Order,
			Latitude:  d.Latitude,
			Longitude: d.Longitude,
		}
	}
	p.mu.Unlock()

	verdict, callErr := p.remote.ValidateDropOffs(ctx, p.scope, req)
	if callErr != nil {
		if pkgerrors.CodeOf(callErr) == pkgerrors.CodeForbidden {
			p.mu.Lock()
			if d, err := p.at(index); err == nil && d.rev == rev {
				d.SkipOffered = true
			}
			p.mu.Unlock()
		}
		return nil, callErr
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	d, err := p.at(index)
	if err != nil {
		return nil, err
	}
	if d.rev != rev {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "drop-off changed while validating; validate again")
	}

	if verdict.Valid {
		d.Status = StatusValid
		d.ValidationError = ""
		for _, metric := range verdict.Distances {
			if metric.Order == d.Order {
				d.DistanceKM = metric.DistanceKM
			}
		}
	} else {
		d.Status = StatusInvalid
		d.ValidationError = verdict.Message
		if d.ValidationError == "" {
			d.ValidationError = "destination is outside the serviceable area"
		}
	}
	out := *d
	out.Items = append([]Item(nil), d.Items...)
	return &out, nil
}

// SkipValidation force-marks the destination valid. Offered only when the
// validation endpoint rejected the account with a permission error; the
// operator explicitly acknowledges the bypass. A data verdict ("outside the
// serviceable area") cannot be skipped.
func (p *Planner) SkipValidation(index int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	d, err := p.at(index)
	if err != nil {
		return err
	}
	if !d.SkipOffered {
		return pkgerrors.New(pkgerrors.CodeConflict,
			"skipping is only offered after validation failed with a permission error")
	}
	d.Status = StatusValid
	d.ValidationError = ""
	return nil
}

// ReconcileWithCart clamps the plan against the current cart after a cart
// mutation. Assignments for products no longer in the cart are dropped, and
// per-product totals are reduced, earlier destinations keeping their share
// first, until they fit the cart quantity again.
func (p *Planner) ReconcileWithCart(cart *commerce.Cart) {
	if cart == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	remaining := make(map[string]int, len(cart.Items))
	for _, line := range cart.Items {
		remaining[line.ProductID] = line.Quantity
	}
	for _, d := range p.dropOffs {
		kept := d.Items[:0]
		for _, item := range d.Items {
			left, inCart := remaining[item.ProductID]
			if !inCart {
				continue
			}
			if item.Quantity > left {
				item.Quantity = left
			}
			remaining[item.ProductID] = left - item.Quantity
			kept = append(kept, item)
		}
		d.Items = kept
	}
}

// AssignedQuantity sums a product's quantity across all destinations.
func (p *Planner) AssignedQuantity(productID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	total := 0
	for _, d := range p.dropOffs {
		for _, item := range d.Items {
			if item.ProductID == productID {
				total += item.Quantity
			}
		}
	}
	return total
}

// Ready reports whether the plan can advance: a warehouse chosen, every
// destination valid, and every destination carrying at least one item.
func (p *Planner) Ready() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.warehouseType == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "choose a warehouse type")
	}
	if len(p.dropOffs) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "add at least one drop-off")
	}
	for _, d := range p.dropOffs {
		if d.Status != StatusValid {
			return pkgerrors.New(pkgerrors.CodeValidation,
				fmt.Sprintf("drop-off %d is not validated", d.Order))
		}
		hasItems := false
		for _, item := range d.Items {
			if item.Quantity > 0 {
				hasItems = true
				break
			}
		}
		if !hasItems {
			return pkgerrors.New(pkgerrors.CodeValidation,
				fmt.Sprintf("drop-off %d has no items assigned", d.Order))
		}
	}
	return nil
}

// Payloads converts the plan into the finalize wire shape, dropping
// zero-quantity assignments.
func (p *Planner) Payloads() []commerce.DropOffPayload {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]commerce.DropOffPayload, 0, len(p.dropOffs))
	for _, d := range p.dropOffs {
		payload := commerce.DropOffPayload{
			Order:          d.Order,
			ReceiverName:   d.ReceiverName,
			ReceiverMobile: d.ReceiverMobile,
			AddressLine1:   d.AddressLine1,
			AddressLine2:   d.AddressLine2,
			City:           d.City,
			State:          d.State,
			PostalCode:     d.PostalCode,
			Latitude:       d.Latitude,
			Longitude:      d.Longitude,
		}
		for _, item := range d.Items {
			if item.Quantity <= 0 {
				continue
			}
			payload.Items = append(payload.Items, commerce.DropOffItemPayload{
				ProductID: item.ProductID,
				Quantity:  item.Quantity,
				Unit:      item.Unit,
			})
		}
		out = append(out, payload)
	}
	return out
}

func (p *Planner) newDropOff(order int, seed *commerce.Cart) *DropOff {
	d := &DropOff{
		Order:     order,
		Latitude:  p.fallbackLat,
		Longitude: p.fallbackLng,
		Status:    StatusUnvalidated,
	}
	if seed != nil {
		for _, line := range seed.Items {
			d.Items = append(d.Items, Item{
				ProductID:   line.ProductID,
				ProductName: line.ProductName,
				Quantity:    line.Quantity,
				Unit:        line.Unit,
			})
		}
	}
	return d
}

func (p *Planner) at(index int) (*DropOff, error) {
	if index < 0 || index >= len(p.dropOffs) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound,
			fmt.Sprintf("drop-off %d does not exist", index+1))
	}
	return p.dropOffs[index], nil
}

func (p *Planner) invalidate(d *DropOff) {
	d.Status = StatusUnvalidated
	d.ValidationError = ""
	d.DistanceKM = 0
	d.SkipOffered = false
	d.rev++
}

func maxDropOffs(cart *commerce.Cart) int {
	if cart == nil {
		return 0
	}
	return cart.Logistics.MaxDropOffs
}
