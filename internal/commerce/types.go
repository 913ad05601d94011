package commerce

import (
	"github.com/shopspring/decimal"
)

// CartItem is the canonical line-item record after response normalization.
// Amounts are always reconciled; TaxAmount is never negative.
type CartItem struct {
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	Unit        string          `json:"unit"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	BaseAmount  decimal.Decimal `json:"base_amount"`
	TaxAmount   decimal.Decimal `json:"tax_amount"`
	TotalAmount decimal.Decimal `json:"total_amount"`
}

// CartTotals carries the order-level figures the server computed.
type CartTotals struct {
	CartTotalAmount decimal.Decimal `json:"cart_total_amount"`
}

// CartLogistics carries the delivery constraints attached to a cart.
type CartLogistics struct {
	WarehouseOptions []string `json:"warehouse_options"`
	MaxDropOffs      int      `json:"max_drop_offs"`
}

// Cart mirrors the server-side cart. It is undefined (nil) until the first
// successful mutation returns an id.
type Cart struct {
	ID         string        `json:"id"`
	CustomerID string        `json:"customer_id"`
	Items      []CartItem    `json:"items"`
	Totals     CartTotals    `json:"totals"`
	Logistics  CartLogistics `json:"logistics"`
}

// Item returns the line for the given product, if present.
func (c *Cart) Item(productID string) (CartItem, bool) {
	if c == nil {
		return CartItem{}, false
	}
	for _, item := range c.Items {
		if item.ProductID == productID {
			return item, true
		}
	}
	return CartItem{}, false
}

// Quantity returns the cart quantity for the product, zero when absent.
func (c *Cart) Quantity(productID string) int {
	item, ok := c.Item(productID)
	if !ok {
		return 0
	}
	return item.Quantity
}

// IsEmpty reports whether the cart holds no lines.
func (c *Cart) IsEmpty() bool {
	return c == nil || len(c.Items) == 0
}

// CartLineRequest is one line of a cart mutation. Quantity is the new
// absolute quantity, never a delta.
type CartLineRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
	Unit      string `json:"unit,omitempty"`
}

// UpsertCartRequest is the payload for createCart/updateCart.
type UpsertCartRequest struct {
	CartID     string            `json:"cartId,omitempty"`
	CustomerID string            `json:"customerId"`
	Items      []CartLineRequest `json:"items"`
}

// RemoveItemRequest is the payload for the dedicated remove endpoint.
type RemoveItemRequest struct {
	CartID     string `json:"cartId"`
	CustomerID string `json:"customerId"`
	ProductID  string `json:"productId"`
}

// Coordinate is one drop-off's position, ordered the way the operator
// arranged the destinations.
type Coordinate struct {
	Order     int     `json:"order"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// ValidateDropOffsRequest ships every drop-off's coordinates in one call so
// the server can reason about the whole set.
type ValidateDropOffsRequest struct {
	CustomerID    string       `json:"customerId"`
	WarehouseType string       `json:"warehouseType"`
	Coordinates   []Coordinate `json:"coordinates"`
}

// DistanceMetric is the per-destination distance the validator reported.
type DistanceMetric struct {
	Order      int     `json:"order"`
	DistanceKM float64 `json:"distance_km"`
}

// DropOffValidation is the normalized validation verdict.
type DropOffValidation struct {
	Valid           bool             `json:"valid"`
	Message         string           `json:"message"`
	Distances       []DistanceMetric `json:"distances"`
	DistanceSummary string           `json:"distance_summary"`
}

// ReviewParty is a person reference inside the review snapshot.
type ReviewParty struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Mobile string `json:"mobile"`
}

// ReviewLineItem is a server-priced line inside the review snapshot.
type ReviewLineItem struct {
	ProductID   string          `json:"productId"`
	ProductName string          `json:"productName"`
	Quantity    int             `json:"quantity"`
	Unit        string          `json:"unit"`
	BaseAmount  decimal.Decimal `json:"baseAmount"`
	TaxAmount   decimal.Decimal `json:"taxAmount"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
}

// ReviewDropOff is a destination as echoed back by the review endpoint.
type ReviewDropOff struct {
	Order        int    `json:"order"`
	ReceiverName string `json:"receiverName"`
	Address      string `json:"address"`
	ItemCount    int    `json:"itemCount"`
}

// ReviewSnapshot is the server-computed projection shown on the review
// step. The wizard never mutates it.
type ReviewSnapshot struct {
	Customer       ReviewParty     `json:"customer"`
	SalesExecutive ReviewParty     `json:"salesExecutive"`
	Warehouse      string          `json:"warehouse"`
	DropOffs       []ReviewDropOff `json:"dropOffs"`
	Items          []ReviewLineItem `json:"items"`
	TotalAmount    decimal.Decimal `json:"totalAmount"`
	TaxAmount      decimal.Decimal `json:"taxAmount"`
}

// DropOffItemPayload assigns part of a cart line to a destination.
type DropOffItemPayload struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
	Unit      string `json:"unit,omitempty"`
}

// DropOffPayload is a destination as sent to finalizeOrder.
type DropOffPayload struct {
	Order        int                  `json:"order"`
	ReceiverName string               `json:"receiverName"`
	ReceiverMobile string             `json:"receiverMobile"`
	AddressLine1 string               `json:"addressLine1"`
	AddressLine2 string               `json:"addressLine2,omitempty"`
	City         string               `json:"city"`
	State        string               `json:"state"`
	PostalCode   string               `json:"postalCode"`
	Latitude     float64              `json:"latitude"`
	Longitude    float64              `json:"longitude"`
	Items        []DropOffItemPayload `json:"items"`
}

// FinalizeOrderRequest converts the validated cart and drop-off plan into a
// persisted order. The idempotency key is minted client-side, once per
// wizard pass.
type FinalizeOrderRequest struct {
	CustomerID     string            `json:"customerId"`
	WarehouseType  string            `json:"warehouseType"`
	PaymentMethod  string            `json:"paymentMethod,omitempty"`
	Items          []CartLineRequest `json:"items"`
	DropOffs       []DropOffPayload  `json:"dropOffs"`
	IdempotencyKey string            `json:"idempotencyKey,omitempty"`
}

// OrderIdentifiers is what the payment step needs from finalize.
type OrderIdentifiers struct {
	OrderID     string          `json:"order_id"`
	OrderNumber string          `json:"order_number"`
	PaymentID   string          `json:"payment_id"`
	TotalAmount decimal.Decimal `json:"total_amount"`
}

// PaymentMethod enumerates the accepted payment methods.
type PaymentMethod string

const (
	PaymentMethodCash PaymentMethod = "cash"
	PaymentMethodBank PaymentMethod = "bank"
)

// ProofFile is an optional payment proof attachment.
type ProofFile struct {
	Filename string
	Content  []byte
}

// PaymentPayload is one payment record in the multipart submission.
// Optional fields are omitted entirely when empty so absent data is never
// sent as empty-string noise.
type PaymentPayload struct {
	TransactionDate string          `json:"transactionDate"`
	PaymentMethod   PaymentMethod   `json:"paymentMethod"`
	PaymentMode     string          `json:"paymentMode,omitempty"`
	Amount          decimal.Decimal `json:"amount"`
	Reference       string          `json:"reference,omitempty"`
	Remark          string          `json:"remark,omitempty"`
	UTRNumber       string          `json:"utrNumber,omitempty"`

	Proof *ProofFile `json:"-"`
}
