package commerce

import (
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"

	pkgerrors "github.com/distrohq/salesdesk/pkg/errors"
)

// This file is the only place response-shape polymorphism is handled. The
// remote service returns the same logical data under several field layouts
// depending on endpoint version and account tier; everything past this
// point sees one canonical record per response type.

type wireAmounts struct {
	UnitPrice   *decimal.Decimal `json:"unitPrice"`
	BaseAmount  *decimal.Decimal `json:"baseAmount"`
	TaxAmount   *decimal.Decimal `json:"taxAmount"`
	TotalAmount *decimal.Decimal `json:"totalAmount"`
}

type wireCartItem struct {
	ProductID   string `json:"productId"`
	ProductName string `json:"productName"`
	Quantity    int    `json:"quantity"`
	Unit        string `json:"unit"`
	wireAmounts
}

type wireBreakdownRow struct {
	ProductID string `json:"productId"`
	wireAmounts
}

type wireCartTotals struct {
	CartTotalAmount *decimal.Decimal `json:"cartTotalAmount"`
}

type wireCartLogistics struct {
	WarehouseOptions []string `json:"warehouseOptions"`
	MaxDropOffs      int      `json:"maxDropOffs"`
}

type wireCart struct {
	ID         string            `json:"id"`
	CartID     string            `json:"cartId"`
	CustomerID string            `json:"customerId"`
	Items      []wireCartItem    `json:"items"`
	Totals     *wireCartTotals   `json:"totals"`
	Logistics  *wireCartLogistics `json:"logistics"`
}

// NormalizeCartSnapshot maps any of the cart payload layouts onto the
// canonical Cart. Per-item amounts are reconciled across three shapes: the
// inline item fields, the parallel price-breakdown array keyed by product
// id, and a computed unitPrice x quantity fallback. Tax falls back to
// max(total - base, 0) when no explicit tax field is present.
func NormalizeCartSnapshot(data []byte) (*Cart, error) {
	var env struct {
		Cart           *wireCart          `json:"cart"`
		PriceBreakdown []wireBreakdownRow `json:"priceBreakdown"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeProtocol, err, "decode cart snapshot")
	}

	wc := env.Cart
	if wc == nil {
		var flat wireCart
		if err := json.Unmarshal(data, &flat); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeProtocol, err, "decode cart snapshot")
		}
		wc = &flat
	}

	id := strings.TrimSpace(wc.ID)
	if id == "" {
		id = strings.TrimSpace(wc.CartID)
	}
	if id == "" {
		return nil, pkgerrors.New(pkgerrors.CodeProtocol, "cart snapshot missing cart id")
	}

	breakdown := make(map[string]wireAmounts, len(env.PriceBreakdown))
	for _, row := range env.PriceBreakdown {
		if row.ProductID != "" {
			breakdown[row.ProductID] = row.wireAmounts
		}
	}

	cart := &Cart{
		ID:         id,
		CustomerID: wc.CustomerID,
		Items:      make([]CartItem, 0, len(wc.Items)),
	}
	if wc.Totals != nil && wc.Totals.CartTotalAmount != nil {
		cart.Totals.CartTotalAmount = *wc.Totals.CartTotalAmount
	}
	if wc.Logistics != nil {
		cart.Logistics.WarehouseOptions = wc.Logistics.WarehouseOptions
		cart.Logistics.MaxDropOffs = wc.Logistics.MaxDropOffs
	}

	runningTotal := decimal.Zero
	for _, item := range wc.Items {
		if item.Quantity <= 0 {
			// quantity 0 means absent from the cart
			continue
		}
		normalized := reconcileItemAmounts(item, breakdown[item.ProductID])
		cart.Items = append(cart.Items, normalized)
		runningTotal = runningTotal.Add(normalized.TotalAmount)
	}

	if cart.Totals.CartTotalAmount.IsZero() && len(cart.Items) > 0 {
		cart.Totals.CartTotalAmount = runningTotal
	}

	return cart, nil
}

func reconcileItemAmounts(item wireCartItem, row wireAmounts) CartItem {
	pick := func(candidates ...*decimal.Decimal) (decimal.Decimal, bool) {
		for _, c := range candidates {
			if c != nil {
				return *c, true
			}
		}
		return decimal.Zero, false
	}

	qty := decimal.NewFromInt(int64(item.Quantity))

	unitPrice, _ := pick(item.UnitPrice, row.UnitPrice)
	computed := unitPrice.Mul(qty)

	base, haveBase := pick(item.BaseAmount, row.BaseAmount)
	if !haveBase {
		base = computed
	}

	total, haveTotal := pick(item.TotalAmount, row.TotalAmount)
	tax, haveTax := pick(item.TaxAmount, row.TaxAmount)

	if !haveTotal {
		if haveTax {
			total = base.Add(tax)
		} else {
			total = computed
		}
	}
	if !haveTax {
		tax = total.Sub(base)
		if tax.IsNegative() {
			tax = decimal.Zero
		}
	}

	return CartItem{
		ProductID:   item.ProductID,
		ProductName: item.ProductName,
		Quantity:    item.Quantity,
		Unit:        item.Unit,
		UnitPrice:   unitPrice,
		BaseAmount:  base,
		TaxAmount:   tax,
		TotalAmount: total,
	}
}

// NormalizeDropOffValidation maps the validator's verdict onto the
// canonical record. The verdict flag and reason string each appear under
// multiple names; distances arrive either as bare numbers (ordered like the
// request) or as objects.
func NormalizeDropOffValidation(data []byte) (*DropOffValidation, error) {
	var env struct {
		Valid           *bool           `json:"valid"`
		IsValid         *bool           `json:"isValid"`
		Success         *bool           `json:"success"`
		Message         string          `json:"message"`
		Reason          string          `json:"reason"`
		Error           string          `json:"error"`
		Distances       json.RawMessage `json:"distances"`
		DistanceSummary string          `json:"distanceSummary"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeProtocol, err, "decode drop-off validation")
	}

	result := &DropOffValidation{
		DistanceSummary: env.DistanceSummary,
	}

	switch {
	case env.Valid != nil:
		result.Valid = *env.Valid
	case env.IsValid != nil:
		result.Valid = *env.IsValid
	case env.Success != nil:
		result.Valid = *env.Success
	default:
		return nil, pkgerrors.New(pkgerrors.CodeProtocol, "drop-off validation missing verdict")
	}

	for _, msg := range []string{env.Message, env.Reason, env.Error} {
		if strings.TrimSpace(msg) != "" {
			result.Message = msg
			break
		}
	}

	result.Distances = decodeDistances(env.Distances)
	return result, nil
}

func decodeDistances(raw json.RawMessage) []DistanceMetric {
	if len(raw) == 0 {
		return nil
	}
	var rows []struct {
		Order      int      `json:"order"`
		DistanceKM *float64 `json:"distanceKm"`
		Distance   *float64 `json:"distance"`
	}
	if err := json.Unmarshal(raw, &rows); err == nil {
		metrics := make([]DistanceMetric, 0, len(rows))
		for i, row := range rows {
			metric := DistanceMetric{Order: row.Order}
			if metric.Order == 0 {
				metric.Order = i + 1
			}
			switch {
			case row.DistanceKM != nil:
				metric.DistanceKM = *row.DistanceKM
			case row.Distance != nil:
				metric.DistanceKM = *row.Distance
			}
			metrics = append(metrics, metric)
		}
		return metrics
	}

	var numbers []float64
	if err := json.Unmarshal(raw, &numbers); err == nil {
		metrics := make([]DistanceMetric, 0, len(numbers))
		for i, km := range numbers {
			metrics = append(metrics, DistanceMetric{Order: i + 1, DistanceKM: km})
		}
		return metrics
	}

	return nil
}

// ExtractOrderIdentifiers pulls the order id out of a finalize response. It
// accepts a nested order object, a top-level orderId, or an orderNumber
// used as a surrogate id, in that precedence. A response carrying none of
// them is a protocol error even though the HTTP call succeeded.
func ExtractOrderIdentifiers(data []byte) (*OrderIdentifiers, error) {
	var env struct {
		Order *struct {
			ID          string           `json:"id"`
			OrderNumber string           `json:"orderNumber"`
			PaymentID   string           `json:"paymentId"`
			TotalAmount *decimal.Decimal `json:"totalAmount"`
		} `json:"order"`
		OrderID     string           `json:"orderId"`
		OrderNumber string           `json:"orderNumber"`
		PaymentID   string           `json:"paymentId"`
		TotalAmount *decimal.Decimal `json:"totalAmount"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeProtocol, err, "decode finalize response")
	}

	ids := &OrderIdentifiers{
		PaymentID:   env.PaymentID,
		OrderNumber: strings.TrimSpace(env.OrderNumber),
	}
	if env.TotalAmount != nil {
		ids.TotalAmount = *env.TotalAmount
	}
	if env.Order != nil {
		ids.OrderID = strings.TrimSpace(env.Order.ID)
		if n := strings.TrimSpace(env.Order.OrderNumber); n != "" {
			ids.OrderNumber = n
		}
		if env.Order.PaymentID != "" {
			ids.PaymentID = env.Order.PaymentID
		}
		if env.Order.TotalAmount != nil {
			ids.TotalAmount = *env.Order.TotalAmount
		}
	}

	if ids.OrderID == "" {
		ids.OrderID = strings.TrimSpace(env.OrderID)
	}
	if ids.OrderID == "" {
		ids.OrderID = ids.OrderNumber
	}
	if ids.OrderID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeProtocol, "finalize response carries no order identifier")
	}

	// the payment endpoint is keyed by order number
	if ids.OrderNumber == "" {
		ids.OrderNumber = ids.OrderID
	}

	return ids, nil
}
